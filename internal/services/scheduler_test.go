package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"socket-service/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingHeartbeat struct {
	calls atomic.Int32
}

func (h *countingHeartbeat) PingAll(context.Context) int {
	h.calls.Add(1)
	return 1
}

type stubHealth struct {
	err   error
	calls atomic.Int32
}

func (h *stubHealth) Ping(context.Context) error {
	h.calls.Add(1)
	return h.err
}

func TestMaintenanceScheduler_Entries(t *testing.T) {
	s := NewMaintenanceScheduler(&countingHeartbeat{}, &stubHealth{}, time.Minute, "*/5 * * * *", logger.NewNop())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Equal(t, 2, s.Entries())
}

func TestMaintenanceScheduler_HealthOptional(t *testing.T) {
	s := NewMaintenanceScheduler(&countingHeartbeat{}, nil, time.Minute, "*/5 * * * *", logger.NewNop())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Equal(t, 1, s.Entries())
}

func TestMaintenanceScheduler_BadSchedule(t *testing.T) {
	s := NewMaintenanceScheduler(nil, &stubHealth{}, time.Minute, "every tuesday", logger.NewNop())
	assert.Error(t, s.Start(context.Background()))
}

func TestMaintenanceScheduler_HeartbeatFires(t *testing.T) {
	hb := &countingHeartbeat{}
	s := NewMaintenanceScheduler(hb, nil, time.Second, "", logger.NewNop())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool { return hb.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
}

func TestMaintenanceScheduler_RunHealthCheck(t *testing.T) {
	health := &stubHealth{err: errors.New("no reachable servers")}
	s := NewMaintenanceScheduler(nil, health, time.Minute, "", logger.NewNop())

	s.RunHealthCheck(context.Background())
	health.err = nil
	s.RunHealthCheck(context.Background())

	assert.Equal(t, int32(2), health.calls.Load())
}

type countingAnnouncer struct {
	calls atomic.Int32
}

func (a *countingAnnouncer) Announce(context.Context) error {
	a.calls.Add(1)
	return nil
}

func TestMaintenanceScheduler_HeartbeatAnnounces(t *testing.T) {
	hb := &countingHeartbeat{}
	presence := &countingAnnouncer{}
	s := NewMaintenanceScheduler(hb, nil, time.Minute, "", logger.NewNop())
	s.SetPresence(presence)

	s.RunHeartbeat(context.Background())

	assert.Equal(t, int32(1), hb.calls.Load())
	assert.Equal(t, int32(1), presence.calls.Load())
}

type fixedElector bool

func (e fixedElector) Campaign(context.Context) (bool, error) {
	return bool(e), nil
}

func TestMaintenanceScheduler_HealthCheckOnlyOnLeader(t *testing.T) {
	health := &stubHealth{}
	s := NewMaintenanceScheduler(nil, health, time.Minute, "", logger.NewNop())

	s.SetElector(fixedElector(false))
	s.RunHealthCheck(context.Background())
	assert.Equal(t, int32(0), health.calls.Load())

	s.SetElector(fixedElector(true))
	s.RunHealthCheck(context.Background())
	assert.Equal(t, int32(1), health.calls.Load())
}
