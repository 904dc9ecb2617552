package services

import (
	"context"
	"fmt"
	"time"

	"socket-service/pkg/logger"

	"github.com/robfig/cron/v3"
)

// HeartbeatSender pings every open socket and drops the ones that fail.
type HeartbeatSender interface {
	PingAll(ctx context.Context) int
}

// HealthChecker reports the state of the backing stores.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Announcer publishes this instance's liveness to the rest of the cluster.
type Announcer interface {
	Announce(ctx context.Context) error
}

// Elector decides which instance runs cluster-wide checks.
type Elector interface {
	Campaign(ctx context.Context) (bool, error)
}

type MaintenanceScheduler struct {
	cron           *cron.Cron
	heartbeat      HeartbeatSender
	health         HealthChecker
	presence       Announcer
	elector        Elector
	pingInterval   time.Duration
	healthSchedule string
	log            logger.Logger
}

func NewMaintenanceScheduler(heartbeat HeartbeatSender, health HealthChecker, pingInterval time.Duration,
	healthSchedule string, log logger.Logger) *MaintenanceScheduler {
	return &MaintenanceScheduler{
		cron:           cron.New(),
		heartbeat:      heartbeat,
		health:         health,
		pingInterval:   pingInterval,
		healthSchedule: healthSchedule,
		log:            log,
	}
}

func (s *MaintenanceScheduler) SetPresence(presence Announcer) {
	s.presence = presence
}

// SetElector restricts the health check to the elected instance.
func (s *MaintenanceScheduler) SetElector(elector Elector) {
	s.elector = elector
}

func (s *MaintenanceScheduler) Start(ctx context.Context) error {
	s.log.Info("Starting maintenance scheduler", "ping_interval", s.pingInterval, "health_schedule", s.healthSchedule)

	if s.heartbeat != nil {
		spec := fmt.Sprintf("@every %s", s.pingInterval)
		if _, err := s.cron.AddFunc(spec, func() { s.RunHeartbeat(ctx) }); err != nil {
			return fmt.Errorf("heartbeat schedule %q: %w", spec, err)
		}
	}

	if s.health != nil && s.healthSchedule != "" {
		if _, err := s.cron.AddFunc(s.healthSchedule, func() { s.RunHealthCheck(ctx) }); err != nil {
			return fmt.Errorf("health schedule %q: %w", s.healthSchedule, err)
		}
	}

	s.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for running jobs.
func (s *MaintenanceScheduler) Stop() error {
	s.log.Info("Stopping maintenance scheduler")
	<-s.cron.Stop().Done()
	return nil
}

func (s *MaintenanceScheduler) Entries() int {
	return len(s.cron.Entries())
}

func (s *MaintenanceScheduler) RunHeartbeat(ctx context.Context) {
	dropped := s.heartbeat.PingAll(ctx)
	if dropped > 0 {
		s.log.Info("Dropped unresponsive sockets", "count", dropped)
	}

	if s.presence != nil {
		if err := s.presence.Announce(ctx); err != nil {
			s.log.Warn("Failed to announce presence", "error", err)
		}
	}
}

func (s *MaintenanceScheduler) RunHealthCheck(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if s.elector != nil {
		leader, err := s.elector.Campaign(ctx)
		if err != nil {
			s.log.Warn("Leader election failed", "error", err)
			return
		}
		if !leader {
			return
		}
	}

	if err := s.health.Ping(ctx); err != nil {
		s.log.Error("MongoDB health check failed", "error", err)
		return
	}
	s.log.Debug("MongoDB health check passed")
}
