package handlers

import (
	"context"
	"net/http"
	"time"

	"socket-service/pkg/logger"

	"github.com/labstack/echo/v4"
)

type StoreChecker interface {
	Ping(ctx context.Context) error
	Names() []string
}

type SocketStats interface {
	Count() int
	Stats() map[string]int
}

type ClusterNodes interface {
	Nodes(ctx context.Context) (map[string]int, error)
}

type HealthResponse struct {
	Status     string         `json:"status"`
	Instance   string         `json:"instance"`
	Timestamp  string         `json:"timestamp"`
	Sockets    int            `json:"sockets"`
	Namespaces map[string]int `json:"namespaces"`
	Mongo      string         `json:"mongo"`
	Nodes      map[string]int `json:"nodes,omitempty"`
}

type HealthHandler struct {
	instanceID string
	store      StoreChecker
	sockets    SocketStats
	cluster    ClusterNodes
	log        logger.Logger
}

// NewHealthHandler builds the health endpoint. store and cluster may be nil
// when MongoDB or Redis are not configured.
func NewHealthHandler(instanceID string, store StoreChecker, sockets SocketStats, cluster ClusterNodes,
	log logger.Logger) *HealthHandler {
	return &HealthHandler{
		instanceID: instanceID,
		store:      store,
		sockets:    sockets,
		cluster:    cluster,
		log:        log,
	}
}

func (h *HealthHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:     "ok",
		Instance:   h.instanceID,
		Timestamp:  time.Now().Format(time.RFC3339),
		Sockets:    h.sockets.Count(),
		Namespaces: h.sockets.Stats(),
		Mongo:      "disabled",
	}

	if h.store != nil && len(h.store.Names()) > 0 {
		resp.Mongo = "ok"
		if err := h.store.Ping(ctx); err != nil {
			h.log.Error("Health check: MongoDB ping failed", "error", err)
			resp.Status = "degraded"
			resp.Mongo = err.Error()
		}
	}

	if h.cluster != nil {
		nodes, err := h.cluster.Nodes(ctx)
		if err != nil {
			h.log.Warn("Health check: failed to list cluster nodes", "error", err)
		} else {
			resp.Nodes = nodes
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, resp)
}
