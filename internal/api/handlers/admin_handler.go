package handlers

import (
	"errors"
	"net/http"
	"net/url"

	"socket-service/internal/domain"
	"socket-service/internal/infrastructure/mongoose"
	"socket-service/internal/services"
	"socket-service/pkg/logger"

	"github.com/labstack/echo/v4"
)

type HandlerLister interface {
	Handlers() []services.HandlerInfo
}

type ConnectionLister interface {
	Names() []string
	Get(name string) (*mongoose.Connection, error)
}

type ConnectionInfo struct {
	Name     string `json:"name"`
	Database string `json:"database"`
	URL      string `json:"url"`
}

type AdminHandler struct {
	registry    HandlerLister
	connections ConnectionLister
	log         logger.Logger
}

func NewAdminHandler(registry HandlerLister, connections ConnectionLister, log logger.Logger) *AdminHandler {
	return &AdminHandler{
		registry:    registry,
		connections: connections,
		log:         log,
	}
}

func (h *AdminHandler) ListHandlers(c echo.Context) error {
	return c.JSON(http.StatusOK, h.registry.Handlers())
}

func (h *AdminHandler) ListConnections(c echo.Context) error {
	out := []ConnectionInfo{}
	if h.connections == nil {
		return c.JSON(http.StatusOK, out)
	}

	for _, name := range h.connections.Names() {
		conn, err := h.connections.Get(name)
		if err != nil {
			// closed between Names and Get
			if errors.Is(err, domain.ErrConnectionNotFound) {
				continue
			}
			h.log.Error("Failed to read connection", "name", name, "error", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to list connections"})
		}
		out = append(out, ConnectionInfo{
			Name:     conn.Name(),
			Database: conn.DatabaseName(),
			URL:      redactURL(conn.URL()),
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AdminHandler) GetConnection(c echo.Context) error {
	if h.connections == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "No connections configured"})
	}

	conn, err := h.connections.Get(c.Param("name"))
	if err != nil {
		if errors.Is(err, domain.ErrConnectionNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to read connection"})
	}
	return c.JSON(http.StatusOK, ConnectionInfo{
		Name:     conn.Name(),
		Database: conn.DatabaseName(),
		URL:      redactURL(conn.URL()),
	})
}

// redactURL hides the password of a connection string.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable>"
	}
	return u.Redacted()
}
