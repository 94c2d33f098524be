package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edgard/intake/internal/database"
)

const healthPingTimeout = 2 * time.Second

type healthHandler struct {
	store     database.Store
	scheduler SchedulerState
	version   string
}

// Root serves a short banner.
func (h *healthHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Message intake API",
		"version": h.version,
	})
}

// Health is a liveness check: it answers 200 while the process is up. The
// database and coalescer state are reported in the body only.
func (h *healthHandler) Health(c *gin.Context) {
	body := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	}
	if h.scheduler != nil {
		body["scheduler"] = h.scheduler.State().String()
	}

	if h.store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthPingTimeout)
		defer cancel()
		body["database"] = "ok"
		if err := h.store.Ping(ctx); err != nil {
			body["database"] = "unreachable"
			_ = c.Error(err)
		}
	}

	c.JSON(http.StatusOK, body)
}
