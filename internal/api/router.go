// Package api exposes the intake service over HTTP with gin.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edgard/intake/internal/config"
	"github.com/edgard/intake/internal/database"
	"github.com/edgard/intake/internal/debounce"
	"github.com/edgard/intake/internal/logger"
)

// Intake accepts new messages. The application's intake service stores the
// message, queues it for pre-processing and arms the agent coalescer.
type Intake interface {
	CreateMessage(ctx context.Context, in *database.NewMessage) (*database.Message, error)
}

// SchedulerState reports the coalescer state for the health endpoint.
type SchedulerState interface {
	State() debounce.State
}

// Deps contains all dependencies of the HTTP handlers.
type Deps struct {
	Logger    *slog.Logger
	Intake    Intake
	Store     database.Store
	Scheduler SchedulerState
	Config    config.HTTPConfig
	Version   string
}

// NewRouter builds the gin engine with every route mounted.
func NewRouter(deps Deps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = logger.Discard()
	}
	log := deps.Logger.With("component", "http")

	r := gin.New()
	r.Use(gin.Recovery(), logger.Middleware(log))

	health := &healthHandler{store: deps.Store, scheduler: deps.Scheduler, version: deps.Version}
	r.GET("/", health.Root)
	r.GET("/health", health.Health)

	v1 := r.Group("/api/v1")

	messages := &messageHandler{intake: deps.Intake, store: deps.Store, log: log}
	limited := RateLimit(deps.Config.RateLimit, deps.Config.RateBurst)
	v1.POST("/messages", limited, messages.Create)
	v1.POST("/messages/", limited, messages.Create)
	v1.GET("/messages/:id", messages.Get)

	tasks := &taskHandler{store: deps.Store, log: log}
	v1.GET("/tasks", tasks.List)
	v1.GET("/tasks/", tasks.List)
	v1.POST("/tasks", tasks.Create)
	v1.POST("/tasks/", tasks.Create)
	v1.GET("/tasks/:id", tasks.Get)
	v1.PATCH("/tasks/:id", tasks.Update)
	v1.DELETE("/tasks/:id", tasks.Delete)
	v1.POST("/tasks/:id/complete", tasks.Complete)
	v1.POST("/tasks/:id/reopen", tasks.Reopen)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	return r
}
