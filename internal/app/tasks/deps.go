// Package tasks implements the periodic maintenance jobs of the intake
// service: stale run recovery, the pre-processing sweep, the idle agent poll
// and SQL maintenance.
package tasks

import (
	"log/slog"
	"time"

	"github.com/edgard/intake/internal/config"
	"github.com/edgard/intake/internal/database"
)

// Submitter queues messages for pre-processing.
type Submitter interface {
	Submit(messageID string) bool
}

// Nudger requests an agent run.
type Nudger interface {
	Nudge()
}

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger       *slog.Logger
	Store        database.Store
	Preprocessor Submitter
	Coalescer    Nudger
	Config       *config.Config
	// Now defaults to time.Now.
	Now func() time.Time
}

func (d TaskDeps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}
