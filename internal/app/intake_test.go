package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/intake/internal/config"
	"github.com/edgard/intake/internal/database"
	apperrors "github.com/edgard/intake/internal/errors"
	"github.com/edgard/intake/internal/logger"
)

type intakeRecorder struct {
	accept    bool
	submitted []string
	arms      int
}

func (r *intakeRecorder) Submit(id string) bool {
	r.submitted = append(r.submitted, id)
	return r.accept
}

func (r *intakeRecorder) Arm() { r.arms++ }

func TestIntakeServiceCreateMessage(t *testing.T) {
	t.Parallel()

	db, err := database.NewDB(config.DatabaseConfig{
		Driver: database.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "intake.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseDB(db) })

	rec := &intakeRecorder{}
	svc := NewIntakeService(database.NewStore(db, nil), rec, rec, logger.Discard())
	in := &database.NewMessage{
		MessageID:   "m1",
		TextContent: "hello",
		ChatID:      "c1",
		Members:     database.Members{{UserID: "u1", Name: "Alice", IsSender: true}},
	}

	msg, err := svc.CreateMessage(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, database.StatusUnprocessed, msg.Status)
	assert.Equal(t, []string{"m1"}, rec.submitted, "a full queue still accepts the message")
	assert.Equal(t, 1, rec.arms)

	_, err = svc.CreateMessage(context.Background(), in)
	require.ErrorIs(t, err, apperrors.ErrDuplicateKey)
	assert.Len(t, rec.submitted, 1, "rejected messages are not scheduled")
	assert.Equal(t, 1, rec.arms)
}
