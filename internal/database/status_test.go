package database_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edgard/intake/internal/database"
)

func TestCanTransitionTo(t *testing.T) {
	t.Parallel()

	legal := map[[2]database.MessageStatus]bool{
		{database.StatusUnprocessed, database.StatusReadyForAgent}:       true,
		{database.StatusReadyForAgent, database.StatusAgentProcessing}:   true,
		{database.StatusAgentProcessing, database.StatusProcessed}:       true,
		{database.StatusAgentProcessing, database.StatusReadyForAgent}:   true,
	}

	for _, from := range database.AllStatuses {
		for _, to := range database.AllStatuses {
			want := legal[[2]database.MessageStatus{from, to}]
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestNext(t *testing.T) {
	t.Parallel()

	s := database.StatusUnprocessed
	var path []database.MessageStatus
	for {
		path = append(path, s)
		next, ok := s.Next()
		if !ok {
			break
		}
		s = next
	}

	assert.Equal(t, database.AllStatuses, path)
	assert.False(t, database.MessageStatus("BOGUS").Valid())
	assert.True(t, database.StatusProcessed.Valid())
}
