package agent_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/intake/internal/agent"
	"github.com/edgard/intake/internal/config"
	"github.com/edgard/intake/internal/database"
)

func newStore(t *testing.T) database.Store {
	t.Helper()
	db, err := database.NewDB(config.DatabaseConfig{
		Driver: database.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "agent.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseDB(db) })
	return database.NewStore(db, nil)
}

func addMessage(t *testing.T, store database.Store, id, text string, ready bool) {
	t.Helper()
	ctx := context.Background()
	_, err := store.CreateMessage(ctx, &database.NewMessage{
		MessageID:   id,
		TextContent: text,
		ChatID:      "family",
		Members: database.Members{
			{UserID: "u1", Name: "Alice", IsSender: true},
			{UserID: "u2", Name: "Bob"},
		},
	})
	require.NoError(t, err)
	if ready {
		moved, err := store.BulkSetStatus(ctx, []string{id}, database.StatusUnprocessed, database.StatusReadyForAgent)
		require.NoError(t, err)
		require.Equal(t, []string{id}, moved)
	}
}

func statusOf(t *testing.T, store database.Store, id string) database.MessageStatus {
	t.Helper()
	msg, err := store.GetMessage(context.Background(), id)
	require.NoError(t, err)
	return msg.Status
}

func TestRunOnceProcessesCohort(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	ctx := context.Background()

	addMessage(t, store, "m1", "We need to buy milk", true)
	addMessage(t, store, "m2", "Dentist appointment on Friday", true)
	addMessage(t, store, "m3", "hello there", true)
	addMessage(t, store, "m4", "remind me later", false)

	runner := agent.NewRunner(store, agent.KeywordExtractor{}, agent.Options{})
	result, err := runner.RunOnce(ctx)
	require.NoError(t, err)

	assert.NotEmpty(t, result.SessionID)
	assert.Equal(t, []string{"m1", "m2", "m3"}, result.Processed)
	assert.Equal(t, 2, result.Tasks)

	for _, id := range []string{"m1", "m2", "m3"} {
		assert.Equal(t, database.StatusProcessed, statusOf(t, store, id))
	}
	assert.Equal(t, database.StatusUnprocessed, statusOf(t, store, "m4"))

	tasks, err := store.ListTasks(ctx, database.TaskFilter{CreatedByAgent: boolPtr(true)})
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	sources := []string{*tasks[0].SourceMessageID, *tasks[1].SourceMessageID}
	assert.ElementsMatch(t, []string{"m1", "m2"}, sources)

	logs, err := store.ListAgentLogs(ctx, result.SessionID)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, database.AgentLogThought, logs[0].LogType)
	assert.Equal(t, database.AgentLogDecision, logs[len(logs)-1].LogType)
}

func TestRunOnceWithNothingReady(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	addMessage(t, store, "m1", "todo: laundry", false)

	var calls atomic.Int32
	extractor := agent.ExtractorFunc(func(context.Context, *database.Message) ([]agent.TaskDraft, error) {
		calls.Add(1)
		return nil, nil
	})

	result, err := agent.NewRunner(store, extractor, agent.Options{}).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Processed)
	assert.Zero(t, calls.Load())
	assert.Equal(t, database.StatusUnprocessed, statusOf(t, store, "m1"))
}

func TestRunOnceExcludesMessagesArrivingMidRun(t *testing.T) {
	t.Parallel()
	store := newStore(t)

	addMessage(t, store, "m1", "first", true)
	addMessage(t, store, "m2", "second", true)

	var once atomic.Bool
	extractor := agent.ExtractorFunc(func(context.Context, *database.Message) ([]agent.TaskDraft, error) {
		if once.CompareAndSwap(false, true) {
			addMessage(t, store, "late", "arrived during the run", true)
		}
		return nil, nil
	})

	result, err := agent.NewRunner(store, extractor, agent.Options{}).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, result.Processed)
	assert.Equal(t, database.StatusReadyForAgent, statusOf(t, store, "late"))

	// The next run picks it up.
	result, err = agent.NewRunner(store, extractor, agent.Options{}).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"late"}, result.Processed)
}

func TestRunOnceFailureRequeuesCohort(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	ctx := context.Background()

	addMessage(t, store, "m1", "todo one", true)
	addMessage(t, store, "m2", "todo two", true)

	extractor := agent.ExtractorFunc(func(_ context.Context, msg *database.Message) ([]agent.TaskDraft, error) {
		if msg.MessageID == "m2" {
			return nil, errors.New("model unavailable")
		}
		return []agent.TaskDraft{{Name: "one"}}, nil
	})

	result, err := agent.NewRunner(store, extractor, agent.Options{}).RunOnce(ctx)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "model unavailable")

	assert.Equal(t, database.StatusReadyForAgent, statusOf(t, store, "m1"))
	assert.Equal(t, database.StatusReadyForAgent, statusOf(t, store, "m2"))

	tasks, err := store.ListTasks(ctx, database.TaskFilter{})
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestRunOnceTimesOut(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	addMessage(t, store, "m1", "slow", true)

	runner := agent.NewRunner(store, agent.KeywordExtractor{}, agent.Options{
		ProcessingDelay: 5 * time.Second,
		RunTimeout:      200 * time.Millisecond,
	})
	err := runner.Run(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, database.StatusReadyForAgent, statusOf(t, store, "m1"))
}

type busyPreprocessor struct {
	waited atomic.Int32
}

func (b *busyPreprocessor) WaitIdle(ctx context.Context) error {
	b.waited.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func TestRunOnceWaitsForPreprocessorBriefly(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	addMessage(t, store, "m1", "hello", true)

	pre := &busyPreprocessor{}
	runner := agent.NewRunner(store, nil, agent.Options{
		Preprocessor: pre,
		WaitTimeout:  10 * time.Millisecond,
	})
	result, err := runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), pre.waited.Load())
	assert.Equal(t, []string{"m1"}, result.Processed)
}

func TestKeywordExtractor(t *testing.T) {
	t.Parallel()

	long := "We should really clean the garage before the family comes over next weekend"

	tests := []struct {
		name      string
		text      string
		wantKinds []database.TaskKind
		wantNames []string
	}{
		{"plain chatter", "good morning!", nil, nil},
		{"task keyword", "TODO: buy milk", []database.TaskKind{database.TaskKindTask}, []string{"Task from message: TODO: buy milk"}},
		{"event keyword", "Team meeting at 3", []database.TaskKind{database.TaskKindEvent}, []string{"Event: Team meeting at 3"}},
		{"both", "remind me about the appointment",
			[]database.TaskKind{database.TaskKindTask, database.TaskKindEvent},
			[]string{"Task from message: remind me about the appointment", "Event: remind me about the appointment"}},
		{"long text is cut", long, []database.TaskKind{database.TaskKindTask}, []string{"Task from message: " + long[:50] + "..."}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			drafts, err := agent.KeywordExtractor{}.Extract(context.Background(), &database.Message{TextContent: tt.text})
			require.NoError(t, err)
			require.Len(t, drafts, len(tt.wantKinds))
			for i, d := range drafts {
				assert.Equal(t, tt.wantKinds[i], d.Kind)
				assert.Equal(t, tt.wantNames[i], d.Name)
				require.NotNil(t, d.Context)
				assert.Equal(t, tt.text, *d.Context)
			}
			if len(drafts) > 0 && drafts[0].Kind == database.TaskKindTask {
				require.NotNil(t, drafts[0].Type)
				assert.Equal(t, database.TaskTypeChore, *drafts[0].Type)
			}
		})
	}
}

func boolPtr(b bool) *bool { return &b }
