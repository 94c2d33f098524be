package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/intake/internal/api"
	"github.com/edgard/intake/internal/config"
	"github.com/edgard/intake/internal/database"
	"github.com/edgard/intake/internal/debounce"
	apperrors "github.com/edgard/intake/internal/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type storeIntake struct {
	store database.Store
	err   error
	armed int
}

func (s *storeIntake) CreateMessage(ctx context.Context, in *database.NewMessage) (*database.Message, error) {
	if s.err != nil {
		return nil, s.err
	}
	msg, err := s.store.CreateMessage(ctx, in)
	if err == nil {
		s.armed++
	}
	return msg, err
}

type fixedState debounce.State

func (f fixedState) State() debounce.State { return debounce.State(f) }

func newServer(t *testing.T, httpCfg config.HTTPConfig) (*gin.Engine, *storeIntake) {
	t.Helper()
	db, err := database.NewDB(config.DatabaseConfig{
		Driver: database.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "api.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseDB(db) })

	store := database.NewStore(db, nil)
	intake := &storeIntake{store: store}
	router := api.NewRouter(api.Deps{
		Intake:    intake,
		Store:     store,
		Scheduler: fixedState(debounce.StateIdle),
		Config:    httpCfg,
		Version:   "test",
	})
	return router, intake
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func messageBody(id string) map[string]any {
	return map[string]any{
		"message_id":        id,
		"text_content":      "need to pick up the kids",
		"chat_id":           "family",
		"chat_display_name": "Family",
		"chat_members_struct": []map[string]any{
			{"user_id": "u1", "name": "Alice", "is_sender": true},
			{"user_id": "u2", "name": "Bob", "is_sender": false},
		},
	}
}

func TestCreateMessage(t *testing.T) {
	t.Parallel()
	router, intake := newServer(t, config.HTTPConfig{})

	w := do(t, router, http.MethodPost, "/api/v1/messages/", messageBody("m1"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, "m1", body["message_id"])
	assert.Equal(t, "UNPROCESSED", body["status"])
	assert.Equal(t, "u1", body["user_id"])
	assert.Equal(t, "Alice", body["sender_name"])
	assert.EqualValues(t, 24, body["text_character_count"])
	assert.NotContains(t, body, "status_changed_at")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, 1, intake.armed)

	w = do(t, router, http.MethodGet, "/api/v1/messages/m1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "need to pick up the kids", decode(t, w)["text_content"])

	w = do(t, router, http.MethodPost, "/api/v1/messages", messageBody("m2"))
	assert.Equal(t, http.StatusCreated, w.Code, "route without trailing slash")
}

func TestCreateMessageErrors(t *testing.T) {
	t.Parallel()
	router, intake := newServer(t, config.HTTPConfig{})

	require.Equal(t, http.StatusCreated, do(t, router, http.MethodPost, "/api/v1/messages/", messageBody("m1")).Code)

	w := do(t, router, http.MethodPost, "/api/v1/messages/", messageBody("m1"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.True(t, strings.HasPrefix(decode(t, w)["error"].(string), "Database error: "))

	reply := messageBody("m2")
	reply["replied_to_fk"] = "missing"
	w = do(t, router, http.MethodPost, "/api/v1/messages/", reply)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.True(t, strings.HasPrefix(decode(t, w)["error"].(string), "Database error: "))

	noSender := messageBody("m3")
	noSender["chat_members_struct"] = []map[string]any{{"user_id": "u1", "name": "Alice"}}
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/api/v1/messages/", noSender).Code)

	noMembers := messageBody("m4")
	delete(noMembers, "chat_members_struct")
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/api/v1/messages/", noMembers).Code)

	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/api/v1/messages/", "{not json").Code)

	noText := messageBody("m6")
	delete(noText, "text_content")
	w = do(t, router, http.MethodPost, "/api/v1/messages/", noText)
	assert.Equal(t, http.StatusBadRequest, w.Code, "text_content is required")
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/api/v1/messages/m6", nil).Code)

	emptyText := messageBody("m7")
	emptyText["text_content"] = ""
	w = do(t, router, http.MethodPost, "/api/v1/messages/", emptyText)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.EqualValues(t, 0, decode(t, w)["text_character_count"])

	intake.err = apperrors.NewTransientError("database is locked", errors.New("SQLITE_BUSY"))
	w = do(t, router, http.MethodPost, "/api/v1/messages/", messageBody("m8"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to create message", decode(t, w)["error"])

	intake.err = errors.New("connection reset")
	w = do(t, router, http.MethodPost, "/api/v1/messages/", messageBody("m5"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to create message", decode(t, w)["error"])

	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/api/v1/messages/nope", nil).Code)
}

func TestCreateMessageRateLimited(t *testing.T) {
	t.Parallel()
	router, _ := newServer(t, config.HTTPConfig{RateLimit: 0.001, RateBurst: 1})

	assert.Equal(t, http.StatusCreated, do(t, router, http.MethodPost, "/api/v1/messages/", messageBody("m1")).Code)
	w := do(t, router, http.MethodPost, "/api/v1/messages/", messageBody("m2"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// Reads are not limited.
	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/api/v1/messages/m1", nil).Code)
}

func TestTaskEndpoints(t *testing.T) {
	t.Parallel()
	router, _ := newServer(t, config.HTTPConfig{})

	w := do(t, router, http.MethodPost, "/api/v1/tasks/", map[string]any{
		"task_name":     "Book dentist",
		"task_or_event": "event",
		"task_due_time": "2024-05-02T10:00:00Z",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)
	id := created["task_id"].(string)
	assert.Equal(t, "open", created["status"])

	w = do(t, router, http.MethodPost, "/api/v1/tasks", map[string]any{"task_name": "Laundry", "task_type": "chore"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, router, http.MethodGet, "/api/v1/tasks/?task_or_event=event", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, id, listed[0]["task_id"])

	w = do(t, router, http.MethodGet, "/api/v1/tasks/?created_by_agent=false&limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	assert.Len(t, listed, 1)

	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodGet, "/api/v1/tasks/?status=done", nil).Code)

	w = do(t, router, http.MethodPatch, "/api/v1/tasks/"+id, map[string]any{"task_context": "bring insurance card"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "bring insurance card", decode(t, w)["task_context"])

	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPatch, "/api/v1/tasks/"+id, map[string]any{"status": "done"}).Code)

	w = do(t, router, http.MethodPost, "/api/v1/tasks/"+id+"/complete", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "completed", body["status"])
	assert.NotNil(t, body["completed_at"])

	w = do(t, router, http.MethodPost, "/api/v1/tasks/"+id+"/reopen", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, "open", body["status"])
	assert.Nil(t, body["completed_at"])

	assert.Equal(t, http.StatusNoContent, do(t, router, http.MethodDelete, "/api/v1/tasks/"+id, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/api/v1/tasks/"+id, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodDelete, "/api/v1/tasks/"+id, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodPost, "/api/v1/tasks/"+id+"/complete", nil).Code)

	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/api/v1/tasks/", map[string]any{"task_context": "no name"}).Code)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	router, _ := newServer(t, config.HTTPConfig{})

	w := do(t, router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "idle", body["scheduler"])
	assert.Equal(t, "ok", body["database"])
	assert.NotEmpty(t, body["timestamp"])

	w = do(t, router, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "test", decode(t, w)["version"])

	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/nowhere", nil).Code)
}

func TestHealthStaysUpWhenDatabaseDown(t *testing.T) {
	t.Parallel()
	db, err := database.NewDB(config.DatabaseConfig{
		Driver: database.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "health.db"),
	})
	require.NoError(t, err)

	router := api.NewRouter(api.Deps{
		Intake:    &storeIntake{store: database.NewStore(db, nil)},
		Store:     database.NewStore(db, nil),
		Scheduler: fixedState(debounce.StateArmed),
	})
	database.CloseDB(db)

	w := do(t, router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "unreachable", body["database"])
	assert.Equal(t, "armed", body["scheduler"])
}
