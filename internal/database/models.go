package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ChatType is derived from the roster size when a chat is first seen.
type ChatType string

const (
	ChatTypePrivate ChatType = "private"
	ChatTypeGroup   ChatType = "group"
)

// ChatTypeForMembers returns group for more than two distinct members and
// private otherwise.
func ChatTypeForMembers(n int) ChatType {
	if n > 2 {
		return ChatTypeGroup
	}
	return ChatTypePrivate
}

// ChatMember is one roster entry as received with a message.
type ChatMember struct {
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	IsSender bool   `json:"is_sender"`
}

// Members is the roster snapshot stored on each message as JSON.
type Members []ChatMember

// Value implements driver.Valuer.
func (m Members) Value() (driver.Value, error) {
	if m == nil {
		return "[]", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat members: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *Members) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported chat members column type %T", src)
	}
	return json.Unmarshal(raw, m)
}

// Sender returns the roster entry flagged as the sender.
func (m Members) Sender() (ChatMember, bool) {
	for _, member := range m {
		if member.IsSender {
			return member, true
		}
	}
	return ChatMember{}, false
}

// User is a chat participant. The latest observed name wins.
type User struct {
	UserID    string    `db:"user_id"    json:"user_id"`
	Name      string    `db:"name"       json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Chat is a conversation. Its type is fixed at creation.
type Chat struct {
	ChatID          string    `db:"chat_id"           json:"chat_id"`
	ChatDisplayName *string   `db:"chat_display_name" json:"chat_display_name"`
	ChatType        ChatType  `db:"chat_type"         json:"chat_type"`
	CreatedAt       time.Time `db:"created_at"        json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"        json:"updated_at"`
}

// NewMessage is the validated input of message creation.
type NewMessage struct {
	MessageID       string
	TextContent     string
	ChatID          string
	ChatDisplayName *string
	Members         Members
	IsSpam          bool
	RepliedToID     *string
}

// Message is a stored chat message and its pipeline status.
type Message struct {
	MessageID          string        `db:"message_id"           json:"message_id"`
	TextContent        string        `db:"text_content"         json:"text_content"`
	TextCharacterCount int           `db:"text_character_count" json:"text_character_count"`
	Status             MessageStatus `db:"status"               json:"status"`
	UserID             string        `db:"user_id"              json:"user_id"`
	SenderName         string        `db:"sender_name"          json:"sender_name"`
	ChatID             string        `db:"chat_id"              json:"chat_id"`
	ChatMembers        Members       `db:"chat_members_struct"  json:"chat_members_struct"`
	IsSpam             bool          `db:"is_spam"              json:"is_spam"`
	RepliedToID        *string       `db:"replied_to_fk"        json:"replied_to_fk"`
	TimeReceived       time.Time     `db:"time_received"        json:"time_received"`
	StatusChangedAt    time.Time     `db:"status_changed_at"    json:"-"`
}

// TaskStatus is the lifecycle of a task.
type TaskStatus string

const (
	TaskStatusOpen       TaskStatus = "open"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusBacklogged TaskStatus = "backlogged"
)

// TaskKind tells tasks apart from calendar events.
type TaskKind string

const (
	TaskKindTask  TaskKind = "task"
	TaskKindEvent TaskKind = "event"
)

// TaskType categorises a task.
type TaskType string

const (
	TaskTypeFun          TaskType = "fun"
	TaskTypeTextResponse TaskType = "text_response"
	TaskTypeChore        TaskType = "chore"
	TaskTypeErrand       TaskType = "errand"
)

// Task is an actionable item, either entered manually or generated by an
// agent run from a message.
type Task struct {
	TaskID          string     `db:"task_id"           json:"task_id"`
	TaskName        string     `db:"task_name"         json:"task_name"`
	TaskContext     *string    `db:"task_context"      json:"task_context"`
	Status          TaskStatus `db:"status"            json:"status"`
	TaskOrEvent     TaskKind   `db:"task_or_event"     json:"task_or_event"`
	TaskType        *TaskType  `db:"task_type"         json:"task_type"`
	EventStartTime  *time.Time `db:"event_start_time"  json:"event_start_time"`
	EventEndTime    *time.Time `db:"event_end_time"    json:"event_end_time"`
	TaskDueTime     *time.Time `db:"task_due_time"     json:"task_due_time"`
	CompletedAt     *time.Time `db:"completed_at"      json:"completed_at"`
	SourceMessageID *string    `db:"source_message_id" json:"source_message_id"`
	CreatedByAgent  bool       `db:"created_by_agent"  json:"created_by_agent"`
	CreatedAt       time.Time  `db:"created_at"        json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"        json:"updated_at"`
}

// TaskUpdate holds the fields of a partial task update. Nil means unchanged.
type TaskUpdate struct {
	TaskName       *string
	TaskContext    *string
	Status         *TaskStatus
	TaskOrEvent    *TaskKind
	TaskType       *TaskType
	EventStartTime *time.Time
	EventEndTime   *time.Time
	TaskDueTime    *time.Time
}

// Apply copies the set fields onto t. Moving into completed stamps
// CompletedAt, moving out of it clears the stamp.
func (t *Task) Apply(u TaskUpdate, now time.Time) {
	if u.TaskName != nil {
		t.TaskName = *u.TaskName
	}
	if u.TaskContext != nil {
		t.TaskContext = u.TaskContext
	}
	if u.TaskOrEvent != nil {
		t.TaskOrEvent = *u.TaskOrEvent
	}
	if u.TaskType != nil {
		t.TaskType = u.TaskType
	}
	if u.EventStartTime != nil {
		t.EventStartTime = u.EventStartTime
	}
	if u.EventEndTime != nil {
		t.EventEndTime = u.EventEndTime
	}
	if u.TaskDueTime != nil {
		t.TaskDueTime = u.TaskDueTime
	}
	if u.Status != nil && *u.Status != t.Status {
		t.Status = *u.Status
		if t.Status == TaskStatusCompleted {
			completed := now
			t.CompletedAt = &completed
		} else {
			t.CompletedAt = nil
		}
	}
	t.UpdatedAt = now
}

// TaskFilter narrows ListTasks. Zero values mean no filter.
type TaskFilter struct {
	Status         TaskStatus
	TaskOrEvent    TaskKind
	TaskType       TaskType
	CreatedByAgent *bool
	Skip           int
	Limit          int
}

// AgentLogType classifies agent log rows.
type AgentLogType string

const (
	AgentLogThought     AgentLogType = "thought"
	AgentLogAction      AgentLogType = "action"
	AgentLogObservation AgentLogType = "observation"
	AgentLogDecision    AgentLogType = "decision"
	AgentLogError       AgentLogType = "error"
)

// AgentLog is one entry of a batch run's trace. SessionID groups the
// entries of one run.
type AgentLog struct {
	ID              int64        `db:"id"                json:"id"`
	SessionID       string       `db:"session_id"        json:"session_id"`
	LogType         AgentLogType `db:"log_type"          json:"log_type"`
	Level           string       `db:"level"             json:"level"`
	Message         string       `db:"message"           json:"message"`
	SourceMessageID *string      `db:"source_message_id" json:"source_message_id"`
	CreatedAt       time.Time    `db:"created_at"        json:"created_at"`
}
