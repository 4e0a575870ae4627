package models

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Task represents a single tracked to-do item for a channel
type Task struct {
	TaskID      string     `dynamodbav:"task_id"`
	ChannelID   string     `dynamodbav:"channel_id"`
	UserID      string     `dynamodbav:"user_id"`
	Description string     `dynamodbav:"description"`
	Priority    string     `dynamodbav:"priority"` // normal, high
	Status      string     `dynamodbav:"status"`   // open, done
	CreatedAt   time.Time  `dynamodbav:"created_at"`
	CompletedAt *time.Time `dynamodbav:"completed_at,omitempty"`
	TTL         int64      `dynamodbav:"ttl"` // Unix timestamp (30 days)
}

// TaskStatus constants
const (
	TaskStatusOpen = "open"
	TaskStatusDone = "done"
)

// TaskPriority constants
const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// NewTask creates a new open task with a generated ID
func NewTask(channelID, userID, description, priority string) *Task {
	if priority == "" {
		priority = PriorityNormal
	}
	now := time.Now()

	return &Task{
		TaskID:      generateTaskID(),
		ChannelID:   channelID,
		UserID:      userID,
		Description: description,
		Priority:    priority,
		Status:      TaskStatusOpen,
		CreatedAt:   now,
		TTL:         now.AddDate(0, 0, 30).Unix(),
	}
}

// MarkDone transitions the task to the done status
func (t *Task) MarkDone() {
	t.Status = TaskStatusDone
	now := time.Now()
	t.CompletedAt = &now
}

// generateTaskID creates a unique task identifier
func generateTaskID() string {
	id, _ := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	return "task-" + id.String()
}
