package domain

import "time"

// TaskStatus enumerates the lifecycle of a single recipient's delivery task.
type TaskStatus string

const (
	TaskQueued     TaskStatus = "queued"
	TaskProcessing TaskStatus = "processing"
	TaskSent       TaskStatus = "sent"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// IsTerminal returns true for states that admit no further transition.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskSent || s == TaskFailed || s == TaskCancelled
}

// QueueTask is one recipient's pending or attempted email delivery. A task in
// processing is owned by exactly one in-flight dispatch attempt; ownership is
// enforced by the store's conditional transitions, not by any in-process flag.
type QueueTask struct {
	ID         string     `json:"id" db:"id"`
	CampaignID string     `json:"campaign_id" db:"campaign_id"`
	ContactID  string     `json:"contact_id" db:"contact_id"`
	Email      string     `json:"email" db:"email"`
	Status     TaskStatus `json:"status" db:"status"`

	// Priority orders claims; lower values are claimed sooner.
	Priority     int       `json:"priority" db:"priority"`
	RetryCount   int       `json:"retry_count" db:"retry_count"`
	ScheduledFor time.Time `json:"scheduled_for" db:"scheduled_for"`

	ErrorMessage string     `json:"error_message,omitempty" db:"error_message"`
	MessageID    string     `json:"message_id,omitempty" db:"message_id"`
	SentAt       *time.Time `json:"sent_at" db:"sent_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}
