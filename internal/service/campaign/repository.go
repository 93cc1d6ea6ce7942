package campaign

import (
	"context"
	"time"

	"github.com/tavari/mail-engine/internal/domain"
)

// Repository defines the data access contract for campaigns.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single campaign. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Campaign, error)

	// UpdateStatus transitions a campaign's status only if it is currently in
	// the expected state. Returns false (and no error) on a CAS miss.
	UpdateStatus(ctx context.Context, id string, from, to domain.CampaignStatus) (bool, error)

	// IncrementSent adds one to emails_sent. Called by the dispatcher on each
	// sent transition; never decremented.
	IncrementSent(ctx context.Context, id string) error

	// SyncSentCount sets emails_sent to the authoritative count of sent tasks.
	// Called by Recompute so campaign counters always reflect real task state.
	SyncSentCount(ctx context.Context, id string, sent int) error
}

// TransitionFields carries the optional column updates applied together with
// a task status transition. Nil fields are left untouched.
type TransitionFields struct {
	RetryCount   *int
	ScheduledFor *time.Time
	ErrorMessage *string
	MessageID    *string
	SentAt       *time.Time
}

// TaskCounts is a snapshot of a campaign's task states.
type TaskCounts struct {
	Queued     int
	Processing int
	Sent       int
	Failed     int
	Cancelled  int
}

// Total returns the number of tasks across all states.
func (c TaskCounts) Total() int {
	return c.Queued + c.Processing + c.Sent + c.Failed + c.Cancelled
}

// Remaining returns the number of tasks not yet in a terminal state.
func (c TaskCounts) Remaining() int { return c.Queued + c.Processing }

// QueueStore is the durable queue of per-recipient send tasks. All mutation
// operations are conditional at the storage layer: two dispatcher instances
// racing on the same task cannot both win.
type QueueStore interface {
	// EnqueueCampaign atomically transitions the campaign draft→sending
	// (freezing total_recipients and stamping sent_at) and inserts all tasks.
	// Any failure rolls the whole expansion back, leaving the campaign draft.
	EnqueueCampaign(ctx context.Context, campaignID string, tasks []domain.QueueTask) error

	// ClaimBatch returns up to limit tasks that are queued with
	// scheduled_for <= now, ordered by (priority asc, created_at asc), and
	// marks them processing as part of the same operation.
	ClaimBatch(ctx context.Context, limit int, now time.Time) ([]domain.QueueTask, error)

	// Transition performs a compare-and-swap status update. It returns false
	// (and no error) if the task is not currently in from status; the caller
	// must discard its result in that case.
	Transition(ctx context.Context, taskID string, from, to domain.TaskStatus, fields TransitionFields) (bool, error)

	// CancelQueued transitions every still-queued task of the campaign to
	// cancelled and returns how many were cancelled. Tasks already processing
	// are left to finish their in-flight attempt.
	CancelQueued(ctx context.Context, campaignID string) (int, error)

	// CountByStatus returns the campaign's task state snapshot.
	CountByStatus(ctx context.Context, campaignID string) (TaskCounts, error)

	// ReclaimStale returns tasks stuck in processing longer than olderThan to
	// queued (or fails them past maxRetries). Covers dispatcher crashes.
	ReclaimStale(ctx context.Context, olderThan time.Duration, maxRetries int) (int, error)
}

// ContactRepository resolves campaign recipients and applies bounce-driven
// status changes. The surrounding application owns full contact CRUD.
type ContactRepository interface {
	// ListSendable returns the organization's contacts eligible to receive
	// campaign mail (active, not unsubscribed or bounced).
	ListSendable(ctx context.Context, orgID string) ([]domain.Contact, error)

	// MarkBounced flags the contact as bounced/unsubscribed-from-sending.
	MarkBounced(ctx context.Context, email string) error

	// RecordBounce stores the bounce event for operator follow-up.
	RecordBounce(ctx context.Context, ev domain.BounceEvent) error
}
