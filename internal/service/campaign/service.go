package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tavari/mail-engine/internal/domain"
	"github.com/tavari/mail-engine/internal/pkg/logger"
)

// DefaultPriority is assigned to tasks at expansion; lower is claimed sooner.
const DefaultPriority = 5

// Service coordinates the campaign side of dispatch: expansion into queue
// tasks, operator stop, and counter/status recomputation. All public methods
// are safe for concurrent use if the underlying repositories are.
type Service struct {
	repo     Repository
	store    QueueStore
	contacts ContactRepository
	now      func() time.Time
}

// NewService creates a campaign service backed by the given repositories.
func NewService(repo Repository, store QueueStore, contacts ContactRepository) *Service {
	return &Service{repo: repo, store: store, contacts: contacts, now: time.Now}
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.repo.Get(ctx, id)
}

// Queue expands a draft campaign into one queue task per sendable recipient.
// The expansion is all-or-nothing: on any enqueue failure the campaign stays
// in draft so the operator can retry the whole send. Returns the number of
// recipients enqueued.
func (s *Service) Queue(ctx context.Context, campaignID string) (int, error) {
	c, err := s.repo.Get(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	if c.Status != domain.CampaignDraft {
		return 0, ErrAlreadySending
	}

	recipients, err := s.contacts.ListSendable(ctx, c.OrganizationID)
	if err != nil {
		return 0, fmt.Errorf("resolve recipients: %w", err)
	}
	if len(recipients) == 0 {
		// Nothing deliverable: the campaign completes immediately as failed
		// rather than sitting in draft looking retryable.
		if _, err := s.repo.UpdateStatus(ctx, campaignID, domain.CampaignDraft, domain.CampaignFailed); err != nil {
			return 0, fmt.Errorf("fail empty campaign: %w", err)
		}
		return 0, ErrNoRecipients
	}

	now := s.now()
	tasks := make([]domain.QueueTask, 0, len(recipients))
	for _, r := range recipients {
		tasks = append(tasks, domain.QueueTask{
			ID:           uuid.New().String(),
			CampaignID:   campaignID,
			ContactID:    r.ID,
			Email:        r.Email,
			Status:       domain.TaskQueued,
			Priority:     DefaultPriority,
			ScheduledFor: now,
			CreatedAt:    now,
		})
	}

	if err := s.store.EnqueueCampaign(ctx, campaignID, tasks); err != nil {
		return 0, fmt.Errorf("enqueue recipients: %w", err)
	}

	logger.Info("campaign queued", "campaign_id", campaignID, "recipients", len(tasks))
	return len(tasks), nil
}

// Stop cancels every still-queued task and marks the campaign stopped.
// Tasks already claimed by a dispatcher finish their in-flight attempt and
// record their real outcome; stopping is cooperative, never an interruption
// of a live transport call.
func (s *Service) Stop(ctx context.Context, campaignID string) error {
	c, err := s.repo.Get(ctx, campaignID)
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignSending {
		return ErrInvalidTransition
	}

	cancelled, err := s.store.CancelQueued(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("cancel queued tasks: %w", err)
	}
	if _, err := s.repo.UpdateStatus(ctx, campaignID, domain.CampaignSending, domain.CampaignStopped); err != nil {
		return fmt.Errorf("transition to stopped: %w", err)
	}

	logger.Info("campaign stopped", "campaign_id", campaignID, "cancelled", cancelled)
	return nil
}

// Recompute reconciles campaign counters and terminal status from task
// states. emails_sent is always set to the real count of sent tasks. When no
// queued or processing tasks remain, the campaign completes: sent if at least
// one recipient was delivered, failed if none were. A stopped campaign keeps
// its stopped status (the transition is guarded on sending). Recompute is
// idempotent: with no intervening task changes a second call is a no-op.
func (s *Service) Recompute(ctx context.Context, campaignID string) error {
	counts, err := s.store.CountByStatus(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("count tasks: %w", err)
	}

	if err := s.repo.SyncSentCount(ctx, campaignID, counts.Sent); err != nil {
		return fmt.Errorf("sync sent count: %w", err)
	}

	if counts.Remaining() > 0 {
		return nil
	}

	final := domain.CampaignFailed
	if counts.Sent > 0 {
		final = domain.CampaignSent
	}
	done, err := s.repo.UpdateStatus(ctx, campaignID, domain.CampaignSending, final)
	if err != nil {
		return fmt.Errorf("finalize campaign: %w", err)
	}
	if done {
		logger.Info("campaign complete", "campaign_id", campaignID,
			"status", string(final), "sent", counts.Sent, "failed", counts.Failed)
	}
	return nil
}

// Progress returns the operator-facing delivery counts for a campaign.
// Counts are read from task state, never estimated.
func (s *Service) Progress(ctx context.Context, campaignID string) (*domain.Progress, error) {
	c, err := s.repo.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	counts, err := s.store.CountByStatus(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	return &domain.Progress{
		Sent:      counts.Sent,
		Failed:    counts.Failed,
		Cancelled: counts.Cancelled,
		Pending:   counts.Remaining(),
		Total:     c.TotalRecipients,
	}, nil
}

// HandleBounce applies a bounce notification from an ESP webhook. Hard
// bounces unsubscribe the contact from further sending; soft bounces are
// recorded only. This is a one-way notification, so storage errors are
// logged and swallowed past the first write.
func (s *Service) HandleBounce(ctx context.Context, ev domain.BounceEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = s.now()
	}
	if err := s.contacts.RecordBounce(ctx, ev); err != nil {
		return fmt.Errorf("record bounce: %w", err)
	}
	if ev.Type == domain.BounceHard {
		if err := s.contacts.MarkBounced(ctx, ev.Email); err != nil {
			logger.Error("mark bounced contact", "email", ev.Email, "error", err)
		}
	}
	return nil
}
