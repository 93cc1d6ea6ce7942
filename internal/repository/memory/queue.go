package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/tavari/mail-engine/internal/domain"
	"github.com/tavari/mail-engine/internal/service/campaign"
)

// QueueStore is an in-memory campaign.QueueStore. Claims and transitions are
// serialized under one mutex, which gives the same at-most-one-winner
// guarantee the Postgres store gets from conditional updates.
type QueueStore struct {
	mu        sync.Mutex
	tasks     map[string]*domain.QueueTask
	claimedAt map[string]time.Time
	campaigns *CampaignRepo // campaign side of atomic expansion

	// FailEnqueue forces EnqueueCampaign to fail; lets tests exercise the
	// all-or-nothing expansion contract.
	FailEnqueue bool
}

// NewQueueStore creates an in-memory queue store tied to the campaign repo
// so expansion can update both sides atomically.
func NewQueueStore(campaigns *CampaignRepo) *QueueStore {
	return &QueueStore{
		tasks:     make(map[string]*domain.QueueTask),
		claimedAt: make(map[string]time.Time),
		campaigns: campaigns,
	}
}

func (s *QueueStore) EnqueueCampaign(_ context.Context, campaignID string, tasks []domain.QueueTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailEnqueue {
		return errors.New("enqueue failed: storage unavailable")
	}
	if !s.campaigns.beginExpand(campaignID, len(tasks), time.Now()) {
		return campaign.ErrAlreadySending
	}
	for i := range tasks {
		cp := tasks[i]
		s.tasks[cp.ID] = &cp
	}
	return nil
}

func (s *QueueStore) ClaimBatch(_ context.Context, limit int, now time.Time) ([]domain.QueueTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var eligible []*domain.QueueTask
	for _, t := range s.tasks {
		if t.Status == domain.TaskQueued && !t.ScheduledFor.After(now) {
			eligible = append(eligible, t)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority < eligible[j].Priority
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}

	claimed := make([]domain.QueueTask, 0, len(eligible))
	for _, t := range eligible {
		t.Status = domain.TaskProcessing
		s.claimedAt[t.ID] = now
		claimed = append(claimed, *t)
	}
	return claimed, nil
}

func (s *QueueStore) Transition(_ context.Context, taskID string, from, to domain.TaskStatus, f campaign.TransitionFields) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = to
	if f.RetryCount != nil {
		t.RetryCount = *f.RetryCount
	}
	if f.ScheduledFor != nil {
		t.ScheduledFor = *f.ScheduledFor
	}
	if f.ErrorMessage != nil {
		t.ErrorMessage = *f.ErrorMessage
	}
	if f.MessageID != nil {
		t.MessageID = *f.MessageID
	}
	if f.SentAt != nil {
		t.SentAt = f.SentAt
	}
	if to != domain.TaskProcessing {
		delete(s.claimedAt, taskID)
	}
	return true, nil
}

func (s *QueueStore) CancelQueued(_ context.Context, campaignID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, t := range s.tasks {
		if t.CampaignID == campaignID && t.Status == domain.TaskQueued {
			t.Status = domain.TaskCancelled
			n++
		}
	}
	return n, nil
}

func (s *QueueStore) CountByStatus(_ context.Context, campaignID string) (campaign.TaskCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c campaign.TaskCounts
	for _, t := range s.tasks {
		if t.CampaignID != campaignID {
			continue
		}
		switch t.Status {
		case domain.TaskQueued:
			c.Queued++
		case domain.TaskProcessing:
			c.Processing++
		case domain.TaskSent:
			c.Sent++
		case domain.TaskFailed:
			c.Failed++
		case domain.TaskCancelled:
			c.Cancelled++
		}
	}
	return c, nil
}

func (s *QueueStore) ReclaimStale(_ context.Context, olderThan time.Duration, maxRetries int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	n := 0
	for id, t := range s.tasks {
		if t.Status != domain.TaskProcessing {
			continue
		}
		at, ok := s.claimedAt[id]
		if !ok || at.After(cutoff) {
			continue
		}
		if t.RetryCount >= maxRetries {
			t.Status = domain.TaskFailed
			t.ErrorMessage = "reclaimed after worker crash: retry limit reached"
		} else {
			t.Status = domain.TaskQueued
			t.ScheduledFor = time.Now()
		}
		delete(s.claimedAt, id)
		n++
	}
	return n, nil
}

// Task returns a copy of a task by id. Test helper.
func (s *QueueStore) Task(id string) (domain.QueueTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.QueueTask{}, false
	}
	return *t, true
}

// TasksForCampaign returns copies of all tasks belonging to a campaign,
// ordered by creation time. Test helper.
func (s *QueueStore) TasksForCampaign(campaignID string) []domain.QueueTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.QueueTask
	for _, t := range s.tasks {
		if t.CampaignID == campaignID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// MarkClaimedAt backdates a processing task's claim time. Test helper for
// the stale-reclaim path.
func (s *QueueStore) MarkClaimedAt(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claimedAt[id] = at
}
