// Package memory provides in-memory repository implementations.
//
// They mirror the Postgres implementations' semantics (conditional updates,
// claim ordering, all-or-nothing expansion) closely enough to back service
// and dispatcher tests without a database.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tavari/mail-engine/internal/domain"
	"github.com/tavari/mail-engine/internal/service/campaign"
)

// CampaignRepo is an in-memory campaign.Repository.
type CampaignRepo struct {
	mu        sync.Mutex
	campaigns map[string]*domain.Campaign
}

// NewCampaignRepo creates an empty in-memory campaign repository.
func NewCampaignRepo() *CampaignRepo {
	return &CampaignRepo{campaigns: make(map[string]*domain.Campaign)}
}

// Put inserts or replaces a campaign. Test setup helper.
func (r *CampaignRepo) Put(c *domain.Campaign) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.campaigns[cp.ID] = &cp
}

func (r *CampaignRepo) Get(_ context.Context, id string) (*domain.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *CampaignRepo) UpdateStatus(_ context.Context, id string, from, to domain.CampaignStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return false, campaign.ErrNotFound
	}
	if c.Status != from {
		return false, nil
	}
	c.Status = to
	c.UpdatedAt = time.Now()
	return true, nil
}

func (r *CampaignRepo) IncrementSent(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	c.EmailsSent++
	c.UpdatedAt = time.Now()
	return nil
}

func (r *CampaignRepo) SyncSentCount(_ context.Context, id string, sent int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	c.EmailsSent = sent
	c.UpdatedAt = time.Now()
	return nil
}

// beginExpand is used by the queue store to apply the campaign side of an
// expansion atomically with the task inserts.
func (r *CampaignRepo) beginExpand(id string, total int, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.Status != domain.CampaignDraft {
		return false
	}
	c.Status = domain.CampaignSending
	c.TotalRecipients = total
	c.SentAt = &now
	c.UpdatedAt = now
	return true
}
