package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/tavari/mail-engine/internal/domain"
)

// ContactRepo is an in-memory campaign.ContactRepository.
type ContactRepo struct {
	mu       sync.Mutex
	contacts map[string]*domain.Contact // keyed by id
	bounces  []domain.BounceEvent
}

// NewContactRepo creates an empty in-memory contact repository.
func NewContactRepo() *ContactRepo {
	return &ContactRepo{contacts: make(map[string]*domain.Contact)}
}

// Put inserts or replaces a contact. Test setup helper.
func (r *ContactRepo) Put(c *domain.Contact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.contacts[cp.ID] = &cp
}

func (r *ContactRepo) ListSendable(_ context.Context, orgID string) ([]domain.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Contact
	for _, c := range r.contacts {
		if c.OrganizationID == orgID && c.Sendable() {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *ContactRepo) MarkBounced(_ context.Context, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.contacts {
		if c.Email == email {
			c.Status = domain.ContactBounced
		}
	}
	return nil
}

func (r *ContactRepo) RecordBounce(_ context.Context, ev domain.BounceEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bounces = append(r.bounces, ev)
	return nil
}

// Bounces returns recorded bounce events. Test helper.
func (r *ContactRepo) Bounces() []domain.BounceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.BounceEvent, len(r.bounces))
	copy(out, r.bounces)
	return out
}

// Contact returns a copy of a contact by id. Test helper.
func (r *ContactRepo) Contact(id string) (domain.Contact, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[id]
	if !ok {
		return domain.Contact{}, false
	}
	return *c, true
}
