package campaign_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tavari/mail-engine/internal/domain"
	"github.com/tavari/mail-engine/internal/repository/memory"
	"github.com/tavari/mail-engine/internal/service/campaign"
)

type fixture struct {
	repo     *memory.CampaignRepo
	store    *memory.QueueStore
	contacts *memory.ContactRepo
	svc      *campaign.Service
}

func newFixture(recipients int) *fixture {
	f := &fixture{
		repo:     memory.NewCampaignRepo(),
		contacts: memory.NewContactRepo(),
	}
	f.store = memory.NewQueueStore(f.repo)
	f.svc = campaign.NewService(f.repo, f.store, f.contacts)

	f.repo.Put(&domain.Campaign{
		ID:             "camp-1",
		OrganizationID: "org-1",
		Name:           "Spring promo",
		Subject:        "Spring savings inside",
		FromEmail:      "promo@tavari.example",
		Status:         domain.CampaignDraft,
	})
	for i := 0; i < recipients; i++ {
		f.contacts.Put(&domain.Contact{
			ID:             fmt.Sprintf("contact-%d", i),
			OrganizationID: "org-1",
			Email:          fmt.Sprintf("user%d@example.com", i),
			Status:         domain.ContactActive,
		})
	}
	return f
}

func TestQueueExpandsDraftCampaign(t *testing.T) {
	f := newFixture(3)
	ctx := context.Background()

	total, err := f.svc.Queue(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	c, err := f.repo.Get(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignSending, c.Status)
	assert.Equal(t, 3, c.TotalRecipients)
	require.NotNil(t, c.SentAt)

	tasks := f.store.TasksForCampaign("camp-1")
	require.Len(t, tasks, 3)
	for _, task := range tasks {
		assert.Equal(t, domain.TaskQueued, task.Status)
		assert.Equal(t, campaign.DefaultPriority, task.Priority)
		assert.NotEmpty(t, task.Email)
	}
}

func TestQueueSkipsNonSendableContacts(t *testing.T) {
	f := newFixture(2)
	f.contacts.Put(&domain.Contact{
		ID: "contact-bounced", OrganizationID: "org-1",
		Email: "gone@example.com", Status: domain.ContactBounced,
	})
	f.contacts.Put(&domain.Contact{
		ID: "contact-unsub", OrganizationID: "org-1",
		Email: "left@example.com", Status: domain.ContactUnsubscribed,
	})

	total, err := f.svc.Queue(context.Background(), "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestQueueRejectsNonDraftCampaign(t *testing.T) {
	f := newFixture(1)
	ctx := context.Background()

	_, err := f.svc.Queue(ctx, "camp-1")
	require.NoError(t, err)

	_, err = f.svc.Queue(ctx, "camp-1")
	assert.ErrorIs(t, err, campaign.ErrAlreadySending)
}

func TestQueueWithNoRecipientsFailsCampaign(t *testing.T) {
	f := newFixture(0)
	ctx := context.Background()

	_, err := f.svc.Queue(ctx, "camp-1")
	assert.ErrorIs(t, err, campaign.ErrNoRecipients)

	c, err := f.repo.Get(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignFailed, c.Status)
}

func TestQueueExpansionFailureLeavesDraft(t *testing.T) {
	f := newFixture(2)
	f.store.FailEnqueue = true
	ctx := context.Background()

	_, err := f.svc.Queue(ctx, "camp-1")
	require.Error(t, err)

	// All-or-nothing: the campaign is still draft and retryable,
	// with no stray tasks.
	c, err := f.repo.Get(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignDraft, c.Status)
	assert.Empty(t, f.store.TasksForCampaign("camp-1"))

	f.store.FailEnqueue = false
	total, err := f.svc.Queue(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestStopCancelsQueuedButNotProcessing(t *testing.T) {
	f := newFixture(3)
	ctx := context.Background()

	_, err := f.svc.Queue(ctx, "camp-1")
	require.NoError(t, err)

	// One task is mid-flight when the operator stops the campaign.
	claimed, err := f.store.ClaimBatch(ctx, 1, time.Now())
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, f.svc.Stop(ctx, "camp-1"))

	c, err := f.repo.Get(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignStopped, c.Status)

	var queued, cancelled, processing int
	for _, task := range f.store.TasksForCampaign("camp-1") {
		switch task.Status {
		case domain.TaskQueued:
			queued++
		case domain.TaskCancelled:
			cancelled++
		case domain.TaskProcessing:
			processing++
		}
	}
	assert.Equal(t, 0, queued)
	assert.Equal(t, 2, cancelled)
	assert.Equal(t, 1, processing, "in-flight tasks finish on their own")

	// The in-flight send completes and records its real outcome.
	now := time.Now()
	msgID := "msg-1"
	ok, err := f.store.Transition(ctx, claimed[0].ID, domain.TaskProcessing, domain.TaskSent,
		campaign.TransitionFields{MessageID: &msgID, SentAt: &now})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStopRequiresSendingCampaign(t *testing.T) {
	f := newFixture(1)
	err := f.svc.Stop(context.Background(), "camp-1")
	assert.ErrorIs(t, err, campaign.ErrInvalidTransition)
}

func TestRecomputeFinalizesAndIsIdempotent(t *testing.T) {
	f := newFixture(2)
	ctx := context.Background()

	_, err := f.svc.Queue(ctx, "camp-1")
	require.NoError(t, err)

	claimed, err := f.store.ClaimBatch(ctx, 10, time.Now())
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	now := time.Now()
	msgID := "msg-1"
	_, err = f.store.Transition(ctx, claimed[0].ID, domain.TaskProcessing, domain.TaskSent,
		campaign.TransitionFields{MessageID: &msgID, SentAt: &now})
	require.NoError(t, err)
	errMsg := "mailbox unavailable"
	_, err = f.store.Transition(ctx, claimed[1].ID, domain.TaskProcessing, domain.TaskFailed,
		campaign.TransitionFields{ErrorMessage: &errMsg})
	require.NoError(t, err)

	require.NoError(t, f.svc.Recompute(ctx, "camp-1"))

	c, err := f.repo.Get(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignSent, c.Status, "one delivery is enough for sent")
	assert.Equal(t, 1, c.EmailsSent)

	// Second recompute with no task changes is a no-op.
	require.NoError(t, f.svc.Recompute(ctx, "camp-1"))
	c2, err := f.repo.Get(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, c.Status, c2.Status)
	assert.Equal(t, c.EmailsSent, c2.EmailsSent)
}

func TestRecomputePreservesStoppedStatus(t *testing.T) {
	f := newFixture(2)
	ctx := context.Background()

	_, err := f.svc.Queue(ctx, "camp-1")
	require.NoError(t, err)
	require.NoError(t, f.svc.Stop(ctx, "camp-1"))

	require.NoError(t, f.svc.Recompute(ctx, "camp-1"))

	c, err := f.repo.Get(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignStopped, c.Status)
}

func TestProgressCountsFromTaskState(t *testing.T) {
	f := newFixture(3)
	ctx := context.Background()

	_, err := f.svc.Queue(ctx, "camp-1")
	require.NoError(t, err)

	claimed, err := f.store.ClaimBatch(ctx, 1, time.Now())
	require.NoError(t, err)
	now := time.Now()
	msgID := "msg-1"
	_, err = f.store.Transition(ctx, claimed[0].ID, domain.TaskProcessing, domain.TaskSent,
		campaign.TransitionFields{MessageID: &msgID, SentAt: &now})
	require.NoError(t, err)

	p, err := f.svc.Progress(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Sent)
	assert.Equal(t, 0, p.Failed)
	assert.Equal(t, 2, p.Pending)
	assert.Equal(t, 3, p.Total)
}

func TestHandleBounceHardUnsubscribesContact(t *testing.T) {
	f := newFixture(1)
	ctx := context.Background()

	err := f.svc.HandleBounce(ctx, domain.BounceEvent{
		Email:   "user0@example.com",
		Type:    domain.BounceHard,
		Reason:  "550 user unknown",
		ESPType: "ses",
	})
	require.NoError(t, err)

	c, ok := f.contacts.Contact("contact-0")
	require.True(t, ok)
	assert.Equal(t, domain.ContactBounced, c.Status)

	events := f.contacts.Bounces()
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].ReceivedAt.IsZero())
}

func TestHandleBounceSoftKeepsContactActive(t *testing.T) {
	f := newFixture(1)
	ctx := context.Background()

	err := f.svc.HandleBounce(ctx, domain.BounceEvent{
		Email:  "user0@example.com",
		Type:   domain.BounceSoft,
		Reason: "mailbox full",
	})
	require.NoError(t, err)

	c, ok := f.contacts.Contact("contact-0")
	require.True(t, ok)
	assert.Equal(t, domain.ContactActive, c.Status)
	assert.Len(t, f.contacts.Bounces(), 1)
}
