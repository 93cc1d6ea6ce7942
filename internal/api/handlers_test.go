package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tavari/mail-engine/internal/domain"
	"github.com/tavari/mail-engine/internal/repository/memory"
	"github.com/tavari/mail-engine/internal/service/campaign"
)

type apiFixture struct {
	repo     *memory.CampaignRepo
	store    *memory.QueueStore
	contacts *memory.ContactRepo
	handler  http.Handler
	campID   string
}

func newAPIFixture(t *testing.T, recipients int) *apiFixture {
	t.Helper()

	f := &apiFixture{
		repo:     memory.NewCampaignRepo(),
		contacts: memory.NewContactRepo(),
		campID:   uuid.New().String(),
	}
	f.store = memory.NewQueueStore(f.repo)
	svc := campaign.NewService(f.repo, f.store, f.contacts)
	f.handler = SetupRoutes(NewHandlers(svc, nil))

	f.repo.Put(&domain.Campaign{
		ID:             f.campID,
		OrganizationID: "org-1",
		Name:           "Launch",
		Subject:        "Hello",
		FromEmail:      "news@tavari.example",
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

func (f *apiFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *strings.Reader
	if body == "" {
		rdr = strings.NewReader("")
	} else {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestQueueCampaignEndpoint(t *testing.T) {
	f := newAPIFixture(t, 2)

	rec := f.do(t, http.MethodPost, "/api/campaigns/"+f.campID+"/queue", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sending", resp["status"])
	assert.Equal(t, float64(2), resp["queued"])

	// Repeating the call conflicts: the campaign already left draft.
	rec = f.do(t, http.MethodPost, "/api/campaigns/"+f.campID+"/queue", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestQueueCampaignNotFound(t *testing.T) {
	f := newAPIFixture(t, 1)
	rec := f.do(t, http.MethodPost, "/api/campaigns/"+uuid.New().String()+"/queue", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueueCampaignInvalidID(t *testing.T) {
	f := newAPIFixture(t, 1)
	rec := f.do(t, http.MethodPost, "/api/campaigns/not-a-uuid/queue", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueueCampaignNoRecipients(t *testing.T) {
	f := newAPIFixture(t, 0)
	rec := f.do(t, http.MethodPost, "/api/campaigns/"+f.campID+"/queue", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestStopCampaignEndpoint(t *testing.T) {
	f := newAPIFixture(t, 2)

	rec := f.do(t, http.MethodPost, "/api/campaigns/"+f.campID+"/queue", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/campaigns/"+f.campID+"/stop", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Stopping a stopped campaign conflicts.
	rec = f.do(t, http.MethodPost, "/api/campaigns/"+f.campID+"/stop", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCampaignProgressEndpoint(t *testing.T) {
	f := newAPIFixture(t, 3)

	rec := f.do(t, http.MethodPost, "/api/campaigns/"+f.campID+"/queue", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/campaigns/"+f.campID+"/progress", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status   string          `json:"status"`
		Progress domain.Progress `json:"progress"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sending", resp.Status)
	assert.Equal(t, 3, resp.Progress.Total)
	assert.Equal(t, 3, resp.Progress.Pending)
	assert.Equal(t, 0, resp.Progress.Sent)
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t, 0)
	rec := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
}

func TestSESWebhookHardBounce(t *testing.T) {
	f := newAPIFixture(t, 1)

	inner, _ := json.Marshal(map[string]interface{}{
		"notificationType": "Bounce",
		"bounce": map[string]interface{}{
			"bounceType": "Permanent",
			"bouncedRecipients": []map[string]string{
				{"emailAddress": "user0@example.com", "diagnosticCode": "550 user unknown"},
			},
		},
	})
	payload, _ := json.Marshal(map[string]string{
		"Type":    "Notification",
		"Message": string(inner),
	})

	rec := f.do(t, http.MethodPost, "/webhooks/ses", string(payload))
	require.Equal(t, http.StatusOK, rec.Code)

	c, ok := f.contacts.Contact("contact-0")
	require.True(t, ok)
	assert.Equal(t, domain.ContactBounced, c.Status)

	events := f.contacts.Bounces()
	require.Len(t, events, 1)
	assert.Equal(t, domain.BounceHard, events[0].Type)
	assert.Equal(t, "ses", events[0].ESPType)
}

func TestSESWebhookIgnoresSubscriptionConfirmation(t *testing.T) {
	f := newAPIFixture(t, 1)

	payload := `{"Type":"SubscriptionConfirmation","Message":""}`
	rec := f.do(t, http.MethodPost, "/webhooks/ses", payload)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.contacts.Bounces())
}

func TestMailgunWebhookSoftBounce(t *testing.T) {
	f := newAPIFixture(t, 1)

	payload := `{
		"event-data": {
			"event": "failed",
			"recipient": "user0@example.com",
			"severity": "temporary",
			"delivery-status": {"message": "mailbox full"}
		}
	}`
	rec := f.do(t, http.MethodPost, "/webhooks/mailgun", payload)
	require.Equal(t, http.StatusOK, rec.Code)

	// Soft bounce: recorded but the contact stays active.
	c, ok := f.contacts.Contact("contact-0")
	require.True(t, ok)
	assert.Equal(t, domain.ContactActive, c.Status)

	events := f.contacts.Bounces()
	require.Len(t, events, 1)
	assert.Equal(t, domain.BounceSoft, events[0].Type)
}
