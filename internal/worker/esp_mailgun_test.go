package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tavari/mail-engine/internal/domain"
)

func testMessage() *domain.EmailMessage {
	return &domain.EmailMessage{
		TaskID:      "task-1",
		CampaignID:  "camp-1",
		ContactID:   "contact-1",
		Email:       "user@example.com",
		FromName:    "Tavari",
		FromEmail:   "news@tavari.example",
		Subject:     "Hello",
		HTMLContent: "<p>hi</p>",
	}
}

func TestMailgunSendSuccess(t *testing.T) {
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = map[string]string{
			"to":            r.PostFormValue("to"),
			"from":          r.PostFormValue("from"),
			"v:campaign_id": r.PostFormValue("v:campaign_id"),
			"v:task_id":     r.PostFormValue("v:task_id"),
		}
		user, _, _ := r.BasicAuth()
		assert.Equal(t, "api", user)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"<20260301.1@mg.tavari.example>","message":"Queued."}`))
	}))
	defer srv.Close()

	s := NewMailgunSender("key-test", "mg.tavari.example")
	s.SetBaseURL(srv.URL)

	res, err := s.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "20260301.1@mg.tavari.example", res.MessageID)
	assert.Equal(t, domain.ESPMailgun, res.ESPType)

	assert.Equal(t, "user@example.com", gotForm["to"])
	assert.Equal(t, "Tavari <news@tavari.example>", gotForm["from"])
	assert.Equal(t, "camp-1", gotForm["v:campaign_id"])
	assert.Equal(t, "task-1", gotForm["v:task_id"])
}

func TestMailgunSendBadRequestIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"to parameter is not a valid address"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewMailgunSender("key-test", "mg.tavari.example")
	s.SetBaseURL(srv.URL)

	_, err := s.Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestMailgunSendThrottleIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewMailgunSender("key-test", "mg.tavari.example")
	s.SetBaseURL(srv.URL)

	_, err := s.Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

func TestMailgunSendServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewMailgunSender("key-test", "mg.tavari.example")
	s.SetBaseURL(srv.URL)

	_, err := s.Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

func TestIsPermanentUnwrapsChain(t *testing.T) {
	base := Permanent("message_rejected", assert.AnError)
	wrapped := &wrapErr{base}
	assert.True(t, IsPermanent(wrapped))
	assert.False(t, IsPermanent(assert.AnError))
}

type wrapErr struct{ err error }

func (w *wrapErr) Error() string { return "wrapped: " + w.err.Error() }
func (w *wrapErr) Unwrap() error { return w.err }
