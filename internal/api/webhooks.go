package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tavari/mail-engine/internal/domain"
	"github.com/tavari/mail-engine/internal/pkg/logger"
)

const maxWebhookBody = 5 * 1024 * 1024

// sesNotification is the SNS envelope SES delivers bounce notifications in.
type sesNotification struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

type sesMessage struct {
	NotificationType string `json:"notificationType"`
	Bounce           struct {
		BounceType        string `json:"bounceType"`
		BouncedRecipients []struct {
			EmailAddress   string `json:"emailAddress"`
			DiagnosticCode string `json:"diagnosticCode"`
		} `json:"bouncedRecipients"`
	} `json:"bounce"`
}

// SESWebhook ingests SES bounce notifications (SNS envelope). Permanent
// bounces are hard, everything else soft. Webhooks always return 200 once the
// payload parses; the ESP retries on non-2xx and a malformed event will never
// get better.
// POST /webhooks/ses
func (h *Handlers) SESWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)

	var n sesNotification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if n.Type != "Notification" {
		// Subscription confirmations and unknown envelope types are ignored.
		w.WriteHeader(http.StatusOK)
		return
	}

	var msg sesMessage
	if err := json.Unmarshal([]byte(n.Message), &msg); err != nil {
		respondError(w, http.StatusBadRequest, "invalid notification message")
		return
	}
	if msg.NotificationType != "Bounce" {
		w.WriteHeader(http.StatusOK)
		return
	}

	bounceType := domain.BounceSoft
	if msg.Bounce.BounceType == "Permanent" {
		bounceType = domain.BounceHard
	}
	for _, rcpt := range msg.Bounce.BouncedRecipients {
		if rcpt.EmailAddress == "" {
			continue
		}
		ev := domain.BounceEvent{
			Email:   strings.ToLower(rcpt.EmailAddress),
			Type:    bounceType,
			Reason:  rcpt.DiagnosticCode,
			ESPType: string(domain.ESPSES),
		}
		if err := h.campaigns.HandleBounce(r.Context(), ev); err != nil {
			logger.Error("ses bounce not recorded", "email", ev.Email, "error", err)
		}
	}

	w.WriteHeader(http.StatusOK)
}

type mailgunEvent struct {
	EventData struct {
		Event        string `json:"event"`
		Recipient    string `json:"recipient"`
		Severity     string `json:"severity"`
		DeliveryInfo struct {
			Message string `json:"message"`
		} `json:"delivery-status"`
	} `json:"event-data"`
}

// MailgunWebhook ingests Mailgun failure events. Severity "permanent" maps to
// a hard bounce, "temporary" to soft.
// POST /webhooks/mailgun
func (h *Handlers) MailgunWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)

	var ev mailgunEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if ev.EventData.Event != "failed" || ev.EventData.Recipient == "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	bounceType := domain.BounceSoft
	if ev.EventData.Severity == "permanent" {
		bounceType = domain.BounceHard
	}
	bounce := domain.BounceEvent{
		Email:   strings.ToLower(ev.EventData.Recipient),
		Type:    bounceType,
		Reason:  ev.EventData.DeliveryInfo.Message,
		ESPType: string(domain.ESPMailgun),
	}
	if err := h.campaigns.HandleBounce(r.Context(), bounce); err != nil {
		logger.Error("mailgun bounce not recorded", "email", bounce.Email, "error", err)
	}

	w.WriteHeader(http.StatusOK)
}
