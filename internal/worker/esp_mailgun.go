package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tavari/mail-engine/internal/domain"
	"github.com/tavari/mail-engine/internal/pkg/logger"
)

// MailgunSender sends emails via the Mailgun Messages API.
type MailgunSender struct {
	apiKey  string
	domain  string
	baseURL string
	client  *http.Client
}

// NewMailgunSender creates a Mailgun sender targeting the given domain.
func NewMailgunSender(apiKey, domain string) *MailgunSender {
	return &MailgunSender{
		apiKey:  apiKey,
		domain:  domain,
		baseURL: "https://api.mailgun.net/v3",
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// Send delivers a single email through Mailgun. 4xx responses other than
// 429 are permanent (the request itself is bad); 429 and 5xx surface as
// transient so the dispatcher retries with backoff.
func (s *MailgunSender) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("mailgun API key not configured")
	}

	form := url.Values{}
	form.Add("from", fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail))
	form.Add("to", msg.Email)
	form.Add("subject", msg.Subject)
	form.Add("html", msg.HTMLContent)
	if msg.TextContent != "" {
		form.Add("text", msg.TextContent)
	}
	if msg.ReplyTo != "" {
		form.Add("h:Reply-To", msg.ReplyTo)
	}
	form.Add("v:campaign_id", msg.CampaignID)
	form.Add("v:task_id", msg.TaskID)

	endpoint := fmt.Sprintf("%s/%s/messages", s.baseURL, s.domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("api", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode >= 400 {
		logger.Warn("mailgun send failed", "email", msg.Email,
			"status", resp.StatusCode, "body", string(body))
		cause := fmt.Errorf("mailgun error %d: %s", resp.StatusCode, string(body))
		if retryableStatus(resp.StatusCode) {
			return nil, cause
		}
		return nil, Permanent(fmt.Sprintf("http_%d", resp.StatusCode), cause)
	}

	var parsed struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		// Accepted but unparseable body; keep the send as a success.
		logger.Warn("mailgun response parse failed", "error", err)
	}

	return &domain.SendResult{
		Success:   true,
		MessageID: strings.Trim(parsed.ID, "<>"),
		ESPType:   domain.ESPMailgun,
		SentAt:    time.Now(),
	}, nil
}

// SetBaseURL overrides the API endpoint. Used by tests.
func (s *MailgunSender) SetBaseURL(u string) { s.baseURL = u }
