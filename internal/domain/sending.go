package domain

import "time"

// ESPType identifies the email service provider used for sending.
type ESPType string

const (
	ESPSES     ESPType = "ses"
	ESPMailgun ESPType = "mailgun"
)

// EmailMessage is the fully-resolved message handed to an ESP sender.
// By the time a message reaches this struct, all rendering, personalization,
// and compliance-footer injection is already complete.
type EmailMessage struct {
	TaskID      string            `json:"task_id"`
	CampaignID  string            `json:"campaign_id"`
	ContactID   string            `json:"contact_id"`
	Email       string            `json:"email"`
	FromName    string            `json:"from_name"`
	FromEmail   string            `json:"from_email"`
	ReplyTo     string            `json:"reply_to"`
	Subject     string            `json:"subject"`
	HTMLContent string            `json:"html_content"`
	TextContent string            `json:"text_content"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// SendResult is returned by an ESP sender after attempting delivery.
type SendResult struct {
	Success   bool      `json:"success"`
	MessageID string    `json:"message_id"`
	ESPType   ESPType   `json:"esp_type"`
	SentAt    time.Time `json:"sent_at"`
	Error     string    `json:"error,omitempty"`
}
