package domain

import (
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft   CampaignStatus = "draft"
	CampaignSending CampaignStatus = "sending"
	CampaignSent    CampaignStatus = "sent"
	CampaignStopped CampaignStatus = "stopped"
	CampaignFailed  CampaignStatus = "failed"
)

// Campaign represents one marketing send job with its content and delivery
// counters. Content arrives fully rendered (compliance footer included) from
// the authoring side; the engine never manipulates it.
type Campaign struct {
	ID             string         `json:"id" db:"id"`
	OrganizationID string         `json:"organization_id" db:"organization_id"`
	Name           string         `json:"name" db:"name"`
	Subject        string         `json:"subject" db:"subject"`
	FromName       string         `json:"from_name" db:"from_name"`
	FromEmail      string         `json:"from_email" db:"from_email"`
	ReplyTo        string         `json:"reply_to" db:"reply_to"`
	HTMLContent    string         `json:"html_content" db:"html_content"`
	PlainContent   string         `json:"plain_content" db:"plain_content"`
	Status         CampaignStatus `json:"status" db:"status"`

	// Counters. TotalRecipients is frozen when the campaign expands into
	// queue tasks; EmailsSent never exceeds it and never decrements.
	TotalRecipients int `json:"total_recipients" db:"total_recipients"`
	EmailsSent      int `json:"emails_sent" db:"emails_sent"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	SentAt    *time.Time `json:"sent_at" db:"sent_at"`
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignSent || c.Status == CampaignStopped || c.Status == CampaignFailed
}

// Progress is the operator-facing view of a campaign's delivery state.
// Pending covers tasks still queued or claimed by a dispatcher.
type Progress struct {
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Pending   int `json:"pending"`
	Total     int `json:"total"`
}
