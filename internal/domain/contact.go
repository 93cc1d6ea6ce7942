package domain

import "time"

// ContactStatus enumerates a contact's sendability.
type ContactStatus string

const (
	ContactActive       ContactStatus = "active"
	ContactUnsubscribed ContactStatus = "unsubscribed"
	ContactBounced      ContactStatus = "bounced"
)

// Contact is the minimal recipient record the engine needs: enough to expand
// a campaign and to honor bounce-driven unsubscribes. Full contact CRUD lives
// in the surrounding application.
type Contact struct {
	ID             string        `json:"id" db:"id"`
	OrganizationID string        `json:"organization_id" db:"organization_id"`
	Email          string        `json:"email" db:"email"`
	Status         ContactStatus `json:"status" db:"status"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
}

// Sendable reports whether the contact may receive campaign mail.
func (c *Contact) Sendable() bool { return c.Status == ContactActive }

// BounceType classifies a provider bounce notification.
type BounceType string

const (
	BounceHard BounceType = "hard"
	BounceSoft BounceType = "soft"
)

// BounceEvent records one bounce notification from an ESP webhook.
type BounceEvent struct {
	ID         string     `json:"id" db:"id"`
	Email      string     `json:"email" db:"email"`
	Type       BounceType `json:"type" db:"type"`
	Reason     string     `json:"reason" db:"reason"`
	ESPType    string     `json:"esp_type" db:"esp_type"`
	ReceivedAt time.Time  `json:"received_at" db:"received_at"`
}
