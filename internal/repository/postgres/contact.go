package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tavari/mail-engine/internal/domain"
)

// ContactRepo implements campaign.ContactRepository against PostgreSQL.
type ContactRepo struct{ db *sql.DB }

// NewContactRepo creates a Postgres-backed contact repository.
func NewContactRepo(db *sql.DB) *ContactRepo { return &ContactRepo{db: db} }

func (r *ContactRepo) ListSendable(ctx context.Context, orgID string) ([]domain.Contact, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, organization_id, email, status, created_at
		FROM mailing_contacts
		WHERE organization_id = $1 AND status = 'active'
		ORDER BY created_at ASC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list sendable contacts: %w", err)
	}
	defer rows.Close()

	var out []domain.Contact
	for rows.Next() {
		var c domain.Contact
		if err := rows.Scan(&c.ID, &c.OrganizationID, &c.Email, &c.Status, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *ContactRepo) MarkBounced(ctx context.Context, email string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE mailing_contacts
		SET status = 'bounced'
		WHERE LOWER(email) = LOWER($1) AND status = 'active'
	`, email)
	if err != nil {
		return fmt.Errorf("mark contact bounced: %w", err)
	}
	return nil
}

func (r *ContactRepo) RecordBounce(ctx context.Context, ev domain.BounceEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mailing_bounce_events (id, email, type, reason, esp_type, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ev.ID, ev.Email, ev.Type, ev.Reason, ev.ESPType, ev.ReceivedAt)
	if err != nil {
		return fmt.Errorf("record bounce event: %w", err)
	}
	return nil
}
