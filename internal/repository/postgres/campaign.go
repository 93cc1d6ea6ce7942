// Package postgres implements the campaign, queue, and contact repositories
// against PostgreSQL. All single-task mutations are conditional updates so
// concurrent dispatcher instances cannot both win the same transition.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tavari/mail-engine/internal/domain"
	"github.com/tavari/mail-engine/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

func (r *CampaignRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, subject, from_name, from_email,
		       COALESCE(reply_to,''), COALESCE(html_content,''), COALESCE(plain_content,''),
		       status, total_recipients, emails_sent, created_at, updated_at, sent_at
		FROM mailing_campaigns
		WHERE id = $1
	`, id).Scan(
		&c.ID, &c.OrganizationID, &c.Name, &c.Subject, &c.FromName, &c.FromEmail,
		&c.ReplyTo, &c.HTMLContent, &c.PlainContent,
		&c.Status, &c.TotalRecipients, &c.EmailsSent, &c.CreatedAt, &c.UpdatedAt, &c.SentAt,
	)
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

// UpdateStatus is a compare-and-swap on the status column. A zero row count
// means the campaign was not in the expected state; the caller decides
// whether that matters.
func (r *CampaignRepo) UpdateStatus(ctx context.Context, id string, from, to domain.CampaignStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE mailing_campaigns
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("update campaign status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update campaign status: %w", err)
	}
	return n > 0, nil
}

// IncrementSent bumps emails_sent by one, clamped to total_recipients so the
// counter can never overrun the frozen recipient count.
func (r *CampaignRepo) IncrementSent(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE mailing_campaigns
		SET emails_sent = LEAST(emails_sent + 1, total_recipients), updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("increment emails_sent: %w", err)
	}
	return nil
}

func (r *CampaignRepo) SyncSentCount(ctx context.Context, id string, sent int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE mailing_campaigns
		SET emails_sent = $2, updated_at = NOW()
		WHERE id = $1
	`, id, sent)
	if err != nil {
		return fmt.Errorf("sync emails_sent: %w", err)
	}
	return nil
}
