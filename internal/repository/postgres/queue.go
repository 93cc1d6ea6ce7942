package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/tavari/mail-engine/internal/domain"
	"github.com/tavari/mail-engine/internal/service/campaign"
)

// QueueStore implements campaign.QueueStore against PostgreSQL.
//
// Claim safety comes from FOR UPDATE SKIP LOCKED inside a single updating
// CTE; transition safety comes from status-guarded updates. No in-process
// state participates in correctness, so any number of dispatcher instances
// can run against the same database.
type QueueStore struct{ db *sql.DB }

// NewQueueStore creates a Postgres-backed queue store.
func NewQueueStore(db *sql.DB) *QueueStore { return &QueueStore{db: db} }

// EnqueueCampaign expands a campaign inside one transaction: the campaign row
// is CAS-moved draft→sending with its recipient count frozen, then all tasks
// are bulk-inserted with COPY. Either everything lands or nothing does.
func (s *QueueStore) EnqueueCampaign(ctx context.Context, campaignID string, tasks []domain.QueueTask) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin expansion: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE mailing_campaigns
		SET status = 'sending', total_recipients = $2, sent_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'draft'
	`, campaignID, len(tasks))
	if err != nil {
		return fmt.Errorf("transition campaign to sending: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return campaign.ErrAlreadySending
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("mailing_queue_tasks",
		"id", "campaign_id", "contact_id", "email", "status",
		"priority", "retry_count", "scheduled_for", "created_at"))
	if err != nil {
		return fmt.Errorf("prepare task copy: %w", err)
	}
	for _, t := range tasks {
		if _, err := stmt.ExecContext(ctx, t.ID, t.CampaignID, t.ContactID, t.Email,
			string(domain.TaskQueued), t.Priority, 0, t.ScheduledFor, t.CreatedAt); err != nil {
			stmt.Close()
			return fmt.Errorf("copy task: %w", err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("flush task copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("close task copy: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit expansion: %w", err)
	}
	return nil
}

// ClaimBatch atomically claims up to limit eligible tasks. The claim and the
// queued→processing transition are one statement, so two dispatch cycles can
// never claim the same task.
func (s *QueueStore) ClaimBatch(ctx context.Context, limit int, now time.Time) ([]domain.QueueTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH claimed AS (
			UPDATE mailing_queue_tasks
			SET status = 'processing', claimed_at = NOW()
			WHERE id IN (
				SELECT t.id FROM mailing_queue_tasks t
				WHERE t.status = 'queued'
				  AND t.scheduled_for <= $1
				ORDER BY t.priority ASC, t.created_at ASC
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			)
			RETURNING id, campaign_id, contact_id, email, status,
			          priority, retry_count, scheduled_for,
			          COALESCE(error_message,''), COALESCE(message_id,''),
			          sent_at, created_at
		)
		SELECT * FROM claimed
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	defer rows.Close()

	var tasks []domain.QueueTask
	for rows.Next() {
		var t domain.QueueTask
		if err := rows.Scan(
			&t.ID, &t.CampaignID, &t.ContactID, &t.Email, &t.Status,
			&t.Priority, &t.RetryCount, &t.ScheduledFor,
			&t.ErrorMessage, &t.MessageID, &t.SentAt, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan claimed task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Transition performs a status-guarded update. RowsAffected==0 reports a CAS
// miss (false, nil): the task was already moved by someone else and the
// caller must discard its own result.
func (s *QueueStore) Transition(ctx context.Context, taskID string, from, to domain.TaskStatus, f campaign.TransitionFields) (bool, error) {
	set := []string{"status = $3"}
	args := []interface{}{taskID, from, to}
	idx := 4

	if f.RetryCount != nil {
		set = append(set, fmt.Sprintf("retry_count = $%d", idx))
		args = append(args, *f.RetryCount)
		idx++
	}
	if f.ScheduledFor != nil {
		set = append(set, fmt.Sprintf("scheduled_for = $%d", idx))
		args = append(args, *f.ScheduledFor)
		idx++
	}
	if f.ErrorMessage != nil {
		msg := *f.ErrorMessage
		if len(msg) > 1024 {
			msg = msg[:1024]
		}
		set = append(set, fmt.Sprintf("error_message = $%d", idx))
		args = append(args, msg)
		idx++
	}
	if f.MessageID != nil {
		set = append(set, fmt.Sprintf("message_id = $%d", idx))
		args = append(args, *f.MessageID)
		idx++
	}
	if f.SentAt != nil {
		set = append(set, fmt.Sprintf("sent_at = $%d", idx))
		args = append(args, *f.SentAt)
		idx++
	}
	if to != domain.TaskProcessing {
		set = append(set, "claimed_at = NULL")
	}

	q := fmt.Sprintf(`
		UPDATE mailing_queue_tasks
		SET %s
		WHERE id = $1 AND status = $2
	`, strings.Join(set, ", "))

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("transition task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition task: %w", err)
	}
	return n > 0, nil
}

func (s *QueueStore) CancelQueued(ctx context.Context, campaignID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE mailing_queue_tasks
		SET status = 'cancelled'
		WHERE campaign_id = $1 AND status = 'queued'
	`, campaignID)
	if err != nil {
		return 0, fmt.Errorf("cancel queued tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cancel queued tasks: %w", err)
	}
	return int(n), nil
}

func (s *QueueStore) CountByStatus(ctx context.Context, campaignID string) (campaign.TaskCounts, error) {
	var c campaign.TaskCounts
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM mailing_queue_tasks
		WHERE campaign_id = $1
		GROUP BY status
	`, campaignID)
	if err != nil {
		return c, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return c, fmt.Errorf("scan task count: %w", err)
		}
		switch domain.TaskStatus(status) {
		case domain.TaskQueued:
			c.Queued = n
		case domain.TaskProcessing:
			c.Processing = n
		case domain.TaskSent:
			c.Sent = n
		case domain.TaskFailed:
			c.Failed = n
		case domain.TaskCancelled:
			c.Cancelled = n
		}
	}
	return c, rows.Err()
}

// ReclaimStale recovers tasks whose claiming worker died. Tasks past the
// retry ceiling are failed; the rest go back to queued for another claim.
func (s *QueueStore) ReclaimStale(ctx context.Context, olderThan time.Duration, maxRetries int) (int, error) {
	cutoff := time.Now().Add(-olderThan)

	res, err := s.db.ExecContext(ctx, `
		UPDATE mailing_queue_tasks
		SET status = 'failed',
		    error_message = 'reclaimed after worker crash: retry limit reached',
		    claimed_at = NULL
		WHERE status = 'processing' AND claimed_at < $1 AND retry_count >= $2
	`, cutoff, maxRetries)
	if err != nil {
		return 0, fmt.Errorf("fail stale tasks: %w", err)
	}
	failed, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `
		UPDATE mailing_queue_tasks
		SET status = 'queued', scheduled_for = NOW(), claimed_at = NULL
		WHERE status = 'processing' AND claimed_at < $1
	`, cutoff)
	if err != nil {
		return int(failed), fmt.Errorf("requeue stale tasks: %w", err)
	}
	requeued, _ := res.RowsAffected()

	return int(failed + requeued), nil
}
