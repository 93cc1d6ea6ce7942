package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tavari/mail-engine/internal/domain"
	"github.com/tavari/mail-engine/internal/pkg/logger"
	"github.com/tavari/mail-engine/internal/service/campaign"
	"github.com/tavari/mail-engine/internal/service/sending"
)

// Dispatcher drains the send queue: claim a bounded batch, gate each task
// through the admission guard, invoke the mail transport, and apply exactly
// one state transition per task per cycle.
//
// Any number of Dispatcher instances may run against the same store;
// correctness rests on the store's conditional claim and transition, not on
// anything in this process. Tasks within one cycle are processed
// sequentially so parallel sends cannot bypass the shared rate budget.
type Dispatcher struct {
	store      campaign.QueueStore
	campaigns  campaign.Repository
	aggregator *campaign.Service
	guard      sending.AdmissionGuard
	sender     sending.Sender

	retry          RetryPolicy
	attemptTimeout time.Duration
	now            func() time.Time
}

// DispatcherConfig holds dispatcher tuning knobs.
type DispatcherConfig struct {
	Retry          RetryPolicy
	AttemptTimeout time.Duration
}

// NewDispatcher wires a dispatcher. A zero config gets the default retry
// policy and a 30s per-attempt timeout.
func NewDispatcher(
	store campaign.QueueStore,
	campaigns campaign.Repository,
	aggregator *campaign.Service,
	guard sending.AdmissionGuard,
	sender sending.Sender,
	cfg DispatcherConfig,
) *Dispatcher {
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.BaseDelay == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 30 * time.Second
	}
	return &Dispatcher{
		store:          store,
		campaigns:      campaigns,
		aggregator:     aggregator,
		guard:          guard,
		sender:         sender,
		retry:          cfg.Retry,
		attemptTimeout: cfg.AttemptTimeout,
		now:            time.Now,
	}
}

// CycleStats summarizes one RunCycle.
type CycleStats struct {
	Claimed  int
	Sent     int
	Failed   int
	Retried  int
	Deferred int
}

// RunCycle performs one bounded dispatch pass. Claiming zero tasks is a
// normal outcome, not an error. A single task's failure never aborts the
// rest of the batch.
func (d *Dispatcher) RunCycle(ctx context.Context, batchSize int) (CycleStats, error) {
	var stats CycleStats

	tasks, err := d.store.ClaimBatch(ctx, batchSize, d.now())
	if err != nil {
		return stats, fmt.Errorf("claim batch: %w", err)
	}
	stats.Claimed = len(tasks)
	if len(tasks) == 0 {
		return stats, nil
	}

	// Campaign content is identical for every task of a campaign; load once
	// per cycle.
	contents := make(map[string]*domain.Campaign)
	touched := make(map[string]struct{})

	for _, task := range tasks {
		touched[task.CampaignID] = struct{}{}
		switch outcome := d.processTask(ctx, task, contents); outcome {
		case outcomeSent:
			stats.Sent++
		case outcomeFailed:
			stats.Failed++
		case outcomeRetried:
			stats.Retried++
		case outcomeDeferred:
			stats.Deferred++
		}
	}

	for id := range touched {
		if err := d.aggregator.Recompute(ctx, id); err != nil {
			logger.Error("recompute campaign", "campaign_id", id, "error", err)
		}
	}
	return stats, nil
}

type taskOutcome int

const (
	outcomeSent taskOutcome = iota
	outcomeFailed
	outcomeRetried
	outcomeDeferred
)

func (d *Dispatcher) processTask(ctx context.Context, task domain.QueueTask, contents map[string]*domain.Campaign) taskOutcome {
	// Admission control before anything reaches the transport. A denial is
	// not an attempt: the task is released back to queued with its retry
	// count untouched.
	adm, err := d.guard.Admit(ctx)
	if err != nil {
		logger.Error("admission check", "task_id", task.ID, "error", err)
		return d.deferTask(ctx, task, time.Second)
	}
	if !adm.Allowed {
		return d.deferTask(ctx, task, adm.Wait)
	}

	c, ok := contents[task.CampaignID]
	if !ok {
		c, err = d.campaigns.Get(ctx, task.CampaignID)
		if err != nil {
			logger.Error("load campaign content", "campaign_id", task.CampaignID, "error", err)
			return d.deferTask(ctx, task, 5*time.Second)
		}
		contents[task.CampaignID] = c
	}

	msg := &domain.EmailMessage{
		TaskID:      task.ID,
		CampaignID:  task.CampaignID,
		ContactID:   task.ContactID,
		Email:       task.Email,
		FromName:    c.FromName,
		FromEmail:   c.FromEmail,
		ReplyTo:     c.ReplyTo,
		Subject:     c.Subject,
		HTMLContent: c.HTMLContent,
		TextContent: c.PlainContent,
	}

	// From here on this is a real attempt: the daily counter advances once
	// whether the send succeeds or fails.
	if err := d.guard.RecordAttempt(ctx); err != nil {
		logger.Error("record attempt", "task_id", task.ID, "error", err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
	result, err := d.sender.Send(attemptCtx, msg)
	cancel()

	if err == nil && result != nil && result.Success {
		return d.markSent(ctx, task, result)
	}

	if err == nil {
		err = fmt.Errorf("send rejected: %s", result.Error)
	}
	if IsPermanent(err) {
		return d.markPermanentFailure(ctx, task, err)
	}
	return d.scheduleRetry(ctx, task, err)
}

// deferTask releases the task back to queued after wait. Not an attempt:
// retry count is untouched and no quota was consumed.
func (d *Dispatcher) deferTask(ctx context.Context, task domain.QueueTask, wait time.Duration) taskOutcome {
	at := d.now().Add(wait)
	ok, err := d.store.Transition(ctx, task.ID, domain.TaskProcessing, domain.TaskQueued,
		campaign.TransitionFields{ScheduledFor: &at})
	if err != nil {
		logger.Error("defer task", "task_id", task.ID, "error", err)
	} else if !ok {
		logger.Warn("defer lost transition race", "task_id", task.ID)
	}
	return outcomeDeferred
}

func (d *Dispatcher) markSent(ctx context.Context, task domain.QueueTask, result *domain.SendResult) taskOutcome {
	sentAt := result.SentAt
	if sentAt.IsZero() {
		sentAt = d.now()
	}
	ok, err := d.store.Transition(ctx, task.ID, domain.TaskProcessing, domain.TaskSent,
		campaign.TransitionFields{MessageID: &result.MessageID, SentAt: &sentAt})
	if err != nil {
		logger.Error("mark task sent", "task_id", task.ID, "error", err)
		return outcomeFailed
	}
	if !ok {
		// A concurrent attempt already finalized this task; discard our
		// result rather than double-counting.
		logger.Warn("sent result discarded after lost race", "task_id", task.ID)
		return outcomeDeferred
	}
	if err := d.campaigns.IncrementSent(ctx, task.CampaignID); err != nil {
		logger.Error("increment campaign sent count", "campaign_id", task.CampaignID, "error", err)
	}
	return outcomeSent
}

// markPermanentFailure fails the task without consuming a retry slot.
// Retrying an invalid address cannot succeed.
func (d *Dispatcher) markPermanentFailure(ctx context.Context, task domain.QueueTask, cause error) taskOutcome {
	msg := cause.Error()
	ok, err := d.store.Transition(ctx, task.ID, domain.TaskProcessing, domain.TaskFailed,
		campaign.TransitionFields{ErrorMessage: &msg})
	if err != nil {
		logger.Error("mark task failed", "task_id", task.ID, "error", err)
	} else if !ok {
		logger.Warn("failure result discarded after lost race", "task_id", task.ID)
	}
	return outcomeFailed
}

func (d *Dispatcher) scheduleRetry(ctx context.Context, task domain.QueueTask, cause error) taskOutcome {
	next := d.retry.NextAttempt(task.RetryCount, d.now())
	msg := cause.Error()

	fields := campaign.TransitionFields{RetryCount: &next.RetryCount, ErrorMessage: &msg}
	if next.Status == domain.TaskQueued {
		fields.ScheduledFor = &next.ScheduledFor
	}

	ok, err := d.store.Transition(ctx, task.ID, domain.TaskProcessing, next.Status, fields)
	if err != nil {
		logger.Error("schedule retry", "task_id", task.ID, "error", err)
		return outcomeFailed
	}
	if !ok {
		logger.Warn("retry discarded after lost race", "task_id", task.ID)
		return outcomeDeferred
	}
	if next.Status == domain.TaskFailed {
		logger.Info("task exhausted retries", "task_id", task.ID, "retries", task.RetryCount)
		return outcomeFailed
	}
	return outcomeRetried
}

// Pool runs RunCycle on an interval across a set of goroutines. It adds no
// correctness of its own (the store's claims keep instances out of each
// other's way); it only provides lifecycle and aggregate stats.
type Pool struct {
	dispatcher   *Dispatcher
	workerID     string
	numWorkers   int
	batchSize    int
	pollInterval time.Duration

	totalSent     int64
	totalFailed   int64
	totalDeferred int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewPool creates a dispatcher pool.
func NewPool(d *Dispatcher, numWorkers, batchSize int, pollInterval time.Duration) *Pool {
	if numWorkers <= 0 {
		numWorkers = 4
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Pool{
		dispatcher:   d,
		workerID:     fmt.Sprintf("dispatcher-%s", uuid.New().String()[:8]),
		numWorkers:   numWorkers,
		batchSize:    batchSize,
		pollInterval: pollInterval,
	}
}

// Start launches the worker goroutines. Starting a running pool is a no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()

	logger.Info("dispatcher pool starting", "worker_id", p.workerID,
		"workers", p.numWorkers, "batch_size", p.batchSize)

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop cancels the pool and waits for in-flight cycles to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	logger.Info("dispatcher pool stopped", "worker_id", p.workerID,
		"sent", atomic.LoadInt64(&p.totalSent),
		"failed", atomic.LoadInt64(&p.totalFailed),
		"deferred", atomic.LoadInt64(&p.totalDeferred))
}

// Stats returns cumulative pool counters.
func (p *Pool) Stats() map[string]int64 {
	return map[string]int64{
		"total_sent":     atomic.LoadInt64(&p.totalSent),
		"total_failed":   atomic.LoadInt64(&p.totalFailed),
		"total_deferred": atomic.LoadInt64(&p.totalDeferred),
	}
}

func (p *Pool) worker(n int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
			stats, err := p.dispatcher.RunCycle(p.ctx, p.batchSize)
			if err != nil {
				logger.Error("dispatch cycle", "worker", n, "error", err)
				p.sleep(time.Second)
				continue
			}
			atomic.AddInt64(&p.totalSent, int64(stats.Sent))
			atomic.AddInt64(&p.totalFailed, int64(stats.Failed))
			atomic.AddInt64(&p.totalDeferred, int64(stats.Deferred))

			if stats.Claimed == 0 {
				p.sleep(p.pollInterval)
			}
		}
	}
}

func (p *Pool) sleep(d time.Duration) {
	select {
	case <-p.ctx.Done():
	case <-time.After(d):
	}
}
