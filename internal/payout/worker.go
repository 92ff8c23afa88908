package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/Stellar-cadet-s/kazi-trust/internal/metrics"
	"github.com/Stellar-cadet-s/kazi-trust/internal/models"
)

const (
	DefaultPollInterval = 30 * time.Second
	// DefaultMaxPollAge is how long a payout is polled before it is left
	// in processing for manual follow-up.
	DefaultMaxPollAge = 24 * time.Hour
)

type CheckStatusArgs struct {
	PayoutID uuid.UUID `json:"payout_id"`
}

func (CheckStatusArgs) Kind() string { return "payout_status" }

// SendArgs is committed with the release that creates the payout.
type SendArgs struct {
	PayoutID uuid.UUID `json:"payout_id"`
}

func (SendArgs) Kind() string { return "payout_send" }

// Store persists payout records.
type Store interface {
	GetPayout(ctx context.Context, id uuid.UUID) (*models.PayoutRecord, error)
	UpdatePayout(ctx context.Context, p *models.PayoutRecord) error
}

// EnqueueFunc schedules a status poll. Provided by main using river.Client.Insert.
type EnqueueFunc func(ctx context.Context, args CheckStatusArgs) error

// SendWorker sends payouts queued by a release. A failed attempt to record
// the provider's answer leaves the payout pending and the job is retried
// with the same provider reference.
type SendWorker struct {
	river.WorkerDefaults[SendArgs]
	store      Store
	dispatcher *Dispatcher
}

func NewSendWorker(store Store, d *Dispatcher) *SendWorker {
	return &SendWorker{store: store, dispatcher: d}
}

func (w *SendWorker) Work(ctx context.Context, job *river.Job[SendArgs]) error {
	p, err := w.store.GetPayout(ctx, job.Args.PayoutID)
	if err != nil {
		return fmt.Errorf("load payout %s: %w", job.Args.PayoutID, err)
	}
	if p.Status != models.PayoutPending {
		return nil
	}
	if err := w.dispatcher.Dispatch(ctx, p); err != nil {
		return fmt.Errorf("dispatch payout %s: %w", p.ID, err)
	}
	return nil
}

// StatusWorker polls the provider for payouts left in processing and records
// the final outcome. Pending payouts belong to SendWorker.
type StatusWorker struct {
	river.WorkerDefaults[CheckStatusArgs]
	store        Store
	client       Client
	metrics      *metrics.Escrow
	pollInterval time.Duration
	maxAge       time.Duration
	log          *slog.Logger
}

func NewStatusWorker(store Store, client Client, m *metrics.Escrow, log *slog.Logger) *StatusWorker {
	if log == nil {
		log = slog.Default()
	}
	return &StatusWorker{
		store:        store,
		client:       client,
		metrics:      m,
		pollInterval: DefaultPollInterval,
		maxAge:       DefaultMaxPollAge,
		log:          log,
	}
}

func (w *StatusWorker) Work(ctx context.Context, job *river.Job[CheckStatusArgs]) error {
	p, err := w.store.GetPayout(ctx, job.Args.PayoutID)
	if err != nil {
		return fmt.Errorf("load payout %s: %w", job.Args.PayoutID, err)
	}
	if p.Terminal() || p.Status == models.PayoutPending {
		return nil
	}
	if p.ProviderRef == "" {
		return w.finish(ctx, p, models.PayoutFailed, "no provider reference to poll")
	}

	status, err := w.client.CheckStatus(ctx, p.ProviderRef)
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			w.log.Warn("payout status check failed, will retry", "payout_id", p.ID, "error", err)
			return river.JobSnooze(w.pollInterval)
		}
		return fmt.Errorf("check payout %s: %w", p.ID, err)
	}

	switch status {
	case models.PayoutCompleted:
		return w.finish(ctx, p, models.PayoutCompleted, "")
	case models.PayoutFailed:
		return w.finish(ctx, p, models.PayoutFailed, "provider reported failure")
	}
	if time.Since(p.CreatedAt) > w.maxAge {
		w.log.Warn("payout still unresolved, giving up polling", "payout_id", p.ID, "contract_id", p.ContractID, "provider_ref", p.ProviderRef)
		return nil
	}
	return river.JobSnooze(w.pollInterval)
}

func (w *StatusWorker) finish(ctx context.Context, p *models.PayoutRecord, status, reason string) error {
	applyOutcome(p, status, reason)
	if err := w.store.UpdatePayout(ctx, p); err != nil {
		return fmt.Errorf("update payout %s: %w", p.ID, err)
	}
	w.metrics.Payout(status)
	w.log.Info("payout resolved", "payout_id", p.ID, "contract_id", p.ContractID, "status", status)
	return nil
}

func applyOutcome(p *models.PayoutRecord, status, reason string) {
	p.Status = status
	p.FailureReason = reason
	if p.Terminal() {
		now := time.Now().UTC()
		p.CompletedAt = &now
	}
}
