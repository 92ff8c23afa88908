package payout

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Stellar-cadet-s/kazi-trust/internal/metrics"
	"github.com/Stellar-cadet-s/kazi-trust/internal/models"
)

// DefaultSendTimeout bounds a single Send call made by the dispatcher.
const DefaultSendTimeout = 30 * time.Second

// Dispatcher sends a pending payout and records the provider's answer.
// It must never run while an escrow row lock is held.
type Dispatcher struct {
	client  Client
	store   Store
	enqueue EnqueueFunc
	metrics *metrics.Escrow
	timeout time.Duration
	log     *slog.Logger
}

func NewDispatcher(client Client, store Store, enqueue EnqueueFunc, m *metrics.Escrow, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		client:  client,
		store:   store,
		enqueue: enqueue,
		metrics: m,
		timeout: DefaultSendTimeout,
		log:     log,
	}
}

// Reference is the idempotency reference sent to the provider for a contract's payout.
func Reference(contractID string) string {
	return "PAYOUT_" + contractID
}

// Dispatch sends p and updates it to completed, processing or failed. Only
// a failure to persist the outcome is returned as an error.
func (d *Dispatcher) Dispatch(ctx context.Context, p *models.PayoutRecord) error {
	if p.Status != models.PayoutPending {
		return nil
	}
	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	receipt, err := d.client.Send(sendCtx, p.Destination, p.AmountCents, Reference(p.ContractID))
	cancel()

	poll := false
	switch {
	case err != nil:
		reason := err.Error()
		if errors.Is(err, ErrUnavailable) {
			reason = "provider unavailable: " + reason
		}
		d.log.Error("payout send failed", "payout_id", p.ID, "contract_id", p.ContractID, "error", err)
		applyOutcome(p, models.PayoutFailed, reason)
	default:
		p.ProviderRef = receipt.ProviderRef
		switch receipt.Status {
		case models.PayoutCompleted:
			applyOutcome(p, models.PayoutCompleted, "")
		case models.PayoutFailed:
			applyOutcome(p, models.PayoutFailed, "provider rejected payout")
		default:
			applyOutcome(p, models.PayoutProcessing, "")
			poll = true
		}
	}

	if err := d.store.UpdatePayout(ctx, p); err != nil {
		d.log.Error("persist payout outcome failed", "payout_id", p.ID, "status", p.Status, "error", err)
		return err
	}
	d.metrics.Payout(p.Status)
	if poll && d.enqueue != nil {
		if err := d.enqueue(ctx, CheckStatusArgs{PayoutID: p.ID}); err != nil {
			d.log.Error("enqueue payout status poll failed", "payout_id", p.ID, "error", err)
		}
	}
	return nil
}
