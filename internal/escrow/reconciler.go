package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/Stellar-cadet-s/kazi-trust/internal/apperr"
	"github.com/Stellar-cadet-s/kazi-trust/internal/ledger"
	"github.com/Stellar-cadet-s/kazi-trust/internal/models"
)

// Reconciler matches provider deposit notifications to contracts and
// credits each provider reference at most once.
type Reconciler struct {
	machine *Machine
	// allowJobRef lets a destination reference name the job instead of the
	// contract. Older payment links carried the job id.
	allowJobRef bool
	log         *slog.Logger
}

func NewReconciler(m *Machine, allowJobRef bool, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{machine: m, allowJobRef: allowJobRef, log: log}
}

// OnDeposit records a deposit of amountCents under providerRef for the
// contract named by destination and hands it to the state machine.
// Redelivery of a settled providerRef returns the stored record unchanged.
func (r *Reconciler) OnDeposit(ctx context.Context, providerRef string, amountCents int64, destination string) (*models.DepositRecord, error) {
	providerRef = strings.TrimSpace(providerRef)
	if providerRef == "" {
		return nil, fmt.Errorf("empty provider reference: %w", apperr.ErrPreconditionFailed)
	}
	if amountCents <= 0 {
		return nil, fmt.Errorf("deposit amount %d: %w", amountCents, apperr.ErrPreconditionFailed)
	}
	contractID, err := r.resolve(ctx, strings.TrimSpace(destination))
	if err != nil {
		return nil, err
	}

	m := r.machine
	tx, err := m.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	c, err := m.contracts.GetContractForUpdate(ctx, tx, contractID)
	if err != nil {
		return nil, err
	}

	dep, err := m.contracts.GetDepositByRef(ctx, tx, providerRef)
	switch {
	case err == nil:
		if dep.ContractID != c.ID || dep.AmountCents != amountCents {
			return nil, fmt.Errorf("provider ref %s already recorded for %s/%d: %w", providerRef, dep.ContractID, dep.AmountCents, apperr.ErrConflict)
		}
		if dep.Status != models.DepositPending {
			m.metrics.Deposit("duplicate")
			r.log.Info("duplicate deposit notification", "provider_ref", providerRef, "contract_id", c.ID)
			return dep, nil
		}
		r.log.Info("retrying pending deposit", "provider_ref", providerRef, "contract_id", c.ID)
	case errors.Is(err, apperr.ErrNotFound):
		dep = &models.DepositRecord{
			ID:          uuid.New(),
			ProviderRef: providerRef,
			ContractID:  c.ID,
			AmountCents: amountCents,
			Status:      models.DepositPending,
			CreatedAt:   m.now(),
		}
		if err := m.contracts.CreateDeposit(ctx, tx, dep); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	ledgerErr, err := m.creditDeposit(ctx, tx, c, dep)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	if ledgerErr != nil {
		return dep, ledgerErr
	}
	return dep, nil
}

// resolve maps a destination reference to a contract id. A known contract id
// always wins. With allowJobRef, a reference that names no contract and does
// not carry the ledger's ESCROW_ prefix is tried as a job id.
func (r *Reconciler) resolve(ctx context.Context, destination string) (string, error) {
	if destination == "" {
		return "", fmt.Errorf("empty destination reference: %w", apperr.ErrNotFound)
	}
	if !r.allowJobRef || strings.HasPrefix(destination, ledger.ContractIDPrefix) {
		return destination, nil
	}
	_, err := r.machine.contracts.GetContract(ctx, destination)
	switch {
	case err == nil:
		return destination, nil
	case !errors.Is(err, apperr.ErrNotFound):
		return "", err
	}
	jobID, err := uuid.Parse(destination)
	if err != nil {
		return "", fmt.Errorf("deposit reference %q: %w", destination, apperr.ErrNotFound)
	}
	job, err := r.machine.jobs.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	r.log.Info("deposit reference resolved from job id", "job_id", jobID, "contract_id", job.ContractID)
	return job.ContractID, nil
}
