package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// escrowAccountRef is the double-entry counterparty holding escrowed funds.
const escrowAccountRef = "platform:escrow"

// hold status values stored in ledger_holds.status
const (
	holdCreated   = "CREATED"
	holdHeld      = "HELD"
	holdReleased  = "RELEASED"
	holdRefunded  = "REFUNDED"
	holdCancelled = "CANCELLED"
)

// ledger_transactions.tx_type values
const (
	txHold    = "ESCROW_HOLD"
	txRelease = "ESCROW_RELEASE"
	txRefund  = "ESCROW_REFUND"
)

type hold struct {
	ContractID  string
	EmployerRef string
	JobRef      string
	AmountCents int64
	Asset       string
	Status      string
	Beneficiary string
}

// movement is one double-entry row written alongside a hold change.
type movement struct {
	TxType      string
	DebitRef    string
	CreditRef   string
	AmountCents int64
	Proof       string
}

// holdStore persists holds. withHold runs fn on the locked hold and stores
// the hold together with the movement fn returns, if any, atomically.
// Unknown holds are reported as ErrUnknownContract.
type holdStore interface {
	createHold(ctx context.Context, h *hold) error
	withHold(ctx context.Context, contractID string, fn func(h *hold) (*movement, error)) error
	getHold(ctx context.Context, contractID string) (*hold, error)
}

// LocalLedger is an off-chain ledger kept in Postgres. Every movement is
// written as a row in ledger_transactions and the hold itself in ledger_holds.
type LocalLedger struct {
	store holdStore
}

func NewLocalLedger(pool *pgxpool.Pool) *LocalLedger {
	return &LocalLedger{store: &pgHoldStore{pool: pool}}
}

var _ Client = (*LocalLedger)(nil)

func (l *LocalLedger) Create(ctx context.Context, employerRef string, amountCents int64, asset, jobRef string) (string, error) {
	if amountCents <= 0 {
		return "", fmt.Errorf("%w: amount %d", ErrRejected, amountCents)
	}
	h := &hold{
		ContractID:  NewContractID(),
		EmployerRef: employerRef,
		JobRef:      jobRef,
		AmountCents: amountCents,
		Asset:       asset,
		Status:      holdCreated,
	}
	if err := l.store.createHold(ctx, h); err != nil {
		return "", err
	}
	return h.ContractID, nil
}

// Fund moves a CREATED hold to HELD. The amount must equal the hold amount.
func (l *LocalLedger) Fund(ctx context.Context, contractID string, amountCents int64, proof string) error {
	return l.store.withHold(ctx, contractID, func(h *hold) (*movement, error) {
		if h.Status != holdCreated {
			return nil, fmt.Errorf("%w: fund from %s", ErrRejected, h.Status)
		}
		if h.AmountCents != amountCents {
			return nil, fmt.Errorf("%w: fund amount %d != hold amount %d", ErrRejected, amountCents, h.AmountCents)
		}
		h.Status = holdHeld
		return &movement{TxType: txHold, DebitRef: h.EmployerRef, CreditRef: escrowAccountRef, AmountCents: h.AmountCents, Proof: proof}, nil
	})
}

// Release pays the beneficiary from a HELD hold. Only full releases are supported.
func (l *LocalLedger) Release(ctx context.Context, contractID, beneficiary string, releaseCents int64) error {
	return l.store.withHold(ctx, contractID, func(h *hold) (*movement, error) {
		if h.Status != holdHeld {
			return nil, fmt.Errorf("%w: release from %s", ErrRejected, h.Status)
		}
		if releaseCents != 0 && releaseCents != h.AmountCents {
			return nil, fmt.Errorf("%w: partial release not supported", ErrRejected)
		}
		if beneficiary == "" {
			return nil, fmt.Errorf("%w: release without beneficiary", ErrRejected)
		}
		h.Status = holdReleased
		h.Beneficiary = beneficiary
		return &movement{TxType: txRelease, DebitRef: escrowAccountRef, CreditRef: beneficiary, AmountCents: h.AmountCents}, nil
	})
}

// Cancel refunds a HELD hold to the employer, or closes a CREATED one.
func (l *LocalLedger) Cancel(ctx context.Context, contractID string) error {
	return l.store.withHold(ctx, contractID, func(h *hold) (*movement, error) {
		switch h.Status {
		case holdCreated:
			h.Status = holdCancelled
			return nil, nil
		case holdHeld:
			h.Status = holdRefunded
			return &movement{TxType: txRefund, DebitRef: escrowAccountRef, CreditRef: h.EmployerRef, AmountCents: h.AmountCents}, nil
		}
		return nil, fmt.Errorf("%w: cancel from %s", ErrRejected, h.Status)
	})
}

func (l *LocalLedger) Status(ctx context.Context, contractID string) (*Status, error) {
	h, err := l.store.getHold(ctx, contractID)
	if err != nil {
		return nil, err
	}
	return &Status{
		ContractID:  h.ContractID,
		State:       holdState(h.Status),
		AmountCents: h.AmountCents,
		Beneficiary: h.Beneficiary,
	}, nil
}

func holdState(status string) string {
	switch status {
	case holdHeld:
		return StateFunded
	case holdReleased:
		return StateReleased
	case holdRefunded, holdCancelled:
		return StateCancelled
	default:
		return StateCreated
	}
}

// pgHoldStore keeps holds in ledger_holds and movements in ledger_transactions.
type pgHoldStore struct {
	pool *pgxpool.Pool
}

func (s *pgHoldStore) createHold(ctx context.Context, h *hold) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ledger_holds (contract_id, employer_ref, job_ref, amount_cents, asset, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, h.ContractID, h.EmployerRef, h.JobRef, h.AmountCents, h.Asset, h.Status)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOutcomeUnknown, err)
	}
	return nil
}

func (s *pgHoldStore) getHold(ctx context.Context, contractID string) (*hold, error) {
	h, err := scanHold(s.pool.QueryRow(ctx, `
		SELECT contract_id, employer_ref, job_ref, amount_cents, asset, status, beneficiary
		FROM ledger_holds WHERE contract_id = $1
	`, contractID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUnknownContract
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOutcomeUnknown, err)
	}
	return h, nil
}

// withHold runs in its own transaction. Database failures other than the
// ledger's own sentinels are reported as ErrOutcomeUnknown since the commit
// may or may not have landed.
func (s *pgHoldStore) withHold(ctx context.Context, contractID string, fn func(h *hold) (*movement, error)) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrOutcomeUnknown, err)
	}
	defer tx.Rollback(ctx)
	if err := s.apply(ctx, tx, contractID, fn); err != nil {
		if errors.Is(err, ErrRejected) || errors.Is(err, ErrUnknownContract) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrOutcomeUnknown, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrOutcomeUnknown, err)
	}
	return nil
}

func (s *pgHoldStore) apply(ctx context.Context, tx pgx.Tx, contractID string, fn func(h *hold) (*movement, error)) error {
	h, err := scanHold(tx.QueryRow(ctx, `
		SELECT contract_id, employer_ref, job_ref, amount_cents, asset, status, beneficiary
		FROM ledger_holds WHERE contract_id = $1 FOR UPDATE
	`, contractID))
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrUnknownContract
	}
	if err != nil {
		return err
	}
	mv, err := fn(h)
	if err != nil {
		return err
	}
	if mv == nil {
		_, err = tx.Exec(ctx, `UPDATE ledger_holds SET status = $1, updated_at = now() WHERE contract_id = $2`, h.Status, contractID)
		return err
	}
	var movementID int64
	if err := tx.QueryRow(ctx, `
		INSERT INTO ledger_transactions (tx_type, contract_id, debit_ref, credit_ref, amount_cents, proof)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		RETURNING id
	`, mv.TxType, contractID, mv.DebitRef, mv.CreditRef, mv.AmountCents, mv.Proof).Scan(&movementID); err != nil {
		return err
	}
	column := "release_tx_id"
	if mv.TxType == txHold {
		column = "hold_tx_id"
	}
	_, err = tx.Exec(ctx, `
		UPDATE ledger_holds SET status = $1, beneficiary = NULLIF($2, ''), `+column+` = $3, updated_at = now()
		WHERE contract_id = $4
	`, h.Status, h.Beneficiary, movementID, contractID)
	return err
}

func scanHold(row pgx.Row) (*hold, error) {
	var h hold
	var beneficiary *string
	if err := row.Scan(&h.ContractID, &h.EmployerRef, &h.JobRef, &h.AmountCents, &h.Asset, &h.Status, &beneficiary); err != nil {
		return nil, err
	}
	if beneficiary != nil {
		h.Beneficiary = *beneficiary
	}
	return &h, nil
}
