package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Stellar-cadet-s/kazi-trust/internal/models"
)

// EscrowRepo stores escrow contracts together with their deposit and payout records.
type EscrowRepo struct {
	pool *pgxpool.Pool
}

func NewEscrowRepo(pool *pgxpool.Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

const contractColumns = `id, job_id, employer_id, employee_id, amount_cents, asset, status, ledger_mode, deposited_cents, pending_ledger_op,
	funded_at, completed_at, released_at, cancelled_at, created_at, updated_at`

func scanContract(row pgx.Row) (*models.EscrowContract, error) {
	var c models.EscrowContract
	err := row.Scan(&c.ID, &c.JobID, &c.EmployerID, &c.EmployeeID, &c.AmountCents, &c.Asset, &c.Status, &c.LedgerMode, &c.DepositedCents, &c.PendingLedgerOp,
		&c.FundedAt, &c.CompletedAt, &c.ReleasedAt, &c.CancelledAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *EscrowRepo) CreateContract(ctx context.Context, tx pgx.Tx, c *models.EscrowContract) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO escrow_contracts (id, job_id, employer_id, employee_id, amount_cents, asset, status, ledger_mode, deposited_cents, pending_ledger_op, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, c.ID, c.JobID, c.EmployerID, c.EmployeeID, c.AmountCents, c.Asset, c.Status, c.LedgerMode, c.DepositedCents, c.PendingLedgerOp, c.CreatedAt, c.UpdatedAt)
	return wrap(err, "contract", c.ID)
}

func (r *EscrowRepo) GetContract(ctx context.Context, id string) (*models.EscrowContract, error) {
	c, err := scanContract(r.pool.QueryRow(ctx, `SELECT `+contractColumns+` FROM escrow_contracts WHERE id = $1`, id))
	if err != nil {
		return nil, wrap(err, "contract", id)
	}
	return c, nil
}

// GetContractForUpdate locks the contract row until tx ends. Every escrow
// transition starts here.
func (r *EscrowRepo) GetContractForUpdate(ctx context.Context, tx pgx.Tx, id string) (*models.EscrowContract, error) {
	c, err := scanContract(tx.QueryRow(ctx, `SELECT `+contractColumns+` FROM escrow_contracts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, wrap(err, "contract", id)
	}
	return c, nil
}

// UpdateContract writes the mutable fields. Amount, asset and ownership never change.
func (r *EscrowRepo) UpdateContract(ctx context.Context, tx pgx.Tx, c *models.EscrowContract) error {
	_, err := tx.Exec(ctx, `
		UPDATE escrow_contracts
		SET employee_id = $2, status = $3, deposited_cents = $4, pending_ledger_op = $5,
			funded_at = $6, completed_at = $7, released_at = $8, cancelled_at = $9, updated_at = $10
		WHERE id = $1
	`, c.ID, c.EmployeeID, c.Status, c.DepositedCents, c.PendingLedgerOp, c.FundedAt, c.CompletedAt, c.ReleasedAt, c.CancelledAt, c.UpdatedAt)
	return wrap(err, "contract", c.ID)
}

const depositColumns = `id, provider_ref, contract_id, amount_cents, status, applied, created_at, completed_at`

func scanDeposit(row pgx.Row) (*models.DepositRecord, error) {
	var d models.DepositRecord
	if err := row.Scan(&d.ID, &d.ProviderRef, &d.ContractID, &d.AmountCents, &d.Status, &d.Applied, &d.CreatedAt, &d.CompletedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *EscrowRepo) GetDepositByRef(ctx context.Context, tx pgx.Tx, providerRef string) (*models.DepositRecord, error) {
	d, err := scanDeposit(tx.QueryRow(ctx, `SELECT `+depositColumns+` FROM deposit_records WHERE provider_ref = $1`, providerRef))
	if err != nil {
		return nil, wrap(err, "deposit", providerRef)
	}
	return d, nil
}

func (r *EscrowRepo) CreateDeposit(ctx context.Context, tx pgx.Tx, d *models.DepositRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO deposit_records (id, provider_ref, contract_id, amount_cents, status, applied, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, d.ID, d.ProviderRef, d.ContractID, d.AmountCents, d.Status, d.Applied, d.CreatedAt, d.CompletedAt)
	return wrap(err, "deposit", d.ProviderRef)
}

func (r *EscrowRepo) UpdateDeposit(ctx context.Context, tx pgx.Tx, d *models.DepositRecord) error {
	_, err := tx.Exec(ctx, `UPDATE deposit_records SET status = $2, applied = $3, completed_at = $4 WHERE id = $1`,
		d.ID, d.Status, d.Applied, d.CompletedAt)
	return wrap(err, "deposit", d.ProviderRef)
}

// ListDepositsByEmployer returns deposits on contracts owned by the employer, newest first.
func (r *EscrowRepo) ListDepositsByEmployer(ctx context.Context, employerID uuid.UUID) ([]*models.DepositRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT d.id, d.provider_ref, d.contract_id, d.amount_cents, d.status, d.applied, d.created_at, d.completed_at
		FROM deposit_records d JOIN escrow_contracts c ON c.id = d.contract_id
		WHERE c.employer_id = $1 ORDER BY d.created_at DESC
	`, employerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.DepositRecord
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, d)
	}
	return list, rows.Err()
}

const payoutColumns = `id, contract_id, employee_id, destination, amount_cents, status, provider_ref, failure_reason, created_at, completed_at`

func scanPayout(row pgx.Row) (*models.PayoutRecord, error) {
	var p models.PayoutRecord
	if err := row.Scan(&p.ID, &p.ContractID, &p.EmployeeID, &p.Destination, &p.AmountCents, &p.Status, &p.ProviderRef, &p.FailureReason, &p.CreatedAt, &p.CompletedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *EscrowRepo) CreatePayout(ctx context.Context, tx pgx.Tx, p *models.PayoutRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO payout_records (id, contract_id, employee_id, destination, amount_cents, status, provider_ref, failure_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, p.ID, p.ContractID, p.EmployeeID, p.Destination, p.AmountCents, p.Status, p.ProviderRef, p.FailureReason, p.CreatedAt)
	return wrap(err, "payout", p.ContractID)
}

func (r *EscrowRepo) GetPayout(ctx context.Context, id uuid.UUID) (*models.PayoutRecord, error) {
	p, err := scanPayout(r.pool.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payout_records WHERE id = $1`, id))
	if err != nil {
		return nil, wrap(err, "payout", id)
	}
	return p, nil
}

func (r *EscrowRepo) GetPayoutByContract(ctx context.Context, contractID string) (*models.PayoutRecord, error) {
	p, err := scanPayout(r.pool.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payout_records WHERE contract_id = $1`, contractID))
	if err != nil {
		return nil, wrap(err, "payout", contractID)
	}
	return p, nil
}

func (r *EscrowRepo) UpdatePayout(ctx context.Context, p *models.PayoutRecord) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE payout_records SET status = $2, provider_ref = $3, failure_reason = $4, completed_at = $5 WHERE id = $1
	`, p.ID, p.Status, p.ProviderRef, p.FailureReason, p.CompletedAt)
	return wrap(err, "payout", p.ID)
}

func (r *EscrowRepo) ListPayoutsByEmployee(ctx context.Context, employeeID uuid.UUID) ([]*models.PayoutRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+payoutColumns+` FROM payout_records WHERE employee_id = $1 ORDER BY created_at DESC`, employeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.PayoutRecord
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}
