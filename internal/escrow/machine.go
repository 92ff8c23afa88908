// Package escrow owns the escrow contract lifecycle. Every transition runs
// under the contract's row lock; ledger calls happen inside that scope and
// payout calls happen after it is released.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Stellar-cadet-s/kazi-trust/internal/apperr"
	"github.com/Stellar-cadet-s/kazi-trust/internal/ledger"
	"github.com/Stellar-cadet-s/kazi-trust/internal/metrics"
	"github.com/Stellar-cadet-s/kazi-trust/internal/models"
)

// TxBeginner starts database transactions. *pgxpool.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ContractStore persists escrow contracts and the deposit and payout records
// attached to them.
type ContractStore interface {
	CreateContract(ctx context.Context, tx pgx.Tx, c *models.EscrowContract) error
	GetContract(ctx context.Context, id string) (*models.EscrowContract, error)
	GetContractForUpdate(ctx context.Context, tx pgx.Tx, id string) (*models.EscrowContract, error)
	UpdateContract(ctx context.Context, tx pgx.Tx, c *models.EscrowContract) error

	GetDepositByRef(ctx context.Context, tx pgx.Tx, providerRef string) (*models.DepositRecord, error)
	CreateDeposit(ctx context.Context, tx pgx.Tx, d *models.DepositRecord) error
	UpdateDeposit(ctx context.Context, tx pgx.Tx, d *models.DepositRecord) error

	CreatePayout(ctx context.Context, tx pgx.Tx, p *models.PayoutRecord) error
}

// JobStore is the part of the job repository the machine needs.
type JobStore interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.JobListing, error)
	GetJobForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.JobListing, error)
	UpdateJob(ctx context.Context, tx pgx.Tx, j *models.JobListing) error
}

type UserStore interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// PayoutDispatcher sends a freshly created payout record.
type PayoutDispatcher interface {
	Dispatch(ctx context.Context, p *models.PayoutRecord) error
}

// EnqueuePayoutTxFunc schedules the send of a payout inside the transaction
// that creates it. Provided by main using river.Client.InsertTx.
type EnqueuePayoutTxFunc func(ctx context.Context, tx pgx.Tx, payoutID uuid.UUID) error

type Options struct {
	// Asset is the ledger asset code for new contracts.
	Asset string
	// SettlementAccount receives released funds on the ledger when the
	// employee has no ledger account of their own.
	SettlementAccount string
	// EnqueuePayout, when set, commits a send job with every release and the
	// queue worker sends the payout. Without it Release dispatches inline.
	EnqueuePayout EnqueuePayoutTxFunc
	Metrics       *metrics.Escrow
	Logger        *slog.Logger
}

// Machine applies escrow transitions.
type Machine struct {
	db         TxBeginner
	contracts  ContractStore
	jobs       JobStore
	users      UserStore
	ledger     ledger.Client
	payouts    PayoutDispatcher
	enqueue    EnqueuePayoutTxFunc
	asset      string
	settlement string
	metrics    *metrics.Escrow
	log        *slog.Logger
	now        func() time.Time
}

func NewMachine(db TxBeginner, contracts ContractStore, jobs JobStore, users UserStore, lc ledger.Client, payouts PayoutDispatcher, opts Options) *Machine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Asset == "" {
		opts.Asset = models.DefaultAsset
	}
	return &Machine{
		db:         db,
		contracts:  contracts,
		jobs:       jobs,
		users:      users,
		ledger:     lc,
		payouts:    payouts,
		enqueue:    opts.EnqueuePayout,
		asset:      opts.Asset,
		settlement: opts.SettlementAccount,
		metrics:    opts.Metrics,
		log:        opts.Logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Provision obtains a contract id from the ledger for a new job. It must be
// called outside any transaction. When the ledger cannot be reached the
// contract gets a locally generated id and runs in local mode.
func (m *Machine) Provision(ctx context.Context, employer *models.User, jobID uuid.UUID, amountCents int64) *models.EscrowContract {
	c := &models.EscrowContract{
		JobID:       jobID,
		EmployerID:  employer.ID,
		AmountCents: amountCents,
		Asset:       m.asset,
		Status:      models.EscrowPendingDeposit,
		LedgerMode:  models.LedgerModeLedger,
	}
	employerRef := employer.LedgerAccount
	if employerRef == "" {
		employerRef = employer.ID.String()
	}
	id, err := m.ledger.Create(ctx, employerRef, amountCents, m.asset, jobID.String())
	if err != nil {
		m.metrics.LedgerCall("create", "error")
		c.ID = ledger.NewContractID()
		c.LedgerMode = models.LedgerModeLocal
		m.log.Warn("ledger create failed, contract tracked locally", "job_id", jobID, "contract_id", c.ID, "error", err)
		return c
	}
	m.metrics.LedgerCall("create", "ok")
	c.ID = id
	return c
}

// Open persists a provisioned contract in pending_deposit within tx.
func (m *Machine) Open(ctx context.Context, tx pgx.Tx, c *models.EscrowContract) error {
	if c.AmountCents <= 0 {
		return fmt.Errorf("contract amount %d: %w", c.AmountCents, apperr.ErrPreconditionFailed)
	}
	c.Status = models.EscrowPendingDeposit
	now := m.now()
	c.CreatedAt, c.UpdatedAt = now, now
	if err := m.contracts.CreateContract(ctx, tx, c); err != nil {
		return fmt.Errorf("create contract %s: %w", c.ID, err)
	}
	m.metrics.Transition("", models.EscrowPendingDeposit)
	return nil
}

// BindEmployee moves a funded contract to in_progress within the caller's
// transaction. The contract row is locked here; callers lock the job row
// afterwards.
func (m *Machine) BindEmployee(ctx context.Context, tx pgx.Tx, contractID string, employeeID uuid.UUID) (*models.EscrowContract, error) {
	c, err := m.contracts.GetContractForUpdate(ctx, tx, contractID)
	if err != nil {
		return nil, err
	}
	if c.Status != models.EscrowFunded {
		return nil, fmt.Errorf("bind employee to contract in %s: %w", c.Status, apperr.ErrInvalidState)
	}
	c.EmployeeID = &employeeID
	if err := m.transition(ctx, tx, c, models.EscrowInProgress); err != nil {
		return nil, err
	}
	return c, nil
}

// MarkComplete records the employer's confirmation and then releases the
// funds. A contract already in completed only retries the release, so a
// release that failed earlier can be driven again through this call.
func (m *Machine) MarkComplete(ctx context.Context, contractID string) (*models.EscrowContract, error) {
	return m.CompleteWork(ctx, contractID, "")
}

// CompleteWork is MarkComplete with the employer's note on the work, kept on
// the job for the employee's work history. A retry keeps the first summary.
func (m *Machine) CompleteWork(ctx context.Context, contractID, summary string) (*models.EscrowContract, error) {
	tx, err := m.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	c, err := m.contracts.GetContractForUpdate(ctx, tx, contractID)
	if err != nil {
		return nil, err
	}
	switch c.Status {
	case models.EscrowCompleted:
		if err := tx.Rollback(ctx); err != nil {
			return nil, err
		}
		return m.Release(ctx, contractID)
	case models.EscrowInProgress:
	default:
		return nil, fmt.Errorf("mark complete from %s: %w", c.Status, apperr.ErrInvalidState)
	}

	job, err := m.jobs.GetJobForUpdate(ctx, tx, c.JobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusAssigned && job.Status != models.JobStatusInProgress {
		return nil, fmt.Errorf("mark complete with job %s: %w", job.Status, apperr.ErrInvalidState)
	}
	now := m.now()
	job.Status = models.JobStatusCompleted
	job.CompletedAt = &now
	job.WorkSummary = strings.TrimSpace(summary)
	if err := m.jobs.UpdateJob(ctx, tx, job); err != nil {
		return nil, err
	}
	c.CompletedAt = &now
	if err := m.transition(ctx, tx, c, models.EscrowCompleted); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	m.log.Info("escrow completed", "contract_id", c.ID, "job_id", c.JobID)

	return m.Release(ctx, contractID)
}

// Release pays out a completed contract: Ledger.release, then a pending
// PayoutRecord and its send job in the same commit. Without a queue the
// payout is sent once the lock is gone. Payout failures are recorded on the
// PayoutRecord and not returned.
func (m *Machine) Release(ctx context.Context, contractID string) (*models.EscrowContract, error) {
	c, p, err := m.release(ctx, contractID)
	if err != nil {
		return c, err
	}
	if m.enqueue == nil && m.payouts != nil {
		if err := m.payouts.Dispatch(ctx, p); err != nil {
			m.log.Error("payout dispatch failed", "contract_id", c.ID, "payout_id", p.ID, "error", err)
		}
	}
	return c, nil
}

func (m *Machine) release(ctx context.Context, contractID string) (*models.EscrowContract, *models.PayoutRecord, error) {
	tx, err := m.db.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	c, err := m.contracts.GetContractForUpdate(ctx, tx, contractID)
	if err != nil {
		return nil, nil, err
	}
	if c.Status != models.EscrowCompleted {
		return c, nil, fmt.Errorf("release from %s: %w", c.Status, apperr.ErrInvalidState)
	}
	if c.EmployeeID == nil {
		return c, nil, fmt.Errorf("release contract %s without employee: %w", c.ID, apperr.ErrInvalidState)
	}
	employee, err := m.users.GetUser(ctx, *c.EmployeeID)
	if err != nil {
		return c, nil, err
	}
	destination := employee.PayoutAddress()
	if destination == "" {
		return c, nil, fmt.Errorf("employee %s has no payout destination: %w", employee.ID, apperr.ErrPreconditionFailed)
	}

	if !c.Local() {
		beneficiary := employee.LedgerAccount
		if beneficiary == "" {
			beneficiary = m.settlement
		}
		if beneficiary == "" {
			return c, nil, fmt.Errorf("no ledger beneficiary for employee %s: %w", employee.ID, apperr.ErrPreconditionFailed)
		}
		ledgerErr := m.callLedger(ctx, c, models.LedgerOpRelease, ledger.StateReleased, func(ctx context.Context) error {
			return m.ledger.Release(ctx, c.ID, beneficiary, c.AmountCents)
		})
		if ledgerErr != nil {
			return c, nil, m.persistFailure(ctx, tx, c, ledgerErr)
		}
	}

	now := m.now()
	c.ReleasedAt = &now
	if err := m.transition(ctx, tx, c, models.EscrowReleased); err != nil {
		return nil, nil, err
	}
	p := &models.PayoutRecord{
		ID:          uuid.New(),
		ContractID:  c.ID,
		EmployeeID:  employee.ID,
		Destination: destination,
		AmountCents: c.AmountCents,
		Status:      models.PayoutPending,
		CreatedAt:   now,
	}
	if err := m.contracts.CreatePayout(ctx, tx, p); err != nil {
		return nil, nil, fmt.Errorf("create payout for %s: %w", c.ID, err)
	}
	if m.enqueue != nil {
		if err := m.enqueue(ctx, tx, p.ID); err != nil {
			return nil, nil, fmt.Errorf("enqueue payout %s: %w", p.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	m.metrics.Payout(models.PayoutPending)
	m.log.Info("escrow released", "contract_id", c.ID, "payout_id", p.ID, "amount_cents", c.AmountCents)
	return c, p, nil
}

// Cancel closes a contract that has not been bound to an employee and
// cancels its job.
func (m *Machine) Cancel(ctx context.Context, contractID string) (*models.EscrowContract, error) {
	tx, err := m.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	c, err := m.contracts.GetContractForUpdate(ctx, tx, contractID)
	if err != nil {
		return nil, err
	}
	if c.Status != models.EscrowPendingDeposit && c.Status != models.EscrowFunded {
		return c, fmt.Errorf("cancel from %s: %w", c.Status, apperr.ErrInvalidState)
	}
	job, err := m.jobs.GetJobForUpdate(ctx, tx, c.JobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusOpen {
		return c, fmt.Errorf("cancel job in %s: %w", job.Status, apperr.ErrInvalidState)
	}

	if !c.Local() {
		ledgerErr := m.callLedger(ctx, c, models.LedgerOpCancel, ledger.StateCancelled, func(ctx context.Context) error {
			return m.ledger.Cancel(ctx, c.ID)
		})
		if ledgerErr != nil {
			return c, m.persistFailure(ctx, tx, c, ledgerErr)
		}
	}

	now := m.now()
	job.Status = models.JobStatusCancelled
	if err := m.jobs.UpdateJob(ctx, tx, job); err != nil {
		return nil, err
	}
	c.CancelledAt = &now
	if err := m.transition(ctx, tx, c, models.EscrowCancelled); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	if c.DepositedCents > 0 {
		m.log.Warn("cancelled contract holds deposits, refund required", "contract_id", c.ID, "deposited_cents", c.DepositedCents)
	}
	m.log.Info("escrow cancelled", "contract_id", c.ID, "job_id", c.JobID)
	return c, nil
}

// Status returns the last committed state of a contract.
func (m *Machine) Status(ctx context.Context, contractID string) (*models.EscrowContract, error) {
	return m.contracts.GetContract(ctx, contractID)
}

// creditDeposit applies dep to the locked contract c. Ledger failures are
// returned as ledgerErr after the contract and deposit have been updated in
// tx so the caller can commit them; err is a persistence failure.
func (m *Machine) creditDeposit(ctx context.Context, tx pgx.Tx, c *models.EscrowContract, dep *models.DepositRecord) (ledgerErr, err error) {
	if c.Status != models.EscrowPendingDeposit {
		if !dep.Applied {
			m.log.Warn("deposit received after funding, not applied", "contract_id", c.ID, "provider_ref", dep.ProviderRef, "status", c.Status, "amount_cents", dep.AmountCents)
			m.metrics.Deposit("not_applied")
		}
		m.completeDeposit(dep)
		return nil, m.contracts.UpdateDeposit(ctx, tx, dep)
	}

	if !dep.Applied {
		c.DepositedCents += dep.AmountCents
		dep.Applied = true
	}
	if c.DepositedCents < c.AmountCents {
		m.completeDeposit(dep)
		m.metrics.Deposit("partial")
		if err := m.contracts.UpdateDeposit(ctx, tx, dep); err != nil {
			return nil, err
		}
		c.UpdatedAt = m.now()
		return nil, m.contracts.UpdateContract(ctx, tx, c)
	}
	if c.DepositedCents > c.AmountCents {
		m.log.Warn("contract overpaid, excess needs manual refund", "contract_id", c.ID, "deposited_cents", c.DepositedCents, "amount_cents", c.AmountCents)
	}

	if !c.Local() {
		ledgerErr = m.callLedger(ctx, c, models.LedgerOpFund, ledger.StateFunded, func(ctx context.Context) error {
			return m.ledger.Fund(ctx, c.ID, c.AmountCents, dep.ProviderRef)
		})
		if ledgerErr != nil {
			if err := m.contracts.UpdateDeposit(ctx, tx, dep); err != nil {
				return nil, err
			}
			c.UpdatedAt = m.now()
			if err := m.contracts.UpdateContract(ctx, tx, c); err != nil {
				return nil, err
			}
			m.metrics.Deposit("ledger_failed")
			return ledgerErr, nil
		}
	}

	now := m.now()
	c.FundedAt = &now
	m.completeDeposit(dep)
	if err := m.contracts.UpdateDeposit(ctx, tx, dep); err != nil {
		return nil, err
	}
	if err := m.transition(ctx, tx, c, models.EscrowFunded); err != nil {
		return nil, err
	}
	m.metrics.Deposit("funded")
	m.log.Info("escrow funded", "contract_id", c.ID, "provider_ref", dep.ProviderRef)
	return nil, nil
}

func (m *Machine) completeDeposit(dep *models.DepositRecord) {
	if dep.Status == models.DepositCompleted {
		return
	}
	now := m.now()
	dep.Status = models.DepositCompleted
	dep.CompletedAt = &now
}

// callLedger performs a mutating ledger call. When an earlier attempt of the
// same op ended with an unknown outcome, the ledger is queried first and the
// call is skipped if it already reached doneState.
func (m *Machine) callLedger(ctx context.Context, c *models.EscrowContract, op, doneState string, call func(context.Context) error) error {
	if c.PendingLedgerOp == op {
		st, err := m.ledger.Status(ctx, c.ID)
		switch {
		case err == nil && st.State == doneState:
			m.metrics.LedgerCall(op, "already_applied")
			m.log.Info("ledger already applied previous attempt", "contract_id", c.ID, "op", op)
			c.PendingLedgerOp = ""
			return nil
		case err != nil && !errors.Is(err, ledger.ErrUnknownContract):
			m.metrics.LedgerCall("status", "error")
			return fmt.Errorf("ledger status before %s on %s: %w: %w", op, c.ID, apperr.ErrExternalUnavailable, err)
		}
	}
	if err := call(ctx); err != nil {
		// A rejection can mean an earlier attempt landed but its local commit
		// was lost.
		if errors.Is(err, ledger.ErrRejected) {
			if st, serr := m.ledger.Status(ctx, c.ID); serr == nil && st.State == doneState {
				m.metrics.LedgerCall(op, "already_applied")
				m.log.Info("ledger rejected op that was already applied", "contract_id", c.ID, "op", op)
				c.PendingLedgerOp = ""
				return nil
			}
		}
		if errors.Is(err, ledger.ErrOutcomeUnknown) {
			c.PendingLedgerOp = op
		}
		m.metrics.LedgerCall(op, "error")
		m.log.Error("ledger call failed", "contract_id", c.ID, "op", op, "error", err)
		return fmt.Errorf("ledger %s on %s: %w: %w", op, c.ID, apperr.ErrExternalUnavailable, err)
	}
	m.metrics.LedgerCall(op, "ok")
	c.PendingLedgerOp = ""
	return nil
}

// persistFailure stores the pending-op marker left by a failed ledger call,
// commits, and returns ledgerErr. The contract status is unchanged.
func (m *Machine) persistFailure(ctx context.Context, tx pgx.Tx, c *models.EscrowContract, ledgerErr error) error {
	c.UpdatedAt = m.now()
	if err := m.contracts.UpdateContract(ctx, tx, c); err != nil {
		return errors.Join(ledgerErr, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Join(ledgerErr, err)
	}
	return ledgerErr
}

func (m *Machine) transition(ctx context.Context, tx pgx.Tx, c *models.EscrowContract, to string) error {
	from := c.Status
	c.Status = to
	c.UpdatedAt = m.now()
	if err := m.contracts.UpdateContract(ctx, tx, c); err != nil {
		c.Status = from
		return fmt.Errorf("update contract %s to %s: %w", c.ID, to, err)
	}
	m.metrics.Transition(from, to)
	return nil
}
