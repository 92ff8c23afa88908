package models

import (
	"time"

	"github.com/google/uuid"
)

// Escrow contract status enums.
const (
	EscrowPendingDeposit = "pending_deposit"
	EscrowFunded         = "funded"
	EscrowInProgress     = "in_progress"
	EscrowCompleted      = "completed"
	EscrowReleased       = "released"
	EscrowCancelled      = "cancelled"
)

// Ledger modes. LedgerModeLocal marks a contract whose ledger create call
// failed; its funds are tracked locally only and no ledger calls are made.
const (
	LedgerModeLedger = "ledger"
	LedgerModeLocal  = "local"
)

// Ledger operations recorded in PendingLedgerOp when an attempt ended with
// an unknown outcome.
const (
	LedgerOpFund    = "fund"
	LedgerOpRelease = "release"
	LedgerOpCancel  = "cancel"
)

// DefaultAsset is the asset code used when none is configured.
const DefaultAsset = "KES"

type EscrowContract struct {
	ID              string     `json:"contract_id"`
	JobID           uuid.UUID  `json:"job_id"`
	EmployerID      uuid.UUID  `json:"employer_id"`
	EmployeeID      *uuid.UUID `json:"employee_id,omitempty"`
	AmountCents     int64      `json:"amount_cents"`
	Asset           string     `json:"asset"`
	Status          string     `json:"status"`
	LedgerMode      string     `json:"ledger_mode"`
	DepositedCents  int64      `json:"deposited_cents"`
	PendingLedgerOp string     `json:"pending_ledger_op,omitempty"`
	FundedAt        *time.Time `json:"funded_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	ReleasedAt      *time.Time `json:"released_at,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Local reports whether the contract is tracked without an external ledger.
func (e *EscrowContract) Local() bool {
	return e.LedgerMode == LedgerModeLocal
}
