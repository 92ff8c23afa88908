package models

import (
	"time"

	"github.com/google/uuid"
)

// Deposit record status enums.
const (
	DepositPending   = "pending"
	DepositCompleted = "completed"
	DepositFailed    = "failed"
)

// Payout record status enums.
const (
	PayoutPending    = "pending"
	PayoutProcessing = "processing"
	PayoutCompleted  = "completed"
	PayoutFailed     = "failed"
)

// DepositRecord is one provider notification. ProviderRef is the idempotency key.
// Applied is set when the amount counted toward the contract's deposited total.
type DepositRecord struct {
	ID          uuid.UUID  `json:"id"`
	ProviderRef string     `json:"provider_ref"`
	ContractID  string     `json:"contract_id"`
	AmountCents int64      `json:"amount_cents"`
	Status      string     `json:"status"`
	Applied     bool       `json:"applied"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type PayoutRecord struct {
	ID            uuid.UUID  `json:"id"`
	ContractID    string     `json:"contract_id"`
	EmployeeID    uuid.UUID  `json:"employee_id"`
	Destination   string     `json:"destination"`
	AmountCents   int64      `json:"amount_cents"`
	Status        string     `json:"status"`
	ProviderRef   string     `json:"provider_ref,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the payout needs no further polling.
func (p *PayoutRecord) Terminal() bool {
	return p.Status == PayoutCompleted || p.Status == PayoutFailed
}
