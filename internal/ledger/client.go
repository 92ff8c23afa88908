// Package ledger adapts escrow operations to an external ledger: the
// contract service fronting the on-chain escrow contract, or a local
// Postgres stand-in.
//
// No operation retries internally. A failed call returns ErrOutcomeUnknown
// when the ledger may still have applied it (timeouts, transport errors) and
// ErrRejected when it definitely did not. Callers holding local state decide
// whether to query Status before trying again.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrOutcomeUnknown means the call failed without a definitive answer.
	ErrOutcomeUnknown = errors.New("ledger outcome unknown")
	// ErrRejected means the ledger refused the operation.
	ErrRejected = errors.New("ledger rejected operation")
	// ErrUnknownContract is returned by Status for contracts the ledger does not hold.
	ErrUnknownContract = errors.New("ledger contract not found")
)

// Ledger-side contract states reported by Status.
const (
	StateCreated   = "created"
	StateFunded    = "funded"
	StateReleased  = "released"
	StateCancelled = "cancelled"
)

// Status is the ledger's view of a contract.
type Status struct {
	ContractID  string
	State       string
	AmountCents int64
	Beneficiary string
}

// Client is the set of escrow operations the state machine needs.
// releaseCents == 0 releases the full held amount.
type Client interface {
	Create(ctx context.Context, employerRef string, amountCents int64, asset string, jobRef string) (string, error)
	Fund(ctx context.Context, contractID string, amountCents int64, proof string) error
	Release(ctx context.Context, contractID, beneficiary string, releaseCents int64) error
	Cancel(ctx context.Context, contractID string) error
	Status(ctx context.Context, contractID string) (*Status, error)
}

// ContractIDPrefix starts every contract id the ledger generates.
const ContractIDPrefix = "ESCROW_"

// NewContractID returns an identifier in the ESCROW_<16 hex> format used by
// the contract service and by locally tracked contracts.
func NewContractID() string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return ContractIDPrefix + strings.ToUpper(id[:16])
}

// FormatAmount renders minor units as a decimal string ("1250" -> "12.50").
func FormatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// ParseAmount converts a decimal string with at most two fractional digits
// into minor units.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > 2 {
		return 0, fmt.Errorf("amount %q has more than two decimals", s)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	var cents int64
	for _, r := range whole + frac {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("invalid amount %q", s)
		}
		cents = cents*10 + int64(r-'0')
	}
	if neg {
		cents = -cents
	}
	return cents, nil
}
