// Package payout disburses released escrow funds to employees through a
// mobile-money provider and tracks the asynchronous outcome.
package payout

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrUnavailable means the provider could not be reached or timed out.
	ErrUnavailable = errors.New("payout provider unavailable")
	// ErrRejected means the provider refused the payout.
	ErrRejected = errors.New("payout rejected")
)

// Receipt is the provider's answer to a send request.
type Receipt struct {
	ProviderRef string
	Status      string // one of models.Payout*
}

// Client is the disbursement provider interface.
type Client interface {
	Send(ctx context.Context, destination string, amountCents int64, reference string) (*Receipt, error)
	CheckStatus(ctx context.Context, providerRef string) (string, error)
}

// normalizeStatus maps provider status strings onto payout record statuses.
func normalizeStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "completed", "success", "successful", "succeeded", "paid":
		return "completed"
	case "failed", "failure", "rejected", "reversed", "cancelled":
		return "failed"
	case "pending", "queued", "accepted":
		return "pending"
	default:
		return "processing"
	}
}
