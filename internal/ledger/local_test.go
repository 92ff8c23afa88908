package ledger

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

// memHoldStore mirrors pgHoldStore: fn sees a copy and nothing is stored
// when it fails.
type memHoldStore struct {
	mu        sync.Mutex
	holds     map[string]hold
	movements []movement
}

func newMemHoldStore() *memHoldStore {
	return &memHoldStore{holds: make(map[string]hold)}
}

func (s *memHoldStore) createHold(ctx context.Context, h *hold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holds[h.ContractID] = *h
	return nil
}

func (s *memHoldStore) withHold(ctx context.Context, contractID string, fn func(h *hold) (*movement, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[contractID]
	if !ok {
		return ErrUnknownContract
	}
	mv, err := fn(&h)
	if err != nil {
		return err
	}
	s.holds[contractID] = h
	if mv != nil {
		s.movements = append(s.movements, *mv)
	}
	return nil
}

func (s *memHoldStore) getHold(ctx context.Context, contractID string) (*hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[contractID]
	if !ok {
		return nil, ErrUnknownContract
	}
	return &h, nil
}

func newTestLocal(t *testing.T) (*LocalLedger, *memHoldStore, string) {
	t.Helper()
	store := newMemHoldStore()
	l := &LocalLedger{store: store}
	id, err := l.Create(context.Background(), "employer:1", 50000, "KES", "job:1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return l, store, id
}

func state(t *testing.T, l *LocalLedger, id string) string {
	t.Helper()
	st, err := l.Status(context.Background(), id)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	return st.State
}

func TestHoldState(t *testing.T) {
	cases := map[string]string{
		holdCreated:   StateCreated,
		holdHeld:      StateFunded,
		holdReleased:  StateReleased,
		holdRefunded:  StateCancelled,
		holdCancelled: StateCancelled,
		"":            StateCreated,
	}
	for in, want := range cases {
		if got := holdState(in); got != want {
			t.Errorf("holdState(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLocalLedger_Create(t *testing.T) {
	l, _, id := newTestLocal(t)
	if !strings.HasPrefix(id, ContractIDPrefix) {
		t.Errorf("contract id %q lacks %s prefix", id, ContractIDPrefix)
	}
	if got := state(t, l, id); got != StateCreated {
		t.Errorf("state = %q, want created", got)
	}
	if _, err := l.Create(context.Background(), "employer:1", 0, "KES", "job:2"); !errors.Is(err, ErrRejected) {
		t.Errorf("zero amount: got %v, want ErrRejected", err)
	}
}

func TestLocalLedger_FundThenRelease(t *testing.T) {
	l, store, id := newTestLocal(t)
	ctx := context.Background()

	if err := l.Fund(ctx, id, 50000, "MPESA123"); err != nil {
		t.Fatalf("Fund: %v", err)
	}
	if got := state(t, l, id); got != StateFunded {
		t.Fatalf("state = %q, want funded", got)
	}
	if err := l.Release(ctx, id, "254712345678", 0); err != nil {
		t.Fatalf("Release: %v", err)
	}
	st, _ := l.Status(ctx, id)
	if st.State != StateReleased || st.Beneficiary != "254712345678" || st.AmountCents != 50000 {
		t.Errorf("unexpected status %+v", st)
	}

	if len(store.movements) != 2 {
		t.Fatalf("movements = %d, want 2", len(store.movements))
	}
	held, release := store.movements[0], store.movements[1]
	if held.TxType != txHold || held.DebitRef != "employer:1" || held.CreditRef != escrowAccountRef || held.Proof != "MPESA123" {
		t.Errorf("unexpected hold movement %+v", held)
	}
	if release.TxType != txRelease || release.DebitRef != escrowAccountRef || release.CreditRef != "254712345678" || release.AmountCents != 50000 {
		t.Errorf("unexpected release movement %+v", release)
	}
}

func TestLocalLedger_FundGuards(t *testing.T) {
	l, store, id := newTestLocal(t)
	ctx := context.Background()

	if err := l.Fund(ctx, id, 40000, ""); !errors.Is(err, ErrRejected) {
		t.Errorf("short fund: got %v, want ErrRejected", err)
	}
	if got := state(t, l, id); got != StateCreated {
		t.Errorf("rejected fund changed state to %q", got)
	}
	if err := l.Fund(ctx, id, 50000, ""); err != nil {
		t.Fatalf("Fund: %v", err)
	}
	if err := l.Fund(ctx, id, 50000, ""); !errors.Is(err, ErrRejected) {
		t.Errorf("second fund: got %v, want ErrRejected", err)
	}
	if err := l.Fund(ctx, "ESCROW_missing", 50000, ""); !errors.Is(err, ErrUnknownContract) {
		t.Errorf("unknown contract: got %v, want ErrUnknownContract", err)
	}
	if len(store.movements) != 1 {
		t.Errorf("movements = %d, want 1", len(store.movements))
	}
}

func TestLocalLedger_ReleaseGuards(t *testing.T) {
	l, store, id := newTestLocal(t)
	ctx := context.Background()

	if err := l.Release(ctx, id, "254712345678", 0); !errors.Is(err, ErrRejected) {
		t.Errorf("release before fund: got %v, want ErrRejected", err)
	}
	if err := l.Fund(ctx, id, 50000, ""); err != nil {
		t.Fatalf("Fund: %v", err)
	}
	if err := l.Release(ctx, id, "254712345678", 20000); !errors.Is(err, ErrRejected) {
		t.Errorf("partial release: got %v, want ErrRejected", err)
	}
	if err := l.Release(ctx, id, "", 0); !errors.Is(err, ErrRejected) {
		t.Errorf("no beneficiary: got %v, want ErrRejected", err)
	}
	if got := state(t, l, id); got != StateFunded {
		t.Fatalf("rejected releases changed state to %q", got)
	}
	if err := l.Release(ctx, id, "254712345678", 50000); err != nil {
		t.Fatalf("full release with explicit amount: %v", err)
	}
	if err := l.Release(ctx, id, "254712345678", 0); !errors.Is(err, ErrRejected) {
		t.Errorf("second release: got %v, want ErrRejected", err)
	}
	if err := l.Cancel(ctx, id); !errors.Is(err, ErrRejected) {
		t.Errorf("cancel after release: got %v, want ErrRejected", err)
	}
	if len(store.movements) != 2 {
		t.Errorf("movements = %d, want 2", len(store.movements))
	}
}

func TestLocalLedger_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("unfunded closes without movement", func(t *testing.T) {
		l, store, id := newTestLocal(t)
		if err := l.Cancel(ctx, id); err != nil {
			t.Fatalf("Cancel: %v", err)
		}
		if got := state(t, l, id); got != StateCancelled {
			t.Errorf("state = %q, want cancelled", got)
		}
		if len(store.movements) != 0 {
			t.Errorf("movements = %d, want 0", len(store.movements))
		}
		if err := l.Fund(ctx, id, 50000, ""); !errors.Is(err, ErrRejected) {
			t.Errorf("fund after cancel: got %v, want ErrRejected", err)
		}
	})

	t.Run("funded refunds employer", func(t *testing.T) {
		l, store, id := newTestLocal(t)
		if err := l.Fund(ctx, id, 50000, ""); err != nil {
			t.Fatalf("Fund: %v", err)
		}
		if err := l.Cancel(ctx, id); err != nil {
			t.Fatalf("Cancel: %v", err)
		}
		if got := state(t, l, id); got != StateCancelled {
			t.Errorf("state = %q, want cancelled", got)
		}
		refund := store.movements[len(store.movements)-1]
		if refund.TxType != txRefund || refund.CreditRef != "employer:1" || refund.AmountCents != 50000 {
			t.Errorf("unexpected refund movement %+v", refund)
		}
		if err := l.Cancel(ctx, id); !errors.Is(err, ErrRejected) {
			t.Errorf("second cancel: got %v, want ErrRejected", err)
		}
	})
}

func TestLocalLedger_StatusUnknown(t *testing.T) {
	l := &LocalLedger{store: newMemHoldStore()}
	if _, err := l.Status(context.Background(), "ESCROW_missing"); !errors.Is(err, ErrUnknownContract) {
		t.Errorf("got %v, want ErrUnknownContract", err)
	}
}
