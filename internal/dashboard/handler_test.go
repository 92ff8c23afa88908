package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Stellar-cadet-s/kazi-trust/internal/apperr"
	"github.com/Stellar-cadet-s/kazi-trust/internal/auth"
	"github.com/Stellar-cadet-s/kazi-trust/internal/middleware"
	"github.com/Stellar-cadet-s/kazi-trust/internal/models"
)

type stubStore struct {
	users    map[uuid.UUID]*models.User
	deposits []*models.DepositRecord
	payouts  []*models.PayoutRecord
}

func (s *stubStore) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, apperr.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (s *stubStore) UpdateContact(_ context.Context, id uuid.UUID, phone, ledgerAccount string) error {
	u, ok := s.users[id]
	if !ok {
		return apperr.ErrNotFound
	}
	u.Phone, u.LedgerAccount = phone, ledgerAccount
	return nil
}

func (s *stubStore) ListDepositsByEmployer(_ context.Context, _ uuid.UUID) ([]*models.DepositRecord, error) {
	return s.deposits, nil
}

func (s *stubStore) ListPayoutsByEmployee(_ context.Context, _ uuid.UUID) ([]*models.PayoutRecord, error) {
	return s.payouts, nil
}

func withCaller(r *http.Request, id uuid.UUID, role string) *http.Request {
	return r.WithContext(middleware.WithCaller(r.Context(), &middleware.Caller{ID: id, Role: role}))
}

func TestGetMe(t *testing.T) {
	u := &models.User{ID: uuid.New(), Role: models.RoleEmployee, Email: "w@example.com", Phone: "0712345678"}
	h := NewHandler(&stubStore{users: map[uuid.UUID]*models.User{u.ID: u}}, nil)

	rec := httptest.NewRecorder()
	h.GetMe(rec, withCaller(httptest.NewRequest(http.MethodGet, "/", nil), u.ID, u.Role))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got auth.UserResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil || got.Email != u.Email {
		t.Errorf("unexpected body %+v (%v)", got, err)
	}

	rec = httptest.NewRecorder()
	h.GetMe(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no caller: expected 401, got %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.GetMe(rec, withCaller(httptest.NewRequest(http.MethodGet, "/", nil), uuid.New(), models.RoleEmployee))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown user: expected 404, got %d", rec.Code)
	}
}

func TestUpdateContact(t *testing.T) {
	u := &models.User{ID: uuid.New(), Role: models.RoleEmployee, Phone: "0712345678"}
	store := &stubStore{users: map[uuid.UUID]*models.User{u.ID: u}}
	h := NewHandler(store, nil)

	rec := httptest.NewRecorder()
	h.UpdateContact(rec, withCaller(httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(`{"phone":"+254 700 000 001","ledger_account":"GWORK"}`)), u.ID, u.Role))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if u.Phone != "+254 700 000 001" || u.LedgerAccount != "GWORK" {
		t.Errorf("contact not stored: %+v", u)
	}

	rec = httptest.NewRecorder()
	h.UpdateContact(rec, withCaller(httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(`{"phone":"12"}`)), u.ID, u.Role))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("short phone: expected 400, got %d", rec.Code)
	}
	if u.LedgerAccount != "GWORK" {
		t.Errorf("rejected update changed ledger account")
	}

	rec = httptest.NewRecorder()
	h.UpdateContact(rec, withCaller(httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(`{"phone":"07abcdefgh"}`)), u.ID, u.Role))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non-digit phone: expected 400, got %d", rec.Code)
	}
	if u.Phone != "+254 700 000 001" {
		t.Errorf("rejected update changed phone to %q", u.Phone)
	}
}

func TestListTransactions(t *testing.T) {
	now := time.Now().UTC()
	store := &stubStore{
		deposits: []*models.DepositRecord{
			{ID: uuid.New(), ProviderRef: "D1", ContractID: "ESCROW_1", AmountCents: 100, Status: models.DepositCompleted, Applied: true, CreatedAt: now.Add(-time.Hour)},
			{ID: uuid.New(), ProviderRef: "D2", ContractID: "ESCROW_1", AmountCents: 50, Status: models.DepositCompleted, Applied: false, CreatedAt: now},
		},
		payouts: []*models.PayoutRecord{
			{ID: uuid.New(), ContractID: "ESCROW_1", AmountCents: 150, Status: models.PayoutFailed, FailureReason: "provider down", CreatedAt: now},
		},
	}
	h := NewHandler(store, nil)

	cases := []struct {
		role      string
		wantKinds []string
	}{
		{models.RoleEmployer, []string{"deposit", "deposit"}},
		{models.RoleEmployee, []string{"payout"}},
		{models.RoleAdmin, nil},
	}
	for _, tc := range cases {
		t.Run(tc.role, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ListTransactions(rec, withCaller(httptest.NewRequest(http.MethodGet, "/", nil), uuid.New(), tc.role))
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			var txs []Transaction
			if err := json.NewDecoder(rec.Body).Decode(&txs); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if txs == nil || len(txs) != len(tc.wantKinds) {
				t.Fatalf("got %+v, want kinds %v", txs, tc.wantKinds)
			}
			for i, k := range tc.wantKinds {
				if txs[i].Kind != k {
					t.Errorf("txs[%d].Kind = %q, want %q", i, txs[i].Kind, k)
				}
			}
		})
	}

	rec := httptest.NewRecorder()
	h.ListTransactions(rec, withCaller(httptest.NewRequest(http.MethodGet, "/", nil), uuid.New(), models.RoleEmployer))
	var txs []Transaction
	_ = json.NewDecoder(rec.Body).Decode(&txs)
	if txs[0].Reference != "D2" || txs[0].Detail == "" {
		t.Errorf("expected newest unapplied deposit first with a refund note, got %+v", txs[0])
	}
}
