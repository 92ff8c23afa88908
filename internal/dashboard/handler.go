package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Stellar-cadet-s/kazi-trust/internal/apperr"
	"github.com/Stellar-cadet-s/kazi-trust/internal/auth"
	"github.com/Stellar-cadet-s/kazi-trust/internal/middleware"
	"github.com/Stellar-cadet-s/kazi-trust/internal/models"
)

// Store is the read side the dashboard needs. The Postgres repositories
// implement it together; tests use repotest.Store.
type Store interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpdateContact(ctx context.Context, id uuid.UUID, phone, ledgerAccount string) error
	ListDepositsByEmployer(ctx context.Context, employerID uuid.UUID) ([]*models.DepositRecord, error)
	ListPayoutsByEmployee(ctx context.Context, employeeID uuid.UUID) ([]*models.PayoutRecord, error)
}

// Transaction is one line of a user's money history.
type Transaction struct {
	Kind        string     `json:"kind"`
	ID          string     `json:"id"`
	ContractID  string     `json:"contract_id"`
	AmountCents int64      `json:"amount_cents"`
	Status      string     `json:"status"`
	Reference   string     `json:"reference,omitempty"`
	Detail      string     `json:"detail,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type Handler struct {
	store Store
	log   *slog.Logger
}

func NewHandler(store Store, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{store: store, log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GET /api/v1/account/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromCtx(r.Context())
	if caller == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	u, err := h.store.GetUser(r.Context(), caller.ID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			http.Error(w, "account not found", http.StatusNotFound)
			return
		}
		h.log.Error("get account failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, auth.UserToResponse(u))
}

// PATCH /api/v1/account/contact
func (h *Handler) UpdateContact(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromCtx(r.Context())
	if caller == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	u, err := h.store.GetUser(r.Context(), caller.ID)
	if err != nil {
		http.Error(w, "account not found", http.StatusNotFound)
		return
	}
	var body struct {
		Phone         *string `json:"phone"`
		LedgerAccount *string `json:"ledger_account"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if body.Phone != nil {
		phone := strings.TrimSpace(*body.Phone)
		if !models.ValidPhone(phone) {
			http.Error(w, "phone must be a Kenyan mobile number", http.StatusBadRequest)
			return
		}
		u.Phone = phone
	}
	if body.LedgerAccount != nil {
		u.LedgerAccount = strings.TrimSpace(*body.LedgerAccount)
	}
	if err := h.store.UpdateContact(r.Context(), u.ID, u.Phone, u.LedgerAccount); err != nil {
		h.log.Error("update contact failed", "error", err)
		http.Error(w, "update failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, auth.UserToResponse(u))
}

// GET /api/v1/transactions returns deposits for employers and payouts for
// employees, newest first.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromCtx(r.Context())
	if caller == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	txs := []Transaction{}
	switch caller.Role {
	case models.RoleEmployer:
		deps, err := h.store.ListDepositsByEmployer(r.Context(), caller.ID)
		if err != nil {
			h.log.Error("list deposits failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		for _, d := range deps {
			detail := ""
			if d.Status == models.DepositCompleted && !d.Applied {
				detail = "received after funding, pending refund"
			}
			txs = append(txs, Transaction{
				Kind: "deposit", ID: d.ID.String(), ContractID: d.ContractID, AmountCents: d.AmountCents,
				Status: d.Status, Reference: d.ProviderRef, Detail: detail,
				CreatedAt: d.CreatedAt, CompletedAt: d.CompletedAt,
			})
		}
	case models.RoleEmployee:
		pays, err := h.store.ListPayoutsByEmployee(r.Context(), caller.ID)
		if err != nil {
			h.log.Error("list payouts failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		for _, p := range pays {
			txs = append(txs, Transaction{
				Kind: "payout", ID: p.ID.String(), ContractID: p.ContractID, AmountCents: p.AmountCents,
				Status: p.Status, Reference: p.ProviderRef, Detail: p.FailureReason,
				CreatedAt: p.CreatedAt, CompletedAt: p.CompletedAt,
			})
		}
	}
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].CreatedAt.After(txs[j].CreatedAt) })
	writeJSON(w, http.StatusOK, txs)
}
