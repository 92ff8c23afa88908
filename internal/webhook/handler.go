// Package webhook receives deposit notifications from payment providers and
// hands them to the escrow reconciler. Signature checks run in middleware
// before these handlers see the body.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Stellar-cadet-s/kazi-trust/internal/apperr"
	"github.com/Stellar-cadet-s/kazi-trust/internal/ledger"
	"github.com/Stellar-cadet-s/kazi-trust/internal/metrics"
	"github.com/Stellar-cadet-s/kazi-trust/internal/models"
)

const (
	ProviderPaystack = "paystack"
	ProviderMpesa    = "mpesa"
	ProviderGeneric  = "generic"

	paystackChargeSuccess = "charge.success"
	maxBody               = 1 << 20
)

// Reconciler credits a provider deposit to an escrow contract.
// *escrow.Reconciler implements it.
type Reconciler interface {
	OnDeposit(ctx context.Context, providerRef string, amountCents int64, destination string) (*models.DepositRecord, error)
}

type Handler struct {
	rec            Reconciler
	currency       string
	paystackSchema *jsonschema.Schema
	mpesaSchema    *jsonschema.Schema
	depositSchema  *jsonschema.Schema
	metrics        *metrics.Escrow
	log            *slog.Logger
}

// NewHandler compiles the embedded payload schemas. currency is the only
// Paystack currency credited; other charges are acknowledged and ignored.
func NewHandler(rec Reconciler, currency string, m *metrics.Escrow, log *slog.Logger) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if currency == "" {
		currency = models.DefaultAsset
	}
	ps, err := compileSchema("paystack_event.json")
	if err != nil {
		return nil, err
	}
	ms, err := compileSchema("mpesa_c2b.json")
	if err != nil {
		return nil, err
	}
	ds, err := compileSchema("deposit.json")
	if err != nil {
		return nil, err
	}
	return &Handler{
		rec:            rec,
		currency:       strings.ToUpper(currency),
		paystackSchema: ps,
		mpesaSchema:    ms,
		depositSchema:  ds,
		metrics:        m,
		log:            log,
	}, nil
}

type paystackEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string          `json:"reference"`
		Amount    int64           `json:"amount"`
		Currency  string          `json:"currency"`
		Metadata  json.RawMessage `json:"metadata"`
	} `json:"data"`
}

type paystackMetadata struct {
	ContractID string `json:"contract_id"`
}

// mpesaConfirmation is the C2B confirmation Safaricom posts for a paybill
// payment. BillRefNumber is the account number the payer typed.
type mpesaConfirmation struct {
	TransID       string      `json:"TransID"`
	TransAmount   json.Number `json:"TransAmount"`
	BillRefNumber string      `json:"BillRefNumber"`
	MSISDN        string      `json:"MSISDN"`
}

type mpesaResponse struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
	Status     string `json:"status"`
}

// DepositRequest is the body of the provider-neutral deposit webhook.
type DepositRequest struct {
	ProviderRef          string `json:"provider_ref"`
	AmountCents          int64  `json:"amount_cents"`
	DestinationReference string `json:"destination_reference"`
}

type depositResponse struct {
	Status  string                `json:"status"`
	Deposit *models.DepositRecord `json:"deposit,omitempty"`
}

// Paystack handles POST /webhooks/deposits/paystack. Only charge.success
// credits; the payment reference is the idempotency key and the contract is
// taken from metadata.contract_id, falling back to the reference itself.
func (h *Handler) Paystack(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.readBody(w, r, ProviderPaystack)
	if !ok {
		return
	}
	if err := validate(h.paystackSchema, raw); err != nil {
		h.reject(w, ProviderPaystack, http.StatusBadRequest, err)
		return
	}
	var ev paystackEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		h.reject(w, ProviderPaystack, http.StatusBadRequest, err)
		return
	}
	if ev.Event != paystackChargeSuccess {
		h.ack(w, ProviderPaystack, "ignored", nil)
		return
	}
	if cur := strings.ToUpper(ev.Data.Currency); cur != "" && cur != h.currency {
		h.log.Warn("paystack charge in unexpected currency ignored", "reference", ev.Data.Reference, "currency", cur)
		h.ack(w, ProviderPaystack, "ignored", nil)
		return
	}

	destination := ev.Data.Reference
	var meta paystackMetadata
	if len(ev.Data.Metadata) > 0 && json.Unmarshal(ev.Data.Metadata, &meta) == nil && meta.ContractID != "" {
		destination = meta.ContractID
	}

	dep, err := h.rec.OnDeposit(r.Context(), ev.Data.Reference, ev.Data.Amount, destination)
	if errors.Is(err, apperr.ErrNotFound) {
		// Paystack redelivers anything but 2xx; an unknown contract never resolves.
		h.log.Warn("paystack deposit for unknown contract", "reference", ev.Data.Reference, "destination", destination)
		h.ack(w, ProviderPaystack, "unmatched", nil)
		return
	}
	if errors.Is(err, apperr.ErrConflict) {
		// The reference was already credited with different details; redelivery
		// cannot change that.
		h.log.Warn("paystack deposit conflicts with recorded deposit", "reference", ev.Data.Reference, "destination", destination, "error", err)
		h.ack(w, ProviderPaystack, "conflict", nil)
		return
	}
	h.respond(w, ProviderPaystack, dep, err)
}

// Mpesa handles POST /webhooks/deposits/mpesa, the paybill C2B confirmation.
// TransID is the idempotency key and BillRefNumber names the contract.
// Outcomes that redelivery cannot change are acknowledged with ResultCode 0.
func (h *Handler) Mpesa(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.readBody(w, r, ProviderMpesa)
	if !ok {
		return
	}
	if err := validate(h.mpesaSchema, raw); err != nil {
		h.reject(w, ProviderMpesa, http.StatusBadRequest, err)
		return
	}
	var c mpesaConfirmation
	if err := json.Unmarshal(raw, &c); err != nil {
		h.reject(w, ProviderMpesa, http.StatusBadRequest, err)
		return
	}
	cents, err := ledger.ParseAmount(c.TransAmount.String())
	if err != nil || cents <= 0 {
		h.reject(w, ProviderMpesa, http.StatusBadRequest, fmt.Errorf("invalid TransAmount %q", c.TransAmount))
		return
	}
	destination := billReference(c.BillRefNumber)

	dep, err := h.rec.OnDeposit(r.Context(), c.TransID, cents, destination)
	switch {
	case err == nil:
		status := "credited"
		if !dep.Applied {
			status = "recorded"
		}
		h.mpesaAck(w, status)
	case errors.Is(err, apperr.ErrNotFound):
		h.log.Warn("mpesa deposit for unknown account", "trans_id", c.TransID, "bill_ref", c.BillRefNumber)
		h.mpesaAck(w, "unmatched")
	case errors.Is(err, apperr.ErrConflict):
		h.log.Warn("mpesa deposit conflicts with recorded deposit", "trans_id", c.TransID, "bill_ref", c.BillRefNumber, "error", err)
		h.mpesaAck(w, "conflict")
	default:
		h.respond(w, ProviderMpesa, nil, err)
	}
}

// billReference tidies a typed paybill account number. Contract ids are
// upper case but payers often type them in lower case.
func billReference(ref string) string {
	ref = strings.TrimSpace(ref)
	if len(ref) >= len(ledger.ContractIDPrefix) && strings.EqualFold(ref[:len(ledger.ContractIDPrefix)], ledger.ContractIDPrefix) {
		return strings.ToUpper(ref)
	}
	return ref
}

func (h *Handler) mpesaAck(w http.ResponseWriter, status string) {
	h.metrics.Webhook(ProviderMpesa, http.StatusOK)
	writeJSON(w, http.StatusOK, mpesaResponse{ResultCode: 0, ResultDesc: "Accepted", Status: status})
}

// Deposit handles POST /webhooks/deposits with a DepositRequest body.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.readBody(w, r, ProviderGeneric)
	if !ok {
		return
	}
	if err := validate(h.depositSchema, raw); err != nil {
		h.reject(w, ProviderGeneric, http.StatusBadRequest, err)
		return
	}
	var req DepositRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		h.reject(w, ProviderGeneric, http.StatusBadRequest, err)
		return
	}
	dep, err := h.rec.OnDeposit(r.Context(), req.ProviderRef, req.AmountCents, req.DestinationReference)
	h.respond(w, ProviderGeneric, dep, err)
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request, provider string) ([]byte, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		h.reject(w, provider, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return nil, false
	}
	return raw, true
}

// respond maps the reconciler outcome to a status. Duplicates come back as
// success; ExternalUnavailable answers 503 so the provider redelivers.
func (h *Handler) respond(w http.ResponseWriter, provider string, dep *models.DepositRecord, err error) {
	if err == nil {
		status := "credited"
		if !dep.Applied {
			status = "recorded"
		}
		h.ack(w, provider, status, dep)
		return
	}
	code := apperr.HTTPStatus(err)
	if code == http.StatusServiceUnavailable {
		h.log.Warn("deposit deferred, provider should redeliver", "provider", provider, "error", err)
	}
	h.reject(w, provider, code, err)
}

func (h *Handler) ack(w http.ResponseWriter, provider, status string, dep *models.DepositRecord) {
	h.metrics.Webhook(provider, http.StatusOK)
	writeJSON(w, http.StatusOK, depositResponse{Status: status, Deposit: dep})
}

func (h *Handler) reject(w http.ResponseWriter, provider string, code int, err error) {
	h.metrics.Webhook(provider, code)
	if code >= http.StatusInternalServerError && code != http.StatusServiceUnavailable {
		h.log.Error("deposit webhook failed", "provider", provider, "error", err)
		writeJSON(w, code, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
