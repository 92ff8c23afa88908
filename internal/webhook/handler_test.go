package webhook

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/Stellar-cadet-s/kazi-trust/internal/apperr"
	"github.com/Stellar-cadet-s/kazi-trust/internal/metrics"
	"github.com/Stellar-cadet-s/kazi-trust/internal/middleware"
	"github.com/Stellar-cadet-s/kazi-trust/internal/models"
)

type depositCall struct {
	ref         string
	amount      int64
	destination string
}

type fakeReconciler struct {
	calls []depositCall
	err   error
}

func (f *fakeReconciler) OnDeposit(ctx context.Context, providerRef string, amountCents int64, destination string) (*models.DepositRecord, error) {
	f.calls = append(f.calls, depositCall{providerRef, amountCents, destination})
	if f.err != nil {
		return nil, f.err
	}
	return &models.DepositRecord{
		ID: uuid.New(), ProviderRef: providerRef, ContractID: destination,
		AmountCents: amountCents, Status: models.DepositCompleted, Applied: true,
	}, nil
}

func newTestHandler(t *testing.T, rec Reconciler) *Handler {
	t.Helper()
	h, err := NewHandler(rec, "KES", metrics.New(), nil)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return h
}

func post(fn http.HandlerFunc, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	fn(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	return rec
}

func paystackBody(event, ref string, amount int64, metadata string) string {
	return fmt.Sprintf(`{"event":%q,"data":{"id":99,"reference":%q,"amount":%d,"currency":"KES","metadata":%s}}`, event, ref, amount, metadata)
}

func TestPaystack_ChargeSuccessCredits(t *testing.T) {
	rec := &fakeReconciler{}
	h := newTestHandler(t, rec)

	resp := post(h.Paystack, paystackBody("charge.success", "T123", 50000, `{"contract_id":"ESCROW_ABC"}`))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if len(rec.calls) != 1 || rec.calls[0] != (depositCall{"T123", 50000, "ESCROW_ABC"}) {
		t.Errorf("unexpected calls %+v", rec.calls)
	}
	var body depositResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Status != "credited" {
		t.Errorf("unexpected response %+v (%v)", body, err)
	}
}

func TestPaystack_ReferenceIsContractWithoutMetadata(t *testing.T) {
	for _, meta := range []string{`null`, `""`, `{}`} {
		rec := &fakeReconciler{}
		h := newTestHandler(t, rec)
		resp := post(h.Paystack, paystackBody("charge.success", "ESCROW_XYZ", 100, meta))
		if resp.Code != http.StatusOK {
			t.Fatalf("metadata %s: expected 200, got %d: %s", meta, resp.Code, resp.Body.String())
		}
		if len(rec.calls) != 1 || rec.calls[0].destination != "ESCROW_XYZ" {
			t.Errorf("metadata %s: unexpected calls %+v", meta, rec.calls)
		}
	}
}

func TestPaystack_IgnoredEvents(t *testing.T) {
	rec := &fakeReconciler{}
	h := newTestHandler(t, rec)

	if resp := post(h.Paystack, paystackBody("transfer.success", "T1", 100, "null")); resp.Code != http.StatusOK {
		t.Errorf("other event: expected 200, got %d", resp.Code)
	}
	foreign := `{"event":"charge.success","data":{"reference":"T2","amount":100,"currency":"NGN"}}`
	if resp := post(h.Paystack, foreign); resp.Code != http.StatusOK {
		t.Errorf("foreign currency: expected 200, got %d", resp.Code)
	}
	if len(rec.calls) != 0 {
		t.Errorf("ignored events must not credit, got %+v", rec.calls)
	}
}

func TestPaystack_Outcomes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"unknown contract acknowledged", fmt.Errorf("contract x: %w", apperr.ErrNotFound), http.StatusOK},
		{"ledger down redelivers", fmt.Errorf("fund: %w", apperr.ErrExternalUnavailable), http.StatusServiceUnavailable},
		{"ref reused acknowledged", fmt.Errorf("ref: %w", apperr.ErrConflict), http.StatusOK},
		{"unexpected", fmt.Errorf("db gone"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(t, &fakeReconciler{err: tc.err})
			if resp := post(h.Paystack, paystackBody("charge.success", "T9", 100, "null")); resp.Code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, resp.Code)
			}
		})
	}
}

func TestPaystack_ConflictAckedOnce(t *testing.T) {
	rec := &fakeReconciler{err: fmt.Errorf("deposit T9: %w", apperr.ErrConflict)}
	h := newTestHandler(t, rec)
	resp := post(h.Paystack, paystackBody("charge.success", "T9", 100, "null"))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body depositResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Status != "conflict" {
		t.Errorf("unexpected response %+v (%v)", body, err)
	}
	if len(rec.calls) != 1 {
		t.Errorf("expected a single reconcile attempt, got %d", len(rec.calls))
	}
}

func TestPaystack_SchemaRejects(t *testing.T) {
	h := newTestHandler(t, &fakeReconciler{})
	for _, body := range []string{
		`{`,
		`{"event":"charge.success"}`,
		`{"event":"charge.success","data":{"reference":"","amount":100}}`,
		`{"event":"charge.success","data":{"reference":"T1","amount":"100"}}`,
		`{"event":"charge.success","data":{"reference":"T1","amount":1.5}}`,
	} {
		if resp := post(h.Paystack, body); resp.Code != http.StatusBadRequest {
			t.Errorf("body %s: expected 400, got %d", body, resp.Code)
		}
	}
}

func TestDeposit_Generic(t *testing.T) {
	rec := &fakeReconciler{}
	h := newTestHandler(t, rec)

	resp := post(h.Deposit, `{"provider_ref":"MP-1","amount_cents":2500,"destination_reference":"ESCROW_1"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if len(rec.calls) != 1 || rec.calls[0] != (depositCall{"MP-1", 2500, "ESCROW_1"}) {
		t.Errorf("unexpected calls %+v", rec.calls)
	}

	for _, body := range []string{
		`{"provider_ref":"MP-2","amount_cents":0,"destination_reference":"ESCROW_1"}`,
		`{"provider_ref":"MP-2","destination_reference":"ESCROW_1"}`,
		`{"provider_ref":"MP-2","amount_cents":5,"destination_reference":"ESCROW_1","extra":true}`,
	} {
		if resp := post(h.Deposit, body); resp.Code != http.StatusBadRequest {
			t.Errorf("body %s: expected 400, got %d", body, resp.Code)
		}
	}
	if len(rec.calls) != 1 {
		t.Errorf("invalid bodies must not reach the reconciler")
	}

	h = newTestHandler(t, &fakeReconciler{err: fmt.Errorf("contract: %w", apperr.ErrNotFound)})
	if resp := post(h.Deposit, `{"provider_ref":"MP-3","amount_cents":5,"destination_reference":"NOPE"}`); resp.Code != http.StatusNotFound {
		t.Errorf("unknown contract: expected 404, got %d", resp.Code)
	}
}

func TestPaystack_BehindSignatureMiddleware(t *testing.T) {
	rec := &fakeReconciler{}
	h := newTestHandler(t, rec)
	srv := middleware.VerifySignature("x-paystack-signature", sha512.New, "sk_test")(http.HandlerFunc(h.Paystack))

	body := paystackBody("charge.success", "T77", 100, "null")
	sig := hex.EncodeToString(middleware.Sign(sha512.New, "sk_test", []byte(body)))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/deposits/paystack", strings.NewReader(body))
	req.Header.Set("x-paystack-signature", sig)
	resp := httptest.NewRecorder()
	srv.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK || len(rec.calls) != 1 {
		t.Fatalf("signed request: code %d, calls %d", resp.Code, len(rec.calls))
	}

	req = httptest.NewRequest(http.MethodPost, "/webhooks/deposits/paystack", strings.NewReader(body))
	req.Header.Set("x-paystack-signature", strings.Repeat("0", len(sig)))
	resp = httptest.NewRecorder()
	srv.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized || len(rec.calls) != 1 {
		t.Errorf("forged request: code %d, calls %d", resp.Code, len(rec.calls))
	}
}

func mpesaBody(transID, amount, billRef string) string {
	return fmt.Sprintf(`{"TransactionType":"Pay Bill","TransID":%q,"TransTime":"20240101120000","TransAmount":%s,"BusinessShortCode":"600000","BillRefNumber":%q,"MSISDN":"254712345678","FirstName":"Amina"}`, transID, amount, billRef)
}

func TestMpesa_Credits(t *testing.T) {
	cases := []struct {
		name    string
		amount  string
		billRef string
		want    depositCall
	}{
		{"string amount", `"500.00"`, "ESCROW_ABC", depositCall{"QK1", 50000, "ESCROW_ABC"}},
		{"numeric amount", `12.5`, "ESCROW_ABC", depositCall{"QK1", 1250, "ESCROW_ABC"}},
		{"lower case account", `"10"`, " escrow_abc ", depositCall{"QK1", 1000, "ESCROW_ABC"}},
		{"job reference kept", `"10"`, "5f0c7a1e-8d3b-4c11-9e0a-3c2b1d4e5f60", depositCall{"QK1", 1000, "5f0c7a1e-8d3b-4c11-9e0a-3c2b1d4e5f60"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &fakeReconciler{}
			h := newTestHandler(t, rec)
			resp := post(h.Mpesa, mpesaBody("QK1", tc.amount, tc.billRef))
			if resp.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
			}
			if len(rec.calls) != 1 || rec.calls[0] != tc.want {
				t.Errorf("unexpected calls %+v", rec.calls)
			}
			var body mpesaResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.ResultCode != 0 || body.Status != "credited" {
				t.Errorf("unexpected response %+v (%v)", body, err)
			}
		})
	}
}

func TestMpesa_Outcomes(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		want   int
		status string
	}{
		{"unknown account acknowledged", fmt.Errorf("contract: %w", apperr.ErrNotFound), http.StatusOK, "unmatched"},
		{"conflict acknowledged", fmt.Errorf("deposit: %w", apperr.ErrConflict), http.StatusOK, "conflict"},
		{"ledger down redelivers", fmt.Errorf("fund: %w", apperr.ErrExternalUnavailable), http.StatusServiceUnavailable, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(t, &fakeReconciler{err: tc.err})
			resp := post(h.Mpesa, mpesaBody("QK2", `"100.00"`, "ESCROW_1"))
			if resp.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.Code)
			}
			if tc.status == "" {
				return
			}
			var body mpesaResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Status != tc.status {
				t.Errorf("unexpected response %+v (%v)", body, err)
			}
		})
	}
}

func TestMpesa_Rejects(t *testing.T) {
	rec := &fakeReconciler{}
	h := newTestHandler(t, rec)
	for _, body := range []string{
		`{`,
		`{"TransID":"QK3","TransAmount":"10.00"}`,
		mpesaBody("", `"10.00"`, "ESCROW_1"),
		mpesaBody("QK3", `"10.001"`, "ESCROW_1"),
		mpesaBody("QK3", `"ten"`, "ESCROW_1"),
		mpesaBody("QK3", `"0.00"`, "ESCROW_1"),
		mpesaBody("QK3", `-5`, "ESCROW_1"),
	} {
		if resp := post(h.Mpesa, body); resp.Code != http.StatusBadRequest {
			t.Errorf("body %s: expected 400, got %d", body, resp.Code)
		}
	}
	if len(rec.calls) != 0 {
		t.Errorf("invalid bodies must not reach the reconciler, got %+v", rec.calls)
	}
}
