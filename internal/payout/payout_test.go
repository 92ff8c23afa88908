package payout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/Stellar-cadet-s/kazi-trust/internal/models"
)

type mockStore struct {
	mu         sync.Mutex
	payouts    map[uuid.UUID]models.PayoutRecord
	updates    int
	failUpdate int
}

func newMockStore(ps ...*models.PayoutRecord) *mockStore {
	s := &mockStore{payouts: make(map[uuid.UUID]models.PayoutRecord)}
	for _, p := range ps {
		s.payouts[p.ID] = *p
	}
	return s
}

func (s *mockStore) GetPayout(ctx context.Context, id uuid.UUID) (*models.PayoutRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payouts[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return &p, nil
}

func (s *mockStore) UpdatePayout(ctx context.Context, p *models.PayoutRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdate > 0 {
		s.failUpdate--
		return errors.New("connection reset")
	}
	s.payouts[p.ID] = *p
	s.updates++
	return nil
}

func (s *mockStore) get(id uuid.UUID) models.PayoutRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payouts[id]
}

type fakeClient struct {
	receipt   *Receipt
	sendErr   error
	status    string
	statusErr error
	sends     int
	lastRef   string
}

func (f *fakeClient) Send(ctx context.Context, destination string, amountCents int64, reference string) (*Receipt, error) {
	f.sends++
	f.lastRef = reference
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return f.receipt, nil
}

func (f *fakeClient) CheckStatus(ctx context.Context, providerRef string) (string, error) {
	return f.status, f.statusErr
}

func pendingPayout() *models.PayoutRecord {
	return &models.PayoutRecord{
		ID:          uuid.New(),
		ContractID:  "ESCROW_1",
		EmployeeID:  uuid.New(),
		Destination: "254712345678",
		AmountCents: 50000,
		Status:      models.PayoutPending,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]string{
		"SUCCESS":    models.PayoutCompleted,
		"completed":  models.PayoutCompleted,
		"Failed":     models.PayoutFailed,
		"reversed":   models.PayoutFailed,
		"queued":     models.PayoutPending,
		"processing": models.PayoutProcessing,
		"":           models.PayoutProcessing,
	}
	for in, want := range cases {
		if got := normalizeStatus(in); got != want {
			t.Errorf("normalizeStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIntersendClient_Send(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/payouts/send" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" || r.Header.Get("X-API-Secret") != "secret" {
			t.Errorf("missing auth headers: %v", r.Header)
		}
		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.PhoneNumber != "254712345678" || req.Amount != "500.00" || req.Currency != "KES" || req.Reference != "PAYOUT_ESCROW_1" {
			t.Errorf("unexpected payload %+v", req)
		}
		_ = json.NewEncoder(w).Encode(providerResponse{TransactionID: "TX9", Status: "processing"})
	}))
	defer srv.Close()

	c := NewIntersendClient(srv.URL, "key", "secret", "", time.Second, nil)
	rc, err := c.Send(context.Background(), "0712345678", 50000, "PAYOUT_ESCROW_1")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if rc.ProviderRef != "TX9" || rc.Status != models.PayoutProcessing {
		t.Errorf("unexpected receipt %+v", rc)
	}
}

func TestIntersendClient_Errors(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, ErrRejected},
		{http.StatusInternalServerError, ErrUnavailable},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		c := NewIntersendClient(srv.URL, "", "", "KES", time.Second, nil)
		_, err := c.CheckStatus(context.Background(), "TX1")
		if !errors.Is(err, tc.want) {
			t.Errorf("status %d: got %v, want %v", tc.status, err, tc.want)
		}
		srv.Close()
	}
}

func TestDispatcher_Completed(t *testing.T) {
	p := pendingPayout()
	store := newMockStore(p)
	client := &fakeClient{receipt: &Receipt{ProviderRef: "TX1", Status: models.PayoutCompleted}}
	enqueued := 0
	d := NewDispatcher(client, store, func(ctx context.Context, args CheckStatusArgs) error {
		enqueued++
		return nil
	}, nil, nil)

	if err := d.Dispatch(context.Background(), p); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	got := store.get(p.ID)
	if got.Status != models.PayoutCompleted || got.ProviderRef != "TX1" || got.CompletedAt == nil {
		t.Errorf("unexpected record %+v", got)
	}
	if enqueued != 0 {
		t.Errorf("completed payout should not be polled")
	}
	if client.lastRef != "PAYOUT_ESCROW_1" {
		t.Errorf("reference = %q", client.lastRef)
	}
}

func TestDispatcher_ProcessingSchedulesPoll(t *testing.T) {
	p := pendingPayout()
	store := newMockStore(p)
	client := &fakeClient{receipt: &Receipt{ProviderRef: "TX2", Status: models.PayoutPending}}
	var polled uuid.UUID
	d := NewDispatcher(client, store, func(ctx context.Context, args CheckStatusArgs) error {
		polled = args.PayoutID
		return nil
	}, nil, nil)

	if err := d.Dispatch(context.Background(), p); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got := store.get(p.ID); got.Status != models.PayoutProcessing {
		t.Errorf("status = %q, want processing", got.Status)
	}
	if polled != p.ID {
		t.Errorf("expected status poll for %s", p.ID)
	}
}

func TestDispatcher_FailureRecordsReason(t *testing.T) {
	p := pendingPayout()
	store := newMockStore(p)
	client := &fakeClient{sendErr: ErrUnavailable}
	d := NewDispatcher(client, store, nil, nil, nil)

	if err := d.Dispatch(context.Background(), p); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	got := store.get(p.ID)
	if got.Status != models.PayoutFailed || got.FailureReason == "" {
		t.Errorf("unexpected record %+v", got)
	}
}

func TestDispatcher_SkipsNonPending(t *testing.T) {
	p := pendingPayout()
	p.Status = models.PayoutCompleted
	client := &fakeClient{}
	d := NewDispatcher(client, newMockStore(p), nil, nil, nil)
	if err := d.Dispatch(context.Background(), p); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if client.sends != 0 {
		t.Errorf("expected no send, got %d", client.sends)
	}
}

func TestStatusWorker(t *testing.T) {
	cases := []struct {
		name       string
		status     string
		statusErr  error
		wantStatus string
		wantErr    bool
	}{
		{"completed", models.PayoutCompleted, nil, models.PayoutCompleted, false},
		{"failed", models.PayoutFailed, nil, models.PayoutFailed, false},
		{"still processing snoozes", models.PayoutProcessing, nil, models.PayoutProcessing, true},
		{"provider down snoozes", "", ErrUnavailable, models.PayoutProcessing, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := pendingPayout()
			p.Status = models.PayoutProcessing
			p.ProviderRef = "TX3"
			store := newMockStore(p)
			w := NewStatusWorker(store, &fakeClient{status: tc.status, statusErr: tc.statusErr}, nil, nil)

			err := w.Work(context.Background(), &river.Job[CheckStatusArgs]{Args: CheckStatusArgs{PayoutID: p.ID}})
			if (err != nil) != tc.wantErr {
				t.Fatalf("Work error = %v, wantErr %v", err, tc.wantErr)
			}
			if got := store.get(p.ID); got.Status != tc.wantStatus {
				t.Errorf("status = %q, want %q", got.Status, tc.wantStatus)
			}
		})
	}
}

func TestStatusWorker_TerminalIsNoop(t *testing.T) {
	p := pendingPayout()
	p.Status = models.PayoutCompleted
	store := newMockStore(p)
	w := NewStatusWorker(store, &fakeClient{statusErr: errors.New("must not be called")}, nil, nil)
	if err := w.Work(context.Background(), &river.Job[CheckStatusArgs]{Args: CheckStatusArgs{PayoutID: p.ID}}); err != nil {
		t.Fatalf("Work: %v", err)
	}
	if store.updates != 0 {
		t.Errorf("expected no updates, got %d", store.updates)
	}
}

func TestSendWorker_RetriesUntilOutcomeStored(t *testing.T) {
	p := pendingPayout()
	store := newMockStore(p)
	store.failUpdate = 1
	client := &fakeClient{receipt: &Receipt{ProviderRef: "TX5", Status: models.PayoutCompleted}}
	w := NewSendWorker(store, NewDispatcher(client, store, nil, nil, nil))
	job := &river.Job[SendArgs]{Args: SendArgs{PayoutID: p.ID}}

	if err := w.Work(context.Background(), job); err == nil {
		t.Fatal("expected an error so the job is retried")
	}
	if got := store.get(p.ID); got.Status != models.PayoutPending {
		t.Fatalf("status after failed store = %q, want pending", got.Status)
	}

	if err := w.Work(context.Background(), job); err != nil {
		t.Fatalf("retry: %v", err)
	}
	got := store.get(p.ID)
	if got.Status != models.PayoutCompleted || got.ProviderRef != "TX5" {
		t.Errorf("unexpected record %+v", got)
	}
	if client.sends != 2 || client.lastRef != Reference(p.ContractID) {
		t.Errorf("sends=%d ref=%q, want 2 sends with %q", client.sends, client.lastRef, Reference(p.ContractID))
	}

	if err := w.Work(context.Background(), job); err != nil {
		t.Fatalf("third run: %v", err)
	}
	if client.sends != 2 {
		t.Errorf("settled payout sent again")
	}
}

func TestStatusWorker_LeavesPendingToSender(t *testing.T) {
	p := pendingPayout()
	store := newMockStore(p)
	w := NewStatusWorker(store, &fakeClient{statusErr: errors.New("must not be called")}, nil, nil)
	if err := w.Work(context.Background(), &river.Job[CheckStatusArgs]{Args: CheckStatusArgs{PayoutID: p.ID}}); err != nil {
		t.Fatalf("Work: %v", err)
	}
	if got := store.get(p.ID); got.Status != models.PayoutPending || store.updates != 0 {
		t.Errorf("pending payout touched: %+v", got)
	}
}
