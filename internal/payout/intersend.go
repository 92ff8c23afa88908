package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Stellar-cadet-s/kazi-trust/internal/ledger"
	"github.com/Stellar-cadet-s/kazi-trust/internal/models"
)

const defaultTimeout = 30 * time.Second

// IntersendClient sends mobile-money payouts through the Intersend API.
type IntersendClient struct {
	apiURL     string
	apiKey     string
	apiSecret  string
	currency   string
	httpClient *http.Client
	log        *slog.Logger
}

func NewIntersendClient(apiURL, apiKey, apiSecret, currency string, timeout time.Duration, log *slog.Logger) *IntersendClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if currency == "" {
		currency = models.DefaultAsset
	}
	if log == nil {
		log = slog.Default()
	}
	return &IntersendClient{
		apiURL:     strings.TrimRight(apiURL, "/"),
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		currency:   currency,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

var _ Client = (*IntersendClient)(nil)

type sendRequest struct {
	PhoneNumber string `json:"phone_number"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Reference   string `json:"reference"`
}

type providerResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

func (c *IntersendClient) Send(ctx context.Context, destination string, amountCents int64, reference string) (*Receipt, error) {
	phone := models.NormalizePhone(destination)
	if phone == "" {
		return nil, fmt.Errorf("%w: empty destination", ErrRejected)
	}
	if reference == "" {
		reference = "PAYOUT_" + phone
	}
	var out providerResponse
	if err := c.do(ctx, http.MethodPost, "/payouts/send", sendRequest{
		PhoneNumber: phone,
		Amount:      ledger.FormatAmount(amountCents),
		Currency:    c.currency,
		Reference:   reference,
	}, &out); err != nil {
		return nil, err
	}
	ref := out.TransactionID
	if ref == "" {
		ref = reference
	}
	c.log.Info("mobile money payout initiated", "provider_ref", ref, "status", out.Status)
	return &Receipt{ProviderRef: ref, Status: normalizeStatus(out.Status)}, nil
}

func (c *IntersendClient) CheckStatus(ctx context.Context, providerRef string) (string, error) {
	var out providerResponse
	if err := c.do(ctx, http.MethodGet, "/payouts/"+url.PathEscape(providerRef), nil, &out); err != nil {
		return "", err
	}
	return normalizeStatus(out.Status), nil
}

func (c *IntersendClient) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: marshal: %v", ErrRejected, err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, rdr)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.apiSecret != "" {
		req.Header.Set("X-API-Secret", c.apiSecret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error("payout call failed", "path", path, "error", err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.log.Error("payout call returned error", "path", path, "status", resp.StatusCode, "body", string(msg))
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
		}
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	return nil
}
