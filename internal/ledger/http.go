package ledger

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
)

// DefaultTimeout bounds every contract-service call.
const DefaultTimeout = 30 * time.Second

// HTTPClient talks to the escrow contract service.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	log        *slog.Logger
}

// NewHTTPClient returns a client for the contract service at baseURL.
// timeout <= 0 selects DefaultTimeout.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration, log *slog.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

var _ Client = (*HTTPClient)(nil)

type createRequest struct {
	EmployerAccount string `json:"employer_account"`
	Amount          string `json:"amount"`
	AssetCode       string `json:"asset_code"`
	JobID           string `json:"job_id,omitempty"`
}

type createResponse struct {
	ContractID string `json:"contract_id"`
}

type fundRequest struct {
	ContractID      string `json:"contract_id"`
	Amount          string `json:"amount"`
	TransactionHash string `json:"transaction_hash,omitempty"`
}

type releaseRequest struct {
	ContractID      string `json:"contract_id"`
	EmployeeAccount string `json:"employee_account"`
	Amount          string `json:"amount,omitempty"`
}

type statusResponse struct {
	ContractID      string `json:"contract_id"`
	Status          string `json:"status"`
	Amount          string `json:"amount"`
	EmployeeAccount string `json:"employee_account"`
}

func (c *HTTPClient) Create(ctx context.Context, employerRef string, amountCents int64, asset, jobRef string) (string, error) {
	var out createResponse
	err := c.do(ctx, http.MethodPost, "/api/escrow/create", createRequest{
		EmployerAccount: employerRef,
		Amount:          FormatAmount(amountCents),
		AssetCode:       asset,
		JobID:           jobRef,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.ContractID == "" {
		return "", fmt.Errorf("%w: create returned no contract_id", ErrRejected)
	}
	c.log.Info("escrow contract created", "contract_id", out.ContractID)
	return out.ContractID, nil
}

func (c *HTTPClient) Fund(ctx context.Context, contractID string, amountCents int64, proof string) error {
	if err := c.do(ctx, http.MethodPost, "/api/escrow/fund", fundRequest{
		ContractID:      contractID,
		Amount:          FormatAmount(amountCents),
		TransactionHash: proof,
	}, nil); err != nil {
		return err
	}
	c.log.Info("escrow contract funded", "contract_id", contractID)
	return nil
}

func (c *HTTPClient) Release(ctx context.Context, contractID, beneficiary string, releaseCents int64) error {
	req := releaseRequest{ContractID: contractID, EmployeeAccount: beneficiary}
	if releaseCents > 0 {
		req.Amount = FormatAmount(releaseCents)
	}
	if err := c.do(ctx, http.MethodPost, "/api/escrow/release", req, nil); err != nil {
		return err
	}
	c.log.Info("escrow contract released", "contract_id", contractID, "beneficiary", beneficiary)
	return nil
}

func (c *HTTPClient) Cancel(ctx context.Context, contractID string) error {
	if err := c.do(ctx, http.MethodPost, "/api/escrow/"+url.PathEscape(contractID)+"/cancel", nil, nil); err != nil {
		return err
	}
	c.log.Info("escrow contract cancelled", "contract_id", contractID)
	return nil
}

func (c *HTTPClient) Status(ctx context.Context, contractID string) (*Status, error) {
	var out statusResponse
	if err := c.do(ctx, http.MethodGet, "/api/escrow/"+url.PathEscape(contractID), nil, &out); err != nil {
		return nil, err
	}
	st := &Status{
		ContractID:  contractID,
		State:       strings.ToLower(out.Status),
		Beneficiary: out.EmployeeAccount,
	}
	if out.Amount != "" {
		amt, err := ParseAmount(out.Amount)
		if err != nil {
			return nil, fmt.Errorf("%w: status amount: %v", ErrRejected, err)
		}
		st.AmountCents = amt
	}
	return st, nil
}

// do sends one request. Transport errors, timeouts and gateway errors are
// reported as ErrOutcomeUnknown; other non-2xx answers as ErrRejected.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: marshal: %v", ErrRejected, err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error("ledger call failed", "method", method, "path", path, "error", err)
		return fmt.Errorf("%w: %s %s: %v", ErrOutcomeUnknown, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.log.Error("ledger call returned error", "method", method, "path", path, "status", resp.StatusCode, "body", string(msg))
		switch resp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrUnknownContract, path)
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return fmt.Errorf("%w: %s %s: status %d", ErrOutcomeUnknown, method, path, resp.StatusCode)
		default:
			return fmt.Errorf("%w: %s %s: status %d", ErrRejected, method, path, resp.StatusCode)
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrOutcomeUnknown, path, err)
	}
	return nil
}
