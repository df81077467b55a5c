package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-tours/meridian/internal/money"
)

// HTTPClient talks to the payment gateway's REST API.
type HTTPClient struct {
	baseURL   string
	secretKey string
	client    *http.Client
}

// HTTPClientConfig configures one gateway account.
type HTTPClientConfig struct {
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
}

// NewHTTPClient builds a gateway client with a bounded request timeout.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		baseURL:   cfg.BaseURL,
		secretKey: cfg.SecretKey,
		client:    &http.Client{Timeout: timeout},
	}
}

type authorizationPayload struct {
	Ref      string            `json:"reference"`
	Status   string            `json:"status"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata"`
}

type refundPayload struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type errorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// CreateAuthorization creates a payment authorization. The idempotency key
// is forwarded so a retried call never charges twice; callers that do not
// provide one get a fresh key per invocation.
func (c *HTTPClient) CreateAuthorization(ctx context.Context, req CreateAuthorizationRequest) (*Authorization, error) {
	body := map[string]any{
		"amount":   int64(req.Amount),
		"currency": req.Currency,
		"metadata": req.Metadata,
	}
	key := req.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}
	headers := map[string]string{"Idempotency-Key": key}
	var out authorizationPayload
	if err := c.do(ctx, http.MethodPost, "/v1/authorizations", body, headers, &out); err != nil {
		return nil, err
	}
	return mapAuthorization(out), nil
}

// GetAuthorization retrieves the current status and metadata of an
// authorization.
func (c *HTTPClient) GetAuthorization(ctx context.Context, ref string) (*Authorization, error) {
	var out authorizationPayload
	if err := c.do(ctx, http.MethodGet, "/v1/authorizations/"+ref, nil, nil, &out); err != nil {
		return nil, err
	}
	return mapAuthorization(out), nil
}

// CreateRefund issues a partial refund against an authorization.
func (c *HTTPClient) CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error) {
	body := map[string]any{
		"authorization": req.AuthorizationRef,
		"amount":        int64(req.Amount),
		"metadata":      req.Metadata,
	}
	var out refundPayload
	if err := c.do(ctx, http.MethodPost, "/v1/refunds", body, nil, &out); err != nil {
		return nil, err
	}
	return &Refund{ID: out.ID, Status: out.Status}, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, headers map[string]string, out any) error {
	op := method + " " + path

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("gateway: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &Error{Op: op, Kind: KindRetryable, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errBody errorPayload
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return &Error{
			Op:      op,
			Status:  resp.StatusCode,
			Message: errBody.Message,
			Kind:    classify(resp.StatusCode),
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &Error{Op: op, Kind: KindRetryable, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}

func classify(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status >= 500:
		return KindRetryable
	default:
		return KindTerminal
	}
}

func mapAuthorization(p authorizationPayload) *Authorization {
	meta := p.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	return &Authorization{
		Ref:      p.Ref,
		Status:   p.Status,
		Amount:   money.Cents(p.Amount),
		Currency: p.Currency,
		Metadata: meta,
	}
}
