package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-tours/meridian/internal/money"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(HTTPClientConfig{BaseURL: srv.URL, SecretKey: "sk_test"})
}

func TestGetAuthorization(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/authorizations/auth_123", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"reference": "auth_123",
			"status":    "succeeded",
			"amount":    25000,
			"currency":  "USD",
			"metadata":  map[string]string{"proposal_id": "42"},
		})
	})

	auth, err := client.GetAuthorization(context.Background(), "auth_123")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, auth.Status)
	assert.Equal(t, money.Cents(25000), auth.Amount)
	assert.Equal(t, "42", auth.Metadata["proposal_id"])
}

func TestCreateAuthorizationSendsIdempotencyKey(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-1", r.Header.Get("Idempotency-Key"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"reference": "auth_9", "status": "pending", "amount": 100, "currency": "USD",
		})
	})

	auth, err := client.CreateAuthorization(context.Background(), CreateAuthorizationRequest{
		Amount:         100,
		Currency:       "USD",
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "auth_9", auth.Ref)
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		kind   Kind
	}{
		{"server error is retryable", http.StatusBadGateway, KindRetryable},
		{"decline is terminal", http.StatusPaymentRequired, KindTerminal},
		{"bad credentials is auth", http.StatusUnauthorized, KindAuth},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_ = json.NewEncoder(w).Encode(map[string]string{"message": "nope"})
			})

			_, err := client.CreateRefund(context.Background(), RefundRequest{
				AuthorizationRef: "auth_1",
				Amount:           500,
			})
			require.Error(t, err)
			var gwErr *Error
			require.ErrorAs(t, err, &gwErr)
			assert.Equal(t, tc.kind, gwErr.Kind)
			assert.Equal(t, "nope", gwErr.Message)
		})
	}
}

func TestNetworkFailureIsRetryable(t *testing.T) {
	client := NewHTTPClient(HTTPClientConfig{BaseURL: "http://127.0.0.1:1", SecretKey: "sk"})

	_, err := client.GetAuthorization(context.Background(), "auth_1")
	require.Error(t, err)
	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.True(t, gwErr.Retryable())
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry("meridian")
	c := NewHTTPClient(HTTPClientConfig{BaseURL: "http://localhost", SecretKey: "sk"})
	reg.Register("meridian", c)

	got, err := reg.For("")
	require.NoError(t, err)
	assert.Same(t, Client(c), got)

	_, err = reg.For("unknown-brand")
	require.Error(t, err)
}
