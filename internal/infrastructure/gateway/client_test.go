package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/domain/payment"
)

func TestCreateIntent(t *testing.T) {
	var gotPath, gotUser, gotPass string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"gw_order_1"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key-1", "secret-1", WithHTTPClient(srv.Client()))
	intent, err := c.CreateIntent(context.Background(), 9000, "INR")
	require.NoError(t, err)

	assert.Equal(t, "gw_order_1", intent.GatewayOrderID)
	assert.Equal(t, "/v1/orders", gotPath)
	assert.Equal(t, "key-1", gotUser)
	assert.Equal(t, "secret-1", gotPass)
	assert.Equal(t, float64(9000), gotBody["amount"])
	assert.Equal(t, "INR", gotBody["currency"])
}

func TestRefundSendsIdempotencyKey(t *testing.T) {
	var gotPath, gotKey string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-Idempotency-Key")
		_, _ = w.Write([]byte(`{"id":"rfnd_1"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key-1", "secret-1", WithHTTPClient(srv.Client()))
	receipt, err := c.Refund(context.Background(), "gw_pay_1", 9000, "INR")
	require.NoError(t, err)

	assert.Equal(t, "rfnd_1", receipt.RefundID)
	assert.Equal(t, "/v1/payments/gw_pay_1/refund", gotPath)
	assert.Equal(t, "refund-gw_pay_1", gotKey)
}

func TestRefundRequiresPaymentID(t *testing.T) {
	c := NewClient("http://unused", "key-1", "secret-1")
	_, err := c.Refund(context.Background(), "", 9000, "INR")

	var gwErr *payment.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, http.StatusBadRequest, gwErr.Status)
}

func TestNon2xxBecomesGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"amount exceeds captured amount"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key-1", "secret-1", WithHTTPClient(srv.Client()))
	_, err := c.Refund(context.Background(), "gw_pay_1", 9000, "INR")

	var gwErr *payment.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, http.StatusUnprocessableEntity, gwErr.Status)
	assert.Equal(t, "amount exceeds captured amount", gwErr.Message)
}

func TestTransportErrorIsNotGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	c := NewClient(srv.URL, "key-1", "secret-1")
	_, err := c.CreateIntent(context.Background(), 9000, "INR")
	require.Error(t, err)

	var gwErr *payment.GatewayError
	assert.False(t, errors.As(err, &gwErr))
}
