package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDaraja struct {
	tokenRequests int
	pushRequests  int
	lastPushBody  map[string]any
}

func newFakeDarajaServer(t *testing.T, state *fakeDaraja) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		state.tokenRequests++
		assert.Contains(t, r.Header.Get("Authorization"), "Basic ")
		json.NewEncoder(w).Encode(map[string]string{
			"access_token": "test-token",
			"expires_in":   "3599",
		})
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		state.pushRequests++
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&state.lastPushBody))
		json.NewEncoder(w).Encode(map[string]string{
			"MerchantRequestID": "merchant-1",
			"CheckoutRequestID": "ws_CO_0001",
			"ResponseCode":      "0",
			"CustomerMessage":   "Success. Request accepted for processing",
		})
	})
	mux.HandleFunc("/mpesa/stkpushquery/v1/query", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"ResultCode": "0",
			"ResultDesc": "The service request is processed successfully.",
		})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestDaraja(t *testing.T, state *fakeDaraja) *Daraja {
	t.Helper()
	server := newFakeDarajaServer(t, state)
	return NewDaraja(DarajaConfig{
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		Shortcode:      "174379",
		Passkey:        "passkey",
		BaseURL:        server.URL,
		CallbackURL:    "https://example.com/payments/callback",
	}, nil)
}

func TestSTKPush(t *testing.T) {
	state := &fakeDaraja{}
	d := newTestDaraja(t, state)

	resp, err := d.STKPush(context.Background(), STKPushRequest{
		PhoneNumber:      "254712345678",
		Amount:           decimal.RequireFromString("3000.00"),
		AccountReference: "NAGOLIE-a1b2c3d4",
		Description:      "Loan payment",
	})
	require.NoError(t, err)

	assert.Equal(t, "ws_CO_0001", resp.CheckoutRequestID)
	assert.Equal(t, "merchant-1", resp.MerchantRequestID)
	assert.True(t, resp.ChargedAmount.Equal(decimal.NewFromInt(3000)))

	// Daraja takes whole shillings.
	assert.EqualValues(t, 3000, state.lastPushBody["Amount"])
	assert.Equal(t, "254712345678", state.lastPushBody["PhoneNumber"])
	assert.Equal(t, "174379", state.lastPushBody["BusinessShortCode"])
	assert.Equal(t, "CustomerPayBillOnline", state.lastPushBody["TransactionType"])
	assert.Equal(t, "https://example.com/payments/callback", state.lastPushBody["CallBackURL"])
	assert.NotEmpty(t, state.lastPushBody["Password"])
}

func TestTokenCachedAcrossRequests(t *testing.T) {
	state := &fakeDaraja{}
	d := newTestDaraja(t, state)

	clock := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return clock }

	ctx := context.Background()
	req := STKPushRequest{PhoneNumber: "254712345678", Amount: decimal.NewFromInt(100)}

	_, err := d.STKPush(ctx, req)
	require.NoError(t, err)
	_, err = d.STKPush(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, state.tokenRequests)

	// Past the cache lifetime a fresh token is fetched.
	clock = clock.Add(56 * time.Minute)
	_, err = d.STKPush(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, state.tokenRequests)
	assert.Equal(t, 3, state.pushRequests)
}

func TestQueryStatus(t *testing.T) {
	state := &fakeDaraja{}
	d := newTestDaraja(t, state)

	status, err := d.QueryStatus(context.Background(), "ws_CO_0001")
	require.NoError(t, err)
	assert.Equal(t, "0", status.ResultCode)
}

func TestSTKPushRejectedResponse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"access_token": "test-token"})
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"ResponseCode": "1",
			"errorMessage": "Invalid PhoneNumber",
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	d := NewDaraja(DarajaConfig{BaseURL: server.URL}, nil)
	_, err := d.STKPush(context.Background(), STKPushRequest{
		PhoneNumber: "bad",
		Amount:      decimal.NewFromInt(100),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid PhoneNumber")
}

func TestParseCallbackSuccess(t *testing.T) {
	body := []byte(`{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "merchant-1",
				"CheckoutRequestID": "ws_CO_0001",
				"ResultCode": 0,
				"ResultDesc": "The service request is processed successfully.",
				"CallbackMetadata": {
					"Item": [
						{"Name": "Amount", "Value": 3000.00},
						{"Name": "MpesaReceiptNumber", "Value": "SGR7TY2K1M"},
						{"Name": "TransactionDate", "Value": 20250301120000},
						{"Name": "PhoneNumber", "Value": 254712345678}
					]
				}
			}
		}
	}`)

	result, err := ParseCallback(body)
	require.NoError(t, err)

	assert.Equal(t, "ws_CO_0001", result.CheckoutRequestID)
	assert.Equal(t, 0, result.ResultCode)
	assert.True(t, result.Amount.Equal(decimal.NewFromInt(3000)), "amount was %s", result.Amount)
	assert.Equal(t, "SGR7TY2K1M", result.ReceiptNumber)
	assert.Equal(t, "254712345678", result.PhoneNumber)
	require.NotNil(t, result.TransactionDate)
	assert.Equal(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), *result.TransactionDate)
}

func TestParseCallbackFailure(t *testing.T) {
	body := []byte(`{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "merchant-1",
				"CheckoutRequestID": "ws_CO_0001",
				"ResultCode": 1032,
				"ResultDesc": "Request cancelled by user"
			}
		}
	}`)

	result, err := ParseCallback(body)
	require.NoError(t, err)
	assert.Equal(t, 1032, result.ResultCode)
	assert.Equal(t, "Request cancelled by user", result.ResultDesc)
	assert.True(t, result.Amount.IsZero())
	assert.Nil(t, result.TransactionDate)
}

func TestParseCallbackStringPhone(t *testing.T) {
	body := []byte(`{
		"Body": {
			"stkCallback": {
				"CheckoutRequestID": "ws_CO_0001",
				"ResultCode": 0,
				"CallbackMetadata": {
					"Item": [{"Name": "PhoneNumber", "Value": "254712345678"}]
				}
			}
		}
	}`)

	result, err := ParseCallback(body)
	require.NoError(t, err)
	assert.Equal(t, "254712345678", result.PhoneNumber)
}

func TestParseCallbackMissingCheckoutID(t *testing.T) {
	_, err := ParseCallback([]byte(`{"Body": {"stkCallback": {}}}`))
	assert.Error(t, err)
}

func TestParseCallbackMalformed(t *testing.T) {
	_, err := ParseCallback([]byte(`not json`))
	assert.Error(t, err)
}
