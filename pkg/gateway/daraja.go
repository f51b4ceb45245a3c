// Package gateway adapts the M-Pesa Daraja API: STK push initiation, status
// queries and callback parsing. It never touches loan state; the ledger
// drives the pending -> completed | failed transition.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	SandboxBaseURL = "https://sandbox.safaricom.co.ke"

	tokenLifetime = 55 * time.Minute
)

// Client is the payment-gateway surface the ledger depends on.
type Client interface {
	STKPush(ctx context.Context, req STKPushRequest) (*STKPushResponse, error)
	QueryStatus(ctx context.Context, checkoutRequestID string) (*StatusResponse, error)
}

type STKPushRequest struct {
	PhoneNumber      string
	Amount           decimal.Decimal
	AccountReference string
	Description      string
}

type STKPushResponse struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResponseCode      string
	CustomerMessage   string
	ChargedAmount     decimal.Decimal // Daraja only charges whole shillings
}

type StatusResponse struct {
	ResultCode string
	ResultDesc string
}

// CallbackResult is the settled outcome of an STK push, extracted from the
// asynchronous confirmation callback. ResultCode zero means success.
type CallbackResult struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	Amount            decimal.Decimal
	ReceiptNumber     string
	PhoneNumber       string
	TransactionDate   *time.Time
}

// Daraja is the live Client implementation. Access tokens are cached for 55
// minutes under a mutex; everything else is stateless.
type Daraja struct {
	consumerKey    string
	consumerSecret string
	shortcode      string
	passkey        string
	baseURL        string
	callbackURL    string
	httpClient     *http.Client
	logger         *zap.Logger
	now            func() time.Time

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

type DarajaConfig struct {
	ConsumerKey    string
	ConsumerSecret string
	Shortcode      string
	Passkey        string
	BaseURL        string
	CallbackURL    string
}

func NewDaraja(cfg DarajaConfig, logger *zap.Logger) *Daraja {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = SandboxBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Daraja{
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
		shortcode:      cfg.Shortcode,
		passkey:        cfg.Passkey,
		baseURL:        baseURL,
		callbackURL:    cfg.CallbackURL,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		logger:         logger,
		now:            time.Now,
	}
}

func (d *Daraja) token(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.accessToken != "" && d.now().Before(d.tokenExpiry) {
		return d.accessToken, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	credentials := base64.StdEncoding.EncodeToString([]byte(d.consumerKey + ":" + d.consumerSecret))
	req.Header.Set("Authorization", "Basic "+credentials)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("token request returned %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("token response contained no access token")
	}

	d.accessToken = payload.AccessToken
	d.tokenExpiry = d.now().Add(tokenLifetime)
	return d.accessToken, nil
}

func (d *Daraja) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(d.shortcode + d.passkey + timestamp))
}

// STKPush asks Daraja to prompt the customer's phone for payment. The
// settled amount arrives later via the confirmation callback.
func (d *Daraja) STKPush(ctx context.Context, pushReq STKPushRequest) (*STKPushResponse, error) {
	token, err := d.token(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := d.now().Format("20060102150405")
	charged := pushReq.Amount.Round(0)

	payload := map[string]any{
		"BusinessShortCode": d.shortcode,
		"Password":          d.password(timestamp),
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            charged.IntPart(),
		"PartyA":            pushReq.PhoneNumber,
		"PartyB":            d.shortcode,
		"PhoneNumber":       pushReq.PhoneNumber,
		"CallBackURL":       d.callbackURL,
		"AccountReference":  pushReq.AccountReference,
		"TransactionDesc":   pushReq.Description,
	}

	var response struct {
		MerchantRequestID string `json:"MerchantRequestID"`
		CheckoutRequestID string `json:"CheckoutRequestID"`
		ResponseCode      string `json:"ResponseCode"`
		CustomerMessage   string `json:"CustomerMessage"`
		ErrorMessage      string `json:"errorMessage"`
	}
	if err := d.post(ctx, "/mpesa/stkpush/v1/processrequest", token, payload, &response); err != nil {
		return nil, err
	}
	if response.ResponseCode != "0" {
		msg := response.ErrorMessage
		if msg == "" {
			msg = "STK push rejected"
		}
		return nil, fmt.Errorf("stk push failed: %s", msg)
	}

	d.logger.Info("stk push accepted",
		zap.String("merchant_request_id", response.MerchantRequestID),
		zap.String("checkout_request_id", response.CheckoutRequestID))

	return &STKPushResponse{
		MerchantRequestID: response.MerchantRequestID,
		CheckoutRequestID: response.CheckoutRequestID,
		ResponseCode:      response.ResponseCode,
		CustomerMessage:   response.CustomerMessage,
		ChargedAmount:     charged,
	}, nil
}

// QueryStatus asks Daraja for the current state of an STK push.
func (d *Daraja) QueryStatus(ctx context.Context, checkoutRequestID string) (*StatusResponse, error) {
	token, err := d.token(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := d.now().Format("20060102150405")
	payload := map[string]any{
		"BusinessShortCode": d.shortcode,
		"Password":          d.password(timestamp),
		"Timestamp":         timestamp,
		"CheckoutRequestID": checkoutRequestID,
	}

	var response struct {
		ResultCode string `json:"ResultCode"`
		ResultDesc string `json:"ResultDesc"`
	}
	if err := d.post(ctx, "/mpesa/stkpushquery/v1/query", token, payload, &response); err != nil {
		return nil, err
	}
	return &StatusResponse{ResultCode: response.ResultCode, ResultDesc: response.ResultDesc}, nil
}

func (d *Daraja) post(ctx context.Context, path, token string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, raw)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// ParseCallback extracts the settled result from a Daraja confirmation
// callback body. Metadata items are heterogeneous, so each value is decoded
// according to the field it names; the amount goes straight into a decimal
// without passing through a binary float.
func ParseCallback(body []byte) (*CallbackResult, error) {
	var envelope struct {
		Body struct {
			StkCallback struct {
				MerchantRequestID string `json:"MerchantRequestID"`
				CheckoutRequestID string `json:"CheckoutRequestID"`
				ResultCode        int    `json:"ResultCode"`
				ResultDesc        string `json:"ResultDesc"`
				CallbackMetadata  struct {
					Item []struct {
						Name  string          `json:"Name"`
						Value json.RawMessage `json:"Value"`
					} `json:"Item"`
				} `json:"CallbackMetadata"`
			} `json:"stkCallback"`
		} `json:"Body"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse callback: %w", err)
	}

	callback := envelope.Body.StkCallback
	if callback.CheckoutRequestID == "" {
		return nil, fmt.Errorf("callback has no checkout request ID")
	}

	result := &CallbackResult{
		MerchantRequestID: callback.MerchantRequestID,
		CheckoutRequestID: callback.CheckoutRequestID,
		ResultCode:        callback.ResultCode,
		ResultDesc:        callback.ResultDesc,
	}

	for _, item := range callback.CallbackMetadata.Item {
		if len(item.Value) == 0 {
			continue
		}
		switch item.Name {
		case "Amount":
			var amount decimal.Decimal
			if err := json.Unmarshal(item.Value, &amount); err != nil {
				return nil, fmt.Errorf("failed to parse callback amount: %w", err)
			}
			result.Amount = amount
		case "MpesaReceiptNumber":
			var receipt string
			if err := json.Unmarshal(item.Value, &receipt); err != nil {
				return nil, fmt.Errorf("failed to parse receipt number: %w", err)
			}
			result.ReceiptNumber = receipt
		case "PhoneNumber":
			var phone json.Number
			if err := json.Unmarshal(item.Value, &phone); err != nil {
				// Some tenants deliver the phone as a string.
				var s string
				if err := json.Unmarshal(item.Value, &s); err != nil {
					return nil, fmt.Errorf("failed to parse phone number: %w", err)
				}
				result.PhoneNumber = s
				continue
			}
			result.PhoneNumber = phone.String()
		case "TransactionDate":
			var raw json.Number
			if err := json.Unmarshal(item.Value, &raw); err != nil {
				continue
			}
			if parsed, err := time.Parse("20060102150405", raw.String()); err == nil {
				result.TransactionDate = &parsed
			}
		}
	}
	return result, nil
}
