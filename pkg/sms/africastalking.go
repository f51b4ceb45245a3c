// Package sms sends client notifications through the Africa's Talking
// messaging API.
package sms

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const SandboxBaseURL = "https://api.sandbox.africastalking.com"

// Sender delivers one SMS to one recipient.
type Sender interface {
	Send(phoneNumber, message string) error
}

// AfricasTalking is the live Sender. With TestMode set it logs the message
// instead of calling the API, which keeps local development free of real
// SMS traffic.
type AfricasTalking struct {
	username   string
	apiKey     string
	baseURL    string
	testMode   bool
	httpClient *http.Client
	logger     *zap.Logger
}

type Config struct {
	Username string
	APIKey   string
	BaseURL  string
	TestMode bool
}

func NewAfricasTalking(cfg Config, logger *zap.Logger) *AfricasTalking {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = SandboxBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AfricasTalking{
		username:   cfg.Username,
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		testMode:   cfg.TestMode,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

// Send delivers the message to a Kenyan phone number in any common format.
func (a *AfricasTalking) Send(phoneNumber, message string) error {
	recipient, err := FormatPhoneNumber(phoneNumber)
	if err != nil {
		return err
	}

	if a.testMode {
		a.logger.Info("sms test mode, message not sent",
			zap.String("recipient", recipient),
			zap.String("message", message))
		return nil
	}

	form := url.Values{}
	form.Set("username", a.username)
	form.Set("to", recipient)
	form.Set("message", message)

	req, err := http.NewRequest(http.MethodPost, a.baseURL+"/version1/messaging", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build sms request: %w", err)
	}
	req.Header.Set("apiKey", a.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sms request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sms gateway returned %d", resp.StatusCode)
	}

	var payload struct {
		SMSMessageData struct {
			Recipients []struct {
				Number string `json:"number"`
				Status string `json:"status"`
			} `json:"Recipients"`
		} `json:"SMSMessageData"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("failed to decode sms response: %w", err)
	}
	recipients := payload.SMSMessageData.Recipients
	if len(recipients) == 0 || recipients[0].Status != "Success" {
		status := "no recipients"
		if len(recipients) > 0 {
			status = recipients[0].Status
		}
		return fmt.Errorf("sms delivery failed: %s", status)
	}

	a.logger.Info("sms sent", zap.String("recipient", recipient))
	return nil
}

// FormatPhoneNumber normalizes a Kenyan phone number to +254 form.
func FormatPhoneNumber(phoneNumber string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phoneNumber)

	switch {
	case strings.HasPrefix(cleaned, "254") && len(cleaned) == 12:
		return "+" + cleaned, nil
	case strings.HasPrefix(cleaned, "0") && len(cleaned) == 10:
		return "+254" + cleaned[1:], nil
	case len(cleaned) == 9:
		return "+254" + cleaned, nil
	default:
		return "", fmt.Errorf("unrecognized phone number %q", phoneNumber)
	}
}
