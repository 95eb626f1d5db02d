// Package sms sends text messages through the sms-prosto HTTP API.
package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBaseURL = "http://api.sms-prosto.ru"
	maxTextLength  = 737
	maxPhoneDigits = 11
	// priorityCode is the provider's highest priority, reserved for verification codes.
	priorityCode = 1
)

// ProviderError is a non-zero err_code answered by the provider
type ProviderError struct {
	Code int
	Text string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("sms provider error %d: %s", e.Code, e.Text)
}

type sendResponse struct {
	Response struct {
		Msg struct {
			ErrCode json.Number `json:"err_code"`
			Text    string      `json:"text"`
			Type    string      `json:"type"`
		} `json:"msg"`
	} `json:"response"`
}

// Client sends SMS, or only logs them in dry-run mode
type Client struct {
	APIKey  string
	Sender  string
	DryRun  bool
	BaseURL string

	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a client. An empty apiKey forces dry-run mode.
func NewClient(apiKey, sender string, dryRun bool, logger *zap.Logger) *Client {
	return &Client{
		APIKey:     apiKey,
		Sender:     sender,
		DryRun:     dryRun || apiKey == "",
		BaseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// Send delivers text to phone.
func (c *Client) Send(ctx context.Context, phone, text string) error {
	if len(text) > maxTextLength || len(phone) > maxPhoneDigits || phone == "" {
		return fmt.Errorf("sms: incorrect input, check message or phone length")
	}

	if c.DryRun {
		c.logger.Info("sms_dry_run", zap.String("phone", phone), zap.String("sender", c.Sender), zap.String("text", text))
		return nil
	}

	params := url.Values{
		"method":      {"push_msg"},
		"format":      {"json"},
		"key":         {c.APIKey},
		"text":        {text},
		"phone":       {phone},
		"sender_name": {c.Sender},
		"priority":    {strconv.Itoa(priorityCode)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send sms request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sms provider returned status %d", resp.StatusCode)
	}

	var result sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("parse sms response: %w", err)
	}
	code, err := strconv.Atoi(result.Response.Msg.ErrCode.String())
	if err != nil {
		return fmt.Errorf("parse sms err_code %q: %w", result.Response.Msg.ErrCode, err)
	}
	if code != 0 {
		return &ProviderError{Code: code, Text: result.Response.Msg.Text}
	}
	return nil
}
