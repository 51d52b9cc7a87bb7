// Package gateway is the client for the outbound messaging gateway that
// delivers text messages to phone-addressed chats.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/careline/careline/internal/platform/apperr"
	"github.com/careline/careline/internal/platform/phone"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// Sender delivers a text message to an E.164 phone.
type Sender interface {
	SendText(ctx context.Context, to, body string) error
}

// ErrNotConfigured is returned when no gateway URL is set.
var ErrNotConfigured = errors.New("messaging gateway not configured")

type sendRequest struct {
	ChatID string `json:"chatId"`
	Text   string `json:"text"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type Client struct {
	http   *resty.Client
	logger zerolog.Logger
}

// NewClient builds a gateway client. Retries are disabled: a message that may
// have been delivered must not be sent twice.
func NewClient(baseURL, token string, timeout time.Duration, logger zerolog.Logger) *Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if token != "" {
		c.SetAuthToken(token)
	}
	return &Client{http: c, logger: logger.With().Str("component", "gateway").Logger()}
}

// SendText posts one message. The chat id is the bare digits of the phone
// with the "@c.us" suffix the gateway expects.
func (c *Client) SendText(ctx context.Context, to, body string) error {
	if c.http.BaseURL == "" {
		return apperr.Upstream("gateway", ErrNotConfigured)
	}
	if !phone.Valid(to) {
		return apperr.Validation("to", "invalid phone")
	}

	var failure errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(sendRequest{ChatID: ChatID(to), Text: body}).
		SetError(&failure).
		Post("/messages/text")
	if err != nil {
		c.logger.Warn().Err(err).Str("phone", phone.Mask(to)).Msg("gateway send failed")
		return apperr.Upstream("gateway", err)
	}
	if resp.IsError() {
		msg := failure.Message
		if msg == "" {
			msg = failure.Error
		}
		if msg == "" {
			msg = resp.Status()
		}
		c.logger.Warn().Int("status", resp.StatusCode()).Str("phone", phone.Mask(to)).Msg("gateway rejected message")
		return apperr.Upstream("gateway", fmt.Errorf("status %d: %s", resp.StatusCode(), msg))
	}
	return nil
}

// ChatID converts "+15551234567" to "15551234567@c.us".
func ChatID(e164 string) string {
	return strings.TrimPrefix(e164, "+") + "@c.us"
}
