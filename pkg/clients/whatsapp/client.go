// Package whatsapp sends operator notifications (run summaries and stock
// alerts) as plain text messages through the Meta WhatsApp Cloud API.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/possync/reconcile/internal/config"
)

// ErrInvalidRecipient is returned when the recipient is not a phone number
// in international format.
var ErrInvalidRecipient = errors.New("invalid whatsapp recipient")

// Client sends notification texts.
type Client interface {
	SendTextMessage(ctx context.Context, req SendTextMessageRequest) (*SendTextMessageResponse, error)
}

// APIClient talks to the Cloud API messages endpoint of one sender number.
type APIClient struct {
	rest     *resty.Client
	endpoint string
}

// NewClient targets <base>/<version>/<phone number id>/messages.
func NewClient(cfg config.WhatsAppConfig) *APIClient {
	rest := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/") + "/" + cfg.APIVersion).
		SetAuthToken(cfg.AccessToken).
		SetHeader("Content-Type", "application/json").
		SetTimeout(15 * time.Second)

	return &APIClient{rest: rest, endpoint: cfg.PhoneNumberID + "/messages"}
}

// SendTextMessageRequest is one notification. To may contain a leading +,
// spaces and dashes; they are stripped before sending.
type SendTextMessageRequest struct {
	To         string
	Body       string
	PreviewURL bool
}

// SendTextMessageResponse carries the ids Meta assigned to the message.
type SendTextMessageResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type textPayload struct {
	MessagingProduct string `json:"messaging_product"`
	RecipientType    string `json:"recipient_type"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body       string `json:"body"`
		PreviewURL bool   `json:"preview_url"`
	} `json:"text"`
}

type apiError struct {
	Error struct {
		Message   string `json:"message"`
		Code      int    `json:"code"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error"`
}

// NormalizeRecipient reduces a phone number to the digits the API expects.
// Numbers must carry a country code, which leaves 8 to 15 digits.
func NormalizeRecipient(raw string) (string, error) {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0, r == ' ', r == '-', r == '(', r == ')':
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidRecipient, raw)
		}
	}
	digits := b.String()
	if len(digits) < 8 || len(digits) > 15 || digits[0] == '0' {
		return "", fmt.Errorf("%w: %q", ErrInvalidRecipient, raw)
	}
	return digits, nil
}

func (c *APIClient) SendTextMessage(ctx context.Context, req SendTextMessageRequest) (*SendTextMessageResponse, error) {
	to, err := NormalizeRecipient(req.To)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Body) == "" {
		return nil, errors.New("whatsapp message body is empty")
	}

	payload := textPayload{MessagingProduct: "whatsapp", RecipientType: "individual", To: to, Type: "text"}
	payload.Text.Body = req.Body
	payload.Text.PreviewURL = req.PreviewURL

	result := new(SendTextMessageResponse)
	failure := new(apiError)
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(result).
		SetError(failure).
		Post(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("send whatsapp message: %w", err)
	}

	if resp.IsError() {
		code := resp.StatusCode()
		if failure.Error.Code != 0 {
			code = failure.Error.Code
		}
		return nil, fmt.Errorf("whatsapp api error: code=%d, message=%s, trace=%s", code, failure.Error.Message, failure.Error.FBTraceID)
	}
	if len(result.Messages) == 0 {
		return nil, fmt.Errorf("whatsapp api returned no message id (status %d)", resp.StatusCode())
	}
	return result, nil
}
