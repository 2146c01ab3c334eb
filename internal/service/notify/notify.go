// Package notify pushes run summaries and reports to an operator.
package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/possync/reconcile/pkg/clients/whatsapp"
)

// Sender delivers a text notification.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Nop drops every notification.
type Nop struct{}

func (Nop) Send(context.Context, string) error { return nil }

// WhatsApp sends notifications to a single recipient.
type WhatsApp struct {
	client whatsapp.Client
	to     string
	logger *zap.Logger
}

func NewWhatsApp(client whatsapp.Client, to string, logger *zap.Logger) *WhatsApp {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WhatsApp{client: client, to: to, logger: logger}
}

// maxBody is the WhatsApp text message limit.
const maxBody = 4096

func (w *WhatsApp) Send(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	if runes := []rune(text); len(runes) > maxBody {
		text = string(runes[:maxBody-1]) + "…"
	}
	resp, err := w.client.SendTextMessage(ctx, whatsapp.SendTextMessageRequest{To: w.to, Body: text})
	if err != nil {
		return fmt.Errorf("notify %s: %w", w.to, err)
	}
	if len(resp.Messages) > 0 {
		w.logger.Debug("notification sent", zap.String("message_id", resp.Messages[0].ID))
	}
	return nil
}
