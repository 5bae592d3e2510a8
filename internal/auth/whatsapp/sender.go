package whatsapp

import (
	"context"

	"github.com/qaaqit/identity-service/internal/logger"
)

// Sender hands an issued code to the WhatsApp delivery channel. The
// actual message delivery integration lives outside this service.
type Sender interface {
	SendCode(ctx context.Context, phone, code string) error
}

// LogSender is the stand-in used until the delivery integration is
// configured. It records that a code was issued without ever logging
// the code itself.
type LogSender struct{}

func (LogSender) SendCode(_ context.Context, phone, _ string) error {
	logger.Info("whatsapp otp issued", map[string]any{
		"phone": phone,
	})
	return nil
}
