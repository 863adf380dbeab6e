package bot

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type chattableSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Sender delivers reminder messages through the Bot API. It is kept apart
// from the polling client so its requests can carry a short HTTP timeout.
type Sender struct {
	api chattableSender
}

// NewSender creates a Bot API client whose requests give up after timeout.
func NewSender(token string, timeout time.Duration) (*Sender, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("create sender api: %w", err)
	}
	return &Sender{api: api}, nil
}

// Send posts text as an HTML message. It returns when the API answers or ctx
// ends, whichever comes first.
func (s *Sender) Send(ctx context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML

	done := make(chan error, 1)
	go func() {
		_, err := s.api.Send(msg)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send to %d: %w", chatID, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send to %d: %w", chatID, ctx.Err())
	}
}
