package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/mymmrac/telego"
	telegoapi "github.com/mymmrac/telego/telegoapi"

	"github.com/aatumaykin/tfreaper/internal/bus"
	"github.com/aatumaykin/tfreaper/internal/logger"
)

// TelegramConfig holds the bot credentials and destination chat.
type TelegramConfig struct {
	Token  string
	ChatID int64
	// Quiet sends messages without the client-side notification sound.
	Quiet bool
}

// botAPI is the slice of the Telego client used by the sink. Tests
// substitute a fake.
type botAPI interface {
	GetMe(ctx context.Context) (*telego.User, error)
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// TelegramSink sends notifications to a single chat.
type TelegramSink struct {
	bot    botAPI
	chatID int64
	quiet  bool
	logger *logger.Logger
}

// NewTelegramSink validates the configuration and builds the bot client.
// No network call happens here; Verify confirms the token.
func NewTelegramSink(cfg TelegramConfig, log *logger.Logger) (*TelegramSink, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram token is required")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}

	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telegram bot: %w", err)
	}

	return &TelegramSink{
		bot:    bot,
		chatID: cfg.ChatID,
		quiet:  cfg.Quiet,
		logger: log,
	}, nil
}

// Verify confirms the token against the Bot API and logs the bot identity.
func (s *TelegramSink) Verify(ctx context.Context) error {
	me, err := s.bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("failed to get bot info: %w", err)
	}

	s.logger.Info("telegram bot initialized",
		logger.Field{Key: "bot_id", Value: me.ID},
		logger.Field{Key: "username", Value: me.Username})
	return nil
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Send(ctx context.Context, n bus.Notification) error {
	params := telego.SendMessageParams{
		ChatID:              telego.ChatID{ID: s.chatID},
		Text:                message(n),
		DisableNotification: s.quiet,
	}

	if _, err := s.bot.SendMessage(ctx, &params); err != nil {
		var apiErr *telegoapi.Error
		if errors.As(err, &apiErr) {
			return fmt.Errorf("telegram send failed (%d): %s", apiErr.ErrorCode, apiErr.Description)
		}
		return fmt.Errorf("telegram send failed: %w", err)
	}
	return nil
}

func message(n bus.Notification) string {
	title, body := render(n)
	if body == "" {
		return title
	}
	return title + "\n" + body
}
