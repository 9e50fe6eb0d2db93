package error_notificator

import (
	"context"
	"fmt"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// лимит Telegram на длину сообщения
const maxMessageLen = 4096

// LogInfra пишет ошибку в серверный лог.
type LogInfra struct {
	log *zap.Logger
}

func NewLogInfra(log *zap.Logger) *LogInfra {
	return &LogInfra{log: log}
}

func (i *LogInfra) Notify(_ context.Context, jobID string, err error, details string) error {
	i.log.Error("system error",
		zap.String("job_id", jobID),
		zap.String("details", details),
		zap.Error(err),
	)
	return nil
}

// Sender is the part of tgbotapi.BotAPI the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramInfra отправляет короткий отчёт в админский чат.
type TelegramInfra struct {
	bot    Sender
	chatID int64
}

func NewTelegramInfra(token string, chatID int64) (*TelegramInfra, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramInfra{bot: bot, chatID: chatID}, nil
}

func NewTelegramInfraWithSender(bot Sender, chatID int64) *TelegramInfra {
	return &TelegramInfra{bot: bot, chatID: chatID}
}

func (i *TelegramInfra) Notify(_ context.Context, jobID string, err error, details string) error {
	text := fmt.Sprintf("❗ Ошибка конвертации (%s)\n\nОшибка: %v\n\nДетали: %s", jobID, err, details)
	text = truncate(text, maxMessageLen)

	if _, sendErr := i.bot.Send(tgbotapi.NewMessage(i.chatID, text)); sendErr != nil {
		return fmt.Errorf("telegram send: %w", sendErr)
	}
	return nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
