package error_notificator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func TestService_Notify(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	sender := &fakeSender{}

	svc := NewService(
		NewLogInfra(zap.New(core)),
		NewTelegramInfraWithSender(sender, 42),
	)

	err := svc.Notify(context.Background(), "job-1", errors.New("disk full"), "finalize archive")
	require.NoError(t, err)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "system error", entry.Message)
	assert.Equal(t, "job-1", entry.ContextMap()["job_id"])

	require.Len(t, sender.sent, 1)
	assert.Equal(t, int64(42), sender.sent[0].ChatID)
	assert.Contains(t, sender.sent[0].Text, "job-1")
	assert.Contains(t, sender.sent[0].Text, "disk full")
}

func TestService_NotifyCollectsErrors(t *testing.T) {
	boom := errors.New("telegram down")
	svc := NewService(
		NewLogInfra(zap.NewNop()),
		NewTelegramInfraWithSender(&fakeSender{err: boom}, 1),
	)

	err := svc.Notify(context.Background(), "job", errors.New("x"), "")
	assert.ErrorIs(t, err, boom)
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("я", maxMessageLen+10)
	out := truncate(long, maxMessageLen)
	assert.Equal(t, maxMessageLen, utf8.RuneCountInString(out))
	assert.Equal(t, "short", truncate("short", maxMessageLen))
}
