package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const defaultTelegramTimeout = 15 * time.Second

type TelegramOptions struct {
	Token string
	// ChatID is a numeric chat id or an @channel username.
	ChatID string
	// Endpoint is a tgbotapi endpoint format ("https://host/bot%s/%s").
	Endpoint string
	Timeout  time.Duration
	Logger   *slog.Logger
}

// TelegramService sends plain-text messages to one fixed chat.
type TelegramService struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	channel string
	timeout time.Duration
	logger  *slog.Logger
}

func NewTelegramService(opts TelegramOptions) (*TelegramService, error) {
	token := strings.TrimSpace(opts.Token)
	if token == "" {
		return nil, errors.New("telegram: bot token must be set")
	}
	chat := strings.TrimSpace(opts.ChatID)
	if chat == "" {
		return nil, errors.New("telegram: chat id must be set")
	}

	t := &TelegramService{
		timeout: opts.Timeout,
		logger:  opts.Logger,
	}
	if t.timeout <= 0 {
		t.timeout = defaultTelegramTimeout
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}

	if id, err := strconv.ParseInt(chat, 10, 64); err == nil {
		t.chatID = id
	} else if strings.HasPrefix(chat, "@") {
		t.channel = chat
	} else {
		return nil, fmt.Errorf("telegram: chat id %q is neither numeric nor @channel", chat)
	}

	// Без GetMe: неверный токен должен всплывать на отправке, а не на старте.
	t.bot = &tgbotapi.BotAPI{
		Token:  token,
		Client: &http.Client{Timeout: t.timeout},
		Buffer: 100,
	}
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	t.bot.SetAPIEndpoint(endpoint)
	return t, nil
}

// Notify delivers text to the configured chat. Failures are *NotifyError.
func (t *TelegramService) Notify(ctx context.Context, text string) error {
	msg := t.message(text)
	t.logger.Info("[tg][send] start", "chat", t.destination(), "chars", len(text))

	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(msg)
		done <- err
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		notifyErr := classifyTelegramError(err)
		t.logger.Error("[tg][send] failed", "chat", t.destination(), "kind", string(notifyErr.Kind), "code", notifyErr.Code, "error", notifyErr.Error())
		return notifyErr
	}

	t.logger.Info("[tg][send] finished", "chat", t.destination())
	return nil
}

func (t *TelegramService) message(text string) tgbotapi.MessageConfig {
	var msg tgbotapi.MessageConfig
	if t.channel != "" {
		msg = tgbotapi.NewMessageToChannel(t.channel, text)
	} else {
		msg = tgbotapi.NewMessage(t.chatID, text)
	}
	msg.DisableWebPagePreview = true
	return msg
}

func (t *TelegramService) destination() string {
	if t.channel != "" {
		return t.channel
	}
	return strconv.FormatInt(t.chatID, 10)
}

func classifyTelegramError(err error) *NotifyError {
	apiErr, ok := asTelegramAPIError(err)
	if !ok {
		return &NotifyError{Kind: NotifyTransport, Message: "telegram request failed", Err: err}
	}

	desc := strings.ToLower(apiErr.Message)
	kind := NotifyAPIError
	switch {
	case strings.Contains(desc, "chat not found"):
		kind = NotifyChatNotFound
	// 404 is what Telegram answers for a malformed or revoked token; 403 means
	// the bot was blocked or kicked and can no longer speak for this chat.
	case apiErr.Code == http.StatusUnauthorized,
		apiErr.Code == http.StatusForbidden,
		apiErr.Code == http.StatusNotFound:
		kind = NotifyUnauthorized
	case apiErr.Code == http.StatusBadRequest:
		kind = NotifyBadRequest
	}
	return &NotifyError{
		Kind:    kind,
		Code:    apiErr.Code,
		Message: "telegram rejected sendMessage",
		Err:     err,
	}
}

func asTelegramAPIError(err error) (*tgbotapi.Error, bool) {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr != nil {
		return apiErr, true
	}
	return nil, false
}
