package services

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentForm struct {
	path   string
	chatID string
	text   string
}

func newTelegramServer(t *testing.T, status int, body string) (*httptest.Server, func() []sentForm) {
	t.Helper()

	var mu sync.Mutex
	var sent []sentForm
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		mu.Lock()
		sent = append(sent, sentForm{path: r.URL.Path, chatID: r.PostForm.Get("chat_id"), text: r.PostForm.Get("text")})
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	return srv, func() []sentForm {
		mu.Lock()
		defer mu.Unlock()
		return append([]sentForm(nil), sent...)
	}
}

func newTestTelegram(t *testing.T, srv *httptest.Server, chatID string) *TelegramService {
	t.Helper()

	tg, err := NewTelegramService(TelegramOptions{
		Token:    "123:abc",
		ChatID:   chatID,
		Endpoint: srv.URL + "/bot%s/%s",
		Timeout:  2 * time.Second,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return tg
}

const okSendMessage = `{"ok":true,"result":{"message_id":7,"date":1760540400,"chat":{"id":42,"type":"private"},"text":"hi"}}`

func TestNewTelegramServiceValidatesInput(t *testing.T) {
	t.Parallel()

	_, err := NewTelegramService(TelegramOptions{ChatID: "1"})
	require.Error(t, err)

	_, err = NewTelegramService(TelegramOptions{Token: "t"})
	require.Error(t, err)

	_, err = NewTelegramService(TelegramOptions{Token: "t", ChatID: "team-chat"})
	require.Error(t, err)

	tg, err := NewTelegramService(TelegramOptions{Token: "t", ChatID: "@sales"})
	require.NoError(t, err)
	assert.Equal(t, "@sales", tg.destination())
}

func TestTelegramNotifySendsMessageToChat(t *testing.T) {
	t.Parallel()

	srv, sent := newTelegramServer(t, http.StatusOK, okSendMessage)
	tg := newTestTelegram(t, srv, "42")

	err := tg.Notify(context.Background(), "Revenue report for 2026-10-15:")
	require.NoError(t, err)

	got := sent()
	require.Len(t, got, 1)
	assert.Equal(t, "/bot123:abc/sendMessage", got[0].path)
	assert.Equal(t, "42", got[0].chatID)
	assert.Equal(t, "Revenue report for 2026-10-15:", got[0].text)
}

func TestTelegramNotifySupportsChannelUsernames(t *testing.T) {
	t.Parallel()

	srv, sent := newTelegramServer(t, http.StatusOK, okSendMessage)
	tg := newTestTelegram(t, srv, "@sales_reports")

	require.NoError(t, tg.Notify(context.Background(), "hi"))
	assert.Equal(t, "@sales_reports", sent()[0].chatID)
}

func TestTelegramNotifyClassifiesAPIErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		body   string
		kind   NotifyKind
	}{
		{"chat not found", http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`, NotifyChatNotFound},
		{"bad request", http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: message text is empty"}`, NotifyBadRequest},
		{"unauthorized", http.StatusUnauthorized, `{"ok":false,"error_code":401,"description":"Unauthorized"}`, NotifyUnauthorized},
		{"blocked", http.StatusForbidden, `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`, NotifyUnauthorized},
		{"flood", http.StatusTooManyRequests, `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 5","parameters":{"retry_after":5}}`, NotifyAPIError},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv, _ := newTelegramServer(t, tc.status, tc.body)
			tg := newTestTelegram(t, srv, "42")

			err := tg.Notify(context.Background(), "hi")
			require.Error(t, err)
			assert.True(t, IsNotifyKind(err, tc.kind), "got %v", err)

			var notifyErr *NotifyError
			require.ErrorAs(t, err, &notifyErr)
			assert.Equal(t, tc.status, notifyErr.Code)
		})
	}
}

func TestTelegramNotifyClassifiesTransportErrors(t *testing.T) {
	t.Parallel()

	srv, _ := newTelegramServer(t, http.StatusOK, okSendMessage)
	tg := newTestTelegram(t, srv, "42")
	srv.Close()

	err := tg.Notify(context.Background(), "hi")
	require.Error(t, err)
	assert.True(t, IsNotifyKind(err, NotifyTransport), "got %v", err)
}

func TestTelegramNotifyHonoursContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = io.WriteString(w, okSendMessage)
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	tg := newTestTelegram(t, srv, "42")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := tg.Notify(ctx, "hi")
	assert.True(t, IsNotifyKind(err, NotifyTransport), "got %v", err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
