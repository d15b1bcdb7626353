// ABOUTME: Telegram bot API adapter using long polling
// ABOUTME: getUpdates loop with offset tracking, sendMessage and sendChatAction

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// TelegramAdapter speaks the Telegram bot API. The conversation ID is the
// chat ID in decimal; the message_id doubles as the platform sequence
// number for the status classifier.
type TelegramAdapter struct {
	baseURL     string
	token       string
	pollTimeout time.Duration
	http        *http.Client
	logger      *slog.Logger

	offset int64
}

// NewTelegramAdapter creates a Telegram long-poll adapter. baseURL
// defaults to the public bot API when empty.
func NewTelegramAdapter(baseURL, token string, pollTimeout time.Duration, logger *slog.Logger) *TelegramAdapter {
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	if pollTimeout <= 0 {
		pollTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramAdapter{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		pollTimeout: pollTimeout,
		http:        &http.Client{Timeout: pollTimeout + 10*time.Second},
		logger:      logger.With("component", "messaging", "platform", "telegram"),
	}
}

// Name implements Adapter.
func (a *TelegramAdapter) Name() string { return "telegram" }

type tgUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64  `json:"message_id"`
		Date      int64  `json:"date"`
		Text      string `json:"text"`
		Chat      struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		From struct {
			ID int64 `json:"id"`
		} `json:"from"`
	} `json:"message"`
}

type tgUpdatesResponse struct {
	OK     bool       `json:"ok"`
	Result []tgUpdate `json:"result"`
}

type tgOKResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Run long-polls getUpdates until ctx is cancelled. Transient failures
// back off and retry; only context cancellation ends the loop.
func (a *TelegramAdapter) Run(ctx context.Context, handle Handler) error {
	a.logger.Info("long-poll loop starting")
	for {
		updates, err := a.getUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !isPollTimeout(err) {
				a.logger.Warn("getUpdates failed, backing off", "error", err)
				select {
				case <-time.After(3 * time.Second):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			continue
		}

		for _, u := range updates {
			if u.Message == nil || strings.TrimSpace(u.Message.Text) == "" {
				continue
			}
			handle(ctx, &Inbound{
				ConversationID: strconv.FormatInt(u.Message.Chat.ID, 10),
				UserID:         strconv.FormatInt(u.Message.From.ID, 10),
				Text:           u.Message.Text,
				Sequence:       u.Message.MessageID,
				UpdateID:       u.UpdateID,
				Timestamp:      time.Unix(u.Message.Date, 0),
			})
		}
	}
}

func (a *TelegramAdapter) getUpdates(ctx context.Context) ([]tgUpdate, error) {
	url := fmt.Sprintf("%s/bot%s/getUpdates?timeout=%d", a.baseURL, a.token, int(a.pollTimeout.Seconds()))
	if a.offset > 0 {
		url += fmt.Sprintf("&offset=%d", a.offset)
	}

	reqCtx, cancel := context.WithTimeout(ctx, a.pollTimeout+5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("telegram http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out tgUpdatesResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if !out.OK {
		return nil, fmt.Errorf("telegram getUpdates: ok=false")
	}

	for _, u := range out.Result {
		if u.UpdateID >= a.offset {
			a.offset = u.UpdateID + 1
		}
	}
	return out.Result, nil
}

// SendMessage implements Adapter.
func (a *TelegramAdapter) SendMessage(ctx context.Context, conversationID, text string) error {
	chatID, err := strconv.ParseInt(conversationID, 10, 64)
	if err != nil {
		return fmt.Errorf("bad conversation id %q: %w", conversationID, err)
	}
	return a.post(ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
}

// SendTyping implements Adapter.
func (a *TelegramAdapter) SendTyping(ctx context.Context, conversationID string) error {
	chatID, err := strconv.ParseInt(conversationID, 10, 64)
	if err != nil {
		return fmt.Errorf("bad conversation id %q: %w", conversationID, err)
	}
	return a.post(ctx, "sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  "typing",
	})
}

func (a *TelegramAdapter) post(ctx context.Context, method string, body map[string]any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/%s", a.baseURL, a.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	var out tgOKResponse
	_ = json.Unmarshal(raw, &out)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !out.OK {
		desc := strings.TrimSpace(out.Description)
		if desc == "" {
			desc = strings.TrimSpace(string(raw))
		}
		return fmt.Errorf("telegram %s http %d: %s", method, resp.StatusCode, desc)
	}
	return nil
}

func isPollTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
