// ABOUTME: Tests for the Telegram long-poll adapter
// ABOUTME: Uses a fake bot API server to exercise the update loop and outbound calls

package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_DeliversNormalizedMessages(t *testing.T) {
	var polls int
	var mu sync.Mutex
	var offsets []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/getUpdates"))
		mu.Lock()
		polls++
		offsets = append(offsets, r.URL.Query().Get("offset"))
		n := polls
		mu.Unlock()

		if n == 1 {
			w.Write([]byte(`{"ok":true,"result":[
				{"update_id":100,"message":{"message_id":7,"date":1700000000,"text":"hello","chat":{"id":42},"from":{"id":999}}},
				{"update_id":101,"message":{"message_id":8,"date":1700000001,"text":"price?","chat":{"id":42},"from":{"id":999}}}
			]}`))
			return
		}
		w.Write([]byte(`{"ok":true,"result":[]}`))
	}))
	defer srv.Close()

	a := NewTelegramAdapter(srv.URL, "test-token", 100*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	var got []*Inbound
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Run(ctx, func(ctx context.Context, msg *Inbound) {
			got = append(got, msg)
			if len(got) == 2 {
				cancel()
			}
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("messages never arrived")
	}

	require.Len(t, got, 2)
	assert.Equal(t, "42", got[0].ConversationID)
	assert.Equal(t, "999", got[0].UserID)
	assert.Equal(t, "hello", got[0].Text)
	assert.Equal(t, int64(7), got[0].Sequence)
	assert.Equal(t, int64(100), got[0].UpdateID)

	// After consuming update 101 the next poll must ask from 102
	mu.Lock()
	defer mu.Unlock()
	if len(offsets) > 1 {
		assert.Equal(t, "102", offsets[1])
	}
}

func TestSendMessage(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/sendMessage"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	a := NewTelegramAdapter(srv.URL, "test-token", time.Second, nil)
	require.NoError(t, a.SendMessage(context.Background(), "42", "your viewing is booked"))
	assert.Equal(t, float64(42), body["chat_id"])
	assert.Equal(t, "your viewing is booked", body["text"])
}

func TestSendMessage_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	a := NewTelegramAdapter(srv.URL, "test-token", time.Second, nil)
	err := a.SendMessage(context.Background(), "42", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestSendTyping(t *testing.T) {
	var action string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/sendChatAction"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		action = body["action"].(string)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	a := NewTelegramAdapter(srv.URL, "test-token", time.Second, nil)
	require.NoError(t, a.SendTyping(context.Background(), "42"))
	assert.Equal(t, "typing", action)
}

func TestSendMessage_BadConversationID(t *testing.T) {
	a := NewTelegramAdapter("http://127.0.0.1:0", "test-token", time.Second, nil)
	err := a.SendMessage(context.Background(), "not-a-chat-id", "hello")
	require.Error(t, err)
}
