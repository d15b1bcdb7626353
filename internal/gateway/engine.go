// ABOUTME: Engine wiring - inbound platform messages through dedupe, batching and the pipeline
// ABOUTME: Outbound replies and typing indicators go back through the messaging adapter

package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/relaywise/concierge/internal/batch"
	"github.com/relaywise/concierge/internal/dedupe"
	"github.com/relaywise/concierge/internal/messaging"
	"github.com/relaywise/concierge/internal/pipeline"
	"github.com/relaywise/concierge/internal/rules"
)

// Engine connects a messaging adapter to the batcher and pipeline. One
// engine serves one platform adapter; its lifetime is the adapter's
// long-poll loop.
type Engine struct {
	adapter messaging.Adapter
	tracker *dedupe.Tracker
	batcher *batch.Batcher
	logger  *slog.Logger
}

// NewEngine assembles the processing chain for one adapter. The batcher
// is created here so its handler can close over the adapter for replies.
func NewEngine(adapter messaging.Adapter, p *pipeline.Pipeline, tracker *dedupe.Tracker,
	window, ceiling, greetingDelay time.Duration, maxConcurrency int,
	greeting rules.Matcher, logger *slog.Logger) *Engine {

	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		adapter: adapter,
		tracker: tracker,
		logger:  logger.With("component", "engine", "platform", adapter.Name()),
	}

	handler := func(ctx context.Context, b *batch.Batch) (string, error) {
		stopTyping := messaging.KeepTyping(ctx, adapter, b.ConversationID, 4*time.Second)
		defer stopTyping()

		replies, err := p.Process(ctx, b)
		if err != nil {
			return "", err
		}

		sent := ""
		for _, text := range replies {
			if err := adapter.SendMessage(ctx, b.ConversationID, text); err != nil {
				e.logger.Error("outbound delivery failed",
					"conversation_id", b.ConversationID, "error", err)
				continue
			}
			if sent != "" {
				sent += "\n"
			}
			sent += text
		}
		return sent, nil
	}

	e.batcher = batch.New(window, ceiling, greetingDelay, maxConcurrency, greeting, handler, logger)
	return e
}

// Run consumes the adapter's inbound stream until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	defer e.batcher.Close()
	return e.adapter.Run(ctx, e.handleInbound)
}

func (e *Engine) handleInbound(ctx context.Context, msg *messaging.Inbound) {
	if e.tracker != nil && msg.UpdateID > 0 && e.tracker.Duplicate(e.adapter.Name(), msg.UpdateID) {
		e.logger.Debug("duplicate delivery dropped",
			"conversation_id", msg.ConversationID, "update_id", msg.UpdateID)
		return
	}

	// Submit blocks until the batch resolves; run it off the poll loop so
	// slow pipelines never stall ingestion.
	go func() {
		_, err := e.batcher.Submit(ctx, &batch.Inbound{
			ConversationID: msg.ConversationID,
			UserID:         msg.UserID,
			Platform:       e.adapter.Name(),
			Text:           msg.Text,
			Sequence:       msg.Sequence,
			ReceivedAt:     msg.Timestamp,
		})
		if err != nil && err != batch.ErrClosed && err != context.Canceled {
			e.logger.Error("batch submission failed",
				"conversation_id", msg.ConversationID, "error", err)
		}
	}()
}

// SendInterim delivers a mid-pipeline message (stalling texts) straight
// through the adapter. Shaped to plug into pipeline.InterimSender.
func (e *Engine) SendInterim(ctx context.Context, conversationID, text string) error {
	return e.adapter.SendMessage(ctx, conversationID, text)
}
