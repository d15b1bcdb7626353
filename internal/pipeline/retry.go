// ABOUTME: Retry and stalling controller around response generation
// ABOUTME: Failed attempts surface to the user only as hold-on messages, never as errors

package pipeline

import (
	"context"
	"time"

	"github.com/relaywise/concierge/internal/generate"
	"github.com/relaywise/concierge/internal/store"
)

// generateWithRetry runs the generation call up to MaxAttempts times.
// Between attempts the user gets the next stalling message. When the
// budget is exhausted it escalates with a technical reason and returns
// (fallbackText, false); on success (text, true).
func (p *Pipeline) generateWithRetry(ctx context.Context, r *Run) (string, bool) {
	req := &generate.Request{
		System:      p.buildSystemPrompt(r),
		History:     append(historyMessages(r.History), generate.Message{Role: "user", Content: r.Batch.Text}),
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
	}

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		p.metrics.GenerateAttempts.Inc()

		res, err := p.generator.Generate(ctx, req)
		if err == nil {
			p.metrics.GenerateTokens.Add(float64(res.TokensUsed))
			return res.Text, true
		}

		lastErr = err
		p.metrics.GenerateFailures.Inc()
		p.logger.Warn("generation attempt failed",
			"conversation_id", r.Conversation.ID,
			"attempt", attempt,
			"error", err)

		if attempt == p.cfg.MaxAttempts {
			break
		}

		p.sendStalling(ctx, r, attempt-1)

		select {
		case <-time.After(p.cfg.RetryDelay):
		case <-ctx.Done():
			attempt = p.cfg.MaxAttempts // stop retrying, fall through to escalation
		}
	}

	desc := "response generation failed"
	if lastErr != nil {
		desc += ": " + lastErr.Error()
	}
	p.escalate(ctx, r, store.ReasonTechnicalIssue, desc, store.SeverityHigh)
	return p.cfg.FallbackText, false
}

// sendStalling delivers a hold-on message mid-run and records it in
// history so the transcript matches what the user saw.
func (p *Pipeline) sendStalling(ctx context.Context, r *Run, index int) {
	if len(p.cfg.StallingMessages) == 0 {
		return
	}
	if index >= len(p.cfg.StallingMessages) {
		index = len(p.cfg.StallingMessages) - 1
	}
	text := p.cfg.StallingMessages[index]

	if p.interim != nil {
		if err := p.interim(ctx, r.Conversation.ID, text); err != nil {
			p.logger.Warn("stalling message delivery failed",
				"conversation_id", r.Conversation.ID, "error", err)
		}
	} else {
		r.leadIn = append(r.leadIn, text)
	}

	if err := p.convs.AppendMessage(ctx, r.Conversation, &store.Message{
		Role:      store.RoleAssistant,
		Text:      text,
		HandledBy: store.HandledBySystem,
	}); err != nil {
		p.logger.Warn("failed to record stalling message",
			"conversation_id", r.Conversation.ID, "error", err)
	}
	p.metrics.StallingMessages.Inc()
}

// buildSystemPrompt combines the persona, the conversation situation and
// whatever the knowledge lookup produced.
func (p *Pipeline) buildSystemPrompt(r *Run) string {
	prompt := p.cfg.SystemPrompt
	if r.Analysis != nil && r.Analysis.Intent != "" {
		prompt += "\nDetected customer intent: " + r.Analysis.Intent + "."
	}
	if r.Knowledge != nil {
		if rendered := r.Knowledge.Render(); rendered != "" {
			prompt += "\n\n" + rendered
		}
	}
	return prompt
}
