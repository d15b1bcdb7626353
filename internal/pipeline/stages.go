// ABOUTME: The twelve pipeline stages, in their fixed order
// ABOUTME: Each stage passes the batch on, replies and stops, or absorbs it silently

package pipeline

import (
	"context"
	"strings"
	"unicode"

	"github.com/relaywise/concierge/internal/conversation"
	"github.com/relaywise/concierge/internal/generate"
	"github.com/relaywise/concierge/internal/rules"
	"github.com/relaywise/concierge/internal/store"
)

// Stage 1: outside operating hours the user gets the off-hours notice at
// most once per repeat window; everything else is absorbed until opening.
func (p *Pipeline) stageOffHours(ctx context.Context, r *Run) (Result, error) {
	hour := p.now().Hour()
	open := hour >= p.cfg.OpenHour && hour < p.cfg.CloseHour
	if open {
		return Continue(), nil
	}

	if p.cfg.OffHoursRepeat > 0 && p.now().Sub(r.Runtime.LastOffHoursNote) < p.cfg.OffHoursRepeat {
		return Absorb(), nil
	}
	r.Runtime.LastOffHoursNote = p.now()
	return Respond(textOffHours), nil
}

// Stage 2: operator-handled conversations record the message (done in
// prepare) and stay silent.
func (p *Pipeline) stageHumanMode(ctx context.Context, r *Run) (Result, error) {
	if r.Conversation.Mode == store.ModeHuman {
		return Absorb(), nil
	}
	return Continue(), nil
}

// Stage 3: punctuation-only messages are reactions, not questions.
func (p *Pipeline) stageReactionOnly(ctx context.Context, r *Run) (Result, error) {
	for _, line := range strings.Split(r.Batch.Text, "\n") {
		for _, ch := range line {
			if unicode.IsLetter(ch) || unicode.IsNumber(ch) {
				return Continue(), nil
			}
		}
	}
	return Absorb(), nil
}

// Stage 4: the operator-request mini-dialogue. "Are you a bot" gets a
// plain denial without touching the state machine.
func (p *Pipeline) stageOperatorFlow(ctx context.Context, r *Run) (Result, error) {
	text := r.Batch.Text

	if p.botQuery.Match(text) {
		return Respond(textBotDenial), nil
	}

	switch r.Runtime.OperatorFlow {
	case conversation.OperatorFlowNone:
		if p.operator.Match(text) {
			r.Runtime.OperatorFlow = conversation.OperatorFlowOffered
			return Respond(textOperatorAck, textOperatorOffer), nil
		}
	case conversation.OperatorFlowOffered:
		if p.confirm.Match(text) || p.operator.Match(text) {
			r.Runtime.OperatorFlow = conversation.OperatorFlowTransferred
			p.escalate(ctx, r, store.ReasonOperatorRequest,
				"user confirmed they want a human operator", store.SeverityMedium)
			return Respond(textOperatorTransfer), nil
		}
		// Anything else drops the offer and is handled normally.
		r.Runtime.OperatorFlow = conversation.OperatorFlowNone
	case conversation.OperatorFlowTransferred:
		if p.operator.Match(text) {
			return Absorb(), nil // already escalated
		}
	}
	return Continue(), nil
}

// Stage 5: greeting policy driven by the status classifier. A message
// that is nothing but a greeting is answered with the greeting alone;
// otherwise the greeting is queued ahead of whatever reply comes later.
func (p *Pipeline) stageGreeting(ctx context.Context, r *Run) (Result, error) {
	pureGreeting := p.greeting.Match(r.Batch.Text)

	if r.Runtime.GreetingSent {
		if pureGreeting {
			return Respond(textGreetingShort), nil
		}
		return Continue(), nil
	}

	var greeting string
	switch r.Status {
	case conversation.StatusNewContact, conversation.StatusNewConversation:
		greeting = textGreetingFull
	case conversation.StatusNewDay:
		greeting = textGreetingShort
	default:
		if pureGreeting {
			return Respond(textGreetingShort), nil
		}
		return Continue(), nil
	}

	r.Runtime.GreetingSent = true
	if pureGreeting {
		return Respond(greeting), nil
	}
	r.leadIn = append(r.leadIn, greeting)
	return Continue(), nil
}

// Stage 6: contact classification over accumulated user text. Spam is
// absorbed; brokers, residents and suppliers get a neutral acknowledgement
// and go straight to an operator - the class is never revealed.
func (p *Pipeline) stageContactClass(ctx context.Context, r *Run) (Result, error) {
	var b strings.Builder
	for _, msg := range r.History {
		if msg.Role == store.RoleUser {
			b.WriteString(msg.Text)
			b.WriteString("\n")
		}
	}
	b.WriteString(r.Batch.Text)

	class, escalate := p.rules.ClassifyContact(b.String())
	if class == rules.ContactSpam {
		return Absorb(), nil
	}
	if !escalate {
		return Continue(), nil
	}

	if err := p.convs.TagProfile(ctx, r.Batch.UserID, r.Batch.Platform, string(class)); err != nil {
		p.logger.Warn("profile tagging failed", "user_id", r.Batch.UserID, "error", err)
	}
	p.escalate(ctx, r, store.ReasonContactType,
		"sender classified as "+string(class), store.SeverityLow)
	return Respond(textContactAck), nil
}

// Stage 7: abusive language gets a short deflection and an operator.
func (p *Pipeline) stageProhibitedContent(ctx context.Context, r *Run) (Result, error) {
	if !p.profanity.Match(r.Batch.Text) {
		return Continue(), nil
	}
	p.escalate(ctx, r, store.ReasonProhibitedContent,
		"prohibited language in user message", store.SeverityHigh)
	return Respond(textProfanityDeflect), nil
}

// Stage 8: topic relevance. Off-topic gets the clarify-then-refuse pair
// and escalates after repeated attempts; in-person topics are deferred.
func (p *Pipeline) stageTopicRelevance(ctx context.Context, r *Run) (Result, error) {
	switch p.rules.JudgeTopic(r.Batch.Text) {
	case rules.TopicRelevant:
		return Continue(), nil
	case rules.TopicInPerson:
		return Respond(textInPerson), nil
	default:
		r.Runtime.OffTopicCount++
		if r.Runtime.OffTopicCount >= p.cfg.OffTopicLimit {
			p.escalate(ctx, r, store.ReasonRepeatedOffTopic,
				"user kept going off-topic", store.SeverityLow)
			return Respond(textOffTopicTransfer), nil
		}
		return Respond(textOffTopicClarify, textOffTopicRefuse), nil
	}
}

// Stage 9: model-scored situation analysis. Any signal over its threshold
// escalates with a typed reason. Analysis failure is advisory only.
func (p *Pipeline) stageSituationAnalysis(ctx context.Context, r *Run) (Result, error) {
	if p.analyzer == nil {
		return Continue(), nil
	}

	analysis, err := p.analyzer.Analyze(ctx, r.Batch.Text, historyMessages(r.History))
	if err != nil {
		p.logger.Warn("situation analysis failed",
			"conversation_id", r.Conversation.ID, "error", err)
		return Continue(), nil
	}
	r.Analysis = analysis

	if analysis.Emotion != "" && analysis.Emotion != r.Conversation.EmotionalState {
		r.Conversation.EmotionalState = analysis.Emotion
	}

	switch {
	case analysis.Probing >= p.cfg.ProbingThreshold:
		p.escalate(ctx, r, store.ReasonProbing, "user appears to be testing the assistant", store.SeverityMedium)
		return Respond(textEscalateHandover), nil
	case analysis.EmotionScore >= p.cfg.EmotionThreshold:
		p.escalate(ctx, r, store.ReasonEmotionalEscalation,
			"emotion "+analysis.Emotion+" over threshold", store.SeverityHigh)
		return Respond(textEscalateHandover), nil
	case analysis.Complexity >= p.cfg.ComplexityThreshold:
		p.escalate(ctx, r, store.ReasonHighComplexity, "request needs human judgment", store.SeverityMedium)
		return Respond(textEscalateHandover), nil
	case analysis.Confidence > 0 && analysis.Confidence < p.cfg.ConfidenceThreshold:
		p.escalate(ctx, r, store.ReasonLowConfidence, "low confidence in automated answer", store.SeverityLow)
		return Respond(textEscalateHandover), nil
	}
	return Continue(), nil
}

// Stage 10: knowledge retrieval. An empty result is fine; a lookup error
// only costs grounding, not the reply.
func (p *Pipeline) stageKnowledgeLookup(ctx context.Context, r *Run) (Result, error) {
	if p.oracle == nil {
		return Continue(), nil
	}
	kc, err := p.oracle.Lookup(ctx, r.Batch.Text)
	if err != nil {
		p.logger.Warn("knowledge lookup failed",
			"conversation_id", r.Conversation.ID, "error", err)
		return Continue(), nil
	}
	r.Knowledge = kc
	return Continue(), nil
}

// Stage 11: response generation behind the retry controller. Exhausted
// retries escalate and answer with the fallback; a raw error never
// reaches the user.
func (p *Pipeline) stageGeneration(ctx context.Context, r *Run) (Result, error) {
	text, ok := p.generateWithRetry(ctx, r)
	if !ok {
		return Respond(text), nil
	}
	r.Generated = postProcess(text, r.leadIn)
	if r.Generated == "" {
		r.Generated = p.cfg.FallbackText
	}
	return Continue(), nil
}

// Stage 12: safety net on the generated content itself. Text that
// promises human follow-up forces a real handoff even when no earlier
// stage asked for one.
func (p *Pipeline) stageSafetyNet(ctx context.Context, r *Run) (Result, error) {
	if !r.escalated && impliesEscalation(r.Generated) {
		p.escalate(ctx, r, store.ReasonPromisedFollowUp,
			"generated reply promises human follow-up", store.SeverityLow)
	}
	return Respond(r.Generated), nil
}

func impliesEscalation(text string) bool {
	t := strings.ToLower(text)
	for _, phrase := range escalationPhrases {
		if strings.Contains(t, phrase) {
			return true
		}
	}
	return false
}

func historyMessages(history []*store.Message) []generate.Message {
	out := make([]generate.Message, 0, len(history))
	for _, msg := range history {
		role := "user"
		if msg.Role == store.RoleAssistant {
			role = "assistant"
		}
		out = append(out, generate.Message{Role: role, Content: msg.Text})
	}
	return out
}
