// ABOUTME: Decision pipeline orchestrator - an ordered walk of short-circuiting stages
// ABOUTME: Owns the recover boundary so one bad batch can never corrupt the conversation

package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/relaywise/concierge/internal/batch"
	"github.com/relaywise/concierge/internal/conversation"
	"github.com/relaywise/concierge/internal/generate"
	"github.com/relaywise/concierge/internal/knowledge"
	"github.com/relaywise/concierge/internal/metrics"
	"github.com/relaywise/concierge/internal/rules"
	"github.com/relaywise/concierge/internal/store"
)

// Action is what a stage tells the orchestrator to do next.
type Action int

const (
	// ActionContinue passes the batch to the next stage.
	ActionContinue Action = iota
	// ActionRespond stops the walk and sends the stage's replies.
	ActionRespond
	// ActionAbsorb stops the walk with no reply at all.
	ActionAbsorb
)

// Result is a stage outcome.
type Result struct {
	Action  Action
	Replies []string
}

// Continue passes control to the next stage.
func Continue() Result { return Result{Action: ActionContinue} }

// Respond short-circuits with one or more outbound messages.
func Respond(texts ...string) Result { return Result{Action: ActionRespond, Replies: texts} }

// Absorb ends the run silently.
func Absorb() Result { return Result{Action: ActionAbsorb} }

// Run carries the state of one batch through the stages.
type Run struct {
	Batch        *batch.Batch
	Conversation *store.Conversation
	Runtime      *conversation.Runtime
	History      []*store.Message
	Status       conversation.Status
	Analysis     *generate.Analysis
	Knowledge    *knowledge.Context
	Generated    string

	leadIn    []string // greeting queued ahead of the eventual reply
	escalated bool
}

// Escalator hands a conversation to a human operator.
type Escalator interface {
	InitiateHandoff(ctx context.Context, conversationID, reason, description, severity string) (*store.HandoffRecord, error)
	IsHumanMode(ctx context.Context, conversationID string) bool
}

// InterimSender delivers a message to the user while the pipeline is
// still running, used for stalling messages between generation attempts.
// May be nil; stalling messages then ride with the final reply.
type InterimSender func(ctx context.Context, conversationID, text string) error

// Config holds the pipeline thresholds and retry policy.
type Config struct {
	ConfidenceThreshold float64
	ComplexityThreshold float64
	EmotionThreshold    float64
	ProbingThreshold    float64
	OffTopicLimit       int

	OpenHour       int // inclusive, local wall clock
	CloseHour      int // exclusive; 0..24 with CloseHour=24 meaning always open past OpenHour
	OffHoursRepeat time.Duration

	MaxAttempts      int
	RetryDelay       time.Duration
	StallingMessages []string
	FallbackText     string

	SystemPrompt string
	MaxTokens    int
	Temperature  float64
}

type stage struct {
	name string
	run  func(ctx context.Context, r *Run) (Result, error)
}

// Pipeline walks a fixed ordered list of stages over each merged batch.
type Pipeline struct {
	cfg       Config
	convs     *conversation.Manager
	detector  *conversation.Detector
	rules     *rules.Set
	greeting  rules.Matcher
	profanity rules.Matcher
	operator  rules.Matcher
	botQuery  rules.Matcher
	confirm   rules.Matcher
	analyzer  generate.Analyzer
	oracle    *knowledge.Oracle
	generator generate.Generator
	escalator Escalator
	interim   InterimSender
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	stages []stage
}

// New assembles the pipeline. analyzer and oracle may be nil; the
// corresponding stages then pass through.
func New(cfg Config, convs *conversation.Manager, detector *conversation.Detector, ruleSet *rules.Set,
	analyzer generate.Analyzer, oracle *knowledge.Oracle, generator generate.Generator,
	escalator Escalator, interim InterimSender, m *metrics.Metrics, logger *slog.Logger) *Pipeline {

	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.FallbackText == "" {
		cfg.FallbackText = textFallback
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}

	p := &Pipeline{
		cfg:       cfg,
		convs:     convs,
		detector:  detector,
		rules:     ruleSet,
		greeting:  rules.NewGreetingMatcher(ruleSet.Greetings),
		profanity: rules.NewPhraseMatcher(ruleSet.Profanity),
		operator:  rules.NewPhraseMatcher(ruleSet.OperatorRequest),
		botQuery:  rules.NewPhraseMatcher(ruleSet.BotQuestion),
		confirm:   rules.NewPhraseMatcher(ruleSet.Confirmation),
		analyzer:  analyzer,
		oracle:    oracle,
		generator: generator,
		escalator: escalator,
		interim:   interim,
		metrics:   m,
		logger:    logger.With("component", "pipeline"),
		now:       time.Now,
	}

	p.stages = []stage{
		{"off_hours", p.stageOffHours},
		{"human_mode", p.stageHumanMode},
		{"reaction_only", p.stageReactionOnly},
		{"operator_flow", p.stageOperatorFlow},
		{"greeting", p.stageGreeting},
		{"contact_class", p.stageContactClass},
		{"prohibited_content", p.stageProhibitedContent},
		{"topic_relevance", p.stageTopicRelevance},
		{"situation_analysis", p.stageSituationAnalysis},
		{"knowledge_lookup", p.stageKnowledgeLookup},
		{"generation", p.stageGeneration},
		{"safety_net", p.stageSafetyNet},
	}
	return p
}

// Process runs one batch through the pipeline and returns the outbound
// messages. A nil, nil return means deliberate silence. The user never
// sees a raw failure: stage errors and panics become a best-effort
// escalation plus an apologetic reply.
func (p *Pipeline) Process(ctx context.Context, b *batch.Batch) (replies []string, err error) {
	start := p.now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pipeline panic",
				"conversation_id", b.ConversationID, "panic", r)
			p.tryEscalate(ctx, b.ConversationID, store.ReasonPipelineError,
				"pipeline panic while processing a batch", store.SeverityHigh)
			replies = []string{textApology}
			err = nil
		}
		p.metrics.PipelineDuration.Observe(p.now().Sub(start).Seconds())
	}()

	run, err := p.prepare(ctx, b)
	if err != nil {
		// Preparation failure means no state was touched; apologize and flag it.
		p.logger.Error("pipeline preparation failed", "conversation_id", b.ConversationID, "error", err)
		p.tryEscalate(ctx, b.ConversationID, store.ReasonPipelineError, err.Error(), store.SeverityHigh)
		return []string{textApology}, nil
	}

	for _, st := range p.stages {
		res, stageErr := st.run(ctx, run)
		if stageErr != nil {
			p.logger.Error("pipeline stage failed",
				"conversation_id", b.ConversationID, "stage", st.name, "error", stageErr)
			p.tryEscalate(ctx, b.ConversationID, store.ReasonPipelineError,
				"stage "+st.name+": "+stageErr.Error(), store.SeverityHigh)
			p.metrics.PipelineDecisions.WithLabelValues(st.name, "error").Inc()
			p.metrics.BatchesProcessed.WithLabelValues("error").Inc()
			return p.deliver(ctx, run, []string{textApology}), nil
		}

		switch res.Action {
		case ActionAbsorb:
			p.metrics.PipelineDecisions.WithLabelValues(st.name, "absorb").Inc()
			p.metrics.BatchesProcessed.WithLabelValues("absorbed").Inc()
			return nil, nil
		case ActionRespond:
			p.metrics.PipelineDecisions.WithLabelValues(st.name, "respond").Inc()
			p.metrics.BatchesProcessed.WithLabelValues("responded").Inc()
			out := append(append([]string{}, run.leadIn...), res.Replies...)
			return p.deliver(ctx, run, out), nil
		}
	}

	// Every stage passed; the lead-in, if any, is all we have to say.
	p.metrics.BatchesProcessed.WithLabelValues("responded").Inc()
	return p.deliver(ctx, run, run.leadIn), nil
}

// prepare loads conversation state, classifies the batch and records the
// incoming user message before any stage runs.
func (p *Pipeline) prepare(ctx context.Context, b *batch.Batch) (*Run, error) {
	conv, err := p.convs.GetOrCreate(ctx, b.ConversationID, b.UserID, b.Platform)
	if err != nil {
		return nil, err
	}

	history, err := p.convs.History(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	status := p.detector.Detect(conv, history, b.Sequence, p.now())
	if status == conversation.StatusNewConversation {
		// The remote chat was cleared or long dead; our stored history
		// no longer matches what the user sees.
		if err := p.convs.ClearHistory(ctx, conv.ID); err != nil {
			return nil, err
		}
		history = nil
	}

	if err := p.convs.RecordSequence(ctx, conv, b.Sequence); err != nil {
		return nil, err
	}

	newConv := status == conversation.StatusNewContact || status == conversation.StatusNewConversation
	if err := p.convs.TouchProfile(ctx, b.UserID, b.Platform, newConv); err != nil {
		p.logger.Warn("profile update failed", "user_id", b.UserID, "error", err)
	}

	if err := p.convs.AppendMessage(ctx, conv, &store.Message{
		Role:      store.RoleUser,
		Text:      b.Text,
		CreatedAt: b.FirstReceivedAt,
	}); err != nil {
		return nil, err
	}

	p.metrics.BatchFragments.Observe(float64(b.Size))
	p.metrics.BatchWaitSeconds.Observe(p.now().Sub(b.FirstReceivedAt).Seconds())

	return &Run{
		Batch:        b,
		Conversation: conv,
		Runtime:      p.convs.Runtime(conv.ID),
		History:      history,
		Status:       status,
	}, nil
}

// deliver records the outbound messages in history and hands them back.
func (p *Pipeline) deliver(ctx context.Context, run *Run, replies []string) []string {
	for _, text := range replies {
		if err := p.convs.AppendMessage(ctx, run.Conversation, &store.Message{
			Role:      store.RoleAssistant,
			Text:      text,
			HandledBy: store.HandledByAI,
		}); err != nil {
			p.logger.Error("failed to record outbound message",
				"conversation_id", run.Conversation.ID, "error", err)
		}
	}
	return replies
}

// escalate flips the conversation to an operator. Failures are logged,
// never propagated: a failed handoff must not suppress the reply.
func (p *Pipeline) escalate(ctx context.Context, run *Run, reason, description, severity string) {
	run.escalated = true
	p.tryEscalate(ctx, run.Conversation.ID, reason, description, severity)
}

func (p *Pipeline) tryEscalate(ctx context.Context, conversationID, reason, description, severity string) {
	if p.escalator == nil {
		return
	}
	if _, err := p.escalator.InitiateHandoff(ctx, conversationID, reason, description, severity); err != nil {
		p.logger.Error("escalation failed",
			"conversation_id", conversationID, "reason", reason, "error", err)
		return
	}
	p.metrics.Handoffs.WithLabelValues(reason).Inc()
}
