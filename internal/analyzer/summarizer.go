package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/alanyoungcy/setupwatch/internal/domain"
)

// Input is what a Summarizer sees.
type Input struct {
	Setup     domain.Setup
	Metrics   Metrics
	RootCause string
}

// Summary is the narrative part of a Lesson. By names whoever wrote it.
type Summary struct {
	Lesson           string `json:"lesson"`
	ImprovedStrategy string `json:"improved_strategy,omitempty"`
	By               string `json:"-"`
}

// Summarizer writes the lesson text.
type Summarizer interface {
	Summarize(ctx context.Context, in Input) (Summary, error)
}

// RuleSummarizer produces fixed text per root cause.
type RuleSummarizer struct{}

// Summarize never fails.
func (RuleSummarizer) Summarize(_ context.Context, in Input) (Summary, error) {
	m := in.Metrics
	s := in.Setup
	out := Summary{By: "rules"}
	switch in.RootCause {
	case CauseAsPlanned:
		out.Lesson = fmt.Sprintf("%s %s reached target with %.2fR adverse excursion; the plan held.", s.Side, s.Symbol, m.MAER)
	case CausePoorEntryTiming:
		out.Lesson = fmt.Sprintf("%s %s won but went %.2fR against the entry first.", s.Side, s.Symbol, m.MAER)
		out.ImprovedStrategy = "Wait for confirmation or enter closer to the invalidation level."
	case CauseTrendReversal:
		out.Lesson = fmt.Sprintf("%s %s was %.2fR in profit before reversing into the stop.", s.Side, s.Symbol, m.MFER)
		out.ImprovedStrategy = "Take partial profit or trail the stop once the trade is 1R in favour."
	case CauseWrongDirection:
		out.Lesson = fmt.Sprintf("%s %s never moved more than %.2fR in favour before the stop.", s.Side, s.Symbol, m.MFER)
		out.ImprovedStrategy = "Require higher-timeframe trend alignment before taking this setup."
	case CauseStopTooTight:
		if m.TargetAfterStop {
			out.Lesson = fmt.Sprintf("%s %s stopped out, then reached the target anyway.", s.Side, s.Symbol)
		} else {
			out.Lesson = fmt.Sprintf("%s %s stop was %.2f average moves from entry.", s.Side, s.Symbol, m.StopInAvgMoves)
		}
		out.ImprovedStrategy = "Size down and place the stop beyond recent noise."
	case CauseNeverTriggered:
		out.Lesson = fmt.Sprintf("%s %s expired without reaching entry %g.", s.Side, s.Symbol, s.Entry)
	case CauseInvalidatedEarly:
		out.Lesson = fmt.Sprintf("%s %s was invalidated before entry.", s.Side, s.Symbol)
	default:
		out.Lesson = fmt.Sprintf("%s %s closed as %s.", s.Side, s.Symbol, s.Status)
	}
	return out, nil
}

// LLMConfig configures the chat-model summarizer.
type LLMConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

const systemPrompt = `You review closed trade setups for a discretionary trader.
Reply with a single JSON object: {"lesson": "...", "improved_strategy": "..."}.
The lesson is at most two sentences and must agree with the given root cause.
improved_strategy is one concrete, actionable change, or empty.`

// LLMSummarizer asks a chat model for the narrative and falls back to another
// Summarizer when the model fails or answers badly.
type LLMSummarizer struct {
	model    model.BaseChatModel
	name     string
	fallback Summarizer
	timeout  time.Duration
	logger   *slog.Logger
}

// NewLLMSummarizer wraps an eino chat model.
func NewLLMSummarizer(cm model.BaseChatModel, name string, fallback Summarizer, timeout time.Duration, logger *slog.Logger) *LLMSummarizer {
	if fallback == nil {
		fallback = RuleSummarizer{}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LLMSummarizer{
		model:    cm,
		name:     name,
		fallback: fallback,
		timeout:  timeout,
		logger:   logger.With(slog.String("component", "llm_summarizer")),
	}
}

// NewOpenAISummarizer builds an LLMSummarizer on an OpenAI-compatible
// endpoint.
func NewOpenAISummarizer(ctx context.Context, cfg LLMConfig, logger *slog.Logger) (*LLMSummarizer, error) {
	mc := &openai.ChatModelConfig{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	}
	if cfg.MaxTokens > 0 {
		maxTokens := cfg.MaxTokens
		mc.MaxTokens = &maxTokens
	}
	cm, err := openai.NewChatModel(ctx, mc)
	if err != nil {
		return nil, fmt.Errorf("analyzer: create chat model: %w", err)
	}
	return NewLLMSummarizer(cm, "llm:"+cfg.Model, RuleSummarizer{}, cfg.Timeout, logger), nil
}

// Summarize only calls the model for entered trades; setups that never
// entered get the rule text.
func (l *LLMSummarizer) Summarize(ctx context.Context, in Input) (Summary, error) {
	if !in.Metrics.Entered {
		return l.fallback.Summarize(ctx, in)
	}
	out, err := l.generate(ctx, in)
	if err != nil {
		l.logger.WarnContext(ctx, "llm summary failed, using fallback",
			slog.String("setup_id", in.Setup.ID),
			slog.String("error", err.Error()),
		)
		return l.fallback.Summarize(ctx, in)
	}
	return out, nil
}

func (l *LLMSummarizer) generate(ctx context.Context, in Input) (Summary, error) {
	facts, err := json.Marshal(map[string]any{
		"symbol":      in.Setup.Symbol,
		"side":        in.Setup.Side,
		"timeframe":   in.Setup.Timeframe,
		"entry":       in.Setup.Entry,
		"stop":        in.Setup.Stop,
		"target":      in.Setup.Target,
		"status":      in.Setup.Status,
		"outcome":     in.Setup.Outcome,
		"pnl_percent": in.Setup.PnLPercent,
		"root_cause":  in.RootCause,
		"metrics":     in.Metrics,
	})
	if err != nil {
		return Summary{}, fmt.Errorf("analyzer: marshal facts: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	msg, err := l.model.Generate(ctx, []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(string(facts)),
	})
	if err != nil {
		return Summary{}, fmt.Errorf("analyzer: generate: %w", err)
	}
	if msg == nil {
		return Summary{}, fmt.Errorf("analyzer: generate: empty reply")
	}

	var out Summary
	if err := json.Unmarshal([]byte(extractJSON(msg.Content)), &out); err != nil {
		return Summary{}, fmt.Errorf("analyzer: decode reply: %w", err)
	}
	if strings.TrimSpace(out.Lesson) == "" {
		return Summary{}, fmt.Errorf("analyzer: reply has no lesson")
	}
	out.By = l.name
	return out, nil
}

// extractJSON trims code fences and prose around the first JSON object.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
