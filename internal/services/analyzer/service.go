// Package analyzer scores page content for one audit category by asking a
// completion model for a JSON verdict.
package analyzer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"siteaudit/internal/domain"
	"siteaudit/internal/ports"
)

const (
	// FallbackScore is the neutral score used when the model gives no usable answer.
	FallbackScore       = 50
	DefaultExcerptLimit = 5000
)

// Fallback is returned whenever the completion call or its parsing fails.
func Fallback() domain.Analysis {
	score := FallbackScore
	return domain.Analysis{
		Score: &score,
		Findings: []domain.Finding{{
			Severity:       domain.SeverityMedium,
			Issue:          "AI analysis failed, using fallback.",
			Recommendation: "Try again later.",
		}},
	}
}

type Options struct {
	// ExcerptLimit caps the content sent to the model, in runes.
	ExcerptLimit int
	// MaxAttempts is the number of completion calls before falling back.
	MaxAttempts int
	RetryDelay  time.Duration
}

type Service struct {
	model ports.Completer
	opts  Options
	log   *zap.Logger
}

var _ ports.Analyzer = (*Service)(nil)

func New(model ports.Completer, opts Options, log *zap.Logger) *Service {
	if opts.ExcerptLimit <= 0 {
		opts.ExcerptLimit = DefaultExcerptLimit
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{model: model, opts: opts, log: log}
}

// Analyze never fails: errors from the model, or a response that is not a
// JSON object, yield Fallback. Results are not repeatable across calls.
func (s *Service) Analyze(ctx context.Context, content string, module domain.Module) domain.Analysis {
	log := s.log.With(zap.String("module", string(module)))
	instructions, ok := categoryPrompts[module]
	if !ok {
		log.Warn("no prompt for module, using fallback")
		return Fallback()
	}
	user := fmt.Sprintf("%s\n\nContent Preview:\n%s", instructions, excerpt(content, s.opts.ExcerptLimit))

	var raw string
	err := retry(ctx, s.opts.MaxAttempts, s.opts.RetryDelay, func() error {
		var err error
		raw, err = s.model.Complete(ctx, systemPrompt, user)
		if err != nil {
			log.Debug("completion attempt failed", zap.Error(err))
		}
		return err
	})
	if err != nil {
		log.Warn("AI analysis failed, using fallback", zap.Error(err))
		return Fallback()
	}
	a, err := parse(raw)
	if err != nil {
		log.Warn("AI response unparsable, using fallback", zap.Error(err))
		return Fallback()
	}
	return a
}

// excerpt keeps the first limit runes of s; the rest is dropped.
func excerpt(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
