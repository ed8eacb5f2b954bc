package spam

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"relaygate/internal/platform/metrics"
)

// Strategy produces a verdict or an error meaning "try the next strategy".
type Strategy interface {
	Name() string
	Classify(ctx context.Context, text string) (*Verdict, error)
}

// Pipeline walks its strategies in order.
type Pipeline struct {
	strategies []Strategy
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type Option func(*Pipeline)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// NewPipeline builds a pipeline. Nil strategies are skipped, so an
// unconfigured primary classifier can be passed as nil.
func NewPipeline(strategies []Strategy, opts ...Option) *Pipeline {
	p := &Pipeline{logger: slog.Default()}
	for _, s := range strategies {
		if s != nil {
			p.strategies = append(p.strategies, s)
		}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Classify returns a verdict for text. Empty text (media without caption) is
// ham. When every strategy fails the message is treated as ham so it still
// reaches an operator.
func (p *Pipeline) Classify(ctx context.Context, text string) Verdict {
	if strings.TrimSpace(text) == "" {
		return Verdict{Class: ClassHam, Reason: "no text", Source: SourceFallback}
	}
	for _, s := range p.strategies {
		start := time.Now()
		v, err := s.Classify(ctx, text)
		p.metrics.ObserveClassifier(s.Name(), time.Since(start))
		if err == nil && v != nil {
			p.metrics.ObserveVerdict(string(v.Source), string(v.Class))
			return *v
		}
		if err == nil {
			err = ErrMalformedVerdict
		}
		p.logger.WarnContext(ctx, "classifier strategy failed, falling back",
			"strategy", s.Name(), "error", err)
		p.metrics.IncrementFallback(s.Name(), fallbackReason(err))
	}
	p.metrics.ObserveVerdict(string(SourceFallback), string(ClassHam))
	return Verdict{Class: ClassHam, Reason: "no classifier available", Source: SourceFallback}
}

func fallbackReason(err error) string {
	switch {
	case errors.Is(err, ErrClassifierRateLimited):
		return "rate_limited"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrMalformedVerdict):
		return "malformed"
	default:
		return "unavailable"
	}
}
