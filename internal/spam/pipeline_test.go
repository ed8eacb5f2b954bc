package spam

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"relaygate/internal/platform/metrics"
	"relaygate/internal/ratelimit/service/limiter"
	"relaygate/internal/ratelimit/store/bucket"
)

type stubStrategy struct {
	name    string
	verdict *Verdict
	err     error
	block   bool
	calls   int
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Classify(ctx context.Context, _ string) (*Verdict, error) {
	s.calls++
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.verdict, s.err
}

type PipelineSuite struct {
	suite.Suite
	keyword *Keyword
	metrics *metrics.Metrics
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineSuite))
}

func (s *PipelineSuite) SetupTest() {
	s.keyword = NewKeyword([]string{"# promo", "Followers", "casino"})
	s.metrics = metrics.New(prometheus.NewRegistry())
}

func (s *PipelineSuite) TestEmptyTextIsHam() {
	primary := &stubStrategy{name: "primary"}
	p := NewPipeline([]Strategy{primary, s.keyword})

	v := p.Classify(context.Background(), "   ")
	s.Equal(Verdict{Class: ClassHam, Reason: "no text", Source: SourceFallback}, v)
	s.Zero(primary.calls)
}

func (s *PipelineSuite) TestPrimaryVerdictWins() {
	primary := &stubStrategy{name: "primary", verdict: verdictOf(false, "looks fine", SourcePrimary)}
	p := NewPipeline([]Strategy{primary, s.keyword}, WithMetrics(s.metrics))

	v := p.Classify(context.Background(), "buy cheap followers now")
	s.Equal(ClassHam, v.Class)
	s.Equal(SourcePrimary, v.Source)
}

func (s *PipelineSuite) TestFallbackOnPrimaryFailure() {
	for name, err := range map[string]error{
		"unavailable":  ErrClassifierUnavailable,
		"rate limited": ErrClassifierRateLimited,
		"malformed":    ErrMalformedVerdict,
	} {
		s.Run(name, func() {
			primary := &stubStrategy{name: "primary", err: err}
			p := NewPipeline([]Strategy{primary, s.keyword}, WithMetrics(s.metrics))

			v := p.Classify(context.Background(), "buy cheap FOLLOWERS now")
			s.Equal(ClassSpam, v.Class)
			s.Equal(SourceFallback, v.Source)
			s.Contains(v.Reason, "followers")
		})
	}
}

func (s *PipelineSuite) TestNilStrategiesAreSkipped() {
	p := NewPipeline([]Strategy{nil, s.keyword})
	v := p.Classify(context.Background(), "hello there")
	s.Equal(ClassHam, v.Class)
	s.Equal(SourceFallback, v.Source)
}

func (s *PipelineSuite) TestAlwaysReturnsAVerdict() {
	p := NewPipeline([]Strategy{&stubStrategy{name: "a", err: ErrClassifierUnavailable}, &stubStrategy{name: "b"}})
	v := p.Classify(context.Background(), "hello")
	s.Equal(ClassHam, v.Class)
	s.Equal(SourceFallback, v.Source)
}

func (s *PipelineSuite) TestTimeoutCancelsPrimary() {
	primary := &stubStrategy{name: "primary", block: true}
	p := NewPipeline([]Strategy{Timeout(primary, 20*time.Millisecond), s.keyword})

	start := time.Now()
	v := p.Classify(context.Background(), "visit my casino")
	s.Less(time.Since(start), time.Second)
	s.Equal(ClassSpam, v.Class)
	s.Equal(SourceFallback, v.Source)
}

func (s *PipelineSuite) TestRateLimitedRejectsWithoutQueueing() {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	store := bucket.New(bucket.WithClock(func() time.Time { return now }))
	lim, err := limiter.New(store, "classifier", 2, 30*time.Second)
	s.Require().NoError(err)

	primary := &stubStrategy{name: "primary", verdict: verdictOf(false, "ok", SourcePrimary)}
	limited := RateLimited(primary, lim)

	for range 2 {
		_, err := limited.Classify(context.Background(), "x")
		s.Require().NoError(err)
	}
	_, err = limited.Classify(context.Background(), "x")
	s.ErrorIs(err, ErrClassifierRateLimited)
	s.Equal(2, primary.calls)

	now = now.Add(31 * time.Second)
	_, err = limited.Classify(context.Background(), "x")
	s.NoError(err)
}
