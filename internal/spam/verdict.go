// Package spam classifies inbound text through an ordered chain of
// strategies. A strategy error hands the message to the next one; the chain
// always ends in a deterministic keyword match, so Classify never fails.
package spam

import (
	"fmt"

	"relaygate/pkg/platform/sentinel"
)

var (
	ErrClassifierUnavailable = fmt.Errorf("classifier unavailable: %w", sentinel.ErrUnavailable)
	ErrClassifierRateLimited = fmt.Errorf("classifier rate limited: %w", sentinel.ErrUnavailable)
	ErrMalformedVerdict      = fmt.Errorf("malformed classifier verdict: %w", sentinel.ErrInvalidState)
)

type Class string

const (
	ClassHam  Class = "ham"
	ClassSpam Class = "spam"
)

// Source says which tier produced a verdict.
type Source string

const (
	SourcePrimary  Source = "primary"
	SourceFallback Source = "fallback"
)

type Verdict struct {
	Class  Class
	Reason string
	Source Source
}

func (v Verdict) IsSpam() bool { return v.Class == ClassSpam }

func verdictOf(spam bool, reason string, source Source) *Verdict {
	class := ClassHam
	if spam {
		class = ClassSpam
	}
	return &Verdict{Class: class, Reason: reason, Source: source}
}
