package spam

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	rgstrings "relaygate/pkg/platform/strings"
)

// Keyword flags text containing any prohibited term, case-insensitively.
type Keyword struct {
	terms []string
}

func NewKeyword(terms []string) *Keyword {
	return &Keyword{terms: rgstrings.NormalizeTerms(terms)}
}

// LoadTerms reads one term per line. '#' lines are comments.
func LoadTerms(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open prohibited terms: %w", err)
	}
	defer f.Close()

	var terms []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		terms = append(terms, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read prohibited terms: %w", err)
	}
	return terms, nil
}

func (k *Keyword) Name() string { return "keyword" }

// Terms returns the normalized term list.
func (k *Keyword) Terms() []string { return k.terms }

func (k *Keyword) Classify(_ context.Context, text string) (*Verdict, error) {
	lower := strings.ToLower(text)
	for _, term := range k.terms {
		if strings.Contains(lower, term) {
			return verdictOf(true, "prohibited term: "+term, SourceFallback), nil
		}
	}
	return verdictOf(false, "no prohibited terms", SourceFallback), nil
}
