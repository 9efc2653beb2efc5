package billing

import (
	"log/slog"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator predicts how many tokens an embedding call will consume.
// Implementations are deterministic and monotonic in text length, and
// return 0 for empty text.
type Estimator interface {
	EstimateTokens(text string) int
}

// CharEstimator assumes a fixed number of characters per token.
type CharEstimator struct {
	CharsPerToken int
}

func (e CharEstimator) EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	per := e.CharsPerToken
	if per <= 0 {
		per = 4
	}
	return (n + per - 1) / per
}

// TiktokenEstimator counts BPE tokens with a tiktoken encoding.
type TiktokenEstimator struct {
	enc *tiktoken.Tiktoken
}

// NewEstimator returns a tiktoken-backed estimator for encoding, or the
// character heuristic when the encoding cannot be loaded.
func NewEstimator(encoding string, charsPerToken int) Estimator {
	return newEstimator(encoding, charsPerToken, tiktoken.GetEncoding)
}

func newEstimator(encoding string, charsPerToken int, load func(string) (*tiktoken.Tiktoken, error)) Estimator {
	fallback := CharEstimator{CharsPerToken: charsPerToken}
	if encoding == "" {
		return fallback
	}
	enc, err := load(encoding)
	if err != nil {
		slog.Warn("tiktoken encoding unavailable, using character heuristic", "encoding", encoding, "error", err)
		return fallback
	}
	return &TiktokenEstimator{enc: enc}
}

func (e *TiktokenEstimator) EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(e.enc.Encode(text, nil, nil))
}
