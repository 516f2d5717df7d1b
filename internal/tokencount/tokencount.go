// Package tokencount estimates token counts for the Reduction service's
// character-budget accounting and telemetry, preferring tiktoken's exact
// BPE count and falling back to a CJK-aware character estimator when no
// encoding is available (spec §4.8).
package tokencount

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Counter counts tokens in a text.
type Counter interface {
	Count(text string) int
}

// tiktokenCounter wraps a lazily-initialized BPE encoding.
type tiktokenCounter struct {
	encoding string
	mu       sync.Mutex
	enc      *tiktoken.Tiktoken
	fallback Counter
}

// modelEncodings maps recognized embedding/chat model names to their BPE
// encoding, mirroring the teacher's model table.
var modelEncodings = map[string]string{
	"text-embedding-3-small": "cl100k_base",
	"text-embedding-3-large": "cl100k_base",
	"text-embedding-ada-002": "cl100k_base",
	"gpt-4o":                 "o200k_base",
	"gpt-4":                  "cl100k_base",
	"gpt-3.5-turbo":          "cl100k_base",
}

// NewCounter builds a Counter for model, falling back to cl100k_base for
// unrecognized models and to a character estimator if tiktoken's encoding
// data cannot be loaded at count time.
func NewCounter(model string) Counter {
	encoding, ok := modelEncodings[model]
	if !ok {
		encoding = "cl100k_base"
	}
	return &tiktokenCounter{encoding: encoding, fallback: NewEstimator()}
}

func (c *tiktokenCounter) Count(text string) int {
	enc, err := c.encoder()
	if err != nil {
		return c.fallback.Count(text)
	}
	return len(enc.Encode(text, nil, nil))
}

func (c *tiktokenCounter) encoder() (*tiktoken.Tiktoken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enc != nil {
		return c.enc, nil
	}
	enc, err := tiktoken.GetEncoding(c.encoding)
	if err != nil {
		return nil, err
	}
	c.enc = enc
	return enc, nil
}

// Estimator is a character-count-based fallback that distinguishes CJK
// from ASCII text for a better ratio than a naive len/4 approach.
type Estimator struct{}

func NewEstimator() *Estimator { return &Estimator{} }

func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	cjk := 0
	total := 0
	for _, r := range text {
		total++
		if isCJK(r) {
			cjk++
		}
	}
	estimated := int(float64(cjk)/1.5 + float64(total-cjk)/4.0)
	if estimated == 0 && total > 0 {
		estimated = 1
	}
	return estimated
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || // CJK unified ideographs
		(r >= 0x3040 && r <= 0x30FF) || // hiragana/katakana
		(r >= 0xAC00 && r <= 0xD7A3) // hangul syllables
}

// CharLen returns the rune-count length of text, used where a budget needs
// a character count rather than a token estimate.
func CharLen(text string) int { return utf8.RuneCountInString(text) }
