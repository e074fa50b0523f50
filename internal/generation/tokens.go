package generation

import (
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Encoding used for token budgets. It matches current OpenAI chat models and
// is close enough for local ones.
const Encoding = "cl100k_base"

// TokenCounter measures and trims text in model tokens. When the BPE table
// cannot be loaded it estimates four runes per token.
type TokenCounter struct {
	load func() (*tiktoken.Tiktoken, error)

	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTokenCounter loads the encoding on first use.
func NewTokenCounter(logger *slog.Logger) *TokenCounter {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenCounter{load: func() (*tiktoken.Tiktoken, error) {
		enc, err := tiktoken.GetEncoding(Encoding)
		if err != nil {
			logger.Warn("token encoding unavailable, estimating token counts", "encoding", Encoding, "error", err)
		}
		return enc, err
	}}
}

// EstimatingCounter never loads an encoding.
func EstimatingCounter() *TokenCounter {
	return &TokenCounter{load: func() (*tiktoken.Tiktoken, error) { return nil, nil }}
}

func (t *TokenCounter) encoding() *tiktoken.Tiktoken {
	t.once.Do(func() {
		enc, err := t.load()
		if err == nil {
			t.enc = enc
		}
	})
	return t.enc
}

func (t *TokenCounter) Count(text string) int {
	if enc := t.encoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return (utf8.RuneCountInString(text) + 3) / 4
}

// Truncate returns the longest prefix of text that fits in limit tokens.
func (t *TokenCounter) Truncate(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if enc := t.encoding(); enc != nil {
		tokens := enc.Encode(text, nil, nil)
		if len(tokens) <= limit {
			return text
		}
		return enc.Decode(tokens[:limit])
	}
	runes := []rune(text)
	if len(runes) <= limit*4 {
		return text
	}
	return string(runes[:limit*4])
}
