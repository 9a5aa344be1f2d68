package preview

import (
	"github.com/jonwraymond/refcache/ref"
)

// SizeMode selects how a value's size is measured.
type SizeMode string

const (
	// SizeTokens measures via an injected tokenizer, falling back to
	// character counting when no tokenizer is available or it errors.
	SizeTokens SizeMode = "tokens"
	// SizeCharacters measures the canonical string encoding length.
	SizeCharacters SizeMode = "characters"
)

// Tokenizer counts tokens in a text.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: a failed count makes the measurer fall back to character
//   counting; it never aborts preview generation.
type Tokenizer interface {
	Count(text string) (int, error)
}

// Measurer measures value sizes under a configured mode.
type Measurer struct {
	mode      SizeMode
	tokenizer Tokenizer
}

// NewMeasurer creates a measurer. A nil tokenizer is valid; token
// mode then degrades to character counting.
func NewMeasurer(mode SizeMode, tokenizer Tokenizer) Measurer {
	if mode == "" {
		mode = SizeCharacters
	}
	return Measurer{mode: mode, tokenizer: tokenizer}
}

// Measure returns the size of a value. Strings measure as themselves;
// everything else measures as its canonical JSON encoding.
func (m Measurer) Measure(value any) int {
	return m.MeasureText(Render(value))
}

// MeasureText returns the size of an already-rendered text.
func (m Measurer) MeasureText(text string) int {
	if m.mode == SizeTokens && m.tokenizer != nil {
		if n, err := m.tokenizer.Count(text); err == nil {
			return n
		}
	}
	return len([]rune(text))
}

// Render returns the canonical string form of a value: strings
// verbatim, everything else canonical JSON.
func Render(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	data, err := ref.Canonicalize(value)
	if err != nil {
		// Unencodable values still need a defined size.
		return "<unserializable>"
	}
	return string(data)
}
