// Package tokenizer wraps a model-specific BPE encoding to give exact token counts.
package tokenizer

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// ErrEncodingUnavailable is returned when the requested encoding cannot be loaded.
// There is deliberately no approximate fallback.
var ErrEncodingUnavailable = errors.New("token encoding unavailable")

func init() {
	// BPE ranks are embedded in the binary; counting never touches the network.
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// Tokenizer counts and truncates text in model tokens.
type Tokenizer interface {
	Count(text string) int
	Truncate(text string, maxTokens int) string
}

// Encoder is a Tokenizer backed by a tiktoken encoding.
type Encoder struct {
	name string
	mu   sync.Mutex
	enc  *tiktoken.Tiktoken
}

// New loads the named encoding (e.g. "cl100k_base").
func New(encoding string) (*Encoder, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEncodingUnavailable, encoding, err)
	}
	return &Encoder{name: encoding, enc: enc}, nil
}

// ForModel loads the encoding used by a model name (e.g. "gpt-4").
func ForModel(model string) (*Encoder, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("%w: model %s: %v", ErrEncodingUnavailable, model, err)
	}
	return &Encoder{name: model, enc: enc}, nil
}

// EncodingForModel names the encoding a model tokenizes with. It reports false
// for models tiktoken does not know, such as locally served ones.
func EncodingForModel(model string) (string, bool) {
	if enc, ok := tiktoken.MODEL_TO_ENCODING[model]; ok {
		return enc, true
	}
	for prefix, enc := range tiktoken.MODEL_PREFIX_TO_ENCODING {
		if strings.HasPrefix(model, prefix) {
			return enc, true
		}
	}
	return "", false
}

// Resolve picks the encoder for a configured model. An explicit encoding wins
// for models tiktoken does not know and must agree with the model otherwise.
func Resolve(model, encoding string) (*Encoder, error) {
	known, ok := EncodingForModel(model)
	switch {
	case encoding == "" && !ok:
		return nil, fmt.Errorf("%w: model %s has no known encoding, set one explicitly", ErrEncodingUnavailable, model)
	case encoding == "":
		encoding = known
	case ok && encoding != known:
		return nil, fmt.Errorf("encoding %s does not match model %s, which uses %s", encoding, model, known)
	}
	return New(encoding)
}

// Name returns the encoding or model name the encoder was built from.
func (e *Encoder) Name() string {
	return e.name
}

// Encode returns the token ids of text. Special-token markers are encoded as plain text.
func (e *Encoder) Encode(text string) []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(text, nil, nil)
}

// Decode returns the text for a token sequence. The result may end in a partial
// UTF-8 sequence when tokens is a prefix of a longer encoding.
func (e *Encoder) Decode(tokens []int) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Decode(tokens)
}

// Count returns the exact number of tokens in text.
func (e *Encoder) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(e.Encode(text))
}

// Truncate returns the longest prefix of text that fits in maxTokens, cut at a
// token boundary and never inside a code point.
func (e *Encoder) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 || text == "" {
		return ""
	}
	tokens := e.Encode(text)
	if len(tokens) <= maxTokens {
		return text
	}

	for n := maxTokens; n > 0; n-- {
		prefix := trimPartialRune(e.Decode(tokens[:n]))
		if prefix == "" || !strings.HasPrefix(text, prefix) {
			continue
		}
		if e.Count(prefix) <= maxTokens {
			return prefix
		}
	}
	return ""
}

// trimPartialRune drops trailing bytes that do not form a complete code point.
func trimPartialRune(s string) string {
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
