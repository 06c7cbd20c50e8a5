// Package chunker splits document text into token-bounded chunks.
//
// Chunks are cut at paragraph boundaries where possible, then at sentence
// boundaries, and only as a last resort at a token boundary inside a sentence.
// Concatenating the chunk texts always reproduces the input exactly.
package chunker

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/dtnitsch/llm-doc-summarizer/models"
	"github.com/dtnitsch/llm-doc-summarizer/pkg/tokenizer"
)

// ErrCeilingTooSmall is returned when a single code point needs more tokens
// than the ceiling allows.
var ErrCeilingTooSmall = errors.New("chunk ceiling smaller than one code point")

// maxBytesPerToken bounds how much text a hard split hands to Truncate at once.
const maxBytesPerToken = 16

var (
	paragraphBreak = regexp.MustCompile(`\n\s*\n`)
	sentenceBreak  = regexp.MustCompile(`[.!?]+["')\]]*\s+|\n`)
)

type unit struct {
	text   string
	tokens int
}

// Chunk splits text into ordered chunks of at most ceiling tokens each.
// Empty text yields no chunks.
func Chunk(text string, ceiling int, tok tokenizer.Tokenizer) ([]models.Chunk, error) {
	if ceiling < 1 {
		return nil, fmt.Errorf("chunk ceiling must be positive, got %d", ceiling)
	}
	if text == "" {
		return nil, nil
	}
	if n := tok.Count(text); n <= ceiling {
		return []models.Chunk{{Index: 0, Text: text, TokenCount: n}}, nil
	}

	units, err := split(text, ceiling, tok)
	if err != nil {
		return nil, err
	}

	var chunks []models.Chunk
	var group []unit
	var current strings.Builder
	// running estimates the tokens in current. It never undercounts by much:
	// every join is charged one extra token, and an exact count replaces the
	// estimate once it nears the ceiling. exact marks running as a true count.
	running, exact := 0, false

	flush := func() {
		known := -1
		if exact {
			known = running
		}
		for _, u := range pack(current.String(), known, group, ceiling, tok) {
			chunks = append(chunks, models.Chunk{Index: len(chunks), Text: u.text, TokenCount: u.tokens})
		}
		group = group[:0]
		current.Reset()
	}

	for _, u := range units {
		switch {
		case len(group) == 0:
			running, exact = u.tokens, true
		case running+u.tokens+1 <= ceiling:
			running, exact = running+u.tokens+1, false
		default:
			if n := tok.Count(current.String() + u.text); n <= ceiling {
				running, exact = n, true
			} else {
				flush()
				running, exact = u.tokens, true
			}
		}
		group = append(group, u)
		current.WriteString(u.text)
	}
	if len(group) > 0 {
		flush()
	}

	return chunks, nil
}

// split breaks text into units that each fit the ceiling.
func split(text string, ceiling int, tok tokenizer.Tokenizer) ([]unit, error) {
	var units []unit
	for _, seg := range splitAfter(text, paragraphBreak) {
		if n := tok.Count(seg); n <= ceiling {
			units = append(units, unit{seg, n})
			continue
		}
		for _, sentence := range splitAfter(seg, sentenceBreak) {
			if n := tok.Count(sentence); n <= ceiling {
				units = append(units, unit{sentence, n})
				continue
			}
			pieces, err := hardSplit(sentence, ceiling, tok)
			if err != nil {
				return nil, err
			}
			units = append(units, pieces...)
		}
	}
	return units, nil
}

// pack turns the units of one flushed group into chunks. known is the exact
// token count of text, or -1. The group normally fits as a whole; when the
// estimate let it grow past the ceiling it is re-packed with exact counts.
func pack(text string, known int, group []unit, ceiling int, tok tokenizer.Tokenizer) []unit {
	if known < 0 {
		known = tok.Count(text)
	}
	if known <= ceiling {
		return []unit{{text, known}}
	}

	var out []unit
	cur := group[0]
	for _, u := range group[1:] {
		if n := tok.Count(cur.text + u.text); n <= ceiling {
			cur = unit{cur.text + u.text, n}
			continue
		}
		out = append(out, cur)
		cur = u
	}
	return append(out, cur)
}

// splitAfter cuts s at the end of every match of re, keeping the separators
// attached to the preceding piece.
func splitAfter(s string, re *regexp.Regexp) []string {
	var out []string
	start := 0
	for _, loc := range re.FindAllStringIndex(s, -1) {
		if loc[1] <= start {
			continue
		}
		out = append(out, s[start:loc[1]])
		start = loc[1]
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

// hardSplit cuts a run of text with no usable boundary into token-bounded
// prefixes. Each Truncate call sees a bounded window so long runs stay linear.
func hardSplit(s string, ceiling int, tok tokenizer.Tokenizer) ([]unit, error) {
	var out []unit
	for s != "" {
		window := s
		if limit := ceiling * maxBytesPerToken; len(window) > limit {
			for limit > 0 && !utf8.RuneStart(s[limit]) {
				limit--
			}
			window = s[:limit]
		}
		if len(window) == len(s) {
			if n := tok.Count(s); n <= ceiling {
				return append(out, unit{s, n}), nil
			}
		}

		p := tok.Truncate(window, ceiling)
		if p == "" || !strings.HasPrefix(s, p) {
			r, _ := utf8.DecodeRuneInString(s)
			return nil, fmt.Errorf("%w: %q at ceiling %d", ErrCeilingTooSmall, r, ceiling)
		}
		out = append(out, unit{p, tok.Count(p)})
		s = s[len(p):]
	}
	return out, nil
}
