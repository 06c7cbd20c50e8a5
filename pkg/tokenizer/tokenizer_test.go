package tokenizer

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func newTestEncoder(t *testing.T) *Encoder {
	t.Helper()
	enc, err := New("cl100k_base")
	if err != nil {
		t.Fatalf("New(cl100k_base) error = %v", err)
	}
	return enc
}

func TestNew_UnknownEncoding(t *testing.T) {
	_, err := New("no_such_encoding")
	if !errors.Is(err, ErrEncodingUnavailable) {
		t.Fatalf("New() error = %v, want ErrEncodingUnavailable", err)
	}
}

func TestForModel(t *testing.T) {
	if _, err := ForModel("gpt-4"); err != nil {
		t.Fatalf("ForModel(gpt-4) error = %v", err)
	}
	if _, err := ForModel("definitely-not-a-model"); !errors.Is(err, ErrEncodingUnavailable) {
		t.Fatalf("ForModel() error = %v, want ErrEncodingUnavailable", err)
	}
}

func TestEncodingForModel(t *testing.T) {
	tests := []struct {
		model  string
		want   string
		wantOK bool
	}{
		{model: "gpt-4o-mini", want: "o200k_base", wantOK: true},
		{model: "gpt-4o", want: "o200k_base", wantOK: true},
		{model: "gpt-4-turbo", want: "cl100k_base", wantOK: true},
		{model: "gpt-3.5-turbo", want: "cl100k_base", wantOK: true},
		{model: "llama3", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			got, ok := EncodingForModel(tt.model)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("EncodingForModel(%q) = %q, %v; want %q, %v", tt.model, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	enc, err := Resolve("gpt-4o-mini", "")
	if err != nil {
		t.Fatalf("Resolve(gpt-4o-mini) error = %v", err)
	}
	if enc.Name() != "o200k_base" {
		t.Errorf("Resolve(gpt-4o-mini).Name() = %q, want o200k_base", enc.Name())
	}
	if enc.Count("hello world") != 2 {
		t.Errorf("o200k_base Count(hello world) = %d, want 2", enc.Count("hello world"))
	}

	if _, err := Resolve("gpt-4o-mini", "cl100k_base"); err == nil {
		t.Error("Resolve() with a mismatched encoding = nil error")
	}
	if _, err := Resolve("llama3", ""); !errors.Is(err, ErrEncodingUnavailable) {
		t.Errorf("Resolve(llama3, \"\") error = %v, want ErrEncodingUnavailable", err)
	}

	enc, err = Resolve("llama3", "cl100k_base")
	if err != nil {
		t.Fatalf("Resolve(llama3, cl100k_base) error = %v", err)
	}
	if enc.Name() != "cl100k_base" {
		t.Errorf("Name() = %q, want cl100k_base", enc.Name())
	}
}

func TestCount(t *testing.T) {
	enc := newTestEncoder(t)

	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "empty", text: "", want: 0},
		{name: "two words", text: "hello world", want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := enc.Count(tt.text); got != tt.want {
				t.Errorf("Count(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestCount_Deterministic(t *testing.T) {
	enc := newTestEncoder(t)
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 50)

	first := enc.Count(text)
	for i := 0; i < 5; i++ {
		if got := enc.Count(text); got != first {
			t.Fatalf("Count() = %d on run %d, want %d", got, i, first)
		}
	}
}

func TestTruncate(t *testing.T) {
	enc := newTestEncoder(t)

	if got := enc.Truncate("hello world", 1); got != "hello" {
		t.Errorf("Truncate(hello world, 1) = %q, want %q", got, "hello")
	}
	if got := enc.Truncate("hello world", 10); got != "hello world" {
		t.Errorf("Truncate() of short text = %q, want unchanged", got)
	}
	if got := enc.Truncate("hello world", 0); got != "" {
		t.Errorf("Truncate(.., 0) = %q, want empty", got)
	}
}

func TestTruncate_NeverSplitsCodePoints(t *testing.T) {
	enc := newTestEncoder(t)
	text := "Grüße aus München — 東京の天気は晴れです 🙂🙂 naïve café"
	total := enc.Count(text)

	for n := 1; n < total; n++ {
		got := enc.Truncate(text, n)
		if !utf8.ValidString(got) {
			t.Fatalf("Truncate(.., %d) = %q is not valid UTF-8", n, got)
		}
		if !strings.HasPrefix(text, got) {
			t.Fatalf("Truncate(.., %d) = %q is not a prefix", n, got)
		}
		if c := enc.Count(got); c > n {
			t.Fatalf("Truncate(.., %d) has %d tokens", n, c)
		}
	}
}
