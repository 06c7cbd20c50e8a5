package summarizer

import (
	"strings"
	"unicode/utf8"

	"github.com/pemistahl/lingua-go"
)

// sampleBytes bounds how much of a chunk is fed to the detector.
const sampleBytes = 2000

var candidateLanguages = []string{"en", "fr", "de", "es", "pt", "it", "nl", "ru", "zh", "ja", "ko"}

// LanguageClassifier flags text that is not in a supported language.
type LanguageClassifier interface {
	Classify(text string) (language string, lowPriority bool)
}

// LanguageDetector classifies text with lingua over a fixed candidate set.
type LanguageDetector struct {
	detector      lingua.LanguageDetector
	supported     map[string]bool
	minConfidence float64
}

// NewLanguageDetector builds a detector. supported holds ISO 639-1 codes.
func NewLanguageDetector(supported []string, minConfidence float64) *LanguageDetector {
	codes := make(map[string]bool)
	for _, c := range candidateLanguages {
		codes[c] = true
	}
	supportedSet := make(map[string]bool)
	for _, c := range supported {
		c = strings.ToLower(strings.TrimSpace(c))
		supportedSet[c] = true
		codes[c] = true
	}

	var languages []lingua.Language
	for _, lang := range lingua.AllLanguages() {
		if codes[isoCode(lang)] {
			languages = append(languages, lang)
		}
	}

	return &LanguageDetector{
		detector: lingua.NewLanguageDetectorBuilder().
			FromLanguages(languages...).
			WithLowAccuracyMode().
			Build(),
		supported:     supportedSet,
		minConfidence: minConfidence,
	}
}

// Detect returns the ISO 639-1 code of the most likely language and its confidence.
// An empty code means the language could not be determined.
func (d *LanguageDetector) Detect(text string) (string, float64) {
	sample := sampleOf(text)
	if strings.TrimSpace(sample) == "" {
		return "", 0
	}
	lang, ok := d.detector.DetectLanguageOf(sample)
	if !ok {
		return "", 0
	}
	return isoCode(lang), d.detector.ComputeLanguageConfidence(sample, lang)
}

// Classify never asks for work to be skipped. Undetermined text is not low priority.
func (d *LanguageDetector) Classify(text string) (string, bool) {
	code, confidence := d.Detect(text)
	if code == "" {
		return "", false
	}
	return code, !d.supported[code] || confidence < d.minConfidence
}

func isoCode(lang lingua.Language) string {
	return strings.ToLower(lang.IsoCode639_1().String())
}

func sampleOf(text string) string {
	if len(text) <= sampleBytes {
		return text
	}
	cut := sampleBytes
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
