package summarizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const englishText = "The configuration file controls how the server starts. Set the port, " +
	"the log level and the path to the database before running the install command. " +
	"Every option can also be overridden with an environment variable."

const frenchText = "Le fichier de configuration contrôle le démarrage du serveur. Indiquez le port, " +
	"le niveau de journalisation et le chemin de la base de données avant de lancer la commande " +
	"d'installation. Chaque option peut aussi être remplacée par une variable d'environnement."

func TestLanguageDetector_Classify(t *testing.T) {
	d := NewLanguageDetector([]string{"en"}, 0)

	lang, low := d.Classify(englishText)
	assert.Equal(t, "en", lang)
	assert.False(t, low)

	lang, low = d.Classify(frenchText)
	assert.Equal(t, "fr", lang)
	assert.True(t, low)
}

func TestLanguageDetector_UndeterminedIsNotLowPriority(t *testing.T) {
	d := NewLanguageDetector([]string{"en"}, 0.5)

	lang, low := d.Classify("   ")
	assert.Equal(t, "", lang)
	assert.False(t, low)
}

func TestSampleOf(t *testing.T) {
	long := strings.Repeat("é", sampleBytes)
	s := sampleOf(long)
	assert.LessOrEqual(t, len(s), sampleBytes)
	assert.True(t, strings.HasPrefix(long, s))
	assert.Equal(t, 0, len(s)%2, "must not cut inside a rune")
}
