// Package telemetry computes linguistic and acoustic metrics from negotiation
// utterances.
//
// The entry point is [Analyze], a pure function scoring one utterance against
// a target rhetoric pattern and its acoustic context. Results accumulate in a
// bounded sliding [Window] that the visualization layer reads as snapshots.
package telemetry

import (
	"strings"
	"time"
	"unicode"

	"github.com/antzucaro/matchr"
)

// Metric is one scored snapshot of a spoken segment. Immutable once built.
type Metric struct {
	Timestamp         time.Time
	VerbalVelocity    float64 // words per minute
	HesitationMarkers int
	LevenshteinDelta  int
	SpectralIntensity float64 // [0, 1]
	SentimentValence  float64 // [-1, 1]
	ConfidenceScore   float64 // [0, 1]
	LogicDensity      float64 // [0, 100]
	AggressionIndex   float64 // [0, 100]
	ClarityScore      float64 // [0, 100]
}

// logicHitWeight is the flat logic-density contribution per marker hit.
const logicHitWeight = 15

// Analyze scores utterance against targetPattern given the spoken segment's
// peak acoustic intensity (in [0, 1]) and elapsed duration in seconds.
//
// Analyze is a pure function: it holds no mutable shared state beyond the
// fixed lexicons and may be called concurrently.
func Analyze(utterance, targetPattern string, acousticIntensity, elapsedSeconds float64) Metric {
	words := strings.Fields(utterance)

	var velocity float64
	if elapsedSeconds > 0 {
		velocity = float64(len(words)) / elapsedSeconds * 60
	}

	hesitations := 0
	var aggression, logicDensity, valence float64
	for _, w := range words {
		token := cleanToken(w)
		if token == "" {
			continue
		}
		if _, ok := hesitationLexicon[token]; ok {
			hesitations++
		}
		if weight, ok := aggressionLexicon[token]; ok {
			aggression += weight * 100
			valence -= weight
		}
		if weight, ok := conciliatoryLexicon[token]; ok {
			valence += weight
		}
		if _, ok := logicLexicon[token]; ok {
			logicDensity += logicHitWeight
		}
	}
	aggression = min(aggression, 100)
	logicDensity = min(logicDensity, 100)

	clarity := clamp(100-0.02*float64(len(utterance))+0.3*logicDensity, 0, 100)

	return Metric{
		Timestamp:         time.Now(),
		VerbalVelocity:    velocity,
		HesitationMarkers: hesitations,
		LevenshteinDelta:  matchr.Levenshtein(utterance, targetPattern),
		SpectralIntensity: acousticIntensity,
		SentimentValence:  resonance(valence, len(words), acousticIntensity),
		ConfidenceScore:   confidence(hesitations, len(words), acousticIntensity, logicDensity, aggression),
		LogicDensity:      logicDensity,
		AggressionIndex:   aggression,
		ClarityScore:      clarity,
	}
}

// resonance derives the emotional resonance index from the raw valence
// accumulator. Short utterances carry half weight; acoustic intensity
// amplifies the signal. A near-neutral result under a raised voice is
// overridden with the negated intensity.
func resonance(valence float64, wordCount int, intensity float64) float64 {
	r := valence
	if wordCount < 3 {
		r /= 2
	}
	r *= 1 + 2*intensity

	if r > -0.1 && r < 0.1 && intensity > 0.2 {
		r = -intensity
	}
	return clamp(r, -1, 1)
}

// confidence scores speaker confidence from hesitation count, audibility and
// argumentation strength.
func confidence(hesitations, wordCount int, intensity, logicDensity, aggression float64) float64 {
	score := 1.0
	score -= 0.15 * float64(hesitations)
	if wordCount > 0 && intensity < 0.05 {
		score -= 0.2
	}
	score += 0.002 * logicDensity
	score += 0.002 * aggression
	return clamp(score, 0, 1)
}

// cleanToken lower-cases a word and strips every non-letter rune, so that
// punctuation-adjacent fillers ("um," / "Like!") still match the lexicons.
func cleanToken(w string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(w) {
		if unicode.IsLetter(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
