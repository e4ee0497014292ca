package telemetry

// Weighted lexicons driving the lexical scan in [Analyze]. The maps are
// package-level constants in spirit: built once, never mutated. Weights are
// in [0, 1].

// hesitationLexicon lists filler tokens counted as hesitation markers.
// Matching is whole-token only: the multi-word entries can never match a
// single cleaned token and are retained for wire compatibility with the
// lexicon definition, not because they are reachable.
var hesitationLexicon = map[string]struct{}{
	"um":        {},
	"uh":        {},
	"like":      {},
	"actually":  {},
	"basically": {},
	"mean":      {},
	"sort of":   {},
	"you know":  {},
}

// aggressionLexicon maps confrontational tokens to severity weights.
var aggressionLexicon = map[string]float64{
	"demand":       0.7,
	"never":        0.5,
	"refuse":       0.8,
	"unacceptable": 0.9,
	"must":         0.4,
	"threat":       0.9,
	"no":           0.3,
	"wrong":        0.5,
	"ridiculous":   0.8,
	"fault":        0.6,
	"insulting":    0.8,
	"final":        0.4,
}

// conciliatoryLexicon maps cooperative tokens to warmth weights.
var conciliatoryLexicon = map[string]float64{
	"agree":      0.7,
	"understand": 0.6,
	"appreciate": 0.7,
	"together":   0.5,
	"fair":       0.6,
	"compromise": 0.8,
	"thanks":     0.5,
	"please":     0.4,
	"perhaps":    0.3,
	"welcome":    0.4,
	"help":       0.5,
}

// logicLexicon lists argument-structure markers. Each hit contributes a flat
// +15 to logic density, capped at 100.
var logicLexicon = map[string]struct{}{
	"because":      {},
	"therefore":    {},
	"evidence":     {},
	"data":         {},
	"specifically": {},
	"precisely":    {},
	"consequently": {},
	"thus":         {},
	"given":        {},
	"percent":      {},
}
