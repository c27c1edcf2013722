// Package lm declares the language-model contract the beam-search
// decoder scores beams against. Concrete backends (a full ARPA-loaded
// n-gram engine in production, or the small in-memory model in
// internal/lm/ngram used here) implement Model; the decoder never
// depends on a specific backend.
package lm

// AvgTokenLen is the reference fragment length used to scale the
// out-of-vocabulary penalty for partial (not-yet-committed) words: longer
// fragments are penalized more, per the source's verbatim formulation.
const AvgTokenLen = 6

// LogBaseChangeFactor converts a base-10 log-probability (as produced by
// a conventional ARPA n-gram model) into natural log: 1/log10(e).
const LogBaseChangeFactor = 2.302585092994046

// State is an opaque language-model context handle. The decoder only
// stores and threads State values through its score cache; it never
// inspects or mutates them.
type State any

// Model is the stateful scoring oracle the decoder consults once per
// committed word and once more at end-of-sentence.
type Model interface {
	// Order returns the n-gram context length, used for history pruning.
	Order() int

	// StartState returns the initial state a fresh beam begins scoring
	// from (begin-of-sentence context if the backend scores sentence
	// boundaries, otherwise the null-context state).
	StartState() State

	// Score advances state by one word and returns the incremental
	// base-10 log-probability plus the new state. If isEOS is true, the
	// backend additionally folds in log p(</s> | new_state) when it
	// scores sentence boundaries. Score is total: every string input
	// gets a finite score, with out-of-vocabulary words absorbing a
	// backend-defined penalty rather than failing.
	Score(state State, word string, isEOS bool) (logScoreBase10 float64, next State)

	// ScorePartialToken scores an in-progress (not yet whitespace- or
	// boundary-terminated) word fragment. A fragment that is a prefix of
	// some known unigram scores 0; otherwise it incurs a penalty scaled
	// by how far past AvgTokenLen the fragment already is.
	ScorePartialToken(partial string) float64
}
