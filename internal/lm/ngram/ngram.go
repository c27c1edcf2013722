// Package ngram implements a small in-memory backoff n-gram language
// model satisfying the lm.Model contract. It is not an ARPA-grammar
// engine — loading a full ARPA file is the external n-gram backend named
// out of scope in spec.md §6 — it exists so the reference decode
// scenarios and the CLI can run end-to-end against a compact, readable
// table format.
//
// The state/transition shape (context history as an opaque state,
// backoff chasing from longest to shortest matching context) follows the
// design of fslm's Model/Sorted interfaces: a state is a bounded trailing
// word history, and scoring a word walks that history down through
// backoff weights until a match is found.
package ngram

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/beamctc/beamctc/internal/lm"
)

// floorLogProb is returned for a word that has no n-gram entry at any
// order, mirroring fslm's WEIGHT_LOG0 treatment of a true out-of-model
// unigram.
const floorLogProb = -99.0

const ctxSep = "\x1f"

// Model is a backoff n-gram language model held entirely in memory.
type Model struct {
	order          int
	vocab          map[string]struct{} // every word ever seen in an n-gram entry
	unigramSet     map[string]struct{} // optional restriction set; empty = no restriction
	ngram          map[string]float64  // "ctx\x1fword" -> log10 P(word|ctx)
	backoff        map[string]float64  // "ctx" -> log10 backoff weight
	unkScoreOffset float64
	scoreBoundary  bool
}

// Option configures a Model at construction time.
type Option func(*Model)

// WithUnigramRestriction restricts in-vocabulary words to exactly this
// set; words outside it are scored as out-of-vocabulary regardless of
// whether an n-gram entry happens to exist for them. An empty or absent
// restriction means every word the model has ever scored a probability
// for is considered in-vocabulary.
func WithUnigramRestriction(words []string) Option {
	return func(m *Model) {
		if len(words) == 0 {
			return
		}
		m.unigramSet = make(map[string]struct{}, len(words))
		for _, w := range words {
			m.unigramSet[w] = struct{}{}
		}
	}
}

// WithUnkScoreOffset sets the additive penalty applied to
// out-of-vocabulary words. Spec default is -10.
func WithUnkScoreOffset(offset float64) Option {
	return func(m *Model) { m.unkScoreOffset = offset }
}

// WithScoreBoundary enables end-of-sentence scoring: Score folds in
// log p(</s>|state) whenever isEOS is true.
func WithScoreBoundary(enabled bool) Option {
	return func(m *Model) { m.scoreBoundary = enabled }
}

// New builds an empty Model of the given order (number of words of
// context, including the word being predicted; order 2 = bigram).
func New(order int, opts ...Option) *Model {
	m := &Model{
		order:          order,
		vocab:          make(map[string]struct{}),
		ngram:          make(map[string]float64),
		backoff:        make(map[string]float64),
		unkScoreOffset: -10,
		scoreBoundary:  true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load parses the compact table format:
//
//	order <n>
//	ngram <ctx word...> <word> <log10prob>
//	backoff <ctx word...> <log10weight>
//
// Blank lines and lines starting with # are ignored. "order" must appear
// before any ngram/backoff line.
func Load(r io.Reader, opts ...Option) (*Model, error) {
	scanner := bufio.NewScanner(r)
	var m *Model
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)

		switch fields[0] {
		case "order":
			if len(fields) != 2 {
				return nil, fmt.Errorf("ngram: line %d: malformed order directive", lineNo)
			}
			n, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, fmt.Errorf("ngram: line %d: %w", lineNo, err)
			}
			m = New(n, opts...)

		case "ngram":
			if m == nil {
				return nil, fmt.Errorf("ngram: line %d: ngram entry before order directive", lineNo)
			}
			if len(fields) < 3 {
				return nil, fmt.Errorf("ngram: line %d: malformed ngram entry", lineNo)
			}
			logp, err := strconv.ParseFloat(fields[len(fields)-1], 64)
			if err != nil {
				return nil, fmt.Errorf("ngram: line %d: %w", lineNo, err)
			}
			words := fields[1 : len(fields)-1]
			ctx, word := words[:len(words)-1], words[len(words)-1]
			m.addNgram(ctx, word, logp)

		case "backoff":
			if m == nil {
				return nil, fmt.Errorf("ngram: line %d: backoff entry before order directive", lineNo)
			}
			if len(fields) < 2 {
				return nil, fmt.Errorf("ngram: line %d: malformed backoff entry", lineNo)
			}
			logp, err := strconv.ParseFloat(fields[len(fields)-1], 64)
			if err != nil {
				return nil, fmt.Errorf("ngram: line %d: %w", lineNo, err)
			}
			ctx := fields[1 : len(fields)-1]
			m.backoff[strings.Join(ctx, ctxSep)] = logp

		default:
			return nil, fmt.Errorf("ngram: line %d: unknown directive %q", lineNo, fields[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("ngram: empty model: missing order directive")
	}
	return m, nil
}

// addNgram records log10 P(word | ctx) and every word involved as known
// vocabulary.
func (m *Model) addNgram(ctx []string, word string, logp float64) {
	m.ngram[strings.Join(ctx, ctxSep)+ctxSep+word] = logp
	m.vocab[word] = struct{}{}
	for _, w := range ctx {
		m.vocab[w] = struct{}{}
	}
}

// ngramState is the opaque state threaded through lm.Model: the trailing
// word history, at most order-1 words.
type ngramState struct {
	context []string
}

// Order returns the configured n-gram order.
func (m *Model) Order() int { return m.order }

// StartState returns a state with empty context. Callers that want a
// begin-of-sentence-flavored start can rely on the first Score call's
// backoff chain naturally handling an empty history.
func (m *Model) StartState() lm.State {
	return ngramState{}
}

// Score advances state by word, per lm.Model.
func (m *Model) Score(state lm.State, word string, isEOS bool) (float64, lm.State) {
	ctx := stateContext(state)

	logp := m.lookup(ctx, word)
	if m.isOOV(word) {
		logp += m.unkScoreOffset
	}

	newCtx := append(append([]string{}, ctx...), word)
	if m.order >= 1 && len(newCtx) > m.order-1 {
		newCtx = newCtx[len(newCtx)-(m.order-1):]
	}

	if isEOS && m.scoreBoundary {
		logp += m.lookup(newCtx, "</s>")
	}

	return logp, ngramState{context: newCtx}
}

// isOOV reports whether word fails the unigram restriction set (when
// configured) or is entirely unknown to the model.
func (m *Model) isOOV(word string) bool {
	if len(m.unigramSet) > 0 {
		if _, ok := m.unigramSet[word]; !ok {
			return true
		}
	}
	_, known := m.vocab[word]
	return !known
}

// lookup walks the backoff chain from the longest available context down
// to the unigram, per the classic n-gram back-off recurrence:
//
//	P(w|ctx) = P(w|ctx) if seen, else backoff(ctx) + P(w|ctx[1:])
func (m *Model) lookup(ctx []string, word string) float64 {
	accumulatedBackoff := 0.0
	for {
		key := strings.Join(ctx, ctxSep) + ctxSep + word
		if logp, ok := m.ngram[key]; ok {
			return logp + accumulatedBackoff
		}
		if len(ctx) == 0 {
			return floorLogProb + accumulatedBackoff
		}
		accumulatedBackoff += m.backoff[strings.Join(ctx, ctxSep)]
		ctx = ctx[1:]
	}
}

// ScorePartialToken rewards an in-progress word fragment per lm.Model:
// 0 if it prefixes some known vocabulary word, else the unk-score offset
// scaled by how far past AvgTokenLen it already runs.
func (m *Model) ScorePartialToken(partial string) float64 {
	for w := range m.vocab {
		if strings.HasPrefix(w, partial) {
			return 0
		}
	}
	scale := math.Max(1, float64(len([]rune(partial)))/float64(lm.AvgTokenLen))
	return m.unkScoreOffset * scale
}

func stateContext(s lm.State) []string {
	if s == nil {
		return nil
	}
	ns, ok := s.(ngramState)
	if !ok {
		return nil
	}
	return ns.context
}
