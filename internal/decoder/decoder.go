// Package decoder implements the CTC beam-search core: the per-frame
// beam expansion (four transition cases), merge, language-model and
// hotword scoring with memoization, prune/trim/history-prune, and
// finalization.
package decoder

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/beamctc/beamctc/internal/alphabet"
	"github.com/beamctc/beamctc/internal/beam"
	"github.com/beamctc/beamctc/internal/hotword"
	"github.com/beamctc/beamctc/internal/lm"
	"github.com/beamctc/beamctc/internal/logsoftmax"
)

// Decoder runs the beam search for one acoustic model / alphabet / LM
// combination. A Decoder is safe to reuse across many Decode calls: each
// call owns a fresh beam frontier and score caches, and no mutable state
// survives between calls (spec §5 lifecycle).
type Decoder struct {
	alphabet      *alphabet.Alphabet
	languageModel lm.Model
	hotwords      *hotword.Scorer
	cfg           Config
	lmStartState  lm.State
}

// New constructs a Decoder. languageModel may be nil (pure acoustic +
// hotword ranking, spec property P8). hotwords may be nil, in which case
// a no-op scorer is used.
func New(alpha *alphabet.Alphabet, languageModel lm.Model, hotwords *hotword.Scorer, cfg Config) (*Decoder, error) {
	if alpha == nil {
		return nil, fmt.Errorf("decoder: alphabet is required")
	}
	if hotwords == nil {
		hotwords = hotword.New(nil, cfg.HotwordWeight)
	}

	d := &Decoder{
		alphabet:      alpha,
		languageModel: languageModel,
		hotwords:      hotwords,
		cfg:           cfg,
	}
	if languageModel != nil {
		d.lmStartState = languageModel.StartState()
	}
	return d, nil
}

// Decode runs the full beam search over a [T][V] matrix of frame-level
// logits (raw or already-softmaxed) and returns ranked output beams, the
// first being the single best hypothesis.
func (d *Decoder) Decode(logits [][]float32) ([]OutputBeam, error) {
	if len(logits) == 0 {
		return nil, ErrEmptyLogits
	}
	for _, row := range logits {
		if len(row) != d.alphabet.Size() {
			return nil, ErrShapeMismatch
		}
	}

	prepared := logsoftmax.Prepare(logits)

	scoreCache := beam.ScoreCache{}
	scoreCache.Seed(d.lmStartState)
	partialCache := beam.PartialTokenCache{}

	frontier := []beam.Beam{beam.NewRoot()}

	for f, row := range prepared {
		candidates := candidateTokens(row, d.alphabet, d.cfg.TokenMinLogp)

		children := make([]beam.Beam, 0, len(frontier)*len(candidates))
		for _, parent := range frontier {
			for _, cand := range candidates {
				children = append(children, expandOne(parent, f, cand.Token, cand.LogProb, d.alphabet.IsBPE()))
			}
		}

		merged := mergeBeams(children)
		lmBeams := d.scoreBeams(merged, false, scoreCache, partialCache)
		lmBeams = prune(lmBeams, d.cfg.BeamPruneLogp)
		lmBeams = trim(lmBeams, d.cfg.BeamWidth)
		if d.cfg.PruneHistory {
			lmBeams = historyPrune(lmBeams, d.lmOrder())
		}

		if d.cfg.FrameObserver != nil {
			d.cfg.FrameObserver(f, assembleOutputs(lmBeams, scoreCache))
		}

		frontier = projectBeams(lmBeams)
	}

	closed := make([]beam.Beam, len(frontier))
	for i, b := range frontier {
		closed[i] = closeBeam(b)
	}
	merged := mergeBeams(closed)
	finalBeams := d.scoreBeams(merged, true, scoreCache, partialCache)
	finalBeams = prune(finalBeams, d.cfg.BeamPruneLogp)
	finalBeams = trim(finalBeams, d.cfg.BeamWidth)

	return assembleOutputs(finalBeams, scoreCache), nil
}

// lmOrder returns the configured language model's context length, or 1
// (unigram — the weakest possible history restriction) when no LM is
// configured.
func (d *Decoder) lmOrder() int {
	if d.languageModel == nil {
		return 1
	}
	return d.languageModel.Order()
}

// ── candidate token selection (spec §4.4) ─────────────────────────

type candidate struct {
	Token   string
	LogProb float64
}

// candidateTokens returns the argmax token plus every token at or above
// tokenMinLogp, deduplicated. The argmax is always included so a frame
// with every token below threshold still advances.
func candidateTokens(row []float32, alpha *alphabet.Alphabet, tokenMinLogp float64) []candidate {
	argmax := 0
	for i := 1; i < len(row); i++ {
		if row[i] > row[argmax] {
			argmax = i
		}
	}

	seen := make(map[int]bool, len(row))
	out := make([]candidate, 0, 4)
	add := func(i int) {
		if seen[i] {
			return
		}
		seen[i] = true
		out = append(out, candidate{Token: alpha.Label(i), LogProb: float64(row[i])})
	}

	add(argmax)
	for i, v := range row {
		if float64(v) >= tokenMinLogp {
			add(i)
		}
	}
	return out
}

// ── frame expansion: the four transition cases (spec §4.4) ───────

// expandOne extends parent beam p by one candidate token at frame f,
// classifying the token into one of four cases: blank/repeat, BPE
// word-piece boundary, non-BPE whitespace, or continuation.
func expandOne(p beam.Beam, f int, c string, logp float64, bpe bool) beam.Beam {
	child := p
	child.LogitScore += logp

	switch {
	case c == "":
		// Case A — blank: partial_frames unchanged.

	case c == p.LastChar:
		// Case A — repeat: extend the open partial word's frame range.
		if !child.PartialFrame.IsSentinel() {
			child.PartialFrame.End = f + 1
		}

	case bpe && (hasBPEBoundaryMarker(c) || p.ForceBreak):
		// Case B — BPE word-piece boundary.
		clean, _, atEnd := stripBPEMarker(c)
		commitPartial(&child)
		child.PartialWord = clean
		child.PartialFrame = beam.Frames{Start: f, End: f + 1}
		child.ForceBreak = atEnd

	case !bpe && c == " ":
		// Case C — non-BPE whitespace.
		commitPartial(&child)
		child.PartialWord = ""
		child.PartialFrame = beam.NoPartial

	default:
		// Case D — continuation.
		child.PartialWord += c
		if child.PartialFrame.IsSentinel() {
			child.PartialFrame = beam.Frames{Start: f, End: f + 1}
		} else {
			child.PartialFrame.End = f + 1
		}
	}

	child.LastChar = c
	return child
}

// commitPartial folds b's current partial word into NextWord and pushes
// its frame range into TextFrames, used by both the BPE boundary and
// whitespace transitions. A beam with no partial word yet (start of
// decode) commits an empty NextWord and leaves TextFrames untouched.
func commitPartial(b *beam.Beam) {
	if b.PartialWord == "" {
		b.NextWord = ""
		return
	}
	b.NextWord = b.PartialWord
	if !b.PartialFrame.IsSentinel() {
		b.TextFrames = append(cloneFrames(b.TextFrames), beam.WordFrames{
			Word:   b.PartialWord,
			Frames: b.PartialFrame,
		})
	}
}

func cloneFrames(ws []beam.WordFrames) []beam.WordFrames {
	out := make([]beam.WordFrames, len(ws), len(ws)+1)
	copy(out, ws)
	return out
}

func hasBPEBoundaryMarker(c string) bool {
	return strings.HasPrefix(c, alphabet.BPEToken) || strings.HasPrefix(c, alphabet.BPETokenAlt)
}

// stripBPEMarker removes a leading and/or trailing BPE boundary marker
// from c, reporting which sides had one.
func stripBPEMarker(c string) (clean string, atStart, atEnd bool) {
	clean = c
	switch {
	case strings.HasPrefix(clean, alphabet.BPEToken):
		clean = strings.TrimPrefix(clean, alphabet.BPEToken)
		atStart = true
	case strings.HasPrefix(clean, alphabet.BPETokenAlt):
		clean = strings.TrimPrefix(clean, alphabet.BPETokenAlt)
		atStart = true
	}
	switch {
	case strings.HasSuffix(clean, alphabet.BPEToken):
		clean = strings.TrimSuffix(clean, alphabet.BPEToken)
		atEnd = true
	case strings.HasSuffix(clean, alphabet.BPETokenAlt):
		clean = strings.TrimSuffix(clean, alphabet.BPETokenAlt)
		atEnd = true
	}
	return clean, atStart, atEnd
}

// closeBeam flushes a surviving beam's partial word at end of input,
// used only during finalization (spec §4.6).
func closeBeam(b beam.Beam) beam.Beam {
	if b.PartialWord == "" {
		return b
	}
	closed := b
	commitPartial(&closed)
	closed.PartialWord = ""
	closed.LastChar = ""
	closed.PartialFrame = beam.NoPartial
	return closed
}

// ── merge (spec §4.5) ──────────────────────────────────────────────

// mergeBeams buckets beams by their merge-equivalence key and combines
// colliding acoustic scores via log-sum-exp (spec invariant I5).
func mergeBeams(beams []beam.Beam) []beam.Beam {
	index := make(map[beam.MergeKey]int, len(beams))
	out := make([]beam.Beam, 0, len(beams))

	for _, b := range beams {
		key := b.Key()
		if i, ok := index[key]; ok {
			out[i].LogitScore = logSumExp(out[i].LogitScore, b.LogitScore)
			continue
		}
		index[key] = len(out)
		out = append(out, b)
	}
	return out
}

// logSumExp returns log(exp(a) + exp(b)), computed as max + log1p(exp(min - max))
// to avoid overflow/underflow.
func logSumExp(a, b float64) float64 {
	if math.IsInf(a, -1) {
		return b
	}
	if math.IsInf(b, -1) {
		return a
	}
	hi, lo := a, b
	if b > a {
		hi, lo = b, a
	}
	return hi + math.Log1p(math.Exp(lo-hi))
}

// ── LM + hotword scoring (spec §4.5) ───────────────────────────────

// scoreBeams computes an LMBeam for every merged beam, memoizing LM
// queries in cache and partial-token penalties in partialCache. It
// commits each beam's NextWord into Text as a side effect, matching the
// spec's "new_text = text ⊕ next_word" becoming the beam's Text for the
// next frame — which is what makes repeated frames with no new word a
// pure cache hit instead of a recomputation.
func (d *Decoder) scoreBeams(beams []beam.Beam, isEOS bool, cache beam.ScoreCache, partialCache beam.PartialTokenCache) []beam.LMBeam {
	out := make([]beam.LMBeam, 0, len(beams))

	for _, b := range beams {
		newText := b.CommittedText()
		key := beam.ScoreCacheKey{Text: newText, IsEOS: isEOS}

		entry, ok := cache[key]
		if !ok {
			entry = d.computeLMScore(b, newText, isEOS, cache)
			cache[key] = entry
		}

		partialPenalty := d.partialPenalty(b.PartialWord, partialCache)

		committed := b
		committed.Text = newText
		committed.NextWord = ""

		out = append(out, beam.LMBeam{
			Beam:    committed,
			LMScore: b.LogitScore + entry.Combined + partialPenalty,
		})
	}
	return out
}

// computeLMScore handles one ScoreCache miss: spec property P8 when no
// LM is configured (pure hotword score, no alpha/beta shift), otherwise
// the full alpha/beta/hotword combination. alpha and beta apply to each
// newly committed word's own delta before it joins the running LM-only
// total, matching language_model.cpp's per-word lm_score = alpha *
// lm_score * LOG_BASE_CHANGE_FACTOR + beta — beta is a per-word bonus,
// not a one-time shift applied to the whole accumulated raw score.
func (d *Decoder) computeLMScore(b beam.Beam, newText string, isEOS bool, cache beam.ScoreCache) beam.ScoreCacheEntry {
	hotwordScore := float64(d.hotwords.Score(newText))

	if d.languageModel == nil {
		return beam.ScoreCacheEntry{Combined: hotwordScore, LMOnly: 0, State: nil}
	}

	prev, ok := cache[beam.ScoreCacheKey{Text: b.Text, IsEOS: false}]
	if !ok {
		prev = beam.ScoreCacheEntry{State: d.lmStartState}
	}

	rawDelta, newState := d.languageModel.Score(prev.State, b.NextWord, isEOS)
	lmOnly := prev.LMOnly + rawDelta*lm.LogBaseChangeFactor*d.cfg.Alpha + d.cfg.Beta
	combined := lmOnly + hotwordScore

	return beam.ScoreCacheEntry{Combined: combined, LMOnly: lmOnly, State: newState}
}

// partialPenalty scores an in-progress (uncommitted) word fragment,
// preferring the hotword scorer whenever its trie recognizes the
// fragment as a hotword prefix, and falling back to the language
// model's own OOV-fragment penalty otherwise.
func (d *Decoder) partialPenalty(partial string, cache beam.PartialTokenCache) float64 {
	if partial == "" {
		return 0
	}
	if v, ok := cache[partial]; ok {
		return v
	}

	var penalty float64
	switch {
	case d.languageModel == nil:
		penalty = float64(d.hotwords.ScorePartialToken(partial))
	case d.hotwords.Contains(partial):
		penalty = float64(d.hotwords.ScorePartialToken(partial))
	default:
		penalty = d.languageModel.ScorePartialToken(partial)
	}

	cache[partial] = penalty
	return penalty
}

// ── prune / trim / history-prune (spec §4.5) ───────────────────────

// prune drops every beam scoring below the frontier's best plus
// beamPruneLogp (spec property P1). beamPruneLogp is expected negative.
func prune(beams []beam.LMBeam, beamPruneLogp float64) []beam.LMBeam {
	if len(beams) == 0 {
		return beams
	}
	max := beams[0].LMScore
	for _, b := range beams[1:] {
		if b.LMScore > max {
			max = b.LMScore
		}
	}
	threshold := max + beamPruneLogp

	out := make([]beam.LMBeam, 0, len(beams))
	for _, b := range beams {
		if b.LMScore >= threshold {
			out = append(out, b)
		}
	}
	return out
}

// trim keeps the top beamWidth beams by score, breaking ties
// deterministically on (lm_score desc, text, partial_word) as spec §9
// directs implementers to fix.
func trim(beams []beam.LMBeam, beamWidth int) []beam.LMBeam {
	sort.SliceStable(beams, func(i, j int) bool {
		if beams[i].LMScore != beams[j].LMScore {
			return beams[i].LMScore > beams[j].LMScore
		}
		if beams[i].Text != beams[j].Text {
			return beams[i].Text < beams[j].Text
		}
		return beams[i].PartialWord < beams[j].PartialWord
	})
	if len(beams) > beamWidth {
		beams = beams[:beamWidth]
	}
	return beams
}

// historyPrune collapses beams that share their last max(1, order-1)
// whitespace-separated tokens plus (partial_word, last_char), keeping
// whichever instance comes first in the current (already score-sorted)
// order.
func historyPrune(beams []beam.LMBeam, order int) []beam.LMBeam {
	n := order - 1
	if n < 1 {
		n = 1
	}

	type histKey struct {
		tail, partial, last string
	}
	seen := make(map[histKey]bool, len(beams))
	out := make([]beam.LMBeam, 0, len(beams))

	for _, b := range beams {
		words := strings.Fields(b.Text)
		start := len(words) - n
		if start < 0 {
			start = 0
		}
		key := histKey{tail: strings.Join(words[start:], " "), partial: b.PartialWord, last: b.LastChar}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, b)
	}
	return out
}

// projectBeams strips the ranking score, returning the acoustic Beam
// state the next frame expands from.
func projectBeams(beams []beam.LMBeam) []beam.Beam {
	out := make([]beam.Beam, len(beams))
	for i, b := range beams {
		out[i] = b.Project()
	}
	return out
}
