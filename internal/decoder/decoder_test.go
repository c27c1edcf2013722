package decoder

import (
	"math"
	"strings"
	"testing"

	"github.com/beamctc/beamctc/internal/alphabet"
	"github.com/beamctc/beamctc/internal/beam"
	"github.com/beamctc/beamctc/internal/hotword"
	"github.com/beamctc/beamctc/internal/lm"
	"github.com/beamctc/beamctc/internal/lm/ngram"
)

// referenceLabels mirrors the label layout used throughout this package's
// tests: [" ","b","g","n","s","u","y",""], blank last.
var referenceLabels = []string{" ", "b", "g", "n", "s", "u", "y", ""}

const (
	idxSpace = 0
	idxB     = 1
	idxG     = 2
	idxN     = 3
	idxS     = 4
	idxU     = 5
	idxY     = 6
	idxBlank = 7
)

// spikedRow returns a raw (pre-softmax) logit row with one dominant
// column, distinct enough that log-softmax makes it the unambiguous
// argmax.
func spikedRow(width int, hot int) []float32 {
	row := make([]float32, width)
	for i := range row {
		row[i] = 0.1
	}
	row[hot] = 5.0
	return row
}

// bunnyBunnyLogits encodes the frame-by-frame argmax path
// b,u,n,<blank>,n,y,<space>,b,u,n,<blank>,n,y — which CTC-collapses to
// "bunny bunny" (the blank between the two n's prevents them collapsing
// into one).
func bunnyBunnyLogits() [][]float32 {
	path := []int{idxB, idxU, idxN, idxBlank, idxN, idxY, idxSpace, idxB, idxU, idxN, idxBlank, idxN, idxY}
	out := make([][]float32, len(path))
	for i, hot := range path {
		out[i] = spikedRow(len(referenceLabels), hot)
	}
	return out
}

func mustAlphabet(t *testing.T) *alphabet.Alphabet {
	t.Helper()
	a, err := alphabet.New(referenceLabels, false)
	if err != nil {
		t.Fatalf("alphabet.New: %v", err)
	}
	return a
}

// TestDecodeGreedyNoLM exercises scenario S1: with no language model, the
// reference path decodes to "bunny bunny".
func TestDecodeGreedyNoLM(t *testing.T) {
	d, err := New(mustAlphabet(t), nil, nil, DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	outputs, err := d.Decode(bunnyBunnyLogits())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(outputs) == 0 {
		t.Fatalf("Decode returned no outputs")
	}
	if got := outputs[0].Text; got != "bunny bunny" {
		t.Fatalf("best hypothesis = %q, want %q", got, "bunny bunny")
	}
	if len(outputs[0].Words) != 2 {
		t.Fatalf("word alignment count = %d, want 2", len(outputs[0].Words))
	}
}

// ambiguousLetterAlphabet and ambiguousLetterLogits build a minimal
// two-candidate fixture — the single ambiguous frame can commit either
// "b" or "x" as the word's second letter, with "ab" very slightly
// favored acoustically — small enough that a language model's word-level
// preference can flip the winner either way. This isolates the LM
// rescoring behavior (scenarios S2-S5) without depending on exact
// acoustic fixture values this spec does not pin down.
func ambiguousLetterAlphabet(t *testing.T) *alphabet.Alphabet {
	t.Helper()
	a, err := alphabet.New([]string{"a", "b", "x", ""}, false)
	if err != nil {
		t.Fatalf("alphabet.New: %v", err)
	}
	return a
}

func ambiguousLetterLogits() [][]float32 {
	return [][]float32{
		{1.0, 0.05, 0.05, 0.05}, // frame 0: "a" dominant
		{0.05, 1.0, 0.9, 0.05},  // frame 1: "b" edges out "x" acoustically
		{0.05, 0.05, 0.05, 1.0}, // frame 2: blank, ends the word
	}
}

// TestDecodeLMFlipsAcousticWinner exercises the shape of scenario S2: an
// LM that strongly prefers the word "ax" over "ab" overrides the acoustic
// model's slight preference for "ab".
func TestDecodeLMFlipsAcousticWinner(t *testing.T) {
	table := `
order 2
ngram a -1.0
ngram b -1.0
ngram x -1.0
ngram ab -2.0
ngram ax -0.1
backoff a -0.1
`
	model, err := ngram.Load(strings.NewReader(table))
	if err != nil {
		t.Fatalf("ngram.Load: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Alpha = 1.0
	cfg.Beta = 0.0

	d, err := New(ambiguousLetterAlphabet(t), model, nil, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	outputs, err := d.Decode(ambiguousLetterLogits())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(outputs) == 0 {
		t.Fatalf("Decode returned no outputs")
	}
	if got := outputs[0].Text; got != "ax" {
		t.Fatalf("best hypothesis = %q, want %q (LM should override the slim acoustic edge)", got, "ax")
	}
}

// TestDecodeUnigramRestrictionFlipsWinnerBack exercises scenario S5: the
// same LM as above, but with a unigram restriction that makes "ax"
// out-of-vocabulary and a heavy unk penalty, reverses the flip back to
// the acoustically-favored "ab".
func TestDecodeUnigramRestrictionFlipsWinnerBack(t *testing.T) {
	table := `
order 2
ngram a -1.0
ngram b -1.0
ngram x -1.0
ngram ab -2.0
ngram ax -0.1
backoff a -0.1
`
	model, err := ngram.Load(strings.NewReader(table),
		ngram.WithUnigramRestriction([]string{"ab"}),
		ngram.WithUnkScoreOffset(-10),
	)
	if err != nil {
		t.Fatalf("ngram.Load: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Alpha = 1.0
	cfg.Beta = 0.0

	d, err := New(ambiguousLetterAlphabet(t), model, nil, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	outputs, err := d.Decode(ambiguousLetterLogits())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(outputs) == 0 {
		t.Fatalf("Decode returned no outputs")
	}
	if got := outputs[0].Text; got != "ab" {
		t.Fatalf("best hypothesis = %q, want %q (OOV penalty on 'ax' should flip the winner back)", got, "ab")
	}
}

// TestDecodeAllBlankYieldsEmptyString is property P7.
func TestDecodeAllBlankYieldsEmptyString(t *testing.T) {
	logits := make([][]float32, 8)
	for i := range logits {
		logits[i] = spikedRow(len(referenceLabels), idxBlank)
	}

	d, err := New(mustAlphabet(t), nil, nil, DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	outputs, err := d.Decode(logits)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(outputs) == 0 {
		t.Fatalf("Decode returned no outputs")
	}
	if outputs[0].Text != "" {
		t.Fatalf("all-blank decode = %q, want empty string", outputs[0].Text)
	}
}

// TestDecodeNoLMRankingIsAcousticPlusHotword is property P8.
func TestDecodeNoLMRankingIsAcousticPlusHotword(t *testing.T) {
	hw := hotword.New([]string{"bunny"}, 3.0)
	d, err := New(mustAlphabet(t), nil, hw, DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	outputs, err := d.Decode(bunnyBunnyLogits())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(outputs) == 0 {
		t.Fatalf("Decode returned no outputs")
	}
	best := outputs[0]
	want := best.LogitScore + float64(hw.Score(best.Text))
	if math.Abs(best.LMScore-want) > 1e-6 {
		t.Fatalf("lm_score = %v, want logit_score+hotword_score = %v", best.LMScore, want)
	}
}

func TestDecodeRejectsShapeMismatch(t *testing.T) {
	d, err := New(mustAlphabet(t), nil, nil, DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = d.Decode([][]float32{{0.1, 0.2}})
	if err != ErrShapeMismatch {
		t.Fatalf("Decode error = %v, want ErrShapeMismatch", err)
	}
}

func TestDecodeRejectsEmptyLogits(t *testing.T) {
	d, err := New(mustAlphabet(t), nil, nil, DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = d.Decode(nil)
	if err != ErrEmptyLogits {
		t.Fatalf("Decode error = %v, want ErrEmptyLogits", err)
	}
}

// TestMergeLogSumExp is scenario S6 / property P5.
func TestMergeLogSumExp(t *testing.T) {
	a := beam.NewRoot()
	a.Text = "hi"
	a.LogitScore = math.Log(0.3)

	b := beam.NewRoot()
	b.Text = "hi"
	b.LogitScore = math.Log(0.2)

	merged := mergeBeams([]beam.Beam{a, b})
	if len(merged) != 1 {
		t.Fatalf("merged beam count = %d, want 1", len(merged))
	}
	want := math.Log(0.5)
	if math.Abs(merged[0].LogitScore-want) > 1e-6 {
		t.Fatalf("merged logit_score = %v, want %v", merged[0].LogitScore, want)
	}
}

// TestMergeBeamsNoCollision is property P4: distinct merge keys never
// combine.
func TestMergeBeamsNoCollision(t *testing.T) {
	a := beam.NewRoot()
	a.Text = "hi"
	b := beam.NewRoot()
	b.Text = "bye"

	merged := mergeBeams([]beam.Beam{a, b})
	if len(merged) != 2 {
		t.Fatalf("merged beam count = %d, want 2", len(merged))
	}
}

func TestPruneDropsBelowThreshold(t *testing.T) {
	beams := []beam.LMBeam{
		{LMScore: 0},
		{LMScore: -5},
		{LMScore: -50},
	}
	pruned := prune(beams, -10)
	if len(pruned) != 2 {
		t.Fatalf("pruned count = %d, want 2", len(pruned))
	}
	for _, b := range pruned {
		if b.LMScore < -10 {
			t.Fatalf("surviving beam scored %v, below threshold -10", b.LMScore)
		}
	}
}

func TestTrimKeepsTopNWithDeterministicTieBreak(t *testing.T) {
	mk := func(text string, score float64) beam.LMBeam {
		lb := beam.LMBeam{LMScore: score}
		lb.Text = text
		return lb
	}
	beams := []beam.LMBeam{
		mk("zzz", 1.0),
		mk("aaa", 1.0),
		mk("mmm", 2.0),
	}
	trimmed := trim(beams, 2)
	if len(trimmed) != 2 {
		t.Fatalf("trimmed count = %d, want 2", len(trimmed))
	}
	if trimmed[0].Text != "mmm" {
		t.Fatalf("first = %q, want mmm (highest score)", trimmed[0].Text)
	}
	if trimmed[1].Text != "aaa" {
		t.Fatalf("second = %q, want aaa (tie broken lexicographically)", trimmed[1].Text)
	}
}

func TestHistoryPruneCollapsesSameTail(t *testing.T) {
	mk := func(text string, score float64) beam.LMBeam {
		lb := beam.LMBeam{LMScore: score}
		lb.Text = text
		return lb
	}
	beams := []beam.LMBeam{
		mk("the quick fox", 2.0),
		mk("a very quick fox", 1.0),
	}
	pruned := historyPrune(beams, 2) // order 2 -> last 1 word of history
	if len(pruned) != 1 {
		t.Fatalf("history-pruned count = %d, want 1 (both beams end in 'fox')", len(pruned))
	}
	if pruned[0].Text != "the quick fox" {
		t.Fatalf("survivor = %q, want the higher-scoring beam", pruned[0].Text)
	}
}

func TestCandidateTokensAlwaysIncludesArgmax(t *testing.T) {
	a := mustAlphabet(t)
	row := []float32{-50, -50, -50, -50, -50, -50, -50, -1}
	cands := candidateTokens(row, a, 0) // threshold impossibly high
	if len(cands) != 1 {
		t.Fatalf("candidate count = %d, want 1 (argmax-only fallback)", len(cands))
	}
	if cands[0].Token != "" {
		t.Fatalf("fallback candidate = %q, want blank", cands[0].Token)
	}
}

func TestExpandOneBlankLeavesPartialUnchanged(t *testing.T) {
	p := beam.NewRoot()
	p.PartialWord = "bu"
	p.PartialFrame = beam.Frames{Start: 0, End: 2}
	p.LastChar = "u"

	child := expandOne(p, 2, "", -0.1, false)
	if child.PartialWord != "bu" {
		t.Fatalf("partial_word = %q, want unchanged bu", child.PartialWord)
	}
	if child.PartialFrame != (beam.Frames{Start: 0, End: 2}) {
		t.Fatalf("partial_frames changed on blank: %+v", child.PartialFrame)
	}
	if child.LastChar != "" {
		t.Fatalf("last_char = %q, want blank", child.LastChar)
	}
}

func TestExpandOneRepeatExtendsFrameRange(t *testing.T) {
	p := beam.NewRoot()
	p.PartialWord = "n"
	p.PartialFrame = beam.Frames{Start: 4, End: 5}
	p.LastChar = "n"

	child := expandOne(p, 5, "n", -0.1, false)
	if child.PartialFrame != (beam.Frames{Start: 4, End: 6}) {
		t.Fatalf("partial_frames = %+v, want extended to end 6", child.PartialFrame)
	}
	if child.PartialWord != "n" {
		t.Fatalf("partial_word changed on repeat: %q", child.PartialWord)
	}
}

func TestExpandOneContinuationAppends(t *testing.T) {
	p := beam.NewRoot()
	p.PartialWord = "b"
	p.PartialFrame = beam.Frames{Start: 0, End: 1}
	p.LastChar = "b"

	child := expandOne(p, 1, "u", -0.1, false)
	if child.PartialWord != "bu" {
		t.Fatalf("partial_word = %q, want bu", child.PartialWord)
	}
	if child.PartialFrame != (beam.Frames{Start: 0, End: 2}) {
		t.Fatalf("partial_frames = %+v, want end extended to 2", child.PartialFrame)
	}
}

func TestExpandOneWhitespaceCommitsWord(t *testing.T) {
	p := beam.NewRoot()
	p.PartialWord = "bunny"
	p.PartialFrame = beam.Frames{Start: 0, End: 5}
	p.LastChar = "y"

	child := expandOne(p, 5, " ", -0.1, false)
	if child.NextWord != "bunny" {
		t.Fatalf("next_word = %q, want bunny", child.NextWord)
	}
	if child.PartialWord != "" {
		t.Fatalf("partial_word = %q, want reset to empty", child.PartialWord)
	}
	if !child.PartialFrame.IsSentinel() {
		t.Fatalf("partial_frames = %+v, want sentinel", child.PartialFrame)
	}
	if len(child.TextFrames) != 1 || child.TextFrames[0].Word != "bunny" {
		t.Fatalf("text_frames = %+v, want one entry for bunny", child.TextFrames)
	}
}

// TestExpandOneBPEBoundary exercises case B directly. BPE alphabet
// construction is rejected by alphabet.New (see alphabet package docs),
// so this transition is unreachable through Decode today; it is still
// implemented and unit-tested here against the bare bpe=true path so the
// case is not dead code if BPE normalization is defined later.
func TestExpandOneBPEBoundary(t *testing.T) {
	p := beam.NewRoot()
	p.PartialWord = "bun"
	p.PartialFrame = beam.Frames{Start: 0, End: 3}
	p.LastChar = "n"

	child := expandOne(p, 3, "▁ny", -0.1, true)
	if child.NextWord != "bun" {
		t.Fatalf("next_word = %q, want bun", child.NextWord)
	}
	if child.PartialWord != "ny" {
		t.Fatalf("partial_word = %q, want ny (marker stripped)", child.PartialWord)
	}
	if len(child.TextFrames) != 1 || child.TextFrames[0].Word != "bun" {
		t.Fatalf("text_frames = %+v, want one entry for bun", child.TextFrames)
	}
}

func TestExpandOneBPEForceBreakFromTrailingMarker(t *testing.T) {
	p := beam.NewRoot()
	p.LastChar = "x"

	// "▁un▁" is itself a boundary token (leading marker) whose trailing
	// marker additionally arms force_next_break for the frame after.
	child := expandOne(p, 0, "▁un▁", -0.1, true)
	if !child.ForceBreak {
		t.Fatalf("force_break = false, want true after trailing marker")
	}
	if child.PartialWord != "un" {
		t.Fatalf("partial_word = %q, want un", child.PartialWord)
	}

	// "ny" carries no marker of its own; it only becomes a boundary
	// because the previous frame armed force_next_break.
	next := expandOne(child, 1, "ny", -0.1, true)
	if next.NextWord != "un" {
		t.Fatalf("force_break should have committed un as next_word, got %q", next.NextWord)
	}
	if next.PartialWord != "ny" {
		t.Fatalf("partial_word = %q, want ny", next.PartialWord)
	}
}

func TestCommitPartialDoesNotAliasSiblingFrames(t *testing.T) {
	parent := beam.NewRoot()
	parent.PartialWord = "hi"
	parent.PartialFrame = beam.Frames{Start: 0, End: 2}
	parent.TextFrames = []beam.WordFrames{{Word: "a", Frames: beam.Frames{Start: -3, End: -2}}}

	childA := expandOne(parent, 2, " ", -0.1, false)
	childB := expandOne(parent, 2, " ", -0.2, false)

	if len(parent.TextFrames) != 1 {
		t.Fatalf("parent TextFrames mutated: %+v", parent.TextFrames)
	}
	if &childA.TextFrames[0] == &childB.TextFrames[0] {
		t.Fatalf("sibling children alias the same TextFrames backing array")
	}
}

// TestComputeLMScoreAppliesBetaPerCommittedWord guards against beta
// collapsing into a one-time shift applied to the whole accumulated raw
// LM score: each newly committed word must contribute its own
// alpha/beta-scaled term, so two committed words carry two beta
// bonuses, not one.
func TestComputeLMScoreAppliesBetaPerCommittedWord(t *testing.T) {
	table := `
order 2
ngram a -1.0
ngram b -1.0
ngram a b -1.0
backoff a -0.1
`
	model, err := ngram.Load(strings.NewReader(table))
	if err != nil {
		t.Fatalf("ngram.Load: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Alpha = 1.0
	cfg.Beta = 2.0

	d, err := New(mustAlphabet(t), model, nil, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cache := beam.ScoreCache{}
	cache.Seed(d.lmStartState)
	pcache := beam.PartialTokenCache{}

	first := beam.NewRoot()
	first.NextWord = "a"
	scoredFirst := d.scoreBeams([]beam.Beam{first}, false, cache, pcache)
	if len(scoredFirst) != 1 {
		t.Fatalf("scored count = %d, want 1", len(scoredFirst))
	}
	firstEntry := cache[beam.ScoreCacheKey{Text: "a", IsEOS: false}]

	second := scoredFirst[0].Beam
	second.NextWord = "b"
	scoredSecond := d.scoreBeams([]beam.Beam{second}, false, cache, pcache)
	if len(scoredSecond) != 1 {
		t.Fatalf("scored count = %d, want 1", len(scoredSecond))
	}
	secondEntry := cache[beam.ScoreCacheKey{Text: "a b", IsEOS: false}]

	rawDeltaFirst, stateAfterFirst := model.Score(model.StartState(), "a", false)
	wantFirstLMOnly := rawDeltaFirst*lm.LogBaseChangeFactor*cfg.Alpha + cfg.Beta
	if math.Abs(firstEntry.LMOnly-wantFirstLMOnly) > 1e-6 {
		t.Fatalf("first word LMOnly = %v, want %v", firstEntry.LMOnly, wantFirstLMOnly)
	}

	rawDeltaSecond, _ := model.Score(stateAfterFirst, "b", false)
	wantSecondLMOnly := wantFirstLMOnly + rawDeltaSecond*lm.LogBaseChangeFactor*cfg.Alpha + cfg.Beta
	if math.Abs(secondEntry.LMOnly-wantSecondLMOnly) > 1e-6 {
		t.Fatalf("second word LMOnly = %v, want %v (beta must apply once per committed word)", secondEntry.LMOnly, wantSecondLMOnly)
	}

	if math.Abs((secondEntry.LMOnly-firstEntry.LMOnly)-cfg.Beta-rawDeltaSecond*lm.LogBaseChangeFactor*cfg.Alpha) > 1e-6 {
		t.Fatalf("beta did not apply exactly once to the second committed word")
	}
}

func TestScoreBeamsNoLMIsHotwordOnly(t *testing.T) {
	hw := hotword.New([]string{"bunny"}, 5.0)
	d, err := New(mustAlphabet(t), nil, hw, DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cache := beam.ScoreCache{}
	cache.Seed(nil)
	pcache := beam.PartialTokenCache{}

	b := beam.NewRoot()
	b.NextWord = "bunny"
	b.LogitScore = -1.0

	scored := d.scoreBeams([]beam.Beam{b}, false, cache, pcache)
	if len(scored) != 1 {
		t.Fatalf("scored count = %d, want 1", len(scored))
	}
	want := -1.0 + float64(hw.Score("bunny"))
	if math.Abs(scored[0].LMScore-want) > 1e-6 {
		t.Fatalf("lm_score = %v, want %v (no beta/alpha shift without an LM)", scored[0].LMScore, want)
	}
}
