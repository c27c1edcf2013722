package ngram

import (
	"strings"
	"testing"
)

const sampleTable = `
order 2
ngram bugs -1.0
ngram bunny -1.0
ngram bugs bunny -0.1
ngram bunny bunny -2.0
backoff bugs -0.3
backoff bunny -0.3
`

func TestLoadAndScoreKnownBigram(t *testing.T) {
	m, err := Load(strings.NewReader(sampleTable))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	start := m.StartState()
	_, afterBugs := m.Score(start, "bugs", false)
	logp, _ := m.Score(afterBugs, "bunny", false)
	if logp != -0.1 {
		t.Fatalf("bigram score = %v, want -0.1", logp)
	}
}

func TestScoreBacksOffToUnigram(t *testing.T) {
	m, err := Load(strings.NewReader(sampleTable))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	start := m.StartState()
	// "bunny" after "bugs" has no explicit trigram-style entry requested
	// here beyond the bigram case above; exercise backoff by asking for
	// a context with no matching bigram at all.
	_, afterUnseen := m.Score(start, "zzz", false)
	logp, _ := m.Score(afterUnseen, "bugs", false)
	want := -1.0 + floorLogProbBackoff(m, []string{"zzz"})
	if logp != want {
		t.Fatalf("backoff score = %v, want %v", logp, want)
	}
}

func floorLogProbBackoff(m *Model, ctx []string) float64 {
	// "zzz" is unknown so the backoff weight for that context is the
	// zero value (no entry), matching production behavior for an
	// unmodeled context.
	return m.backoff[ctx[0]]
}

func TestUnigramRestrictionMarksOOV(t *testing.T) {
	m, err := Load(strings.NewReader(sampleTable), WithUnigramRestriction([]string{"bunny"}), WithUnkScoreOffset(-10))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	start := m.StartState()
	logpBugs, _ := m.Score(start, "bugs", false)
	logpBunny, _ := m.Score(start, "bunny", false)

	if logpBugs >= logpBunny {
		t.Fatalf("OOV word 'bugs' (%v) should score far below in-vocab 'bunny' (%v)", logpBugs, logpBunny)
	}
}

func TestUnkOffsetZeroDoesNotPenalize(t *testing.T) {
	m, err := Load(strings.NewReader(sampleTable), WithUnigramRestriction([]string{"bunny"}), WithUnkScoreOffset(0))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	start := m.StartState()
	logpBugs, _ := m.Score(start, "bugs", false)
	if logpBugs != -1.0 {
		t.Fatalf("with zero unk offset, OOV word should score its raw prob (-1.0), got %v", logpBugs)
	}
}

func TestScorePartialTokenKnownPrefix(t *testing.T) {
	m, err := Load(strings.NewReader(sampleTable))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := m.ScorePartialToken("bun"); got != 0 {
		t.Fatalf("ScorePartialToken(bun) = %v, want 0 (prefixes 'bunny')", got)
	}
}

func TestScorePartialTokenUnknownScalesByLength(t *testing.T) {
	m, err := Load(strings.NewReader(sampleTable), WithUnkScoreOffset(-10))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	short := m.ScorePartialToken("zz")
	if short != -10 {
		t.Fatalf("short unknown partial should score the bare offset, got %v", short)
	}
	long := m.ScorePartialToken("zzzzzzzzzzzz") // 12 runes, 2x AvgTokenLen
	if long != -20 {
		t.Fatalf("long unknown partial should scale by length/AvgTokenLen, got %v", long)
	}
}
