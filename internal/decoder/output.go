package decoder

import (
	"strings"

	"github.com/beamctc/beamctc/internal/beam"
	"github.com/beamctc/beamctc/internal/lm"
)

// OutputBeam is one ranked decode hypothesis (spec §3's external result
// shape): the committed text, its per-word frame alignment, the raw
// acoustic score, the combined ranking score, and the language model
// state reached at the end of the hypothesis, if an LM was configured.
type OutputBeam struct {
	Text        string
	Words       []beam.WordFrames
	LogitScore  float64
	LMScore     float64
	LastLMState lm.State
}

// assembleOutputs converts finalized, scored beams into OutputBeams,
// already sorted best-first by trim. The per-word frame list is clipped
// to whichever of (whitespace-split words, recorded TextFrames) is
// shorter, since a beam's text and its frame bookkeeping are built by the
// same commit path and should always agree in length; this guard only
// protects against an unexpected beam produced with no Frames at all
// (TokenMinLogp config sufficiently low that punctuation-like glyphs
// commit words back to back within the same frame).
func assembleOutputs(beams []beam.LMBeam, cache beam.ScoreCache) []OutputBeam {
	out := make([]OutputBeam, len(beams))

	for i, lb := range beams {
		words := strings.Fields(lb.Text)
		n := len(words)
		if len(lb.TextFrames) < n {
			n = len(lb.TextFrames)
		}

		wordFrames := make([]beam.WordFrames, n)
		for j := 0; j < n; j++ {
			wordFrames[j] = beam.WordFrames{Word: words[j], Frames: lb.TextFrames[j].Frames}
		}

		entry := cache[beam.ScoreCacheKey{Text: lb.Text, IsEOS: true}]

		out[i] = OutputBeam{
			Text:        strings.Join(words, " "),
			Words:       wordFrames,
			LogitScore:  lb.LogitScore,
			LMScore:     lb.LMScore,
			LastLMState: entry.State,
		}
	}
	return out
}
