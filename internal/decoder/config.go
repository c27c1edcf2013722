package decoder

// Default configuration values, per spec §6.
const (
	DefaultBeamWidth      = 100
	DefaultBeamPruneLogp  = -10.0
	DefaultTokenMinLogp   = -5.0
	DefaultHotwordWeight  = 10.0
	DefaultAlpha          = 0.5
	DefaultBeta           = 1.5
	DefaultUnkScoreOffset = -10.0
	DefaultScoreLMBoundary = true
)

// Config holds the decoder's tunable knobs as one configuration record.
// It has no LM start-state override: the decoder always seeds LM scoring
// from the language model's own StartState(). The token glyphs and
// numeric constants are not Config fields; they are package-level
// constants in internal/alphabet (BPEToken, BPETokenAlt, UnkToken),
// internal/lm (AvgTokenLen, LogBaseChangeFactor) and internal/logsoftmax
// (MinTokenClipP).
//
// UnkScoreOffset and ScoreLMBoundary describe how the *language model*
// should be built (they configure the LM wrapper in the source this was
// distilled from); the decoder stores them for documentation parity with
// spec.md's external-interface enumeration and so callers can thread one
// Config into both the LM constructor and the decoder, but Decode itself
// only ever reads BeamWidth, BeamPruneLogp, TokenMinLogp, PruneHistory,
// Alpha, Beta, and FrameObserver (New also reads HotwordWeight when no
// hotword scorer is passed in).
type Config struct {
	BeamWidth      int
	BeamPruneLogp  float64
	TokenMinLogp   float64
	PruneHistory   bool
	HotwordWeight  float32
	Alpha          float64
	Beta           float64
	UnkScoreOffset float64
	ScoreLMBoundary bool

	// FrameObserver, if set, is called once per input frame with the
	// current beam frontier (already scored, pruned, and trimmed), for
	// callers that want to display the search live rather than only its
	// final result. It is never called during finalization. Not part of
	// spec.md's external interface — an addition for the CLI's watch mode.
	FrameObserver func(frame int, top []OutputBeam)
}

// DefaultConfig returns a Config with every knob at its spec-mandated
// default.
func DefaultConfig() Config {
	return Config{
		BeamWidth:       DefaultBeamWidth,
		BeamPruneLogp:   DefaultBeamPruneLogp,
		TokenMinLogp:    DefaultTokenMinLogp,
		PruneHistory:    false,
		HotwordWeight:   DefaultHotwordWeight,
		Alpha:           DefaultAlpha,
		Beta:            DefaultBeta,
		UnkScoreOffset:  DefaultUnkScoreOffset,
		ScoreLMBoundary: DefaultScoreLMBoundary,
	}
}

// Config is built by taking DefaultConfig() and assigning the fields a
// caller wants to override directly — there are few enough knobs, all
// independent, that a functional-option layer over this struct (as
// internal/lm/ngram uses for its own, order-dependent construction)
// would only add indirection.
