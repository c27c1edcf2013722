// Package alphabet normalizes the vocabulary a CTC acoustic model was
// trained against into the shape the beam-search decoder expects: an
// ordered list of tokens with at least one blank entry (the empty string).
package alphabet

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// UnkToken is the canonical glyph substituted for any alphabet entry that
// matches the UNK pattern (e.g. "<unk>", "[UNK]").
const UnkToken = "⁇"

// BPE marker glyphs recognized by the decoder's case B (word-piece
// boundary) transition.
const (
	BPEToken    = "▁"
	BPETokenAlt = "##"
)

var (
	blankPattern = regexp.MustCompile(`(?i)^[<\[]pad[>\]]$`)
	unkPattern   = regexp.MustCompile(`(?i)^[<\[]unk[>\]]$`)
)

// ErrBPENotSupported is returned by New when the caller asks for BPE-style
// normalization; the source engine leaves this branch unimplemented and
// this rewrite preserves that choice (see spec Open Questions).
var ErrBPENotSupported = errors.New("alphabet: BPE-style normalization is not supported")

// ErrEmpty is returned when a label list has no entries.
var ErrEmpty = errors.New("alphabet: label list is empty")

// Alphabet is the normalized, ordered vocabulary for one logit column
// layout. The empty string entry denotes the CTC blank.
type Alphabet struct {
	labels []string
	isBPE  bool
	index  map[string]int
}

// New builds a normalized Alphabet from a raw label list. If isBPE is
// true, New returns ErrBPENotSupported: BPE alphabet normalization is an
// unresolved Open Question upstream and is intentionally left
// unimplemented here.
func New(labels []string, isBPE bool) (*Alphabet, error) {
	if len(labels) == 0 {
		return nil, ErrEmpty
	}
	if isBPE {
		return nil, ErrBPENotSupported
	}

	normalized := normalize(labels)

	index := make(map[string]int, len(normalized))
	for i, l := range normalized {
		index[l] = i
	}

	return &Alphabet{labels: normalized, isBPE: false, index: index}, nil
}

// normalize applies the non-BPE normalization rules documented in the
// data model: pipe-to-space substitution, blank-pattern folding, the
// bare-underscore blank shorthand, appending a missing blank, and
// UNK-glyph substitution.
func normalize(labels []string) []string {
	out := make([]string, len(labels))
	copy(out, labels)

	hasSpace := false
	pipeIdx := -1
	for i, l := range out {
		if l == " " {
			hasSpace = true
		}
		if l == "|" {
			pipeIdx = i
		}
	}
	if pipeIdx >= 0 && !hasSpace {
		out[pipeIdx] = " "
	}

	hasEmpty := false
	for i, l := range out {
		switch {
		case blankPattern.MatchString(l):
			out[i] = ""
			hasEmpty = true
		case l == "":
			hasEmpty = true
		}
	}

	if !hasEmpty {
		for i, l := range out {
			if l == "_" {
				out[i] = ""
				hasEmpty = true
				break
			}
		}
	}

	if !hasEmpty {
		out = append(out, "")
	}

	for i, l := range out {
		if unkPattern.MatchString(l) {
			out[i] = UnkToken
		}
	}

	return out
}

// Size returns the number of vocabulary entries (including blank).
func (a *Alphabet) Size() int { return len(a.labels) }

// IsBPE reports whether this alphabet uses byte-pair-encoded tokens.
func (a *Alphabet) IsBPE() bool { return a.isBPE }

// Label returns the token for column index i.
func (a *Alphabet) Label(i int) string { return a.labels[i] }

// Labels returns the full normalized, ordered label list. The slice must
// not be mutated by callers.
func (a *Alphabet) Labels() []string { return a.labels }

// IndexOf returns the column index of a label, or -1 if absent.
func (a *Alphabet) IndexOf(label string) int {
	if i, ok := a.index[label]; ok {
		return i
	}
	return -1
}

// BlankIndex returns the column index of the CTC blank (empty string).
// Every normalized Alphabet has at least one; normalization does not
// merge several blank entries, and for such a list the index of the last
// one is returned.
func (a *Alphabet) BlankIndex() int { return a.index[""] }

// rawAlphabet is the on-disk JSON shape for a label list: a flat array of
// strings plus an optional BPE flag. Serialized-alphabet-format loading
// (as used by the original acoustic-model toolchain) is out of scope;
// this is only the minimal shape the CLI needs.
type rawAlphabet struct {
	Labels []string `json:"labels"`
	BPE    bool     `json:"bpe"`
}

// LoadFile reads a JSON label list ({"labels": [...], "bpe": false}) and
// builds a normalized Alphabet.
func LoadFile(path string) (*Alphabet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("alphabet: reading %s: %w", path, err)
	}

	trimmed := strings.TrimSpace(string(data))
	var raw rawAlphabet
	if strings.HasPrefix(trimmed, "[") {
		// Allow a bare JSON array of labels as a shorthand.
		if err := json.Unmarshal(data, &raw.Labels); err != nil {
			return nil, fmt.Errorf("alphabet: parsing %s: %w", path, err)
		}
	} else if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("alphabet: parsing %s: %w", path, err)
	}

	return New(raw.Labels, raw.BPE)
}
