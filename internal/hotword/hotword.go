// Package hotword implements weighted reward scoring for user-supplied
// hotwords against emitted text and in-progress partial words.
package hotword

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/clipperhouse/uax29/v2/words"
)

// DefaultWeight is the per-match reward applied when the caller does not
// specify one.
const DefaultWeight = 10.0

// Scorer rewards text that contains user-supplied hotwords. A Scorer
// built from an empty hotword set is a no-op: its trie never matches and
// its whole-word regex never matches.
type Scorer struct {
	weight float32
	trie   *trie
	re     *regexp.Regexp
}

// New builds a Scorer from a set of hotwords and a per-match weight. Each
// hotword is trimmed, split into unigrams on Unicode word boundaries, and
// deduplicated before being inserted into the prefix trie; the same
// unigram set backs a whole-word regex alternation.
func New(hotwordList []string, weight float32) *Scorer {
	seen := make(map[string]struct{})
	var unigrams []string

	for _, hw := range hotwordList {
		hw = strings.TrimSpace(hw)
		if hw == "" {
			continue
		}
		for _, u := range unigramsOf(hw) {
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			unigrams = append(unigrams, u)
		}
	}

	t := newTrie()
	for _, u := range unigrams {
		t.insert(u)
	}

	return &Scorer{
		weight: weight,
		trie:   t,
		re:     wholeWordRegex(unigrams),
	}
}

// unigramsOf splits a hotword into unigrams using Unicode word-boundary
// segmentation (UAX #29) so that punctuation-attached words ("don't",
// "co-op") tokenize the way a real text pipeline would, then keeps only
// tokens that start with a letter or digit.
func unigramsOf(hotword string) []string {
	var out []string
	seg := words.NewSegmenter([]byte(hotword))
	for seg.Next() {
		tok := string(seg.Value())
		if tok == "" {
			continue
		}
		r := []rune(tok)[0]
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			out = append(out, tok)
		}
	}
	if len(out) == 0 && hotword != "" {
		out = strings.Fields(hotword)
	}
	return out
}

// wholeWordRegex compiles the bare unigram alternation, with the
// `(?<!\S)...(?!\S)` whole-word boundary left for Score to check
// separately: Go's RE2 engine has no lookaround, and capturing the
// boundary whitespace directly in the pattern would make it consuming,
// so FindAllStringIndex's non-overlapping search would swallow the
// separator between two adjacent occurrences of the same hotword and
// undercount them. The pattern uses leftmost-longest matching, so where
// one unigram is a prefix of another ("bug", "bugs") the longer one is
// tried at each position and a whole-word "bugs" is not lost to a
// partial "bug" match. An empty alternation compiles to a pattern that
// never matches.
func wholeWordRegex(unigrams []string) *regexp.Regexp {
	if len(unigrams) == 0 {
		return regexp.MustCompile(`\A\z.`) // never matches
	}
	escaped := make([]string, len(unigrams))
	for i, u := range unigrams {
		escaped[i] = regexp.QuoteMeta(u)
	}
	re := regexp.MustCompile(strings.Join(escaped, "|"))
	re.Longest()
	return re
}

// Score returns the number of whole-word hotword matches in text,
// multiplied by the configured weight. A match only counts if the rune
// immediately before and after it is whitespace or string-boundary,
// checked against the original text rather than folded into the regex,
// so two adjacent occurrences of the same hotword ("bugs bugs") both
// count instead of the first match's trailing boundary being consumed
// and left unavailable to the second.
func (s *Scorer) Score(text string) float32 {
	if text == "" {
		return 0
	}
	count := 0
	for _, loc := range s.re.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		if start > 0 {
			r, _ := utf8.DecodeLastRuneInString(text[:start])
			if !unicode.IsSpace(r) {
				continue
			}
		}
		if end < len(text) {
			r, _ := utf8.DecodeRuneInString(text[end:])
			if !unicode.IsSpace(r) {
				continue
			}
		}
		count++
	}
	return float32(count) * s.weight
}

// ScorePartialToken rewards an in-progress word fragment that is a
// prefix of some hotword unigram. The reward scales up as the fragment
// approaches the length of the shortest trie key it could complete into,
// per the source behavior preserved verbatim: weight * len(text) /
// min(len(k)) over matching keys k.
func (s *Scorer) ScorePartialToken(text string) float32 {
	if text == "" {
		return 0
	}
	minLen, ok := s.trie.shortestKeyWithPrefix(text)
	if !ok {
		return 0
	}
	return s.weight * float32(len([]rune(text))) / float32(minLen)
}

// Contains reports whether the trie has any key starting with text.
func (s *Scorer) Contains(text string) bool {
	if text == "" {
		return false
	}
	_, ok := s.trie.shortestKeyWithPrefix(text)
	return ok
}
