// Package normalize prepares assistant text for speech synthesis and other
// length-sensitive consumers. Every transform is deterministic and
// idempotent on its own output.
package normalize

import (
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// DefaultAbbreviations is the expansion table used by Normalize. Keys are
// matched case-insensitively against whole words.
var DefaultAbbreviations = map[string]string{
	"Dr.":  "Doctor",
	"Dr":   "Doctor",
	"Mr.":  "Mister",
	"Mrs.": "Missus",
	"Ms.":  "Miz",
	"vs.":  "versus",
	"e.g.": "for example",
	"i.e.": "that is",
	"etc.": "et cetera",
	"API":  "A P I",
	"AI":   "A I",
	"TTS":  "T T S",
	"STT":  "S T T",
	"LLM":  "L L M",
}

const (
	numberOpeners = "([{\"'"
	numberClosers = ".,!?;:)]}\"'"
)

var smallNumbers = [...]string{
	"zero", "one", "two", "three", "four", "five", "six", "seven", "eight", "nine", "ten",
	"eleven", "twelve", "thirteen", "fourteen", "fifteen", "sixteen", "seventeen", "eighteen", "nineteen", "twenty",
}

// Normalizer applies whitespace collapsing, abbreviation expansion,
// small-number spelling and terminal punctuation, in that order.
type Normalizer struct {
	keys   []string
	expand map[string]string
}

// New builds a Normalizer over the given abbreviation table. Keys are tried
// longest first so overlapping keys never partially match.
func New(abbreviations map[string]string) *Normalizer {
	n := &Normalizer{expand: make(map[string]string, len(abbreviations))}
	for k, v := range abbreviations {
		lk := strings.ToLower(k)
		n.expand[lk] = v
		n.keys = append(n.keys, lk)
	}
	sort.Slice(n.keys, func(i, j int) bool {
		if len(n.keys[i]) != len(n.keys[j]) {
			return len(n.keys[i]) > len(n.keys[j])
		}
		return n.keys[i] < n.keys[j]
	})
	return n
}

var defaultNormalizer = New(DefaultAbbreviations)

// Normalize runs the default Normalizer.
func Normalize(raw string) string {
	return defaultNormalizer.Normalize(raw)
}

// Normalize returns the normalized form of raw. Empty or blank input yields
// the empty string.
func (n *Normalizer) Normalize(raw string) string {
	words := strings.Fields(raw)
	if len(words) == 0 {
		return ""
	}
	// Terminate before expanding so a bare trailing "etc" reads the same as
	// "etc." and a second pass finds nothing left to do.
	if last := words[len(words)-1]; !terminated(last) {
		words[len(words)-1] = last + "."
	}
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = n.expandWord(w)
		out = append(out, spellNumber(w))
	}
	text := strings.Join(out, " ")
	if !terminated(text) {
		text += "."
	}
	return text
}

func terminated(s string) bool {
	switch s[len(s)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}

// expandWord replaces an abbreviation occupying the whole word, ignoring
// leading and trailing punctuation around it.
func (n *Normalizer) expandWord(w string) string {
	lead, core := splitLeading(w)
	for _, k := range n.keys {
		if len(core) < len(k) || !strings.EqualFold(core[:len(k)], k) {
			continue
		}
		rest := core[len(k):]
		if !onlyPunct(rest) {
			continue
		}
		return lead + n.expand[k] + rest
	}
	return w
}

func spellNumber(w string) string {
	lead, core := splitLeading(w)
	if strings.Trim(lead, numberOpeners) != "" {
		return w
	}
	end := len(core)
	for end > 0 && strings.IndexByte(numberClosers, core[end-1]) >= 0 {
		end--
	}
	digits, trail := core[:end], core[end:]
	if digits == "" {
		return w
	}
	v, err := strconv.Atoi(digits)
	if err != nil || v < 0 || v > 20 || strconv.Itoa(v) != digits {
		return w
	}
	return lead + smallNumbers[v] + trail
}

func splitLeading(w string) (lead, core string) {
	i := 0
	for i < len(w) && isPunct(rune(w[i])) {
		i++
	}
	return w[:i], w[i:]
}

func onlyPunct(s string) bool {
	for _, r := range s {
		if !isPunct(r) {
			return false
		}
	}
	return true
}

func isPunct(r rune) bool {
	return r < unicode.MaxASCII && (unicode.IsPunct(r) || unicode.IsSymbol(r))
}
