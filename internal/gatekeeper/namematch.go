package gatekeeper

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// nameMatchThreshold is the minimum Jaro-Winkler score for a transcribed word
// to count as the assistant's name when the phonetic codes overlap. STT
// regularly mangles proper names ("Lark" → "Larc", "Clark"), so exact
// substring matching alone misses real addressals.
const nameMatchThreshold = 0.84

// mentionsName reports whether any word of text is the assistant's name,
// either verbatim or as a phonetic near-match (Double Metaphone code overlap
// ranked by Jaro-Winkler similarity).
func mentionsName(text, name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return false
	}

	lower := strings.ToLower(text)
	if strings.Contains(lower, name) {
		return true
	}

	namePrimary, nameSecondary := matchr.DoubleMetaphone(name)

	for _, word := range strings.Fields(lower) {
		word = strings.Trim(word, ".,!?;:'\"")
		if word == "" {
			continue
		}
		p, s := matchr.DoubleMetaphone(word)
		if !codesOverlap(p, s, namePrimary, nameSecondary) {
			continue
		}
		if matchr.JaroWinkler(word, name, false) >= nameMatchThreshold {
			return true
		}
	}
	return false
}

// codesOverlap reports whether any non-empty phonetic code from the first
// pair equals any from the second.
func codesOverlap(p1, s1, p2, s2 string) bool {
	for _, a := range []string{p1, s1} {
		if a == "" {
			continue
		}
		for _, b := range []string{p2, s2} {
			if b != "" && a == b {
				return true
			}
		}
	}
	return false
}

// namesSimilar reports whether two speaker names likely refer to the same
// person. It uses a prefix/substring containment check, which is approximate
// and can false-positive on similar names.
func namesSimilar(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}
