package patch

import "strings"

// normalizeUnicode folds the punctuation variants the fourth fuzzy-match
// tier accepts: smart quotes, em/en dashes, and the assorted Unicode space
// characters editors and paste buffers tend to introduce, down to their
// plain-ASCII equivalents (spec.md §4.6 tier 4).
func normalizeUnicode(s string) string {
	replacer := strings.NewReplacer(
		"‘", "'", "’", "'", "‚", "'", "‛", "'",
		"“", "\"", "”", "\"", "„", "\"", "‟", "\"",
		"–", "-", "—", "-", "−", "-",
		" ", " ", " ", " ", " ", " ", " ", " ",
		" ", " ", " ", " ", " ", " ", " ", " ",
		" ", " ", " ", " ", " ", " ", " ", " ",
		" ", " ", " ", " ", "　", " ",
	)
	return replacer.Replace(s)
}

// matchTier is one of the four fuzzy-matching strategies tried in order
// when resolving an update chunk's old-line sequence against a file.
type matchTier int

const (
	tierExact matchTier = iota
	tierTrimEnd
	tierFullTrim
	tierUnicode
)

func normalizeLine(line string, tier matchTier) string {
	switch tier {
	case tierExact:
		return line
	case tierTrimEnd:
		return strings.TrimRight(line, " \t")
	case tierFullTrim:
		return strings.TrimSpace(line)
	case tierUnicode:
		return strings.TrimSpace(normalizeUnicode(line))
	default:
		return line
	}
}

func linesEqual(a, b string, tier matchTier) bool {
	return normalizeLine(a, tier) == normalizeLine(b, tier)
}

// findSequence searches file[from:] for the first index at which pattern
// matches contiguously under the given tier, returning -1 if not found.
func findSequence(file []string, pattern []string, from int, tier matchTier) int {
	if len(pattern) == 0 || from < 0 {
		return -1
	}
	for start := from; start+len(pattern) <= len(file); start++ {
		ok := true
		for j, p := range pattern {
			if !linesEqual(file[start+j], p, tier) {
				ok = false
				break
			}
		}
		if ok {
			return start
		}
	}
	return -1
}

// findSequenceAt checks whether pattern matches file starting exactly at
// index start, under the given tier.
func findSequenceAt(file []string, pattern []string, start int, tier matchTier) bool {
	if start < 0 || start+len(pattern) > len(file) {
		return false
	}
	for j, p := range pattern {
		if !linesEqual(file[start+j], p, tier) {
			return false
		}
	}
	return true
}

// findContext locates the first line at index >= from that matches context,
// trying exact text first and then progressively looser tiers.
func findContext(file []string, context string, from int) (int, bool) {
	for _, tier := range []matchTier{tierExact, tierTrimEnd, tierFullTrim, tierUnicode} {
		for i := from; i < len(file); i++ {
			if linesEqual(file[i], context, tier) {
				return i, true
			}
		}
	}
	return 0, false
}
