package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// splitSentences breaks text into sentence-like units. Each unit keeps its run of
// terminal punctuation. Trailing text without a terminator forms the last unit.
func splitSentences(text string) []string {
	var (
		units []string
		start int
	)
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		// Consume the whole punctuation run ("?!", "...")
		for i+1 < len(runes) && isTerminator(runes[i+1]) {
			i++
		}
		if unit := strings.TrimSpace(string(runes[start : i+1])); unit != "" && !onlyPunctuation(unit) {
			units = append(units, unit)
		}
		start = i + 1
	}
	if start < len(runes) {
		if unit := strings.TrimSpace(string(runes[start:])); unit != "" && !onlyPunctuation(unit) {
			units = append(units, unit)
		}
	}
	return units
}

func onlyPunctuation(s string) bool {
	for _, r := range s {
		if !isTerminator(r) {
			return false
		}
	}
	return true
}

// mergeUnits combines consecutive short sentences while their joined length stays
// below minUnit. Sentences that are already long enough pass through untouched.
func mergeUnits(sentences []string, minUnit int) []string {
	merged := make([]string, 0, len(sentences))
	var (
		cur    strings.Builder
		curLen int
	)
	for _, s := range sentences {
		sLen := utf8.RuneCountInString(s)
		if curLen == 0 {
			cur.WriteString(s)
			curLen = sLen
			continue
		}
		if curLen+1+sLen < minUnit {
			cur.WriteByte(' ')
			cur.WriteString(s)
			curLen += 1 + sLen
			continue
		}
		merged = append(merged, cur.String())
		cur.Reset()
		cur.WriteString(s)
		curLen = sLen
	}
	if curLen > 0 {
		merged = append(merged, cur.String())
	}
	return merged
}

// CleanText normalizes extracted text: control characters are dropped and every
// whitespace run collapses to a single space.
func CleanText(text string) string {
	text = strings.Map(func(r rune) rune {
		if r == utf8.RuneError {
			return -1
		}
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)
	return strings.Join(strings.Fields(text), " ")
}
