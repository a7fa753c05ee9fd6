// Package title cleans raw chapter and novel titles scraped from a site and
// turns them into filesystem-safe name fragments.
package title

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Untitled is returned by Normalize when nothing is left of a title after
// cleaning.
const Untitled = "untitled_chapter"

// DefaultOrdinalPrefix matches a leading "第十二章" style chapter ordinal,
// written with CJK numerals or ASCII digits, plus any separator after it.
const DefaultOrdinalPrefix = `^第[一二三四五六七八九十百千零〇两\d]+章[_\s]*`

// maxFilenameRunes caps the title part of an output filename.
const maxFilenameRunes = 100

var (
	defaultOrdinalRe = regexp.MustCompile(DefaultOrdinalPrefix)
	illegalNameRe    = regexp.MustCompile(`[\\/:*?"<>|]`)
	whitespaceRe     = regexp.MustCompile(`\s+`)
)

// Normalizer strips configured noise patterns and a leading ordinal chapter
// prefix from titles. The zero value only strips the default ordinal prefix.
type Normalizer struct {
	Remove  []*regexp.Regexp
	Ordinal *regexp.Regexp
}

// NewNormalizer creates a normalizer. A nil ordinal pattern falls back to
// DefaultOrdinalPrefix.
func NewNormalizer(remove []*regexp.Regexp, ordinal *regexp.Regexp) *Normalizer {
	return &Normalizer{Remove: remove, Ordinal: ordinal}
}

// Clean returns the title with surrounding whitespace, every noise pattern
// and the ordinal prefix removed. The result may be empty.
func (n *Normalizer) Clean(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return ""
	}

	if n != nil {
		for _, re := range n.Remove {
			cleaned = strings.TrimSpace(re.ReplaceAllString(cleaned, ""))
		}
	}

	ordinal := defaultOrdinalRe
	if n != nil && n.Ordinal != nil {
		ordinal = n.Ordinal
	}
	return strings.TrimSpace(ordinal.ReplaceAllString(cleaned, ""))
}

// Normalize is Clean with a fallback: it never returns an empty string.
func (n *Normalizer) Normalize(raw string) string {
	if cleaned := n.Clean(raw); cleaned != "" {
		return cleaned
	}
	return Untitled
}

// CollapseSpace trims the text and folds every whitespace run into a single
// space.
func CollapseSpace(text string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

// Sanitize makes a title usable as part of a filename: characters illegal on
// common filesystems are dropped, whitespace becomes underscores and the
// result is capped at 100 runes. It returns an empty string when nothing
// usable remains.
func Sanitize(name string) string {
	name = illegalNameRe.ReplaceAllString(strings.TrimSpace(name), "")
	name = whitespaceRe.ReplaceAllString(name, "_")
	if utf8.RuneCountInString(name) > maxFilenameRunes {
		name = string([]rune(name)[:maxFilenameRunes])
	}
	return name
}
