// Package svg extracts SVG markup from model responses.
package svg

import "regexp"

// svgPattern matches from an opening <svg to the nearest closing </svg>,
// case-insensitively and across newlines.
var svgPattern = regexp.MustCompile(`(?is)<svg[\s>].*?</svg>`)

// Extract returns the first complete <svg>...</svg> fragment in text.
// The second result is false when no fragment is present.
func Extract(text string) (string, bool) {
	loc := svgPattern.FindStringIndex(text)
	if loc == nil {
		return "", false
	}
	return text[loc[0]:loc[1]], true
}

// ExtractAll returns every non-overlapping SVG fragment in text.
func ExtractAll(text string) []string {
	return svgPattern.FindAllString(text, -1)
}

// Contains reports whether text holds at least one SVG fragment.
func Contains(text string) bool {
	return svgPattern.MatchString(text)
}
