// Package similarity provides the string comparison heuristics used by the
// merge engine and the validator: word-overlap scoring, name compatibility,
// and phone/URL normalization.
package similarity

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

var (
	wordRe     = regexp.MustCompile(`\w+`)
	nonDigitRe = regexp.MustCompile(`\D`)
	schemeRe   = regexp.MustCompile(`^https?://`)

	folder = cases.Fold()
)

// Score returns the word-overlap similarity of two strings in [0,1]:
// |word-set intersection| / |word-set union| after case folding.
// Empty or word-free input scores 0.
func Score(a, b string) float64 {
	wordsA := wordSet(a)
	wordsB := wordSet(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0.0
	}

	intersection := 0
	for w := range wordsA {
		if _, ok := wordsB[w]; ok {
			intersection++
		}
	}
	union := len(wordsA) + len(wordsB) - intersection
	return float64(intersection) / float64(union)
}

// wordSet tokenizes on non-word boundaries and case-folds each token.
func wordSet(s string) map[string]struct{} {
	words := wordRe.FindAllString(folder.String(s), -1)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// Norm lowercases and trims a string for use as a dedup key component.
func Norm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NamesCompatible reports whether one name contains the other,
// case-insensitively, after trimming. The empty string is a substring of
// any name, but two empty names are never compatible.
func NamesCompatible(a, b string) bool {
	na, nb := Norm(a), Norm(b)
	if na == "" && nb == "" {
		return false
	}
	return strings.Contains(na, nb) || strings.Contains(nb, na)
}

// NormalizePhone strips all non-digit characters for comparison.
func NormalizePhone(phone string) string {
	return nonDigitRe.ReplaceAllString(phone, "")
}

// NormalizeURL lowercases, strips the scheme, a leading "www.", and any
// trailing slash for comparison.
func NormalizeURL(url string) string {
	url = strings.ToLower(strings.TrimSpace(url))
	url = schemeRe.ReplaceAllString(url, "")
	url = strings.TrimPrefix(url, "www.")
	return strings.TrimRight(url, "/")
}
