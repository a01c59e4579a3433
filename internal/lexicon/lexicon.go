// Package lexicon matches keyword sets against mixed Chinese and English
// text.
package lexicon

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Set is a list of keywords. Keywords made only of ASCII letters match whole
// words case-insensitively; any other keyword matches as a substring.
type Set []string

// Contains reports whether any keyword of s occurs in text.
func (s Set) Contains(text string) bool {
	_, ok := s.First(text)
	return ok
}

// First returns the keyword with the earliest occurrence in text.
func (s Set) First(text string) (string, bool) {
	lower := strings.ToLower(text)
	best, at := "", -1
	for _, kw := range s {
		i := Index(lower, kw)
		if i >= 0 && (at < 0 || i < at) {
			best, at = kw, i
		}
	}
	return best, at >= 0
}

// Matches returns every keyword of s that occurs in text, in set order.
func (s Set) Matches(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, kw := range s {
		if Index(lower, kw) >= 0 {
			out = append(out, kw)
		}
	}
	return out
}

// Index returns the byte offset of kw in lower (already lower-cased), or -1.
func Index(lower, kw string) int {
	kw = strings.ToLower(kw)
	if !isWord(kw) {
		return strings.Index(lower, kw)
	}

	offset := 0
	for {
		i := strings.Index(lower[offset:], kw)
		if i < 0 {
			return -1
		}
		start := offset + i
		end := start + len(kw)
		if boundaryBefore(lower, start) && boundaryAfter(lower, end) {
			return start
		}
		offset = start + 1
	}
}

func isWord(kw string) bool {
	for _, r := range kw {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || r == ' ' || r == '-') {
			return false
		}
	}
	return kw != ""
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isASCIILetter(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isASCIILetter(r)
}

func isASCIILetter(r rune) bool {
	return r <= unicode.MaxASCII && unicode.IsLetter(r)
}
