package middleware

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxContentRunes bounds a single utterance.
	MaxContentRunes = 4000
	// MaxTurnsLimit bounds the turns listing.
	MaxTurnsLimit = 50
)

// Session ids become NATS subject tokens, so they are restricted to a
// subject-safe alphabet.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateContent validates an utterance.
func ValidateContent(content string) error {
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	if strings.TrimSpace(content) == "" {
		return errors.New("content cannot be empty")
	}
	if utf8.RuneCountInString(content) > MaxContentRunes {
		return errors.New("content exceeds maximum length")
	}
	return nil
}

// ValidateSessionID validates a session ID.
func ValidateSessionID(id string) error {
	if !sessionIDPattern.MatchString(id) {
		return errors.New("invalid session ID format")
	}
	return nil
}

// ValidateUserID validates a user ID taken from a token subject.
func ValidateUserID(id string) error {
	if id == "" {
		return errors.New("user ID cannot be empty")
	}
	if len(id) > 128 {
		return errors.New("user ID exceeds maximum length")
	}
	if !utf8.ValidString(id) {
		return errors.New("user ID must be valid UTF-8")
	}
	return nil
}
