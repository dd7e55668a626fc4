// Package security provides sanitization and injection detection for
// untrusted chat text. Every inbound string runs through this package
// before it is stored or handed to the presentation layer.
package security

import (
	"regexp"
	"strings"
)

// MaxMessageLength is the maximum stored message length, applied after
// sanitization.
const MaxMessageLength = 2000

// Escaped entity replacements for the five HTML-significant characters
// plus the forward slash. Ampersand must be first so already-escaped
// entities are not double-mangled beyond their leading ampersand.
var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#039;",
	"/", "&#x2F;",
)

var (
	jsSchemePattern  = regexp.MustCompile(`(?i)javascript:`)
	eventAttrPattern = regexp.MustCompile(`(?i)on\w+=`)
)

// Suspicious patterns that disqualify a message entirely rather than
// merely being escaped: script tag open, DOM/global object access,
// dynamic code evaluation, direct markup injection, network fetch
// primitives.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)document\.`),
	regexp.MustCompile(`(?i)window\.`),
	regexp.MustCompile(`(?i)eval\(`),
	regexp.MustCompile(`(?i)innerHTML`),
	regexp.MustCompile(`(?i)fetch\(`),
	regexp.MustCompile(`(?i)XMLHttpRequest`),
}

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9 _.]{2,20}$`)

// Sanitize escapes HTML-significant characters and neutralizes
// javascript: URLs and inline event-handler attributes by rewriting
// their prefixes to a non-executable literal. Defense in depth for
// reflected markup, not a claim of foolproof escaping.
func Sanitize(s string) string {
	if s == "" {
		return ""
	}
	s = htmlEscaper.Replace(s)
	s = jsSchemePattern.ReplaceAllString(s, "blocked:")
	s = eventAttrPattern.ReplaceAllString(s, "blocked=")
	return s
}

// DetectInjection reports whether the text matches any known injection
// pattern. A match short-circuits message acceptance entirely; the
// message is dropped, not just sanitized.
func DetectInjection(s string) bool {
	for _, p := range injectionPatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// ValidateUsername reports whether a display name is acceptable:
// alphanumeric, spaces, underscores, and dots, 2-20 characters.
func ValidateUsername(name string) bool {
	return usernamePattern.MatchString(name)
}

// Truncate clamps text to MaxMessageLength characters. Counts runes,
// not bytes, so multi-byte text is not split mid-character.
func Truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= MaxMessageLength {
		return s
	}
	return string(runes[:MaxMessageLength])
}
