// Package validate normalizes untrusted text arriving over the lifecycle and
// realtime surfaces.
package validate

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Rune limits for normalized fields.
const (
	MaxDefaultRunes     = 120
	MaxSessionCodeRunes = 12
	MaxScenarioKeyRunes = 64
	MaxDisplayNameRunes = 64
	MaxActionRunes      = 200
	MaxRationaleRunes   = 200
	MaxMessageRunes     = 200
	MaxSeverityRunes    = 16
	MaxHeaderRunes      = 64
)

// Severity levels accepted for instructor injections.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

var (
	sessionCodePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)
	scenarioKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	controlReplacer    = strings.NewReplacer("\r", " ", "\n", " ", "\t", " ")
)

// Text trims value, flattens line breaks and tabs to spaces, and truncates it
// to maxRunes. It reports false when nothing remains.
func Text(value string, maxRunes int) (string, bool) {
	if maxRunes <= 0 {
		maxRunes = MaxDefaultRunes
	}
	value = strings.TrimSpace(norm.NFC.String(value))
	if value == "" {
		return "", false
	}
	value = controlReplacer.Replace(value)
	if utf8.RuneCountInString(value) > maxRunes {
		value = string([]rune(value)[:maxRunes])
	}
	return value, true
}

// OptionalText is Text for fields that may be omitted. Missing values yield
// an empty string.
func OptionalText(value string, maxRunes int) string {
	out, _ := Text(value, maxRunes)
	return out
}

// SessionCode upper-cases value and requires six characters from [A-Z0-9].
func SessionCode(value string) (string, bool) {
	candidate, ok := Text(value, MaxSessionCodeRunes)
	if !ok {
		return "", false
	}
	candidate = strings.ToUpper(candidate)
	if !sessionCodePattern.MatchString(candidate) {
		return "", false
	}
	return candidate, true
}

// ScenarioKey accepts letters, digits, '_' and '-'.
func ScenarioKey(value string) (string, bool) {
	candidate, ok := Text(value, MaxScenarioKeyRunes)
	if !ok || !scenarioKeyPattern.MatchString(candidate) {
		return "", false
	}
	return candidate, true
}

// DisplayName normalizes a participant display name.
func DisplayName(value string) (string, bool) {
	return Text(value, MaxDisplayNameRunes)
}

// Action normalizes a trainee action description.
func Action(value string) (string, bool) {
	return Text(value, MaxActionRunes)
}

// Rationale normalizes the optional reasoning attached to an action.
func Rationale(value string) string {
	return OptionalText(value, MaxRationaleRunes)
}

// Message normalizes an instructor injection message.
func Message(value string) (string, bool) {
	return Text(value, MaxMessageRunes)
}

// Severity lower-cases value and requires one of info, warning, critical.
func Severity(value string) (string, bool) {
	candidate, ok := Text(value, MaxSeverityRunes)
	if !ok {
		return "", false
	}
	candidate = strings.ToLower(candidate)
	switch candidate {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return candidate, true
	default:
		return "", false
	}
}

// HeaderValue normalizes identifiers read from request headers.
func HeaderValue(value string) string {
	return OptionalText(value, MaxHeaderRunes)
}
