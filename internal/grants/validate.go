package grants

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ValidationError rejects user-correctable input before any state
// change.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

const (
	roleNameMinLen = 2
	roleNameMaxLen = 50
)

// names may use letters, digits, spaces and a few punctuation marks
var roleNameAllowed = regexp.MustCompile(`^[\p{L}\p{N} _.'!&+-]+$`)

var roleNameURL = regexp.MustCompile(`(?i)(https?://|www\.|discord\.gg/|\.gg/|\.com|\.net|\.org)`)

// always rejected, on top of the configured banned words
var builtinBannedWords = []string{
	"admin", "moderator", "discord", "everyone", "here",
	"fuck", "shit", "bitch", "cunt", "nigger", "hitler", "nazi",
}

// ValidateRoleName checks a requested custom role display name and
// returns the trimmed name.
func ValidateRoleName(raw string, extraBanned []string) (string, error) {
	name := strings.TrimSpace(raw)
	if len([]rune(name)) < roleNameMinLen {
		return "", &ValidationError{Reason: fmt.Sprintf("name must be at least %d characters", roleNameMinLen)}
	}
	if len([]rune(name)) > roleNameMaxLen {
		return "", &ValidationError{Reason: fmt.Sprintf("name must be at most %d characters", roleNameMaxLen)}
	}
	if strings.Contains(name, "@everyone") || strings.Contains(name, "@here") || strings.Contains(name, "<@") {
		return "", &ValidationError{Reason: "name must not contain mentions"}
	}
	if roleNameURL.MatchString(name) {
		return "", &ValidationError{Reason: "name must not contain links"}
	}
	if !roleNameAllowed.MatchString(name) {
		return "", &ValidationError{Reason: "name contains disallowed characters"}
	}

	lower := strings.ToLower(name)
	for _, w := range builtinBannedWords {
		if strings.Contains(lower, w) {
			return "", &ValidationError{Reason: "name contains a banned word"}
		}
	}
	for _, w := range extraBanned {
		if w != "" && strings.Contains(lower, strings.ToLower(w)) {
			return "", &ValidationError{Reason: "name contains a banned word"}
		}
	}

	return name, nil
}

var hexColor = regexp.MustCompile(`^#?[0-9a-fA-F]{6}$`)

// ParseHexColor parses "#rrggbb" (leading # optional) into an int.
func ParseHexColor(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if !hexColor.MatchString(s) {
		return 0, &ValidationError{Reason: fmt.Sprintf("invalid color %q, expected e.g. #ff00aa", raw)}
	}
	s = strings.TrimPrefix(s, "#")
	v, err := strconv.ParseInt(s, 16, 32)
	if err != nil {
		return 0, &ValidationError{Reason: fmt.Sprintf("invalid color %q", raw)}
	}
	return int(v), nil
}
