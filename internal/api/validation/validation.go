package validation

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/hugh/parishdesk/internal/tenancy"
)

const (
	MaxNameLength          = 200
	MaxPetitionTitleLength = 200
	MaxPetitionBodyLength  = 4000
)

var (
	// EmailRegex validates email format
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

	// UUIDRegex validates UUID format
	uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

	// ISO 3166-1 alpha-2
	countryRegex = regexp.MustCompile(`^[A-Z]{2}$`)
)

// IsValidEmail checks if the string is a valid email format
func IsValidEmail(email string) bool {
	if len(email) > 254 {
		return false
	}
	return emailRegex.MatchString(email)
}

// IsValidUUID checks if the string is a valid UUID format
func IsValidUUID(id string) bool {
	return uuidRegex.MatchString(id)
}

// IsValidCountry checks for an upper-case two-letter country code. Empty is allowed.
func IsValidCountry(code string) bool {
	return code == "" || countryRegex.MatchString(code)
}

// IsValidRole reports whether role is one the parish roster understands.
func IsValidRole(role string) bool {
	switch role {
	case tenancy.RoleAdmin, tenancy.RoleMember:
		return true
	}
	return false
}

// ValidateRoles returns the first unknown role, or "" when all are known.
func ValidateRoles(roles []string) string {
	for _, role := range tenancy.NormalizeRoles(roles) {
		if !IsValidRole(role) {
			return role
		}
	}
	return ""
}

// IsValidPassword checks password strength
func IsValidPassword(password string) (bool, string) {
	if len(password) < 8 {
		return false, "Password must be at least 8 characters"
	}
	if len(password) > 128 {
		return false, "Password must be at most 128 characters"
	}

	var hasLetter, hasNumber bool
	for _, char := range password {
		switch {
		case unicode.IsLetter(char):
			hasLetter = true
		case unicode.IsNumber(char):
			hasNumber = true
		}
	}

	if !hasLetter {
		return false, "Password must contain at least one letter"
	}
	if !hasNumber {
		return false, "Password must contain at least one number"
	}

	return true, ""
}

// SanitizeString removes potentially dangerous characters for display
func SanitizeString(s string) string {
	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")

	// Remove control characters except newlines and tabs
	var result strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || !unicode.IsControl(r) {
			result.WriteRune(r)
		}
	}

	return result.String()
}

// TruncateString truncates s to at most maxLen runes.
func TruncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}
