package util

import (
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	// ErrInvalidUUID is returned when a value is not a UUID v4.
	ErrInvalidUUID = errors.New("invalid uuid v4")
	// ErrInvalidEmail is returned when an email address cannot be parsed.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrInvalidPhone is returned when a phone number is not E.164 compliant.
	ErrInvalidPhone = errors.New("invalid e164 phone number")
	// ErrInvalidURL indicates that a URL failed validation.
	ErrInvalidURL = errors.New("invalid url")
	// ErrInvalidTemplatePath indicates a template reference is malformed.
	ErrInvalidTemplatePath = errors.New("invalid template path")
)

var (
	e164Pattern       = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)
	templateSegment   = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)
)

// ParseUUIDv4 parses and validates a UUID string, ensuring it is version 4.
func ParseUUIDv4(value string) (uuid.UUID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return uuid.UUID{}, fmt.Errorf("%w: value is empty", ErrInvalidUUID)
	}

	u, err := uuid.Parse(trimmed)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("%w: %v", ErrInvalidUUID, err)
	}

	if u.Version() != 4 {
		return uuid.UUID{}, fmt.Errorf("%w: expected version 4", ErrInvalidUUID)
	}

	return u, nil
}

// NormalizeEmail validates and normalizes an email address. The returned value
// is lowercased and stripped of surrounding whitespace.
func NormalizeEmail(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%w: value is empty", ErrInvalidEmail)
	}

	addr, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEmail, err)
	}

	// Disallow display names to keep payloads deterministic.
	if addr.Name != "" || addr.Address == "" {
		return "", fmt.Errorf("%w: must not include display name", ErrInvalidEmail)
	}

	if addr.Address != trimmed {
		return "", fmt.Errorf("%w: unexpected formatting", ErrInvalidEmail)
	}

	return strings.ToLower(addr.Address), nil
}

// NormalizeEmails validates each email and returns the normalized slice.
func NormalizeEmails(values []string, min, max int) ([]string, error) {
	count := len(values)
	if min > 0 && count < min {
		return nil, fmt.Errorf("expected at least %d email(s); got %d", min, count)
	}
	if max > 0 && count > max {
		return nil, fmt.Errorf("expected at most %d email(s); got %d", max, count)
	}

	if count == 0 {
		return nil, nil
	}

	result := make([]string, 0, count)
	for idx, value := range values {
		normalized, err := NormalizeEmail(value)
		if err != nil {
			return nil, fmt.Errorf("email[%d]: %w", idx, err)
		}
		result = append(result, normalized)
	}

	return result, nil
}

// NormalizeE164 validates a phone number using the E.164 format and returns the
// normalized representation.
func NormalizeE164(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%w: value is empty", ErrInvalidPhone)
	}

	if !e164Pattern.MatchString(trimmed) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, trimmed)
	}

	return trimmed, nil
}

// NormalizeE164List validates each phone number in the slice.
func NormalizeE164List(values []string, min, max int) ([]string, error) {
	count := len(values)
	if min > 0 && count < min {
		return nil, fmt.Errorf("expected at least %d phone number(s); got %d", min, count)
	}
	if max > 0 && count > max {
		return nil, fmt.Errorf("expected at most %d phone number(s); got %d", max, count)
	}

	if count == 0 {
		return nil, nil
	}

	result := make([]string, 0, count)
	for idx, value := range values {
		normalized, err := NormalizeE164(value)
		if err != nil {
			return nil, fmt.Errorf("phone[%d]: %w", idx, err)
		}
		result = append(result, normalized)
	}
	return result, nil
}

// ValidateMetadata enforces constraints on metadata maps and returns a copy
// containing trimmed keys and values.
func ValidateMetadata(meta map[string]string, maxEntries, maxKeyLen, maxValueLen int) (map[string]string, error) {
	if len(meta) == 0 {
		return nil, nil
	}

	if maxEntries > 0 && len(meta) > maxEntries {
		return nil, fmt.Errorf("metadata entries exceeded: got %d, max %d", len(meta), maxEntries)
	}

	out := make(map[string]string, len(meta))
	for rawKey, rawValue := range meta {
		key := strings.TrimSpace(rawKey)
		value := strings.TrimSpace(rawValue)

		if key == "" {
			return nil, errors.New("metadata key cannot be empty")
		}

		if maxKeyLen > 0 && utf8.RuneCountInString(key) > maxKeyLen {
			return nil, fmt.Errorf("metadata key %q exceeds max length %d", key, maxKeyLen)
		}

		if maxValueLen > 0 && utf8.RuneCountInString(value) > maxValueLen {
			return nil, fmt.Errorf("metadata value for %q exceeds max length %d", key, maxValueLen)
		}

		out[key] = value
	}

	return out, nil
}

// EnsureMaxRunes ensures a string is not longer than the provided rune count.
func EnsureMaxRunes(field, value string, max int) error {
	if max <= 0 {
		return nil
	}
	length := utf8.RuneCountInString(value)
	if length > max {
		return fmt.Errorf("%s exceeds maximum length of %d characters", field, max)
	}
	return nil
}

// ValidateHTTPURL ensures the provided string is a valid HTTP or HTTPS URL.
func ValidateHTTPURL(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%w: value is empty", ErrInvalidURL)
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: host is required", ErrInvalidURL)
	}

	return trimmed, nil
}

// ValidateTemplatePath checks a slash separated template reference. Each
// segment must match a conservative pattern and parent references are
// refused so a request cannot escape the template root.
func ValidateTemplatePath(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%w: value is empty", ErrInvalidTemplatePath)
	}
	if len(trimmed) > 256 {
		return "", fmt.Errorf("%w: longer than 256 bytes", ErrInvalidTemplatePath)
	}
	for _, segment := range strings.Split(trimmed, "/") {
		if segment == "." || segment == ".." || !templateSegment.MatchString(segment) {
			return "", fmt.Errorf("%w: %q", ErrInvalidTemplatePath, trimmed)
		}
	}
	return trimmed, nil
}
