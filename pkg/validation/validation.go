package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// EventIDRegex validates event ID format
	EventIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// SlugRegex validates event slug format
	SlugRegex = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

	// RecordingFilenameRegex matches names produced by the recording manager
	RecordingFilenameRegex = regexp.MustCompile(`^event_[a-zA-Z0-9_-]+_\d{8}T\d{6}\.\d{3}Z\.wav$`)
)

// ValidateEventID validates event ID
func ValidateEventID(eventID string) error {
	if eventID == "" {
		return fmt.Errorf("event ID is required")
	}
	if len(eventID) > 100 {
		return fmt.Errorf("event ID is too long (max 100 characters)")
	}
	if !EventIDRegex.MatchString(eventID) {
		return fmt.Errorf("invalid event ID format")
	}
	return nil
}

// ValidateSlug validates an optional event slug
func ValidateSlug(slug string) error {
	if slug == "" {
		return nil
	}
	if len(slug) > 200 {
		return fmt.Errorf("slug is too long (max 200 characters)")
	}
	if !SlugRegex.MatchString(slug) {
		return fmt.Errorf("invalid slug format")
	}
	return nil
}

// ValidateSampleRate validates a broadcast sample rate in Hz
func ValidateSampleRate(hz int) error {
	if hz < 8000 {
		return fmt.Errorf("sample rate must be at least 8000 Hz")
	}
	if hz > 192000 {
		return fmt.Errorf("sample rate is too high (max 192000 Hz)")
	}
	return nil
}

// ValidateRecordingFilename validates a recording file name
func ValidateRecordingFilename(name string) error {
	if name == "" {
		return fmt.Errorf("filename is required")
	}
	if !RecordingFilenameRegex.MatchString(name) {
		return fmt.Errorf("invalid recording filename")
	}
	return nil
}

// ValidateDisplayName validates a listener display name
func ValidateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("display name is required")
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("display name contains invalid characters")
	}
	return ValidateStringLength(name, 1, 100, "display name")
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
