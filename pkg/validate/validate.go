package validate

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Length ceilings per field class, in bytes.
const (
	MaxStringLen  = 10_000
	MaxNameLen    = 256
	MaxPathLen    = 4096
	MaxCommandLen = 65536
)

// Sentinel errors for typed failure checking. Every check returns one of
// these wrapped with field detail; none of them panics.
var (
	ErrEmpty            = errors.New("empty input")
	ErrTooLong          = errors.New("input too long")
	ErrInvalidChars     = errors.New("invalid characters")
	ErrForbiddenPattern = errors.New("forbidden pattern")
	ErrOutOfRange       = errors.New("out of range")
)

// Validator applies stateless input checks at string-accepting boundaries.
type Validator struct {
	forbidden []string
}

// New returns a validator with the default shell-injection deny-list.
func New() *Validator {
	return &Validator{
		forbidden: []string{"$(", "`", "&&", "||", ";", "|", "<", ">", ".."},
	}
}

// RequireNonEmpty fails when the value is empty or whitespace-only.
func (v *Validator) RequireNonEmpty(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s", ErrEmpty, field)
	}
	return nil
}

// ValidateLength fails when the value exceeds max bytes.
func (v *Validator) ValidateLength(field, value string, max int) error {
	if len(value) > max {
		return fmt.Errorf("%w: %s is %d bytes, max %d", ErrTooLong, field, len(value), max)
	}
	return nil
}

// ValidateJobName accepts alphanumerics, dashes, and underscores only.
// Deny-list hits report as forbidden patterns, other stray characters as
// invalid characters.
func (v *Validator) ValidateJobName(name string) error {
	if err := v.RequireNonEmpty("job_name", name); err != nil {
		return err
	}
	if err := v.ValidateLength("job_name", name, MaxNameLen); err != nil {
		return err
	}
	for _, pattern := range v.forbidden {
		if strings.Contains(name, pattern) {
			return fmt.Errorf("%w: job_name contains %q", ErrForbiddenPattern, pattern)
		}
	}

	var invalid []rune
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			invalid = append(invalid, r)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("%w: job_name contains %q", ErrInvalidChars, string(invalid))
	}
	return nil
}

// ValidatePath rejects oversized paths, traversal sequences, and embedded
// null bytes. Empty paths pass; callers decide whether one is meaningful.
func (v *Validator) ValidatePath(path string) error {
	if err := v.ValidateLength("path", path, MaxPathLen); err != nil {
		return err
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("%w: path traversal via %q", ErrForbiddenPattern, "..")
	}
	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("%w: path contains null byte", ErrInvalidChars)
	}
	return nil
}

// ValidateCommand scans a command string against the injection deny-list.
func (v *Validator) ValidateCommand(command string) error {
	if err := v.RequireNonEmpty("command", command); err != nil {
		return err
	}
	if err := v.ValidateLength("command", command, MaxCommandLen); err != nil {
		return err
	}
	for _, pattern := range v.forbidden {
		if strings.Contains(command, pattern) {
			return fmt.Errorf("%w: command contains %q", ErrForbiddenPattern, pattern)
		}
	}
	return nil
}

// ValidateRange fails unless min <= value <= max.
func (v *Validator) ValidateRange(field string, value, min, max int64) error {
	if value < min || value > max {
		return fmt.Errorf("%w: %s must be %d-%d, got %d", ErrOutOfRange, field, min, max, value)
	}
	return nil
}

// ValidateGPUCount bounds a device count to 0-1024 inclusive.
func (v *Validator) ValidateGPUCount(count int) error {
	return v.ValidateRange("gpu_count", int64(count), 0, 1024)
}

// ValidatePriority bounds a scheduling priority to -1000-1000 inclusive.
func (v *Validator) ValidatePriority(priority int) error {
	return v.ValidateRange("priority", int64(priority), -1000, 1000)
}

// ValidateBufferSize bounds a queue capacity to 1 through 1 GiB.
func (v *Validator) ValidateBufferSize(size int) error {
	return v.ValidateRange("buffer_size", int64(size), 1, 1<<30)
}

// SanitizeString strips control characters, keeping newlines and tabs.
func SanitizeString(input string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, input)
}

// SanitizeLogMessage sanitizes and truncates a message destined for logs.
func SanitizeLogMessage(message string) string {
	sanitized := SanitizeString(message)
	if len(sanitized) > MaxStringLen {
		return sanitized[:MaxStringLen] + "... [truncated]"
	}
	return sanitized
}
