package utils

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/AgentOS/sandbox/internal/sandbox"
)

// Size limits (in bytes)
const (
	MaxJSONSize     = 2 * 1024 * 1024 // 2MB - maximum request or frame payload
	MaxArtifactSize = 512 * 1024      // 512KB - one artifact's content
	MaxMessageSize  = 16 * 1024       // 16KB - one relayed console argument
)

// Count and length limits
const (
	MaxPathLength = 1024
	MaxSiblings   = 32
)

// JSONSizeValidator validates JSON size limits
type JSONSizeValidator struct {
	maxSize int
}

// NewJSONSizeValidator creates a new validator with the specified max size
func NewJSONSizeValidator(maxSize int) *JSONSizeValidator {
	return &JSONSizeValidator{maxSize: maxSize}
}

// DefaultJSONValidator returns a validator with the default limit
func DefaultJSONValidator() *JSONSizeValidator {
	return NewJSONSizeValidator(MaxJSONSize)
}

// ValidateSize checks if the data size is within limits
func (v *JSONSizeValidator) ValidateSize(data []byte) error {
	if size := len(data); size > v.maxSize {
		return fmt.Errorf("JSON size %d bytes exceeds maximum %d bytes", size, v.maxSize)
	}
	return nil
}

// ValidateJSON validates both size and JSON structure
func (v *JSONSizeValidator) ValidateJSON(data []byte) error {
	// size first, it's cheaper than parsing
	if err := v.ValidateSize(data); err != nil {
		return err
	}
	if !sonic.Valid(data) {
		return fmt.Errorf("invalid JSON")
	}
	return nil
}

// ValidateString validates a string field with length and content checks
func ValidateString(value, fieldName string, minLen, maxLen int, required bool) error {
	if required && value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}

	if value == "" && !required {
		return nil
	}

	length := utf8.RuneCountInString(value)
	if length < minLen {
		return fmt.Errorf("%s must be at least %d characters", fieldName, minLen)
	}
	if length > maxLen {
		return fmt.Errorf("%s must not exceed %d characters", fieldName, maxLen)
	}

	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}

	return nil
}

// ValidateArtifact checks the envelope of an artifact. The language is not
// checked: unrecognized languages are valid and run isolated.
func ValidateArtifact(a sandbox.Artifact, fieldName string) error {
	if err := ValidateString(a.Path, fieldName+".path", 1, MaxPathLength, true); err != nil {
		return err
	}
	if len(a.Content) > MaxArtifactSize {
		return fmt.Errorf("%s.content size %d bytes exceeds maximum %d bytes", fieldName, len(a.Content), MaxArtifactSize)
	}
	return nil
}

// ValidateArtifacts checks an artifact together with its siblings
func ValidateArtifacts(a sandbox.Artifact, siblings []sandbox.Artifact) error {
	if err := ValidateArtifact(a, "artifact"); err != nil {
		return err
	}
	if len(siblings) > MaxSiblings {
		return fmt.Errorf("too many siblings: %d exceeds maximum %d", len(siblings), MaxSiblings)
	}
	for i, s := range siblings {
		if err := ValidateArtifact(s, fmt.Sprintf("siblings[%d]", i)); err != nil {
			return err
		}
	}
	return nil
}

// ValidateMessage bounds one relayed console argument
func ValidateMessage(message string) error {
	if len(message) > MaxMessageSize {
		return fmt.Errorf("message size %d bytes exceeds maximum %d bytes", len(message), MaxMessageSize)
	}
	return nil
}
