package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/GriffinCanCode/AgentOS/sandbox/internal/sandbox"
)

func TestJSONSizeValidator(t *testing.T) {
	v := NewJSONSizeValidator(16)

	assert.NoError(t, v.ValidateJSON([]byte(`{"a":1}`)))
	assert.Error(t, v.ValidateJSON([]byte(`{"a":`)))
	assert.Error(t, v.ValidateSize([]byte(strings.Repeat("x", 17))))
}

func TestValidateString(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		required bool
		wantErr  bool
	}{
		{"ok", "main.js", true, false},
		{"missing required", "", true, true},
		{"missing optional", "", false, false},
		{"too long", strings.Repeat("a", 11), true, true},
		{"null byte", "a\x00b", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateString(tt.value, "field", 1, 10, tt.required)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateArtifacts(t *testing.T) {
	ok := sandbox.Artifact{Path: "web/index.html", Language: sandbox.LanguageHTML}

	assert.NoError(t, ValidateArtifacts(ok, nil))
	assert.NoError(t, ValidateArtifacts(sandbox.Artifact{Path: "a.rb", Language: "ruby"}, nil))

	err := ValidateArtifacts(sandbox.Artifact{Language: sandbox.LanguageJavaScript}, nil)
	assert.ErrorContains(t, err, "artifact.path is required")

	big := sandbox.Artifact{Path: "big.js", Content: strings.Repeat("x", MaxArtifactSize+1)}
	assert.ErrorContains(t, ValidateArtifacts(ok, []sandbox.Artifact{big}), "siblings[0].content")

	many := make([]sandbox.Artifact, MaxSiblings+1)
	for i := range many {
		many[i] = ok
	}
	assert.ErrorContains(t, ValidateArtifacts(ok, many), "too many siblings")
}

func TestValidateMessage(t *testing.T) {
	assert.NoError(t, ValidateMessage("hello"))
	assert.Error(t, ValidateMessage(strings.Repeat("x", MaxMessageSize+1)))
}
