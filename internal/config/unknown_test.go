package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_UnknownSection(t *testing.T) {
	path := writeTestConfig(t, "[sweepr]\nceiling = 3\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config section "sweepr"`)
	assert.Contains(t, err.Error(), `did you mean "sweeper"`)
}

func TestLoad_UnknownKey_InSection(t *testing.T) {
	path := writeTestConfig(t, "[retry]\nmax_attemps = 4\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key in [retry]")
	assert.Contains(t, err.Error(), "max_attempts")
}

func TestLoad_UnknownKey_InEntityOverride(t *testing.T) {
	path := writeTestConfig(t, "[sweeper.entity.bill]\nceilng = 2\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[sweeper.entity.bill]")
	assert.Contains(t, err.Error(), `did you mean "ceiling"`)
}

func TestLoad_UnknownKey_NoSuggestion(t *testing.T) {
	path := writeTestConfig(t, "[server]\ncompletely_unrelated_key = true\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key in [server]")
	assert.NotContains(t, err.Error(), "did you mean")
	assert.Contains(t, err.Error(), "jwt_secret")
}

func TestLoad_UnknownTopLevelKey(t *testing.T) {
	path := writeTestConfig(t, "log_level = \"debug\"\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config section "log_level"`)
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b     string
		expected int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"abc", "abc", 0},
		{"abc", "abd", 1},
		{"ceilng", "ceiling", 1},
		{"max_attemps", "max_attempts", 1},
		{"kitten", "sitting", 3},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, levenshtein(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
	}
}

func TestClosestMatch(t *testing.T) {
	assert.Equal(t, "sweeper", closestMatch("sweper", knownSections))
	assert.Empty(t, closestMatch("zzzzzzzzzz", knownSections))
}
