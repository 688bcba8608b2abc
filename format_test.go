package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTime(t *testing.T) {
	now := time.Now()
	sameYear := time.Date(now.Year(), time.March, 15, 10, 30, 0, 0, time.Local)
	diffYear := time.Date(2020, time.December, 25, 8, 0, 0, 0, time.Local)

	assert.Equal(t, "Mar 15 10:30:00", formatTime(sameYear))
	assert.Equal(t, "Dec 25  2020", formatTime(diffYear))
	assert.Equal(t, "-", formatTime(time.Time{}))
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"a longer message", 10, "a longe..."},
		{"abcdef", 2, "ab"},
		{"ñandú ñandú", 6, "ñan..."},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, truncate(tt.in, tt.n), "%q/%d", tt.in, tt.n)
	}
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer

	printTable(&buf, []string{"ID", "STATUS", "ERROR"}, [][]string{
		{"b-1", "success", "-"},
		{"b-1002", "error", "connectivity"},
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "ID      STATUS   ERROR", lines[0])
	assert.Equal(t, "b-1     success  -", lines[1])
	assert.Equal(t, "b-1002  error    connectivity", lines[2])
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, printJSON(&buf, map[string]int{"retries": 2}))
	assert.Equal(t, "{\n  \"retries\": 2\n}\n", buf.String())
}

func TestOrDash(t *testing.T) {
	assert.Equal(t, "-", orDash(""))
	assert.Equal(t, "x", orDash("x"))
}
