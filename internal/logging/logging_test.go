package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatRFC3339Millis(t *testing.T) {
	ts := time.Date(2026, 7, 30, 14, 5, 9, 123_000_000, time.UTC)
	assert.Equal(t, "2026-07-30T14:05:09.123Z", formatRFC3339Millis(ts))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"", "INFO"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"nonsense", "INFO"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in).String())
	}
}

func TestNew_ReturnsUsableLogger(t *testing.T) {
	log := New("debug")
	assert.NotNil(t, log)
	assert.True(t, log.Enabled(nil, -4)) // slog.LevelDebug
}
