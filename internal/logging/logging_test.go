package logging

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLogFilePath(t *testing.T) {
	started := time.Date(2026, 2, 12, 21, 38, 36, 0, time.UTC)

	tests := map[string]struct {
		dir  string
		when time.Time
		want string
	}{
		"relative": {"logs", started, filepath.Join("logs", "playbackd.20260212_213836.log")},
		"dotted":   {"./logs", started, filepath.Join("logs", "playbackd.20260212_213836.log")},
		"absolute": {"/var/log/fleet", started, filepath.Join("/var/log/fleet", "playbackd.20260212_213836.log")},
		"non-UTC":  {"logs", started.In(time.FixedZone("CET", 3600)), filepath.Join("logs", "playbackd.20260212_213836.log")},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, LogFilePath(tt.dir, "playbackd", tt.when))
		})
	}
}

func TestStatusFilePath(t *testing.T) {
	assert.Equal(t, filepath.Join("logs", "playbackd.status.json"), StatusFilePath("logs", "playbackd"))
}
