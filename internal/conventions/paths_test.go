package conventions_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/slok/transcribeq/internal/conventions"
)

func TestUploadFileName(t *testing.T) {
	ts := time.Date(2026, 10, 17, 9, 5, 3, 0, time.UTC)

	tests := map[string]struct {
		id      string
		name    string
		expName string
	}{
		"A regular name should be kept.": {
			id:      "01JABCDEFGHJKMNPQRSTVWXYZ0",
			name:    "meeting.wav",
			expName: "upload-2026_10_17_09_05_03-stvwxyz0-meeting.wav",
		},
		"A name with directories should keep only the base.": {
			id:      "01JABCDEFGHJKMNPQRSTVWXYZ0",
			name:    "../../etc/passwd",
			expName: "upload-2026_10_17_09_05_03-stvwxyz0-passwd",
		},
		"An empty name should use the default.": {
			id:      "abc",
			name:    "",
			expName: "upload-2026_10_17_09_05_03-abc-audio.wav",
		},
		"Unsafe characters should be replaced.": {
			id:      "abc",
			name:    "my voice note.wav",
			expName: "upload-2026_10_17_09_05_03-abc-my_voice_note.wav",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.expName, conventions.UploadFileName(ts, test.id, test.name))
		})
	}
}

func TestOutputFileName(t *testing.T) {
	tests := map[string]struct {
		input   string
		expName string
	}{
		"An input with extension should swap it.":      {input: "/data/uploads/upload-x-a.wav", expName: "upload-x-a.txt"},
		"An input without extension should append it.": {input: "/data/uploads/session", expName: "session.txt"},
		"Only the last extension should be removed.":   {input: "/data/uploads/a.b.mp3", expName: "a.b.txt"},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.expName, conventions.OutputFileName(test.input))
		})
	}
}
