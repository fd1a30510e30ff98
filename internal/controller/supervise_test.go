package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hezky/lab-heartbeat/internal/registry"
)

func TestShouldRestart(t *testing.T) {
	tests := []struct {
		name       string
		policy     registry.RestartPolicy
		exitCode   int
		attempt    int
		maxRetries int
		want       bool
	}{
		{"never ignores failures", registry.RestartNever, 1, 0, 5, false},
		{"always restarts clean exits", registry.RestartAlways, 0, 0, 3, true},
		{"always restarts failures", registry.RestartAlways, 1, 2, 3, true},
		{"always respects max retries", registry.RestartAlways, 1, 3, 3, false},
		{"always with zero retries never restarts", registry.RestartAlways, 1, 0, 0, false},
		{"on-failure restarts failures", registry.RestartOnFailure, 2, 0, 3, true},
		{"on-failure skips clean exits", registry.RestartOnFailure, 0, 0, 3, false},
		{"on-failure respects max retries", registry.RestartOnFailure, 1, 3, 3, false},
		{"unless-stopped restarts failures", registry.RestartUnlessStopped, 1, 0, 3, true},
		{"unless-stopped restarts clean exits", registry.RestartUnlessStopped, 0, 1, 3, true},
		{"unless-stopped respects max retries", registry.RestartUnlessStopped, 0, 3, 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := shouldRestart(tt.policy, tt.exitCode, tt.attempt, tt.maxRetries)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBackoffCapsAtLastEntry(t *testing.T) {
	c := New(nil)

	last := c.backoff[len(c.backoff)-1]
	for attempt := 0; attempt < 20; attempt++ {
		wait := c.backoff[min(attempt, len(c.backoff)-1)]
		if attempt >= len(c.backoff) {
			assert.Equal(t, last, wait, "attempts past the schedule reuse the last entry")
		}
	}
	assert.Equal(t, "1m0s", last.String())
}
