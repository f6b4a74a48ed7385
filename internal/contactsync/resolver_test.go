package contactsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Minute)

	tests := []struct {
		name   string
		remote time.Time
		local  time.Time
		policy ConflictPolicy
		want   Source
	}{
		{"newest remote", t1, t0, PolicyNewestWins, SourceRemote},
		{"newest local", t0, t1, PolicyNewestWins, SourceLocal},
		{"exact tie goes local", t0, t0, PolicyNewestWins, SourceLocal},
		{"zero times tie", time.Time{}, time.Time{}, PolicyNewestWins, SourceLocal},
		{"provider wins even when older", t0, t1, PolicyProviderWins, SourceRemote},
		{"local wins even when older", t1, t0, PolicyLocalWins, SourceLocal},
		{"unknown policy falls back to newest", t1, t0, ConflictPolicy("bogus"), SourceRemote},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.remote, tt.local, tt.policy)
			assert.Equal(t, tt.want, got.Winner)
			assert.NotEmpty(t, got.Reason)
		})
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	first := Resolve(t0, t0, PolicyNewestWins)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Resolve(t0, t0, PolicyNewestWins))
	}
}
