package contactsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatsRecord(t *testing.T) {
	var s Stats
	s.Record(Run{Status: RunCompleted, Duration: time.Second, Counters: Counters{CreatedLocal: 2, UpdatedRemote: 1, Skipped: 5}})
	s.Record(Run{Status: RunPartial, Duration: 2 * time.Second, Counters: Counters{DeletedRemote: 1, Errors: 1}})
	s.Record(Run{Status: RunFailed, Duration: 3 * time.Second})

	assert.Equal(t, Stats{
		TotalRuns:        3,
		SuccessfulRuns:   1,
		PartialRuns:      1,
		FailedRuns:       1,
		LastDuration:     3 * time.Second,
		TotalItemsSynced: 4,
	}, s)
}

func TestCountersSummary(t *testing.T) {
	c := Counters{CreatedLocal: 1, CreatedRemote: 2, UpdatedLocal: 1, DeletedRemote: 1, Skipped: 4, Conflicts: 1, Errors: 2}
	assert.Equal(t, "3 created, 1 updated, 1 deleted, 4 skipped, 1 conflicts, 2 errors", c.Summary())
	assert.Equal(t, 5, c.Mutations())
}

func TestOperationClassification(t *testing.T) {
	assert.Equal(t, ChangeCreate, OpCreateRemote.ChangeType())
	assert.Equal(t, ChangeUpdate, OpUpdateLocal.ChangeType())
	assert.Equal(t, ChangeDelete, OpDeleteRemote.ChangeType())
	assert.Equal(t, ToLocal, OpDeleteLocal.Direction())
	assert.Equal(t, ToRemote, OpUpdateRemote.Direction())
	assert.False(t, Operation("merge").Valid())
}

func TestChangeLogFilterMatch(t *testing.T) {
	e := ChangeLogEntry{Operation: OpUpdateLocal, ChangeType: ChangeUpdate}
	assert.True(t, ChangeLogFilter{}.Match(e))
	assert.True(t, ChangeLogFilter{Operation: OpUpdateLocal}.Match(e))
	assert.False(t, ChangeLogFilter{Operation: OpCreateLocal}.Match(e))
	assert.False(t, ChangeLogFilter{ChangeType: ChangeDelete}.Match(e))
}
