package history_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/reservation-history/history"
)

var auditAt = time.Date(2026, time.January, 22, 10, 0, 0, 0, time.UTC)

func TestRecorder_Record_BuildsEntry(t *testing.T) {
	// GIVEN: A staff change on r-1
	// WHEN: Recording it
	// THEN: The entry carries the full who/what/when

	var rec history.Recorder
	entry := rec.Record("r-1", history.FieldStaff, "", "tanaka", "admin", auditAt)

	require.NotNil(t, entry)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, "r-1", entry.ReservationID)
	assert.Equal(t, history.FieldStaff, entry.Field)
	assert.Equal(t, "", entry.OldValue)
	assert.Equal(t, "tanaka", entry.NewValue)
	assert.Equal(t, auditAt, entry.ChangedAt)
	assert.Equal(t, "admin", entry.ChangedBy)
}

func TestRecorder_NoOpGuard(t *testing.T) {
	// GIVEN: A write where old and new values are equal
	// WHEN: Recording it
	// THEN: No entry is produced - unchanged writes leave no trace

	var rec history.Recorder
	entry := rec.Record("r-1", history.FieldStaff, "tanaka", "tanaka", "admin", auditAt)

	assert.Nil(t, entry)
}

func TestRecorder_RecordAll_DropsNoOps(t *testing.T) {
	// GIVEN: A batch containing one real change and one no-op
	// WHEN: Recording the batch
	// THEN: Only the real change yields an entry, with a unique id

	var rec history.Recorder
	entries := rec.RecordAll([]history.FieldChange{
		{ReservationID: "r-1", Field: history.FieldStaff, OldValue: "", NewValue: "tanaka"},
		{ReservationID: "r-1", Field: history.FieldCancelReason, OldValue: "x", NewValue: "x"},
	}, "admin", auditAt)

	require.Len(t, entries, 1)
	assert.Equal(t, history.FieldStaff, entries[0].Field)
}

func TestRecorder_UniqueIDs(t *testing.T) {
	var rec history.Recorder
	a := rec.Record("r-1", history.FieldStaff, "", "a", "admin", auditAt)
	b := rec.Record("r-1", history.FieldStaff, "a", "b", "admin", auditAt)

	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.NotEqual(t, a.ID, b.ID)
}
