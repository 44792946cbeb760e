/*
audit.go - Append-only field-change ledger

PURPOSE:
  Every manual edit operation funnels its field changes through the recorder.
  The audit log is the traceability backbone: staff can always answer "who
  changed this reservation, when, from what to what".

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No update, no delete. Corrections are compensating entries.
  2. NO-OP GUARD: A write that does not change the value records nothing.
  3. ATOMIC: An entry is persisted in the same batch as the record change it
     describes - a reader never observes one without the other.

SEE ALSO:
  - edits.go: Produces the FieldChange values recorded here
  - store.go: ChangeSet carries entries alongside record updates
*/
package history

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// FIELD CHANGE - One pending mutation
// =============================================================================

// FieldChange describes a single field mutation before it is persisted.
// Edit transitions return these; the recorder turns them into entries.
type FieldChange struct {
	ReservationID string
	Field         string
	OldValue      string
	NewValue      string
}

// =============================================================================
// RECORDER
// =============================================================================

// Recorder builds audit entries from field changes. It is stateless; the
// entries ride in the same ChangeSet as the record updates they describe.
type Recorder struct{}

// Record builds one audit entry, or nil when old and new are structurally
// equal (the no-op guard: unchanged writes leave no trace).
func (Recorder) Record(reservationID, field, oldValue, newValue, actor string, at time.Time) *AuditEntry {
	if oldValue == newValue {
		return nil
	}
	return &AuditEntry{
		ID:            uuid.New().String(),
		ReservationID: reservationID,
		Field:         field,
		OldValue:      oldValue,
		NewValue:      newValue,
		ChangedAt:     at,
		ChangedBy:     actor,
	}
}

// RecordAll converts a batch of field changes into entries, dropping no-ops.
func (r Recorder) RecordAll(changes []FieldChange, actor string, at time.Time) []AuditEntry {
	var entries []AuditEntry
	for _, c := range changes {
		if e := r.Record(c.ReservationID, c.Field, c.OldValue, c.NewValue, actor, at); e != nil {
			entries = append(entries, *e)
		}
	}
	return entries
}
