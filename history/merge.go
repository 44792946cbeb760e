/*
merge.go - Incremental CSV-merge engine

PURPOSE:
  Folds newly parsed CSV rows into the existing history and per-friend
  counters. The merge is the only path that creates records from imports;
  manual edits are the only other writer.

FIELD OWNERSHIP:
  CSV-owned fields (friend, name, dates, status, visit status, omakase flag)
  are overwritten from the row. Manual-only fields (cancel reason, cancel
  handling, group id, exclusion, implementation override) are never touched
  by a merge. Staff and detail status sit in between: the CSV wins only when
  it actually supplies a value, otherwise the manual value is kept.

COPY-ON-WRITE:
  The inputs are never mutated. The result carries fresh maps, so a reader
  holding the previous snapshot observes either the pre-merge or the fully
  merged state, never a partial one.

IDEMPOTENCE:
  Re-merging an unchanged batch returns structurally identical maps: no
  UpdatedAt churn, zero changed records, zero count changes.

SEE ALSO:
  - visits.go: Recompute triggered for every touched friend
  - service.go: Persists the result and swaps the snapshot
*/
package history

import "time"

// =============================================================================
// MERGE RESULT
// =============================================================================

// MergeResult is the copy-on-write outcome of folding a CSV batch.
type MergeResult struct {
	History map[string]ReservationRecord
	Counts  map[string]VisitCount

	Created int
	Updated int

	// ChangedRecords lists reservation ids that were created, updated, or
	// had their visit index reassigned - the set the store must persist.
	ChangedRecords []string

	// ChangedCounts lists friend ids whose VisitCount row changed.
	ChangedCounts []string
}

// Changed reports whether the merge altered anything at all.
func (m MergeResult) Changed() bool {
	return len(m.ChangedRecords) > 0 || len(m.ChangedCounts) > 0
}

// =============================================================================
// MERGE ENGINE
// =============================================================================

// MergeRows folds rows into (records, counts) and returns new maps. Existing
// records with the same ReservationID are updated in place - re-merging the
// same id never duplicates. All touched friends get their visit indices and
// counts recomputed.
func MergeRows(records map[string]ReservationRecord, counts map[string]VisitCount, rows []InputRow, now time.Time) MergeResult {
	next := make(map[string]ReservationRecord, len(records)+len(rows))
	for id, r := range records {
		next[id] = r
	}
	nextCounts := make(map[string]VisitCount, len(counts))
	for id, c := range counts {
		nextCounts[id] = c
	}

	result := MergeResult{History: next, Counts: nextCounts}
	touched := make(map[string]bool)
	changedIDs := make(map[string]bool)

	for _, row := range rows {
		existing, ok := next[row.ReservationID]
		if !ok {
			r := recordFromRow(row, now)
			next[row.ReservationID] = r
			result.Created++
			touched[r.FriendID] = true
			changedIDs[r.ReservationID] = true
			continue
		}

		candidate := applyRow(existing, row)
		if sameRecord(candidate, existing) {
			continue
		}
		candidate.UpdatedAt = now
		next[row.ReservationID] = candidate
		result.Updated++
		touched[candidate.FriendID] = true
		if existing.FriendID != candidate.FriendID {
			touched[existing.FriendID] = true
		}
		changedIDs[candidate.ReservationID] = true
	}

	for friendID := range touched {
		for _, id := range RecomputeVisitIndexes(next, friendID) {
			changedIDs[id] = true
		}

		derived := CountVisits(next, friendID)
		if prev, ok := nextCounts[friendID]; ok && sameCount(prev, derived) {
			continue
		}
		derived.UpdatedAt = now
		nextCounts[friendID] = derived
		result.ChangedCounts = append(result.ChangedCounts, friendID)
	}

	for id := range changedIDs {
		result.ChangedRecords = append(result.ChangedRecords, id)
	}
	return result
}

// recordFromRow builds a fresh record from a CSV row.
func recordFromRow(row InputRow, now time.Time) ReservationRecord {
	r := ReservationRecord{
		ReservationID:   row.ReservationID,
		FriendID:        row.FriendID,
		Name:            row.Name,
		SessionDate:     row.SessionDate,
		ApplicationDate: row.ApplicationDate,
		Status:          row.Status,
		VisitStatus:     row.VisitStatus,
		Staff:           row.Staff,
		DetailStatus:    row.DetailStatus,
		WasOmakase:      row.WasOmakase,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	r.IsImplemented = r.ComputeImplemented()
	return r
}

// applyRow overlays CSV-owned fields onto an existing record, preserving
// manual-only fields. UpdatedAt is left alone so the caller can detect a
// no-op by comparing against the original.
func applyRow(r ReservationRecord, row InputRow) ReservationRecord {
	r.FriendID = row.FriendID
	r.Name = row.Name
	r.SessionDate = row.SessionDate
	r.ApplicationDate = row.ApplicationDate
	r.Status = row.Status
	r.VisitStatus = row.VisitStatus
	r.WasOmakase = row.WasOmakase

	// The CSV wins only when it supplies a value; a manual assignment or
	// correction survives an import that says nothing.
	if row.Staff != "" {
		r.Staff = row.Staff
	}
	if row.DetailStatus != DetailNone {
		r.DetailStatus = row.DetailStatus
	}

	r.IsImplemented = r.ComputeImplemented()
	return r
}

// sameRecord compares everything but the timestamps, using time.Equal so a
// store round-trip (which may lose the wall-clock location) is not mistaken
// for a change.
func sameRecord(a, b ReservationRecord) bool {
	return a.ReservationID == b.ReservationID &&
		a.FriendID == b.FriendID &&
		a.Name == b.Name &&
		a.SessionDate.Equal(b.SessionDate) &&
		a.ApplicationDate.Equal(b.ApplicationDate) &&
		a.Status == b.Status &&
		a.VisitStatus == b.VisitStatus &&
		a.Staff == b.Staff &&
		a.DetailStatus == b.DetailStatus &&
		a.WasOmakase == b.WasOmakase &&
		a.IsImplemented == b.IsImplemented &&
		a.Override == b.Override &&
		a.GroupID == b.GroupID &&
		a.IsExcluded == b.IsExcluded &&
		a.CancelReason == b.CancelReason &&
		a.CancelHandlingStatus == b.CancelHandlingStatus
}

func sameCount(a, b VisitCount) bool {
	return a.FriendID == b.FriendID &&
		a.ImplementationCount == b.ImplementationCount &&
		a.LastVisitDate.Equal(b.LastVisitDate) &&
		a.LastStaff == b.LastStaff
}
