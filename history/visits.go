/*
visits.go - Per-client visit-index computation

PURPOSE:
  Assigns each friend's implemented reservations a 1-based ordinal, ordered
  by session date. The index distinguishes first-time from repeat clients and
  backs the repeat-visit statistics.

ORDERING RULE:
  Implemented, non-excluded records sorted by SessionDate ascending, with
  ReservationID as a deterministic tie-break. Excluded records are same-day
  duplicates folded into a merge group; they carry no index so the group
  counts once.

INCREMENTAL vs FULL:
  Recompute runs for a single friend after any merge or edit that may have
  flipped a record's implementation state (O(k log k) in that friend's record
  count). RecomputeAll rebuilds every friend's indices and is the maintenance
  path after bulk corrections.

SEE ALSO:
  - merge.go: Triggers recompute for touched friends
  - edits.go: Triggers recompute when implementation state changes
*/
package history

import "sort"

// =============================================================================
// VISIT INDEX ASSIGNMENT
// =============================================================================

// RecomputeVisitIndexes reassigns visit indices for one friend, mutating the
// given map in place. Returns the reservation ids whose index changed.
// VisitIndex is a derived cache: updating it does not bump UpdatedAt.
func RecomputeVisitIndexes(records map[string]ReservationRecord, friendID string) []string {
	var counted []ReservationRecord
	var changed []string

	for _, r := range records {
		if r.FriendID != friendID {
			continue
		}
		if r.Counts() {
			counted = append(counted, r)
		} else if r.VisitIndex != 0 {
			r.VisitIndex = 0
			records[r.ReservationID] = r
			changed = append(changed, r.ReservationID)
		}
	}

	sort.Slice(counted, func(i, j int) bool {
		if !counted[i].SessionDate.Equal(counted[j].SessionDate) {
			return counted[i].SessionDate.Before(counted[j].SessionDate)
		}
		return counted[i].ReservationID < counted[j].ReservationID
	})

	for i, r := range counted {
		index := i + 1
		if r.VisitIndex != index {
			r.VisitIndex = index
			records[r.ReservationID] = r
			changed = append(changed, r.ReservationID)
		}
	}
	return changed
}

// RecomputeAllVisitIndexes rebuilds every friend's indices from scratch.
// Used as a repair operation after bulk corrections or a restore.
func RecomputeAllVisitIndexes(records map[string]ReservationRecord) []string {
	friends := make(map[string]bool)
	for _, r := range records {
		friends[r.FriendID] = true
	}

	var changed []string
	for friendID := range friends {
		changed = append(changed, RecomputeVisitIndexes(records, friendID)...)
	}
	return changed
}

// =============================================================================
// VISIT COUNT DERIVATION
// =============================================================================

// CountVisits derives a friend's VisitCount from the record set. The count,
// last visit date, and last staff consider only implemented, non-excluded
// records.
func CountVisits(records map[string]ReservationRecord, friendID string) VisitCount {
	count := VisitCount{FriendID: friendID}
	var last ReservationRecord

	for _, r := range records {
		if r.FriendID != friendID || !r.Counts() {
			continue
		}
		count.ImplementationCount++
		if last.ReservationID == "" ||
			last.SessionDate.Before(r.SessionDate) ||
			(last.SessionDate.Equal(r.SessionDate) && last.ReservationID < r.ReservationID) {
			last = r
		}
	}

	if last.ReservationID != "" {
		count.LastVisitDate = last.SessionDate
		count.LastStaff = last.Staff
	}
	return count
}

// =============================================================================
// LABELS
// =============================================================================

// VisitLabel names an index bucket: 1 is "first", 2 is "second", everything
// later is lumped together. 0 (no index) yields the empty string.
func VisitLabel(index int) string {
	switch {
	case index <= 0:
		return ""
	case index == 1:
		return "first"
	case index == 2:
		return "second"
	default:
		return "third-or-later"
	}
}
