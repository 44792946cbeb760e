/*
edits.go - Manual edit transitions

PURPOSE:
  Staff-facing corrections over a single reservation: assign staff, override
  cancellation detail, force implementation on or off, group same-day
  duplicates, exclude records from counting. Each transition validates its
  precondition, computes the new value, and reports what changed.

SHAPE:
  Transitions are pure map-to-map edits. They mutate the records map they are
  handed (the service hands them a fresh copy-on-write clone) and return an
  EditOutcome: the audit-worthy field changes, the friends whose derived
  state must be recomputed, and whether implementation state may have moved.
  Persistence, audit recording, and broadcast happen in the service.

FAILURE MODES:
  A missing reservation id returns NotFoundError and touches nothing. A merge
  group failing its precondition returns MergeGroupError and performs no
  partial merge - all-or-nothing.

SEE ALSO:
  - audit.go: Turns the reported changes into ledger entries
  - service.go: Clones, persists, swaps, broadcasts
*/
package history

import (
	"fmt"
	"sort"
	"time"
)

// =============================================================================
// EDIT OUTCOME
// =============================================================================

// EditOutcome reports what a transition did.
type EditOutcome struct {
	// Changes carries one entry per audited field mutation. Empty means the
	// edit was a no-op: nothing to persist, nothing to log.
	Changes []FieldChange

	// Friends lists friend ids whose VisitCount must be re-derived.
	Friends []string

	// Reindex is set when a record's participation in visit counting may
	// have changed, requiring a visit-index recompute for Friends.
	Reindex bool
}

// IsNoOp reports whether the edit changed nothing.
func (o EditOutcome) IsNoOp() bool { return len(o.Changes) == 0 }

// =============================================================================
// SINGLE-FIELD EDITS
// =============================================================================

// ApplyAssignStaff sets (or clears, with the empty string) the staff member
// independently of any CSV value.
func ApplyAssignStaff(records map[string]ReservationRecord, id, staff string, now time.Time) (EditOutcome, error) {
	r, ok := records[id]
	if !ok {
		return EditOutcome{}, &NotFoundError{ReservationID: id}
	}
	if r.Staff == staff {
		return EditOutcome{}, nil
	}

	old := r.Staff
	r.Staff = staff
	r.UpdatedAt = now
	records[id] = r

	return EditOutcome{
		Changes: []FieldChange{{ReservationID: id, Field: FieldStaff, OldValue: old, NewValue: staff}},
		Friends: []string{r.FriendID}, // LastStaff derives from this field
	}, nil
}

// ApplyUpdateDetailStatus corrects the cancellation detail and re-evaluates
// the implementation rule.
func ApplyUpdateDetailStatus(records map[string]ReservationRecord, id string, status DetailStatus, now time.Time) (EditOutcome, error) {
	r, ok := records[id]
	if !ok {
		return EditOutcome{}, &NotFoundError{ReservationID: id}
	}
	if r.DetailStatus == status {
		return EditOutcome{}, nil
	}

	old := r.DetailStatus
	wasImplemented := r.IsImplemented
	r.DetailStatus = status
	r.IsImplemented = r.ComputeImplemented()
	r.UpdatedAt = now
	records[id] = r

	return EditOutcome{
		Changes: []FieldChange{{ReservationID: id, Field: FieldDetailStatus, OldValue: string(old), NewValue: string(status)}},
		Friends: []string{r.FriendID},
		Reindex: wasImplemented != r.IsImplemented,
	}, nil
}

// ApplyToggleImplementation flips the implemented state and normalizes the
// status pair to the matching canonical one: on is booked+visited with the
// cancellation detail cleared, off is booked+absent. Any manual override is
// reset so the automatic rule carries the new state.
func ApplyToggleImplementation(records map[string]ReservationRecord, id string, now time.Time) (EditOutcome, error) {
	r, ok := records[id]
	if !ok {
		return EditOutcome{}, &NotFoundError{ReservationID: id}
	}

	old := r.IsImplemented
	target := !old

	r.Status = StatusBooked
	if target {
		r.VisitStatus = VisitVisited
		r.DetailStatus = DetailNone
	} else {
		r.VisitStatus = VisitAbsent
	}
	r.Override = OverrideAuto
	r.IsImplemented = r.ComputeImplemented()
	r.UpdatedAt = now
	records[id] = r

	return EditOutcome{
		Changes: []FieldChange{{ReservationID: id, Field: FieldImplemented, OldValue: boolString(old), NewValue: boolString(r.IsImplemented)}},
		Friends: []string{r.FriendID},
		Reindex: true, // the toggle always re-ranks this friend
	}, nil
}

// ApplySetOverride sets or clears (OverrideAuto) the manual implementation
// override and re-evaluates the effective state.
func ApplySetOverride(records map[string]ReservationRecord, id string, override Override, now time.Time) (EditOutcome, error) {
	r, ok := records[id]
	if !ok {
		return EditOutcome{}, &NotFoundError{ReservationID: id}
	}
	if r.Override == override {
		return EditOutcome{}, nil
	}

	old := r.Override
	wasImplemented := r.IsImplemented
	r.Override = override
	r.IsImplemented = r.ComputeImplemented()
	r.UpdatedAt = now
	records[id] = r

	return EditOutcome{
		Changes: []FieldChange{{ReservationID: id, Field: FieldOverride, OldValue: string(old), NewValue: string(override)}},
		Friends: []string{r.FriendID},
		Reindex: wasImplemented != r.IsImplemented,
	}, nil
}

// ApplyUpdateCancelReason sets the free-form cancellation reason.
func ApplyUpdateCancelReason(records map[string]ReservationRecord, id, reason string, now time.Time) (EditOutcome, error) {
	r, ok := records[id]
	if !ok {
		return EditOutcome{}, &NotFoundError{ReservationID: id}
	}
	if r.CancelReason == reason {
		return EditOutcome{}, nil
	}

	old := r.CancelReason
	r.CancelReason = reason
	r.UpdatedAt = now
	records[id] = r

	return EditOutcome{
		Changes: []FieldChange{{ReservationID: id, Field: FieldCancelReason, OldValue: old, NewValue: reason}},
	}, nil
}

// ApplyUpdateCancelHandlingStatus sets the cancellation handling status.
func ApplyUpdateCancelHandlingStatus(records map[string]ReservationRecord, id, status string, now time.Time) (EditOutcome, error) {
	r, ok := records[id]
	if !ok {
		return EditOutcome{}, &NotFoundError{ReservationID: id}
	}
	if r.CancelHandlingStatus == status {
		return EditOutcome{}, nil
	}

	old := r.CancelHandlingStatus
	r.CancelHandlingStatus = status
	r.UpdatedAt = now
	records[id] = r

	return EditOutcome{
		Changes: []FieldChange{{ReservationID: id, Field: FieldCancelHandlingStatus, OldValue: old, NewValue: status}},
	}, nil
}

// ApplySetExcluded sets the exclusion flag independently of any merge group.
func ApplySetExcluded(records map[string]ReservationRecord, id string, excluded bool, now time.Time) (EditOutcome, error) {
	r, ok := records[id]
	if !ok {
		return EditOutcome{}, &NotFoundError{ReservationID: id}
	}
	if r.IsExcluded == excluded {
		return EditOutcome{}, nil
	}

	old := r.IsExcluded
	r.IsExcluded = excluded
	r.UpdatedAt = now
	records[id] = r

	return EditOutcome{
		Changes: []FieldChange{{ReservationID: id, Field: FieldExcluded, OldValue: boolString(old), NewValue: boolString(excluded)}},
		Friends: []string{r.FriendID},
		Reindex: true,
	}, nil
}

// ApplyToggleExcluded flips the exclusion flag.
func ApplyToggleExcluded(records map[string]ReservationRecord, id string, now time.Time) (EditOutcome, error) {
	r, ok := records[id]
	if !ok {
		return EditOutcome{}, &NotFoundError{ReservationID: id}
	}
	return ApplySetExcluded(records, id, !r.IsExcluded, now)
}

// =============================================================================
// SAME-DAY MERGE GROUPS
// =============================================================================

// ApplyMergeReservations links same-day duplicates under groupID, keeping
// primaryID countable and excluding the rest. Preconditions: at least two
// distinct ids, primary among them, all sharing one friend and one calendar
// session date. A member already grouped elsewhere has its old group
// dissolved in the same transition - a group is only ever ≥2 records with
// exactly one countable member, never a dangling excluded remainder.
// Validation runs before any write - a failed merge touches nothing.
func ApplyMergeReservations(records map[string]ReservationRecord, ids []string, primaryID, groupID string, now time.Time) (EditOutcome, error) {
	merging := make(map[string]bool, len(ids))
	distinct := make([]string, 0, len(ids))
	for _, id := range ids {
		if merging[id] {
			continue
		}
		merging[id] = true
		distinct = append(distinct, id)
	}
	if len(distinct) < 2 {
		return EditOutcome{}, &MergeGroupError{Reason: "need at least two distinct reservations", IDs: ids}
	}

	primaryFound := false
	var friendID string
	var day Day
	members := make([]ReservationRecord, 0, len(distinct))
	for i, id := range distinct {
		r, ok := records[id]
		if !ok {
			return EditOutcome{}, &NotFoundError{ReservationID: id}
		}
		if id == primaryID {
			primaryFound = true
		}
		if i == 0 {
			friendID = r.FriendID
			day = r.SessionDate
		} else {
			if r.FriendID != friendID {
				return EditOutcome{}, &MergeGroupError{Reason: "reservations belong to different friends", IDs: ids}
			}
			if !r.SessionDate.Equal(day) {
				return EditOutcome{}, &MergeGroupError{Reason: "reservations fall on different days", IDs: ids}
			}
		}
		members = append(members, r)
	}
	if !primaryFound {
		return EditOutcome{}, &MergeGroupError{Reason: fmt.Sprintf("primary %q not among reservations", primaryID), IDs: ids}
	}

	// Members leaving an existing group orphan its remaining records: clear
	// their link and exclusion so no one-member group survives.
	leaving := make(map[string]bool)
	for _, r := range members {
		if r.GroupID != "" && r.GroupID != groupID {
			leaving[r.GroupID] = true
		}
	}
	var orphans []string
	if len(leaving) > 0 {
		for id, r := range records {
			if leaving[r.GroupID] && !merging[id] {
				orphans = append(orphans, id)
			}
		}
		sort.Strings(orphans)
	}

	friends := map[string]bool{friendID: true}
	outcome := EditOutcome{Reindex: true}
	for _, id := range orphans {
		r := records[id]
		old := r.GroupID
		r.GroupID = ""
		r.IsExcluded = false
		r.UpdatedAt = now
		records[id] = r
		friends[r.FriendID] = true

		outcome.Changes = append(outcome.Changes, FieldChange{
			ReservationID: id,
			Field:         FieldGroupID,
			OldValue:      old,
			NewValue:      "",
		})
	}
	for _, r := range members {
		old := r.GroupID
		r.GroupID = groupID
		r.IsExcluded = r.ReservationID != primaryID
		r.UpdatedAt = now
		records[r.ReservationID] = r

		outcome.Changes = append(outcome.Changes, FieldChange{
			ReservationID: r.ReservationID,
			Field:         FieldGroupID,
			OldValue:      old,
			NewValue:      groupID,
		})
	}

	outcome.Friends = make([]string, 0, len(friends))
	for f := range friends {
		outcome.Friends = append(outcome.Friends, f)
	}
	sort.Strings(outcome.Friends)
	return outcome, nil
}

// ApplyUnmergeReservation dissolves the merge group containing id: every
// member gets its group link and exclusion cleared.
func ApplyUnmergeReservation(records map[string]ReservationRecord, id string, now time.Time) (EditOutcome, error) {
	r, ok := records[id]
	if !ok {
		return EditOutcome{}, &NotFoundError{ReservationID: id}
	}
	if r.GroupID == "" {
		return EditOutcome{}, ErrNotGrouped
	}

	groupID := r.GroupID
	outcome := EditOutcome{Friends: []string{r.FriendID}, Reindex: true}
	for _, member := range records {
		if member.GroupID != groupID {
			continue
		}
		member.GroupID = ""
		member.IsExcluded = false
		member.UpdatedAt = now
		records[member.ReservationID] = member

		outcome.Changes = append(outcome.Changes, FieldChange{
			ReservationID: member.ReservationID,
			Field:         FieldGroupID,
			OldValue:      groupID,
			NewValue:      "",
		})
	}
	return outcome, nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
