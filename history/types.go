/*
Package history provides the reservation history merge & audit engine.

PURPOSE:
  This package contains the domain types and algorithms for maintaining a
  durable, correctable per-client reservation history: the incremental
  CSV-merge algorithm, the per-client visit-index computation, audit-logged
  manual corrections, and the orchestrating service that keeps the in-memory
  snapshot, the durable store, and other sessions consistent.

KEY CONCEPTS IN THIS FILE (types.go):
  - ReservationRecord: One bookable session instance, keyed by ReservationID
  - VisitCount: Per-friend cache of implementation count and last visit
  - AuditEntry: An immutable field-change ledger row
  - InputRow: The parsed-CSV boundary contract (parsing is external)
  - Override: Explicit tri-state manual implementation override

DESIGN PRINCIPLES:
  1. Copy-on-write: mutations build new maps; readers never see partial state
  2. Derivability: VisitCount and VisitIndex are caches, always recomputable
  3. Auditability: every manual field change produces exactly one audit row
  4. Type Safety: enums for status fields instead of string/null sentinels

SEE ALSO:
  - merge.go: Folds CSV rows into the history
  - visits.go: Visit-index assignment
  - edits.go: Manual edit transitions
  - service.go: Orchestration, persistence, broadcast
*/
package history

import "time"

// =============================================================================
// ENUMS
// =============================================================================

// Status is the booking status as reported by the reservation platform.
type Status string

const (
	StatusBooked    Status = "booked"
	StatusCancelled Status = "cancelled"
)

// VisitStatus records whether the client showed up.
type VisitStatus string

const (
	VisitVisited VisitStatus = "visited"
	VisitAbsent  VisitStatus = "absent"
)

// DetailStatus refines a cancellation. Late and day-of cancellations still
// count as implemented sessions for billing purposes.
type DetailStatus string

const (
	DetailNone        DetailStatus = ""
	DetailLateCancel  DetailStatus = "lateCancel"
	DetailDayOfCancel DetailStatus = "dayOfCancel"
)

// Override is the manual implementation override. The zero value means the
// automatic rule applies. This replaces the nullable-boolean pattern with an
// explicit three-state variant.
type Override string

const (
	OverrideAuto        Override = ""
	OverrideForcedTrue  Override = "forcedTrue"
	OverrideForcedFalse Override = "forcedFalse"
)

// =============================================================================
// RESERVATION RECORD
// =============================================================================

// ReservationRecord is one bookable session instance. Records are created and
// updated only by the merge engine (from CSV imports) or by manual edit
// operations; they are never deleted individually. The only removal path is
// the bulk clear-all.
type ReservationRecord struct {
	ReservationID string
	FriendID      string
	Name          string

	SessionDate     Day
	ApplicationDate time.Time

	Status       Status
	VisitStatus  VisitStatus
	Staff        string // empty = unassigned
	DetailStatus DetailStatus
	WasOmakase   bool

	// IsImplemented caches the derived rule, recomputed on every touch.
	IsImplemented bool

	// Override forces IsImplemented regardless of the automatic rule.
	Override Override

	// VisitIndex is the 1-based ordinal among this friend's implemented,
	// non-excluded records. 0 = not implemented or excluded.
	VisitIndex int

	// GroupID links same-day duplicates; empty = ungrouped. When set, it is
	// shared by >=2 records with identical FriendID and SessionDate, and
	// exactly one member of the group has IsExcluded = false.
	GroupID    string
	IsExcluded bool

	CancelReason         string
	CancelHandlingStatus string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ComputeImplemented evaluates the implementation rule:
// the override if forced, otherwise (booked AND visited) OR
// (cancelled AND late/day-of cancel).
func (r ReservationRecord) ComputeImplemented() bool {
	switch r.Override {
	case OverrideForcedTrue:
		return true
	case OverrideForcedFalse:
		return false
	}
	if r.Status == StatusBooked && r.VisitStatus == VisitVisited {
		return true
	}
	if r.Status == StatusCancelled &&
		(r.DetailStatus == DetailLateCancel || r.DetailStatus == DetailDayOfCancel) {
		return true
	}
	return false
}

// Counts reports whether this record participates in visit counting:
// implemented and not excluded (same-day merge groups count once).
func (r ReservationRecord) Counts() bool {
	return r.IsImplemented && !r.IsExcluded
}

// =============================================================================
// VISIT COUNT - Per-friend cache, always re-derivable
// =============================================================================

// VisitCount summarizes a friend's implemented history. It is a cache: the
// merge engine and edit operations recompute it from the record set whenever
// a friend's records are touched.
type VisitCount struct {
	FriendID            string
	ImplementationCount int
	LastVisitDate       Day
	LastStaff           string
	UpdatedAt           time.Time
}

// =============================================================================
// AUDIT ENTRY - Append-only field-change ledger
// =============================================================================

// AuditEntry records one manual field change. Entries are append-only: no
// update or delete exists, corrections are made by writing a compensating
// entry.
type AuditEntry struct {
	ID            string
	ReservationID string
	Field         string
	OldValue      string
	NewValue      string
	ChangedAt     time.Time
	ChangedBy     string
}

// Audited field names. These are the wire-stable identifiers written into
// audit rows.
const (
	FieldStaff                = "staff"
	FieldStatus               = "status"
	FieldVisitStatus          = "visitStatus"
	FieldDetailStatus         = "detailStatus"
	FieldImplemented          = "isImplemented"
	FieldOverride             = "isImplementedManual"
	FieldGroupID              = "groupId"
	FieldExcluded             = "isExcluded"
	FieldCancelReason         = "cancelReason"
	FieldCancelHandlingStatus = "cancelHandlingStatus"
)

// =============================================================================
// INPUT ROW - Parsed-CSV boundary contract
// =============================================================================

// InputRow is one parsed reservation row from an exported CSV. The CSV
// adapter is an external collaborator: it guarantees non-empty ReservationID
// and FriendID and valid dates, and this package trusts that shape.
type InputRow struct {
	FriendID        string
	ReservationID   string
	Name            string
	SessionDate     Day
	ApplicationDate time.Time
	Status          Status
	VisitStatus     VisitStatus
	Staff           string
	DetailStatus    DetailStatus
	WasOmakase      bool
}

// =============================================================================
// ROSTER / CAMPAIGNS / SNAPSHOTS - Supporting tables
// =============================================================================

// StaffMember is one name on the staff roster backing staff assignment.
type StaffMember struct {
	Name      string
	CreatedAt time.Time
}

// Campaign is a named date range used to slice statistics.
type Campaign struct {
	ID        string
	Name      string
	Start     Day
	End       Day
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Folder organizes state snapshots.
type Folder struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// StateSnapshot is a full backup of the history and count tables, restorable
// as a unit.
type StateSnapshot struct {
	ID       string
	Name     string
	FolderID string // empty = unfiled
	TakenAt  time.Time
	Records  []ReservationRecord
	Counts   []VisitCount
}
