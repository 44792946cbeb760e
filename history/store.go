/*
store.go - Persistence interface for the reservation history

PURPOSE:
  Defines the contract between the engine and the durable store. The store
  holds one logical table per entity kind (history, visit counts, audit log,
  staff, campaigns, snapshots, folders) and exposes load-all reads plus one
  atomic batched write.

ATOMIC BATCHES:
  Apply() is the ONLY write operation. A ChangeSet spans every table, and
  either all of it lands or none of it does. This is what lets a record
  update and its audit entry travel as one logical unit: a reader can never
  observe one without the other. Partial-batch failure is total failure.

AUDIT CONTRACT:
  Audit entries are append-only. ChangeSet carries inserts; no interface
  exists to update or delete an entry. ClearAll is the single bulk removal
  path for history data.

READ-AFTER-WRITE:
  Within the issuing process, a Load* after a successful Apply reflects the
  batch. Cross-process visibility is last-writer-wins; sessions resynchronize
  by reloading after a broadcast notice.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite (one SQL transaction per Apply)
  - history/store/memory.go: In-memory for testing and ephemeral runs

SEE ALSO:
  - service.go: Builds ChangeSets and sequences persist-then-swap
*/
package history

import "context"

// =============================================================================
// CHANGE SET - One atomic batch across all logical tables
// =============================================================================

// ChangeSet is a batched write. Slices are upserts (audit entries are
// inserts); Remove* lists are deletions by key. ReplaceHistory swaps the
// history and count tables wholesale, which is how a backup restore lands.
type ChangeSet struct {
	Records []ReservationRecord
	Counts  []VisitCount
	Audits  []AuditEntry

	// RemoveCounts deletes visit-count rows by friend id, used by the
	// maintenance recompute to prune counts for friends with no records.
	RemoveCounts []string

	Staff       []StaffMember
	RemoveStaff []string

	Campaigns       []Campaign
	RemoveCampaigns []string

	Snapshots []StateSnapshot
	Folders   []Folder

	// ReplaceHistory clears the history and count tables before writing
	// Records and Counts.
	ReplaceHistory bool
}

// IsEmpty reports whether applying this set would write nothing.
func (c ChangeSet) IsEmpty() bool {
	return len(c.Records) == 0 && len(c.Counts) == 0 && len(c.Audits) == 0 &&
		len(c.RemoveCounts) == 0 &&
		len(c.Staff) == 0 && len(c.RemoveStaff) == 0 &&
		len(c.Campaigns) == 0 && len(c.RemoveCampaigns) == 0 &&
		len(c.Snapshots) == 0 && len(c.Folders) == 0 &&
		!c.ReplaceHistory
}

// =============================================================================
// STORE
// =============================================================================

// Store is the durable key-value store contract. Apply is atomic per call.
type Store interface {
	// LoadHistory returns the full history table keyed by reservation id.
	LoadHistory(ctx context.Context) (map[string]ReservationRecord, error)

	// LoadCounts returns the full visit-count table keyed by friend id.
	LoadCounts(ctx context.Context) (map[string]VisitCount, error)

	// AuditFor returns all entries for one reservation, newest first.
	AuditFor(ctx context.Context, reservationID string) ([]AuditEntry, error)

	// RecentAudit returns entries across all reservations, newest first.
	// limit <= 0 means no limit.
	RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error)

	// LoadStaff returns the staff roster.
	LoadStaff(ctx context.Context) ([]StaffMember, error)

	// LoadCampaigns returns all campaigns.
	LoadCampaigns(ctx context.Context) ([]Campaign, error)

	// LoadSnapshots returns all state snapshots, payloads included.
	LoadSnapshots(ctx context.Context) ([]StateSnapshot, error)

	// GetSnapshot returns one snapshot by id, or ErrSnapshotNotFound.
	GetSnapshot(ctx context.Context, id string) (*StateSnapshot, error)

	// LoadFolders returns all snapshot folders.
	LoadFolders(ctx context.Context) ([]Folder, error)

	// Apply writes a ChangeSet atomically. Either every part lands or none.
	Apply(ctx context.Context, set ChangeSet) error

	// ClearAll wipes the history, visit-count, and audit tables. This is the
	// only bulk removal path; snapshots, folders, staff, and campaigns
	// survive a clear.
	ClearAll(ctx context.Context) error
}
