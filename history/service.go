/*
service.go - History service orchestrator

PURPOSE:
  Holds the authoritative in-memory snapshot and sequences every operation:
  merge -> recompute -> persist -> swap -> broadcast. The UI layer (and the
  HTTP surface) talks only to this type.

COPY-ON-WRITE DISCIPLINE:
  Mutations build fresh maps, persist them as one atomic ChangeSet, and only
  then swap the snapshot. A store failure leaves the last-known-good snapshot
  in place, so the whole operation can simply be retried - there is no
  half-advanced state to roll back.

RECOMPUTE TIMING:
  Visit-index and count recomputation triggered by an edit is performed and
  persisted synchronously, inside the same ChangeSet, before the edit call
  returns. Nothing is deferred to a background task.

BROADCAST:
  After any successful mutation the service publishes a change notice so
  other sessions reload from the durable store. Publishing is fire-and-forget.

SEE ALSO:
  - merge.go, visits.go, edits.go, audit.go: The pure pieces composed here
  - broadcast/: The change-notice protocol
*/
package history

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/reservation-history/broadcast"
)

// Notifier publishes change notices to other sessions. broadcast.Session
// satisfies it; nil disables broadcasting.
type Notifier interface {
	Publish(t broadcast.Type, payload map[string]any)
}

// =============================================================================
// SERVICE
// =============================================================================

// Service is the history store orchestrator.
type Service struct {
	store    Store
	recorder Recorder
	notifier Notifier
	clock    func() time.Time

	mu        sync.RWMutex
	records   map[string]ReservationRecord
	counts    map[string]VisitCount
	staff     map[string]StaffMember
	campaigns map[string]Campaign
	folders   map[string]Folder
}

type Option func(*Service)

// WithNotifier wires a broadcast session (or any Notifier).
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithClock overrides time.Now, for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		clock:     time.Now,
		records:   make(map[string]ReservationRecord),
		counts:    make(map[string]VisitCount),
		staff:     make(map[string]StaffMember),
		campaigns: make(map[string]Campaign),
		folders:   make(map[string]Folder),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads the full state from the durable store into the snapshot.
func (s *Service) Load(ctx context.Context) error {
	return s.Reload(ctx)
}

// Reload re-reads everything from the durable store, replacing the snapshot
// wholesale. This is the standard reaction to any broadcast notice: no
// incremental patching.
func (s *Service) Reload(ctx context.Context) error {
	records, err := s.store.LoadHistory(ctx)
	if err != nil {
		return storeFailure("load history", err)
	}
	counts, err := s.store.LoadCounts(ctx)
	if err != nil {
		return storeFailure("load visit counts", err)
	}
	staff, err := s.store.LoadStaff(ctx)
	if err != nil {
		return storeFailure("load staff", err)
	}
	campaigns, err := s.store.LoadCampaigns(ctx)
	if err != nil {
		return storeFailure("load campaigns", err)
	}
	folders, err := s.store.LoadFolders(ctx)
	if err != nil {
		return storeFailure("load folders", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
	s.counts = counts
	s.staff = make(map[string]StaffMember, len(staff))
	for _, m := range staff {
		s.staff[m.Name] = m
	}
	s.campaigns = make(map[string]Campaign, len(campaigns))
	for _, c := range campaigns {
		s.campaigns[c.ID] = c
	}
	s.folders = make(map[string]Folder, len(folders))
	for _, f := range folders {
		s.folders[f.ID] = f
	}
	return nil
}

// =============================================================================
// IMPORT (MERGE)
// =============================================================================

// MergeSummary reports what an import did.
type MergeSummary struct {
	Created int
	Updated int
}

// ImportRows folds a parsed CSV batch into the history. Re-importing an
// unchanged batch is a no-op: nothing persisted, nothing broadcast.
func (s *Service) ImportRows(ctx context.Context, rows []InputRow) (MergeSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := MergeRows(s.records, s.counts, rows, s.clock())
	summary := MergeSummary{Created: result.Created, Updated: result.Updated}
	if !result.Changed() {
		return summary, nil
	}

	var set ChangeSet
	for _, id := range result.ChangedRecords {
		set.Records = append(set.Records, result.History[id])
	}
	for _, friendID := range result.ChangedCounts {
		set.Counts = append(set.Counts, result.Counts[friendID])
	}
	if err := s.store.Apply(ctx, set); err != nil {
		return MergeSummary{}, storeFailure("persist import", err)
	}

	s.records = result.History
	s.counts = result.Counts
	s.notify(broadcast.DataChanged, map[string]any{
		"created": summary.Created,
		"updated": summary.Updated,
	})
	return summary, nil
}

// =============================================================================
// MANUAL EDIT OPERATIONS
// =============================================================================

func (s *Service) AssignStaff(ctx context.Context, id, staff, actor string) error {
	return s.applyEdit(ctx, actor, func(records map[string]ReservationRecord, now time.Time) (EditOutcome, error) {
		return ApplyAssignStaff(records, id, staff, now)
	})
}

func (s *Service) UpdateDetailStatus(ctx context.Context, id string, status DetailStatus, actor string) error {
	return s.applyEdit(ctx, actor, func(records map[string]ReservationRecord, now time.Time) (EditOutcome, error) {
		return ApplyUpdateDetailStatus(records, id, status, now)
	})
}

func (s *Service) ToggleImplementation(ctx context.Context, id, actor string) error {
	return s.applyEdit(ctx, actor, func(records map[string]ReservationRecord, now time.Time) (EditOutcome, error) {
		return ApplyToggleImplementation(records, id, now)
	})
}

func (s *Service) SetOverride(ctx context.Context, id string, override Override, actor string) error {
	return s.applyEdit(ctx, actor, func(records map[string]ReservationRecord, now time.Time) (EditOutcome, error) {
		return ApplySetOverride(records, id, override, now)
	})
}

func (s *Service) UpdateCancelReason(ctx context.Context, id, reason, actor string) error {
	return s.applyEdit(ctx, actor, func(records map[string]ReservationRecord, now time.Time) (EditOutcome, error) {
		return ApplyUpdateCancelReason(records, id, reason, now)
	})
}

func (s *Service) UpdateCancelHandlingStatus(ctx context.Context, id, status, actor string) error {
	return s.applyEdit(ctx, actor, func(records map[string]ReservationRecord, now time.Time) (EditOutcome, error) {
		return ApplyUpdateCancelHandlingStatus(records, id, status, now)
	})
}

func (s *Service) SetExcluded(ctx context.Context, id string, excluded bool, actor string) error {
	return s.applyEdit(ctx, actor, func(records map[string]ReservationRecord, now time.Time) (EditOutcome, error) {
		return ApplySetExcluded(records, id, excluded, now)
	})
}

func (s *Service) ToggleExcluded(ctx context.Context, id, actor string) error {
	return s.applyEdit(ctx, actor, func(records map[string]ReservationRecord, now time.Time) (EditOutcome, error) {
		return ApplyToggleExcluded(records, id, now)
	})
}

// MergeReservations links same-day duplicates under a fresh group id,
// keeping primaryID countable. All-or-nothing.
func (s *Service) MergeReservations(ctx context.Context, ids []string, primaryID, actor string) error {
	groupID := uuid.New().String()
	return s.applyEdit(ctx, actor, func(records map[string]ReservationRecord, now time.Time) (EditOutcome, error) {
		return ApplyMergeReservations(records, ids, primaryID, groupID, now)
	})
}

// UnmergeReservation dissolves the group containing id.
func (s *Service) UnmergeReservation(ctx context.Context, id, actor string) error {
	return s.applyEdit(ctx, actor, func(records map[string]ReservationRecord, now time.Time) (EditOutcome, error) {
		return ApplyUnmergeReservation(records, id, now)
	})
}

// applyEdit runs one edit transition against a copy-on-write clone, derives
// indices and counts, persists record + audit + count changes as one atomic
// batch, and swaps the snapshot only on success.
func (s *Service) applyEdit(ctx context.Context, actor string, fn func(map[string]ReservationRecord, time.Time) (EditOutcome, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	next := cloneRecords(s.records)
	outcome, err := fn(next, now)
	if err != nil {
		return err
	}
	if outcome.IsNoOp() {
		return nil
	}

	changed := make(map[string]bool)
	for _, c := range outcome.Changes {
		changed[c.ReservationID] = true
	}
	if outcome.Reindex {
		for _, friendID := range outcome.Friends {
			for _, id := range RecomputeVisitIndexes(next, friendID) {
				changed[id] = true
			}
		}
	}

	nextCounts := cloneCounts(s.counts)
	var countChanges []VisitCount
	for _, friendID := range outcome.Friends {
		derived := CountVisits(next, friendID)
		if prev, ok := nextCounts[friendID]; ok && sameCount(prev, derived) {
			continue
		}
		derived.UpdatedAt = now
		nextCounts[friendID] = derived
		countChanges = append(countChanges, derived)
	}

	set := ChangeSet{
		Counts: countChanges,
		Audits: s.recorder.RecordAll(outcome.Changes, actor, now),
	}
	for id := range changed {
		set.Records = append(set.Records, next[id])
	}

	if err := s.store.Apply(ctx, set); err != nil {
		return storeFailure("persist edit", err)
	}

	s.records = next
	s.counts = nextCounts
	s.notify(broadcast.HistoryUpdated, nil)
	return nil
}

// =============================================================================
// MAINTENANCE
// =============================================================================

// RecomputeAll rebuilds every friend's visit indices and counts from
// scratch. Repair path after bulk corrections or a restore.
func (s *Service) RecomputeAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	next := cloneRecords(s.records)
	changedIDs := RecomputeAllVisitIndexes(next)

	friends := make(map[string]bool)
	for _, r := range next {
		friends[r.FriendID] = true
	}
	nextCounts := cloneCounts(s.counts)
	var countChanges []VisitCount
	for friendID := range friends {
		derived := CountVisits(next, friendID)
		if prev, ok := nextCounts[friendID]; ok && sameCount(prev, derived) {
			continue
		}
		derived.UpdatedAt = now
		nextCounts[friendID] = derived
		countChanges = append(countChanges, derived)
	}

	// Count rows whose friend no longer owns any record are stale; the
	// repair pass prunes them instead of leaving them zeroed forever.
	var staleCounts []string
	for friendID := range nextCounts {
		if !friends[friendID] {
			delete(nextCounts, friendID)
			staleCounts = append(staleCounts, friendID)
		}
	}
	sort.Strings(staleCounts)

	if len(changedIDs) == 0 && len(countChanges) == 0 && len(staleCounts) == 0 {
		return nil
	}

	var set ChangeSet
	for _, id := range changedIDs {
		set.Records = append(set.Records, next[id])
	}
	set.Counts = countChanges
	set.RemoveCounts = staleCounts

	if err := s.store.Apply(ctx, set); err != nil {
		return storeFailure("persist recompute", err)
	}

	s.records = next
	s.counts = nextCounts
	s.notify(broadcast.HistoryUpdated, nil)
	return nil
}

// ClearAll wipes history, counts, and audit - the only bulk removal path.
func (s *Service) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.ClearAll(ctx); err != nil {
		return storeFailure("clear all", err)
	}
	s.records = make(map[string]ReservationRecord)
	s.counts = make(map[string]VisitCount)
	s.notify(broadcast.DataCleared, nil)
	return nil
}

// =============================================================================
// STAFF ROSTER
// =============================================================================

func (s *Service) AddStaff(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.staff[name]; ok {
		return nil
	}
	member := StaffMember{Name: name, CreatedAt: s.clock()}
	if err := s.store.Apply(ctx, ChangeSet{Staff: []StaffMember{member}}); err != nil {
		return storeFailure("persist staff", err)
	}
	s.staff[name] = member
	s.notify(broadcast.StaffUpdated, nil)
	return nil
}

func (s *Service) RemoveStaff(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.staff[name]; !ok {
		return nil
	}
	if err := s.store.Apply(ctx, ChangeSet{RemoveStaff: []string{name}}); err != nil {
		return storeFailure("remove staff", err)
	}
	delete(s.staff, name)
	s.notify(broadcast.StaffUpdated, nil)
	return nil
}

func (s *Service) Staff() []StaffMember {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := make([]StaffMember, 0, len(s.staff))
	for _, m := range s.staff {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Name < members[j].Name })
	return members
}

// =============================================================================
// CAMPAIGNS
// =============================================================================

// SaveCampaign creates (empty id) or updates a campaign.
func (s *Service) SaveCampaign(ctx context.Context, c Campaign) (Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if c.ID == "" {
		c.ID = uuid.New().String()
		c.CreatedAt = now
	} else if prev, ok := s.campaigns[c.ID]; ok {
		c.CreatedAt = prev.CreatedAt
	} else {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	if err := s.store.Apply(ctx, ChangeSet{Campaigns: []Campaign{c}}); err != nil {
		return Campaign{}, storeFailure("persist campaign", err)
	}
	s.campaigns[c.ID] = c
	s.notify(broadcast.CampaignUpdated, nil)
	return c, nil
}

func (s *Service) DeleteCampaign(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.campaigns[id]; !ok {
		return nil
	}
	if err := s.store.Apply(ctx, ChangeSet{RemoveCampaigns: []string{id}}); err != nil {
		return storeFailure("remove campaign", err)
	}
	delete(s.campaigns, id)
	s.notify(broadcast.CampaignUpdated, nil)
	return nil
}

func (s *Service) Campaigns() []Campaign {
	s.mu.RLock()
	defer s.mu.RUnlock()

	campaigns := make([]Campaign, 0, len(s.campaigns))
	for _, c := range s.campaigns {
		campaigns = append(campaigns, c)
	}
	sort.Slice(campaigns, func(i, j int) bool {
		if !campaigns[i].Start.Equal(campaigns[j].Start) {
			return campaigns[i].Start.Before(campaigns[j].Start)
		}
		return campaigns[i].Name < campaigns[j].Name
	})
	return campaigns
}

// =============================================================================
// SNAPSHOTS & FOLDERS
// =============================================================================

// CreateSnapshot backs up the current history and counts as one restorable
// unit, optionally filed under a folder.
func (s *Service) CreateSnapshot(ctx context.Context, name, folderID string) (StateSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if name == "" {
		name = "snapshot-" + now.UTC().Format("20060102-150405")
	}
	snap := StateSnapshot{
		ID:       uuid.New().String(),
		Name:     name,
		FolderID: folderID,
		TakenAt:  now,
		Records:  sortedRecords(s.records),
		Counts:   sortedCounts(s.counts),
	}
	if err := s.store.Apply(ctx, ChangeSet{Snapshots: []StateSnapshot{snap}}); err != nil {
		return StateSnapshot{}, storeFailure("persist snapshot", err)
	}
	s.notify(broadcast.SnapshotCreated, map[string]any{"id": snap.ID})
	return snap, nil
}

// RestoreSnapshot replaces the history and count tables with a snapshot's
// contents, then swaps the in-memory state to match.
func (s *Service) RestoreSnapshot(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.store.GetSnapshot(ctx, id)
	if err != nil {
		return err
	}

	set := ChangeSet{
		ReplaceHistory: true,
		Records:        snap.Records,
		Counts:         snap.Counts,
	}
	if err := s.store.Apply(ctx, set); err != nil {
		return storeFailure("restore snapshot", err)
	}

	records := make(map[string]ReservationRecord, len(snap.Records))
	for _, r := range snap.Records {
		records[r.ReservationID] = r
	}
	counts := make(map[string]VisitCount, len(snap.Counts))
	for _, c := range snap.Counts {
		counts[c.FriendID] = c
	}
	s.records = records
	s.counts = counts
	s.notify(broadcast.BackupRestored, map[string]any{"id": id})
	return nil
}

func (s *Service) Snapshots(ctx context.Context) ([]StateSnapshot, error) {
	return s.store.LoadSnapshots(ctx)
}

func (s *Service) CreateFolder(ctx context.Context, name string) (Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	folder := Folder{ID: uuid.New().String(), Name: name, CreatedAt: s.clock()}
	if err := s.store.Apply(ctx, ChangeSet{Folders: []Folder{folder}}); err != nil {
		return Folder{}, storeFailure("persist folder", err)
	}
	s.folders[folder.ID] = folder
	return folder, nil
}

func (s *Service) Folders() []Folder {
	s.mu.RLock()
	defer s.mu.RUnlock()

	folders := make([]Folder, 0, len(s.folders))
	for _, f := range s.folders {
		folders = append(folders, f)
	}
	sort.Slice(folders, func(i, j int) bool { return folders[i].Name < folders[j].Name })
	return folders
}

// =============================================================================
// QUERIES
// =============================================================================

// Record returns one reservation by id.
func (s *Service) Record(id string) (ReservationRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r, ok
}

// History returns every record, session-date ascending.
func (s *Service) History() []ReservationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedRecords(s.records)
}

// HistoryForFriend returns one friend's records, session-date ascending.
func (s *Service) HistoryForFriend(friendID string) []ReservationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subset := make(map[string]ReservationRecord)
	for id, r := range s.records {
		if r.FriendID == friendID {
			subset[id] = r
		}
	}
	return sortedRecords(subset)
}

// Counts returns every visit-count row, friend id ascending.
func (s *Service) Counts() []VisitCount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedCounts(s.counts)
}

// CountFor returns one friend's visit count.
func (s *Service) CountFor(friendID string) (VisitCount, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.counts[friendID]
	return c, ok
}

// AuditFor returns the audit trail for one reservation, newest first.
func (s *Service) AuditFor(ctx context.Context, reservationID string) ([]AuditEntry, error) {
	return s.store.AuditFor(ctx, reservationID)
}

// RecentAudit returns the global audit trail, newest first. limit <= 0 means
// no limit.
func (s *Service) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	return s.store.RecentAudit(ctx, limit)
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) notify(t broadcast.Type, payload map[string]any) {
	if s.notifier != nil {
		s.notifier.Publish(t, payload)
	}
}

func cloneRecords(records map[string]ReservationRecord) map[string]ReservationRecord {
	next := make(map[string]ReservationRecord, len(records))
	for id, r := range records {
		next[id] = r
	}
	return next
}

func cloneCounts(counts map[string]VisitCount) map[string]VisitCount {
	next := make(map[string]VisitCount, len(counts))
	for id, c := range counts {
		next[id] = c
	}
	return next
}

func sortedRecords(records map[string]ReservationRecord) []ReservationRecord {
	out := make([]ReservationRecord, 0, len(records))
	for _, r := range records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SessionDate.Equal(out[j].SessionDate) {
			return out[i].SessionDate.Before(out[j].SessionDate)
		}
		return out[i].ReservationID < out[j].ReservationID
	})
	return out
}

func sortedCounts(counts map[string]VisitCount) []VisitCount {
	out := make([]VisitCount, 0, len(counts))
	for _, c := range counts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FriendID < out[j].FriendID })
	return out
}

func storeFailure(op string, err error) error {
	// Both the sentinel and the cause stay matchable with errors.Is/As.
	return fmt.Errorf("%s: %w: %w", op, ErrStoreFailed, err)
}
