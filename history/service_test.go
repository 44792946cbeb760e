package history_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/reservation-history/broadcast"
	"github.com/warp/reservation-history/history"
	"github.com/warp/reservation-history/history/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var svcNow = time.Date(2026, time.February, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, opts ...history.Option) (*history.Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	opts = append([]history.Option{history.WithClock(func() time.Time { return svcNow })}, opts...)
	svc := history.NewService(mem, opts...)
	require.NoError(t, svc.Load(context.Background()))
	return svc, mem
}

func importBatch(t *testing.T, svc *history.Service, rows ...history.InputRow) {
	t.Helper()
	_, err := svc.ImportRows(context.Background(), rows)
	require.NoError(t, err)
}

// notifierSpy records published broadcast messages.
type notifierSpy struct {
	types    []broadcast.Type
	payloads []map[string]any
}

func (n *notifierSpy) Publish(t broadcast.Type, payload map[string]any) {
	n.types = append(n.types, t)
	n.payloads = append(n.payloads, payload)
}

// failingStore wraps the memory store and fails every Apply, to exercise the
// persist-then-swap rollback path.
type failingStore struct {
	*store.Memory
}

var errDiskFull = errors.New("disk full")

func (f *failingStore) Apply(ctx context.Context, set history.ChangeSet) error {
	return errDiskFull
}

// =============================================================================
// IMPORT & PERSISTENCE
// =============================================================================

func TestService_ImportRows_PersistsAndCounts(t *testing.T) {
	// GIVEN: A fresh service over an empty store
	// WHEN: Importing two implemented sessions for one friend
	// THEN: Records and counts land in both the snapshot and the store

	svc, mem := newTestService(t)
	importBatch(t, svc,
		visitedRow("r-1", "f-1", history.NewDay(2025, time.December, 1)),
		visitedRow("r-2", "f-1", history.NewDay(2025, time.December, 10)),
	)

	records := svc.History()
	require.Len(t, records, 2)
	assert.Equal(t, 1, records[0].VisitIndex)
	assert.Equal(t, 2, records[1].VisitIndex)

	count, ok := svc.CountFor("f-1")
	require.True(t, ok)
	assert.Equal(t, 2, count.ImplementationCount)

	stored, err := mem.LoadHistory(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestService_ImportRows_NoOpBatch_NotPersistedNotBroadcast(t *testing.T) {
	// GIVEN: A service that already holds a batch
	// WHEN: Importing the identical batch again
	// THEN: Zero created/updated and no broadcast is published

	spy := &notifierSpy{}
	svc, _ := newTestService(t, history.WithNotifier(spy))
	row := visitedRow("r-1", "f-1", history.NewDay(2025, time.December, 1))
	importBatch(t, svc, row)
	published := len(spy.types)

	summary, err := svc.ImportRows(context.Background(), []history.InputRow{row})
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Created)
	assert.Equal(t, 0, summary.Updated)
	assert.Len(t, spy.types, published, "no-op import must not broadcast")
}

func TestService_ImportRows_BroadcastsDataChanged(t *testing.T) {
	spy := &notifierSpy{}
	svc, _ := newTestService(t, history.WithNotifier(spy))

	importBatch(t, svc, visitedRow("r-1", "f-1", history.NewDay(2025, time.December, 1)))

	require.Len(t, spy.types, 1)
	assert.Equal(t, broadcast.DataChanged, spy.types[0])
	assert.Equal(t, 1, spy.payloads[0]["created"])
}

// =============================================================================
// EDITS THROUGH THE SERVICE
// =============================================================================

func TestService_AssignStaff_PersistsAuditAndCount(t *testing.T) {
	// GIVEN: One implemented session
	// WHEN: Assigning staff
	// THEN: Record, audit entry, and refreshed count land atomically

	svc, mem := newTestService(t)
	importBatch(t, svc, visitedRow("r-1", "f-1", history.NewDay(2025, time.December, 1)))

	require.NoError(t, svc.AssignStaff(context.Background(), "r-1", "tanaka", "admin"))

	r, ok := svc.Record("r-1")
	require.True(t, ok)
	assert.Equal(t, "tanaka", r.Staff)

	count, _ := svc.CountFor("f-1")
	assert.Equal(t, "tanaka", count.LastStaff)

	entries, err := mem.AuditFor(context.Background(), "r-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, history.FieldStaff, entries[0].Field)
	assert.Equal(t, "admin", entries[0].ChangedBy)
	assert.Equal(t, svcNow, entries[0].ChangedAt)
}

func TestService_ToggleImplementation_ReindexesFriend(t *testing.T) {
	// GIVEN: Two implemented sessions, indices 1 and 2
	// WHEN: Toggling the first one off
	// THEN: The remaining session becomes index 1 and the count drops

	svc, _ := newTestService(t)
	importBatch(t, svc,
		visitedRow("r-1", "f-1", history.NewDay(2025, time.December, 1)),
		visitedRow("r-2", "f-1", history.NewDay(2025, time.December, 10)),
	)

	require.NoError(t, svc.ToggleImplementation(context.Background(), "r-1", "admin"))

	r1, _ := svc.Record("r-1")
	r2, _ := svc.Record("r-2")
	assert.False(t, r1.IsImplemented)
	assert.Equal(t, 0, r1.VisitIndex)
	assert.Equal(t, 1, r2.VisitIndex)

	count, _ := svc.CountFor("f-1")
	assert.Equal(t, 1, count.ImplementationCount)
}

func TestService_MergeAndUnmerge_RoundTrip(t *testing.T) {
	// GIVEN: Two same-day duplicates
	// WHEN: Merging them, then unmerging
	// THEN: The count goes 1 while merged and back to 2 after

	svc, _ := newTestService(t)
	day := history.NewDay(2025, time.December, 5)
	importBatch(t, svc, visitedRow("r-1", "f-1", day), visitedRow("r-2", "f-1", day))

	require.NoError(t, svc.MergeReservations(context.Background(), []string{"r-1", "r-2"}, "r-1", "admin"))
	count, _ := svc.CountFor("f-1")
	assert.Equal(t, 1, count.ImplementationCount)

	r2, _ := svc.Record("r-2")
	assert.True(t, r2.IsExcluded)
	assert.NotEmpty(t, r2.GroupID)

	require.NoError(t, svc.UnmergeReservation(context.Background(), "r-2", "admin"))
	count, _ = svc.CountFor("f-1")
	assert.Equal(t, 2, count.ImplementationCount)
}

func TestService_Edit_MissingRecord(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.AssignStaff(context.Background(), "nope", "tanaka", "admin")

	assert.ErrorIs(t, err, history.ErrReservationNotFound)
}

func TestService_NoOpEdit_LeavesNoAudit(t *testing.T) {
	// GIVEN: A session already assigned to tanaka
	// WHEN: Assigning tanaka again
	// THEN: No audit entry appears

	svc, mem := newTestService(t)
	importBatch(t, svc, visitedRow("r-1", "f-1", history.NewDay(2025, time.December, 1)))
	require.NoError(t, svc.AssignStaff(context.Background(), "r-1", "tanaka", "admin"))

	require.NoError(t, svc.AssignStaff(context.Background(), "r-1", "tanaka", "admin"))

	entries, err := mem.AuditFor(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// =============================================================================
// ROLLBACK ON STORE FAILURE
// =============================================================================

func TestService_StoreFailure_SnapshotUnchanged(t *testing.T) {
	// GIVEN: A service whose store accepts the initial import, then fails
	// WHEN: An edit's persist fails
	// THEN: The error wraps ErrStoreFailed and the snapshot still shows the
	//       pre-edit state, so the call can simply be retried

	mem := store.NewMemory()
	svc := history.NewService(mem, history.WithClock(func() time.Time { return svcNow }))
	require.NoError(t, svc.Load(context.Background()))
	importBatch(t, svc, visitedRow("r-1", "f-1", history.NewDay(2025, time.December, 1)))

	// Swap in a store that rejects every write.
	broken := history.NewService(&failingStore{Memory: mem}, history.WithClock(func() time.Time { return svcNow }))
	require.NoError(t, broken.Load(context.Background()))

	err := broken.AssignStaff(context.Background(), "r-1", "tanaka", "admin")

	require.Error(t, err)
	assert.ErrorIs(t, err, history.ErrStoreFailed)
	assert.ErrorIs(t, err, errDiskFull, "the store's own error must stay matchable")

	r, ok := broken.Record("r-1")
	require.True(t, ok)
	assert.Empty(t, r.Staff, "failed persist must not leak into the snapshot")

	entries, auditErr := mem.AuditFor(context.Background(), "r-1")
	require.NoError(t, auditErr)
	assert.Empty(t, entries, "failed persist must not leave audit rows")
}

func TestService_ImportFailure_SnapshotUnchanged(t *testing.T) {
	mem := store.NewMemory()
	broken := history.NewService(&failingStore{Memory: mem}, history.WithClock(func() time.Time { return svcNow }))
	require.NoError(t, broken.Load(context.Background()))

	_, err := broken.ImportRows(context.Background(), []history.InputRow{
		visitedRow("r-1", "f-1", history.NewDay(2025, time.December, 1)),
	})

	assert.ErrorIs(t, err, history.ErrStoreFailed)
	assert.ErrorIs(t, err, errDiskFull)
	assert.Empty(t, broken.History())
}

// =============================================================================
// CLEAR & RECOMPUTE
// =============================================================================

func TestService_ClearAll_WipesHistoryKeepsRoster(t *testing.T) {
	// GIVEN: A service with history, counts, audit, and a staff roster
	// WHEN: Clearing all
	// THEN: History, counts, and audit are gone; the roster survives

	spy := &notifierSpy{}
	svc, mem := newTestService(t, history.WithNotifier(spy))
	importBatch(t, svc, visitedRow("r-1", "f-1", history.NewDay(2025, time.December, 1)))
	require.NoError(t, svc.AssignStaff(context.Background(), "r-1", "tanaka", "admin"))
	require.NoError(t, svc.AddStaff(context.Background(), "tanaka"))

	require.NoError(t, svc.ClearAll(context.Background()))

	assert.Empty(t, svc.History())
	assert.Empty(t, svc.Counts())
	entries, err := mem.RecentAudit(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Len(t, svc.Staff(), 1, "roster survives a clear")
	assert.Equal(t, broadcast.DataCleared, spy.types[len(spy.types)-1])
}

func TestService_RecomputeAll_RepairsStaleState(t *testing.T) {
	// GIVEN: A store holding a record with a wrong index and no count row
	// WHEN: Loading and recomputing
	// THEN: Index and count are rebuilt and persisted

	mem := store.NewMemory()
	r := implementedRecord("r-1", "f-1", history.NewDay(2025, time.December, 1))
	r.VisitIndex = 9
	require.NoError(t, mem.Apply(context.Background(), history.ChangeSet{
		Records: []history.ReservationRecord{r},
	}))

	svc := history.NewService(mem, history.WithClock(func() time.Time { return svcNow }))
	require.NoError(t, svc.Load(context.Background()))

	require.NoError(t, svc.RecomputeAll(context.Background()))

	got, _ := svc.Record("r-1")
	assert.Equal(t, 1, got.VisitIndex)
	count, ok := svc.CountFor("f-1")
	require.True(t, ok)
	assert.Equal(t, 1, count.ImplementationCount)
}

func TestService_RecomputeAll_PrunesOrphanedCounts(t *testing.T) {
	// GIVEN: A store holding a count row for a friend with no records left
	// WHEN: Loading and recomputing
	// THEN: The stale row is pruned from the snapshot and the store

	mem := store.NewMemory()
	require.NoError(t, mem.Apply(context.Background(), history.ChangeSet{
		Records: []history.ReservationRecord{implementedRecord("r-1", "f-1", history.NewDay(2025, time.December, 1))},
		Counts: []history.VisitCount{
			{FriendID: "f-1", ImplementationCount: 1},
			{FriendID: "f-ghost", ImplementationCount: 4},
		},
	}))

	svc := history.NewService(mem, history.WithClock(func() time.Time { return svcNow }))
	require.NoError(t, svc.Load(context.Background()))

	require.NoError(t, svc.RecomputeAll(context.Background()))

	_, ok := svc.CountFor("f-ghost")
	assert.False(t, ok, "a friend without records keeps no count row")
	counts, err := mem.LoadCounts(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, counts, "f-ghost")
	assert.Contains(t, counts, "f-1")
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

func TestService_Snapshot_RoundTrip(t *testing.T) {
	// GIVEN: A history with two sessions, snapshotted, then cleared
	// WHEN: Restoring the snapshot
	// THEN: Records and counts come back exactly

	svc, _ := newTestService(t)
	importBatch(t, svc,
		visitedRow("r-1", "f-1", history.NewDay(2025, time.December, 1)),
		visitedRow("r-2", "f-1", history.NewDay(2025, time.December, 10)),
	)

	snap, err := svc.CreateSnapshot(context.Background(), "before-cleanup", "")
	require.NoError(t, err)
	assert.Equal(t, "before-cleanup", snap.Name)
	assert.Len(t, snap.Records, 2)

	require.NoError(t, svc.ClearAll(context.Background()))
	require.Empty(t, svc.History())

	require.NoError(t, svc.RestoreSnapshot(context.Background(), snap.ID))

	records := svc.History()
	require.Len(t, records, 2)
	assert.Equal(t, 1, records[0].VisitIndex)
	count, ok := svc.CountFor("f-1")
	require.True(t, ok)
	assert.Equal(t, 2, count.ImplementationCount)
}

func TestService_RestoreSnapshot_Missing(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.RestoreSnapshot(context.Background(), "nope")

	assert.ErrorIs(t, err, history.ErrSnapshotNotFound)
}

func TestService_CreateSnapshot_DefaultName(t *testing.T) {
	svc, _ := newTestService(t)

	snap, err := svc.CreateSnapshot(context.Background(), "", "")
	require.NoError(t, err)

	assert.Equal(t, "snapshot-20260201-120000", snap.Name)
}

// =============================================================================
// ROSTER & CAMPAIGNS
// =============================================================================

func TestService_Staff_AddRemove(t *testing.T) {
	svc, _ := newTestService(t)

	require.NoError(t, svc.AddStaff(context.Background(), "tanaka"))
	require.NoError(t, svc.AddStaff(context.Background(), "suzuki"))
	require.NoError(t, svc.AddStaff(context.Background(), "tanaka")) // idempotent

	members := svc.Staff()
	require.Len(t, members, 2)
	assert.Equal(t, "suzuki", members[0].Name, "sorted by name")

	require.NoError(t, svc.RemoveStaff(context.Background(), "suzuki"))
	assert.Len(t, svc.Staff(), 1)
}

func TestService_Campaign_SaveAssignsID(t *testing.T) {
	svc, _ := newTestService(t)

	saved, err := svc.SaveCampaign(context.Background(), history.Campaign{
		Name:  "winter",
		Start: history.NewDay(2025, time.December, 1),
		End:   history.NewDay(2025, time.December, 31),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)

	saved.Name = "winter-renamed"
	updated, err := svc.SaveCampaign(context.Background(), saved)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, updated.ID)

	campaigns := svc.Campaigns()
	require.Len(t, campaigns, 1)
	assert.Equal(t, "winter-renamed", campaigns[0].Name)

	require.NoError(t, svc.DeleteCampaign(context.Background(), saved.ID))
	assert.Empty(t, svc.Campaigns())
}
