// Package store provides an in-memory Store implementation.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/reservation-history/history"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements history.Store with plain maps. Apply is atomic under one
// lock; loads hand out copies so callers can never alias internal state.
type Memory struct {
	mu        sync.RWMutex
	records   map[string]history.ReservationRecord
	counts    map[string]history.VisitCount
	audits    []auditRow
	auditSeq  int
	staff     map[string]history.StaffMember
	campaigns map[string]history.Campaign
	snapshots map[string]history.StateSnapshot
	folders   map[string]history.Folder
}

type auditRow struct {
	seq   int
	entry history.AuditEntry
}

func NewMemory() *Memory {
	return &Memory{
		records:   make(map[string]history.ReservationRecord),
		counts:    make(map[string]history.VisitCount),
		staff:     make(map[string]history.StaffMember),
		campaigns: make(map[string]history.Campaign),
		snapshots: make(map[string]history.StateSnapshot),
		folders:   make(map[string]history.Folder),
	}
}

func (m *Memory) LoadHistory(_ context.Context) (map[string]history.ReservationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]history.ReservationRecord, len(m.records))
	for id, r := range m.records {
		out[id] = r
	}
	return out, nil
}

func (m *Memory) LoadCounts(_ context.Context) (map[string]history.VisitCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]history.VisitCount, len(m.counts))
	for id, c := range m.counts {
		out[id] = c
	}
	return out, nil
}

func (m *Memory) AuditFor(_ context.Context, reservationID string) ([]history.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var rows []auditRow
	for _, row := range m.audits {
		if row.entry.ReservationID == reservationID {
			rows = append(rows, row)
		}
	}
	return newestFirst(rows, 0), nil
}

func (m *Memory) RecentAudit(_ context.Context, limit int) ([]history.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newestFirst(append([]auditRow(nil), m.audits...), limit), nil
}

func (m *Memory) LoadStaff(_ context.Context) ([]history.StaffMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]history.StaffMember, 0, len(m.staff))
	for _, member := range m.staff {
		out = append(out, member)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) LoadCampaigns(_ context.Context) ([]history.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]history.Campaign, 0, len(m.campaigns))
	for _, c := range m.campaigns {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) LoadSnapshots(_ context.Context) ([]history.StateSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]history.StateSnapshot, 0, len(m.snapshots))
	for _, s := range m.snapshots {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TakenAt.Before(out[j].TakenAt) })
	return out, nil
}

func (m *Memory) GetSnapshot(_ context.Context, id string) (*history.StateSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.snapshots[id]
	if !ok {
		return nil, history.ErrSnapshotNotFound
	}
	return &s, nil
}

func (m *Memory) LoadFolders(_ context.Context) ([]history.Folder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]history.Folder, 0, len(m.folders))
	for _, f := range m.folders {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Apply writes the whole set under one lock. Map writes cannot fail halfway,
// so atomicity is structural here; the SQLite store uses a real transaction.
func (m *Memory) Apply(_ context.Context, set history.ChangeSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if set.ReplaceHistory {
		m.records = make(map[string]history.ReservationRecord)
		m.counts = make(map[string]history.VisitCount)
	}
	for _, r := range set.Records {
		m.records[r.ReservationID] = r
	}
	for _, c := range set.Counts {
		m.counts[c.FriendID] = c
	}
	for _, friendID := range set.RemoveCounts {
		delete(m.counts, friendID)
	}
	for _, e := range set.Audits {
		m.auditSeq++
		m.audits = append(m.audits, auditRow{seq: m.auditSeq, entry: e})
	}
	for _, member := range set.Staff {
		m.staff[member.Name] = member
	}
	for _, name := range set.RemoveStaff {
		delete(m.staff, name)
	}
	for _, c := range set.Campaigns {
		m.campaigns[c.ID] = c
	}
	for _, id := range set.RemoveCampaigns {
		delete(m.campaigns, id)
	}
	for _, s := range set.Snapshots {
		m.snapshots[s.ID] = s
	}
	for _, f := range set.Folders {
		m.folders[f.ID] = f
	}
	return nil
}

func (m *Memory) ClearAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = make(map[string]history.ReservationRecord)
	m.counts = make(map[string]history.VisitCount)
	m.audits = nil
	return nil
}

// newestFirst orders by ChangedAt descending, insertion order breaking ties,
// and applies the optional limit.
func newestFirst(rows []auditRow, limit int) []history.AuditEntry {
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].entry.ChangedAt.Equal(rows[j].entry.ChangedAt) {
			return rows[i].entry.ChangedAt.After(rows[j].entry.ChangedAt)
		}
		return rows[i].seq > rows[j].seq
	})

	out := make([]history.AuditEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
