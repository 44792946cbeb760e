/*
Package sqlite provides a SQLite-backed implementation of history.Store.

PURPOSE:
  Implements the durable-store contract over SQLite: one table per logical
  entity kind, one SQL transaction per Apply. In production the same
  patterns apply to PostgreSQL - only minor dialect differences.

ATOMICITY:
  Apply() runs inside a single transaction. A record update, its audit
  entries, and the recomputed visit counts either all land or all roll back,
  so a reader can never observe one without the others. Partial-batch
  failure is total operation failure.

APPEND-ONLY ENFORCEMENT:
  The audit_log table is insert-only: no UPDATE or DELETE statement exists
  for it outside of ClearAll, the single bulk removal path.

KEY TABLES:
  reservation_history: One row per reservation, keyed by reservation_id
  visit_counts:        Per-friend derived cache
  audit_log:           Append-only field-change ledger
  staff:               Staff roster backing assignment
  campaigns:           Named date ranges for statistics
  snapshots:           Full-state backups (JSON payload), filed in folders
  folders:             Snapshot organization

WAL MODE:
  SQLite is opened with WAL for better concurrency: readers don't block,
  single writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/history.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - history/store.go: Interface definition
  - history/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/reservation-history/history"
)

// Store implements history.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS reservation_history (
		reservation_id TEXT PRIMARY KEY,
		friend_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		session_date TEXT NOT NULL,
		application_date TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		visit_status TEXT NOT NULL,
		staff TEXT NOT NULL DEFAULT '',
		detail_status TEXT NOT NULL DEFAULT '',
		was_omakase INTEGER NOT NULL DEFAULT 0,
		is_implemented INTEGER NOT NULL DEFAULT 0,
		override TEXT NOT NULL DEFAULT '',
		visit_index INTEGER NOT NULL DEFAULT 0,
		group_id TEXT NOT NULL DEFAULT '',
		is_excluded INTEGER NOT NULL DEFAULT 0,
		cancel_reason TEXT NOT NULL DEFAULT '',
		cancel_handling_status TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_friend
		ON reservation_history(friend_id);
	CREATE INDEX IF NOT EXISTS idx_history_session_date
		ON reservation_history(session_date);
	CREATE INDEX IF NOT EXISTS idx_history_group
		ON reservation_history(group_id) WHERE group_id != '';

	CREATE TABLE IF NOT EXISTS visit_counts (
		friend_id TEXT PRIMARY KEY,
		implementation_count INTEGER NOT NULL DEFAULT 0,
		last_visit_date TEXT NOT NULL DEFAULT '',
		last_staff TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	);

	-- Append-only: no UPDATE or DELETE outside ClearAll.
	CREATE TABLE IF NOT EXISTS audit_log (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		reservation_id TEXT NOT NULL,
		field TEXT NOT NULL,
		old_value TEXT NOT NULL DEFAULT '',
		new_value TEXT NOT NULL DEFAULT '',
		changed_at TEXT NOT NULL,
		changed_by TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_audit_reservation
		ON audit_log(reservation_id, seq DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_changed_at
		ON audit_log(changed_at DESC);

	CREATE TABLE IF NOT EXISTS staff (
		name TEXT PRIMARY KEY,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS campaigns (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		start_date TEXT NOT NULL DEFAULT '',
		end_date TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS folders (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		folder_id TEXT NOT NULL DEFAULT '',
		taken_at TEXT NOT NULL,
		payload_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_folder
		ON snapshots(folder_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LOADS
// =============================================================================

func (s *Store) LoadHistory(ctx context.Context) (map[string]history.ReservationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT reservation_id, friend_id, name, session_date, application_date,
		       status, visit_status, staff, detail_status, was_omakase,
		       is_implemented, override, visit_index, group_id, is_excluded,
		       cancel_reason, cancel_handling_status, created_at, updated_at
		FROM reservation_history`)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	records := make(map[string]history.ReservationRecord)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records[r.ReservationID] = r
	}
	return records, rows.Err()
}

func (s *Store) LoadCounts(ctx context.Context) (map[string]history.VisitCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT friend_id, implementation_count, last_visit_date, last_staff, updated_at
		FROM visit_counts`)
	if err != nil {
		return nil, fmt.Errorf("load visit counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]history.VisitCount)
	for rows.Next() {
		var c history.VisitCount
		var lastVisit, updatedAt string
		if err := rows.Scan(&c.FriendID, &c.ImplementationCount, &lastVisit, &c.LastStaff, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan visit count: %w", err)
		}
		if c.LastVisitDate, err = parseDay(lastVisit); err != nil {
			return nil, err
		}
		if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		counts[c.FriendID] = c
	}
	return counts, rows.Err()
}

func (s *Store) AuditFor(ctx context.Context, reservationID string) ([]history.AuditEntry, error) {
	return s.queryAudit(ctx, `
		SELECT id, reservation_id, field, old_value, new_value, changed_at, changed_by
		FROM audit_log WHERE reservation_id = ? ORDER BY seq DESC`, reservationID)
}

func (s *Store) RecentAudit(ctx context.Context, limit int) ([]history.AuditEntry, error) {
	if limit > 0 {
		return s.queryAudit(ctx, `
			SELECT id, reservation_id, field, old_value, new_value, changed_at, changed_by
			FROM audit_log ORDER BY seq DESC LIMIT ?`, limit)
	}
	return s.queryAudit(ctx, `
		SELECT id, reservation_id, field, old_value, new_value, changed_at, changed_by
		FROM audit_log ORDER BY seq DESC`)
}

func (s *Store) queryAudit(ctx context.Context, query string, args ...any) ([]history.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load audit log: %w", err)
	}
	defer rows.Close()

	var entries []history.AuditEntry
	for rows.Next() {
		var e history.AuditEntry
		var changedAt string
		if err := rows.Scan(&e.ID, &e.ReservationID, &e.Field, &e.OldValue, &e.NewValue, &changedAt, &e.ChangedBy); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if e.ChangedAt, err = parseTime(changedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) LoadStaff(ctx context.Context) ([]history.StaffMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT name, created_at FROM staff ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("load staff: %w", err)
	}
	defer rows.Close()

	var members []history.StaffMember
	for rows.Next() {
		var m history.StaffMember
		var createdAt string
		if err := rows.Scan(&m.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("scan staff: %w", err)
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *Store) LoadCampaigns(ctx context.Context) ([]history.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, start_date, end_date, created_at, updated_at
		FROM campaigns ORDER BY start_date, name`)
	if err != nil {
		return nil, fmt.Errorf("load campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []history.Campaign
	for rows.Next() {
		var c history.Campaign
		var start, end, createdAt, updatedAt string
		if err := rows.Scan(&c.ID, &c.Name, &start, &end, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		if c.Start, err = parseDay(start); err != nil {
			return nil, err
		}
		if c.End, err = parseDay(end); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

func (s *Store) LoadSnapshots(ctx context.Context) ([]history.StateSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, folder_id, taken_at, payload_json
		FROM snapshots ORDER BY taken_at`)
	if err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []history.StateSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

func (s *Store) GetSnapshot(ctx context.Context, id string) (*history.StateSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, folder_id, taken_at, payload_json
		FROM snapshots WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, history.ErrSnapshotNotFound
	}
	snap, err := scanSnapshot(rows)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *Store) LoadFolders(ctx context.Context) ([]history.Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM folders ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("load folders: %w", err)
	}
	defer rows.Close()

	var folders []history.Folder
	for rows.Next() {
		var f history.Folder
		var createdAt string
		if err := rows.Scan(&f.ID, &f.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		if f.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

// =============================================================================
// APPLY - One transaction per batch
// =============================================================================

func (s *Store) Apply(ctx context.Context, set history.ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	if set.ReplaceHistory {
		if _, err := tx.ExecContext(ctx, `DELETE FROM reservation_history`); err != nil {
			return fmt.Errorf("replace history: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM visit_counts`); err != nil {
			return fmt.Errorf("replace visit counts: %w", err)
		}
	}

	for _, r := range set.Records {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO reservation_history (
				reservation_id, friend_id, name, session_date, application_date,
				status, visit_status, staff, detail_status, was_omakase,
				is_implemented, override, visit_index, group_id, is_excluded,
				cancel_reason, cancel_handling_status, created_at, updated_at
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(reservation_id) DO UPDATE SET
				friend_id=excluded.friend_id, name=excluded.name,
				session_date=excluded.session_date, application_date=excluded.application_date,
				status=excluded.status, visit_status=excluded.visit_status,
				staff=excluded.staff, detail_status=excluded.detail_status,
				was_omakase=excluded.was_omakase, is_implemented=excluded.is_implemented,
				override=excluded.override, visit_index=excluded.visit_index,
				group_id=excluded.group_id, is_excluded=excluded.is_excluded,
				cancel_reason=excluded.cancel_reason,
				cancel_handling_status=excluded.cancel_handling_status,
				created_at=excluded.created_at, updated_at=excluded.updated_at`,
			r.ReservationID, r.FriendID, r.Name, r.SessionDate.String(), formatTime(r.ApplicationDate),
			string(r.Status), string(r.VisitStatus), r.Staff, string(r.DetailStatus), r.WasOmakase,
			r.IsImplemented, string(r.Override), r.VisitIndex, r.GroupID, r.IsExcluded,
			r.CancelReason, r.CancelHandlingStatus, formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
		); err != nil {
			return fmt.Errorf("upsert record %s: %w", r.ReservationID, err)
		}
	}

	for _, c := range set.Counts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO visit_counts (friend_id, implementation_count, last_visit_date, last_staff, updated_at)
			VALUES (?,?,?,?,?)
			ON CONFLICT(friend_id) DO UPDATE SET
				implementation_count=excluded.implementation_count,
				last_visit_date=excluded.last_visit_date,
				last_staff=excluded.last_staff,
				updated_at=excluded.updated_at`,
			c.FriendID, c.ImplementationCount, c.LastVisitDate.String(), c.LastStaff, formatTime(c.UpdatedAt),
		); err != nil {
			return fmt.Errorf("upsert visit count %s: %w", c.FriendID, err)
		}
	}

	for _, friendID := range set.RemoveCounts {
		if _, err := tx.ExecContext(ctx, `DELETE FROM visit_counts WHERE friend_id = ?`, friendID); err != nil {
			return fmt.Errorf("delete visit count %s: %w", friendID, err)
		}
	}

	for _, e := range set.Audits {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO audit_log (id, reservation_id, field, old_value, new_value, changed_at, changed_by)
			VALUES (?,?,?,?,?,?,?)`,
			e.ID, e.ReservationID, e.Field, e.OldValue, e.NewValue, formatTime(e.ChangedAt), e.ChangedBy,
		); err != nil {
			return fmt.Errorf("insert audit entry %s: %w", e.ID, err)
		}
	}

	for _, m := range set.Staff {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO staff (name, created_at) VALUES (?,?)
			ON CONFLICT(name) DO NOTHING`,
			m.Name, formatTime(m.CreatedAt),
		); err != nil {
			return fmt.Errorf("upsert staff %s: %w", m.Name, err)
		}
	}
	for _, name := range set.RemoveStaff {
		if _, err := tx.ExecContext(ctx, `DELETE FROM staff WHERE name = ?`, name); err != nil {
			return fmt.Errorf("remove staff %s: %w", name, err)
		}
	}

	for _, c := range set.Campaigns {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO campaigns (id, name, start_date, end_date, created_at, updated_at)
			VALUES (?,?,?,?,?,?)
			ON CONFLICT(id) DO UPDATE SET
				name=excluded.name, start_date=excluded.start_date,
				end_date=excluded.end_date, updated_at=excluded.updated_at`,
			c.ID, c.Name, c.Start.String(), c.End.String(), formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
		); err != nil {
			return fmt.Errorf("upsert campaign %s: %w", c.ID, err)
		}
	}
	for _, id := range set.RemoveCampaigns {
		if _, err := tx.ExecContext(ctx, `DELETE FROM campaigns WHERE id = ?`, id); err != nil {
			return fmt.Errorf("remove campaign %s: %w", id, err)
		}
	}

	for _, snap := range set.Snapshots {
		payload, err := json.Marshal(snapshotPayload{Records: snap.Records, Counts: snap.Counts})
		if err != nil {
			return fmt.Errorf("encode snapshot %s: %w", snap.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO snapshots (id, name, folder_id, taken_at, payload_json)
			VALUES (?,?,?,?,?)
			ON CONFLICT(id) DO NOTHING`,
			snap.ID, snap.Name, snap.FolderID, formatTime(snap.TakenAt), string(payload),
		); err != nil {
			return fmt.Errorf("insert snapshot %s: %w", snap.ID, err)
		}
	}

	for _, f := range set.Folders {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO folders (id, name, created_at) VALUES (?,?,?)
			ON CONFLICT(id) DO UPDATE SET name=excluded.name`,
			f.ID, f.Name, formatTime(f.CreatedAt),
		); err != nil {
			return fmt.Errorf("upsert folder %s: %w", f.ID, err)
		}
	}

	return tx.Commit()
}

func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"reservation_history", "visit_counts", "audit_log"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// =============================================================================
// SCAN / FORMAT HELPERS
// =============================================================================

type snapshotPayload struct {
	Records []history.ReservationRecord `json:"records"`
	Counts  []history.VisitCount        `json:"counts"`
}

func scanRecord(rows *sql.Rows) (history.ReservationRecord, error) {
	var r history.ReservationRecord
	var sessionDate, applicationDate, status, visitStatus, detailStatus, override string
	var createdAt, updatedAt string

	err := rows.Scan(
		&r.ReservationID, &r.FriendID, &r.Name, &sessionDate, &applicationDate,
		&status, &visitStatus, &r.Staff, &detailStatus, &r.WasOmakase,
		&r.IsImplemented, &override, &r.VisitIndex, &r.GroupID, &r.IsExcluded,
		&r.CancelReason, &r.CancelHandlingStatus, &createdAt, &updatedAt,
	)
	if err != nil {
		return r, fmt.Errorf("scan record: %w", err)
	}

	if r.SessionDate, err = parseDay(sessionDate); err != nil {
		return r, err
	}
	if r.ApplicationDate, err = parseTime(applicationDate); err != nil {
		return r, err
	}
	r.Status = history.Status(status)
	r.VisitStatus = history.VisitStatus(visitStatus)
	r.DetailStatus = history.DetailStatus(detailStatus)
	r.Override = history.Override(override)
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return r, err
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return r, err
	}
	return r, nil
}

func scanSnapshot(rows *sql.Rows) (history.StateSnapshot, error) {
	var snap history.StateSnapshot
	var takenAt, payloadJSON string
	if err := rows.Scan(&snap.ID, &snap.Name, &snap.FolderID, &takenAt, &payloadJSON); err != nil {
		return snap, fmt.Errorf("scan snapshot: %w", err)
	}

	var err error
	if snap.TakenAt, err = parseTime(takenAt); err != nil {
		return snap, err
	}
	var payload snapshotPayload
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return snap, fmt.Errorf("decode snapshot %s: %w", snap.ID, err)
	}
	snap.Records = payload.Records
	snap.Counts = payload.Counts
	return snap, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func parseDay(s string) (history.Day, error) {
	if s == "" {
		return history.Day{}, nil
	}
	d, err := history.ParseDay(s)
	if err != nil {
		return history.Day{}, fmt.Errorf("parse day %q: %w", s, err)
	}
	return d, nil
}
