/*
Package broadcast implements the cross-session change-notice protocol.

PURPOSE:
  Independently-held in-memory snapshots (one per UI session) stay consistent
  by telling each other "something changed". A session that hears a notice
  reloads its state from the durable store wholesale - there is no
  incremental patching and therefore no cross-session merge-conflict logic.

DELIVERY CONTRACT:
  Best-effort, fire-and-forget. A slow or detached session may miss a
  notice; the durable store remains the source of truth and an explicit
  reload resynchronizes. Publish failures are never reported to the sender.

ORIGIN FILTERING:
  Every session gets a random id at attach time and never receives its own
  messages back.

SEE ALSO:
  - registry.go: Listener registration with an explicit lifecycle
  - hub.go: In-process fan-out between sessions
*/
package broadcast

import "time"

// =============================================================================
// MESSAGE
// =============================================================================

// Type names a change-notice kind. Wildcard subscribes to all of them.
type Type string

const (
	DataChanged     Type = "DATA_CHANGED"
	DataCleared     Type = "DATA_CLEARED"
	HistoryUpdated  Type = "HISTORY_UPDATED"
	StaffUpdated    Type = "STAFF_UPDATED"
	CampaignUpdated Type = "CAMPAIGN_UPDATED"
	SnapshotCreated Type = "SNAPSHOT_CREATED"
	BackupRestored  Type = "BACKUP_RESTORED"

	Wildcard Type = "*"
)

// Message is one change notice. Payload is optional, advisory detail; the
// standard reaction to any message is a full reload from the durable store.
type Message struct {
	Type      Type
	Timestamp time.Time
	Origin    string
	Payload   map[string]any
}
