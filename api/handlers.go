/*
handlers.go - HTTP API handlers for the reservation history engine

PURPOSE:
  Exposes the history service via REST API. Handles HTTP request/response,
  JSON serialization, and delegates everything else to the service layer.

ENDPOINTS:
  Import:
    POST   /api/import                       Merge a parsed CSV batch

  History:
    GET    /api/history                      List records (?friend_id= filters)
    GET    /api/history/{id}                 Get one record
    GET    /api/history/{id}/audit           Audit trail for one record
    PUT    /api/history/{id}/staff           Assign staff
    PUT    /api/history/{id}/detail-status   Update cancellation detail
    PUT    /api/history/{id}/override        Force implementation on/off/auto
    PUT    /api/history/{id}/cancel-reason   Update cancel reason
    PUT    /api/history/{id}/cancel-handling Update cancel handling status
    PUT    /api/history/{id}/excluded        Include/exclude from counting
    POST   /api/history/{id}/toggle-implementation
    POST   /api/history/{id}/toggle-excluded
    POST   /api/history/{id}/unmerge         Dissolve a merge group
    POST   /api/history/merge                Group same-day duplicates

  Counts & audit:
    GET    /api/visit-counts                 All per-friend counts
    GET    /api/visit-counts/{friendId}      One friend's count
    GET    /api/audit?limit=                 Global audit trail, newest first

  Stats:
    GET    /api/stats?from=&to=              Breakdown, rates, staff tally

  Staff / campaigns / snapshots / folders:
    GET,POST /api/staff                      DELETE /api/staff/{name}
    GET,POST /api/campaigns                  DELETE /api/campaigns/{id}
    GET      /api/campaigns/{id}/stats
    GET,POST /api/snapshots                  POST /api/snapshots/{id}/restore
    GET,POST /api/folders

  Admin:
    POST   /api/admin/recompute              Rebuild all indices and counts
    POST   /api/reset                        Wipe history, counts, audit

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, bad merge groups
  - 404: Record or snapshot not found
  - 500: Store failures

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/warp/reservation-history/history"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *history.Service
}

// NewHandler creates a new handler around the history service.
func NewHandler(svc *history.Service) *Handler {
	return &Handler{Service: svc}
}

// =============================================================================
// IMPORT
// =============================================================================

// Import merges a parsed CSV batch into the history.
// POST /api/import
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Rows) == 0 {
		writeError(w, http.StatusBadRequest, "No rows to import", nil)
		return
	}

	rows := make([]history.InputRow, 0, len(req.Rows))
	for _, dto := range req.Rows {
		if dto.ReservationID == "" || dto.FriendID == "" {
			writeError(w, http.StatusBadRequest, "Row missing reservation_id or friend_id", nil)
			return
		}
		row, err := toInputRow(dto)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid row", err)
			return
		}
		rows = append(rows, row)
	}

	summary, err := h.Service.ImportRows(r.Context(), rows)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to import rows", err)
		return
	}
	writeJSON(w, http.StatusOK, ImportResponse{Created: summary.Created, Updated: summary.Updated})
}

// =============================================================================
// HISTORY QUERIES
// =============================================================================

// ListHistory returns all records, or one friend's when ?friend_id= is set.
// GET /api/history
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	friendID := r.URL.Query().Get("friend_id")

	var records []history.ReservationRecord
	if friendID != "" {
		records = h.Service.HistoryForFriend(friendID)
	} else {
		records = h.Service.History()
	}
	writeJSON(w, http.StatusOK, toRecordDTOs(records))
}

// GetRecord returns one reservation.
// GET /api/history/{id}
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	record, ok := h.Service.Record(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Reservation not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(record))
}

// GetRecordAudit returns the audit trail for one reservation, newest first.
// GET /api/history/{id}/audit
func (h *Handler) GetRecordAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	entries, err := h.Service.AuditFor(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load audit trail", err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditDTOs(entries))
}

// =============================================================================
// MANUAL EDITS
// =============================================================================

// AssignStaff sets the staff member on a reservation.
// PUT /api/history/{id}/staff
func (h *Handler) AssignStaff(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req AssignStaffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	h.respondEdit(w, r, id, h.Service.AssignStaff(r.Context(), id, req.Staff, req.Actor))
}

// UpdateDetailStatus sets the cancellation detail classification.
// PUT /api/history/{id}/detail-status
func (h *Handler) UpdateDetailStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req DetailStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	status := history.DetailStatus(req.DetailStatus)
	switch status {
	case history.DetailNone, history.DetailLateCancel, history.DetailDayOfCancel:
	default:
		writeError(w, http.StatusBadRequest, "Unknown detail status", nil)
		return
	}
	h.respondEdit(w, r, id, h.Service.UpdateDetailStatus(r.Context(), id, status, req.Actor))
}

// ToggleImplementation flips the implemented flag to its canonical pair.
// POST /api/history/{id}/toggle-implementation
func (h *Handler) ToggleImplementation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ActorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	h.respondEdit(w, r, id, h.Service.ToggleImplementation(r.Context(), id, req.Actor))
}

// SetOverride forces the implemented flag on, off, or back to automatic.
// PUT /api/history/{id}/override
func (h *Handler) SetOverride(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	override := history.Override(req.Override)
	switch override {
	case history.OverrideAuto, history.OverrideForcedTrue, history.OverrideForcedFalse:
	default:
		writeError(w, http.StatusBadRequest, "Unknown override value", nil)
		return
	}
	h.respondEdit(w, r, id, h.Service.SetOverride(r.Context(), id, override, req.Actor))
}

// UpdateCancelReason sets the free-text cancellation reason.
// PUT /api/history/{id}/cancel-reason
func (h *Handler) UpdateCancelReason(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req CancelReasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	h.respondEdit(w, r, id, h.Service.UpdateCancelReason(r.Context(), id, req.CancelReason, req.Actor))
}

// UpdateCancelHandling sets the cancellation follow-up status.
// PUT /api/history/{id}/cancel-handling
func (h *Handler) UpdateCancelHandling(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req CancelHandlingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	h.respondEdit(w, r, id, h.Service.UpdateCancelHandlingStatus(r.Context(), id, req.CancelHandlingStatus, req.Actor))
}

// SetExcluded includes or excludes a record from visit counting.
// PUT /api/history/{id}/excluded
func (h *Handler) SetExcluded(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ExcludedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	h.respondEdit(w, r, id, h.Service.SetExcluded(r.Context(), id, req.Excluded, req.Actor))
}

// ToggleExcluded flips the exclusion flag.
// POST /api/history/{id}/toggle-excluded
func (h *Handler) ToggleExcluded(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ActorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	h.respondEdit(w, r, id, h.Service.ToggleExcluded(r.Context(), id, req.Actor))
}

// MergeReservations groups same-day duplicates under one countable primary.
// POST /api/history/merge
func (h *Handler) MergeReservations(w http.ResponseWriter, r *http.Request) {
	var req MergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Service.MergeReservations(r.Context(), req.IDs, req.PrimaryID, req.Actor); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "merged"})
}

// UnmergeReservation dissolves the merge group containing one record.
// POST /api/history/{id}/unmerge
func (h *Handler) UnmergeReservation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ActorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	h.respondEdit(w, r, id, h.Service.UnmergeReservation(r.Context(), id, req.Actor))
}

// respondEdit maps an edit result to a response: the updated record on
// success, a classified error otherwise.
func (h *Handler) respondEdit(w http.ResponseWriter, r *http.Request, id string, err error) {
	if err != nil {
		writeServiceError(w, err)
		return
	}
	record, ok := h.Service.Record(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Reservation not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(record))
}

// =============================================================================
// COUNTS & AUDIT
// =============================================================================

// ListCounts returns every friend's visit summary.
// GET /api/visit-counts
func (h *Handler) ListCounts(w http.ResponseWriter, r *http.Request) {
	counts := h.Service.Counts()
	dtos := make([]VisitCountDTO, len(counts))
	for i, c := range counts {
		dtos[i] = toCountDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCount returns one friend's visit summary.
// GET /api/visit-counts/{friendId}
func (h *Handler) GetCount(w http.ResponseWriter, r *http.Request) {
	friendID := chi.URLParam(r, "friendId")

	count, ok := h.Service.CountFor(friendID)
	if !ok {
		writeError(w, http.StatusNotFound, "No visit count for friend", nil)
		return
	}
	writeJSON(w, http.StatusOK, toCountDTO(count))
}

// RecentAudit returns the global audit trail, newest first.
// GET /api/audit?limit=50
func (h *Handler) RecentAudit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = parsed
	}

	entries, err := h.Service.RecentAudit(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load audit trail", err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditDTOs(entries))
}

// =============================================================================
// STATS
// =============================================================================

// GetStats returns the breakdown, rates, and staff tally for a date range.
// GET /api/stats?from=2025-12-01&to=2025-12-31
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}

	writeJSON(w, http.StatusOK, StatsDTO{
		Breakdown:          toBreakdownDTO(h.Service.VisitBreakdown(from, to)),
		RepeatRate:         h.Service.RepeatRate().String(),
		ImplementationRate: h.Service.ImplementationRate(from, to).String(),
		StaffTally:         h.Service.StaffTally(from, to),
	})
}

// =============================================================================
// STAFF ROSTER
// =============================================================================

// ListStaff returns the roster, name ascending.
// GET /api/staff
func (h *Handler) ListStaff(w http.ResponseWriter, r *http.Request) {
	members := h.Service.Staff()
	dtos := make([]StaffDTO, len(members))
	for i, m := range members {
		dtos[i] = StaffDTO{Name: m.Name, CreatedAt: formatTime(m.CreatedAt)}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AddStaff adds a roster entry. Adding an existing name is a no-op.
// POST /api/staff
func (h *Handler) AddStaff(w http.ResponseWriter, r *http.Request) {
	var req AddStaffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Staff name is required", nil)
		return
	}

	if err := h.Service.AddStaff(r.Context(), req.Name); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to add staff", err)
		return
	}
	writeJSON(w, http.StatusCreated, StaffDTO{Name: req.Name})
}

// RemoveStaff removes a roster entry. History rows keep the name.
// DELETE /api/staff/{name}
func (h *Handler) RemoveStaff(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := h.Service.RemoveStaff(r.Context(), name); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to remove staff", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// CAMPAIGNS
// =============================================================================

// ListCampaigns returns all campaigns, start date ascending.
// GET /api/campaigns
func (h *Handler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns := h.Service.Campaigns()
	dtos := make([]CampaignDTO, len(campaigns))
	for i, c := range campaigns {
		dtos[i] = CampaignDTO{ID: c.ID, Name: c.Name, Start: c.Start.String(), End: c.End.String()}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveCampaign creates (empty id) or updates a campaign.
// POST /api/campaigns
func (h *Handler) SaveCampaign(w http.ResponseWriter, r *http.Request) {
	var req SaveCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Campaign name is required", nil)
		return
	}

	campaign := history.Campaign{ID: req.ID, Name: req.Name}
	var err error
	if req.Start != "" {
		if campaign.Start, err = history.ParseDay(req.Start); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid start date", err)
			return
		}
	}
	if req.End != "" {
		if campaign.End, err = history.ParseDay(req.End); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid end date", err)
			return
		}
	}

	saved, err := h.Service.SaveCampaign(r.Context(), campaign)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save campaign", err)
		return
	}
	writeJSON(w, http.StatusOK, CampaignDTO{ID: saved.ID, Name: saved.Name, Start: saved.Start.String(), End: saved.End.String()})
}

// DeleteCampaign removes a campaign. Unknown ids are a no-op.
// DELETE /api/campaigns/{id}
func (h *Handler) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.Service.DeleteCampaign(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete campaign", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetCampaignStats slices the visit breakdown by a campaign's date range.
// GET /api/campaigns/{id}/stats
func (h *Handler) GetCampaignStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	breakdown, ok := h.Service.CampaignBreakdown(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Campaign not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toBreakdownDTO(breakdown))
}

// =============================================================================
// SNAPSHOTS & FOLDERS
// =============================================================================

// ListSnapshots returns snapshot metadata, oldest first.
// GET /api/snapshots
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	snapshots, err := h.Service.Snapshots(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list snapshots", err)
		return
	}

	dtos := make([]SnapshotDTO, len(snapshots))
	for i, s := range snapshots {
		dtos[i] = SnapshotDTO{
			ID:          s.ID,
			Name:        s.Name,
			FolderID:    s.FolderID,
			TakenAt:     formatTime(s.TakenAt),
			RecordCount: len(s.Records),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateSnapshot backs up the current history and counts.
// POST /api/snapshots
func (h *Handler) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	var req CreateSnapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	snap, err := h.Service.CreateSnapshot(r.Context(), req.Name, req.FolderID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create snapshot", err)
		return
	}
	writeJSON(w, http.StatusCreated, SnapshotDTO{
		ID:          snap.ID,
		Name:        snap.Name,
		FolderID:    snap.FolderID,
		TakenAt:     formatTime(snap.TakenAt),
		RecordCount: len(snap.Records),
	})
}

// RestoreSnapshot replaces the live history with a snapshot's contents.
// POST /api/snapshots/{id}/restore
func (h *Handler) RestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.Service.RestoreSnapshot(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "restored"})
}

// ListFolders returns snapshot folders, name ascending.
// GET /api/folders
func (h *Handler) ListFolders(w http.ResponseWriter, r *http.Request) {
	folders := h.Service.Folders()
	dtos := make([]FolderDTO, len(folders))
	for i, f := range folders {
		dtos[i] = FolderDTO{ID: f.ID, Name: f.Name, CreatedAt: formatTime(f.CreatedAt)}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateFolder creates a snapshot folder.
// POST /api/folders
func (h *Handler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	var req CreateFolderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Folder name is required", nil)
		return
	}

	folder, err := h.Service.CreateFolder(r.Context(), req.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create folder", err)
		return
	}
	writeJSON(w, http.StatusCreated, FolderDTO{ID: folder.ID, Name: folder.Name, CreatedAt: formatTime(folder.CreatedAt)})
}

// =============================================================================
// ADMIN
// =============================================================================

// RecomputeAll rebuilds every visit index and count from scratch.
// POST /api/admin/recompute
func (h *Handler) RecomputeAll(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.RecomputeAll(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to recompute", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recomputed"})
}

// Reset wipes history, counts, and audit. Staff, campaigns, and snapshots
// survive.
// POST /api/reset
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.ClearAll(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps domain errors onto HTTP statuses: not-found to 404,
// other client errors to 400, everything else to 500.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, history.ErrReservationNotFound), errors.Is(err, history.ErrSnapshotNotFound):
		writeError(w, http.StatusNotFound, "Not found", err)
	case history.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	default:
		writeError(w, http.StatusInternalServerError, "Operation failed", err)
	}
}

func parseRange(r *http.Request) (history.Day, history.Day, error) {
	var from, to history.Day
	var err error
	if raw := r.URL.Query().Get("from"); raw != "" {
		if from, err = history.ParseDay(raw); err != nil {
			return history.Day{}, history.Day{}, err
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if to, err = history.ParseDay(raw); err != nil {
			return history.Day{}, history.Day{}, err
		}
	}
	return from, to, nil
}
