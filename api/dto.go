/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/reservation-history/history"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// RecordDTO represents one reservation in API responses.
type RecordDTO struct {
	ReservationID        string `json:"reservation_id"`
	FriendID             string `json:"friend_id"`
	Name                 string `json:"name"`
	SessionDate          string `json:"session_date"`
	ApplicationDate      string `json:"application_date,omitempty"`
	Status               string `json:"status"`
	VisitStatus          string `json:"visit_status"`
	Staff                string `json:"staff,omitempty"`
	DetailStatus         string `json:"detail_status,omitempty"`
	WasOmakase           bool   `json:"was_omakase"`
	IsImplemented        bool   `json:"is_implemented"`
	Override             string `json:"is_implemented_manual,omitempty"`
	VisitIndex           int    `json:"visit_index,omitempty"`
	VisitLabel           string `json:"visit_label,omitempty"`
	GroupID              string `json:"group_id,omitempty"`
	IsExcluded           bool   `json:"is_excluded"`
	CancelReason         string `json:"cancel_reason,omitempty"`
	CancelHandlingStatus string `json:"cancel_handling_status,omitempty"`
	CreatedAt            string `json:"created_at,omitempty"`
	UpdatedAt            string `json:"updated_at,omitempty"`
}

// ImportRowDTO is one parsed CSV row submitted for merging.
type ImportRowDTO struct {
	FriendID        string `json:"friend_id"`
	ReservationID   string `json:"reservation_id"`
	Name            string `json:"name"`
	SessionDate     string `json:"session_date"`     // "2006-01-02"
	ApplicationDate string `json:"application_date"` // RFC3339, optional
	Status          string `json:"status"`
	VisitStatus     string `json:"visit_status"`
	Staff           string `json:"staff"`
	DetailStatus    string `json:"detail_status"`
	WasOmakase      bool   `json:"was_omakase"`
}

// ImportRequest carries a parsed CSV batch.
type ImportRequest struct {
	Rows []ImportRowDTO `json:"rows"`
}

// ImportResponse reports what the merge did.
type ImportResponse struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// Edit requests. Actor identifies who made the change, for the audit trail.
type AssignStaffRequest struct {
	Staff string `json:"staff"`
	Actor string `json:"actor"`
}

type DetailStatusRequest struct {
	DetailStatus string `json:"detail_status"`
	Actor        string `json:"actor"`
}

type OverrideRequest struct {
	Override string `json:"override"` // "", "forcedTrue", "forcedFalse"
	Actor    string `json:"actor"`
}

type CancelReasonRequest struct {
	CancelReason string `json:"cancel_reason"`
	Actor        string `json:"actor"`
}

type CancelHandlingRequest struct {
	CancelHandlingStatus string `json:"cancel_handling_status"`
	Actor                string `json:"actor"`
}

type ExcludedRequest struct {
	Excluded bool   `json:"excluded"`
	Actor    string `json:"actor"`
}

type ActorRequest struct {
	Actor string `json:"actor"`
}

// MergeRequest groups same-day duplicates under one countable primary.
type MergeRequest struct {
	IDs       []string `json:"ids"`
	PrimaryID string   `json:"primary_id"`
	Actor     string   `json:"actor"`
}

// VisitCountDTO represents one friend's visit summary.
type VisitCountDTO struct {
	FriendID            string `json:"friend_id"`
	ImplementationCount int    `json:"implementation_count"`
	LastVisitDate       string `json:"last_visit_date,omitempty"`
	LastStaff           string `json:"last_staff,omitempty"`
}

// AuditEntryDTO represents one audit-ledger row.
type AuditEntryDTO struct {
	ID            string `json:"id"`
	ReservationID string `json:"reservation_id"`
	Field         string `json:"field"`
	OldValue      string `json:"old_value"`
	NewValue      string `json:"new_value"`
	ChangedAt     string `json:"changed_at"`
	ChangedBy     string `json:"changed_by"`
}

// StaffDTO represents one roster entry.
type StaffDTO struct {
	Name      string `json:"name"`
	CreatedAt string `json:"created_at,omitempty"`
}

type AddStaffRequest struct {
	Name string `json:"name"`
}

// CampaignDTO represents a campaign.
type CampaignDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

type SaveCampaignRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// FolderDTO represents a snapshot folder.
type FolderDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at,omitempty"`
}

type CreateFolderRequest struct {
	Name string `json:"name"`
}

// SnapshotDTO is snapshot metadata; payloads stay server-side.
type SnapshotDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	FolderID    string `json:"folder_id,omitempty"`
	TakenAt     string `json:"taken_at"`
	RecordCount int    `json:"record_count"`
}

type CreateSnapshotRequest struct {
	Name     string `json:"name"`
	FolderID string `json:"folder_id"`
}

// BreakdownDTO buckets a period's visits.
type BreakdownDTO struct {
	First     int `json:"first"`
	Second    int `json:"second"`
	Repeat    int `json:"repeat"`
	Cancelled int `json:"cancelled"`
	Total     int `json:"total"`
}

// StatsDTO is the aggregate statistics response. Rates are exact decimal
// strings.
type StatsDTO struct {
	Breakdown          BreakdownDTO   `json:"breakdown"`
	RepeatRate         string         `json:"repeat_rate"`
	ImplementationRate string         `json:"implementation_rate"`
	StaffTally         map[string]int `json:"staff_tally"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toRecordDTO(r history.ReservationRecord) RecordDTO {
	return RecordDTO{
		ReservationID:        r.ReservationID,
		FriendID:             r.FriendID,
		Name:                 r.Name,
		SessionDate:          r.SessionDate.String(),
		ApplicationDate:      formatTime(r.ApplicationDate),
		Status:               string(r.Status),
		VisitStatus:          string(r.VisitStatus),
		Staff:                r.Staff,
		DetailStatus:         string(r.DetailStatus),
		WasOmakase:           r.WasOmakase,
		IsImplemented:        r.IsImplemented,
		Override:             string(r.Override),
		VisitIndex:           r.VisitIndex,
		VisitLabel:           history.VisitLabel(r.VisitIndex),
		GroupID:              r.GroupID,
		IsExcluded:           r.IsExcluded,
		CancelReason:         r.CancelReason,
		CancelHandlingStatus: r.CancelHandlingStatus,
		CreatedAt:            formatTime(r.CreatedAt),
		UpdatedAt:            formatTime(r.UpdatedAt),
	}
}

func toRecordDTOs(records []history.ReservationRecord) []RecordDTO {
	dtos := make([]RecordDTO, len(records))
	for i, r := range records {
		dtos[i] = toRecordDTO(r)
	}
	return dtos
}

func toCountDTO(c history.VisitCount) VisitCountDTO {
	return VisitCountDTO{
		FriendID:            c.FriendID,
		ImplementationCount: c.ImplementationCount,
		LastVisitDate:       c.LastVisitDate.String(),
		LastStaff:           c.LastStaff,
	}
}

func toAuditDTOs(entries []history.AuditEntry) []AuditEntryDTO {
	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = AuditEntryDTO{
			ID:            e.ID,
			ReservationID: e.ReservationID,
			Field:         e.Field,
			OldValue:      e.OldValue,
			NewValue:      e.NewValue,
			ChangedAt:     formatTime(e.ChangedAt),
			ChangedBy:     e.ChangedBy,
		}
	}
	return dtos
}

func toBreakdownDTO(b history.VisitBreakdown) BreakdownDTO {
	return BreakdownDTO{
		First:     b.First,
		Second:    b.Second,
		Repeat:    b.Repeat,
		Cancelled: b.Cancelled,
		Total:     b.Total,
	}
}

func toInputRow(dto ImportRowDTO) (history.InputRow, error) {
	sessionDate, err := history.ParseDay(dto.SessionDate)
	if err != nil {
		return history.InputRow{}, err
	}
	var applicationDate time.Time
	if dto.ApplicationDate != "" {
		applicationDate, err = time.Parse(time.RFC3339, dto.ApplicationDate)
		if err != nil {
			return history.InputRow{}, err
		}
	}
	return history.InputRow{
		FriendID:        dto.FriendID,
		ReservationID:   dto.ReservationID,
		Name:            dto.Name,
		SessionDate:     sessionDate,
		ApplicationDate: applicationDate,
		Status:          history.Status(dto.Status),
		VisitStatus:     history.VisitStatus(dto.VisitStatus),
		Staff:           dto.Staff,
		DetailStatus:    history.DetailStatus(dto.DetailStatus),
		WasOmakase:      dto.WasOmakase,
	}, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
