/*
handlers_test.go - Unit tests for API handlers

Tests for:
- Import endpoint (merge semantics over HTTP)
- Manual edit endpoints and error mapping
- Merge/unmerge, counts, audit, stats, roster, snapshots
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/reservation-history/history"
	"github.com/warp/reservation-history/history/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) (*httptest.Server, *history.Service) {
	t.Helper()
	mem := store.NewMemory()
	now := time.Date(2026, time.February, 1, 12, 0, 0, 0, time.UTC)
	svc := history.NewService(mem, history.WithClock(func() time.Time { return now }))
	require.NoError(t, svc.Load(context.Background()))

	srv := httptest.NewServer(NewRouter(NewHandler(svc)))
	t.Cleanup(srv.Close)
	return srv, svc
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func importTwoVisits(t *testing.T, srv *httptest.Server) {
	t.Helper()
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/import", ImportRequest{Rows: []ImportRowDTO{
		{ReservationID: "r-1", FriendID: "f-1", Name: "Friend One", SessionDate: "2025-12-01", Status: "booked", VisitStatus: "visited"},
		{ReservationID: "r-2", FriendID: "f-1", Name: "Friend One", SessionDate: "2025-12-10", Status: "booked", VisitStatus: "visited"},
	}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

// =============================================================================
// IMPORT
// =============================================================================

func TestImport_CreatesAndReportsCounts(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/import", ImportRequest{Rows: []ImportRowDTO{
		{ReservationID: "r-1", FriendID: "f-1", SessionDate: "2025-12-01", Status: "booked", VisitStatus: "visited"},
	}})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[ImportResponse](t, resp)
	assert.Equal(t, 1, out.Created)
	assert.Equal(t, 0, out.Updated)
}

func TestImport_RejectsBadRows(t *testing.T) {
	srv, _ := newTestServer(t)

	t.Run("empty batch", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/import", ImportRequest{})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("missing ids", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/import", ImportRequest{Rows: []ImportRowDTO{
			{SessionDate: "2025-12-01"},
		}})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("bad date", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/import", ImportRequest{Rows: []ImportRowDTO{
			{ReservationID: "r-1", FriendID: "f-1", SessionDate: "12/01/2025"},
		}})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

// =============================================================================
// HISTORY QUERIES
// =============================================================================

func TestListHistory_SortedWithLabels(t *testing.T) {
	srv, _ := newTestServer(t)
	importTwoVisits(t, srv)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	records := decode[[]RecordDTO](t, resp)
	require.Len(t, records, 2)
	assert.Equal(t, "r-1", records[0].ReservationID)
	assert.Equal(t, 1, records[0].VisitIndex)
	assert.Equal(t, "first", records[0].VisitLabel)
	assert.Equal(t, "second", records[1].VisitLabel)
}

func TestGetRecord_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/history/nope", nil)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// EDITS & ERROR MAPPING
// =============================================================================

func TestAssignStaff_UpdatesRecordAndAudit(t *testing.T) {
	srv, _ := newTestServer(t)
	importTwoVisits(t, srv)

	resp := doJSON(t, http.MethodPut, srv.URL+"/api/history/r-1/staff",
		AssignStaffRequest{Staff: "tanaka", Actor: "admin"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	record := decode[RecordDTO](t, resp)
	assert.Equal(t, "tanaka", record.Staff)

	auditResp := doJSON(t, http.MethodGet, srv.URL+"/api/history/r-1/audit", nil)
	require.Equal(t, http.StatusOK, auditResp.StatusCode)
	entries := decode[[]AuditEntryDTO](t, auditResp)
	require.Len(t, entries, 1)
	assert.Equal(t, "staff", entries[0].Field)
	assert.Equal(t, "tanaka", entries[0].NewValue)
	assert.Equal(t, "admin", entries[0].ChangedBy)
}

func TestEdit_MissingRecord_Maps404(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPut, srv.URL+"/api/history/nope/staff",
		AssignStaffRequest{Staff: "tanaka", Actor: "admin"})

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSetOverride_RejectsUnknownValue(t *testing.T) {
	srv, _ := newTestServer(t)
	importTwoVisits(t, srv)

	resp := doJSON(t, http.MethodPut, srv.URL+"/api/history/r-1/override",
		OverrideRequest{Override: "maybe", Actor: "admin"})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestToggleImplementation_ReindexesOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	importTwoVisits(t, srv)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/history/r-1/toggle-implementation",
		ActorRequest{Actor: "admin"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	record := decode[RecordDTO](t, resp)
	assert.False(t, record.IsImplemented)
	assert.Equal(t, 0, record.VisitIndex)

	countResp := doJSON(t, http.MethodGet, srv.URL+"/api/visit-counts/f-1", nil)
	require.Equal(t, http.StatusOK, countResp.StatusCode)
	count := decode[VisitCountDTO](t, countResp)
	assert.Equal(t, 1, count.ImplementationCount)
}

// =============================================================================
// MERGE / UNMERGE
// =============================================================================

func TestMergeEndpoint_InvalidGroup_Maps400(t *testing.T) {
	srv, _ := newTestServer(t)
	importTwoVisits(t, srv) // different days - cannot merge

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/history/merge",
		MergeRequest{IDs: []string{"r-1", "r-2"}, PrimaryID: "r-1", Actor: "admin"})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMergeEndpoint_GroupsSameDayDuplicates(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/import", ImportRequest{Rows: []ImportRowDTO{
		{ReservationID: "r-1", FriendID: "f-1", SessionDate: "2025-12-05", Status: "booked", VisitStatus: "visited"},
		{ReservationID: "r-2", FriendID: "f-1", SessionDate: "2025-12-05", Status: "booked", VisitStatus: "visited"},
	}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	mergeResp := doJSON(t, http.MethodPost, srv.URL+"/api/history/merge",
		MergeRequest{IDs: []string{"r-1", "r-2"}, PrimaryID: "r-1", Actor: "admin"})
	require.Equal(t, http.StatusOK, mergeResp.StatusCode)

	recResp := doJSON(t, http.MethodGet, srv.URL+"/api/history/r-2", nil)
	record := decode[RecordDTO](t, recResp)
	assert.True(t, record.IsExcluded)
	assert.NotEmpty(t, record.GroupID)

	unmergeResp := doJSON(t, http.MethodPost, srv.URL+"/api/history/r-2/unmerge",
		ActorRequest{Actor: "admin"})
	require.Equal(t, http.StatusOK, unmergeResp.StatusCode)

	recResp = doJSON(t, http.MethodGet, srv.URL+"/api/history/r-2", nil)
	record = decode[RecordDTO](t, recResp)
	assert.False(t, record.IsExcluded)
	assert.Empty(t, record.GroupID)
}

// =============================================================================
// STATS
// =============================================================================

func TestStats_RatesAreDecimalStrings(t *testing.T) {
	srv, _ := newTestServer(t)
	importTwoVisits(t, srv)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/stats?from=2025-12-01&to=2025-12-31", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stats := decode[StatsDTO](t, resp)
	assert.Equal(t, 1, stats.Breakdown.First)
	assert.Equal(t, 1, stats.Breakdown.Second)
	assert.Equal(t, 2, stats.Breakdown.Total)
	assert.Equal(t, "1", stats.RepeatRate)
	assert.Equal(t, "1", stats.ImplementationRate)
}

func TestStats_BadRange_Maps400(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/stats?from=notadate", nil)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// ROSTER & SNAPSHOTS
// =============================================================================

func TestStaffEndpoints_RoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/staff", AddStaffRequest{Name: "tanaka"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	listResp := doJSON(t, http.MethodGet, srv.URL+"/api/staff", nil)
	members := decode[[]StaffDTO](t, listResp)
	require.Len(t, members, 1)
	assert.Equal(t, "tanaka", members[0].Name)

	delResp := doJSON(t, http.MethodDelete, srv.URL+"/api/staff/tanaka", nil)
	require.Equal(t, http.StatusNoContent, delResp.StatusCode)

	listResp = doJSON(t, http.MethodGet, srv.URL+"/api/staff", nil)
	assert.Empty(t, decode[[]StaffDTO](t, listResp))
}

func TestSnapshotEndpoints_CreateRestore(t *testing.T) {
	srv, _ := newTestServer(t)
	importTwoVisits(t, srv)

	createResp := doJSON(t, http.MethodPost, srv.URL+"/api/snapshots", CreateSnapshotRequest{Name: "backup"})
	require.Equal(t, http.StatusCreated, createResp.StatusCode)
	snap := decode[SnapshotDTO](t, createResp)
	assert.Equal(t, 2, snap.RecordCount)

	resetResp := doJSON(t, http.MethodPost, srv.URL+"/api/reset", nil)
	require.Equal(t, http.StatusOK, resetResp.StatusCode)

	histResp := doJSON(t, http.MethodGet, srv.URL+"/api/history", nil)
	require.Empty(t, decode[[]RecordDTO](t, histResp))

	restoreResp := doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/snapshots/%s/restore", srv.URL, snap.ID), nil)
	require.Equal(t, http.StatusOK, restoreResp.StatusCode)

	histResp = doJSON(t, http.MethodGet, srv.URL+"/api/history", nil)
	assert.Len(t, decode[[]RecordDTO](t, histResp), 2)
}

func TestRestoreSnapshot_Missing_Maps404(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/snapshots/nope/restore", nil)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
