package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/therapy-scheduling/internal/conflicts"
	"github.com/wolfman30/therapy-scheduling/internal/http/respond"
	"github.com/wolfman30/therapy-scheduling/internal/locking"
	"github.com/wolfman30/therapy-scheduling/internal/recurrence"
	"github.com/wolfman30/therapy-scheduling/internal/sessions"
)

type fakeScheduling struct {
	lastRequest Request
	lastQuery   AvailabilityQuery
	lastDate    civil.Date
	result      Result
	resched     RescheduleResult
	err         error
}

func (f *fakeScheduling) Schedule(_ context.Context, req Request) (Result, error) {
	f.lastRequest = req
	return f.result, f.err
}

func (f *fakeScheduling) CheckAvailability(_ context.Context, q AvailabilityQuery) (Availability, error) {
	f.lastQuery = q
	return Availability{Available: true}, f.err
}

func (f *fakeScheduling) Reschedule(context.Context, string, RescheduleRequest) (RescheduleResult, error) {
	return f.resched, f.err
}

func (f *fakeScheduling) UpdateStatus(_ context.Context, id string, status sessions.Status) (*sessions.BookedSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &sessions.BookedSession{ID: id, Status: status}, nil
}

func (f *fakeScheduling) ApplyTemplate(context.Context, string, TemplateApplication) (Result, error) {
	return f.result, f.err
}

func (f *fakeScheduling) DayConflicts(_ context.Context, _ string, date civil.Date) ([]conflicts.Conflict, error) {
	f.lastDate = date
	return []conflicts.Conflict{}, f.err
}

func serveScheduling(svc Scheduling, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	NewHandler(svc, nil).Routes().ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body respond.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Code
}

func TestHandlerScheduleDecodesRequest(t *testing.T) {
	svc := &fakeScheduling{result: Result{Summary: Summary{Total: 4, SuccessCount: 3, FailureCount: 1}}}
	rec := serveScheduling(svc, http.MethodPost, "/sessions/schedule", `{
		"therapist_id": "t-1",
		"patient_id": "p-1",
		"start_date": "2024-01-01",
		"time_slots": ["10:00", "14:30"],
		"recurrence": {"frequency": "weekly", "days_of_week": ["MONDAY", "WEDNESDAY"], "occurrence_count": 4},
		"auto_resolve_conflicts": true
	}`)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "t-1", svc.lastRequest.TherapistID)
	assert.Equal(t, monday, svc.lastRequest.StartDate)
	assert.Equal(t, tod("14:30"), svc.lastRequest.TimeSlots[1])
	require.NotNil(t, svc.lastRequest.Recurrence)
	assert.Equal(t, recurrence.Weekly, svc.lastRequest.Recurrence.Frequency)
	require.NotNil(t, svc.lastRequest.AutoResolveConflicts)
	assert.True(t, *svc.lastRequest.AutoResolveConflicts)
}

func TestHandlerScheduleStatus(t *testing.T) {
	cases := []struct {
		summary Summary
		want    int
	}{
		{Summary{Total: 2, SuccessCount: 2}, http.StatusCreated},
		{Summary{Total: 2, SuccessCount: 1, FailureCount: 1}, http.StatusCreated},
		{Summary{Total: 2, FailureCount: 2}, http.StatusConflict},
		{Summary{}, http.StatusOK},
	}
	for _, tc := range cases {
		svc := &fakeScheduling{result: Result{Summary: tc.summary}}
		rec := serveScheduling(svc, http.MethodPost, "/sessions/schedule", `{"therapist_id":"t-1","start_date":"2024-01-01","time_slots":["10:00"]}`)
		assert.Equal(t, tc.want, rec.Code, "summary %+v", tc.summary)
	}
}

func TestHandlerDecodeErrors(t *testing.T) {
	svc := &fakeScheduling{}

	rec := serveScheduling(svc, http.MethodPost, "/sessions/schedule", `{"therapist_id":"t-1","start_date":"2024-01-01","time_slots":["25:00"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_time", errorCode(t, rec))

	rec = serveScheduling(svc, http.MethodPost, "/sessions/schedule", `{"therapist_id":"t-1","bogus":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_json", errorCode(t, rec))
}

func TestHandlerErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
		name string
	}{
		{fmt.Errorf("scheduler: recurrence: %w", recurrence.ErrNoTermination), http.StatusBadRequest, "no_termination"},
		{recurrence.ErrInvalidDateRange, http.StatusBadRequest, "invalid_date_range"},
		{ErrInvalidRequest, http.StatusBadRequest, "invalid_request"},
		{fmt.Errorf("scheduler: load session: %w", sessions.ErrNotFound), http.StatusNotFound, "not_found"},
		{ErrNotReschedulable, http.StatusConflict, "not_reschedulable"},
		{fmt.Errorf("scheduler: lock: %w", locking.ErrNotAcquired), http.StatusServiceUnavailable, "busy"},
		{ErrTemplatesDisabled, http.StatusNotImplemented, "templates_disabled"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		svc := &fakeScheduling{err: tc.err}
		rec := serveScheduling(svc, http.MethodPost, "/sessions/s-1/reschedule", `{"date":"2024-01-02","start_time":"10:00"}`)
		assert.Equal(t, tc.code, rec.Code, tc.err.Error())
		assert.Equal(t, tc.name, errorCode(t, rec))
	}
}

func TestHandlerRescheduleConflict(t *testing.T) {
	svc := &fakeScheduling{resched: RescheduleResult{Rescheduled: false, Conflicts: []conflicts.Conflict{{Kind: conflicts.KindSessionOverlap, Reason: "overlap"}}}}
	rec := serveScheduling(svc, http.MethodPost, "/sessions/s-1/reschedule", `{"date":"2024-01-02","start_time":"10:00"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "session_overlap")

	svc.resched = RescheduleResult{Rescheduled: true}
	rec = serveScheduling(svc, http.MethodPost, "/sessions/s-1/reschedule", `{"date":"2024-01-02","start_time":"10:00"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlerAvailabilityAndStatus(t *testing.T) {
	svc := &fakeScheduling{}

	rec := serveScheduling(svc, http.MethodPost, "/availability/check", `{"therapist_id":"t-1","date":"2024-01-01","time_slots":["09:00"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, monday, svc.lastQuery.Date)

	rec = serveScheduling(svc, http.MethodPatch, "/sessions/s-1/status", `{"status":"completed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"completed"`)
}

func TestHandlerDayConflicts(t *testing.T) {
	svc := &fakeScheduling{}

	rec := serveScheduling(svc, http.MethodGet, "/therapists/t-1/conflicts?date=2024-01-01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, monday, svc.lastDate)
	assert.Contains(t, rec.Body.String(), `"conflicts":[]`)

	rec = serveScheduling(svc, http.MethodGet, "/therapists/t-1/conflicts?date=01/02/2024", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_date", errorCode(t, rec))
}

func TestHandlerApplyTemplate(t *testing.T) {
	svc := &fakeScheduling{result: Result{Summary: Summary{Total: 1, SuccessCount: 1}}}
	rec := serveScheduling(svc, http.MethodPost, "/templates/tpl-1/apply", `{"patient_id":"p-1","start_date":"2024-01-01"}`)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}
