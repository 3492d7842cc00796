package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/orgball2608/insta-metrics-collector/internal/collector"
	"github.com/orgball2608/insta-metrics-collector/internal/domain"
	"github.com/orgball2608/insta-metrics-collector/internal/lock"
	"github.com/orgball2608/insta-metrics-collector/internal/repositories/collection"
	"github.com/orgball2608/insta-metrics-collector/pkg/errors"
	"github.com/orgball2608/insta-metrics-collector/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	batch       *collector.BatchReport
	batchErr    error
	batchReq    collector.BatchRequest
	status      collector.DailyStatus
	report      *collector.RunReport
	refreshErr  error
	lastReq     collector.RefreshRequest
	backfillReq collector.BackfillRequest
	missingReq  collector.MissingMetricsRequest
}

func (f *fakeClient) RunDailyBatch(ctx context.Context, req collector.BatchRequest) (*collector.BatchReport, error) {
	f.batchReq = req
	return f.batch, f.batchErr
}

func (f *fakeClient) DailyStatus() collector.DailyStatus { return f.status }

func (f *fakeClient) ManualRefresh(ctx context.Context, req collector.RefreshRequest) (*collector.RunReport, error) {
	f.lastReq = req
	return f.report, f.refreshErr
}

func (f *fakeClient) Backfill(ctx context.Context, req collector.BackfillRequest) (*collector.RunReport, error) {
	f.backfillReq = req
	return f.report, f.refreshErr
}

func (f *fakeClient) CollectMissingMetrics(ctx context.Context, req collector.MissingMetricsRequest) (*collector.RunReport, error) {
	f.missingReq = req
	return f.report, f.refreshErr
}

func (f *fakeClient) ScheduleDailyBatch(ctx context.Context) error { return nil }

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(t *testing.T, client collector.Client, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	NewRouter(client, logger.NewNop(), "test").ServeHTTP(w, req)
	return w
}

func outcomeWith(o domain.RunOutcome) collector.AccountOutcome {
	return collector.AccountOutcome{AccountID: string(o), Report: &collector.RunReport{Outcome: o}}
}

func TestHealthz(t *testing.T) {
	w := serve(t, &fakeClient{}, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestRunDailyStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		report *collector.BatchReport
		want   int
	}{
		{
			name:   "all succeeded",
			report: &collector.BatchReport{Status: collector.StatusCompleted, Accounts: []collector.AccountOutcome{outcomeWith(domain.OutcomeSuccess)}},
			want:   http.StatusOK,
		},
		{
			name: "mixed",
			report: &collector.BatchReport{Status: collector.StatusCompleted, Accounts: []collector.AccountOutcome{
				outcomeWith(domain.OutcomeSuccess),
				outcomeWith(domain.OutcomeFailed),
			}},
			want: http.StatusMultiStatus,
		},
		{
			name:   "all failed",
			report: &collector.BatchReport{Status: collector.StatusFailed, Accounts: []collector.AccountOutcome{outcomeWith(domain.OutcomeFailed)}},
			want:   http.StatusInternalServerError,
		},
		{
			name:   "no accounts",
			report: &collector.BatchReport{Status: collector.StatusCompleted},
			want:   http.StatusOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, &fakeClient{batch: tt.report}, http.MethodPost, "/collection/daily", "")
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRunDailyPassesAccountFilter(t *testing.T) {
	client := &fakeClient{batch: &collector.BatchReport{Status: collector.StatusCompleted}}

	w := serve(t, client, http.MethodPost, "/collection/daily", `{"account_ids":["a","b"]}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"a", "b"}, client.batchReq.AccountIDs)
	assert.True(t, client.batchReq.TargetDate.IsZero())
}

func TestRunDailyPassesTargetDateAndDryRun(t *testing.T) {
	client := &fakeClient{batch: &collector.BatchReport{Status: collector.StatusCompleted}}

	w := serve(t, client, http.MethodPost, "/collection/daily", `{"target_date":"2025-06-09","dry_run":true}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC), client.batchReq.TargetDate)
	assert.True(t, client.batchReq.DryRun)

	w = serve(t, client, http.MethodPost, "/collection/daily", `{"target_date":"09/06/2025"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunDailyErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		want     int
		wantCode string
	}{
		{name: "already running", err: collector.ErrBatchRunning, want: http.StatusConflict, wantCode: "batch_running"},
		{name: "bad target date", err: fmt.Errorf("%w: target_date is in the future", collector.ErrInvalidRequest), want: http.StatusBadRequest, wantCode: "invalid_collection_request"},
		{name: "store down", err: collection.ErrUnavailable, want: http.StatusServiceUnavailable, wantCode: "collection_unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, &fakeClient{batchErr: tt.err}, http.MethodPost, "/collection/daily", "")
			assert.Equal(t, tt.want, w.Code)

			var body errorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Code)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestDailyStatus(t *testing.T) {
	done := time.Date(2025, 6, 10, 6, 5, 0, 0, time.UTC)
	client := &fakeClient{status: collector.DailyStatus{
		CompletedAt: &done,
		LastSummary: &collector.BatchSummary{Status: collector.StatusCompleted, TargetDate: "2025-06-09", Succeeded: 3},
	}}

	w := serve(t, client, http.MethodGet, "/collection/daily/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body collector.DailyStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Running)
	require.NotNil(t, body.LastSummary)
	assert.Equal(t, "2025-06-09", body.LastSummary.TargetDate)
	assert.Equal(t, 3, body.LastSummary.Succeeded)
}

func TestBackfill(t *testing.T) {
	client := &fakeClient{report: &collector.RunReport{Trigger: domain.TriggerBackfill, Outcome: domain.OutcomeSuccess}}

	w := serve(t, client, http.MethodPost, "/collection/accounts/acc-1/backfill", `{"start_date":"2025-05-01","end_date":"2025-05-31","max_posts":500}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, collector.BackfillRequest{
		AccountID: "acc-1",
		StartDate: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC),
		MaxPosts:  500,
	}, client.backfillReq)

	w = serve(t, client, http.MethodPost, "/collection/accounts/acc-1/backfill", `{"start_date":"2025-05-01"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(t, client, http.MethodPost, "/collection/accounts/acc-1/backfill", `{"start_date":"2025-05-01","end_date":"2025-05-31","max_posts":1001}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMissingMetrics(t *testing.T) {
	client := &fakeClient{report: &collector.RunReport{Trigger: domain.TriggerMissingMetrics, Outcome: domain.OutcomeSuccess}}

	w := serve(t, client, http.MethodPost, "/collection/accounts/acc-1/missing-metrics", `{"days_back":14}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, collector.MissingMetricsRequest{AccountID: "acc-1", DaysBack: 14}, client.missingReq)

	w = serve(t, client, http.MethodPost, "/collection/accounts/acc-1/missing-metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, collector.MissingMetricsRequest{AccountID: "acc-1"}, client.missingReq)

	w = serve(t, client, http.MethodPost, "/collection/accounts/acc-1/missing-metrics", `{"days_back":91}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRefreshSuccess(t *testing.T) {
	client := &fakeClient{report: &collector.RunReport{RunID: "run-1", Outcome: domain.OutcomeSuccess}}

	w := serve(t, client, http.MethodPost, "/collection/accounts/acc-1/refresh", `{"window_days":7,"max_posts":20,"force":true,"dry_run":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, collector.RefreshRequest{AccountID: "acc-1", WindowDays: 7, MaxPosts: 20, Force: true, DryRun: true}, client.lastReq)

	var body collector.RunReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "run-1", body.RunID)
}

func TestRefreshWithoutBodyUsesDefaults(t *testing.T) {
	client := &fakeClient{report: &collector.RunReport{Outcome: domain.OutcomePartial}}

	w := serve(t, client, http.MethodPost, "/collection/accounts/acc-1/refresh", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, collector.RefreshRequest{AccountID: "acc-1"}, client.lastReq)
}

func TestRefreshErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		report     *collector.RunReport
		wantStatus int
		retryAfter string
	}{
		{
			name:       "too soon",
			err:        &lock.DeniedError{AccountID: "acc-1", Reason: lock.ReasonTooSoon, RetryAfter: 54500 * time.Millisecond},
			wantStatus: http.StatusTooManyRequests,
			retryAfter: "55",
		},
		{
			name:       "already running",
			err:        &lock.DeniedError{AccountID: "acc-1", Reason: lock.ReasonAlreadyRunning},
			wantStatus: http.StatusConflict,
		},
		{
			name:       "unknown account",
			err:        collector.ErrAccountNotFound,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "window out of range",
			body:       `{"window_days":91}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "max posts out of range",
			body:       `{"max_posts":500}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unexpected error",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "failed run",
			report:     &collector.RunReport{Outcome: domain.OutcomeFailed, Error: "graph api down"},
			wantStatus: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{report: tt.report, refreshErr: tt.err}
			w := serve(t, client, http.MethodPost, "/collection/accounts/acc-1/refresh", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.retryAfter, w.Header().Get("Retry-After"))
		})
	}
}
