package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinAlloc/internal/domain/models"
	"FinAlloc/internal/usecase"
	xhttp "FinAlloc/pkg/http"
)

type fakeSignals struct {
	err     error
	gotFrom time.Time
	gotTo   time.Time
	gotLast int
	gotRisk [2]float64
	gotAsOf time.Time
	regimes []models.RegimeState
	breadth []models.BreadthAllocation
	targets *usecase.TargetsView
}

func (f *fakeSignals) Regimes(_ context.Context, from, to time.Time, last int) ([]models.RegimeState, error) {
	f.gotFrom, f.gotTo, f.gotLast = from, to, last
	return f.regimes, f.err
}

func (f *fakeSignals) Breadth(_ context.Context, from, to time.Time, riskOff, riskOn float64) ([]models.BreadthAllocation, error) {
	f.gotRisk = [2]float64{riskOff, riskOn}
	return f.breadth, f.err
}

func (f *fakeSignals) Targets(_ context.Context, asOf time.Time) (*usecase.TargetsView, error) {
	f.gotAsOf = asOf
	return f.targets, f.err
}

type fakeJobs struct {
	jobs map[string]*models.BacktestJob
	err  error
}

func (f *fakeJobs) Submit(_ context.Context, from, to time.Time, eq float64) (*models.BacktestJob, error) {
	if f.err != nil {
		return nil, f.err
	}
	id := fmt.Sprintf("00000000-0000-0000-0000-%012d", len(f.jobs)+1)
	job := &models.BacktestJob{ID: id, From: from, To: to, InitialEquity: eq, Status: models.BacktestQueued}
	f.jobs[id] = job
	return job, nil
}

func (f *fakeJobs) Status(_ context.Context, id string) (*models.BacktestJob, error) {
	if j, ok := f.jobs[id]; ok {
		return j, nil
	}
	return nil, usecase.ErrJobNotFound
}

func newEcho(sig *fakeSignals, jobs *fakeJobs, checks map[string]HealthCheck) *echo.Echo {
	e := echo.New()
	NewPipelineEchoHandler(nil, sig, jobs, 0.01, 2, checks).RegisterRoutes(e)
	return e
}

func call(e *echo.Echo, method, target, body string) (*httptest.ResponseRecorder, xhttp.APIResponse) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var out xhttp.APIResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestRegimeParsesWindow(t *testing.T) {
	sig := &fakeSignals{regimes: []models.RegimeState{{Label: models.RegimeRiskOn, Score: 0.7}}}
	e := newEcho(sig, &fakeJobs{jobs: map[string]*models.BacktestJob{}}, nil)

	rec, body := call(e, http.MethodGet, "/api/regime?from=2024-01-02&to=2024-03-29&last=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusOK, body.Status)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), sig.gotFrom)
	assert.Equal(t, time.Date(2024, 3, 29, 0, 0, 0, 0, time.UTC), sig.gotTo)
	assert.Equal(t, 5, sig.gotLast)

	_, _ = call(e, http.MethodGet, "/api/regime", "")
	assert.Equal(t, 60, sig.gotLast, "last defaults to 60")
	assert.True(t, sig.gotFrom.IsZero())

	rec, _ = call(e, http.MethodGet, "/api/regime?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = call(e, http.MethodGet, "/api/regime?last=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBreadthValidatesThresholds(t *testing.T) {
	sig := &fakeSignals{}
	e := newEcho(sig, &fakeJobs{jobs: map[string]*models.BacktestJob{}}, nil)

	rec, _ := call(e, http.MethodGet, "/api/regime/breadth?risk_off=0.3&risk_on=0.7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, [2]float64{0.3, 0.7}, sig.gotRisk)

	rec, _ = call(e, http.MethodGet, "/api/regime/breadth?risk_off=0.7&risk_on=0.5", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDomainErrorsMapToStatus(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("x: %w", models.ErrConfiguration), http.StatusBadRequest},
		{fmt.Errorf("x: %w", models.ErrMarketDataGap), http.StatusUnprocessableEntity},
		{models.ErrNoActiveSleeves, http.StatusUnprocessableEntity},
		{errors.New("clickhouse down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		e := newEcho(&fakeSignals{err: tc.err}, &fakeJobs{jobs: map[string]*models.BacktestJob{}}, nil)
		rec, _ := call(e, http.MethodGet, "/api/targets?asof=2024-05-01", "")
		assert.Equal(t, tc.code, rec.Code, tc.err.Error())
	}
}

func TestTargetsReturnsView(t *testing.T) {
	asOf := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	sig := &fakeSignals{targets: &usecase.TargetsView{AsOf: asOf, Weights: map[string]float64{"AAA": 0.1, "BBB": -0.1}}}
	e := newEcho(sig, &fakeJobs{jobs: map[string]*models.BacktestJob{}}, nil)

	rec, body := call(e, http.MethodGet, "/api/targets?asof=2024-05-01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, asOf, sig.gotAsOf)
	data := body.Data.(map[string]interface{})
	assert.Equal(t, 0.1, data["weights"].(map[string]interface{})["AAA"])
}

func TestBacktestSubmitStatusAndRateLimit(t *testing.T) {
	jobs := &fakeJobs{jobs: map[string]*models.BacktestJob{}}
	e := newEcho(&fakeSignals{}, jobs, nil)

	rec, body := call(e, http.MethodPost, "/api/backtests", `{"from":"2023-01-02","to":"2023-12-29"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	id := body.Data.(map[string]interface{})["id"].(string)
	require.Contains(t, jobs.jobs, id)
	assert.Equal(t, 1_000_000.0, jobs.jobs[id].InitialEquity, "initial_equity defaults")

	rec, body = call(e, http.MethodGet, "/api/backtests/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "queued", body.Data.(map[string]interface{})["status"])

	rec, _ = call(e, http.MethodGet, "/api/backtests/00000000-0000-0000-0000-000000000099", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = call(e, http.MethodGet, "/api/backtests/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = call(e, http.MethodPost, "/api/backtests", `{"from":"2023-01-02"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing to")

	rec, _ = call(e, http.MethodPost, "/api/backtests", `{"from":"2023-01-02","to":"2023-12-29"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "burst of two is spent")
}

func TestHealthReportsEachDependency(t *testing.T) {
	checks := map[string]HealthCheck{
		"clickhouse": func(context.Context) error { return nil },
		"redis":      func(context.Context) error { return errors.New("dial tcp: refused") },
	}
	e := newEcho(&fakeSignals{}, &fakeJobs{jobs: map[string]*models.BacktestJob{}}, checks)

	rec, body := call(e, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	data := body.Data.(map[string]interface{})
	assert.Equal(t, "ok", data["clickhouse"])
	assert.Equal(t, "dial tcp: refused", data["redis"])

	delete(checks, "redis")
	rec, _ = call(e, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
