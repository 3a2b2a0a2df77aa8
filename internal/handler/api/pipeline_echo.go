package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"

	"FinAlloc/internal/domain/models"
	"FinAlloc/internal/service/metrics"
	"FinAlloc/internal/service/ratelimit"
	"FinAlloc/internal/usecase"
	xhttp "FinAlloc/pkg/http"
	xlogger "FinAlloc/pkg/logger"
)

// SignalReader serves the read-only pipeline views.
type SignalReader interface {
	Regimes(ctx context.Context, from, to time.Time, last int) ([]models.RegimeState, error)
	Breadth(ctx context.Context, from, to time.Time, riskOff, riskOn float64) ([]models.BreadthAllocation, error)
	Targets(ctx context.Context, asOf time.Time) (*usecase.TargetsView, error)
}

// BacktestSubmitter queues backtests and reports their status.
type BacktestSubmitter interface {
	Submit(ctx context.Context, from, to time.Time, initialEquity float64) (*models.BacktestJob, error)
	Status(ctx context.Context, id string) (*models.BacktestJob, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

type PipelineEchoHandler struct {
	logger  *xlogger.Logger
	signals SignalReader
	jobs    BacktestSubmitter
	limiter *ratelimit.Limiter
	burst   float64
	rps     float64
	checks  map[string]HealthCheck
}

// NewPipelineEchoHandler rate limits backtest submissions to rps with the given burst.
func NewPipelineEchoHandler(logger *xlogger.Logger, signals SignalReader, jobs BacktestSubmitter, rps, burst float64, checks map[string]HealthCheck) *PipelineEchoHandler {
	metrics.Register()
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &PipelineEchoHandler{
		logger:  logger.Component("api"),
		signals: signals,
		jobs:    jobs,
		limiter: ratelimit.New(),
		burst:   burst,
		rps:     rps,
		checks:  checks,
	}
}

func (h *PipelineEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/health", h.Health)
	g.GET("/regime", h.Regime)
	g.GET("/regime/breadth", h.Breadth)
	g.GET("/targets", h.Targets)
	g.POST("/backtests", h.SubmitBacktest, h.limiter.Middleware(h.burst, h.rps))
	g.GET("/backtests/:id", h.BacktestStatus)
}

func observe(endpoint string, start time.Time) {
	metrics.APILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

var statusMappings = []xhttp.StatusMapping{
	{Target: models.ErrConfiguration, New: xhttp.BadRequestError},
	{Target: models.ErrMarketDataGap, New: xhttp.UnprocessableError},
	{Target: models.ErrNoActiveSleeves, New: xhttp.UnprocessableError},
	{Target: usecase.ErrJobNotFound, New: xhttp.NotFoundError},
}

// fail reports domain errors under their mapped status and logs the rest as 500.
func (h *PipelineEchoHandler) fail(c echo.Context, endpoint string, err error) error {
	metrics.APIErrors.WithLabelValues(endpoint).Inc()
	if appErr := xhttp.MapError(err, statusMappings...); appErr != nil {
		return xhttp.AppErrorResponse(c, appErr)
	}
	h.logger.Error(endpoint+" usecase error", xlogger.Error(err))
	return xhttp.InternalServerErrorResponse(c)
}

func (h *PipelineEchoHandler) Health(c echo.Context) error {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := make(map[string]string, len(names))
	healthy := true
	for _, name := range names {
		if err := h.checks[name](c.Request().Context()); err != nil {
			status[name] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}
	if !healthy {
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, status)
	}
	return xhttp.SuccessResponse(c, status)
}

func (h *PipelineEchoHandler) Regime(c echo.Context) error {
	start := time.Now()
	defer observe("regime", start)
	req := &models.RegimeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	from, aerr := xhttp.ParseDateDefault("from", req.From, time.Time{})
	if aerr != nil {
		return xhttp.AppErrorResponse(c, aerr)
	}
	to, aerr := xhttp.ParseDateDefault("to", req.To, time.Time{})
	if aerr != nil {
		return xhttp.AppErrorResponse(c, aerr)
	}

	res, err := h.signals.Regimes(c.Request().Context(), from, to, req.Last)
	if err != nil {
		return h.fail(c, "regime", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=60")
	return xhttp.SuccessResponse(c, res)
}

func (h *PipelineEchoHandler) Breadth(c echo.Context) error {
	start := time.Now()
	defer observe("breadth", start)
	req := &models.BreadthRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	from, aerr := xhttp.ParseDateDefault("from", req.From, time.Time{})
	if aerr != nil {
		return xhttp.AppErrorResponse(c, aerr)
	}
	to, aerr := xhttp.ParseDateDefault("to", req.To, time.Time{})
	if aerr != nil {
		return xhttp.AppErrorResponse(c, aerr)
	}

	res, err := h.signals.Breadth(c.Request().Context(), from, to, req.RiskOff, req.RiskOn)
	if err != nil {
		return h.fail(c, "breadth", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *PipelineEchoHandler) Targets(c echo.Context) error {
	start := time.Now()
	defer observe("targets", start)
	req := &models.TargetsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	asOf, aerr := xhttp.ParseDateDefault("asof", req.AsOf, time.Time{})
	if aerr != nil {
		return xhttp.AppErrorResponse(c, aerr)
	}

	res, err := h.signals.Targets(c.Request().Context(), asOf)
	if err != nil {
		return h.fail(c, "targets", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *PipelineEchoHandler) SubmitBacktest(c echo.Context) error {
	start := time.Now()
	defer observe("backtest_submit", start)
	req := &models.BacktestRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	from, aerr := xhttp.ParseDateDefault("from", req.From, time.Time{})
	if aerr != nil {
		return xhttp.AppErrorResponse(c, aerr)
	}
	to, aerr := xhttp.ParseDateDefault("to", req.To, time.Time{})
	if aerr != nil {
		return xhttp.AppErrorResponse(c, aerr)
	}

	job, err := h.jobs.Submit(c.Request().Context(), from, to, req.InitialEquity)
	if err != nil {
		metrics.BacktestJobs.WithLabelValues("rejected").Inc()
		return h.fail(c, "backtest_submit", err)
	}
	metrics.BacktestJobs.WithLabelValues(string(job.Status)).Inc()
	h.logger.Info("backtest queued", xlogger.String("job_id", job.ID), xlogger.Date("from", from), xlogger.Date("to", to))
	return xhttp.AcceptedResponse(c, map[string]string{"id": job.ID, "status": string(job.Status)})
}

func (h *PipelineEchoHandler) BacktestStatus(c echo.Context) error {
	start := time.Now()
	defer observe("backtest_status", start)
	req := &models.BacktestStatusRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	job, err := h.jobs.Status(c.Request().Context(), req.ID)
	if err != nil {
		return h.fail(c, "backtest_status", err)
	}
	return xhttp.SuccessResponse(c, job)
}

var _ xhttp.Handler = (*PipelineEchoHandler)(nil)
