package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"FinAlloc/internal/domain/models"
	"FinAlloc/pkg/cache"
	applogger "FinAlloc/pkg/logger"
	"FinAlloc/pkg/queue"
)

const (
	BacktestJobType = "backtest.run"
	jobKeyPrefix    = "backtest"
)

var ErrJobNotFound = errors.New("backtest job not found")

// BacktestJobs submits backtests to the queue and tracks their status in the cache.
type BacktestJobs struct {
	runner *BacktestRunner
	queue  queue.Queue
	store  cache.Service
	ttl    time.Duration
	log    *applogger.Logger
	now    func() time.Time
}

func NewBacktestJobs(runner *BacktestRunner, q queue.Queue, store cache.Service, ttl time.Duration, log *applogger.Logger) *BacktestJobs {
	if log == nil {
		log = applogger.Nop()
	}
	j := &BacktestJobs{runner: runner, queue: q, store: store, ttl: ttl, log: log.Component("backtest_jobs"), now: time.Now}
	q.RegisterJob(j)
	return j
}

func (j *BacktestJobs) Name() string { return "backtest" }

func (j *BacktestJobs) Type() string { return BacktestJobType }

func jobKey(id string) string { return cache.GenerateKey(jobKeyPrefix, id) }

// Submit records the job as queued and enqueues it.
func (j *BacktestJobs) Submit(ctx context.Context, from, to time.Time, initialEquity float64) (*models.BacktestJob, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("to must be after from: %w", models.ErrConfiguration)
	}
	job := &models.BacktestJob{
		ID:            uuid.NewString(),
		From:          from,
		To:            to,
		InitialEquity: initialEquity,
		Status:        models.BacktestQueued,
		SubmittedAt:   j.now().UTC(),
	}
	if err := j.save(ctx, job); err != nil {
		return nil, err
	}
	if _, err := j.queue.Enqueue(ctx, BacktestJobType, job); err != nil {
		return nil, fmt.Errorf("enqueue backtest: %w", err)
	}
	return job, nil
}

func (j *BacktestJobs) Status(ctx context.Context, id string) (*models.BacktestJob, error) {
	var job models.BacktestJob
	if err := j.store.Get(ctx, jobKey(id), &job); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("load backtest job: %w", err)
	}
	return &job, nil
}

// Handle runs a queued job. Client errors mark the job failed without a retry.
func (j *BacktestJobs) Handle(ctx context.Context, payload json.RawMessage) error {
	job, err := queue.ParsePayload[models.BacktestJob](payload)
	if err != nil {
		return err
	}
	job.Status = models.BacktestRunning
	if err := j.save(ctx, job); err != nil {
		return err
	}

	report, runErr := j.runner.Run(ctx, job.From, job.To, job.InitialEquity)
	done := j.now().UTC()
	job.FinishedAt = &done
	if runErr != nil {
		job.Status = models.BacktestFailed
		job.Error = runErr.Error()
		if err := j.save(ctx, job); err != nil {
			return err
		}
		if IsClientError(runErr) {
			j.log.Warn("backtest rejected", applogger.String("job_id", job.ID), applogger.Error(runErr))
			return nil
		}
		return runErr
	}

	job.Status = models.BacktestDone
	summary := report.Summary.Finite()
	job.Summary = &summary
	job.Dates = report.Result.Dates
	job.Equity = report.Result.Equity
	return j.save(ctx, job)
}

func (j *BacktestJobs) save(ctx context.Context, job *models.BacktestJob) error {
	if err := j.store.Set(ctx, jobKey(job.ID), job, j.ttl); err != nil {
		return fmt.Errorf("save backtest job: %w", err)
	}
	return nil
}

var _ queue.Job = (*BacktestJobs)(nil)
