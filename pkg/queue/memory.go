package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"FinAlloc/pkg/logger"
)

// MemoryQueue is an in-process Queue. Messages are lost on restart.
type MemoryQueue struct {
	logger    *logger.Logger
	config    QueueConfig
	jobs      map[string]Job
	ch        chan Message
	mu        sync.RWMutex
	wg        sync.WaitGroup
	isRunning bool
	ctx       context.Context
	cancel    context.CancelFunc
	dead      []Message
}

var _ Queue = (*MemoryQueue)(nil)

func NewMemoryQueue(lgr *logger.Logger, config QueueConfig) *MemoryQueue {
	config.normalize()
	if lgr == nil {
		lgr = logger.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryQueue{
		logger: lgr.Component("memory_queue"),
		config: config,
		jobs:   make(map[string]Job),
		ch:     make(chan Message, config.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (q *MemoryQueue) RegisterJob(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.jobs[job.Type()]; ok {
		q.logger.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	q.jobs[job.Type()] = job
}

func (q *MemoryQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.isRunning {
		return fmt.Errorf("queue already running")
	}
	q.isRunning = true
	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.logger.Info("memory queue started", logger.Int("workers", q.config.Workers))
	return nil
}

func (q *MemoryQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.isRunning {
		q.mu.Unlock()
		return nil
	}
	q.isRunning = false
	q.cancel()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("timeout: %w", ctx.Err())
	case <-done:
		return nil
	}
}

// Enqueue blocks while the buffer is full, until ctx is done.
func (q *MemoryQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) (string, error) {
	q.mu.RLock()
	running := q.isRunning
	_, known := q.jobs[msgType]
	q.mu.RUnlock()
	if !running {
		return "", ErrNotRunning
	}
	if !known {
		return "", fmt.Errorf("no job registered for type: %s", msgType)
	}

	msg, err := newMessage(msgType, payload)
	if err != nil {
		return "", err
	}
	select {
	case q.ch <- msg:
		return msg.ID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-q.ctx.Done():
		return "", ErrNotRunning
	}
}

// DeadLetters returns messages that exhausted their retries.
func (q *MemoryQueue) DeadLetters() []Message {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]Message(nil), q.dead...)
}

func (q *MemoryQueue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case msg := <-q.ch:
			q.mu.RLock()
			job := q.jobs[msg.Type]
			q.mu.RUnlock()

			switch runJob(q.ctx, q.logger, job, &msg, q.config.RetryLimit) {
			case outcomeRetry:
				q.wg.Add(1)
				go q.requeue(msg)
			case outcomeDead:
				q.mu.Lock()
				q.dead = append(q.dead, msg)
				q.mu.Unlock()
			}
		}
	}
}

func (q *MemoryQueue) requeue(msg Message) {
	defer q.wg.Done()
	t := time.NewTimer(q.config.RetryDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-q.ctx.Done():
		return
	}
	select {
	case q.ch <- msg:
	case <-q.ctx.Done():
	}
}
