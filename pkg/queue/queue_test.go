package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoPayload struct {
	From string `json:"from"`
}

type testJob struct {
	fails int32
	calls atomic.Int32
	seen  chan string
}

func (j *testJob) Name() string { return "test" }
func (j *testJob) Type() string { return "backtest" }

func (j *testJob) Handle(_ context.Context, payload json.RawMessage) error {
	n := j.calls.Add(1)
	if n <= j.fails {
		return errors.New("transient")
	}
	p, err := ParsePayload[echoPayload](payload)
	if err != nil {
		return err
	}
	j.seen <- p.From
	return nil
}

func TestMemoryQueueRunsJob(t *testing.T) {
	q := NewMemoryQueue(nil, QueueConfig{Workers: 2, RetryLimit: 2, RetryDelay: time.Millisecond})
	job := &testJob{fails: 1, seen: make(chan string, 1)}
	q.RegisterJob(job)
	require.NoError(t, q.Start())
	defer q.Stop(context.Background())

	id, err := q.Enqueue(context.Background(), "backtest", echoPayload{From: "2024-01-02"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	select {
	case from := <-job.seen:
		assert.Equal(t, "2024-01-02", from)
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}
	assert.Equal(t, int32(2), job.calls.Load())
}

func TestMemoryQueueDeadLetters(t *testing.T) {
	q := NewMemoryQueue(nil, QueueConfig{RetryLimit: 1, RetryDelay: time.Millisecond})
	job := &testJob{fails: 100, seen: make(chan string, 1)}
	q.RegisterJob(job)
	require.NoError(t, q.Start())
	defer q.Stop(context.Background())

	_, err := q.Enqueue(context.Background(), "backtest", echoPayload{})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(q.DeadLetters()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), job.calls.Load())
	assert.Equal(t, 1, q.DeadLetters()[0].Attempts)
}

func TestMemoryQueueRejects(t *testing.T) {
	q := NewMemoryQueue(nil, QueueConfig{})
	_, err := q.Enqueue(context.Background(), "backtest", nil)
	assert.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, q.Start())
	defer q.Stop(context.Background())
	_, err = q.Enqueue(context.Background(), "unknown", nil)
	assert.Error(t, err)
}

func TestParsePayload(t *testing.T) {
	p, err := ParsePayload[echoPayload](json.RawMessage(`{"from":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, "x", p.From)

	_, err = ParsePayload[echoPayload](json.RawMessage(`nope`))
	assert.Error(t, err)
}
