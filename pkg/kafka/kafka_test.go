package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

type funcHandler struct {
	topic string
	fn    func([]byte) error
}

func (h funcHandler) Topic() string                            { return h.topic }
func (h funcHandler) Handle(_ context.Context, b []byte) error { return h.fn(b) }

func TestProducerEncodesJSON(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, "snappy")

	require.NoError(t, p.Publish(context.Background(), "orders", []byte("AAA"), map[string]float64{"qty": 10}))
	require.NoError(t, p.PublishBatch(context.Background(), "trades", []Message{
		{Key: []byte("a"), Value: "raw", Headers: map[string]string{"trace_id": "t1"}},
	}))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "orders", w.msgs[0].Topic)
	assert.JSONEq(t, `{"qty":10}`, string(w.msgs[0].Value))
	assert.Equal(t, "raw", string(w.msgs[1].Value))
	assert.Equal(t, "trace_id", w.msgs[1].Headers[0].Key)
}

func TestProducerWrapsWriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := NewProducerWithWriter(w, "gzip")
	err := p.PublishMessage(context.Background(), "alerts", []int{1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alerts")
}

func newTestConsumer(t *testing.T, opts ...ConsumerOption) *Consumer {
	t.Helper()
	opts = append([]ConsumerOption{
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerRetry(2, time.Millisecond, 2*time.Millisecond),
	}, opts...)
	c, err := NewConsumer(nil, opts...)
	require.NoError(t, err)
	return c
}

func TestProcessRetriesThenCommits(t *testing.T) {
	c := newTestConsumer(t)
	r := &fakeReader{}
	c.readers["bars"] = r

	calls := 0
	c.RegisterHandler(funcHandler{topic: "bars", fn: func([]byte) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	}})

	err := c.process(context.Background(), kafka.Message{Topic: "bars", Value: []byte(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, r.commits())
}

func TestProcessDeadLetters(t *testing.T) {
	c := newTestConsumer(t, WithConsumerDLQ("dlq"))
	dlq := &fakeWriter{}
	c.UseDLQ(dlq)
	r := &fakeReader{}
	c.readers["bars"] = r
	c.UseHook(NewHookChain(TraceHook(), JSONValidationHook()))

	c.RegisterHandler(funcHandler{topic: "bars", fn: func([]byte) error { return nil }})

	err := c.process(context.Background(), kafka.Message{Topic: "bars", Value: []byte(`not json`)})
	var he *HookError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "ERR_VALIDATION", he.Code)
	require.Len(t, dlq.msgs, 1)
	assert.Equal(t, "dlq", dlq.msgs[0].Topic)
	assert.Equal(t, 1, r.commits())
}

func TestProcessWithoutDLQDoesNotCommitFailures(t *testing.T) {
	c := newTestConsumer(t, WithConsumerRetry(0, time.Millisecond, time.Millisecond))
	r := &fakeReader{}
	c.readers["bars"] = r
	c.RegisterHandler(funcHandler{topic: "bars", fn: func([]byte) error { panic("boom") }})

	err := c.process(context.Background(), kafka.Message{Topic: "bars", Value: []byte(`{}`)})
	require.Error(t, err)
	assert.Equal(t, 0, r.commits())
}

func TestConsumerStartStop(t *testing.T) {
	c := newTestConsumer(t)
	r := &fakeReader{queue: []kafka.Message{{Value: []byte(`1`)}, {Value: []byte(`2`)}}}
	c.UseReaders(func(string) MessageReader { return r })

	got := make(chan string, 2)
	c.RegisterHandler(funcHandler{topic: "bars", fn: func(b []byte) error {
		got <- string(b)
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))

	for i := 0; i < 2; i++ {
		select {
		case <-got:
		case <-time.After(2 * time.Second):
			t.Fatal("message not handled")
		}
	}
	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, c.Stop(stopCtx))
	assert.Equal(t, 2, r.commits())
}

func TestBackoffBounds(t *testing.T) {
	for attempt := 1; attempt < 10; attempt++ {
		d := backoffWithJitter(10*time.Millisecond, 100*time.Millisecond, attempt)
		assert.LessOrEqual(t, d, 100*time.Millisecond)
		assert.Greater(t, d, time.Duration(0))
	}
}
