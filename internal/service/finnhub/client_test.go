package finnhub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeFinnhub(t *testing.T, subscribed chan<- string) *httptest.Server {
	up := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for i := 0; i < 2; i++ {
			var msg map[string]string
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			subscribed <- msg["symbol"]
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"trade","data":[{"s":"AAA","p":101.5,"v":3,"t":1714572000000}]}`))
		// keep the socket open until the client leaves
		_, _, _ = conn.ReadMessage()
	}))
}

func TestClientStreamsQuotes(t *testing.T) {
	subscribed := make(chan string, 2)
	srv := fakeFinnhub(t, subscribed)
	defer srv.Close()

	c := New("", "ws"+strings.TrimPrefix(srv.URL, "http"), []string{"AAA", "BBB"}, 10*time.Millisecond, time.Second, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	require.True(t, c.IsConnected())
	require.NoError(t, c.Subscribe(ctx))
	assert.Equal(t, "AAA", <-subscribed)
	assert.Equal(t, "BBB", <-subscribed)

	quotes, _ := c.Read(ctx)
	select {
	case q := <-quotes:
		require.NotNil(t, q)
		assert.Equal(t, "AAA", q.Symbol)
		assert.Equal(t, 101.5, q.Price)
		assert.Equal(t, time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC), q.Timestamp)
	case <-ctx.Done():
		t.Fatal("no quote received")
	}

	require.NoError(t, c.Close())
	assert.False(t, c.IsConnected())
}

func TestReadReconnectCyclesDoNotLeak(t *testing.T) {
	subscribed := make(chan string, 64)
	srv := fakeFinnhub(t, subscribed)
	defer srv.Close()

	c := New("", "ws"+strings.TrimPrefix(srv.URL, "http"), []string{"AAA", "BBB"}, 0, time.Second, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Subscribe(ctx))
	before := runtime.NumGoroutine()

	for i := 0; i < 20; i++ {
		quotes, errs := c.Read(ctx)
		select {
		case q := <-quotes:
			require.NotNil(t, q)
		case <-ctx.Done():
			t.Fatal("no quote received")
		}
		require.NoError(t, c.Reconnect(ctx))
		for range quotes {
		}
		assert.Error(t, <-errs)
	}
	require.NoError(t, c.Close())

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+2
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSubscribeRequiresConnection(t *testing.T) {
	c := New("", "ws://127.0.0.1:1", []string{"AAA"}, 0, 0, nil)
	assert.ErrorIs(t, c.Subscribe(context.Background()), errNotConnected)

	_, errs := c.Read(context.Background())
	assert.ErrorIs(t, <-errs, errNotConnected)
}
