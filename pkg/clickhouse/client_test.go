package clickhouse

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDSN(t *testing.T) {
	dsn := buildDSN(ClientConfig{
		Host:        "ch",
		Port:        9000,
		Database:    "finalloc",
		User:        "default",
		DialTimeout: 5 * time.Second,
		MaxExecTime: time.Minute,
		AsyncInsert: true,
	})
	assert.Equal(t, "clickhouse://default:@ch:9000/finalloc?dial_timeout=5s&max_execution_time=60&async_insert=1", dsn)

	http := buildDSN(ClientConfig{Host: "ch", Port: 8123, Database: "d", UseHTTP: true})
	assert.True(t, strings.HasPrefix(http, "clickhouse+http://"))
}

func TestSchema(t *testing.T) {
	stmts := Schema("finalloc")
	assert.Len(t, stmts, 6)
	assert.Contains(t, stmts[1], "finalloc.bars_1d")
	assert.Contains(t, stmts[1], "ORDER BY (symbol, date)")
	assert.Contains(t, stmts[5], "finalloc.symbol_meta")
}

func TestClientConfigDefaultsAndOptions(t *testing.T) {
	cfg := defaultClientConfig()
	for _, opt := range []ClientOption{
		WithHost("ch"),
		WithDatabase(""),
		WithCredentials("", "secret"),
		WithPort(0),
		WithHTTP(true),
		WithTimeouts(0, time.Minute, 0),
		WithAsyncInsert(false, true),
		WithMaxConnections(4, 8),
	} {
		opt(&cfg)
	}
	require.NoError(t, cfg.validate())
	assert.Equal(t, DefaultDatabase, cfg.Database)
	assert.Equal(t, "default", cfg.User)
	assert.Equal(t, "secret", cfg.Password)
	assert.Equal(t, 8123, cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.DialTimeout)
	assert.Equal(t, time.Minute, cfg.ReadTimeout)
	assert.False(t, cfg.WaitForAsync)
	assert.Equal(t, 4, cfg.MaxIdleConns)

	empty := defaultClientConfig()
	assert.Error(t, empty.validate())
	_, err := NewClient(WithHost(""))
	assert.Error(t, err)
}
