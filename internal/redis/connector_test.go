package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/marksync/internal/config"
	"github.com/MrSnakeDoc/marksync/internal/logger"
)

func testOptions(addr string) ConnectOptions {
	return ConnectOptions{
		Addr:           addr,
		DialTimeout:    100 * time.Millisecond,
		ReadTimeout:    100 * time.Millisecond,
		WriteTimeout:   100 * time.Millisecond,
		PoolSize:       2,
		ConnectTimeout: 300 * time.Millisecond,
		RetryInterval:  20 * time.Millisecond,
		MaxWait:        50 * time.Millisecond,
		PingTimeout:    100 * time.Millisecond,
		WarnThreshold:  1,
	}
}

func TestNewConnects(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := New(context.Background(), testOptions(mr.Addr()), logger.Nop())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	assert.NoError(t, client.Ping(context.Background()).Err())
}

func TestNewGivesUp(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	start := time.Now()
	_, err := New(context.Background(), testOptions(addr), logger.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis unavailable")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestValidate(t *testing.T) {
	ok := testOptions("localhost:6379")
	require.NoError(t, ok.Validate())

	tests := map[string]func(*ConnectOptions){
		"missing addr":      func(o *ConnectOptions) { o.Addr = "" },
		"no timeout":        func(o *ConnectOptions) { o.ConnectTimeout = 0 },
		"no retry interval": func(o *ConnectOptions) { o.RetryInterval = 0 },
		"no max wait":       func(o *ConnectOptions) { o.MaxWait = 0 },
		"no ping timeout":   func(o *ConnectOptions) { o.PingTimeout = 0 },
		"negative warn":     func(o *ConnectOptions) { o.WarnThreshold = -1 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			o := ok
			mutate(&o)
			assert.Error(t, o.Validate())
		})
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := &config.Config{RedisAddr: "redis:6379", RedisDB: 2, RedisPoolSize: 7, RedisConnectTimeout: time.Second}
	o := OptionsFromConfig(cfg)
	assert.Equal(t, "redis:6379", o.Addr)
	assert.Equal(t, 2, o.RedisDB)
	assert.Equal(t, 7, o.PoolSize)
	assert.Equal(t, time.Second, o.ConnectTimeout)
}
