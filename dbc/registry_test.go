// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package dbc

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() Config {
	return Config{Driver: SQLite, DSN: ":memory:"}
}

func TestRegistry_ConnectsOutsideLock(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	t.Cleanup(func() { reg.Close() })

	started := make(chan struct{})
	unblock := make(chan struct{})
	reg.open = func(ctx context.Context, cfg Config) (*Dbc, error) {
		if cfg.DSN == "file:slow?mode=memory" {
			close(started)
			<-unblock
		}
		return Open(ctx, cfg)
	}
	reg.Set("slow", Config{Driver: SQLite, DSN: "file:slow?mode=memory"})
	reg.Set("fast", memoryConfig())

	done := make(chan error, 1)
	go func() {
		_, err := reg.Get(ctx, "slow")
		done <- err
	}()
	<-started

	fast, err := reg.Get(ctx, "fast")
	require.NoError(t, err)
	require.NotNil(t, fast)
	assert.Equal(t, []string{"fast", "slow"}, reg.All())

	close(unblock)
	require.NoError(t, <-done)
}

func TestRegistry_RacingGetsShareOneHandle(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry()
	t.Cleanup(func() { reg.Close() })

	var opens atomic.Int32
	both := make(chan struct{})
	reg.open = func(ctx context.Context, cfg Config) (*Dbc, error) {
		if opens.Add(1) == 2 {
			close(both)
		}
		<-both
		return Open(ctx, cfg)
	}
	reg.Set("main", memoryConfig())

	var wg sync.WaitGroup
	got := make([]*Dbc, 2)
	errs := make([]error, 2)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], errs[i] = reg.Get(ctx, "main")
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Same(t, got[0], got[1])
	assert.Equal(t, int32(2), opens.Load())

	again, err := reg.Get(ctx, "main")
	require.NoError(t, err)
	assert.Same(t, got[0], again)
	require.NoError(t, again.Ping(ctx))
}
