// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package observability

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbErrors "github.com/qolzam/dbtable/errors"
)

func TestCollector_Record(t *testing.T) {
	c := NewCollector()

	c.Record("select", 10*time.Millisecond, nil)
	c.Record("select", 30*time.Millisecond, nil)
	c.Record("insert", 20*time.Millisecond, dbErrors.Validation("bad"))

	sel, ok := c.Op("select")
	require.True(t, ok)
	assert.Equal(t, int64(2), sel.Count)
	assert.Equal(t, int64(0), sel.Failed)
	assert.Equal(t, 20*time.Millisecond, sel.Average())

	ins, ok := c.Op("insert")
	require.True(t, ok)
	assert.Equal(t, int64(1), ins.Failed)
	assert.Equal(t, dbErrors.CodeArgsError, ins.LastErrorCode)

	_, ok = c.Op("delete")
	assert.False(t, ok)

	snap := c.Snapshot()
	assert.Equal(t, int64(3), snap.Total)
	assert.Equal(t, int64(1), snap.Failed)
	assert.Equal(t, 20*time.Millisecond, snap.AverageDuration)
	assert.InDelta(t, 66.66, snap.SuccessRate, 0.01)
	require.Len(t, snap.Ops, 2)
	assert.Equal(t, "insert", snap.Ops[0].Op)
	assert.Equal(t, "select", snap.Ops[1].Op)
}

func TestCollector_ForeignError(t *testing.T) {
	c := NewCollector()
	c.Record("exec", time.Millisecond, errors.New("driver gone"))

	m, ok := c.Op("exec")
	require.True(t, ok)
	assert.Equal(t, dbErrors.CodeSqlError, m.LastErrorCode)
}

func TestCollector_Concurrent(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Record("count", time.Microsecond, nil)
		}()
	}
	wg.Wait()

	m, _ := c.Op("count")
	assert.Equal(t, int64(50), m.Count)
	assert.Equal(t, int64(50), c.Snapshot().Total)

	c.Reset()
	assert.Equal(t, Snapshot{}, c.Snapshot())
	assert.NotNil(t, Global())
}
