package retention_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Satish-Kalepu/Agents-Simulator/internal/retention"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/store"
	"github.com/Satish-Kalepu/Agents-Simulator/pkg/models"
)

type countingPurger struct {
	calls  atomic.Int32
	cutoff atomic.Value
	err    error
}

func (p *countingPurger) PurgeLogsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	p.calls.Add(1)
	p.cutoff.Store(cutoff)
	return 0, p.err
}

func TestRunCycle_PurgesOldLogsOnly(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore("")
	t.Cleanup(func() { _ = s.Close() })

	old := time.Now().UTC().AddDate(0, 0, -10)
	require.NoError(t, s.CreateModelLog(ctx, &models.ModelLog{AgentID: 1, Datetime: old, Model: "m"}))
	require.NoError(t, s.CreateModelLog(ctx, &models.ModelLog{AgentID: 1, Model: "m"}))
	require.NoError(t, s.CreateTestLog(ctx, &models.AgentTestLog{AgentID: 1, Datetime: old, Query: "q"}))
	require.NoError(t, s.CreateChangeLog(ctx, &models.AgentChangeLog{AgentID: 1, Datetime: old}))

	stats := retention.NewJanitor(s, 7, time.Hour).RunCycle(ctx)
	require.NoError(t, stats.Err)
	assert.EqualValues(t, 2, stats.Purged)

	logs, err := s.ListModelLogs(ctx, store.LogFilter{})
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	tests, err := s.ListTestLogs(ctx, store.LogFilter{})
	require.NoError(t, err)
	assert.Empty(t, tests)

	changes, err := s.ListChangeLogs(ctx, store.LogFilter{})
	require.NoError(t, err)
	assert.Len(t, changes, 1)
}

func TestRunCycle_Cutoff(t *testing.T) {
	p := &countingPurger{}
	before := time.Now()
	retention.NewJanitor(p, 3, time.Hour).RunCycle(context.Background())

	cutoff := p.cutoff.Load().(time.Time)
	assert.WithinDuration(t, before.AddDate(0, 0, -3), cutoff, time.Second)
}

func TestRunCycle_ReportsError(t *testing.T) {
	p := &countingPurger{err: errors.New("disk full")}
	stats := retention.NewJanitor(p, 1, time.Hour).RunCycle(context.Background())
	require.EqualError(t, stats.Err, "disk full")
}

func TestStart_DisabledReturnsImmediately(t *testing.T) {
	p := &countingPurger{}
	j := retention.NewJanitor(p, 0, time.Hour)
	assert.False(t, j.Enabled())

	done := make(chan struct{})
	go func() {
		j.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled janitor did not return")
	}
	assert.Zero(t, p.calls.Load())
}

func TestStart_SweepsOnStartupAndStopsOnCancel(t *testing.T) {
	p := &countingPurger{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		retention.NewJanitor(p, 30, time.Hour).Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return p.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
