package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "oscrelay/pkg/logx"
)

func TestRunOnceWritesAndPrunes(t *testing.T) {
	dir := t.TempDir()
	e := NewExporter(func() []byte { return []byte("=== desk ===\n[10:00:00] hi\n\n") }, logx.Nop())
	base := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	calls := 0
	e.now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	}
	require.NoError(t, e.Apply(Config{Dir: dir, Keep: 2}))

	var paths []string
	for i := 0; i < 3; i++ {
		p, err := e.RunOnce()
		require.NoError(t, err)
		paths = append(paths, p)
	}
	assert.Equal(t, filepath.Join(dir, "osc_logs_20240506_070810.txt"), paths[0])

	left, err := filepath.Glob(filepath.Join(dir, "osc_logs_*.txt"))
	require.NoError(t, err)
	assert.Equal(t, paths[1:], left)

	b, err := os.ReadFile(paths[2])
	require.NoError(t, err)
	assert.Contains(t, string(b), "=== desk ===")

	st := e.Status()
	assert.Equal(t, uint64(3), st.Runs)
	assert.Equal(t, paths[2], st.LastFile)
}

func TestRunOnceWithoutDir(t *testing.T) {
	e := NewExporter(func() []byte { return nil }, logx.Nop())
	_, err := e.RunOnce()
	require.Error(t, err)
	assert.NotEmpty(t, e.Status().LastErr)
}

func TestScheduleLifecycle(t *testing.T) {
	e := NewExporter(func() []byte { return nil }, logx.Nop())
	require.NoError(t, e.Start(context.Background()))
	assert.False(t, e.Status().Enabled)

	require.Error(t, e.Apply(Config{Enabled: true, Schedule: "not cron", Dir: t.TempDir()}))
	require.NoError(t, e.Apply(Config{Enabled: true, Schedule: "@hourly", Dir: t.TempDir(), Timezone: "UTC"}))

	st := e.Status()
	assert.True(t, st.Enabled)
	assert.False(t, st.Next.IsZero())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, e.Stop(ctx))
	assert.True(t, e.Status().Next.IsZero())
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "osc_logs_20240102_030405.txt", FileName(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))
}

func TestApplyDuringExportDoesNotBlock(t *testing.T) {
	started := make(chan struct{}, 1)
	e := NewExporter(func() []byte {
		select {
		case started <- struct{}{}:
		default:
		}
		time.Sleep(300 * time.Millisecond)
		return []byte("x")
	}, logx.Nop())
	dir := t.TempDir()
	require.NoError(t, e.Apply(Config{Enabled: true, Schedule: "@every 1s", Dir: dir}))
	require.NoError(t, e.Start(context.Background()))
	defer func() { _ = e.Stop(context.Background()) }()

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("export never ran")
	}

	done := make(chan error, 1)
	go func() { done <- e.Apply(Config{Enabled: true, Schedule: "@every 2s", Dir: dir}) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Apply blocked behind an in-flight export")
	}

	assert.Equal(t, "@every 2s", e.Status().Schedule)
	assert.GreaterOrEqual(t, e.Status().Runs, uint64(1))
}
