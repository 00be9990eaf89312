package tracking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fakeyudi/pulse/internal/idle"
	"github.com/fakeyudi/pulse/internal/kv"
	"github.com/fakeyudi/pulse/internal/pulse"
	"github.com/fakeyudi/pulse/internal/store"
)

type fakeSystem struct{}

func (fakeSystem) MachineID() string                                    { return "machine-1" }
func (fakeSystem) Branch(ctx context.Context, path string) string       { return "main" }
func (fakeSystem) Dependencies(ctx context.Context, p, r string) string { return "" }
func (fakeSystem) Language(name string, content []byte) string          { return "Go" }

func newTracker(t *testing.T) (*Tracker, *store.Queue, *quartz.Mock) {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local))
	q := store.New(kv.NewMemory(), clock)
	tr := New(&pulse.Builder{System: fakeSystem{}}, q, WithClock(clock), WithTimezone("Europe/Berlin"))
	return tr, q, clock
}

func snapshot(file, content string) *pulse.Snapshot {
	return &pulse.Snapshot{FileName: file, WorkspaceRoot: "/home/dev/proj", Content: content}
}

func TestTrackActivityNilSnapshot(t *testing.T) {
	tr, q, _ := newTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.TrackActivity(ctx, nil, pulse.StateCoding))

	n, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, tr.IsActive())
}

// Three pulses five seconds apart, then silence past the idle threshold.
func TestTrackActivityEndToEnd(t *testing.T) {
	tr, q, clock := newTracker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if i > 0 {
			clock.Advance(5 * time.Second).MustWait(ctx)
		}
		require.NoError(t, tr.TrackActivity(ctx, snapshot("/home/dev/proj/a.ts", "a\n"), pulse.StateCoding))
	}
	assert.True(t, tr.IsActive())

	total, err := tr.TodayTotal(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), total)
	assert.Equal(t, "0m", idle.Format(total))

	clock.Advance(50 * time.Second).MustWait(ctx)
	total, err = tr.TodayTotal(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(60_000), total, "total is current while active")

	clock.Advance(2 * time.Minute).MustWait(ctx)
	assert.False(t, tr.IsActive())
	total, err = tr.TodayTotal(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), total)

	clock.Advance(10 * time.Minute).MustWait(ctx)
	again, err := tr.TodayTotal(ctx)
	require.NoError(t, err)
	assert.Equal(t, total, again, "total keeps still while idle")

	stored, err := q.TodayTotal(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), stored)

	raw, err := q.PendingPulses(ctx)
	require.NoError(t, err)
	require.Len(t, raw, 3)
	assert.Empty(t, raw[0].Content)

	info := tr.ActivityInfo()
	assert.False(t, info.IsActive)
	assert.Zero(t, info.ActiveStart)
	assert.Equal(t, "/home/dev/proj/a.ts", info.Entity)
	assert.Equal(t, idle.IdleThreshold, info.IdleThreshold)
}

func TestTrackActivityDiffsAgainstSameEntity(t *testing.T) {
	tr, q, clock := newTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.TrackActivity(ctx, snapshot("/p/a.go", "one\n"), pulse.StateCoding))
	clock.Advance(time.Second).MustWait(ctx)
	require.NoError(t, tr.TrackActivity(ctx, snapshot("/p/a.go", "one\ntwo\n"), pulse.StateCoding))
	clock.Advance(time.Second).MustWait(ctx)
	// Switching entity resets the baseline.
	require.NoError(t, tr.TrackActivity(ctx, snapshot("/p/b.go", "x\ny\nz\n"), pulse.StateDebugging))

	raw, err := q.PendingPulses(ctx)
	require.NoError(t, err)
	require.Len(t, raw, 3)
	assert.Equal(t, 0, raw[0].LineAdditions)
	assert.Equal(t, 1, raw[1].LineAdditions)
	assert.Equal(t, 0, raw[2].LineAdditions)
	assert.Equal(t, pulse.StateDebugging, raw[2].State)
}

func TestTrackActivityPersistsAggregates(t *testing.T) {
	tr, q, clock := newTracker(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, tr.TrackActivity(ctx, snapshot("/p/a.go", "x\n"), pulse.StateCoding))
		clock.Advance(10 * time.Second).MustWait(ctx)
	}

	aggs, err := q.AggregatedPulses(ctx)
	require.NoError(t, err)
	require.Len(t, aggs, 1)
	assert.Empty(t, tr.State().PendingAggregated, "persisted aggregate is dropped from memory")
	assert.Empty(t, tr.State().Pending)
}

func TestTrackActivityAggregatesEachEntityRun(t *testing.T) {
	tr, q, clock := newTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.TrackActivity(ctx, snapshot("/p/a.go", "x\n"), pulse.StateCoding))
	clock.Advance(10 * time.Second).MustWait(ctx)
	require.NoError(t, tr.TrackActivity(ctx, snapshot("/p/b.py", "y\n"), pulse.StateCoding))
	clock.Advance(25 * time.Second).MustWait(ctx)
	require.NoError(t, tr.TrackActivity(ctx, snapshot("/p/a.go", "x\nz\n"), pulse.StateCoding))

	aggs, err := q.AggregatedPulses(ctx)
	require.NoError(t, err)
	require.Len(t, aggs, 3)
	assert.Equal(t, []string{"/p/a.go", "/p/b.py", "/p/a.go"}, []string{aggs[0].Entity, aggs[1].Entity, aggs[2].Entity})
	assert.Equal(t, aggs[0].StartTime, aggs[0].EndTime, "a.go run must not stretch over b.py")
	assert.Empty(t, tr.State().PendingAggregated)
}

type failingQueue struct {
	*store.Queue
	failTotal bool
}

func (f *failingQueue) SaveTodayTotal(ctx context.Context, total int64) error {
	if f.failTotal {
		return errors.New("disk full")
	}
	return f.Queue.SaveTodayTotal(ctx, total)
}

func TestTrackActivityKeepsStateOnPersistenceError(t *testing.T) {
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local))
	fq := &failingQueue{Queue: store.New(kv.NewMemory(), clock)}
	tr := New(&pulse.Builder{System: fakeSystem{}}, fq, WithClock(clock))
	ctx := context.Background()

	require.NoError(t, tr.TrackActivity(ctx, snapshot("/p/a.go", "x\n"), pulse.StateCoding))
	before := tr.State()

	fq.failTotal = true
	clock.Advance(time.Second).MustWait(ctx)
	err := tr.TrackActivity(ctx, snapshot("/p/a.go", "x\ny\n"), pulse.StateCoding)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	after := tr.State()
	assert.Equal(t, before.LastActivity, after.LastActivity)
	assert.Len(t, after.Pending, 1)
}

func TestPulseSummaryDeduplicates(t *testing.T) {
	tr, q, clock := newTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.TrackActivity(ctx, snapshot("/p/a.go", "x\n"), pulse.StateCoding))
	clock.Advance(time.Second).MustWait(ctx)
	require.NoError(t, tr.TrackActivity(ctx, snapshot("/p/a.go", "x\n"), pulse.StateCoding))

	// Another process queued a pulse, plus one from yesterday.
	now := clock.Now().UnixMilli()
	require.NoError(t, q.SavePulses(ctx, []pulse.Pulse{
		{Entity: "/other/c.go", Time: now - 500},
		{Entity: "/old.go", Time: now - 24*time.Hour.Milliseconds()},
	}))

	summary, err := tr.PulseSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", summary.Timezone)
	require.Len(t, summary.Data, 3)

	seen := make(map[int64]int)
	for _, e := range summary.Data {
		seen[e.Key()]++
	}
	for key, n := range seen {
		assert.Equal(t, 1, n, "key %d repeated", key)
	}
	assert.Equal(t, "/other/c.go", summary.Data[1].Entity())
}

func TestPulseSummaryKeepsAggregateSpanningMidnight(t *testing.T) {
	tr, q, clock := newTracker(t)
	ctx := context.Background()

	midnight := idle.Midnight(clock.Now()).UnixMilli()
	require.NoError(t, q.SaveAggregatedPulses(ctx, []pulse.AggregatedPulse{
		{Entity: "/p/late.go", StartTime: midnight - 60_000, EndTime: midnight + 60_000},
		{Entity: "/p/yesterday.go", StartTime: midnight - 120_000, EndTime: midnight - 60_001},
	}))

	summary, err := tr.PulseSummary(ctx)
	require.NoError(t, err)
	require.Len(t, summary.Data, 1)
	assert.Equal(t, "/p/late.go", summary.Data[0].Entity())
}

func TestTodayTotalAdoptsLargerDurableTotal(t *testing.T) {
	tr, q, _ := newTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.TrackActivity(ctx, snapshot("/p/a.go", "x\n"), pulse.StateCoding))
	require.NoError(t, q.SaveTodayTotal(ctx, 3_600_000))

	total, err := tr.TodayTotal(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3_600_000), total)
	assert.Equal(t, int64(3_600_000), tr.State().TodayTotal)
}
