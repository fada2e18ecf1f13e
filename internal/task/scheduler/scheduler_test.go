package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "tickbot/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		kind    SpecKind
		every   time.Duration
		cron    string
		wantErr bool
	}{
		{in: "1m", kind: SpecInterval, every: time.Minute},
		{in: "00:50", kind: SpecInterval, every: 50 * time.Minute},
		{in: "every:30s", kind: SpecInterval, every: 30 * time.Second},
		{in: "interval:02:30", kind: SpecInterval, every: 2*time.Hour + 30*time.Minute},
		{in: "* * * * *", kind: SpecCron, cron: "* * * * *"},
		{in: "@every 5m", kind: SpecCron, cron: "@every 5m"},
		{in: "cron:@hourly", kind: SpecCron, cron: "@hourly"},
		{in: "", wantErr: true},
		{in: "0s", wantErr: true},
		{in: "01:75", wantErr: true},
		{in: "soon", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			ps, err := ParseSchedule(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, ps.Kind)
			assert.Equal(t, tt.every, ps.Every)
			assert.Equal(t, tt.cron, ps.Cron)
		})
	}
}

func TestIntervalScheduleDoesNotDrift(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := intervalSchedule{start: start, every: time.Minute}

	assert.Equal(t, start.Add(time.Minute), s.Next(start))
	// A run that finished 7s late still targets the next minute boundary.
	assert.Equal(t, start.Add(2*time.Minute), s.Next(start.Add(time.Minute+7*time.Second)))
	assert.Equal(t, start.Add(3*time.Minute), s.Next(start.Add(2*time.Minute)))
	assert.Equal(t, start.Add(time.Minute), s.Next(start.Add(-time.Hour)))
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	s := New(Config{}, logx.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestRunOnStartFiresImmediately(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	var n atomic.Int32
	_, err := s.AddInterval("tick", time.Hour, Options{RunOnStart: true}, func(ctx context.Context) error {
		n.Add(1)
		return nil
	})
	require.NoError(t, err)

	s.Start(context.Background())
	require.Eventually(t, func() bool { return n.Load() == 1 }, time.Second, 5*time.Millisecond)

	snap := s.Snapshot()
	require.Len(t, snap.Schedules, 1)
	assert.True(t, snap.Running)
	assert.Equal(t, "@interval 1h0m0s", snap.Schedules[0].Spec)
	assert.False(t, snap.Schedules[0].Next.IsZero())
}

func TestIntervalKeepsFiringAfterFailuresAndPanics(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	var n atomic.Int32
	_, err := s.AddInterval("flaky", 20*time.Millisecond, Options{}, func(ctx context.Context) error {
		switch n.Add(1) {
		case 1:
			return errors.New("boom")
		case 2:
			panic("kaboom")
		}
		return nil
	})
	require.NoError(t, err)

	s.Start(context.Background())
	require.Eventually(t, func() bool { return n.Load() >= 4 }, 3*time.Second, 5*time.Millisecond)

	snap := s.Snapshot()
	require.Len(t, snap.Schedules, 1)
	assert.GreaterOrEqual(t, snap.Schedules[0].Failures, uint64(2))
}

func TestFiringsDoNotOverlap(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	var (
		active  atomic.Int32
		maxSeen atomic.Int32
		runs    atomic.Int32
	)
	_, err := s.AddInterval("slow", 10*time.Millisecond, Options{RunOnStart: true}, func(ctx context.Context) error {
		cur := active.Add(1)
		defer active.Add(-1)
		for {
			m := maxSeen.Load()
			if cur <= m || maxSeen.CompareAndSwap(m, cur) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		runs.Add(1)
		return nil
	})
	require.NoError(t, err)

	s.Start(context.Background())
	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 3*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, maxSeen.Load())
}

func TestTimeoutBoundsJob(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	got := make(chan error, 1)
	_, err := s.AddInterval("bounded", time.Hour, Options{RunOnStart: true, Timeout: 20 * time.Millisecond}, func(ctx context.Context) error {
		<-ctx.Done()
		got <- ctx.Err()
		return ctx.Err()
	})
	require.NoError(t, err)

	s.Start(context.Background())
	select {
	case err := <-got:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not cancelled by its timeout")
	}
}

func TestStopCancelsRunningJob(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	started := make(chan struct{})
	_, err := s.AddInterval("long", time.Hour, Options{RunOnStart: true}, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	s.Start(context.Background())
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	require.NoError(t, ctx.Err(), "stop should return once the job observed cancellation")
	assert.False(t, s.Snapshot().Running)
}

func TestAddScheduleValidatesAndUpserts(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	noop := func(ctx context.Context) error { return nil }

	_, err := s.AddSchedule("bad", "not a cron", Options{}, noop)
	require.Error(t, err)
	_, err = s.AddSchedule("", "1m", Options{}, noop)
	require.Error(t, err)

	_, err = s.AddSchedule("job", "* * * * *", Options{}, noop)
	require.NoError(t, err)
	_, err = s.AddSchedule("job", "5m", Options{}, noop)
	require.NoError(t, err)

	snap := s.Snapshot()
	require.Len(t, snap.Schedules, 1)
	assert.Equal(t, "@interval 5m0s", snap.Schedules[0].Spec)

	assert.True(t, s.Remove("job"))
	assert.False(t, s.Remove("job"))
	assert.Empty(t, s.Snapshot().Schedules)
}

func TestApplyTimezoneRestartsClock(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	_, err := s.AddCron("hourly", "@hourly", Options{}, func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	s.Start(context.Background())

	s.Apply(Config{Timezone: "UTC"})
	snap := s.Snapshot()
	assert.Equal(t, "UTC", snap.Timezone)
	require.Len(t, snap.Schedules, 1)
	assert.False(t, snap.Schedules[0].Next.IsZero())
}

func TestValidateSchedule(t *testing.T) {
	t.Parallel()
	require.NoError(t, ValidateSchedule("1m"))
	require.NoError(t, ValidateSchedule("*/5 * * * *"))
	require.NoError(t, ValidateSchedule("@every 30s"))
	require.Error(t, ValidateSchedule("61 * * * *"))
	require.Error(t, ValidateSchedule("0s"))
	require.Error(t, ValidateSchedule(""))
}

func TestPanicOnStartDoesNotBlockLaterTicks(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	var n atomic.Int32
	_, err := s.AddInterval("first-panics", 20*time.Millisecond, Options{RunOnStart: true}, func(ctx context.Context) error {
		if n.Add(1) == 1 {
			panic("messenger exploded")
		}
		return nil
	})
	require.NoError(t, err)

	s.Start(context.Background())
	require.Eventually(t, func() bool { return n.Load() >= 3 }, 3*time.Second, 5*time.Millisecond)

	snap := s.Snapshot()
	require.Len(t, snap.Schedules, 1)
	assert.EqualValues(t, 1, snap.Schedules[0].Failures)
}
