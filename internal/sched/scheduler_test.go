package sched

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/stretchr/testify/require"

	"github.com/piisentry/scanner/internal/config"
	"github.com/piisentry/scanner/internal/schema"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := New(nil, nil, &config.Settings{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.jobs.Shutdown()
		_ = s.heart.Shutdown()
	})
	return s
}

func TestEnsureJobDedupesByClassification(t *testing.T) {
	s := newTestScheduler(t)
	cls := schema.Classification{ID: "c1", ScanningPeriodMinutes: 30}

	s.ensureJob(cls)
	first, ok := s.byClass["c1"]
	require.True(t, ok)

	s.ensureJob(cls)
	require.Equal(t, first, s.byClass["c1"])
	require.Len(t, s.jobs.Jobs(), 1)
}

func TestEnsureJobReplacesOnPeriodChange(t *testing.T) {
	s := newTestScheduler(t)

	s.ensureJob(schema.Classification{ID: "c1", ScanningPeriodMinutes: 30})
	first := s.byClass["c1"]
	require.Equal(t, 30*time.Minute, first.period)

	s.ensureJob(schema.Classification{ID: "c1", ScanningPeriodMinutes: 60})
	second := s.byClass["c1"]
	require.NotEqual(t, first.id, second.id)
	require.Equal(t, time.Hour, second.period)
	// The old job is gone, not shadowed.
	require.Len(t, s.jobs.Jobs(), 1)
}

func TestDropUnassignedRemovesDepartedJobs(t *testing.T) {
	s := newTestScheduler(t)
	s.ensureJob(schema.Classification{ID: "c1"})
	s.ensureJob(schema.Classification{ID: "c2"})
	require.Len(t, s.jobs.Jobs(), 2)

	s.dropUnassigned(map[string]struct{}{"c1": {}})

	require.Len(t, s.byClass, 1)
	_, kept := s.byClass["c1"]
	require.True(t, kept)
	require.Len(t, s.jobs.Jobs(), 1)

	// An empty assignment clears everything.
	s.dropUnassigned(map[string]struct{}{})
	require.Empty(t, s.byClass)
	require.Empty(t, s.jobs.Jobs())
}

func TestForegroundJobsRunOneAtATime(t *testing.T) {
	s := newTestScheduler(t)

	var mu sync.Mutex
	inFlight, maxSeen := 0, 0
	done := make(chan struct{}, 2)
	task := func() {
		mu.Lock()
		inFlight++
		if inFlight > maxSeen {
			maxSeen = inFlight
		}
		mu.Unlock()

		time.Sleep(50 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		done <- struct{}{}
	}
	for i := 0; i < 2; i++ {
		_, err := s.jobs.NewJob(
			gocron.DurationJob(time.Hour),
			gocron.NewTask(task),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		require.NoError(t, err)
	}
	s.jobs.Start()

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("scheduled jobs never ran")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, maxSeen)
}
