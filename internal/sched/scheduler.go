package sched

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/piisentry/scanner/internal/config"
	"github.com/piisentry/scanner/internal/controlplane"
	"github.com/piisentry/scanner/internal/schema"
)

// Cadences of the standing jobs. Detection and rescan poll the control
// plane; per-classification jobs run at each classification's own
// period.
const (
	detectInterval    = 15 * time.Minute
	rescanInterval    = 15 * time.Minute
	heartbeatInterval = time.Minute
)

// Scheduler owns the standing jobs and the per-classification jobs they
// spawn. Heartbeats live on their own scheduler so a long scan cycle
// can never delay liveness.
type Scheduler struct {
	runner   *Runner
	client   *controlplane.Client
	settings *config.Settings
	log      *slog.Logger

	jobs  gocron.Scheduler
	heart gocron.Scheduler

	mu      sync.Mutex
	byClass map[string]classJob
	baseCtx context.Context
}

type classJob struct {
	id     uuid.UUID
	period time.Duration
}

// New builds both schedulers on UTC. The job scheduler admits one job
// at a time: scan cycles share the archive cache and the worker pool,
// so a concurrent cycle would clean files another cycle is reading.
func New(runner *Runner, client *controlplane.Client, settings *config.Settings, log *slog.Logger) (*Scheduler, error) {
	jobs, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLimitConcurrentJobs(1, gocron.LimitModeWait),
	)
	if err != nil {
		return nil, err
	}
	heart, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		runner:   runner,
		client:   client,
		settings: settings,
		log:      log,
		jobs:     jobs,
		heart:    heart,
		byClass:  make(map[string]classJob),
	}, nil
}

// Start registers the standing jobs and begins ticking. The context
// bounds every job the scheduler fires.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	_, err := s.heart.NewJob(
		gocron.DurationJob(heartbeatInterval),
		gocron.NewTask(func() { s.heartbeat(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("heartbeat job: %w", err)
	}

	_, err = s.jobs.NewJob(
		gocron.DurationJob(detectInterval),
		gocron.NewTask(func() { s.detect(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("detect job: %w", err)
	}

	_, err = s.jobs.NewJob(
		gocron.DurationJob(rescanInterval),
		gocron.NewTask(func() { s.rescan(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("rescan job: %w", err)
	}

	s.heart.Start()
	s.jobs.Start()
	return nil
}

// Shutdown stops both schedulers. Jobs in flight finish; their context
// is the caller's to cancel.
func (s *Scheduler) Shutdown() error {
	jerrs := s.jobs.Shutdown()
	herrs := s.heart.Shutdown()
	if jerrs != nil {
		return jerrs
	}
	return herrs
}

// heartbeat publishes liveness for this instance.
func (s *Scheduler) heartbeat(ctx context.Context) {
	if err := s.client.Heartbeat(ctx, s.settings.ScannerID); err != nil {
		s.log.Warn("heartbeat failed", "error", err)
	}
}

// detect polls the classification groups and converges the set of
// per-classification jobs onto the assigned ones.
func (s *Scheduler) detect(ctx context.Context) {
	classifications, err := s.assigned(ctx)
	if err != nil {
		s.log.Warn("classification detection failed", "error", err)
		return
	}
	want := make(map[string]struct{}, len(classifications))
	for _, cls := range classifications {
		want[cls.ID] = struct{}{}
		s.ensureJob(cls)
	}
	s.dropUnassigned(want)
}

// dropUnassigned removes jobs for classifications that left this
// scanner's assignment.
func (s *Scheduler) dropUnassigned(want map[string]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, job := range s.byClass {
		if _, ok := want[id]; ok {
			continue
		}
		if err := s.jobs.RemoveJob(job.id); err != nil {
			s.log.Warn("job removal failed", "classification", id, "error", err)
		}
		delete(s.byClass, id)
		s.log.Info("classification unscheduled", "classification", id)
	}
}

// assigned returns the classifications this scanner is responsible for.
func (s *Scheduler) assigned(ctx context.Context) ([]schema.Classification, error) {
	groups, err := s.client.ClassificationGroups(ctx)
	if err != nil {
		return nil, err
	}
	var out []schema.Classification
	for _, g := range groups {
		if !g.AssignedTo(s.settings.ScannerID, s.settings.CustomerAccountID) {
			continue
		}
		out = append(out, g.Classifications...)
	}
	return out, nil
}

// ensureJob schedules a classification at its period, replacing the job
// when the period changed. Singleton mode keeps overlapping runs of the
// same classification from stacking.
func (s *Scheduler) ensureJob(cls schema.Classification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	period := cls.Period()
	if existing, ok := s.byClass[cls.ID]; ok {
		if existing.period == period {
			return
		}
		if err := s.jobs.RemoveJob(existing.id); err != nil {
			s.log.Warn("job replace failed", "classification", cls.ID, "error", err)
		}
		delete(s.byClass, cls.ID)
	}

	ctx := s.baseCtx
	job, err := s.jobs.NewJob(
		gocron.DurationJob(period),
		gocron.NewTask(func() {
			if err := s.runner.RunClassification(ctx, cls); err != nil {
				s.log.Error("classification cycle failed",
					"classification", cls.ID, "error", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		s.log.Error("job schedule failed", "classification", cls.ID, "error", err)
		return
	}
	s.byClass[cls.ID] = classJob{id: job.ID(), period: period}
	s.log.Info("classification scheduled", "classification", cls.ID, "period", period)
}

// rescan chases classifier catalog changes across scanned chunks.
func (s *Scheduler) rescan(ctx context.Context) {
	classifications, err := s.assigned(ctx)
	if err != nil {
		s.log.Warn("rescan detection failed", "error", err)
		return
	}
	if err := s.runner.RunRescan(ctx, classifications); err != nil {
		s.log.Error("rescan cycle failed", "error", err)
	}
}
