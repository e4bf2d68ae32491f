package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lthibault/jitterbug/v2"

	"kvweb/internal/events"
	"kvweb/internal/jobs"
	"kvweb/internal/logging"
	"kvweb/internal/results"
	"kvweb/internal/services"
	"kvweb/internal/services/kvfinder"
)

// Fetcher retrieves the current snapshot of a job from the service.
type Fetcher interface {
	Fetch(ctx context.Context, id string) (*kvfinder.Snapshot, error)
}

// Publisher materializes completed output into result artifacts.
type Publisher interface {
	Publish(rec jobs.Record, output *kvfinder.Output) (*results.Result, error)
}

// Store mirrors registry changes to durable storage.
type Store interface {
	Save(ctx context.Context, rec jobs.Record) error
}

// Config holds the polling cadence.
type Config struct {
	// InitialDelay is the wait before the first status check.
	InitialDelay time.Duration
	// PollInterval is the steady-state check interval; each tick is
	// jittered so many watchers do not align on the service.
	PollInterval time.Duration
	// BackoffInitial and BackoffMax bound the exponential backoff applied
	// while the service is failing transiently.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// MaxTransientRetries is the number of consecutive transient failures
	// tolerated before the job is failed.
	MaxTransientRetries int
}

// Scheduler runs one polling goroutine per watched job.
type Scheduler struct {
	cfg       Config
	fetcher   Fetcher
	registry  *jobs.Registry
	publisher Publisher
	store     Store
	bus       *events.Bus
	logger    *slog.Logger

	wg sync.WaitGroup
}

// New constructs a scheduler. store and bus may be nil.
func New(cfg Config, fetcher Fetcher, registry *jobs.Registry, publisher Publisher, store Store, bus *events.Bus, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scheduler{
		cfg:       cfg,
		fetcher:   fetcher,
		registry:  registry,
		publisher: publisher,
		store:     store,
		bus:       bus,
		logger:    logging.NewComponentLogger(logger, "poller"),
	}
}

// Watch starts polling a job. It returns false when the job is unknown,
// already terminal, or already being polled.
func (s *Scheduler) Watch(ctx context.Context, id string) bool {
	rec, ok := s.registry.Get(id)
	if !ok || rec.State.Terminal() {
		return false
	}
	if !s.registry.ClaimPolling(id) {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.registry.ReleasePolling(id)
		s.run(ctx, id)
	}()
	return true
}

// Wait blocks until every polling goroutine has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, id string) {
	logger := s.logger.With(logging.String(logging.FieldJobID, id))

	if !sleepCtx(ctx, s.cfg.InitialDelay) {
		logger.Debug("polling stopped before first check")
		return
	}

	interval := s.cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := jitterbug.New(interval, &jitterbug.Norm{Stdev: interval / 10})
	defer ticker.Stop()

	consecutive := 0
	offline := false

	for {
		if ctx.Err() != nil {
			logger.Debug("polling stopped", logging.Error(ctx.Err()))
			return
		}

		done, transient := s.pollOnce(ctx, id, logger, &offline)
		if done {
			return
		}

		if transient {
			consecutive++
			if s.cfg.MaxTransientRetries > 0 && consecutive >= s.cfg.MaxTransientRetries {
				s.fail(ctx, id, fmt.Sprintf("service unreachable after %d attempts", consecutive), logger)
				return
			}
			if !sleepCtx(ctx, s.backoff(consecutive)) {
				return
			}
			continue
		}
		consecutive = 0

		select {
		case <-ctx.Done():
			logger.Debug("polling stopped", logging.Error(ctx.Err()))
			return
		case <-ticker.C:
		}
	}
}

// pollOnce performs one status check. It reports whether polling is finished
// and whether the failure, if any, was transient.
func (s *Scheduler) pollOnce(ctx context.Context, id string, logger *slog.Logger, offline *bool) (done, transient bool) {
	snapshot, err := s.fetcher.Fetch(ctx, id)
	if ctx.Err() != nil {
		// A cancellation may race the response; whatever arrived is stale.
		return true, false
	}
	if err != nil {
		if services.IsTransient(err) {
			logger.Warn("status check failed", logging.Error(err))
			s.recordFailure(ctx, id, err.Error())
			if !*offline {
				*offline = true
				s.publishServiceStatus(false, err.Error())
			}
			return false, true
		}
		if errors.Is(err, services.ErrNotFound) {
			s.fail(ctx, id, "job is unknown to the service or has expired", logger)
			return true, false
		}
		s.fail(ctx, id, err.Error(), logger)
		return true, false
	}

	if *offline {
		*offline = false
		s.publishServiceStatus(true, "")
	}

	state, err := stateFor(snapshot)
	if err != nil {
		s.fail(ctx, id, err.Error(), logger)
		return true, false
	}

	if _, err := s.registry.RecordPoll(id, s.retriesFor(id), ""); err != nil {
		logger.Debug("job vanished from registry", logging.Error(err))
		return true, false
	}

	if state == jobs.StateCompleted {
		s.complete(ctx, id, snapshot, logger)
		return true, false
	}

	s.advance(ctx, id, state, logger)
	return false, false
}

func (s *Scheduler) complete(ctx context.Context, id string, snapshot *kvfinder.Snapshot, logger *slog.Logger) {
	rec, ok := s.registry.Get(id)
	if !ok {
		return
	}
	result, err := s.publisher.Publish(rec, snapshot.Output)
	if err != nil {
		s.fail(ctx, id, err.Error(), logger)
		return
	}
	if ctx.Err() != nil {
		return
	}

	if _, err := s.registry.SetResultDir(id, result.Artifacts.Dir); err != nil {
		logger.Debug("job vanished from registry", logging.Error(err))
		return
	}
	s.advance(ctx, id, jobs.StateCompleted, logger)
	s.publish(events.Event{
		Kind:      events.KindResultReady,
		JobID:     id,
		State:     jobs.StateCompleted,
		ResultDir: result.Artifacts.Dir,
	})
	logger.Info("job completed",
		logging.String("result_dir", result.Artifacts.Dir),
		logging.Int("cavities", len(result.Cavities)))
}

func (s *Scheduler) advance(ctx context.Context, id string, to jobs.State, logger *slog.Logger) {
	before, _ := s.registry.Get(id)
	rec, err := s.registry.Transition(id, to)
	if err != nil {
		// The host may have canceled the job between polls.
		logger.Debug("transition rejected", logging.Error(err))
		return
	}
	s.persist(ctx, rec)
	if before.State != rec.State {
		logger.Info("job state changed",
			logging.String("from", string(before.State)),
			logging.String("to", string(rec.State)))
		s.publish(events.Event{Kind: events.KindStateChanged, JobID: id, State: rec.State})
	}
}

func (s *Scheduler) fail(ctx context.Context, id, message string, logger *slog.Logger) {
	if _, err := s.registry.RecordPoll(id, s.retriesFor(id), message); err != nil {
		return
	}
	rec, err := s.registry.Transition(id, jobs.StateFailed)
	if err != nil {
		logger.Debug("failure transition rejected", logging.Error(err))
		return
	}
	s.persist(ctx, rec)
	logger.Error("job failed", logging.String("reason", message))
	s.publish(events.Event{
		Kind:    events.KindStateChanged,
		JobID:   id,
		State:   jobs.StateFailed,
		Message: message,
	})
}

func (s *Scheduler) recordFailure(ctx context.Context, id, message string) {
	rec, err := s.registry.RecordPoll(id, s.retriesFor(id)+1, message)
	if err != nil {
		return
	}
	s.persist(ctx, rec)
}

func (s *Scheduler) retriesFor(id string) int {
	rec, ok := s.registry.Get(id)
	if !ok {
		return 0
	}
	return rec.Retries
}

func (s *Scheduler) persist(ctx context.Context, rec jobs.Record) {
	if s.store == nil {
		return
	}
	// Terminal states must land on disk even when the watch context is gone.
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if err := s.store.Save(ctx, rec); err != nil {
		s.logger.Warn("persist job record",
			logging.String(logging.FieldJobID, rec.ID),
			logging.Error(err))
	}
}

func (s *Scheduler) publish(event events.Event) {
	if s.bus != nil {
		s.bus.Publish(event)
	}
}

func (s *Scheduler) publishServiceStatus(online bool, message string) {
	s.publish(events.Event{Kind: events.KindServiceStatus, Online: online, Message: message})
}

func (s *Scheduler) backoff(consecutive int) time.Duration {
	delay := s.cfg.BackoffInitial
	if delay <= 0 {
		delay = 2 * time.Second
	}
	maxDelay := s.cfg.BackoffMax
	if maxDelay <= 0 {
		maxDelay = time.Minute
	}
	for i := 1; i < consecutive; i++ {
		if delay > maxDelay/2 {
			return maxDelay
		}
		delay *= 2
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func stateFor(snapshot *kvfinder.Snapshot) (jobs.State, error) {
	switch snapshot.Status {
	case kvfinder.StatusQueued:
		return jobs.StateQueued, nil
	case kvfinder.StatusRunning:
		return jobs.StateRunning, nil
	case kvfinder.StatusCompleted:
		return jobs.StateCompleted, nil
	default:
		return "", fmt.Errorf("service reported unknown status %q", snapshot.Status)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
