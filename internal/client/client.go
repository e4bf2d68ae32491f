package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"kvweb/internal/config"
	"kvweb/internal/events"
	"kvweb/internal/jobs"
	"kvweb/internal/logging"
	"kvweb/internal/notifications"
	"kvweb/internal/params"
	"kvweb/internal/poller"
	"kvweb/internal/results"
	"kvweb/internal/services"
	"kvweb/internal/services/kvfinder"
)

// ErrLocked indicates another process owns the jobs directory.
var ErrLocked = errors.New("jobs directory is locked by another process")

// Client tracks jobs against one KVFinder-web deployment.
type Client struct {
	cfg          *config.Config
	logger       *slog.Logger
	service      *kvfinder.Client
	registry     *jobs.Registry
	catalog      *jobs.Catalog
	materializer *results.Materializer
	scheduler    *poller.Scheduler
	bus          *events.Bus
	notifier     notifications.Service
	lock         *flock.Flock

	mu      sync.Mutex
	watches map[string]context.CancelFunc
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

type options struct {
	httpClient kvfinder.HTTPDoer
	notifier   notifications.Service
}

// Option customizes the client.
type Option func(*options)

// WithHTTPClient overrides the HTTP client used to reach the service.
func WithHTTPClient(doer kvfinder.HTTPDoer) Option {
	return func(o *options) { o.httpClient = doer }
}

// WithNotifier overrides the notification service.
func WithNotifier(svc notifications.Service) Option {
	return func(o *options) { o.notifier = svc }
}

// New wires a client from validated configuration. It acquires the jobs
// directory lock and opens the catalog; Close releases both.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("client requires configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "client", "new", "invalid configuration", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(cfg.Paths.JobsDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure jobs directory: %w", err)
	}
	lock := flock.New(filepath.Join(cfg.Paths.JobsDir, "kvweb.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire jobs directory lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, cfg.Paths.JobsDir)
	}

	catalog, err := jobs.OpenCatalog(cfg.Paths.JobsDir)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	notifier := o.notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	serviceOpts := []kvfinder.Option{}
	if o.httpClient != nil {
		serviceOpts = append(serviceOpts, kvfinder.WithHTTPClient(o.httpClient))
	}
	service := kvfinder.New(cfg.Service.BaseURL, time.Duration(cfg.Service.RequestTimeout)*time.Second, serviceOpts...)

	registry := jobs.NewRegistry()
	bus := events.NewBus(cfg.Polling.EventBuffer)
	materializer := results.NewMaterializer(cfg.Paths.JobsDir, logger)

	store := &notifyingStore{
		catalog:  catalog,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "client"),
	}
	scheduler := poller.New(poller.Config{
		InitialDelay:        time.Duration(cfg.Polling.InitialDelay) * time.Second,
		PollInterval:        time.Duration(cfg.Polling.PollInterval) * time.Second,
		BackoffInitial:      time.Duration(cfg.Polling.BackoffInitial) * time.Second,
		BackoffMax:          time.Duration(cfg.Polling.BackoffMax) * time.Second,
		MaxTransientRetries: cfg.Polling.MaxTransientRetries,
	}, service, registry, materializer, store, bus, logger)

	return &Client{
		cfg:          cfg,
		logger:       logging.NewComponentLogger(logger, "client"),
		service:      service,
		registry:     registry,
		catalog:      catalog,
		materializer: materializer,
		scheduler:    scheduler,
		bus:          bus,
		notifier:     notifier,
		lock:         lock,
		watches:      make(map[string]context.CancelFunc),
	}, nil
}

// Start loads the catalog and resumes polling for every active job.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("client already started")
	}
	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.started = true
	c.mu.Unlock()

	records, err := c.catalog.List(ctx)
	if err != nil {
		return err
	}
	resumed := 0
	for _, rec := range records {
		c.registry.Upsert(rec)
		if rec.State.Active() {
			c.watch(rec.ID)
			resumed++
		}
	}
	c.logger.Info("client started",
		logging.Int("tracked", len(records)),
		logging.Int("resumed", resumed))
	return nil
}

// Submit builds a request, sends it to the service, and starts polling the
// resulting job. Submitting content that is already tracked returns the
// existing record unchanged.
func (c *Client) Submit(ctx context.Context, in params.Input, baseName string) (jobs.Record, error) {
	if err := c.requireStarted(); err != nil {
		return jobs.Record{}, err
	}

	built, err := params.Build(in)
	if err != nil {
		return jobs.Record{}, err
	}

	if existing, ok, err := c.catalog.FindByFingerprint(ctx, built.Fingerprint); err != nil {
		return jobs.Record{}, err
	} else if ok {
		c.logger.Info("request already tracked",
			logging.String(logging.FieldJobID, existing.ID),
			logging.String("state", string(existing.State)))
		c.registry.Upsert(existing)
		if existing.State.Active() {
			c.watch(existing.ID)
		}
		return existing, nil
	}

	snapshot, err := c.service.Submit(ctx, built.Payload)
	if err != nil {
		return jobs.Record{}, err
	}

	settings, err := built.SettingsTOML()
	if err != nil {
		return jobs.Record{}, err
	}

	rec := jobs.Record{
		ID:           snapshot.ID,
		State:        jobs.StateSubmitted,
		Fingerprint:  built.Fingerprint,
		BaseName:     strings.TrimSpace(baseName),
		SettingsTOML: string(settings),
	}
	rec = c.registry.Upsert(rec)
	if err := c.catalog.Save(ctx, rec); err != nil {
		return jobs.Record{}, err
	}
	c.bus.Publish(events.Event{Kind: events.KindStateChanged, JobID: rec.ID, State: rec.State})
	if err := c.notifier.NotifyJobSubmitted(ctx, rec.ID, rec.BaseName); err != nil {
		c.logger.Warn("submit notification", logging.Error(err))
	}
	c.logger.Info("job submitted",
		logging.String(logging.FieldJobID, rec.ID),
		logging.String("fingerprint", rec.Fingerprint))

	// The service derives ids from content, so a resubmission of content it
	// still remembers can come back already finished.
	if snapshot.Completed() {
		return c.finishImmediately(ctx, rec, snapshot)
	}

	c.watch(rec.ID)
	return rec, nil
}

// Track adopts a job by service id, for jobs submitted elsewhere.
func (c *Client) Track(ctx context.Context, id, baseName string) (jobs.Record, error) {
	if err := c.requireStarted(); err != nil {
		return jobs.Record{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return jobs.Record{}, services.Wrap(services.ErrValidation, "client", "track", "job id required", nil)
	}
	if existing, ok := c.registry.Get(id); ok {
		if existing.State.Active() {
			c.watch(id)
		}
		return existing, nil
	}

	snapshot, err := c.service.Fetch(ctx, id)
	if err != nil {
		return jobs.Record{}, err
	}

	rec := jobs.Record{
		ID:       snapshot.ID,
		State:    jobs.StateSubmitted,
		BaseName: strings.TrimSpace(baseName),
	}
	rec = c.registry.Upsert(rec)
	if err := c.catalog.Save(ctx, rec); err != nil {
		return jobs.Record{}, err
	}
	c.logger.Info("job adopted", logging.String(logging.FieldJobID, rec.ID))

	if snapshot.Completed() {
		return c.finishImmediately(ctx, rec, snapshot)
	}

	c.watch(rec.ID)
	return rec, nil
}

func (c *Client) finishImmediately(ctx context.Context, rec jobs.Record, snapshot *kvfinder.Snapshot) (jobs.Record, error) {
	result, err := c.materializer.Publish(rec, snapshot.Output)
	if err != nil {
		return jobs.Record{}, err
	}
	if _, err := c.registry.SetResultDir(rec.ID, result.Artifacts.Dir); err != nil {
		return jobs.Record{}, err
	}
	updated, err := c.registry.Transition(rec.ID, jobs.StateCompleted)
	if err != nil {
		return jobs.Record{}, err
	}
	if err := c.catalog.Save(ctx, updated); err != nil {
		return jobs.Record{}, err
	}
	c.bus.Publish(events.Event{Kind: events.KindStateChanged, JobID: updated.ID, State: updated.State})
	c.bus.Publish(events.Event{
		Kind:      events.KindResultReady,
		JobID:     updated.ID,
		State:     updated.State,
		ResultDir: result.Artifacts.Dir,
	})
	if err := c.notifier.NotifyJobCompleted(ctx, updated.ID, updated.BaseName, result.Artifacts.Dir); err != nil {
		c.logger.Warn("completion notification", logging.Error(err))
	}
	return updated, nil
}

// Cancel stops polling a job and asks the service to drop it. The service
// call is best-effort; the job ends up canceled locally regardless.
func (c *Client) Cancel(ctx context.Context, id string) error {
	if err := c.requireStarted(); err != nil {
		return err
	}

	rec, err := c.registry.Transition(id, jobs.StateCanceled)
	if err != nil {
		return err
	}
	c.stopWatch(id)
	if err := c.catalog.Save(ctx, rec); err != nil {
		return err
	}
	c.bus.Publish(events.Event{Kind: events.KindStateChanged, JobID: id, State: jobs.StateCanceled})
	c.logger.Info("job canceled", logging.String(logging.FieldJobID, id))

	if err := c.service.Cancel(ctx, id); err != nil {
		c.logger.Warn("service-side cancel failed",
			logging.String(logging.FieldJobID, id),
			logging.Error(err))
	}
	return nil
}

// Discard removes a terminal job from tracking, including any published
// artifacts.
func (c *Client) Discard(ctx context.Context, id string) error {
	if err := c.requireStarted(); err != nil {
		return err
	}
	if err := c.registry.Remove(id); err != nil {
		return err
	}
	if err := c.materializer.Discard(id); err != nil {
		return err
	}
	return c.catalog.Delete(ctx, id)
}

// Jobs returns every tracked job ordered by creation time.
func (c *Client) Jobs() []jobs.Record {
	return c.registry.List()
}

// Job returns one tracked job.
func (c *Client) Job(id string) (jobs.Record, error) {
	rec, ok := c.registry.Get(id)
	if !ok {
		return jobs.Record{}, fmt.Errorf("job %s: %w", id, jobs.ErrUnknownJob)
	}
	return rec, nil
}

// Result loads the published result of a completed job.
func (c *Client) Result(id string) (*results.Result, error) {
	rec, err := c.Job(id)
	if err != nil {
		return nil, err
	}
	if rec.State != jobs.StateCompleted {
		return nil, fmt.Errorf("job %s is %s, not completed", id, rec.State)
	}
	return c.materializer.Load(rec)
}

// Events returns the lifecycle event channel. It is closed by Close.
func (c *Client) Events() <-chan events.Event {
	return c.bus.Events()
}

// Ping probes the service for liveness.
func (c *Client) Ping(ctx context.Context) error {
	return c.service.Ping(ctx)
}

// Close stops all pollers, flushes state, and releases the directory lock.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.started = false
	c.mu.Unlock()

	c.scheduler.Wait()
	c.bus.Close()

	var errs []error
	if err := c.catalog.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.lock.Unlock(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Client) requireStarted() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return errors.New("client not started")
	}
	return nil
}

func (c *Client) watch(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	if _, exists := c.watches[id]; exists {
		return
	}
	ctx, cancel := context.WithCancel(c.ctx)
	if !c.scheduler.Watch(ctx, id) {
		cancel()
		return
	}
	c.watches[id] = cancel
}

func (c *Client) stopWatch(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.watches[id]; ok {
		cancel()
		delete(c.watches, id)
	}
}

// notifyingStore mirrors poller updates into the catalog and fires
// notifications when a job reaches a terminal state.
type notifyingStore struct {
	catalog  *jobs.Catalog
	notifier notifications.Service
	logger   *slog.Logger
}

func (s *notifyingStore) Save(ctx context.Context, rec jobs.Record) error {
	err := s.catalog.Save(ctx, rec)

	switch rec.State {
	case jobs.StateCompleted:
		if nerr := s.notifier.NotifyJobCompleted(ctx, rec.ID, rec.BaseName, rec.ResultDir); nerr != nil {
			s.logger.Warn("completion notification", logging.Error(nerr))
		}
	case jobs.StateFailed:
		if nerr := s.notifier.NotifyJobFailed(ctx, rec.ID, rec.BaseName, rec.LastError); nerr != nil {
			s.logger.Warn("failure notification", logging.Error(nerr))
		}
	}
	return err
}
