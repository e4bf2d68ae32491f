package poller_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"kvweb/internal/events"
	"kvweb/internal/jobs"
	"kvweb/internal/poller"
	"kvweb/internal/results"
	"kvweb/internal/services"
	"kvweb/internal/services/kvfinder"
)

const testReport = `[RESULTS]

[RESULTS.VOLUME]
KAA = 115.3

[RESULTS.AREA]
KAA = 112.9

[RESULTS.AVG_DEPTH]
KAA = 2.68

[RESULTS.MAX_DEPTH]
KAA = 6.35

[RESULTS.AVG_HYDROPATHY]
KAA = -0.73

[RESULTS.RESIDUES]
KAA = [["14", "E", "SER"]]
`

type fetchResult struct {
	snapshot *kvfinder.Snapshot
	err      error
}

type scriptedFetcher struct {
	mu      sync.Mutex
	script  []fetchResult
	calls   int
	repeats bool
}

func (f *scriptedFetcher) Fetch(ctx context.Context, id string) (*kvfinder.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.script) == 0 {
		return nil, services.Wrap(services.ErrTransient, "kvfinder", "fetch", "script exhausted", nil)
	}
	next := f.script[0]
	if !f.repeats || len(f.script) > 1 {
		f.script = f.script[1:]
	}
	return next.snapshot, next.err
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memoryStore struct {
	mu    sync.Mutex
	saved []jobs.Record
}

func (s *memoryStore) Save(ctx context.Context, rec jobs.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, rec)
	return nil
}

func snapshot(id, status string, output *kvfinder.Output) *kvfinder.Snapshot {
	return &kvfinder.Snapshot{ID: id, Status: status, Output: output}
}

func completedOutput() *kvfinder.Output {
	return &kvfinder.Output{CavitiesPDB: "ATOM\nEND\n", Report: testReport, Log: "done\n"}
}

func transientErr() error {
	return services.Wrap(services.ErrTransient, "kvfinder", "fetch", "service answered 503", nil)
}

func testConfig(maxRetries int) poller.Config {
	return poller.Config{
		InitialDelay:        time.Millisecond,
		PollInterval:        2 * time.Millisecond,
		BackoffInitial:      time.Millisecond,
		BackoffMax:          4 * time.Millisecond,
		MaxTransientRetries: maxRetries,
	}
}

type harness struct {
	registry *jobs.Registry
	store    *memoryStore
	bus      *events.Bus
	sched    *poller.Scheduler
	jobsDir  string
}

func newHarness(t *testing.T, fetcher poller.Fetcher, maxRetries int) *harness {
	t.Helper()
	jobsDir := t.TempDir()
	registry := jobs.NewRegistry()
	store := &memoryStore{}
	bus := events.NewBus(32)
	sched := poller.New(testConfig(maxRetries), fetcher, registry,
		results.NewMaterializer(jobsDir, nil), store, bus, nil)
	return &harness{registry: registry, store: store, bus: bus, sched: sched, jobsDir: jobsDir}
}

func (h *harness) track(id string) {
	h.registry.Upsert(jobs.Record{ID: id, State: jobs.StateSubmitted, BaseName: "1FMO"})
}

func (h *harness) drainEvents() []events.Event {
	h.bus.Close()
	var out []events.Event
	for event := range h.bus.Events() {
		out = append(out, event)
	}
	return out
}

func TestPollLifecycleToCompletion(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{script: []fetchResult{
		{snapshot: snapshot("job-1", kvfinder.StatusQueued, nil)},
		{snapshot: snapshot("job-1", kvfinder.StatusRunning, nil)},
		{snapshot: snapshot("job-1", kvfinder.StatusCompleted, completedOutput())},
	}}
	h := newHarness(t, fetcher, 8)
	h.track("job-1")

	if !h.sched.Watch(context.Background(), "job-1") {
		t.Fatal("Watch refused")
	}
	h.sched.Wait()

	rec, _ := h.registry.Get("job-1")
	if rec.State != jobs.StateCompleted {
		t.Fatalf("state = %s (last error %q)", rec.State, rec.LastError)
	}
	if rec.ResultDir == "" {
		t.Fatal("result dir not recorded")
	}

	var sawQueued, sawRunning, sawCompleted, sawResult bool
	for _, event := range h.drainEvents() {
		switch {
		case event.Kind == events.KindStateChanged && event.State == jobs.StateQueued:
			sawQueued = true
		case event.Kind == events.KindStateChanged && event.State == jobs.StateRunning:
			sawRunning = true
		case event.Kind == events.KindStateChanged && event.State == jobs.StateCompleted:
			sawCompleted = true
		case event.Kind == events.KindResultReady:
			sawResult = true
			if event.ResultDir == "" {
				t.Error("result event without directory")
			}
		}
	}
	if !sawQueued || !sawRunning || !sawCompleted || !sawResult {
		t.Fatalf("missing events: queued=%v running=%v completed=%v result=%v",
			sawQueued, sawRunning, sawCompleted, sawResult)
	}
}

func TestPollRecoversFromTransientErrors(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{script: []fetchResult{
		{err: transientErr()},
		{err: transientErr()},
		{err: transientErr()},
		{snapshot: snapshot("job-1", kvfinder.StatusCompleted, completedOutput())},
	}}
	h := newHarness(t, fetcher, 8)
	h.track("job-1")

	h.sched.Watch(context.Background(), "job-1")
	h.sched.Wait()

	rec, _ := h.registry.Get("job-1")
	if rec.State != jobs.StateCompleted {
		t.Fatalf("state = %s (last error %q)", rec.State, rec.LastError)
	}
	if rec.Retries != 3 {
		t.Fatalf("retries = %d, want 3", rec.Retries)
	}

	var online, offline bool
	for _, event := range h.drainEvents() {
		if event.Kind == events.KindServiceStatus {
			if event.Online {
				online = true
			} else {
				offline = true
			}
		}
	}
	if !offline || !online {
		t.Fatalf("service status events: offline=%v online=%v", offline, online)
	}
}

func TestPollFailsAfterRetryBudget(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{script: []fetchResult{{err: transientErr()}}, repeats: true}
	h := newHarness(t, fetcher, 4)
	h.track("job-1")

	h.sched.Watch(context.Background(), "job-1")
	h.sched.Wait()

	rec, _ := h.registry.Get("job-1")
	if rec.State != jobs.StateFailed {
		t.Fatalf("state = %s", rec.State)
	}
	if !strings.Contains(rec.LastError, "service unreachable after 4 attempts") {
		t.Fatalf("last error = %q", rec.LastError)
	}
	if fetcher.callCount() != 4 {
		t.Fatalf("fetch calls = %d, want 4", fetcher.callCount())
	}
}

func TestPollFailsOnUnknownJob(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{script: []fetchResult{
		{err: services.Wrap(services.ErrNotFound, "kvfinder", "fetch", "job is unknown to the service or has expired", nil)},
	}}
	h := newHarness(t, fetcher, 8)
	h.track("job-1")

	h.sched.Watch(context.Background(), "job-1")
	h.sched.Wait()

	rec, _ := h.registry.Get("job-1")
	if rec.State != jobs.StateFailed {
		t.Fatalf("state = %s", rec.State)
	}
	if !strings.Contains(rec.LastError, "expired") {
		t.Fatalf("last error = %q", rec.LastError)
	}
	if fetcher.callCount() != 1 {
		t.Fatalf("fetch calls = %d, want 1", fetcher.callCount())
	}
}

func TestPollFailsOnMalformedOutput(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{script: []fetchResult{
		{snapshot: snapshot("job-1", kvfinder.StatusCompleted, &kvfinder.Output{Report: "broken {"})},
	}}
	h := newHarness(t, fetcher, 8)
	h.track("job-1")

	h.sched.Watch(context.Background(), "job-1")
	h.sched.Wait()

	rec, _ := h.registry.Get("job-1")
	if rec.State != jobs.StateFailed {
		t.Fatalf("state = %s", rec.State)
	}
}

func TestCancelBeforeFirstPoll(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{script: []fetchResult{
		{snapshot: snapshot("job-1", kvfinder.StatusCompleted, completedOutput())},
	}}
	h := newHarness(t, fetcher, 8)
	h.track("job-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.sched.Watch(ctx, "job-1")
	h.sched.Wait()

	if fetcher.callCount() != 0 {
		t.Fatalf("fetch calls = %d, want 0", fetcher.callCount())
	}
	rec, _ := h.registry.Get("job-1")
	if rec.ResultDir != "" {
		t.Fatal("canceled job should not have materialized results")
	}
}

func TestWatchRefusesDuplicatesAndTerminal(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{script: []fetchResult{{err: transientErr()}}, repeats: true}
	h := newHarness(t, fetcher, 0)
	h.track("job-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !h.sched.Watch(ctx, "job-1") {
		t.Fatal("first Watch refused")
	}
	if h.sched.Watch(ctx, "job-1") {
		t.Fatal("duplicate Watch accepted")
	}
	if h.sched.Watch(ctx, "missing") {
		t.Fatal("Watch accepted unknown job")
	}
	cancel()
	h.sched.Wait()
}
