package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"kvweb/internal/client"
	"kvweb/internal/events"
	"kvweb/internal/jobs"
	"kvweb/internal/params"
	"kvweb/internal/services"
	"kvweb/internal/testsupport"
)

const samplePDB = "ATOM      1  N   ALA A   1      11.104   6.134  -6.504  1.00  0.00           N\nEND\n"

const sampleReport = `[RESULTS]

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

// fakeService emulates a KVFinder-web deployment: jobs are created with a
// fixed id and walk through a scripted status sequence, one step per fetch.
type fakeService struct {
	mu       sync.Mutex
	sequence []string
	step     int
	creates  int
	cancels  int
	jobID    string
}

func newFakeService(jobID string, sequence ...string) *fakeService {
	return &fakeService{jobID: jobID, sequence: sequence}
}

func (f *fakeService) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/create":
			f.creates++
			fmt.Fprintf(w, `{"id":%q,"status":"queued"}`, f.jobID)
		case r.Method == http.MethodDelete:
			f.cancels++
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet && r.URL.Path == "/":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet && strings.TrimPrefix(r.URL.Path, "/") == f.jobID:
			status := f.sequence[f.step]
			if f.step < len(f.sequence)-1 {
				f.step++
			}
			response := map[string]any{"id": f.jobID, "status": status}
			if status == "completed" {
				response["output"] = map[string]string{
					"pdb_kv": "ATOM KAA\nEND\n",
					"report": sampleReport,
					"log":    "parKVFinder finished\n",
				}
			}
			json.NewEncoder(w).Encode(response)
		default:
			http.NotFound(w, r)
		}
	})
}

func (f *fakeService) counts() (creates, cancels int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates, f.cancels
}

func startClient(t *testing.T, fake *fakeService) *client.Client {
	t.Helper()
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	cfg := testsupport.NewConfig(t, testsupport.WithBaseURL(server.URL))
	c, err := client.New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return c
}

func submitInput() params.Input {
	return params.Input{Structure: samplePDB, Parameters: params.Defaults()}
}

func waitForEvent(t *testing.T, c *client.Client, want events.Kind) events.Event {
	t.Helper()
	deadline := time.After(15 * time.Second)
	for {
		select {
		case event, ok := <-c.Events():
			if !ok {
				t.Fatal("event channel closed")
			}
			if event.Kind == want {
				return event
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func TestSubmitAndComplete(t *testing.T) {
	t.Parallel()

	fake := newFakeService("job-e2e", "queued", "running", "completed")
	c := startClient(t, fake)

	rec, err := c.Submit(context.Background(), submitInput(), "1FMO")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rec.ID != "job-e2e" || rec.Fingerprint == "" {
		t.Fatalf("record = %+v", rec)
	}

	event := waitForEvent(t, c, events.KindResultReady)
	if event.ResultDir == "" {
		t.Fatal("result event without directory")
	}

	final, err := c.Job("job-e2e")
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if final.State != jobs.StateCompleted {
		t.Fatalf("state = %s", final.State)
	}

	result, err := c.Result("job-e2e")
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if len(result.Cavities) != 1 || result.Cavities[0].ID != "KAA" {
		t.Fatalf("cavities = %+v", result.Cavities)
	}
	if _, err := os.Stat(result.Artifacts.CavitiesPDB); err != nil {
		t.Fatalf("cavities artifact: %v", err)
	}
}

func TestSubmitIsIdempotent(t *testing.T) {
	t.Parallel()

	fake := newFakeService("job-dup", "queued")
	c := startClient(t, fake)

	first, err := c.Submit(context.Background(), submitInput(), "1FMO")
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	second, err := c.Submit(context.Background(), submitInput(), "1FMO")
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("ids differ: %s vs %s", first.ID, second.ID)
	}

	creates, _ := fake.counts()
	if creates != 1 {
		t.Fatalf("creates = %d, want 1", creates)
	}
}

func TestSubmitValidationFailsBeforeNetwork(t *testing.T) {
	t.Parallel()

	fake := newFakeService("job-x", "queued")
	c := startClient(t, fake)

	in := submitInput()
	in.Parameters.ProbeIn = 10 // larger than probe out
	if _, err := c.Submit(context.Background(), in, ""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	creates, _ := fake.counts()
	if creates != 0 {
		t.Fatalf("creates = %d, want 0", creates)
	}
}

func TestCancelStopsTracking(t *testing.T) {
	t.Parallel()

	fake := newFakeService("job-cancel", "queued", "queued", "queued")
	c := startClient(t, fake)

	if _, err := c.Submit(context.Background(), submitInput(), "1FMO"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := c.Cancel(context.Background(), "job-cancel"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	rec, err := c.Job("job-cancel")
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if rec.State != jobs.StateCanceled {
		t.Fatalf("state = %s", rec.State)
	}
	if rec.ResultDir != "" {
		t.Fatal("canceled job should not have results")
	}

	_, cancels := fake.counts()
	if cancels != 1 {
		t.Fatalf("cancels = %d, want 1", cancels)
	}

	// Canceling again hits the terminal-state guard.
	if err := c.Cancel(context.Background(), "job-cancel"); !errors.Is(err, jobs.ErrTerminalState) {
		t.Fatalf("expected terminal state error, got %v", err)
	}

	if err := c.Discard(context.Background(), "job-cancel"); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if _, err := c.Job("job-cancel"); !errors.Is(err, jobs.ErrUnknownJob) {
		t.Fatalf("expected unknown job after discard, got %v", err)
	}
}

func TestTrackAdoptsCompletedJob(t *testing.T) {
	t.Parallel()

	fake := newFakeService("job-remote", "completed")
	c := startClient(t, fake)

	rec, err := c.Track(context.Background(), "job-remote", "1FMO")
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if rec.State != jobs.StateCompleted {
		t.Fatalf("state = %s", rec.State)
	}
	if rec.ResultDir == "" {
		t.Fatal("result dir not set")
	}

	if _, err := c.Track(context.Background(), "job-unknown", ""); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestJobsDirectoryLockIsExclusive(t *testing.T) {
	t.Parallel()

	fake := newFakeService("job-lock", "queued")
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	cfg := testsupport.NewConfig(t, testsupport.WithBaseURL(server.URL))
	first, err := client.New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer first.Close()

	if _, err := client.New(cfg, nil); !errors.Is(err, client.ErrLocked) {
		t.Fatalf("expected lock error, got %v", err)
	}
}

func TestRestartResumesActiveJobs(t *testing.T) {
	t.Parallel()

	fake := newFakeService("job-resume", "running", "running", "completed")
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)
	cfg := testsupport.NewConfig(t, testsupport.WithBaseURL(server.URL))

	first, err := client.New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := first.Submit(context.Background(), submitInput(), "1FMO"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := client.New(cfg, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	if err := second.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}

	rec, err := second.Job("job-resume")
	if err != nil {
		t.Fatalf("resumed job missing: %v", err)
	}
	if rec.State.Terminal() {
		t.Fatalf("job resumed in terminal state %s", rec.State)
	}

	waitForEvent(t, second, events.KindResultReady)
	final, err := second.Job("job-resume")
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if final.State != jobs.StateCompleted {
		t.Fatalf("state = %s", final.State)
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	fake := newFakeService("job-ping", "queued")
	c := startClient(t, fake)
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
