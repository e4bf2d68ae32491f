package jobs_test

import (
	"errors"
	"testing"
	"time"

	"kvweb/internal/jobs"
)

func newRecord(id string) jobs.Record {
	return jobs.Record{
		ID:          id,
		State:       jobs.StateSubmitted,
		Fingerprint: "fp-" + id,
		BaseName:    "structure",
	}
}

func TestRegistryUpsertAndGet(t *testing.T) {
	t.Parallel()

	reg := jobs.NewRegistry()
	stored := reg.Upsert(newRecord("a"))
	if stored.CreatedAt.IsZero() || stored.UpdatedAt.IsZero() {
		t.Fatal("timestamps not filled in")
	}

	got, ok := reg.Get("a")
	if !ok {
		t.Fatal("record missing")
	}
	if got.Fingerprint != "fp-a" {
		t.Fatalf("fingerprint = %q", got.Fingerprint)
	}

	if _, ok := reg.Get("missing"); ok {
		t.Fatal("unexpected record")
	}
}

func TestRegistryTransitions(t *testing.T) {
	t.Parallel()

	reg := jobs.NewRegistry()
	reg.Upsert(newRecord("a"))

	rec, err := reg.Transition("a", jobs.StateQueued)
	if err != nil {
		t.Fatalf("to queued: %v", err)
	}
	if rec.State != jobs.StateQueued {
		t.Fatalf("state = %s", rec.State)
	}

	// Repeating the current state is a no-op.
	if _, err := reg.Transition("a", jobs.StateQueued); err != nil {
		t.Fatalf("repeat transition: %v", err)
	}

	if _, err := reg.Transition("a", jobs.StateSubmitted); err == nil {
		t.Fatal("backward transition accepted")
	}

	if _, err := reg.Transition("a", jobs.StateCompleted); err != nil {
		t.Fatalf("to completed: %v", err)
	}
	if _, err := reg.Transition("a", jobs.StateFailed); !errors.Is(err, jobs.ErrTerminalState) {
		t.Fatalf("expected terminal state error, got %v", err)
	}

	if _, err := reg.Transition("nope", jobs.StateQueued); !errors.Is(err, jobs.ErrUnknownJob) {
		t.Fatalf("expected unknown job error, got %v", err)
	}
}

func TestRegistryActiveOrdering(t *testing.T) {
	t.Parallel()

	reg := jobs.NewRegistry()
	first := newRecord("first")
	first.CreatedAt = time.Now().UTC().Add(-time.Hour)
	reg.Upsert(first)
	reg.Upsert(newRecord("second"))
	reg.Upsert(newRecord("done"))
	if _, err := reg.Transition("done", jobs.StateCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}

	active := reg.Active()
	if len(active) != 2 {
		t.Fatalf("active = %d records", len(active))
	}
	if active[0].ID != "first" || active[1].ID != "second" {
		t.Fatalf("order = %s, %s", active[0].ID, active[1].ID)
	}
}

func TestRegistryRemoveRequiresTerminal(t *testing.T) {
	t.Parallel()

	reg := jobs.NewRegistry()
	reg.Upsert(newRecord("a"))

	if err := reg.Remove("a"); err == nil {
		t.Fatal("removed an active job")
	}
	if _, err := reg.Transition("a", jobs.StateCanceled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := reg.Remove("a"); err != nil {
		t.Fatalf("remove terminal: %v", err)
	}
	if _, ok := reg.Get("a"); ok {
		t.Fatal("record still present")
	}
}

func TestRegistryPollingClaims(t *testing.T) {
	t.Parallel()

	reg := jobs.NewRegistry()
	reg.Upsert(newRecord("a"))

	if !reg.ClaimPolling("a") {
		t.Fatal("first claim refused")
	}
	if reg.ClaimPolling("a") {
		t.Fatal("double claim accepted")
	}
	reg.ReleasePolling("a")
	if !reg.ClaimPolling("a") {
		t.Fatal("claim after release refused")
	}
}

func TestRegistryRecordPoll(t *testing.T) {
	t.Parallel()

	reg := jobs.NewRegistry()
	reg.Upsert(newRecord("a"))

	rec, err := reg.RecordPoll("a", 3, "service answered 503")
	if err != nil {
		t.Fatalf("RecordPoll: %v", err)
	}
	if rec.Retries != 3 || rec.LastError == "" || rec.LastPolled.IsZero() {
		t.Fatalf("poll outcome not stored: %+v", rec)
	}
}
