package jobs_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"kvweb/internal/jobs"
)

func openCatalog(t *testing.T) *jobs.Catalog {
	t.Helper()
	catalog, err := jobs.OpenCatalog(t.TempDir())
	if err != nil {
		t.Fatalf("OpenCatalog: %v", err)
	}
	t.Cleanup(func() { catalog.Close() })
	return catalog
}

func TestCatalogSaveRoundTrip(t *testing.T) {
	t.Parallel()

	catalog := openCatalog(t)
	ctx := context.Background()

	rec := newRecord("job-1")
	rec.SettingsTOML = "[probes]\nprobe_in = 1.4\n"
	rec.CreatedAt = time.Now().UTC()
	rec.UpdatedAt = rec.CreatedAt
	if err := catalog.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := catalog.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != jobs.StateSubmitted || got.Fingerprint != "fp-job-1" {
		t.Fatalf("record = %+v", got)
	}
	if got.SettingsTOML == "" {
		t.Fatal("settings not persisted")
	}
	if !got.LastPolled.IsZero() {
		t.Fatal("unpolled job should have zero LastPolled")
	}
}

func TestCatalogUpsertOverwrites(t *testing.T) {
	t.Parallel()

	catalog := openCatalog(t)
	ctx := context.Background()

	rec := newRecord("job-1")
	rec.CreatedAt = time.Now().UTC()
	rec.UpdatedAt = rec.CreatedAt
	if err := catalog.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	rec.State = jobs.StateRunning
	rec.Retries = 2
	rec.LastError = "service answered 502"
	rec.LastPolled = time.Now().UTC()
	rec.UpdatedAt = rec.LastPolled
	if err := catalog.Save(ctx, rec); err != nil {
		t.Fatalf("Save update: %v", err)
	}

	got, err := catalog.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != jobs.StateRunning || got.Retries != 2 || got.LastError == "" {
		t.Fatalf("update lost: %+v", got)
	}
	if got.LastPolled.IsZero() {
		t.Fatal("LastPolled not persisted")
	}
}

func TestCatalogGetUnknown(t *testing.T) {
	t.Parallel()

	catalog := openCatalog(t)
	if _, err := catalog.Get(context.Background(), "nope"); !errors.Is(err, jobs.ErrUnknownJob) {
		t.Fatalf("expected unknown job, got %v", err)
	}
}

func TestCatalogActiveAndList(t *testing.T) {
	t.Parallel()

	catalog := openCatalog(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, tc := range []struct {
		id    string
		state jobs.State
	}{
		{"a", jobs.StateQueued},
		{"b", jobs.StateRunning},
		{"c", jobs.StateCompleted},
		{"d", jobs.StateFailed},
	} {
		rec := newRecord(tc.id)
		rec.State = tc.state
		rec.CreatedAt = now.Add(time.Duration(i) * time.Second)
		rec.UpdatedAt = rec.CreatedAt
		if err := catalog.Save(ctx, rec); err != nil {
			t.Fatalf("Save %s: %v", tc.id, err)
		}
	}

	active, err := catalog.Active(ctx)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if len(active) != 2 || active[0].ID != "a" || active[1].ID != "b" {
		t.Fatalf("active = %+v", active)
	}

	all, err := catalog.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("list = %d records", len(all))
	}

	failed, err := catalog.List(ctx, jobs.StateFailed)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "d" {
		t.Fatalf("failed = %+v", failed)
	}
}

func TestCatalogFindByFingerprint(t *testing.T) {
	t.Parallel()

	catalog := openCatalog(t)
	ctx := context.Background()

	rec := newRecord("job-1")
	rec.CreatedAt = time.Now().UTC()
	rec.UpdatedAt = rec.CreatedAt
	if err := catalog.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	found, ok, err := catalog.FindByFingerprint(ctx, "fp-job-1")
	if err != nil || !ok {
		t.Fatalf("FindByFingerprint: ok=%v err=%v", ok, err)
	}
	if found.ID != "job-1" {
		t.Fatalf("found = %+v", found)
	}

	if _, ok, err := catalog.FindByFingerprint(ctx, "fp-other"); err != nil || ok {
		t.Fatalf("unexpected match: ok=%v err=%v", ok, err)
	}
}

func TestCatalogDelete(t *testing.T) {
	t.Parallel()

	catalog := openCatalog(t)
	ctx := context.Background()

	rec := newRecord("job-1")
	rec.CreatedAt = time.Now().UTC()
	rec.UpdatedAt = rec.CreatedAt
	if err := catalog.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := catalog.Delete(ctx, "job-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := catalog.Get(ctx, "job-1"); !errors.Is(err, jobs.ErrUnknownJob) {
		t.Fatalf("expected unknown job after delete, got %v", err)
	}
}

func TestCatalogReopenKeepsRecords(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first, err := jobs.OpenCatalog(dir)
	if err != nil {
		t.Fatalf("OpenCatalog: %v", err)
	}
	rec := newRecord("job-1")
	rec.CreatedAt = time.Now().UTC()
	rec.UpdatedAt = rec.CreatedAt
	if err := first.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := jobs.OpenCatalog(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	if _, err := second.Get(context.Background(), "job-1"); err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
}
