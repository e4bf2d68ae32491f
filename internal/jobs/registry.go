package jobs

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Registry is the in-memory job table. All methods are safe for concurrent
// use; returned records are copies.
type Registry struct {
	mu      sync.Mutex
	records map[string]*Record
	polling map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]*Record),
		polling: make(map[string]struct{}),
	}
}

// Upsert inserts or replaces a record. Missing timestamps are filled in.
func (r *Registry) Upsert(rec Record) Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		if existing, ok := r.records[rec.ID]; ok {
			rec.CreatedAt = existing.CreatedAt
		} else {
			rec.CreatedAt = now
		}
	}
	rec.UpdatedAt = now
	stored := rec
	r.records[rec.ID] = &stored
	return rec
}

// Get returns the record for id.
func (r *Registry) Get(id string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

// List returns all records ordered by creation time.
func (r *Registry) List() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Active returns non-terminal records ordered by creation time.
func (r *Registry) Active() []Record {
	all := r.List()
	active := all[:0]
	for _, rec := range all {
		if rec.State.Active() {
			active = append(active, rec)
		}
	}
	return active
}

// Transition moves a job to a new state. Moving to the current state is a
// no-op; backward moves and moves out of terminal states are rejected.
func (r *Registry) Transition(id string, to State) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return Record{}, fmt.Errorf("transition %s: %w", id, ErrUnknownJob)
	}
	if rec.State == to {
		return rec.Clone(), nil
	}
	if rec.State.Terminal() {
		return Record{}, fmt.Errorf("transition %s from %s to %s: %w", id, rec.State, to, ErrTerminalState)
	}
	if !rec.State.CanTransition(to) {
		return Record{}, fmt.Errorf("transition %s: cannot move from %s to %s", id, rec.State, to)
	}
	rec.State = to
	rec.UpdatedAt = time.Now().UTC()
	return rec.Clone(), nil
}

// RecordPoll stores the outcome of one status check.
func (r *Registry) RecordPoll(id string, retries int, lastError string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return Record{}, fmt.Errorf("record poll %s: %w", id, ErrUnknownJob)
	}
	rec.Retries = retries
	rec.LastError = lastError
	rec.LastPolled = time.Now().UTC()
	rec.UpdatedAt = rec.LastPolled
	return rec.Clone(), nil
}

// SetResultDir notes where completed artifacts were published.
func (r *Registry) SetResultDir(id, dir string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return Record{}, fmt.Errorf("set result dir %s: %w", id, ErrUnknownJob)
	}
	rec.ResultDir = dir
	rec.UpdatedAt = time.Now().UTC()
	return rec.Clone(), nil
}

// Remove drops a terminal job from the registry.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return fmt.Errorf("remove %s: %w", id, ErrUnknownJob)
	}
	if !rec.State.Terminal() {
		return fmt.Errorf("remove %s: job is still %s", id, rec.State)
	}
	delete(r.records, id)
	delete(r.polling, id)
	return nil
}

// ClaimPolling marks a job as owned by a poller. It returns false when
// another poller already owns the job.
func (r *Registry) ClaimPolling(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, busy := r.polling[id]; busy {
		return false
	}
	r.polling[id] = struct{}{}
	return true
}

// ReleasePolling returns a job's polling claim.
func (r *Registry) ReleasePolling(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.polling, id)
}
