package jobs

import "time"

// Record is everything tracked about one job.
type Record struct {
	// ID is the service-assigned job identifier.
	ID string
	// State is the last observed lifecycle state.
	State State
	// Fingerprint is the SHA-256 of the canonical request payload.
	Fingerprint string
	// BaseName labels result artifacts, typically the structure's name.
	BaseName string
	// SettingsTOML preserves the submitted detection settings.
	SettingsTOML string
	// Retries counts transient poll failures seen over the job's lifetime.
	Retries int
	// LastPolled is the time of the most recent status check.
	LastPolled time.Time
	// LastError describes the most recent failure, if any.
	LastError string
	// ResultDir is set once completed artifacts have been published.
	ResultDir string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a copy safe to hand across goroutines.
func (r Record) Clone() Record {
	return r
}
