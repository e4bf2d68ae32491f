package results

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"kvweb/internal/jobs"
	"kvweb/internal/logging"
	"kvweb/internal/services"
	"kvweb/internal/services/kvfinder"
)

const defaultBaseName = "output"

// Artifacts lists the files published for one completed job.
type Artifacts struct {
	// Dir is the per-job directory under the jobs root.
	Dir string
	// CavitiesPDB holds the detected cavities as PDB text.
	CavitiesPDB string
	// Report holds the raw TOML characterization report.
	Report string
	// Log holds the detection software's run log.
	Log string
	// Settings holds the submitted detection settings, when recorded.
	Settings string
}

// Result is a decoded, published job outcome.
type Result struct {
	JobID     string
	Cavities  []Cavity
	Artifacts Artifacts
}

// Materializer writes completed job output under the jobs root.
type Materializer struct {
	jobsDir string
	logger  *slog.Logger
}

// NewMaterializer returns a materializer rooted at jobsDir.
func NewMaterializer(jobsDir string, logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Materializer{
		jobsDir: jobsDir,
		logger:  logging.NewComponentLogger(logger, "results"),
	}
}

// Publish decodes the output and writes its artifacts into jobsDir/{id}.
// The report is decoded before anything touches disk, so malformed output
// publishes nothing. A job directory that already exists is left alone and
// reported as the result.
func (m *Materializer) Publish(rec jobs.Record, output *kvfinder.Output) (*Result, error) {
	if output == nil {
		return nil, services.Wrap(services.ErrDecode, "results", "publish",
			"completed job carries no output", nil)
	}
	cavities, err := DecodeReport(output.Report)
	if err != nil {
		return nil, err
	}

	jobDir := filepath.Join(m.jobsDir, rec.ID)
	artifacts := m.artifactPaths(jobDir, rec)

	if _, err := os.Stat(jobDir); err == nil {
		m.logger.Debug("artifacts already published", logging.String(logging.FieldJobID, rec.ID))
		return &Result{JobID: rec.ID, Cavities: cavities, Artifacts: artifacts}, nil
	}

	staging := filepath.Join(m.jobsDir, ".staging-"+uuid.NewString())
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	files := []struct {
		name string
		body string
	}{
		{filepath.Base(artifacts.CavitiesPDB), output.CavitiesPDB},
		{filepath.Base(artifacts.Report), output.Report},
		{filepath.Base(artifacts.Log), output.Log},
	}
	if rec.SettingsTOML != "" {
		files = append(files, struct {
			name string
			body string
		}{"parameters.toml", rec.SettingsTOML})
	}
	for _, file := range files {
		path := filepath.Join(staging, file.name)
		if err := os.WriteFile(path, []byte(file.body), 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", file.name, err)
		}
	}

	if err := os.Rename(staging, jobDir); err != nil {
		// A concurrent publisher may have won the rename.
		if errors.Is(err, os.ErrExist) || dirExists(jobDir) {
			return &Result{JobID: rec.ID, Cavities: cavities, Artifacts: artifacts}, nil
		}
		return nil, fmt.Errorf("publish job directory: %w", err)
	}

	m.logger.Info("published result artifacts",
		logging.String(logging.FieldJobID, rec.ID),
		logging.String("dir", jobDir),
		logging.Int("cavities", len(cavities)))
	return &Result{JobID: rec.ID, Cavities: cavities, Artifacts: artifacts}, nil
}

// Load reads a previously published result back from disk.
func (m *Materializer) Load(rec jobs.Record) (*Result, error) {
	jobDir := filepath.Join(m.jobsDir, rec.ID)
	artifacts := m.artifactPaths(jobDir, rec)

	report, err := os.ReadFile(artifacts.Report)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, services.Wrap(services.ErrNotFound, "results", "load",
				fmt.Sprintf("no published artifacts for job %s", rec.ID), nil)
		}
		return nil, fmt.Errorf("read report: %w", err)
	}
	cavities, err := DecodeReport(string(report))
	if err != nil {
		return nil, err
	}
	return &Result{JobID: rec.ID, Cavities: cavities, Artifacts: artifacts}, nil
}

// Discard removes a job's published directory.
func (m *Materializer) Discard(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("discard: job id required")
	}
	return os.RemoveAll(filepath.Join(m.jobsDir, id))
}

func (m *Materializer) artifactPaths(jobDir string, rec jobs.Record) Artifacts {
	base := strings.TrimSpace(rec.BaseName)
	if base == "" {
		base = defaultBaseName
	}
	artifacts := Artifacts{
		Dir:         jobDir,
		CavitiesPDB: filepath.Join(jobDir, base+".cavities.pdb"),
		Report:      filepath.Join(jobDir, base+".results.toml"),
		Log:         filepath.Join(jobDir, "job.log"),
	}
	if rec.SettingsTOML != "" {
		artifacts.Settings = filepath.Join(jobDir, "parameters.toml")
	}
	return artifacts
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
