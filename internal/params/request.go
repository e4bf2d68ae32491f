package params

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/pelletier/go-toml/v2"

	"kvweb/internal/services"
)

// Request is the wire-level job request. Field order is fixed by the struct
// so identical inputs marshal to identical bytes.
type Request struct {
	PDB       string   `json:"pdb"`
	PDBLigand string   `json:"pdb_ligand,omitempty"`
	Settings  Settings `json:"settings"`
}

// Settings groups the detection configuration the way the service expects it.
type Settings struct {
	Modes       Modes    `json:"modes" toml:"modes"`
	StepSize    StepSize `json:"step_size" toml:"step_size"`
	Probes      Probes   `json:"probes" toml:"probes"`
	Cutoffs     Cutoffs  `json:"cutoffs" toml:"cutoffs"`
	VisibleBox  *Box     `json:"visiblebox,omitempty" toml:"visiblebox,omitempty"`
	InternalBox *Box     `json:"internalbox,omitempty" toml:"internalbox,omitempty"`
}

type Modes struct {
	WholeProteinMode bool   `json:"whole_protein_mode" toml:"whole_protein_mode"`
	BoxMode          bool   `json:"box_mode" toml:"box_mode"`
	ResolutionMode   string `json:"resolution_mode" toml:"resolution_mode"`
	SurfaceMode      bool   `json:"surface_mode" toml:"surface_mode"`
	KVPMode          bool   `json:"kvp_mode" toml:"kvp_mode"`
	LigandMode       bool   `json:"ligand_mode" toml:"ligand_mode"`
}

type StepSize struct {
	StepSize float64 `json:"step_size" toml:"step_size"`
}

type Probes struct {
	ProbeIn  float64 `json:"probe_in" toml:"probe_in"`
	ProbeOut float64 `json:"probe_out" toml:"probe_out"`
}

type Cutoffs struct {
	VolumeCutoff    float64 `json:"volume_cutoff" toml:"volume_cutoff"`
	LigandCutoff    float64 `json:"ligand_cutoff" toml:"ligand_cutoff"`
	RemovalDistance float64 `json:"removal_distance" toml:"removal_distance"`
}

// Input is everything needed to assemble one job request.
type Input struct {
	// Structure is the PDB text of the target molecule.
	Structure string
	// Ligand is an optional PDB text; setting it enables ligand mode.
	Ligand     string
	Parameters Parameters
}

// Built is a validated request ready for submission.
type Built struct {
	Request Request
	// Payload is the canonical JSON encoding of Request.
	Payload []byte
	// Fingerprint is the lowercase hex SHA-256 of Payload. The service
	// derives the job id from the same content, so equal fingerprints
	// mean equal jobs.
	Fingerprint string
}

// Build validates the input and produces the canonical request payload.
func Build(in Input) (*Built, error) {
	hasLigand := in.Ligand != ""
	if err := in.Parameters.Validate(hasLigand); err != nil {
		return nil, err
	}

	structure, err := NormalizePDB(in.Structure)
	if err != nil {
		return nil, err
	}

	req := Request{
		PDB: structure,
		Settings: Settings{
			Modes: Modes{
				WholeProteinMode: !in.Parameters.BoxMode(),
				BoxMode:          in.Parameters.BoxMode(),
				ResolutionMode:   in.Parameters.ResolutionMode,
				SurfaceMode:      in.Parameters.SurfaceMode,
				KVPMode:          in.Parameters.KVPMode,
				LigandMode:       hasLigand,
			},
			StepSize: StepSize{StepSize: in.Parameters.StepSize},
			Probes: Probes{
				ProbeIn:  in.Parameters.ProbeIn,
				ProbeOut: in.Parameters.ProbeOut,
			},
			Cutoffs: Cutoffs{
				VolumeCutoff:    in.Parameters.VolumeCutoff,
				LigandCutoff:    in.Parameters.LigandCutoff,
				RemovalDistance: in.Parameters.RemovalDistance,
			},
			VisibleBox:  in.Parameters.VisibleBox,
			InternalBox: in.Parameters.InternalBox,
		},
	}
	if hasLigand {
		ligand, err := NormalizePDB(in.Ligand)
		if err != nil {
			return nil, err
		}
		req.PDBLigand = ligand
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "params", "build",
			"encode request payload", err)
	}
	digest := sha256.Sum256(payload)

	return &Built{
		Request:     req,
		Payload:     payload,
		Fingerprint: hex.EncodeToString(digest[:]),
	}, nil
}

// SettingsTOML renders the submitted settings as a TOML document. It is
// written alongside result artifacts so a job stays reproducible.
func (b *Built) SettingsTOML() ([]byte, error) {
	encoded, err := toml.Marshal(b.Request.Settings)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "params", "settings_toml",
			"encode settings", err)
	}
	return encoded, nil
}
