package params

import (
	"fmt"
	"math"

	"kvweb/internal/services"
)

// Resolution grades accepted by the service. Only Low is exposed by the
// public deployment; the others are kept for self-hosted installs.
const (
	ResolutionLow    = "Low"
	ResolutionMedium = "Medium"
	ResolutionHigh   = "High"
)

const maxProbeOut = 50.0

// Vertex is one corner of a search box in Cartesian space.
type Vertex struct {
	X float64 `json:"x" toml:"x"`
	Y float64 `json:"y" toml:"y"`
	Z float64 `json:"z" toml:"z"`
}

// Box bounds the cavity search. P1 is the origin; P2, P3 and P4 sit at the
// end of the X, Y and Z edges respectively.
type Box struct {
	P1 Vertex `json:"p1" toml:"p1"`
	P2 Vertex `json:"p2" toml:"p2"`
	P3 Vertex `json:"p3" toml:"p3"`
	P4 Vertex `json:"p4" toml:"p4"`
}

// Parameters is the full detection parameter set. Zero values are not
// meaningful for most fields; start from Defaults and override.
type Parameters struct {
	ResolutionMode  string
	SurfaceMode     bool
	KVPMode         bool
	StepSize        float64
	ProbeIn         float64
	ProbeOut        float64
	VolumeCutoff    float64
	RemovalDistance float64
	LigandCutoff    float64

	// VisibleBox and InternalBox restrict detection to a region. Both must
	// be set together; leaving them nil selects whole-protein mode.
	VisibleBox  *Box
	InternalBox *Box
}

// Defaults returns the standard whole-protein parameter set.
func Defaults() Parameters {
	return Parameters{
		ResolutionMode:  ResolutionLow,
		SurfaceMode:     true,
		KVPMode:         false,
		StepSize:        0.0,
		ProbeIn:         1.4,
		ProbeOut:        4.0,
		VolumeCutoff:    5.0,
		RemovalDistance: 2.4,
		LigandCutoff:    5.0,
	}
}

// BoxMode reports whether a search box is configured.
func (p Parameters) BoxMode() bool {
	return p.VisibleBox != nil || p.InternalBox != nil
}

// Validate checks ranges and cross-field consistency. hasLigand indicates
// whether a ligand structure accompanies the request.
func (p Parameters) Validate(hasLigand bool) error {
	if err := p.validateCore(hasLigand); err != nil {
		return services.Wrap(services.ErrValidation, "params", "validate", err.Error(), nil)
	}
	return nil
}

func (p Parameters) validateCore(hasLigand bool) error {
	switch p.ResolutionMode {
	case ResolutionLow, ResolutionMedium, ResolutionHigh:
	default:
		return fmt.Errorf("resolution mode %q is not one of Low, Medium, High", p.ResolutionMode)
	}
	if p.StepSize < 0 {
		return fmt.Errorf("step size %.2f must not be negative", p.StepSize)
	}
	if p.ProbeIn <= 0 {
		return fmt.Errorf("probe in %.2f must be positive", p.ProbeIn)
	}
	if p.ProbeOut > maxProbeOut {
		return fmt.Errorf("probe out %.2f exceeds the %.0f limit", p.ProbeOut, maxProbeOut)
	}
	if p.ProbeIn >= p.ProbeOut {
		return fmt.Errorf("probe in %.2f must be smaller than probe out %.2f", p.ProbeIn, p.ProbeOut)
	}
	if p.VolumeCutoff < 0 {
		return fmt.Errorf("volume cutoff %.2f must not be negative", p.VolumeCutoff)
	}
	if p.RemovalDistance < 0 {
		return fmt.Errorf("removal distance %.2f must not be negative", p.RemovalDistance)
	}
	if p.VolumeCutoff == 0 && p.RemovalDistance == 0 {
		return fmt.Errorf("volume cutoff and removal distance cannot both be zero")
	}
	if hasLigand && p.LigandCutoff <= 0 {
		return fmt.Errorf("ligand cutoff %.2f must be positive when a ligand is supplied", p.LigandCutoff)
	}
	return p.validateBoxes()
}

func (p Parameters) validateBoxes() error {
	if p.VisibleBox == nil && p.InternalBox == nil {
		return nil
	}
	if p.VisibleBox == nil || p.InternalBox == nil {
		return fmt.Errorf("visible and internal boxes must be set together")
	}
	visMin, visMax := p.VisibleBox.bounds()
	intMin, intMax := p.InternalBox.bounds()
	for axis := 0; axis < 3; axis++ {
		if intMin[axis] > visMin[axis] || intMax[axis] < visMax[axis] {
			return fmt.Errorf("internal box does not enclose the visible box")
		}
	}
	return nil
}

func (b *Box) bounds() (min, max [3]float64) {
	vertices := [4]Vertex{b.P1, b.P2, b.P3, b.P4}
	min = [3]float64{math.Inf(1), math.Inf(1), math.Inf(1)}
	max = [3]float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	for _, v := range vertices {
		for axis, coord := range [3]float64{v.X, v.Y, v.Z} {
			if coord < min[axis] {
				min[axis] = coord
			}
			if coord > max[axis] {
				max[axis] = coord
			}
		}
	}
	return min, max
}

// ExpandedBox returns a copy of the box grown by margin along every axis.
// Hosts use it to derive the internal box from a user-drawn visible box.
func ExpandedBox(box Box, margin float64) Box {
	grown := box
	grown.P1 = Vertex{X: box.P1.X - margin, Y: box.P1.Y - margin, Z: box.P1.Z - margin}
	grown.P2 = Vertex{X: box.P2.X + margin, Y: box.P2.Y - margin, Z: box.P2.Z - margin}
	grown.P3 = Vertex{X: box.P3.X - margin, Y: box.P3.Y + margin, Z: box.P3.Z - margin}
	grown.P4 = Vertex{X: box.P4.X - margin, Y: box.P4.Y - margin, Z: box.P4.Z + margin}
	return grown
}
