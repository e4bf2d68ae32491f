package results

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"kvweb/internal/services"
)

// Residue identifies one interface residue lining a cavity.
type Residue struct {
	Number string
	Chain  string
	Name   string
}

// Cavity carries the characterization of one detected cavity.
type Cavity struct {
	// ID is the cavity tag assigned by the detection software (KAA, KAB, ...).
	ID string
	// Volume in cubic angstroms.
	Volume float64
	// Area in square angstroms.
	Area float64
	// AverageDepth and MaxDepth in angstroms.
	AverageDepth float64
	MaxDepth     float64
	// AverageHydropathy on the Eisenberg-Weiss scale.
	AverageHydropathy float64
	Residues          []Residue
}

type reportDocument struct {
	Results reportResults `toml:"RESULTS"`
}

type reportResults struct {
	Volume        map[string]float64    `toml:"VOLUME"`
	Area          map[string]float64    `toml:"AREA"`
	AvgDepth      map[string]float64    `toml:"AVG_DEPTH"`
	MaxDepth      map[string]float64    `toml:"MAX_DEPTH"`
	AvgHydropathy map[string]any        `toml:"AVG_HYDROPATHY"`
	Residues      map[string][][]string `toml:"RESIDUES"`
}

// DecodeReport parses the service's TOML report into per-cavity metrics,
// ordered by cavity id. The AVG_HYDROPATHY table carries an extra
// EisenbergWeiss entry describing the scale range; it is not a cavity and is
// skipped.
func DecodeReport(report string) ([]Cavity, error) {
	var doc reportDocument
	if err := toml.Unmarshal([]byte(report), &doc); err != nil {
		return nil, services.Wrap(services.ErrDecode, "results", "decode_report",
			"parse report", err)
	}
	if len(doc.Results.Volume) == 0 {
		return nil, services.Wrap(services.ErrDecode, "results", "decode_report",
			"report carries no cavities", nil)
	}

	ids := make([]string, 0, len(doc.Results.Volume))
	for id := range doc.Results.Volume {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	cavities := make([]Cavity, 0, len(ids))
	for _, id := range ids {
		cavity := Cavity{
			ID:           id,
			Volume:       doc.Results.Volume[id],
			Area:         doc.Results.Area[id],
			AverageDepth: doc.Results.AvgDepth[id],
			MaxDepth:     doc.Results.MaxDepth[id],
		}
		if raw, ok := doc.Results.AvgHydropathy[id]; ok {
			cavity.AverageHydropathy = coerceFloat(raw)
		}
		for _, row := range doc.Results.Residues[id] {
			residue, err := parseResidue(row)
			if err != nil {
				return nil, services.Wrap(services.ErrDecode, "results", "decode_report",
					fmt.Sprintf("cavity %s: %v", id, err), nil)
			}
			cavity.Residues = append(cavity.Residues, residue)
		}
		cavities = append(cavities, cavity)
	}
	return cavities, nil
}

func parseResidue(row []string) (Residue, error) {
	if len(row) < 3 {
		return Residue{}, fmt.Errorf("residue row %v has %d fields, want 3", row, len(row))
	}
	return Residue{
		Number: strings.TrimSpace(row[0]),
		Chain:  strings.TrimSpace(row[1]),
		Name:   strings.TrimSpace(row[2]),
	}, nil
}

func coerceFloat(value any) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}
