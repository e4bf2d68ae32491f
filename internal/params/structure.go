package params

import (
	"strings"

	"kvweb/internal/services"
)

// NormalizePDB canonicalizes PDB text so identical structures produce
// identical request bytes. Line endings become LF, trailing blank lines are
// dropped, and the text must carry at least one coordinate record.
func NormalizePDB(text string) (string, error) {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	normalized = strings.TrimRight(normalized, "\n")
	if normalized == "" {
		return "", services.Wrap(services.ErrValidation, "params", "normalize_pdb",
			"structure is empty", nil)
	}
	normalized += "\n"

	if !hasCoordinateRecord(normalized) {
		return "", services.Wrap(services.ErrValidation, "params", "normalize_pdb",
			"structure has no ATOM or HETATM records", nil)
	}
	return normalized, nil
}

func hasCoordinateRecord(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "ATOM") || strings.HasPrefix(line, "HETATM") {
			return true
		}
	}
	return false
}
