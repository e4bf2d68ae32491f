// Package results decodes completed job output and publishes it to disk.
//
// The service returns three artifacts for a finished job: the detected
// cavities as PDB text, a TOML characterization report, and the run log. The
// materializer writes them into a staging directory and promotes the whole
// directory with a single rename, so a job directory either exists complete
// or not at all.
package results
