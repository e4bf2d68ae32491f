// Package config loads, normalizes, and validates kvweb configuration from a
// TOML file.
//
// The file is looked up at ~/.config/kvweb/config.toml (or an explicit path)
// and overlays Default(). All path fields are expanded and made absolute, and
// Validate rejects configurations the client cannot run with, so downstream
// components can trust every field without re-checking.
package config
