// Package logging assembles structured slog loggers shared across kvweb
// components.
//
// It owns the console and JSON handlers, centralizes level parsing and output
// plumbing, and provides attr helpers plus a no-op logger for tests. Prefer
// these constructors over hand-rolled slog setup so every component emits log
// lines with the same shape.
package logging
