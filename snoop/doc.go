// Package snoop captures the traffic crossing the stack boundary.
//
// Every operation a session sends into a stack backend and every event
// a backend delivers back is recorded as one Event. The capture is
// separate from operational logging (slog): it is a machine-readable
// trace of boundary crossings for debugging and analysis, in the
// spirit of an HCI snoop log but at the profile layer.
//
// # Basic Usage
//
// Sessions record through a Logger implementation:
//
//	// For development: mirror events to the console via slog.
//	cfg.Snoop = snoop.NewSlogAdapter(slog.Default())
//
//	// For capture: write to a binary file.
//	cfg.Snoop, _ = snoop.NewFileLogger("/var/log/bthal/boundary.snoop")
//
//	// Both at once:
//	cfg.Snoop = snoop.NewMultiLogger(
//	    snoop.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # File Format
//
// Capture files are a plain stream of CBOR-encoded events with integer
// map keys. Reader iterates a capture back, optionally filtered.
package snoop
