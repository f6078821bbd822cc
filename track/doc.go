// Package track implements the durable time-series store: an append-only
// log of flattened telemetry snapshots with a save-mode state machine,
// timed checkpoint rotation, capacity eviction, multi-format export and a
// replay cursor over previously recorded files.
package track
