// Package mothics is the telemetry core of an onboard sailing-instrument
// platform. It collects readings from remote units over serial and pub/sub
// transports, fuses them into a shared sample buffer, applies calibration
// and unit-conversion preprocessors, samples the fused view into replayable
// tracks and keeps a metadata registry of everything recorded.
//
// The packages compose bottom-up:
//
//   - comms: transport interfaces (serial, NATS) and the Communicator that
//     fuses their buffers into one topic-keyed view
//   - preprocess: idempotent in-flight corrections (unit conversion, IMU
//     angle offsets)
//   - aggregator: the periodic sampling loop that flattens the fused view
//     into track data points
//   - track: the in-memory recording with its save-mode state machine,
//     checkpointing, capacity eviction, export formats and replay cursor
//   - registry: the on-disk track index with metadata extraction, listing
//     and export
//   - manager: session lifecycle tying the above together for live
//     collection or replay
//
// cmd/mothics is the runnable entry point.
package mothics
