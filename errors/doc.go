// Package errors provides standardized error handling for the telemetry core.
//
// # Error Classification
//
// Errors are classified into three handling classes:
//
//   - Transient: connection drops, persistence hiccups (retry recommended)
//   - Invalid: malformed frames, inconsistent datapoints, unknown tracks
//     (skip the item, keep the loop alive)
//   - Fatal: unknown export formats, missing data sources, bad configuration
//     (surface to the caller, do not continue)
//
// The classification drives the propagation policy of the whole system:
// recoverable per-item failures are swallowed locally and logged, while
// failures that would leave the system inconsistent are raised to the
// immediate caller.
//
// # Usage
//
//	if err := port.Open(); err != nil {
//	    return errors.WrapTransient(err, "serial", "Connect", "open port")
//	}
//
//	if errors.IsTransient(err) {
//	    // schedule a retry
//	}
package errors
