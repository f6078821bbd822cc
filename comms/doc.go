// Package comms implements the multi-source ingestion layer of the
// telemetry core: the transport Interface contract, its serial-link and
// pub/sub-broker implementations, and the Communicator that fuses every
// interface's buffer into one trimmed, calibrated, time-ordered view.
//
// # Topic addressing
//
// Every sensor value stream is addressed by a fixed 3-segment topic
// <unit>/<sensor>/<quantity>, e.g. "rm1/gps/lat". The first segment names
// the remote unit, a physical sensor module.
//
// # Ownership and locking
//
// Each interface exclusively owns its per-topic buffer; the owning read
// loop is the single writer. The Communicator is the only reader, and the
// one place where a reader mutates interface-owned state (the bounded-
// memory trim). Both paths serialize on the buffer's mutex, so a trim can
// never race a concurrent append.
package comms
