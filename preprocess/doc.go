// Package preprocess implements the processors that run on the fused data
// view before anyone reads it. The Communicator rebuilds that view from the
// raw interface buffers on every read, so each processor derives its output
// from the raw values it is handed: the whole view is converted on every
// call, and repeated reads over the same buffered samples always come back
// calibrated.
package preprocess
