// Package retry provides simple exponential backoff retry logic for transient failures.
//
// The transport interfaces use it around their Connect paths so a slow
// serial adapter or a briefly unreachable broker does not abort startup.
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
//	    return iface.open()
//	})
//
// Errors wrapped with NonRetryable fail immediately; everything else is
// retried on the configured schedule until the context is cancelled or the
// attempts are exhausted.
package retry
