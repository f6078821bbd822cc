// Package metric provides the Prometheus metrics registry shared by all
// telemetry components. Each component declares its own metrics struct and
// registers the collectors here under a "component.metric" key, so duplicate
// registrations are caught at startup rather than at scrape time.
package metric
