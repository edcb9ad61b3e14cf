// Package types defines the core data types used throughout the history subsystem.
//
// Key types:
//   - HistoricalEvent: an immutable record of something that happened in the home
//   - Category: the closed set of event payloads (device state, sensor reading, ...)
//   - Source: who or what produced the event
//   - Interval: aggregation bucket width
//   - AggregatePoint: statistics for one aggregation bucket
package types
