// Package metrics provides the Recorder interface and a noop implementation.
package metrics

import "time"

// Recorder receives operational metrics from the attribute store.
// op is one of "get", "set", "erase"; source names where a migrated
// record came from ("legacy_key", "struct_blob", "legacy_node").
type Recorder interface {
	RecordHit(op string)
	RecordMiss(op string)
	RecordLatency(op string, d time.Duration)
	RecordError(op string)
	RecordMigration(source string)
	RecordHousekeepingFailure(step string)
}

// Noop is a Recorder that discards all data.
type Noop struct{}

func (Noop) RecordHit(op string)                      {}
func (Noop) RecordMiss(op string)                     {}
func (Noop) RecordLatency(op string, d time.Duration) {}
func (Noop) RecordError(op string)                    {}
func (Noop) RecordMigration(source string)            {}
func (Noop) RecordHousekeepingFailure(step string)    {}
