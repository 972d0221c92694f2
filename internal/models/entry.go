package models

import (
	"encoding/json"
	"time"
)

// Log levels understood by the store. Unknown levels are accepted as
// free-form strings rather than rejected.
const (
	LevelInfo     = "INFO"
	LevelWarn     = "WARN"
	LevelError    = "ERROR"
	LevelCritical = "CRITICAL"
	LevelAudit    = "AUDIT"
	LevelSecurity = "SECURITY"
	LevelRevenue  = "REVENUE"
	LevelSystem   = "SYSTEM"
)

// KnownLevels lists the fixed level enumeration.
var KnownLevels = []string{
	LevelInfo, LevelWarn, LevelError, LevelCritical,
	LevelAudit, LevelSecurity, LevelRevenue, LevelSystem,
}

// IsKnownLevel reports whether level belongs to the fixed enumeration.
func IsKnownLevel(level string) bool {
	for _, l := range KnownLevels {
		if l == level {
			return true
		}
	}
	return false
}

// LogEntry is an immutable log record. It is created once by the entry
// builder and owned exclusively by the block that wraps it.
type LogEntry struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Metadata  map[string]interface{} `json:"metadata"`
	Hostname  string                 `json:"hostname"`
	PID       int                    `json:"pid"`
}

// Canonicalize returns the canonical serialized form of the entry. These
// are the exact bytes that get hashed and written to the append log.
func (e *LogEntry) Canonicalize() ([]byte, error) {
	return json.Marshal(e)
}

// Receipt is returned to the caller for every accepted log operation.
type Receipt struct {
	Success bool   `json:"success"`
	Hash    string `json:"hash"`
	Index   uint64 `json:"index"`
	// Degraded is set when the entry is durable but the index update
	// failed, so the entry is not yet searchable.
	Degraded bool `json:"degraded,omitempty"`
}

// EntryFilter narrows Read and Search results.
type EntryFilter struct {
	Level     *string    `json:"level,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}

// Match reports whether an index entry passes the filter (limit excluded).
func (f *EntryFilter) Match(ie *IndexEntry) bool {
	if f.Level != nil && ie.Level != *f.Level {
		return false
	}
	if f.StartTime != nil && ie.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && ie.Timestamp.After(*f.EndTime) {
		return false
	}
	return true
}
