package store

import (
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/auditstack/chainlog/internal/models"
)

// entryBuilder turns (level, message, metadata) triples into immutable log
// entries. Host and process identity are read once at construction and
// stay fixed for the process run.
type entryBuilder struct {
	hostname string
	pid      int
}

func newEntryBuilder() *entryBuilder {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &entryBuilder{
		hostname: hostname,
		pid:      os.Getpid(),
	}
}

// Build always succeeds. Levels outside the fixed enumeration are accepted
// as free-form strings rather than rejected.
func (b *entryBuilder) Build(level, message string, metadata map[string]interface{}) *models.LogEntry {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return &models.LogEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Metadata:  metadata,
		Hostname:  b.hostname,
		PID:       b.pid,
	}
}
