package appendlog

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/auditstack/chainlog/internal/models"
	"github.com/auditstack/chainlog/pkg/utils"
)

const (
	// The live log sits read-only at rest. Appends escalate to writable
	// for the duration of a single atomic write, then restore.
	restMode  os.FileMode = 0444
	writeMode os.FileMode = 0644
)

// Log is the durable, append-only byte record mirroring the chain,
// together with its derived index. Writes are serialized by the owning
// store's append lock.
type Log struct {
	mu        sync.RWMutex
	path      string
	indexPath string
	entries   []models.IndexEntry
	logger    *logrus.Entry
}

// indexFile is the on-disk shape of the index.
type indexFile struct {
	Entries []models.IndexEntry `json:"entries"`
}

// Open initializes the append log and loads its index. The log file is
// created read-only when missing.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to create log directory", err.Error())
	}

	l := &Log{
		path:      filepath.Join(dir, "immutable.log"),
		indexPath: filepath.Join(dir, "log-index.json"),
		logger:    utils.ComponentLogger("appendlog"),
	}

	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY, restMode)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to create log file", err.Error())
		}
		f.Close()
	}

	if err := l.loadIndex(); err != nil {
		return nil, err
	}

	return l, nil
}

func (l *Log) loadIndex() error {
	data, err := os.ReadFile(l.indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			l.entries = nil
			return nil
		}
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to read log index", err.Error())
	}

	var idx indexFile
	if err := json.Unmarshal(data, &idx); err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to decode log index", err.Error())
	}
	l.entries = idx.Entries
	return nil
}

// AppendBytes writes the canonical entry bytes plus a trailing newline and
// returns the byte offset at which the entry starts. Callers follow a
// successful byte append with RecordIndex; the write is not considered
// complete until the index entry is durably recorded.
func (l *Log) AppendBytes(data []byte) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendBytes(data)
}

// RecordIndex appends an index entry and persists the index. On failure
// the returned error carries INDEX_INCONSISTENCY: the log entry is already
// durable but not yet searchable, a degraded success for the caller.
func (l *Log) RecordIndex(ie models.IndexEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, ie)
	if err := l.persistIndexLocked(); err != nil {
		l.entries = l.entries[:len(l.entries)-1]
		return utils.NewAppError(utils.ErrCodeIndexInconsistency,
			"Entry is durable but the index update failed", err.Error())
	}
	return nil
}

// appendBytes performs the scoped permission escalation around one atomic
// append. Previously written bytes are never modified through this path.
func (l *Log) appendBytes(data []byte) (int64, error) {
	if err := os.Chmod(l.path, writeMode); err != nil {
		return 0, utils.NewAppError(utils.ErrCodeStorage, "Failed to unlock log file", err.Error())
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, writeMode)
	if err != nil {
		os.Chmod(l.path, restMode)
		return 0, utils.NewAppError(utils.ErrCodeStorage, "Failed to open log file", err.Error())
	}

	offset, err := f.Seek(0, io.SeekEnd)
	if err == nil {
		_, err = f.Write(append(data, '\n'))
	}
	closeErr := f.Close()
	os.Chmod(l.path, restMode)

	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeStorage, "Failed to append to log file", err.Error())
	}
	if closeErr != nil {
		return 0, utils.NewAppError(utils.ErrCodeStorage, "Failed to close log file", closeErr.Error())
	}
	return offset, nil
}

func (l *Log) persistIndexLocked() error {
	entries := l.entries
	if entries == nil {
		entries = []models.IndexEntry{}
	}
	data, err := json.MarshalIndent(indexFile{Entries: entries}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(l.indexPath, data, 0644)
}

// SizeInBytes returns the current size of the live log file.
func (l *Log) SizeInBytes() (int64, error) {
	info, err := os.Stat(l.path)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeStorage, "Failed to stat log file", err.Error())
	}
	return info.Size(), nil
}

// EntryCount returns the number of index entries.
func (l *Log) EntryCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Entries returns index entries passing the filter, newest last, capped at
// the filter limit (applied from the tail, matching read semantics).
func (l *Log) Entries(filter models.EntryFilter) []models.IndexEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	matched := make([]models.IndexEntry, 0, len(l.entries))
	for i := range l.entries {
		if filter.Match(&l.entries[i]) {
			matched = append(matched, l.entries[i])
		}
	}

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[len(matched)-filter.Limit:]
	}
	return matched
}

// AllEntries returns a copy of the full index.
func (l *Log) AllEntries() []models.IndexEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.IndexEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Path returns the live log file path. The rotator copies from it.
func (l *Log) Path() string {
	return l.path
}

// Truncate empties the live log file. Called only by the rotator, after a
// successful archive sequence; the index and chain are left untouched.
func (l *Log) Truncate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.Chmod(l.path, writeMode); err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to unlock log file", err.Error())
	}
	err := os.Truncate(l.path, 0)
	os.Chmod(l.path, restMode)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to truncate log file", err.Error())
	}

	l.logger.WithField("path", l.path).Info("Live log truncated after rotation")
	return nil
}
