package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/auditstack/chainlog/internal/appendlog"
	"github.com/auditstack/chainlog/internal/backend"
	"github.com/auditstack/chainlog/internal/chain"
	"github.com/auditstack/chainlog/internal/metrics"
	"github.com/auditstack/chainlog/internal/models"
	"github.com/auditstack/chainlog/internal/replication"
	"github.com/auditstack/chainlog/internal/rotation"
	"github.com/auditstack/chainlog/pkg/utils"
)

// Options configures a Store.
type Options struct {
	DataDir     string
	RotateBytes int64

	// Replication is enabled by passing a backend; nil disables it.
	Backend       backend.Backend
	Mode          string // sync, async
	BatchSize     int
	Workers       int
	UploadTimeout time.Duration

	Metrics *metrics.Metrics
}

// Store is the immutable, hash-chained log store. It is explicitly
// constructed and passed by reference; there is no ambient global
// instance. Lifecycle: New on startup, Close (which drains replication)
// on shutdown.
type Store struct {
	opts    Options
	logger  *logrus.Entry
	metrics *metrics.Metrics

	builder *entryBuilder
	chain   *chain.Store
	log     *appendlog.Log
	rotator *rotation.Rotator
	queue   *replication.Queue

	// appendMu serializes the whole append sequence: read last block,
	// compute hash, write append log, persist chain, update index. An
	// interleaved pair of appends could compute hashes against a stale
	// tail and corrupt the chain.
	appendMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

// New creates a log store rooted at opts.DataDir and loads any existing
// chain snapshot and index.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.RotateBytes <= 0 {
		opts.RotateBytes = 100 * 1024 * 1024
	}

	log, err := appendlog.Open(opts.DataDir)
	if err != nil {
		return nil, err
	}

	chainStore := chain.NewStore(filepath.Join(opts.DataDir, "blockchain.json"))
	if err := chainStore.Load(); err != nil {
		return nil, err
	}

	s := &Store{
		opts:    opts,
		logger:  utils.ComponentLogger("store"),
		metrics: opts.Metrics,
		builder: newEntryBuilder(),
		chain:   chainStore,
		log:     log,
	}

	if opts.Backend != nil {
		s.queue = replication.NewQueue(&replication.QueueConfig{
			Mode:          opts.Mode,
			BatchSize:     opts.BatchSize,
			Workers:       opts.Workers,
			UploadTimeout: opts.UploadTimeout,
		}, opts.Backend, opts.Metrics)
		if opts.Mode != replication.ModeSync {
			if err := s.queue.Start(ctx); err != nil {
				return nil, err
			}
		}
	}

	s.rotator = rotation.New(opts.DataDir, opts.RotateBytes, s.archiveEnqueuer(), opts.Metrics)

	s.logger.WithFields(logrus.Fields{
		"data_dir":     opts.DataDir,
		"chain_length": chainStore.Length(),
		"replication":  opts.Backend != nil,
	}).Info("Log store opened")
	return s, nil
}

func (s *Store) archiveEnqueuer() rotation.Enqueuer {
	if s.queue == nil {
		return nil
	}
	return s.queue
}

// Log appends one entry. The returned receipt carries the entry hash and
// block index; Degraded is set when the entry is durable but the index
// update failed. A synchronous replication failure is returned alongside
// the success receipt: the entry is durable locally but not replicated,
// and the caller decides what to do about it. Safe for concurrent use.
func (s *Store) Log(level, message string, metadata map[string]interface{}) (*models.Receipt, error) {
	start := time.Now()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, utils.NewAppError(utils.ErrCodeInternal, "Store is closed", "")
	}

	if !models.IsKnownLevel(level) {
		// Accepted as free-form, but worth a trace when a caller is
		// probably misspelling one of the fixed levels.
		s.logger.WithField("level", level).Warn("Level outside the fixed enumeration")
	}

	entry := s.builder.Build(level, message, metadata)
	data, err := entry.Canonicalize()
	if err != nil {
		s.countFailure()
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Failed to serialize entry", err.Error())
	}

	s.appendMu.Lock()

	block, err := s.chain.NextBlock(data, entry.Timestamp)
	if err != nil {
		s.appendMu.Unlock()
		s.countFailure()
		return nil, err
	}

	offset, err := s.log.AppendBytes(data)
	if err != nil {
		s.appendMu.Unlock()
		s.countFailure()
		return nil, err
	}

	if err := s.chain.Commit(block); err != nil {
		s.appendMu.Unlock()
		s.countFailure()
		return nil, err
	}

	receipt := &models.Receipt{Success: true, Hash: block.Hash, Index: block.Index}

	indexErr := s.log.RecordIndex(models.IndexEntry{
		ID:        entry.ID,
		Timestamp: entry.Timestamp,
		Level:     entry.Level,
		Hash:      block.Hash,
		Offset:    offset,
	})
	if indexErr != nil {
		receipt.Degraded = true
		s.logger.WithFields(logrus.Fields{
			"index": block.Index,
			"error": indexErr,
		}).Warn("Entry durable but index update failed")
	}

	if _, rotErr := s.rotator.MaybeRotate(s.log); rotErr != nil {
		// Rotation aborts never fail the append; the live log keeps
		// growing and the next size check retries.
		s.logger.WithField("error", rotErr).Warn("Log rotation aborted")
	}

	s.appendMu.Unlock()

	var repErr error
	if s.queue != nil {
		if repErr = s.queue.EnqueueBlock(block); repErr != nil {
			// Best-effort: reported to the caller, never rolled back.
			s.logger.WithFields(logrus.Fields{
				"index": block.Index,
				"error": repErr,
			}).Warn("Block replication failed")
		}
	}

	s.observeAppend(entry.Level, start)
	if indexErr != nil {
		return receipt, indexErr
	}
	return receipt, repErr
}

// Convenience methods for the fixed level enumeration.

func (s *Store) Info(message string, metadata map[string]interface{}) (*models.Receipt, error) {
	return s.Log(models.LevelInfo, message, metadata)
}

func (s *Store) Warn(message string, metadata map[string]interface{}) (*models.Receipt, error) {
	return s.Log(models.LevelWarn, message, metadata)
}

func (s *Store) Error(message string, metadata map[string]interface{}) (*models.Receipt, error) {
	return s.Log(models.LevelError, message, metadata)
}

func (s *Store) Critical(message string, metadata map[string]interface{}) (*models.Receipt, error) {
	return s.Log(models.LevelCritical, message, metadata)
}

func (s *Store) Audit(message string, metadata map[string]interface{}) (*models.Receipt, error) {
	return s.Log(models.LevelAudit, message, metadata)
}

func (s *Store) Security(message string, metadata map[string]interface{}) (*models.Receipt, error) {
	return s.Log(models.LevelSecurity, message, metadata)
}

func (s *Store) Revenue(message string, metadata map[string]interface{}) (*models.Receipt, error) {
	return s.Log(models.LevelRevenue, message, metadata)
}

func (s *Store) System(message string, metadata map[string]interface{}) (*models.Receipt, error) {
	return s.Log(models.LevelSystem, message, metadata)
}

// Verify walks the full chain and returns whether it is intact, plus the
// first broken index (-1 when intact). Linear cost; administrative use.
func (s *Store) Verify() (bool, int) {
	ok, firstBad := s.chain.Verify()
	if s.metrics != nil {
		s.metrics.VerifyRunsTotal.Inc()
		if !ok {
			s.metrics.TamperDetectionsTotal.Inc()
		}
	}
	if !ok {
		s.logger.WithField("first_bad_index", firstBad).Error("Chain verification failed")
	}
	return ok, firstBad
}

// Read returns up to filter.Limit entries passing the filter, oldest
// first among the newest matches.
func (s *Store) Read(filter models.EntryFilter) ([]*models.LogEntry, error) {
	indexEntries := s.log.Entries(filter)
	if len(indexEntries) == 0 {
		return nil, nil
	}

	byHash := s.blocksByHash()
	entries := make([]*models.LogEntry, 0, len(indexEntries))
	for i := range indexEntries {
		block, ok := byHash[indexEntries[i].Hash]
		if !ok {
			continue
		}
		var entry models.LogEntry
		if err := json.Unmarshal([]byte(block.Data), &entry); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to decode entry", err.Error())
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

// Search performs a naive case-insensitive substring match over the
// serialized form of each entry passing the filter.
func (s *Store) Search(query string, filter models.EntryFilter) ([]*models.LogEntry, error) {
	if filter.Limit <= 0 {
		filter.Limit = 10000
	}

	indexEntries := s.log.Entries(filter)
	byHash := s.blocksByHash()
	needle := strings.ToLower(query)

	var matches []*models.LogEntry
	for i := range indexEntries {
		block, ok := byHash[indexEntries[i].Hash]
		if !ok {
			continue
		}
		if !strings.Contains(strings.ToLower(block.Data), needle) {
			continue
		}
		var entry models.LogEntry
		if err := json.Unmarshal([]byte(block.Data), &entry); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to decode entry", err.Error())
		}
		matches = append(matches, &entry)
	}
	return matches, nil
}

func (s *Store) blocksByHash() map[string]*models.Block {
	blocks := s.chain.Blocks()
	byHash := make(map[string]*models.Block, len(blocks))
	for i := range blocks {
		byHash[blocks[i].Hash] = &blocks[i]
	}
	return byHash
}

// Stats summarizes the store's state. When replication is enabled the
// summary includes a remote reconciliation snapshot.
type Stats struct {
	TotalEntries       int                     `json:"totalEntries"`
	FileSizeBytes      int64                   `json:"fileSizeBytes"`
	ChainLength        int                     `json:"chainLength"`
	Levels             map[string]int          `json:"levels"`
	Verified           bool                    `json:"verified"`
	OldestEntry        *time.Time              `json:"oldestEntry,omitempty"`
	NewestEntry        *time.Time              `json:"newestEntry,omitempty"`
	CloudBackupEnabled bool                    `json:"cloudBackupEnabled"`
	CloudSyncStatus    *backend.SyncStatus     `json:"cloudSyncStatus,omitempty"`
	Replication        *replication.QueueStats `json:"replication,omitempty"`
	Archives           int                     `json:"archives"`
}

// GetStats collects store statistics. Includes a full verification pass,
// so cost is linear in chain length.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	size, err := s.log.SizeInBytes()
	if err != nil {
		return nil, err
	}

	indexEntries := s.log.AllEntries()
	levels := make(map[string]int)
	for i := range indexEntries {
		levels[indexEntries[i].Level]++
	}

	verified, _ := s.Verify()

	stats := &Stats{
		TotalEntries:       len(indexEntries),
		FileSizeBytes:      size,
		ChainLength:        s.chain.Length(),
		Levels:             levels,
		Verified:           verified,
		CloudBackupEnabled: s.opts.Backend != nil,
		Archives:           len(s.rotator.Archives()),
	}
	if len(indexEntries) > 0 {
		oldest := indexEntries[0].Timestamp
		newest := indexEntries[len(indexEntries)-1].Timestamp
		stats.OldestEntry = &oldest
		stats.NewestEntry = &newest
	}

	if s.queue != nil {
		queueStats := s.queue.GetStats()
		stats.Replication = &queueStats

		syncStatus, err := backend.Reconcile(ctx, s.opts.Backend, s.chain.Blocks())
		if err != nil {
			s.logger.WithField("error", err).Warn("Remote reconciliation failed")
		} else {
			stats.CloudSyncStatus = syncStatus
		}
	}

	s.updateGauges(size)
	return stats, nil
}

// ReplicationStatus runs the read-only remote reconciliation routine.
func (s *Store) ReplicationStatus(ctx context.Context) (*backend.SyncStatus, error) {
	if s.opts.Backend == nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Replication is not enabled", "")
	}
	return backend.Reconcile(ctx, s.opts.Backend, s.chain.Blocks())
}

// Flush hands any queued replication tasks to the worker pool.
func (s *Store) Flush() {
	if s.queue != nil {
		s.queue.Flush()
	}
}

// Drain flushes and waits for all outstanding uploads.
func (s *Store) Drain() {
	if s.queue != nil {
		s.queue.Drain()
	}
}

// ChainLength returns the number of blocks in the chain.
func (s *Store) ChainLength() int {
	return s.chain.Length()
}

// EntryCount returns the number of index entries.
func (s *Store) EntryCount() int {
	return s.log.EntryCount()
}

// Rotator exposes rotation state for the admin surface.
func (s *Store) Rotator() *rotation.Rotator {
	return s.rotator
}

// IsHealthy reports whether the store can accept appends.
func (s *Store) IsHealthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Close drains the replication queue and persists a final chain snapshot.
// After Close the store rejects further appends.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.queue != nil {
		if err := s.queue.Stop(); err != nil {
			s.logger.WithField("error", err).Warn("Failed to stop replication queue")
		}
	}

	if err := s.chain.Persist(); err != nil {
		return err
	}

	s.logger.Info("Log store closed")
	return nil
}

func (s *Store) countFailure() {
	if s.metrics != nil {
		s.metrics.AppendFailures.Inc()
	}
}

func (s *Store) observeAppend(level string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.AppendsTotal.WithLabelValues(level).Inc()
	s.metrics.AppendDuration.Observe(time.Since(start).Seconds())
	s.metrics.ChainLength.Set(float64(s.chain.Length()))
	if size, err := s.log.SizeInBytes(); err == nil {
		s.metrics.LogSizeBytes.Set(float64(size))
	}
}

func (s *Store) updateGauges(size int64) {
	if s.metrics == nil {
		return
	}
	s.metrics.ChainLength.Set(float64(s.chain.Length()))
	s.metrics.LogSizeBytes.Set(float64(size))
}
