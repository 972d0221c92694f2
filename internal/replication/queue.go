package replication

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/auditstack/chainlog/internal/backend"
	"github.com/auditstack/chainlog/internal/metrics"
	"github.com/auditstack/chainlog/internal/models"
	"github.com/auditstack/chainlog/pkg/utils"
)

// Delivery modes.
const (
	ModeSync  = "sync"
	ModeAsync = "async"
)

// QueueConfig holds replication queue configuration
type QueueConfig struct {
	Mode          string        `json:"mode"`
	BatchSize     int           `json:"batch_size"`
	Workers       int           `json:"workers"`
	UploadTimeout time.Duration `json:"upload_timeout"`
}

// QueueStats provides replication statistics
type QueueStats struct {
	TotalUploaded  uint64     `json:"total_uploaded"`
	TotalFailed    uint64     `json:"total_failed"`
	BatchesFlushed uint64     `json:"batches_flushed"`
	QueueLength    int        `json:"queue_length"`
	LastError      *string    `json:"last_error,omitempty"`
	LastErrorTime  *time.Time `json:"last_error_time,omitempty"`
}

// Queue is the asynchronous, batched, at-least-once uploader of blocks and
// archives. Replication is best-effort: failures are logged and counted,
// never escalated to the local writer, and the local chain is never rolled
// back on upload failure. Unflushed tasks are lost on an unclean crash.
type Queue struct {
	config  *QueueConfig
	backend backend.Backend
	logger  *logrus.Entry
	metrics *metrics.Metrics

	mu      sync.Mutex
	running bool
	tasks   []models.ReplicationTask
	stats   QueueStats

	batches  chan []models.ReplicationTask
	inflight sync.WaitGroup
	workers  sync.WaitGroup
}

// NewQueue creates a replication queue over the given backend.
func NewQueue(config *QueueConfig, b backend.Backend, m *metrics.Metrics) *Queue {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 10
	}
	return &Queue{
		config:  config,
		backend: b,
		logger:  utils.ComponentLogger("replication"),
		metrics: m,
	}
}

// Start launches the bounded worker pool.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Replication queue already running", "")
	}

	// Small buffer only: excess batches queue behind the pool instead of
	// spawning unbounded tasks.
	q.batches = make(chan []models.ReplicationTask, q.config.Workers)
	for i := 0; i < q.config.Workers; i++ {
		q.workers.Add(1)
		go q.worker(q.batches)
	}

	q.running = true
	q.logger.WithFields(logrus.Fields{
		"mode":       q.config.Mode,
		"batch_size": q.config.BatchSize,
		"workers":    q.config.Workers,
	}).Info("Replication queue started")
	return nil
}

// EnqueueBlock queues a block for upload under its hash key. In sync mode
// the upload happens inline and its error is returned to the caller; the
// caller must not treat it as a reason to roll back the local append.
func (q *Queue) EnqueueBlock(block *models.Block) error {
	task := models.ReplicationTask{
		Block:     block,
		RemoteKey: backend.BlockKey(block.Hash),
		QueuedAt:  time.Now().UTC(),
	}
	return q.enqueue(task)
}

// EnqueueArchive queues a rotated archive file for upload.
func (q *Queue) EnqueueArchive(path string) error {
	task := models.ReplicationTask{
		FilePath:  path,
		RemoteKey: backend.ArchiveKey(filepath.Base(path)),
		QueuedAt:  time.Now().UTC(),
	}
	return q.enqueue(task)
}

func (q *Queue) enqueue(task models.ReplicationTask) error {
	if q.config.Mode == ModeSync {
		err := q.upload(task)
		if err != nil {
			q.recordResult(0, 1, err)
		} else {
			q.recordResult(1, 0, nil)
		}
		return err
	}

	var batch []models.ReplicationTask
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	if len(q.tasks) >= q.config.BatchSize {
		// Clear the queue under the lock before handing off, so an
		// in-flight batch can never be submitted twice.
		batch = q.tasks
		q.tasks = nil
		q.stats.BatchesFlushed++
	}
	q.updateQueueGaugeLocked()
	q.mu.Unlock()

	if batch != nil {
		q.submit(batch)
	}
	return nil
}

// Flush hands the accumulated remainder to the worker pool without
// waiting for uploads to finish.
func (q *Queue) Flush() {
	q.mu.Lock()
	batch := q.tasks
	q.tasks = nil
	if len(batch) > 0 {
		q.stats.BatchesFlushed++
	}
	q.updateQueueGaugeLocked()
	q.mu.Unlock()

	if len(batch) > 0 {
		q.submit(batch)
	}
}

// Drain flushes whatever remains and blocks until all outstanding uploads
// complete. It is the single completion barrier at shutdown; nothing
// queued before Drain is silently dropped on a clean stop.
func (q *Queue) Drain() {
	q.Flush()
	q.inflight.Wait()
}

// Stop drains the queue and tears down the worker pool. Enqueues racing
// Stop are safe: once running flips, submit falls back to inline uploads,
// and the channel is closed only after every counted send has landed.
func (q *Queue) Stop() error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	ch := q.batches
	q.batches = nil
	q.mu.Unlock()

	q.Drain()
	close(ch)
	q.workers.Wait()

	q.logger.Info("Replication queue stopped")
	return nil
}

// IsHealthy reports whether the queue is running.
func (q *Queue) IsHealthy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running || q.config.Mode == ModeSync
}

func (q *Queue) submit(batch []models.ReplicationTask) {
	q.mu.Lock()
	ch := q.batches
	if ch == nil || !q.running {
		q.mu.Unlock()
		// Pool not running (never started, or stopping); upload inline
		// rather than drop the batch or send on a closing channel.
		uploaded := 0
		var lastErr error
		for i := range batch {
			if err := q.upload(batch[i]); err != nil {
				lastErr = err
				continue
			}
			uploaded++
		}
		q.recordResult(uploaded, len(batch)-uploaded, lastErr)
		return
	}

	// The in-flight count must be taken under the same lock that checked
	// running: Stop flips running first and then waits on this count, so
	// a submit that won the race is awaited before the channel closes.
	q.inflight.Add(1)
	q.mu.Unlock()

	ch <- batch
}

// worker receives its channel at start so Stop can nil the shared field
// without racing the range loop below.
func (q *Queue) worker(batches <-chan []models.ReplicationTask) {
	defer q.workers.Done()
	for batch := range batches {
		uploaded := 0
		var lastErr error
		for i := range batch {
			if err := q.upload(batch[i]); err != nil {
				lastErr = err
				q.logger.WithFields(logrus.Fields{
					"key":   batch[i].RemoteKey,
					"error": err,
				}).Warn("Replication upload failed")
				continue
			}
			uploaded++
		}

		// A batch is not atomic: partial success is expected and
		// reported as a count.
		q.recordResult(uploaded, len(batch)-uploaded, lastErr)
		if failed := len(batch) - uploaded; failed > 0 {
			q.logger.WithFields(logrus.Fields{
				"uploaded": uploaded,
				"failed":   failed,
			}).Warn("Replication batch completed with failures")
		}
		q.inflight.Done()
	}
}

// upload pushes a single task to the backend with an explicit timeout.
// Failures are not retried here; retry policy belongs to the backend
// adapter or the caller.
func (q *Queue) upload(task models.ReplicationTask) error {
	timeout := q.config.UploadTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if task.Block != nil {
		return q.backend.UploadBlock(ctx, task.Block, task.RemoteKey)
	}
	return q.backend.UploadFile(ctx, task.FilePath, task.RemoteKey)
}

func (q *Queue) recordResult(uploaded, failed int, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.stats.TotalUploaded += uint64(uploaded)
	q.stats.TotalFailed += uint64(failed)
	if err != nil {
		errStr := err.Error()
		q.stats.LastError = &errStr
		now := time.Now().UTC()
		q.stats.LastErrorTime = &now
	}

	if q.metrics != nil {
		q.metrics.ReplicationUploadsTotal.Add(float64(uploaded))
		q.metrics.ReplicationFailuresTotal.Add(float64(failed))
	}
}

func (q *Queue) updateQueueGaugeLocked() {
	if q.metrics != nil {
		q.metrics.ReplicationQueueLength.Set(float64(len(q.tasks)))
	}
}

// GetStats returns a snapshot of replication statistics.
func (q *Queue) GetStats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := q.stats
	stats.QueueLength = len(q.tasks)
	return stats
}
