package rotation

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"

	"github.com/auditstack/chainlog/internal/appendlog"
	"github.com/auditstack/chainlog/internal/backend"
	"github.com/auditstack/chainlog/internal/metrics"
	"github.com/auditstack/chainlog/internal/models"
	"github.com/auditstack/chainlog/pkg/utils"
)

// Rotator states.
const (
	StateActive   = "ACTIVE"
	StateRotating = "ROTATING"
)

// Enqueuer is the slice of the replication queue the rotator needs.
type Enqueuer interface {
	EnqueueArchive(path string) error
}

// Rotator archives and resets the live append log once it crosses the
// size threshold. The size check runs synchronously after every
// successful append, not on a background timer.
type Rotator struct {
	mu        sync.Mutex
	state     string
	dataDir   string
	threshold int64
	queue     Enqueuer
	logger    *logrus.Entry
	metrics   *metrics.Metrics

	archives []models.Archive
}

// New creates a rotator. queue may be nil when replication is disabled.
func New(dataDir string, threshold int64, queue Enqueuer, m *metrics.Metrics) *Rotator {
	return &Rotator{
		state:     StateActive,
		dataDir:   dataDir,
		threshold: threshold,
		queue:     queue,
		logger:    utils.ComponentLogger("rotation"),
		metrics:   m,
	}
}

// State returns the current rotator state.
func (r *Rotator) State() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Archives returns the archives produced during this process run.
func (r *Rotator) Archives() []models.Archive {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Archive, len(r.archives))
	copy(out, r.archives)
	return out
}

// MaybeRotate rotates the live log when it has reached the threshold.
// Truncation is the last, irreversible step and is gated on every prior
// step succeeding: a failed copy or compression aborts the rotation and
// the live log keeps growing until the next size check retries.
func (r *Rotator) MaybeRotate(log *appendlog.Log) (bool, error) {
	size, err := log.SizeInBytes()
	if err != nil {
		return false, err
	}
	if size < r.threshold {
		return false, nil
	}

	r.mu.Lock()
	if r.state == StateRotating {
		r.mu.Unlock()
		return false, nil
	}
	r.state = StateRotating
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.state = StateActive
		r.mu.Unlock()
	}()

	rotatedAt := time.Now().UTC()
	// Nanosecond precision keeps archive names unique even when two
	// rotations land in the same second.
	stamp := strings.ReplaceAll(rotatedAt.Format("2006-01-02T15:04:05.000000000Z"), ":", "-")
	rawPath := filepath.Join(r.dataDir, "immutable-"+stamp+".log")
	gzPath := rawPath + ".gz"

	if err := r.copyFile(log.Path(), rawPath); err != nil {
		r.abort(rawPath, gzPath)
		return false, utils.NewAppError(utils.ErrCodeRotationAbort, "Failed to copy live log", err.Error())
	}

	if err := r.compressFile(rawPath, gzPath); err != nil {
		r.abort(rawPath, gzPath)
		return false, utils.NewAppError(utils.ErrCodeRotationAbort, "Failed to compress archive", err.Error())
	}

	if r.queue != nil {
		if err := r.queue.EnqueueArchive(gzPath); err != nil {
			// Replication is best-effort; a failed enqueue never blocks
			// the rotation itself.
			r.logger.WithFields(logrus.Fields{
				"archive": gzPath,
				"error":   err,
			}).Warn("Failed to enqueue archive for replication")
		}
	}

	if err := os.Remove(rawPath); err != nil {
		r.logger.WithField("path", rawPath).Warn("Failed to remove uncompressed archive copy")
	}

	if err := log.Truncate(); err != nil {
		return false, utils.NewAppError(utils.ErrCodeRotationAbort, "Failed to truncate live log", err.Error())
	}

	info, _ := os.Stat(gzPath)
	archive := models.Archive{
		Path:      gzPath,
		RemoteKey: backend.ArchiveKey(filepath.Base(gzPath)),
		RotatedAt: rotatedAt,
	}
	if info != nil {
		archive.SizeBytes = info.Size()
	}

	r.mu.Lock()
	r.archives = append(r.archives, archive)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RotationsTotal.Inc()
	}
	r.logger.WithFields(logrus.Fields{
		"archive":    gzPath,
		"size_bytes": size,
	}).Info("Rotated live log")
	return true, nil
}

// abort removes partial rotation artifacts. The live log is untouched.
func (r *Rotator) abort(paths ...string) {
	for _, p := range paths {
		os.Remove(p)
	}
	if r.metrics != nil {
		r.metrics.RotationFailuresTotal.Inc()
	}
}

func (r *Rotator) copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (r *Rotator) compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()
		out.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
