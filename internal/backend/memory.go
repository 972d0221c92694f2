package backend

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/auditstack/chainlog/internal/models"
	"github.com/auditstack/chainlog/pkg/utils"
)

// MemoryBackend implements Backend in process memory. It backs tests and
// dry-run deployments; nothing survives a restart.
type MemoryBackend struct {
	mu      sync.RWMutex
	objects map[string][]byte

	// FailUploads makes every upload fail. Tests use it to exercise the
	// replication failure path.
	FailUploads bool
}

// NewMemoryBackend creates a new in-memory backend instance
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{objects: make(map[string][]byte)}
}

func (b *MemoryBackend) Connect() error { return nil }
func (b *MemoryBackend) Close() error   { return nil }
func (b *MemoryBackend) Ping() error    { return nil }
func (b *MemoryBackend) Migrate() error { return nil }

// UploadBlock stores a block under its remote key.
func (b *MemoryBackend) UploadBlock(ctx context.Context, block *models.Block, key string) error {
	if b.FailUploads {
		return utils.NewAppError(utils.ErrCodeReplication, "Upload refused", key)
	}
	payload, err := json.Marshal(block)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeReplication, "Failed to encode block", err.Error())
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = payload
	return nil
}

// UploadFile stores a local file's contents under the remote key.
func (b *MemoryBackend) UploadFile(ctx context.Context, path, key string) error {
	if b.FailUploads {
		return utils.NewAppError(utils.ErrCodeReplication, "Upload refused", key)
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeReplication, "Failed to read file for upload", err.Error())
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = payload
	return nil
}

// DownloadBlock fetches a block by its remote key.
func (b *MemoryBackend) DownloadBlock(ctx context.Context, key string) (*models.Block, error) {
	b.mu.RLock()
	payload, ok := b.objects[key]
	b.mu.RUnlock()
	if !ok {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Block not found", key)
	}

	var block models.Block
	if err := json.Unmarshal(payload, &block); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeReplication, "Failed to decode block", err.Error())
	}
	return &block, nil
}

// ListBlocks lists remote keys under the given prefix.
func (b *MemoryBackend) ListBlocks(ctx context.Context, prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var keys []string
	for key := range b.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// ObjectCount returns the number of stored objects.
func (b *MemoryBackend) ObjectCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}
