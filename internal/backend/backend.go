package backend

import (
	"context"
	"time"

	"github.com/auditstack/chainlog/internal/models"
)

// Remote key prefixes. Blocks are keyed by their hash, archives by
// rotation timestamp.
const (
	BlockPrefix   = "blocks/"
	ArchivePrefix = "archives/"
)

// BlockKey returns the remote key for a block.
func BlockKey(hash string) string {
	return BlockPrefix + hash
}

// ArchiveKey returns the remote key for an archive file name.
func ArchiveKey(name string) string {
	return ArchivePrefix + name
}

// Backend is the capability the replication queue requires of a remote
// store. The core never branches on a concrete backend identity; retry
// policy belongs to the adapter or the caller, not here.
type Backend interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Object operations
	UploadBlock(ctx context.Context, block *models.Block, key string) error
	UploadFile(ctx context.Context, path, key string) error
	DownloadBlock(ctx context.Context, key string) (*models.Block, error)
	ListBlocks(ctx context.Context, prefix string) ([]string, error)
}

// Config holds backend configuration
type Config struct {
	Type             string        `json:"type"` // sqlite, postgres, memory
	ConnectionString string        `json:"connection_string"`
	UploadTimeout    time.Duration `json:"upload_timeout"`
	MaxConnections   int           `json:"max_connections"`
}

// SyncStatus summarizes remote completeness relative to the local chain.
type SyncStatus struct {
	LocalCount     int      `json:"local_count"`
	RemoteCount    int      `json:"remote_count"`
	MissingIndices []uint64 `json:"missing_indices,omitempty"`
	InSync         bool     `json:"in_sync"`
}

// Reconcile compares the local chain against the remote block listing and
// enumerates blocks missing remotely. Read-only; it never repairs.
func Reconcile(ctx context.Context, b Backend, blocks []models.Block) (*SyncStatus, error) {
	keys, err := b.ListBlocks(ctx, BlockPrefix)
	if err != nil {
		return nil, err
	}

	remote := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		remote[key] = struct{}{}
	}

	status := &SyncStatus{
		LocalCount:  len(blocks),
		RemoteCount: len(keys),
	}
	for i := range blocks {
		if _, ok := remote[BlockKey(blocks[i].Hash)]; !ok {
			status.MissingIndices = append(status.MissingIndices, blocks[i].Index)
		}
	}
	status.InSync = len(status.MissingIndices) == 0
	return status, nil
}
