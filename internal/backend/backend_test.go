package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditstack/chainlog/internal/models"
	"github.com/auditstack/chainlog/pkg/utils"
)

func makeBlock(i int) models.Block {
	data := fmt.Sprintf(`{"n":%d}`, i)
	return models.Block{
		Index:     uint64(i),
		Timestamp: time.Now().UTC().Truncate(time.Second),
		Data:      data,
		Hash:      utils.HashString(data),
	}
}

func TestMemoryBackendRoundTrip(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	block := makeBlock(0)
	key := BlockKey(block.Hash)
	require.NoError(t, b.UploadBlock(ctx, &block, key))

	got, err := b.DownloadBlock(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, block.Hash, got.Hash)
	assert.Equal(t, block.Data, got.Data)

	_, err = b.DownloadBlock(ctx, BlockKey("missing"))
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.ErrCodeNotFound))
}

func TestMemoryBackendListFiltersByPrefix(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		block := makeBlock(i)
		require.NoError(t, b.UploadBlock(ctx, &block, BlockKey(block.Hash)))
	}
	archive := filepath.Join(t.TempDir(), "immutable-x.log.gz")
	require.NoError(t, os.WriteFile(archive, []byte("gz"), 0644))
	require.NoError(t, b.UploadFile(ctx, archive, ArchiveKey(filepath.Base(archive))))

	blocks, err := b.ListBlocks(ctx, BlockPrefix)
	require.NoError(t, err)
	assert.Len(t, blocks, 3)

	archives, err := b.ListBlocks(ctx, ArchivePrefix)
	require.NoError(t, err)
	assert.Len(t, archives, 1)
}

func TestSQLiteBackendRoundTrip(t *testing.T) {
	b := NewSQLiteBackend(&Config{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "remote.db"),
	})
	require.NoError(t, b.Connect())
	defer b.Close()
	require.NoError(t, b.Migrate())
	require.NoError(t, b.Ping())

	ctx := context.Background()
	var keys []string
	for i := 0; i < 5; i++ {
		block := makeBlock(i)
		key := BlockKey(block.Hash)
		keys = append(keys, key)
		require.NoError(t, b.UploadBlock(ctx, &block, key))
	}

	// Re-uploading the same key must not error; at-least-once delivery
	// makes duplicate uploads routine.
	first := makeBlock(0)
	require.NoError(t, b.UploadBlock(ctx, &first, BlockKey(first.Hash)))

	listed, err := b.ListBlocks(ctx, BlockPrefix)
	require.NoError(t, err)
	assert.Len(t, listed, 5)

	got, err := b.DownloadBlock(ctx, keys[2])
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Index)
}

func TestSQLiteBackendStoresFiles(t *testing.T) {
	b := NewSQLiteBackend(&Config{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "remote.db"),
	})
	require.NoError(t, b.Connect())
	defer b.Close()
	require.NoError(t, b.Migrate())

	archive := filepath.Join(t.TempDir(), "immutable-2026-02-01.log.gz")
	require.NoError(t, os.WriteFile(archive, []byte("compressed"), 0644))

	ctx := context.Background()
	key := ArchiveKey(filepath.Base(archive))
	require.NoError(t, b.UploadFile(ctx, archive, key))

	listed, err := b.ListBlocks(ctx, ArchivePrefix)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, key, listed[0])
}

func TestReconcileFindsMissingBlocks(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	blocks := []models.Block{makeBlock(0), makeBlock(1), makeBlock(2), makeBlock(3)}
	for i := range blocks {
		if i == 1 || i == 3 {
			continue
		}
		require.NoError(t, b.UploadBlock(ctx, &blocks[i], BlockKey(blocks[i].Hash)))
	}

	status, err := Reconcile(ctx, b, blocks)
	require.NoError(t, err)
	assert.False(t, status.InSync)
	assert.Equal(t, 4, status.LocalCount)
	assert.Equal(t, 2, status.RemoteCount)
	assert.Equal(t, []uint64{1, 3}, status.MissingIndices)
}

func TestReconcileInSync(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	blocks := []models.Block{makeBlock(0), makeBlock(1)}
	for i := range blocks {
		require.NoError(t, b.UploadBlock(ctx, &blocks[i], BlockKey(blocks[i].Hash)))
	}

	status, err := Reconcile(ctx, b, blocks)
	require.NoError(t, err)
	assert.True(t, status.InSync)
	assert.Empty(t, status.MissingIndices)
}

func TestFactorySelectsBackend(t *testing.T) {
	b, err := New(&Config{Type: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryBackend{}, b)

	b, err = New(&Config{Type: "sqlite", ConnectionString: filepath.Join(t.TempDir(), "f.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteBackend{}, b)

	_, err = New(&Config{Type: "cassandra"})
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.ErrCodeConfiguration))
}
