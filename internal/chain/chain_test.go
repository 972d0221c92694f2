package chain

import (
	"encoding/json"
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

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "blockchain.json"))
}

func appendEntry(t *testing.T, s *Store, payload string) *models.Block {
	t.Helper()
	block, err := s.NextBlock([]byte(payload), time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, s.Commit(block))
	return block
}

func TestAppendLinksBlocks(t *testing.T) {
	s := newTestStore(t)

	first := appendEntry(t, s, `{"message":"first"}`)
	assert.Equal(t, uint64(0), first.Index)
	assert.Equal(t, utils.GenesisHash, first.PreviousHash)
	assert.Equal(t, utils.HashString(`{"message":"first"}`), first.Hash)

	second := appendEntry(t, s, `{"message":"second"}`)
	assert.Equal(t, uint64(1), second.Index)
	assert.Equal(t, first.Hash, second.PreviousHash)

	ok, firstBad := s.Verify()
	assert.True(t, ok)
	assert.Equal(t, -1, firstBad)
}

func TestVerifyWalksFullChain(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 20; i++ {
		appendEntry(t, s, fmt.Sprintf(`{"n":%d}`, i))
	}

	require.Equal(t, 20, s.Length())

	blocks := s.Blocks()
	for i := 1; i < len(blocks); i++ {
		assert.Equal(t, blocks[i-1].Hash, blocks[i].PreviousHash)
		assert.Equal(t, utils.HashString(blocks[i].Data), blocks[i].Hash)
		assert.Equal(t, uint64(i), blocks[i].Index)
	}

	ok, _ := s.Verify()
	assert.True(t, ok)
}

func TestTamperDetection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blockchain.json")
	s := NewStore(path)

	for i := 0; i < 5; i++ {
		appendEntry(t, s, `{"seq":"entry"}`)
	}

	// Tamper with block 3 on disk and reload.
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var blocks []models.Block
	require.NoError(t, json.Unmarshal(data, &blocks))
	blocks[3].Data = `{"seq":"forged"}`

	tampered, err := json.Marshal(blocks)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, tampered, 0644))

	reloaded := NewStore(path)
	require.NoError(t, reloaded.Load())

	ok, firstBad := reloaded.Verify()
	assert.False(t, ok)
	assert.Equal(t, 3, firstBad)
}

func TestBrokenLinkageDetection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blockchain.json")
	s := NewStore(path)

	for i := 0; i < 4; i++ {
		appendEntry(t, s, `{"seq":"entry"}`)
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var blocks []models.Block
	require.NoError(t, json.Unmarshal(data, &blocks))
	blocks[2].PreviousHash = utils.HashString("unrelated")

	tampered, err := json.Marshal(blocks)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, tampered, 0644))

	reloaded := NewStore(path)
	require.NoError(t, reloaded.Load())

	ok, firstBad := reloaded.Verify()
	assert.False(t, ok)
	assert.Equal(t, 2, firstBad)
}

func TestCommitRejectsStaleBlock(t *testing.T) {
	s := newTestStore(t)

	stale, err := s.NextBlock([]byte(`{"a":1}`), time.Now().UTC())
	require.NoError(t, err)

	appendEntry(t, s, `{"b":2}`)

	err = s.Commit(stale)
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.ErrCodeChainIntegrity))
	assert.Equal(t, 1, s.Length())
}

func TestLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blockchain.json")
	s := NewStore(path)

	appendEntry(t, s, `{"message":"persisted"}`)
	appendEntry(t, s, `{"message":"also persisted"}`)

	reloaded := NewStore(path)
	require.NoError(t, reloaded.Load())
	require.Equal(t, 2, reloaded.Length())

	ok, _ := reloaded.Verify()
	assert.True(t, ok)

	tail := reloaded.Last()
	require.NotNil(t, tail)
	assert.Equal(t, uint64(1), tail.Index)
}

func TestLoadMissingSnapshot(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, s.Load())
	assert.Equal(t, 0, s.Length())
	assert.Nil(t, s.Last())
}

func TestGetOutOfRange(t *testing.T) {
	s := newTestStore(t)
	appendEntry(t, s, `{"only":"one"}`)

	_, err := s.Get(5)
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.ErrCodeNotFound))

	block, err := s.Get(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), block.Index)
}
