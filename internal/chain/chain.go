package chain

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/auditstack/chainlog/internal/models"
	"github.com/auditstack/chainlog/pkg/utils"
)

// Store holds the ordered sequence of hash-linked blocks and is the sole
// writer of the chain snapshot file. Append is not safe for concurrent use
// on its own; callers serialize the full append sequence externally.
type Store struct {
	mu     sync.RWMutex
	path   string
	blocks []models.Block
	logger *logrus.Entry
}

// NewStore creates a chain store persisting its snapshot at path.
func NewStore(path string) *Store {
	return &Store{
		path:   path,
		logger: utils.ComponentLogger("chain"),
	}
}

// Load reads the full chain snapshot from disk. A missing snapshot file
// yields an empty chain.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.blocks = nil
			return nil
		}
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to read chain snapshot", err.Error())
	}

	var blocks []models.Block
	if err := json.Unmarshal(data, &blocks); err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to decode chain snapshot", err.Error())
	}

	s.blocks = blocks
	s.logger.WithFields(logrus.Fields{
		"path":   s.path,
		"length": len(blocks),
	}).Info("Chain snapshot loaded")
	return nil
}

// NextBlock forms and self-validates the block that would wrap the given
// canonical entry bytes, without committing it. A validation failure means
// the caller must not persist the corresponding log entry, keeping chain
// and append log consistent.
func (s *Store) NextBlock(data []byte, ts time.Time) (*models.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	previousHash := utils.GenesisHash
	if n := len(s.blocks); n > 0 {
		previousHash = s.blocks[n-1].Hash
	}

	block := models.Block{
		Index:        uint64(len(s.blocks)),
		Timestamp:    ts,
		Data:         string(data),
		Hash:         utils.HashData(data),
		PreviousHash: previousHash,
	}

	if err := s.validateBlock(&block); err != nil {
		return nil, err
	}
	return &block, nil
}

// Commit appends a block formed by NextBlock and persists the full chain
// snapshot. One full-snapshot write per append bounds the blast radius of
// a crash between two appends to at most one lost entry.
func (s *Store) Commit(block *models.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validateBlock(block); err != nil {
		return err
	}

	s.blocks = append(s.blocks, *block)
	if err := s.persistLocked(); err != nil {
		// Roll the in-memory tail back so chain and snapshot stay aligned.
		s.blocks = s.blocks[:len(s.blocks)-1]
		return err
	}
	return nil
}

// validateBlock checks a candidate block against the current tail. This is
// a defensive check: under correct sequential use it is unreachable, and a
// failure means the caller must not persist the corresponding log entry.
func (s *Store) validateBlock(block *models.Block) error {
	if block.Hash != utils.HashData([]byte(block.Data)) {
		return utils.NewAppError(utils.ErrCodeChainIntegrity,
			"Block hash does not match its data",
			fmt.Sprintf("index %d", block.Index))
	}

	if len(s.blocks) == 0 {
		if block.PreviousHash != utils.GenesisHash {
			return utils.NewAppError(utils.ErrCodeChainIntegrity,
				"First block must link to the genesis sentinel",
				fmt.Sprintf("got %q", block.PreviousHash))
		}
		return nil
	}

	tail := &s.blocks[len(s.blocks)-1]
	if block.PreviousHash != tail.Hash {
		return utils.NewAppError(utils.ErrCodeChainIntegrity,
			"Block does not link to the chain tail",
			fmt.Sprintf("index %d", block.Index))
	}
	if block.Index != tail.Index+1 {
		return utils.NewAppError(utils.ErrCodeChainIntegrity,
			"Block index is not dense",
			fmt.Sprintf("got %d, want %d", block.Index, tail.Index+1))
	}
	return nil
}

// Verify walks the chain from index 1 forward and returns the first index
// at which either the block hash or the linkage is broken. Linear in chain
// length; intended for periodic administrative use, not per-write.
func (s *Store) Verify() (bool, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := 1; i < len(s.blocks); i++ {
		current := &s.blocks[i]
		previous := &s.blocks[i-1]

		if current.Hash != utils.HashData([]byte(current.Data)) {
			s.logger.WithField("index", i).Warn("Block hash mismatch")
			return false, i
		}
		if current.PreviousHash != previous.Hash {
			s.logger.WithField("index", i).Warn("Block previous-hash mismatch")
			return false, i
		}
	}
	return true, -1
}

// Persist writes the full chain snapshot to disk.
func (s *Store) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	blocks := s.blocks
	if blocks == nil {
		blocks = []models.Block{}
	}
	data, err := json.MarshalIndent(blocks, "", "  ")
	if err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to encode chain snapshot", err.Error())
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to write chain snapshot", err.Error())
	}
	return nil
}

// Length returns the number of blocks in the chain.
func (s *Store) Length() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blocks)
}

// Last returns a copy of the tail block, or nil for an empty chain.
func (s *Store) Last() *models.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.blocks) == 0 {
		return nil
	}
	block := s.blocks[len(s.blocks)-1]
	return &block
}

// Get returns a copy of the block at index.
func (s *Store) Get(index uint64) (*models.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index >= uint64(len(s.blocks)) {
		return nil, utils.NewAppError(utils.ErrCodeNotFound,
			"Block index out of range", fmt.Sprintf("index %d, length %d", index, len(s.blocks)))
	}
	block := s.blocks[index]
	return &block, nil
}

// Blocks returns a copy of the full block sequence.
func (s *Store) Blocks() []models.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Block, len(s.blocks))
	copy(out, s.blocks)
	return out
}
