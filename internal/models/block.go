package models

import "time"

// Block wraps exactly one serialized log entry in the hash chain.
// Blocks are immutable once appended; the chain store is the sole writer.
type Block struct {
	Index        uint64    `json:"index"`
	Timestamp    time.Time `json:"timestamp"`
	Data         string    `json:"data"`
	Hash         string    `json:"hash"`
	PreviousHash string    `json:"previousHash"`
}

// IndexEntry is a lightweight projection of a log entry used for range
// queries without deserializing full entries. It is a cache over the
// chain, never independently authoritative.
type IndexEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Hash      string    `json:"hash"`
	Offset    int64     `json:"offset"`
}

// ReplicationTask references a block or archive file pending upload to
// the remote backend. Tasks are transient: a crash loses unflushed tasks.
type ReplicationTask struct {
	Block     *Block    `json:"block,omitempty"`
	FilePath  string    `json:"file_path,omitempty"`
	RemoteKey string    `json:"remote_key"`
	QueuedAt  time.Time `json:"queued_at"`
}

// Archive describes a rotated, compressed copy of a previously full
// append log. Archives are write-once and immutable after creation.
type Archive struct {
	Path      string    `json:"path"`
	RemoteKey string    `json:"remote_key"`
	SizeBytes int64     `json:"size_bytes"`
	RotatedAt time.Time `json:"rotated_at"`
}
