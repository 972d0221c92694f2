package backend

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/auditstack/chainlog/internal/models"
	"github.com/auditstack/chainlog/pkg/utils"
)

// SQLiteBackend implements Backend on a local SQLite database. Useful for
// single-host deployments where the replica lives on a second disk.
type SQLiteBackend struct {
	db     *sql.DB
	config *Config
	logger *logrus.Entry
}

// NewSQLiteBackend creates a new SQLite backend instance
func NewSQLiteBackend(config *Config) *SQLiteBackend {
	return &SQLiteBackend{
		config: config,
		logger: utils.ComponentLogger("backend"),
	}
}

// Connect establishes the database connection
func (b *SQLiteBackend) Connect() error {
	dir := filepath.Dir(b.config.ConnectionString)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return utils.NewAppError(utils.ErrCodeStorage, "Failed to create backend directory", err.Error())
		}
	}

	db, err := sql.Open("sqlite", b.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to open SQLite backend", err.Error())
	}

	maxConns := b.config.MaxConnections
	if maxConns <= 0 {
		maxConns = 4
	}
	db.SetMaxOpenConns(maxConns)

	b.db = db
	b.logger.WithField("path", b.config.ConnectionString).Info("SQLite backend connected")
	return nil
}

// Close closes the database connection
func (b *SQLiteBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Ping verifies the connection
func (b *SQLiteBackend) Ping() error {
	if b.db == nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Backend not connected", "")
	}
	return b.db.Ping()
}

// Migrate creates the remote object schema
func (b *SQLiteBackend) Migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS remote_objects (
			key TEXT PRIMARY KEY,
			kind TEXT NOT NULL, -- block, file
			payload BLOB NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_remote_objects_kind ON remote_objects(kind);
	`
	if _, err := b.db.Exec(schema); err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to migrate backend schema", err.Error())
	}
	return nil
}

// UploadBlock stores a block under its remote key. Re-uploads of the same
// key overwrite, which keeps at-least-once delivery idempotent.
func (b *SQLiteBackend) UploadBlock(ctx context.Context, block *models.Block, key string) error {
	payload, err := json.Marshal(block)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeReplication, "Failed to encode block", err.Error())
	}

	query := `INSERT INTO remote_objects (key, kind, payload) VALUES (?, 'block', ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload`
	if _, err := b.db.ExecContext(ctx, query, key, payload); err != nil {
		return utils.NewAppError(utils.ErrCodeReplication, "Failed to upload block", err.Error())
	}
	return nil
}

// UploadFile stores a local file's contents under the remote key.
func (b *SQLiteBackend) UploadFile(ctx context.Context, path, key string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeReplication, "Failed to read file for upload", err.Error())
	}

	query := `INSERT INTO remote_objects (key, kind, payload) VALUES (?, 'file', ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload`
	if _, err := b.db.ExecContext(ctx, query, key, payload); err != nil {
		return utils.NewAppError(utils.ErrCodeReplication, "Failed to upload file", err.Error())
	}
	return nil
}

// DownloadBlock fetches a block by its remote key.
func (b *SQLiteBackend) DownloadBlock(ctx context.Context, key string) (*models.Block, error) {
	var payload []byte
	query := `SELECT payload FROM remote_objects WHERE key = ? AND kind = 'block'`
	err := b.db.QueryRowContext(ctx, query, key).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Block not found", key)
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeReplication, "Failed to download block", err.Error())
	}

	var block models.Block
	if err := json.Unmarshal(payload, &block); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeReplication, "Failed to decode block", err.Error())
	}
	return &block, nil
}

// ListBlocks lists remote keys under the given prefix.
func (b *SQLiteBackend) ListBlocks(ctx context.Context, prefix string) ([]string, error) {
	query := `SELECT key FROM remote_objects WHERE key LIKE ? || '%' ORDER BY key`
	rows, err := b.db.QueryContext(ctx, query, prefix)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeReplication, "Failed to list blocks", err.Error())
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeReplication, "Failed to scan key", err.Error())
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
