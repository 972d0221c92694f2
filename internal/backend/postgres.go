package backend

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/auditstack/chainlog/internal/models"
	"github.com/auditstack/chainlog/pkg/utils"
)

// PostgresBackend implements Backend on a PostgreSQL database, for
// deployments where the replica lives off-box.
type PostgresBackend struct {
	db     *sql.DB
	config *Config
	logger *logrus.Entry
}

// NewPostgresBackend creates a new PostgreSQL backend instance
func NewPostgresBackend(config *Config) *PostgresBackend {
	return &PostgresBackend{
		config: config,
		logger: utils.ComponentLogger("backend"),
	}
}

// Connect establishes the database connection
func (b *PostgresBackend) Connect() error {
	db, err := sql.Open("postgres", b.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to open PostgreSQL backend", err.Error())
	}

	maxConns := b.config.MaxConnections
	if maxConns <= 0 {
		maxConns = 10
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns / 2)

	if err := db.Ping(); err != nil {
		db.Close()
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to reach PostgreSQL backend", err.Error())
	}

	b.db = db
	b.logger.Info("PostgreSQL backend connected")
	return nil
}

// Close closes the database connection
func (b *PostgresBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Ping verifies the connection
func (b *PostgresBackend) Ping() error {
	if b.db == nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Backend not connected", "")
	}
	return b.db.Ping()
}

// Migrate creates the remote object schema
func (b *PostgresBackend) Migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS remote_objects (
			key TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			payload BYTEA NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_remote_objects_kind ON remote_objects(kind);
	`
	if _, err := b.db.Exec(schema); err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to migrate backend schema", err.Error())
	}
	return nil
}

// UploadBlock stores a block under its remote key.
func (b *PostgresBackend) UploadBlock(ctx context.Context, block *models.Block, key string) error {
	payload, err := json.Marshal(block)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeReplication, "Failed to encode block", err.Error())
	}

	query := `INSERT INTO remote_objects (key, kind, payload) VALUES ($1, 'block', $2)
		ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload`
	if _, err := b.db.ExecContext(ctx, query, key, payload); err != nil {
		return utils.NewAppError(utils.ErrCodeReplication, "Failed to upload block", err.Error())
	}
	return nil
}

// UploadFile stores a local file's contents under the remote key.
func (b *PostgresBackend) UploadFile(ctx context.Context, path, key string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeReplication, "Failed to read file for upload", err.Error())
	}

	query := `INSERT INTO remote_objects (key, kind, payload) VALUES ($1, 'file', $2)
		ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload`
	if _, err := b.db.ExecContext(ctx, query, key, payload); err != nil {
		return utils.NewAppError(utils.ErrCodeReplication, "Failed to upload file", err.Error())
	}
	return nil
}

// DownloadBlock fetches a block by its remote key.
func (b *PostgresBackend) DownloadBlock(ctx context.Context, key string) (*models.Block, error) {
	var payload []byte
	query := `SELECT payload FROM remote_objects WHERE key = $1 AND kind = 'block'`
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
func (b *PostgresBackend) ListBlocks(ctx context.Context, prefix string) ([]string, error) {
	query := `SELECT key FROM remote_objects WHERE key LIKE $1 || '%' ORDER BY key`
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
