package backend

import (
	"strings"

	"github.com/auditstack/chainlog/pkg/utils"
)

// New creates a backend instance based on configuration
func New(cfg *Config) (Backend, error) {
	switch strings.ToLower(cfg.Type) {
	case "sqlite":
		return NewSQLiteBackend(cfg), nil
	case "postgres", "postgresql":
		return NewPostgresBackend(cfg), nil
	case "memory":
		return NewMemoryBackend(), nil
	default:
		return nil, utils.NewAppError(utils.ErrCodeConfiguration,
			"Unsupported backend type", cfg.Type)
	}
}
