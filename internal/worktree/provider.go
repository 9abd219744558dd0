package worktree

import (
	"github.com/jmoiron/sqlx"

	"github.com/ikido/fleetctl/internal/common/config"
	"github.com/ikido/fleetctl/internal/common/logger"
)

// Provide creates the worktree manager using the shared database connection.
// The manager backs the git_worktree workspace strategy; static-strategy
// agents never touch it.
func Provide(db *sqlx.DB, cfg *config.Config, log *logger.Logger) (*Manager, func() error, error) {
	store, err := NewSQLiteStore(db)
	if err != nil {
		return nil, nil, err
	}
	manager, err := NewManager(Config{
		Enabled:      cfg.Worktree.Enabled,
		BasePath:     cfg.Worktree.BasePath,
		BranchPrefix: "fleet/",
	}, store, log)
	if err != nil {
		return nil, nil, err
	}
	return manager, func() error { return nil }, nil
}
