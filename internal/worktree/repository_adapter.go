package worktree

import "context"

// Repository contains repository information needed for script execution.
type Repository struct {
	ID            string
	SetupScript   string
	CleanupScript string
}

// RepositoryProvider provides access to repository information. No
// package of the module implements it or calls SetRepositoryProvider, so
// the manager runs no setup or cleanup scripts.
type RepositoryProvider interface {
	GetRepository(ctx context.Context, repositoryID string) (*Repository, error)
}
