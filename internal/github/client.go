package github

import (
	"context"
)

// Client defines the interface for interacting with the GitHub API: the
// authentication probe factory.go uses to pick an auth method, and
// single-PR lookups. PR creation goes through PATClient.CreatePullRequest
// via PRSinkAdapter, not through Client. The concrete clients also carry
// review, comment, check-run, file, commit and org/repo listing methods;
// those are not part of Client, and no fleet code calls them.
type Client interface {
	// IsAuthenticated checks if the client is authenticated with GitHub.
	IsAuthenticated(ctx context.Context) (bool, error)

	// GetAuthenticatedUser returns the username of the authenticated user.
	GetAuthenticatedUser(ctx context.Context) (string, error)

	// GetPR retrieves a single pull request by number.
	GetPR(ctx context.Context, owner, repo string, number int) (*PR, error)

	// FindPRByBranch finds an open PR for the given head branch.
	FindPRByBranch(ctx context.Context, owner, repo, branch string) (*PR, error)
}
