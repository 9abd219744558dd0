package github

import "context"

// PRSinkAdapter exposes PATClient's CreatePullRequest as the narrow
// workspace.PRSink shape, so internal/workspace doesn't need to import
// this package's full Client surface.
type PRSinkAdapter struct {
	client *PATClient
}

// NewPRSinkAdapter wraps an authenticated PAT client for PR creation.
func NewPRSinkAdapter(client *PATClient) *PRSinkAdapter {
	return &PRSinkAdapter{client: client}
}

func (a *PRSinkAdapter) CreatePullRequest(ctx context.Context, owner, repo, branch, base, title, body string) (string, error) {
	return a.client.CreatePullRequest(ctx, owner, repo, branch, base, title, body)
}
