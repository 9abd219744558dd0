package github

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/ikido/fleetctl/internal/common/logger"
)

// NewClient creates a GitHub client using the best available auth method.
// It tries the gh CLI first, then falls back to a PAT from the environment.
func NewClient(ctx context.Context, log *logger.Logger) (Client, string, error) {
	if os.Getenv("FLEETD_MOCK_GITHUB") == "true" {
		log.Info("using mock client for GitHub integration")
		return NewMockClient(), "mock", nil
	}

	if GHAvailable() {
		ghClient := NewGHClient()
		ok, err := ghClient.IsAuthenticated(ctx)
		if err == nil && ok {
			log.Info("using gh CLI for GitHub integration")
			return ghClient, "gh_cli", nil
		}
		log.Debug("gh CLI available but not authenticated", zap.Error(err))
	}

	if token := firstNonEmpty(os.Getenv("FLEETD_GITHUB_TOKEN"), os.Getenv("GITHUB_TOKEN")); token != "" {
		log.Info("using PAT from environment for GitHub integration")
		return NewPATClient(token), "pat", nil
	}

	return &NoopClient{}, "none", nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
