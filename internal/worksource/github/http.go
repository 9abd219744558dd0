package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ikido/fleetctl/internal/worksource"
)

func (s *Source) get(ctx context.Context, endpoint string, out interface{}) error {
	resp, err := s.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *Source) post(ctx context.Context, endpoint string, body []byte, out interface{}) error {
	resp, err := s.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *Source) patch(ctx context.Context, endpoint string, body []byte) error {
	resp, err := s.do(ctx, http.MethodPatch, endpoint, body)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (s *Source) delete(ctx context.Context, endpoint string) error {
	resp, err := s.do(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// do issues a single GitHub REST request and translates a 403/429
// rate-limit response into a worksource.RateLimitError carrying the
// reset time from the X-RateLimit-Reset / Retry-After headers, so the
// scheduler can pause this source's schedule instead of busy-retrying.
func (s *Source) do(ctx context.Context, method, endpoint string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, apiBase+endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "token "+s.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("worksource/github: request %s %s: %w", method, endpoint, err)
	}
	s.recordRateLimit(resp.Header, "core")

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		if resetAt, limited := rateLimitReset(resp.Header); limited {
			_ = resp.Body.Close()
			return nil, &worksource.RateLimitError{
				Err:     fmt.Errorf("worksource/github: rate limited on %s %s", method, endpoint),
				ResetAt: resetAt,
			}
		}
	}

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusNotFound:
			return nil, &worksource.PermanentError{
				Err: fmt.Errorf("worksource/github: %s %s returned 404: %w", method, endpoint, worksource.ErrNotFound),
			}
		case http.StatusUnauthorized, http.StatusForbidden:
			return nil, &worksource.PermanentError{
				Err: fmt.Errorf("worksource/github: %s %s returned %d: %s", method, endpoint, resp.StatusCode, string(respBody)),
			}
		}
		return nil, fmt.Errorf("worksource/github: %s %s returned %d: %s", method, endpoint, resp.StatusCode, string(respBody))
	}

	return resp, nil
}

// rateLimitReset reads GitHub's rate-limit headers. Retry-After (seconds,
// used on secondary rate limits) takes precedence over X-RateLimit-Reset
// (a unix timestamp, used on primary limits) when both are present.
func rateLimitReset(h http.Header) (time.Time, bool) {
	if ra := h.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			return time.Now().Add(time.Duration(secs) * time.Second), true
		}
	}
	if remaining := h.Get("X-RateLimit-Remaining"); remaining == "0" {
		if reset := h.Get("X-RateLimit-Reset"); reset != "" {
			if unix, err := strconv.ParseInt(reset, 10, 64); err == nil {
				return time.Unix(unix, 0), true
			}
		}
	}
	return time.Time{}, false
}
