// Package github implements the worksource.Source contract against GitHub
// Issues, reusing the PAT-authenticated HTTP style of internal/github.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ikido/fleetctl/internal/worksource"
	"github.com/ikido/fleetctl/pkg/api"
)

// defaultWarningThreshold matches §4.5's "fire a warning callback when
// remaining < warning_threshold" with a conservative default for
// GitHub's 5000/hour core REST limit.
const defaultWarningThreshold = 100

const apiBase = "https://api.github.com"

// InProgressLabel is added to an issue on Claim and removed on Release, so
// a concurrent poller can see (and skip) an item another poller is already
// working without needing a server-side compare-and-swap.
const InProgressLabel = "fleet:in-progress"

// ReadyLabel marks an issue as claimable. Claim removes it in the same
// step it adds InProgressLabel, so a claimed item never carries both.
const ReadyLabel = "fleet:ready"

// CompletedLabel is added to an issue on Complete.
const CompletedLabel = "fleet:completed"

// Source adapts one GitHub repository's issue tracker to worksource.Source.
type Source struct {
	owner, repo string
	token       string
	httpClient  *http.Client

	warningThreshold int
	onRateLimitLow   func(worksource.RateLimitInfo)

	mu            sync.Mutex
	lastRateLimit worksource.RateLimitInfo
	haveRateLimit bool
}

// New creates a GitHub issue-backed work source for owner/repo.
func New(owner, repo, token string) *Source {
	return &Source{
		owner: owner,
		repo:  repo,
		token: token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		warningThreshold: defaultWarningThreshold,
	}
}

// OnRateLimitLow registers a callback fired (from the goroutine making
// the HTTP call) the first time a response's remaining-quota header
// drops below threshold. A threshold <= 0 keeps the default.
func (s *Source) OnRateLimitLow(threshold int, fn func(worksource.RateLimitInfo)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if threshold > 0 {
		s.warningThreshold = threshold
	}
	s.onRateLimitLow = fn
}

// LastRateLimitInfo returns the most recently observed rate-limit
// snapshot, satisfying worksource.RateLimitObserver.
func (s *Source) LastRateLimitInfo() (worksource.RateLimitInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRateLimit, s.haveRateLimit
}

// recordRateLimit updates the observable last-seen rate limit info from
// any GitHub response (success or failure alike carry these headers)
// and fires the low-quota warning at most once per drop below threshold.
func (s *Source) recordRateLimit(h http.Header, resource string) {
	limit, lok := atoiHeader(h, "X-RateLimit-Limit")
	remaining, rok := atoiHeader(h, "X-RateLimit-Remaining")
	if !lok && !rok {
		return
	}
	info := worksource.RateLimitInfo{Limit: limit, Remaining: remaining, Resource: resource}
	if reset := h.Get("X-RateLimit-Reset"); reset != "" {
		if unix, err := strconv.ParseInt(reset, 10, 64); err == nil {
			info.Reset = time.Unix(unix, 0)
		}
	}

	s.mu.Lock()
	wasLow := s.haveRateLimit && s.lastRateLimit.Remaining < s.warningThreshold
	s.lastRateLimit = info
	s.haveRateLimit = true
	cb := s.onRateLimitLow
	threshold := s.warningThreshold
	s.mu.Unlock()

	if cb != nil && info.Remaining < threshold && !wasLow {
		cb(info)
	}
}

func atoiHeader(h http.Header, key string) (int, bool) {
	v := h.Get(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (s *Source) FetchAvailable(ctx context.Context, opts worksource.FetchOptions) ([]api.WorkItem, error) {
	labels := append([]string{}, opts.Labels...)
	q := fmt.Sprintf("/repos/%s/%s/issues?state=open&per_page=100&sort=created&direction=asc", s.owner, s.repo)
	if len(labels) > 0 {
		q += "&labels=" + strings.Join(labels, ",")
	}

	var raw []ghIssue
	if err := s.get(ctx, q, &raw); err != nil {
		return nil, err
	}

	exclude := toSet(opts.ExcludeLabels)
	var out []api.WorkItem
	for _, issue := range raw {
		if issue.PullRequest != nil {
			continue // issues endpoint also returns PRs; work items are issues only
		}
		issueLabels := labelNames(issue.Labels)
		if hasAny(issueLabels, exclude) {
			continue
		}
		out = append(out, toWorkItem(s.owner, s.repo, issue))
	}
	// sort=created&direction=asc is GitHub's server-side ordering
	// guarantee, but re-sort client-side too since the exclude-label
	// filter above can't be expressed server-side and must not disturb
	// the oldest-first contract.
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *Source) Claim(ctx context.Context, itemID string) error {
	number, err := issueNumber(itemID)
	if err != nil {
		return err
	}

	issue, err := s.getIssue(ctx, number)
	if err != nil {
		return err
	}
	if issue.State != "open" {
		return worksource.ErrInvalidState
	}
	for _, l := range labelNames(issue.Labels) {
		if l == InProgressLabel {
			return worksource.ErrAlreadyClaimed
		}
	}

	// Add-then-verify: another poller may have added the label between
	// our read and our write. Re-read after adding to detect that race.
	if err := s.addLabel(ctx, number, InProgressLabel); err != nil {
		return err
	}
	issue, err = s.getIssue(ctx, number)
	if err != nil {
		return err
	}
	if countLabel(issue.Labels, InProgressLabel) > 1 {
		return worksource.ErrAlreadyClaimed
	}
	return s.removeLabel(ctx, number, ReadyLabel)
}

func (s *Source) Complete(ctx context.Context, itemID string, outcome worksource.Outcome, jobID, summary string) error {
	number, err := issueNumber(itemID)
	if err != nil {
		return err
	}
	if err := s.removeLabel(ctx, number, InProgressLabel); err != nil {
		return err
	}
	if summary != "" {
		body, _ := json.Marshal(map[string]string{
			"body": fmt.Sprintf("%s Completed by job `%s`.\n\n%s", outcomePrefix(outcome), jobID, summary),
		})
		endpoint := fmt.Sprintf("/repos/%s/%s/issues/%d/comments", s.owner, s.repo, number)
		if err := s.post(ctx, endpoint, body, nil); err != nil {
			return err
		}
	}

	if outcome != worksource.OutcomeSuccess {
		// failure/partial: leave the issue open for a human or a later
		// schedule to revisit.
		return nil
	}
	if err := s.addLabel(ctx, number, CompletedLabel); err != nil {
		return err
	}
	endpoint := fmt.Sprintf("/repos/%s/%s/issues/%d", s.owner, s.repo, number)
	closeBody, _ := json.Marshal(map[string]string{"state": "closed"})
	return s.patch(ctx, endpoint, closeBody)
}

// outcomePrefix picks the emoji spec.md's Complete protocol uses to mark a
// completion comment's outcome at a glance.
func outcomePrefix(outcome worksource.Outcome) string {
	switch outcome {
	case worksource.OutcomeSuccess:
		return "✅"
	case worksource.OutcomeFailure:
		return "❌"
	case worksource.OutcomePartial:
		return "⚠️"
	default:
		return "ℹ️"
	}
}

func (s *Source) Release(ctx context.Context, itemID string) error {
	number, err := issueNumber(itemID)
	if err != nil {
		return err
	}
	return s.removeLabel(ctx, number, InProgressLabel)
}

func (s *Source) Get(ctx context.Context, itemID string) (*api.WorkItem, error) {
	number, err := issueNumber(itemID)
	if err != nil {
		return nil, err
	}
	issue, err := s.getIssue(ctx, number)
	if err != nil {
		return nil, err
	}
	item := toWorkItem(s.owner, s.repo, *issue)
	return &item, nil
}

func (s *Source) getIssue(ctx context.Context, number int) (*ghIssue, error) {
	var issue ghIssue
	endpoint := fmt.Sprintf("/repos/%s/%s/issues/%d", s.owner, s.repo, number)
	if err := s.get(ctx, endpoint, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

func (s *Source) addLabel(ctx context.Context, number int, label string) error {
	body, _ := json.Marshal(map[string][]string{"labels": {label}})
	endpoint := fmt.Sprintf("/repos/%s/%s/issues/%d/labels", s.owner, s.repo, number)
	return s.post(ctx, endpoint, body, nil)
}

func (s *Source) removeLabel(ctx context.Context, number int, label string) error {
	endpoint := fmt.Sprintf("/repos/%s/%s/issues/%d/labels/%s", s.owner, s.repo, number, label)
	err := s.delete(ctx, endpoint)
	if err != nil && strings.Contains(err.Error(), "404") {
		return nil // already absent
	}
	return err
}

func issueNumber(itemID string) (int, error) {
	_, numStr, ok := strings.Cut(itemID, "-")
	if !ok {
		return 0, fmt.Errorf("worksource/github: malformed item id %q", itemID)
	}
	n, err := strconv.Atoi(numStr)
	if err != nil {
		return 0, fmt.Errorf("worksource/github: malformed item id %q: %w", itemID, err)
	}
	return n, nil
}

func toWorkItem(owner, repo string, issue ghIssue) api.WorkItem {
	labels := labelNames(issue.Labels)
	return api.WorkItem{
		ID:          fmt.Sprintf("github-%d", issue.Number),
		Source:      "github",
		ExternalID:  strconv.Itoa(issue.Number),
		Title:       issue.Title,
		Description: issue.Body,
		Priority:    api.InferPriority(labels),
		Labels:      labels,
		URL:         issue.HTMLURL,
		Metadata: map[string]interface{}{
			"owner": owner,
			"repo":  repo,
		},
		CreatedAt: issue.CreatedAt,
		UpdatedAt: issue.UpdatedAt,
	}
}

func labelNames(labels []ghLabel) []string {
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = l.Name
	}
	return out
}

func countLabel(labels []ghLabel, name string) int {
	n := 0
	for _, l := range labels {
		if l.Name == name {
			n++
		}
	}
	return n
}

func toSet(vals []string) map[string]bool {
	set := make(map[string]bool, len(vals))
	for _, v := range vals {
		set[v] = true
	}
	return set
}

func hasAny(vals []string, set map[string]bool) bool {
	for _, v := range vals {
		if set[v] {
			return true
		}
	}
	return false
}

type ghLabel struct {
	Name string `json:"name"`
}

type ghIssue struct {
	Number      int        `json:"number"`
	State       string     `json:"state"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	HTMLURL     string     `json:"html_url"`
	Labels      []ghLabel  `json:"labels"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	PullRequest *struct{}  `json:"pull_request,omitempty"`
}

var _ worksource.Source = (*Source)(nil)
