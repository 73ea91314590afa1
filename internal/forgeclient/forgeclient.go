// Package forgeclient is the narrow "forge client" collaborator spec.md §1
// treats as external: given a branch, look up its open pull request. Used
// only by rebasectl status for decoration — no core subsystem (planner,
// executor, state machine, session store) depends on it, preserving the
// boundary spec.md draws around it.
package forgeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// PullRequest is the minimal shape rebasectl status needs to annotate a
// branch with its forge state.
type PullRequest struct {
	Number int
	Title  string
	State  string // "open", "closed", "merged"
	URL    string
}

type cacheEntry struct {
	pr        *PullRequest
	expiresAt time.Time
}

// Client looks up the open PR for a branch through an owner/repo's forge
// API, with bounded retries on transient network errors / 5xx responses and
// an in-memory TTL cache so repeated status polls don't hammer the forge.
type Client struct {
	httpClient *retryablehttp.Client
	baseURL    string
	owner      string
	repo       string
	token      string
	ttl        time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New returns a Client targeting baseURL (e.g. "https://api.github.com") for
// owner/repo, authenticating with token. A bounded-retry HTTP client is used
// for the retryable class of errors (timeouts, 5xx) spec.md §7 names.
func New(baseURL, owner, repo, token string, ttl time.Duration) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil

	return &Client{
		httpClient: rc,
		baseURL:    baseURL,
		owner:      owner,
		repo:       repo,
		token:      token,
		ttl:        ttl,
		cache:      make(map[string]cacheEntry),
	}
}

// PullRequestForBranch returns the open PR targeting branch, or nil if none
// exists. Results are cached for ttl to avoid re-querying the forge on
// every status call.
func (c *Client) PullRequestForBranch(ctx context.Context, branch string) (*PullRequest, error) {
	c.mu.Lock()
	if entry, ok := c.cache[branch]; ok && time.Now().Before(entry.expiresAt) {
		c.mu.Unlock()
		return entry.pr, nil
	}
	c.mu.Unlock()

	pr, err := c.fetch(ctx, branch)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[branch] = cacheEntry{pr: pr, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()

	return pr, nil
}

func (c *Client) fetch(ctx context.Context, branch string) (*PullRequest, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/pulls?head=%s:%s&state=open", c.baseURL, c.owner, c.repo, c.owner, branch)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("forgeclient: building request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forgeclient: requesting pull requests for %s: %w", branch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("forgeclient: unexpected status %d for %s", resp.StatusCode, branch)
	}

	var prs []struct {
		Number  int    `json:"number"`
		Title   string `json:"title"`
		State   string `json:"state"`
		HTMLURL string `json:"html_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&prs); err != nil {
		return nil, fmt.Errorf("forgeclient: decoding response for %s: %w", branch, err)
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return &PullRequest{
		Number: prs[0].Number,
		Title:  prs[0].Title,
		State:  prs[0].State,
		URL:    prs[0].HTMLURL,
	}, nil
}

// InvalidateBranch drops any cached lookup for branch, used after a plan
// moves that branch so the next status call re-queries the forge.
func (c *Client) InvalidateBranch(branch string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, branch)
}
