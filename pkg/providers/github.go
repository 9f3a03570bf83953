package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/codeready-toolchain/tarka/pkg/models"
	"github.com/codeready-toolchain/tarka/pkg/version"
)

// GitHub is the GitHub evidence capability: recent commits and workflow runs
// for change correlation, plus read-only file fetch.
type GitHub interface {
	Commits(ctx context.Context, repo string, since time.Time) ([]models.CommitRecord, models.Availability)
	WorkflowRuns(ctx context.Context, repo string, since time.Time) ([]models.WorkflowRunRecord, models.Availability)
	WorkflowLog(ctx context.Context, repo string, runID int64) (string, models.Availability)
	File(ctx context.Context, repo, ref, path string) (string, models.Availability)
}

// GitHubProvider implements GitHub over the REST v3 API. token may be empty
// (public repos, lower rate limit).
type GitHubProvider struct {
	baseURL string
	token   string
	client  *http.Client
	cache   *ResponseCache
}

// NewGitHubProvider creates a GitHub provider. cache may be nil.
func NewGitHubProvider(token string, cache *ResponseCache) *GitHubProvider {
	return &GitHubProvider{
		baseURL: "https://api.github.com",
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
		cache:   cache,
	}
}

// Commits implements GitHub.
func (p *GitHubProvider) Commits(ctx context.Context, repo string, since time.Time) ([]models.CommitRecord, models.Availability) {
	reqURL := fmt.Sprintf("%s/repos/%s/commits?since=%s&per_page=30",
		p.baseURL, repo, url.QueryEscape(since.UTC().Format(time.RFC3339)))
	body, avail := p.get(ctx, reqURL, "application/vnd.github.v3+json")
	if !avail.OK() {
		return nil, avail
	}
	var raw []struct {
		SHA    string `json:"sha"`
		Commit struct {
			Message string `json:"message"`
			Author  struct {
				Name string    `json:"name"`
				Date time.Time `json:"date"`
			} `json:"author"`
		} `json:"commit"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, models.AvailUnavailable(fmt.Sprintf("decoding commits: %v", err))
	}
	if len(raw) == 0 {
		return nil, models.AvailEmpty()
	}
	commits := make([]models.CommitRecord, 0, len(raw))
	for _, c := range raw {
		commits = append(commits, models.CommitRecord{
			SHA:     c.SHA,
			Author:  c.Commit.Author.Name,
			Message: firstLine(c.Commit.Message),
			When:    c.Commit.Author.Date,
		})
	}
	return commits, models.AvailOK()
}

// WorkflowRuns implements GitHub.
func (p *GitHubProvider) WorkflowRuns(ctx context.Context, repo string, since time.Time) ([]models.WorkflowRunRecord, models.Availability) {
	reqURL := fmt.Sprintf("%s/repos/%s/actions/runs?created=%s&per_page=30",
		p.baseURL, repo, url.QueryEscape(">="+since.UTC().Format(time.RFC3339)))
	body, avail := p.get(ctx, reqURL, "application/vnd.github.v3+json")
	if !avail.OK() {
		return nil, avail
	}
	var raw struct {
		WorkflowRuns []struct {
			ID         int64     `json:"id"`
			Name       string    `json:"name"`
			Status     string    `json:"status"`
			Conclusion string    `json:"conclusion"`
			CreatedAt  time.Time `json:"created_at"`
		} `json:"workflow_runs"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, models.AvailUnavailable(fmt.Sprintf("decoding workflow runs: %v", err))
	}
	if len(raw.WorkflowRuns) == 0 {
		return nil, models.AvailEmpty()
	}
	runs := make([]models.WorkflowRunRecord, 0, len(raw.WorkflowRuns))
	for _, r := range raw.WorkflowRuns {
		runs = append(runs, models.WorkflowRunRecord{
			ID:         r.ID,
			Name:       r.Name,
			Status:     r.Status,
			Conclusion: r.Conclusion,
			When:       r.CreatedAt,
		})
	}
	return runs, models.AvailOK()
}

// WorkflowLog implements GitHub. The logs endpoint redirects to a short-lived
// archive URL; the default client follows it.
func (p *GitHubProvider) WorkflowLog(ctx context.Context, repo string, runID int64) (string, models.Availability) {
	reqURL := fmt.Sprintf("%s/repos/%s/actions/runs/%d/logs", p.baseURL, repo, runID)
	body, avail := p.get(ctx, reqURL, "")
	if !avail.OK() {
		return "", avail
	}
	return string(body), models.AvailOK()
}

// File implements GitHub via the raw content endpoint.
func (p *GitHubProvider) File(ctx context.Context, repo, ref, path string) (string, models.Availability) {
	reqURL := fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s", repo, ref, path)
	body, avail := p.get(ctx, reqURL, "")
	if !avail.OK() {
		return "", avail
	}
	if len(body) == 0 {
		return "", models.AvailEmpty()
	}
	return string(body), models.AvailOK()
}

func (p *GitHubProvider) get(ctx context.Context, reqURL, accept string) ([]byte, models.Availability) {
	if body, ok := p.cache.Get(reqURL); ok {
		return body, models.AvailOK()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, models.AvailUnavailable(err.Error())
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	req.Header.Set("User-Agent", version.Full())
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPStatus(resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, classifyError(err)
	}
	p.cache.Put(reqURL, body)
	return body, models.AvailOK()
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
