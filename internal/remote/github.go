package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/AdaptivMCP/gitward/internal/fault"
	"github.com/AdaptivMCP/gitward/internal/metrics"
)

const (
	defaultBaseURL = "https://api.github.com"
	apiVersion     = "2022-11-28"
	userAgent      = "gitward"

	// maxErrorBody bounds how much of an error response we read for
	// the message.
	maxErrorBody = 64 * 1024
)

// GitHubClient implements Client against the GitHub REST API.
type GitHubClient struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
	metrics *metrics.Registry
}

// GitHubConfig configures the GitHubClient.
type GitHubConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Logger  *zap.Logger
	Metrics *metrics.Registry
}

// NewGitHubClient creates a GitHub REST client. Timeout applies per
// request; the caller's context can shorten it further.
func NewGitHubClient(cfg GitHubConfig) *GitHubClient {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GitHubClient{
		baseURL: base,
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
		metrics: cfg.Metrics,
	}
}

type contentsResponse struct {
	SHA      string `json:"sha"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

// GetFile reads one file at ref via the contents API.
func (c *GitHubClient) GetFile(ctx context.Context, fullName, path, ref string) (*File, error) {
	p := fmt.Sprintf("/repos/%s/contents/%s", fullName, escapePath(path))
	if ref != "" {
		p += "?ref=" + url.QueryEscape(ref)
	}
	body, err := c.Fetch(ctx, p)
	if err != nil {
		return nil, decorate(err, fullName, ref, path)
	}

	var resp contentsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		// Undecodable payloads are grouped with timeouts so they are
		// marked retryable; a mangled body is usually a transient
		// proxy or truncation problem.
		return nil, fault.Wrap(err, fault.RemoteTimeout, "unexpected_payload",
			"contents API returned an undecodable payload for %s", path).
			WithRepoRef(fullName, ref)
	}
	text, err := decodeContent(resp)
	if err != nil {
		return nil, decorate(err, fullName, ref, path)
	}
	return &File{Path: path, Ref: ref, Content: text, Revision: resp.SHA}, nil
}

func decodeContent(resp contentsResponse) (string, error) {
	switch resp.Encoding {
	case "base64":
		raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(resp.Content, "\n", ""))
		if err != nil {
			return "", fault.Wrap(err, fault.RemoteTimeout, "undecodable_content",
				"contents API returned invalid base64")
		}
		return string(raw), nil
	case "", "none":
		return resp.Content, nil
	default:
		return "", fault.New(fault.RemoteNotFound, "unsupported_encoding",
			"contents API returned encoding %q; the file may be too large for this endpoint", resp.Encoding)
	}
}

type putContentsBody struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch,omitempty"`
	SHA     string `json:"sha,omitempty"`
}

type putContentsResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

// PutFile commits one file via the contents API. The host rejects the
// write when PriorRevision no longer matches, which surfaces as a
// stale_base fault.
func (c *GitHubClient) PutFile(ctx context.Context, req PutFileRequest) (*FileWrite, error) {
	p := fmt.Sprintf("/repos/%s/contents/%s", req.FullName, escapePath(req.Path))
	body := putContentsBody{
		Message: req.Message,
		Content: base64.StdEncoding.EncodeToString([]byte(req.Content)),
		Branch:  req.Branch,
		SHA:     req.PriorRevision,
	}
	raw, err := c.Write(ctx, http.MethodPut, p, body)
	if err != nil {
		return nil, decorate(err, req.FullName, req.Branch, req.Path)
	}

	var resp putContentsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fault.Wrap(err, fault.RemoteTimeout, "unexpected_payload",
			"contents API returned an undecodable commit payload for %s", req.Path).
			WithRepoRef(req.FullName, req.Branch)
	}
	return &FileWrite{Revision: resp.Content.SHA, CommitSHA: resp.Commit.SHA}, nil
}

type refResponse struct {
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

// CreateBranch creates refs/heads/name pointing at fromRef's head.
func (c *GitHubClient) CreateBranch(ctx context.Context, fullName, name, fromRef string) error {
	raw, err := c.Fetch(ctx, fmt.Sprintf("/repos/%s/git/ref/%s", fullName, url.PathEscape("heads/"+fromRef)))
	if err != nil {
		return decorate(err, fullName, fromRef, "")
	}
	var ref refResponse
	if err := json.Unmarshal(raw, &ref); err != nil || ref.Object.SHA == "" {
		return fault.New(fault.RemoteNotFound, "ref_unresolvable",
			"could not resolve head of %s", fromRef).WithRepoRef(fullName, fromRef)
	}

	_, err = c.Write(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/git/refs", fullName), map[string]string{
		"ref": "refs/heads/" + name,
		"sha": ref.Object.SHA,
	})
	if err != nil {
		return decorate(err, fullName, name, "")
	}
	return nil
}

// DeleteBranch removes refs/heads/name.
func (c *GitHubClient) DeleteBranch(ctx context.Context, fullName, name string) error {
	_, err := c.Write(ctx, http.MethodDelete,
		fmt.Sprintf("/repos/%s/git/refs/%s", fullName, url.PathEscape("heads/"+name)), nil)
	if err != nil {
		return decorate(err, fullName, name, "")
	}
	return nil
}

type pullRequestBody struct {
	Title string `json:"title"`
	Head  string `json:"head"`
	Base  string `json:"base"`
	Body  string `json:"body,omitempty"`
	Draft bool   `json:"draft,omitempty"`
}

type pullRequestResponse struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
}

// OpenPullRequest opens a PR from head into base.
func (c *GitHubClient) OpenPullRequest(ctx context.Context, req PullRequestInput) (*PullRequest, error) {
	raw, err := c.Write(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/pulls", req.FullName), pullRequestBody{
		Title: req.Title,
		Head:  req.Head,
		Base:  req.Base,
		Body:  req.Body,
		Draft: req.Draft,
	})
	if err != nil {
		return nil, decorate(err, req.FullName, req.Head, "")
	}
	var resp pullRequestResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fault.Wrap(err, fault.RemoteTimeout, "unexpected_payload",
			"pulls API returned an undecodable payload").WithContext("repo", req.FullName)
	}
	return &PullRequest{Number: resp.Number, URL: resp.HTMLURL}, nil
}

// Fetch performs a raw GET against the API root.
func (c *GitHubClient) Fetch(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Write performs a raw mutating call against the API root.
func (c *GitHubClient) Write(ctx context.Context, method, path string, body any) ([]byte, error) {
	return c.do(ctx, method, path, body)
}

func (c *GitHubClient) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	if c.metrics != nil {
		c.metrics.RemoteRequest()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fault.Wrap(err, fault.Validation, "unencodable_body",
				"request body is not JSON-encodable")
		}
		reader = bytes.NewReader(encoded)
	}

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fault.Wrap(err, fault.Validation, "bad_request_path",
			"cannot build request for %s", path)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		timedOut := errors.Is(err, context.DeadlineExceeded) || isClientTimeout(err)
		if c.metrics != nil {
			c.metrics.RemoteFailure(false, timedOut)
		}
		code := "connection_failed"
		if timedOut {
			code = "request_timeout"
		}
		return nil, fault.Wrap(err, fault.RemoteTimeout, code,
			"%s %s did not complete", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		f := c.statusFault(method, path, resp)
		if c.metrics != nil {
			c.metrics.RemoteFailure(f.Category == fault.RemoteRateLimited, false)
		}
		c.logger.Debug("remote call failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("category", string(f.Category)),
		)
		return nil, f
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if c.metrics != nil {
			c.metrics.RemoteFailure(false, false)
		}
		return nil, fault.Wrap(err, fault.RemoteTimeout, "truncated_response",
			"%s %s response could not be read", method, path)
	}
	return data, nil
}

type apiError struct {
	Message string `json:"message"`
}

// statusFault maps an HTTP error status onto the fault taxonomy.
func (c *GitHubClient) statusFault(method, path string, resp *http.Response) *fault.Error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload apiError
	_ = json.Unmarshal(raw, &payload)
	msg := payload.Message
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	if msg == "" {
		msg = resp.Status
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fault.New(fault.RemoteNotFound, "not_found",
			"%s %s: %s", method, path, msg)
	case resp.StatusCode == http.StatusUnauthorized:
		return fault.New(fault.RemotePermission, "unauthorized",
			"%s %s: %s", method, path, msg).
			WithHint("check the remote access token")
	case resp.StatusCode == http.StatusTooManyRequests || isRateLimited(resp, msg):
		f := fault.New(fault.RemoteRateLimited, "rate_limited",
			"%s %s: %s", method, path, msg).
			WithHint("back off and retry after the limit window resets")
		if reset := resp.Header.Get("X-RateLimit-Reset"); reset != "" {
			f = f.WithContext("rate_limit_reset", reset)
		}
		if after := resp.Header.Get("Retry-After"); after != "" {
			f = f.WithContext("retry_after", after)
		}
		return f
	case resp.StatusCode == http.StatusForbidden:
		return fault.New(fault.RemotePermission, "forbidden",
			"%s %s: %s", method, path, msg)
	case resp.StatusCode == http.StatusConflict:
		return fault.New(fault.StaleBase, "revision_conflict",
			"%s %s: %s", method, path, msg).
			WithHint("re-read the file and retry with its current revision")
	case resp.StatusCode == http.StatusUnprocessableEntity && mentionsStaleSHA(msg):
		return fault.New(fault.StaleBase, "revision_conflict",
			"%s %s: %s", method, path, msg).
			WithHint("re-read the file and retry with its current revision")
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return fault.New(fault.Validation, "remote_rejected",
			"%s %s: %s", method, path, msg)
	case resp.StatusCode >= 500:
		// Transient infrastructure failure; grouped with timeouts so
		// it is marked retryable.
		return fault.New(fault.RemoteTimeout, "server_error",
			"%s %s: %s", method, path, msg).
			WithHint("remote service error; retry with backoff")
	default:
		return fault.New(fault.RemotePermission, "rejected",
			"%s %s: %s", method, path, msg)
	}
}

func isRateLimited(resp *http.Response, msg string) bool {
	if resp.StatusCode != http.StatusForbidden {
		return false
	}
	if resp.Header.Get("X-RateLimit-Remaining") == "0" {
		return true
	}
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "rate limit") || strings.Contains(lower, "secondary rate")
}

func mentionsStaleSHA(msg string) bool {
	lower := strings.ToLower(msg)
	if !strings.Contains(lower, "sha") {
		return false
	}
	// "does not match", "expected <sha>", and `"sha" wasn't supplied`
	// (file appeared between our read and write) are all revision races.
	return strings.Contains(lower, "match") ||
		strings.Contains(lower, "expected") ||
		strings.Contains(lower, "supplied")
}

func isClientTimeout(err error) bool {
	var uerr interface{ Timeout() bool }
	return errors.As(err, &uerr) && uerr.Timeout()
}

// escapePath escapes each path segment while keeping separators.
func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// decorate attaches repo/ref/path context to a fault as it climbs out of
// the client.
func decorate(err error, fullName, ref, path string) error {
	f, ok := fault.From(err)
	if !ok {
		return err
	}
	f = f.WithRepoRef(fullName, ref)
	if path != "" {
		f = f.WithContext("path", path)
	}
	return f
}
