// Package remote talks to the hosted-repository API. The rest of the
// system consumes the narrow Client interface; the GitHub implementation
// lives behind it so orchestration code can be tested with spies.
package remote

import "context"

// File is a snapshot of one file as read from the remote at a ref. The
// Revision is the content revision id the host uses for optimistic
// concurrency; it must never be cached across a mutation.
type File struct {
	Path     string `json:"path"`
	Ref      string `json:"ref"`
	Content  string `json:"content"`
	Revision string `json:"revision"`
}

// PutFileRequest describes one file commit. PriorRevision carries the
// revision the caller read; empty means the file is being created.
type PutFileRequest struct {
	FullName      string
	Path          string
	Branch        string
	Message       string
	Content       string
	PriorRevision string
}

// FileWrite reports a successful commit.
type FileWrite struct {
	Revision  string `json:"revision"`
	CommitSHA string `json:"commit_sha"`
}

// PullRequestInput describes a pull request to open.
type PullRequestInput struct {
	FullName string
	Head     string
	Base     string
	Title    string
	Body     string
	Draft    bool
}

// PullRequest reports an opened pull request.
type PullRequest struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
}

// Client is the remote VCS host surface the core depends on. Errors are
// faults with the remote_* categories so callers can distinguish retry
// from abort.
type Client interface {
	GetFile(ctx context.Context, fullName, path, ref string) (*File, error)
	PutFile(ctx context.Context, req PutFileRequest) (*FileWrite, error)
	CreateBranch(ctx context.Context, fullName, name, fromRef string) error
	DeleteBranch(ctx context.Context, fullName, name string) error
	OpenPullRequest(ctx context.Context, req PullRequestInput) (*PullRequest, error)

	// Fetch and Write are raw passthroughs for API surface the typed
	// methods do not cover. path is relative to the API root.
	Fetch(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, method, path string, body any) ([]byte, error)
}
