package deploy

import "context"

// Remote holds the URLs configured for a git remote.
type Remote struct {
	Name  string
	Fetch string
	Push  string
}

// WorkingCopy is the subset of git operations the deployer needs.
type WorkingCopy interface {
	Checkout(ctx context.Context, branch string) error
	Add(ctx context.Context, pattern string) error
	// HasChanges reports whether anything is staged or modified.
	HasChanges(ctx context.Context) (bool, error)
	Commit(ctx context.Context, message string) error
	Config(ctx context.Context, key, value string) error
	GetRemote(ctx context.Context, name string) (Remote, error)
	SetRemoteURL(ctx context.Context, name, url string) error
	Fetch(ctx context.Context, remote string) error
	Push(ctx context.Context, remote string) error
}

// Opener opens the working copy at a local path.
type Opener interface {
	Open(ctx context.Context, path string) (WorkingCopy, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, path string) (WorkingCopy, error)

func (f OpenerFunc) Open(ctx context.Context, path string) (WorkingCopy, error) {
	return f(ctx, path)
}
