// Package gitnative implements deploy working copies with go-git,
// without requiring a git binary on the host.
package gitnative

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/jmgilman/go/errors"

	"github.com/always-cache/static-cache/deploy"
)

// Opener opens working copies with go-git.
type Opener struct{}

func NewOpener() *Opener {
	return &Opener{}
}

func (o *Opener) Open(ctx context.Context, path string) (deploy.WorkingCopy, error) {
	repo, err := gogit.PlainOpen(path)
	if err != nil {
		return nil, wrapError(err, "open "+path)
	}
	return &WorkingCopy{repo: repo}, nil
}

// WorkingCopy is a git working copy opened with go-git.
type WorkingCopy struct {
	repo *gogit.Repository
	now  func() time.Time
}

// Checkout switches to branch, keeping local changes.
// Nothing is done if branch is already checked out.
func (w *WorkingCopy) Checkout(ctx context.Context, branch string) error {
	name := plumbing.NewBranchReferenceName(branch)
	if head, err := w.repo.Head(); err == nil && head.Name() == name {
		return nil
	}
	wt, err := w.repo.Worktree()
	if err != nil {
		return wrapError(err, "get worktree")
	}
	if err := wt.Checkout(&gogit.CheckoutOptions{Branch: name, Keep: true}); err != nil {
		return wrapError(err, "checkout "+branch)
	}
	return nil
}

func (w *WorkingCopy) Add(ctx context.Context, pattern string) error {
	wt, err := w.repo.Worktree()
	if err != nil {
		return wrapError(err, "get worktree")
	}
	opts := &gogit.AddOptions{Glob: pattern}
	if pattern == "*" || pattern == "." {
		opts = &gogit.AddOptions{All: true}
	}
	if err := wt.AddWithOptions(opts); err != nil {
		return wrapError(err, "add "+pattern)
	}
	return nil
}

func (w *WorkingCopy) HasChanges(ctx context.Context) (bool, error) {
	wt, err := w.repo.Worktree()
	if err != nil {
		return false, wrapError(err, "get worktree")
	}
	status, err := wt.Status()
	if err != nil {
		return false, wrapError(err, "status")
	}
	return !status.IsClean(), nil
}

// Commit commits the index using the user.name and user.email of the repository config.
func (w *WorkingCopy) Commit(ctx context.Context, message string) error {
	cfg, err := w.repo.Config()
	if err != nil {
		return wrapError(err, "read config")
	}
	if cfg.User.Name == "" || cfg.User.Email == "" {
		return errors.New(errors.CodeInvalidInput, "commit: user.name and user.email must be configured")
	}
	wt, err := w.repo.Worktree()
	if err != nil {
		return wrapError(err, "get worktree")
	}
	now := time.Now
	if w.now != nil {
		now = w.now
	}
	_, err = wt.Commit(message, &gogit.CommitOptions{
		Author: &object.Signature{
			Name:  cfg.User.Name,
			Email: cfg.User.Email,
			When:  now(),
		},
	})
	return wrapError(err, "commit")
}

// Config sets a key in the repository config.
// Keys have the form section.option or section.subsection.option.
func (w *WorkingCopy) Config(ctx context.Context, key, value string) error {
	cfg, err := w.repo.Config()
	if err != nil {
		return wrapError(err, "read config")
	}
	switch key {
	case "user.name":
		cfg.User.Name = value
	case "user.email":
		cfg.User.Email = value
	default:
		parts := strings.Split(key, ".")
		switch len(parts) {
		case 2:
			cfg.Raw.Section(parts[0]).SetOption(parts[1], value)
		case 3:
			cfg.Raw.Section(parts[0]).Subsection(parts[1]).SetOption(parts[2], value)
		default:
			return errors.WithContext(
				errors.Newf(errors.CodeInvalidInput, "invalid config key %q", key),
				"key", key)
		}
	}
	return wrapError(w.repo.SetConfig(cfg), "write config")
}

func (w *WorkingCopy) GetRemote(ctx context.Context, name string) (deploy.Remote, error) {
	remote, err := w.repo.Remote(name)
	if err != nil {
		return deploy.Remote{}, wrapError(err, "get remote "+name)
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return deploy.Remote{}, errors.Newf(errors.CodeNotFound, "remote %s has no url", name)
	}
	return deploy.Remote{Name: name, Fetch: urls[0], Push: urls[0]}, nil
}

func (w *WorkingCopy) SetRemoteURL(ctx context.Context, name, url string) error {
	cfg, err := w.repo.Config()
	if err != nil {
		return wrapError(err, "read config")
	}
	remote, ok := cfg.Remotes[name]
	if !ok {
		return wrapError(gogit.ErrRemoteNotFound, "set url of remote "+name)
	}
	remote.URLs = []string{url}
	return wrapError(w.repo.SetConfig(cfg), "write config")
}

func (w *WorkingCopy) Fetch(ctx context.Context, remote string) error {
	auth, err := w.auth(remote)
	if err != nil {
		return err
	}
	err = w.repo.FetchContext(ctx, &gogit.FetchOptions{RemoteName: remote, Auth: auth})
	if err != nil && !stderrors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return wrapError(err, "fetch from "+remote)
	}
	return nil
}

// Push pushes the checked out branch to the branch of the same name on remote.
func (w *WorkingCopy) Push(ctx context.Context, remote string) error {
	auth, err := w.auth(remote)
	if err != nil {
		return err
	}
	head, err := w.repo.Head()
	if err != nil {
		return wrapError(err, "resolve HEAD")
	}
	refSpec := config.RefSpec(fmt.Sprintf("%s:%s", head.Name(), head.Name()))
	err = w.repo.PushContext(ctx, &gogit.PushOptions{
		RemoteName: remote,
		RefSpecs:   []config.RefSpec{refSpec},
		Auth:       auth,
	})
	if err != nil && !stderrors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return wrapError(err, "push to "+remote)
	}
	return nil
}

// auth returns basic auth taken from the user info of an http(s) remote URL.
func (w *WorkingCopy) auth(name string) (transport.AuthMethod, error) {
	remote, err := w.GetRemote(context.Background(), name)
	if err != nil {
		return nil, err
	}
	return basicAuth(remote.Push), nil
}

func basicAuth(remoteURL string) transport.AuthMethod {
	u, err := url.Parse(remoteURL)
	if err != nil || u.User == nil {
		return nil
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil
	}
	password, _ := u.User.Password()
	return &http.BasicAuth{Username: u.User.Username(), Password: password}
}
