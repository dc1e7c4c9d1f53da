// Package gitcli implements deploy working copies by running the git binary.
package gitcli

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/exec"

	"github.com/always-cache/static-cache/deploy"
)

// DefaultCommand returns the executor used when none is given.
// It inherits the process environment and never prompts for credentials.
func DefaultCommand() *exec.Command {
	return exec.New(
		exec.WithInheritEnv(),
		exec.WithDisableColors(),
		exec.WithEnv(map[string]string{"GIT_TERMINAL_PROMPT": "0"}),
	)
}

// Opener opens working copies with the git command line client.
type Opener struct {
	command exec.Executor
}

// NewOpener returns an Opener running git through command.
// DefaultCommand is used if command is nil.
func NewOpener(command exec.Executor) *Opener {
	if command == nil {
		command = DefaultCommand()
	}
	return &Opener{command: command}
}

// Open checks that path is inside a git working tree.
func (o *Opener) Open(ctx context.Context, path string) (deploy.WorkingCopy, error) {
	wc := &WorkingCopy{command: o.command, path: path}
	result, err := wc.run(ctx, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(result) != "true" {
		return nil, errors.WithContext(
			errors.Newf(errors.CodeNotFound, "%s is not a git working tree", path),
			"path", path)
	}
	return wc, nil
}

// WorkingCopy runs git commands inside a local working copy.
type WorkingCopy struct {
	command exec.Executor
	path    string
}

func (w *WorkingCopy) Checkout(ctx context.Context, branch string) error {
	_, err := w.run(ctx, "checkout", branch)
	return err
}

func (w *WorkingCopy) Add(ctx context.Context, pattern string) error {
	_, err := w.run(ctx, "add", "--all", "--", pattern)
	return err
}

func (w *WorkingCopy) HasChanges(ctx context.Context) (bool, error) {
	out, err := w.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

func (w *WorkingCopy) Commit(ctx context.Context, message string) error {
	_, err := w.run(ctx, "commit", "--message", message)
	return err
}

func (w *WorkingCopy) Config(ctx context.Context, key, value string) error {
	_, err := w.run(ctx, "config", key, value)
	return err
}

func (w *WorkingCopy) GetRemote(ctx context.Context, name string) (deploy.Remote, error) {
	fetch, err := w.run(ctx, "remote", "get-url", name)
	if err != nil {
		return deploy.Remote{}, err
	}
	push, err := w.run(ctx, "remote", "get-url", "--push", name)
	if err != nil {
		return deploy.Remote{}, err
	}
	return deploy.Remote{
		Name:  name,
		Fetch: strings.TrimSpace(fetch),
		Push:  strings.TrimSpace(push),
	}, nil
}

func (w *WorkingCopy) SetRemoteURL(ctx context.Context, name, url string) error {
	_, err := w.run(ctx, "remote", "set-url", name, url)
	return err
}

func (w *WorkingCopy) Fetch(ctx context.Context, remote string) error {
	_, err := w.run(ctx, "fetch", remote)
	return err
}

func (w *WorkingCopy) Push(ctx context.Context, remote string) error {
	_, err := w.run(ctx, "push", remote)
	return err
}

func (w *WorkingCopy) run(ctx context.Context, args ...string) (string, error) {
	git := exec.NewWrapper(w.command.Clone(), "git")
	result, err := git.WithDir(w.path).WithContext(ctx).Run(args...)
	if err != nil {
		return "", mapExecError(err, "git "+args[0])
	}
	return result.Stdout, nil
}

// mapExecError classifies a failed git invocation by its stderr.
func mapExecError(err error, op string) error {
	execErr, ok := err.(*exec.ExecError)
	if !ok {
		return errors.Wrap(err, errors.CodeExecutionFailed, op)
	}

	stderr := strings.TrimSpace(execErr.Stderr)
	code := errors.CodeExecutionFailed
	switch {
	case strings.Contains(stderr, "not a git repository"),
		strings.Contains(stderr, "No such remote"),
		strings.Contains(stderr, "did not match any"),
		strings.Contains(stderr, "Repository not found"):
		code = errors.CodeNotFound
	case strings.Contains(stderr, "Authentication failed"),
		strings.Contains(stderr, "could not read Username"),
		strings.Contains(stderr, "Permission denied"),
		strings.Contains(stderr, "403"):
		code = errors.CodeUnauthorized
	case strings.Contains(stderr, "rejected"),
		strings.Contains(stderr, "non-fast-forward"):
		code = errors.CodeConflict
	}

	message := op
	if stderr != "" {
		message = fmt.Sprintf("%s: %s", op, firstLine(stderr))
	}
	return errors.WithContext(errors.Wrap(err, code, message), "exitCode", execErr.ExitCode)
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
