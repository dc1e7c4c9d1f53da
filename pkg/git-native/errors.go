package gitnative

import (
	stderrors "errors"
	"fmt"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/jmgilman/go/errors"
)

func wrapError(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, classifyError(err))
}

// classifyError maps go-git errors to platform error codes.
// Unknown errors are returned unchanged.
func classifyError(err error) error {
	switch {
	case stderrors.Is(err, gogit.ErrRepositoryNotExists):
		return errors.Wrap(err, errors.CodeNotFound, "repository does not exist")
	case stderrors.Is(err, transport.ErrRepositoryNotFound):
		return errors.Wrap(err, errors.CodeNotFound, "repository not found")
	case stderrors.Is(err, plumbing.ErrReferenceNotFound):
		return errors.Wrap(err, errors.CodeNotFound, "reference not found")
	case stderrors.Is(err, gogit.ErrRemoteNotFound):
		return errors.Wrap(err, errors.CodeNotFound, "remote not found")
	case stderrors.Is(err, transport.ErrAuthenticationRequired):
		return errors.Wrap(err, errors.CodeUnauthorized, "authentication required")
	case stderrors.Is(err, transport.ErrAuthorizationFailed):
		return errors.Wrap(err, errors.CodeUnauthorized, "authorization failed")
	case stderrors.Is(err, gogit.ErrUnstagedChanges),
		stderrors.Is(err, gogit.ErrWorktreeNotClean):
		return errors.Wrap(err, errors.CodeConflict, "worktree is not clean")
	case stderrors.Is(err, gogit.ErrNonFastForwardUpdate):
		return errors.Wrap(err, errors.CodeConflict, "non-fast-forward update")
	case stderrors.Is(err, gogit.ErrEmptyCommit):
		return errors.Wrap(err, errors.CodeConflict, "nothing to commit")
	}
	return err
}
