package deploy

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"

	siteuri "github.com/always-cache/static-cache/pkg/site-uri"
)

// fakeWorkingCopy records every operation as a short command line.
type fakeWorkingCopy struct {
	mu      sync.Mutex
	calls   []string
	remotes map[string]Remote
	changes bool
	fail    map[string]error
}

func newFakeWorkingCopy(pushURL string) *fakeWorkingCopy {
	return &fakeWorkingCopy{
		remotes: map[string]Remote{"origin": {Name: "origin", Fetch: pushURL, Push: pushURL}},
		changes: true,
		fail:    map[string]error{},
	}
}

func (f *fakeWorkingCopy) record(op string, args ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, strings.TrimSpace(op+" "+strings.Join(args, " ")))
	return f.fail[op]
}

func (f *fakeWorkingCopy) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ops := make([]string, len(f.calls))
	for i, call := range f.calls {
		ops[i], _, _ = strings.Cut(call, " ")
	}
	return ops
}

func (f *fakeWorkingCopy) Checkout(ctx context.Context, branch string) error {
	return f.record("checkout", branch)
}

func (f *fakeWorkingCopy) Add(ctx context.Context, pattern string) error {
	return f.record("add", pattern)
}

func (f *fakeWorkingCopy) HasChanges(ctx context.Context) (bool, error) {
	return f.changes, f.record("status")
}

func (f *fakeWorkingCopy) Commit(ctx context.Context, message string) error {
	return f.record("commit", message)
}

func (f *fakeWorkingCopy) Config(ctx context.Context, key, value string) error {
	return f.record("config", key, value)
}

func (f *fakeWorkingCopy) GetRemote(ctx context.Context, name string) (Remote, error) {
	if err := f.record("get-remote", name); err != nil {
		return Remote{}, err
	}
	r, ok := f.remotes[name]
	if !ok {
		return Remote{}, fmt.Errorf("no such remote '%s'", name)
	}
	return r, nil
}

func (f *fakeWorkingCopy) SetRemoteURL(ctx context.Context, name, url string) error {
	if err := f.record("set-url", name, url); err != nil {
		return err
	}
	f.remotes[name] = Remote{Name: name, Fetch: url, Push: url}
	return nil
}

func (f *fakeWorkingCopy) Fetch(ctx context.Context, remote string) error {
	return f.record("fetch", remote)
}

func (f *fakeWorkingCopy) Push(ctx context.Context, remote string) error {
	return f.record("push", remote)
}

type fakeOpener map[string]*fakeWorkingCopy

func (o fakeOpener) Open(ctx context.Context, path string) (WorkingCopy, error) {
	wc, ok := o[path]
	if !ok {
		return nil, fmt.Errorf("%s is not a git repository", path)
	}
	return wc, nil
}

type fakeStore map[siteuri.SiteURI][]byte

func (s fakeStore) Read(siteURI siteuri.SiteURI) ([]byte, bool, error) {
	b, ok := s[siteURI]
	return b, ok, nil
}

// readOnlyFS rejects every write.
type readOnlyFS struct {
	billy.Filesystem
}

func (readOnlyFS) Create(string) (billy.File, error) {
	return nil, os.ErrPermission
}

func (readOnlyFS) OpenFile(string, int, os.FileMode) (billy.File, error) {
	return nil, os.ErrPermission
}

func (readOnlyFS) TempFile(string, string) (billy.File, error) {
	return nil, os.ErrPermission
}

// countingFS counts files opened for writing.
type countingFS struct {
	billy.Filesystem
	writes map[string]int
}

func (c *countingFS) OpenFile(name string, flag int, perm os.FileMode) (billy.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		c.writes[name]++
	}
	return c.Filesystem.OpenFile(name, flag, perm)
}
