package drivers

import (
	"context"
	"sync"

	jobqueue "github.com/always-cache/static-cache/pkg/job-queue"
	siteuri "github.com/always-cache/static-cache/pkg/site-uri"
)

// Diagnostic is a single failure reported by a driver test.
type Diagnostic struct {
	SiteName string `json:"siteName"`
	Message  string `json:"message"`
}

// Purger removes pages from external caches such as a CDN.
type Purger interface {
	PurgeURIs(ctx context.Context, siteURIs []siteuri.SiteURI) error
	PurgeAll(ctx context.Context) error
	Test(ctx context.Context) (bool, []Diagnostic)
}

// Warmer regenerates pages after they have been invalidated.
type Warmer interface {
	WarmURIs(ctx context.Context, siteURIs []siteuri.SiteURI, progress jobqueue.ProgressFunc) error
	Test(ctx context.Context) (bool, []Diagnostic)
}

// Deployer publishes cached pages to an external target.
type Deployer interface {
	DeployURIs(ctx context.Context, siteURIs []siteuri.SiteURI, progress jobqueue.ProgressFunc) error
	Test(ctx context.Context) (bool, []Diagnostic)
}

type named[T any] struct {
	name   string
	driver T
}

// Registry holds the configured drivers in registration order.
type Registry struct {
	mu        sync.RWMutex
	purgers   []named[Purger]
	warmers   []named[Warmer]
	deployers []named[Deployer]
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) RegisterPurger(name string, p Purger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purgers = append(r.purgers, named[Purger]{name, p})
}

func (r *Registry) RegisterWarmer(name string, w Warmer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warmers = append(r.warmers, named[Warmer]{name, w})
}

func (r *Registry) RegisterDeployer(name string, d Deployer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deployers = append(r.deployers, named[Deployer]{name, d})
}

func (r *Registry) Purgers() []Purger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return drivers(r.purgers)
}

func (r *Registry) Warmers() []Warmer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return drivers(r.warmers)
}

func (r *Registry) Deployers() []Deployer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return drivers(r.deployers)
}

// Names returns the registered driver names grouped by kind.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string][]string{
		"purgers":   names(r.purgers),
		"warmers":   names(r.warmers),
		"deployers": names(r.deployers),
	}
}

// Test runs every driver's test. It passes only if all drivers pass.
func (r *Registry) Test(ctx context.Context) (bool, []Diagnostic) {
	type tester interface {
		Test(ctx context.Context) (bool, []Diagnostic)
	}
	r.mu.RLock()
	testers := make([]tester, 0, len(r.purgers)+len(r.warmers)+len(r.deployers))
	for _, p := range r.purgers {
		testers = append(testers, p.driver)
	}
	for _, w := range r.warmers {
		testers = append(testers, w.driver)
	}
	for _, d := range r.deployers {
		testers = append(testers, d.driver)
	}
	r.mu.RUnlock()

	ok := true
	diagnostics := make([]Diagnostic, 0)
	for _, t := range testers {
		passed, diags := t.Test(ctx)
		ok = ok && passed
		diagnostics = append(diagnostics, diags...)
	}
	return ok, diagnostics
}

func drivers[T any](list []named[T]) []T {
	out := make([]T, len(list))
	for i, n := range list {
		out[i] = n.driver
	}
	return out
}

func names[T any](list []named[T]) []string {
	out := make([]string, len(list))
	for i, n := range list {
		out[i] = n.name
	}
	return out
}

// DummyPurger does nothing. It is the default purger.
type DummyPurger struct{}

func (DummyPurger) PurgeURIs(context.Context, []siteuri.SiteURI) error { return nil }

func (DummyPurger) PurgeAll(context.Context) error { return nil }

func (DummyPurger) Test(context.Context) (bool, []Diagnostic) { return true, nil }
