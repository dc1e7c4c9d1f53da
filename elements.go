package staticcache

import (
	"context"
	"sync"
)

type elementsKey struct{}

type elementSet struct {
	mu   sync.Mutex
	ids  []int64
	seen map[int64]bool
}

// withElements returns a context that collects the ids passed to AddElements.
func withElements(ctx context.Context) (context.Context, *elementSet) {
	set := &elementSet{seen: make(map[int64]bool)}
	return context.WithValue(ctx, elementsKey{}, set), set
}

// AddElements records that the content elements contributed to the page being rendered.
// Renderers call it with the request context. It is a no-op outside the middleware.
func AddElements(ctx context.Context, elementIDs ...int64) {
	set, ok := ctx.Value(elementsKey{}).(*elementSet)
	if !ok {
		return
	}
	set.mu.Lock()
	defer set.mu.Unlock()
	for _, id := range elementIDs {
		if !set.seen[id] {
			set.seen[id] = true
			set.ids = append(set.ids, id)
		}
	}
}

func (s *elementSet) list() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, len(s.ids))
	copy(ids, s.ids)
	return ids
}
