package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
)

// Tree is an immutable snapshot of the category hierarchy stored as an
// adjacency list. Descendant sets are computed lazily and memoized.
type Tree struct {
	children map[string][]string

	mu   sync.Mutex
	memo map[string]map[string]struct{}
}

// NewTree builds a Tree from a flat category list. Parent links pointing to
// unknown categories are kept; they simply never get visited from a root.
func NewTree(categories []Category) *Tree {
	t := &Tree{
		children: make(map[string][]string, len(categories)),
		memo:     make(map[string]map[string]struct{}),
	}
	for _, c := range categories {
		if c.ParentID == nil || *c.ParentID == c.ID {
			continue
		}
		t.children[*c.ParentID] = append(t.children[*c.ParentID], c.ID)
	}
	return t
}

// DescendantsOf returns the set containing id and every category below it.
// The traversal is iterative and tracks visited nodes, so cyclic parent links
// terminate. The returned set is shared between callers and must not be
// modified.
func (t *Tree) DescendantsOf(id string) map[string]struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	if set, ok := t.memo[id]; ok {
		return set
	}

	set := map[string]struct{}{id: {}}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range t.children[cur] {
			if _, seen := set[child]; seen {
				continue
			}
			set[child] = struct{}{}
			queue = append(queue, child)
		}
	}

	t.memo[id] = set
	return set
}

// Service hands out category tree snapshots, reloading them from the
// repository once the previous snapshot is older than ttl.
type Service struct {
	repo Repository
	ttl  time.Duration
	now  func() time.Time

	mu       sync.Mutex
	tree     *Tree
	loadedAt time.Time
}

// NewService creates a Service. A non-positive ttl reloads the tree on every call.
func NewService(repo Repository, ttl time.Duration) *Service {
	return &Service{repo: repo, ttl: ttl, now: time.Now}
}

// Tree returns the current category tree snapshot.
func (s *Service) Tree(ctx context.Context) (*Tree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.tree != nil && s.ttl > 0 && now.Sub(s.loadedAt) < s.ttl {
		return s.tree, nil
	}

	categories, err := s.repo.Categories(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load categories")
	}
	s.tree = NewTree(categories)
	s.loadedAt = now
	return s.tree, nil
}

// Variants returns the requested variants keyed by ID. Missing IDs are simply
// absent from the map.
func (s *Service) Variants(ctx context.Context, ids []string) (map[string]Variant, error) {
	found, err := s.repo.VariantsByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "load variants")
	}
	byID := make(map[string]Variant, len(found))
	for _, v := range found {
		byID[v.ID] = v
	}
	return byID, nil
}
