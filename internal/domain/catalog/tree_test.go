package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(s string) *string { return &s }

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

func TestTree_DescendantsOf(t *testing.T) {
	tree := NewTree([]Category{
		{ID: "electronics"},
		{ID: "phones", ParentID: ptr("electronics")},
		{ID: "android", ParentID: ptr("phones")},
		{ID: "laptops", ParentID: ptr("electronics")},
		{ID: "clothing"},
		{ID: "shirts", ParentID: ptr("clothing")},
	})

	tests := []struct {
		name string
		id   string
		want []string
	}{
		{name: "root includes whole subtree", id: "electronics", want: []string{"electronics", "phones", "android", "laptops"}},
		{name: "inner node", id: "phones", want: []string{"phones", "android"}},
		{name: "leaf is its own closure", id: "android", want: []string{"android"}},
		{name: "unknown id returns itself", id: "garden", want: []string{"garden"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ElementsMatch(t, tt.want, keys(tree.DescendantsOf(tt.id)))
		})
	}
}

func TestTree_DescendantsOf_Cycle(t *testing.T) {
	tree := NewTree([]Category{
		{ID: "a", ParentID: ptr("c")},
		{ID: "b", ParentID: ptr("a")},
		{ID: "c", ParentID: ptr("b")},
		{ID: "self", ParentID: ptr("self")},
	})

	assert.ElementsMatch(t, []string{"a", "b", "c"}, keys(tree.DescendantsOf("a")))
	assert.ElementsMatch(t, []string{"self"}, keys(tree.DescendantsOf("self")))
}

func TestTree_DescendantsOf_Memoized(t *testing.T) {
	tree := NewTree([]Category{{ID: "root"}, {ID: "leaf", ParentID: ptr("root")}})

	first := tree.DescendantsOf("root")
	second := tree.DescendantsOf("root")
	first["probe"] = struct{}{}
	_, ok := second["probe"]
	assert.True(t, ok, "expected the memoized set to be reused")
}

type mockCatalogRepo struct {
	categories []Category
	variants   []Variant
	calls      int
	err        error
}

func (m *mockCatalogRepo) Categories(_ context.Context) ([]Category, error) {
	m.calls++
	return m.categories, m.err
}

func (m *mockCatalogRepo) VariantsByIDs(_ context.Context, _ []string) ([]Variant, error) {
	return m.variants, m.err
}

func TestService_TreeReloadsAfterTTL(t *testing.T) {
	repo := &mockCatalogRepo{categories: []Category{{ID: "root"}}}
	svc := NewService(repo, time.Minute)
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	_, err := svc.Tree(context.Background())
	require.NoError(t, err)
	_, err = svc.Tree(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, repo.calls)

	now = now.Add(2 * time.Minute)
	_, err = svc.Tree(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, repo.calls)
}

func TestService_TreeError(t *testing.T) {
	svc := NewService(&mockCatalogRepo{err: errors.New("db down")}, time.Minute)

	_, err := svc.Tree(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load categories")
}

func TestService_Variants(t *testing.T) {
	repo := &mockCatalogRepo{variants: []Variant{{ID: "v1"}, {ID: "v2"}}}
	svc := NewService(repo, 0)

	got, err := svc.Variants(context.Background(), []string{"v1", "v2", "v3"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Contains(t, got, "v1")
	assert.NotContains(t, got, "v3")
}
