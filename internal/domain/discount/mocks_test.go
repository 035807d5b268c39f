package discount

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func intPtr(n int) *int { return &n }

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Equal(t, dec(want).StringFixed(2), got.StringFixed(2), msgAndArgs...)
}

// orderRule builds an active order-scope rule that started yesterday.
func orderRule(id string, kind Kind, value string, stackable bool) Rule {
	return Rule{
		ID:        id,
		Name:      id,
		Active:    true,
		StartDate: testNow.Add(-24 * time.Hour),
		Scope:     ScopeOrder,
		Kind:      kind,
		Value:     dec(value),
		Stackable: stackable,
	}
}

type mockRuleStore struct {
	mu        sync.Mutex
	rules     []Rule
	fetchErr  error
	byIDsErr  error
	fetches   int
	byIDCalls int
	lastIDs   []string
}

func (m *mockRuleStore) FetchRules(_ context.Context, filter RuleFilter) ([]Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	var out []Rule
	for _, r := range m.rules {
		if !currentlyValid(r, filter.ActiveOn) {
			continue
		}
		switch filter.Loyalty {
		case LoyaltyOnly:
			if !r.RequiresLoyalty {
				continue
			}
		case LoyaltyExcluded:
			if r.RequiresLoyalty {
				continue
			}
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *mockRuleStore) RulesByIDs(_ context.Context, ids []string) ([]Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byIDCalls++
	m.lastIDs = append([]string(nil), ids...)
	if m.byIDsErr != nil {
		return nil, m.byIDsErr
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var out []Rule
	for _, r := range m.rules {
		if _, ok := want[r.ID]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

type mockCacheBackend struct {
	mu      sync.Mutex
	data    map[string][]string
	getErr  error
	setErr  error
	delErr  error
	gets    int
	sets    int
	deletes int
}

func newMockCacheBackend() *mockCacheBackend {
	return &mockCacheBackend{data: map[string][]string{}}
}

func (m *mockCacheBackend) Get(_ context.Context, key string) ([]string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	ids, ok := m.data[key]
	return ids, ok, nil
}

func (m *mockCacheBackend) Set(_ context.Context, key string, ids []string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = append([]string{}, ids...)
	return nil
}

func (m *mockCacheBackend) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	if m.delErr != nil {
		return m.delErr
	}
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

type attributionKey struct {
	orderID string
	ruleID  string
}

type mockAttributions struct {
	rows      map[attributionKey]AppliedDiscount
	upserts   int
	upsertErr error
	deleteErr error
}

func newMockAttributions() *mockAttributions {
	return &mockAttributions{rows: map[attributionKey]AppliedDiscount{}}
}

func (m *mockAttributions) UpsertAppliedDiscount(_ context.Context, applied AppliedDiscount) error {
	m.upserts++
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.rows[attributionKey{applied.OrderID, applied.RuleID}] = applied
	return nil
}

func (m *mockAttributions) DeleteAppliedDiscountsExcept(_ context.Context, orderID string, keep []string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	kept := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		kept[id] = struct{}{}
	}
	for k := range m.rows {
		if k.orderID != orderID {
			continue
		}
		if _, ok := kept[k.ruleID]; !ok {
			delete(m.rows, k)
		}
	}
	return nil
}

func (m *mockAttributions) forOrder(orderID string) map[string]AppliedDiscount {
	out := map[string]AppliedDiscount{}
	for k, v := range m.rows {
		if k.orderID == orderID {
			out[k.ruleID] = v
		}
	}
	return out
}

// staticTree maps a category to its inclusive closure.
type staticTree map[string][]string

func (t staticTree) DescendantsOf(id string) map[string]struct{} {
	out := map[string]struct{}{id: {}}
	for _, d := range t[id] {
		out[d] = struct{}{}
	}
	return out
}

func treeSource(tree CategoryTree) CategorySource {
	return CategorySourceFunc(func(context.Context) (CategoryTree, error) {
		return tree, nil
	})
}

type mockInvalidator struct {
	calls int
	err   error
}

func (m *mockInvalidator) Invalidate(context.Context) error {
	m.calls++
	return m.err
}
