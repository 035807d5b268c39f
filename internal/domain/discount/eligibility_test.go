package discount

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ruleIDs(rules []Rule) []string {
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.ID)
	}
	return out
}

func TestPredicates(t *testing.T) {
	base := orderRule("r", KindFixed, "1", true)

	tests := []struct {
		name   string
		mutate func(r *Rule)
		user   User
		want   bool
	}{
		{name: "active in window", mutate: func(*Rule) {}, want: true},
		{name: "inactive", mutate: func(r *Rule) { r.Active = false }},
		{name: "starts in the future", mutate: func(r *Rule) { r.StartDate = testNow.Add(time.Second) }},
		{name: "starts now", mutate: func(r *Rule) { r.StartDate = testNow }, want: true},
		{name: "ended", mutate: func(r *Rule) { r.EndDate = timePtr(testNow.Add(-time.Second)) }},
		{name: "ends now", mutate: func(r *Rule) { r.EndDate = timePtr(testNow) }, want: true},
		{name: "loyalty rule for regular user", mutate: func(r *Rule) { r.RequiresLoyalty = true }},
		{name: "loyalty rule for member", mutate: func(r *Rule) { r.RequiresLoyalty = true }, user: User{LoyaltyMember: true}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := base
			tt.mutate(&r)
			assert.Equal(t, tt.want, currentlyValid(r, testNow) && loyaltyAllows(r, tt.user))
		})
	}
}

func eligibilityRules() []Rule {
	loyal := orderRule("c-loyal", KindPercentage, "10", true)
	loyal.RequiresLoyalty = true
	expired := orderRule("d-expired", KindFixed, "5", true)
	expired.EndDate = timePtr(testNow.Add(-time.Hour))
	inactive := orderRule("e-inactive", KindFixed, "5", true)
	inactive.Active = false
	return []Rule{
		orderRule("b-open", KindFixed, "5", false),
		loyal,
		orderRule("a-open", KindFixed, "5", true),
		expired,
		inactive,
	}
}

func TestResolver_EligibleRules(t *testing.T) {
	store := &mockRuleStore{rules: eligibilityRules()}
	r := NewResolver(store, nil, nil)

	regular, err := r.EligibleRules(context.Background(), User{ID: "u"}, dec("100"), testNow)
	require.NoError(t, err)
	assert.Equal(t, []string{"a-open", "b-open"}, ruleIDs(regular))

	member, err := r.EligibleRules(context.Background(), User{ID: "m", LoyaltyMember: true}, dec("100"), testNow)
	require.NoError(t, err)
	assert.Equal(t, []string{"a-open", "b-open", "c-loyal"}, ruleIDs(member))
}

func TestResolver_CacheMissPopulatesSlots(t *testing.T) {
	store := &mockRuleStore{rules: eligibilityRules()}
	backend := newMockCacheBackend()
	r := NewResolver(store, NewRuleCache(backend), nil)

	_, err := r.EligibleRules(context.Background(), User{}, dec("100"), testNow)
	require.NoError(t, err)

	assert.Equal(t, 1, store.fetches)
	assert.Equal(t, []string{"a-open", "b-open", "c-loyal"}, backend.data[ActiveRulesKey])
	assert.Equal(t, []string{"c-loyal"}, backend.data[LoyaltyRulesKey])
}

func TestResolver_CacheHit(t *testing.T) {
	store := &mockRuleStore{rules: eligibilityRules()}
	backend := newMockCacheBackend()
	r := NewResolver(store, NewRuleCache(backend), nil)
	ctx := context.Background()

	_, err := r.EligibleRules(ctx, User{}, dec("100"), testNow)
	require.NoError(t, err)
	require.Equal(t, 1, store.fetches)

	regular, err := r.EligibleRules(ctx, User{}, dec("100"), testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, store.fetches, "hit must not query the store")
	assert.Equal(t, []string{"a-open", "b-open"}, store.lastIDs, "loyalty rules are excluded before loading")
	assert.Equal(t, []string{"a-open", "b-open"}, ruleIDs(regular))

	member, err := r.EligibleRules(ctx, User{LoyaltyMember: true}, dec("100"), testNow)
	require.NoError(t, err)
	assert.Equal(t, []string{"a-open", "b-open", "c-loyal"}, ruleIDs(member))
}

func TestResolver_CachedSetRechecksWindow(t *testing.T) {
	rules := eligibilityRules()
	store := &mockRuleStore{rules: rules}
	backend := newMockCacheBackend()
	r := NewResolver(store, NewRuleCache(backend), nil)
	ctx := context.Background()

	_, err := r.EligibleRules(ctx, User{}, dec("100"), testNow)
	require.NoError(t, err)

	// a-open expires while its ID is still cached.
	store.rules[2].EndDate = timePtr(testNow.Add(time.Minute))
	later := testNow.Add(2 * time.Minute)

	got, err := r.EligibleRules(ctx, User{}, dec("100"), later)
	require.NoError(t, err)
	assert.Equal(t, []string{"b-open"}, ruleIDs(got))
}

func TestResolver_CacheFailureFallsBack(t *testing.T) {
	store := &mockRuleStore{rules: eligibilityRules()}
	backend := newMockCacheBackend()
	backend.getErr = errors.New("connection refused")
	backend.setErr = errors.New("connection refused")
	r := NewResolver(store, NewRuleCache(backend), nil)

	for i := 0; i < 2; i++ {
		got, err := r.EligibleRules(context.Background(), User{}, dec("100"), testNow)
		require.NoError(t, err)
		assert.Equal(t, []string{"a-open", "b-open"}, ruleIDs(got))
	}
	assert.Equal(t, 2, store.fetches)
}

func TestResolver_PartialSlotsMiss(t *testing.T) {
	store := &mockRuleStore{rules: eligibilityRules()}
	backend := newMockCacheBackend()
	backend.data[ActiveRulesKey] = []string{"a-open"}
	r := NewResolver(store, NewRuleCache(backend), nil)

	got, err := r.EligibleRules(context.Background(), User{}, dec("100"), testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, store.fetches)
	assert.Equal(t, []string{"a-open", "b-open"}, ruleIDs(got))
}

func TestResolver_StoreErrors(t *testing.T) {
	storeErr := errors.New("timeout")

	r := NewResolver(&mockRuleStore{fetchErr: storeErr}, nil, nil)
	_, err := r.EligibleRules(context.Background(), User{}, dec("1"), testNow)
	require.ErrorIs(t, err, storeErr)

	backend := newMockCacheBackend()
	backend.data[ActiveRulesKey] = []string{"a"}
	backend.data[LoyaltyRulesKey] = []string{}
	r = NewResolver(&mockRuleStore{byIDsErr: storeErr}, NewRuleCache(backend), nil)
	_, err = r.EligibleRules(context.Background(), User{}, dec("1"), testNow)
	require.ErrorIs(t, err, storeErr)
}

func TestDifference(t *testing.T) {
	assert.Equal(t, []string{"a", "c"}, difference([]string{"a", "b", "c"}, []string{"b", "x"}))
	assert.Equal(t, []string{"a"}, difference([]string{"a"}, nil))
	assert.Empty(t, difference([]string{"a"}, []string{"a"}))
}
