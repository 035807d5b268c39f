package discount

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(store RuleStore, cache *RuleCache, categories CategorySource, attributions AttributionWriter) *Engine {
	e := NewEngine(store, cache, categories, attributions)
	e.now = func() time.Time { return testNow }
	return e
}

func singleLine(amount string) []Line {
	return []Line{{VariantID: "v1", CategoryID: "misc", Quantity: 1, Amount: dec(amount)}}
}

func TestEngine_Scenarios(t *testing.T) {
	loyaltyRule := orderRule("loyal-10", KindPercentage, "10", true)
	loyaltyRule.RequiresLoyalty = true

	electronicsRule := Rule{
		ID:         "electronics-15",
		Name:       "Electronics 15%",
		Active:     true,
		StartDate:  testNow.Add(-time.Hour),
		Scope:      ScopeCategory,
		Kind:       KindPercentage,
		Value:      dec("15"),
		CategoryID: strPtr("electronics"),
	}
	mixedLines := []Line{
		{VariantID: "tv", CategoryID: "tvs", Quantity: 1, Amount: dec("1000")},
		{VariantID: "tee", CategoryID: "clothing", Quantity: 1, Amount: dec("50")},
	}

	tests := []struct {
		name  string
		rules []Rule
		user  User
		lines []Line
		want  string
	}{
		{
			name:  "A: one stackable percentage",
			rules: []Rule{orderRule("a", KindPercentage, "10", true)},
			lines: singleLine("1000"),
			want:  "100",
		},
		{
			name: "B: best non-stackable wins",
			rules: []Rule{
				orderRule("pct-5", KindPercentage, "5", false),
				orderRule("flat-100", KindFixed, "100", false),
			},
			lines: singleLine("1000"),
			want:  "100",
		},
		{
			name: "C: stackable plus best non-stackable",
			rules: []Rule{
				orderRule("stack-5", KindPercentage, "5", true),
				orderRule("flat-80", KindFixed, "80", false),
				orderRule("flat-20", KindFixed, "20", false),
			},
			lines: singleLine("1000"),
			want:  "130",
		},
		{
			name:  "D: capped at subtotal",
			rules: []Rule{orderRule("flat-500", KindFixed, "500", true)},
			lines: singleLine("50"),
			want:  "50",
		},
		{
			name:  "E: category rule only discounts its subtree",
			rules: []Rule{electronicsRule},
			lines: mixedLines,
			want:  "150",
		},
		{
			name:  "F: loyalty rule skipped for regular user",
			rules: []Rule{loyaltyRule},
			user:  User{ID: "u1"},
			lines: singleLine("1000"),
			want:  "0",
		},
		{
			name:  "F: loyalty rule applied for member",
			rules: []Rule{loyaltyRule},
			user:  User{ID: "u2", LoyaltyMember: true},
			lines: singleLine("1000"),
			want:  "100",
		},
		{
			name:  "no rules",
			lines: singleLine("1000"),
			want:  "0",
		},
	}

	tree := staticTree{"electronics": {"tvs", "phones"}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockRuleStore{rules: tt.rules}
			attributions := newMockAttributions()
			e := newTestEngine(store, nil, treeSource(tree), attributions)
			subtotal := SubtotalOf(tt.lines)

			preview, err := e.Preview(context.Background(), tt.user, tt.lines, subtotal)
			require.NoError(t, err)
			assertDecimal(t, tt.want, preview.Total, "preview")

			total, err := e.Commit(context.Background(), Order{ID: "o1", User: tt.user, Lines: tt.lines, Subtotal: subtotal})
			require.NoError(t, err)
			assertDecimal(t, tt.want, total, "commit")

			sum := decimal.Zero
			for _, row := range attributions.forOrder("o1") {
				sum = sum.Add(row.Amount)
			}
			if !total.IsZero() && !preview.Capped {
				assertDecimal(t, tt.want, sum, "attribution sum")
			}
		})
	}
}

func TestEngine_Preview_Reasons(t *testing.T) {
	minAmount := orderRule("min-big", KindFixed, "10", true)
	minAmount.Conditions.MinOrderAmount = decPtr("5000")
	broken := Rule{ID: "broken", Active: true, StartDate: testNow.Add(-time.Hour), Scope: ScopeCategory, Kind: KindFixed, Value: dec("10")}

	store := &mockRuleStore{rules: []Rule{
		orderRule("n-big", KindFixed, "80", false),
		orderRule("n-small", KindFixed, "20", false),
		orderRule("s", KindPercentage, "5", true),
		minAmount,
		broken,
	}}
	e := newTestEngine(store, nil, nil, newMockAttributions())

	preview, err := e.Preview(context.Background(), User{}, singleLine("1000"), dec("1000"))
	require.NoError(t, err)

	byID := map[string]PreviewRule{}
	for _, r := range preview.Rules {
		byID[r.RuleID] = r
	}
	require.Len(t, byID, 5)

	assert.True(t, byID["s"].Applied)
	assert.Equal(t, ReasonAppliedStackable, byID["s"].Reason)
	assert.True(t, byID["n-big"].Applied)
	assert.Equal(t, ReasonAppliedBest, byID["n-big"].Reason)
	assert.False(t, byID["n-small"].Applied)
	assert.Equal(t, ReasonOutbidNonStacking, byID["n-small"].Reason)
	assert.False(t, byID["min-big"].Applied)
	assert.Contains(t, byID["min-big"].Reason, ReasonBelowMinAmount)
	assert.False(t, byID["broken"].Applied)
	assert.Contains(t, byID["broken"].Reason, ReasonMissingCategory)

	assertDecimal(t, "130", preview.Total)
	assert.Equal(t, 1, preview.StackableCount)
	assert.Equal(t, 2, preview.NonStackableCount)
	require.NotNil(t, preview.BestNonStackable)
	assert.Equal(t, "n-big", preview.BestNonStackable.RuleID)
	assert.Len(t, preview.Applied(), 2)
}

func TestEngine_Preview_DoesNotPersist(t *testing.T) {
	attributions := newMockAttributions()
	store := &mockRuleStore{rules: []Rule{orderRule("a", KindPercentage, "10", true)}}
	e := newTestEngine(store, nil, nil, attributions)

	_, err := e.Preview(context.Background(), User{}, singleLine("100"), dec("100"))
	require.NoError(t, err)
	assert.Zero(t, attributions.upserts)
	assert.Empty(t, attributions.rows)
}

func TestEngine_Commit_Idempotent(t *testing.T) {
	store := &mockRuleStore{rules: []Rule{
		orderRule("s1", KindPercentage, "5", true),
		orderRule("s2", KindFixed, "7.5", true),
		orderRule("n1", KindFixed, "80", false),
		orderRule("n2", KindFixed, "20", false),
	}}
	attributions := newMockAttributions()
	e := newTestEngine(store, nil, nil, attributions)
	order := Order{ID: "o1", Lines: singleLine("1000"), Subtotal: dec("1000")}

	first, err := e.Commit(context.Background(), order)
	require.NoError(t, err)
	rows := attributions.forOrder("o1")

	second, err := e.Commit(context.Background(), order)
	require.NoError(t, err)

	assert.True(t, first.Equal(second))
	again := attributions.forOrder("o1")
	require.Len(t, again, len(rows))
	for id, row := range rows {
		assert.True(t, row.Amount.Equal(again[id].Amount), "rule %s", id)
	}
	require.Len(t, rows, 3)
	assert.NotContains(t, rows, "n2")

	n1 := rows["n1"]
	assert.Equal(t, ScopeOrder, n1.Scope)
	assert.Equal(t, "n1", n1.Metadata.RuleName)
	assert.Equal(t, KindFixed, n1.Metadata.Kind)
	assert.False(t, n1.Metadata.Stackable)
	assertDecimal(t, "80", n1.Amount)
}

func TestEngine_Commit_PrunesStaleRows(t *testing.T) {
	store := &mockRuleStore{rules: []Rule{
		orderRule("a", KindFixed, "10", true),
		orderRule("b", KindFixed, "5", true),
	}}
	attributions := newMockAttributions()
	e := newTestEngine(store, nil, nil, attributions)
	order := Order{ID: "o1", Lines: singleLine("100"), Subtotal: dec("100")}

	_, err := e.Commit(context.Background(), order)
	require.NoError(t, err)
	require.Len(t, attributions.forOrder("o1"), 2)

	store.rules[1].Active = false
	total, err := e.Commit(context.Background(), order)
	require.NoError(t, err)
	assertDecimal(t, "10", total)
	rows := attributions.forOrder("o1")
	require.Len(t, rows, 1)
	assert.Contains(t, rows, "a")
}

func TestEngine_Commit_RoundsAttribution(t *testing.T) {
	store := &mockRuleStore{rules: []Rule{orderRule("third", KindPercentage, "33.333", true)}}
	attributions := newMockAttributions()
	e := newTestEngine(store, nil, nil, attributions)

	total, err := e.Commit(context.Background(), Order{ID: "o1", Lines: singleLine("10"), Subtotal: dec("10")})
	require.NoError(t, err)
	assert.Equal(t, "3.33", total.String())
	assert.Equal(t, "3.33", attributions.forOrder("o1")["third"].Amount.String())
}

func TestEngine_Commit_Errors(t *testing.T) {
	storeErr := errors.New("db down")

	t.Run("store failure", func(t *testing.T) {
		e := newTestEngine(&mockRuleStore{fetchErr: storeErr}, nil, nil, newMockAttributions())
		_, err := e.Commit(context.Background(), Order{ID: "o1", Lines: singleLine("10"), Subtotal: dec("10")})
		require.ErrorIs(t, err, storeErr)
	})

	t.Run("upsert failure", func(t *testing.T) {
		attributions := newMockAttributions()
		attributions.upsertErr = storeErr
		store := &mockRuleStore{rules: []Rule{orderRule("a", KindFixed, "1", true)}}
		e := newTestEngine(store, nil, nil, attributions)
		_, err := e.Commit(context.Background(), Order{ID: "o1", Lines: singleLine("10"), Subtotal: dec("10")})
		require.ErrorIs(t, err, storeErr)
	})

	t.Run("prune failure", func(t *testing.T) {
		attributions := newMockAttributions()
		attributions.deleteErr = storeErr
		e := newTestEngine(&mockRuleStore{}, nil, nil, attributions)
		_, err := e.Commit(context.Background(), Order{ID: "o1", Lines: singleLine("10"), Subtotal: dec("10")})
		require.ErrorIs(t, err, storeErr)
	})

	t.Run("category tree failure", func(t *testing.T) {
		rule := Rule{ID: "c", Active: true, StartDate: testNow.Add(-time.Hour), Scope: ScopeCategory, Kind: KindFixed, Value: dec("1"), CategoryID: strPtr("x")}
		source := CategorySourceFunc(func(context.Context) (CategoryTree, error) { return nil, storeErr })
		e := newTestEngine(&mockRuleStore{rules: []Rule{rule}}, nil, source, newMockAttributions())
		_, err := e.Preview(context.Background(), User{}, singleLine("10"), dec("10"))
		require.ErrorIs(t, err, storeErr)
	})
}

func TestEngine_InvalidateCache(t *testing.T) {
	backend := newMockCacheBackend()
	backend.data[ActiveRulesKey] = []string{"a"}
	backend.data[LoyaltyRulesKey] = []string{}
	e := newTestEngine(&mockRuleStore{}, NewRuleCache(backend), nil, newMockAttributions())

	require.NoError(t, e.InvalidateCache(context.Background()))
	assert.Empty(t, backend.data)

	// No cache configured.
	e = newTestEngine(&mockRuleStore{}, nil, nil, newMockAttributions())
	require.NoError(t, e.InvalidateCache(context.Background()))
}
