package discount

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Candidate is a rule that qualified for a view together with its computed,
// unrounded amount.
type Candidate struct {
	Rule       Rule
	Evaluation Evaluation
	Amount     decimal.Decimal
}

// Resolution is the outcome of combining candidates under the stacking policy.
type Resolution struct {
	// Total is the capped discount rounded to 2 decimal places.
	Total decimal.Decimal
	// Applied lists every contributing rule: all stackable candidates followed
	// by the non-stackable winner, if any.
	Applied []Candidate
	// Outbid lists non-stackable candidates that lost to the winner.
	Outbid []Candidate
	// Winner is the non-stackable candidate with the largest amount.
	Winner *Candidate

	StackableCount    int
	NonStackableCount int
	// Capped reports whether the subtotal cap reduced the total.
	Capped bool
}

// Resolve combines candidate amounts: every stackable candidate is summed and
// exactly one non-stackable candidate, the largest, is added on top. Ties
// between non-stackable candidates go to the lowest rule ID. The sum is capped
// at subtotal and rounded to 2 decimal places only at the end.
func Resolve(candidates []Candidate, subtotal decimal.Decimal) Resolution {
	var (
		stackable    []Candidate
		nonStackable []Candidate
	)
	for _, c := range candidates {
		if !c.Amount.IsPositive() {
			continue
		}
		if c.Rule.Stackable {
			stackable = append(stackable, c)
		} else {
			nonStackable = append(nonStackable, c)
		}
	}
	sortByRuleID(stackable)
	sortByRuleID(nonStackable)

	res := Resolution{
		StackableCount:    len(stackable),
		NonStackableCount: len(nonStackable),
		Applied:           make([]Candidate, 0, len(stackable)+1),
	}

	total := decimal.Zero
	for _, c := range stackable {
		total = total.Add(c.Amount)
		res.Applied = append(res.Applied, c)
	}

	if len(nonStackable) > 0 {
		best := 0
		for i := 1; i < len(nonStackable); i++ {
			if nonStackable[i].Amount.GreaterThan(nonStackable[best].Amount) {
				best = i
			}
		}
		winner := nonStackable[best]
		res.Winner = &winner
		total = total.Add(winner.Amount)
		res.Applied = append(res.Applied, winner)

		for i, c := range nonStackable {
			if i != best {
				res.Outbid = append(res.Outbid, c)
			}
		}
	}

	if subtotal.IsNegative() {
		subtotal = decimal.Zero
	}
	if total.GreaterThan(subtotal) {
		total = subtotal
		res.Capped = true
	}
	res.Total = total.Round(2)
	return res
}

// sortByRuleID orders candidates by rule ID so that iteration order, and with
// it the tie-break, does not depend on how the store returned the rules.
func sortByRuleID(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		return cs[i].Rule.ID < cs[j].Rule.ID
	})
}
