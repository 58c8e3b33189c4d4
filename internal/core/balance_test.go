package core

import (
	"math/rand"
	"testing"
)

func TestCalculateBalancesSinglePayerFourWaySplit(t *testing.T) {
	members := []string{"Alice", "Bob", "Carol", "Dave"}
	expenses := []Expense{{
		Description:  "hotel",
		Amount:       Money{Cents: 100000},
		PaidBy:       "Alice",
		SplitBetween: []string{"Alice", "Bob", "Carol", "Dave"},
	}}

	balances := CalculateBalances(members, expenses)

	want := map[string]int64{"Alice": 75000, "Bob": -25000, "Carol": -25000, "Dave": -25000}
	if len(balances) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(balances))
	}
	for name, cents := range want {
		if got := balances[name].Cents; got != cents {
			t.Fatalf("%s expected %d cents, got %d", name, cents, got)
		}
	}
}

func TestCalculateBalancesMutualExpensesCancel(t *testing.T) {
	members := []string{"A", "B"}
	expenses := []Expense{
		{Amount: Money{Cents: 10000}, PaidBy: "A", SplitBetween: []string{"A", "B"}},
		{Amount: Money{Cents: 10000}, PaidBy: "B", SplitBetween: []string{"A", "B"}},
	}

	balances := CalculateBalances(members, expenses)
	if balances["A"].Cents != 0 || balances["B"].Cents != 0 {
		t.Fatalf("expected both settled, got A=%d B=%d", balances["A"].Cents, balances["B"].Cents)
	}
}

func TestCalculateBalancesThreeWayEvenSplit(t *testing.T) {
	members := []string{"A", "B", "C"}
	expenses := []Expense{{Amount: Money{Cents: 9000}, PaidBy: "A", SplitBetween: []string{"A", "B", "C"}}}

	balances := CalculateBalances(members, expenses)
	want := map[string]int64{"A": 6000, "B": -3000, "C": -3000}
	for name, cents := range want {
		if got := balances[name].Cents; got != cents {
			t.Fatalf("%s expected %d cents, got %d", name, cents, got)
		}
	}
}

func TestCalculateBalancesEmptyInputs(t *testing.T) {
	balances := CalculateBalances(nil, nil)
	if len(balances) != 0 {
		t.Fatalf("expected empty mapping, got %v", balances)
	}
}

func TestCalculateBalancesSkipsForeignNames(t *testing.T) {
	members := []string{"Alice", "Bob", "Carol", "Dave"}
	expenses := []Expense{
		// Payer left the trip; only current members in the split are debited.
		{Amount: Money{Cents: 8000}, PaidBy: "Eve", SplitBetween: []string{"Alice", "Bob", "Mallory"}},
	}

	balances := CalculateBalances(members, expenses)
	if _, ok := balances["Eve"]; ok {
		t.Fatalf("foreign payer must not gain an entry")
	}
	if _, ok := balances["Mallory"]; ok {
		t.Fatalf("foreign split name must not gain an entry")
	}
	// 8000/3 splits as 2667,2667,2666 in split order.
	if balances["Alice"].Cents != -2667 || balances["Bob"].Cents != -2667 {
		t.Fatalf("current members keep their shares, got Alice=%d Bob=%d",
			balances["Alice"].Cents, balances["Bob"].Cents)
	}
	if balances["Carol"].Cents != 0 || balances["Dave"].Cents != 0 {
		t.Fatalf("uninvolved members stay at zero")
	}
}

func TestCalculateBalancesEmptySplitIgnored(t *testing.T) {
	members := []string{"A", "B", "C", "D"}
	expenses := []Expense{{Amount: Money{Cents: 1000}, PaidBy: "A", SplitBetween: nil}}

	balances := CalculateBalances(members, expenses)
	for name, b := range balances {
		if b.Cents != 0 {
			t.Fatalf("%s should be untouched, got %d", name, b.Cents)
		}
	}
}

func TestSplitShares(t *testing.T) {
	cases := []struct {
		cents int64
		n     int
		want  []int64
	}{
		{100, 3, []int64{34, 33, 33}},
		{101, 3, []int64{34, 34, 33}},
		{102, 3, []int64{34, 34, 34}},
		{100, 4, []int64{25, 25, 25, 25}},
		{1, 2, []int64{1, 0}},
		{7, 1, []int64{7}},
	}
	for _, tc := range cases {
		got := splitShares(tc.cents, tc.n)
		var sum int64
		for i, share := range got {
			sum += share
			if share != tc.want[i] {
				t.Fatalf("%d/%d: expected %v, got %v", tc.cents, tc.n, tc.want, got)
			}
		}
		if sum != tc.cents {
			t.Fatalf("%d/%d: shares sum to %d", tc.cents, tc.n, sum)
		}
	}
}

func TestCalculateBalancesZeroSum(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	members := []string{"Alice", "Bob", "Carol", "Dave", "Erin", "Frank"}

	for round := 0; round < 200; round++ {
		expenses := make([]Expense, 1+rng.Intn(20))
		for i := range expenses {
			split := randomSubset(rng, members)
			expenses[i] = Expense{
				Amount:       Money{Cents: int64(1 + rng.Intn(500000))},
				PaidBy:       members[rng.Intn(len(members))],
				SplitBetween: split,
			}
		}

		balances := CalculateBalances(members, expenses)
		var sum int64
		for _, b := range balances {
			sum += b.Cents
		}
		if sum != 0 {
			t.Fatalf("round %d: balances sum to %d cents, expected 0", round, sum)
		}
	}
}

func TestCalculateBalancesOrderIndependent(t *testing.T) {
	members := []string{"A", "B", "C", "D"}
	expenses := []Expense{
		{Amount: Money{Cents: 12345}, PaidBy: "A", SplitBetween: []string{"A", "B", "C"}},
		{Amount: Money{Cents: 999}, PaidBy: "B", SplitBetween: []string{"B", "D"}},
		{Amount: Money{Cents: 50000}, PaidBy: "C", SplitBetween: []string{"A", "B", "C", "D"}},
	}
	reversed := []Expense{expenses[2], expenses[1], expenses[0]}

	forward := CalculateBalances(members, expenses)
	backward := CalculateBalances(members, reversed)
	for name, b := range forward {
		if backward[name] != b {
			t.Fatalf("%s differs across orderings: %d vs %d", name, b.Cents, backward[name].Cents)
		}
	}
}

// randomSubset picks a non-empty subset of members, preserving order.
func randomSubset(rng *rand.Rand, members []string) []string {
	var subset []string
	for _, m := range members {
		if rng.Intn(2) == 0 {
			subset = append(subset, m)
		}
	}
	if len(subset) == 0 {
		subset = []string{members[rng.Intn(len(members))]}
	}
	return subset
}
