package core

import "sort"

// settledCents is the tolerance below which a balance counts as settled:
// one cent, the integer image of the classic 0.01 epsilon.
const settledCents = 1

type party struct {
	name  string
	cents int64
}

// CalculateSettlements reduces a balance mapping to an ordered list of
// payments that settles the group. It matches the largest debtor against
// the largest creditor first, walking both lists with two cursors; each
// step transfers the smaller of the two remainders. Equal amounts order
// by member name ascending, which makes the output reproducible across
// runs. This greedy pairing is O(n log n) and not guaranteed to be the
// theoretical minimum transaction count, but it is deterministic and
// exact for the group sizes a trip sees.
//
// Members whose balance is within one cent of zero are excluded up front,
// and transfers of at most one cent are carried out without being emitted,
// mirroring how sub-epsilon noise was always treated in this calculation.
func CalculateSettlements(balances map[string]Money) []Settlement {
	var debtors, creditors []party
	for name, b := range balances {
		switch {
		case b.Cents < -settledCents:
			debtors = append(debtors, party{name: name, cents: -b.Cents})
		case b.Cents > settledCents:
			creditors = append(creditors, party{name: name, cents: b.Cents})
		}
	}
	sortByAmountDesc(debtors)
	sortByAmountDesc(creditors)

	var settlements []Settlement
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		amount := debtors[i].cents
		if creditors[j].cents < amount {
			amount = creditors[j].cents
		}
		if amount > settledCents {
			settlements = append(settlements, Settlement{
				From:   debtors[i].name,
				To:     creditors[j].name,
				Amount: Money{Cents: amount},
			})
		}
		debtors[i].cents -= amount
		creditors[j].cents -= amount
		// Both cursors may advance in the same round when the matched
		// amounts were equal.
		if debtors[i].cents < settledCents {
			i++
		}
		if creditors[j].cents < settledCents {
			j++
		}
	}
	return settlements
}

func sortByAmountDesc(parties []party) {
	sort.Slice(parties, func(a, b int) bool {
		if parties[a].cents != parties[b].cents {
			return parties[a].cents > parties[b].cents
		}
		return parties[a].name < parties[b].name
	})
}
