package core

// CalculateBalances folds an expense list into each member's signed net
// position. Positive means the member is owed money, negative means the
// member owes the group.
//
// Every current member starts at zero. Per expense, the payer is credited
// the full amount and every split participant is debited an equal share;
// a payer listed in the split is also debited their own share, which is
// the normal self-inclusion case. Names in PaidBy or SplitBetween that
// are not current members are skipped silently, so stale expenses never
// make the calculation fail. Entry validation is expected to have kept
// such names out (see Expense.ValidateAgainst); when it has, the returned
// balances sum to exactly zero.
//
// The fold is order-independent and allocates a fresh map per call, so it
// is safe to run concurrently for different requests over the same data.
func CalculateBalances(members []string, expenses []Expense) map[string]Money {
	balances := make(map[string]Money, len(members))
	for _, m := range members {
		balances[m] = Money{}
	}
	for _, e := range expenses {
		if len(e.SplitBetween) == 0 {
			// nothing to divide; entry validation rejects these upstream
			continue
		}
		if b, ok := balances[e.PaidBy]; ok {
			b.Cents += e.Amount.Cents
			balances[e.PaidBy] = b
		}
		shares := splitShares(e.Amount.Cents, len(e.SplitBetween))
		for i, name := range e.SplitBetween {
			if b, ok := balances[name]; ok {
				b.Cents -= shares[i]
				balances[name] = b
			}
		}
	}
	return balances
}

// splitShares divides cents into n equal shares. The remainder of the
// integer division is handed out one cent at a time to the leading
// entries, so the shares always sum to the original amount and the
// allocation is deterministic for a given split order.
func splitShares(cents int64, n int) []int64 {
	base := cents / int64(n)
	rem := cents % int64(n)
	shares := make([]int64, n)
	for i := range shares {
		shares[i] = base
		if int64(i) < rem {
			shares[i]++
		}
	}
	return shares
}
