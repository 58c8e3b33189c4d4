package core

// TripSummary is a compact rollup of a trip's expense list, shown next to
// trip metadata in listings.
type TripSummary struct {
	ExpenseCount int
	Total        Money
}

// Summarize totals an expense list. Amounts are summed in cents; an empty
// list yields a zero summary.
func Summarize(expenses []Expense) TripSummary {
	var total int64
	for _, e := range expenses {
		total += e.Amount.Cents
	}
	return TripSummary{ExpenseCount: len(expenses), Total: Money{Cents: total}}
}
