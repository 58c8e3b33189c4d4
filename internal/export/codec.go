package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"splittrip/internal/core"
)

// Interchange column order. Amounts carry two decimals, split members are
// pipe-joined, timestamps are epoch milliseconds.
var columns = []string{"trip", "description", "amount", "paid_by", "split_between", "timestamp"}

// Header returns the column names of the interchange format.
func Header() []string {
	return append([]string(nil), columns...)
}

// IsHeader reports whether rec is the interchange header row.
func IsHeader(rec []string) bool {
	if len(rec) != len(columns) {
		return false
	}
	for i, col := range columns {
		if strings.TrimSpace(rec[i]) != col {
			return false
		}
	}
	return true
}

// EncodeRecord renders one expense as an interchange row.
func EncodeRecord(tripName string, e core.Expense) []string {
	return []string{
		tripName,
		e.Description,
		e.Amount.String(),
		e.PaidBy,
		JoinNames(e.SplitBetween),
		strconv.FormatInt(e.CreatedAt.UnixMilli(), 10),
	}
}

// DecodeRecord parses one interchange row into the trip name and an
// expense. Only structure is checked here (field count, amount,
// timestamp); membership and the remaining field rules are for the
// caller to enforce.
func DecodeRecord(rec []string) (string, core.Expense, error) {
	if len(rec) != len(columns) {
		return "", core.Expense{}, fmt.Errorf("expected %d fields, got %d", len(columns), len(rec))
	}

	amount, err := core.ParseAmount(rec[2])
	if err != nil {
		return "", core.Expense{}, fmt.Errorf("amount %q: %w", rec[2], err)
	}

	ms, err := strconv.ParseInt(strings.TrimSpace(rec[5]), 10, 64)
	if err != nil {
		return "", core.Expense{}, fmt.Errorf("timestamp %q: %w", rec[5], err)
	}

	e := core.Expense{
		Description:  strings.TrimSpace(rec[1]),
		Amount:       amount,
		PaidBy:       strings.TrimSpace(rec[3]),
		SplitBetween: SplitNames(rec[4]),
		CreatedAt:    time.UnixMilli(ms).UTC(),
	}
	return strings.TrimSpace(rec[0]), e, nil
}

// WriteTrip writes the interchange header followed by one row per
// expense. It is shared by the download endpoint and the snapshot
// worker.
func WriteTrip(w io.Writer, trip core.Trip, expenses []core.Expense) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, e := range expenses {
		if err := cw.Write(EncodeRecord(trip.Name, e)); err != nil {
			return fmt.Errorf("write expense %s: %w", e.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// JoinNames renders a member list in pipe-joined form.
func JoinNames(names []string) string {
	return strings.Join(names, "|")
}

// SplitNames splits a pipe-joined member list, trimming entries and
// dropping empties.
func SplitNames(s string) []string {
	var out []string
	for _, part := range strings.Split(s, "|") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
