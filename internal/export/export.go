// Package export implements the expense interchange format and the
// outbound targets expense events are mirrored to.
package export

import (
	"context"

	"splittrip/internal/core"
)

// Target is an outbound expense mirror. Implementations must be safe for
// concurrent use; the worker fans one event out to several targets.
type Target interface {
	// Name identifies the target in logs.
	Name() string
	// AppendExpense mirrors a single expense and returns a target-specific
	// row reference.
	AppendExpense(ctx context.Context, trip core.Trip, e core.Expense) (ref string, err error)
}
