package core

import (
	"errors"
	"strings"
	"time"
)

const (
	// MinMembers is the smallest member set a trip may have.
	MinMembers = 4

	// DefaultCurrency is used when a trip is created without one.
	DefaultCurrency = "₹"

	maxNameLen        = 100
	maxDescriptionLen = 200
)

type (
	Money struct {
		Cents int64
	}

	Trip struct {
		ID        string
		Name      string
		Currency  string // display symbol only, never enters calculations
		Members   []string
		PINHashes map[string]string // bcrypt hash per member name, empty unless PIN login is used
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	Expense struct {
		ID           string
		TripID       string
		Description  string
		Amount       Money
		PaidBy       string
		SplitBetween []string
		CreatedAt    time.Time
	}

	Settlement struct {
		From   string
		To     string
		Amount Money
	}
)

var (
	ErrTripNameRequired   = errors.New("trip name is required")
	ErrTripNameTooLong    = errors.New("trip name too long (max 100 characters)")
	ErrTooFewMembers      = errors.New("at least 4 members required")
	ErrEmptyMemberName    = errors.New("empty member name")
	ErrDuplicateMember    = errors.New("duplicate member name")
	ErrEmptyDescription   = errors.New("description is required")
	ErrDescriptionTooLong = errors.New("description too long (max 200 characters)")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrPayerRequired      = errors.New("paid by is required")
	ErrEmptySplit         = errors.New("at least one person to split with is required")
	ErrPayerNotMember     = errors.New("payer is not a trip member")
	ErrSplitterNotMember  = errors.New("split member is not a trip member")
)

func (t Trip) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return ErrTripNameRequired
	}
	if len(t.Name) > maxNameLen {
		return ErrTripNameTooLong
	}
	if len(t.Members) < MinMembers {
		return ErrTooFewMembers
	}
	seen := make(map[string]struct{}, len(t.Members))
	for _, m := range t.Members {
		if strings.TrimSpace(m) == "" {
			return ErrEmptyMemberName
		}
		if _, ok := seen[m]; ok {
			return ErrDuplicateMember
		}
		seen[m] = struct{}{}
	}
	return nil
}

// HasMember reports whether name is a current member. Names are
// case-sensitive and compared exactly.
func (t Trip) HasMember(name string) bool {
	for _, m := range t.Members {
		if m == name {
			return true
		}
	}
	return false
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (e Expense) Validate() error {
	if strings.TrimSpace(e.Description) == "" {
		return ErrEmptyDescription
	}
	if len(e.Description) > maxDescriptionLen {
		return ErrDescriptionTooLong
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(e.PaidBy) == "" {
		return ErrPayerRequired
	}
	if len(e.SplitBetween) == 0 {
		return ErrEmptySplit
	}
	return nil
}

// ValidateAgainst runs Validate plus the membership checks that only the
// trip can answer: the payer and every split participant must be current
// members. The calculation engine tolerates foreign names (see
// CalculateBalances), so this is the only place they are rejected.
func (e Expense) ValidateAgainst(t Trip) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if !t.HasMember(e.PaidBy) {
		return ErrPayerNotMember
	}
	for _, name := range e.SplitBetween {
		if !t.HasMember(name) {
			return ErrSplitterNotMember
		}
	}
	return nil
}
