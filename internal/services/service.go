// Package services orchestrates trip and expense operations across the
// storage backend, the balance engine, the caches and the event bus. The
// HTTP handlers call into this layer only.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"splittrip/internal/auth"
	"splittrip/internal/cache"
	"splittrip/internal/core"
	"splittrip/internal/metrics"
	"splittrip/internal/store"
)

var (
	// ErrMemberChangeNeedsConfirm is returned when a member-set change
	// would discard existing expenses and the caller has not confirmed.
	ErrMemberChangeNeedsConfirm = errors.New("changing members will require clearing expenses")

	// ErrAuthDisabled is returned by Login when no token manager is
	// configured.
	ErrAuthDisabled = errors.New("authentication is not enabled")
)

// BalanceReport pairs per-member balances with the settlement plan
// derived from them. Both come out of one calculation pass, so they can
// never disagree with each other.
type BalanceReport struct {
	Balances    map[string]core.Money
	Settlements []core.Settlement
}

// TripOverview is a trip with its expense rollup, as shown in listings.
type TripOverview struct {
	Trip    core.Trip
	Summary core.TripSummary
}

// TripDetail is a trip with its full expense list, newest first.
type TripDetail struct {
	Trip     core.Trip
	Expenses []core.Expense
	Summary  core.TripSummary
}

// TripService owns all trip and expense semantics. Balance reports and
// listing summaries are cached per trip and invalidated on mutation.
type TripService struct {
	store     store.Store
	publisher EventPublisher
	tokens    *auth.JWTManager
	metrics   *metrics.Metrics

	summaries *cache.LRUCache[core.TripSummary]
	reports   *cache.LRUCache[BalanceReport]
}

// Options carries the optional collaborators of a TripService. Zero
// values disable the corresponding feature.
type Options struct {
	Publisher EventPublisher    // nil: no events are published
	Tokens    *auth.JWTManager  // nil: PIN login is disabled
	Metrics   *metrics.Metrics  // nil: a private instance is created
	CacheSize int
	CacheTTL  time.Duration
}

func NewTripService(st store.Store, opts Options) *TripService {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 256
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}

	s := &TripService{
		store:     st,
		publisher: opts.Publisher,
		tokens:    opts.Tokens,
		metrics:   opts.Metrics,
		summaries: cache.NewLRUCache[core.TripSummary](opts.CacheSize, opts.CacheTTL),
		reports:   cache.NewLRUCache[BalanceReport](opts.CacheSize, opts.CacheTTL),
	}
	s.metrics.RegisterCacheSize("summaries", s.summaries.Size)
	s.metrics.RegisterCacheSize("reports", s.reports.Size)
	return s
}

// RegisterCaches hands the service's caches to a cleanup manager.
func (s *TripService) RegisterCaches(m *cache.Manager) {
	m.Register(s.summaries)
	m.Register(s.reports)
}

// CreateTripInput is the payload for CreateTrip. Member names are
// trimmed and blank entries dropped before validation.
type CreateTripInput struct {
	Name       string
	Currency   string
	Members    []string
	MemberPINs map[string]string
}

func (s *TripService) CreateTrip(ctx context.Context, in CreateTripInput) (core.Trip, error) {
	trip := core.Trip{
		Name:     strings.TrimSpace(in.Name),
		Currency: in.Currency,
		Members:  cleanNames(in.Members),
	}
	if trip.Currency == "" {
		trip.Currency = core.DefaultCurrency
	}
	if err := trip.Validate(); err != nil {
		return core.Trip{}, err
	}

	hashes, err := auth.HashMemberPINs(in.MemberPINs, trip.Members)
	if err != nil {
		return core.Trip{}, err
	}
	trip.PINHashes = hashes

	if err := s.store.CreateTrip(ctx, &trip); err != nil {
		return core.Trip{}, fmt.Errorf("create trip: %w", err)
	}

	s.metrics.TripsTotal.Inc()
	slog.InfoContext(ctx, "Trip created",
		"trip_id", trip.ID,
		"name", trip.Name,
		"members", len(trip.Members))
	return trip, nil
}

// UpdateTripInput is a partial update. Empty fields keep their current
// value, matching how the API always treated absent fields.
type UpdateTripInput struct {
	Name                 string
	Currency             string
	Members              []string
	MemberPINs           map[string]string
	ConfirmClearExpenses bool
}

// UpdateTrip applies a partial update. Changing the member set while
// expenses exist fails with ErrMemberChangeNeedsConfirm unless
// ConfirmClearExpenses is set, in which case the expenses are removed
// first. The second return reports whether expenses were cleared.
func (s *TripService) UpdateTrip(ctx context.Context, tripID string, in UpdateTripInput) (core.Trip, bool, error) {
	trip, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return core.Trip{}, false, err
	}

	cleared := false
	if members := cleanNames(in.Members); len(members) > 0 {
		if !sameMemberSet(trip.Members, members) {
			expenses, err := s.store.ListExpenses(ctx, tripID)
			if err != nil {
				return core.Trip{}, false, fmt.Errorf("list expenses: %w", err)
			}
			if len(expenses) > 0 {
				if !in.ConfirmClearExpenses {
					return core.Trip{}, false, ErrMemberChangeNeedsConfirm
				}
				if err := s.store.DeleteExpenses(ctx, tripID); err != nil {
					return core.Trip{}, false, fmt.Errorf("clear expenses: %w", err)
				}
				cleared = true
			}
			trip.PINHashes = retainMembers(trip.PINHashes, members)
		}
		// A same-set reorder still lands here so display order follows
		// the request.
		trip.Members = members
	}
	if name := strings.TrimSpace(in.Name); name != "" {
		trip.Name = name
	}
	if in.Currency != "" {
		trip.Currency = in.Currency
	}
	if err := trip.Validate(); err != nil {
		return core.Trip{}, false, err
	}

	if len(in.MemberPINs) > 0 {
		hashes, err := auth.HashMemberPINs(in.MemberPINs, trip.Members)
		if err != nil {
			return core.Trip{}, false, err
		}
		if trip.PINHashes == nil {
			trip.PINHashes = make(map[string]string, len(hashes))
		}
		for name, hash := range hashes {
			trip.PINHashes[name] = hash
		}
	}

	if err := s.store.UpdateTrip(ctx, &trip); err != nil {
		return core.Trip{}, false, fmt.Errorf("update trip: %w", err)
	}

	s.invalidate(tripID)
	slog.InfoContext(ctx, "Trip updated",
		"trip_id", tripID,
		"expenses_cleared", cleared)
	return trip, cleared, nil
}

func (s *TripService) DeleteTrip(ctx context.Context, tripID string) error {
	if err := s.store.DeleteTrip(ctx, tripID); err != nil {
		return err
	}
	s.invalidate(tripID)
	slog.InfoContext(ctx, "Trip deleted", "trip_id", tripID)
	return nil
}

// ListTrips returns all trips with their summaries, most recently
// updated first. Summaries come from the cache where possible.
func (s *TripService) ListTrips(ctx context.Context) ([]TripOverview, error) {
	trips, err := s.store.ListTrips(ctx)
	if err != nil {
		return nil, fmt.Errorf("list trips: %w", err)
	}

	out := make([]TripOverview, 0, len(trips))
	for _, trip := range trips {
		summary, err := s.GetTripSummary(ctx, trip.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, TripOverview{Trip: trip, Summary: summary})
	}
	return out, nil
}

func (s *TripService) GetTripDetail(ctx context.Context, tripID string) (TripDetail, error) {
	trip, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return TripDetail{}, err
	}
	expenses, err := s.store.ListExpenses(ctx, tripID)
	if err != nil {
		return TripDetail{}, fmt.Errorf("list expenses: %w", err)
	}
	return TripDetail{
		Trip:     trip,
		Expenses: expenses,
		Summary:  core.Summarize(expenses),
	}, nil
}

// ListExpenses returns a trip's expenses, newest first.
func (s *TripService) ListExpenses(ctx context.Context, tripID string) ([]core.Expense, error) {
	return s.store.ListExpenses(ctx, tripID)
}

// GetBalanceReport computes (or returns the cached) balances and
// settlement plan for a trip.
func (s *TripService) GetBalanceReport(ctx context.Context, tripID string) (BalanceReport, error) {
	if report, ok := s.reports.Get(tripID); ok {
		s.metrics.CacheHitsTotal.Inc()
		return report, nil
	}
	s.metrics.CacheMissesTotal.Inc()

	trip, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return BalanceReport{}, err
	}
	expenses, err := s.store.ListExpenses(ctx, tripID)
	if err != nil {
		return BalanceReport{}, fmt.Errorf("list expenses: %w", err)
	}

	balances := core.CalculateBalances(trip.Members, expenses)
	report := BalanceReport{
		Balances:    balances,
		Settlements: core.CalculateSettlements(balances),
	}
	s.metrics.BalanceCalculationsTotal.Inc()
	s.reports.Set(tripID, report)
	return report, nil
}

// Login verifies a member PIN and issues a trip-scoped token. Unknown
// members, members without a PIN, and wrong PINs all fail with
// auth.ErrInvalidCredentials, so callers cannot probe which it was.
func (s *TripService) Login(ctx context.Context, tripID, member, pin string) (string, time.Time, error) {
	if s.tokens == nil {
		return "", time.Time{}, ErrAuthDisabled
	}

	trip, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return "", time.Time{}, err
	}

	hash, ok := trip.PINHashes[member]
	if !ok {
		return "", time.Time{}, auth.ErrInvalidCredentials
	}
	if err := auth.VerifyPIN(hash, pin); err != nil {
		return "", time.Time{}, err
	}

	token, expiresAt, err := s.tokens.Generate(trip.ID, member)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("issue token: %w", err)
	}

	slog.InfoContext(ctx, "Member logged in", "trip_id", tripID, "member", member)
	return token, expiresAt, nil
}

// Ping reports whether the storage backend is reachable.
func (s *TripService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// GetTripSummary returns the cached expense rollup for one trip,
// computing and caching it on a miss.
func (s *TripService) GetTripSummary(ctx context.Context, tripID string) (core.TripSummary, error) {
	if summary, ok := s.summaries.Get(tripID); ok {
		s.metrics.CacheHitsTotal.Inc()
		return summary, nil
	}
	s.metrics.CacheMissesTotal.Inc()

	expenses, err := s.store.ListExpenses(ctx, tripID)
	if err != nil {
		return core.TripSummary{}, fmt.Errorf("list expenses: %w", err)
	}
	summary := core.Summarize(expenses)
	s.summaries.Set(tripID, summary)
	return summary, nil
}

// invalidate drops a trip's cached summary and balance report after any
// mutation that can change them.
func (s *TripService) invalidate(tripID string) {
	s.summaries.Delete(tripID)
	s.reports.Delete(tripID)
}

func cleanNames(names []string) []string {
	var out []string
	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func sameMemberSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, name := range a {
		set[name] = struct{}{}
	}
	for _, name := range b {
		if _, ok := set[name]; !ok {
			return false
		}
	}
	return true
}

func retainMembers(hashes map[string]string, members []string) map[string]string {
	if len(hashes) == 0 {
		return nil
	}
	keep := make(map[string]string)
	for _, name := range members {
		if hash, ok := hashes[name]; ok {
			keep[name] = hash
		}
	}
	if len(keep) == 0 {
		return nil
	}
	return keep
}
