// Package settle orchestrates milestone reward settlement: it decides
// whether a milestone's voting window has closed, computes the candidate
// distribution, and persists it exactly once per (commitment, milestone)
// pair no matter how many callers race.
package settle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/pledgeworks/pledge/rewards/pkg/chain"
	"github.com/pledgeworks/pledge/rewards/pkg/distribution"
	"github.com/pledgeworks/pledge/rewards/pkg/metrics"
	"github.com/pledgeworks/pledge/rewards/pkg/participation"
	"github.com/pledgeworks/pledge/rewards/pkg/payout"
	"github.com/pledgeworks/pledge/rewards/pkg/signals"
	"github.com/pledgeworks/pledge/rewards/pkg/window"
)

// Mode selects how the pool of a distribution is determined. The mode is a
// deployment-wide setting, not per milestone.
type Mode string

const (
	// ModeFixed pays a configured raw amount per vote; the pool is the
	// realized sum.
	ModeFixed Mode = "fixed"
	// ModePool splits a pre-declared raw pool by stake-derived weight.
	ModePool Mode = "pool"
)

// Outcome classifies the result of one settlement attempt.
type Outcome string

const (
	// OutcomeCreated means this caller won the race and persisted the
	// distribution.
	OutcomeCreated Outcome = "created"
	// OutcomeAlreadySettled means an identical distribution already exists.
	OutcomeAlreadySettled Outcome = "already_settled"
	// OutcomeConflict means an existing distribution has different payout
	// terms than the freshly computed candidate. This signals configuration
	// drift and requires human review; nothing is overwritten.
	OutcomeConflict Outcome = "conflict"
	// OutcomeIneligible means no distribution can exist for this pair right
	// now: automated milestone, open window, or nothing to pay. Not an
	// error.
	OutcomeIneligible Outcome = "ineligible"
)

// Result is the outcome of one settlement attempt.
type Result struct {
	Outcome Outcome
	// Reason is set for ineligible outcomes.
	Reason string
	// Distribution is the created or previously existing record, when one
	// exists.
	Distribution *distribution.Distribution
}

// ErrMilestoneNotFound means the requested milestone does not exist on the
// commitment.
var ErrMilestoneNotFound = errors.New("milestone not found")

// ChainFacts supplies token facts stamped onto new distributions.
type ChainFacts interface {
	MintFacts(ctx context.Context, mintAddress string) (*chain.MintFacts, error)
}

// Store is the durable-store surface the settler needs.
type Store interface {
	TryInsert(ctx context.Context, d distribution.Distribution, allocations []distribution.Allocation) (created bool, existing *distribution.Distribution, err error)
	Exists(ctx context.Context, commitmentID, milestoneID string) (bool, error)
}

// Config configures a Settler. Everything is injected; there is no ambient
// state.
type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Reader signals.Reader
	Store  Store
	Chain  ChainFacts

	Mode Mode
	// VotingCutoff is how long a voting window stays open past its anchor.
	VotingCutoff time.Duration
	// ParticipationWindow is how many recent closed milestones feed the
	// streak multiplier.
	ParticipationWindow int
	// GraceMisses is the number of missed votes charged at the reduced
	// penalty rate.
	GraceMisses int

	// FixedPerVoteRaw is the per-vote reward in fixed mode.
	FixedPerVoteRaw uint64
	// PoolRaw is the per-milestone pool in pool mode.
	PoolRaw uint64
	// MaxPoolRaw caps the realized pool in fixed mode; 0 disables the cap.
	MaxPoolRaw uint64

	// MintAddress is the reward token mint.
	MintAddress string
	// FaucetOwnerAddress is the funding authority that will eventually pay
	// allocations.
	FaucetOwnerAddress string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Reader == nil {
		return errors.New("signals reader is required")
	}
	if cfg.Store == nil {
		return errors.New("distribution store is required")
	}
	if cfg.Chain == nil {
		return errors.New("chain facts provider is required")
	}
	if cfg.MintAddress == "" {
		return errors.New("mint address is required")
	}
	if cfg.FaucetOwnerAddress == "" {
		return errors.New("faucet owner address is required")
	}
	switch cfg.Mode {
	case ModeFixed:
		if cfg.FixedPerVoteRaw == 0 {
			return errors.New("fixed per-vote amount is required in fixed mode")
		}
	case ModePool:
		if cfg.PoolRaw == 0 {
			return errors.New("pool amount is required in pool mode")
		}
	default:
		return fmt.Errorf("unknown payout mode %q", cfg.Mode)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.VotingCutoff <= 0 {
		cfg.VotingCutoff = 24 * time.Hour
	}
	if cfg.ParticipationWindow <= 0 {
		cfg.ParticipationWindow = participation.DefaultWindowSize
	}
	if cfg.GraceMisses <= 0 {
		cfg.GraceMisses = participation.DefaultGraceMisses
	}
	return nil
}

// Settler runs settlement attempts. It holds no mutable state; safety under
// concurrent attempts comes entirely from the store's conditional insert.
type Settler struct {
	log *slog.Logger
	cfg Config
}

// New creates a Settler.
func New(cfg Config) (*Settler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Settler{log: cfg.Logger, cfg: cfg}, nil
}

// Settle runs one settlement attempt for a (commitment, milestone) pair.
// It is safe to call concurrently and redundantly; at most one caller ever
// creates the distribution. Ineligible pairs are a normal outcome, not an
// error.
func (s *Settler) Settle(ctx context.Context, commitmentID, milestoneID string) (*Result, error) {
	start := time.Now()
	res, err := s.settle(ctx, commitmentID, milestoneID)
	metrics.SettlementDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SettlementTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.SettlementTotal.WithLabelValues(string(res.Outcome)).Inc()
	return res, nil
}

func (s *Settler) settle(ctx context.Context, commitmentID, milestoneID string) (*Result, error) {
	milestones, err := s.cfg.Reader.Milestones(ctx, commitmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load milestones for commitment %s: %w", commitmentID, err)
	}

	var target *signals.Milestone
	for i := range milestones {
		if milestones[i].ID == milestoneID {
			target = &milestones[i]
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("%w: %s on commitment %s", ErrMilestoneNotFound, milestoneID, commitmentID)
	}

	if target.Automated() {
		return s.ineligible(commitmentID, milestoneID, "automated milestone"), nil
	}

	now := s.cfg.Clock.Now()
	w := window.Resolve(timestampsOf(*target), s.cfg.VotingCutoff)
	if w == nil {
		return s.ineligible(commitmentID, milestoneID, "no voting window"), nil
	}
	if !w.ClosedAt(now) {
		return s.ineligible(commitmentID, milestoneID, "window still open"), nil
	}

	sigs, err := s.cfg.Reader.MilestoneSignals(ctx, commitmentID, milestoneID)
	if err != nil {
		return nil, fmt.Errorf("failed to load signals for milestone %s: %w", milestoneID, err)
	}
	if len(sigs) == 0 {
		return s.ineligible(commitmentID, milestoneID, "no signals"), nil
	}

	facts, err := s.cfg.Chain.MintFacts(ctx, s.cfg.MintAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch mint facts: %w", err)
	}
	if facts.Decimals > 12 {
		return nil, fmt.Errorf("mint %s has unsupported decimals %d", s.cfg.MintAddress, facts.Decimals)
	}

	multipliers, err := s.walletMultipliers(ctx, commitmentID, milestoneID, milestones, sigs, now)
	if err != nil {
		return nil, err
	}

	var computed *payout.Result
	switch s.cfg.Mode {
	case ModeFixed:
		computed = payout.Fixed(sigs, multipliers, payout.FixedParams{
			PerVoteRaw: s.cfg.FixedPerVoteRaw,
			MaxPoolRaw: s.cfg.MaxPoolRaw,
		})
	case ModePool:
		computed = payout.Pool(sigs, multipliers, payout.PoolParams{PoolRaw: s.cfg.PoolRaw})
	}
	if computed == nil {
		return s.ineligible(commitmentID, milestoneID, "nothing to allocate"), nil
	}

	candidate := distribution.Distribution{
		ID:                  uuid.New(),
		CommitmentID:        commitmentID,
		MilestoneID:         milestoneID,
		CreatedAt:           now.UTC(),
		MintAddress:         s.cfg.MintAddress,
		TokenProgramAddress: facts.TokenProgramAddress,
		Decimals:            facts.Decimals,
		PoolAmountRaw:       computed.PoolAmountRaw,
		FaucetOwnerAddress:  s.cfg.FaucetOwnerAddress,
		Status:              distribution.StatusOpen,
	}
	allocations := make([]distribution.Allocation, len(computed.Allocations))
	for i, a := range computed.Allocations {
		allocations[i] = distribution.Allocation{
			DistributionID: candidate.ID,
			WalletAddress:  a.WalletAddress,
			AmountRaw:      a.AmountRaw,
			Weight:         a.Weight,
		}
	}

	created, existing, err := s.cfg.Store.TryInsert(ctx, candidate, allocations)
	if err != nil {
		return nil, fmt.Errorf("failed to persist distribution: %w", err)
	}
	if created {
		s.log.Info("settle: distribution created",
			"commitment", commitmentID, "milestone", milestoneID,
			"pool_raw", candidate.PoolAmountRaw, "allocations", len(allocations), "mode", s.cfg.Mode)
		return &Result{Outcome: OutcomeCreated, Distribution: &candidate}, nil
	}

	if candidate.SameTerms(*existing) {
		return &Result{Outcome: OutcomeAlreadySettled, Distribution: existing}, nil
	}

	s.log.Warn("settle: existing distribution terms differ from candidate",
		"commitment", commitmentID, "milestone", milestoneID,
		"existing_pool_raw", existing.PoolAmountRaw, "candidate_pool_raw", candidate.PoolAmountRaw)
	return &Result{Outcome: OutcomeConflict, Distribution: existing}, nil
}

// walletMultipliers computes the streak multiplier for every wallet that
// signaled on the target milestone. The target itself is excluded from the
// history window so a milestone never counts as its own opportunity.
func (s *Settler) walletMultipliers(ctx context.Context, commitmentID, milestoneID string, milestones []signals.Milestone, sigs []signals.Signal, now time.Time) (map[string]float64, error) {
	recent := s.recentClosed(milestones, milestoneID, now)

	wallets := make([]string, 0, len(sigs))
	seen := make(map[string]struct{}, len(sigs))
	for _, sig := range sigs {
		if _, ok := seen[sig.WalletAddress]; ok {
			continue
		}
		seen[sig.WalletAddress] = struct{}{}
		wallets = append(wallets, sig.WalletAddress)
	}

	firstSeen, err := s.cfg.Reader.FirstSignalTimes(ctx, commitmentID, wallets)
	if err != nil {
		return nil, fmt.Errorf("failed to load first signal times: %w", err)
	}

	recentIDs := make([]string, len(recent))
	for i, m := range recent {
		recentIDs[i] = m.MilestoneID
	}
	counts := map[string]int{}
	if len(recentIDs) > 0 {
		counts, err = s.cfg.Reader.SignalCounts(ctx, commitmentID, wallets, recentIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to load signal counts: %w", err)
		}
	}

	histories := make(map[string]participation.WalletHistory, len(wallets))
	for _, wallet := range wallets {
		histories[wallet] = participation.WalletHistory{
			FirstSignalUnix: firstSeen[wallet],
			Votes:           counts[wallet],
		}
	}
	return participation.Multipliers(recent, histories, s.cfg.GraceMisses), nil
}

// recentClosed returns up to ParticipationWindow closed milestones for the
// commitment, most recently closed first, excluding the target and any
// automated milestones.
func (s *Settler) recentClosed(milestones []signals.Milestone, targetID string, now time.Time) []participation.ClosedMilestone {
	var closed []participation.ClosedMilestone
	seen := make(map[string]struct{}, len(milestones))
	for _, m := range milestones {
		if m.ID == targetID || m.Automated() {
			continue
		}
		if _, ok := seen[m.ID]; ok {
			continue
		}
		w := window.Resolve(timestampsOf(m), s.cfg.VotingCutoff)
		if w == nil || !w.ClosedAt(now) {
			continue
		}
		seen[m.ID] = struct{}{}
		closed = append(closed, participation.ClosedMilestone{MilestoneID: m.ID, ClosedUnix: w.EndUnix})
	}

	sort.Slice(closed, func(i, j int) bool {
		if closed[i].ClosedUnix != closed[j].ClosedUnix {
			return closed[i].ClosedUnix > closed[j].ClosedUnix
		}
		return closed[i].MilestoneID < closed[j].MilestoneID
	})
	if len(closed) > s.cfg.ParticipationWindow {
		closed = closed[:s.cfg.ParticipationWindow]
	}
	return closed
}

func (s *Settler) ineligible(commitmentID, milestoneID, reason string) *Result {
	s.log.Debug("settle: ineligible", "commitment", commitmentID, "milestone", milestoneID, "reason", reason)
	return &Result{Outcome: OutcomeIneligible, Reason: reason}
}

func timestampsOf(m signals.Milestone) window.Timestamps {
	return window.Timestamps{
		CompletedAt:    m.CompletedAt,
		ReviewOpenedAt: m.ReviewOpenedAt,
		DueAt:          m.DueAt,
	}
}
