// Package signals provides read access to the escrow-side voting history:
// milestones, per-wallet voting signals, and the derived first-seen times
// the reward engine needs. The engine never writes through this package.
package signals

import (
	"context"
	"time"
)

// MilestoneKind tags how a milestone is verified.
type MilestoneKind string

const (
	// KindHolderVote is a milestone approved by token holder votes.
	KindHolderVote MilestoneKind = "holder_vote"
	// KindMarketCapAuto is verified automatically from market cap and is
	// excluded from voting rewards entirely.
	KindMarketCapAuto MilestoneKind = "market_cap_auto"
)

// Milestone is the escrow-side milestone record, read-only here.
type Milestone struct {
	ID             string
	CommitmentID   string
	Kind           MilestoneKind
	CompletedAt    *time.Time
	ReviewOpenedAt *time.Time
	DueAt          *time.Time
}

// Automated reports whether the milestone is settled without holder votes.
func (m Milestone) Automated() bool {
	return m.Kind == KindMarketCapAuto
}

// Signal is one wallet's recorded vote-weight input for a milestone.
type Signal struct {
	CommitmentID  string
	MilestoneID   string
	WalletAddress string
	// BaseWeightedAmount is the stake-weighting input in raw token units.
	BaseWeightedAmount uint64
	// ShipMultiplierBps is an orthogonal per-wallet boost in basis points;
	// 10000 means 1x.
	ShipMultiplierBps int64
	CreatedAt         time.Time
}

// Pair identifies one (commitment, milestone) settlement target.
type Pair struct {
	CommitmentID string
	MilestoneID  string
}

// Reader is the read-only view of voting history the settler depends on.
type Reader interface {
	// Milestones returns all milestones for a commitment.
	Milestones(ctx context.Context, commitmentID string) ([]Milestone, error)

	// MilestoneSignals returns every signal recorded for one milestone.
	MilestoneSignals(ctx context.Context, commitmentID, milestoneID string) ([]Signal, error)

	// SignalCounts returns, per wallet, how many of the given milestones the
	// wallet signaled on. Wallets with no signals are absent from the map.
	SignalCounts(ctx context.Context, commitmentID string, wallets []string, milestoneIDs []string) (map[string]int, error)

	// FirstSignalTimes returns each wallet's earliest signal time on the
	// commitment, unix seconds. Wallets with no signals are absent.
	FirstSignalTimes(ctx context.Context, commitmentID string, wallets []string) (map[string]int64, error)

	// RecentPairs returns up to limit (commitment, milestone) pairs the
	// wallet signaled on, most recently active first.
	RecentPairs(ctx context.Context, wallet string, limit int) ([]Pair, error)
}
