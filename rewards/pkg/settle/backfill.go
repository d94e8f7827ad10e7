package settle

import (
	"context"
	"errors"
	"fmt"

	"github.com/pledgeworks/pledge/rewards/pkg/metrics"
)

const (
	// DefaultBackfillPairs is how many recent pairs a backfill run examines.
	DefaultBackfillPairs = 8
	// MaxBackfillPairs is the hard cap on pairs per run.
	MaxBackfillPairs = 12
	// DefaultBackfillCreations is how many distributions one run may create.
	DefaultBackfillCreations = 2
	// MaxBackfillCreations is the hard cap on creations per run.
	MaxBackfillCreations = 5
)

// BackfillConfig bounds the work one backfill run may do.
type BackfillConfig struct {
	// MaxPairs is how many recent (commitment, milestone) pairs to examine.
	MaxPairs int
	// MaxCreations stops the run after this many successful creations.
	// Pairs that turn out to be already settled or still open do not count.
	MaxCreations int
}

func (cfg *BackfillConfig) Validate() error {
	if cfg.MaxPairs <= 0 {
		cfg.MaxPairs = DefaultBackfillPairs
	}
	if cfg.MaxPairs > MaxBackfillPairs {
		cfg.MaxPairs = MaxBackfillPairs
	}
	if cfg.MaxCreations <= 0 {
		cfg.MaxCreations = DefaultBackfillCreations
	}
	if cfg.MaxCreations > MaxBackfillCreations {
		cfg.MaxCreations = MaxBackfillCreations
	}
	return nil
}

// BackfillResult reports what one backfill run did.
type BackfillResult struct {
	Considered int
	Created    int
	// Conflicts counts pairs whose existing distribution disagrees with the
	// freshly computed terms. Callers are expected to alert on these.
	Conflicts int
}

// Backfill opportunistically settles the wallet's recently active pairs.
// Nothing pushes settlement proactively, so any request path that observes a
// participating wallet may call this; it is best-effort and safe to run
// redundantly. Per-pair failures are logged and skipped so one bad pair
// never aborts the batch.
func (s *Settler) Backfill(ctx context.Context, wallet string, cfg BackfillConfig) (*BackfillResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pairs, err := s.cfg.Reader.RecentPairs(ctx, wallet, cfg.MaxPairs)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent pairs for wallet %s: %w", wallet, err)
	}

	result := &BackfillResult{}
	for _, pair := range pairs {
		if result.Created >= cfg.MaxCreations {
			break
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		result.Considered++
		metrics.BackfillPairsConsidered.Inc()

		exists, err := s.cfg.Store.Exists(ctx, pair.CommitmentID, pair.MilestoneID)
		if err != nil {
			s.log.Warn("backfill: existence check failed, skipping pair",
				"wallet", wallet, "commitment", pair.CommitmentID, "milestone", pair.MilestoneID, "error", err)
			metrics.BackfillErrors.Inc()
			continue
		}
		if exists {
			continue
		}

		res, err := s.Settle(ctx, pair.CommitmentID, pair.MilestoneID)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return result, err
			}
			// Transient store/chain failures and per-pair config errors are
			// both "considered, not created"; the batch moves on.
			s.log.Warn("backfill: settlement attempt failed, skipping pair",
				"wallet", wallet, "commitment", pair.CommitmentID, "milestone", pair.MilestoneID, "error", err)
			metrics.BackfillErrors.Inc()
			continue
		}
		switch res.Outcome {
		case OutcomeCreated:
			result.Created++
			metrics.BackfillDistributionsCreated.Inc()
		case OutcomeConflict:
			result.Conflicts++
		}
	}

	s.log.Debug("backfill: run finished", "wallet", wallet, "considered", result.Considered, "created", result.Created, "conflicts", result.Conflicts)
	return result, nil
}
