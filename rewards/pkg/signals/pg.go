package signals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGReaderConfig configures the Postgres-backed Reader.
type PGReaderConfig struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool
}

func (cfg *PGReaderConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("postgres pool is required")
	}
	return nil
}

// PGReader reads voting history from the product's Postgres database.
type PGReader struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

// NewPGReader creates a Reader backed by Postgres.
func NewPGReader(cfg PGReaderConfig) (*PGReader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &PGReader{log: cfg.Logger, pool: cfg.Pool}, nil
}

func (r *PGReader) Milestones(ctx context.Context, commitmentID string) ([]Milestone, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, commitment_id, kind, completed_at, review_opened_at, due_at
		FROM milestones
		WHERE commitment_id = $1
		ORDER BY created_at ASC
	`, commitmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query milestones: %w", err)
	}
	defer rows.Close()

	var milestones []Milestone
	for rows.Next() {
		var m Milestone
		if err := rows.Scan(&m.ID, &m.CommitmentID, &m.Kind, &m.CompletedAt, &m.ReviewOpenedAt, &m.DueAt); err != nil {
			return nil, fmt.Errorf("failed to scan milestone: %w", err)
		}
		milestones = append(milestones, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read milestones: %w", err)
	}
	return milestones, nil
}

func (r *PGReader) MilestoneSignals(ctx context.Context, commitmentID, milestoneID string) ([]Signal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT commitment_id, milestone_id, wallet_address, base_weighted_amount, ship_multiplier_bps, created_at
		FROM vote_signals
		WHERE commitment_id = $1 AND milestone_id = $2
		ORDER BY created_at ASC
	`, commitmentID, milestoneID)
	if err != nil {
		return nil, fmt.Errorf("failed to query vote signals: %w", err)
	}
	defer rows.Close()

	var out []Signal
	for rows.Next() {
		var s Signal
		var baseWeighted int64
		if err := rows.Scan(&s.CommitmentID, &s.MilestoneID, &s.WalletAddress, &baseWeighted, &s.ShipMultiplierBps, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan vote signal: %w", err)
		}
		if baseWeighted < 0 {
			// Raw amounts are never negative; a negative row means corrupt
			// data and is skipped rather than wrapped around.
			r.log.Warn("signals: skipping negative base weighted amount",
				"commitment", s.CommitmentID, "milestone", s.MilestoneID, "wallet", s.WalletAddress)
			continue
		}
		s.BaseWeightedAmount = uint64(baseWeighted)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vote signals: %w", err)
	}
	return out, nil
}

func (r *PGReader) SignalCounts(ctx context.Context, commitmentID string, wallets []string, milestoneIDs []string) (map[string]int, error) {
	if len(wallets) == 0 || len(milestoneIDs) == 0 {
		return map[string]int{}, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT wallet_address, COUNT(DISTINCT milestone_id)
		FROM vote_signals
		WHERE commitment_id = $1 AND wallet_address = ANY($2) AND milestone_id = ANY($3)
		GROUP BY wallet_address
	`, commitmentID, wallets, milestoneIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query signal counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int, len(wallets))
	for rows.Next() {
		var wallet string
		var n int
		if err := rows.Scan(&wallet, &n); err != nil {
			return nil, fmt.Errorf("failed to scan signal count: %w", err)
		}
		counts[wallet] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read signal counts: %w", err)
	}
	return counts, nil
}

func (r *PGReader) FirstSignalTimes(ctx context.Context, commitmentID string, wallets []string) (map[string]int64, error) {
	if len(wallets) == 0 {
		return map[string]int64{}, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT wallet_address, EXTRACT(EPOCH FROM MIN(created_at))::bigint
		FROM vote_signals
		WHERE commitment_id = $1 AND wallet_address = ANY($2)
		GROUP BY wallet_address
	`, commitmentID, wallets)
	if err != nil {
		return nil, fmt.Errorf("failed to query first signal times: %w", err)
	}
	defer rows.Close()

	firstSeen := make(map[string]int64, len(wallets))
	for rows.Next() {
		var wallet string
		var unix int64
		if err := rows.Scan(&wallet, &unix); err != nil {
			return nil, fmt.Errorf("failed to scan first signal time: %w", err)
		}
		firstSeen[wallet] = unix
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read first signal times: %w", err)
	}
	return firstSeen, nil
}

func (r *PGReader) RecentPairs(ctx context.Context, wallet string, limit int) ([]Pair, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT commitment_id, milestone_id
		FROM vote_signals
		WHERE wallet_address = $1
		GROUP BY commitment_id, milestone_id
		ORDER BY MAX(created_at) DESC
		LIMIT $2
	`, wallet, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent pairs: %w", err)
	}
	defer rows.Close()

	var pairs []Pair
	for rows.Next() {
		var p Pair
		if err := rows.Scan(&p.CommitmentID, &p.MilestoneID); err != nil {
			return nil, fmt.Errorf("failed to scan recent pair: %w", err)
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read recent pairs: %w", err)
	}
	return pairs, nil
}
