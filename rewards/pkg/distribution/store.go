package distribution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StoreConfig configures the Postgres distribution store.
type StoreConfig struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("postgres pool is required")
	}
	return nil
}

// Store persists distributions and allocations. The unique constraint on
// (commitment_id, milestone_id) is the only serialization point between
// concurrent settlement attempts.
type Store struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

// NewStore creates a distribution store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{log: cfg.Logger, pool: cfg.Pool}, nil
}

// TryInsert atomically creates the distribution and its allocations in one
// transaction, keyed by (commitment_id, milestone_id). If another caller
// already created a row for the pair, nothing is written and the existing
// row is returned. The caller decides whether the existing row is an
// idempotent hit or a conflict.
func (s *Store) TryInsert(ctx context.Context, d Distribution, allocations []Allocation) (created bool, existing *Distribution, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// ON CONFLICT DO NOTHING makes the insert a single conditional write;
	// there is no read-then-write gap for racers to slip through.
	row := tx.QueryRow(ctx, `
		INSERT INTO reward_distributions
			(id, commitment_id, milestone_id, created_at, mint_address, token_program_address, decimals, pool_amount_raw, faucet_owner_address, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (commitment_id, milestone_id) DO NOTHING
		RETURNING id
	`, d.ID, d.CommitmentID, d.MilestoneID, d.CreatedAt, d.MintAddress, d.TokenProgramAddress,
		int16(d.Decimals), int64(d.PoolAmountRaw), d.FaucetOwnerAddress, string(d.Status))

	var insertedID string
	if err := row.Scan(&insertedID); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return false, nil, fmt.Errorf("failed to insert distribution: %w", err)
		}
		// Lost the race; surface the canonical row.
		won, err := s.Get(ctx, d.CommitmentID, d.MilestoneID)
		if err != nil {
			return false, nil, fmt.Errorf("failed to fetch existing distribution: %w", err)
		}
		if won == nil {
			return false, nil, fmt.Errorf("distribution for commitment %s milestone %s vanished after conflicting insert", d.CommitmentID, d.MilestoneID)
		}
		return false, won, nil
	}

	for _, a := range allocations {
		if _, err := tx.Exec(ctx, `
			INSERT INTO reward_allocations (distribution_id, wallet_address, amount_raw, weight)
			VALUES ($1, $2, $3, $4)
		`, a.DistributionID, a.WalletAddress, int64(a.AmountRaw), a.Weight); err != nil {
			return false, nil, fmt.Errorf("failed to insert allocation for wallet %s: %w", a.WalletAddress, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, nil, fmt.Errorf("failed to commit distribution: %w", err)
	}

	s.log.Debug("distribution: created",
		"id", d.ID, "commitment", d.CommitmentID, "milestone", d.MilestoneID,
		"pool_raw", d.PoolAmountRaw, "allocations", len(allocations))
	return true, nil, nil
}

// Get returns the distribution for a pair, or nil if none exists.
func (s *Store) Get(ctx context.Context, commitmentID, milestoneID string) (*Distribution, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, commitment_id, milestone_id, created_at, mint_address, token_program_address, decimals, pool_amount_raw, faucet_owner_address, status
		FROM reward_distributions
		WHERE commitment_id = $1 AND milestone_id = $2
	`, commitmentID, milestoneID)

	var d Distribution
	var decimals int16
	var poolRaw int64
	var status string
	err := row.Scan(&d.ID, &d.CommitmentID, &d.MilestoneID, &d.CreatedAt, &d.MintAddress,
		&d.TokenProgramAddress, &decimals, &poolRaw, &d.FaucetOwnerAddress, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query distribution: %w", err)
	}
	d.Decimals = uint8(decimals)
	d.PoolAmountRaw = uint64(poolRaw)
	d.Status = Status(status)
	return &d, nil
}

// Exists reports whether a distribution already exists for the pair.
func (s *Store) Exists(ctx context.Context, commitmentID, milestoneID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM reward_distributions WHERE commitment_id = $1 AND milestone_id = $2)
	`, commitmentID, milestoneID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check distribution existence: %w", err)
	}
	return exists, nil
}

// Allocations returns a distribution's allocations ordered by amount
// descending, then wallet address.
func (s *Store) Allocations(ctx context.Context, distributionID string) ([]Allocation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT distribution_id, wallet_address, amount_raw, weight
		FROM reward_allocations
		WHERE distribution_id = $1
		ORDER BY amount_raw DESC, wallet_address ASC
	`, distributionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var out []Allocation
	for rows.Next() {
		var a Allocation
		var amountRaw int64
		if err := rows.Scan(&a.DistributionID, &a.WalletAddress, &amountRaw, &a.Weight); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		a.AmountRaw = uint64(amountRaw)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read allocations: %w", err)
	}
	return out, nil
}
