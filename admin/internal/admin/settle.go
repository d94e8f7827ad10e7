package admin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pledgeworks/pledge/rewards/pkg/chain"
	"github.com/pledgeworks/pledge/rewards/pkg/distribution"
	"github.com/pledgeworks/pledge/rewards/pkg/settle"
	"github.com/pledgeworks/pledge/rewards/pkg/signals"
)

// RewardsConfig holds everything needed to run settlement from the CLI.
type RewardsConfig struct {
	PG          PgMigrateConfig
	RPCEndpoint string

	Mode                string
	VotingCutoff        time.Duration
	ParticipationWindow int
	GraceMisses         int
	FixedPerVoteRaw     uint64
	PoolRaw             uint64
	MaxPoolRaw          uint64
	MintAddress         string
	FaucetOwnerAddress  string
}

// Settle runs one settlement attempt for a single (commitment, milestone)
// pair and prints the outcome.
func Settle(ctx context.Context, log *slog.Logger, cfg RewardsConfig, commitmentID, milestoneID string) error {
	settler, pool, err := newSettler(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	res, err := settler.Settle(ctx, commitmentID, milestoneID)
	if err != nil {
		return fmt.Errorf("settlement failed: %w", err)
	}

	switch res.Outcome {
	case settle.OutcomeIneligible:
		fmt.Printf("Outcome: %s (%s)\n", res.Outcome, res.Reason)
	default:
		fmt.Printf("Outcome: %s\n", res.Outcome)
	}
	if res.Distribution != nil {
		d := res.Distribution
		fmt.Printf("Distribution: id=%s pool=%d mint=%s created_at=%s\n",
			d.ID, d.PoolAmountRaw, d.MintAddress, d.CreatedAt.UTC().Format(time.RFC3339))
	}
	return nil
}

// Backfill runs one bounded backfill pass for a wallet and prints what it did.
func Backfill(ctx context.Context, log *slog.Logger, cfg RewardsConfig, wallet string, maxPairs, maxCreations int) error {
	settler, pool, err := newSettler(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	res, err := settler.Backfill(ctx, wallet, settle.BackfillConfig{
		MaxPairs:     maxPairs,
		MaxCreations: maxCreations,
	})
	if err != nil {
		return fmt.Errorf("backfill failed: %w", err)
	}

	fmt.Printf("Backfill: considered=%d created=%d\n", res.Considered, res.Created)
	return nil
}

func newSettler(ctx context.Context, log *slog.Logger, cfg RewardsConfig) (*settle.Settler, *pgxpool.Pool, error) {
	sslMode := cfg.PG.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.PG.Username, cfg.PG.Password, cfg.PG.Host, cfg.PG.Port, cfg.PG.Database, sslMode,
	)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	reader, err := signals.NewPGReader(signals.PGReaderConfig{Logger: log, Pool: pool})
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to create signals reader: %w", err)
	}

	store, err := distribution.NewStore(distribution.StoreConfig{Logger: log, Pool: pool})
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to create distribution store: %w", err)
	}

	rpc, err := chain.NewRPC(chain.RPCConfig{Logger: log, Endpoint: cfg.RPCEndpoint})
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to create solana rpc client: %w", err)
	}

	settler, err := settle.New(settle.Config{
		Logger:              log,
		Reader:              reader,
		Store:               store,
		Chain:               rpc,
		Mode:                settle.Mode(cfg.Mode),
		VotingCutoff:        cfg.VotingCutoff,
		ParticipationWindow: cfg.ParticipationWindow,
		GraceMisses:         cfg.GraceMisses,
		FixedPerVoteRaw:     cfg.FixedPerVoteRaw,
		PoolRaw:             cfg.PoolRaw,
		MaxPoolRaw:          cfg.MaxPoolRaw,
		MintAddress:         cfg.MintAddress,
		FaucetOwnerAddress:  cfg.FaucetOwnerAddress,
	})
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to create settler: %w", err)
	}

	return settler, pool, nil
}
