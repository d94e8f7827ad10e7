package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/pledgeworks/pledge/admin/internal/admin"
	"github.com/pledgeworks/pledge/utils/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")

	// PostgreSQL configuration
	pgHostFlag := flag.String("pg-host", "localhost", "PostgreSQL host (or set POSTGRES_HOST env var)")
	pgPortFlag := flag.String("pg-port", "5432", "PostgreSQL port (or set POSTGRES_PORT env var)")
	pgDatabaseFlag := flag.String("pg-database", "pledge", "PostgreSQL database name (or set POSTGRES_DB env var)")
	pgUsernameFlag := flag.String("pg-username", "", "PostgreSQL username (or set POSTGRES_USER env var)")
	pgPasswordFlag := flag.String("pg-password", "", "PostgreSQL password (or set POSTGRES_PASSWORD env var)")
	pgSSLModeFlag := flag.String("pg-sslmode", "disable", "PostgreSQL SSL mode (or set POSTGRES_SSLMODE env var)")

	// Solana configuration
	rpcEndpointFlag := flag.String("solana-rpc-endpoint", "", "Solana RPC endpoint (or set SOLANA_RPC_ENDPOINT env var)")
	mintFlag := flag.String("reward-mint", "", "Reward token mint address (or set REWARD_MINT_ADDRESS env var)")
	faucetOwnerFlag := flag.String("faucet-owner", "", "Faucet owner address that funds payouts (or set FAUCET_OWNER_ADDRESS env var)")

	// Payout configuration
	payoutModeFlag := flag.String("payout-mode", "fixed", "Payout mode: 'fixed' (per-vote amount) or 'pool' (split declared pool)")
	fixedPerVoteFlag := flag.Uint64("fixed-per-vote-raw", 0, "Per-vote reward in raw base units (fixed mode)")
	poolRawFlag := flag.Uint64("pool-raw", 0, "Per-milestone pool in raw base units (pool mode)")
	maxPoolRawFlag := flag.Uint64("max-pool-raw", 0, "Cap on the realized pool in fixed mode (0 = uncapped)")
	votingCutoffFlag := flag.Duration("voting-cutoff", 24*time.Hour, "How long a voting window stays open past its anchor")
	participationWindowFlag := flag.Int("participation-window", 0, "How many recent closed milestones feed the streak multiplier")
	graceMissesFlag := flag.Int("grace-misses", 0, "Missed votes charged at the reduced penalty rate")

	// Commands
	pgMigrateFlag := flag.Bool("pg-migrate", false, "Run PostgreSQL database migrations using goose")
	pgMigrateDownFlag := flag.Bool("pg-migrate-down", false, "Roll back the last PostgreSQL migration")
	pgMigrateStatusFlag := flag.Bool("pg-migrate-status", false, "Show PostgreSQL database migration status")
	settleFlag := flag.Bool("settle", false, "Run one settlement attempt for --commitment-id/--milestone-id")
	backfillFlag := flag.Bool("backfill", false, "Run one bounded backfill pass for --wallet")

	// Command options
	commitmentIDFlag := flag.String("commitment-id", "", "Commitment ID for --settle")
	milestoneIDFlag := flag.String("milestone-id", "", "Milestone ID for --settle")
	walletFlag := flag.String("wallet", "", "Wallet address for --backfill")
	maxPairsFlag := flag.Int("max-pairs", 0, "Recent pairs examined per backfill pass (0 = default)")
	maxCreationsFlag := flag.Int("max-creations", 0, "Distributions one backfill pass may create (0 = default)")

	flag.Parse()

	log := logger.New(*verboseFlag)

	// Override PostgreSQL flags with environment variables if set
	if env := os.Getenv("POSTGRES_HOST"); env != "" {
		*pgHostFlag = env
	}
	if env := os.Getenv("POSTGRES_PORT"); env != "" {
		*pgPortFlag = env
	}
	if env := os.Getenv("POSTGRES_DB"); env != "" {
		*pgDatabaseFlag = env
	}
	if env := os.Getenv("POSTGRES_USER"); env != "" {
		*pgUsernameFlag = env
	}
	if env := os.Getenv("POSTGRES_PASSWORD"); env != "" {
		*pgPasswordFlag = env
	}
	if env := os.Getenv("POSTGRES_SSLMODE"); env != "" {
		*pgSSLModeFlag = env
	}

	// Override Solana and payout flags with environment variables if set
	if env := os.Getenv("SOLANA_RPC_ENDPOINT"); env != "" {
		*rpcEndpointFlag = env
	}
	if env := os.Getenv("REWARD_MINT_ADDRESS"); env != "" {
		*mintFlag = env
	}
	if env := os.Getenv("FAUCET_OWNER_ADDRESS"); env != "" {
		*faucetOwnerFlag = env
	}
	if env := os.Getenv("PAYOUT_MODE"); env != "" {
		*payoutModeFlag = env
	}
	if env := os.Getenv("FIXED_PER_VOTE_RAW"); env != "" {
		v, err := strconv.ParseUint(env, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid FIXED_PER_VOTE_RAW: %w", err)
		}
		*fixedPerVoteFlag = v
	}
	if env := os.Getenv("POOL_RAW"); env != "" {
		v, err := strconv.ParseUint(env, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid POOL_RAW: %w", err)
		}
		*poolRawFlag = v
	}
	if env := os.Getenv("MAX_POOL_RAW"); env != "" {
		v, err := strconv.ParseUint(env, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MAX_POOL_RAW: %w", err)
		}
		*maxPoolRawFlag = v
	}

	pgCfg := admin.PgMigrateConfig{
		Host:     *pgHostFlag,
		Port:     *pgPortFlag,
		Database: *pgDatabaseFlag,
		Username: *pgUsernameFlag,
		Password: *pgPasswordFlag,
		SSLMode:  *pgSSLModeFlag,
	}

	// Execute commands
	if *pgMigrateFlag {
		if *pgUsernameFlag == "" {
			return fmt.Errorf("--pg-username is required for --pg-migrate")
		}
		return admin.PgMigrateUp(log, pgCfg)
	}

	if *pgMigrateDownFlag {
		if *pgUsernameFlag == "" {
			return fmt.Errorf("--pg-username is required for --pg-migrate-down")
		}
		return admin.PgMigrateDown(log, pgCfg)
	}

	if *pgMigrateStatusFlag {
		if *pgUsernameFlag == "" {
			return fmt.Errorf("--pg-username is required for --pg-migrate-status")
		}
		return admin.PgMigrateStatus(log, pgCfg)
	}

	rewardsCfg := admin.RewardsConfig{
		PG:                  pgCfg,
		RPCEndpoint:         *rpcEndpointFlag,
		Mode:                *payoutModeFlag,
		VotingCutoff:        *votingCutoffFlag,
		ParticipationWindow: *participationWindowFlag,
		GraceMisses:         *graceMissesFlag,
		FixedPerVoteRaw:     *fixedPerVoteFlag,
		PoolRaw:             *poolRawFlag,
		MaxPoolRaw:          *maxPoolRawFlag,
		MintAddress:         *mintFlag,
		FaucetOwnerAddress:  *faucetOwnerFlag,
	}

	if *settleFlag {
		if *commitmentIDFlag == "" || *milestoneIDFlag == "" {
			return fmt.Errorf("--commitment-id and --milestone-id are required for --settle")
		}
		if *rpcEndpointFlag == "" {
			return fmt.Errorf("--solana-rpc-endpoint is required for --settle")
		}
		return admin.Settle(context.Background(), log, rewardsCfg, *commitmentIDFlag, *milestoneIDFlag)
	}

	if *backfillFlag {
		if *walletFlag == "" {
			return fmt.Errorf("--wallet is required for --backfill")
		}
		if *rpcEndpointFlag == "" {
			return fmt.Errorf("--solana-rpc-endpoint is required for --backfill")
		}
		return admin.Backfill(context.Background(), log, rewardsCfg, *walletFlag, *maxPairsFlag, *maxCreationsFlag)
	}

	flag.Usage()
	return fmt.Errorf("no command specified")
}
