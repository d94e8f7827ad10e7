package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" // Register pprof handlers
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/pledgeworks/pledge/api/config"
	"github.com/pledgeworks/pledge/api/handlers"
	"github.com/pledgeworks/pledge/api/metrics"
	"github.com/pledgeworks/pledge/rewards/pkg/chain"
	"github.com/pledgeworks/pledge/rewards/pkg/distribution"
	"github.com/pledgeworks/pledge/rewards/pkg/settle"
	"github.com/pledgeworks/pledge/rewards/pkg/signals"
	"github.com/pledgeworks/pledge/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr  = "0.0.0.0:8080"
	defaultMetricsAddr = "0.0.0.0:0"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	enablePprofFlag := flag.Bool("enable-pprof", false, "Enable pprof server")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "Address to listen on for HTTP requests")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "Address to listen on for prometheus metrics")
	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", 30*time.Second, "Maximum time to wait for in-flight requests during graceful shutdown")

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

	// Backfill bounds
	backfillPairsFlag := flag.Int("backfill-max-pairs", settle.DefaultBackfillPairs, "Recent pairs examined per backfill request")
	backfillCreationsFlag := flag.Int("backfill-max-creations", settle.DefaultBackfillCreations, "Distributions one backfill request may create")

	flag.Parse()

	// Optional .env for local development.
	_ = godotenv.Load()

	log := logger.New(*verboseFlag)

	// Override flags with environment variables if set
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

	if *rpcEndpointFlag == "" {
		return fmt.Errorf("--solana-rpc-endpoint is required")
	}

	// Sentry error reporting, enabled when a DSN is configured.
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		environment := os.Getenv("SENTRY_ENVIRONMENT")
		if environment == "" {
			environment = "development"
		}
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         dsn,
			Environment: environment,
			Release:     version,
		}); err != nil {
			return fmt.Errorf("failed to initialize sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	if err := config.LoadPostgres(); err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer config.ClosePostgres()

	reader, err := signals.NewPGReader(signals.PGReaderConfig{
		Logger: log,
		Pool:   config.PgPool,
	})
	if err != nil {
		return fmt.Errorf("failed to create signals reader: %w", err)
	}

	store, err := distribution.NewStore(distribution.StoreConfig{
		Logger: log,
		Pool:   config.PgPool,
	})
	if err != nil {
		return fmt.Errorf("failed to create distribution store: %w", err)
	}

	rpc, err := chain.NewRPC(chain.RPCConfig{
		Logger:   log,
		Endpoint: *rpcEndpointFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create solana rpc client: %w", err)
	}

	settler, err := settle.New(settle.Config{
		Logger:              log,
		Reader:              reader,
		Store:               store,
		Chain:               rpc,
		Mode:                settle.Mode(*payoutModeFlag),
		VotingCutoff:        *votingCutoffFlag,
		ParticipationWindow: *participationWindowFlag,
		GraceMisses:         *graceMissesFlag,
		FixedPerVoteRaw:     *fixedPerVoteFlag,
		PoolRaw:             *poolRawFlag,
		MaxPoolRaw:          *maxPoolRawFlag,
		MintAddress:         *mintFlag,
		FaucetOwnerAddress:  *faucetOwnerFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create settler: %w", err)
	}

	rewards, err := handlers.NewRewards(handlers.RewardsConfig{
		Logger:  log,
		Settler: settler,
		Store:   store,
		Backfill: settle.BackfillConfig{
			MaxPairs:     *backfillPairsFlag,
			MaxCreations: *backfillCreationsFlag,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create rewards handlers: %w", err)
	}

	// Start pprof server if enabled
	if *enablePprofFlag {
		go func() {
			log.Info("starting pprof server", "address", "localhost:6060")
			if err := http.ListenAndServe("localhost:6060", nil); err != nil {
				log.Error("failed to start pprof server", "error", err)
			}
		}()
	}

	// Start metrics server
	if *metricsAddrFlag != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go func() {
			listener, err := net.Listen("tcp", *metricsAddrFlag)
			if err != nil {
				log.Error("failed to start prometheus metrics server listener", "error", err)
				return
			}
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, mux); err != nil {
				log.Error("failed to start prometheus metrics server", "error", err)
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	router := newRouter(rewards)
	srv := &http.Server{
		Addr:         *listenAddrFlag,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("rewards API listening", "address", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down", "timeout", *shutdownTimeoutFlag)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), *shutdownTimeoutFlag)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newRouter(rewards *handlers.Rewards) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"version":%q,"commit":%q,"date":%q}`, version, commit, date)
	})

	r.Route("/v1/rewards", func(r chi.Router) {
		r.With(handlers.BackfillRateLimitMiddleware).Post("/backfill/{wallet}", rewards.Backfill)
		r.Get("/distributions/{commitmentID}/{milestoneID}", rewards.GetDistribution)
	})

	return r
}
