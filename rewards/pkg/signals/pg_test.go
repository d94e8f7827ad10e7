package signals_test

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	apitesting "github.com/pledgeworks/pledge/api/testing"
	"github.com/pledgeworks/pledge/rewards/pkg/signals"
	pledgetesting "github.com/pledgeworks/pledge/utils/pkg/testing"
)

func newTestReader(t *testing.T) (*signals.PGReader, *pgxpool.Pool) {
	t.Helper()
	pool := apitesting.NewTestPool(t, testDB)
	reader, err := signals.NewPGReader(signals.PGReaderConfig{
		Logger: pledgetesting.NewLogger(),
		Pool:   pool,
	})
	require.NoError(t, err)
	return reader, pool
}

func seedMilestone(t *testing.T, pool *pgxpool.Pool, id, commitmentID, kind string, completedAt *time.Time, createdAt time.Time) {
	t.Helper()
	_, err := pool.Exec(t.Context(), `
		INSERT INTO milestones (id, commitment_id, kind, completed_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id, commitmentID, kind, completedAt, createdAt)
	require.NoError(t, err)
}

func seedSignal(t *testing.T, pool *pgxpool.Pool, commitmentID, milestoneID, wallet string, baseWeighted int64, bps int64, createdAt time.Time) {
	t.Helper()
	_, err := pool.Exec(t.Context(), `
		INSERT INTO vote_signals (commitment_id, milestone_id, wallet_address, base_weighted_amount, ship_multiplier_bps, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, commitmentID, milestoneID, wallet, baseWeighted, bps, createdAt)
	require.NoError(t, err)
}

func TestPledge_Signals_PGReader_Milestones(t *testing.T) {
	t.Parallel()

	reader, pool := newTestReader(t)
	ctx := t.Context()

	completed := time.Now().UTC().Truncate(time.Microsecond)
	seedMilestone(t, pool, "m1", "commitment-milestones", string(signals.KindHolderVote), &completed, completed.Add(-2*time.Hour))
	seedMilestone(t, pool, "m2", "commitment-milestones", string(signals.KindMarketCapAuto), nil, completed.Add(-time.Hour))

	milestones, err := reader.Milestones(ctx, "commitment-milestones")
	require.NoError(t, err)
	require.Len(t, milestones, 2)

	require.Equal(t, "m1", milestones[0].ID)
	require.Equal(t, signals.KindHolderVote, milestones[0].Kind)
	require.NotNil(t, milestones[0].CompletedAt)
	require.Equal(t, completed, milestones[0].CompletedAt.UTC())
	require.False(t, milestones[0].Automated())

	require.Equal(t, "m2", milestones[1].ID)
	require.True(t, milestones[1].Automated())
	require.Nil(t, milestones[1].CompletedAt)

	none, err := reader.Milestones(ctx, "commitment-unknown")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestPledge_Signals_PGReader_MilestoneSignals(t *testing.T) {
	t.Parallel()

	reader, pool := newTestReader(t)
	ctx := t.Context()

	base := time.Now().UTC().Truncate(time.Microsecond)
	seedSignal(t, pool, "commitment-sigs", "m1", "walletA", 1_000_000, 15000, base)
	seedSignal(t, pool, "commitment-sigs", "m1", "walletB", 500_000, 10000, base.Add(time.Second))
	seedSignal(t, pool, "commitment-sigs", "m2", "walletA", 250_000, 10000, base.Add(2*time.Second))

	sigs, err := reader.MilestoneSignals(ctx, "commitment-sigs", "m1")
	require.NoError(t, err)
	require.Len(t, sigs, 2)

	require.Equal(t, "walletA", sigs[0].WalletAddress)
	require.Equal(t, uint64(1_000_000), sigs[0].BaseWeightedAmount)
	require.Equal(t, int64(15000), sigs[0].ShipMultiplierBps)
	require.Equal(t, "walletB", sigs[1].WalletAddress)
}

func TestPledge_Signals_PGReader_SignalCounts(t *testing.T) {
	t.Parallel()

	reader, pool := newTestReader(t)
	ctx := t.Context()

	base := time.Now().UTC().Truncate(time.Microsecond)
	seedSignal(t, pool, "commitment-counts", "m1", "walletA", 100, 10000, base)
	seedSignal(t, pool, "commitment-counts", "m2", "walletA", 100, 10000, base.Add(time.Second))
	seedSignal(t, pool, "commitment-counts", "m3", "walletA", 100, 10000, base.Add(2*time.Second))
	seedSignal(t, pool, "commitment-counts", "m1", "walletB", 100, 10000, base)

	counts, err := reader.SignalCounts(ctx, "commitment-counts",
		[]string{"walletA", "walletB", "walletC"}, []string{"m1", "m2"})
	require.NoError(t, err)
	require.Equal(t, 2, counts["walletA"], "m3 is outside the requested milestones")
	require.Equal(t, 1, counts["walletB"])
	_, ok := counts["walletC"]
	require.False(t, ok, "wallets with no signals have no entry")

	empty, err := reader.SignalCounts(ctx, "commitment-counts", nil, []string{"m1"})
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestPledge_Signals_PGReader_FirstSignalTimes(t *testing.T) {
	t.Parallel()

	reader, pool := newTestReader(t)
	ctx := t.Context()

	first := time.Unix(1_700_000_000, 0).UTC()
	seedSignal(t, pool, "commitment-first", "m1", "walletA", 100, 10000, first.Add(time.Hour))
	seedSignal(t, pool, "commitment-first", "m2", "walletA", 100, 10000, first)
	seedSignal(t, pool, "commitment-first", "m1", "walletB", 100, 10000, first.Add(2*time.Hour))

	times, err := reader.FirstSignalTimes(ctx, "commitment-first", []string{"walletA", "walletB"})
	require.NoError(t, err)
	require.Equal(t, first.Unix(), times["walletA"])
	require.Equal(t, first.Add(2*time.Hour).Unix(), times["walletB"])
}

func TestPledge_Signals_PGReader_RecentPairs(t *testing.T) {
	t.Parallel()

	reader, pool := newTestReader(t)
	ctx := t.Context()

	base := time.Now().UTC().Truncate(time.Microsecond)
	seedSignal(t, pool, "commitment-recent-1", "m1", "walletRecent", 100, 10000, base.Add(-3*time.Hour))
	seedSignal(t, pool, "commitment-recent-1", "m2", "walletRecent", 100, 10000, base.Add(-2*time.Hour))
	seedSignal(t, pool, "commitment-recent-2", "m1", "walletRecent", 100, 10000, base.Add(-time.Hour))

	pairs, err := reader.RecentPairs(ctx, "walletRecent", 2)
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	// Most recent activity first.
	require.Equal(t, signals.Pair{CommitmentID: "commitment-recent-2", MilestoneID: "m1"}, pairs[0])
	require.Equal(t, signals.Pair{CommitmentID: "commitment-recent-1", MilestoneID: "m2"}, pairs[1])

	all, err := reader.RecentPairs(ctx, "walletRecent", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
}
