package distribution_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	apitesting "github.com/pledgeworks/pledge/api/testing"
	"github.com/pledgeworks/pledge/rewards/pkg/distribution"
	pledgetesting "github.com/pledgeworks/pledge/utils/pkg/testing"
)

func newTestStore(t *testing.T) *distribution.Store {
	t.Helper()
	pool := apitesting.NewTestPool(t, testDB)
	store, err := distribution.NewStore(distribution.StoreConfig{
		Logger: pledgetesting.NewLogger(),
		Pool:   pool,
	})
	require.NoError(t, err)
	return store
}

func newDistribution(commitmentID, milestoneID string, poolRaw uint64) distribution.Distribution {
	return distribution.Distribution{
		ID:                  uuid.New(),
		CommitmentID:        commitmentID,
		MilestoneID:         milestoneID,
		CreatedAt:           time.Now().UTC().Truncate(time.Microsecond),
		MintAddress:         "So11111111111111111111111111111111111111112",
		TokenProgramAddress: "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
		Decimals:            9,
		PoolAmountRaw:       poolRaw,
		FaucetOwnerAddress:  "FaucetOwner11111111111111111111111111111111",
		Status:              distribution.StatusOpen,
	}
}

func TestPledge_Distribution_Store_TryInsert(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := t.Context()

	d := newDistribution("commitment-insert", "milestone-1", 3000)
	allocs := []distribution.Allocation{
		{DistributionID: d.ID, WalletAddress: "walletB", AmountRaw: 1000, Weight: 1},
		{DistributionID: d.ID, WalletAddress: "walletA", AmountRaw: 2000, Weight: 2},
	}

	created, existing, err := store.TryInsert(ctx, d, allocs)
	require.NoError(t, err)
	require.True(t, created)
	require.Nil(t, existing)

	got, err := store.Get(ctx, d.CommitmentID, d.MilestoneID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, d.ID, got.ID)
	require.Equal(t, d.PoolAmountRaw, got.PoolAmountRaw)
	require.Equal(t, d.Decimals, got.Decimals)
	require.Equal(t, distribution.StatusOpen, got.Status)
	require.True(t, got.SameTerms(d))

	gotAllocs, err := store.Allocations(ctx, d.ID.String())
	require.NoError(t, err)
	require.Len(t, gotAllocs, 2)
	// Ordered by amount descending.
	require.Equal(t, "walletA", gotAllocs[0].WalletAddress)
	require.Equal(t, uint64(2000), gotAllocs[0].AmountRaw)
	require.Equal(t, "walletB", gotAllocs[1].WalletAddress)

	exists, err := store.Exists(ctx, d.CommitmentID, d.MilestoneID)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestPledge_Distribution_Store_TryInsertIdempotent(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := t.Context()

	first := newDistribution("commitment-idem", "milestone-1", 5000)
	created, _, err := store.TryInsert(ctx, first, []distribution.Allocation{
		{DistributionID: first.ID, WalletAddress: "walletA", AmountRaw: 5000, Weight: 1},
	})
	require.NoError(t, err)
	require.True(t, created)

	// A second attempt with a fresh ID loses to the canonical row.
	second := newDistribution("commitment-idem", "milestone-1", 5000)
	created, existing, err := store.TryInsert(ctx, second, []distribution.Allocation{
		{DistributionID: second.ID, WalletAddress: "walletA", AmountRaw: 5000, Weight: 1},
	})
	require.NoError(t, err)
	require.False(t, created)
	require.NotNil(t, existing)
	require.Equal(t, first.ID, existing.ID)
	require.True(t, existing.SameTerms(second))

	// The loser's allocations were not written.
	allocs, err := store.Allocations(ctx, second.ID.String())
	require.NoError(t, err)
	require.Empty(t, allocs)
}

func TestPledge_Distribution_Store_TryInsertConcurrent(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := t.Context()

	const attempts = 8
	var wg sync.WaitGroup
	results := make([]bool, attempts)
	errs := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := newDistribution("commitment-race", "milestone-1", 7000)
			created, _, err := store.TryInsert(ctx, d, []distribution.Allocation{
				{DistributionID: d.ID, WalletAddress: fmt.Sprintf("wallet%d", i), AmountRaw: 7000, Weight: 1},
			})
			results[i] = created
			errs[i] = err
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < attempts; i++ {
		require.NoError(t, errs[i])
		if results[i] {
			winners++
		}
	}
	require.Equal(t, 1, winners, "exactly one concurrent attempt should create the distribution")

	got, err := store.Get(ctx, "commitment-race", "milestone-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	allocs, err := store.Allocations(ctx, got.ID.String())
	require.NoError(t, err)
	require.Len(t, allocs, 1, "only the winner's allocations should exist")
}

func TestPledge_Distribution_Store_GetMissing(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := t.Context()

	got, err := store.Get(ctx, "commitment-missing", "milestone-1")
	require.NoError(t, err)
	require.Nil(t, got)

	exists, err := store.Exists(ctx, "commitment-missing", "milestone-1")
	require.NoError(t, err)
	require.False(t, exists)
}
