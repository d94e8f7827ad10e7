package settle

import (
	"context"
	"fmt"
	"sync"

	"github.com/pledgeworks/pledge/rewards/pkg/chain"
	"github.com/pledgeworks/pledge/rewards/pkg/distribution"
	"github.com/pledgeworks/pledge/rewards/pkg/signals"
)

type mockReader struct {
	milestonesFunc       func(ctx context.Context, commitmentID string) ([]signals.Milestone, error)
	milestoneSignalsFunc func(ctx context.Context, commitmentID, milestoneID string) ([]signals.Signal, error)
	signalCountsFunc     func(ctx context.Context, commitmentID string, wallets, milestoneIDs []string) (map[string]int, error)
	firstSignalTimesFunc func(ctx context.Context, commitmentID string, wallets []string) (map[string]int64, error)
	recentPairsFunc      func(ctx context.Context, wallet string, limit int) ([]signals.Pair, error)
}

func (m *mockReader) Milestones(ctx context.Context, commitmentID string) ([]signals.Milestone, error) {
	if m.milestonesFunc != nil {
		return m.milestonesFunc(ctx, commitmentID)
	}
	return nil, nil
}

func (m *mockReader) MilestoneSignals(ctx context.Context, commitmentID, milestoneID string) ([]signals.Signal, error) {
	if m.milestoneSignalsFunc != nil {
		return m.milestoneSignalsFunc(ctx, commitmentID, milestoneID)
	}
	return nil, nil
}

func (m *mockReader) SignalCounts(ctx context.Context, commitmentID string, wallets []string, milestoneIDs []string) (map[string]int, error) {
	if m.signalCountsFunc != nil {
		return m.signalCountsFunc(ctx, commitmentID, wallets, milestoneIDs)
	}
	return map[string]int{}, nil
}

func (m *mockReader) FirstSignalTimes(ctx context.Context, commitmentID string, wallets []string) (map[string]int64, error) {
	if m.firstSignalTimesFunc != nil {
		return m.firstSignalTimesFunc(ctx, commitmentID, wallets)
	}
	return map[string]int64{}, nil
}

func (m *mockReader) RecentPairs(ctx context.Context, wallet string, limit int) ([]signals.Pair, error) {
	if m.recentPairsFunc != nil {
		return m.recentPairsFunc(ctx, wallet, limit)
	}
	return nil, nil
}

type mockChain struct {
	mintFactsFunc func(ctx context.Context, mintAddress string) (*chain.MintFacts, error)
}

func (m *mockChain) MintFacts(ctx context.Context, mintAddress string) (*chain.MintFacts, error) {
	if m.mintFactsFunc != nil {
		return m.mintFactsFunc(ctx, mintAddress)
	}
	return &chain.MintFacts{Decimals: 0, TokenProgramAddress: "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"}, nil
}

// memStore reproduces the durable store's contract in memory: the insert is
// a single compare-and-swap under a mutex, distributions and allocations
// commit together, and nothing is ever mutated.
type memStore struct {
	mu          sync.Mutex
	dists       map[string]distribution.Distribution
	allocs      map[string][]distribution.Allocation
	existsErr   error
	insertErr   error
	insertCalls int
}

func newMemStore() *memStore {
	return &memStore{
		dists:  make(map[string]distribution.Distribution),
		allocs: make(map[string][]distribution.Allocation),
	}
}

func pairKey(commitmentID, milestoneID string) string {
	return fmt.Sprintf("%s/%s", commitmentID, milestoneID)
}

func (s *memStore) TryInsert(ctx context.Context, d distribution.Distribution, allocations []distribution.Allocation) (bool, *distribution.Distribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.insertCalls++
	if s.insertErr != nil {
		return false, nil, s.insertErr
	}

	key := pairKey(d.CommitmentID, d.MilestoneID)
	if existing, ok := s.dists[key]; ok {
		return false, &existing, nil
	}
	s.dists[key] = d
	s.allocs[key] = append([]distribution.Allocation(nil), allocations...)
	return true, nil, nil
}

func (s *memStore) Exists(ctx context.Context, commitmentID, milestoneID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.existsErr != nil {
		return false, s.existsErr
	}
	_, ok := s.dists[pairKey(commitmentID, milestoneID)]
	return ok, nil
}

func (s *memStore) get(commitmentID, milestoneID string) (distribution.Distribution, []distribution.Allocation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(commitmentID, milestoneID)
	d, ok := s.dists[key]
	return d, s.allocs[key], ok
}
