// Package payout computes per-wallet raw-unit reward allocations for a
// single milestone settlement. All persisted amounts are unsigned integers;
// floating point is used only for ratio math and never reaches storage.
package payout

import (
	"sort"

	"github.com/pledgeworks/pledge/rewards/pkg/signals"
)

// MaxSafeRaw is the largest raw amount the engine will persist. Amounts
// above it fail closed into "no distribution".
const MaxSafeRaw uint64 = 1<<53 - 1

// bpsScale converts ship-multiplier basis points to a ratio.
const bpsScale = 10_000.0

// Allocation is one wallet's computed share, not yet persisted.
type Allocation struct {
	WalletAddress string
	AmountRaw     uint64
	// Weight is the float weight the amount was derived from, retained for
	// audit only.
	Weight float64
}

// Result is a fully computed candidate distribution. A nil Result means the
// milestone is ineligible: nothing to pay, or amounts that would be unsafe
// to persist.
type Result struct {
	PoolAmountRaw uint64
	Allocations   []Allocation
}

// FixedParams configures fixed (per-vote) mode.
type FixedParams struct {
	// PerVoteRaw is the configured raw reward per vote before multipliers.
	PerVoteRaw uint64
	// MaxPoolRaw caps the realized pool; 0 disables the cap.
	MaxPoolRaw uint64
}

// Fixed computes allocations in fixed mode: each signal earns a configured
// per-vote amount scaled by the signal's ship multiplier and the wallet's
// participation multiplier. The pool is discovered as the sum of the
// individual amounts.
func Fixed(sigs []signals.Signal, multipliers map[string]float64, params FixedParams) *Result {
	if params.PerVoteRaw == 0 || params.PerVoteRaw > MaxSafeRaw {
		return nil
	}

	amounts := make(map[string]uint64)
	weights := make(map[string]float64)
	var order []string
	var pool uint64

	for _, sig := range sigs {
		if sig.ShipMultiplierBps <= 0 {
			continue
		}
		eff := float64(sig.ShipMultiplierBps) / bpsScale * multipliers[sig.WalletAddress]
		if eff <= 0 {
			continue
		}
		product := float64(params.PerVoteRaw) * eff
		if product > float64(MaxSafeRaw) {
			// Converting an out-of-range float to uint64 is
			// implementation-defined; refuse before it happens.
			return nil
		}
		amount := uint64(product)
		if amount == 0 {
			continue
		}

		if _, seen := amounts[sig.WalletAddress]; !seen {
			order = append(order, sig.WalletAddress)
		}
		amounts[sig.WalletAddress] += amount
		weights[sig.WalletAddress] += eff
		pool += amount
		if pool > MaxSafeRaw {
			return nil
		}
	}

	if pool == 0 {
		return nil
	}
	if params.MaxPoolRaw > 0 && pool > params.MaxPoolRaw {
		return nil
	}

	sort.Strings(order)
	allocations := make([]Allocation, 0, len(order))
	for _, wallet := range order {
		allocations = append(allocations, Allocation{
			WalletAddress: wallet,
			AmountRaw:     amounts[wallet],
			Weight:        weights[wallet],
		})
	}

	return &Result{PoolAmountRaw: pool, Allocations: allocations}
}

// PoolParams configures pool mode.
type PoolParams struct {
	// PoolRaw is the pre-declared total raw pool shared by all voters.
	PoolRaw uint64
}

// Pool computes allocations in pool mode: the declared pool is split by
// stake-derived weight. Flooring remainders are assigned entirely to the
// first wallet in the deterministic order (weight descending, then address
// ascending), so the allocation sum always equals the declared pool.
func Pool(sigs []signals.Signal, multipliers map[string]float64, params PoolParams) *Result {
	if params.PoolRaw == 0 || params.PoolRaw > MaxSafeRaw {
		return nil
	}

	weights := make(map[string]float64)
	for _, sig := range sigs {
		if sig.ShipMultiplierBps <= 0 {
			continue
		}
		w := float64(sig.BaseWeightedAmount) * float64(sig.ShipMultiplierBps) / bpsScale * multipliers[sig.WalletAddress]
		if w <= 0 {
			continue
		}
		weights[sig.WalletAddress] += w
	}

	var totalWeight float64
	eligible := make([]Allocation, 0, len(weights))
	for wallet, w := range weights {
		eligible = append(eligible, Allocation{WalletAddress: wallet, Weight: w})
		totalWeight += w
	}
	if totalWeight <= 0 {
		return nil
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Weight != eligible[j].Weight {
			return eligible[i].Weight > eligible[j].Weight
		}
		return eligible[i].WalletAddress < eligible[j].WalletAddress
	})

	var sum uint64
	for i := range eligible {
		amount := uint64(float64(params.PoolRaw) * (eligible[i].Weight / totalWeight))
		eligible[i].AmountRaw = amount
		sum += amount
	}
	if sum > params.PoolRaw {
		// Float rounding pushed a share past its exact value; refuse to
		// invent units.
		return nil
	}

	// Rounding dust lands on the first wallet in sorted order.
	eligible[0].AmountRaw += params.PoolRaw - sum

	allocations := eligible[:0:len(eligible)]
	for _, a := range eligible {
		if a.AmountRaw == 0 {
			continue
		}
		allocations = append(allocations, a)
	}
	if len(allocations) == 0 {
		return nil
	}

	return &Result{PoolAmountRaw: params.PoolRaw, Allocations: allocations}
}
