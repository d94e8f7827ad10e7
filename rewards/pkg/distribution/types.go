// Package distribution persists immutable settlement records. Each
// (commitment, milestone) pair settles into at most one Distribution, whose
// payout terms never change once written.
package distribution

import (
	"time"

	"github.com/google/uuid"
)

// Status is the distribution lifecycle state. Only StatusOpen is written by
// the reward engine; later transitions happen in the claim pipeline.
type Status string

const (
	StatusOpen Status = "open"
)

// Distribution is the settlement record for one (commitment, milestone)
// pair. Mint, token program, pool amount and faucet owner are immutable for
// the lifetime of the system.
type Distribution struct {
	ID                  uuid.UUID
	CommitmentID        string
	MilestoneID         string
	CreatedAt           time.Time
	MintAddress         string
	TokenProgramAddress string
	Decimals            uint8
	PoolAmountRaw       uint64
	FaucetOwnerAddress  string
	Status              Status
}

// SameTerms reports whether two distributions agree on every immutable
// payout term. Amounts compare as integers, never as floats.
func (d Distribution) SameTerms(other Distribution) bool {
	return d.MintAddress == other.MintAddress &&
		d.TokenProgramAddress == other.TokenProgramAddress &&
		d.PoolAmountRaw == other.PoolAmountRaw &&
		d.FaucetOwnerAddress == other.FaucetOwnerAddress
}

// Allocation is one wallet's immutable share of a distribution.
type Allocation struct {
	DistributionID uuid.UUID
	WalletAddress  string
	AmountRaw      uint64
	// Weight is the float weight the amount was derived from, kept for
	// audit only; the raw amount is authoritative.
	Weight float64
}
