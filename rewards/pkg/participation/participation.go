// Package participation computes per-wallet streak multipliers from voting
// history over a bounded window of recently closed milestones. Consistent
// voters keep the maximum multiplier; wallets that skip votes they had the
// chance to cast are penalized down to a floor.
package participation

const (
	// DefaultWindowSize is the number of recent closed milestones considered.
	DefaultWindowSize = 20
	// DefaultGraceMisses is the number of misses charged at the lower rate.
	DefaultGraceMisses = 2

	// MaxMultiplier and MinMultiplier bound the computed multiplier.
	MaxMultiplier = 2.0
	MinMultiplier = 0.5

	graceMissPenalty = 0.05
	missPenalty      = 0.10
)

// ClosedMilestone is one entry in the recent-history window: a milestone
// whose voting window has closed, with its close time.
type ClosedMilestone struct {
	MilestoneID string
	ClosedUnix  int64
}

// WalletHistory is the per-wallet voting history over the window.
type WalletHistory struct {
	// FirstSignalUnix is the wallet's first-ever signal time on the
	// commitment, or 0 if unknown. With no recorded first-seen time every
	// milestone in the window counts as an opportunity.
	FirstSignalUnix int64
	// Votes is how many of the window's milestones the wallet signaled on.
	Votes int
}

// Multiplier computes the streak multiplier for a single wallet. A milestone
// counts as an opportunity only if its window closed at or after the
// wallet's first signal time; a wallet is never penalized for votes that
// closed before it ever participated.
func Multiplier(recent []ClosedMilestone, hist WalletHistory, graceMisses int) float64 {
	opportunities := 0
	for _, m := range recent {
		if hist.FirstSignalUnix == 0 || m.ClosedUnix >= hist.FirstSignalUnix {
			opportunities++
		}
	}

	misses := opportunities - hist.Votes
	if misses < 0 {
		misses = 0
	}

	graced := misses
	if graced > graceMisses {
		graced = graceMisses
	}
	penalty := float64(graced)*graceMissPenalty + float64(misses-graced)*missPenalty

	mult := MaxMultiplier - penalty
	if mult < MinMultiplier {
		mult = MinMultiplier
	}
	if mult > MaxMultiplier {
		mult = MaxMultiplier
	}
	return mult
}

// Multipliers computes multipliers for a set of wallets in one pass.
// Wallets absent from histories are treated as having no recorded history.
func Multipliers(recent []ClosedMilestone, histories map[string]WalletHistory, graceMisses int) map[string]float64 {
	out := make(map[string]float64, len(histories))
	for wallet, hist := range histories {
		out[wallet] = Multiplier(recent, hist, graceMisses)
	}
	return out
}
