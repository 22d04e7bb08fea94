package vesting

import "math/big"

// Allocation is what one account was allocated on a stream and how much of it has been claimed.
type Allocation struct {
	Allocated *big.Int
	Claimed   *big.Int
}

// Balances is an account's on-chain state at some point in time, as reported by the indexer.
// It is read-only input to the accountant.
type Balances struct {
	AllocatedTokens *big.Int
	Claimed         *big.Int
	// Streams holds the per-stream pairs for named streams, keyed by stream tag.
	Streams map[string]Allocation
}

// Allocation selects the allocated/claimed pair for a stream. Missing values read as zero.
func (b Balances) Allocation(s Stream) Allocation {
	var a Allocation
	if s.IsDefault() {
		a = Allocation{Allocated: b.AllocatedTokens, Claimed: b.Claimed}
	} else {
		a = b.Streams[s.Tag()]
	}
	if a.Allocated == nil {
		a.Allocated = new(big.Int)
	}
	if a.Claimed == nil {
		a.Claimed = new(big.Int)
	}
	return a
}
