package vesting

import (
	"math/big"
	"time"
)

// Schedule is one token-distribution stream's vesting parameters as published by its contract.
// Amounts are token base units. Callers guarantee StartTime <= CliffTime <= EndTime and
// TotalTokens >= InitialAmount; the accountant does not re-check.
type Schedule struct {
	ContractAddress string
	InitialAmount   *big.Int
	LockedAmount    *big.Int
	TotalTokens     *big.Int
	StartTime       time.Time
	CliffTime       time.Time
	EndTime         time.Time
	Stream          Stream
}

// ZeroSchedule is the placeholder used before any snapshot has been fetched. Every figure
// derived from it is zero.
func ZeroSchedule(contractAddress string, at time.Time) Schedule {
	return Schedule{
		ContractAddress: contractAddress,
		InitialAmount:   new(big.Int),
		LockedAmount:    new(big.Int),
		TotalTokens:     new(big.Int),
		StartTime:       at,
		CliffTime:       at,
		EndTime:         at,
	}
}

func orZero(n *big.Int) *big.Int {
	if n == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(n)
}
