// Package vesting computes token-distribution figures from a vesting schedule.
//
// Every operation is a pure function of the schedule and an explicit point in time: nothing
// here reads the wall clock, blocks or returns an error. Times are compared at millisecond
// resolution and integer amounts truncate toward zero.
package vesting

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// SecondsPerWeek scales per-second stream rates to per-week rates.
const SecondsPerWeek = 604800

var (
	decimalThousand = decimal.NewFromInt(1000)
	decimalWeek     = decimal.NewFromInt(SecondsPerWeek)
	bigHundred      = big.NewInt(100)
)

// Accountant answers vesting queries for a single immutable schedule.
type Accountant struct {
	schedule Schedule

	startMs    int64
	cliffMs    int64
	endMs      int64
	durationMs int64
}

func NewAccountant(s Schedule) *Accountant {
	s.InitialAmount = orZero(s.InitialAmount)
	s.LockedAmount = orZero(s.LockedAmount)
	s.TotalTokens = orZero(s.TotalTokens)

	a := &Accountant{
		schedule: s,
		startMs:  s.StartTime.UnixMilli(),
		cliffMs:  s.CliffTime.UnixMilli(),
		endMs:    s.EndTime.UnixMilli(),
	}
	a.durationMs = a.endMs - a.startMs
	return a
}

// Schedule returns a copy of the schedule the accountant was built from.
func (a *Accountant) Schedule() Schedule {
	s := a.schedule
	s.InitialAmount = orZero(s.InitialAmount)
	s.LockedAmount = orZero(s.LockedAmount)
	s.TotalTokens = orZero(s.TotalTokens)
	return s
}

func (a *Accountant) Stream() Stream { return a.schedule.Stream }

func (a *Accountant) Duration() time.Duration {
	return time.Duration(a.durationMs) * time.Millisecond
}

func (a *Accountant) remainingMs(now time.Time) int64 {
	return max(a.endMs-now.UnixMilli(), 0)
}

// Remaining is the time left until the end of the schedule, never negative.
func (a *Accountant) Remaining(now time.Time) time.Duration {
	return time.Duration(a.remainingMs(now)) * time.Millisecond
}

// PercentComplete is the elapsed share of the schedule's duration, in [0, 100].
func (a *Accountant) PercentComplete(now time.Time) float64 {
	if a.durationMs <= 0 {
		if now.UnixMilli() >= a.endMs {
			return 100
		}
		return 0
	}
	elapsed := max(a.durationMs-a.remainingMs(now), 0)
	return float64(elapsed) / float64(a.durationMs) * 100
}

// GloballyClaimable is the amount of the whole distribution released at now. Nothing is
// released before the start, exactly the initial amount up to and including the cliff, and
// everything after the end. In between the locked amount is released linearly over
// [start, end]; the cliff gates visibility but does not move the ramp's origin.
func (a *Accountant) GloballyClaimable(now time.Time) *big.Int {
	s := a.schedule
	t := now.UnixMilli()

	if t < a.startMs {
		return new(big.Int)
	}
	if t <= a.cliffMs {
		return new(big.Int).Set(s.InitialAmount)
	}
	if t > a.endMs {
		return new(big.Int).Set(s.TotalTokens)
	}

	released := new(big.Int).Mul(s.LockedAmount, big.NewInt(t-a.startMs))
	released.Quo(released, big.NewInt(a.durationMs))
	return released.Add(released, s.InitialAmount)
}

// LiquidPart is the share of amount that is claimable at now, proportional to the global
// release. A zero-supply schedule has no liquid part.
func (a *Accountant) LiquidPart(amount *big.Int, now time.Time) *big.Int {
	if a.schedule.TotalTokens.Sign() == 0 || amount == nil {
		return new(big.Int)
	}
	liquid := a.GloballyClaimable(now)
	liquid.Mul(liquid, amount)
	return liquid.Quo(liquid, a.schedule.TotalTokens)
}

// StreamPerSecond is the rate at which the still-locked part of amount unlocks between now
// and the end of the schedule. It is a display figure and is not truncated to base units.
func (a *Accountant) StreamPerSecond(amount *big.Int, now time.Time) decimal.Decimal {
	remaining := a.remainingMs(now)
	if remaining <= 0 || amount == nil {
		return decimal.Zero
	}
	locked := new(big.Int).Sub(amount, a.LiquidPart(amount, now))
	return decimal.NewFromBigInt(locked, 0).
		Mul(decimalThousand).
		Div(decimal.NewFromInt(remaining))
}

// StreamPerWeek is StreamPerSecond scaled to one week.
func (a *Accountant) StreamPerWeek(amount *big.Int, now time.Time) decimal.Decimal {
	return a.StreamPerSecond(amount, now).Mul(decimalWeek)
}

// UserClaimable is what an account can claim now on this schedule's stream: its liquid
// allocation minus what it already claimed. The result is negative when the snapshot is
// inconsistent with the schedule (e.g. stale); it is deliberately not clamped here.
func (a *Accountant) UserClaimable(b Balances, now time.Time) *big.Int {
	alloc := b.Allocation(a.schedule.Stream)
	liquid := a.LiquidPart(alloc.Allocated, now)
	return liquid.Sub(liquid, alloc.Claimed)
}

// GlobalReleasePercentage is the globally claimable amount as a percentage of the total.
func (a *Accountant) GlobalReleasePercentage(now time.Time) decimal.Decimal {
	total := a.schedule.TotalTokens
	if total.Sign() == 0 {
		return decimal.Zero
	}
	claimable := new(big.Int).Mul(a.GloballyClaimable(now), bigHundred)
	return decimal.NewFromBigInt(claimable, 0).Div(decimal.NewFromBigInt(total, 0))
}

// Figures is the global state of a schedule at one instant.
type Figures struct {
	At                      time.Time
	Remaining               time.Duration
	PercentComplete         float64
	GloballyClaimable       *big.Int
	GlobalReleasePercentage decimal.Decimal
}

func (a *Accountant) Figures(now time.Time) Figures {
	return Figures{
		At:                      now,
		Remaining:               a.Remaining(now),
		PercentComplete:         a.PercentComplete(now),
		GloballyClaimable:       a.GloballyClaimable(now),
		GlobalReleasePercentage: a.GlobalReleasePercentage(now),
	}
}

// AccountFigures is one account's position on a schedule at one instant.
type AccountFigures struct {
	At        time.Time
	Allocated *big.Int
	Claimed   *big.Int
	Liquid    *big.Int
	Locked    *big.Int
	// Claimable is signed; see UserClaimable.
	Claimable       *big.Int
	StreamPerSecond decimal.Decimal
	StreamPerWeek   decimal.Decimal
}

func (a *Accountant) AccountFigures(b Balances, now time.Time) AccountFigures {
	alloc := b.Allocation(a.schedule.Stream)
	liquid := a.LiquidPart(alloc.Allocated, now)
	perSecond := a.StreamPerSecond(alloc.Allocated, now)
	return AccountFigures{
		At:              now,
		Allocated:       alloc.Allocated,
		Claimed:         alloc.Claimed,
		Liquid:          liquid,
		Locked:          new(big.Int).Sub(alloc.Allocated, liquid),
		Claimable:       new(big.Int).Sub(liquid, alloc.Claimed),
		StreamPerSecond: perSecond,
		StreamPerWeek:   perSecond.Mul(decimalWeek),
	}
}
