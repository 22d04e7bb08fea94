package vesting

import (
	"math/big"
	"math/rand/v2"
	"testing"
	"time"

	givtesting "github.com/giveconomy/givstream/utils/pkg/testing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var t0 = givtesting.Epoch

func linearSchedule() Schedule {
	return Schedule{
		ContractAddress: "0xdistro",
		InitialAmount:   big.NewInt(0),
		LockedAmount:    big.NewInt(1000),
		TotalTokens:     big.NewInt(1000),
		StartTime:       t0,
		CliffTime:       t0,
		EndTime:         t0.Add(100 * time.Second),
	}
}

func cliffSchedule() Schedule {
	return Schedule{
		InitialAmount: big.NewInt(250),
		LockedAmount:  big.NewInt(750),
		TotalTokens:   big.NewInt(1000),
		StartTime:     t0,
		CliffTime:     t0.Add(30 * 24 * time.Hour),
		EndTime:       t0.Add(365 * 24 * time.Hour),
	}
}

func TestGivstream_Vesting_GloballyClaimable(t *testing.T) {
	t.Parallel()

	t.Run("linear midpoint", func(t *testing.T) {
		t.Parallel()
		a := NewAccountant(linearSchedule())
		require.Equal(t, "500", a.GloballyClaimable(t0.Add(50*time.Second)).String())
	})

	t.Run("past the end is fully vested", func(t *testing.T) {
		t.Parallel()
		a := NewAccountant(linearSchedule())
		require.Equal(t, "1000", a.GloballyClaimable(t0.Add(150*time.Second)).String())
	})

	t.Run("exactly at the end is fully vested by interpolation", func(t *testing.T) {
		t.Parallel()
		a := NewAccountant(linearSchedule())
		require.Equal(t, "1000", a.GloballyClaimable(t0.Add(100*time.Second)).String())
	})

	t.Run("zero before start", func(t *testing.T) {
		t.Parallel()
		a := NewAccountant(cliffSchedule())
		for _, d := range []time.Duration{time.Millisecond, time.Hour, 400 * 24 * time.Hour} {
			require.Zero(t, a.GloballyClaimable(t0.Add(-d)).Sign())
		}
	})

	t.Run("initial amount from start through cliff", func(t *testing.T) {
		t.Parallel()
		a := NewAccountant(cliffSchedule())
		for _, d := range []time.Duration{0, time.Hour, 29 * 24 * time.Hour, 30 * 24 * time.Hour} {
			require.Equal(t, "250", a.GloballyClaimable(t0.Add(d)).String(), "offset %s", d)
		}
	})

	t.Run("ramp is anchored at start, not cliff", func(t *testing.T) {
		t.Parallel()
		a := NewAccountant(cliffSchedule())
		// One millisecond after the cliff, 30 days' worth of the locked pool is already released.
		got := a.GloballyClaimable(t0.Add(30*24*time.Hour + time.Millisecond))
		require.Equal(t, "311", got.String()) // 250 + 750*30/365 truncated
	})

	t.Run("integer division truncates", func(t *testing.T) {
		t.Parallel()
		s := linearSchedule()
		s.LockedAmount = big.NewInt(7)
		s.TotalTokens = big.NewInt(7)
		a := NewAccountant(s)
		// 7 * 50001 / 100000 = 3.50007
		require.Equal(t, "3", a.GloballyClaimable(t0.Add(50001*time.Millisecond)).String())
	})
}

func TestGivstream_Vesting_GloballyClaimableIsMonotonic(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 20; i++ {
		initial := r.Int64N(1_000_000)
		locked := r.Int64N(1_000_000_000)
		start := t0.Add(time.Duration(r.Int64N(1000)) * time.Second)
		cliff := start.Add(time.Duration(r.Int64N(1000)) * time.Second)
		end := cliff.Add(time.Duration(1+r.Int64N(100_000)) * time.Second)
		a := NewAccountant(Schedule{
			InitialAmount: big.NewInt(initial),
			LockedAmount:  big.NewInt(locked),
			TotalTokens:   big.NewInt(initial + locked),
			StartTime:     start,
			CliffTime:     cliff,
			EndTime:       end,
		})

		prev := a.GloballyClaimable(start.Add(-time.Hour))
		for now := start.Add(-time.Minute); now.Before(end.Add(time.Hour)); now = now.Add(time.Duration(1+r.Int64N(5000)) * time.Second) {
			cur := a.GloballyClaimable(now)
			require.GreaterOrEqual(t, cur.Cmp(prev), 0, "claimable decreased at %s", now)
			prev = cur
		}
		require.Equal(t, big.NewInt(initial+locked), a.GloballyClaimable(end.Add(time.Millisecond)))
	}
}

func TestGivstream_Vesting_PercentComplete(t *testing.T) {
	t.Parallel()

	a := NewAccountant(linearSchedule())
	require.Equal(t, 0.0, a.PercentComplete(t0.Add(-time.Hour)))
	require.Equal(t, 0.0, a.PercentComplete(t0))
	require.InDelta(t, 25.0, a.PercentComplete(t0.Add(25*time.Second)), 1e-9)
	require.Equal(t, 100.0, a.PercentComplete(t0.Add(100*time.Second)))
	require.Equal(t, 100.0, a.PercentComplete(t0.Add(time.Hour)))

	for off := -200; off <= 300; off += 7 {
		p := a.PercentComplete(t0.Add(time.Duration(off) * time.Second))
		require.GreaterOrEqual(t, p, 0.0)
		require.LessOrEqual(t, p, 100.0)
	}

	t.Run("zero duration does not divide by zero", func(t *testing.T) {
		t.Parallel()
		z := NewAccountant(ZeroSchedule("", t0))
		require.Equal(t, 0.0, z.PercentComplete(t0.Add(-time.Second)))
		require.Equal(t, 100.0, z.PercentComplete(t0))
	})
}

func TestGivstream_Vesting_Remaining(t *testing.T) {
	t.Parallel()

	a := NewAccountant(linearSchedule())
	require.Equal(t, 100*time.Second, a.Remaining(t0))
	require.Equal(t, 40*time.Second, a.Remaining(t0.Add(60*time.Second)))
	require.Equal(t, time.Duration(0), a.Remaining(t0.Add(time.Hour)))
	require.Equal(t, 100*time.Second, a.Duration())
}

func TestGivstream_Vesting_LiquidPart(t *testing.T) {
	t.Parallel()

	a := NewAccountant(linearSchedule())
	require.Equal(t, "100", a.LiquidPart(big.NewInt(200), t0.Add(50*time.Second)).String())
	require.Equal(t, "0", a.LiquidPart(big.NewInt(200), t0.Add(-time.Second)).String())
	require.Equal(t, "200", a.LiquidPart(big.NewInt(200), t0.Add(time.Hour)).String())
	require.Equal(t, "0", a.LiquidPart(nil, t0.Add(time.Hour)).String())
}

func TestGivstream_Vesting_ZeroSupply(t *testing.T) {
	t.Parallel()

	s := linearSchedule()
	s.InitialAmount = new(big.Int)
	s.LockedAmount = new(big.Int)
	s.TotalTokens = new(big.Int)
	a := NewAccountant(s)

	for _, off := range []time.Duration{-time.Hour, 0, 50 * time.Second, time.Hour} {
		now := t0.Add(off)
		require.True(t, a.GlobalReleasePercentage(now).IsZero())
		for _, amt := range []int64{0, 1, 1_000_000} {
			require.Zero(t, a.LiquidPart(big.NewInt(amt), now).Sign())
		}
	}
}

func TestGivstream_Vesting_StreamRates(t *testing.T) {
	t.Parallel()

	a := NewAccountant(linearSchedule())

	t.Run("per second over the remaining time", func(t *testing.T) {
		t.Parallel()
		// At the midpoint 100 of 200 is liquid; 100 unlocks over the remaining 50s.
		got := a.StreamPerSecond(big.NewInt(200), t0.Add(50*time.Second))
		require.True(t, got.Equal(decimal.NewFromInt(2)), "got %s", got)
	})

	t.Run("keeps sub-unit precision", func(t *testing.T) {
		t.Parallel()
		got := a.StreamPerSecond(big.NewInt(3), t0)
		require.True(t, got.Equal(decimal.RequireFromString("0.03")), "got %s", got)
	})

	t.Run("zero once the schedule has ended", func(t *testing.T) {
		t.Parallel()
		require.True(t, a.StreamPerSecond(big.NewInt(200), t0.Add(100*time.Second)).IsZero())
		require.True(t, a.StreamPerSecond(big.NewInt(200), t0.Add(time.Hour)).IsZero())
		require.True(t, a.StreamPerWeek(big.NewInt(200), t0.Add(time.Hour)).IsZero())
	})

	t.Run("per week is exactly per second times 604800", func(t *testing.T) {
		t.Parallel()
		for _, off := range []time.Duration{-time.Minute, 0, 1234 * time.Millisecond, 50 * time.Second, 99 * time.Second} {
			for _, amt := range []int64{0, 1, 7, 1000, 123456789} {
				now := t0.Add(off)
				perSecond := a.StreamPerSecond(big.NewInt(amt), now)
				perWeek := a.StreamPerWeek(big.NewInt(amt), now)
				require.True(t, perWeek.Equal(perSecond.Mul(decimal.NewFromInt(SecondsPerWeek))))
			}
		}
	})
}

func TestGivstream_Vesting_GlobalReleasePercentage(t *testing.T) {
	t.Parallel()

	a := NewAccountant(cliffSchedule())
	require.True(t, a.GlobalReleasePercentage(t0.Add(-time.Second)).IsZero())
	require.True(t, a.GlobalReleasePercentage(t0).Equal(decimal.NewFromInt(25)))
	require.True(t, a.GlobalReleasePercentage(t0.Add(400*24*time.Hour)).Equal(decimal.NewFromInt(100)))
}

func TestGivstream_Vesting_UserClaimable(t *testing.T) {
	t.Parallel()

	now := t0.Add(50 * time.Second)
	balances := Balances{
		AllocatedTokens: big.NewInt(400),
		Claimed:         big.NewInt(50),
		Streams: map[string]Allocation{
			"fox": {Allocated: big.NewInt(100), Claimed: big.NewInt(10)},
		},
	}

	t.Run("default stream", func(t *testing.T) {
		t.Parallel()
		a := NewAccountant(linearSchedule())
		require.Equal(t, "150", a.UserClaimable(balances, now).String())
	})

	t.Run("named stream reads its own fields", func(t *testing.T) {
		t.Parallel()
		s := linearSchedule()
		s.Stream = NamedStream("fox")
		a := NewAccountant(s)
		require.Equal(t, "40", a.UserClaimable(balances, now).String())
	})

	t.Run("unknown named stream reads as zero", func(t *testing.T) {
		t.Parallel()
		s := linearSchedule()
		s.Stream = NamedStream("other")
		a := NewAccountant(s)
		require.Equal(t, "0", a.UserClaimable(balances, now).String())
	})

	t.Run("inconsistent snapshot yields a negative result", func(t *testing.T) {
		t.Parallel()
		a := NewAccountant(linearSchedule())
		stale := Balances{AllocatedTokens: big.NewInt(400), Claimed: big.NewInt(300)}
		require.Equal(t, "-100", a.UserClaimable(stale, now).String())
	})
}

func TestGivstream_Vesting_AccountFigures(t *testing.T) {
	t.Parallel()

	a := NewAccountant(linearSchedule())
	now := t0.Add(50 * time.Second)
	f := a.AccountFigures(Balances{AllocatedTokens: big.NewInt(200), Claimed: big.NewInt(20)}, now)

	require.Equal(t, "200", f.Allocated.String())
	require.Equal(t, "100", f.Liquid.String())
	require.Equal(t, "100", f.Locked.String())
	require.Equal(t, "80", f.Claimable.String())
	require.True(t, f.StreamPerSecond.Equal(decimal.NewFromInt(2)))
	require.True(t, f.StreamPerWeek.Equal(decimal.NewFromInt(2*SecondsPerWeek)))

	g := a.Figures(now)
	require.Equal(t, "500", g.GloballyClaimable.String())
	require.InDelta(t, 50.0, g.PercentComplete, 1e-9)
	require.True(t, g.GlobalReleasePercentage.Equal(decimal.NewFromInt(50)))
	require.Equal(t, 50*time.Second, g.Remaining)
}

func TestGivstream_Vesting_ScheduleIsNotAliased(t *testing.T) {
	t.Parallel()

	s := linearSchedule()
	a := NewAccountant(s)
	s.TotalTokens.SetInt64(1)

	require.Equal(t, "1000", a.Schedule().TotalTokens.String())
	a.Schedule().TotalTokens.SetInt64(2)
	require.Equal(t, "1000", a.Schedule().TotalTokens.String())
}

func TestGivstream_Vesting_Stream(t *testing.T) {
	t.Parallel()

	require.True(t, DefaultStream.IsDefault())
	require.True(t, NamedStream("").IsDefault())
	require.Equal(t, "default", DefaultStream.String())
	fox := NamedStream("fox")
	require.False(t, fox.IsDefault())
	require.Equal(t, "fox", fox.Tag())
	require.Equal(t, fox, NamedStream("fox"))
}
