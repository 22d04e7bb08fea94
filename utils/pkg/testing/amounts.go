package givtesting

import (
	"math/big"
	"testing"
	"time"
)

// Big parses a base-10 integer or fails the test.
func Big(t testing.TB, s string) *big.Int {
	t.Helper()
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("invalid integer %q", s)
	}
	return n
}

// Epoch is a fixed, round reference time for schedule tests.
var Epoch = time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
