package subgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/giveconomy/givstream/indexer/pkg/vesting"
	"github.com/giveconomy/givstream/utils/pkg/netconfig"
)

// balanceQuery builds the balance query for a network. Named streams add their prefixed
// fields, e.g. foxAllocatedTokens and foxClaimed.
func balanceQuery(streams []netconfig.Stream) (string, error) {
	var b strings.Builder
	b.WriteString("query Balance($id: ID!) {\n  balance(id: $id) {\n    allocatedTokens\n    claimed\n")
	for _, s := range streams {
		prefix := balancePrefix(s)
		if !isIdent(prefix) {
			return "", fmt.Errorf("invalid balance prefix %q for stream %q", prefix, s.Tag)
		}
		fmt.Fprintf(&b, "    %sAllocatedTokens\n    %sClaimed\n", prefix, prefix)
	}
	b.WriteString("  }\n}")
	return b.String(), nil
}

func balancePrefix(s netconfig.Stream) string {
	if s.BalancePrefix != "" {
		return s.BalancePrefix
	}
	return s.Tag
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// FetchBalances reads an account's allocations. An account the subgraph has never seen has
// zero balances.
func (c *Client) FetchBalances(ctx context.Context, network netconfig.Network, account string) (vesting.Balances, error) {
	query, err := balanceQuery(network.Streams)
	if err != nil {
		return vesting.Balances{}, err
	}

	var data struct {
		Balance map[string]json.RawMessage `json:"balance"`
	}
	vars := map[string]any{"id": strings.ToLower(account)}
	if err := c.query(ctx, network.SubgraphURL, "balance", query, vars, &data); err != nil {
		return vesting.Balances{}, fmt.Errorf("failed to query balance of %s: %w", account, err)
	}

	field := func(name string) (string, error) {
		raw, ok := data.Balance[name]
		if !ok || string(raw) == "null" {
			return "", nil
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("invalid %s: %w", name, err)
		}
		return s, nil
	}
	pair := func(allocatedField, claimedField string) (vesting.Allocation, error) {
		allocatedStr, err := field(allocatedField)
		if err != nil {
			return vesting.Allocation{}, err
		}
		claimedStr, err := field(claimedField)
		if err != nil {
			return vesting.Allocation{}, err
		}
		allocated, err := parseBig(allocatedField, allocatedStr)
		if err != nil {
			return vesting.Allocation{}, err
		}
		claimed, err := parseBig(claimedField, claimedStr)
		if err != nil {
			return vesting.Allocation{}, err
		}
		return vesting.Allocation{Allocated: allocated, Claimed: claimed}, nil
	}

	def, err := pair("allocatedTokens", "claimed")
	if err != nil {
		return vesting.Balances{}, err
	}
	balances := vesting.Balances{
		AllocatedTokens: def.Allocated,
		Claimed:         def.Claimed,
		Streams:         make(map[string]vesting.Allocation, len(network.Streams)),
	}
	for _, s := range network.Streams {
		prefix := balancePrefix(s)
		a, err := pair(prefix+"AllocatedTokens", prefix+"Claimed")
		if err != nil {
			return vesting.Balances{}, err
		}
		balances.Streams[s.Tag] = a
	}
	return balances, nil
}
