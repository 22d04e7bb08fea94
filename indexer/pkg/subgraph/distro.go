package subgraph

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/giveconomy/givstream/indexer/pkg/vesting"
	"github.com/giveconomy/givstream/utils/pkg/netconfig"
)

const tokenDistroQuery = `query TokenDistro($id: ID!) {
  tokenDistro(id: $id) {
    id
    initialAmount
    lockedAmount
    totalTokens
    startTime
    cliffTime
    duration
  }
}`

// tokenDistro mirrors the subgraph entity. BigInt fields arrive as decimal strings and
// times are unix seconds.
type tokenDistro struct {
	ID            string `json:"id"`
	InitialAmount string `json:"initialAmount"`
	LockedAmount  string `json:"lockedAmount"`
	TotalTokens   string `json:"totalTokens"`
	StartTime     string `json:"startTime"`
	CliffTime     string `json:"cliffTime"`
	Duration      string `json:"duration"`
}

func (d tokenDistro) schedule(stream vesting.Stream) (vesting.Schedule, error) {
	initial, err := parseBig("initialAmount", d.InitialAmount)
	if err != nil {
		return vesting.Schedule{}, err
	}
	locked, err := parseBig("lockedAmount", d.LockedAmount)
	if err != nil {
		return vesting.Schedule{}, err
	}
	total, err := parseBig("totalTokens", d.TotalTokens)
	if err != nil {
		return vesting.Schedule{}, err
	}
	start, err := parseSeconds("startTime", d.StartTime)
	if err != nil {
		return vesting.Schedule{}, err
	}
	cliff, err := parseSeconds("cliffTime", d.CliffTime)
	if err != nil {
		return vesting.Schedule{}, err
	}
	duration, err := strconv.ParseInt(d.Duration, 10, 64)
	if err != nil {
		return vesting.Schedule{}, fmt.Errorf("invalid duration %q: %w", d.Duration, err)
	}

	return vesting.Schedule{
		ContractAddress: d.ID,
		InitialAmount:   initial,
		LockedAmount:    locked,
		TotalTokens:     total,
		StartTime:       start,
		CliffTime:       cliff,
		EndTime:         start.Add(time.Duration(duration) * time.Second),
		Stream:          stream,
	}, nil
}

// FetchSchedules reads the network's default distro and every configured named stream.
// A network without a default distro address yields only its named streams.
func (c *Client) FetchSchedules(ctx context.Context, network netconfig.Network) ([]vesting.Schedule, error) {
	var schedules []vesting.Schedule
	if network.TokenDistro != "" {
		s, err := c.fetchSchedule(ctx, network.SubgraphURL, network.TokenDistro, vesting.DefaultStream)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	for _, stream := range network.Streams {
		s, err := c.fetchSchedule(ctx, network.SubgraphURL, stream.TokenDistro, vesting.NamedStream(stream.Tag))
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, nil
}

func (c *Client) fetchSchedule(ctx context.Context, url, address string, stream vesting.Stream) (vesting.Schedule, error) {
	var data struct {
		TokenDistro *tokenDistro `json:"tokenDistro"`
	}
	vars := map[string]any{"id": strings.ToLower(address)}
	if err := c.query(ctx, url, "tokenDistro", tokenDistroQuery, vars, &data); err != nil {
		return vesting.Schedule{}, fmt.Errorf("failed to query token distro %s: %w", address, err)
	}
	if data.TokenDistro == nil {
		return vesting.Schedule{}, fmt.Errorf("token distro %s not found", address)
	}
	s, err := data.TokenDistro.schedule(stream)
	if err != nil {
		return vesting.Schedule{}, fmt.Errorf("failed to decode token distro %s: %w", address, err)
	}
	return s, nil
}

func parseBig(field, s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s %q", field, s)
	}
	return n, nil
}

func parseSeconds(field, s string) (time.Time, error) {
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	return time.Unix(secs, 0).UTC(), nil
}
