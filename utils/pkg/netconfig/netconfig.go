// Package netconfig loads the per-network configuration shared by the indexer and stakectl.
package netconfig

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// DefaultChainID is used when a caller asks for a network that is not configured.
	DefaultChainID uint64    `yaml:"default_chain_id"`
	Networks       []Network `yaml:"networks"`
}

type Network struct {
	ChainID     uint64   `yaml:"chain_id"`
	Name        string   `yaml:"name"`
	RPCURL      string   `yaml:"rpc_url"`
	SubgraphURL string   `yaml:"subgraph_url"`
	TokenDistro string   `yaml:"token_distro"`
	Streams     []Stream `yaml:"streams"`
	Pools       []Pool   `yaml:"pools"`
}

// Stream is a named alternate distribution stream on a network.
type Stream struct {
	Tag         string `yaml:"tag"`
	TokenDistro string `yaml:"token_distro"`
	// BalancePrefix selects the per-stream balance fields, e.g. "fox" reads
	// foxAllocatedTokens and foxClaimed.
	BalancePrefix string `yaml:"balance_prefix"`
}

// Pool is a staking pool: the token being staked, the reward (LM) contract and an
// optional wrapper (garden) contract.
type Pool struct {
	Name           string `yaml:"name"`
	PoolToken      string `yaml:"pool_token"`
	RewardContract string `yaml:"reward_contract"`
	Wrapper        string `yaml:"wrapper,omitempty"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read networks config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse networks config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Networks) == 0 {
		return errors.New("at least one network is required")
	}
	seen := make(map[uint64]bool, len(c.Networks))
	for i := range c.Networks {
		n := &c.Networks[i]
		if n.ChainID == 0 {
			return fmt.Errorf("network %d: chain_id is required", i)
		}
		if seen[n.ChainID] {
			return fmt.Errorf("network %d: duplicate chain_id %d", i, n.ChainID)
		}
		seen[n.ChainID] = true
		if n.TokenDistro != "" && !common.IsHexAddress(n.TokenDistro) {
			return fmt.Errorf("network %d: invalid token_distro address %q", n.ChainID, n.TokenDistro)
		}
		tags := make(map[string]bool, len(n.Streams))
		for _, s := range n.Streams {
			if s.Tag == "" {
				return fmt.Errorf("network %d: stream tag is required", n.ChainID)
			}
			if tags[s.Tag] {
				return fmt.Errorf("network %d: duplicate stream tag %q", n.ChainID, s.Tag)
			}
			tags[s.Tag] = true
			if !common.IsHexAddress(s.TokenDistro) {
				return fmt.Errorf("network %d: stream %q: invalid token_distro address %q", n.ChainID, s.Tag, s.TokenDistro)
			}
		}
		for _, p := range n.Pools {
			if err := p.validate(); err != nil {
				return fmt.Errorf("network %d: %w", n.ChainID, err)
			}
		}
	}
	if c.DefaultChainID == 0 {
		c.DefaultChainID = c.Networks[0].ChainID
	} else if !seen[c.DefaultChainID] {
		return fmt.Errorf("default_chain_id %d is not a configured network", c.DefaultChainID)
	}
	return nil
}

func (p Pool) validate() error {
	if p.Name == "" {
		return errors.New("pool name is required")
	}
	if !common.IsHexAddress(p.PoolToken) {
		return fmt.Errorf("pool %q: invalid pool_token address %q", p.Name, p.PoolToken)
	}
	if !common.IsHexAddress(p.RewardContract) {
		return fmt.Errorf("pool %q: invalid reward_contract address %q", p.Name, p.RewardContract)
	}
	if p.Wrapper != "" && !common.IsHexAddress(p.Wrapper) {
		return fmt.Errorf("pool %q: invalid wrapper address %q", p.Name, p.Wrapper)
	}
	return nil
}

// Network looks up a network by chain ID.
func (c *Config) Network(chainID uint64) (*Network, bool) {
	for i := range c.Networks {
		if c.Networks[i].ChainID == chainID {
			return &c.Networks[i], true
		}
	}
	return nil, false
}

// NetworkByName looks up a network by case-insensitive name.
func (c *Config) NetworkByName(name string) (*Network, bool) {
	for i := range c.Networks {
		if strings.EqualFold(c.Networks[i].Name, name) {
			return &c.Networks[i], true
		}
	}
	return nil, false
}

func (n *Network) Pool(name string) (*Pool, bool) {
	for i := range n.Pools {
		if strings.EqualFold(n.Pools[i].Name, name) {
			return &n.Pools[i], true
		}
	}
	return nil, false
}
