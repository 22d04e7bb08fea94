package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// stakingABI covers the pool token (ERC-20 with EIP-2612 permits), the token wrapper and the
// reward contract. The methods do not collide, so one ABI serves all three.
const stakingABIJSON = `[
	{"type":"function","name":"approve","stateMutability":"nonpayable",
	 "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"allowance","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"nonces","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"name","stateMutability":"view",
	 "inputs":[],
	 "outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"wrap","stateMutability":"nonpayable",
	 "inputs":[{"name":"amount","type":"uint256"}],
	 "outputs":[]},
	{"type":"function","name":"stake","stateMutability":"nonpayable",
	 "inputs":[{"name":"amount","type":"uint256"}],
	 "outputs":[]},
	{"type":"function","name":"stakeWithPermit","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"amount","type":"uint256"},
		{"name":"deadline","type":"uint256"},
		{"name":"v","type":"uint8"},
		{"name":"r","type":"bytes32"},
		{"name":"s","type":"bytes32"}],
	 "outputs":[]}
]`

var stakingABI = mustParseABI(stakingABIJSON)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("chain: invalid abi: %v", err))
	}
	return parsed
}

func unpackBig(method string, out []byte) (*big.Int, error) {
	values, err := stakingABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected %s output: %d values", method, len(values))
	}
	n, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s output type %T", method, values[0])
	}
	return n, nil
}

func unpackString(method string, out []byte) (string, error) {
	values, err := stakingABI.Unpack(method, out)
	if err != nil {
		return "", fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return "", fmt.Errorf("unexpected %s output: %d values", method, len(values))
	}
	s, ok := values[0].(string)
	if !ok {
		return "", fmt.Errorf("unexpected %s output type %T", method, values[0])
	}
	return s, nil
}

func packAddressArgs(method string, addrs ...common.Address) ([]byte, error) {
	args := make([]any, len(addrs))
	for i, a := range addrs {
		args[i] = a
	}
	return stakingABI.Pack(method, args...)
}
