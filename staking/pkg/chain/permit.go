package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/giveconomy/givstream/staking/pkg/workflow"
	"github.com/giveconomy/givstream/utils/pkg/retry"
)

type permitSignature struct {
	V uint8
	R [32]byte
	S [32]byte
}

type permit struct {
	TokenName string
	Version   string
	ChainID   *big.Int
	Token     common.Address
	Owner     common.Address
	Spender   common.Address
	Value     *big.Int
	Nonce     *big.Int
	Deadline  *big.Int
}

// typedData is the EIP-2612 Permit message for p.
func (p permit) typedData() apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Permit": {
				{Name: "owner", Type: "address"},
				{Name: "spender", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
			},
		},
		PrimaryType: "Permit",
		Domain: apitypes.TypedDataDomain{
			Name:              p.TokenName,
			Version:           p.Version,
			ChainId:           (*math.HexOrDecimal256)(p.ChainID),
			VerifyingContract: p.Token.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"owner":    p.Owner.Hex(),
			"spender":  p.Spender.Hex(),
			"value":    p.Value.String(),
			"nonce":    p.Nonce.String(),
			"deadline": p.Deadline.String(),
		},
	}
}

func (c *Client) signPermit(ctx context.Context, req workflow.TxRequest) (permitSignature, error) {
	name, err := c.tokenName(ctx, req.Token)
	if err != nil {
		return permitSignature{}, err
	}
	nonce, err := c.readUint(ctx, req.Token, "nonces", req.From)
	if err != nil {
		return permitSignature{}, err
	}
	value := new(big.Int)
	if req.Amount != nil {
		value = req.Amount.ToBig()
	}

	p := permit{
		TokenName: name,
		Version:   c.cfg.PermitVersion,
		ChainID:   c.chainID,
		Token:     req.Token,
		Owner:     req.From,
		Spender:   req.Spender,
		Value:     value,
		Nonce:     nonce.ToBig(),
		Deadline:  big.NewInt(req.Deadline.Unix()),
	}
	sig, err := c.cfg.Signer.SignTypedData(ctx, p.typedData())
	if err != nil {
		return permitSignature{}, err
	}
	return splitSignature(sig)
}

// splitSignature converts a 65-byte [R || S || V] signature into the contract's v, r, s.
func splitSignature(sig []byte) (permitSignature, error) {
	if len(sig) != 65 {
		return permitSignature{}, fmt.Errorf("%w: %d bytes", ErrBadSignature, len(sig))
	}
	var out permitSignature
	copy(out.R[:], sig[:32])
	copy(out.S[:], sig[32:64])
	out.V = sig[64]
	if out.V < 27 {
		out.V += 27
	}
	return out, nil
}

func (c *Client) tokenName(ctx context.Context, token common.Address) (string, error) {
	data, err := stakingABI.Pack("name")
	if err != nil {
		return "", fmt.Errorf("failed to pack name: %w", err)
	}
	name, err := retry.DoValue(ctx, c.cfg.Retry, func() (string, error) {
		out, err := c.cfg.Backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
		if err != nil {
			return "", err
		}
		return unpackString("name", out)
	})
	if err != nil {
		return "", fmt.Errorf("failed to read token name: %w", err)
	}
	return name, nil
}
