package workflow

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type TxKind int

const (
	TxApprove TxKind = iota
	TxWrap
	TxStake
	TxStakeWithPermit
)

func (k TxKind) String() string {
	switch k {
	case TxApprove:
		return "approve"
	case TxWrap:
		return "wrap"
	case TxStake:
		return "stake"
	case TxStakeWithPermit:
		return "stakeWithPermit"
	default:
		return "unknown"
	}
}

// TxRequest describes one transaction the session wants sent.
//
//   - TxApprove: To is the token, Spender is approved for Amount.
//   - TxWrap: To is the wrapper, wrapping Amount.
//   - TxStake: To is the reward contract, staking Amount.
//   - TxStakeWithPermit: as TxStake, authorised by an EIP-2612 permit on Token for Spender
//     that expires at Deadline.
type TxRequest struct {
	Kind     TxKind
	From     common.Address
	To       common.Address
	Token    common.Address
	Spender  common.Address
	Amount   *uint256.Int
	Deadline time.Time
}

type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	Success     bool
}

// Chain is the wallet and node capability a session drives. Callbacks registered with
// OnBlock run on the chain's goroutine and must not be invoked while the chain holds locks
// that unsubscribe also takes.
type Chain interface {
	Account(ctx context.Context) (common.Address, error)
	Submit(ctx context.Context, req TxRequest) (common.Hash, error)
	AwaitReceipt(ctx context.Context, hash common.Hash) (Receipt, error)
	ReadAllowance(ctx context.Context, token, owner, spender common.Address) (*uint256.Int, error)
	OnBlock(fn func(blockNumber uint64)) (unsubscribe func())
}
