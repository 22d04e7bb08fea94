// Package chain implements the staking workflow's chain capability on top of an Ethereum
// JSON-RPC node and a local signer.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/giveconomy/givstream/staking/pkg/workflow"
	"github.com/giveconomy/givstream/utils/pkg/retry"
	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"
)

const (
	defaultPollInterval  = 2 * time.Second
	defaultPermitVersion = "1"
)

// Backend is the subset of ethclient.Client the adapter needs.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

var _ Backend = (*ethclient.Client)(nil)

type Config struct {
	Logger  *slog.Logger
	Clock   clockwork.Clock
	Backend Backend
	Signer  Signer
	Retry   retry.Config

	// PollInterval paces receipt polling, and block polling when the node cannot push new
	// heads.
	PollInterval time.Duration
	// PermitVersion is the EIP-712 domain version of the pool token.
	PermitVersion string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Backend == nil {
		return errors.New("backend is required")
	}
	if cfg.Signer == nil {
		return errors.New("signer is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.Retry.Clock == nil {
		cfg.Retry.Clock = cfg.Clock
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PermitVersion == "" {
		cfg.PermitVersion = defaultPermitVersion
	}
	return nil
}

type Client struct {
	log     *slog.Logger
	cfg     Config
	chainID *big.Int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	watching  bool
	callbacks map[int]func(uint64)
	nextID    int
}

var _ workflow.Chain = (*Client)(nil)

// Dial connects to a node and wraps it with the given signer.
func Dial(ctx context.Context, rpcURL string, cfg Config) (*Client, *ethclient.Client, error) {
	backend, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial rpc: %w", err)
	}
	cfg.Backend = backend
	c, err := New(ctx, cfg)
	if err != nil {
		backend.Close()
		return nil, nil, err
	}
	return c, backend, nil
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	chainID, err := retry.DoValue(ctx, cfg.Retry, func() (*big.Int, error) {
		return cfg.Backend.ChainID(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}

	clientCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		log:       cfg.Logger,
		cfg:       cfg,
		chainID:   chainID,
		ctx:       clientCtx,
		cancel:    cancel,
		callbacks: make(map[int]func(uint64)),
	}
	c.log.Debug("chain: client ready", "chainID", chainID.String(), "account", cfg.Signer.Address().Hex())
	return c, nil
}

func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

func (c *Client) Account(context.Context) (common.Address, error) {
	return c.cfg.Signer.Address(), nil
}

// Submit builds, signs and broadcasts the transaction for req.
func (c *Client) Submit(ctx context.Context, req workflow.TxRequest) (common.Hash, error) {
	if c.isClosed() {
		return common.Hash{}, ErrClosed
	}
	if req.From != c.cfg.Signer.Address() {
		return common.Hash{}, fmt.Errorf("signer %s cannot send from %s", c.cfg.Signer.Address().Hex(), req.From.Hex())
	}
	amount := new(big.Int)
	if req.Amount != nil {
		amount = req.Amount.ToBig()
	}

	var (
		data []byte
		err  error
	)
	switch req.Kind {
	case workflow.TxApprove:
		data, err = stakingABI.Pack("approve", req.Spender, amount)
	case workflow.TxWrap:
		data, err = stakingABI.Pack("wrap", amount)
	case workflow.TxStake:
		data, err = stakingABI.Pack("stake", amount)
	case workflow.TxStakeWithPermit:
		var sig permitSignature
		sig, err = c.signPermit(ctx, req)
		if err != nil {
			return common.Hash{}, err
		}
		data, err = stakingABI.Pack("stakeWithPermit", amount, big.NewInt(req.Deadline.Unix()), sig.V, sig.R, sig.S)
	default:
		return common.Hash{}, fmt.Errorf("unsupported transaction kind %s", req.Kind)
	}
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack %s: %w", req.Kind, err)
	}

	return c.send(ctx, req.From, req.To, data)
}

func (c *Client) send(ctx context.Context, from, to common.Address, data []byte) (common.Hash, error) {
	nonce, err := c.cfg.Backend.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get nonce: %w", err)
	}
	tip, err := c.cfg.Backend.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to suggest gas tip: %w", err)
	}
	head, err := c.cfg.Backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get latest header: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	estimate, err := c.cfg.Backend.EstimateGas(ctx, ethereum.CallMsg{
		From:      from,
		To:        &to,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Data:      data,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to estimate gas: %w", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       estimate * 6 / 5,
		To:        &to,
		Data:      data,
	})
	signed, err := c.cfg.Signer.SignTx(ctx, tx, c.chainID)
	if err != nil {
		return common.Hash{}, err
	}
	if err := c.cfg.Backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	c.log.Debug("chain: transaction sent", "tx", signed.Hash().Hex(), "to", to.Hex(), "nonce", nonce, "gas", signed.Gas())
	return signed.Hash(), nil
}

// AwaitReceipt polls until the transaction is mined or ctx is done.
func (c *Client) AwaitReceipt(ctx context.Context, hash common.Hash) (workflow.Receipt, error) {
	ticker := c.cfg.Clock.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.cfg.Backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			return workflow.Receipt{
				TxHash:      hash,
				BlockNumber: receipt.BlockNumber.Uint64(),
				Success:     receipt.Status == types.ReceiptStatusSuccessful,
			}, nil
		case errors.Is(err, ethereum.NotFound):
		case retry.IsRetryable(err):
			c.log.Debug("chain: transient receipt error", "tx", hash.Hex(), "error", err)
		default:
			return workflow.Receipt{}, fmt.Errorf("failed to get receipt: %w", err)
		}

		select {
		case <-ctx.Done():
			return workflow.Receipt{}, ctx.Err()
		case <-ticker.Chan():
		}
	}
}

func (c *Client) ReadAllowance(ctx context.Context, token, owner, spender common.Address) (*uint256.Int, error) {
	return c.readUint(ctx, token, "allowance", owner, spender)
}

// BalanceOf is the account's balance of token.
func (c *Client) BalanceOf(ctx context.Context, token, account common.Address) (*uint256.Int, error) {
	return c.readUint(ctx, token, "balanceOf", account)
}

func (c *Client) readUint(ctx context.Context, contract common.Address, method string, args ...common.Address) (*uint256.Int, error) {
	data, err := packAddressArgs(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	n, err := retry.DoValue(ctx, c.cfg.Retry, func() (*big.Int, error) {
		out, err := c.cfg.Backend.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
		if err != nil {
			return nil, err
		}
		return unpackBig(method, out)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}
	v, overflow := uint256.FromBig(n)
	if overflow {
		return nil, fmt.Errorf("%s overflows uint256: %s", method, n)
	}
	return v, nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close stops the block feed. The backend stays open.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.callbacks = make(map[int]func(uint64))
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	return nil
}
