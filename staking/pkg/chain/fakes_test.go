package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
	"github.com/giveconomy/givstream/utils/pkg/retry"
	givtesting "github.com/giveconomy/givstream/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

var (
	token  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	reward = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

type fakeBackend struct {
	mu sync.Mutex

	chainID     *big.Int
	nonce       uint64
	tip         *big.Int
	baseFee     *big.Int
	gasEstimate uint64

	tokenName   string
	allowance   *big.Int
	balance     *big.Int
	permitNonce *big.Int
	callErrs    []error
	calls       int

	sent          []*types.Transaction
	receipts      map[common.Hash]*types.Receipt
	receiptMisses int
	receiptErr    error

	blockNumber uint64
	subErr      error
	headers     chan<- *types.Header
	subscribed  chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		chainID:     big.NewInt(100),
		nonce:       7,
		tip:         big.NewInt(2_000_000_000),
		baseFee:     big.NewInt(10_000_000_000),
		gasEstimate: 50_000,
		tokenName:   "Giveth Pool",
		allowance:   new(big.Int),
		balance:     new(big.Int),
		permitNonce: big.NewInt(3),
		receipts:    make(map[common.Hash]*types.Receipt),
		subscribed:  make(chan struct{}),
	}
}

func (b *fakeBackend) ChainID(context.Context) (*big.Int, error) {
	return b.chainID, nil
}

func (b *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if len(b.callErrs) > 0 {
		err := b.callErrs[0]
		b.callErrs = b.callErrs[1:]
		return nil, err
	}
	method, err := stakingABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "allowance":
		return method.Outputs.Pack(b.allowance)
	case "balanceOf":
		return method.Outputs.Pack(b.balance)
	case "nonces":
		return method.Outputs.Pack(b.permitNonce)
	case "name":
		return method.Outputs.Pack(b.tokenName)
	}
	return nil, errors.New("execution reverted")
}

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return b.nonce, nil
}

func (b *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return b.tip, nil
}

func (b *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(1), BaseFee: b.baseFee}, nil
}

func (b *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return b.gasEstimate, nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, tx)
	return nil
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.receiptErr != nil {
		return nil, b.receiptErr
	}
	if b.receiptMisses > 0 {
		b.receiptMisses--
		return nil, ethereum.NotFound
	}
	r, ok := b.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (b *fakeBackend) SubscribeNewHead(_ context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subErr != nil {
		return nil, b.subErr
	}
	b.headers = ch
	close(b.subscribed)
	return event.NewSubscription(func(quit <-chan struct{}) error {
		<-quit
		return nil
	}), nil
}

func (b *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blockNumber++
	return b.blockNumber, nil
}

func (b *fakeBackend) push(t *testing.T, n uint64) {
	t.Helper()
	select {
	case <-b.subscribed:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for head subscription")
	}
	b.mu.Lock()
	ch := b.headers
	b.mu.Unlock()
	ch <- &types.Header{Number: new(big.Int).SetUint64(n)}
}

func (b *fakeBackend) lastSent(t *testing.T) *types.Transaction {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.sent)
	return b.sent[len(b.sent)-1]
}

func newTestSigner(t *testing.T) *KeySigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return NewKeySigner(key)
}

func newTestClient(t *testing.T, backend *fakeBackend, signer Signer) *Client {
	t.Helper()
	c, err := New(context.Background(), Config{
		Logger:       givtesting.NewLogger(),
		Backend:      backend,
		Signer:       signer,
		PollInterval: time.Millisecond,
		Retry: retry.Config{
			MaxAttempts: 3,
			BaseBackoff: time.Millisecond,
			MaxBackoff:  time.Millisecond,
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}
