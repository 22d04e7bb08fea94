package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/giveconomy/givstream/staking/pkg/workflow"
	givtesting "github.com/giveconomy/givstream/utils/pkg/testing"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func decodeCall(t *testing.T, tx *types.Transaction) (string, []any) {
	t.Helper()
	data := tx.Data()
	require.GreaterOrEqual(t, len(data), 4)
	method, err := stakingABI.MethodById(data[:4])
	require.NoError(t, err)
	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	return method.Name, args
}

func TestGivstream_Chain_Config(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{Backend: newFakeBackend(), Signer: newTestSigner(t)})
	require.ErrorContains(t, err, "logger is required")

	_, err = New(context.Background(), Config{Logger: givtesting.NewLogger(), Signer: newTestSigner(t)})
	require.ErrorContains(t, err, "backend is required")

	_, err = New(context.Background(), Config{Logger: givtesting.NewLogger(), Backend: newFakeBackend()})
	require.ErrorContains(t, err, "signer is required")
}

func TestGivstream_Chain_SubmitApprove(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	signer := newTestSigner(t)
	c := newTestClient(t, backend, signer)
	require.Equal(t, int64(100), c.ChainID().Int64())

	account, err := c.Account(context.Background())
	require.NoError(t, err)
	require.Equal(t, signer.Address(), account)

	hash, err := c.Submit(context.Background(), workflow.TxRequest{
		Kind:    workflow.TxApprove,
		From:    signer.Address(),
		To:      token,
		Token:   token,
		Spender: reward,
		Amount:  uint256.NewInt(100),
	})
	require.NoError(t, err)

	tx := backend.lastSent(t)
	require.Equal(t, hash, tx.Hash())
	require.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	require.Equal(t, token, *tx.To())
	require.Equal(t, uint64(7), tx.Nonce())
	require.Equal(t, uint64(60_000), tx.Gas())
	require.Equal(t, big.NewInt(2_000_000_000), tx.GasTipCap())
	require.Equal(t, big.NewInt(22_000_000_000), tx.GasFeeCap())

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(100)), tx)
	require.NoError(t, err)
	require.Equal(t, signer.Address(), sender)

	name, args := decodeCall(t, tx)
	require.Equal(t, "approve", name)
	require.Equal(t, reward, args[0].(common.Address))
	require.Equal(t, int64(100), args[1].(*big.Int).Int64())
}

func TestGivstream_Chain_SubmitWrapAndStake(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	signer := newTestSigner(t)
	c := newTestClient(t, backend, signer)

	for _, tc := range []struct {
		kind   workflow.TxKind
		method string
	}{
		{workflow.TxWrap, "wrap"},
		{workflow.TxStake, "stake"},
	} {
		_, err := c.Submit(context.Background(), workflow.TxRequest{
			Kind:   tc.kind,
			From:   signer.Address(),
			To:     reward,
			Token:  token,
			Amount: uint256.NewInt(42),
		})
		require.NoError(t, err)

		name, args := decodeCall(t, backend.lastSent(t))
		require.Equal(t, tc.method, name)
		require.Equal(t, int64(42), args[0].(*big.Int).Int64())
	}
}

func TestGivstream_Chain_SubmitFromOtherAccount(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	c := newTestClient(t, backend, newTestSigner(t))

	_, err := c.Submit(context.Background(), workflow.TxRequest{
		Kind:   workflow.TxStake,
		From:   common.HexToAddress("0x00000000000000000000000000000000000000a2"),
		To:     reward,
		Amount: uint256.NewInt(1),
	})
	require.ErrorContains(t, err, "cannot send from")
	require.Empty(t, backend.sent)
}

func TestGivstream_Chain_SubmitStakeWithPermit(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	signer := newTestSigner(t)
	c := newTestClient(t, backend, signer)
	deadline := time.Unix(1_700_000_000, 0)

	_, err := c.Submit(context.Background(), workflow.TxRequest{
		Kind:     workflow.TxStakeWithPermit,
		From:     signer.Address(),
		To:       reward,
		Token:    token,
		Spender:  reward,
		Amount:   uint256.NewInt(100),
		Deadline: deadline,
	})
	require.NoError(t, err)

	name, args := decodeCall(t, backend.lastSent(t))
	require.Equal(t, "stakeWithPermit", name)
	require.Equal(t, int64(100), args[0].(*big.Int).Int64())
	require.Equal(t, deadline.Unix(), args[1].(*big.Int).Int64())
	v := args[2].(uint8)
	r := args[3].([32]byte)
	s := args[4].([32]byte)
	require.Contains(t, []uint8{27, 28}, v)

	p := permit{
		TokenName: "Giveth Pool",
		Version:   "1",
		ChainID:   big.NewInt(100),
		Token:     token,
		Owner:     signer.Address(),
		Spender:   reward,
		Value:     big.NewInt(100),
		Nonce:     big.NewInt(3),
		Deadline:  big.NewInt(deadline.Unix()),
	}
	hash, _, err := apitypes.TypedDataAndHash(p.typedData())
	require.NoError(t, err)

	sig := append(append(r[:], s[:]...), v-27)
	pub, err := crypto.SigToPub(hash, sig)
	require.NoError(t, err)
	require.Equal(t, signer.Address(), crypto.PubkeyToAddress(*pub))
}

func TestGivstream_Chain_SplitSignature(t *testing.T) {
	t.Parallel()

	_, err := splitSignature(make([]byte, 64))
	require.ErrorIs(t, err, ErrBadSignature)

	raw := make([]byte, 65)
	raw[0], raw[32], raw[64] = 1, 2, 1
	sig, err := splitSignature(raw)
	require.NoError(t, err)
	require.Equal(t, uint8(28), sig.V)
	require.Equal(t, byte(1), sig.R[0])
	require.Equal(t, byte(2), sig.S[0])

	raw[64] = 27
	sig, err = splitSignature(raw)
	require.NoError(t, err)
	require.Equal(t, uint8(27), sig.V)
}

func TestGivstream_Chain_AwaitReceipt(t *testing.T) {
	t.Parallel()

	t.Run("pending then mined", func(t *testing.T) {
		t.Parallel()
		backend := newFakeBackend()
		c := newTestClient(t, backend, newTestSigner(t))
		hash := common.HexToHash("0x01")
		backend.receipts[hash] = &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(12)}
		backend.receiptMisses = 2

		receipt, err := c.AwaitReceipt(context.Background(), hash)
		require.NoError(t, err)
		require.True(t, receipt.Success)
		require.Equal(t, uint64(12), receipt.BlockNumber)
		require.Equal(t, hash, receipt.TxHash)
	})

	t.Run("reverted", func(t *testing.T) {
		t.Parallel()
		backend := newFakeBackend()
		c := newTestClient(t, backend, newTestSigner(t))
		hash := common.HexToHash("0x02")
		backend.receipts[hash] = &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(3)}

		receipt, err := c.AwaitReceipt(context.Background(), hash)
		require.NoError(t, err)
		require.False(t, receipt.Success)
	})

	t.Run("permanent error", func(t *testing.T) {
		t.Parallel()
		backend := newFakeBackend()
		c := newTestClient(t, backend, newTestSigner(t))
		backend.receiptErr = errors.New("invalid argument 0: hex string has length 2")

		_, err := c.AwaitReceipt(context.Background(), common.HexToHash("0x03"))
		require.ErrorContains(t, err, "failed to get receipt")
	})

	t.Run("context cancelled", func(t *testing.T) {
		t.Parallel()
		backend := newFakeBackend()
		c := newTestClient(t, backend, newTestSigner(t))
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := c.AwaitReceipt(ctx, common.HexToHash("0x04"))
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestGivstream_Chain_ReadAllowance(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.allowance = givtesting.Big(t, "1000000000000000000000")
	backend.balance = big.NewInt(5)
	backend.callErrs = []error{errors.New("connection reset by peer")}
	signer := newTestSigner(t)
	c := newTestClient(t, backend, signer)

	allowance, err := c.ReadAllowance(context.Background(), token, signer.Address(), reward)
	require.NoError(t, err)
	require.Equal(t, "1000000000000000000000", allowance.Dec())
	require.Equal(t, 2, backend.calls)

	balance, err := c.BalanceOf(context.Background(), token, signer.Address())
	require.NoError(t, err)
	require.Equal(t, uint64(5), balance.Uint64())

	backend.callErrs = []error{errors.New("execution reverted")}
	_, err = c.ReadAllowance(context.Background(), token, signer.Address(), reward)
	require.ErrorContains(t, err, "failed to call allowance")
}

func TestGivstream_Chain_OnBlockSubscription(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	c := newTestClient(t, backend, newTestSigner(t))

	first := make(chan uint64, 4)
	second := make(chan uint64, 4)
	unsubFirst := c.OnBlock(func(n uint64) { first <- n })
	unsubSecond := c.OnBlock(func(n uint64) { second <- n })

	backend.push(t, 5)
	require.Equal(t, uint64(5), <-first)
	require.Equal(t, uint64(5), <-second)

	unsubFirst()
	backend.push(t, 6)
	require.Equal(t, uint64(6), <-second)
	require.Empty(t, first)

	unsubSecond()
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	// registrations after close are inert
	c.OnBlock(func(uint64) { t.Error("callback after close") })()
}

func TestGivstream_Chain_OnBlockPollingFallback(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.subErr = rpc.ErrNotificationsUnsupported
	c := newTestClient(t, backend, newTestSigner(t))

	blocks := make(chan uint64, 64)
	unsub := c.OnBlock(func(n uint64) {
		select {
		case blocks <- n:
		default:
		}
	})
	defer unsub()

	first := <-blocks
	second := <-blocks
	require.Greater(t, second, first)
}

func TestGivstream_Chain_SubmitAfterClose(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	signer := newTestSigner(t)
	c := newTestClient(t, backend, signer)
	require.NoError(t, c.Close())

	_, err := c.Submit(context.Background(), workflow.TxRequest{Kind: workflow.TxStake, From: signer.Address()})
	require.ErrorIs(t, err, ErrClosed)
}
