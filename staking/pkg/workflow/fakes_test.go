package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/giveconomy/givstream/utils/pkg/errtrack"
	"github.com/holiman/uint256"
)

var (
	owner   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	other   = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	token   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	reward  = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	wrapper = common.HexToAddress("0x00000000000000000000000000000000000000b3")
)

type rejectedError struct{}

func (rejectedError) Error() string  { return "user rejected the request" }
func (rejectedError) ErrorCode() int { return RejectionCode }

// fakeChain records submissions and subscriptions. Receipts resolve immediately unless a
// gate channel is installed for the submission's kind.
type fakeChain struct {
	mu sync.Mutex

	account    common.Address
	accountErr error
	allowance  *uint256.Int

	submitErr   map[TxKind]error
	receiptOK   map[TxKind]bool
	receiptErr  error
	receiptGate map[TxKind]chan struct{}

	submissions []TxRequest
	callbacks   map[int]func(uint64)
	nextSub     int
	events      []string
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		account:     owner,
		allowance:   new(uint256.Int),
		submitErr:   make(map[TxKind]error),
		receiptOK:   make(map[TxKind]bool),
		receiptGate: make(map[TxKind]chan struct{}),
		callbacks:   make(map[int]func(uint64)),
	}
}

func (c *fakeChain) Account(context.Context) (common.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.account, c.accountErr
}

func (c *fakeChain) Submit(_ context.Context, req TxRequest) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submissions = append(c.submissions, req)
	if err := c.submitErr[req.Kind]; err != nil {
		return common.Hash{}, err
	}
	if req.Kind == TxApprove && c.receiptOKFor(req.Kind) {
		c.allowance = req.Amount.Clone()
	}
	return common.BigToHash(uint256.NewInt(uint64(len(c.submissions))).ToBig()), nil
}

func (c *fakeChain) receiptOKFor(kind TxKind) bool {
	ok, set := c.receiptOK[kind]
	return !set || ok
}

func (c *fakeChain) AwaitReceipt(ctx context.Context, hash common.Hash) (Receipt, error) {
	c.mu.Lock()
	idx := int(hash.Big().Int64()) - 1
	kind := c.submissions[idx].Kind
	gate := c.receiptGate[kind]
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return Receipt{}, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.receiptErr != nil {
		return Receipt{}, c.receiptErr
	}
	return Receipt{TxHash: hash, BlockNumber: 1, Success: c.receiptOKFor(kind)}, nil
}

func (c *fakeChain) ReadAllowance(_ context.Context, tok, own, spender common.Address) (*uint256.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tok != token || own != owner {
		return nil, errors.New("unexpected allowance query")
	}
	return c.allowance.Clone(), nil
}

func (c *fakeChain) OnBlock(fn func(uint64)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	id := c.nextSub
	c.callbacks[id] = fn
	c.events = append(c.events, fmt.Sprintf("sub#%d", id))
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.callbacks, id)
		c.events = append(c.events, fmt.Sprintf("unsub#%d", id))
	}
}

// block delivers a block to every subscriber, outside the chain lock.
func (c *fakeChain) block(n uint64) {
	c.mu.Lock()
	fns := make([]func(uint64), 0, len(c.callbacks))
	for _, fn := range c.callbacks {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(n)
	}
}

func (c *fakeChain) setAllowance(a uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allowance = uint256.NewInt(a)
}

func (c *fakeChain) setAccount(a common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.account = a
}

func (c *fakeChain) kinds() []TxKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	kinds := make([]TxKind, len(c.submissions))
	for i, s := range c.submissions {
		kinds[i] = s.Kind
	}
	return kinds
}

func (c *fakeChain) subscriberCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.callbacks)
}

func (c *fakeChain) subEvents() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...)
}

type report struct {
	err  error
	tags errtrack.Tags
}

type fakeReporter struct {
	mu      sync.Mutex
	reports []report
}

func (r *fakeReporter) Report(_ context.Context, err error, tags errtrack.Tags) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report{err: err, tags: tags})
}

func (r *fakeReporter) all() []report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]report(nil), r.reports...)
}
