package chain

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// OnBlock registers fn for every new block number and returns its unsubscribe function. The
// first registration starts a single head feed shared by all callbacks; it runs until Close.
// Callbacks are invoked without any client lock held.
func (c *Client) OnBlock(fn func(uint64)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return func() {}
	}
	c.nextID++
	id := c.nextID
	c.callbacks[id] = fn
	if !c.watching {
		c.watching = true
		c.wg.Add(1)
		go c.watchHeads(c.ctx)
	}
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.callbacks, id)
	}
}

func (c *Client) dispatch(blockNumber uint64) {
	c.mu.Lock()
	fns := make([]func(uint64), 0, len(c.callbacks))
	for _, fn := range c.callbacks {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(blockNumber)
	}
}

func (c *Client) watchHeads(ctx context.Context) {
	defer c.wg.Done()

	headers := make(chan *types.Header, 16)
	sub, err := c.cfg.Backend.SubscribeNewHead(ctx, headers)
	if err != nil {
		if errors.Is(err, rpc.ErrNotificationsUnsupported) {
			c.log.Debug("chain: node cannot push new heads, polling")
		} else {
			c.log.Warn("chain: failed to subscribe to new heads, polling", "error", err)
		}
		c.pollHeads(ctx)
		return
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-sub.Err():
			c.log.Warn("chain: new head subscription ended, polling", "error", err)
			c.pollHeads(ctx)
			return
		case head := <-headers:
			c.dispatch(head.Number.Uint64())
		}
	}
}

func (c *Client) pollHeads(ctx context.Context) {
	ticker := c.cfg.Clock.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	var last uint64
	for {
		n, err := c.cfg.Backend.BlockNumber(ctx)
		switch {
		case err != nil:
			if ctx.Err() == nil {
				c.log.Debug("chain: failed to poll block number", "error", err)
			}
		case n > last:
			last = n
			c.dispatch(n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
	}
}
