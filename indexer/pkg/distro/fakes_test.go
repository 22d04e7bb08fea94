package distro

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/giveconomy/givstream/indexer/pkg/clickhouse"
	"github.com/giveconomy/givstream/indexer/pkg/vesting"
	"github.com/giveconomy/givstream/utils/pkg/netconfig"
)

type mockSource struct {
	FetchSchedulesFunc func(ctx context.Context, network netconfig.Network) ([]vesting.Schedule, error)
	FetchBalancesFunc  func(ctx context.Context, network netconfig.Network, account string) (vesting.Balances, error)
}

func (m *mockSource) FetchSchedules(ctx context.Context, network netconfig.Network) ([]vesting.Schedule, error) {
	return m.FetchSchedulesFunc(ctx, network)
}

func (m *mockSource) FetchBalances(ctx context.Context, network netconfig.Network, account string) (vesting.Balances, error) {
	if m.FetchBalancesFunc == nil {
		return vesting.Balances{}, nil
	}
	return m.FetchBalancesFunc(ctx, network, account)
}

type fakeBatch struct {
	driver.Batch

	mu        sync.Mutex
	rows      [][]any
	appendErr error
	sent      bool
	aborted   bool
}

func (b *fakeBatch) Append(v ...any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.appendErr != nil {
		return b.appendErr
	}
	b.rows = append(b.rows, v)
	return nil
}

func (b *fakeBatch) Abort() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.aborted = true
	return nil
}

func (b *fakeBatch) Send() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = true
	return nil
}

type fakeConn struct {
	mu        sync.Mutex
	prepared  []string
	batch     *fakeBatch
	queries   []string
	queryArgs [][]any
	queryErr  error
	result    [][]any
}

func (c *fakeConn) Exec(context.Context, string, ...any) error {
	return nil
}

func (c *fakeConn) Query(_ context.Context, query string, args ...any) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = append(c.queries, query)
	c.queryArgs = append(c.queryArgs, args)
	if c.queryErr != nil {
		return nil, c.queryErr
	}
	return &fakeRows{rows: c.result}, nil
}

// fakeRows scans canned rows into the pointer types the store reads with.
type fakeRows struct {
	driver.Rows

	rows [][]any
	pos  int
}

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.pos-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(row))
	}
	for i, d := range dest {
		switch d := d.(type) {
		case *uint64:
			*d = row[i].(uint64)
		case *string:
			*d = row[i].(string)
		case *float64:
			*d = row[i].(float64)
		case *big.Int:
			d.Set(row[i].(*big.Int))
		case *time.Time:
			*d = row[i].(time.Time)
		default:
			return fmt.Errorf("scan: unsupported destination %T", d)
		}
	}
	return nil
}

func (r *fakeRows) Err() error   { return nil }
func (r *fakeRows) Close() error { return nil }

func (c *fakeConn) PrepareBatch(_ context.Context, query string) (driver.Batch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prepared = append(c.prepared, query)
	return c.batch, nil
}

func (c *fakeConn) Close() error { return nil }

type fakeClickHouse struct {
	conn *fakeConn
}

func newFakeClickHouse() *fakeClickHouse {
	return &fakeClickHouse{conn: &fakeConn{batch: &fakeBatch{}}}
}

func (f *fakeClickHouse) Conn(context.Context) (clickhouse.Connection, error) { return f.conn, nil }

func (f *fakeClickHouse) Close() error { return nil }
