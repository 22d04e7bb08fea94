package distro

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/giveconomy/givstream/indexer/pkg/clickhouse"
)

const releaseTable = "fact_distro_release"

// Release is one observation of a stream's global release state.
type Release struct {
	ChainID         uint64
	Stream          string
	ContractAddress string
	Claimable       *big.Int
	TotalTokens     *big.Int
	ReleasePct      float64
	PercentComplete float64
	SnapshotTS      time.Time
}

type StoreConfig struct {
	Logger     *slog.Logger
	ClickHouse clickhouse.Client
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ClickHouse == nil {
		return errors.New("clickhouse connection is required")
	}
	return nil
}

// Store appends release observations to ClickHouse. The table is created by the
// clickhouse package migrations.
type Store struct {
	log *slog.Logger
	cfg StoreConfig
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

func (s *Store) InsertReleases(ctx context.Context, releases []Release) error {
	if len(releases) == 0 {
		return nil
	}
	s.log.Debug("distro/store: inserting releases", "count", len(releases))

	conn, err := s.cfg.ClickHouse.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get ClickHouse connection: %w", err)
	}
	defer conn.Close()

	batch, err := conn.PrepareBatch(ctx, "INSERT INTO "+releaseTable)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, r := range releases {
		if err := batch.Append(
			r.ChainID,
			r.Stream,
			r.ContractAddress,
			r.Claimable,
			r.TotalTokens,
			r.ReleasePct,
			r.PercentComplete,
			r.SnapshotTS.UTC(),
		); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append release row: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to write releases to ClickHouse: %w", err)
	}
	return nil
}

// HistoryOptions filters release history. Zero Since and Limit mean unbounded.
type HistoryOptions struct {
	ChainID uint64
	Stream  string
	Since   time.Time
	Limit   int
}

// History returns the recorded releases of one stream, newest first.
func (s *Store) History(ctx context.Context, opts HistoryOptions) ([]Release, error) {
	conditions := []string{"network = ?", "stream = ?"}
	args := []any{opts.ChainID, opts.Stream}
	if !opts.Since.IsZero() {
		conditions = append(conditions, "snapshot_ts >= ?")
		args = append(args, opts.Since.UTC())
	}
	limitClause := ""
	if opts.Limit > 0 {
		limitClause = fmt.Sprintf("LIMIT %d", opts.Limit)
	}
	query := strings.TrimSpace(fmt.Sprintf(`
		SELECT network, stream, contract_address, claimable, total_tokens, release_pct, percent_complete, snapshot_ts
		FROM %s
		WHERE %s
		ORDER BY snapshot_ts DESC
		%s
	`, releaseTable, strings.Join(conditions, " AND "), limitClause))

	conn, err := s.cfg.ClickHouse.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get ClickHouse connection: %w", err)
	}
	defer conn.Close()

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query release history: %w", err)
	}
	defer rows.Close()

	var releases []Release
	for rows.Next() {
		var (
			r                      Release
			claimable, totalTokens big.Int
		)
		if err := rows.Scan(
			&r.ChainID,
			&r.Stream,
			&r.ContractAddress,
			&claimable,
			&totalTokens,
			&r.ReleasePct,
			&r.PercentComplete,
			&r.SnapshotTS,
		); err != nil {
			return nil, fmt.Errorf("failed to scan release row: %w", err)
		}
		r.Claimable = &claimable
		r.TotalTokens = &totalTokens
		releases = append(releases, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read release history: %w", err)
	}
	return releases, nil
}
