package indexer

import (
	"errors"
	"log/slog"
	"time"

	"github.com/giveconomy/givstream/indexer/pkg/clickhouse"
	"github.com/giveconomy/givstream/indexer/pkg/distro"
	"github.com/giveconomy/givstream/utils/pkg/errtrack"
	"github.com/giveconomy/givstream/utils/pkg/netconfig"
	"github.com/jonboulle/clockwork"
)

type Config struct {
	Logger          *slog.Logger
	Clock           clockwork.Clock
	Networks        *netconfig.Config
	Source          distro.Source
	RefreshInterval time.Duration
	MaxConcurrency  int
	Reporter        errtrack.Reporter

	// ClickHouse is optional; when set, release history is recorded on every refresh.
	ClickHouse clickhouse.Client
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Networks == nil {
		return errors.New("networks config is required")
	}
	if cfg.Source == nil {
		return errors.New("source is required")
	}
	if cfg.RefreshInterval <= 0 {
		return errors.New("refresh interval must be greater than 0")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}
