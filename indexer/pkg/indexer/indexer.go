package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/giveconomy/givstream/indexer/pkg/distro"
)

type Indexer struct {
	log *slog.Logger
	cfg Config

	distro *distro.View
	store  *distro.Store

	startedAt time.Time
}

func New(ctx context.Context, cfg Config) (*Indexer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var store *distro.Store
	if cfg.ClickHouse != nil {
		var err error
		store, err = distro.NewStore(distro.StoreConfig{
			Logger:     cfg.Logger,
			ClickHouse: cfg.ClickHouse,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create distro store: %w", err)
		}
		cfg.Logger.Info("indexer: release history enabled")
	}

	view, err := distro.NewView(distro.ViewConfig{
		Logger:          cfg.Logger,
		Clock:           cfg.Clock,
		Source:          cfg.Source,
		Networks:        cfg.Networks,
		RefreshInterval: cfg.RefreshInterval,
		MaxConcurrency:  cfg.MaxConcurrency,
		Store:           store,
		Reporter:        cfg.Reporter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create distro view: %w", err)
	}

	return &Indexer{
		log:    cfg.Logger,
		cfg:    cfg,
		distro: view,
		store:  store,
	}, nil
}

func (i *Indexer) Distro() *distro.View { return i.distro }

// Store is nil when release history is disabled.
func (i *Indexer) Store() *distro.Store { return i.store }

func (i *Indexer) Ready() bool {
	return i.distro.Ready()
}

func (i *Indexer) Start(ctx context.Context) {
	i.startedAt = i.cfg.Clock.Now()
	i.distro.Start(ctx)
}

func (i *Indexer) StartedAt() time.Time { return i.startedAt }

func (i *Indexer) Close() error {
	if i.cfg.ClickHouse != nil {
		return i.cfg.ClickHouse.Close()
	}
	return nil
}
