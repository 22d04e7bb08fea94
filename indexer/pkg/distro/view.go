package distro

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/giveconomy/givstream/indexer/pkg/metrics"
	"github.com/giveconomy/givstream/indexer/pkg/vesting"
	"github.com/giveconomy/givstream/utils/pkg/errtrack"
	"github.com/giveconomy/givstream/utils/pkg/netconfig"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// Source fetches distribution schedules and account balances for a network, typically from
// the network's subgraph.
type Source interface {
	FetchSchedules(ctx context.Context, network netconfig.Network) ([]vesting.Schedule, error)
	FetchBalances(ctx context.Context, network netconfig.Network, account string) (vesting.Balances, error)
}

type ViewConfig struct {
	Logger          *slog.Logger
	Clock           clockwork.Clock
	Source          Source
	Networks        *netconfig.Config
	RefreshInterval time.Duration
	MaxConcurrency  int
	Store           *Store            // optional, nil disables release history
	Reporter        errtrack.Reporter // optional
}

func (cfg *ViewConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Source == nil {
		return errors.New("source is required")
	}
	if cfg.Networks == nil || len(cfg.Networks.Networks) == 0 {
		return errors.New("networks config is required")
	}
	if err := cfg.Networks.Validate(); err != nil {
		return fmt.Errorf("invalid networks config: %w", err)
	}
	if cfg.RefreshInterval <= 0 {
		return errors.New("refresh interval must be greater than 0")
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Reporter == nil {
		cfg.Reporter = errtrack.NopReporter{}
	}
	return nil
}

// View keeps the registry of vesting accountants in sync with the networks' schedules.
type View struct {
	log       *slog.Logger
	cfg       ViewConfig
	registry  *Registry
	refreshMu sync.Mutex

	// last successfully fetched schedules per chain, reused when a network fails to refresh
	schedules map[uint64][]vesting.Schedule

	readyOnce sync.Once
	readyCh   chan struct{}
}

func NewView(cfg ViewConfig) (*View, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	v := &View{
		log:       cfg.Logger,
		cfg:       cfg,
		schedules: make(map[uint64][]vesting.Schedule),
		readyCh:   make(chan struct{}),
	}
	v.registry = NewRegistry(NewSnapshot(cfg.Networks.DefaultChainID, cfg.Clock.Now(), v.chainIDs(), nil))
	return v, nil
}

func (v *View) chainIDs() []uint64 {
	ids := make([]uint64, len(v.cfg.Networks.Networks))
	for i, n := range v.cfg.Networks.Networks {
		ids[i] = n.ChainID
	}
	return ids
}

func (v *View) Registry() *Registry { return v.registry }

func (v *View) Clock() clockwork.Clock { return v.cfg.Clock }

func (v *View) Ready() bool {
	select {
	case <-v.readyCh:
		return true
	default:
		return false
	}
}

func (v *View) WaitReady(ctx context.Context) error {
	select {
	case <-v.readyCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context cancelled while waiting for distro view: %w", ctx.Err())
	}
}

func (v *View) Start(ctx context.Context) {
	go func() {
		v.log.Info("distro: starting refresh loop", "interval", v.cfg.RefreshInterval, "networks", len(v.cfg.Networks.Networks))

		v.safeRefresh(ctx)

		ticker := v.cfg.Clock.NewTicker(v.cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				v.safeRefresh(ctx)
			}
		}
	}()
}

func (v *View) safeRefresh(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			v.log.Error("distro: refresh panicked", "panic", r)
			metrics.DistroRefreshTotal.WithLabelValues("all", "panic").Inc()
			v.cfg.Reporter.Report(ctx, fmt.Errorf("distro refresh panicked: %v", r), errtrack.Tags{"section": "distroRefresh"})
		}
	}()

	if err := v.Refresh(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		v.log.Error("distro: refresh failed", "error", err)
		v.cfg.Reporter.Report(ctx, err, errtrack.Tags{"section": "distroRefresh"})
	}
}

// Refresh fetches every network's schedules concurrently and publishes a new snapshot. A
// network that fails keeps its previous schedules; the refresh only fails when no network
// has ever been fetched.
func (v *View) Refresh(ctx context.Context) error {
	v.refreshMu.Lock()
	defer v.refreshMu.Unlock()

	refreshStart := v.cfg.Clock.Now()
	v.log.Debug("distro: refresh started")
	defer func() {
		duration := v.cfg.Clock.Since(refreshStart)
		v.log.Info("distro: refresh completed", "duration", duration.String())
		metrics.DistroRefreshDuration.Observe(duration.Seconds())
	}()

	networks := v.cfg.Networks.Networks
	fetched := make([][]vesting.Schedule, len(networks))
	errs := make([]error, len(networks))

	var g errgroup.Group
	g.SetLimit(v.cfg.MaxConcurrency)
	for i, network := range networks {
		g.Go(func() error {
			schedules, err := v.cfg.Source.FetchSchedules(ctx, network)
			fetched[i], errs[i] = schedules, err
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}

	succeeded := 0
	for i, network := range networks {
		label := strconv.FormatUint(network.ChainID, 10)
		if errs[i] != nil {
			v.log.Warn("distro: failed to fetch schedules, keeping previous", "network", network.Name, "chain_id", network.ChainID, "error", errs[i])
			metrics.DistroRefreshTotal.WithLabelValues(label, "error").Inc()
			continue
		}
		v.schedules[network.ChainID] = fetched[i]
		succeeded++
		metrics.DistroRefreshTotal.WithLabelValues(label, "success").Inc()
	}

	if succeeded == 0 && len(v.schedules) == 0 {
		return fmt.Errorf("failed to fetch schedules for any of %d networks: %w", len(networks), errors.Join(errs...))
	}

	now := v.cfg.Clock.Now()
	snapshot := NewSnapshot(v.cfg.Networks.DefaultChainID, now, v.chainIDs(), v.schedules)
	v.registry.Replace(snapshot)

	if v.cfg.Store != nil && succeeded > 0 {
		if err := v.cfg.Store.InsertReleases(ctx, releasesOf(snapshot, now)); err != nil {
			v.log.Warn("distro: failed to record releases", "error", err)
		}
	}

	v.readyOnce.Do(func() {
		close(v.readyCh)
		v.log.Info("distro: view is now ready")
	})

	return nil
}

// Network resolves chainID to its configuration, falling back to the default network. The
// second result is false when the fallback was used.
func (v *View) Network(chainID uint64) (netconfig.Network, bool) {
	if n, ok := v.cfg.Networks.Network(chainID); ok {
		return *n, true
	}
	n, _ := v.cfg.Networks.Network(v.cfg.Networks.DefaultChainID)
	return *n, false
}

// FetchBalances reads an account's balances on the network that chainID resolves to.
func (v *View) FetchBalances(ctx context.Context, chainID uint64, account string) (vesting.Balances, error) {
	network, _ := v.Network(chainID)
	b, err := v.cfg.Source.FetchBalances(ctx, network, account)
	if err != nil {
		return vesting.Balances{}, fmt.Errorf("failed to fetch balances on %s: %w", network.Name, err)
	}
	return b, nil
}

func releasesOf(s *Snapshot, now time.Time) []Release {
	var releases []Release
	for _, chainID := range sortedChainIDs(s) {
		n, _ := s.Network(chainID)
		add := func(stream string, a *vesting.Accountant) {
			sched := a.Schedule()
			if sched.TotalTokens.Sign() == 0 {
				return
			}
			f := a.Figures(now)
			releases = append(releases, Release{
				ChainID:         chainID,
				Stream:          stream,
				ContractAddress: sched.ContractAddress,
				Claimable:       f.GloballyClaimable,
				TotalTokens:     sched.TotalTokens,
				ReleasePct:      f.GlobalReleasePercentage.InexactFloat64(),
				PercentComplete: f.PercentComplete,
				SnapshotTS:      now,
			})
		}
		add(vesting.DefaultStream.String(), n.Default)
		for _, tag := range n.StreamTags() {
			add(tag, n.Streams[tag])
		}
	}
	return releases
}

func sortedChainIDs(s *Snapshot) []uint64 {
	return slices.Sorted(maps.Keys(s.networks))
}
