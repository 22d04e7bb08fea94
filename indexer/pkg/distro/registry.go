package distro

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/giveconomy/givstream/indexer/pkg/vesting"
)

// NetworkAccountants holds the accountants for every stream on one network.
type NetworkAccountants struct {
	ChainID uint64
	Default *vesting.Accountant
	Streams map[string]*vesting.Accountant
}

// For returns the accountant of a stream. Named streams that were never fetched are absent.
func (n *NetworkAccountants) For(s vesting.Stream) (*vesting.Accountant, bool) {
	if s.IsDefault() {
		return n.Default, n.Default != nil
	}
	a, ok := n.Streams[s.Tag()]
	return a, ok
}

// StreamTags lists the named streams in a stable order.
func (n *NetworkAccountants) StreamTags() []string {
	tags := make([]string, 0, len(n.Streams))
	for tag := range n.Streams {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Snapshot is an immutable set of accountants for all networks. It is never modified after
// construction; a refresh builds a new one and swaps it into the Registry.
type Snapshot struct {
	networks       map[uint64]*NetworkAccountants
	defaultChainID uint64
	builtAt        time.Time
}

// NewSnapshot builds accountants from fetched schedules. Every configured network gets an
// entry; networks without a default-stream schedule use a zero schedule so figures read as 0.
// A defaultChainID outside chainIDs falls back to the first chain.
func NewSnapshot(defaultChainID uint64, builtAt time.Time, chainIDs []uint64, schedules map[uint64][]vesting.Schedule) *Snapshot {
	s := &Snapshot{
		networks:       make(map[uint64]*NetworkAccountants, len(chainIDs)),
		defaultChainID: defaultChainID,
		builtAt:        builtAt,
	}
	for _, chainID := range chainIDs {
		n := &NetworkAccountants{
			ChainID: chainID,
			Streams: make(map[string]*vesting.Accountant),
		}
		for _, sched := range schedules[chainID] {
			a := vesting.NewAccountant(sched)
			if sched.Stream.IsDefault() {
				n.Default = a
			} else {
				n.Streams[sched.Stream.Tag()] = a
			}
		}
		if n.Default == nil {
			n.Default = vesting.NewAccountant(vesting.ZeroSchedule("", builtAt))
		}
		s.networks[chainID] = n
	}
	if _, ok := s.networks[defaultChainID]; !ok && len(chainIDs) > 0 {
		s.defaultChainID = chainIDs[0]
	}
	return s
}

// Select returns the accountants for chainID, falling back to the default network when the
// chain is not configured. The second result reports whether chainID itself matched.
func (s *Snapshot) Select(chainID uint64) (*NetworkAccountants, bool) {
	if n, ok := s.networks[chainID]; ok {
		return n, true
	}
	return s.networks[s.defaultChainID], false
}

func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// Network returns the entry for chainID without fallback.
func (s *Snapshot) Network(chainID uint64) (*NetworkAccountants, bool) {
	n, ok := s.networks[chainID]
	return n, ok
}

// Registry publishes the current Snapshot. Reads are lock-free; Replace swaps the whole
// snapshot at once.
type Registry struct {
	current atomic.Pointer[Snapshot]
}

func NewRegistry(initial *Snapshot) *Registry {
	r := &Registry{}
	r.current.Store(initial)
	return r
}

func (r *Registry) Current() *Snapshot {
	return r.current.Load()
}

func (r *Registry) Replace(s *Snapshot) {
	r.current.Store(s)
}
