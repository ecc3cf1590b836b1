package swap

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
)

// DistanceMode selects how the matrix is filled
type DistanceMode int

const (
	// ModeExact computes every seed against every unit up front.
	ModeExact DistanceMode = iota
	// ModeApproximate queries the nearest K units per seed and fills gaps on demand.
	ModeApproximate
)

func (m DistanceMode) String() string {
	if m == ModeApproximate {
		return "approximate"
	}
	return "exact"
}

// Neighbour is one entry of a seed's filtered distance list
type Neighbour struct {
	Unit     UnitID
	Distance float64
}

// MatrixOptions configures a DistanceMatrix
type MatrixOptions struct {
	Threshold     float64
	Mode          DistanceMode
	Margin        float64 // extra radius for the density count; default 10% of Threshold
	MinNeighbours int     // default 8
	MaxNeighbours int     // default 64
}

type pairKey struct {
	seed, unit UnitID
}

// DistanceMatrix holds seed → unit distances. Entries are computed lazily and
// memoized; concurrent readers may fill missing entries.
type DistanceMatrix struct {
	geom     Geometry
	units    []UnitID
	index    func(UnitID) int
	opts     MatrixOptions
	cache    *xsync.Map[pairKey, float64]
	filtered *xsync.Map[UnitID, []Neighbour]
	computed atomic.Int64
}

// NewDistanceMatrix creates an empty matrix over units. index orders ties.
func NewDistanceMatrix(geom Geometry, units []UnitID, index func(UnitID) int, opts MatrixOptions) *DistanceMatrix {
	if opts.Margin <= 0 {
		opts.Margin = opts.Threshold * 0.1
	}
	if opts.MinNeighbours <= 0 {
		opts.MinNeighbours = 8
	}
	if opts.MaxNeighbours < opts.MinNeighbours {
		opts.MaxNeighbours = max(64, opts.MinNeighbours)
	}
	return &DistanceMatrix{
		geom:     geom,
		units:    units,
		index:    index,
		opts:     opts,
		cache:    xsync.NewMap[pairKey, float64](),
		filtered: xsync.NewMap[UnitID, []Neighbour](),
	}
}

// Mode returns the fill mode
func (m *DistanceMatrix) Mode() DistanceMode {
	return m.opts.Mode
}

// Threshold returns the filter distance
func (m *DistanceMatrix) Threshold() float64 {
	return m.opts.Threshold
}

// Computations returns how many distances were requested from the geometry
func (m *DistanceMatrix) Computations() int64 {
	return m.computed.Load()
}

// Build fills the filtered lists of all seeds
func (m *DistanceMatrix) Build(ctx context.Context, seeds []UnitID) error {
	for _, seed := range seeds {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.Filtered(seed)
	}
	return nil
}

// Distance returns the distance from seed to unit, computing it on a miss
func (m *DistanceMatrix) Distance(seed, unit UnitID) float64 {
	if seed == unit {
		return 0
	}
	key := pairKey{seed: seed, unit: unit}
	if d, ok := m.cache.Load(key); ok {
		return d
	}
	m.computed.Add(1)
	d, _ := m.cache.LoadOrStore(key, m.geom.Distance(seed, unit))
	return d
}

// Filtered returns the units within the threshold of seed, nearest first
func (m *DistanceMatrix) Filtered(seed UnitID) []Neighbour {
	if list, ok := m.filtered.Load(seed); ok {
		return list
	}

	var candidates []UnitID
	if m.opts.Mode == ModeApproximate {
		k := m.geom.CountWithin(seed, m.opts.Threshold+m.opts.Margin)
		k = min(max(k, m.opts.MinNeighbours), m.opts.MaxNeighbours)
		candidates = m.geom.Nearest(seed, k, m.opts.Threshold)
	} else {
		candidates = m.units
	}

	list := make([]Neighbour, 0, len(candidates))
	for _, id := range candidates {
		if id == seed {
			continue
		}
		if d := m.Distance(seed, id); d <= m.opts.Threshold {
			list = append(list, Neighbour{Unit: id, Distance: d})
		}
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Distance != list[j].Distance {
			return list[i].Distance < list[j].Distance
		}
		return m.index(list[i].Unit) < m.index(list[j].Unit)
	})

	actual, _ := m.filtered.LoadOrStore(seed, list)
	return actual
}
