package swap

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// ---------------------------------------------------------------------------
// fixtures
// ---------------------------------------------------------------------------

func pointUnit(id, owner string, weight, x, y float64) Unit {
	return Unit{
		ID:       UnitID(id),
		Owner:    OwnerID(owner),
		Weight:   weight,
		Centroid: orb.Point{x, y},
	}
}

func square(x, y, size float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y},
	}}
}

func mustDataset(t *testing.T, units []Unit) *Dataset {
	t.Helper()
	ds, err := NewDataset(units)
	if err != nil {
		t.Fatalf("NewDataset: %v", err)
	}
	return ds
}

// fakeGeometry answers queries from centroids and an explicit adjacency list
type fakeGeometry struct {
	order  []UnitID
	points map[UnitID]orb.Point
	adj    map[UnitID][]UnitID
}

var _ Geometry = (*fakeGeometry)(nil)

func newFakeGeometry(ds *Dataset, edges ...[2]string) *fakeGeometry {
	g := &fakeGeometry{
		points: make(map[UnitID]orb.Point),
		adj:    make(map[UnitID][]UnitID),
	}
	for _, u := range ds.Units() {
		g.order = append(g.order, u.ID)
		g.points[u.ID] = u.Centroid
	}
	for _, e := range edges {
		a, b := UnitID(e[0]), UnitID(e[1])
		g.adj[a] = append(g.adj[a], b)
		g.adj[b] = append(g.adj[b], a)
	}
	return g
}

func (g *fakeGeometry) Area(UnitID) float64 { return 0 }

func (g *fakeGeometry) Distance(a, b UnitID) float64 {
	pa, ok := g.points[a]
	pb, ok2 := g.points[b]
	if !ok || !ok2 {
		return math.Inf(1)
	}
	return planar.Distance(pa, pb)
}

func (g *fakeGeometry) Adjacent(id UnitID) []UnitID { return g.adj[id] }

func (g *fakeGeometry) Nearest(id UnitID, k int, maxDistance float64) []UnitID {
	var out []UnitID
	for _, other := range g.order {
		if other != id && g.Distance(id, other) <= maxDistance {
			out = append(out, other)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return g.Distance(id, out[i]) < g.Distance(id, out[j])
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func (g *fakeGeometry) CountWithin(id UnitID, radius float64) int {
	n := 0
	for _, other := range g.order {
		if other != id && g.Distance(id, other) <= radius {
			n++
		}
	}
	return n
}

func (g *fakeGeometry) Dissolve([]UnitID) orb.MultiPolygon { return nil }

// twoOwnerScenario has one obvious trade: A's far unit A2 for B's unit B2,
// which touches A's seed. C and D have nothing to trade.
func twoOwnerScenario(t *testing.T) (*Dataset, *fakeGeometry) {
	t.Helper()
	ds := mustDataset(t, []Unit{
		pointUnit("A1", "A", 20, 0, 0),
		pointUnit("A2", "A", 10, 5000, 0),
		pointUnit("B1", "B", 20, 10000, 0),
		pointUnit("B2", "B", 10, 100, 0),
		pointUnit("C1", "C", 20, 0, 20000),
		pointUnit("C2", "C", 10, 0, 21000),
		pointUnit("D1", "D", 20, 20000, 20000),
		pointUnit("D2", "D", 10, 20100, 20000),
	})
	return ds, newFakeGeometry(ds, [2]string{"A1", "B2"})
}

// gridDataset lays out n×n squares owned at random by the given number of
// owners, with weights drawn from [50, 150)
func gridDataset(t *testing.T, n, owners int, seed int64) *Dataset {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	var units []Unit
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			units = append(units, Unit{
				ID:       UnitID(fmt.Sprintf("r%d-c%d", row, col)),
				Owner:    OwnerID(fmt.Sprintf("owner-%d", rng.Intn(owners))),
				Weight:   50 + rng.Float64()*100,
				Geometry: square(float64(col)*100, float64(row)*100, 100),
			})
		}
	}
	return mustDataset(t, units)
}

// recorder is an Observer that keeps every event
type recorder struct {
	mu       sync.Mutex
	swaps    []SwapEvent
	turns    []TurnEvent
	finished []Result
	onSwap   func(SwapEvent)
}

func (r *recorder) SwapApplied(ev SwapEvent) {
	r.mu.Lock()
	r.swaps = append(r.swaps, ev)
	hook := r.onSwap
	r.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
}

func (r *recorder) TurnCompleted(ev TurnEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, ev)
}

func (r *recorder) RunFinished(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, res)
}

func ids(s ...string) []UnitID {
	out := make([]UnitID, len(s))
	for i, v := range s {
		out[i] = UnitID(v)
	}
	return out
}
