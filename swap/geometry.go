package swap

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/quadtree"
	"github.com/paulmach/orb/simplify"
	"github.com/puzpuzpuz/xsync/v4"
)

// Geometry is the spatial collaborator the engine queries.
// Implementations must be safe for concurrent readers.
type Geometry interface {
	Area(id UnitID) float64
	Distance(a, b UnitID) float64
	Adjacent(id UnitID) []UnitID
	Nearest(id UnitID, k int, maxDistance float64) []UnitID
	CountWithin(id UnitID, radius float64) int
	Dissolve(ids []UnitID) orb.MultiPolygon
}

// DefaultTouchTolerance is the gap below which two outlines count as touching
const DefaultTouchTolerance = 1e-6

// centroidPointer adapts a unit centroid to the quadtree
type centroidPointer struct {
	id    UnitID
	index int
	p     orb.Point
}

func (c centroidPointer) Point() orb.Point { return c.p }

// PlanarGeometry answers geometry queries on planar coordinates with orb.
// Distances are between centroids.
type PlanarGeometry struct {
	ids       []UnitID
	index     map[UnitID]int
	shapes    []orb.Geometry
	bounds    []orb.Bound
	centroids []orb.Point
	areas     []float64
	tree      *quadtree.Quadtree
	tolerance float64
	adjacent  *xsync.Map[UnitID, []UnitID]
}

// NewPlanarGeometry indexes the units of a dataset. When simplifyTolerance is
// positive, outlines are simplified with Douglas-Peucker before adjacency tests.
func NewPlanarGeometry(ds *Dataset, simplifyTolerance float64) *PlanarGeometry {
	units := ds.Units()
	g := &PlanarGeometry{
		ids:       make([]UnitID, len(units)),
		index:     make(map[UnitID]int, len(units)),
		shapes:    make([]orb.Geometry, len(units)),
		bounds:    make([]orb.Bound, len(units)),
		centroids: make([]orb.Point, len(units)),
		areas:     make([]float64, len(units)),
		tolerance: DefaultTouchTolerance,
		adjacent:  xsync.NewMap[UnitID, []UnitID](),
	}

	var all orb.Bound
	for i, u := range units {
		g.ids[i] = u.ID
		g.index[u.ID] = i
		shape := u.Geometry
		if shape != nil && simplifyTolerance > 0 {
			shape = simplify.DouglasPeucker(simplifyTolerance).Simplify(orb.Clone(shape))
		}
		g.shapes[i] = shape
		g.centroids[i] = u.Centroid
		if shape != nil {
			g.bounds[i] = shape.Bound()
			g.areas[i] = math.Abs(planar.Area(u.Geometry))
		} else {
			g.bounds[i] = orb.Bound{Min: u.Centroid, Max: u.Centroid}
		}
		if i == 0 {
			all = g.bounds[i]
		} else {
			all = all.Union(g.bounds[i])
		}
		all = all.Extend(u.Centroid)
	}

	g.tree = quadtree.New(all.Pad(1))
	for i, id := range g.ids {
		// points are inside the padded bound by construction
		_ = g.tree.Add(centroidPointer{id: id, index: i, p: g.centroids[i]})
	}
	return g
}

// Area returns the planar area of a unit's outline
func (g *PlanarGeometry) Area(id UnitID) float64 {
	i, ok := g.index[id]
	if !ok {
		return 0
	}
	return g.areas[i]
}

// Distance returns the centroid distance between two units, +Inf for unknown IDs
func (g *PlanarGeometry) Distance(a, b UnitID) float64 {
	i, ok := g.index[a]
	j, ok2 := g.index[b]
	if !ok || !ok2 {
		return math.Inf(1)
	}
	return planar.Distance(g.centroids[i], g.centroids[j])
}

// Adjacent returns the units whose outlines touch id, in dataset order.
// Results are cached.
func (g *PlanarGeometry) Adjacent(id UnitID) []UnitID {
	if cached, ok := g.adjacent.Load(id); ok {
		return cached
	}
	i, ok := g.index[id]
	if !ok {
		return nil
	}

	var result []UnitID
	padded := g.bounds[i].Pad(g.tolerance)
	for j := range g.ids {
		if j == i || !padded.Intersects(g.bounds[j]) {
			continue
		}
		if touches(g.shapes[i], g.shapes[j], g.tolerance) {
			result = append(result, g.ids[j])
		}
	}
	actual, _ := g.adjacent.LoadOrStore(id, result)
	return actual
}

// Nearest returns up to k units nearest to id (excluding id), closest first
func (g *PlanarGeometry) Nearest(id UnitID, k int, maxDistance float64) []UnitID {
	i, ok := g.index[id]
	if !ok || k <= 0 {
		return nil
	}
	// one extra slot because the query point itself is in the tree
	found := g.tree.KNearest(nil, g.centroids[i], k+1, maxDistance)
	neighbours := make([]centroidPointer, 0, len(found))
	for _, p := range found {
		cp := p.(centroidPointer)
		if cp.id != id {
			neighbours = append(neighbours, cp)
		}
	}
	origin := g.centroids[i]
	sort.SliceStable(neighbours, func(a, b int) bool {
		da := planar.DistanceSquared(origin, neighbours[a].p)
		db := planar.DistanceSquared(origin, neighbours[b].p)
		if da != db {
			return da < db
		}
		return neighbours[a].index < neighbours[b].index
	})
	if len(neighbours) > k {
		neighbours = neighbours[:k]
	}
	result := make([]UnitID, len(neighbours))
	for n, cp := range neighbours {
		result[n] = cp.id
	}
	return result
}

// CountWithin returns how many other units have a centroid within radius of id
func (g *PlanarGeometry) CountWithin(id UnitID, radius float64) int {
	i, ok := g.index[id]
	if !ok {
		return 0
	}
	c := g.centroids[i]
	box := orb.Bound{Min: c, Max: c}.Pad(radius)
	count := 0
	for _, p := range g.tree.InBound(nil, box) {
		cp := p.(centroidPointer)
		if cp.id != id && planar.Distance(c, cp.p) <= radius {
			count++
		}
	}
	return count
}

// Dissolve collects the polygons of the given units into one MultiPolygon.
// Shared borders are kept; this is a collection, not a topological union.
func (g *PlanarGeometry) Dissolve(ids []UnitID) orb.MultiPolygon {
	var mp orb.MultiPolygon
	for _, id := range ids {
		i, ok := g.index[id]
		if !ok {
			continue
		}
		switch s := g.shapes[i].(type) {
		case orb.Polygon:
			mp = append(mp, s)
		case orb.MultiPolygon:
			mp = append(mp, s...)
		}
	}
	return mp
}

// touches reports whether two outlines share a border or a vertex within tol
func touches(a, b orb.Geometry, tol float64) bool {
	if a == nil || b == nil {
		return false
	}
	ra, rb := rings(a), rings(b)
	return verticesNearRings(ra, rb, tol) || verticesNearRings(rb, ra, tol)
}

func verticesNearRings(src, dst []orb.Ring, tol float64) bool {
	for _, r := range src {
		for _, p := range r {
			for _, other := range dst {
				for k := 0; k+1 < len(other); k++ {
					if planar.DistanceFromSegment(other[k], other[k+1], p) <= tol {
						return true
					}
				}
			}
		}
	}
	return false
}

// rings flattens the rings of polygonal geometries
func rings(g orb.Geometry) []orb.Ring {
	switch s := g.(type) {
	case orb.Ring:
		return []orb.Ring{s}
	case orb.Polygon:
		return s
	case orb.MultiPolygon:
		var out []orb.Ring
		for _, p := range s {
			out = append(out, p...)
		}
		return out
	case orb.Bound:
		return s.ToPolygon()
	}
	return nil
}
