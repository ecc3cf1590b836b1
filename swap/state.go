package swap

import (
	"fmt"
	"sort"
)

// Band is the allowed range of an owner's total weight
type Band struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// NewBand derives the band from an initial total and a tolerance in percent
func NewBand(initial, tolerance float64) Band {
	return Band{
		Min: initial * (1 - tolerance/100),
		Max: initial * (1 + tolerance/100),
	}
}

// Contains reports whether v lies inside the band (inclusive)
func (b Band) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// OwnerSink receives unit reassignments. The engine calls it once per unit per
// accepted swap.
type OwnerSink interface {
	ApplyOwnerChange(unit UnitID, owner OwnerID) error
}

// StateReader is the read-only view of ownership handed to seed selection and
// candidate search. Only the engine holds the mutable *State.
type StateReader interface {
	Owners() []OwnerID
	OwnerOf(unit UnitID) OwnerID
	Units(owner OwnerID) []UnitID
	Seeds(owner OwnerID) []UnitID
	IsSeed(unit UnitID) bool
	Total(owner OwnerID) float64
	Band(owner OwnerID) Band
	Weight(unit UnitID) float64
	Index(unit UnitID) int
}

// OwnerState is the mutable record of one owner
type OwnerState struct {
	ID           OwnerID
	Units        []UnitID // dataset order
	Seeds        []UnitID
	Initial      float64
	Total        float64
	Band         Band
	InitialUnits int
	Touched      bool
}

// OwnerStats summarizes an owner after a run
type OwnerStats struct {
	Initial          float64 `json:"initial"`
	Final            float64 `json:"final"`
	DeviationPct     float64 `json:"deviationPct"`
	InitialUnits     int     `json:"initialUnits"`
	Units            int     `json:"units"`
	MeanSeedDistance float64 `json:"meanSeedDistance"`
	Touched          bool    `json:"touched"` // took part in at least one swap
}

// Swap is an exchange: Owner gives Give to Counterpart and receives Take
type Swap struct {
	Owner       OwnerID
	Counterpart OwnerID
	Give        []UnitID
	Take        []UnitID
}

// State is the ownership state mutated turn by turn. It is not safe for
// concurrent writers; readers may run concurrently between Apply calls.
type State struct {
	ds        *Dataset
	sink      OwnerSink
	owners    map[OwnerID]*OwnerState
	order     []OwnerID
	unitOwner map[UnitID]OwnerID
	seedOf    map[UnitID]OwnerID
	swaps     int
}

// Compile-time assertion that State implements StateReader.
var _ StateReader = (*State)(nil)

// NewState builds ownership from the dataset's current owners and derives
// tolerance bands from the totals the dataset was loaded with, so a second run
// on the same dataset keeps the first run's bands. A nil sink leaves the
// dataset untouched.
func NewState(ds *Dataset, tolerance float64, sink OwnerSink) *State {
	s := &State{
		ds:        ds,
		sink:      sink,
		owners:    make(map[OwnerID]*OwnerState),
		unitOwner: make(map[UnitID]OwnerID, ds.Len()),
		seedOf:    make(map[UnitID]OwnerID),
	}
	for _, u := range ds.Units() {
		s.unitOwner[u.ID] = u.Owner
		if u.Owner == "" {
			continue
		}
		rec, ok := s.owners[u.Owner]
		if !ok {
			rec = &OwnerState{ID: u.Owner}
			s.owners[u.Owner] = rec
			s.order = append(s.order, u.Owner)
		}
		rec.Units = append(rec.Units, u.ID)
		rec.Total += u.Weight
	}
	initial := ds.InitialTotals()
	initialUnits := make(map[OwnerID]int)
	for _, u := range ds.Units() {
		if owner := ds.InitialOwner(u.ID); owner != "" {
			initialUnits[owner]++
		}
	}
	for _, rec := range s.owners {
		rec.Initial = rec.Total
		rec.InitialUnits = len(rec.Units)
		if total, ok := initial[rec.ID]; ok {
			rec.Initial = total
			rec.InitialUnits = initialUnits[rec.ID]
		}
		rec.Band = NewBand(rec.Initial, tolerance)
	}
	return s
}

// Owners returns owner IDs in iteration order (first appearance in the dataset)
func (s *State) Owners() []OwnerID {
	out := make([]OwnerID, len(s.order))
	copy(out, s.order)
	return out
}

// OwnerOf returns the current owner of a unit, "" when unowned or unknown
func (s *State) OwnerOf(unit UnitID) OwnerID {
	return s.unitOwner[unit]
}

// Units returns a copy of the owner's units in dataset order
func (s *State) Units(owner OwnerID) []UnitID {
	rec, ok := s.owners[owner]
	if !ok {
		return nil
	}
	out := make([]UnitID, len(rec.Units))
	copy(out, rec.Units)
	return out
}

// Seeds returns a copy of the owner's seeds
func (s *State) Seeds(owner OwnerID) []UnitID {
	rec, ok := s.owners[owner]
	if !ok {
		return nil
	}
	out := make([]UnitID, len(rec.Seeds))
	copy(out, rec.Seeds)
	return out
}

// IsSeed reports whether a unit is some owner's seed
func (s *State) IsSeed(unit UnitID) bool {
	_, ok := s.seedOf[unit]
	return ok
}

// Total returns the owner's current total weight
func (s *State) Total(owner OwnerID) float64 {
	if rec, ok := s.owners[owner]; ok {
		return rec.Total
	}
	return 0
}

// Band returns the owner's tolerance band
func (s *State) Band(owner OwnerID) Band {
	if rec, ok := s.owners[owner]; ok {
		return rec.Band
	}
	return Band{}
}

// Weight returns a unit's weight
func (s *State) Weight(unit UnitID) float64 {
	return s.ds.Weight(unit)
}

// Index returns a unit's dataset position
func (s *State) Index(unit UnitID) int {
	return s.ds.Index(unit)
}

// SwapCount returns the number of swaps applied so far
func (s *State) SwapCount() int {
	return s.swaps
}

// SetSeeds replaces all seed assignments
func (s *State) SetSeeds(seeds map[OwnerID][]UnitID) {
	s.seedOf = make(map[UnitID]OwnerID)
	for _, rec := range s.owners {
		rec.Seeds = nil
	}
	for owner, ids := range seeds {
		rec, ok := s.owners[owner]
		if !ok {
			continue
		}
		rec.Seeds = append([]UnitID(nil), ids...)
		for _, id := range ids {
			s.seedOf[id] = owner
		}
	}
}

// Apply performs a swap. Either every reassignment reaches the sink or none
// does: on a sink failure the already applied changes are reverted.
func (s *State) Apply(sw Swap) error {
	a, ok := s.owners[sw.Owner]
	if !ok {
		return fmt.Errorf("apply swap: owner %q: %w", sw.Owner, ErrUnknownOwner)
	}
	b, ok := s.owners[sw.Counterpart]
	if !ok {
		return fmt.Errorf("apply swap: counterpart %q: %w", sw.Counterpart, ErrUnknownOwner)
	}
	if len(sw.Give) == 0 || len(sw.Take) == 0 {
		return fmt.Errorf("apply swap: empty side: %w", ErrMalformedProposal)
	}
	for _, id := range sw.Give {
		if s.unitOwner[id] != a.ID || s.IsSeed(id) {
			return fmt.Errorf("apply swap: %q not swappable for %q: %w", id, a.ID, ErrMalformedProposal)
		}
	}
	for _, id := range sw.Take {
		if s.unitOwner[id] != b.ID || s.IsSeed(id) {
			return fmt.Errorf("apply swap: %q not swappable for %q: %w", id, b.ID, ErrMalformedProposal)
		}
	}

	if s.sink != nil {
		type change struct {
			unit UnitID
			from OwnerID
		}
		var applied []change
		assign := func(ids []UnitID, from, to OwnerID) error {
			for _, id := range ids {
				if err := s.sink.ApplyOwnerChange(id, to); err != nil {
					return err
				}
				applied = append(applied, change{unit: id, from: from})
			}
			return nil
		}
		err := assign(sw.Give, a.ID, b.ID)
		if err == nil {
			err = assign(sw.Take, b.ID, a.ID)
		}
		if err != nil {
			for i := len(applied) - 1; i >= 0; i-- {
				_ = s.sink.ApplyOwnerChange(applied[i].unit, applied[i].from)
			}
			return fmt.Errorf("apply swap: %w", err)
		}
	}

	var giveWeight, takeWeight float64
	for _, id := range sw.Give {
		giveWeight += s.ds.Weight(id)
		s.unitOwner[id] = b.ID
	}
	for _, id := range sw.Take {
		takeWeight += s.ds.Weight(id)
		s.unitOwner[id] = a.ID
	}
	a.Total += takeWeight - giveWeight
	b.Total += giveWeight - takeWeight
	a.Units = s.exchange(a.Units, sw.Give, sw.Take)
	b.Units = s.exchange(b.Units, sw.Take, sw.Give)
	a.Touched, b.Touched = true, true
	s.swaps++
	return nil
}

// exchange removes out from units, adds in, and restores dataset order
func (s *State) exchange(units, out, in []UnitID) []UnitID {
	drop := make(map[UnitID]bool, len(out))
	for _, id := range out {
		drop[id] = true
	}
	result := make([]UnitID, 0, len(units)-len(out)+len(in))
	for _, id := range units {
		if !drop[id] {
			result = append(result, id)
		}
	}
	result = append(result, in...)
	sort.SliceStable(result, func(i, j int) bool {
		return s.ds.Index(result[i]) < s.ds.Index(result[j])
	})
	return result
}

// Ownership returns a copy of owner → units
func (s *State) Ownership() map[OwnerID][]UnitID {
	out := make(map[OwnerID][]UnitID, len(s.owners))
	for id := range s.owners {
		out[id] = s.Units(id)
	}
	return out
}

// SeedMap returns a copy of owner → seeds for owners that have seeds
func (s *State) SeedMap() map[OwnerID][]UnitID {
	out := make(map[OwnerID][]UnitID)
	for id, rec := range s.owners {
		if len(rec.Seeds) > 0 {
			out[id] = s.Seeds(id)
		}
	}
	return out
}

// Summary computes per-owner statistics. dist may be nil.
func (s *State) Summary(dist func(seed, unit UnitID) float64) map[OwnerID]OwnerStats {
	out := make(map[OwnerID]OwnerStats, len(s.owners))
	for id, rec := range s.owners {
		st := OwnerStats{
			Initial:      rec.Initial,
			Final:        rec.Total,
			InitialUnits: rec.InitialUnits,
			Units:        len(rec.Units),
			Touched:      rec.Touched,
		}
		if rec.Initial > 0 {
			st.DeviationPct = (rec.Total - rec.Initial) / rec.Initial * 100
		}
		if dist != nil && len(rec.Seeds) > 0 {
			st.MeanSeedDistance = meanSeedDistance(rec.Units, rec.Seeds, dist)
		}
		out[id] = st
	}
	return out
}

// meanSeedDistance averages, over non-seed units, the distance to the nearest seed
func meanSeedDistance(units, seeds []UnitID, dist func(seed, unit UnitID) float64) float64 {
	isSeed := make(map[UnitID]bool, len(seeds))
	for _, id := range seeds {
		isSeed[id] = true
	}
	var sum float64
	n := 0
	for _, u := range units {
		if isSeed[u] {
			continue
		}
		best := -1.0
		for _, seed := range seeds {
			if d := dist(seed, u); best < 0 || d < best {
				best = d
			}
		}
		sum += best
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
