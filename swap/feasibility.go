package swap

import (
	"fmt"
	"math"
)

// distanceSlack absorbs floating point noise when comparing compactness
const distanceSlack = 1e-9

// Party is a read-only snapshot of one side of a swap, built once per step and
// shared by every candidate evaluated in it
type Party struct {
	Owner OwnerID
	Units []UnitID
	Seeds []UnitID
	Total float64
	Band  Band

	owned map[UnitID]bool
	seed  map[UnitID]bool
}

// NewParty snapshots an owner from the state
func NewParty(st StateReader, owner OwnerID) *Party {
	p := &Party{
		Owner: owner,
		Units: st.Units(owner),
		Seeds: st.Seeds(owner),
		Total: st.Total(owner),
		Band:  st.Band(owner),
	}
	p.owned = make(map[UnitID]bool, len(p.Units))
	for _, id := range p.Units {
		p.owned[id] = true
	}
	p.seed = make(map[UnitID]bool, len(p.Seeds))
	for _, id := range p.Seeds {
		p.seed[id] = true
	}
	return p
}

// Owns reports whether the party currently owns a unit
func (p *Party) Owns(id UnitID) bool { return p.owned[id] }

// IsSeed reports whether a unit is one of the party's seeds
func (p *Party) IsSeed(id UnitID) bool { return p.seed[id] }

// Proposal is a candidate exchange: A gives Give and receives Take from B
type Proposal struct {
	A, B *Party
	Give []UnitID
	Take []UnitID
}

// RejectReason says which check refused a proposal
type RejectReason string

const (
	ReasonNone      RejectReason = ""
	ReasonEmpty     RejectReason = "empty"
	ReasonSeed      RejectReason = "seed"
	ReasonBand      RejectReason = "band"
	ReasonDistance  RejectReason = "distance"
	ReasonSeedless  RejectReason = "seedless"
	ReasonUnitCount RejectReason = "unit-count"
	ReasonError     RejectReason = "error"
)

// Verdict is the outcome of evaluating a proposal. Rejection is the normal
// negative branch; Err is only set for malformed input and kept for diagnostics.
type Verdict struct {
	Accepted   bool
	NewTotalA  float64
	NewTotalB  float64
	Difference float64
	Reason     RejectReason
	Err        error
}

// Evaluator decides whether proposals are feasible. It only reads its inputs,
// so one Evaluator may serve concurrent workers.
type Evaluator struct {
	Weight    func(UnitID) float64
	Distance  func(from, to UnitID) float64
	Strict    bool
	Metric    DistanceMetric
	UseSingle bool
}

// Evaluate runs the checks in order and stops at the first failure
func (e *Evaluator) Evaluate(p Proposal) (v Verdict) {
	defer func() {
		if r := recover(); r != nil {
			v = Verdict{Reason: ReasonError, Err: fmt.Errorf("%w: %v", ErrMalformedProposal, r)}
		}
	}()

	if p.A == nil || p.B == nil {
		return Verdict{Reason: ReasonError, Err: fmt.Errorf("%w: missing party", ErrMalformedProposal)}
	}
	if len(p.Give) == 0 || len(p.Take) == 0 {
		return Verdict{Reason: ReasonEmpty}
	}

	// 1. ownership and seeds
	var giveWeight, takeWeight float64
	for _, id := range p.Give {
		if !p.A.Owns(id) {
			return Verdict{Reason: ReasonError, Err: fmt.Errorf("%w: %q not owned by %q", ErrMalformedProposal, id, p.A.Owner)}
		}
		if p.A.IsSeed(id) || p.B.IsSeed(id) {
			return Verdict{Reason: ReasonSeed}
		}
		giveWeight += e.Weight(id)
	}
	for _, id := range p.Take {
		if !p.B.Owns(id) {
			return Verdict{Reason: ReasonError, Err: fmt.Errorf("%w: %q not owned by %q", ErrMalformedProposal, id, p.B.Owner)}
		}
		if p.A.IsSeed(id) || p.B.IsSeed(id) {
			return Verdict{Reason: ReasonSeed}
		}
		takeWeight += e.Weight(id)
	}

	// 2. tolerance bands
	newA := p.A.Total - giveWeight + takeWeight
	newB := p.B.Total - takeWeight + giveWeight
	if !p.A.Band.Contains(newA) || !p.B.Band.Contains(newB) {
		return Verdict{Reason: ReasonBand}
	}

	if e.Strict {
		// 3. neither party may end up less compact
		if reason := e.compactness(p.A, p.Give, p.Take); reason != ReasonNone {
			return Verdict{Reason: reason}
		}
		if reason := e.compactness(p.B, p.Take, p.Give); reason != ReasonNone {
			return Verdict{Reason: reason}
		}
		// 4. unit counts may not grow on either side, so the sides must match
		if len(p.Take) != len(p.Give) {
			return Verdict{Reason: ReasonUnitCount}
		}
	}

	return Verdict{
		Accepted:   true,
		NewTotalA:  newA,
		NewTotalB:  newB,
		Difference: math.Abs(newA - p.A.Total),
	}
}

// compactness compares the party's distance metric before and after it gives
// out and receives in
func (e *Evaluator) compactness(p *Party, out, in []UnitID) RejectReason {
	refs := p.Seeds
	if len(refs) == 0 {
		// a seedless party is measured against the lone unit it receives
		if !e.UseSingle || len(in) != 1 {
			return ReasonSeedless
		}
		refs = in
	}

	before := e.metric(p.Units, refs, nil, nil)
	after := e.metric(p.Units, refs, out, in)
	if after > before+distanceSlack {
		return ReasonDistance
	}
	return ReasonNone
}

// metric aggregates the distance to the nearest reference over the party's
// non-reference units after removing out and adding in
func (e *Evaluator) metric(units, refs, out, in []UnitID) float64 {
	skip := make(map[UnitID]bool, len(refs)+len(out))
	for _, id := range refs {
		skip[id] = true
	}
	for _, id := range out {
		skip[id] = true
	}

	var sum, worst float64
	n := 0
	visit := func(id UnitID) {
		d := math.Inf(1)
		for _, ref := range refs {
			d = math.Min(d, e.Distance(ref, id))
		}
		sum += d
		worst = math.Max(worst, d)
		n++
	}
	for _, id := range units {
		if !skip[id] {
			visit(id)
		}
	}
	for _, id := range in {
		if !skip[id] {
			visit(id)
		}
	}

	if n == 0 {
		return 0
	}
	if e.Metric == MetricMax {
		return worst
	}
	return sum / float64(n)
}
