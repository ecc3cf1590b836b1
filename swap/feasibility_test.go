package swap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feasibilityFixture: A seeds at A1 (0,0) and owns A2 far away; B seeds at B1
// and owns B2 next to A1
func feasibilityFixture(t *testing.T, b1x float64) (*State, *Evaluator) {
	t.Helper()
	ds := mustDataset(t, []Unit{
		pointUnit("A1", "A", 20, 0, 0),
		pointUnit("A2", "A", 10, 5000, 0),
		pointUnit("A3", "A", 4, 6000, 0),
		pointUnit("B1", "B", 20, b1x, 0),
		pointUnit("B2", "B", 10, 100, 0),
		pointUnit("B3", "B", 4, 200, 0),
	})
	geom := newFakeGeometry(ds)
	st := NewState(ds, 5, nil)
	st.SetSeeds(map[OwnerID][]UnitID{"A": ids("A1"), "B": ids("B1")})
	return st, &Evaluator{Weight: ds.Weight, Distance: geom.Distance, Metric: MetricMean}
}

func proposal(st *State, give, take []UnitID) Proposal {
	return Proposal{A: NewParty(st, "A"), B: NewParty(st, "B"), Give: give, Take: take}
}

func TestEvaluate_Reasons(t *testing.T) {
	st, ev := feasibilityFixture(t, 10000)

	tests := []struct {
		name   string
		strict bool
		give   []UnitID
		take   []UnitID
		reason RejectReason
	}{
		{"balanced swap", false, ids("A2"), ids("B2"), ReasonNone},
		{"empty give", false, nil, ids("B2"), ReasonEmpty},
		{"empty take", false, ids("A2"), nil, ReasonEmpty},
		{"own seed", false, ids("A1"), ids("B2"), ReasonSeed},
		{"other seed", false, ids("A2"), ids("B1"), ReasonSeed},
		{"band exceeded", false, ids("A3"), ids("B2"), ReasonBand},
		{"strict balanced", true, ids("A2"), ids("B2"), ReasonNone},
		{"strict two for two", true, ids("A2", "A3"), ids("B2", "B3"), ReasonNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev.Strict = tt.strict
			v := ev.Evaluate(proposal(st, tt.give, tt.take))
			assert.Equal(t, tt.reason, v.Reason)
			assert.Equal(t, tt.reason == ReasonNone, v.Accepted)
			assert.NoError(t, v.Err)
		})
	}
}

func TestEvaluate_Totals(t *testing.T) {
	st, ev := feasibilityFixture(t, 10000)

	v := ev.Evaluate(proposal(st, ids("A2", "A3"), ids("B2", "B3")))
	require.True(t, v.Accepted)
	assert.Equal(t, 34.0, v.NewTotalA)
	assert.Equal(t, 34.0, v.NewTotalB)
	assert.Equal(t, 0.0, v.Difference)
}

func TestEvaluate_StrictUnitCount(t *testing.T) {
	st, ev := feasibilityFixture(t, 10000)
	ev.Strict = true

	// B2 + B3 balance A2 but A would gain a unit
	ds := mustDataset(t, []Unit{
		pointUnit("A1", "A", 20, 0, 0),
		pointUnit("A2", "A", 10, 5000, 0),
		pointUnit("B1", "B", 20, 10000, 0),
		pointUnit("B2", "B", 5, 100, 0),
		pointUnit("B3", "B", 5, 200, 0),
	})
	geom := newFakeGeometry(ds)
	st = NewState(ds, 5, nil)
	st.SetSeeds(map[OwnerID][]UnitID{"A": ids("A1"), "B": ids("B1")})
	ev.Weight, ev.Distance = ds.Weight, geom.Distance

	v := ev.Evaluate(proposal(st, ids("A2"), ids("B2", "B3")))
	assert.Equal(t, ReasonUnitCount, v.Reason)

	ev.Strict = false
	v = ev.Evaluate(proposal(st, ids("A2"), ids("B2", "B3")))
	assert.True(t, v.Accepted)
}

func TestEvaluate_StrictDistance(t *testing.T) {
	// B's seed is next to B2, so B would lose compactness
	st, ev := feasibilityFixture(t, 150)
	ev.Strict = true

	v := ev.Evaluate(proposal(st, ids("A2"), ids("B2")))
	assert.Equal(t, ReasonDistance, v.Reason)

	ev.Metric = MetricMax
	v = ev.Evaluate(proposal(st, ids("A2"), ids("B2")))
	assert.Equal(t, ReasonDistance, v.Reason)
}

func TestEvaluate_SeedlessParty(t *testing.T) {
	ds := mustDataset(t, []Unit{
		pointUnit("A1", "A", 20, 0, 0),
		pointUnit("A2", "A", 10, 5000, 0),
		pointUnit("B2", "B", 10, 100, 0),
		pointUnit("B3", "B", 10, 5100, 0),
	})
	geom := newFakeGeometry(ds)
	st := NewState(ds, 5, nil)
	st.SetSeeds(map[OwnerID][]UnitID{"A": ids("A1")})
	ev := &Evaluator{Weight: ds.Weight, Distance: geom.Distance, Strict: true, Metric: MetricMean}

	v := ev.Evaluate(proposal(st, ids("A2"), ids("B2")))
	assert.Equal(t, ReasonSeedless, v.Reason)

	// with UseSingle B is measured against the lone unit it receives
	ev.UseSingle = true
	v = ev.Evaluate(proposal(st, ids("A2"), ids("B2")))
	assert.True(t, v.Accepted, "reason %q", v.Reason)
}

func TestEvaluate_MalformedProposal(t *testing.T) {
	st, ev := feasibilityFixture(t, 10000)

	v := ev.Evaluate(proposal(st, ids("B2"), ids("B3")))
	assert.False(t, v.Accepted)
	assert.Equal(t, ReasonError, v.Reason)
	assert.True(t, errors.Is(v.Err, ErrMalformedProposal))

	v = ev.Evaluate(Proposal{Give: ids("A2"), Take: ids("B2")})
	assert.Equal(t, ReasonError, v.Reason)
	assert.True(t, errors.Is(v.Err, ErrMalformedProposal))
}

func TestEvaluate_PanicBecomesRejection(t *testing.T) {
	st, ev := feasibilityFixture(t, 10000)
	ev.Weight = func(UnitID) float64 { panic("boom") }

	v := ev.Evaluate(proposal(st, ids("A2"), ids("B2")))
	assert.False(t, v.Accepted)
	assert.Equal(t, ReasonError, v.Reason)
	assert.True(t, errors.Is(v.Err, ErrMalformedProposal))
}

func TestEvaluate_DoesNotMutate(t *testing.T) {
	st, ev := feasibilityFixture(t, 10000)
	p := proposal(st, ids("A2"), ids("B2"))
	before := *p.A

	ev.Evaluate(p)
	assert.Equal(t, before.Total, p.A.Total)
	assert.Equal(t, before.Units, p.A.Units)
	assert.Equal(t, ids("A1", "A2", "A3"), st.Units("A"))
}
