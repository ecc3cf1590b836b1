package swap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func seedFixture(t *testing.T) *State {
	t.Helper()
	ds := mustDataset(t, []Unit{
		pointUnit("A1", "A", 10, 0, 0),
		pointUnit("A2", "A", 30, 0, 0),
		pointUnit("A3", "A", 30, 0, 0),
		pointUnit("B1", "B", 5, 0, 0),
		pointUnit("C1", "C", 8, 0, 0),
		pointUnit("C2", "C", 9, 0, 0),
	})
	return NewState(ds, 5, nil)
}

func TestSelectSeeds(t *testing.T) {
	tests := []struct {
		name   string
		policy SeedPolicy
		want   map[OwnerID][]UnitID
	}{
		{
			name:   "largest unit, first on ties",
			policy: SeedPolicy{},
			want:   map[OwnerID][]UnitID{"A": ids("A2"), "B": nil, "C": ids("C2")},
		},
		{
			name:   "single unit owners",
			policy: SeedPolicy{SingleUnitOwners: true},
			want:   map[OwnerID][]UnitID{"A": ids("A2"), "B": ids("B1"), "C": ids("C2")},
		},
		{
			name:   "preferred with fallback",
			policy: SeedPolicy{Preferred: ids("A1", "A3")},
			want:   map[OwnerID][]UnitID{"A": ids("A1", "A3"), "B": nil, "C": ids("C2")},
		},
		{
			name:   "preferred single unit is honored",
			policy: SeedPolicy{Preferred: ids("B1")},
			want:   map[OwnerID][]UnitID{"A": ids("A2"), "B": ids("B1"), "C": ids("C2")},
		},
		{
			name:   "only preferred",
			policy: SeedPolicy{Preferred: ids("C1"), OnlyPreferred: true},
			want:   map[OwnerID][]UnitID{"A": nil, "B": nil, "C": ids("C1")},
		},
		{
			name:   "only preferred without preferred units",
			policy: SeedPolicy{OnlyPreferred: true},
			want:   map[OwnerID][]UnitID{"A": nil, "B": nil, "C": nil},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectSeeds(seedFixture(t), tt.policy)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckSingleSeed(t *testing.T) {
	order := []OwnerID{"A", "B"}
	assert.NoError(t, CheckSingleSeed(map[OwnerID][]UnitID{"A": ids("A1"), "B": nil}, order))

	err := CheckSingleSeed(map[OwnerID][]UnitID{"A": ids("A1"), "B": ids("B1", "B2")}, order)
	assert.True(t, errors.Is(err, ErrMultipleSeeds))
	assert.Contains(t, err.Error(), `"B"`)
}
