package swap

import "fmt"

// SeedPolicy controls how anchor units are chosen
type SeedPolicy struct {
	// Preferred units become seeds of whoever owns them.
	Preferred []UnitID
	// OnlyPreferred suppresses the largest-unit fallback for owners without a
	// preferred unit. With no preferred units at all nobody gets a seed.
	OnlyPreferred bool
	// SingleUnitOwners gives owners with one unit that unit as seed.
	SingleUnitOwners bool
}

// SelectSeeds chooses seeds per owner. By default an owner's seed is its
// heaviest unit, ties going to the first unit in dataset order.
func SelectSeeds(st StateReader, policy SeedPolicy) map[OwnerID][]UnitID {
	preferred := make(map[UnitID]bool, len(policy.Preferred))
	for _, id := range policy.Preferred {
		preferred[id] = true
	}

	seeds := make(map[OwnerID][]UnitID)
	for _, owner := range st.Owners() {
		units := st.Units(owner)

		var chosen []UnitID
		for _, id := range units {
			if preferred[id] {
				chosen = append(chosen, id)
			}
		}
		if len(chosen) == 0 && !policy.OnlyPreferred {
			chosen = largestUnit(st, units, policy.SingleUnitOwners)
		}
		seeds[owner] = chosen
	}
	return seeds
}

func largestUnit(st StateReader, units []UnitID, singleUnitOwners bool) []UnitID {
	if len(units) == 0 || (len(units) == 1 && !singleUnitOwners) {
		return nil
	}
	best := units[0]
	bestWeight := st.Weight(best)
	for _, id := range units[1:] {
		if w := st.Weight(id); w > bestWeight {
			best, bestWeight = id, w
		}
	}
	return []UnitID{best}
}

// CheckSingleSeed verifies that no owner has more than one seed
func CheckSingleSeed(seeds map[OwnerID][]UnitID, order []OwnerID) error {
	for _, owner := range order {
		if n := len(seeds[owner]); n > 1 {
			return fmt.Errorf("owner %q has %d seeds: %w", owner, n, ErrMultipleSeeds)
		}
	}
	return nil
}
