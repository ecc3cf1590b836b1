package swap

import "iter"

// Combinations yields the non-empty subsets of elements with at most maxSize
// members, smallest first and in input order within a size. When fixed is
// non-empty every subset contains it: {fixed} first, then fixed joined with
// each subset of the remaining elements. Each yielded slice is freshly
// allocated. The sequence is lazy and can be ranged over repeatedly.
func Combinations(elements []UnitID, fixed UnitID, maxSize int) iter.Seq[[]UnitID] {
	rest := elements
	if fixed != "" {
		rest = make([]UnitID, 0, len(elements))
		for _, e := range elements {
			if e != fixed {
				rest = append(rest, e)
			}
		}
	}

	return func(yield func([]UnitID) bool) {
		if maxSize < 1 {
			return
		}
		limit := maxSize
		if fixed != "" {
			if !yield([]UnitID{fixed}) {
				return
			}
			limit = maxSize - 1
		}
		limit = min(limit, len(rest))

		idx := make([]int, 0, limit)
		for size := 1; size <= limit; size++ {
			idx = idx[:size]
			for i := range idx {
				idx[i] = i
			}
			for {
				subset := make([]UnitID, 0, size+1)
				if fixed != "" {
					subset = append(subset, fixed)
				}
				for _, i := range idx {
					subset = append(subset, rest[i])
				}
				if !yield(subset) {
					return
				}
				if !nextCombination(idx, len(rest)) {
					break
				}
			}
		}
	}
}

// nextCombination advances idx to the next k-combination of n in
// lexicographic order and reports whether one exists
func nextCombination(idx []int, n int) bool {
	k := len(idx)
	i := k - 1
	for i >= 0 && idx[i] == n-k+i {
		i--
	}
	if i < 0 {
		return false
	}
	idx[i]++
	for j := i + 1; j < k; j++ {
		idx[j] = idx[j-1] + 1
	}
	return true
}

// CountCombinations returns how many subsets Combinations yields for n free
// elements, saturating at limit
func CountCombinations(n, maxSize int, withFixed bool, limit int) int {
	if maxSize < 1 {
		return 0
	}
	total := 0
	size := maxSize
	if withFixed {
		total = 1
		size--
	}
	size = min(size, n)
	c := 1
	for k := 1; k <= size; k++ {
		c = c * (n - k + 1) / k
		total += c
		if total >= limit {
			return limit
		}
	}
	return total
}
