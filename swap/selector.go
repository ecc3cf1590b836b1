package swap

// Ranking orders accepted candidates
type Ranking int

const (
	// RankByDifference prefers the smallest change to the owner's total.
	RankByDifference Ranking = iota
	// RankByScore prefers the largest weight × seed distance given away.
	RankByScore
)

// Candidate is an accepted proposal with the values used to rank it
type Candidate struct {
	Give       []UnitID
	Take       []UnitID
	NewTotalA  float64
	NewTotalB  float64
	Difference float64
	Score      float64
	Seq        int // position in generator order
}

// Selection keeps the best candidate offered so far. Ties go to the lowest Seq,
// so the winner does not depend on the order candidates are offered in.
type Selection struct {
	rank     Ranking
	best     Candidate
	found    bool
	accepted int
}

// NewSelection creates an empty selection
func NewSelection(rank Ranking) *Selection {
	return &Selection{rank: rank}
}

// Offer considers an accepted candidate
func (s *Selection) Offer(c Candidate) {
	s.accepted++
	if !s.found || s.better(c, s.best) {
		s.best = c
		s.found = true
	}
}

// Merge folds another selection of the same ranking into s
func (s *Selection) Merge(other *Selection) {
	if other == nil {
		return
	}
	s.accepted += other.accepted
	if other.found && (!s.found || s.better(other.best, s.best)) {
		s.best = other.best
		s.found = true
	}
}

// Best returns the winner, if any candidate was offered
func (s *Selection) Best() (Candidate, bool) {
	return s.best, s.found
}

// Accepted returns how many candidates were offered
func (s *Selection) Accepted() int {
	return s.accepted
}

func (s *Selection) better(a, b Candidate) bool {
	switch s.rank {
	case RankByScore:
		if a.Score != b.Score {
			return a.Score > b.Score
		}
	default:
		if a.Difference != b.Difference {
			return a.Difference < b.Difference
		}
	}
	return a.Seq < b.Seq
}

// Score sums weight × distance to the nearest seed over the given units
func Score(give []UnitID, seeds []UnitID, weight func(UnitID) float64, dist func(from, to UnitID) float64) float64 {
	var total float64
	for _, id := range give {
		best := 0.0
		for i, seed := range seeds {
			if d := dist(seed, id); i == 0 || d < best {
				best = d
			}
		}
		total += weight(id) * best
	}
	return total
}
