package swap

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
)

// evaluationChunk is how many candidate pairs one parallel task evaluates
const evaluationChunk = 256

// Engine runs the turn-based swap search
type Engine struct {
	cfg        EngineConfig
	policy     SeedPolicy
	geom       Geometry
	sink       OwnerSink
	observers  []Observer
	metrics    Metrics
	runID      string
	idField    string
	ownerField string
}

// Option configures an Engine
type Option func(*Engine)

// WithObserver registers a progress observer
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(m Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithSink routes owner changes somewhere other than the dataset
func WithSink(s OwnerSink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithSeedPolicy overrides seed selection
func WithSeedPolicy(p SeedPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithRunID fixes the run ID instead of generating one
func WithRunID(id string) Option {
	return func(e *Engine) { e.runID = id }
}

// WithTurnFields names the id and owner attributes used in turn tags
func WithTurnFields(idField, ownerField string) Option {
	return func(e *Engine) {
		e.idField, e.ownerField = idField, ownerField
	}
}

// NewEngine creates an engine. Unset config fields get their defaults.
func NewEngine(cfg EngineConfig, geom Geometry, opts ...Option) *Engine {
	cfg.ApplyDefaults()
	e := &Engine{
		cfg:        cfg,
		policy:     SeedPolicy{SingleUnitOwners: cfg.SingleUnitOwners},
		geom:       geom,
		metrics:    NopMetrics{},
		idField:    DefaultIDField,
		ownerField: DefaultOwnerField,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration
func (e *Engine) Config() EngineConfig {
	return e.cfg
}

// Run swaps units of ds until no improving swap remains, the turn cap is hit,
// or ctx is cancelled. It never panics on bad candidates and reports
// cancellation through Result.Cancelled rather than an error.
func (e *Engine) Run(ctx context.Context, ds *Dataset) Result {
	runID := e.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	res := Result{RunID: runID, Algorithm: e.cfg.Algorithm}
	if err := e.cfg.Validate(); err != nil {
		res.Status = StatusFailed
		res.Err = fmt.Errorf("engine config: %w", err)
		e.finish(res)
		return res
	}

	sink := e.sink
	if sink == nil {
		sink = ds
	}
	st := NewState(ds, e.cfg.Tolerance, sink)

	seeds := SelectSeeds(st, e.policy)
	if e.cfg.Algorithm.RequiresSingleSeed() {
		if err := CheckSingleSeed(seeds, st.Owners()); err != nil {
			log.Printf("[engine] %s refuses to run: %v", e.cfg.Algorithm, err)
			res.Status = StatusFailed
			res.Err = err
			e.finish(res)
			return res
		}
	}
	st.SetSeeds(seeds)

	var allSeeds, allUnits []UnitID
	for _, owner := range st.Owners() {
		allSeeds = append(allSeeds, st.Seeds(owner)...)
	}
	for _, u := range ds.Units() {
		allUnits = append(allUnits, u.ID)
	}
	mode := ModeExact
	if e.cfg.Simplify || ds.Len() > e.cfg.ExactLimit {
		mode = ModeApproximate
	}
	res.Mode = mode.String()
	matrix := NewDistanceMatrix(e.geom, allUnits, ds.Index, MatrixOptions{
		Threshold: e.cfg.DistanceThreshold,
		Mode:      mode,
	})

	r := &run{
		engine: e,
		ctx:    ctx,
		runID:  runID,
		st:     st,
		matrix: matrix,
		eval: &Evaluator{
			Weight:    ds.Weight,
			Distance:  matrix.Distance,
			Strict:    e.cfg.Strict,
			Metric:    e.cfg.Metric,
			UseSingle: e.cfg.UseSingle,
		},
	}
	r.logf("run %s: %s on %d units, %d owners, %d seeds, %s distances",
		runID, e.cfg.Algorithm, ds.Len(), len(st.Owners()), len(allSeeds), mode)

	if err := matrix.Build(ctx, allSeeds); err != nil {
		res.Cancelled = true
	} else {
		for _, phase := range e.cfg.Algorithm.Phases() {
			cancelled, capped := r.phase(phase)
			if capped {
				res.CapReached = true
			}
			if cancelled {
				res.Cancelled = true
				break
			}
		}
	}

	res.Status = StatusConverged
	if res.Cancelled {
		res.Status = StatusCancelled
	}
	res.Ownership = st.Ownership()
	res.Seeds = st.SeedMap()
	res.SwapCount = st.SwapCount()
	res.Turns = r.turn
	res.Summary = st.Summary(matrix.Distance)
	r.logf("run %s: %s after %d turns, %d swaps", runID, res.Status, res.Turns, res.SwapCount)
	e.finish(res)
	return res
}

func (e *Engine) finish(res Result) {
	e.metrics.RunFinished(res.Status)
	for _, o := range e.observers {
		o.RunFinished(res)
	}
}

// run carries the mutable state of one Engine.Run
type run struct {
	engine *Engine
	ctx    context.Context
	runID  string
	st     *State
	matrix *DistanceMatrix
	eval   *Evaluator
	turn   int
}

// step is one search: owner A against counterpart B around a seed, with the
// counterpart unit fixed that must be part of every target subset
type step struct {
	alg    Algorithm
	a, b   *Party
	seed   UnitID
	give   []UnitID
	take   []UnitID
	fixed  UnitID
	rank   Ranking
	budget int
}

func (r *run) logf(format string, args ...any) {
	if !r.engine.cfg.Quiet {
		log.Printf("[engine] "+format, args...)
	}
}

// phase runs turns of one algorithm until convergence, the turn cap, or
// cancellation
func (r *run) phase(alg Algorithm) (cancelled, capped bool) {
	limit := r.engine.cfg.MaxTurnsFor(alg)
	for n := 1; ; n++ {
		if r.ctx.Err() != nil {
			return true, false
		}
		if n > limit {
			r.logf("%s: turn cap %d reached", alg, limit)
			return false, true
		}
		r.turn++
		start := time.Now()
		before := r.st.SwapCount()

		stopped := r.runTurn(alg)

		applied := r.st.SwapCount() - before
		elapsed := time.Since(start).Seconds()
		r.engine.metrics.TurnCompleted(alg, applied, elapsed)
		ev := TurnEvent{
			RunID:     r.runID,
			Algorithm: alg,
			Tag:       NewTurnTag(r.turn, r.engine.idField, r.engine.ownerField),
			Swaps:     applied,
			Total:     r.st.SwapCount(),
			Elapsed:   elapsed,
		}
		for _, o := range r.engine.observers {
			o.TurnCompleted(ev)
		}
		r.logf("%s turn %d: %d swaps (%d total) in %.3fs", alg, r.turn, applied, ev.Total, elapsed)

		if stopped {
			return true, false
		}
		if applied == 0 {
			return false, false
		}
	}
}

// runTurn gives every owner, in the order fixed at the start of the turn, its
// chance to swap. Swaps apply immediately and are visible to later owners.
func (r *run) runTurn(alg Algorithm) (cancelled bool) {
	for _, owner := range r.st.Owners() {
		if r.ctx.Err() != nil {
			return true
		}
		var stopped bool
		switch alg {
		case AlgorithmCloser:
			stopped = r.closer(owner)
		default:
			stopped = r.neighbours(owner)
		}
		if stopped {
			return true
		}
	}
	return false
}

// neighbours tries to pull each unit touching one of the owner's seeds into
// the owner's holding
func (r *run) neighbours(owner OwnerID) (cancelled bool) {
	for _, seed := range r.st.Seeds(owner) {
		for _, target := range r.engine.geom.Adjacent(seed) {
			other := r.st.OwnerOf(target)
			if !r.tradable(owner, other, target) {
				continue
			}
			a, b := NewParty(r.st, owner), NewParty(r.st, other)
			s := step{
				alg:   AlgorithmNeighbours,
				a:     a,
				b:     b,
				seed:  seed,
				give:  r.changeable(a, nil, false),
				take:  r.nearestFirst(r.changeable(b, nil, true), seed, target),
				fixed: target,
				rank:  RankByDifference,
			}
			if len(s.give) == 0 {
				continue
			}
			if stop := r.searchAndApply(s); stop {
				return true
			}
		}
	}
	return false
}

// closer walks the seed's filtered distance list, nearest first, and tries to
// trade far units for near ones
func (r *run) closer(owner OwnerID) (cancelled bool) {
	seeds := r.st.Seeds(owner)
	if len(seeds) != 1 {
		return false
	}
	seed := seeds[0]
	near := r.matrix.Filtered(seed)
	within := make(map[UnitID]bool, len(near))
	for _, nb := range near {
		within[nb.Unit] = true
	}

	for _, nb := range near {
		target := nb.Unit
		other := r.st.OwnerOf(target)
		if !r.tradable(owner, other, target) {
			continue
		}
		a, b := NewParty(r.st, owner), NewParty(r.st, other)

		farther := func(id UnitID) bool { return r.matrix.Distance(seed, id) > nb.Distance }
		closeToSeed := func(id UnitID) bool { return within[id] }
		s := step{
			alg:   AlgorithmCloser,
			a:     a,
			b:     b,
			seed:  seed,
			give:  r.changeable(a, farther, false),
			take:  r.nearestFirst(r.changeable(b, closeToSeed, true), seed, target),
			fixed: target,
			rank:  RankByScore,
		}
		if len(s.give) == 0 {
			continue
		}
		if stop := r.searchAndApply(s); stop {
			return true
		}
	}
	return false
}

// tradable reports whether owner may try to acquire target from other
func (r *run) tradable(owner, other OwnerID, target UnitID) bool {
	if other == "" || other == owner || r.st.IsSeed(target) {
		return false
	}
	return !r.touchesSeed(other, target)
}

// touchesSeed reports whether unit borders one of the owner's seeds. Such
// units are never given away.
func (r *run) touchesSeed(owner OwnerID, unit UnitID) bool {
	for _, seed := range r.st.Seeds(owner) {
		for _, adj := range r.engine.geom.Adjacent(seed) {
			if adj == unit {
				return true
			}
		}
	}
	return false
}

// changeable lists the units a party may give away, optionally filtered. By
// default they are ordered farthest from the party's seeds first; nearest
// ordering is applied by the caller for target sides.
func (r *run) changeable(p *Party, keep func(UnitID) bool, unordered bool) []UnitID {
	var ids []UnitID
	for _, id := range p.Units {
		if p.IsSeed(id) || r.st.IsSeed(id) || r.touchesSeed(p.Owner, id) {
			continue
		}
		if keep != nil && !keep(id) {
			continue
		}
		ids = append(ids, id)
	}
	if unordered {
		return ids
	}

	dist := make(map[UnitID]float64, len(ids))
	for _, id := range ids {
		dist[id] = r.seedDistance(p.Seeds, id)
	}
	sort.SliceStable(ids, func(i, j int) bool {
		return dist[ids[i]] > dist[ids[j]]
	})
	_, maxElements := r.engine.cfg.searchLimits()
	if len(ids) > maxElements {
		ids = ids[:maxElements]
	}
	return ids
}

// nearestFirst orders a target side by distance to the acquiring seed and
// drops the fixed unit
func (r *run) nearestFirst(ids []UnitID, seed, fixed UnitID) []UnitID {
	out := make([]UnitID, 0, len(ids))
	for _, id := range ids {
		if id != fixed {
			out = append(out, id)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return r.matrix.Distance(seed, out[i]) < r.matrix.Distance(seed, out[j])
	})
	_, maxElements := r.engine.cfg.searchLimits()
	if len(out) > maxElements {
		out = out[:maxElements]
	}
	return out
}

// seedDistance is the distance from unit to the nearest of seeds
func (r *run) seedDistance(seeds []UnitID, unit UnitID) float64 {
	best := 0.0
	for i, seed := range seeds {
		if d := r.matrix.Distance(seed, unit); i == 0 || d < best {
			best = d
		}
	}
	return best
}

// searchAndApply evaluates a step and applies its winner
func (r *run) searchAndApply(s step) (cancelled bool) {
	s.budget = r.engine.cfg.MaxEvaluations
	if space := r.searchSpace(s); space > s.budget {
		r.logf("%s: search for %s/%s truncated to %d of %d pairs", s.alg, s.a.Owner, s.b.Owner, s.budget, space)
	}
	var sel *Selection
	if r.engine.cfg.Workers > 1 {
		sel, cancelled = r.searchParallel(s)
	} else {
		sel = r.searchSequential(s)
	}
	if cancelled {
		return true
	}

	best, ok := sel.Best()
	if !ok {
		return false
	}
	r.apply(s, best)
	return false
}

// searchSpace is the number of (give, take) pairs a step would enumerate
// without a budget, saturating just above it
func (r *run) searchSpace(s step) int {
	maxSize, _ := r.engine.cfg.searchLimits()
	limit := s.budget + 1
	gives := CountCombinations(len(s.give), maxSize, false, limit)
	takes := CountCombinations(len(s.take), maxSize, s.fixed != "", limit)
	if gives > 0 && takes > limit/gives {
		return limit
	}
	return gives * takes
}

// pair is one (give, take) combination with its generator position
type pair struct {
	give, take []UnitID
	seq        int
}

// pairs enumerates candidate pairs in generator order, stopping at the
// budget. Strict mode skips pairs whose sizes differ, since they can never
// keep both unit counts from growing.
func (r *run) pairs(s step, visit func(pair) bool) {
	maxSize, _ := r.engine.cfg.searchLimits()
	strict := r.engine.cfg.Strict
	seq := 0
	for give := range Combinations(s.give, "", maxSize) {
		for take := range Combinations(s.take, s.fixed, maxSize) {
			if seq >= s.budget {
				return
			}
			if strict && len(give) != len(take) {
				continue
			}
			if !visit(pair{give: give, take: take, seq: seq}) {
				return
			}
			seq++
		}
	}
}

// evaluate offers an accepted pair to sel and reports whether it was a
// malformed candidate
func (r *run) evaluate(s step, p pair, sel *Selection) (accepted bool, err error) {
	v := r.eval.Evaluate(Proposal{A: s.a, B: s.b, Give: p.give, Take: p.take})
	if !v.Accepted {
		return false, v.Err
	}
	sel.Offer(Candidate{
		Give:       p.give,
		Take:       p.take,
		NewTotalA:  v.NewTotalA,
		NewTotalB:  v.NewTotalB,
		Difference: v.Difference,
		Score:      Score(p.give, s.a.Seeds, r.st.Weight, r.matrix.Distance),
		Seq:        p.seq,
	})
	return true, nil
}

func (r *run) searchSequential(s step) *Selection {
	sel := NewSelection(s.rank)
	evaluated := 0
	var firstErr error
	r.pairs(s, func(p pair) bool {
		evaluated++
		if _, err := r.evaluate(s, p, sel); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	r.report(s, evaluated, sel.Accepted(), firstErr)
	return sel
}

// searchParallel splits the pairs into chunks evaluated by a worker batch.
// Chunk winners are merged by rank and sequence, so the chosen candidate is
// the one sequential search would choose unless the batch deadline hits.
func (r *run) searchParallel(s step) (*Selection, bool) {
	type chunkResult struct {
		sel       *Selection
		evaluated int
		err       error
	}
	batch := NewBatch[chunkResult](r.ctx, r.engine.cfg.Workers, r.engine.cfg.BatchTimeout)

	submit := func(chunk []pair) bool {
		f := batch.Go(func(ctx context.Context) chunkResult {
			res := chunkResult{sel: NewSelection(s.rank)}
			for _, p := range chunk {
				if ctx.Err() != nil {
					break
				}
				res.evaluated++
				if _, err := r.evaluate(s, p, res.sel); err != nil && res.err == nil {
					res.err = err
				}
			}
			return res
		})
		return f != nil
	}

	chunk := make([]pair, 0, evaluationChunk)
	open := true
	r.pairs(s, func(p pair) bool {
		chunk = append(chunk, p)
		if len(chunk) == evaluationChunk {
			open = submit(chunk)
			chunk = make([]pair, 0, evaluationChunk)
		}
		return open
	})
	if open && len(chunk) > 0 {
		submit(chunk)
	}

	results, timedOut := batch.Join()
	if r.ctx.Err() != nil {
		return nil, true
	}
	if timedOut {
		r.engine.metrics.BatchTimedOut(s.alg)
		r.logf("%s: evaluation batch for %s/%s timed out, using %d partial results", s.alg, s.a.Owner, s.b.Owner, len(results))
	}

	sel := NewSelection(s.rank)
	evaluated := 0
	var firstErr error
	for _, res := range results {
		sel.Merge(res.sel)
		evaluated += res.evaluated
		if res.err != nil && firstErr == nil {
			firstErr = res.err
		}
	}
	r.report(s, evaluated, sel.Accepted(), firstErr)
	return sel, false
}

func (r *run) report(s step, evaluated, accepted int, firstErr error) {
	r.engine.metrics.CandidatesEvaluated(s.alg, evaluated, accepted)
	if firstErr != nil {
		r.logf("%s: rejected malformed candidate for %s/%s: %v", s.alg, s.a.Owner, s.b.Owner, firstErr)
	}
}

func (r *run) apply(s step, c Candidate) {
	sw := Swap{Owner: s.a.Owner, Counterpart: s.b.Owner, Give: c.Give, Take: c.Take}
	if err := r.st.Apply(sw); err != nil {
		r.logf("%s: swap %s/%s not applied: %v", s.alg, s.a.Owner, s.b.Owner, err)
		return
	}
	r.engine.metrics.SwapApplied(s.alg)
	ev := SwapEvent{
		RunID:       r.runID,
		Algorithm:   s.alg,
		Turn:        r.turn,
		Seq:         r.st.SwapCount(),
		Owner:       s.a.Owner,
		Counterpart: s.b.Owner,
		Seed:        s.seed,
		Given:       c.Give,
		Taken:       c.Take,
		Difference:  c.Difference,
		Score:       c.Score,
		OwnerTotal:  r.st.Total(s.a.Owner),
		OtherTotal:  r.st.Total(s.b.Owner),
	}
	for _, o := range r.engine.observers {
		o.SwapApplied(ev)
	}
}
