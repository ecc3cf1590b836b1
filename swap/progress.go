package swap

import (
	"sync"
	"time"
)

// Progress is a snapshot of a run for status endpoints
type Progress struct {
	RunID     string     `json:"runId"`
	Algorithm Algorithm  `json:"algorithm"`
	Running   bool       `json:"running"`
	Status    Status     `json:"status,omitempty"`
	Turn      int        `json:"turn"`
	Swaps     int        `json:"swaps"`
	LastSwap  *SwapEvent `json:"lastSwap,omitempty"`
	Updated   time.Time  `json:"updated"`
}

// ProgressTracker records the latest run state for HTTP endpoints
type ProgressTracker struct {
	mu       sync.RWMutex
	progress Progress
	result   *Result
}

var _ Observer = (*ProgressTracker)(nil)

// NewProgressTracker creates a tracker for a run that has not started yet
func NewProgressTracker(runID string, algorithm Algorithm) *ProgressTracker {
	return &ProgressTracker{
		progress: Progress{
			RunID:     runID,
			Algorithm: algorithm,
			Running:   true,
			Updated:   time.Now(),
		},
	}
}

// SwapApplied implements Observer
func (pt *ProgressTracker) SwapApplied(ev SwapEvent) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	ev.Given = append([]UnitID(nil), ev.Given...)
	ev.Taken = append([]UnitID(nil), ev.Taken...)
	pt.progress.Algorithm = ev.Algorithm
	pt.progress.Turn = ev.Turn
	pt.progress.Swaps = ev.Seq
	pt.progress.LastSwap = &ev
	pt.progress.Updated = time.Now()
}

// TurnCompleted implements Observer
func (pt *ProgressTracker) TurnCompleted(ev TurnEvent) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.progress.Algorithm = ev.Algorithm
	pt.progress.Turn = ev.Tag.Turn
	pt.progress.Swaps = ev.Total
	pt.progress.Updated = time.Now()
}

// RunFinished implements Observer
func (pt *ProgressTracker) RunFinished(res Result) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.progress.Running = false
	pt.progress.Status = res.Status
	pt.progress.Swaps = res.SwapCount
	pt.progress.Turn = res.Turns
	pt.progress.Updated = time.Now()
	pt.result = &res
}

// Progress returns a copy of the current snapshot
func (pt *ProgressTracker) Progress() Progress {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	p := pt.progress
	if p.LastSwap != nil {
		last := *p.LastSwap
		p.LastSwap = &last
	}
	return p
}

// Result returns the final result, or nil while the run is in progress
func (pt *ProgressTracker) Result() *Result {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return pt.result
}
