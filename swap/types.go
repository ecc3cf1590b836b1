package swap

import (
	"fmt"
	"time"

	"github.com/paulmach/orb"
)

// UnitID identifies a unit (parcel) in the dataset
type UnitID string

// OwnerID identifies a holder. The empty OwnerID marks an unowned unit.
type OwnerID string

// Unit is an atomic spatial item with a weight (commonly its area)
type Unit struct {
	ID       UnitID
	Owner    OwnerID
	Weight   float64
	Geometry orb.Geometry
	Centroid orb.Point
}

// Algorithm selects the swap search variant
type Algorithm string

const (
	// AlgorithmNeighbours trades units on the topological boundary of each seed.
	AlgorithmNeighbours Algorithm = "neighbours"
	// AlgorithmCloser trades any unit within the distance threshold, ranked by score.
	AlgorithmCloser Algorithm = "closer"
	// AlgorithmNeighboursCloser runs Neighbours then Closer on its output.
	AlgorithmNeighboursCloser Algorithm = "neighbours-closer"
	// AlgorithmCloserNeighbours runs Closer then Neighbours on its output.
	AlgorithmCloserNeighbours Algorithm = "closer-neighbours"
)

// Phases returns the single-phase algorithms an algorithm runs, in order.
func (a Algorithm) Phases() []Algorithm {
	switch a {
	case AlgorithmNeighboursCloser:
		return []Algorithm{AlgorithmNeighbours, AlgorithmCloser}
	case AlgorithmCloserNeighbours:
		return []Algorithm{AlgorithmCloser, AlgorithmNeighbours}
	default:
		return []Algorithm{a}
	}
}

// RequiresSingleSeed reports whether any phase needs exactly one seed per owner.
func (a Algorithm) RequiresSingleSeed() bool {
	for _, p := range a.Phases() {
		if p == AlgorithmCloser {
			return true
		}
	}
	return false
}

// ParseAlgorithm converts a config string to an Algorithm
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case AlgorithmNeighbours, AlgorithmCloser, AlgorithmNeighboursCloser, AlgorithmCloserNeighbours:
		return Algorithm(s), nil
	case "":
		return AlgorithmNeighbours, nil
	}
	return "", fmt.Errorf("unknown algorithm %q", s)
}

// DistanceMetric is the aggregate used by strict mode to compare compactness
type DistanceMetric string

const (
	MetricMean DistanceMetric = "mean"
	MetricMax  DistanceMetric = "max"
)

// InputConfig describes the GeoJSON dataset to read
type InputConfig struct {
	Path        string `yaml:"path" json:"path"`
	IDField     string `yaml:"idField,omitempty" json:"idField,omitempty"`
	OwnerField  string `yaml:"ownerField,omitempty" json:"ownerField,omitempty"`
	WeightField string `yaml:"weightField,omitempty" json:"weightField,omitempty"` // empty: use planar area

	// NullOwners lists owner values read as unowned, case-insensitively.
	// Unset means DefaultNullOwners; an empty list keeps every value.
	NullOwners []string `yaml:"nullOwners,omitempty" json:"nullOwners,omitempty"`
}

// OutputConfig describes where results go
type OutputConfig struct {
	Path     string `yaml:"path,omitempty" json:"path,omitempty"`         // swapped GeoJSON
	Image    string `yaml:"image,omitempty" json:"image,omitempty"`       // ownership PNG
	Dissolve string `yaml:"dissolve,omitempty" json:"dissolve,omitempty"` // one feature per owner

	// Colors maps owners to "#RRGGBB" fills on the ownership PNG
	Colors map[OwnerID]string `yaml:"colors,omitempty" json:"colors,omitempty"`
}

// EngineConfig holds the parameters of a swap run
type EngineConfig struct {
	Algorithm          Algorithm      `yaml:"algorithm" json:"algorithm"`
	Tolerance          float64        `yaml:"tolerance" json:"tolerance"`                 // percent
	DistanceThreshold  float64        `yaml:"distanceThreshold" json:"distanceThreshold"` // dataset units
	MaxTurns           int            `yaml:"maxTurns,omitempty" json:"maxTurns,omitempty"`
	MaxTurnsNeighbours int            `yaml:"maxTurnsNeighbours,omitempty" json:"maxTurnsNeighbours,omitempty"`
	MaxTurnsCloser     int            `yaml:"maxTurnsCloser,omitempty" json:"maxTurnsCloser,omitempty"`
	Strict             bool           `yaml:"strict,omitempty" json:"strict,omitempty"`
	Metric             DistanceMetric `yaml:"metric,omitempty" json:"metric,omitempty"`
	SingleUnitOwners   bool           `yaml:"singleUnitOwners,omitempty" json:"singleUnitOwners,omitempty"`
	UseSingle          bool           `yaml:"useSingle,omitempty" json:"useSingle,omitempty"`
	Simplify           bool           `yaml:"simplify,omitempty" json:"simplify,omitempty"`
	SimplifyTolerance  float64        `yaml:"simplifyTolerance,omitempty" json:"simplifyTolerance,omitempty"`
	MaxCombinationSize int            `yaml:"maxCombinationSize,omitempty" json:"maxCombinationSize,omitempty"`
	MaxElements        int            `yaml:"maxElements,omitempty" json:"maxElements,omitempty"`
	MaxEvaluations     int            `yaml:"maxEvaluations,omitempty" json:"maxEvaluations,omitempty"` // per step
	Workers            int            `yaml:"workers,omitempty" json:"workers,omitempty"`
	BatchTimeout       time.Duration  `yaml:"batchTimeout,omitempty" json:"batchTimeout,omitempty"`
	ExactLimit         int            `yaml:"exactLimit,omitempty" json:"exactLimit,omitempty"`
	Quiet              bool           `yaml:"quiet,omitempty" json:"quiet,omitempty"`
}

// SeedConfig controls seed selection
type SeedConfig struct {
	Preferred     []UnitID `yaml:"preferred,omitempty" json:"preferred,omitempty"`
	OnlyPreferred bool     `yaml:"onlyPreferred,omitempty" json:"onlyPreferred,omitempty"`
}

// MQTTConfig holds MQTT connection settings for progress events
type MQTTConfig struct {
	Broker        string `yaml:"broker,omitempty" json:"broker,omitempty"`
	PublishPrefix string `yaml:"publishPrefix,omitempty" json:"publishPrefix,omitempty"`
	ClientID      string `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
	QoS           byte   `yaml:"qos,omitempty" json:"qos,omitempty"`       // 0, 1 or 2
	Retain        bool   `yaml:"retain,omitempty" json:"retain,omitempty"` // retain swap and turn messages too
}

// JournalConfig points at the SQLite swap journal
type JournalConfig struct {
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// Config represents the full configuration file
type Config struct {
	Input   InputConfig   `yaml:"input" json:"input"`
	Output  OutputConfig  `yaml:"output,omitempty" json:"output,omitempty"`
	Engine  EngineConfig  `yaml:"engine" json:"engine"`
	Seeds   SeedConfig    `yaml:"seeds,omitempty" json:"seeds,omitempty"`
	MQTT    MQTTConfig    `yaml:"mqtt,omitempty" json:"mqtt,omitempty"`
	Journal JournalConfig `yaml:"journal,omitempty" json:"journal,omitempty"`
}

// TurnTag names the attribute fields written for one turn's snapshot
type TurnTag struct {
	Turn       int    `json:"turn"`
	IDField    string `json:"idField"`
	OwnerField string `json:"ownerField"`
}

// NewTurnTag builds the tag for a turn. Turn 0 keeps the input field names.
func NewTurnTag(turn int, idField, ownerField string) TurnTag {
	tag := TurnTag{Turn: turn, IDField: idField, OwnerField: ownerField}
	if turn > 0 {
		tag.OwnerField = fmt.Sprintf("%s_t%d", ownerField, turn)
	}
	return tag
}

// Status is the terminal state of a run
type Status string

const (
	StatusConverged Status = "converged"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Result is what a run hands back to its caller
type Result struct {
	RunID      string                 `json:"runId"`
	Algorithm  Algorithm              `json:"algorithm"`
	Status     Status                 `json:"status"`
	Ownership  map[OwnerID][]UnitID   `json:"ownership,omitempty"`
	Seeds      map[OwnerID][]UnitID   `json:"seeds,omitempty"`
	SwapCount  int                    `json:"swapCount"`
	Turns      int                    `json:"turns"`
	Cancelled  bool                   `json:"cancelled"`
	CapReached bool                   `json:"capReached"`
	Mode       string                 `json:"distanceMode,omitempty"` // exact or approximate
	Summary    map[OwnerID]OwnerStats `json:"summary,omitempty"`
	Err        error                  `json:"-"`
}

// SwapEvent describes one applied swap
type SwapEvent struct {
	RunID       string    `json:"runId"`
	Algorithm   Algorithm `json:"algorithm"`
	Turn        int       `json:"turn"`
	Seq         int       `json:"seq"` // cumulative swap number
	Owner       OwnerID   `json:"owner"`
	Counterpart OwnerID   `json:"counterpart"`
	Seed        UnitID    `json:"seed"`
	Given       []UnitID  `json:"given"`
	Taken       []UnitID  `json:"taken"`
	Difference  float64   `json:"difference"`
	Score       float64   `json:"score"`
	OwnerTotal  float64   `json:"ownerTotal"`
	OtherTotal  float64   `json:"otherTotal"`
}

// TurnEvent summarizes a completed turn
type TurnEvent struct {
	RunID     string    `json:"runId"`
	Algorithm Algorithm `json:"algorithm"`
	Tag       TurnTag   `json:"tag"`
	Swaps     int       `json:"swaps"`      // applied in this turn
	Total     int       `json:"totalSwaps"` // cumulative
	Elapsed   float64   `json:"elapsedSeconds"`
}

// Observer receives engine progress. Calls happen on the engine goroutine.
type Observer interface {
	SwapApplied(ev SwapEvent)
	TurnCompleted(ev TurnEvent)
	RunFinished(res Result)
}
