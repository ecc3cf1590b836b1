package swap

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the config leaves a field unset
const (
	DefaultIDField            = "id"
	DefaultOwnerField         = "owner"
	DefaultTolerance          = 5.0
	DefaultDistanceThreshold  = 1000.0
	DefaultMaxTurns           = 50
	DefaultMaxCombinationSize = 10
	DefaultMaxElements        = 8
	DefaultMaxEvaluations     = 200000
	DefaultBatchTimeout       = 30 * time.Second
	DefaultExactLimit         = 2000
	DefaultSimplifyTolerance  = 1.0

	// DefaultNullOwnerValue is the owner value some GIS exports write for
	// unowned parcels
	DefaultNullOwnerValue = "NULL"

	// simplify mode clamps the search to these sizes
	simplifyMaxCombinationSize = 3
	simplifyMaxElements        = 5
)

// DefaultNullOwners are the owner values read as unowned when
// input.nullOwners is not set
var DefaultNullOwners = []string{DefaultNullOwnerValue}

// LoadConfig loads the configuration from a YAML file, applies defaults and validates it
func LoadConfig(path string) (*Config, error) {
	return LoadConfigWith(path, nil)
}

// LoadConfigWith is LoadConfig with a hook that can change the parsed config
// before defaults and validation, used for command line overrides
func LoadConfigWith(path string, override func(*Config)) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := NewConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if override != nil {
		override(config)
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// NewConfig returns a config carrying the defaults whose zero value is a
// valid setting. The tolerance is preset here rather than in ApplyDefaults so
// that an explicit "tolerance: 0" survives loading.
func NewConfig() *Config {
	return &Config{Engine: EngineConfig{Tolerance: DefaultTolerance}}
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// ApplyDefaults fills unset fields
func (c *Config) ApplyDefaults() {
	if c.Input.IDField == "" {
		c.Input.IDField = DefaultIDField
	}
	if c.Input.OwnerField == "" {
		c.Input.OwnerField = DefaultOwnerField
	}
	c.Engine.ApplyDefaults()
}

// Validate checks required fields and ranges
func (c *Config) Validate() error {
	if c.Input.Path == "" {
		return fmt.Errorf("input.path is required")
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if c.Seeds.OnlyPreferred && len(c.Seeds.Preferred) == 0 {
		return fmt.Errorf("seeds.onlyPreferred needs at least one seeds.preferred unit")
	}
	for i, id := range c.Seeds.Preferred {
		if id == "" {
			return fmt.Errorf("seeds.preferred[%d] is empty", i)
		}
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	for owner, hex := range c.Output.Colors {
		if _, err := ParseHexColor(hex); err != nil {
			return fmt.Errorf("output.colors[%s]: %w", owner, err)
		}
	}
	return nil
}

// ApplyDefaults fills unset engine fields. Tolerance is left alone: zero is
// a valid band width, see NewConfig.
func (e *EngineConfig) ApplyDefaults() {
	if e.Algorithm == "" {
		e.Algorithm = AlgorithmNeighbours
	}
	if e.DistanceThreshold == 0 {
		e.DistanceThreshold = DefaultDistanceThreshold
	}
	if e.MaxTurns == 0 {
		e.MaxTurns = DefaultMaxTurns
	}
	if e.Metric == "" {
		e.Metric = MetricMean
	}
	if e.MaxCombinationSize == 0 {
		e.MaxCombinationSize = DefaultMaxCombinationSize
	}
	if e.MaxElements == 0 {
		e.MaxElements = DefaultMaxElements
	}
	if e.MaxEvaluations == 0 {
		e.MaxEvaluations = DefaultMaxEvaluations
	}
	if e.Workers == 0 {
		e.Workers = 1
	}
	if e.BatchTimeout == 0 {
		e.BatchTimeout = DefaultBatchTimeout
	}
	if e.ExactLimit == 0 {
		e.ExactLimit = DefaultExactLimit
	}
	if e.SimplifyTolerance == 0 {
		e.SimplifyTolerance = DefaultSimplifyTolerance
	}
}

// Validate checks engine parameters
func (e *EngineConfig) Validate() error {
	if _, err := ParseAlgorithm(string(e.Algorithm)); err != nil {
		return err
	}
	if e.Tolerance < 0 || e.Tolerance >= 100 {
		return fmt.Errorf("tolerance must be in [0, 100), got %g", e.Tolerance)
	}
	if e.DistanceThreshold <= 0 {
		return fmt.Errorf("distanceThreshold must be positive, got %g", e.DistanceThreshold)
	}
	if e.MaxTurns < 1 {
		return fmt.Errorf("maxTurns must be at least 1, got %d", e.MaxTurns)
	}
	if e.Metric != MetricMean && e.Metric != MetricMax {
		return fmt.Errorf("metric must be %q or %q, got %q", MetricMean, MetricMax, e.Metric)
	}
	if e.MaxCombinationSize < 1 {
		return fmt.Errorf("maxCombinationSize must be at least 1, got %d", e.MaxCombinationSize)
	}
	if e.MaxElements < 1 {
		return fmt.Errorf("maxElements must be at least 1, got %d", e.MaxElements)
	}
	if e.MaxEvaluations < 1 {
		return fmt.Errorf("maxEvaluations must be at least 1, got %d", e.MaxEvaluations)
	}
	if e.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", e.Workers)
	}
	if e.SimplifyTolerance < 0 {
		return fmt.Errorf("simplifyTolerance must not be negative, got %g", e.SimplifyTolerance)
	}
	return nil
}

// MaxTurnsFor returns the turn cap of a single phase
func (e *EngineConfig) MaxTurnsFor(phase Algorithm) int {
	switch {
	case phase == AlgorithmNeighbours && e.MaxTurnsNeighbours > 0:
		return e.MaxTurnsNeighbours
	case phase == AlgorithmCloser && e.MaxTurnsCloser > 0:
		return e.MaxTurnsCloser
	}
	return e.MaxTurns
}

// GeometryTolerance returns the Douglas-Peucker tolerance for unit outlines,
// 0 when simplify mode is off
func (e *EngineConfig) GeometryTolerance() float64 {
	if !e.Simplify {
		return 0
	}
	return e.SimplifyTolerance
}

// searchLimits returns the effective combination size and element caps
func (e *EngineConfig) searchLimits() (maxSize, maxElements int) {
	maxSize, maxElements = e.MaxCombinationSize, e.MaxElements
	if e.Simplify {
		maxSize = min(maxSize, simplifyMaxCombinationSize)
		maxElements = min(maxElements, simplifyMaxElements)
	}
	return maxSize, maxElements
}
