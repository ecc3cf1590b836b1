package swap

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// Dataset is the spatial dataset the engine works on. Unit IDs and weights are
// fixed at construction; only owners change, through ApplyOwnerChange. The
// owners seen at construction are kept as the baseline for tolerance bands.
type Dataset struct {
	mu      sync.RWMutex
	units   []Unit
	index   map[UnitID]int
	initial []OwnerID
}

// NewDataset validates and indexes units. Missing centroids are derived from
// the geometry.
func NewDataset(units []Unit) (*Dataset, error) {
	ds := &Dataset{
		units:   make([]Unit, len(units)),
		index:   make(map[UnitID]int, len(units)),
		initial: make([]OwnerID, len(units)),
	}
	for i, u := range units {
		if u.ID == "" {
			return nil, fmt.Errorf("unit[%d]: id is required", i)
		}
		if _, dup := ds.index[u.ID]; dup {
			return nil, fmt.Errorf("unit[%d] %q: %w", i, u.ID, ErrDuplicateUnit)
		}
		if u.Weight < 0 || math.IsNaN(u.Weight) || math.IsInf(u.Weight, 0) {
			return nil, fmt.Errorf("unit %q: weight must be a non-negative number, got %g", u.ID, u.Weight)
		}
		if u.Centroid == (orb.Point{}) && u.Geometry != nil {
			u.Centroid, _ = planar.CentroidArea(u.Geometry)
		}
		ds.units[i] = u
		ds.index[u.ID] = i
		ds.initial[i] = u.Owner
	}
	return ds, nil
}

// InitialOwner returns the owner a unit had when the dataset was built
func (d *Dataset) InitialOwner(id UnitID) OwnerID {
	if i, ok := d.index[id]; ok {
		return d.initial[i]
	}
	return ""
}

// InitialTotals sums unit weights per owner as held at construction
func (d *Dataset) InitialTotals() map[OwnerID]float64 {
	totals := make(map[OwnerID]float64)
	for i, owner := range d.initial {
		if owner == "" {
			continue
		}
		totals[owner] += d.units[i].Weight
	}
	return totals
}

// Len returns the number of units
func (d *Dataset) Len() int {
	return len(d.units)
}

// Units returns a copy of all units in dataset order
func (d *Dataset) Units() []Unit {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Unit, len(d.units))
	copy(out, d.units)
	return out
}

// Unit returns a unit by ID
func (d *Dataset) Unit(id UnitID) (Unit, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	i, ok := d.index[id]
	if !ok {
		return Unit{}, false
	}
	return d.units[i], true
}

// Index returns the dataset position of a unit, or -1
func (d *Dataset) Index(id UnitID) int {
	if i, ok := d.index[id]; ok {
		return i
	}
	return -1
}

// Weight returns the weight of a unit, 0 for unknown IDs
func (d *Dataset) Weight(id UnitID) float64 {
	if i, ok := d.index[id]; ok {
		return d.units[i].Weight
	}
	return 0
}

// ApplyOwnerChange reassigns a unit. It implements OwnerSink.
func (d *Dataset) ApplyOwnerChange(id UnitID, owner OwnerID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	i, ok := d.index[id]
	if !ok {
		return fmt.Errorf("apply owner change %q: %w", id, ErrUnknownUnit)
	}
	d.units[i].Owner = owner
	return nil
}

// Owners returns the distinct non-empty owners in order of first appearance
func (d *Dataset) Owners() []OwnerID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := make(map[OwnerID]bool)
	var owners []OwnerID
	for _, u := range d.units {
		if u.Owner == "" || seen[u.Owner] {
			continue
		}
		seen[u.Owner] = true
		owners = append(owners, u.Owner)
	}
	return owners
}

// LoadGeoJSON reads a FeatureCollection and maps its properties to units
func LoadGeoJSON(path string, in InputConfig) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dataset: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parsing dataset GeoJSON: %w", err)
	}
	return DatasetFromFeatures(fc, in)
}

// DatasetFromFeatures converts a FeatureCollection to a Dataset
func DatasetFromFeatures(fc *geojson.FeatureCollection, in InputConfig) (*Dataset, error) {
	idField, ownerField := in.IDField, in.OwnerField
	if idField == "" {
		idField = DefaultIDField
	}
	if ownerField == "" {
		ownerField = DefaultOwnerField
	}

	nullOwners := in.NullOwners
	if nullOwners == nil {
		nullOwners = DefaultNullOwners
	}

	units := make([]Unit, 0, len(fc.Features))
	for i, f := range fc.Features {
		id := propertyString(f.Properties[idField])
		if id == "" {
			id = propertyString(f.ID)
		}
		if id == "" {
			return nil, fmt.Errorf("feature[%d]: missing %q property", i, idField)
		}

		u := Unit{
			ID:       UnitID(id),
			Owner:    ownerValue(f.Properties[ownerField], nullOwners),
			Geometry: f.Geometry,
		}
		if f.Geometry != nil {
			u.Centroid, _ = planar.CentroidArea(f.Geometry)
		}

		if in.WeightField != "" {
			w, err := propertyFloat(f.Properties[in.WeightField])
			if err != nil {
				return nil, fmt.Errorf("feature %q: %s: %w", id, in.WeightField, err)
			}
			u.Weight = w
		} else if f.Geometry != nil {
			u.Weight = math.Abs(planar.Area(f.Geometry))
		}
		units = append(units, u)
	}
	return NewDataset(units)
}

// FeatureCollection renders the dataset with the owner field named by tag
func (d *Dataset) FeatureCollection(tag TurnTag) *geojson.FeatureCollection {
	d.mu.RLock()
	defer d.mu.RUnlock()

	fc := geojson.NewFeatureCollection()
	for _, u := range d.units {
		f := geojson.NewFeature(u.Geometry)
		if u.Geometry == nil {
			f = geojson.NewFeature(u.Centroid)
		}
		f.Properties[tag.IDField] = string(u.ID)
		if u.Owner != "" {
			f.Properties[tag.OwnerField] = string(u.Owner)
		} else {
			f.Properties[tag.OwnerField] = nil
		}
		f.Properties["weight"] = u.Weight
		if tag.Turn > 0 {
			f.Properties["turn"] = tag.Turn
		}
		fc.Append(f)
	}
	return fc
}

// WriteGeoJSON writes the current ownership as a FeatureCollection
func (d *Dataset) WriteGeoJSON(path string, tag TurnTag) error {
	return writeFeatureCollection(path, d.FeatureCollection(tag))
}

// WriteDissolved writes one MultiPolygon feature per owner
func (d *Dataset) WriteDissolved(path string, geom Geometry, ownership map[OwnerID][]UnitID, order []OwnerID, ownerField string) error {
	fc := geojson.NewFeatureCollection()
	for _, owner := range order {
		ids := ownership[owner]
		f := geojson.NewFeature(geom.Dissolve(ids))
		f.Properties[ownerField] = string(owner)
		f.Properties["units"] = len(ids)
		var total float64
		for _, id := range ids {
			total += d.Weight(id)
		}
		f.Properties["weight"] = total
		fc.Append(f)
	}
	return writeFeatureCollection(path, fc)
}

func writeFeatureCollection(path string, fc *geojson.FeatureCollection) error {
	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal feature collection: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// propertyString stringifies GeoJSON ids and owner values; nil becomes ""
func propertyString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprint(t)
	}
}

// ownerValue maps an owner property to an OwnerID. Values matching one of
// nulls, ignoring case and surrounding space, mean unowned.
func ownerValue(v interface{}, nulls []string) OwnerID {
	owner := strings.TrimSpace(propertyString(v))
	for _, n := range nulls {
		if strings.EqualFold(owner, n) {
			return ""
		}
	}
	return OwnerID(owner)
}

func propertyFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case string:
		return strconv.ParseFloat(t, 64)
	case nil:
		return 0, fmt.Errorf("missing value")
	}
	return 0, fmt.Errorf("unsupported value %v", v)
}
