package domain

import (
	"fmt"

	"github.com/ctessum/geom"
)

// NoSource marks a placeholder table row for a target with no intersecting source.
const NoSource int64 = -1

// SourceUnit is one addressable source element: a grid cell or an irregular point's cell.
type SourceUnit struct {
	ID          int64
	CentroidLat float64
	CentroidLon float64
	Row         int // Irregular sources use Row == Col == point index.
	Col         int
	Geometry    geom.Polygonal
}

// TargetShape is one polygon of the target set.
type TargetShape struct {
	ID          int64
	Order       int // Stable 1..N index used for grouping.
	CentroidLat float64
	CentroidLon float64
	Geometry    geom.Polygonal
	Attributes  map[string]string
}

// IntersectionRecord is produced for every (target, source) pair with nonzero overlap.
type IntersectionRecord struct {
	TargetOrder    int
	SourceID       int64
	Area           float64 // Equal-area square meters.
	WeightBySource float64 // Area fraction of the source unit.
	WeightRaw      float64 // Area fraction of the target shape.
	Weight         float64 // WeightRaw renormalized so weights of a target sum to 1.
}

// AssignOrders sets Order to 1..N in slice order and verifies target ids are unique.
func AssignOrders(targets []TargetShape) error {
	seen := make(map[int64]int, len(targets))
	for i := range targets {
		targets[i].Order = i + 1
		if prev, ok := seen[targets[i].ID]; ok {
			return fmt.Errorf("%w: target id %d is used by shapes %d and %d",
				ErrConfiguration, targets[i].ID, prev, i+1)
		}
		seen[targets[i].ID] = i + 1
	}
	return nil
}

// CheckUniqueSourceIDs verifies that source ids are unique.
func CheckUniqueSourceIDs(units []SourceUnit) error {
	seen := make(map[int64]struct{}, len(units))
	for _, u := range units {
		if _, ok := seen[u.ID]; ok {
			return fmt.Errorf("%w: source id %d is not unique", ErrConfiguration, u.ID)
		}
		seen[u.ID] = struct{}{}
	}
	return nil
}
