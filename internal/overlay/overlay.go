// Package overlay intersects source units with target shapes in an
// equal-area projection and derives normalized area weights.
package overlay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ctessum/geom"
	"gonum.org/v1/gonum/floats"

	"go.ngs.io/basin-remap/internal/adapter/geometry"
	"go.ngs.io/basin-remap/internal/domain"
)

// DefaultAreaTolerance is the minimum intersection area, relative to the
// target area, that produces a record.
const DefaultAreaTolerance = 1e-9

// Options controls overlay behavior.
type Options struct {
	AreaTolerance float64
	// SkipOutside omits targets without any intersecting source from the table.
	SkipOutside bool
	// FailOnOutside turns a target without any intersecting source into an error.
	FailOnOutside bool
}

// Result is the outcome of an overlay run.
type Result struct {
	Records        []domain.IntersectionRecord
	Uncovered      []int // Target orders with no intersecting source.
	FrameCorrected bool
}

// Engine computes intersection records between sources and targets.
type Engine struct {
	lib    geometry.Library
	opts   Options
	logger *slog.Logger
}

// NewEngine creates an overlay engine.
func NewEngine(lib geometry.Library, opts Options, logger *slog.Logger) *Engine {
	if opts.AreaTolerance <= 0 {
		opts.AreaTolerance = DefaultAreaTolerance
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{lib: lib, opts: opts, logger: logger}
}

// Run intersects every target with the sources it overlaps. Records are
// grouped by target order, and within a target ordered as the index returns
// them; NewRemapTable imposes the final row order.
func (e *Engine) Run(ctx context.Context, units []domain.SourceUnit, targets []domain.TargetShape) (*Result, error) {
	srcGeoms := make([]geom.Polygonal, len(units))
	for i, u := range units {
		srcGeoms[i] = u.Geometry
	}
	tgtGeoms := make([]geom.Polygonal, len(targets))
	for i, t := range targets {
		tgtGeoms[i] = t.Geometry
	}

	result := &Result{}
	var err error
	if geometry.NeedsFrameCorrection(srcGeoms, tgtGeoms) {
		e.logger.Info("target extent outside source extent, correcting longitude frame",
			"sources", len(srcGeoms), "targets", len(tgtGeoms))
		if srcGeoms, err = geometry.CorrectFrame(srcGeoms); err != nil {
			return nil, fmt.Errorf("failed to correct source frame: %w", err)
		}
		if tgtGeoms, err = geometry.CorrectFrame(tgtGeoms); err != nil {
			return nil, fmt.Errorf("failed to correct target frame: %w", err)
		}
		result.FrameCorrected = true
	}

	if srcGeoms, err = geometry.ClipLatitude(srcGeoms); err != nil {
		return nil, fmt.Errorf("failed to clip source shapes: %w", err)
	}
	if tgtGeoms, err = geometry.ClipLatitude(tgtGeoms); err != nil {
		return nil, fmt.Errorf("failed to clip target shapes: %w", err)
	}

	srcProj, err := e.prepare("source", srcGeoms)
	if err != nil {
		return nil, err
	}
	tgtProj, err := e.prepare("target", tgtGeoms)
	if err != nil {
		return nil, err
	}

	srcArea := make([]float64, len(srcProj))
	for i, p := range srcProj {
		srcArea[i] = e.lib.Area(p)
	}
	index := e.lib.NewIndex(srcProj)

	for ti, target := range targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records := e.intersectTarget(target.Order, tgtProj[ti], units, srcProj, srcArea, index)
		if len(records) == 0 {
			result.Uncovered = append(result.Uncovered, target.Order)
			continue
		}
		result.Records = append(result.Records, records...)
	}

	if len(result.Uncovered) > 0 {
		if e.opts.FailOnOutside {
			return nil, fmt.Errorf("%w: %d target shapes do not intersect any source",
				domain.ErrConfiguration, len(result.Uncovered))
		}
		e.logger.Warn("target shapes without intersecting source",
			"count", len(result.Uncovered), "skipped", e.opts.SkipOutside)
	}
	return result, nil
}

// intersectTarget returns the records of one target with normalized weights.
func (e *Engine) intersectTarget(order int, target geom.Polygonal, units []domain.SourceUnit,
	srcProj []geom.Polygonal, srcArea []float64, index geometry.Index) []domain.IntersectionRecord {
	if target == nil {
		return nil
	}
	targetArea := e.lib.Area(target)
	if targetArea <= 0 {
		return nil
	}
	minArea := e.opts.AreaTolerance * targetArea

	var records []domain.IntersectionRecord
	for _, si := range index.Query(e.lib.Bounds(target)) {
		isect := e.lib.Intersect(target, srcProj[si])
		if isect == nil {
			continue
		}
		area := e.lib.Area(isect)
		if area <= minArea {
			continue
		}
		rec := domain.IntersectionRecord{
			TargetOrder: order,
			SourceID:    units[si].ID,
			Area:        area,
			WeightRaw:   area / targetArea,
		}
		if srcArea[si] > 0 {
			rec.WeightBySource = area / srcArea[si]
		}
		records = append(records, rec)
	}
	Normalize(records)
	return records
}

// Normalize sets Weight = WeightRaw / Σ WeightRaw over records, which must
// all belong to one target.
func Normalize(records []domain.IntersectionRecord) {
	raw := make([]float64, len(records))
	for i, r := range records {
		raw[i] = r.WeightRaw
	}
	sum := floats.Sum(raw)
	if sum <= 0 {
		return
	}
	for i := range records {
		records[i].Weight = records[i].WeightRaw / sum
	}
}

// prepare repairs and projects a geometry set into equal-area meters.
func (e *Engine) prepare(kind string, polys []geom.Polygonal) ([]geom.Polygonal, error) {
	out := make([]geom.Polygonal, len(polys))
	for i, p := range polys {
		if p == nil {
			continue
		}
		repaired, err := e.lib.Repair(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %s shape %d: %v", domain.ErrDegenerateGeometry, kind, i, err)
		}
		projected, err := geometry.ToEqualArea(repaired)
		if err != nil {
			return nil, fmt.Errorf("%w: %s shape %d: %v", domain.ErrProjection, kind, i, err)
		}
		out[i] = projected
	}
	return out, nil
}

// Table builds the remap table from an overlay result. Uncovered targets get
// placeholder rows unless SkipOutside is set.
func (e *Engine) Table(topology domain.Topology, units []domain.SourceUnit, targets []domain.TargetShape,
	result *Result) (*domain.RemapTable, error) {
	return domain.NewRemapTable(topology, targets, units, result.Records, result.Uncovered, !e.opts.SkipOutside)
}
