package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.ngs.io/basin-remap/internal/adapter/geometry"
	"go.ngs.io/basin-remap/internal/adapter/store"
	"go.ngs.io/basin-remap/internal/adapter/store/csv"
	"go.ngs.io/basin-remap/internal/adapter/store/ncdf"
	"go.ngs.io/basin-remap/internal/config"
	"go.ngs.io/basin-remap/internal/domain"
	"go.ngs.io/basin-remap/internal/observability"
	"go.ngs.io/basin-remap/internal/overlay"
	"go.ngs.io/basin-remap/internal/sourcegeom"
)

// TableResult is a remap table together with the coordinate field it applies to.
type TableResult struct {
	Table          *domain.RemapTable
	Field          domain.CoordinateField
	Reused         bool
	FrameCorrected bool
}

// TableUseCase classifies the source coordinates and builds, persists or
// reloads the remap table of a case.
type TableUseCase struct {
	cfg     config.Config
	lib     geometry.Library
	open    store.FieldOpener
	targets store.ShapeSource
	sources store.ShapeSource
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewTableUseCase creates a table use case. targets loads the target polygons
// and sources loads optional source polygons for irregular datasets.
func NewTableUseCase(cfg config.Config, lib geometry.Library, open store.FieldOpener,
	targets, sources store.ShapeSource, logger *slog.Logger, metrics *observability.Metrics,
) *TableUseCase {
	return &TableUseCase{
		cfg:     cfg,
		lib:     lib,
		open:    open,
		targets: targets,
		sources: sources,
		logger:  logger,
		metrics: metrics,
	}
}

// Classify reads the coordinates of the first configured variable of path
// and determines its topology.
func (uc *TableUseCase) Classify(path string) (domain.CoordinateField, error) {
	return classifyFile(uc.open, uc.cfg, path)
}

func classifyFile(open store.FieldOpener, cfg config.Config, path string) (domain.CoordinateField, error) {
	src, err := open(path)
	if err != nil {
		return domain.CoordinateField{}, err
	}
	defer func() { _ = src.Close() }()

	meta, err := src.Coordinates(cfg.Source.LatVar, cfg.Source.LonVar, cfg.Source.VarNames[0])
	if err != nil {
		return domain.CoordinateField{}, fmt.Errorf("failed to read coordinates of %s: %w", path, err)
	}
	field, err := domain.Classify(meta, cfg.Source.Resolution)
	if err != nil {
		return domain.CoordinateField{}, fmt.Errorf("%s: %w", path, err)
	}
	return field, nil
}

// Execute returns the remap table for the dataset at path. A configured
// remap_table is loaded and checked against the classified topology;
// otherwise the table is built and persisted before returning.
func (uc *TableUseCase) Execute(ctx context.Context, path string) (*TableResult, error) {
	field, err := uc.Classify(path)
	if err != nil {
		return nil, err
	}
	uc.logger.Info("source classified",
		"file", path,
		"topology", field.Topology.String(),
		"rows", field.Rows(),
		"cols", field.Cols(),
	)

	if uc.cfg.Output.RemapTable != "" {
		table, err := uc.Load(field.Topology)
		if err != nil {
			return nil, err
		}
		return &TableResult{Table: table, Field: field, Reused: true}, nil
	}

	return uc.build(ctx, field)
}

// Load reads the configured CSV table and checks it against topology.
func (uc *TableUseCase) Load(topology domain.Topology) (*domain.RemapTable, error) {
	path := uc.cfg.TablePath()
	table, err := csv.ReadTable(path)
	if err != nil {
		return nil, err
	}
	if err := table.Validate(topology); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	uc.logger.Info("remap table loaded", "path", path, "rows", len(table.Rows), "hash", table.Hash)
	return table, nil
}

func (uc *TableUseCase) build(ctx context.Context, field domain.CoordinateField) (*TableResult, error) {
	start := time.Now()

	opts := sourcegeom.Options{
		Resolution:    uc.cfg.Source.Resolution,
		Tolerance:     uc.cfg.Geometry.Tolerance,
		NudgeDistance: uc.cfg.Geometry.NudgeDistance,
		VoronoiMargin: uc.cfg.Geometry.VoronoiMargin,
	}
	if field.Topology == domain.Irregular && uc.cfg.Source.Shapefile != "" {
		shapes, err := uc.sources.LoadShapes(uc.cfg.Source.Shapefile, uc.cfg.Source.ShapefileIDField)
		if err != nil {
			return nil, fmt.Errorf("failed to load source shapes: %w", err)
		}
		opts.Shapes = shapes
	}

	builder, err := sourcegeom.ForTopology(field.Topology, uc.lib, opts)
	if err != nil {
		return nil, err
	}
	units, err := builder.Build(field)
	if err != nil {
		return nil, fmt.Errorf("failed to build source geometry: %w", err)
	}

	targets, err := uc.targets.LoadShapes(uc.cfg.Target.Shapefile, uc.cfg.Target.IDField)
	if err != nil {
		return nil, fmt.Errorf("failed to load target shapes: %w", err)
	}
	uc.logger.Info("geometry prepared", "source_units", len(units), "targets", len(targets))

	engine := overlay.NewEngine(uc.lib, overlay.Options{
		AreaTolerance: uc.cfg.Geometry.AreaTolerance,
		SkipOutside:   uc.cfg.Geometry.SkipOutsideShape,
		FailOnOutside: uc.cfg.Geometry.FailOnOutsideShape,
	}, uc.logger)
	result, err := engine.Run(ctx, units, targets)
	if err != nil {
		return nil, err
	}
	table, err := engine.Table(field.Topology, units, targets, result)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble remap table: %w", err)
	}
	if err := table.CheckConservation(); err != nil {
		return nil, fmt.Errorf("remap table is not conservative: %w", err)
	}

	if err := uc.persist(table, targets); err != nil {
		return nil, err
	}

	uc.metrics.TableBuildDuration.Observe(time.Since(start).Seconds())
	uc.logger.Info("remap table built",
		"rows", len(table.Rows),
		"uncovered_targets", len(result.Uncovered),
		"frame_corrected", result.FrameCorrected,
		"hash", table.Hash,
		"duration", time.Since(start),
	)
	return &TableResult{Table: table, Field: field, FrameCorrected: result.FrameCorrected}, nil
}

// persist writes the CSV table, its NetCDF copy and the attribute side table.
func (uc *TableUseCase) persist(table *domain.RemapTable, targets []domain.TargetShape) error {
	tablePath := uc.cfg.TablePath()
	for _, dir := range []string{filepath.Dir(tablePath), uc.cfg.TableDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create table directory %s: %w", dir, err)
		}
	}

	if err := csv.WriteTable(tablePath, table); err != nil {
		return err
	}
	if err := ncdf.WriteTable(uc.cfg.TableNetCDFPath(), table); err != nil {
		return err
	}
	if err := csv.WriteAttributes(uc.cfg.AttributesPath(), targets, table.Hash); err != nil {
		return err
	}
	uc.logger.Info("remap table written", "path", tablePath)
	return nil
}
