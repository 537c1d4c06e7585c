package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"go.ngs.io/basin-remap/internal/adapter/store"
	"go.ngs.io/basin-remap/internal/adapter/store/ncdf"
	"go.ngs.io/basin-remap/internal/config"
	"go.ngs.io/basin-remap/internal/domain"
	"go.ngs.io/basin-remap/internal/observability"
)

// FileReport is the outcome of remapping one source file.
type FileReport struct {
	Source   string        `json:"source"`
	Output   string        `json:"output,omitempty"`
	Steps    int           `json:"steps"`
	Rescaled int           `json:"rescaled_targets"`
	Missing  int           `json:"missing_targets"`
	Clamped  int           `json:"clamped_targets"`
	Duration time.Duration `json:"duration_ns"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
}

// RunReport collects the per-file outcomes of a run in input order.
type RunReport struct {
	RunID     string       `json:"run_id"`
	TableHash string       `json:"remap_table_hash"`
	Workers   int          `json:"workers"`
	Files     []FileReport `json:"files"`
	Failed    int          `json:"failed"`
}

// Err summarizes the failed files, or returns nil when every file succeeded.
func (r *RunReport) Err() error {
	var errs []error
	for _, f := range r.Files {
		if f.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.Source, f.Err))
		}
	}
	return errors.Join(errs...)
}

// ApplyUseCase applies a remap table to every time step of a set of source
// files, writing one output file per source.
type ApplyUseCase struct {
	cfg     config.Config
	open    store.FieldOpener
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewApplyUseCase creates an apply use case.
func NewApplyUseCase(cfg config.Config, open store.FieldOpener, logger *slog.Logger, metrics *observability.Metrics) *ApplyUseCase {
	return &ApplyUseCase{cfg: cfg, open: open, logger: logger, metrics: metrics}
}

// CheckConsistency verifies that every file classifies to the same topology
// and dimensions as field.
func (uc *ApplyUseCase) CheckConsistency(field domain.CoordinateField, paths []string) error {
	for _, path := range paths {
		other, err := classifyFile(uc.open, uc.cfg, path)
		if err != nil {
			return err
		}
		if other.Topology != field.Topology || other.Rows() != field.Rows() || other.Cols() != field.Cols() {
			return fmt.Errorf("%w: %s is %s %dx%d, expected %s %dx%d", domain.ErrDimensionMismatch,
				path, other.Topology, other.Rows(), other.Cols(), field.Topology, field.Rows(), field.Cols())
		}
	}
	return nil
}

// Execute remaps paths with a bounded worker pool. A failing file is recorded
// in the report and does not stop the others. The returned error is non-nil
// only for conditions that abort the run before any output is written.
func (uc *ApplyUseCase) Execute(ctx context.Context, table *domain.RemapTable, field domain.CoordinateField, paths []string) (*RunReport, error) {
	if uc.cfg.Source.CheckConsistency {
		if err := uc.CheckConsistency(field, paths); err != nil {
			return nil, err
		}
	}
	outputs, err := uc.cfg.OutputPaths(paths)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(uc.cfg.OutputDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", uc.cfg.OutputDir, err)
	}

	report := &RunReport{
		RunID:     uuid.NewString(),
		TableHash: table.Hash,
		Workers:   uc.cfg.WorkerCount(len(paths)),
		Files:     make([]FileReport, len(paths)),
	}
	uc.logger.Info("remapping started",
		"run_id", report.RunID,
		"files", len(paths),
		"workers", report.Workers,
	)

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < report.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				report.Files[i] = uc.runFile(ctx, table, field, paths[i], outputs[i], report.RunID)
			}
		}()
	}

	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			report.Files[i] = FileReport{Source: path, Err: err, Error: err.Error()}
			continue
		}
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for _, f := range report.Files {
		if f.Err != nil {
			report.Failed++
		}
	}
	uc.logger.Info("remapping finished",
		"run_id", report.RunID,
		"files", len(paths),
		"failed", report.Failed,
	)
	return report, nil
}

// runFile remaps one file and never panics.
func (uc *ApplyUseCase) runFile(ctx context.Context, table *domain.RemapTable, field domain.CoordinateField,
	path, output, runID string,
) (rep FileReport) {
	start := time.Now()
	rep = FileReport{Source: path, Output: output}

	defer func() {
		if r := recover(); r != nil {
			rep.Err = fmt.Errorf("panic: %v", r)
		}
		rep.Duration = time.Since(start)
		uc.metrics.FileDuration.Observe(rep.Duration.Seconds())
		if rep.Err != nil {
			rep.Error = rep.Err.Error()
			_ = os.Remove(rep.Output)
			uc.metrics.FilesProcessed.WithLabelValues("error").Inc()
			uc.logger.Error("file failed", "file", path, "error", rep.Err)
			return
		}
		uc.metrics.FilesProcessed.WithLabelValues("success").Inc()
		uc.logger.Info("file remapped",
			"file", path,
			"output", rep.Output,
			"steps", rep.Steps,
			"duration", rep.Duration,
		)
	}()

	if err := ctx.Err(); err != nil {
		rep.Err = err
		return rep
	}
	rep.Err = uc.remapFile(table, field, &rep, runID)
	return rep
}

func (uc *ApplyUseCase) remapFile(table *domain.RemapTable, field domain.CoordinateField, rep *FileReport, runID string) error {
	src, err := uc.open(rep.Source)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	times, err := src.Times()
	if err != nil {
		return fmt.Errorf("failed to read time axis: %w", err)
	}

	outputs := make([]ncdf.OutputVar, len(uc.cfg.Source.VarNames))
	averagers := make([]*domain.Averager, len(uc.cfg.Source.VarNames))
	for i, name := range uc.cfg.Source.VarNames {
		attrs, err := src.Attributes(name)
		if err != nil {
			return err
		}
		outputs[i] = ncdf.OutputVar{
			Name:      uc.cfg.Output.VarNames[i],
			Format:    uc.cfg.Output.Formats[i],
			FillValue: uc.cfg.Output.FillValues[i],
			Units:     attrs.Units,
			LongName:  attrs.LongName,
		}
		// Each file gets its own averagers; the table is shared read-only.
		averagers[i], err = domain.NewAverager(table, field.Rows(), field.Cols(), domain.AveragerOptions{
			Rescale:   uc.cfg.Output.Rescale,
			FillValue: uc.cfg.Output.FillValues[i],
		})
		if err != nil {
			return err
		}
	}

	sink, err := ncdf.Create(rep.Output, averagers[0].Targets(), times, outputs, ncdf.SinkOptions{
		Compression: uc.cfg.Output.Compression,
		History:     uc.history(rep.Source, table.Hash),
		License:     uc.cfg.Output.License,
		TableHash:   table.Hash,
		RunID:       runID,
	})
	if err != nil {
		return err
	}

	for i, name := range uc.cfg.Source.VarNames {
		for step := range times.Values {
			slice, err := src.ReadStep(name, step)
			if err != nil {
				_ = sink.Close()
				return err
			}
			values, stats, err := averagers[i].Apply(slice)
			if err != nil {
				_ = sink.Close()
				return fmt.Errorf("%s step %d: %w", name, step, err)
			}
			if err := sink.WriteStep(outputs[i].Name, step, values); err != nil {
				_ = sink.Close()
				return err
			}
			uc.record(rep, stats)
		}
		rep.Steps += len(times.Values)
	}

	if rep.Clamped > 0 {
		uc.logger.Warn("restricted weight sums clamped", "file", rep.Source, "targets", rep.Clamped)
	}
	return sink.Close()
}

func (uc *ApplyUseCase) record(rep *FileReport, stats domain.StepStats) {
	rep.Rescaled += stats.Rescaled
	rep.Missing += stats.Missing
	rep.Clamped += stats.Clamped
	uc.metrics.TimestepsProcessed.Inc()
	uc.metrics.RescaledTargets.Add(float64(stats.Rescaled))
	uc.metrics.MissingTargets.Add(float64(stats.Missing))
	uc.metrics.ClampedWeights.Add(float64(stats.Clamped))
}

func (uc *ApplyUseCase) history(source, hash string) string {
	return fmt.Sprintf("%s: remapped %s onto %s (remap table %s)",
		clock.Now().UTC().Format(time.RFC3339), filepath.Base(source), filepath.Base(uc.cfg.Target.Shapefile), hash)
}
