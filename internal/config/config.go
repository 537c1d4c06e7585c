// Package config loads the immutable run configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"go.ngs.io/basin-remap/internal/domain"
)

// Config holds all run settings. It is validated once by Load and passed by
// value afterwards.
type Config struct {
	CaseName  string `yaml:"case_name"`
	OutputDir string `yaml:"output_dir"`
	// TableDir holds the remap table and attribute side table.
	TableDir string `yaml:"table_dir"`

	Source   SourceConfig   `yaml:"source"`
	Target   TargetConfig   `yaml:"target"`
	Output   OutputConfig   `yaml:"output"`
	Geometry GeometryConfig `yaml:"geometry"`
	Run      RunConfig      `yaml:"run"`
	Log      LogConfig      `yaml:"log"`
	HTTP     HTTPConfig     `yaml:"http"`
}

// SourceConfig describes the source datasets.
type SourceConfig struct {
	Files    []string `yaml:"files"` // Paths or glob patterns.
	VarNames []string `yaml:"var_names"`
	LatVar   string   `yaml:"lat_var"`
	LonVar   string   `yaml:"lon_var"`
	TimeVar  string   `yaml:"time_var"`
	// Resolution, when positive, builds box cells of this size in degrees.
	Resolution float64 `yaml:"resolution"`
	// Shapefile optionally supplies polygons for irregular sources.
	Shapefile        string `yaml:"shapefile"`
	ShapefileIDField string `yaml:"shapefile_id_field"`
	CheckConsistency bool   `yaml:"check_consistency"`
}

// TargetConfig describes the target polygons.
type TargetConfig struct {
	Shapefile  string   `yaml:"shapefile"`
	IDField    string   `yaml:"id_field"`
	Attributes []string `yaml:"attributes"`
}

// OutputConfig describes the remapped output files. VarNames, Formats and
// FillValues are parallel to SourceConfig.VarNames.
type OutputConfig struct {
	VarNames    []string  `yaml:"var_names"`
	Formats     []string  `yaml:"formats"`
	FillValues  []float64 `yaml:"fill_values"`
	Compression int       `yaml:"compression"`
	License     string    `yaml:"license"`
	Rescale     bool      `yaml:"rescale"`
	// RemapTable reuses an existing table instead of building one.
	RemapTable string `yaml:"remap_table"`
}

// GeometryConfig holds geometric tolerances and the outside-shape policy.
type GeometryConfig struct {
	Tolerance          float64 `yaml:"tolerance"`
	NudgeDistance      float64 `yaml:"nudge_distance"`
	VoronoiMargin      float64 `yaml:"voronoi_margin"`
	AreaTolerance      float64 `yaml:"area_tolerance"`
	SkipOutsideShape   bool    `yaml:"skip_outside_shape"`
	FailOnOutsideShape bool    `yaml:"fail_on_outside_shape"`
}

// RunConfig controls parallelism.
type RunConfig struct {
	Workers int `yaml:"workers"` // 0 means one per core.
}

// LogConfig controls the logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// HTTPConfig controls the inspection server.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Defaults.
const (
	DefaultFormat    = "f4"
	DefaultFillValue = -9999.0
	DefaultTolerance = 1e-5
)

// Default returns the configuration used for unset values.
func Default() Config {
	return Config{
		OutputDir: "output",
		Source: SourceConfig{
			LatVar:  "lat",
			LonVar:  "lon",
			TimeVar: "time",
		},
		Output: OutputConfig{
			Rescale: true,
		},
		Geometry: GeometryConfig{
			Tolerance:     DefaultTolerance,
			NudgeDistance: 2 * DefaultTolerance,
			VoronoiMargin: 2,
			AreaTolerance: 1e-9,
		},
		Log:  LogConfig{Level: "info", Format: "json"},
		HTTP: HTTPConfig{Addr: ":8080"},
	}
}

// Load reads path (if non-empty), applies REMAP_* environment overrides,
// fills derived defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		//nolint:gosec // G304: Config path is supplied by the operator.
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: failed to parse %s: %v", domain.ErrConfiguration, path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	cfg.fillDerived()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	str := map[string]*string{
		"REMAP_CASE_NAME":   &cfg.CaseName,
		"REMAP_OUTPUT_DIR":  &cfg.OutputDir,
		"REMAP_TABLE_DIR":   &cfg.TableDir,
		"REMAP_REMAP_TABLE": &cfg.Output.RemapTable,
		"REMAP_TARGET_SHP":  &cfg.Target.Shapefile,
		"REMAP_LICENSE":     &cfg.Output.License,
		"REMAP_LOG_LEVEL":   &cfg.Log.Level,
		"REMAP_LOG_FORMAT":  &cfg.Log.Format,
		"REMAP_HTTP_ADDR":   &cfg.HTTP.Addr,
	}
	for name, dst := range str {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("REMAP_SOURCE_FILES"); v != "" {
		cfg.Source.Files = splitList(v)
	}
	if v := os.Getenv("REMAP_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: invalid REMAP_WORKERS %q", domain.ErrConfiguration, v)
		}
		cfg.Run.Workers = n
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// fillDerived defaults the output lists from the source variables.
func (c *Config) fillDerived() {
	n := len(c.Source.VarNames)
	if len(c.Output.VarNames) == 0 {
		c.Output.VarNames = append([]string{}, c.Source.VarNames...)
	}
	if len(c.Output.Formats) == 0 {
		c.Output.Formats = repeat(DefaultFormat, n)
	}
	if len(c.Output.FillValues) == 0 {
		c.Output.FillValues = repeat(DefaultFillValue, n)
	}
	if c.TableDir == "" {
		c.TableDir = c.OutputDir
	}
	if c.Output.Compression < 1 || c.Output.Compression > 9 {
		c.Output.Compression = 0
	}
}

func repeat[T any](v T, n int) []T {
	out := make([]T, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// Validate checks the configuration. Every failure is ErrConfiguration.
func (c Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.CaseName == "" {
		add("case_name is required")
	} else if strings.ContainsAny(c.CaseName, `/\`) {
		add("case_name %q must not contain path separators", c.CaseName)
	}
	if len(c.Source.Files) == 0 {
		add("source.files is required")
	}
	if len(c.Source.VarNames) == 0 {
		add("source.var_names is required")
	}
	if c.Source.LatVar == "" || c.Source.LonVar == "" || c.Source.TimeVar == "" {
		add("source lat_var, lon_var and time_var are required")
	}
	if c.Source.Resolution < 0 {
		add("source.resolution must not be negative")
	}
	if c.Target.Shapefile == "" {
		add("target.shapefile is required")
	}

	n := len(c.Source.VarNames)
	if len(c.Output.VarNames) != n {
		add("output.var_names has %d entries, source.var_names has %d", len(c.Output.VarNames), n)
	}
	if len(c.Output.Formats) != n {
		add("output.formats has %d entries, source.var_names has %d", len(c.Output.Formats), n)
	}
	if len(c.Output.FillValues) != n {
		add("output.fill_values has %d entries, source.var_names has %d", len(c.Output.FillValues), n)
	}
	for _, f := range c.Output.Formats {
		switch f {
		case "f4", "f8", "i4":
		default:
			add("output format %q is not one of f4, f8, i4", f)
		}
	}
	seen := make(map[string]bool, len(c.Output.VarNames))
	for _, name := range c.Output.VarNames {
		if seen[name] {
			add("output variable %q is not unique", name)
		}
		seen[name] = true
	}

	if c.Geometry.Tolerance <= 0 {
		add("geometry.tolerance must be positive")
	}
	if c.Geometry.NudgeDistance < 0 || c.Geometry.AreaTolerance < 0 || c.Geometry.VoronoiMargin < 0 {
		add("geometry distances must not be negative")
	}
	if c.Run.Workers < 0 {
		add("run.workers must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// SourcePaths expands the source patterns into a sorted, de-duplicated list.
func (c Config) SourcePaths() ([]string, error) {
	seen := make(map[string]bool)
	var paths []string
	for _, pattern := range c.Source.Files {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: bad source pattern %q: %v", domain.ErrConfiguration, pattern, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				paths = append(paths, m)
			}
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no source files match %v", domain.ErrConfiguration, c.Source.Files)
	}
	sort.Strings(paths)
	return paths, nil
}

// TablePath returns the CSV remap table path of the case.
func (c Config) TablePath() string {
	if c.Output.RemapTable != "" {
		return c.Output.RemapTable
	}
	return filepath.Join(c.TableDir, c.CaseName+"_remapping.csv")
}

// TableNetCDFPath returns the NetCDF copy of the remap table.
func (c Config) TableNetCDFPath() string {
	return filepath.Join(c.TableDir, c.CaseName+"_remapping.nc")
}

// AttributesPath returns the attribute side table path.
func (c Config) AttributesPath() string {
	return filepath.Join(c.TableDir, c.CaseName+"_attributes.csv")
}

// OutputPath returns <output_dir>/<case>_remapped_<source basename>.
func (c Config) OutputPath(source string) string {
	return filepath.Join(c.OutputDir, c.CaseName+"_remapped_"+filepath.Base(source))
}

// OutputPaths maps sources to output paths. Two sources with the same
// basename would share an output file, which is an ErrConfiguration.
func (c Config) OutputPaths(sources []string) ([]string, error) {
	out := make([]string, len(sources))
	owner := make(map[string]string, len(sources))
	for i, src := range sources {
		out[i] = c.OutputPath(src)
		if prev, ok := owner[out[i]]; ok {
			return nil, fmt.Errorf("%w: %s and %s both map to output %s",
				domain.ErrConfiguration, prev, src, out[i])
		}
		owner[out[i]] = src
	}
	return out, nil
}

// hpcEnv lists scheduler variables that report the allocated core count.
var hpcEnv = []string{"SLURM_CPUS_PER_TASK", "SLURM_NTASKS", "PBS_NP", "NSLOTS", "LSB_DJOB_NUMPROC"}

// HPCCores returns the core count allocated by a batch scheduler, or 0.
func HPCCores() int {
	for _, name := range hpcEnv {
		if n, err := strconv.Atoi(os.Getenv(name)); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

// WorkerCount returns min(cores, limit, files) where limit is the scheduler
// allocation when present and run.workers otherwise.
func (c Config) WorkerCount(files int) int {
	n := runtime.NumCPU()
	limit := c.Run.Workers
	if hpc := HPCCores(); hpc > 0 {
		limit = hpc
	}
	if limit > 0 && limit < n {
		n = limit
	}
	if files < n {
		n = files
	}
	if n < 1 {
		n = 1
	}
	return n
}
