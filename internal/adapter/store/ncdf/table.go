package ncdf

import (
	"fmt"

	"github.com/fhs/go-netcdf/netcdf"

	"go.ngs.io/basin-remap/internal/domain"
)

// WriteTable persists a remap table with one variable per column over
// dimension n. The content hash is stored as global attribute remap_table_hash.
func WriteTable(path string, table *domain.RemapTable) error {
	nc, err := netcdf.CreateFile(path, netcdf.CLOBBER|netcdf.NETCDF4)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() { _ = nc.Close() }()

	n := len(table.Rows)
	dim, err := nc.AddDim("n", uint64(n)) //nolint:gosec // G115: Non-negative length.
	if err != nil {
		return err
	}

	types := map[string]netcdf.Type{
		"target_id":     netcdf.INT64,
		"target_lat":    netcdf.DOUBLE,
		"target_lon":    netcdf.DOUBLE,
		"target_order":  netcdf.INT,
		"source_id":     netcdf.INT64,
		"source_lat":    netcdf.DOUBLE,
		"source_lon":    netcdf.DOUBLE,
		"weight":        netcdf.DOUBLE,
		"row":           netcdf.INT,
		"col":           netcdf.INT,
		"topology_case": netcdf.INT,
	}
	vars := make(map[string]netcdf.Var, len(domain.TableColumns))
	for _, name := range domain.TableColumns {
		v, err := nc.AddVar(name, types[name], []netcdf.Dim{dim})
		if err != nil {
			return fmt.Errorf("failed to add %s: %w", name, err)
		}
		vars[name] = v
	}
	if err := writeText(nc.Attr("remap_table_hash"), table.Hash); err != nil {
		return err
	}
	if err := writeText(nc.Attr("topology_case"), table.Case.String()); err != nil {
		return err
	}
	if err := nc.EndDef(); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}

	ints64 := map[string][]int64{"target_id": make([]int64, n), "source_id": make([]int64, n)}
	ints32 := map[string][]int32{
		"target_order": make([]int32, n), "row": make([]int32, n),
		"col": make([]int32, n), "topology_case": make([]int32, n),
	}
	floats := map[string][]float64{
		"target_lat": make([]float64, n), "target_lon": make([]float64, n),
		"source_lat": make([]float64, n), "source_lon": make([]float64, n),
		"weight": make([]float64, n),
	}
	for i, r := range table.Rows {
		ints64["target_id"][i] = r.TargetID
		ints64["source_id"][i] = r.SourceID
		ints32["target_order"][i] = int32(r.TargetOrder) //nolint:gosec // G115: Orders are small.
		ints32["row"][i] = int32(r.Row)                  //nolint:gosec // G115: Grid indices are small.
		ints32["col"][i] = int32(r.Col)                  //nolint:gosec // G115: Grid indices are small.
		ints32["topology_case"][i] = int32(r.Case)       //nolint:gosec // G115: Enum value.
		floats["target_lat"][i] = r.TargetLat
		floats["target_lon"][i] = r.TargetLon
		floats["source_lat"][i] = r.SourceLat
		floats["source_lon"][i] = r.SourceLon
		floats["weight"][i] = r.Weight
	}
	for name, data := range ints64 {
		if err := vars[name].WriteInt64s(data); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	for name, data := range ints32 {
		if err := vars[name].WriteInt32s(data); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	for name, data := range floats {
		if err := vars[name].WriteFloat64s(data); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return nil
}

// ReadTable loads a table written by WriteTable. Missing columns and a stored
// hash that does not match the content are ErrTableSchema.
func ReadTable(path string) (*domain.RemapTable, error) {
	nc, err := netcdf.OpenFile(path, netcdf.NOWRITE)
	if err != nil {
		return nil, fmt.Errorf("failed to open NetCDF file %s: %w", path, err)
	}
	defer func() { _ = nc.Close() }()

	columns := make(map[string][]float64, len(domain.TableColumns))
	var ids map[string][]int64
	n := -1
	for _, name := range domain.TableColumns {
		v, err := nc.Var(name)
		if err != nil {
			return nil, fmt.Errorf("%w: column %s missing from %s", domain.ErrTableSchema, name, path)
		}
		_, shape, err := varShape(v)
		if err != nil {
			return nil, err
		}
		if len(shape) != 1 || (n >= 0 && shape[0] != n) {
			return nil, fmt.Errorf("%w: column %s has shape %v", domain.ErrTableSchema, name, shape)
		}
		n = shape[0]
		if n == 0 {
			continue
		}
		if name == "target_id" || name == "source_id" {
			if ids == nil {
				ids = make(map[string][]int64, 2)
			}
			buf := make([]int64, n)
			if err := v.ReadInt64s(buf); err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", name, err)
			}
			ids[name] = buf
			continue
		}
		if columns[name], err = readAll(v); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
	}

	table := &domain.RemapTable{Rows: make([]domain.TableRow, n)}
	for i := range table.Rows {
		top, err := domain.ParseTopology(int(columns["topology_case"][i]))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		table.Rows[i] = domain.TableRow{
			TargetID:    ids["target_id"][i],
			TargetLat:   columns["target_lat"][i],
			TargetLon:   columns["target_lon"][i],
			TargetOrder: int(columns["target_order"][i]),
			SourceID:    ids["source_id"][i],
			SourceLat:   columns["source_lat"][i],
			SourceLon:   columns["source_lon"][i],
			Weight:      columns["weight"][i],
			Row:         int(columns["row"][i]),
			Col:         int(columns["col"][i]),
			Case:        top,
		}
		table.Case = top
	}

	table.Hash = table.ContentHash()
	if stored := textAttr(nc.Attr("remap_table_hash")); stored != "" && stored != table.Hash {
		return nil, fmt.Errorf("%w: stored hash %s does not match content hash %s",
			domain.ErrTableSchema, stored, table.Hash)
	}
	if table.Case == domain.TopologyUnknown {
		table.Case = parseCaseName(textAttr(nc.Attr("topology_case")))
	}
	return table, nil
}

func parseCaseName(name string) domain.Topology {
	for _, t := range []domain.Topology{domain.Regular, domain.Rotated, domain.Irregular} {
		if t.String() == name {
			return t
		}
	}
	return domain.TopologyUnknown
}
