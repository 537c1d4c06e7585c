package domain

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"gonum.org/v1/gonum/floats"
)

// TableColumns is the exact, ordered column set of a persisted remap table.
var TableColumns = []string{
	"target_id",
	"target_lat",
	"target_lon",
	"target_order",
	"source_id",
	"source_lat",
	"source_lon",
	"weight",
	"row",
	"col",
	"topology_case",
}

// ConservationTolerance is the allowed deviation of per-target weight sums from 1.
const ConservationTolerance = 1e-6

// TableRow is one (target, source) pair of a remap table.
type TableRow struct {
	TargetID    int64
	TargetLat   float64
	TargetLon   float64
	TargetOrder int
	SourceID    int64
	SourceLat   float64
	SourceLon   float64
	Weight      float64
	Row         int
	Col         int
	Case        Topology
}

// IsPlaceholder reports whether the row stands in for a target with no sources.
func (r TableRow) IsPlaceholder() bool {
	return r.SourceID == NoSource
}

// Record formats the row in TableColumns order. Floats use the shortest
// representation that round-trips exactly.
func (r TableRow) Record() []string {
	return []string{
		strconv.FormatInt(r.TargetID, 10),
		formatFloat(r.TargetLat),
		formatFloat(r.TargetLon),
		strconv.Itoa(r.TargetOrder),
		strconv.FormatInt(r.SourceID, 10),
		formatFloat(r.SourceLat),
		formatFloat(r.SourceLon),
		formatFloat(r.Weight),
		strconv.Itoa(r.Row),
		strconv.Itoa(r.Col),
		strconv.Itoa(int(r.Case)),
	}
}

// ParseTableRecord parses one record whose columns are located by index.
func ParseTableRecord(index map[string]int, record []string) (TableRow, error) {
	get := func(col string) (string, error) {
		i, ok := index[col]
		if !ok {
			return "", fmt.Errorf("%w: missing column %s", ErrTableSchema, col)
		}
		if i >= len(record) {
			return "", fmt.Errorf("%w: record has %d fields, column %s is at %d", ErrTableSchema, len(record), col, i)
		}
		return record[i], nil
	}

	var (
		row  TableRow
		errs []error
	)
	parseInt := func(col string) int64 {
		s, err := get(col)
		if err != nil {
			errs = append(errs, err)
			return 0
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: column %s: %v", ErrTableSchema, col, err))
		}
		return v
	}
	parseFloat := func(col string) float64 {
		s, err := get(col)
		if err != nil {
			errs = append(errs, err)
			return 0
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: column %s: %v", ErrTableSchema, col, err))
		}
		return v
	}

	row.TargetID = parseInt("target_id")
	row.TargetLat = parseFloat("target_lat")
	row.TargetLon = parseFloat("target_lon")
	row.TargetOrder = int(parseInt("target_order"))
	row.SourceID = parseInt("source_id")
	row.SourceLat = parseFloat("source_lat")
	row.SourceLon = parseFloat("source_lon")
	row.Weight = parseFloat("weight")
	row.Row = int(parseInt("row"))
	row.Col = int(parseInt("col"))
	row.Case = Topology(parseInt("topology_case"))

	if len(errs) > 0 {
		return TableRow{}, errs[0]
	}
	return row, nil
}

// ColumnIndex maps header names to positions and fails on any missing column.
func ColumnIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[h] = i
	}
	for _, col := range TableColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("%w: missing column %s", ErrTableSchema, col)
		}
	}
	return index, nil
}

// RemapTable is the persisted, read-only result of the overlay.
type RemapTable struct {
	Case Topology
	Rows []TableRow
	Hash string
}

// TableSummary describes a remap table.
type TableSummary struct {
	Case      string `json:"topology_case"`
	Rows      int    `json:"rows"`
	Targets   int    `json:"targets"`
	Uncovered int    `json:"uncovered_targets"`
	Hash      string `json:"hash"`
}

// NewRemapTable assembles table rows from overlay output. Rows are ordered by
// target order, then source id. Orders listed in uncovered get placeholder rows
// when carryUncovered is true.
func NewRemapTable(topology Topology, targets []TargetShape, units []SourceUnit,
	records []IntersectionRecord, uncovered []int, carryUncovered bool,
) (*RemapTable, error) {
	targetByOrder := make(map[int]TargetShape, len(targets))
	for _, t := range targets {
		targetByOrder[t.Order] = t
	}
	unitByID := make(map[int64]SourceUnit, len(units))
	for _, u := range units {
		unitByID[u.ID] = u
	}

	rows := make([]TableRow, 0, len(records)+len(uncovered))
	for _, rec := range records {
		t, ok := targetByOrder[rec.TargetOrder]
		if !ok {
			return nil, fmt.Errorf("intersection references unknown target order %d", rec.TargetOrder)
		}
		u, ok := unitByID[rec.SourceID]
		if !ok {
			return nil, fmt.Errorf("intersection references unknown source id %d", rec.SourceID)
		}
		rows = append(rows, TableRow{
			TargetID:    t.ID,
			TargetLat:   t.CentroidLat,
			TargetLon:   t.CentroidLon,
			TargetOrder: t.Order,
			SourceID:    u.ID,
			SourceLat:   u.CentroidLat,
			SourceLon:   u.CentroidLon,
			Weight:      rec.Weight,
			Row:         u.Row,
			Col:         u.Col,
			Case:        topology,
		})
	}

	if carryUncovered {
		for _, order := range uncovered {
			t, ok := targetByOrder[order]
			if !ok {
				return nil, fmt.Errorf("uncovered target order %d is unknown", order)
			}
			rows = append(rows, TableRow{
				TargetID:    t.ID,
				TargetLat:   t.CentroidLat,
				TargetLon:   t.CentroidLon,
				TargetOrder: t.Order,
				SourceID:    NoSource,
				SourceLat:   math.NaN(),
				SourceLon:   math.NaN(),
				Weight:      math.NaN(),
				Row:         -1,
				Col:         -1,
				Case:        topology,
			})
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].TargetOrder != rows[j].TargetOrder {
			return rows[i].TargetOrder < rows[j].TargetOrder
		}
		return rows[i].SourceID < rows[j].SourceID
	})

	table := &RemapTable{Case: topology, Rows: rows}
	table.Hash = table.ContentHash()
	return table, nil
}

// ContentHash returns the hex xxhash64 of the canonical row encoding.
func (t *RemapTable) ContentHash() string {
	d := xxhash.New()
	for _, row := range t.Rows {
		for i, field := range row.Record() {
			if i > 0 {
				_, _ = d.WriteString(",")
			}
			_, _ = d.WriteString(field)
		}
		_, _ = d.WriteString("\n")
	}
	return fmt.Sprintf("%016x", d.Sum64())
}

// Validate checks that every row agrees with the expected topology and that
// rows are grouped by target order.
func (t *RemapTable) Validate(expected Topology) error {
	if t.Case != expected {
		return fmt.Errorf("%w: table topology_case is %s, source is %s", ErrTableSchema, t.Case, expected)
	}
	for i, row := range t.Rows {
		if row.Case != t.Case {
			return fmt.Errorf("%w: row %d has topology_case %s, table is %s", ErrTableSchema, i, row.Case, t.Case)
		}
		if i > 0 && row.TargetOrder < t.Rows[i-1].TargetOrder {
			return fmt.Errorf("%w: rows are not ordered by target_order at row %d", ErrTableSchema, i)
		}
	}
	return nil
}

// TargetRef identifies one output target.
type TargetRef struct {
	ID    int64
	Order int
	Lat   float64
	Lon   float64
}

// Targets returns the distinct targets of the table in target order.
func (t *RemapTable) Targets() []TargetRef {
	var refs []TargetRef
	for i, row := range t.Rows {
		if i > 0 && row.TargetOrder == t.Rows[i-1].TargetOrder {
			continue
		}
		refs = append(refs, TargetRef{ID: row.TargetID, Order: row.TargetOrder, Lat: row.TargetLat, Lon: row.TargetLon})
	}
	return refs
}

// RowsForTarget returns the rows that belong to the given target id.
func (t *RemapTable) RowsForTarget(id int64) []TableRow {
	var rows []TableRow
	for _, row := range t.Rows {
		if row.TargetID == id {
			rows = append(rows, row)
		}
	}
	return rows
}

// Summary describes the table.
func (t *RemapTable) Summary() TableSummary {
	s := TableSummary{Case: t.Case.String(), Rows: len(t.Rows), Hash: t.Hash}
	for i, row := range t.Rows {
		if i == 0 || row.TargetOrder != t.Rows[i-1].TargetOrder {
			s.Targets++
		}
		if row.IsPlaceholder() {
			s.Uncovered++
		}
	}
	return s
}

// WeightSums returns the weight sum per target order, skipping placeholders.
func (t *RemapTable) WeightSums() map[int]float64 {
	grouped := make(map[int][]float64)
	for _, row := range t.Rows {
		if row.IsPlaceholder() {
			continue
		}
		grouped[row.TargetOrder] = append(grouped[row.TargetOrder], row.Weight)
	}
	sums := make(map[int]float64, len(grouped))
	for order, w := range grouped {
		sums[order] = floats.Sum(w)
	}
	return sums
}

// CheckConservation verifies that every covered target's weights sum to 1.
func (t *RemapTable) CheckConservation() error {
	for order, sum := range t.WeightSums() {
		if math.Abs(sum-1) > ConservationTolerance {
			return fmt.Errorf("target order %d weights sum to %.9f", order, sum)
		}
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
