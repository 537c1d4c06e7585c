package csv

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ctessum/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ngs.io/basin-remap/internal/domain"
)

func sampleTable(t *testing.T) (*domain.RemapTable, []domain.TargetShape) {
	t.Helper()
	square := geom.Polygon{{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}}}
	targets := []domain.TargetShape{
		{ID: 10, CentroidLat: 0.5, CentroidLon: 0.5, Geometry: square, Attributes: map[string]string{"name": "upper", "area_km2": "12.5"}},
		{ID: 20, CentroidLat: -3.25, CentroidLon: 100.125, Geometry: square, Attributes: map[string]string{"name": "lower, east"}},
	}
	require.NoError(t, domain.AssignOrders(targets))
	units := []domain.SourceUnit{{ID: 3, CentroidLat: 0.1, CentroidLon: 0.2, Row: 2, Col: 2}}
	records := []domain.IntersectionRecord{{TargetOrder: 1, SourceID: 3, Weight: 1}}
	table, err := domain.NewRemapTable(domain.Irregular, targets, units, records, []int{2}, true)
	require.NoError(t, err)
	return table, targets
}

func TestTable_RoundTrip(t *testing.T) {
	table, _ := sampleTable(t)
	path := filepath.Join(t.TempDir(), "table.csv")
	require.NoError(t, WriteTable(path, table))

	loaded, err := ReadTable(path)
	require.NoError(t, err)
	assert.Equal(t, table.Hash, loaded.Hash)
	assert.Equal(t, domain.Irregular, loaded.Case)
	require.Len(t, loaded.Rows, len(table.Rows))
	for i := range table.Rows {
		assert.Equal(t, table.Rows[i].Record(), loaded.Rows[i].Record())
	}
}

func TestReadTable_ReorderedColumnsWithoutHash(t *testing.T) {
	table, _ := sampleTable(t)
	var buf bytes.Buffer
	require.NoError(t, writeTable(&buf, table))

	// Drop the hash line and move weight to the front.
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")[1:]
	var reordered []string
	for _, line := range lines {
		fields := strings.Split(line, ",")
		w := fields[7]
		rest := append(append([]string{}, fields[:7]...), fields[8:]...)
		reordered = append(reordered, strings.Join(append([]string{w}, rest...), ","))
	}

	loaded, err := readTable(strings.NewReader(strings.Join(reordered, "\n")))
	require.NoError(t, err)
	assert.Equal(t, table.Hash, loaded.Hash)
}

func TestReadTable_Errors(t *testing.T) {
	_, err := readTable(strings.NewReader("target_id,weight\n1,0.5\n"))
	assert.ErrorIs(t, err, domain.ErrTableSchema)

	table, _ := sampleTable(t)
	var buf bytes.Buffer
	require.NoError(t, writeTable(&buf, table))
	tampered := strings.Replace(buf.String(), ",1,", ",0.9,", 1)
	_, err = readTable(strings.NewReader(tampered))
	assert.ErrorIs(t, err, domain.ErrTableSchema)

	_, err = ReadTable(filepath.Join(t.TempDir(), "missing.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestAttributes_RoundTrip(t *testing.T) {
	table, targets := sampleTable(t)
	path := filepath.Join(t.TempDir(), "attrs.csv")
	require.NoError(t, WriteAttributes(path, targets, table.Hash))

	rows, err := ReadAttributes(path)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(20), rows[1].TargetID)
	assert.Equal(t, 2, rows[1].Order)
	assert.Equal(t, table.Hash, rows[1].Hash)
	assert.Equal(t, "lower, east", rows[1].Attributes["name"])
	assert.Equal(t, "", rows[1].Attributes["area_km2"])
	assert.Equal(t, "12.5", rows[0].Attributes["area_km2"])
}
