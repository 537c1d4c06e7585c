// Package csv persists remap tables and target attribute tables as CSV.
package csv

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"go.ngs.io/basin-remap/internal/domain"
)

// hashPrefix starts the comment line carrying the table content hash.
const hashPrefix = "# remap_table_hash: "

// WriteTable writes the table header and rows, preceded by a hash comment.
func WriteTable(path string, table *domain.RemapTable) error {
	//nolint:gosec // G304: Output path comes from configuration.
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	if err := writeTable(file, table); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return file.Close()
}

func writeTable(w io.Writer, table *domain.RemapTable) error {
	if _, err := fmt.Fprintf(w, "%s%s\n", hashPrefix, table.Hash); err != nil {
		return err
	}
	writer := csv.NewWriter(w)
	if err := writer.Write(domain.TableColumns); err != nil {
		return err
	}
	for _, row := range table.Rows {
		if err := writer.Write(row.Record()); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadTable loads a table written by WriteTable. Columns may appear in any
// order; a missing column or a hash mismatch is ErrTableSchema.
func ReadTable(path string) (*domain.RemapTable, error) {
	//nolint:gosec // G304: Table path comes from configuration.
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open remap table %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	table, err := readTable(file)
	if err != nil {
		return nil, fmt.Errorf("remap table %s: %w", path, err)
	}
	return table, nil
}

func readTable(r io.Reader) (*domain.RemapTable, error) {
	buf := bufio.NewReader(r)

	// Optional hash comment.
	var stored string
	if peek, err := buf.Peek(len(hashPrefix)); err == nil && string(peek) == hashPrefix {
		line, err := buf.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		stored = strings.TrimSpace(strings.TrimPrefix(line, hashPrefix))
	}

	reader := csv.NewReader(buf)
	reader.TrimLeadingSpace = true

	// Read header.
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read CSV header: %v", domain.ErrTableSchema, err)
	}
	index, err := domain.ColumnIndex(header)
	if err != nil {
		return nil, err
	}

	// Read data rows.
	table := &domain.RemapTable{}
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}
		row, err := domain.ParseTableRecord(index, record)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		table.Rows = append(table.Rows, row)
		table.Case = row.Case
	}

	table.Hash = table.ContentHash()
	if stored != "" && stored != table.Hash {
		return nil, fmt.Errorf("%w: stored hash %s does not match content hash %s",
			domain.ErrTableSchema, stored, table.Hash)
	}
	return table, nil
}

// attributeColumns are written before the shape attributes.
var attributeColumns = []string{"target_id", "target_order", "target_lat", "target_lon", "remap_table_hash"}

// WriteAttributes writes one row per target with its order, centroid, the
// table hash and every shapefile attribute, columns sorted by name.
func WriteAttributes(path string, targets []domain.TargetShape, hash string) error {
	keySet := make(map[string]struct{})
	for _, t := range targets {
		for k := range t.Attributes {
			keySet[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	//nolint:gosec // G304: Output path comes from configuration.
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	writer := csv.NewWriter(file)
	header := append(append([]string{}, attributeColumns...), keys...)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, t := range targets {
		record := []string{
			strconv.FormatInt(t.ID, 10),
			strconv.Itoa(t.Order),
			strconv.FormatFloat(t.CentroidLat, 'g', -1, 64),
			strconv.FormatFloat(t.CentroidLon, 'g', -1, 64),
			hash,
		}
		for _, k := range keys {
			record = append(record, t.Attributes[k])
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write target %d: %w", t.ID, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return file.Close()
}

// AttributeRow is one target of an attribute table.
type AttributeRow struct {
	TargetID   int64
	Order      int
	Hash       string
	Attributes map[string]string
}

// ReadAttributes loads an attribute table written by WriteAttributes.
func ReadAttributes(path string) ([]AttributeRow, error) {
	//nolint:gosec // G304: Path comes from configuration.
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", domain.ErrTableSchema, path)
	}
	header := records[0]
	if len(header) < len(attributeColumns) {
		return nil, fmt.Errorf("%w: %s header has %d columns", domain.ErrTableSchema, path, len(header))
	}
	for i, name := range attributeColumns {
		if header[i] != name {
			return nil, fmt.Errorf("%w: expected column %d to be %s, got %s", domain.ErrTableSchema, i, name, header[i])
		}
	}

	rows := make([]AttributeRow, 0, len(records)-1)
	for i, record := range records[1:] {
		id, err := strconv.ParseInt(record[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid target_id %q: %w", i+1, record[0], err)
		}
		order, err := strconv.Atoi(record[1])
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid target_order %q: %w", i+1, record[1], err)
		}
		row := AttributeRow{TargetID: id, Order: order, Hash: record[4], Attributes: map[string]string{}}
		for j := len(attributeColumns); j < len(header); j++ {
			row.Attributes[header[j]] = record[j]
		}
		rows = append(rows, row)
	}
	return rows, nil
}
