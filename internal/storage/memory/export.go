package memory

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"time"
)

// Ping always succeeds.
func (s *CatalogStore) Ping(context.Context) error {
	return nil
}

// CopyTable writes a table as CSV with a header of its sorted column names.
// Unknown tables produce only an empty header line.
func (s *CatalogStore) CopyTable(_ context.Context, name string, w io.Writer) (int64, error) {
	rows := s.Rows(name)
	colSet := make(map[string]struct{})
	for _, r := range rows {
		for c := range r {
			colSet[c] = struct{}{}
		}
	}
	cols := make([]string, 0, len(colSet))
	for c := range colSet {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return 0, fmt.Errorf("write header of %s: %w", name, err)
	}
	record := make([]string, len(cols))
	for _, r := range rows {
		for i, c := range cols {
			record[i] = csvValue(r[c])
		}
		if err := cw.Write(record); err != nil {
			return 0, fmt.Errorf("write row of %s: %w", name, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("flush %s: %w", name, err)
	}
	return int64(len(rows)), nil
}

func csvValue(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}
