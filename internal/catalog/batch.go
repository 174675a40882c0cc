package catalog

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// RowGroup is a set of rows for one table. Every row has exactly
// len(Columns) values; absent source values are nil.
type RowGroup struct {
	Table   string
	Columns []string
	Rows    [][]any
}

// NewRowGroup declares a group with a fixed column list.
func NewRowGroup(table string, columns ...string) RowGroup {
	return RowGroup{Table: table, Columns: columns}
}

// Append adds one row. Arity is checked by Validate.
func (g *RowGroup) Append(values ...any) {
	g.Rows = append(g.Rows, values)
}

// Arity is the declared column count.
func (g RowGroup) Arity() int {
	return len(g.Columns)
}

// Validate checks every row against the declared arity.
func (g RowGroup) Validate() error {
	if g.Table == "" {
		return fmt.Errorf("row group without table")
	}
	if len(g.Columns) == 0 {
		return fmt.Errorf("row group %s declares no columns", g.Table)
	}
	for i, row := range g.Rows {
		if len(row) != len(g.Columns) {
			return fmt.Errorf("row group %s row %d: got %d values, want %d", g.Table, i, len(row), len(g.Columns))
		}
	}
	return nil
}

// Chunks splits the rows into slices of at most maxRows rows.
func (g RowGroup) Chunks(maxRows int) [][][]any {
	if len(g.Rows) == 0 {
		return nil
	}
	if maxRows <= 0 || maxRows >= len(g.Rows) {
		return [][][]any{g.Rows}
	}
	chunks := make([][][]any, 0, (len(g.Rows)+maxRows-1)/maxRows)
	for start := 0; start < len(g.Rows); start += maxRows {
		end := min(start+maxRows, len(g.Rows))
		chunks = append(chunks, g.Rows[start:end])
	}
	return chunks
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (g RowGroup) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("table", g.Table)
	enc.AddInt("rows", len(g.Rows))
	if err := enc.AddReflected("columns", g.Columns); err != nil {
		return err
	}
	return enc.AddReflected("values", g.Rows)
}

// PrimaryUpdate sets descriptive columns on an existing primary row.
type PrimaryUpdate struct {
	Table   string
	Key     string
	ID      string
	Columns []string
	Values  []any
}

// Validate checks the column/value pairing.
func (p PrimaryUpdate) Validate() error {
	if p.Table == "" || p.Key == "" || p.ID == "" {
		return fmt.Errorf("primary update requires table, key and id")
	}
	if len(p.Columns) != len(p.Values) {
		return fmt.Errorf("primary update %s: %d columns, %d values", p.Table, len(p.Columns), len(p.Values))
	}
	return nil
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (p PrimaryUpdate) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("table", p.Table)
	enc.AddString("id", p.ID)
	values := make(map[string]any, len(p.Columns))
	for i, col := range p.Columns {
		if i < len(p.Values) {
			values[col] = p.Values[i]
		}
	}
	return enc.AddReflected("values", values)
}

// NormalizedBatch is everything one unit commits in a single transaction.
type NormalizedBatch struct {
	Unit    PendingUnit
	Primary *PrimaryUpdate
	Groups  []RowGroup
}

// Validate checks the primary update and every row group.
func (b NormalizedBatch) Validate() error {
	if b.Unit.ID == "" {
		return fmt.Errorf("batch without unit id")
	}
	if b.Primary != nil {
		if err := b.Primary.Validate(); err != nil {
			return err
		}
	}
	for _, g := range b.Groups {
		if err := g.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Group returns the row group for a table.
func (b NormalizedBatch) Group(table string) (RowGroup, bool) {
	for _, g := range b.Groups {
		if g.Table == table {
			return g, true
		}
	}
	return RowGroup{}, false
}

// RowCount totals the child rows across groups.
func (b NormalizedBatch) RowCount() int {
	n := 0
	for _, g := range b.Groups {
		n += len(g.Rows)
	}
	return n
}

// MarshalLogObject implements zapcore.ObjectMarshaler so a failed batch can be
// logged in full.
func (b NormalizedBatch) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("unit_id", b.Unit.ID)
	enc.AddString("kind", b.Unit.Kind.String())
	if b.Primary != nil {
		if err := enc.AddObject("primary", b.Primary); err != nil {
			return err
		}
	}
	return enc.AddArray("groups", zapcore.ArrayMarshalerFunc(func(arr zapcore.ArrayEncoder) error {
		for _, g := range b.Groups {
			if err := arr.AppendObject(g); err != nil {
				return err
			}
		}
		return nil
	}))
}
