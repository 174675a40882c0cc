// Package normalize flattens raw upstream documents into column-complete row
// groups. Every function here is pure.
package normalize

import (
	"fmt"

	"github.com/JakeFAU/realtime-menu-ingest/internal/catalog"
	"github.com/JakeFAU/realtime-menu-ingest/internal/upstream"
)

// orNull substitutes the all-null sentinel for an absent sub-object. Upstream
// sub-objects hold only pointer fields, so the zero value is that sentinel.
func orNull[T any](p *T) T {
	if p == nil {
		var sentinel T
		return sentinel
	}
	return *p
}

// value unwraps an optional field to a driver value, or nil.
func value[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func text(p *upstream.Text) any {
	if p == nil {
		return nil
	}
	return p.String()
}

// currency extracts the (code, fractional, formatted, presentational) tuple.
func currency(c *upstream.Currency) []any {
	v := orNull(c)
	return []any{value(v.Code), value(v.Fractional), value(v.Formatted), value(v.Presentational)}
}

func malformed(unit catalog.PendingUnit, format string, args ...any) error {
	return fmt.Errorf("normalize %s %s: %s: %w", unit.Kind, unit.ID, fmt.Sprintf(format, args...), catalog.ErrInvalidResponse)
}

func row(parts ...[]any) []any {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]any, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func finish(batch catalog.NormalizedBatch) (catalog.NormalizedBatch, error) {
	if err := batch.Validate(); err != nil {
		return catalog.NormalizedBatch{}, fmt.Errorf("normalize %s %s: %w: %w", batch.Unit.Kind, batch.Unit.ID, catalog.ErrInvalidResponse, err)
	}
	return batch, nil
}
