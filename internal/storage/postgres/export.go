package postgres

import (
	"context"
	"fmt"
	"io"
	"regexp"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/realtime-menu-ingest/internal/normalize"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ExportTables lists the catalog tables in dependency order.
var ExportTables = []string{
	normalize.TableLocations,
	normalize.TableRestaurants,
	normalize.TableItems,
	normalize.TableCategories,
	normalize.TableItemsToCategories,
	normalize.TableModifierGroups,
	normalize.TableModifierOptions,
	normalize.TableItemsToModifierGroups,
	normalize.TableLocationsToRestaurants,
	normalize.TableRestaurantsToCategories,
}

// CopyTable streams a table to w as CSV with a header row and returns the
// number of rows written.
func (s *Store) CopyTable(ctx context.Context, table string, w io.Writer) (int64, error) {
	if !validTableName.MatchString(table) {
		return 0, fmt.Errorf("invalid table name %q", table)
	}
	sql := fmt.Sprintf("COPY %s TO STDOUT WITH (FORMAT csv, HEADER true)", pgx.Identifier{table}.Sanitize())
	n, err := s.copyTo(ctx, w, sql)
	if err != nil {
		return n, fmt.Errorf("copy %s: %w", table, err)
	}
	return n, nil
}
