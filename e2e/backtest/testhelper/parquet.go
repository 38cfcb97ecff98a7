package testhelper

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/rxtech-lab/argo-engine/internal/types"
)

// WriteBars writes bar events to a parquet file with the column layout the
// DuckDB feed reads: time, symbol, open, high, low, close, volume.
func WriteBars(path string, events []types.MarketEvent) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return fmt.Errorf("failed to open DuckDB connection: %w", err)
	}
	defer db.Close()

	_, err = db.Exec(`
		CREATE TABLE market_data (
			time TIMESTAMP,
			symbol VARCHAR,
			open DECIMAL(18, 6),
			high DECIMAL(18, 6),
			low DECIMAL(18, 6),
			close DECIMAL(18, 6),
			volume DECIMAL(18, 6)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create market data table: %w", err)
	}

	insert := squirrel.Insert("market_data").
		Columns("time", "symbol", "open", "high", "low", "close", "volume").
		PlaceholderFormat(squirrel.Dollar)

	for _, event := range events {
		if event.Kind != types.EventKindBar {
			continue
		}

		insert = insert.Values(event.Time.UTC(), event.InstrumentID,
			event.Open.String(), event.High.String(), event.Low.String(), event.Close.String(), event.Volume.String())
	}

	query, args, err := insert.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}

	if _, err := db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to insert bars: %w", err)
	}

	// COPY does not take bound parameters
	if _, err := db.Exec(fmt.Sprintf(`COPY market_data TO '%s' (FORMAT PARQUET);`,
		strings.ReplaceAll(path, "'", "''"))); err != nil {
		return fmt.Errorf("failed to export to Parquet: %w", err)
	}

	return nil
}

// CountRows returns the number of rows in a parquet file.
func CountRows(path string) (int, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return 0, fmt.Errorf("failed to open DuckDB connection: %w", err)
	}
	defer db.Close()

	var count int

	row := db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM read_parquet('%s');`, strings.ReplaceAll(path, "'", "''")))
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rows of %s: %w", path, err)
	}

	return count, nil
}
