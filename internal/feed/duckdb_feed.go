package feed

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-engine/internal/logger"
	"github.com/rxtech-lab/argo-engine/internal/types"
	"github.com/rxtech-lab/argo-engine/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DuckDBFeed replays OHLCV bars stored in a parquet or CSV file with the
// columns time, symbol, open, high, low, close and volume. Every call to
// Batches runs a fresh query, so replays are identical.
type DuckDBFeed struct {
	db     *sql.DB
	sq     squirrel.StatementBuilderType
	logger *logger.Logger

	start   optional.Option[time.Time]
	end     optional.Option[time.Time]
	symbols []string
}

type DuckDBOption func(*DuckDBFeed)

// WithRange limits the replay to bars with start <= time <= end.
func WithRange(start, end optional.Option[time.Time]) DuckDBOption {
	return func(f *DuckDBFeed) {
		f.start = start
		f.end = end
	}
}

// WithSymbols limits the replay to the given symbols.
func WithSymbols(symbols ...string) DuckDBOption {
	return func(f *DuckDBFeed) {
		f.symbols = append([]string(nil), symbols...)
	}
}

// NewDuckDBFeed opens an in-memory DuckDB database with a market_data view
// over the file at path.
func NewDuckDBFeed(path string, log *logger.Logger, options ...DuckDBOption) (*DuckDBFeed, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	reader, err := readerFor(path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDataSourceUnavailable, "failed to open duckdb", err)
	}

	// DuckDB cannot bind parameters in CREATE VIEW
	query := fmt.Sprintf(`CREATE VIEW market_data AS SELECT * FROM %s('%s');`,
		reader, strings.ReplaceAll(path, "'", "''"))

	if _, err := db.Exec(query); err != nil {
		_ = db.Close()

		return nil, errors.Wrapf(errors.ErrCodeDataSourceUnavailable, err, "failed to load market data from %s", path)
	}

	feed := &DuckDBFeed{
		db:      db,
		sq:      squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		logger:  log.Named("duckdb_feed"),
		start:   optional.None[time.Time](),
		end:     optional.None[time.Time](),
		symbols: nil,
	}

	for _, option := range options {
		option(feed)
	}

	feed.logger.Debug("Market data loaded", zap.String("path", path), zap.String("reader", reader))

	return feed, nil
}

func readerFor(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		return "read_parquet", nil
	case ".csv":
		return "read_csv_auto", nil
	default:
		return "", errors.Newf(errors.ErrCodeInvalidParameter, "unsupported market data file %s", path)
	}
}

func (f *DuckDBFeed) filter(builder squirrel.SelectBuilder) squirrel.SelectBuilder {
	if f.start.IsSome() {
		builder = builder.Where(squirrel.GtOrEq{"time": f.start.Unwrap()})
	}

	if f.end.IsSome() {
		builder = builder.Where(squirrel.LtOrEq{"time": f.end.Unwrap()})
	}

	if len(f.symbols) > 0 {
		builder = builder.Where(squirrel.Eq{"symbol": f.symbols})
	}

	return builder
}

// Count returns the number of bars the replay will yield.
func (f *DuckDBFeed) Count(ctx context.Context) (int, error) {
	query, args, err := f.filter(f.sq.Select("COUNT(*)").From("market_data")).ToSql()
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build count query", err)
	}

	var count int
	if err := f.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to count market data", err)
	}

	return count, nil
}

func (f *DuckDBFeed) Batches(ctx context.Context) iter.Seq2[types.Batch, error] {
	return Group(f.events(ctx))
}

func (f *DuckDBFeed) events(ctx context.Context) iter.Seq2[types.MarketEvent, error] {
	return func(yield func(types.MarketEvent, error) bool) {
		// prices are read as text so decimals keep the stored digits
		query, args, err := f.filter(f.sq.Select(
			"time", "symbol",
			"CAST(open AS VARCHAR)", "CAST(high AS VARCHAR)", "CAST(low AS VARCHAR)",
			"CAST(close AS VARCHAR)", "CAST(volume AS VARCHAR)",
		).From("market_data")).OrderBy("time ASC", "symbol ASC").ToSql()
		if err != nil {
			yield(types.MarketEvent{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build market data query", err))

			return
		}

		rows, err := f.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(types.MarketEvent{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query market data", err))

			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				timestamp                      time.Time
				symbol                         string
				open, high, low, close, volume string
			)

			if err := rows.Scan(&timestamp, &symbol, &open, &high, &low, &close, &volume); err != nil {
				yield(types.MarketEvent{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan market data", err))

				return
			}

			event, err := parseBar(symbol, timestamp, open, high, low, close, volume)
			if !yield(event, err) || err != nil {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(types.MarketEvent{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to read market data", err))
		}
	}
}

func parseBar(symbol string, timestamp time.Time, fields ...string) (types.MarketEvent, error) {
	values := make([]decimal.Decimal, len(fields))

	for i, field := range fields {
		value, err := decimal.NewFromString(field)
		if err != nil {
			return types.MarketEvent{}, errors.Wrapf(errors.ErrCodeQueryFailed, err,
				"invalid number %q for %s at %s", field, symbol, timestamp)
		}

		values[i] = value
	}

	return types.NewBar(symbol, timestamp.UTC(), values[0], values[1], values[2], values[3], values[4]), nil
}

// Close releases the database.
func (f *DuckDBFeed) Close() error {
	return f.db.Close()
}
