package observer

import (
	"context"
	"database/sql"
	"fmt"
	"os"
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

const decimalColumn = "DECIMAL(38, 12)"

// FillFilter narrows a fill query. Zero values match everything.
type FillFilter struct {
	InstrumentID string
	Side         types.Side
	Start        optional.Option[time.Time]
	End          optional.Option[time.Time]
	Limit        uint64
}

type EquityPoint struct {
	Step   int             `yaml:"step" json:"step"`
	Time   time.Time       `yaml:"time" json:"time"`
	Cash   decimal.Decimal `yaml:"cash" json:"cash"`
	Equity decimal.Decimal `yaml:"equity" json:"equity"`
}

// InstrumentSummary aggregates the fills of one instrument.
type InstrumentSummary struct {
	InstrumentID string          `yaml:"instrument_id" json:"instrument_id"`
	Fills        int             `yaml:"fills" json:"fills"`
	Volume       decimal.Decimal `yaml:"volume" json:"volume"`
	Notional     decimal.Decimal `yaml:"notional" json:"notional"`
	Fees         decimal.Decimal `yaml:"fees" json:"fees"`
	RealizedPnL  decimal.Decimal `yaml:"realized_pnl" json:"realized_pnl"`
}

// DuckDBJournal records fills, order transitions and the equity curve in
// an in-memory DuckDB database and answers queries over them.
type DuckDBJournal struct {
	db     *sql.DB
	sq     squirrel.StatementBuilderType
	logger *logger.Logger
}

func NewDuckDBJournal(log *logger.Logger) (*DuckDBJournal, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDataSourceUnavailable, "failed to open journal database", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()

		return nil, errors.Wrap(errors.ErrCodeDataSourceUnavailable, "failed to connect to journal database", err)
	}

	journal := &DuckDBJournal{
		db:     db,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		logger: log.Named("duckdb_journal"),
	}

	if err := journal.initialize(); err != nil {
		_ = db.Close()

		return nil, err
	}

	return journal, nil
}

func (j *DuckDBJournal) initialize() error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS fills (
			step INTEGER,
			time TIMESTAMP,
			order_id VARCHAR,
			instrument_id VARCHAR,
			side VARCHAR,
			size %[1]s,
			price %[1]s,
			fee %[1]s,
			realized_pnl %[1]s
		)`, decimalColumn),
		`CREATE TABLE IF NOT EXISTS order_updates (
			step INTEGER,
			time TIMESTAMP,
			order_id VARCHAR,
			instrument_id VARCHAR,
			from_status VARCHAR,
			status VARCHAR,
			reason VARCHAR,
			message VARCHAR
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS equity (
			step INTEGER,
			time TIMESTAMP,
			cash %[1]s,
			equity %[1]s
		)`, decimalColumn),
	}

	for _, statement := range statements {
		if _, err := j.db.Exec(statement); err != nil {
			return errors.Wrap(errors.ErrCodeQueryFailed, "failed to create journal tables", err)
		}
	}

	return nil
}

func asDecimal(value decimal.Decimal) squirrel.Sqlizer {
	return squirrel.Expr("CAST(? AS "+decimalColumn+")", value.String())
}

// Observe writes one report in a single transaction.
func (j *DuckDBJournal) Observe(ctx context.Context, report Report) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to begin journal transaction", err)
	}

	if err := j.write(ctx, tx, report); err != nil {
		_ = tx.Rollback()

		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to commit journal transaction", err)
	}

	return nil
}

func (j *DuckDBJournal) write(ctx context.Context, tx *sql.Tx, report Report) error {
	exec := func(builder squirrel.InsertBuilder) error {
		query, args, err := builder.ToSql()
		if err != nil {
			return errors.Wrap(errors.ErrCodeQueryFailed, "failed to build journal insert", err)
		}

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return errors.Wrap(errors.ErrCodeQueryFailed, "failed to write journal", err)
		}

		return nil
	}

	if len(report.Fills) > 0 {
		insert := j.sq.Insert("fills").
			Columns("step", "time", "order_id", "instrument_id", "side", "size", "price", "fee", "realized_pnl")
		for _, fill := range report.Fills {
			insert = insert.Values(report.Step, fill.Time.UTC(), fill.OrderID, fill.InstrumentID, string(fill.Side),
				asDecimal(fill.Size), asDecimal(fill.Price), asDecimal(fill.Fee), asDecimal(fill.RealizedPnL))
		}

		if err := exec(insert); err != nil {
			return err
		}
	}

	if len(report.Updates) > 0 {
		insert := j.sq.Insert("order_updates").
			Columns("step", "time", "order_id", "instrument_id", "from_status", "status", "reason", "message")
		for _, update := range report.Updates {
			insert = insert.Values(report.Step, update.Time.UTC(), update.OrderID, update.InstrumentID,
				string(update.From), string(update.Status), update.Reason.Reason, update.Reason.Message)
		}

		if err := exec(insert); err != nil {
			return err
		}
	}

	cash := report.Account.Cash.Get(report.Account.BaseCurrency)

	return exec(j.sq.Insert("equity").
		Columns("step", "time", "cash", "equity").
		Values(report.Step, report.Time.UTC(), asDecimal(cash), asDecimal(report.Equity)))
}

// Fills returns journaled fills in execution order.
func (j *DuckDBJournal) Fills(ctx context.Context, filter FillFilter) ([]types.Fill, error) {
	builder := j.sq.Select(
		"time", "order_id", "instrument_id", "side",
		"CAST(size AS VARCHAR)", "CAST(price AS VARCHAR)", "CAST(fee AS VARCHAR)", "CAST(realized_pnl AS VARCHAR)",
	).From("fills").OrderBy("step ASC", "time ASC")

	if filter.InstrumentID != "" {
		builder = builder.Where(squirrel.Eq{"instrument_id": filter.InstrumentID})
	}

	if filter.Side != "" {
		builder = builder.Where(squirrel.Eq{"side": string(filter.Side)})
	}

	if filter.Start.IsSome() {
		builder = builder.Where(squirrel.GtOrEq{"time": filter.Start.Unwrap().UTC()})
	}

	if filter.End.IsSome() {
		builder = builder.Where(squirrel.LtOrEq{"time": filter.End.Unwrap().UTC()})
	}

	if filter.Limit > 0 {
		builder = builder.Limit(filter.Limit)
	}

	rows, err := j.query(ctx, builder)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fills := make([]types.Fill, 0)

	for rows.Next() {
		var (
			fill                       types.Fill
			side                       string
			size, price, fee, realized string
		)

		if err := rows.Scan(&fill.Time, &fill.OrderID, &fill.InstrumentID, &side, &size, &price, &fee, &realized); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan fill", err)
		}

		fill.Time = fill.Time.UTC()
		fill.Side = types.Side(side)

		values, err := parseDecimals(size, price, fee, realized)
		if err != nil {
			return nil, err
		}

		fill.Size, fill.Price, fill.Fee, fill.RealizedPnL = values[0], values[1], values[2], values[3]
		fills = append(fills, fill)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to read fills", err)
	}

	return fills, nil
}

// OrderHistory returns every recorded transition of one order.
func (j *DuckDBJournal) OrderHistory(ctx context.Context, orderID string) ([]types.OrderUpdate, error) {
	rows, err := j.query(ctx, j.sq.
		Select("time", "order_id", "instrument_id", "from_status", "status", "reason", "message").
		From("order_updates").
		Where(squirrel.Eq{"order_id": orderID}).
		OrderBy("step ASC"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	updates := make([]types.OrderUpdate, 0)

	for rows.Next() {
		var (
			update       types.OrderUpdate
			from, status string
		)

		err := rows.Scan(&update.Time, &update.OrderID, &update.InstrumentID, &from, &status,
			&update.Reason.Reason, &update.Reason.Message)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan order update", err)
		}

		update.Time = update.Time.UTC()
		update.From = types.OrderStatus(from)
		update.Status = types.OrderStatus(status)
		updates = append(updates, update)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to read order updates", err)
	}

	return updates, nil
}

func (j *DuckDBJournal) EquityCurve(ctx context.Context) ([]EquityPoint, error) {
	rows, err := j.query(ctx, j.sq.
		Select("step", "time", "CAST(cash AS VARCHAR)", "CAST(equity AS VARCHAR)").
		From("equity").
		OrderBy("step ASC"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := make([]EquityPoint, 0)

	for rows.Next() {
		var (
			point        EquityPoint
			cash, equity string
		)

		if err := rows.Scan(&point.Step, &point.Time, &cash, &equity); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan equity point", err)
		}

		values, err := parseDecimals(cash, equity)
		if err != nil {
			return nil, err
		}

		point.Time = point.Time.UTC()
		point.Cash, point.Equity = values[0], values[1]
		points = append(points, point)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to read equity curve", err)
	}

	return points, nil
}

// Summary aggregates fills per instrument, sorted by instrument id.
func (j *DuckDBJournal) Summary(ctx context.Context) ([]InstrumentSummary, error) {
	rows, err := j.query(ctx, j.sq.
		Select(
			"instrument_id",
			"COUNT(*)",
			"CAST(SUM(size) AS VARCHAR)",
			"CAST(SUM(size * price) AS VARCHAR)",
			"CAST(SUM(fee) AS VARCHAR)",
			"CAST(SUM(realized_pnl) AS VARCHAR)",
		).
		From("fills").
		GroupBy("instrument_id").
		OrderBy("instrument_id ASC"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]InstrumentSummary, 0)

	for rows.Next() {
		var (
			summary                          InstrumentSummary
			volume, notional, fees, realized string
		)

		if err := rows.Scan(&summary.InstrumentID, &summary.Fills, &volume, &notional, &fees, &realized); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan summary", err)
		}

		values, err := parseDecimals(volume, notional, fees, realized)
		if err != nil {
			return nil, err
		}

		summary.Volume, summary.Notional, summary.Fees, summary.RealizedPnL = values[0], values[1], values[2], values[3]
		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to read summary", err)
	}

	return summaries, nil
}

// Export writes every journal table to a parquet file in dir.
func (j *DuckDBJournal) Export(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(errors.ErrCodeCallbackFailed, "failed to create export directory", err)
	}

	for _, table := range []string{"fills", "order_updates", "equity"} {
		path := filepath.Join(dir, table+".parquet")

		// COPY does not take bound parameters
		statement := fmt.Sprintf(`COPY %s TO '%s' (FORMAT PARQUET)`, table, strings.ReplaceAll(path, "'", "''"))
		if _, err := j.db.ExecContext(ctx, statement); err != nil {
			return errors.Wrapf(errors.ErrCodeQueryFailed, err, "failed to export %s", table)
		}
	}

	j.logger.Info("Journal exported", zap.String("dir", dir))

	return nil
}

func (j *DuckDBJournal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}

	return j.db.Close()
}

func (j *DuckDBJournal) query(ctx context.Context, builder squirrel.SelectBuilder) (*sql.Rows, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build journal query", err)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query journal", err)
	}

	return rows, nil
}

func parseDecimals(fields ...string) ([]decimal.Decimal, error) {
	values := make([]decimal.Decimal, len(fields))

	for i, field := range fields {
		value, err := decimal.NewFromString(field)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrCodeQueryFailed, err, "invalid decimal %q in journal", field)
		}

		values[i] = value
	}

	return values, nil
}
