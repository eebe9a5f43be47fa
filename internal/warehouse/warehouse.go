// Package warehouse is the Postgres-backed relational store the ETL
// jobs reconcile into.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/salasdw/peoplesync/internal/etl"
)

// Store wraps the warehouse connection pool.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open connects to the warehouse and verifies the connection.
func Open(ctx context.Context, dsn string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open warehouse: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping warehouse: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// WithinTx runs fn inside one transaction, rolling back on error.
func (s *Store) WithinTx(ctx context.Context, fn func(etl.Conn) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&txConn{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Error("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ReadTable reads a whole table outside a transaction.
func (s *Store) ReadTable(ctx context.Context, schema, name string) (*etl.Table, error) {
	query := fmt.Sprintf("SELECT * FROM %s.%s",
		pq.QuoteIdentifier(schema), pq.QuoteIdentifier(name))
	return s.Select(ctx, query)
}

// Select runs an arbitrary query and materializes the result set.
func (s *Store) Select(ctx context.Context, query string, args ...any) (*etl.Table, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// txConn implements etl.Conn on a live transaction.
type txConn struct {
	tx *sql.Tx
}

func (c *txConn) TableExists(ctx context.Context, schema, name string) (bool, error) {
	const q = `SELECT EXISTS (
		SELECT 1 FROM information_schema.tables
		WHERE table_schema = $1 AND table_name = $2)`
	var exists bool
	if err := c.tx.QueryRowContext(ctx, q, schema, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("table exists: %w", err)
	}
	return exists, nil
}

func (c *txConn) ReadTable(ctx context.Context, schema, name string) (*etl.Table, error) {
	query := fmt.Sprintf("SELECT * FROM %s.%s",
		pq.QuoteIdentifier(schema), pq.QuoteIdentifier(name))
	rows, err := c.tx.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("read table: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func (c *txConn) CreateTable(ctx context.Context, schema, name string, t *etl.Table) error {
	defs := make([]string, 0, len(t.Cols))
	for _, col := range t.Cols {
		defs = append(defs, pq.QuoteIdentifier(col)+" "+columnType(t, col))
	}
	ddl := fmt.Sprintf("CREATE TABLE %s.%s (%s)",
		pq.QuoteIdentifier(schema), pq.QuoteIdentifier(name), strings.Join(defs, ", "))
	if _, err := c.tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// insertBatch caps the multi-row VALUES size so the parameter count
// stays under the postgres wire limit of 65535.
const insertBatch = 500

func (c *txConn) InsertRows(ctx context.Context, schema, name string, cols []string, rows []etl.Row) error {
	if len(rows) == 0 {
		return nil
	}
	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = pq.QuoteIdentifier(col)
	}
	prefix := fmt.Sprintf("INSERT INTO %s.%s (%s) VALUES ",
		pq.QuoteIdentifier(schema), pq.QuoteIdentifier(name), strings.Join(quoted, ", "))

	for start := 0; start < len(rows); start += insertBatch {
		end := start + insertBatch
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		placeholders := make([]string, len(batch))
		args := make([]any, 0, len(batch)*len(cols))
		n := 1
		for i, row := range batch {
			ph := make([]string, len(cols))
			for j, col := range cols {
				ph[j] = fmt.Sprintf("$%d", n)
				args = append(args, row[col])
				n++
			}
			placeholders[i] = "(" + strings.Join(ph, ", ") + ")"
		}

		if _, err := c.tx.ExecContext(ctx, prefix+strings.Join(placeholders, ", "), args...); err != nil {
			return fmt.Errorf("insert rows: %w", err)
		}
	}
	return nil
}

func (c *txConn) UpdateRow(ctx context.Context, schema, name string, keys, cols []string, row etl.Row) error {
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+len(keys))
	n := 1
	for i, col := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(col), n)
		args = append(args, row[col])
		n++
	}
	wheres := make([]string, len(keys))
	for i, key := range keys {
		wheres[i] = fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(key), n)
		args = append(args, row[key])
		n++
	}
	query := fmt.Sprintf("UPDATE %s.%s SET %s WHERE %s",
		pq.QuoteIdentifier(schema), pq.QuoteIdentifier(name),
		strings.Join(sets, ", "), strings.Join(wheres, " AND "))
	if _, err := c.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update row: %w", err)
	}
	return nil
}

// scanRows materializes a result set into a Table, normalizing []byte
// to string so values compare cleanly against computed rows.
func scanRows(rows *sql.Rows) (*etl.Table, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	t := etl.NewTable(cols...)

	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		row := make(etl.Row, len(cols))
		for i, col := range cols {
			switch v := values[i].(type) {
			case []byte:
				row[col] = string(v)
			default:
				row[col] = v
			}
		}
		t.Append(row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return t, nil
}

// columnType infers the column DDL type from the first non-nil value.
func columnType(t *etl.Table, col string) string {
	for _, row := range t.Rows {
		switch row[col].(type) {
		case nil:
			continue
		case time.Time:
			return "TIMESTAMPTZ"
		case int, int32, int64:
			return "BIGINT"
		case float32, float64:
			return "DOUBLE PRECISION"
		case bool:
			return "BOOLEAN"
		default:
			return "TEXT"
		}
	}
	return "TEXT"
}
