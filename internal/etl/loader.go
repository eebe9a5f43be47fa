package etl

import (
	"context"
	"fmt"
	"log/slog"
)

// Conn is one transactional unit of work against the warehouse. The
// real implementation wraps a database transaction; tests use an
// in-memory fake.
type Conn interface {
	TableExists(ctx context.Context, schema, name string) (bool, error)
	ReadTable(ctx context.Context, schema, name string) (*Table, error)
	CreateTable(ctx context.Context, schema, name string, t *Table) error
	InsertRows(ctx context.Context, schema, name string, cols []string, rows []Row) error
	UpdateRow(ctx context.Context, schema, name string, keys, cols []string, row Row) error
}

// Warehouse is what the loader and the jobs need from the relational
// store: transactional reconciliation plus plain reads.
type Warehouse interface {
	WithinTx(ctx context.Context, fn func(Conn) error) error
	ReadTable(ctx context.Context, schema, name string) (*Table, error)
	Select(ctx context.Context, query string, args ...any) (*Table, error)
}

// TableSpec identifies a warehouse target and its business key.
type TableSpec struct {
	Schema string
	Name   string
	// Keys is the business key; composite keys are compared jointly.
	Keys []string
	// InsertOnly tables are append-only mirrors: existing rows are
	// never updated, only unseen keys are inserted.
	InsertOnly bool
}

func (s TableSpec) String() string { return s.Schema + "." + s.Name }

// LoadResult reports what one reconciliation did.
type LoadResult struct {
	Created  bool
	Inserted int
	Updated  int
}

// Load reconciles the computed row set with the warehouse table.
// An absent table is created and bulk-filled. A present table is read
// whole, incoming rows are partitioned by business key, new keys are
// batch-inserted and existing rows receive a parametrized update only
// when a non-key column actually changed (nil and "" compare equal).
// Rows are never deleted. The whole reconciliation runs in a single
// transaction, so a failure leaves the table as it was.
func Load(ctx context.Context, wh Warehouse, spec TableSpec, t *Table, log *slog.Logger) (LoadResult, error) {
	var res LoadResult
	err := wh.WithinTx(ctx, func(conn Conn) error {
		exists, err := conn.TableExists(ctx, spec.Schema, spec.Name)
		if err != nil {
			return fmt.Errorf("check table %s: %w", spec, err)
		}

		if !exists {
			if err := conn.CreateTable(ctx, spec.Schema, spec.Name, t); err != nil {
				return fmt.Errorf("create table %s: %w", spec, err)
			}
			if err := conn.InsertRows(ctx, spec.Schema, spec.Name, t.Cols, t.Rows); err != nil {
				return fmt.Errorf("bulk insert into %s: %w", spec, err)
			}
			res.Created = true
			res.Inserted = t.Len()
			log.Info("table created and filled", "table", spec.String(), "rows", t.Len())
			return nil
		}

		existing, err := conn.ReadTable(ctx, spec.Schema, spec.Name)
		if err != nil {
			return fmt.Errorf("read table %s: %w", spec, err)
		}
		current := make(map[string]Row, existing.Len())
		for _, r := range existing.Rows {
			current[groupKey(r, spec.Keys)] = r
		}

		var fresh []Row
		var changed []Row
		for _, r := range t.Rows {
			stored, ok := current[groupKey(r, spec.Keys)]
			if !ok {
				fresh = append(fresh, r)
				continue
			}
			if !spec.InsertOnly && rowChanged(r, stored, spec.Keys, t.Cols) {
				changed = append(changed, r)
			}
		}

		if len(fresh) > 0 {
			if err := conn.InsertRows(ctx, spec.Schema, spec.Name, t.Cols, fresh); err != nil {
				return fmt.Errorf("insert new rows into %s: %w", spec, err)
			}
			res.Inserted = len(fresh)
		}

		nonKey := nonKeyCols(t.Cols, spec.Keys)
		for _, r := range changed {
			if err := conn.UpdateRow(ctx, spec.Schema, spec.Name, spec.Keys, nonKey, r); err != nil {
				return fmt.Errorf("update row in %s: %w", spec, err)
			}
			res.Updated++
		}

		log.Info("table reconciled", "table", spec.String(),
			"incoming", t.Len(), "inserted", res.Inserted, "updated", res.Updated)
		return nil
	})
	return res, err
}

func rowChanged(incoming, stored Row, keys, cols []string) bool {
	for _, c := range nonKeyCols(cols, keys) {
		if sv, ok := stored[c]; ok && !equalValue(incoming[c], sv) {
			return true
		}
	}
	return false
}

func nonKeyCols(cols, keys []string) []string {
	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[k] = true
	}
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		if !isKey[c] {
			out = append(out, c)
		}
	}
	return out
}
