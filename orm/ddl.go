package orm

import (
	"context"
	"strings"
)

// CreateTableSQL renders the CREATE TABLE statement of rt for d. Fields
// are NOT NULL unless nullable; references become FOREIGN KEY clauses.
func CreateTableSQL(d Dialect, rt *RecordType, reg *Registry) string {
	qi := d.QuoteIdent
	lines := make([]string, 0, len(rt.fields))
	for _, f := range rt.fields {
		line := qi(f.name) + " " + d.ColumnType(f.typ, f.primaryKey)
		if !f.primaryKey && !f.nullable {
			line += " NOT NULL"
		}
		if f.unique && !f.primaryKey {
			line += " UNIQUE"
		}
		lines = append(lines, line)
	}
	for _, f := range rt.fields {
		if f.ref == nil {
			continue
		}
		table := f.ref.Type
		if target, ok := reg.Lookup(f.ref.Type); ok {
			table = target.table
		}
		lines = append(lines, "FOREIGN KEY ("+qi(f.name)+") REFERENCES "+qi(table)+" ("+qi(f.ref.Field)+")")
	}
	return "CREATE TABLE IF NOT EXISTS " + qi(rt.table) + " (\n\t" + strings.Join(lines, ",\n\t") + "\n)"
}

// DDL freezes reg and returns the CREATE TABLE statements of every type,
// referenced tables first.
func DDL(d Dialect, reg *Registry) ([]string, error) {
	if err := reg.Freeze(); err != nil {
		return nil, err
	}
	order := reg.FlushOrder()
	out := make([]string, len(order))
	for i, rt := range order {
		out[i] = CreateTableSQL(d, rt, reg)
	}
	return out, nil
}

// CreateAll creates the tables of reg in one transaction.
func CreateAll(ctx context.Context, db *DB, reg *Registry) error {
	stmts, err := DDL(db.Dialect(), reg)
	if err != nil {
		return err
	}
	return db.Transaction(ctx, func(tx *Tx) error {
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return classify("create", "", err)
			}
		}
		return nil
	})
}
