package echorm

import (
	"context"
	"fmt"
	"strings"

	"echorm/internal/dialect"
)

// CreateAll creates the tables of every registered model on the engine its
// bind key selects. Existing tables are left alone. Types sharing a table
// through embedding are created once.
func (db *DB) CreateAll(ctx context.Context) error {
	for _, group := range db.tablesByBind() {
		eng, err := db.EngineFor(ctx, group.bind)
		if err != nil {
			return err
		}
		for _, info := range group.tables {
			stmt := createTableSQL(eng.Dialect(), info)
			if err := db.execDDL(ctx, eng, stmt); err != nil {
				return fmt.Errorf("echorm: create table %s: %w", info.Name, err)
			}
		}
	}
	return nil
}

// DropAll drops the tables of every registered model.
func (db *DB) DropAll(ctx context.Context) error {
	for _, group := range db.tablesByBind() {
		eng, err := db.EngineFor(ctx, group.bind)
		if err != nil {
			return err
		}
		for _, info := range group.tables {
			d := eng.Dialect()
			stmt := "DROP TABLE IF EXISTS " + d.Quote(info.QualifiedName())
			if err := db.execDDL(ctx, eng, stmt); err != nil {
				return fmt.Errorf("echorm: drop table %s: %w", info.Name, err)
			}
		}
	}
	return nil
}

// TableNames lists the tables present on the engine a bind key selects.
func (db *DB) TableNames(ctx context.Context, bind string) ([]string, error) {
	eng, err := db.EngineFor(ctx, bind)
	if err != nil {
		return nil, err
	}
	return eng.TableNames(ctx)
}

type bindGroup struct {
	bind   string
	tables []*TableInfo
}

// tablesByBind groups registered tables by bind key, deduplicating tables
// shared by several types.
func (db *DB) tablesByBind() []bindGroup {
	groups := make(map[string]*bindGroup)
	seen := make(map[string]bool)
	var order []string

	for _, info := range db.meta.Tables() {
		key := info.BindKey + "\x00" + info.QualifiedName()
		if seen[key] {
			continue
		}
		seen[key] = true
		g, ok := groups[info.BindKey]
		if !ok {
			g = &bindGroup{bind: info.BindKey}
			groups[info.BindKey] = g
			order = append(order, info.BindKey)
		}
		g.tables = append(g.tables, info)
	}

	out := make([]bindGroup, 0, len(order))
	for _, bind := range order {
		out = append(out, *groups[bind])
	}
	return out
}

func (db *DB) execDDL(ctx context.Context, eng *Engine, stmt string) error {
	_, err := eng.DB().ExecContext(ctx, stmt)
	if err == nil {
		db.log.Debug("ddl executed", "bind", bindLabel(eng.BindKey()), "statement", stmt)
	}
	return err
}

// createTableSQL renders CREATE TABLE IF NOT EXISTS for one table.
func createTableSQL(d dialect.Dialect, info *TableInfo) string {
	defs := make([]string, 0, len(info.Columns))
	for _, col := range info.Columns {
		def := d.Quote(col.Name) + " "
		switch {
		case col.PrimaryKey && col.AutoIncrement:
			def += d.AutoIncrementPK()
		case col.PrimaryKey:
			def += d.ColumnType(col.GoType, col.Size) + " PRIMARY KEY"
		default:
			def += d.ColumnType(col.GoType, col.Size)
		}
		defs = append(defs, def)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		d.Quote(info.QualifiedName()), strings.Join(defs, ", "))
}
