package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"

	"github.com/pressly/goose/v3"

	"github.com/mmynk/ledger/internal/models"
)

// Migrate brings the schema up to date. Version 1 creates the tables
// declared in models.Schema.
func (db *DB) Migrate(ctx context.Context) error {
	provider, err := goose.NewProvider(goose.DialectSQLite3, db.db, nil,
		goose.WithGoMigrations(
			goose.NewGoMigration(1,
				&goose.GoFunc{RunTx: createTables},
				&goose.GoFunc{RunTx: dropTables},
			),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	for _, r := range results {
		db.logger.Info("Migration applied", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

func createTables(ctx context.Context, tx *sql.Tx) error {
	for _, table := range models.Schema {
		for _, stmt := range tableDDL(table) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to create table %s: %w", table.Name, err)
			}
		}
	}
	return nil
}

func dropTables(ctx context.Context, tx *sql.Tx) error {
	tables := slices.Clone(models.Schema)
	slices.Reverse(tables)
	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quote(table.Name)); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", table.Name, err)
		}
	}
	return nil
}

// sqlType maps column types to SQLite declared types. Decimals are stored
// as TEXT: NUMERIC affinity would coerce them to floating point.
func sqlType(t models.ColumnType) string {
	switch t {
	case models.TypeInteger:
		return "INTEGER"
	case models.TypeDecimal:
		return "TEXT"
	case models.TypeDateTime:
		return "DATETIME"
	default:
		return "TEXT"
	}
}

// tableDDL renders the CREATE TABLE statement followed by its indexes.
func tableDDL(t *models.Table) []string {
	var defs []string
	for _, c := range t.Columns {
		def := quote(c.Name) + " " + sqlType(c.Type)
		if c.PrimaryKey {
			def += " PRIMARY KEY"
		}
		if c.NotNull {
			def += " NOT NULL"
		}
		if c.Unique {
			def += " UNIQUE"
		}
		if c.Default != "" {
			def += " DEFAULT " + c.Default
		}
		defs = append(defs, def)
	}
	for _, cols := range t.Unique {
		defs = append(defs, "UNIQUE ("+quoteList(cols)+")")
	}
	for _, fk := range t.ForeignKeys {
		defs = append(defs, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
			quote(fk.Column), quote(fk.Table), quote(fk.Ref)))
	}

	stmts := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)", quote(t.Name), strings.Join(defs, ",\n    ")),
	}
	for _, c := range t.Columns {
		if !c.Index {
			continue
		}
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			quote("ix_"+t.Name+"_"+c.Name), quote(t.Name), quote(c.Name)))
	}
	return stmts
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quote(n)
	}
	return strings.Join(quoted, ", ")
}
