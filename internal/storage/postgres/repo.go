// Package postgres is the PostgreSQL storage backend. Rows are loaded with
// the COPY protocol through a pgx connection pool.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"healthetl/internal/storage"
)

// Repo implements storage.Repository for Postgres.
type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", Open)
}

// Open creates a connection pool for cfg.DSN and verifies it with a ping.
func Open(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

// EnsureTables creates the schema (for qualified names) and the table when
// missing.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		schemaSQL, tableSQL, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if schemaSQL != "" {
			if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
				return fmt.Errorf("create schema for %s: %w", t.Name, err)
			}
		}
		if _, err := r.pool.Exec(ctx, tableSQL); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// InsertRows streams rows into table with COPY FROM.
func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("copy %s: no columns", table)
	}
	n, err := r.pool.CopyFrom(ctx, identifier(table), columns, pgx.CopyFromRows(rows))
	if err != nil {
		return n, fmt.Errorf("copy %s: %w", table, err)
	}
	return n, nil
}

// identifier turns "schema.table" or "table" into a pgx.Identifier.
func identifier(name string) pgx.Identifier {
	if schema, table := splitQualifiedName(name); schema != "" {
		return pgx.Identifier{schema, table}
	}
	return pgx.Identifier{strings.TrimSpace(name)}
}

// splitQualifiedName splits "public.countries" into ("public", "countries").
// Names without exactly one dot are treated as unqualified.
func splitQualifiedName(name string) (schema string, table string) {
	name = strings.TrimSpace(name)
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return "", name
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

func pgIdent(id string) string {
	return pgx.Identifier{id}.Sanitize()
}

// columnType maps every logical type to TEXT: export values are not
// guaranteed to parse as numbers or timestamps.
func columnType(string) string { return "TEXT" }

// buildCreateSQL returns the optional CREATE SCHEMA statement and the
// CREATE TABLE statement for t.
func buildCreateSQL(t storage.TableSpec) (schemaSQL, tableSQL string, err error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", "", fmt.Errorf("table name is empty")
	}
	if len(t.Columns) == 0 {
		return "", "", fmt.Errorf("table %s: no columns", t.Name)
	}

	if schema, _ := splitQualifiedName(t.Name); schema != "" {
		schemaSQL = fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s;`, pgIdent(schema))
	}

	defs := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return "", "", fmt.Errorf("table %s: column name must be set", t.Name)
		}
		def := pgIdent(name) + " " + columnType(c.Type)
		if !c.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}

	tableSQL = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s);`,
		identifier(t.Name).Sanitize(), strings.Join(defs, ", "))
	return schemaSQL, tableSQL, nil
}
