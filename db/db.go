// Copyright (c) 2026 The Lakay Vote Authors. All rights reserved.

package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Supported DATABASE_TYPE values
const (
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
	TypePgx      = "pgx"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, dbType, url string) (*sql.DB, error) {
	driver, err := driverName(dbType)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open(driver, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serialises writers anyway; a single connection also keeps
	// ":memory:" databases alive and shared.
	if dbType == TypeSQLite {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return conn, nil
}

func driverName(dbType string) (string, error) {
	switch dbType {
	case TypeSQLite:
		return "sqlite", nil
	case TypePostgres:
		return "postgres", nil
	case TypePgx:
		return "pgx", nil
	default:
		return "", fmt.Errorf("unsupported database type %q", dbType)
	}
}

// Migrate applies every pending migration. Safe to call on every start.
func Migrate(ctx context.Context, conn *sql.DB, dbType string) ([]string, error) {
	dialect := database.DialectPostgres
	if dbType == TypeSQLite {
		dialect = database.DialectSQLite3
	}

	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return nil, err
	}
	provider, err := goose.NewProvider(dialect, conn, sub)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	applied := make([]string, 0, len(results))
	for _, r := range results {
		applied = append(applied, r.Source.Path)
	}
	return applied, nil
}

// Rebind rewrites $N placeholders into the form the driver for dbType
// expects. Postgres drivers take the query unchanged; SQLite gets ?N.
func Rebind(dbType, query string) string {
	if dbType != TypeSQLite {
		return query
	}
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			b.WriteByte('?')
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// IsUniqueViolation reports whether err is a unique or primary key
// constraint failure from any supported driver.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}

	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
