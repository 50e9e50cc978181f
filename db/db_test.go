// Copyright (c) 2026 The Lakay Vote Authors. All rights reserved.

package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_UnsupportedType(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "whatever")
	assert.Error(t, err)
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	conn, err := Open(ctx, TypeSQLite, ":memory:")
	require.NoError(t, err)
	defer conn.Close()

	applied, err := Migrate(ctx, conn, TypeSQLite)
	require.NoError(t, err)
	assert.NotEmpty(t, applied)

	// Second run is a no-op
	applied, err = Migrate(ctx, conn, TypeSQLite)
	require.NoError(t, err)
	assert.Empty(t, applied)

	for _, table := range []string{"attempt", "vote", "tally", "override"} {
		var name string
		err := conn.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, "table %s", table)
	}
}

func TestRebind(t *testing.T) {
	tests := []struct {
		name   string
		dbType string
		query  string
		want   string
	}{
		{"postgres unchanged", TypePostgres, "SELECT a FROM t WHERE b = $1 AND c = $2", "SELECT a FROM t WHERE b = $1 AND c = $2"},
		{"pgx unchanged", TypePgx, "UPDATE t SET a = $1", "UPDATE t SET a = $1"},
		{"sqlite numbered", TypeSQLite, "SELECT a FROM t WHERE b = $1 AND c = $12", "SELECT a FROM t WHERE b = ?1 AND c = ?12"},
		{"sqlite lone dollar", TypeSQLite, "SELECT '$' || a FROM t", "SELECT '$' || a FROM t"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Rebind(tt.dbType, tt.query))
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	ctx := context.Background()
	conn, err := Open(ctx, TypeSQLite, ":memory:")
	require.NoError(t, err)
	defer conn.Close()
	_, err = Migrate(ctx, conn, TypeSQLite)
	require.NoError(t, err)

	insert := Rebind(TypeSQLite, `
		INSERT INTO vote (id, candidate_id, fingerprint, country, region, channel, committed_at)
		VALUES ($1, 'cand-1', $2, 'HT', 'Ouest', 'phone', 1)
	`)
	_, err = conn.Exec(insert, "v1", "fp")
	require.NoError(t, err)

	_, err = conn.Exec(insert, "v2", "fp")
	assert.True(t, IsUniqueViolation(err), "duplicate fingerprint")

	_, err = conn.Exec(insert, "v1", "other")
	assert.True(t, IsUniqueViolation(err), "duplicate primary key")

	assert.True(t, IsUniqueViolation(fmt.Errorf("wrapped: %w", &pq.Error{Code: "23505"})))
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("connection reset")))
	assert.False(t, IsUniqueViolation(nil))
}
