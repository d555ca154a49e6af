package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func TestDB_Ping(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	db := &DB{Pool: mock}

	mock.ExpectPing()
	require.NoError(t, db.Ping(context.Background()))

	down := errors.New("connection refused")
	mock.ExpectPing().WillReturnError(down)
	require.ErrorIs(t, db.Ping(context.Background()), down)

	mock.ExpectClose()
	db.Close()
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()
	require.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	require.True(t, isUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	require.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	require.False(t, isUniqueViolation(errors.New("23505")))
	require.False(t, isUniqueViolation(nil))
}
