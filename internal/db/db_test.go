package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"alert-service/internal/logging"
)

func TestIsSerializationFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "serialization failure", err: &pgconn.PgError{Code: "40001"}, want: true},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, want: true},
		{name: "wrapped", err: fmt.Errorf("failed to commit transaction: %w", &pgconn.PgError{Code: "40001"}), want: true},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, want: false},
		{name: "lock timeout", err: &pgconn.PgError{Code: "55P03"}, want: false},
		{name: "plain error", err: errors.New("40001"), want: false},
		{name: "nil", err: nil, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSerializationFailure(tt.err))
		})
	}
}

func TestRetrySerializable(t *testing.T) {
	t.Run("retried once then surfaced", func(t *testing.T) {
		calls := 0
		err := retrySerializable(logging.NewNop(), func() error {
			calls++
			return &pgconn.PgError{Code: "40001"}
		})
		assert.Equal(t, 2, calls)
		assert.True(t, IsSerializationFailure(err))
	})

	t.Run("second attempt succeeds", func(t *testing.T) {
		calls := 0
		err := retrySerializable(logging.NewNop(), func() error {
			calls++
			if calls == 1 {
				return &pgconn.PgError{Code: "40P01"}
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		calls := 0
		boom := errors.New("boom")
		err := retrySerializable(logging.NewNop(), func() error {
			calls++
			return boom
		})
		assert.Equal(t, 1, calls)
		assert.ErrorIs(t, err, boom)
	})
}
