package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsRetriable(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"40001", true},
		{"40P01", true},
		{"08006", true},
		{"23505", false},
		{"23514", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isRetriable(&pgconn.PgError{Code: tt.code}), tt.code)
	}
	assert.False(t, isRetriable(errors.New("boom")))
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&pgconn.PgError{Code: "22021"}, true}, // invalid byte sequence
		{&pgconn.PgError{Code: "22P05"}, true},
		{&pgconn.PgError{Code: "23505"}, true},
		{&pgconn.PgError{Code: "40001"}, false},
		{&pgconn.PgError{Code: "08006"}, false},
		{&pgconn.PgError{Code: "42P01"}, false},
		{errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsPermanent(tt.err), "%v", tt.err)
	}
	wrapped := fmt.Errorf("storage: copy samples: %w", &pgconn.PgError{Code: "22021"})
	assert.True(t, IsPermanent(wrapped))
}

func TestWithRetry(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = WithRetry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return &pgconn.PgError{Code: "23505"}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls, "permanent errors are not retried")

	calls = 0
	err = WithRetry(context.Background(), 2, time.Millisecond, func() error {
		calls++
		return &pgconn.PgError{Code: "40P01"}
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}
