package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"genledger/internal/model"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestPostgresStore runs the store contract against a real database.
// Set GENLEDGER_TEST_DSN to a disposable database to enable it.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("GENLEDGER_TEST_DSN")
	if dsn == "" {
		t.Skip("GENLEDGER_TEST_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	require.NoError(t, RunMigrations(ctx, dsn, zap.NewNop(), "up"))

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	runStoreContract(t, func(t *testing.T) Store { return NewPostgresStore(pool) })
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"deadline before commit", context.DeadlineExceeded, true},
		{"serialization failure", &pgconn.PgError{Code: pgSerializationFailure}, true},
		{"check violation", &pgconn.PgError{Code: "23514"}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, model.IsRetryable(classify("debit", tt.err)))
		})
	}
}

func TestClassifyCommit_AmbiguousOutcomeIsNotRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"deadline while committing", context.DeadlineExceeded, false},
		{"wrapped deadline", errors.Join(errors.New("commit"), context.DeadlineExceeded), false},
		{"connection dropped", errors.New("unexpected EOF"), false},
		{"server rejected commit", &pgconn.PgError{Code: pgSerializationFailure}, true},
		{"deadlock", &pgconn.PgError{Code: pgDeadlockDetected}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyCommit("debit", tt.err)
			assert.Equal(t, tt.retryable, model.IsRetryable(err))

			var se *model.StorageError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, "debit commit", se.Op)
		})
	}
}
