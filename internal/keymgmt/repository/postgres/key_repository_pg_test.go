package postgres

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kidshield/keyserver/internal/keymgmt/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func keyRow(mockPool pgxmock.PgxPoolIface, key *domain.Key) *pgxmock.Rows {
	return mockPool.NewRows([]string{
		"id", "token", "current_owner", "is_assigned", "assigned_to", "assigned_at",
		"valid_until", "generated_by", "created_at", "updated_at",
	}).AddRow(
		key.ID, key.Token, key.CurrentOwner, key.IsAssigned, key.AssignedTo, key.AssignedAt,
		key.ValidUntil, key.GeneratedBy, key.CreatedAt, key.UpdatedAt,
	)
}

func TestPgKeyRepository_MoveBatch(t *testing.T) {
	from := uuid.New()
	to := uuid.New()

	t.Run("ClaimsUpToCount", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewPgKeyRepository(discardLogger())

		mockPool.ExpectExec(`WITH claimed AS`).
			WithArgs(from, to, 10, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 10))

		moved, err := repo.MoveBatch(context.Background(), mockPool, from, to, 10)
		assert.NoError(t, err)
		assert.Equal(t, 10, moved)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("ReportsShortfall", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewPgKeyRepository(discardLogger())

		// Pool only had 3 available rows; the caller decides what a shortfall means.
		mockPool.ExpectExec(`WITH claimed AS`).
			WithArgs(from, to, 10, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 3))

		moved, err := repo.MoveBatch(context.Background(), mockPool, from, to, 10)
		assert.NoError(t, err)
		assert.Equal(t, 3, moved)
	})
}

func TestPgKeyRepository_MoveSpecific(t *testing.T) {
	from := uuid.New()
	to := uuid.New()
	keyID := uuid.New()

	t.Run("MovesAvailableKey", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewPgKeyRepository(discardLogger())

		moved := &domain.Key{ID: keyID, Token: "aabbccdd00112233", CurrentOwner: to, GeneratedBy: from, ValidUntil: time.Now().AddDate(2, 0, 0)}
		mockPool.ExpectQuery(`UPDATE keys`).
			WithArgs(keyID, from, to, pgxmock.AnyArg()).
			WillReturnRows(keyRow(mockPool, moved))

		key, err := repo.MoveSpecific(context.Background(), mockPool, keyID, from, to)
		assert.NoError(t, err)
		assert.Equal(t, to, key.CurrentOwner)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("UnknownKey", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewPgKeyRepository(discardLogger())

		mockPool.ExpectQuery(`UPDATE keys`).
			WithArgs(keyID, from, to, pgxmock.AnyArg()).
			WillReturnError(pgx.ErrNoRows)
		mockPool.ExpectQuery(`SELECT .* FROM keys WHERE id`).
			WithArgs(keyID).
			WillReturnError(pgx.ErrNoRows)

		_, err = repo.MoveSpecific(context.Background(), mockPool, keyID, from, to)
		assert.ErrorIs(t, err, domain.ErrKeyNotFound)
	})

	t.Run("KeyExistsButUnavailable", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewPgKeyRepository(discardLogger())

		consumed := &domain.Key{ID: keyID, Token: "aabbccdd00112233", CurrentOwner: from, IsAssigned: true, ValidUntil: time.Now()}
		mockPool.ExpectQuery(`UPDATE keys`).
			WithArgs(keyID, from, to, pgxmock.AnyArg()).
			WillReturnError(pgx.ErrNoRows)
		mockPool.ExpectQuery(`SELECT .* FROM keys WHERE id`).
			WithArgs(keyID).
			WillReturnRows(keyRow(mockPool, consumed))

		_, err = repo.MoveSpecific(context.Background(), mockPool, keyID, from, to)
		assert.ErrorIs(t, err, domain.ErrKeyNotAvailable)
	})
}

func TestPgKeyRepository_ConsumeOldest(t *testing.T) {
	owner := uuid.New()
	childID := uuid.New()
	now := time.Now().UTC()

	t.Run("EmptyPool", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewPgKeyRepository(discardLogger())

		mockPool.ExpectQuery(`WITH claimed AS`).
			WithArgs(owner, childID, pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(pgx.ErrNoRows)

		_, err = repo.ConsumeOldest(context.Background(), mockPool, owner, childID, now, now.AddDate(2, 0, 0))
		assert.ErrorIs(t, err, domain.ErrInsufficientInventory)
	})

	t.Run("ConsumesOldest", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		repo := NewPgKeyRepository(discardLogger())

		consumed := &domain.Key{
			ID: uuid.New(), Token: "0011223344556677", CurrentOwner: owner,
			IsAssigned: true, AssignedTo: &childID, AssignedAt: &now,
			ValidUntil: now.AddDate(2, 0, 0),
		}
		mockPool.ExpectQuery(`WITH claimed AS`).
			WithArgs(owner, childID, pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnRows(keyRow(mockPool, consumed))

		key, err := repo.ConsumeOldest(context.Background(), mockPool, owner, childID, now, now.AddDate(2, 0, 0))
		assert.NoError(t, err)
		assert.True(t, key.IsAssigned)
		assert.Equal(t, childID, *key.AssignedTo)
	})
}

func TestPgKeyRepository_ReclaimFromOwner(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()
	repo := NewPgKeyRepository(discardLogger())

	owner := uuid.New()
	minterA := uuid.New()
	minterB := uuid.New()

	rows := mockPool.NewRows([]string{"generated_by"}).
		AddRow(minterA).AddRow(minterA).AddRow(minterB).AddRow(minterA)
	mockPool.ExpectQuery(`UPDATE keys`).
		WithArgs(owner, pgxmock.AnyArg()).
		WillReturnRows(rows)

	reclaimed, err := repo.ReclaimFromOwner(context.Background(), mockPool, owner)
	assert.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]int{minterA: 3, minterB: 1}, reclaimed)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
