package account_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbingest/features/account"
	"kbingest/internal/errkind"
)

const (
	insertUsage = "INSERT INTO usage_records (owner_id, credits, reason) VALUES ($1, $2, $3) ON CONFLICT (owner_id, reason) DO NOTHING"
	debit       = "UPDATE accounts SET credits = credits - $1, updated_at = NOW() WHERE id = $2"
)

func TestPostgresRepo_FindAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := account.NewPostgresRepo(db)
	query := regexp.QuoteMeta("SELECT id, name, credits, created_at, updated_at FROM accounts WHERE id = $1")

	t.Run("Found", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery(query).WithArgs("acct").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "credits", "created_at", "updated_at"}).AddRow("acct", "Acme", 120, now, now))

		a, err := repo.FindAccount(context.Background(), "acct")
		require.NoError(t, err)
		assert.Equal(t, int64(120), a.Credits)
	})

	t.Run("Missing", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "credits", "created_at", "updated_at"}))

		_, err := repo.FindAccount(context.Background(), "ghost")
		assert.ErrorIs(t, err, errkind.ErrNotFound)
	})
}

func TestPostgresRepo_GetBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := account.NewPostgresRepo(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT credits FROM accounts WHERE id = $1")).
		WithArgs("acct").
		WillReturnRows(sqlmock.NewRows([]string{"credits"}).AddRow(0))

	balance, err := repo.GetBalance(context.Background(), "acct")
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestPostgresRepo_Charge(t *testing.T) {
	ctx := context.Background()

	t.Run("Debits once", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(insertUsage)).WithArgs("acct", int64(3), "embedding:item-1").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(regexp.QuoteMeta(debit)).WithArgs(int64(3), "acct").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, account.NewPostgresRepo(db).Charge(ctx, "acct", 3, "embedding:item-1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Replay is a no-op", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(insertUsage)).WithArgs("acct", int64(3), "embedding:item-1").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		require.NoError(t, account.NewPostgresRepo(db).Charge(ctx, "acct", 3, "embedding:item-1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Missing account rolls back", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(insertUsage)).WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(regexp.QuoteMeta(debit)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err = account.NewPostgresRepo(db).Charge(ctx, "ghost", 3, "embedding:item-1")
		assert.ErrorIs(t, err, errkind.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Insert failure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(insertUsage)).WillReturnError(errors.New("conn reset"))
		mock.ExpectRollback()

		assert.Error(t, account.NewPostgresRepo(db).Charge(ctx, "acct", 3, "embedding:item-1"))
	})
}

func TestPostgresRepo_AddCreditsAndTotal(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := account.NewPostgresRepo(db)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE accounts SET credits = credits + $1, updated_at = NOW() WHERE id = $2 RETURNING credits")).
		WithArgs(int64(50), "acct").
		WillReturnRows(sqlmock.NewRows([]string{"credits"}).AddRow(80))
	balance, err := repo.AddCredits(ctx, "acct", 50)
	require.NoError(t, err)
	assert.Equal(t, int64(80), balance)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(SUM(credits), 0) FROM usage_records")).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(17))
	total, err := repo.TotalCharged(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(17), total)
}
