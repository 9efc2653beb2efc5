package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"kbingest/internal/errkind"
)

type Repository interface {
	Create(ctx context.Context, a *Account) error
	FindAccount(ctx context.Context, id string) (*Account, error)
	UpdateAccount(ctx context.Context, a *Account) error
	AddCredits(ctx context.Context, id string, credits int64) (int64, error)
	GetBalance(ctx context.Context, id string) (int64, error)
	Charge(ctx context.Context, id string, credits int64, reason string) error
	TotalCharged(ctx context.Context) (int64, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Create(ctx context.Context, a *Account) error {
	query := `INSERT INTO accounts (id, name, credits) VALUES ($1, $2, $3) RETURNING created_at, updated_at`
	return r.db.QueryRowContext(ctx, query, a.ID, a.Name, a.Credits).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *PostgresRepo) FindAccount(ctx context.Context, id string) (*Account, error) {
	a := &Account{}
	query := `SELECT id, name, credits, created_at, updated_at FROM accounts WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&a.ID, &a.Name, &a.Credits, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, errkind.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *PostgresRepo) UpdateAccount(ctx context.Context, a *Account) error {
	query := `UPDATE accounts SET name = $1, credits = $2, updated_at = NOW() WHERE id = $3`
	res, err := r.db.ExecContext(ctx, query, a.Name, a.Credits, a.ID)
	if err != nil {
		return err
	}
	return requireRow(res, a.ID)
}

// AddCredits tops up an account and returns the new balance.
func (r *PostgresRepo) AddCredits(ctx context.Context, id string, credits int64) (int64, error) {
	var balance int64
	query := `UPDATE accounts SET credits = credits + $1, updated_at = NOW() WHERE id = $2 RETURNING credits`
	err := r.db.QueryRowContext(ctx, query, credits, id).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("account %s: %w", id, errkind.ErrNotFound)
	}
	return balance, err
}

func (r *PostgresRepo) GetBalance(ctx context.Context, id string) (int64, error) {
	var balance int64
	query := `SELECT credits FROM accounts WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("account %s: %w", id, errkind.ErrNotFound)
	}
	return balance, err
}

// Charge debits credits and writes the usage record in one transaction.
// A second charge with the same reason changes nothing. Balances may go
// negative when concurrent items pass the credit check together.
func (r *PostgresRepo) Charge(ctx context.Context, id string, credits int64, reason string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`INSERT INTO usage_records (owner_id, credits, reason) VALUES ($1, $2, $3) ON CONFLICT (owner_id, reason) DO NOTHING`,
		id, credits, reason)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if inserted == 0 {
		return tx.Commit()
	}

	res, err = tx.ExecContext(ctx, `UPDATE accounts SET credits = credits - $1, updated_at = NOW() WHERE id = $2`, credits, id)
	if err != nil {
		return fmt.Errorf("debit account: %w", err)
	}
	if err := requireRow(res, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *PostgresRepo) TotalCharged(ctx context.Context) (int64, error) {
	var total int64
	query := `SELECT COALESCE(SUM(credits), 0) FROM usage_records`
	err := r.db.QueryRowContext(ctx, query).Scan(&total)
	return total, err
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("account %s: %w", id, errkind.ErrNotFound)
	}
	return nil
}
