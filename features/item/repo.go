package item

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"kbingest/internal/content"
	"kbingest/internal/errkind"
)

type Repository interface {
	Create(ctx context.Context, it *content.Item) error
	FindItem(ctx context.Context, id string) (*content.Item, error)
	UpdateItem(ctx context.Context, it *content.Item) error
	CountByStatus(ctx context.Context) (map[content.Status]int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const itemColumns = `id, owner_id, kind, source, stages, timestamps, status, title, summary, error, raw_source, created_at, updated_at`

func (r *PostgresRepo) Create(ctx context.Context, it *content.Item) error {
	source, stages, times, err := encodeState(it)
	if err != nil {
		return err
	}
	query := `INSERT INTO items (` + itemColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err = r.db.ExecContext(ctx, query,
		it.ID, it.OwnerID, it.Kind, source, stages, times, it.Status,
		it.Title, it.Summary, it.Error, it.RawSource, it.CreatedAt, it.UpdatedAt)
	return err
}

func (r *PostgresRepo) FindItem(ctx context.Context, id string) (*content.Item, error) {
	var (
		it                    content.Item
		source, stages, times []byte
	)
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&it.ID, &it.OwnerID, &it.Kind, &source, &stages, &times, &it.Status,
		&it.Title, &it.Summary, &it.Error, &it.RawSource, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %s: %w", id, errkind.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(source, &it.Source); err != nil {
		return nil, fmt.Errorf("decode source of %s: %w", id, err)
	}
	if err := json.Unmarshal(stages, &it.Stages); err != nil {
		return nil, fmt.Errorf("decode stages of %s: %w", id, err)
	}
	if err := json.Unmarshal(times, &it.Timestamps); err != nil {
		return nil, fmt.Errorf("decode timestamps of %s: %w", id, err)
	}
	if it.Timestamps == nil {
		it.Timestamps = make(map[content.Stage]content.StageTimes)
	}
	return &it, nil
}

// UpdateItem writes the mutable state of an item in a single statement.
func (r *PostgresRepo) UpdateItem(ctx context.Context, it *content.Item) error {
	_, stages, times, err := encodeState(it)
	if err != nil {
		return err
	}
	query := `UPDATE items SET stages = $1, timestamps = $2, status = $3, title = $4, summary = $5, error = $6, raw_source = $7, updated_at = $8 WHERE id = $9`
	res, err := r.db.ExecContext(ctx, query,
		stages, times, it.Status, it.Title, it.Summary, it.Error, it.RawSource, it.UpdatedAt, it.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("item %s: %w", it.ID, errkind.ErrNotFound)
	}
	return nil
}

func (r *PostgresRepo) CountByStatus(ctx context.Context) (map[content.Status]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM items GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[content.Status]int)
	for rows.Next() {
		var (
			status content.Status
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func encodeState(it *content.Item) (source, stages, times []byte, err error) {
	if source, err = json.Marshal(it.Source); err != nil {
		return nil, nil, nil, fmt.Errorf("encode source: %w", err)
	}
	if stages, err = json.Marshal(it.Stages); err != nil {
		return nil, nil, nil, fmt.Errorf("encode stages: %w", err)
	}
	if times, err = json.Marshal(it.Timestamps); err != nil {
		return nil, nil, nil, fmt.Errorf("encode timestamps: %w", err)
	}
	return source, stages, times, nil
}
