package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool the repositories use.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repo struct{ DB DB }

const pgUniqueViolation = "23505"

const orderColumns = `id, submission_token, customer_id, total_amount, status, sync_status, sync_error, created_by, created_at, updated_at`

// InsertOrder writes header and lines in one transaction.
// Token bentrok -> ErrDuplicateSubmission (caller replays the winner).
func (r *Repo) InsertOrder(ctx context.Context, agg *Aggregate) error {
	o := &agg.Order
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, submission_token, customer_id, total_amount, status, sync_status, sync_error, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, '', $7, $8, $8)
	`, o.ID, nullable(o.SubmissionToken), o.CustomerID, o.TotalAmount, string(o.Status), string(o.SyncStatus), o.CreatedBy, o.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == "orders_submission_token_key" {
			return ErrDuplicateSubmission
		}
		return err
	}

	for _, l := range o.Items {
		if _, err = tx.Exec(ctx, `
			INSERT INTO order_items(id, order_id, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)`,
			l.ID, o.ID, l.ProductID, l.Quantity, l.UnitPrice,
		); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *Repo) FindBySubmissionToken(ctx context.Context, token string) (*Order, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE submission_token=$1`, token)
	o, err := scanOrder(row)
	if err != nil {
		return nil, err
	}
	if o.Items, err = r.lines(ctx, r.DB, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *Repo) GetOrder(ctx context.Context, id string) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if err != nil {
		return nil, err
	}
	if o.Items, err = r.lines(ctx, r.DB, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *Repo) ListOrders(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Items, err = r.lines(ctx, r.DB, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// UpdateStatus is a compare-and-set on the business status.
func (r *Repo) UpdateStatus(ctx context.Context, id string, from, to Status) error {
	ct, err := r.DB.Exec(ctx, `UPDATE orders SET status=$3, updated_at=now() WHERE id=$1 AND status=$2`,
		id, string(from), string(to))
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return r.transitionMiss(ctx, id)
	}
	return nil
}

// UpdateSyncStatus is a compare-and-set on sync_status; reason is stored for
// error and cleared otherwise.
func (r *Repo) UpdateSyncStatus(ctx context.Context, id string, from, to SyncStatus, reason string) error {
	ct, err := r.DB.Exec(ctx, `UPDATE orders SET sync_status=$3, sync_error=$4, updated_at=now() WHERE id=$1 AND sync_status=$2`,
		id, string(from), string(to), reason)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return r.transitionMiss(ctx, id)
	}
	return nil
}

// DeleteOrder removes the order and its lines. Stock is not restored.
func (r *Repo) DeleteOrder(ctx context.Context, id string) (*Order, error) {
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if o.Items, err = r.lines(ctx, tx, id); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM order_items WHERE order_id=$1`, id); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM orders WHERE id=$1`, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *Repo) lines(ctx context.Context, q querier, orderID string) ([]OrderLine, error) {
	rows, err := q.Query(ctx, `SELECT id, order_id, product_id, quantity, unit_price
	                           FROM order_items WHERE order_id=$1 ORDER BY product_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []OrderLine{}
	for rows.Next() {
		var l OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.Quantity, &l.UnitPrice); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *Repo) transitionMiss(ctx context.Context, id string) error {
	var exists bool
	if err := r.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	return ErrInvalidTransition
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o          Order
		token      *string
		status     string
		syncStatus string
		createdAt  time.Time
		updatedAt  time.Time
	)
	err := row.Scan(&o.ID, &token, &o.CustomerID, &o.TotalAmount, &status, &syncStatus,
		&o.SyncError, &o.CreatedBy, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if token != nil {
		o.SubmissionToken = *token
	}
	o.Status = Status(status)
	o.SyncStatus = SyncStatus(syncStatus)
	o.CreatedAt, o.UpdatedAt = createdAt.UTC(), updatedAt.UTC()
	return &o, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
