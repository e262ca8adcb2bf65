package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LedgerRepo is the only code path that writes products.stock_quantity.
type LedgerRepo struct{ DB DB }

// Adjust applies delta to one product and appends the matching movement row
// in the same transaction. The conditional UPDATE takes the row lock, so
// concurrent adjustments of one product are serialised by Postgres; the lock
// is released at commit, never held across an order.
func (r *LedgerRepo) Adjust(ctx context.Context, productID string, delta int, mt MovementType, reference string) (Adjustment, error) {
	if delta == 0 {
		return Adjustment{}, ErrInvalidQuantity
	}
	if !mt.Valid() {
		return Adjustment{}, fmt.Errorf("unknown movement type %q", mt)
	}

	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return Adjustment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	adj := Adjustment{ProductID: productID, Delta: delta, MovementID: uuid.NewString()}
	err = tx.QueryRow(ctx, `
		UPDATE products SET stock_quantity = stock_quantity + $2, updated_at = now()
		WHERE id = $1 AND stock_quantity + $2 >= 0
		RETURNING stock_quantity, alert_threshold`, productID, delta,
	).Scan(&adj.NewQuantity, &adj.AlertThreshold)
	if errors.Is(err, pgx.ErrNoRows) {
		// kurang stok atau produk tidak ada
		var available int
		err = tx.QueryRow(ctx, `SELECT stock_quantity FROM products WHERE id=$1`, productID).Scan(&available)
		if errors.Is(err, pgx.ErrNoRows) {
			return Adjustment{}, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
		}
		if err != nil {
			return Adjustment{}, err
		}
		return Adjustment{}, &InsufficientStockError{ProductID: productID, Requested: -delta, Available: available}
	}
	if err != nil {
		return Adjustment{}, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO stock_movements(id, product_id, quantity, movement_type, reference)
		VALUES ($1, $2, $3, $4, $5)`,
		adj.MovementID, productID, delta, string(mt), reference,
	); err != nil {
		return Adjustment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Adjustment{}, err
	}
	return adj, nil
}

// Movements returns the newest movements of a product first.
func (r *LedgerRepo) Movements(ctx context.Context, productID string, limit int) ([]StockMovement, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.Query(ctx, `
		SELECT id, product_id, quantity, movement_type, reference, created_at
		FROM stock_movements WHERE product_id=$1
		ORDER BY created_at DESC LIMIT $2`, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []StockMovement{}
	for rows.Next() {
		var (
			m  StockMovement
			mt string
		)
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Quantity, &mt, &m.Reference, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Type = MovementType(mt)
		out = append(out, m)
	}
	return out, rows.Err()
}
