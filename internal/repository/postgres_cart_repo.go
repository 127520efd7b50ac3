package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/unimarket/internal/model"
)

// PostgresCartRepo はPostgreSQLを使用したカートリポジトリ。
type PostgresCartRepo struct {
	db *sql.DB
}

// NewPostgresCartRepo はPostgresCartRepoを生成する。
func NewPostgresCartRepo(db *sql.DB) *PostgresCartRepo {
	return &PostgresCartRepo{db: db}
}

// FindByID は指定IDのカート行を取得する。見つからない場合はnilを返す。
func (r *PostgresCartRepo) FindByID(ctx context.Context, id string) (*model.CartItem, error) {
	if !validID(id) {
		return nil, nil
	}
	c := &model.CartItem{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, listing_id, quantity, created_at, updated_at FROM cart_items WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.UserID, &c.ListingID, &c.Quantity, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find cart item by ID: %w", err)
	}
	return c, nil
}

// ListByUser はユーザーのカートを出品情報付きで返す。追加の新しい順。
func (r *PostgresCartRepo) ListByUser(ctx context.Context, userID string) ([]model.CartLine, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT c.id, c.user_id, c.listing_id, c.quantity, c.created_at, c.updated_at,
		        l.title, l.price, l.image_url, l.category, l.condition, l.seller_id, `+sellerNameExpr+`, l.status
		 FROM cart_items c
		 JOIN listings l ON l.id = c.listing_id
		 JOIN students s ON s.id = l.seller_id
		 WHERE c.user_id = $1
		 ORDER BY c.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list cart items: %w", err)
	}
	defer rows.Close()

	var lines []model.CartLine
	for rows.Next() {
		var line model.CartLine
		if err := rows.Scan(
			&line.ID, &line.UserID, &line.ListingID, &line.Quantity, &line.CreatedAt, &line.UpdatedAt,
			&line.Title, &line.Price, &line.ImageURL, &line.Category, &line.Condition, &line.SellerID, &line.SellerName, &line.Status,
		); err != nil {
			return nil, fmt.Errorf("failed to scan cart row: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cart rows: %w", err)
	}
	return lines, nil
}

// Add はカートに出品を追加する。既にある場合は数量を加算する。
func (r *PostgresCartRepo) Add(ctx context.Context, item *model.CartItem) (*model.CartItem, error) {
	c := &model.CartItem{}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO cart_items (id, user_id, listing_id, quantity, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (user_id, listing_id)
		 DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at = EXCLUDED.updated_at
		 RETURNING id, user_id, listing_id, quantity, created_at, updated_at`,
		item.ID, item.UserID, item.ListingID, item.Quantity, item.CreatedAt,
	).Scan(&c.ID, &c.UserID, &c.ListingID, &c.Quantity, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to add cart item: %w", err)
	}
	return c, nil
}

// UpdateQuantityOwned は所有者のカート行の数量を更新する。対象がない場合はfalseを返す。
func (r *PostgresCartRepo) UpdateQuantityOwned(ctx context.Context, id, userID string, quantity int) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE cart_items SET quantity = $3, updated_at = NOW() WHERE id = $1 AND user_id = $2`,
		id, userID, quantity,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update cart quantity: %w", err)
	}
	return affected(result)
}

// DeleteOwned は所有者のカート行を削除する。対象がない場合はfalseを返す。
func (r *PostgresCartRepo) DeleteOwned(ctx context.Context, id, userID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM cart_items WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete cart item: %w", err)
	}
	return affected(result)
}

// ClearByUser はユーザーのカートを空にする。
func (r *PostgresCartRepo) ClearByUser(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}

// CountByUser はカート内の数量の合計を返す。
func (r *PostgresCartRepo) CountByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM cart_items WHERE user_id = $1`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count cart items: %w", err)
	}
	return count, nil
}

// compile-time interface check
var _ CartRepository = (*PostgresCartRepo)(nil)
