package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/unimarket/internal/model"
)

// PostgresPurchaseRepo はPostgreSQLを使用した購入記録リポジトリ。
type PostgresPurchaseRepo struct {
	db *sql.DB
}

// NewPostgresPurchaseRepo はPostgresPurchaseRepoを生成する。
func NewPostgresPurchaseRepo(db *sql.DB) *PostgresPurchaseRepo {
	return &PostgresPurchaseRepo{db: db}
}

// Checkout はカートの内容を1トランザクションで購入記録に変換する。
// 対象の出品行をFOR UPDATEでロックし、販売中でない出品が含まれる場合は何も変更せずErrListingUnavailableを返す。
// カートが空の場合は空のスライスを返す。
func (r *PostgresPurchaseRepo) Checkout(ctx context.Context, buyerID string) ([]*model.Purchase, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT l.id, l.seller_id, l.title, l.price, l.status, c.quantity
		 FROM cart_items c
		 JOIN listings l ON l.id = c.listing_id
		 WHERE c.user_id = $1
		 ORDER BY c.created_at
		 FOR UPDATE OF l`,
		buyerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to lock cart listings: %w", err)
	}

	now := time.Now()
	var purchases []*model.Purchase
	for rows.Next() {
		p := &model.Purchase{ID: uuid.New().String(), BuyerID: buyerID, CreatedAt: now}
		var status model.ListingStatus
		if err := rows.Scan(&p.ListingID, &p.SellerID, &p.Title, &p.Price, &status, &p.Quantity); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan cart listing: %w", err)
		}
		if status != model.ListingStatusActive {
			rows.Close()
			return nil, fmt.Errorf("%w: %s", ErrListingUnavailable, p.ListingID)
		}
		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate cart listings: %w", err)
	}
	rows.Close()

	if len(purchases) == 0 {
		return purchases, nil
	}

	for _, p := range purchases {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO purchases (id, buyer_id, seller_id, listing_id, title, price, quantity, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			p.ID, p.BuyerID, p.SellerID, p.ListingID, p.Title, p.Price, p.Quantity, p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to insert purchase: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE listings SET status = 'sold', updated_at = $2 WHERE id = $1`,
			p.ListingID, now,
		); err != nil {
			return nil, fmt.Errorf("failed to mark listing sold: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, buyerID); err != nil {
		return nil, fmt.Errorf("failed to clear cart: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return purchases, nil
}

// ListByBuyer は購入者の購入記録を新しい順で返す。
func (r *PostgresPurchaseRepo) ListByBuyer(ctx context.Context, buyerID string) ([]*model.Purchase, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, buyer_id, seller_id, COALESCE(listing_id::text, ''), title, price, quantity, created_at
		 FROM purchases WHERE buyer_id = $1 ORDER BY created_at DESC`,
		buyerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	defer rows.Close()

	var purchases []*model.Purchase
	for rows.Next() {
		p := &model.Purchase{}
		if err := rows.Scan(&p.ID, &p.BuyerID, &p.SellerID, &p.ListingID, &p.Title, &p.Price, &p.Quantity, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan purchase row: %w", err)
		}
		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate purchase rows: %w", err)
	}
	return purchases, nil
}

// BalanceBySeller は出品者としての売上集計を返す。
// 支払い処理を持たないため、残高と累計売上は同じ値になる。
func (r *PostgresPurchaseRepo) BalanceBySeller(ctx context.Context, sellerID string) (*model.SellerBalance, error) {
	b := &model.SellerBalance{}
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(price * quantity), 0), COUNT(*) FROM purchases WHERE seller_id = $1`,
		sellerID,
	).Scan(&b.TotalEarnings, &b.SalesCount)
	if err != nil {
		return nil, fmt.Errorf("failed to get seller balance: %w", err)
	}
	b.Balance = b.TotalEarnings
	return b, nil
}

// compile-time interface check
var _ PurchaseRepository = (*PostgresPurchaseRepo)(nil)
