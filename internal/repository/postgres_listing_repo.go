package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hitoshi/unimarket/internal/model"
)

const (
	defaultSearchLimit = 50
	maxSearchLimit     = 100
)

const listingColumns = `l.id, l.seller_id, l.title, l.description, l.price, l.category, l.condition,
	l.image_url, l.image_key, l.status, l.created_at, l.updated_at`

// sellerNameExpr は出品者の表示名。氏名が未設定の場合は "Student"。
const sellerNameExpr = `COALESCE(NULLIF(TRIM(CONCAT(s.first_name, ' ', s.last_name)), ''), 'Student')`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner, extra ...any) (*model.Listing, error) {
	l := &model.Listing{}
	dest := append([]any{
		&l.ID, &l.SellerID, &l.Title, &l.Description, &l.Price, &l.Category, &l.Condition,
		&l.ImageURL, &l.ImageKey, &l.Status, &l.CreatedAt, &l.UpdatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return l, nil
}

// PostgresListingRepo はPostgreSQLを使用した出品リポジトリ。
type PostgresListingRepo struct {
	db *sql.DB
}

// NewPostgresListingRepo はPostgresListingRepoを生成する。
func NewPostgresListingRepo(db *sql.DB) *PostgresListingRepo {
	return &PostgresListingRepo{db: db}
}

// FindByID は指定IDの出品を取得する。見つからない場合はnilを返す。
func (r *PostgresListingRepo) FindByID(ctx context.Context, id string) (*model.Listing, error) {
	if !validID(id) {
		return nil, nil
	}
	l, err := scanListing(r.db.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM listings l WHERE l.id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find listing by ID: %w", err)
	}
	return l, nil
}

// FindWithSeller は出品者名付きで出品を取得する。見つからない場合はnilを返す。
func (r *PostgresListingRepo) FindWithSeller(ctx context.Context, id string) (*model.ListingWithSeller, error) {
	if !validID(id) {
		return nil, nil
	}
	var name string
	l, err := scanListing(r.db.QueryRowContext(ctx,
		`SELECT `+listingColumns+`, `+sellerNameExpr+`
		 FROM listings l JOIN students s ON s.id = l.seller_id
		 WHERE l.id = $1`,
		id,
	), &name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find listing with seller: %w", err)
	}
	return &model.ListingWithSeller{Listing: *l, SellerName: name}, nil
}

// Create は出品を作成する。
func (r *PostgresListingRepo) Create(ctx context.Context, l *model.Listing) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO listings (id, seller_id, title, description, price, category, condition,
		     image_url, image_key, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		l.ID, l.SellerID, l.Title, l.Description, l.Price, l.Category, l.Condition,
		l.ImageURL, l.ImageKey, l.Status, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create listing: %w", err)
	}
	return nil
}

// Search は販売中の出品をタイトル部分一致・カテゴリ・価格帯で検索する。新しい順。
func (r *PostgresListingRepo) Search(ctx context.Context, q model.SearchQuery) ([]model.ListingWithSeller, error) {
	query, args := buildSearchQuery(q)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search listings: %w", err)
	}
	defer rows.Close()

	var results []model.ListingWithSeller
	for rows.Next() {
		var name string
		l, err := scanListing(rows, &name)
		if err != nil {
			return nil, fmt.Errorf("failed to scan listing row: %w", err)
		}
		results = append(results, model.ListingWithSeller{Listing: *l, SellerName: name})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate listing rows: %w", err)
	}
	return results, nil
}

// buildSearchQuery は検索条件からSQLと引数を組み立てる。
func buildSearchQuery(q model.SearchQuery) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT ` + listingColumns + `, ` + sellerNameExpr + `
		 FROM listings l JOIN students s ON s.id = l.seller_id
		 WHERE l.status = 'active'`)

	args := []any{}
	add := func(cond string, v any) {
		args = append(args, v)
		fmt.Fprintf(&b, " AND "+cond, len(args))
	}

	if text := strings.TrimSpace(q.Query); text != "" {
		add(`l.title ILIKE $%d ESCAPE '\'`, "%"+escapeLike(text)+"%")
	}
	if c := strings.TrimSpace(q.Category); c != "" && !strings.EqualFold(c, "all") {
		add(`LOWER(l.category) = LOWER($%d)`, c)
	}
	if q.MinPrice != nil {
		add(`l.price >= $%d`, *q.MinPrice)
	}
	if q.MaxPrice != nil {
		add(`l.price <= $%d`, *q.MaxPrice)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	args = append(args, limit)
	fmt.Fprintf(&b, " ORDER BY l.created_at DESC LIMIT $%d", len(args))

	return b.String(), args
}

// escapeLike はLIKEパターンのメタ文字をエスケープする。
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// ListBySeller は出品者の全出品を新しい順で返す。
func (r *PostgresListingRepo) ListBySeller(ctx context.Context, sellerID string) ([]*model.Listing, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+listingColumns+` FROM listings l WHERE l.seller_id = $1 ORDER BY l.created_at DESC`,
		sellerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list listings by seller: %w", err)
	}
	defer rows.Close()

	var listings []*model.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan listing row: %w", err)
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate listing rows: %w", err)
	}
	return listings, nil
}

// StatsBySeller は出品者の出品統計を返す。合計金額は販売中の出品のみを対象とする。
func (r *PostgresListingRepo) StatsBySeller(ctx context.Context, sellerID string) (*model.ListingStats, error) {
	stats := &model.ListingStats{}
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = 'active'),
		        COALESCE(SUM(price) FILTER (WHERE status = 'active'), 0)
		 FROM listings WHERE seller_id = $1`,
		sellerID,
	).Scan(&stats.TotalListings, &stats.ActiveListings, &stats.TotalValue)
	if err != nil {
		return nil, fmt.Errorf("failed to get listing stats: %w", err)
	}
	return stats, nil
}

// UpdateOwned は所有者の出品を部分更新し、更新後の出品を返す。対象がない場合はnilを返す。
func (r *PostgresListingRepo) UpdateOwned(ctx context.Context, id, sellerID string, p model.ListingPatch) (*model.Listing, error) {
	l, err := scanListing(r.db.QueryRowContext(ctx,
		`UPDATE listings l SET
		     title = COALESCE($3, l.title),
		     description = COALESCE($4, l.description),
		     price = COALESCE($5, l.price),
		     category = COALESCE($6, l.category),
		     condition = COALESCE($7, l.condition),
		     updated_at = NOW()
		 WHERE l.id = $1 AND l.seller_id = $2
		 RETURNING `+listingColumns,
		id, sellerID, p.Title, p.Description, p.Price, p.Category, p.Condition,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update listing: %w", err)
	}
	return l, nil
}

// DeleteOwned は所有者の出品を削除する。対象がない場合はfalseを返す。
func (r *PostgresListingRepo) DeleteOwned(ctx context.Context, id, sellerID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM listings WHERE id = $1 AND seller_id = $2`,
		id, sellerID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete listing: %w", err)
	}
	return affected(result)
}

// compile-time interface check
var _ ListingRepository = (*PostgresListingRepo)(nil)
