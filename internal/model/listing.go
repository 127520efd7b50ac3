package model

import "time"

// ListingStatus は出品の状態を表す。
type ListingStatus string

const (
	// ListingStatusActive は購入可能な出品を示す。
	ListingStatusActive ListingStatus = "active"
	// ListingStatusSold は購入済みの出品を示す。
	ListingStatusSold ListingStatus = "sold"
)

// Listing は学生が出品した商品を表す。
type Listing struct {
	ID          string
	SellerID    string
	Title       string
	Description string
	Price       float64
	Category    string
	Condition   string
	ImageURL    string
	ImageKey    string // オブジェクトストレージ上のキー
	Status      ListingStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ResourceID は出品IDを返す。
func (l *Listing) ResourceID() string { return l.ID }

// OwnerID は出品者IDを返す。
func (l *Listing) OwnerID() string { return l.SellerID }

// ListingWithSeller は出品と出品者の表示名を結合した構造体。
type ListingWithSeller struct {
	Listing
	SellerName string
}

// ListingPatch は出品の部分更新内容を表す。nilのフィールドは変更しない。
// 所有者を表すフィールドは意図的に持たない。
type ListingPatch struct {
	Title       *string
	Description *string
	Price       *float64
	Category    *string
	Condition   *string
}

// ListingStats は出品者ごとの出品統計を表す。
type ListingStats struct {
	TotalListings  int
	ActiveListings int
	TotalValue     float64
}

// SearchQuery は出品検索の条件を表す。
type SearchQuery struct {
	Query    string
	Category string
	MinPrice *float64
	MaxPrice *float64
	Limit    int
}
