package model

import "time"

// CartItem はユーザーのカートに入っている1行を表す。
type CartItem struct {
	ID        string
	UserID    string
	ListingID string
	Quantity  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ResourceID はカート行のIDを返す。
func (c *CartItem) ResourceID() string { return c.ID }

// OwnerID はカート行の所有者IDを返す。
func (c *CartItem) OwnerID() string { return c.UserID }

// CartLine はカート行と出品情報を結合した表示用の構造体。
type CartLine struct {
	CartItem
	Title      string
	Price      float64
	ImageURL   string
	Category   string
	Condition  string
	SellerID   string
	SellerName string
	Status     ListingStatus
}

// Purchase はチェックアウトで確定した購入記録を表す。
type Purchase struct {
	ID        string
	BuyerID   string
	SellerID  string
	ListingID string
	Title     string
	Price     float64
	Quantity  int
	CreatedAt time.Time
}

// Subtotal は購入記録の小計を返す。
func (p *Purchase) Subtotal() float64 {
	return p.Price * float64(p.Quantity)
}

// SellerBalance は出品者としての売上集計を表す。
type SellerBalance struct {
	Balance       float64
	TotalEarnings float64
	SalesCount    int
}
