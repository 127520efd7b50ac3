package client

import (
	"time"

	"github.com/hitoshi/unimarket/internal/model"
)

// Listing は出品のAPIレスポンス。
type Listing struct {
	ID          string    `json:"id"`
	SellerID    string    `json:"seller_id"`
	SellerName  string    `json:"seller_name,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Price       float64   `json:"price"`
	Category    string    `json:"category"`
	Condition   string    `json:"condition"`
	ImageURL    string    `json:"image_url"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// CartLine はカートの1行のAPIレスポンス。
type CartLine struct {
	ID         string  `json:"id"`
	ListingID  string  `json:"listing_id"`
	Quantity   int     `json:"quantity"`
	Title      string  `json:"title"`
	Price      float64 `json:"price"`
	SellerID   string  `json:"seller_id"`
	SellerName string  `json:"seller_name"`
	Status     string  `json:"status"`
}

// Cart はカートのAPIレスポンス。
type Cart struct {
	Items []CartLine `json:"items"`
	Total float64    `json:"total"`
}

// Profile はプロフィールのAPIレスポンス。
type Profile struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	DisplayName    string `json:"display_name"`
	Phone          string `json:"phone"`
	ProfilePicture string `json:"profile_picture,omitempty"`
}

// Purchase は購入記録のAPIレスポンス。
type Purchase struct {
	ID        string    `json:"id"`
	ListingID string    `json:"listing_id"`
	SellerID  string    `json:"seller_id"`
	Title     string    `json:"title"`
	Price     float64   `json:"price"`
	Quantity  int       `json:"quantity"`
	Subtotal  float64   `json:"subtotal"`
	CreatedAt time.Time `json:"created_at"`
}

// sessionResponse はサインイン・セッション復元のレスポンス。
type sessionResponse struct {
	User struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
	Session *struct {
		AccessToken  string     `json:"access_token"`
		RefreshToken string     `json:"refresh_token"`
		ExpiresAt    *time.Time `json:"expires_at"`
	} `json:"session"`
}

func (r *sessionResponse) session() (*model.Actor, model.SessionTokens) {
	actor := &model.Actor{ID: r.User.ID, Email: r.User.Email}
	if r.Session == nil {
		return actor, model.SessionTokens{}
	}
	tokens := model.SessionTokens{
		AccessToken:  r.Session.AccessToken,
		RefreshToken: r.Session.RefreshToken,
	}
	if r.Session.ExpiresAt != nil {
		tokens.ExpiresAt = *r.Session.ExpiresAt
	}
	return actor, tokens
}
