package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/unimarket/internal/cart"
	"github.com/hitoshi/unimarket/internal/model"
)

// CartServiceInterface はカート・購入ハンドラーが必要とするサービスインターフェース。
type CartServiceInterface interface {
	List(ctx context.Context, actor *model.Actor) ([]model.CartLine, error)
	Add(ctx context.Context, actor *model.Actor, listingID string, quantity int) (*model.CartItem, error)
	UpdateQuantity(ctx context.Context, actor *model.Actor, itemID string, quantity int) error
	Remove(ctx context.Context, actor *model.Actor, itemID string) error
	Clear(ctx context.Context, actor *model.Actor) error
	Count(ctx context.Context, actor *model.Actor) (int, error)
	Checkout(ctx context.Context, actor *model.Actor) (*cart.CheckoutResult, error)
	Purchases(ctx context.Context, actor *model.Actor) ([]*model.Purchase, error)
	Balance(ctx context.Context, actor *model.Actor) (*model.SellerBalance, error)
}

// CartHandler はカートと購入記録のHTTPハンドラー。
type CartHandler struct {
	service CartServiceInterface
}

// NewCartHandler はCartHandlerを生成する。
func NewCartHandler(service CartServiceInterface) *CartHandler {
	return &CartHandler{service: service}
}

type cartLineResponse struct {
	ID         string  `json:"id"`
	ListingID  string  `json:"listing_id"`
	Quantity   int     `json:"quantity"`
	Title      string  `json:"title"`
	Price      float64 `json:"price"`
	ImageURL   string  `json:"image_url"`
	Category   string  `json:"category"`
	Condition  string  `json:"condition"`
	SellerID   string  `json:"seller_id"`
	SellerName string  `json:"seller_name"`
	Status     string  `json:"status"`
}

type cartResponse struct {
	Items []cartLineResponse `json:"items"`
	Total float64            `json:"total"`
}

type cartItemResponse struct {
	ID        string `json:"id"`
	ListingID string `json:"listing_id"`
	Quantity  int    `json:"quantity"`
}

type purchaseResponse struct {
	ID        string    `json:"id"`
	ListingID string    `json:"listing_id"`
	SellerID  string    `json:"seller_id"`
	Title     string    `json:"title"`
	Price     float64   `json:"price"`
	Quantity  int       `json:"quantity"`
	Subtotal  float64   `json:"subtotal"`
	CreatedAt time.Time `json:"created_at"`
}

type checkoutResponse struct {
	Message   string             `json:"message"`
	Purchases []purchaseResponse `json:"purchases"`
	Total     float64            `json:"total"`
}

type balanceResponse struct {
	Balance       float64 `json:"balance"`
	TotalEarnings float64 `json:"total_earnings"`
	SalesCount    int     `json:"sales_count"`
}

type addToCartRequest struct {
	ListingID string `json:"listing_id"`
	Quantity  int    `json:"quantity"`
}

type updateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

func toPurchaseResponses(ps []*model.Purchase) []purchaseResponse {
	out := make([]purchaseResponse, 0, len(ps))
	for _, p := range ps {
		out = append(out, purchaseResponse{
			ID:        p.ID,
			ListingID: p.ListingID,
			SellerID:  p.SellerID,
			Title:     p.Title,
			Price:     p.Price,
			Quantity:  p.Quantity,
			Subtotal:  p.Subtotal(),
			CreatedAt: p.CreatedAt,
		})
	}
	return out
}

// List は行為者のカートを返す。
// GET /api/cart
func (h *CartHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	lines, err := h.service.List(r.Context(), actor)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := cartResponse{Items: make([]cartLineResponse, 0, len(lines))}
	for _, l := range lines {
		resp.Items = append(resp.Items, cartLineResponse{
			ID:         l.ID,
			ListingID:  l.ListingID,
			Quantity:   l.Quantity,
			Title:      l.Title,
			Price:      l.Price,
			ImageURL:   l.ImageURL,
			Category:   l.Category,
			Condition:  l.Condition,
			SellerID:   l.SellerID,
			SellerName: l.SellerName,
			Status:     string(l.Status),
		})
		resp.Total += l.Price * float64(l.Quantity)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Add は出品をカートに追加する。同じ出品を再度追加した場合は数量を加算する。
// POST /api/cart
func (h *CartHandler) Add(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req addToCartRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ListingID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("listing_id is required"))
		return
	}

	item, err := h.service.Add(r.Context(), actor, req.ListingID, req.Quantity)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, cartItemResponse{
		ID:        item.ID,
		ListingID: item.ListingID,
		Quantity:  item.Quantity,
	})
}

// UpdateQuantity はカート行の数量を変更する。0以下の場合は行を削除する。
// PATCH /api/cart/{id}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req updateQuantityRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.UpdateQuantity(r.Context(), actor, chi.URLParam(r, "id"), req.Quantity); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Remove はカート行を削除する。
// DELETE /api/cart/{id}
func (h *CartHandler) Remove(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	if err := h.service.Remove(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Clear は行為者のカートを空にする。
// DELETE /api/cart
func (h *CartHandler) Clear(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	if err := h.service.Clear(r.Context(), actor); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Count はカートの行数を返す。
// GET /api/cart/count
func (h *CartHandler) Count(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	n, err := h.service.Count(r.Context(), actor)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

// Checkout はカートの内容を購入記録に変換する。
// POST /api/checkout
func (h *CartHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	result, err := h.service.Checkout(r.Context(), actor)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, checkoutResponse{
		Message:   "Checkout successful",
		Purchases: toPurchaseResponses(result.Purchases),
		Total:     result.Total,
	})
}

// Purchases は行為者の購入履歴を返す。
// GET /api/purchases
func (h *CartHandler) Purchases(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	ps, err := h.service.Purchases(r.Context(), actor)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPurchaseResponses(ps))
}

// Balance は行為者の出品者としての売上集計を返す。
// GET /api/balance
func (h *CartHandler) Balance(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	b, err := h.service.Balance(r.Context(), actor)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{
		Balance:       b.Balance,
		TotalEarnings: b.TotalEarnings,
		SalesCount:    b.SalesCount,
	})
}
