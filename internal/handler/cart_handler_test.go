package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/unimarket/internal/auth"
	"github.com/hitoshi/unimarket/internal/cart"
	"github.com/hitoshi/unimarket/internal/model"
)

// --- モック定義 ---

type mockCartService struct {
	listFn           func(ctx context.Context, actor *model.Actor) ([]model.CartLine, error)
	addFn            func(ctx context.Context, actor *model.Actor, listingID string, quantity int) (*model.CartItem, error)
	updateQuantityFn func(ctx context.Context, actor *model.Actor, itemID string, quantity int) error
	removeFn         func(ctx context.Context, actor *model.Actor, itemID string) error
	clearFn          func(ctx context.Context, actor *model.Actor) error
	countFn          func(ctx context.Context, actor *model.Actor) (int, error)
	checkoutFn       func(ctx context.Context, actor *model.Actor) (*cart.CheckoutResult, error)
	purchasesFn      func(ctx context.Context, actor *model.Actor) ([]*model.Purchase, error)
	balanceFn        func(ctx context.Context, actor *model.Actor) (*model.SellerBalance, error)
}

func (m *mockCartService) List(ctx context.Context, actor *model.Actor) ([]model.CartLine, error) {
	if m.listFn != nil {
		return m.listFn(ctx, actor)
	}
	return nil, nil
}

func (m *mockCartService) Add(ctx context.Context, actor *model.Actor, listingID string, quantity int) (*model.CartItem, error) {
	if m.addFn != nil {
		return m.addFn(ctx, actor, listingID, quantity)
	}
	return &model.CartItem{}, nil
}

func (m *mockCartService) UpdateQuantity(ctx context.Context, actor *model.Actor, itemID string, quantity int) error {
	if m.updateQuantityFn != nil {
		return m.updateQuantityFn(ctx, actor, itemID, quantity)
	}
	return nil
}

func (m *mockCartService) Remove(ctx context.Context, actor *model.Actor, itemID string) error {
	if m.removeFn != nil {
		return m.removeFn(ctx, actor, itemID)
	}
	return nil
}

func (m *mockCartService) Clear(ctx context.Context, actor *model.Actor) error {
	if m.clearFn != nil {
		return m.clearFn(ctx, actor)
	}
	return nil
}

func (m *mockCartService) Count(ctx context.Context, actor *model.Actor) (int, error) {
	if m.countFn != nil {
		return m.countFn(ctx, actor)
	}
	return 0, nil
}

func (m *mockCartService) Checkout(ctx context.Context, actor *model.Actor) (*cart.CheckoutResult, error) {
	if m.checkoutFn != nil {
		return m.checkoutFn(ctx, actor)
	}
	return &cart.CheckoutResult{}, nil
}

func (m *mockCartService) Purchases(ctx context.Context, actor *model.Actor) ([]*model.Purchase, error) {
	if m.purchasesFn != nil {
		return m.purchasesFn(ctx, actor)
	}
	return nil, nil
}

func (m *mockCartService) Balance(ctx context.Context, actor *model.Actor) (*model.SellerBalance, error) {
	if m.balanceFn != nil {
		return m.balanceFn(ctx, actor)
	}
	return &model.SellerBalance{}, nil
}

// --- テスト ---

func TestCartHandler_List_ReturnsItemsAndTotal(t *testing.T) {
	svc := &mockCartService{
		listFn: func(ctx context.Context, actor *model.Actor) ([]model.CartLine, error) {
			return []model.CartLine{
				{CartItem: model.CartItem{ID: "c1", UserID: actor.ID, ListingID: "l1", Quantity: 2}, Title: "Desk Lamp", Price: 12.5, Status: model.ListingStatusActive},
				{CartItem: model.CartItem{ID: "c2", UserID: actor.ID, ListingID: "l2", Quantity: 1}, Title: "Notebook", Price: 3, Status: model.ListingStatusActive},
			}, nil
		},
	}
	h := NewCartHandler(svc)

	req := withActor(httptest.NewRequest(http.MethodGet, "/api/cart", nil), "buyer-1")
	w := httptest.NewRecorder()

	h.List(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body cartResponse
	decodeBody(t, w, &body)
	if len(body.Items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(body.Items))
	}
	if body.Total != 28 {
		t.Errorf("total = %v, want 28", body.Total)
	}
	if body.Items[0].Status != "active" {
		t.Errorf("status = %q, want active", body.Items[0].Status)
	}
}

func TestCartHandler_List_NoActor_Returns401(t *testing.T) {
	h := NewCartHandler(&mockCartService{})

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/api/cart", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestCartHandler_Add(t *testing.T) {
	tests := []struct {
		name       string
		body       map[string]any
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "追加成功",
			body:       map[string]any{"listing_id": "l1", "quantity": 1},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "listing_idなし",
			body:       map[string]any{"quantity": 1},
			wantStatus: http.StatusBadRequest,
			wantCode:   model.ErrCodeInvalidRequest,
		},
		{
			name:       "自分の出品",
			body:       map[string]any{"listing_id": "l1"},
			err:        model.NewOwnListingError(),
			wantStatus: http.StatusBadRequest,
			wantCode:   model.ErrCodeOwnListing,
		},
		{
			name:       "売り切れ",
			body:       map[string]any{"listing_id": "l1"},
			err:        model.NewListingUnavailableError(),
			wantStatus: http.StatusConflict,
			wantCode:   model.ErrCodeListingUnavailable,
		},
		{
			name:       "存在しない出品",
			body:       map[string]any{"listing_id": "missing"},
			err:        model.NewListingNotFoundError("missing"),
			wantStatus: http.StatusNotFound,
			wantCode:   model.ErrCodeListingNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockCartService{
				addFn: func(ctx context.Context, actor *model.Actor, listingID string, quantity int) (*model.CartItem, error) {
					if tt.err != nil {
						return nil, tt.err
					}
					return &model.CartItem{ID: "c1", UserID: actor.ID, ListingID: listingID, Quantity: quantity}, nil
				},
			}
			h := NewCartHandler(svc)

			req := withActor(jsonRequest(t, http.MethodPost, "/api/cart", tt.body), "buyer-1")
			w := httptest.NewRecorder()

			h.Add(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantCode != "" {
				if body := parseAPIErrorResponse(t, w); body["code"] != tt.wantCode {
					t.Errorf("code = %q, want %q", body["code"], tt.wantCode)
				}
			}
		})
	}
}

func TestCartHandler_UpdateQuantity_PassesItemID(t *testing.T) {
	var gotID string
	var gotQty int
	svc := &mockCartService{
		updateQuantityFn: func(ctx context.Context, actor *model.Actor, itemID string, quantity int) error {
			gotID, gotQty = itemID, quantity
			return nil
		},
	}
	h := NewCartHandler(svc)

	req := jsonRequest(t, http.MethodPatch, "/api/cart/c1", map[string]int{"quantity": 3})
	req = withChiURLParam(withActor(req, "buyer-1"), "id", "c1")
	w := httptest.NewRecorder()

	h.UpdateQuantity(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if gotID != "c1" || gotQty != 3 {
		t.Errorf("got (%q, %d), want (c1, 3)", gotID, gotQty)
	}
}

func TestCartHandler_Remove_OtherUsersItem_Returns403(t *testing.T) {
	svc := &mockCartService{
		removeFn: func(ctx context.Context, actor *model.Actor, itemID string) error {
			return &auth.Error{Kind: auth.KindDenied, Op: "remove cart item", ActorID: actor.ID, ResourceID: itemID}
		},
	}
	h := NewCartHandler(svc)

	req := withChiURLParam(withActor(httptest.NewRequest(http.MethodDelete, "/api/cart/c1", nil), "intruder"), "id", "c1")
	w := httptest.NewRecorder()

	h.Remove(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestCartHandler_ClearAndCount(t *testing.T) {
	cleared := false
	svc := &mockCartService{
		clearFn: func(ctx context.Context, actor *model.Actor) error {
			cleared = true
			return nil
		},
		countFn: func(ctx context.Context, actor *model.Actor) (int, error) {
			return 4, nil
		},
	}
	h := NewCartHandler(svc)

	w := httptest.NewRecorder()
	h.Clear(w, withActor(httptest.NewRequest(http.MethodDelete, "/api/cart", nil), "buyer-1"))
	if w.Code != http.StatusNoContent || !cleared {
		t.Errorf("Clear: status = %d, cleared = %v", w.Code, cleared)
	}

	w = httptest.NewRecorder()
	h.Count(w, withActor(httptest.NewRequest(http.MethodGet, "/api/cart/count", nil), "buyer-1"))
	var body map[string]int
	decodeBody(t, w, &body)
	if body["count"] != 4 {
		t.Errorf("count = %d, want 4", body["count"])
	}
}

func TestCartHandler_Checkout(t *testing.T) {
	svc := &mockCartService{
		checkoutFn: func(ctx context.Context, actor *model.Actor) (*cart.CheckoutResult, error) {
			return &cart.CheckoutResult{
				Purchases: []*model.Purchase{
					{ID: "p1", BuyerID: actor.ID, SellerID: "seller-1", ListingID: "l1", Title: "Lamp", Price: 10, Quantity: 2, CreatedAt: time.Now()},
				},
				Total: 20,
			}, nil
		},
	}
	h := NewCartHandler(svc)

	w := httptest.NewRecorder()
	h.Checkout(w, withActor(httptest.NewRequest(http.MethodPost, "/api/checkout", nil), "buyer-1"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body checkoutResponse
	decodeBody(t, w, &body)
	if body.Total != 20 || len(body.Purchases) != 1 || body.Purchases[0].Subtotal != 20 {
		t.Errorf("unexpected checkout response: %+v", body)
	}
}

func TestCartHandler_Checkout_EmptyCart_Returns400(t *testing.T) {
	svc := &mockCartService{
		checkoutFn: func(ctx context.Context, actor *model.Actor) (*cart.CheckoutResult, error) {
			return nil, model.NewCartEmptyError()
		},
	}
	h := NewCartHandler(svc)

	w := httptest.NewRecorder()
	h.Checkout(w, withActor(httptest.NewRequest(http.MethodPost, "/api/checkout", nil), "buyer-1"))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := parseAPIErrorResponse(t, w); body["code"] != model.ErrCodeCartEmpty {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodeCartEmpty)
	}
}

func TestCartHandler_PurchasesAndBalance(t *testing.T) {
	svc := &mockCartService{
		purchasesFn: func(ctx context.Context, actor *model.Actor) ([]*model.Purchase, error) {
			return nil, nil
		},
		balanceFn: func(ctx context.Context, actor *model.Actor) (*model.SellerBalance, error) {
			return &model.SellerBalance{Balance: 40, TotalEarnings: 40, SalesCount: 3}, nil
		},
	}
	h := NewCartHandler(svc)

	w := httptest.NewRecorder()
	h.Purchases(w, withActor(httptest.NewRequest(http.MethodGet, "/api/purchases", nil), "buyer-1"))
	if body := w.Body.String(); body != "[]\n" {
		t.Errorf("purchases body = %q, want empty array", body)
	}

	w = httptest.NewRecorder()
	h.Balance(w, withActor(httptest.NewRequest(http.MethodGet, "/api/balance", nil), "seller-1"))
	var body balanceResponse
	decodeBody(t, w, &body)
	if body.Balance != 40 || body.SalesCount != 3 {
		t.Errorf("unexpected balance: %+v", body)
	}
}
