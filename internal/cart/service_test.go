package cart

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/unimarket/internal/auth"
	"github.com/hitoshi/unimarket/internal/model"
	"github.com/hitoshi/unimarket/internal/repository"
)

// --- モック ---

type mockCartRepo struct {
	findByIDFn func(ctx context.Context, id string) (*model.CartItem, error)
	addFn      func(ctx context.Context, item *model.CartItem) (*model.CartItem, error)
	count      int

	updatedQuantity int
	deleted         []string
	mutations       int
}

func (m *mockCartRepo) FindByID(ctx context.Context, id string) (*model.CartItem, error) {
	return m.findByIDFn(ctx, id)
}
func (m *mockCartRepo) ListByUser(ctx context.Context, userID string) ([]model.CartLine, error) {
	return nil, nil
}
func (m *mockCartRepo) Add(ctx context.Context, item *model.CartItem) (*model.CartItem, error) {
	return m.addFn(ctx, item)
}
func (m *mockCartRepo) UpdateQuantityOwned(ctx context.Context, id, userID string, quantity int) (bool, error) {
	m.mutations++
	m.updatedQuantity = quantity
	return true, nil
}
func (m *mockCartRepo) DeleteOwned(ctx context.Context, id, userID string) (bool, error) {
	m.mutations++
	m.deleted = append(m.deleted, id)
	return true, nil
}
func (m *mockCartRepo) ClearByUser(ctx context.Context, userID string) error {
	return nil
}
func (m *mockCartRepo) CountByUser(ctx context.Context, userID string) (int, error) {
	return m.count, nil
}

type mockListingRepo struct {
	listing *model.Listing
}

func (m *mockListingRepo) FindByID(ctx context.Context, id string) (*model.Listing, error) {
	return m.listing, nil
}
func (m *mockListingRepo) FindWithSeller(ctx context.Context, id string) (*model.ListingWithSeller, error) {
	return nil, nil
}
func (m *mockListingRepo) Create(ctx context.Context, l *model.Listing) error { return nil }
func (m *mockListingRepo) Search(ctx context.Context, q model.SearchQuery) ([]model.ListingWithSeller, error) {
	return nil, nil
}
func (m *mockListingRepo) ListBySeller(ctx context.Context, sellerID string) ([]*model.Listing, error) {
	return nil, nil
}
func (m *mockListingRepo) StatsBySeller(ctx context.Context, sellerID string) (*model.ListingStats, error) {
	return nil, nil
}
func (m *mockListingRepo) UpdateOwned(ctx context.Context, id, sellerID string, patch model.ListingPatch) (*model.Listing, error) {
	return nil, nil
}
func (m *mockListingRepo) DeleteOwned(ctx context.Context, id, sellerID string) (bool, error) {
	return false, nil
}

type mockPurchaseRepo struct {
	checkoutFn func(ctx context.Context, buyerID string) ([]*model.Purchase, error)
}

func (m *mockPurchaseRepo) Checkout(ctx context.Context, buyerID string) ([]*model.Purchase, error) {
	return m.checkoutFn(ctx, buyerID)
}
func (m *mockPurchaseRepo) ListByBuyer(ctx context.Context, buyerID string) ([]*model.Purchase, error) {
	return nil, nil
}
func (m *mockPurchaseRepo) BalanceBySeller(ctx context.Context, sellerID string) (*model.SellerBalance, error) {
	return &model.SellerBalance{}, nil
}

const (
	sellerID  = "11111111-1111-4111-8111-111111111111"
	buyerID   = "22222222-2222-4222-8222-222222222222"
	listingID = "33333333-3333-4333-8333-333333333333"
	itemID    = "44444444-4444-4444-8444-444444444444"
)

func activeListing() *model.Listing {
	return &model.Listing{ID: listingID, SellerID: sellerID, Price: 10, Status: model.ListingStatusActive}
}

func buyerItem() *model.CartItem {
	return &model.CartItem{ID: itemID, UserID: buyerID, ListingID: listingID, Quantity: 1}
}

func assertAPIError(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != code {
		t.Errorf("err = %v, want %s", err, code)
	}
}

// --- テスト ---

// TestAdd_Rules はカート追加時の出品の状態確認を検証する。
func TestAdd_Rules(t *testing.T) {
	sold := activeListing()
	sold.Status = model.ListingStatusSold

	tests := []struct {
		name     string
		listing  *model.Listing
		actorID  string
		wantCode string
	}{
		{name: "存在しない出品", listing: nil, actorID: buyerID, wantCode: model.ErrCodeListingNotFound},
		{name: "販売済み", listing: sold, actorID: buyerID, wantCode: model.ErrCodeListingUnavailable},
		{name: "自分の出品", listing: activeListing(), actorID: sellerID, wantCode: model.ErrCodeOwnListing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			carts := &mockCartRepo{
				addFn: func(ctx context.Context, item *model.CartItem) (*model.CartItem, error) {
					t.Fatal("追加してはいけません")
					return nil, nil
				},
			}
			svc := NewService(carts, &mockListingRepo{listing: tt.listing}, &mockPurchaseRepo{})
			_, err := svc.Add(context.Background(), &model.Actor{ID: tt.actorID}, listingID, 1)
			assertAPIError(t, err, tt.wantCode)
		})
	}
}

// TestAdd_UsesActorAsOwner はカート行の所有者が行為者になることを検証する。
func TestAdd_UsesActorAsOwner(t *testing.T) {
	var got *model.CartItem
	carts := &mockCartRepo{
		addFn: func(ctx context.Context, item *model.CartItem) (*model.CartItem, error) {
			got = item
			return item, nil
		},
	}
	svc := NewService(carts, &mockListingRepo{listing: activeListing()}, &mockPurchaseRepo{})

	if _, err := svc.Add(context.Background(), &model.Actor{ID: buyerID}, listingID, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.UserID != buyerID {
		t.Errorf("user id = %q, want %q", got.UserID, buyerID)
	}
	if got.Quantity != 1 {
		t.Errorf("quantity = %d, want 1", got.Quantity)
	}
}

// TestUpdateQuantity_ZeroRemoves は数量0以下で行が削除されることを検証する。
func TestUpdateQuantity_ZeroRemoves(t *testing.T) {
	carts := &mockCartRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.CartItem, error) {
			return buyerItem(), nil
		},
	}
	svc := NewService(carts, &mockListingRepo{}, &mockPurchaseRepo{})

	if err := svc.UpdateQuantity(context.Background(), &model.Actor{ID: buyerID}, itemID, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(carts.deleted) != 1 {
		t.Errorf("deleted = %v, want [%s]", carts.deleted, itemID)
	}

	if err := svc.UpdateQuantity(context.Background(), &model.Actor{ID: buyerID}, itemID, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if carts.updatedQuantity != 3 {
		t.Errorf("quantity = %d, want 3", carts.updatedQuantity)
	}
}

// TestUpdateQuantity_OtherUsersItemDenied は他人のカート行の変更が拒否されることを検証する。
func TestUpdateQuantity_OtherUsersItemDenied(t *testing.T) {
	carts := &mockCartRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.CartItem, error) {
			return buyerItem(), nil
		},
	}
	svc := NewService(carts, &mockListingRepo{}, &mockPurchaseRepo{})

	err := svc.UpdateQuantity(context.Background(), &model.Actor{ID: sellerID}, itemID, 5)
	if !errors.Is(err, auth.ErrDenied) {
		t.Errorf("err = %v, want Denied", err)
	}
	if err := svc.Remove(context.Background(), &model.Actor{ID: sellerID}, itemID); !errors.Is(err, auth.ErrDenied) {
		t.Errorf("Remove err = %v, want Denied", err)
	}
	if carts.mutations != 0 {
		t.Errorf("mutations = %d, want 0", carts.mutations)
	}
}

// TestRemove_MissingItemNotFound は存在しないカート行の削除がNotFoundになることを検証する。
func TestRemove_MissingItemNotFound(t *testing.T) {
	carts := &mockCartRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.CartItem, error) {
			return nil, nil
		},
	}
	svc := NewService(carts, &mockListingRepo{}, &mockPurchaseRepo{})

	if err := svc.Remove(context.Background(), &model.Actor{ID: buyerID}, itemID); !errors.Is(err, auth.ErrNotFound) {
		t.Errorf("err = %v, want NotFound", err)
	}
}

// TestCheckout_EmptyCart は空のカートのチェックアウトを拒否することを検証する。
func TestCheckout_EmptyCart(t *testing.T) {
	purchases := &mockPurchaseRepo{
		checkoutFn: func(ctx context.Context, buyerID string) ([]*model.Purchase, error) {
			t.Fatal("チェックアウトしてはいけません")
			return nil, nil
		},
	}
	svc := NewService(&mockCartRepo{count: 0}, &mockListingRepo{}, purchases)

	_, err := svc.Checkout(context.Background(), &model.Actor{ID: buyerID})
	assertAPIError(t, err, model.ErrCodeCartEmpty)
}

// TestCheckout_ListingUnavailable は販売済みの出品を含む場合のエラー変換を検証する。
func TestCheckout_ListingUnavailable(t *testing.T) {
	purchases := &mockPurchaseRepo{
		checkoutFn: func(ctx context.Context, buyerID string) ([]*model.Purchase, error) {
			return nil, repository.ErrListingUnavailable
		},
	}
	svc := NewService(&mockCartRepo{count: 1}, &mockListingRepo{}, purchases)

	_, err := svc.Checkout(context.Background(), &model.Actor{ID: buyerID})
	assertAPIError(t, err, model.ErrCodeListingUnavailable)
}

// TestCheckout_Total は購入記録の合計金額を検証する。
func TestCheckout_Total(t *testing.T) {
	purchases := &mockPurchaseRepo{
		checkoutFn: func(ctx context.Context, id string) ([]*model.Purchase, error) {
			if id != buyerID {
				t.Errorf("buyer id = %q, want %q", id, buyerID)
			}
			return []*model.Purchase{
				{Price: 10, Quantity: 2},
				{Price: 5.5, Quantity: 1},
			}, nil
		},
	}
	svc := NewService(&mockCartRepo{count: 3}, &mockListingRepo{}, purchases)

	result, err := svc.Checkout(context.Background(), &model.Actor{ID: buyerID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Total != 25.5 {
		t.Errorf("total = %v, want 25.5", result.Total)
	}
}

// TestService_RequiresActor は行為者なしの操作がUnauthenticatedになることを検証する。
func TestService_RequiresActor(t *testing.T) {
	svc := NewService(&mockCartRepo{}, &mockListingRepo{}, &mockPurchaseRepo{})
	ctx := context.Background()

	if _, err := svc.List(ctx, nil); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Errorf("List err = %v", err)
	}
	if _, err := svc.Count(ctx, nil); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Errorf("Count err = %v", err)
	}
	if _, err := svc.Checkout(ctx, nil); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Errorf("Checkout err = %v", err)
	}
	if err := svc.Remove(ctx, nil, itemID); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Errorf("Remove err = %v", err)
	}
}
