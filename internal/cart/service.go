// Package cart はカート操作とチェックアウトのドメインロジックを提供する。
package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/unimarket/internal/auth"
	"github.com/hitoshi/unimarket/internal/model"
	"github.com/hitoshi/unimarket/internal/repository"
)

// MaxQuantity はカート1行あたりの数量の上限。
const MaxQuantity = 99

// CheckoutResult はチェックアウトの結果。
type CheckoutResult struct {
	Purchases []*model.Purchase
	Total     float64
}

// Service はカートと購入記録のサービス層。
type Service struct {
	carts     repository.CartRepository
	listings  repository.ListingRepository
	purchases repository.PurchaseRepository
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	carts repository.CartRepository,
	listings repository.ListingRepository,
	purchases repository.PurchaseRepository,
) *Service {
	return &Service{
		carts:     carts,
		listings:  listings,
		purchases: purchases,
		now:       time.Now,
	}
}

// List は行為者のカートを出品情報付きで返す。
func (s *Service) List(ctx context.Context, actor *model.Actor) ([]model.CartLine, error) {
	if actor == nil {
		return nil, unauthenticated("list cart")
	}
	lines, err := s.carts.ListByUser(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("カートの取得に失敗しました: %w", err)
	}
	return lines, nil
}

// Add は出品をカートに追加する。既にある場合は数量を加算する。
// 出品が存在し、販売中であり、行為者自身の出品でないことを確認する。
func (s *Service) Add(ctx context.Context, actor *model.Actor, listingID string, quantity int) (*model.CartItem, error) {
	if actor == nil {
		return nil, unauthenticated("add to cart")
	}
	if quantity <= 0 {
		quantity = 1
	}
	if quantity > MaxQuantity {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("quantity must be at most %d", MaxQuantity))
	}

	listing, err := s.listings.FindByID(ctx, listingID)
	if err != nil {
		return nil, fmt.Errorf("出品の取得に失敗しました: %w", err)
	}
	if listing == nil {
		return nil, model.NewListingNotFoundError(listingID)
	}
	if listing.Status != model.ListingStatusActive {
		return nil, model.NewListingUnavailableError()
	}
	if auth.SameID(listing.SellerID, actor.ID) {
		return nil, model.NewOwnListingError()
	}

	now := s.now()
	item, err := s.carts.Add(ctx, &model.CartItem{
		ID:        uuid.New().String(),
		UserID:    actor.ID,
		ListingID: listing.ID,
		Quantity:  quantity,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("カートへの追加に失敗しました: %w", err)
	}
	return item, nil
}

// UpdateQuantity はカート行の数量を変更する。0以下の場合は行を削除する。
func (s *Service) UpdateQuantity(ctx context.Context, actor *model.Actor, itemID string, quantity int) error {
	if quantity > MaxQuantity {
		return model.NewInvalidRequestError(fmt.Sprintf("quantity must be at most %d", MaxQuantity))
	}
	item, err := auth.FetchOwned(ctx, actor, itemID, s.carts.FindByID)
	if err != nil {
		return err
	}

	var ok bool
	if quantity <= 0 {
		ok, err = s.carts.DeleteOwned(ctx, item.ID, actor.ID)
	} else {
		ok, err = s.carts.UpdateQuantityOwned(ctx, item.ID, actor.ID, quantity)
	}
	if err != nil {
		return fmt.Errorf("カートの更新に失敗しました: %w", err)
	}
	if !ok {
		return &auth.Error{Kind: auth.KindNotFound, Op: "update cart item", ActorID: actor.ID, ResourceID: itemID}
	}
	return nil
}

// Remove はカート行を削除する。
func (s *Service) Remove(ctx context.Context, actor *model.Actor, itemID string) error {
	item, err := auth.FetchOwned(ctx, actor, itemID, s.carts.FindByID)
	if err != nil {
		return err
	}
	ok, err := s.carts.DeleteOwned(ctx, item.ID, actor.ID)
	if err != nil {
		return fmt.Errorf("カート行の削除に失敗しました: %w", err)
	}
	if !ok {
		return &auth.Error{Kind: auth.KindNotFound, Op: "remove cart item", ActorID: actor.ID, ResourceID: itemID}
	}
	return nil
}

// Clear は行為者のカートを空にする。
func (s *Service) Clear(ctx context.Context, actor *model.Actor) error {
	if actor == nil {
		return unauthenticated("clear cart")
	}
	if err := s.carts.ClearByUser(ctx, actor.ID); err != nil {
		return fmt.Errorf("カートのクリアに失敗しました: %w", err)
	}
	return nil
}

// Count はカート内の数量の合計を返す。
func (s *Service) Count(ctx context.Context, actor *model.Actor) (int, error) {
	if actor == nil {
		return 0, unauthenticated("count cart")
	}
	n, err := s.carts.CountByUser(ctx, actor.ID)
	if err != nil {
		return 0, fmt.Errorf("カート件数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// Checkout はカートの内容を購入記録に変換する。決済は行わない。
func (s *Service) Checkout(ctx context.Context, actor *model.Actor) (*CheckoutResult, error) {
	if actor == nil {
		return nil, unauthenticated("checkout")
	}
	n, err := s.carts.CountByUser(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("カート件数の取得に失敗しました: %w", err)
	}
	if n == 0 {
		return nil, model.NewCartEmptyError()
	}

	purchases, err := s.purchases.Checkout(ctx, actor.ID)
	if errors.Is(err, repository.ErrListingUnavailable) {
		return nil, model.NewListingUnavailableError()
	}
	if err != nil {
		return nil, fmt.Errorf("チェックアウトに失敗しました: %w", err)
	}
	if len(purchases) == 0 {
		return nil, model.NewCartEmptyError()
	}

	result := &CheckoutResult{Purchases: purchases}
	for _, p := range purchases {
		result.Total += p.Subtotal()
	}

	slog.Info("チェックアウトしました",
		slog.String("actor_id", actor.ID),
		slog.Int("purchases", len(purchases)),
	)
	return result, nil
}

// Purchases は行為者の購入履歴を返す。
func (s *Service) Purchases(ctx context.Context, actor *model.Actor) ([]*model.Purchase, error) {
	if actor == nil {
		return nil, unauthenticated("list purchases")
	}
	purchases, err := s.purchases.ListByBuyer(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("購入履歴の取得に失敗しました: %w", err)
	}
	return purchases, nil
}

// Balance は行為者の出品者としての売上集計を返す。
func (s *Service) Balance(ctx context.Context, actor *model.Actor) (*model.SellerBalance, error) {
	if actor == nil {
		return nil, unauthenticated("balance")
	}
	b, err := s.purchases.BalanceBySeller(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("売上集計の取得に失敗しました: %w", err)
	}
	return b, nil
}

func unauthenticated(op string) error {
	return &auth.Error{Kind: auth.KindUnauthenticated, Op: op}
}
