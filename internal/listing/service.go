// Package listing は出品の作成・検索・所有者による更新と削除のドメインロジックを提供する。
package listing

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/unimarket/internal/auth"
	"github.com/hitoshi/unimarket/internal/model"
	"github.com/hitoshi/unimarket/internal/repository"
	"github.com/hitoshi/unimarket/internal/security"
	"github.com/hitoshi/unimarket/internal/storage"
)

const (
	// maxPrice はnumeric(10,2)で保存できる最大値。
	maxPrice = 99999999.99

	featuredLimit = 12
	maxTitleRunes = 200
)

// BlobStore は商品画像の保存先。
type BlobStore interface {
	Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) (string, error)
	Remove(ctx context.Context, bucket, key string) error
}

// CreateRequest は出品作成の入力。出品者は常に行為者であり、入力からは受け取らない。
type CreateRequest struct {
	Title       string
	Description string
	Price       string
	Category    string
	Condition   string
	Image       *storage.Upload
}

// UpdateRequest は出品の部分更新の入力。nilのフィールドは変更しない。
type UpdateRequest struct {
	Title       *string
	Description *string
	Price       *float64
	Category    *string
	Condition   *string
}

// Service は出品管理のサービス層。
type Service struct {
	listings  repository.ListingRepository
	blobs     BlobStore
	sanitizer security.ContentSanitizer
	bucket    string
	maxBytes  int64
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// maxBytesが0以下の場合はstorage.DefaultMaxUploadBytesを使う。
func NewService(
	listings repository.ListingRepository,
	blobs BlobStore,
	sanitizer security.ContentSanitizer,
	bucket string,
	maxBytes int64,
) *Service {
	if maxBytes <= 0 {
		maxBytes = storage.DefaultMaxUploadBytes
	}
	return &Service{
		listings:  listings,
		blobs:     blobs,
		sanitizer: sanitizer,
		bucket:    bucket,
		maxBytes:  maxBytes,
		now:       time.Now,
	}
}

// MaxUploadBytes は受け付ける画像の上限サイズを返す。
func (s *Service) MaxUploadBytes() int64 {
	return s.maxBytes
}

// Create は画像をアップロードし、行為者を出品者として出品を作成する。
func (s *Service) Create(ctx context.Context, actor *model.Actor, req CreateRequest) (*model.Listing, error) {
	if actor == nil {
		return nil, &auth.Error{Kind: auth.KindUnauthenticated, Op: "create listing"}
	}

	title := s.sanitizer.SanitizeText(req.Title)
	if title == "" {
		return nil, model.NewInvalidRequestError("title is required")
	}
	if len([]rune(title)) > maxTitleRunes {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("title must be at most %d characters", maxTitleRunes))
	}
	price, err := ParsePrice(req.Price)
	if err != nil {
		return nil, err
	}

	ext, contentType, err := storage.CheckImage(req.Image, s.maxBytes)
	if err != nil {
		return nil, err
	}

	now := s.now()
	key := storage.ListingImageKey(actor.ID, now, ext)
	imageURL, err := s.blobs.Put(ctx, s.bucket, key, req.Image.Body, req.Image.Size, contentType)
	if err != nil {
		slog.Error("商品画像のアップロードに失敗しました",
			slog.String("actor_id", actor.ID),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return nil, model.NewStorageUnavailableError()
	}

	l := &model.Listing{
		ID:          uuid.New().String(),
		SellerID:    actor.ID,
		Title:       title,
		Description: s.sanitizer.SanitizeDescription(req.Description),
		Price:       price,
		Category:    s.sanitizer.SanitizeText(req.Category),
		Condition:   s.sanitizer.SanitizeText(req.Condition),
		ImageURL:    imageURL,
		ImageKey:    key,
		Status:      model.ListingStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.listings.Create(ctx, l); err != nil {
		s.removeImage(ctx, key)
		return nil, fmt.Errorf("出品の作成に失敗しました: %w", err)
	}

	slog.Info("出品を作成しました",
		slog.String("actor_id", actor.ID),
		slog.String("listing_id", l.ID),
	)
	return l, nil
}

// Search は販売中の出品を検索する。
func (s *Service) Search(ctx context.Context, q model.SearchQuery) ([]model.ListingWithSeller, error) {
	q.Query = strings.TrimSpace(q.Query)
	q.Category = strings.TrimSpace(q.Category)
	if q.MinPrice != nil && q.MaxPrice != nil && *q.MinPrice > *q.MaxPrice {
		return nil, model.NewInvalidRequestError("min_price must not exceed max_price")
	}

	results, err := s.listings.Search(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("出品の検索に失敗しました: %w", err)
	}
	return results, nil
}

// Featured はトップページ用に新着の販売中出品を返す。
func (s *Service) Featured(ctx context.Context) ([]model.ListingWithSeller, error) {
	return s.Search(ctx, model.SearchQuery{Limit: featuredLimit})
}

// Get は出品を出品者名付きで返す。誰でも閲覧できる。
func (s *Service) Get(ctx context.Context, id string) (*model.ListingWithSeller, error) {
	l, err := s.listings.FindWithSeller(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("出品の取得に失敗しました: %w", err)
	}
	if l == nil {
		return nil, model.NewListingNotFoundError(id)
	}
	return l, nil
}

// ListMine は行為者自身の出品一覧を返す。
func (s *Service) ListMine(ctx context.Context, actor *model.Actor) ([]*model.Listing, error) {
	if actor == nil {
		return nil, &auth.Error{Kind: auth.KindUnauthenticated, Op: "list my listings"}
	}
	listings, err := s.listings.ListBySeller(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("出品一覧の取得に失敗しました: %w", err)
	}
	return listings, nil
}

// Stats は行為者自身の出品統計を返す。
func (s *Service) Stats(ctx context.Context, actor *model.Actor) (*model.ListingStats, error) {
	if actor == nil {
		return nil, &auth.Error{Kind: auth.KindUnauthenticated, Op: "listing stats"}
	}
	stats, err := s.listings.StatsBySeller(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("出品統計の取得に失敗しました: %w", err)
	}
	return stats, nil
}

// Update は出品を部分更新する。
// 取得・存在確認・所有権確認の後に、所有者IDをキーに含めて更新する。
func (s *Service) Update(ctx context.Context, actor *model.Actor, id string, req UpdateRequest) (*model.Listing, error) {
	existing, err := auth.FetchOwned(ctx, actor, id, s.listings.FindByID)
	if err != nil {
		return nil, err
	}

	patch, err := s.buildPatch(req)
	if err != nil {
		return nil, err
	}

	updated, err := s.listings.UpdateOwned(ctx, existing.ID, actor.ID, patch)
	if err != nil {
		return nil, fmt.Errorf("出品の更新に失敗しました: %w", err)
	}
	if updated == nil {
		// 確認後に削除された場合
		return nil, &auth.Error{Kind: auth.KindNotFound, Op: "update listing", ActorID: actor.ID, ResourceID: id}
	}
	return updated, nil
}

// Delete は出品を削除し、画像の削除を試みる。画像の削除失敗は記録のみ行う。
func (s *Service) Delete(ctx context.Context, actor *model.Actor, id string) error {
	existing, err := auth.FetchOwned(ctx, actor, id, s.listings.FindByID)
	if err != nil {
		return err
	}

	deleted, err := s.listings.DeleteOwned(ctx, existing.ID, actor.ID)
	if err != nil {
		return fmt.Errorf("出品の削除に失敗しました: %w", err)
	}
	if !deleted {
		return &auth.Error{Kind: auth.KindNotFound, Op: "delete listing", ActorID: actor.ID, ResourceID: id}
	}

	if existing.ImageKey != "" {
		s.removeImage(ctx, existing.ImageKey)
	}

	slog.Info("出品を削除しました",
		slog.String("actor_id", actor.ID),
		slog.String("listing_id", existing.ID),
	)
	return nil
}

func (s *Service) buildPatch(req UpdateRequest) (model.ListingPatch, error) {
	var patch model.ListingPatch
	if req.Title != nil {
		title := s.sanitizer.SanitizeText(*req.Title)
		if title == "" {
			return patch, model.NewInvalidRequestError("title must not be empty")
		}
		if len([]rune(title)) > maxTitleRunes {
			return patch, model.NewInvalidRequestError(fmt.Sprintf("title must be at most %d characters", maxTitleRunes))
		}
		patch.Title = &title
	}
	if req.Description != nil {
		d := s.sanitizer.SanitizeDescription(*req.Description)
		patch.Description = &d
	}
	if req.Price != nil {
		if !validPrice(*req.Price) {
			return patch, model.NewInvalidPriceError(strconv.FormatFloat(*req.Price, 'f', -1, 64))
		}
		p := roundPrice(*req.Price)
		patch.Price = &p
	}
	if req.Category != nil {
		c := s.sanitizer.SanitizeText(*req.Category)
		patch.Category = &c
	}
	if req.Condition != nil {
		c := s.sanitizer.SanitizeText(*req.Condition)
		patch.Condition = &c
	}
	return patch, nil
}

func (s *Service) removeImage(ctx context.Context, key string) {
	if err := s.blobs.Remove(ctx, s.bucket, key); err != nil {
		slog.Warn("商品画像の削除に失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// ParsePrice はフォーム入力の価格を解析する。0以上かつ保存可能な範囲の数値のみ受け付ける。
func ParsePrice(raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || !validPrice(v) {
		return 0, model.NewInvalidPriceError(raw)
	}
	return roundPrice(v), nil
}

func validPrice(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0 && v <= maxPrice
}

func roundPrice(v float64) float64 {
	return math.Round(v*100) / 100
}
