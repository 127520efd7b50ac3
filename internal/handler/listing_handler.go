package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/unimarket/internal/listing"
	"github.com/hitoshi/unimarket/internal/model"
	"github.com/hitoshi/unimarket/internal/storage"
)

// multipartOverheadBytes は画像以外のフォーム項目に許容するサイズ。
const multipartOverheadBytes = 1 << 20

// maxSearchLimit は検索結果の最大件数。
const maxSearchLimit = 100

// ListingServiceInterface は出品ハンドラーが必要とするサービスインターフェース。
type ListingServiceInterface interface {
	MaxUploadBytes() int64
	Create(ctx context.Context, actor *model.Actor, req listing.CreateRequest) (*model.Listing, error)
	Search(ctx context.Context, q model.SearchQuery) ([]model.ListingWithSeller, error)
	Featured(ctx context.Context) ([]model.ListingWithSeller, error)
	Get(ctx context.Context, id string) (*model.ListingWithSeller, error)
	ListMine(ctx context.Context, actor *model.Actor) ([]*model.Listing, error)
	Stats(ctx context.Context, actor *model.Actor) (*model.ListingStats, error)
	Update(ctx context.Context, actor *model.Actor, id string, req listing.UpdateRequest) (*model.Listing, error)
	Delete(ctx context.Context, actor *model.Actor, id string) error
}

// ListingHandler は出品管理のHTTPハンドラー。
type ListingHandler struct {
	service ListingServiceInterface
}

// NewListingHandler はListingHandlerを生成する。
func NewListingHandler(service ListingServiceInterface) *ListingHandler {
	return &ListingHandler{service: service}
}

// listingResponse は出品のAPIレスポンス。
type listingResponse struct {
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
	UpdatedAt   time.Time `json:"updated_at"`
}

type listingStatsResponse struct {
	TotalListings  int     `json:"total_listings"`
	ActiveListings int     `json:"active_listings"`
	TotalValue     float64 `json:"total_value"`
}

// updateListingRequest は出品の部分更新リクエストのボディ。
// seller_idなど所有者に関わる項目は受け付けない。
type updateListingRequest struct {
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	Price       *float64 `json:"price"`
	Category    *string  `json:"category"`
	Condition   *string  `json:"condition"`
}

func toListingResponse(l *model.Listing, sellerName string) listingResponse {
	return listingResponse{
		ID:          l.ID,
		SellerID:    l.SellerID,
		SellerName:  sellerName,
		Title:       l.Title,
		Description: l.Description,
		Price:       l.Price,
		Category:    l.Category,
		Condition:   l.Condition,
		ImageURL:    l.ImageURL,
		Status:      string(l.Status),
		CreatedAt:   l.CreatedAt,
		UpdatedAt:   l.UpdatedAt,
	}
}

func toListingResponses(ls []model.ListingWithSeller) []listingResponse {
	out := make([]listingResponse, 0, len(ls))
	for i := range ls {
		out = append(out, toListingResponse(&ls[i].Listing, ls[i].SellerName))
	}
	return out
}

// Upload はmultipartフォームで商品画像と出品情報を受け取り、出品を作成する。
// POST /uploadProduct
func (h *ListingHandler) Upload(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	if !parseMultipartForm(w, r, h.service.MaxUploadBytes()) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	req := listing.CreateRequest{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Price:       r.FormValue("price"),
		Category:    r.FormValue("category"),
		Condition:   r.FormValue("condition"),
	}

	upload, closeFile := formImage(r)
	defer closeFile()
	req.Image = upload

	created, err := h.service.Create(r.Context(), actor, req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": "Product uploaded successfully",
		"listing": toListingResponse(created, ""),
	})
}

// Search は販売中の出品を検索する。
// GET /search?query=...&category=...&min_price=...&max_price=...&limit=...
// GET /api/products/search
func (h *ListingHandler) Search(w http.ResponseWriter, r *http.Request) {
	q, apiErr := parseSearchQuery(r)
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	results, err := h.service.Search(r.Context(), q)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toListingResponses(results))
}

// Featured はトップページ用の新着出品を返す。
// GET /api/featured-products
func (h *ListingHandler) Featured(w http.ResponseWriter, r *http.Request) {
	results, err := h.service.Featured(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toListingResponses(results))
}

// Get は出品の詳細を返す。
// GET /api/listings/{id}
func (h *ListingHandler) Get(w http.ResponseWriter, r *http.Request) {
	l, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toListingResponse(&l.Listing, l.SellerName))
}

// ListMine は行為者自身の出品一覧を返す。
// GET /api/my-listings
func (h *ListingHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	ls, err := h.service.ListMine(r.Context(), actor)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	out := make([]listingResponse, 0, len(ls))
	for _, l := range ls {
		out = append(out, toListingResponse(l, ""))
	}
	writeJSON(w, http.StatusOK, out)
}

// Stats は行為者自身の出品統計を返す。
// GET /api/my-listings/stats
func (h *ListingHandler) Stats(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	stats, err := h.service.Stats(r.Context(), actor)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, listingStatsResponse{
		TotalListings:  stats.TotalListings,
		ActiveListings: stats.ActiveListings,
		TotalValue:     stats.TotalValue,
	})
}

// Update は出品を部分更新する。出品者本人のみ実行できる。
// PATCH /api/my-listings/{id}
func (h *ListingHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req updateListingRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	updated, err := h.service.Update(r.Context(), actor, chi.URLParam(r, "id"), listing.UpdateRequest{
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
		Category:    req.Category,
		Condition:   req.Condition,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toListingResponse(updated, ""))
}

// Delete は出品を削除する。出品者本人のみ実行できる。
// DELETE /api/my-listings/{id}
func (h *ListingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// parseMultipartForm はアップロードサイズを制限してmultipartフォームを解析する。
// 失敗した場合はエラーレスポンスを書き込みfalseを返す。
func parseMultipartForm(w http.ResponseWriter, r *http.Request, maxBytes int64) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverheadBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeAPIErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewFileTooLargeError(maxBytes))
			return false
		}
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("multipart form is required"))
		return false
	}
	return true
}

// formImage はフォームの"image"項目を取り出す。項目がない場合はnilを返す。
func formImage(r *http.Request) (*storage.Upload, func()) {
	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, func() {}
	}
	return &storage.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	}, func() { file.Close() }
}

// parseSearchQuery はクエリパラメータから検索条件を組み立てる。
// 検索語はqueryまたはqで受け付ける。
func parseSearchQuery(r *http.Request) (model.SearchQuery, *model.APIError) {
	v := r.URL.Query()
	q := model.SearchQuery{
		Query:    v.Get("query"),
		Category: v.Get("category"),
	}
	if q.Query == "" {
		q.Query = v.Get("q")
	}

	for _, p := range []struct {
		name string
		dst  **float64
	}{
		{"min_price", &q.MinPrice},
		{"max_price", &q.MaxPrice},
	} {
		raw := v.Get(p.name)
		if raw == "" {
			continue
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || f < 0 {
			return q, model.NewInvalidRequestError(p.name + " must be a non-negative number")
		}
		*p.dst = &f
	}

	if raw := v.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return q, model.NewInvalidRequestError("limit must be a positive integer")
		}
		if n > maxSearchLimit {
			n = maxSearchLimit
		}
		q.Limit = n
	}
	return q, nil
}
