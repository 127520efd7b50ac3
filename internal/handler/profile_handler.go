package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/unimarket/internal/model"
	"github.com/hitoshi/unimarket/internal/profile"
	"github.com/hitoshi/unimarket/internal/storage"
)

// ProfileServiceInterface はプロフィールハンドラーが必要とするサービスインターフェース。
type ProfileServiceInterface interface {
	MaxUploadBytes() int64
	Get(ctx context.Context, actor *model.Actor) (*model.Student, error)
	Update(ctx context.Context, actor *model.Actor, req profile.UpdateRequest) (*model.Student, error)
	UploadPicture(ctx context.Context, actor *model.Actor, upload *storage.Upload) (string, error)
}

// ProfileHandler は行為者自身のプロフィールのHTTPハンドラー。
type ProfileHandler struct {
	service ProfileServiceInterface
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(service ProfileServiceInterface) *ProfileHandler {
	return &ProfileHandler{service: service}
}

type profileResponse struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	DisplayName    string    `json:"display_name"`
	Phone          string    `json:"phone"`
	ProfilePicture string    `json:"profile_picture,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type updateProfileRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

func toProfileResponse(s *model.Student) profileResponse {
	return profileResponse{
		ID:             s.ID,
		Email:          s.Email,
		FirstName:      s.FirstName,
		LastName:       s.LastName,
		DisplayName:    s.DisplayName(),
		Phone:          s.Phone,
		ProfilePicture: s.ProfilePicture,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

// Get は行為者自身のプロフィールを返す。
// GET /api/profile
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	student, err := h.service.Get(r.Context(), actor)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toProfileResponse(student))
}

// Update は氏名と電話番号を更新する。
// PUT /api/profile
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	student, err := h.service.Update(r.Context(), actor, profile.UpdateRequest{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toProfileResponse(student))
}

// UploadPicture はプロフィール画像をアップロードする。
// POST /api/profile/picture
func (h *ProfileHandler) UploadPicture(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	if !parseMultipartForm(w, r, h.service.MaxUploadBytes()) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	upload, closeFile := formImage(r)
	defer closeFile()
	if upload == nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewImageMissingError())
		return
	}

	pictureURL, err := h.service.UploadPicture(r.Context(), actor, upload)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message":         "Profile picture updated",
		"profile_picture": pictureURL,
	})
}
