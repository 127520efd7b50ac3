// Package profile は学生プロフィールの閲覧・更新のドメインロジックを提供する。
package profile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/unimarket/internal/auth"
	"github.com/hitoshi/unimarket/internal/model"
	"github.com/hitoshi/unimarket/internal/repository"
	"github.com/hitoshi/unimarket/internal/security"
	"github.com/hitoshi/unimarket/internal/storage"
)

const (
	maxNameLength  = 100
	maxPhoneLength = 50
)

// BlobStore はプロフィール画像の保存先。
type BlobStore interface {
	Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) (string, error)
}

// UpdateRequest はプロフィール更新の入力。
type UpdateRequest struct {
	FirstName string
	LastName  string
	Phone     string
}

// Service はプロフィールのサービス層。
type Service struct {
	students  repository.StudentRepository
	blobs     BlobStore
	sanitizer security.ContentSanitizer
	bucket    string
	maxBytes  int64
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	students repository.StudentRepository,
	blobs BlobStore,
	sanitizer security.ContentSanitizer,
	bucket string,
	maxBytes int64,
) *Service {
	if maxBytes <= 0 {
		maxBytes = storage.DefaultMaxUploadBytes
	}
	return &Service{
		students:  students,
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

// Get は行為者自身のプロフィールを返す。
func (s *Service) Get(ctx context.Context, actor *model.Actor) (*model.Student, error) {
	if actor == nil {
		return nil, &auth.Error{Kind: auth.KindUnauthenticated, Op: "get profile"}
	}
	student, err := auth.FetchOwned(ctx, actor, actor.ID, s.students.FindByID)
	if auth.KindOf(err) == auth.KindNotFound {
		return nil, model.NewProfileNotFoundError()
	}
	if err != nil {
		return nil, err
	}
	return student, nil
}

// Update は行為者自身の氏名と電話番号を更新する。
func (s *Service) Update(ctx context.Context, actor *model.Actor, req UpdateRequest) (*model.Student, error) {
	if actor == nil {
		return nil, &auth.Error{Kind: auth.KindUnauthenticated, Op: "update profile"}
	}

	first := s.sanitizer.SanitizeText(req.FirstName)
	last := s.sanitizer.SanitizeText(req.LastName)
	phone := strings.TrimSpace(req.Phone)
	if utf8.RuneCountInString(first) > maxNameLength || utf8.RuneCountInString(last) > maxNameLength {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("names must be at most %d characters", maxNameLength))
	}
	if !validPhone(phone) {
		return nil, model.NewInvalidRequestError("phone must contain only digits, spaces, '+', '-' or parentheses")
	}

	ok, err := s.students.UpdateProfile(ctx, actor.ID, first, last, phone)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}
	if !ok {
		return nil, model.NewProfileNotFoundError()
	}
	return s.Get(ctx, actor)
}

// UploadPicture はプロフィール画像をアップロードし、そのURLを保存して返す。
func (s *Service) UploadPicture(ctx context.Context, actor *model.Actor, upload *storage.Upload) (string, error) {
	if actor == nil {
		return "", &auth.Error{Kind: auth.KindUnauthenticated, Op: "upload profile picture"}
	}
	ext, contentType, err := storage.CheckImage(upload, s.maxBytes)
	if err != nil {
		return "", err
	}

	key := storage.ProfilePictureKey(actor.ID, s.now(), ext)
	pictureURL, err := s.blobs.Put(ctx, s.bucket, key, upload.Body, upload.Size, contentType)
	if err != nil {
		slog.Error("プロフィール画像のアップロードに失敗しました",
			slog.String("actor_id", actor.ID),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return "", model.NewStorageUnavailableError()
	}

	if err := s.students.UpdatePicture(ctx, actor.ID, pictureURL); err != nil {
		return "", fmt.Errorf("プロフィール画像の保存に失敗しました: %w", err)
	}
	return pictureURL, nil
}

func validPhone(phone string) bool {
	if utf8.RuneCountInString(phone) > maxPhoneLength {
		return false
	}
	for _, r := range phone {
		switch {
		case r >= '0' && r <= '9':
		case strings.ContainsRune(" +-()", r):
		default:
			return false
		}
	}
	return true
}
