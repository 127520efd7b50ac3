// Package storage は商品画像・プロフィール画像のオブジェクトストレージを提供する。
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config はS3互換オブジェクトストレージの接続設定。
type Config struct {
	Endpoint  string // host:port（スキームなし）
	AccessKey string
	SecretKey string
	UseSSL    bool
	// PublicURL は公開URLの基点。空の場合はエンドポイントから組み立てる。
	PublicURL string
}

// BlobStore はminio-goクライアントによるオブジェクトストレージ。
// IdPクライアントとは独立した接続を持つ。
type BlobStore struct {
	client    *minio.Client
	publicURL string
}

// New はBlobStoreを生成する。接続はリクエスト時に確立される。
func New(cfg Config) (*BlobStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("storage endpoint is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	publicURL := strings.TrimRight(cfg.PublicURL, "/")
	if publicURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicURL = scheme + "://" + cfg.Endpoint
	}
	return &BlobStore{client: client, publicURL: publicURL}, nil
}

// Put はオブジェクトを保存し、公開URLを返す。
func (s *BlobStore) Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "public, max-age=3600",
	})
	if err != nil {
		return "", fmt.Errorf("failed to put object %s/%s: %w", bucket, key, err)
	}
	return s.PublicURL(bucket, key), nil
}

// Remove はオブジェクトを削除する。存在しないキーの削除はエラーにならない。
func (s *BlobStore) Remove(ctx context.Context, bucket, key string) error {
	if err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove object %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Ping はバケットの存在を確認する。ヘルスチェックに使う。
func (s *BlobStore) Ping(ctx context.Context, bucket string) error {
	ok, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}
	if !ok {
		return fmt.Errorf("bucket %s does not exist", bucket)
	}
	return nil
}

// PublicURL はオブジェクトの公開URLを返す。
func (s *BlobStore) PublicURL(bucket, key string) string {
	return JoinURL(s.publicURL, bucket, key)
}

// JoinURL は基点URLにバケットとキーを連結する。キーの各セグメントはエスケープする。
func JoinURL(base, bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(bucket) + "/" + strings.Join(segments, "/")
}

// ListingImageKey は商品画像のキーを返す。形式: {seller}/{seller}_{unixms}.{ext}
func ListingImageKey(sellerID string, at time.Time, ext string) string {
	return path.Join(sellerID, fmt.Sprintf("%s_%d.%s", sellerID, at.UnixMilli(), ext))
}

// ProfilePictureKey はプロフィール画像のキーを返す。形式: {user}/avatar_{unixms}.{ext}
func ProfilePictureKey(userID string, at time.Time, ext string) string {
	return path.Join(userID, fmt.Sprintf("avatar_%d.%s", at.UnixMilli(), ext))
}
