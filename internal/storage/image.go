package storage

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/hitoshi/unimarket/internal/model"
)

// DefaultMaxUploadBytes は画像アップロードの既定の上限サイズ（5MiB）。
const DefaultMaxUploadBytes int64 = 5 << 20

// Upload はアップロードされた画像ファイル。
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// CheckImage はアップロードが上限サイズ以下の画像であることを確認し、拡張子とContent-Typeを返す。
func CheckImage(u *Upload, maxBytes int64) (ext, contentType string, err error) {
	if u == nil || u.Body == nil {
		return "", "", model.NewImageMissingError()
	}
	if u.Size > maxBytes {
		return "", "", model.NewFileTooLargeError(maxBytes)
	}
	ext, contentType, ok := ImageType(u.Filename, u.ContentType)
	if !ok {
		return "", "", model.NewUnsupportedImageError(u.ContentType)
	}
	return ext, contentType, nil
}

var imageExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

var extensionTypes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
}

// ImageType はアップロードされた画像の拡張子とContent-Typeを決定する。
// 宣言されたContent-Typeを優先し、なければファイル名の拡張子から判断する。
// 画像として扱えない場合はok=falseを返す。
func ImageType(filename, contentType string) (ext, ctype string, ok bool) {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if e, found := imageExtensions[ct]; found {
		return e, ct, true
	}

	e := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if t, found := extensionTypes[e]; found && (ct == "" || ct == "application/octet-stream") {
		if e == "jpeg" {
			e = "jpg"
		}
		return e, t, true
	}
	return "", "", false
}
