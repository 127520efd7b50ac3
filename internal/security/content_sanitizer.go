// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizer は利用者が入力したテキスト（出品タイトル・説明文・メッセージ）を
// 保存前にサニタイズする。bluemondayの許可リストベースのポリシーを使用する。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizer は利用者入力のサニタイズ機能のインターフェースを定義する。
type ContentSanitizer interface {
	// SanitizeText は全てのタグを除去したテキストを返す。
	// タイトルやメッセージ本文など、書式を持たないフィールドに使用する。
	// 出力はHTMLエスケープ済みで、前後の空白は取り除かれる。
	SanitizeText(raw string) string

	// SanitizeDescription は簡易な書式タグ（p, br, ul, ol, li, strong, em）のみを残す。
	// 属性は全て除去される。出品の説明文に使用する。
	SanitizeDescription(raw string) string
}

// contentSanitizer はContentSanitizerの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type contentSanitizer struct {
	text        *bluemonday.Policy
	description *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerの新しいインスタンスを生成する。
func NewContentSanitizer() ContentSanitizer {
	description := bluemonday.NewPolicy()
	// script, iframe, style, a, img 等は許可リストに含めないことで除去される
	description.AllowElements("p", "br", "ul", "ol", "li", "strong", "em")

	return &contentSanitizer{
		text:        bluemonday.StrictPolicy(),
		description: description,
	}
}

// SanitizeText は全てのタグを除去したテキストを返す。
func (s *contentSanitizer) SanitizeText(raw string) string {
	return strings.TrimSpace(s.text.Sanitize(raw))
}

// SanitizeDescription は簡易な書式タグのみを残したHTMLを返す。
func (s *contentSanitizer) SanitizeDescription(raw string) string {
	return strings.TrimSpace(s.description.Sanitize(raw))
}
