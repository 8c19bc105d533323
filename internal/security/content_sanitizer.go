// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer は投稿のタイトル・本文・タグからHTMLを取り除き、プレーンテキストとして保存する。
// WebhookGuard は通知Webhookの送信先を検証し、SSRF防止付きのHTTPクライアントを提供する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer はユーザー入力をプレーンテキストに正規化するインターフェース。
type Sanitizer interface {
	// Sanitize は全てのHTMLタグを取り除いたテキストを返す。
	Sanitize(s string) string
}

// TextSanitizer はbluemondayのStrictPolicyによるSanitizerの実装。
// タグは除去し、エスケープされた文字実体は元の文字に戻す。
// 出力時のエスケープはJSONエンコーダ側で行われる。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

var _ Sanitizer = (*TextSanitizer)(nil)

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize は全てのHTMLタグを取り除き、前後の空白を除いたテキストを返す。
func (s *TextSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}

// SanitizeTags はタグ一覧を正規化する。空になったタグと重複は除く。
func (s *TextSanitizer) SanitizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		clean := s.Sanitize(tag)
		if clean == "" || seen[clean] {
			continue
		}
		seen[clean] = true
		out = append(out, clean)
	}
	return out
}
