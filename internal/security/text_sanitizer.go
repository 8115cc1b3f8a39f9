// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer は目標のタイトルと説明から全てのHTMLを取り除き、プレーンテキストにする。
// 目標は表示層でテキストとして描画されるため、タグは一切許可しない。
package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はユーザー入力のテキストを正規化するインターフェース。
type TextSanitizer interface {
	// Sanitize はHTMLタグと制御文字を取り除き、前後の空白を削ったテキストを返す。
	Sanitize(raw string) string
}

// textSanitizer はbluemondayのStrictPolicyを使用したTextSanitizerの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はHTMLを除去したプレーンテキストを返す。
// StrictPolicyが出力するHTMLエンティティは元の文字に戻す（"Tom & Jerry" を保つため）。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := html.UnescapeString(s.policy.Sanitize(raw))
	stripped = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, stripped)
	return strings.TrimSpace(stripped)
}
