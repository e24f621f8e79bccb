// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ProfileSanitizerService は外部IdPから受け取った氏名などのプロフィール文字列から
// マークアップを除去し、プレーンテキストとして保存できる形に正規化する。
// SSRFGuardService はIdPへのHTTPリクエストとIdP由来のURLを検証する。
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxProfileTextRunes はプロフィール文字列として保存する最大文字数。
const MaxProfileTextRunes = 100

// ProfileSanitizerService はプロフィール文字列のサニタイズ機能のインターフェースを定義する。
type ProfileSanitizerService interface {
	// SanitizeText はHTMLタグを全て除去し、前後の空白を取り除いたプレーンテキストを返す。
	// script, styleタグは内容ごと除去される。
	// MaxProfileTextRunesを超える部分は切り捨てる。
	// 同一入力に対して常に同一出力を返す（冪等）。
	SanitizeText(raw string) string
}

// profileSanitizer はProfileSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type profileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerServiceの新しいインスタンスを生成する。
// タグを一切許可しないbluemondayのStrictPolicyを使用する。
func NewProfileSanitizer() *profileSanitizer {
	return &profileSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeText はプロフィール文字列をプレーンテキストに正規化する。
func (s *profileSanitizer) SanitizeText(raw string) string {
	if raw == "" {
		return ""
	}

	// StrictPolicyはテキストをHTMLエスケープして返すため、保存用に元に戻す
	text := html.UnescapeString(s.policy.Sanitize(raw))
	text = strings.Join(strings.Fields(text), " ")

	if utf8.RuneCountInString(text) > MaxProfileTextRunes {
		text = strings.TrimSpace(string([]rune(text)[:MaxProfileTextRunes]))
	}
	return text
}

// compile-time interface check
var _ ProfileSanitizerService = (*profileSanitizer)(nil)
