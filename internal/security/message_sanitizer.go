package security

import (
	"github.com/microcosm-cc/bluemonday"
)

// MessageSanitizer はボットのHTMLモードのメッセージに埋め込む文字列を無害化する。
// 加盟店が登録したサービス名・プラン名や利用者の表示名が対象。
type MessageSanitizer struct {
	text   *bluemonday.Policy
	markup *bluemonday.Policy
}

// NewMessageSanitizer はMessageSanitizerを生成する。
func NewMessageSanitizer() *MessageSanitizer {
	markup := bluemonday.NewPolicy()
	// ボットAPIのHTMLモードが解釈する装飾タグのみ
	markup.AllowElements("b", "strong", "i", "em", "u", "s", "code")

	return &MessageSanitizer{
		text:   bluemonday.StrictPolicy(),
		markup: markup,
	}
}

// Text はタグをすべて除去し、&、<、>をエスケープした文字列を返す。
func (s *MessageSanitizer) Text(raw string) string {
	return s.text.Sanitize(raw)
}

// Markup は装飾タグだけを残す。リンクや属性は除去する。
func (s *MessageSanitizer) Markup(raw string) string {
	return s.markup.Sanitize(raw)
}
