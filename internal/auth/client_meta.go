package auth

import (
	"strings"
	"unicode/utf8"

	"github.com/mileusna/useragent"

	"github.com/lokashrinav/LanguaLegacy-sub000/internal/model"
)

// maxUserAgentLength はセッションに保存するUser-Agentの最大長。
const maxUserAgentLength = 512

// ClientMeta はログイン要求元のクライアント情報。
type ClientMeta struct {
	UserAgent string
	IP        string
}

// SessionData はセッションに保存するクライアント情報を返す。
func (m ClientMeta) SessionData() model.SessionData {
	d := model.SessionData{}
	if m.UserAgent != "" {
		d[model.SessionKeyUserAgent] = truncateUTF8(m.UserAgent, maxUserAgentLength)
		d[model.SessionKeyDevice] = DeviceSummary(m.UserAgent)
	}
	if m.IP != "" {
		d[model.SessionKeyIP] = m.IP
	}
	return d
}

// truncateUTF8 はsを最大limitバイトに切り詰める。マルチバイト文字の途中では切らない。
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// DeviceSummary はUser-Agentから "Chrome 120.0 / Windows 10 / Desktop" 形式の要約を作る。
func DeviceSummary(userAgent string) string {
	if userAgent == "" {
		return "Unknown Device"
	}

	ua := useragent.Parse(userAgent)

	var parts []string
	if ua.Name != "" {
		browser := ua.Name
		if ua.Version != "" {
			browser += " " + ua.Version
		}
		parts = append(parts, browser)
	}
	if ua.OS != "" {
		os := ua.OS
		if ua.OSVersion != "" {
			os += " " + ua.OSVersion
		}
		parts = append(parts, os)
	}
	switch {
	case ua.Mobile:
		parts = append(parts, "Mobile")
	case ua.Tablet:
		parts = append(parts, "Tablet")
	case ua.Desktop:
		parts = append(parts, "Desktop")
	case ua.Bot:
		parts = append(parts, "Bot")
	}

	if len(parts) == 0 {
		return "Unknown Device"
	}
	return strings.Join(parts, " / ")
}
