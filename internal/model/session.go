package model

import "time"

// セッションデータの予約キー。
const (
	SessionKeyUserID     = "userId"
	SessionKeyOAuthState = "oauthState"
	SessionKeyUserAgent  = "userAgent"
	SessionKeyDevice     = "device"
	SessionKeyIP         = "ip"
)

// SessionData はセッションに紐づく任意のキー/値データ。
// JSONとして永続化される。
type SessionData map[string]string

// Clone はSessionDataの複製を返す。nilの場合は空のマップを返す。
func (d SessionData) Clone() SessionData {
	out := make(SessionData, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Session はクライアントとの1つの認証バインディングを表す。
// UserIDが空のセッションは匿名であり、いかなる権限も与えない。
type Session struct {
	ID        string
	UserID    string
	Data      SessionData
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsAnonymous はユーザーが紐づいていないセッションかどうかを返す。
func (s *Session) IsAnonymous() bool {
	return s.UserID == ""
}

// IsExpired は指定時刻の時点で有効期限を過ぎているかどうかを返す。
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Decision はリクエストごとに導出される認可判定を表す。永続化はしない。
type Decision int

const (
	// DecisionAnonymous は未認証。
	DecisionAnonymous Decision = iota
	// DecisionAuthenticated は一般ユーザーとして認証済み。
	DecisionAuthenticated
	// DecisionAdmin は管理者として認証済み。
	DecisionAdmin
)

// String はログ出力用の表現を返す。
func (d Decision) String() string {
	switch d {
	case DecisionAuthenticated:
		return "authenticated"
	case DecisionAdmin:
		return "authenticated-admin"
	default:
		return "anonymous"
	}
}
