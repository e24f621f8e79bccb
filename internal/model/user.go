// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"strings"
	"time"
)

// AuthProvider はユーザーの認証プロバイダー種別を表す。
type AuthProvider string

const (
	// AuthProviderLocal はユーザー名/メールアドレスとパスワードによるローカル認証。
	AuthProviderLocal AuthProvider = "local"
	// AuthProviderGoogle はGoogle OAuthによるフェデレーション認証。
	AuthProviderGoogle AuthProvider = "google"
	// AuthProviderPlatform はホスティングプラットフォームのOIDCによるフェデレーション認証。
	AuthProviderPlatform AuthProvider = "platform"
)

// Valid はプロバイダー種別が既知の値かどうかを判定する。
func (p AuthProvider) Valid() bool {
	switch p {
	case AuthProviderLocal, AuthProviderGoogle, AuthProviderPlatform:
		return true
	default:
		return false
	}
}

// User はサービス利用ユーザーを表す。
// Email/Usernameのどちらか一方は必ず存在する。
// PasswordHashはローカル認証ユーザーのみが持つ。
type User struct {
	ID              string
	Email           *string
	Username        *string
	PasswordHash    *string
	FirstName       *string
	LastName        *string
	ProfileImageURL *string
	AuthProvider    AuthProvider
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Validate はUserの不変条件を検証する。
func (u *User) Validate() error {
	if u.ID == "" {
		return errors.New("user id is required")
	}
	if isBlank(u.Email) && isBlank(u.Username) {
		return errors.New("either email or username is required")
	}
	if !u.AuthProvider.Valid() {
		return errors.New("unknown auth provider: " + string(u.AuthProvider))
	}
	hasHash := !isBlank(u.PasswordHash)
	if u.AuthProvider == AuthProviderLocal && !hasHash {
		return errors.New("local user requires a password hash")
	}
	if u.AuthProvider != AuthProviderLocal && hasHash {
		return errors.New("password hash is only allowed for local users")
	}
	return nil
}

// HasPassword はローカル認証に使えるパスワードハッシュを持つかどうかを返す。
func (u *User) HasPassword() bool {
	return !isBlank(u.PasswordHash)
}

// EmailOrEmpty はメールアドレスを返す。未設定の場合は空文字列。
func (u *User) EmailOrEmpty() string {
	return deref(u.Email)
}

// UsernameOrEmpty はユーザー名を返す。未設定の場合は空文字列。
func (u *User) UsernameOrEmpty() string {
	return deref(u.Username)
}

// DisplayName は表示用の名前を返す。
// 氏名 → ユーザー名 → メールアドレスの順で最初に存在するものを使う。
func (u *User) DisplayName() string {
	name := strings.TrimSpace(deref(u.FirstName) + " " + deref(u.LastName))
	if name != "" {
		return name
	}
	if v := deref(u.Username); v != "" {
		return v
	}
	return deref(u.Email)
}

// StringPtr は空文字列をnilとして扱う文字列ポインタを返す。
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func isBlank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}
