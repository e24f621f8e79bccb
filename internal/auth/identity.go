// Package auth は認証フロー、パスワードハッシュ、本人確認、認可ゲートを提供する。
package auth

import (
	"context"

	"github.com/lokashrinav/LanguaLegacy-sub000/internal/model"
)

// FederatedIdentity は外部IdPが検証済みのユーザー情報を表す。
// SubjectIDはプロバイダー内で安定した一意の識別子。
type FederatedIdentity struct {
	Provider      model.AuthProvider
	SubjectID     string
	Email         string
	EmailVerified bool
	DisplayName   string
	GivenName     string
	FamilyName    string
	AvatarURL     string
}

// FederatedVerifier は外部IdPのトークン（認可コードまたはIDトークン）を検証し、
// FederatedIdentityを返すインターフェース。
type FederatedVerifier interface {
	Verify(ctx context.Context, token string) (*FederatedIdentity, error)
}

// OAuthProvider はリダイレクト型のOAuthログインを提供するIdPのインターフェース。
type OAuthProvider interface {
	FederatedVerifier
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
}
