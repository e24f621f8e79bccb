// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/lokashrinav/LanguaLegacy-sub000/internal/model"
)

// SessionCookieName はセッショントークンを保持するCookieの名前。
const SessionCookieName = "langualegacy_sid"

// コンテキストキー。パッケージ外から衝突しないよう非公開の構造体型を使う。
type (
	userContextKey      struct{}
	sessionIDContextKey struct{}
)

// Authenticator はセッショントークンを認証済みユーザーに解決するインターフェース。
// auth.Gateが実装する。
type Authenticator interface {
	RequireAuthenticated(ctx context.Context, token string) (*model.User, error)
}

// AdminAuthorizer はセッショントークンが管理者のものであることを確認するインターフェース。
// auth.Gateが実装する。
type AdminAuthorizer interface {
	RequireAdmin(ctx context.Context, token string) (*model.User, error)
}

// SessionGate はセッションと管理者の両方の認可を行うインターフェース。
type SessionGate interface {
	Authenticator
	AdminAuthorizer
}

// AdminChecker はユーザーが管理者かどうかを判定するインターフェース。
// auth.AdminPolicyが実装する。
type AdminChecker interface {
	IsAdmin(user *model.User) bool
}

// SessionToken はリクエストのCookieからセッショントークンを取得する。
// Cookieがない場合は空文字列を返す。
func SessionToken(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み取り、
// 認証済みユーザーをリクエストコンテキストに注入するミドルウェアを返す。
// 未認証リクエストには401、ストア障害には500を統一エラーフォーマットで返す。
func NewSessionMiddleware(authenticator Authenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := SessionToken(r)

			user, err := authenticator.RequireAuthenticated(r.Context(), token)
			if err != nil {
				var apiErr *model.APIError
				if errors.As(err, &apiErr) {
					WriteErrorResponse(w, http.StatusUnauthorized, apiErr)
					return
				}
				slog.Error("failed to authenticate session",
					slog.String("error", err.Error()),
					slog.String("path", r.URL.Path),
				)
				WriteInternalServerError(w)
				return
			}

			setRequestUserID(r.Context(), user.ID)

			ctx := ContextWithUser(r.Context(), user)
			ctx = ContextWithSessionID(ctx, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewAdminMiddleware はリクエストのセッションが管理者のものであることを確認するミドルウェアを返す。
// SessionMiddlewareの後に配置する。判定と拒否メトリクスの記録はauthorizerに委ねる。
// 未認証には401、管理者でない場合は403、ストア障害には500を返す。
func NewAdminMiddleware(authorizer AdminAuthorizer) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := SessionIDFromContext(r.Context())
			if token == "" {
				token = SessionToken(r)
			}

			user, err := authorizer.RequireAdmin(r.Context(), token)
			if err != nil {
				var apiErr *model.APIError
				if errors.As(err, &apiErr) {
					if apiErr.Code == model.ErrCodeForbidden {
						slog.Warn("admin access denied",
							slog.String("request_id", RequestIDFromContext(r.Context())),
							slog.String("path", r.URL.Path),
						)
					}
					WriteAPIError(w, apiErr)
					return
				}
				slog.Error("failed to authorize admin",
					slog.String("error", err.Error()),
					slog.String("path", r.URL.Path),
				)
				WriteInternalServerError(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// UserFromContext はリクエストコンテキストから認証済みユーザーを取得する。
// SessionMiddlewareを通過していない場合はnil。
func UserFromContext(ctx context.Context) *model.User {
	user, _ := ctx.Value(userContextKey{}).(*model.User)
	return user
}

// ContextWithUser はコンテキストに認証済みユーザーを注入する。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	user := UserFromContext(ctx)
	if user == nil || user.ID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return user.ID, nil
}

// SessionIDFromContext はリクエストコンテキストからセッショントークンを取得する。
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDContextKey{}).(string)
	return id
}

// ContextWithSessionID はコンテキストにセッショントークンを注入する。
func ContextWithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDContextKey{}, id)
}
