package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lokashrinav/LanguaLegacy-sub000/internal/auth"
	"github.com/lokashrinav/LanguaLegacy-sub000/internal/middleware"
	"github.com/lokashrinav/LanguaLegacy-sub000/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
// auth.Serviceが実装する。
type AuthServiceInterface interface {
	Register(ctx context.Context, in auth.RegisterInput, oldToken string, meta auth.ClientMeta) (*auth.Result, error)
	LoginLocal(ctx context.Context, identifier, password, oldToken string, meta auth.ClientMeta) (*auth.Result, error)
	LoginFederated(ctx context.Context, provider model.AuthProvider, token, oldToken string, meta auth.ClientMeta) (*auth.Result, error)
	BeginGoogleLogin(ctx context.Context, oldToken string, meta auth.ClientMeta) (string, *model.Session, error)
	CompleteGoogleLogin(ctx context.Context, token, state, code string, meta auth.ClientMeta) (*auth.Result, error)
	Logout(ctx context.Context, token string) error
	CurrentUser(ctx context.Context, token string) (*model.User, error)
	GoogleEnabled() bool
	PlatformEnabled() bool
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL       string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge time.Duration
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	admin   middleware.AdminChecker
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, admin middleware.AdminChecker, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		admin:   admin,
		config:  config,
	}
}

// registerRequest はユーザー登録リクエストのボディ。
type registerRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// loginRequest はローカルログインリクエストのボディ。
// identifierの代わりにusernameまたはemailも受け付ける。
type loginRequest struct {
	Identifier string `json:"identifier"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

func (req loginRequest) identifier() string {
	for _, v := range []string{req.Identifier, req.Username, req.Email} {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// platformLoginRequest はプラットフォームIDトークンによるログインリクエストのボディ。
type platformLoginRequest struct {
	Token string `json:"token"`
}

// Register はローカルアカウントを作成し、ログイン状態にする。
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.service.Register(r.Context(), auth.RegisterInput{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}, middleware.SessionToken(r), clientMeta(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.setSessionCookie(w, res.Session)
	writeJSON(w, http.StatusCreated, toUserResponse(res.User, h.admin))
}

// Login はユーザー名またはメールアドレスとパスワードでログインする。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.service.LoginLocal(r.Context(), req.identifier(), req.Password, middleware.SessionToken(r), clientMeta(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.setSessionCookie(w, res.Session)
	writeJSON(w, http.StatusOK, toUserResponse(res.User, h.admin))
}

// PlatformLogin はホスティングプラットフォームのIDトークンでログインする。
// POST /api/auth/platform
func (h *AuthHandler) PlatformLogin(w http.ResponseWriter, r *http.Request) {
	if !h.service.PlatformEnabled() {
		http.NotFound(w, r)
		return
	}

	var req platformLoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.service.LoginFederated(r.Context(), model.AuthProviderPlatform, req.Token, middleware.SessionToken(r), clientMeta(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.setSessionCookie(w, res.Session)
	writeJSON(w, http.StatusOK, toUserResponse(res.User, h.admin))
}

// GoogleLogin はGoogle OAuthフローを開始する。
// stateはセッションに保存し、セッションCookieを設定してからGoogleへリダイレクトする。
// GET /api/auth/google/login
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	if !h.service.GoogleEnabled() {
		http.NotFound(w, r)
		return
	}

	loginURL, sess, err := h.service.BeginGoogleLogin(r.Context(), middleware.SessionToken(r), clientMeta(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.setSessionCookie(w, sess)
	http.Redirect(w, r, loginURL, http.StatusTemporaryRedirect)
}

// GoogleCallback はOAuthコールバックを処理する。
// 成功時はフロントエンドへ、失敗時はエラーコード付きでログイン画面へリダイレクトする。
// GET /api/auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	if !h.service.GoogleEnabled() {
		http.NotFound(w, r)
		return
	}

	query := r.URL.Query()
	if idpErr := query.Get("error"); idpErr != "" {
		slog.Warn("google login cancelled", slog.String("error", idpErr))
		http.Redirect(w, r, h.failureURL(model.ErrCodeInvalidFederatedToken), http.StatusTemporaryRedirect)
		return
	}

	res, err := h.service.CompleteGoogleLogin(r.Context(), middleware.SessionToken(r), query.Get("state"), query.Get("code"), clientMeta(r))
	if err != nil {
		code := model.ErrCodeInternal
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			code = apiErr.Code
		} else {
			slog.Error("oauth callback failed", slog.String("error", err.Error()))
		}
		http.Redirect(w, r, h.failureURL(code), http.StatusTemporaryRedirect)
		return
	}

	h.setSessionCookie(w, res.Session)
	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// Logout はセッションを破棄し、セッションCookieを削除する。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), middleware.SessionToken(r)); err != nil {
		// ログアウト失敗してもCookieはクリアする
		slog.Error("failed to logout", slog.String("error", err.Error()))
	}

	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// CurrentUser は現在のログインユーザー情報を返す。
// GET /api/auth/user
func (h *AuthHandler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.CurrentUser(r.Context(), middleware.SessionToken(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user, h.admin))
}

// setSessionCookie はセッションCookie（HTTP Only）を設定する。
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, sess *model.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sess.ID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   int(h.config.SessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie はセッションCookieを削除する。
func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	clearSessionCookie(w, h.config.CookieDomain, h.config.CookieSecure)
}

func clearSessionCookie(w http.ResponseWriter, domain string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// failureURL はログイン失敗時のリダイレクト先を返す。
func (h *AuthHandler) failureURL(code string) string {
	return strings.TrimRight(h.config.BaseURL, "/") + "/login?error=" + url.QueryEscape(code)
}

// clientMeta はリクエストからクライアント情報を取り出す。
func clientMeta(r *http.Request) auth.ClientMeta {
	return auth.ClientMeta{
		UserAgent: r.UserAgent(),
		IP:        middleware.ClientIP(r),
	}
}

// compile-time interface check
var _ AuthServiceInterface = (*auth.Service)(nil)
