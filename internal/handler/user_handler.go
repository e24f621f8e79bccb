package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lokashrinav/LanguaLegacy-sub000/internal/middleware"
	"github.com/lokashrinav/LanguaLegacy-sub000/internal/model"
	"github.com/lokashrinav/LanguaLegacy-sub000/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
// user.Serviceが実装する。
type UserServiceInterface interface {
	Profile(ctx context.Context, userID string) (*model.User, error)
	Sessions(ctx context.Context, userID, currentToken string) ([]user.SessionSummary, error)
	SignOutEverywhere(ctx context.Context, userID string) error
}

// UserHandler はアカウント管理のHTTPハンドラー。
// SessionMiddlewareの後に配置する。
type UserHandler struct {
	service UserServiceInterface
	admin   middleware.AdminChecker
	config  AuthHandlerConfig
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, admin middleware.AdminChecker, config AuthHandlerConfig) *UserHandler {
	return &UserHandler{
		service: service,
		admin:   admin,
		config:  config,
	}
}

// sessionResponse はセッション情報のAPIレスポンス。
type sessionResponse struct {
	ID        string    `json:"id"`
	Current   bool      `json:"current"`
	Device    string    `json:"device,omitempty"`
	IP        string    `json:"ip,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Me はログインユーザーのプロフィールを返す。
// GET /api/users/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, model.NewUnauthorizedError())
		return
	}

	u, err := h.service.Profile(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(u, h.admin))
}

// ListSessions はログインユーザーの有効なセッション一覧を返す。
// GET /api/users/me/sessions
func (h *UserHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, model.NewUnauthorizedError())
		return
	}

	summaries, err := h.service.Sessions(r.Context(), userID, middleware.SessionIDFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]sessionResponse, 0, len(summaries))
	for _, s := range summaries {
		resp = append(resp, sessionResponse{
			ID:        s.ID,
			Current:   s.Current,
			Device:    s.Device,
			IP:        s.IP,
			CreatedAt: s.CreatedAt,
			ExpiresAt: s.ExpiresAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": resp})
}

// RevokeSessions はログインユーザーの全セッションを削除する。
// 現在のセッションも削除されるため、セッションCookieもクリアする。
// POST /api/users/me/sessions/revoke
func (h *UserHandler) RevokeSessions(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, model.NewUnauthorizedError())
		return
	}

	if err := h.service.SignOutEverywhere(r.Context(), userID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	clearSessionCookie(w, h.config.CookieDomain, h.config.CookieSecure)
	w.WriteHeader(http.StatusNoContent)
}

// AdminHandler は管理者向けのHTTPハンドラー。
// AdminMiddlewareの後に配置する。
type AdminHandler struct {
	service UserServiceInterface
	admin   middleware.AdminChecker
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(service UserServiceInterface, admin middleware.AdminChecker) *AdminHandler {
	return &AdminHandler{
		service: service,
		admin:   admin,
	}
}

// GetUser は任意のユーザー情報を返す。
// GET /api/admin/users/{id}
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.service.Profile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(u, h.admin))
}

// compile-time interface check
var _ UserServiceInterface = (*user.Service)(nil)
