package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/lokashrinav/LanguaLegacy-sub000/internal/auth"
	"github.com/lokashrinav/LanguaLegacy-sub000/internal/middleware"
	"github.com/lokashrinav/LanguaLegacy-sub000/internal/model"
	"github.com/lokashrinav/LanguaLegacy-sub000/internal/user"
)

// --- モック定義 ---

type mockAuthService struct {
	registerFn       func(ctx context.Context, in auth.RegisterInput, oldToken string, meta auth.ClientMeta) (*auth.Result, error)
	loginLocalFn     func(ctx context.Context, identifier, password, oldToken string, meta auth.ClientMeta) (*auth.Result, error)
	loginFedFn       func(ctx context.Context, provider model.AuthProvider, token, oldToken string, meta auth.ClientMeta) (*auth.Result, error)
	beginGoogleFn    func(ctx context.Context, oldToken string, meta auth.ClientMeta) (string, *model.Session, error)
	completeGoogle   func(ctx context.Context, token, state, code string, meta auth.ClientMeta) (*auth.Result, error)
	logoutFn         func(ctx context.Context, token string) error
	currentUserFn    func(ctx context.Context, token string) (*model.User, error)
	googleDisabled   bool
	platformDisabled bool
}

func (m *mockAuthService) Register(ctx context.Context, in auth.RegisterInput, oldToken string, meta auth.ClientMeta) (*auth.Result, error) {
	return m.registerFn(ctx, in, oldToken, meta)
}

func (m *mockAuthService) LoginLocal(ctx context.Context, identifier, password, oldToken string, meta auth.ClientMeta) (*auth.Result, error) {
	return m.loginLocalFn(ctx, identifier, password, oldToken, meta)
}

func (m *mockAuthService) LoginFederated(ctx context.Context, provider model.AuthProvider, token, oldToken string, meta auth.ClientMeta) (*auth.Result, error) {
	return m.loginFedFn(ctx, provider, token, oldToken, meta)
}

func (m *mockAuthService) BeginGoogleLogin(ctx context.Context, oldToken string, meta auth.ClientMeta) (string, *model.Session, error) {
	return m.beginGoogleFn(ctx, oldToken, meta)
}

func (m *mockAuthService) CompleteGoogleLogin(ctx context.Context, token, state, code string, meta auth.ClientMeta) (*auth.Result, error) {
	return m.completeGoogle(ctx, token, state, code, meta)
}

func (m *mockAuthService) Logout(ctx context.Context, token string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, token)
	}
	return nil
}

func (m *mockAuthService) CurrentUser(ctx context.Context, token string) (*model.User, error) {
	if m.currentUserFn != nil {
		return m.currentUserFn(ctx, token)
	}
	return nil, model.NewUnauthorizedError()
}

func (m *mockAuthService) GoogleEnabled() bool   { return !m.googleDisabled }
func (m *mockAuthService) PlatformEnabled() bool { return !m.platformDisabled }

type mockUserService struct {
	profileFn  func(ctx context.Context, userID string) (*model.User, error)
	sessionsFn func(ctx context.Context, userID, currentToken string) ([]user.SessionSummary, error)
	signOutFn  func(ctx context.Context, userID string) error
}

func (m *mockUserService) Profile(ctx context.Context, userID string) (*model.User, error) {
	return m.profileFn(ctx, userID)
}

func (m *mockUserService) Sessions(ctx context.Context, userID, currentToken string) ([]user.SessionSummary, error) {
	return m.sessionsFn(ctx, userID, currentToken)
}

func (m *mockUserService) SignOutEverywhere(ctx context.Context, userID string) error {
	return m.signOutFn(ctx, userID)
}

type emailAdmin struct{ email string }

func (a emailAdmin) IsAdmin(u *model.User) bool {
	return u != nil && u.EmailOrEmpty() == a.email
}

// --- ヘルパー ---

var testAuthConfig = AuthHandlerConfig{
	BaseURL:       "http://localhost:3000",
	SessionMaxAge: 7 * 24 * time.Hour,
}

func testUser(id, email string) *model.User {
	return &model.User{
		ID:           id,
		Email:        model.StringPtr(email),
		FirstName:    model.StringPtr("Amara"),
		PasswordHash: model.StringPtr("$2a$10$secret"),
		AuthProvider: model.AuthProviderLocal,
	}
}

func withUser(req *http.Request, u *model.User, token string) *http.Request {
	ctx := middleware.ContextWithUser(req.Context(), u)
	ctx = middleware.ContextWithSessionID(ctx, token)
	return req.WithContext(ctx)
}

func sessionCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == middleware.SessionCookieName {
			return c
		}
	}
	return nil
}
