package auth

import (
	"context"
	"fmt"

	"github.com/lokashrinav/LanguaLegacy-sub000/internal/metrics"
	"github.com/lokashrinav/LanguaLegacy-sub000/internal/model"
	"github.com/lokashrinav/LanguaLegacy-sub000/internal/repository"
)

// 認可拒否の理由（メトリクスのラベル値）。
const (
	DenyReasonNoSession   = "no_session"
	DenyReasonAnonymous   = "anonymous"
	DenyReasonUserMissing = "user_missing"
	DenyReasonNotAdmin    = "not_admin"
)

// AdminPolicy はユーザーが管理者かどうかを判定するインターフェース。
type AdminPolicy interface {
	IsAdmin(user *model.User) bool
}

// SingleAdminPolicy は設定された1つのメールアドレスと完全一致するユーザーのみを管理者とする。
// Emailが空の場合は誰も管理者にならない。
type SingleAdminPolicy struct {
	Email string
}

// IsAdmin はユーザーのメールアドレスが設定値と一致するかを返す。
func (p SingleAdminPolicy) IsAdmin(user *model.User) bool {
	if user == nil || p.Email == "" {
		return false
	}
	return user.EmailOrEmpty() == p.Email
}

// SessionLoader はトークンから有効なセッションを取得するインターフェース。
// session.Managerが実装する。
type SessionLoader interface {
	Load(ctx context.Context, token string) (*model.Session, error)
}

// Gate は保護された操作の前に実行する認可チェック。
// User、Sessionのいずれも変更しない。
type Gate struct {
	sessions SessionLoader
	users    repository.UserRepository
	policy   AdminPolicy
	metrics  metrics.MetricsCollector
}

// NewGate はGateを生成する。
func NewGate(sessions SessionLoader, users repository.UserRepository, policy AdminPolicy, mc metrics.MetricsCollector) *Gate {
	if policy == nil {
		policy = SingleAdminPolicy{}
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Gate{
		sessions: sessions,
		users:    users,
		policy:   policy,
		metrics:  mc,
	}
}

// Policy は管理者判定ポリシーを返す。
func (g *Gate) Policy() AdminPolicy {
	return g.policy
}

// RequireAuthenticated はトークンを認証済みユーザーに解決する。
// トークンが無い、期限切れ、匿名、またはユーザーが存在しない場合はUNAUTHORIZEDを返す。
func (g *Gate) RequireAuthenticated(ctx context.Context, token string) (*model.User, error) {
	user, reason, err := g.resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if user == nil {
		g.metrics.RecordAuthzDenied(reason)
		return nil, model.NewUnauthorizedError()
	}
	return user, nil
}

// RequireAdmin はRequireAuthenticatedに加えて管理者であることを確認する。
// 管理者でない認証済みユーザーにはFORBIDDENを返す。
func (g *Gate) RequireAdmin(ctx context.Context, token string) (*model.User, error) {
	user, err := g.RequireAuthenticated(ctx, token)
	if err != nil {
		return nil, err
	}
	if !g.policy.IsAdmin(user) {
		g.metrics.RecordAuthzDenied(DenyReasonNotAdmin)
		return nil, model.NewForbiddenError()
	}
	return user, nil
}

// Decide はトークンに対する認可判定を返す。
// 未認証の場合はDecisionAnonymousとnilユーザーを返し、エラーにはしない。
func (g *Gate) Decide(ctx context.Context, token string) (model.Decision, *model.User, error) {
	user, _, err := g.resolve(ctx, token)
	if err != nil {
		return model.DecisionAnonymous, nil, err
	}
	return g.DecideUser(user), user, nil
}

// DecideUser は解決済みのユーザーに対する認可判定を返す。
func (g *Gate) DecideUser(user *model.User) model.Decision {
	switch {
	case user == nil:
		return model.DecisionAnonymous
	case g.policy.IsAdmin(user):
		return model.DecisionAdmin
	default:
		return model.DecisionAuthenticated
	}
}

// resolve はトークンからユーザーを取得する。
// 認証できない場合はnilユーザーと拒否理由を返す。
func (g *Gate) resolve(ctx context.Context, token string) (*model.User, string, error) {
	s, err := g.sessions.Load(ctx, token)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load session: %w", err)
	}
	if s == nil {
		return nil, DenyReasonNoSession, nil
	}
	if s.IsAnonymous() {
		return nil, DenyReasonAnonymous, nil
	}

	user, err := g.users.FindByID(ctx, s.UserID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, DenyReasonUserMissing, nil
	}
	return user, "", nil
}
