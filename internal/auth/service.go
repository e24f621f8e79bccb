package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lokashrinav/LanguaLegacy-sub000/internal/metrics"
	"github.com/lokashrinav/LanguaLegacy-sub000/internal/model"
	"github.com/lokashrinav/LanguaLegacy-sub000/internal/session"
)

const tracerName = "github.com/lokashrinav/LanguaLegacy-sub000/internal/auth"

// ログイン方式（メトリクスのラベル値）。
const (
	MethodLocal    = "local"
	MethodRegister = "register"
	MethodGoogle   = "google"
	MethodPlatform = "platform"
)

// Result は認証に成功したユーザーと、そのユーザーに紐づけた新しいセッション。
type Result struct {
	User    *model.User
	Session *model.Session
}

// ServiceDeps はServiceの依存関係。
type ServiceDeps struct {
	Resolver *Resolver
	Sessions *session.Manager
	Gate     *Gate

	// Google、Platformはnilの場合に無効となる。
	Google   OAuthProvider
	Platform FederatedVerifier

	Metrics metrics.MetricsCollector
	Tracer  trace.Tracer
}

// Service は認証に関するビジネスロジックを提供する。
// 本人確認に成功した場合のみセッションを再生成し、ストアへの保存完了後に結果を返す。
type Service struct {
	resolver *Resolver
	sessions *session.Manager
	gate     *Gate
	google   OAuthProvider
	platform FederatedVerifier
	metrics  metrics.MetricsCollector
	tracer   trace.Tracer
}

// NewService はServiceを生成する。
func NewService(deps ServiceDeps) *Service {
	mc := deps.Metrics
	if mc == nil {
		mc = metrics.Nop{}
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Service{
		resolver: deps.Resolver,
		sessions: deps.Sessions,
		gate:     deps.Gate,
		google:   deps.Google,
		platform: deps.Platform,
		metrics:  mc,
		tracer:   tracer,
	}
}

// GoogleEnabled はGoogleログインが設定されているかを返す。
func (s *Service) GoogleEnabled() bool {
	return s.google != nil
}

// PlatformEnabled はプラットフォームログインが設定されているかを返す。
func (s *Service) PlatformEnabled() bool {
	return s.platform != nil
}

// Register はローカルアカウントを作成し、そのままログイン状態にする。
func (s *Service) Register(ctx context.Context, in RegisterInput, oldToken string, meta ClientMeta) (res *Result, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Register")
	defer func() { s.finish(span, MethodRegister, err) }()

	user, err := s.resolver.Register(ctx, in)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordRegistration()

	slog.Info("new user registered",
		slog.String("user_id", user.ID),
		slog.String("provider", string(user.AuthProvider)),
	)

	return s.bind(ctx, span, oldToken, user, meta)
}

// LoginLocal はメールアドレスまたはユーザー名とパスワードでログインする。
func (s *Service) LoginLocal(ctx context.Context, identifier, password, oldToken string, meta ClientMeta) (res *Result, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.LoginLocal")
	defer func() { s.finish(span, MethodLocal, err) }()

	user, err := s.resolver.ResolveLocal(ctx, identifier, password)
	if err != nil {
		return nil, err
	}
	return s.bind(ctx, span, oldToken, user, meta)
}

// LoginFederated は外部IdPのトークンでログインする。
// Googleの場合は認可コード、プラットフォームの場合はIDトークンを受け取る。
func (s *Service) LoginFederated(ctx context.Context, provider model.AuthProvider, token, oldToken string, meta ClientMeta) (res *Result, err error) {
	method := string(provider)
	ctx, span := s.tracer.Start(ctx, "auth.LoginFederated",
		trace.WithAttributes(attribute.String("auth.provider", method)))
	defer func() { s.finish(span, method, err) }()

	verifier, err := s.verifier(provider)
	if err != nil {
		return nil, err
	}
	return s.loginWith(ctx, span, verifier, token, oldToken, meta)
}

// BeginGoogleLogin はGoogleの認証URLと、stateを保持する匿名セッションを返す。
// 既存の匿名セッションがあればそのデータを引き継ぎ、古いトークンは破棄する。
func (s *Service) BeginGoogleLogin(ctx context.Context, oldToken string, meta ClientMeta) (loginURL string, sess *model.Session, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.BeginGoogleLogin")
	defer func() { endSpan(span, err) }()

	if s.google == nil {
		return "", nil, model.NewInvalidFederatedTokenError()
	}

	state, err := session.NewToken()
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate oauth state: %w", err)
	}

	old, err := s.sessions.Load(ctx, oldToken)
	if err != nil {
		return "", nil, err
	}

	data := model.SessionData{}
	if old != nil && old.IsAnonymous() {
		data = old.Data.Clone()
	}
	for k, v := range meta.SessionData() {
		data[k] = v
	}
	data[model.SessionKeyOAuthState] = state

	sess, err = s.sessions.StartAnonymous(ctx, data)
	if err != nil {
		return "", nil, err
	}
	if old != nil && old.IsAnonymous() {
		if err := s.sessions.Destroy(ctx, old.ID); err != nil {
			slog.Warn("failed to discard previous anonymous session", slog.String("error", err.Error()))
		}
	}

	return s.google.GetLoginURL(state), sess, nil
}

// CompleteGoogleLogin はGoogleからのコールバックを処理する。
// セッションに保存したstateと一致しない場合はコードを検証せずに拒否する。
func (s *Service) CompleteGoogleLogin(ctx context.Context, token, state, code string, meta ClientMeta) (res *Result, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.CompleteGoogleLogin")
	defer func() { s.finish(span, MethodGoogle, err) }()

	if s.google == nil {
		return nil, model.NewInvalidFederatedTokenError()
	}

	sess, err := s.sessions.Load(ctx, token)
	if err != nil {
		return nil, err
	}
	if sess == nil || !stateMatches(sess.Data[model.SessionKeyOAuthState], state) {
		slog.Warn("oauth state mismatch", slog.String("session_id", session.ShortID(token)))
		return nil, model.NewInvalidFederatedTokenError()
	}

	return s.loginWith(ctx, span, s.google, code, token, meta)
}

// stateMatches はstateを定数時間で比較する。空のstateは常に不一致。
func stateMatches(expected, got string) bool {
	if expected == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

// Logout はセッションを破棄する。トークンが空または存在しない場合もエラーにしない。
func (s *Service) Logout(ctx context.Context, token string) (err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Logout")
	defer func() { endSpan(span, err) }()

	if err := s.sessions.Destroy(ctx, token); err != nil {
		return err
	}

	slog.Info("user logged out", slog.String("session_id", session.ShortID(token)))
	return nil
}

// CurrentUser はトークンに紐づく認証済みユーザーを返す。
// 未認証の場合はUNAUTHORIZEDを返す。
func (s *Service) CurrentUser(ctx context.Context, token string) (user *model.User, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.CurrentUser")
	defer func() { endSpan(span, err) }()

	return s.gate.RequireAuthenticated(ctx, token)
}

// verifier はプロバイダーに対応する検証器を返す。
func (s *Service) verifier(provider model.AuthProvider) (FederatedVerifier, error) {
	switch provider {
	case model.AuthProviderGoogle:
		if s.google != nil {
			return s.google, nil
		}
	case model.AuthProviderPlatform:
		if s.platform != nil {
			return s.platform, nil
		}
	}
	return nil, model.NewInvalidFederatedTokenError()
}

// loginWith は外部IdPのトークンを検証してユーザーを解決し、セッションを紐づける。
func (s *Service) loginWith(ctx context.Context, span trace.Span, verifier FederatedVerifier, token, oldToken string, meta ClientMeta) (*Result, error) {
	identity, err := verifier.Verify(ctx, token)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return nil, err
		}
		// IdPとの通信失敗やコード交換の失敗は、クライアントにはやり直しを促す
		slog.Warn("federated token verification failed", slog.String("error", err.Error()))
		return nil, model.NewInvalidFederatedTokenError()
	}

	user, err := s.resolver.ResolveFederated(ctx, identity)
	if err != nil {
		return nil, err
	}
	return s.bind(ctx, span, oldToken, user, meta)
}

// bind はユーザーを新しいセッションに紐づける。
func (s *Service) bind(ctx context.Context, span trace.Span, oldToken string, user *model.User, meta ClientMeta) (*Result, error) {
	sess, err := s.sessions.Authenticate(ctx, oldToken, user.ID, meta.SessionData())
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("auth.user_id", user.ID))
	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("provider", string(user.AuthProvider)),
		slog.String("session_id", session.ShortID(sess.ID)),
	)

	return &Result{User: user, Session: sess}, nil
}

// finish はログイン系操作の結果をメトリクスとスパンに記録する。
func (s *Service) finish(span trace.Span, method string, err error) {
	s.metrics.RecordLogin(method, resultOf(err))
	endSpan(span, err)
}

// resultOf はエラーをメトリクスの結果ラベルに変換する。
func resultOf(err error) string {
	var apiErr *model.APIError
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case errors.As(err, &apiErr):
		return metrics.ResultFailure
	default:
		return metrics.ResultError
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
