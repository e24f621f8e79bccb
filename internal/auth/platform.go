package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/lokashrinav/LanguaLegacy-sub000/internal/model"
)

const (
	// jwksRefreshInterval はJWKSをバックグラウンドで再取得する間隔。
	jwksRefreshInterval = time.Hour
	// defaultUnknownKIDInterval は未知のkidによるJWKS再取得の最小間隔。
	defaultUnknownKIDInterval = 5 * time.Second
	// jwksFetchTimeout は1回のJWKS取得のタイムアウト。
	jwksFetchTimeout = 10 * time.Second
	// jwksRefreshWaitMax は未知のkidによる再取得の順番待ちの上限。
	// 待ち時間がこれを超える場合は再取得せずに検証を失敗させる。
	jwksRefreshWaitMax = 10 * time.Second
)

// PlatformConfig はホスティングプラットフォームのOIDC IDトークン検証設定。
type PlatformConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string

	// HTTPClient はJWKS取得に使用する。nilの場合はhttp.DefaultClient。
	HTTPClient *http.Client

	// UnknownKIDInterval は未知のkidを受け取った際の再取得の最小間隔。
	// 0の場合は5秒。取得に失敗した場合もこの間隔で再試行される。
	UnknownKIDInterval time.Duration
}

// PlatformTokenVerifier はRS256で署名されたプラットフォームのIDトークンを検証する。
// 公開鍵はkeyfuncがJWKS URLから取得・キャッシュし、未知のkidを受け取った場合はレート制限付きで再取得する。
type PlatformTokenVerifier struct {
	config  PlatformConfig
	keyfunc keyfunc.Keyfunc
	now     func() time.Time
}

// NewPlatformTokenVerifier はPlatformTokenVerifierを生成する。
// JWKSの初回取得に失敗してもエラーにはせず、最初の検証時に再取得する。
// ctxはバックグラウンド更新の寿命であり、リクエストのコンテキストを渡してはならない。
func NewPlatformTokenVerifier(ctx context.Context, config PlatformConfig) (*PlatformTokenVerifier, error) {
	client := config.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	interval := config.UnknownKIDInterval
	if interval <= 0 {
		interval = defaultUnknownKIDInterval
	}

	remote, err := jwkset.NewStorageFromHTTP(config.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    client,
		Ctx:                       ctx,
		HTTPTimeout:               jwksFetchTimeout,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           jwksRefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			slog.Warn("platform jwks refresh failed",
				slog.String("url", config.JWKSURL),
				slog.String("error", err.Error()),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create jwks storage: %w", err)
	}

	storage, err := jwkset.NewHTTPClient(jwkset.HTTPClientOptions{
		HTTPURLs:          map[string]jwkset.Storage{config.JWKSURL: remote},
		RateLimitWaitMax:  jwksRefreshWaitMax,
		RefreshUnknownKID: rate.NewLimiter(rate.Every(interval), 1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create jwks client: %w", err)
	}

	kf, err := keyfunc.New(keyfunc.Options{
		Ctx:     ctx,
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create keyfunc: %w", err)
	}

	return &PlatformTokenVerifier{
		config:  config,
		keyfunc: kf,
		now:     time.Now,
	}, nil
}

// platformClaims はIDトークンのクレーム。
// プラットフォームによって氏名・アバターのクレーム名が異なるため両方を受け付ける。
type platformClaims struct {
	Email           string `json:"email"`
	EmailVerified   *bool  `json:"email_verified"`
	Name            string `json:"name"`
	FirstName       string `json:"first_name"`
	GivenName       string `json:"given_name"`
	LastName        string `json:"last_name"`
	FamilyName      string `json:"family_name"`
	ProfileImageURL string `json:"profile_image_url"`
	Picture         string `json:"picture"`
	jwt.RegisteredClaims
}

// Verify はIDトークンの署名、iss、aud、expを検証し、FederatedIdentityを返す。
// 検証に失敗した場合はINVALID_FEDERATED_TOKENエラーを返す。
// 鍵の取得は呼び出し元のctxに依存しない。
func (v *PlatformTokenVerifier) Verify(ctx context.Context, token string) (*FederatedIdentity, error) {
	if token == "" {
		return nil, model.NewInvalidFederatedTokenError()
	}

	claims := &platformClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.keyfunc.Keyfunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.config.Issuer),
		jwt.WithAudience(v.config.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
		jwt.WithLeeway(5*time.Second),
	)
	if err != nil || !parsed.Valid {
		slog.WarnContext(ctx, "platform id token rejected", slog.String("error", fmt.Sprint(err)))
		return nil, model.NewInvalidFederatedTokenError()
	}
	if claims.Subject == "" {
		return nil, model.NewInvalidFederatedTokenError()
	}

	return &FederatedIdentity{
		Provider:      model.AuthProviderPlatform,
		SubjectID:     claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified != nil && *claims.EmailVerified,
		DisplayName:   claims.Name,
		GivenName:     firstNonEmpty(claims.FirstName, claims.GivenName),
		FamilyName:    firstNonEmpty(claims.LastName, claims.FamilyName),
		AvatarURL:     firstNonEmpty(claims.ProfileImageURL, claims.Picture),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// compile-time interface check
var _ FederatedVerifier = (*PlatformTokenVerifier)(nil)
