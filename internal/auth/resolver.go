package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/lokashrinav/LanguaLegacy-sub000/internal/model"
	"github.com/lokashrinav/LanguaLegacy-sub000/internal/repository"
	"github.com/lokashrinav/LanguaLegacy-sub000/internal/security"
)

// MinPasswordLength はローカルアカウントのパスワードの最小文字数。
const MinPasswordLength = 8

// usernamePattern はユーザー名として許可する形式。
var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)

// dummyPassword はユーザー不在時にも同じ時間をかけて検証するためのダミー平文。
const dummyPassword = "langualegacy-timing-equalizer"

// URLValidator はIdPから受け取ったURLの安全性を検証するインターフェース。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// TextSanitizer はIdPから受け取った文字列をプレーンテキストに正規化するインターフェース。
type TextSanitizer interface {
	SanitizeText(raw string) string
}

// RegisterInput はローカルアカウント登録の入力。
type RegisterInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Resolver は検証済みの資格情報を正規のユーザーレコードに解決する。
type Resolver struct {
	users     repository.UserRepository
	hasher    PasswordHasher
	urls      URLValidator
	sanitizer TextSanitizer
	now       func() time.Time
	newID     func() string

	dummyOnce   sync.Once
	dummyDigest string
}

// NewResolver はResolverを生成する。
// urls、sanitizerがnilの場合はsecurityパッケージの既定実装を使用する。
func NewResolver(users repository.UserRepository, hasher PasswordHasher, urls URLValidator, sanitizer TextSanitizer) *Resolver {
	if urls == nil {
		urls = security.NewSSRFGuard()
	}
	if sanitizer == nil {
		sanitizer = security.NewProfileSanitizer()
	}
	return &Resolver{
		users:     users,
		hasher:    hasher,
		urls:      urls,
		sanitizer: sanitizer,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// ResolveLocal はメールアドレスまたはユーザー名とパスワードでユーザーを特定する。
// メールアドレス、ユーザー名の順に検索する。
// ユーザー不在、パスワード未設定、パスワード不一致はすべて同一のINVALID_CREDENTIALSを返す。
func (r *Resolver) ResolveLocal(ctx context.Context, identifier, plaintext string) (*model.User, error) {
	user, err := r.lookup(ctx, identifier)
	if err != nil {
		return nil, err
	}

	if user == nil || !user.HasPassword() {
		// 応答時間からユーザーの存在を推測されないよう、同じコストの検証を行う
		r.hasher.Verify(ctx, plaintext, r.dummy(ctx))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("local login aborted: %w", ctxErr)
		}
		return nil, model.NewInvalidCredentialsError()
	}

	if !r.hasher.Verify(ctx, plaintext, *user.PasswordHash) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("local login aborted: %w", ctxErr)
		}
		return nil, model.NewInvalidCredentialsError()
	}

	return user, nil
}

// lookup はメールアドレス、ユーザー名の順でユーザーを検索する。
func (r *Resolver) lookup(ctx context.Context, identifier string) (*model.User, error) {
	if identifier == "" {
		return nil, nil
	}

	user, err := r.users.FindByEmail(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user != nil {
		return user, nil
	}

	user, err = r.users.FindByUsername(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by username: %w", err)
	}
	return user, nil
}

// dummy はタイミング平準化用のダイジェストを初回のみ生成して返す。
func (r *Resolver) dummy(ctx context.Context) string {
	r.dummyOnce.Do(func() {
		digest, err := r.hasher.Hash(context.WithoutCancel(ctx), dummyPassword)
		if err != nil {
			slog.Warn("failed to prepare dummy password digest", slog.String("error", err.Error()))
			return
		}
		r.dummyDigest = digest
	})
	return r.dummyDigest
}

// ResolveFederated は外部IdPが検証済みのIDをユーザーレコードに対応付ける。
// FederatedUserIDをユーザーIDとしてUpsertするため、同一subjectでの再ログインは冪等。
// メールアドレスが未確認の場合はEMAIL_NOT_VERIFIEDを返す。
func (r *Resolver) ResolveFederated(ctx context.Context, identity *FederatedIdentity) (*model.User, error) {
	if identity == nil || identity.SubjectID == "" {
		return nil, model.NewInvalidFederatedTokenError()
	}
	if !identity.EmailVerified || strings.TrimSpace(identity.Email) == "" {
		return nil, model.NewEmailNotVerifiedError()
	}

	first := r.sanitizer.SanitizeText(identity.GivenName)
	last := r.sanitizer.SanitizeText(identity.FamilyName)
	if first == "" && last == "" {
		first, last = splitDisplayName(r.sanitizer.SanitizeText(identity.DisplayName))
	}

	avatar := identity.AvatarURL
	if avatar != "" {
		if err := r.urls.ValidateURL(avatar); err != nil {
			slog.Warn("dropping unsafe avatar url",
				slog.String("provider", string(identity.Provider)),
				slog.String("error", err.Error()),
			)
			avatar = ""
		}
	}

	now := r.now()
	user, err := r.users.Upsert(ctx, &model.User{
		ID:              FederatedUserID(identity.Provider, identity.SubjectID),
		Email:           model.StringPtr(identity.Email),
		FirstName:       model.StringPtr(first),
		LastName:        model.StringPtr(last),
		ProfileImageURL: model.StringPtr(avatar),
		AuthProvider:    identity.Provider,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		if taken := duplicateToAPIError(err); taken != nil {
			return nil, taken
		}
		return nil, fmt.Errorf("failed to upsert federated user: %w", err)
	}
	return user, nil
}

// FederatedUserID はプロバイダーのsubjectからユーザーIDを導出する。
// プラットフォームのsubjectはそのままユーザーIDとし、それ以外は "provider:subject" とする。
// 異なるプロバイダーで同じsubjectが発行されても別のユーザーになる。
func FederatedUserID(provider model.AuthProvider, subject string) string {
	if provider == model.AuthProviderPlatform {
		return subject
	}
	return string(provider) + ":" + subject
}

// splitDisplayName は表示名を最初の空白で姓名に分割する。
func splitDisplayName(name string) (first, last string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ""
	}
	first, last, _ = strings.Cut(name, " ")
	return first, strings.TrimSpace(last)
}

// Register はローカルアカウントを作成する。
// ユーザー名、メールアドレスの順に重複を確認し、パスワードをハッシュして保存する。
// 確認後の同時登録による一意制約違反も同じエラーに対応付ける。
func (r *Resolver) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)

	if err := validateRegisterInput(in); err != nil {
		return nil, err
	}

	existing, err := r.users.FindByUsername(ctx, in.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}
	if existing != nil {
		return nil, model.NewUsernameTakenError()
	}

	existing, err = r.users.FindByEmail(ctx, in.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if existing != nil {
		return nil, model.NewEmailTakenError()
	}

	digest, err := r.hasher.Hash(ctx, in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := r.now()
	user := &model.User{
		ID:           r.newID(),
		Email:        model.StringPtr(in.Email),
		Username:     model.StringPtr(in.Username),
		PasswordHash: &digest,
		FirstName:    model.StringPtr(r.sanitizer.SanitizeText(in.FirstName)),
		LastName:     model.StringPtr(r.sanitizer.SanitizeText(in.LastName)),
		AuthProvider: model.AuthProviderLocal,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := user.Validate(); err != nil {
		return nil, fmt.Errorf("invalid user record: %w", err)
	}

	if err := r.users.Create(ctx, user); err != nil {
		if taken := duplicateToAPIError(err); taken != nil {
			return nil, taken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// validateRegisterInput は登録入力の形式を検証する。
func validateRegisterInput(in RegisterInput) error {
	if !usernamePattern.MatchString(in.Username) {
		return model.NewValidationError("ユーザー名は3〜32文字の英数字と _ . - で指定してください")
	}
	if !looksLikeEmail(in.Email) {
		return model.NewValidationError("メールアドレスの形式が正しくありません")
	}
	if utf8.RuneCountInString(in.Password) < MinPasswordLength {
		return model.NewValidationError(fmt.Sprintf("パスワードは%d文字以上で指定してください", MinPasswordLength))
	}
	if len(in.Password) > MaxPasswordBytes {
		return model.NewValidationError(fmt.Sprintf("パスワードは%dバイト以内で指定してください", MaxPasswordBytes))
	}
	return nil
}

// looksLikeEmail はローカル部とドメイン部を持つ最低限の形式かを判定する。
func looksLikeEmail(s string) bool {
	if len(s) > 254 || strings.ContainsAny(s, " \t\r\n") {
		return false
	}
	local, domain, ok := strings.Cut(s, "@")
	return ok && local != "" && domain != "" && !strings.Contains(domain, "@")
}

// duplicateToAPIError は一意制約違反を対応するAPIエラーに変換する。
func duplicateToAPIError(err error) *model.APIError {
	var dup *repository.DuplicateError
	if !errors.As(err, &dup) {
		return nil
	}
	switch dup.Column {
	case "username":
		return model.NewUsernameTakenError()
	case "email":
		return model.NewEmailTakenError()
	default:
		return nil
	}
}
