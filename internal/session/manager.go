// Package session はセッションの発行、再生成、破棄を管理する。
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lokashrinav/LanguaLegacy-sub000/internal/metrics"
	"github.com/lokashrinav/LanguaLegacy-sub000/internal/model"
	"github.com/lokashrinav/LanguaLegacy-sub000/internal/repository"
)

// DefaultMaxAge は既定のセッション有効期間（7日）。
const DefaultMaxAge = 7 * 24 * time.Hour

// tokenBytes はセッショントークンの乱数バイト数。
const tokenBytes = 32

// ErrNoUser はユーザーIDなしで認証済みセッションを作ろうとした場合のエラー。
var ErrNoUser = errors.New("user id is required")

// State はクライアントごとのセッション状態を表す。
type State int

const (
	// StateAnonymous はユーザーが紐づいていない状態。
	StateAnonymous State = iota
	// StateAuthenticating は本人確認中の一時的な状態。
	StateAuthenticating
	// StateAuthenticated はユーザーが紐づいた状態。
	StateAuthenticated
	// StateDestroyed はログアウトまたは期限切れで存在しない状態。
	StateDestroyed
)

// String はログ出力用の表現を返す。
func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "destroyed"
	}
}

// StateOf はセッションレコードから状態を導出する。nilはStateDestroyed。
func StateOf(s *model.Session) State {
	switch {
	case s == nil:
		return StateDestroyed
	case s.IsAnonymous():
		return StateAnonymous
	default:
		return StateAuthenticated
	}
}

// Config はセッション管理の設定。
type Config struct {
	// MaxAge はセッションの有効期間。0以下の場合はDefaultMaxAge。
	MaxAge time.Duration
}

// Manager はセッションのライフサイクルを管理する。
// 同一トークンに対する認証処理はプロセス内で直列化される。
type Manager struct {
	repo    repository.SessionRepository
	maxAge  time.Duration
	metrics metrics.MetricsCollector
	now     func() time.Time
	locks   *keyedMutex
}

// NewManager はManagerを生成する。
func NewManager(repo repository.SessionRepository, config Config, mc metrics.MetricsCollector) *Manager {
	maxAge := config.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Manager{
		repo:    repo,
		maxAge:  maxAge,
		metrics: mc,
		now:     time.Now,
		locks:   newKeyedMutex(),
	}
}

// MaxAge はセッションの有効期間を返す。
func (m *Manager) MaxAge() time.Duration {
	return m.maxAge
}

// Load はトークンに対応する有効なセッションを返す。
// トークンが空、存在しない、または期限切れの場合はnilを返す。
func (m *Manager) Load(ctx context.Context, token string) (*model.Session, error) {
	if token == "" {
		return nil, nil
	}

	s, err := m.repo.FindByID(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if s == nil || s.IsExpired(m.now()) {
		return nil, nil
	}
	return s, nil
}

// StartAnonymous はユーザーの紐づかない新しいセッションを作成する。
// Google OAuthのstateをリダイレクト間で保持するために使用する。
func (m *Manager) StartAnonymous(ctx context.Context, data model.SessionData) (*model.Session, error) {
	s, err := m.newSession("", data)
	if err != nil {
		return nil, err
	}
	delete(s.Data, model.SessionKeyUserID)

	if err := m.repo.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return s, nil
}

// Authenticate はセッションをユーザーに紐づける。
// 必ず新しいトークンを発行し、古いトークンは同じ書き込みで無効化する。
// 古いセッションが匿名または同一ユーザーのものであればデータを引き継ぐ（oauthStateを除く）。
// ストアが書き込みを確認するまで戻らないため、戻り値のセッションは永続化済みである。
func (m *Manager) Authenticate(ctx context.Context, oldToken, userID string, data model.SessionData) (*model.Session, error) {
	if userID == "" {
		return nil, ErrNoUser
	}

	if oldToken != "" {
		unlock := m.locks.Lock(oldToken)
		defer unlock()
	}

	old, err := m.Load(ctx, oldToken)
	if err != nil {
		return nil, err
	}

	carried := model.SessionData{}
	if old != nil && (old.IsAnonymous() || old.UserID == userID) {
		carried = old.Data.Clone()
		delete(carried, model.SessionKeyOAuthState)
	}
	for k, v := range data {
		carried[k] = v
	}

	next, err := m.newSession(userID, carried)
	if err != nil {
		return nil, err
	}

	slog.Debug("regenerating session",
		slog.String("from", StateOf(old).String()),
		slog.String("state", StateAuthenticating.String()),
		slog.String("user_id", userID),
	)

	if err := m.repo.Regenerate(ctx, oldToken, next); err != nil {
		return nil, fmt.Errorf("failed to regenerate session: %w", err)
	}
	m.metrics.RecordSessionRegenerated()

	return next, nil
}

// Destroy はセッションを削除する。存在しないトークンはエラーにしない。
func (m *Manager) Destroy(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := m.repo.DeleteByID(ctx, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DestroyAllForUser は指定ユーザーの全セッションを削除する。
func (m *Manager) DestroyAllForUser(ctx context.Context, userID string) error {
	if err := m.repo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

// ListForUser は指定ユーザーの有効なセッション一覧を返す。
func (m *Manager) ListForUser(ctx context.Context, userID string) ([]*model.Session, error) {
	sessions, err := m.repo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	now := m.now()
	active := sessions[:0]
	for _, s := range sessions {
		if !s.IsExpired(now) {
			active = append(active, s)
		}
	}
	return active, nil
}

// newSession は新しいトークンでセッションを組み立てる。永続化はしない。
func (m *Manager) newSession(userID string, data model.SessionData) (*model.Session, error) {
	token, err := NewToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	d := data.Clone()
	if userID != "" {
		d[model.SessionKeyUserID] = userID
	}

	now := m.now()
	return &model.Session{
		ID:        token,
		UserID:    userID,
		Data:      d,
		ExpiresAt: now.Add(m.maxAge),
		CreatedAt: now,
	}, nil
}

// NewToken は暗号的に安全なランダムトークンを生成する。
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ShortID はログ出力用にトークンの先頭8文字を返す。
func ShortID(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8]
}

// keyedMutex はキーごとの排他ロック。使用中のキーのみを保持する。
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock はkeyのロックを取得し、解放関数を返す。
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
