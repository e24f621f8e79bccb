package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lokashrinav/LanguaLegacy-sub000/internal/model"
	"github.com/lokashrinav/LanguaLegacy-sub000/internal/repository"
)

// --- インメモリのフェイク ---

// memUsers は一意制約を模したインメモリのユーザーリポジトリ。
type memUsers struct {
	mu    sync.Mutex
	byID  map[string]*model.User
	err   error
	calls []string
}

func newMemUsers() *memUsers {
	return &memUsers{byID: make(map[string]*model.User)}
}

func (m *memUsers) record(op string) error {
	m.calls = append(m.calls, op)
	return m.err
}

func (m *memUsers) FindByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("FindByID"); err != nil {
		return nil, err
	}
	if u, ok := m.byID[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("FindByEmail"); err != nil {
		return nil, err
	}
	for _, u := range m.byID {
		if u.EmailOrEmpty() == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memUsers) FindByUsername(_ context.Context, username string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("FindByUsername"); err != nil {
		return nil, err
	}
	for _, u := range m.byID {
		if u.UsernameOrEmpty() == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

// conflict は他のユーザーとの一意制約違反を返す。
func (m *memUsers) conflict(user *model.User) error {
	for id, u := range m.byID {
		if id == user.ID {
			continue
		}
		if user.Username != nil && u.UsernameOrEmpty() == *user.Username {
			return &repository.DuplicateError{Column: "username"}
		}
		if user.Email != nil && u.EmailOrEmpty() == *user.Email {
			return &repository.DuplicateError{Column: "email"}
		}
	}
	return nil
}

func (m *memUsers) Create(_ context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("Create"); err != nil {
		return err
	}
	if _, ok := m.byID[user.ID]; ok {
		return errors.New("duplicate primary key")
	}
	if err := m.conflict(user); err != nil {
		return err
	}
	cp := *user
	m.byID[user.ID] = &cp
	return nil
}

func (m *memUsers) Upsert(_ context.Context, user *model.User) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("Upsert"); err != nil {
		return nil, err
	}
	if err := m.conflict(user); err != nil {
		return nil, err
	}
	stored := *user
	if existing, ok := m.byID[user.ID]; ok {
		stored.Username = existing.Username
		stored.PasswordHash = existing.PasswordHash
		stored.CreatedAt = existing.CreatedAt
	}
	m.byID[user.ID] = &stored
	cp := stored
	return &cp, nil
}

func (m *memUsers) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// memSessions は期限切れレコードもそのまま返すインメモリのセッションストア。
type memSessions struct {
	mu            sync.Mutex
	byID          map[string]*model.Session
	regenerateErr error
}

func newMemSessions() *memSessions {
	return &memSessions{byID: make(map[string]*model.Session)}
}

func (m *memSessions) Create(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[s.ID] = s
	return nil
}

func (m *memSessions) FindByID(_ context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	cp.Data = s.Data.Clone()
	return &cp, nil
}

func (m *memSessions) Regenerate(_ context.Context, oldID string, next *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.regenerateErr != nil {
		return m.regenerateErr
	}
	delete(m.byID, oldID)
	m.byID[next.ID] = next
	return nil
}

func (m *memSessions) DeleteByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
	return nil
}

func (m *memSessions) DeleteByUserID(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.byID {
		if s.UserID == userID {
			delete(m.byID, id)
		}
	}
	return nil
}

func (m *memSessions) ListByUserID(_ context.Context, userID string) ([]*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Session
	for _, s := range m.byID {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memSessions) DeleteExpired(_ context.Context, _ int) (int64, error) {
	return 0, nil
}

// expire は指定セッションの有効期限を過去にする（レコードは残す）。
func (m *memSessions) expire(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.byID[id]; ok {
		s.ExpiresAt = time.Now().Add(-time.Minute)
	}
}

func (m *memSessions) has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byID[id]
	return ok
}

// plainHasher はテスト用の高速なPasswordHasher。
type plainHasher struct {
	mu          sync.Mutex
	verifyCalls int
}

func (h *plainHasher) Hash(_ context.Context, plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPassword
	}
	return "plain:" + plaintext, nil
}

func (h *plainHasher) Verify(_ context.Context, plaintext, digest string) bool {
	h.mu.Lock()
	h.verifyCalls++
	h.mu.Unlock()
	return digest != "" && digest == "plain:"+plaintext
}

// stubVerifier はトークンごとに決まったIDを返すFederatedVerifier。
type stubVerifier struct {
	identities map[string]*FederatedIdentity
	err        error
}

func (v *stubVerifier) Verify(_ context.Context, token string) (*FederatedIdentity, error) {
	if v.err != nil {
		return nil, v.err
	}
	id, ok := v.identities[token]
	if !ok {
		return nil, model.NewInvalidFederatedTokenError()
	}
	cp := *id
	return &cp, nil
}

// stubOAuth はstubVerifierにログインURL生成を加えたOAuthProvider。
type stubOAuth struct {
	stubVerifier
	lastState string
}

func (p *stubOAuth) GetLoginURL(state string) string {
	p.lastState = state
	return "https://accounts.example.com/auth?state=" + state
}

// stubURLs は特定のホストを拒否するURLValidator。
type stubURLs struct{}

func (stubURLs) ValidateURL(rawURL string) error {
	if rawURL == "http://169.254.169.254/latest" {
		return errors.New("blocked")
	}
	return nil
}

var (
	_ repository.UserRepository    = (*memUsers)(nil)
	_ repository.SessionRepository = (*memSessions)(nil)
	_ PasswordHasher               = (*plainHasher)(nil)
	_ FederatedVerifier            = (*stubVerifier)(nil)
	_ OAuthProvider                = (*stubOAuth)(nil)
)
