package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lokashrinav/LanguaLegacy-sub000/internal/model"
)

const (
	redisSessionPrefix     = "langualegacy:session:"
	redisUserSessionPrefix = "langualegacy:user_sessions:"
)

// redisSession はRedisに保存するセッションのJSON表現。
type redisSession struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId,omitempty"`
	Data      map[string]string `json:"data"`
	ExpiresAt time.Time         `json:"expiresAt"`
	CreatedAt time.Time         `json:"createdAt"`
}

// RedisSessionRepo はRedisを使用したセッションリポジトリ。
// セッション本体はTTL付きのJSON文字列として保存し、
// ユーザーごとのセッションIDをSetで索引する。
type RedisSessionRepo struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisSessionRepo はRedisSessionRepoを生成する。
func NewRedisSessionRepo(client *redis.Client) *RedisSessionRepo {
	return &RedisSessionRepo{client: client, now: time.Now}
}

func sessionKey(id string) string {
	return redisSessionPrefix + id
}

func userSessionsKey(userID string) string {
	return redisUserSessionPrefix + userID
}

// Create はセッションを作成する。
func (r *RedisSessionRepo) Create(ctx context.Context, session *model.Session) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		return r.queueSet(ctx, pipe, session)
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// queueSet はセッション保存のコマンドをパイプラインに積む。
func (r *RedisSessionRepo) queueSet(ctx context.Context, pipe redis.Pipeliner, session *model.Session) error {
	ttl := session.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return errors.New("session is already expired")
	}

	payload, err := json.Marshal(redisSession{
		ID:        session.ID,
		UserID:    session.UserID,
		Data:      session.Data.Clone(),
		ExpiresAt: session.ExpiresAt,
		CreatedAt: session.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	pipe.Set(ctx, sessionKey(session.ID), payload, ttl)
	if session.UserID != "" {
		idx := userSessionsKey(session.UserID)
		pipe.SAdd(ctx, idx, session.ID)
		pipe.Expire(ctx, idx, ttl)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
func (r *RedisSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	raw, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	session, err := decodeRedisSession(raw)
	if err != nil {
		return nil, err
	}
	if session.IsExpired(r.now()) {
		return nil, nil
	}
	return session, nil
}

// Regenerate は旧セッションの削除と新セッションの保存をMULTI/EXECで行う。
func (r *RedisSessionRepo) Regenerate(ctx context.Context, oldID string, next *model.Session) error {
	var oldUserID string
	if oldID != "" {
		old, err := r.FindByID(ctx, oldID)
		if err != nil {
			return err
		}
		if old != nil {
			oldUserID = old.UserID
		}
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if oldID != "" {
			pipe.Del(ctx, sessionKey(oldID))
			if oldUserID != "" {
				pipe.SRem(ctx, userSessionsKey(oldUserID), oldID)
			}
		}
		return r.queueSet(ctx, pipe, next)
	})
	if err != nil {
		return fmt.Errorf("failed to regenerate session: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *RedisSessionRepo) DeleteByID(ctx context.Context, id string) error {
	session, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKey(id))
		if session != nil && session.UserID != "" {
			pipe.SRem(ctx, userSessionsKey(session.UserID), id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (r *RedisSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	idx := userSessionsKey(userID)
	ids, err := r.client.SMembers(ctx, idx).Result()
	if err != nil {
		return fmt.Errorf("failed to list user sessions: %w", err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, sessionKey(id))
	}
	keys = append(keys, idx)

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

// ListByUserID は指定ユーザーの有効なセッションを作成日時の降順で返す。
// 失効済みのIDは索引から取り除く。
func (r *RedisSessionRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Session, error) {
	idx := userSessionsKey(userID)
	ids, err := r.client.SMembers(ctx, idx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list user sessions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = sessionKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load user sessions: %w", err)
	}

	now := r.now()
	var (
		sessions []*model.Session
		stale    []any
	)
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		s, err := decodeRedisSession([]byte(raw))
		if err != nil {
			return nil, err
		}
		if s.IsExpired(now) {
			stale = append(stale, ids[i])
			continue
		}
		sessions = append(sessions, s)
	}

	if len(stale) > 0 {
		if err := r.client.SRem(ctx, idx, stale...).Err(); err != nil {
			return nil, fmt.Errorf("failed to prune user sessions: %w", err)
		}
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// DeleteExpired はユーザー索引に残った失効済みセッションIDを最大limit件取り除く。
// セッション本体はRedisのTTLで自動的に削除される。
func (r *RedisSessionRepo) DeleteExpired(ctx context.Context, limit int) (int64, error) {
	var (
		removed int64
		cursor  uint64
	)
	for {
		idxKeys, next, err := r.client.Scan(ctx, cursor, redisUserSessionPrefix+"*", 100).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to scan session indexes: %w", err)
		}

		for _, idx := range idxKeys {
			n, err := r.pruneIndex(ctx, idx, int(int64(limit)-removed))
			if err != nil {
				return removed, err
			}
			removed += n
			if removed >= int64(limit) {
				return removed, nil
			}
		}

		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

// pruneIndex は1つのユーザー索引から本体が存在しないIDを最大limit件取り除く。
func (r *RedisSessionRepo) pruneIndex(ctx context.Context, idx string, limit int) (int64, error) {
	ids, err := r.client.SMembers(ctx, idx).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read session index: %w", err)
	}

	var stale []any
	for _, id := range ids {
		if len(stale) >= limit {
			break
		}
		exists, err := r.client.Exists(ctx, sessionKey(id)).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to check session: %w", err)
		}
		if exists == 0 {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	n, err := r.client.SRem(ctx, idx, stale...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to prune session index: %w", err)
	}
	return n, nil
}

// Ping はRedisへの疎通を確認する。
func (r *RedisSessionRepo) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func decodeRedisSession(raw []byte) (*model.Session, error) {
	var rs redisSession
	if err := json.Unmarshal(raw, &rs); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	data := model.SessionData(rs.Data)
	if data == nil {
		data = model.SessionData{}
	}
	return &model.Session{
		ID:        rs.ID,
		UserID:    rs.UserID,
		Data:      data,
		ExpiresAt: rs.ExpiresAt,
		CreatedAt: rs.CreatedAt,
	}, nil
}

// compile-time interface check
var _ SessionRepository = (*RedisSessionRepo)(nil)
