package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/lokashrinav/LanguaLegacy-sub000/internal/model"
)

func newRedisSessionRepo(t *testing.T) (*RedisSessionRepo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisSessionRepo(client), mr
}

func testSession(id, userID string, now time.Time, ttl time.Duration) *model.Session {
	data := model.SessionData{}
	if userID != "" {
		data[model.SessionKeyUserID] = userID
	}
	return &model.Session{
		ID:        id,
		UserID:    userID,
		Data:      data,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
}

// RedisSessionRepoはSessionRepositoryインターフェースを満たすことを検証
func TestRedisSessionRepo_ImplementsInterface(t *testing.T) {
	var _ SessionRepository = (*RedisSessionRepo)(nil)
}

// 作成したセッションをFindByIDで取得でき、TTLが設定されることを検証
func TestRedisSessionRepo_CreateAndFind(t *testing.T) {
	repo, mr := newRedisSessionRepo(t)
	ctx := context.Background()
	now := time.Now()

	if err := repo.Create(ctx, testSession("sid-1", "u-1", now, time.Hour)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.FindByID(ctx, "sid-1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got == nil || got.UserID != "u-1" {
		t.Fatalf("unexpected session: %+v", got)
	}
	if ttl := mr.TTL(sessionKey("sid-1")); ttl <= 0 || ttl > time.Hour {
		t.Errorf("TTL = %v, want (0, 1h]", ttl)
	}
	if ok, _ := mr.SIsMember(userSessionsKey("u-1"), "sid-1"); !ok {
		t.Error("session should be indexed under its user")
	}
}

// TTL経過後はセッションが見つからないことを検証
func TestRedisSessionRepo_FindByID_AfterTTL(t *testing.T) {
	repo, mr := newRedisSessionRepo(t)
	ctx := context.Background()

	if err := repo.Create(ctx, testSession("sid-1", "u-1", time.Now(), time.Minute)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	got, err := repo.FindByID(ctx, "sid-1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil after expiry, got %+v", got)
	}
}

// 保存済みでも有効期限を過ぎた記録は存在しないものとして扱うことを検証
func TestRedisSessionRepo_FindByID_ExpiredByClock(t *testing.T) {
	repo, _ := newRedisSessionRepo(t)
	ctx := context.Background()
	now := time.Now()

	if err := repo.Create(ctx, testSession("sid-1", "u-1", now, time.Hour)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	repo.now = func() time.Time { return now.Add(2 * time.Hour) }

	got, err := repo.FindByID(ctx, "sid-1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got != nil {
		t.Error("expired record must be treated as absent")
	}
}

// 期限切れのセッションは作成できないことを検証
func TestRedisSessionRepo_Create_RejectsExpired(t *testing.T) {
	repo, mr := newRedisSessionRepo(t)

	err := repo.Create(context.Background(), testSession("sid-1", "", time.Now(), -time.Second))
	if err == nil {
		t.Fatal("expected error for already expired session")
	}
	if mr.Exists(sessionKey("sid-1")) {
		t.Error("nothing should be written")
	}
}

// Regenerateが旧トークンを削除し新トークンを保存することを検証
func TestRedisSessionRepo_Regenerate(t *testing.T) {
	repo, mr := newRedisSessionRepo(t)
	ctx := context.Background()
	now := time.Now()

	if err := repo.Create(ctx, testSession("anon", "", now, time.Hour)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Regenerate(ctx, "anon", testSession("authed", "u-1", now, time.Hour)); err != nil {
		t.Fatalf("Regenerate: %v", err)
	}

	if mr.Exists(sessionKey("anon")) {
		t.Error("old session should be deleted")
	}
	got, err := repo.FindByID(ctx, "authed")
	if err != nil || got == nil {
		t.Fatalf("new session not found: %v", err)
	}
	if got.UserID != "u-1" {
		t.Errorf("UserID = %q, want u-1", got.UserID)
	}
}

// ListByUserIDが有効なセッションのみを新しい順に返し、失効済みIDを索引から取り除くことを検証
func TestRedisSessionRepo_ListByUserID(t *testing.T) {
	repo, mr := newRedisSessionRepo(t)
	ctx := context.Background()
	now := time.Now()

	if err := repo.Create(ctx, testSession("old", "u-1", now.Add(-time.Minute), 10*time.Minute)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Create(ctx, testSession("new", "u-1", now, time.Hour)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	mr.Del(sessionKey("old"))

	sessions, err := repo.ListByUserID(ctx, "u-1")
	if err != nil {
		t.Fatalf("ListByUserID: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "new" {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}
	if ok, _ := mr.SIsMember(userSessionsKey("u-1"), "old"); ok {
		t.Error("stale id should be pruned from the index")
	}
}

// DeleteByUserIDが全セッションと索引を削除することを検証
func TestRedisSessionRepo_DeleteByUserID(t *testing.T) {
	repo, mr := newRedisSessionRepo(t)
	ctx := context.Background()
	now := time.Now()

	for _, id := range []string{"a", "b"} {
		if err := repo.Create(ctx, testSession(id, "u-1", now, time.Hour)); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if err := repo.Create(ctx, testSession("c", "u-2", now, time.Hour)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := repo.DeleteByUserID(ctx, "u-1"); err != nil {
		t.Fatalf("DeleteByUserID: %v", err)
	}
	if mr.Exists(sessionKey("a")) || mr.Exists(sessionKey("b")) {
		t.Error("u-1 sessions should be deleted")
	}
	if !mr.Exists(sessionKey("c")) {
		t.Error("other users' sessions must remain")
	}
}

// DeleteByIDが索引からも取り除くことを検証
func TestRedisSessionRepo_DeleteByID(t *testing.T) {
	repo, mr := newRedisSessionRepo(t)
	ctx := context.Background()

	if err := repo.Create(ctx, testSession("a", "u-1", time.Now(), time.Hour)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.DeleteByID(ctx, "a"); err != nil {
		t.Fatalf("DeleteByID: %v", err)
	}
	if mr.Exists(sessionKey("a")) {
		t.Error("session should be deleted")
	}
	if ok, _ := mr.SIsMember(userSessionsKey("u-1"), "a"); ok {
		t.Error("index entry should be removed")
	}
}

// DeleteExpiredがlimit件まで索引の残骸を取り除くことを検証
func TestRedisSessionRepo_DeleteExpired_PrunesIndexUpToLimit(t *testing.T) {
	repo, mr := newRedisSessionRepo(t)
	ctx := context.Background()
	now := time.Now()

	for _, id := range []string{"a", "b", "c"} {
		if err := repo.Create(ctx, testSession(id, "u-1", now, time.Hour)); err != nil {
			t.Fatalf("Create: %v", err)
		}
		mr.Del(sessionKey(id))
	}

	n, err := repo.DeleteExpired(ctx, 2)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 2 {
		t.Errorf("removed = %d, want 2", n)
	}

	n, err = repo.DeleteExpired(ctx, 10)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("removed = %d, want 1", n)
	}
}
