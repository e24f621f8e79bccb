// Package user はアカウント管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/lokashrinav/LanguaLegacy-sub000/internal/model"
	"github.com/lokashrinav/LanguaLegacy-sub000/internal/session"
)

// UserFinder はユーザー取得インターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// SessionDirectory はユーザー単位のセッション操作インターフェース。
// session.Managerが実装する。
type SessionDirectory interface {
	ListForUser(ctx context.Context, userID string) ([]*model.Session, error)
	DestroyAllForUser(ctx context.Context, userID string) error
}

// SessionSummary はアカウント画面に表示するセッション情報。
// トークンそのものは含めず、先頭数文字のみを返す。
type SessionSummary struct {
	ID        string
	Current   bool
	Device    string
	IP        string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Service はアカウント管理のサービス層。
// ユーザーの削除は行わない。
type Service struct {
	users    UserFinder
	sessions SessionDirectory
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(users UserFinder, sessions SessionDirectory) *Service {
	return &Service{
		users:    users,
		sessions: sessions,
	}
}

// Profile はユーザー情報を取得する。存在しない場合はUSER_NOT_FOUNDを返す。
func (s *Service) Profile(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// Sessions はユーザーの有効なセッション一覧を作成日時の新しい順に返す。
// currentTokenに一致するセッションにはCurrentを立てる。
func (s *Service) Sessions(ctx context.Context, userID, currentToken string) ([]SessionSummary, error) {
	sessions, err := s.sessions.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("セッション一覧の取得に失敗しました: %w", err)
	}

	summaries := make([]SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		summaries = append(summaries, SessionSummary{
			ID:        session.ShortID(sess.ID),
			Current:   currentToken != "" && sess.ID == currentToken,
			Device:    sess.Data[model.SessionKeyDevice],
			IP:        sess.Data[model.SessionKeyIP],
			CreatedAt: sess.CreatedAt,
			ExpiresAt: sess.ExpiresAt,
		})
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	return summaries, nil
}

// SignOutEverywhere はユーザーの全セッションを削除する。
// 呼び出し元のセッションも含まれる。
func (s *Service) SignOutEverywhere(ctx context.Context, userID string) error {
	if err := s.sessions.DestroyAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}

	slog.Info("全セッションからサインアウトしました",
		slog.String("user_id", userID),
	)
	return nil
}

// compile-time interface check
var _ SessionDirectory = (*session.Manager)(nil)
