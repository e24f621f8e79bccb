// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/lokashrinav/LanguaLegacy-sub000/internal/model"
)

// ErrDuplicate は一意制約違反を表す。
// DuplicateErrorでラップされ、違反したカラムを保持する。
var ErrDuplicate = errors.New("duplicate key")

// DuplicateError は一意制約違反のカラム名を保持するエラー。
type DuplicateError struct {
	Column string // "email" または "username"
}

// Error はerrorインターフェースを実装する。
func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate %s", e.Column)
}

// Unwrap はerrors.Is(err, ErrDuplicate)を可能にする。
func (e *DuplicateError) Unwrap() error {
	return ErrDuplicate
}

// UserRepository はユーザーデータ（Credential Store）の永続化インターフェース。
// 単一行のアトミック性以上のトランザクションは要求しない。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	// 大文字小文字の扱いはストレージの照合順序に従う。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByUsername はユーザー名でユーザーを検索する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// Create はユーザーを作成する。
	// 一意制約違反の場合は*DuplicateErrorを返す。
	Create(ctx context.Context, user *model.User) error

	// Upsert はIDをキーにユーザーを作成または更新し、保存後のレコードを返す。
	// 外部IdPが安定したsubject IDを提供するフェデレーションユーザーで使用する。
	Upsert(ctx context.Context, user *model.User) (*model.User, error)
}

// SessionRepository はセッションデータ（Session Store）の永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error

	// FindByID は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)

	// Regenerate はoldIDのセッションを削除し、nextを保存する。
	// 両方が成功するか、どちらも行われないかのいずれかであることを保証する。
	// oldIDが空の場合はnextの保存のみを行う。
	Regenerate(ctx context.Context, oldID string, next *model.Session) error

	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error

	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error

	// ListByUserID は指定ユーザーの有効なセッション一覧を返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Session, error)

	// DeleteExpired は期限切れセッションを最大limit件削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, limit int) (int64, error)
}
