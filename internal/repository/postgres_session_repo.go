package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lokashrinav/LanguaLegacy-sub000/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// execer は*sql.DBと*sql.Txの共通インターフェース。
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Create はセッションを作成する。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	return insertSession(ctx, r.db, session)
}

// insertSession はセッションを1件INSERTする。
func insertSession(ctx context.Context, ex execer, session *model.Session) error {
	data, err := json.Marshal(session.Data.Clone())
	if err != nil {
		return fmt.Errorf("failed to encode session data: %w", err)
	}

	_, err = ex.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, data, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		session.ID, nullableUserID(session.UserID), string(data), session.ExpiresAt, session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, data, expires_at, created_at
		 FROM sessions
		 WHERE id = $1 AND expires_at > now()`,
		id,
	)

	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return session, nil
}

// Regenerate は旧セッションの削除と新セッションの作成を同一トランザクションで行う。
func (r *PostgresSessionRepo) Regenerate(ctx context.Context, oldID string, next *model.Session) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if oldID != "" {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, oldID); err != nil {
			return fmt.Errorf("failed to delete previous session: %w", err)
		}
	}

	if err := insertSession(ctx, tx, next); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (r *PostgresSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

// ListByUserID は指定ユーザーの有効なセッションを作成日時の降順で返す。
func (r *PostgresSessionRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, data, expires_at, created_at
		 FROM sessions
		 WHERE user_id = $1 AND expires_at > now()
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}

// DeleteExpired は期限切れセッションを古い順に最大limit件削除する。
// 1回の呼び出しで削除する件数を制限し、長時間のロックを避ける。
func (r *PostgresSessionRepo) DeleteExpired(ctx context.Context, limit int) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions
		 WHERE id IN (
			SELECT id FROM sessions
			WHERE expires_at <= now()
			ORDER BY expires_at
			LIMIT $1
		 )`,
		limit,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// scanSession は1行をmodel.Sessionに変換する。
func scanSession(row rowScanner) (*model.Session, error) {
	var (
		session model.Session
		userID  sql.NullString
		data    []byte
	)
	if err := row.Scan(&session.ID, &userID, &data, &session.ExpiresAt, &session.CreatedAt); err != nil {
		return nil, err
	}

	session.UserID = userID.String
	session.Data = model.SessionData{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &session.Data); err != nil {
			return nil, fmt.Errorf("failed to decode session data: %w", err)
		}
	}
	return &session, nil
}

func nullableUserID(userID string) sql.NullString {
	return sql.NullString{String: userID, Valid: userID != ""}
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
