package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/lokashrinav/LanguaLegacy-sub000/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

const userColumns = `id, email, username, password_hash, first_name, last_name,
		profile_image_url, auth_provider, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx, "id", id)
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, "email", email)
}

// FindByUsername はユーザー名でユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.findOne(ctx, "username", username)
}

// findOne は指定カラムの値で1件のユーザーを検索する。
// columnは呼び出し側の固定値のみを受け付ける。
func (r *PostgresUserRepo) findOne(ctx context.Context, column, value string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+column+` = $1`,
		value,
	)

	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by %s: %w", column, err)
	}
	return user, nil
}

// Create はユーザーを作成する。
// email/usernameの一意制約違反は*DuplicateErrorとして返す。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		user.ID, user.Email, user.Username, user.PasswordHash,
		user.FirstName, user.LastName, user.ProfileImageURL,
		string(user.AuthProvider), user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if dup := asDuplicate(err); dup != nil {
			return dup
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// Upsert はIDをキーにユーザーを作成または更新する。
// 既存レコードの場合はメールアドレス、氏名、アバター、プロバイダーを最新の値で上書きし、
// created_atは維持する。
func (r *PostgresUserRepo) Upsert(ctx context.Context, user *model.User) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			profile_image_url = EXCLUDED.profile_image_url,
			auth_provider = EXCLUDED.auth_provider,
			updated_at = EXCLUDED.updated_at
		 RETURNING `+userColumns,
		user.ID, user.Email, user.Username, user.PasswordHash,
		user.FirstName, user.LastName, user.ProfileImageURL,
		string(user.AuthProvider), user.CreatedAt, user.UpdatedAt,
	)

	stored, err := scanUser(row)
	if err != nil {
		if dup := asDuplicate(err); dup != nil {
			return nil, dup
		}
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return stored, nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanUser は1行をmodel.Userに変換する。
func scanUser(row rowScanner) (*model.User, error) {
	var (
		user                                    model.User
		email, username, hash, first, last, img sql.NullString
		provider                                string
	)
	err := row.Scan(
		&user.ID, &email, &username, &hash, &first, &last, &img,
		&provider, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	user.Email = nullToPtr(email)
	user.Username = nullToPtr(username)
	user.PasswordHash = nullToPtr(hash)
	user.FirstName = nullToPtr(first)
	user.LastName = nullToPtr(last)
	user.ProfileImageURL = nullToPtr(img)
	user.AuthProvider = model.AuthProvider(provider)
	return &user, nil
}

func nullToPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

// asDuplicate は一意制約違反の場合に*DuplicateErrorを返す。それ以外はnil。
func asDuplicate(err error) *DuplicateError {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || string(pqErr.Code) != uniqueViolation {
		return nil
	}
	switch {
	case strings.Contains(pqErr.Constraint, "username"):
		return &DuplicateError{Column: "username"}
	case strings.Contains(pqErr.Constraint, "email"):
		return &DuplicateError{Column: "email"}
	default:
		return &DuplicateError{Column: pqErr.Constraint}
	}
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
