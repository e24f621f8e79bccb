package auth

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/lokashrinav/LanguaLegacy-sub000/internal/metrics"
)

const (
	// DefaultBcryptCost は既定のbcryptコスト係数。
	DefaultBcryptCost = 12
	// MinBcryptCost は許容する最小のbcryptコスト係数。これより小さい値は切り上げる。
	MinBcryptCost = 10
	// MaxPasswordBytes はbcryptが扱える平文の最大バイト数。
	MaxPasswordBytes = 72
)

// ErrEmptyPassword は空のパスワードをハッシュしようとした場合のエラー。
var ErrEmptyPassword = errors.New("password is empty")

// PasswordHasher はパスワードの一方向ハッシュと検証のインターフェース。
type PasswordHasher interface {
	// Hash は平文パスワードからソルト付きダイジェストを生成する。
	Hash(ctx context.Context, plaintext string) (string, error)
	// Verify は平文がダイジェストと一致するかを返す。
	// ダイジェストが空または不正な場合はfalse。
	Verify(ctx context.Context, plaintext, digest string) bool
}

// BcryptHasher はbcryptによるPasswordHasherの実装。
// CPU負荷の高い処理の同時実行数をセマフォで制限し、
// 処理は別goroutineで行うため、コンテキストのキャンセルに即座に応答する。
type BcryptHasher struct {
	cost    int
	sem     chan struct{}
	metrics metrics.MetricsCollector
}

// NewBcryptHasher はBcryptHasherを生成する。
// costがMinBcryptCost未満の場合はMinBcryptCostに切り上げる。
// maxConcurrentが0以下の場合はCPU数を上限とする。
func NewBcryptHasher(cost, maxConcurrent int, mc metrics.MetricsCollector) *BcryptHasher {
	if cost < MinBcryptCost {
		cost = MinBcryptCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	if maxConcurrent <= 0 {
		maxConcurrent = runtime.NumCPU()
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &BcryptHasher{
		cost:    cost,
		sem:     make(chan struct{}, maxConcurrent),
		metrics: mc,
	}
}

// Cost は使用するコスト係数を返す。
func (h *BcryptHasher) Cost() int {
	return h.cost
}

// Hash は平文パスワードのbcryptダイジェストを生成する。
func (h *BcryptHasher) Hash(ctx context.Context, plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPassword
	}
	if len(plaintext) > MaxPasswordBytes {
		return "", bcrypt.ErrPasswordTooLong
	}

	type result struct {
		digest []byte
		err    error
	}

	done, err := h.run(ctx, func() any {
		digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
		return result{digest: digest, err: err}
	})
	if err != nil {
		return "", err
	}

	r := done.(result)
	if r.err != nil {
		return "", fmt.Errorf("failed to hash password: %w", r.err)
	}
	return string(r.digest), nil
}

// Verify は平文とダイジェストを比較する。
// ダイジェストが空の場合やコンテキストがキャンセルされた場合はfalseを返す。
func (h *BcryptHasher) Verify(ctx context.Context, plaintext, digest string) bool {
	if digest == "" {
		return false
	}

	done, err := h.run(ctx, func() any {
		return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
	})
	if err != nil {
		return false
	}
	return done.(bool)
}

// run はセマフォを取得してfnを別goroutineで実行する。
// セマフォはfnの完了時に解放されるため、呼び出し元がキャンセルで先に戻っても
// 同時実行数の上限は守られる。
func (h *BcryptHasher) run(ctx context.Context, fn func() any) (any, error) {
	select {
	case h.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	out := make(chan any, 1)
	go func() {
		defer func() { <-h.sem }()
		start := time.Now()
		v := fn()
		h.metrics.RecordPasswordHash(time.Since(start))
		out <- v
	}()

	select {
	case v := <-out:
		return v, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// compile-time interface check
var _ PasswordHasher = (*BcryptHasher)(nil)
