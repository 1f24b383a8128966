// Package repository はデータ永続化のインターフェースと実装を提供する。
package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/hitoshi/userdir/internal/model"
)

// ErrIntegrity は一意制約やNOT NULL制約などの整合性違反を表す。
// ドライバ固有のエラーと合わせてラップして返す。
var ErrIntegrity = errors.New("integrity constraint violation")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// GetAll は全ユーザーを作成順に返す。0件の場合は空スライスを返す。
	GetAll(ctx context.Context) ([]model.User, error)

	// GetByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)

	// Create はユーザーを作成する。同じIDが既に存在する場合はfalseを返す。
	Create(ctx context.Context, user model.User) (bool, error)

	// DeleteByID は指定IDのユーザーを削除する。見つからない場合はfalseを返す。
	DeleteByID(ctx context.Context, id uuid.UUID) (bool, error)
}
