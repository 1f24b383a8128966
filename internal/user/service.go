// Package user はユーザー管理のアプリケーションサービスを提供する。
package user

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/userdir/internal/model"
	"github.com/hitoshi/userdir/internal/repository"
)

// Logger はServiceがログ出力に使うインターフェース。
// *slog.Logger がそのまま満たす。
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// ログメッセージ
const (
	MsgRetrievingAll    = "Retrieving all users"
	MsgAllRetrieved     = "All users retrieved"
	MsgRetrieveAllError = "Something went wrong while retrieving all users"
	MsgRetrievingByID   = "Retrieving user with id"
	MsgRetrieveByIDErr  = "Something went wrong while retrieving user with id"
	MsgCreating         = "Creating user with id and name"
	MsgCreateError      = "Something went wrong while creating a user"
)

// Service はユーザー管理のサービス層。
// リポジトリ呼び出しの前後にログを出力し、エラーはログ出力後にそのまま返す。
type Service struct {
	repo   repository.UserRepository
	logger Logger
}

// NewService はServiceの新しいインスタンスを生成する。
// loggerがnilの場合はslog.Default()を使用する。
func NewService(repo repository.UserRepository, logger Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

// GetAll は全ユーザーを返す。0件の場合は空スライスを返す。
// 成功時のみ所要時間（ミリ秒）をログに出力する。
func (s *Service) GetAll(ctx context.Context) ([]model.User, error) {
	s.logger.Info(MsgRetrievingAll)
	start := time.Now()

	users, err := s.repo.GetAll(ctx)
	if err != nil {
		s.logger.Error(MsgRetrieveAllError, slog.Any("error", err))
		return nil, err
	}
	if users == nil {
		users = []model.User{}
	}

	s.logger.Info(MsgAllRetrieved,
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)
	return users, nil
}

// GetByID は指定IDのユーザーを返す。見つからない場合はnilを返す。
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	s.logger.Info(MsgRetrievingByID, slog.String("id", id.String()))

	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		s.logger.Error(MsgRetrieveByIDErr,
			slog.String("id", id.String()),
			slog.Any("error", err),
		)
		return nil, err
	}
	return u, nil
}

// Create はユーザーを作成し、リポジトリが返した結果をそのまま返す。
// IDの採番や値の検証は行わない。
func (s *Service) Create(ctx context.Context, u model.User) (bool, error) {
	s.logger.Info(MsgCreating,
		slog.String("id", u.ID.String()),
		slog.String("name", u.FullName),
	)

	created, err := s.repo.Create(ctx, u)
	if err != nil {
		s.logger.Error(MsgCreateError, slog.Any("error", err))
		return false, err
	}
	return created, nil
}

// DeleteByID は指定IDのユーザーを削除する。見つからない場合はfalseを返す。
// 他の操作と異なり、ログ出力は行わない。
func (s *Service) DeleteByID(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.repo.DeleteByID(ctx, id)
}
