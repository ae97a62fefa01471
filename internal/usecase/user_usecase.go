package usecase

import (
	"context"
	"fmt"

	"landgrid/internal/domain/model"
	"landgrid/internal/domain/repository"
)

// UserUseCase ユーザー登録と残高参照
type UserUseCase interface {
	GetProfile(ctx context.Context, userID string) (*model.UserProfile, error)
	// Register 初回のみ初期トークンを付与する。2回目以降は既存のプロフィールを返す
	Register(ctx context.Context, userID string) (*model.UserProfile, error)
}

type userUseCaseImpl struct {
	users         repository.UserRepository
	initialTokens int64
}

// NewUserUseCase 新しいUserUseCaseインスタンスを作成
func NewUserUseCase(users repository.UserRepository) UserUseCase {
	return &userUseCaseImpl{users: users, initialTokens: model.InitialTokens}
}

func (u *userUseCaseImpl) GetProfile(ctx context.Context, userID string) (*model.UserProfile, error) {
	if userID == "" {
		return nil, model.ErrUnauthenticated
	}
	profile, err := u.users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗: %w", err)
	}
	return profile, nil
}

func (u *userUseCaseImpl) Register(ctx context.Context, userID string) (*model.UserProfile, error) {
	if userID == "" {
		return nil, model.ErrUnauthenticated
	}
	profile, err := u.users.EnsureUser(ctx, userID, u.initialTokens)
	if err != nil {
		return nil, fmt.Errorf("ユーザー登録に失敗: %w", err)
	}
	return profile, nil
}
