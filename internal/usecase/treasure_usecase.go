package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"landgrid/internal/domain/model"
	"landgrid/internal/domain/repository"
	"landgrid/internal/infrastructure/logger"
	"landgrid/internal/infrastructure/metrics"
)

// TreasureUseCase 宝物の登録と購入時の発見
type TreasureUseCase interface {
	CreateTreasure(ctx context.Context, req *model.CreateTreasureRequest) (*model.Treasure, error)
	// Discover 購入セルに重なる宝物を受け取り、報酬を付与する。見つからなければnil
	Discover(ctx context.Context, userID string, cells []model.CellID) (*model.TreasureDiscovery, error)
}

type treasureUseCaseImpl struct {
	treasures repository.TreasureRepository
	users     repository.UserRepository
	now       func() time.Time
	log       *slog.Logger
}

// NewTreasureUseCase 新しいTreasureUseCaseインスタンスを作成
func NewTreasureUseCase(treasures repository.TreasureRepository, users repository.UserRepository, log *slog.Logger) TreasureUseCase {
	return &treasureUseCaseImpl{
		treasures: treasures,
		users:     users,
		now:       time.Now,
		log:       logger.OrDefault(log),
	}
}

func (u *treasureUseCaseImpl) CreateTreasure(ctx context.Context, req *model.CreateTreasureRequest) (*model.Treasure, error) {
	cells, err := model.ParseCellIDs(req.Cells)
	if err != nil {
		return nil, err
	}
	if len(cells) == 0 {
		return nil, model.ErrEmptySelection
	}
	rewardType := req.RewardType
	if rewardType == "" {
		rewardType = model.RewardTypeTokens
	}
	if rewardType == model.RewardTypeTokens && req.RewardAmount <= 0 {
		return nil, fmt.Errorf("%w: トークン報酬は正の値で指定してください (%d)", model.ErrInvalidTreasure, req.RewardAmount)
	}

	treasure := &model.Treasure{
		ID:             uuid.NewString(),
		Name:           req.Name,
		Description:    req.Description,
		Cells:          model.NewCellSet(cells...).Sorted(),
		RewardType:     rewardType,
		RewardAmount:   req.RewardAmount,
		RewardMessage:  req.RewardMessage,
		MaxRedemptions: req.MaxRedemptions,
		ExpiresAt:      req.ExpiresAt,
		CreatedAt:      u.now(),
	}
	if err := u.treasures.CreateTreasure(ctx, treasure); err != nil {
		return nil, fmt.Errorf("宝物の登録に失敗: %w", err)
	}
	u.log.Info("🎁 宝物を登録", "treasure_id", treasure.ID, "cells", len(treasure.Cells))
	return treasure, nil
}

func (u *treasureUseCaseImpl) Discover(ctx context.Context, userID string, cells []model.CellID) (*model.TreasureDiscovery, error) {
	candidates, err := u.treasures.FindOverlapping(ctx, cells)
	if err != nil {
		return nil, fmt.Errorf("宝物の検索に失敗: %w", err)
	}

	now := u.now()
	for i := range candidates {
		t := &candidates[i]
		if !t.IsAvailable(userID, now) {
			continue
		}
		redeemed, err := u.treasures.Redeem(ctx, t.ID, userID)
		if err != nil {
			return nil, fmt.Errorf("宝物 %s の受け取りに失敗: %w", t.ID, err)
		}
		if redeemed == nil {
			// 同時に他の購入で上限に達した
			continue
		}
		if redeemed.RewardType == model.RewardTypeTokens && redeemed.RewardAmount > 0 {
			if _, err := u.users.CreditTokens(ctx, userID, redeemed.RewardAmount); err != nil {
				return nil, fmt.Errorf("報酬トークンの付与に失敗: %w", err)
			}
		}
		metrics.TreasuresRedeemedTotal.Inc()
		u.log.Info("🎉 宝物発見", "treasure_id", redeemed.ID, "user_id", userID, "reward", redeemed.RewardAmount)
		return redeemed.Discovery(redeemed.OverlappingCells(cells)), nil
	}
	return nil, nil
}
