package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"landgrid/internal/domain/model"
	"landgrid/internal/infrastructure/logger"
)

// array-contains-any に渡せる値の上限
const firestoreInQueryLimit = 10

// treasureDocument Firestoreに保存する宝物
// cellKeys でセル検索し、expireAt はTTLポリシーで使う
type treasureDocument struct {
	model.Treasure
	CellKeys []string  `firestore:"cellKeys"`
	ExpireAt time.Time `firestore:"expireAt"`
}

// FirestoreTreasureRepository Firestoreを使用した宝物リポジトリ
type FirestoreTreasureRepository struct {
	client     *firestore.Client
	collection string
	ttl        time.Duration
	log        *slog.Logger
}

// NewFirestoreTreasureRepository 新しいFirestoreTreasureRepositoryインスタンスを作成
func NewFirestoreTreasureRepository(client *firestore.Client, collection string, ttl time.Duration, log *slog.Logger) *FirestoreTreasureRepository {
	if collection == "" {
		collection = "treasures"
	}
	return &FirestoreTreasureRepository{
		client:     client,
		collection: collection,
		ttl:        ttl,
		log:        logger.OrDefault(log),
	}
}

func (r *FirestoreTreasureRepository) CreateTreasure(ctx context.Context, treasure *model.Treasure) error {
	doc := treasureDocument{
		Treasure: *treasure,
		CellKeys: model.CellStrings(model.NewCellSet(treasure.Cells...).Sorted()),
		ExpireAt: r.expireAt(treasure),
	}
	if _, err := r.client.Collection(r.collection).Doc(treasure.ID).Set(ctx, doc); err != nil {
		r.log.Error("❌ 宝物の保存に失敗", "treasure_id", treasure.ID, "error", err)
		return fmt.Errorf("宝物の保存に失敗しました: %w", err)
	}
	r.log.Info("✅ 宝物を保存", "treasure_id", treasure.ID, "cells", len(doc.CellKeys))
	return nil
}

// expireAt 宝物の有効期限があればそれを、なければ作成時刻からTTL後
func (r *FirestoreTreasureRepository) expireAt(t *model.Treasure) time.Time {
	if t.ExpiresAt != nil {
		return *t.ExpiresAt
	}
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return created.Add(r.ttl)
}

func (r *FirestoreTreasureRepository) FindOverlapping(ctx context.Context, cells []model.CellID) ([]model.Treasure, error) {
	keys := model.CellStrings(model.NewCellSet(cells...).Sorted())
	seen := make(map[string]bool)
	var result []model.Treasure

	for start := 0; start < len(keys); start += firestoreInQueryLimit {
		end := start + firestoreInQueryLimit
		if end > len(keys) {
			end = len(keys)
		}
		snaps, err := r.client.Collection(r.collection).
			Where("cellKeys", "array-contains-any", keys[start:end]).
			Documents(ctx).GetAll()
		if err != nil {
			return nil, fmt.Errorf("宝物の検索に失敗しました: %w", err)
		}
		for _, snap := range snaps {
			if seen[snap.Ref.ID] {
				continue
			}
			t, err := r.decode(snap)
			if err != nil {
				r.log.Warn("⚠️ 宝物データを読み飛ばします", "treasure_id", snap.Ref.ID, "error", err)
				continue
			}
			seen[snap.Ref.ID] = true
			result = append(result, *t)
		}
	}
	return result, nil
}

func (r *FirestoreTreasureRepository) Redeem(ctx context.Context, treasureID, userID string) (*model.Treasure, error) {
	ref := r.client.Collection(r.collection).Doc(treasureID)
	var redeemed *model.Treasure

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		redeemed = nil
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return model.ErrTreasureNotFound
		}
		if err != nil {
			return err
		}
		t, err := r.decode(snap)
		if err != nil {
			return err
		}
		if !t.IsAvailable(userID, time.Now()) {
			return nil
		}
		t.Redemptions++
		t.RedeemedBy = append(t.RedeemedBy, userID)
		redeemed = t
		return tx.Update(ref, []firestore.Update{
			{Path: "redemptions", Value: firestore.Increment(1)},
			{Path: "redeemedBy", Value: firestore.ArrayUnion(userID)},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("宝物の受け取りに失敗しました: %w", err)
	}
	return redeemed, nil
}

func (r *FirestoreTreasureRepository) decode(snap *firestore.DocumentSnapshot) (*model.Treasure, error) {
	var doc treasureDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("データの変換に失敗しました: %w", err)
	}
	t := doc.Treasure
	t.ID = snap.Ref.ID
	t.Cells = parseCellsLenient(r.log, t.ID, doc.CellKeys)
	return &t, nil
}
