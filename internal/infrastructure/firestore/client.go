package firestore

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"

	"landgrid/internal/infrastructure/logger"
)

// FirestoreClient 宝物ストア用のFirestoreクライアント
type FirestoreClient struct {
	client *firestore.Client
}

// NewFirestoreClient 新しいFirestoreクライアントを作成
// GOOGLE_APPLICATION_CREDENTIALS のファイルがあればそれを使い、なければデフォルト認証
func NewFirestoreClient(ctx context.Context, projectID string, log *slog.Logger) (*FirestoreClient, error) {
	log = logger.OrDefault(log)
	if projectID == "" {
		return nil, fmt.Errorf("FirestoreのプロジェクトIDが設定されていません")
	}

	var opts []option.ClientOption
	if credentialsFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); err != nil {
			log.Warn("⚠️ 認証ファイルが見つからないためデフォルト認証を使用", "file", credentialsFile)
		} else {
			log.Info("📄 認証ファイルを使用", "file", credentialsFile)
			opts = append(opts, option.WithCredentialsFile(credentialsFile))
		}
	}

	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("Firestoreクライアントの作成に失敗: %w", err)
	}
	log.Info("✅ Firestoreクライアント初期化完了", "project_id", projectID)
	return &FirestoreClient{client: client}, nil
}

func (fc *FirestoreClient) Close() error {
	return fc.client.Close()
}

func (fc *FirestoreClient) GetClient() *firestore.Client {
	return fc.client
}
