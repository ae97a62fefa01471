package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"landgrid/internal/domain/model"
)

const (
	localKeySelection = "selection"
	localKeySnapshot  = "snapshot"
)

// SQLiteLocalStore landctlのローカル状態（未確定の選択と最後に取得できたスナップショット）
// どちらも表示の復元用で、所有判定の根拠にはしない
type SQLiteLocalStore struct {
	db  *sql.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// OpenSQLiteLocalStore ファイルを開き、必要ならテーブルを作成する
func OpenSQLiteLocalStore(ctx context.Context, path string) (*SQLiteLocalStore, error) {
	if path == "" {
		return nil, errors.New("ローカルストアのパスが空です")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ローカルストアのディレクトリ作成に失敗: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ローカルストアを開けません: %w", err)
	}
	db.SetMaxOpenConns(1)

	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS local_state (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ローカルストアの初期化に失敗: %w", err)
		}
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteLocalStore{db: db, enc: enc, dec: dec}, nil
}

// Close ファイルを閉じる
func (s *SQLiteLocalStore) Close() error {
	s.dec.Close()
	_ = s.enc.Close()
	return s.db.Close()
}

func (s *SQLiteLocalStore) SaveSelection(ctx context.Context, cells []string) error {
	if cells == nil {
		cells = []string{}
	}
	data, err := json.Marshal(cells)
	if err != nil {
		return fmt.Errorf("選択のJSONマーシャル失敗: %w", err)
	}
	return s.put(ctx, localKeySelection, data)
}

// LoadSelection 保存された選択。未保存なら空
func (s *SQLiteLocalStore) LoadSelection(ctx context.Context) ([]string, error) {
	data, err := s.get(ctx, localKeySelection)
	if err != nil || data == nil {
		return []string{}, err
	}
	var cells []string
	if err := json.Unmarshal(data, &cells); err != nil {
		return nil, fmt.Errorf("保存された選択を解析できません: %w", err)
	}
	return cells, nil
}

func (s *SQLiteLocalStore) SaveSnapshot(ctx context.Context, properties []model.Property) error {
	data, err := json.Marshal(properties)
	if err != nil {
		return fmt.Errorf("スナップショットのJSONマーシャル失敗: %w", err)
	}
	return s.put(ctx, localKeySnapshot, s.enc.EncodeAll(data, nil))
}

// LoadSnapshot 保存されたスナップショット。未保存なら nil
func (s *SQLiteLocalStore) LoadSnapshot(ctx context.Context) ([]model.Property, error) {
	compressed, err := s.get(ctx, localKeySnapshot)
	if err != nil || compressed == nil {
		return nil, err
	}
	data, err := s.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("スナップショットの展開に失敗: %w", err)
	}
	var properties []model.Property
	if err := json.Unmarshal(data, &properties); err != nil {
		return nil, fmt.Errorf("スナップショットを解析できません: %w", err)
	}
	return properties, nil
}

func (s *SQLiteLocalStore) put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO local_state(key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value)
	if err != nil {
		return fmt.Errorf("ローカルストアへの書き込みに失敗 (%s): %w", key, err)
	}
	return nil
}

func (s *SQLiteLocalStore) get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM local_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ローカルストアの読み込みに失敗 (%s): %w", key, err)
	}
	return value, nil
}
