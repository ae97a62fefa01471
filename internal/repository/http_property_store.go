package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"landgrid/internal/domain/model"
	"landgrid/internal/infrastructure/logger"
)

// UserIDHeader 上流の認証ゲートウェイが付与するユーザーIDヘッダー
const UserIDHeader = "X-User-ID"

// propertySchema サーバーから受け取るプロパティレコードの最低限の形
var propertySchema = jsonschema.MustCompileString("property.json", `{
	"type": "object",
	"required": ["id", "owner", "cells", "price", "forSale"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"owner": {"type": "string"},
		"cells": {"type": "array", "items": {"type": "string"}},
		"price": {"type": "integer", "minimum": 0},
		"forSale": {"type": "boolean"},
		"salePrice": {"type": ["integer", "null"], "minimum": 0}
	}
}`)

// HTTPPropertyStore プロパティストアAPIのRESTクライアント
type HTTPPropertyStore struct {
	baseURL    string
	userID     string
	httpClient *http.Client
	log        *slog.Logger
}

// NewHTTPPropertyStore 新しいHTTPPropertyStoreインスタンスを作成
// baseURL は /api までを含むURL
func NewHTTPPropertyStore(baseURL, userID string, timeout time.Duration, log *slog.Logger) *HTTPPropertyStore {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPPropertyStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userID:     userID,
		httpClient: &http.Client{Timeout: timeout},
		log:        logger.OrDefault(log),
	}
}

// apiError サーバーのエラーレスポンス
type apiError struct {
	Error      string   `json:"error"`
	Details    string   `json:"details"`
	OwnedCells []string `json:"ownedCells"`
	Required   int64    `json:"required"`
	Available  int64    `json:"available"`
}

// wireProperty セルIDを1つずつ検証するために文字列のまま受ける
type wireProperty struct {
	model.Property
	Cells []string `json:"cells"`
}

func (s *HTTPPropertyStore) ListProperties(ctx context.Context) ([]model.Property, error) {
	var raw []json.RawMessage
	if err := s.do(ctx, http.MethodGet, "/properties", nil, &raw); err != nil {
		return nil, err
	}
	properties := make([]model.Property, 0, len(raw))
	for _, r := range raw {
		p, err := s.decodeProperty(r)
		if err != nil {
			s.log.Warn("⚠️ 不正なプロパティレコードを読み飛ばします", "error", err)
			continue
		}
		properties = append(properties, *p)
	}
	return properties, nil
}

// decodeProperty スキーマ検証してからモデルに変換する。不正なセルIDは読み飛ばす
func (s *HTTPPropertyStore) decodeProperty(raw json.RawMessage) (*model.Property, error) {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("プロパティのJSON解析に失敗: %w", err)
	}
	if err := propertySchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("プロパティの形式が不正です: %w", err)
	}
	var w wireProperty
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("プロパティのJSON解析に失敗: %w", err)
	}
	p := w.Property
	p.Cells = parseCellsLenient(s.log, p.ID, w.Cells)
	return &p, nil
}

func (s *HTTPPropertyStore) IsCellOwned(ctx context.Context, cell model.CellID) (bool, error) {
	var resp model.CellCheckResponse
	path := "/properties/cell/" + url.PathEscape(cell.String()) + "/check"
	if err := s.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return false, err
	}
	return resp.IsOwned, nil
}

func (s *HTTPPropertyStore) CheckCells(ctx context.Context, cells []model.CellID) ([]model.CellID, error) {
	var resp model.CheckCellsResponse
	req := model.CheckCellsRequest{Cells: model.CellStrings(cells)}
	if err := s.do(ctx, http.MethodPost, "/properties/cells/check", req, &resp); err != nil {
		return nil, err
	}
	owned := parseCellsLenient(s.log, "", resp.OwnedCells)
	model.SortCells(owned)
	return owned, nil
}

func (s *HTTPPropertyStore) CreateProperty(ctx context.Context, req *model.PurchaseRequest) (*model.PurchaseResponse, error) {
	var resp struct {
		Property   json.RawMessage          `json:"property"`
		IsTreasure bool                     `json:"isTreasure"`
		Treasure   *model.TreasureDiscovery `json:"treasure"`
	}
	if err := s.do(ctx, http.MethodPost, "/properties/unallocated/buy", req, &resp); err != nil {
		return nil, err
	}
	p, err := s.decodeProperty(resp.Property)
	if err != nil {
		return nil, err
	}
	return &model.PurchaseResponse{
		Property:   p,
		IsTreasure: resp.IsTreasure,
		Treasure:   resp.Treasure,
	}, nil
}

func (s *HTTPPropertyStore) UpdateProperty(ctx context.Context, id string, req *model.UpdatePropertyRequest) (*model.Property, error) {
	var raw json.RawMessage
	if err := s.do(ctx, http.MethodPut, "/properties/"+url.PathEscape(id), req, &raw); err != nil {
		return nil, err
	}
	return s.decodeProperty(raw)
}

func (s *HTTPPropertyStore) GetProfile(ctx context.Context) (*model.UserProfile, error) {
	var profile model.UserProfile
	if err := s.do(ctx, http.MethodGet, "/users/profile", nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// RegisterUser 初期トークン付きでユーザーを登録する（登録済みならそのまま）
func (s *HTTPPropertyStore) RegisterUser(ctx context.Context) (*model.UserProfile, error) {
	var profile model.UserProfile
	if err := s.do(ctx, http.MethodPost, "/users", struct{}{}, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (s *HTTPPropertyStore) GetBasePrice(ctx context.Context, address string) (int64, error) {
	var resp model.PriceResponse
	path := "/pricing?" + url.Values{"address": []string{address}}.Encode()
	if err := s.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return 0, err
	}
	if resp.BasePrice <= 0 {
		return 0, fmt.Errorf("%w: 価格が不正です (%d)", model.ErrPricingFailed, resp.BasePrice)
	}
	return resp.BasePrice, nil
}

func (s *HTTPPropertyStore) do(ctx context.Context, method, path string, body, out interface{}) error {
	if s.userID == "" {
		return model.ErrUnauthenticated
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("リクエストのJSONマーシャル失敗: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("リクエストの作成に失敗: %w", err)
	}
	req.Header.Set(UserIDHeader, s.userID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", model.ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return s.statusError(method, path, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("レスポンスのJSONパースに失敗: %w", err)
	}
	return nil
}

// statusError ステータスコードをドメインエラーに変換する
func (s *HTTPPropertyStore) statusError(method, path string, resp *http.Response) error {
	var body apiError
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body)
	detail := body.Error
	if body.Details != "" {
		detail += ": " + body.Details
	}

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s %s が %s を返しました", model.ErrRemoteUnavailable, method, path, resp.Status)
	case resp.StatusCode == http.StatusConflict && body.OwnedCells != nil:
		owned := parseCellsLenient(s.log, "", body.OwnedCells)
		model.SortCells(owned)
		return &model.OwnershipConflictError{Cells: owned}
	case resp.StatusCode == http.StatusPaymentRequired:
		return &model.InsufficientBalanceError{Required: body.Required, Available: body.Available}
	case resp.StatusCode == http.StatusUnauthorized:
		return model.ErrUnauthenticated
	case resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", model.ErrForbidden, detail)
	case resp.StatusCode == http.StatusNotFound && strings.HasPrefix(path, "/users"):
		return model.ErrUserNotFound
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", model.ErrPropertyNotFound, detail)
	default:
		return fmt.Errorf("%s %s が失敗しました (%s): %s", method, path, resp.Status, detail)
	}
}
