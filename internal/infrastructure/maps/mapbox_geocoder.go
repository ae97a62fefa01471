package maps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// MapboxGeocoder はMapbox Geocoding APIを使用した逆ジオコーディングの実装
type MapboxGeocoder struct {
	accessToken string
	baseURL     string
	httpClient  *http.Client
}

// NewMapboxGeocoder は新しいジオコーダーを生成する
func NewMapboxGeocoder(accessToken, baseURL string, timeout time.Duration) *MapboxGeocoder {
	if baseURL == "" {
		baseURL = "https://api.mapbox.com"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MapboxGeocoder{
		accessToken: accessToken,
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// ReverseGeocode は座標に最も近い住所を返す
func (g *MapboxGeocoder) ReverseGeocode(ctx context.Context, lng, lat float64) (string, error) {
	if g.accessToken == "" {
		return "", errors.New("Mapboxのアクセストークンが設定されていません")
	}

	// 1. APIリクエストURLを構築
	reqURL := g.buildURL(lng, lat)

	// 2. HTTPリクエストを作成・実行
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("リクエストの作成に失敗: %w", err)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("APIリクエストに失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("APIからエラーステータスが返されました: %s", resp.Status)
	}

	// 3. JSONレスポンスをパース
	var apiResp mapboxGeocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", fmt.Errorf("JSONのパースに失敗: %w", err)
	}
	if len(apiResp.Features) == 0 || apiResp.Features[0].PlaceName == "" {
		return "", errors.New("APIから住所が返されませんでした")
	}
	return apiResp.Features[0].PlaceName, nil
}

func (g *MapboxGeocoder) buildURL(lng, lat float64) string {
	coords := strconv.FormatFloat(lng, 'f', 6, 64) + "," + strconv.FormatFloat(lat, 'f', 6, 64)
	params := url.Values{}
	params.Add("access_token", g.accessToken)
	params.Add("limit", "1")
	return fmt.Sprintf("%s/geocoding/v5/mapbox.places/%s.json?%s", g.baseURL, url.PathEscape(coords), params.Encode())
}

// --- Mapbox APIのレスポンスをパースするための内部構造体 ---

type mapboxGeocodeResponse struct {
	Features []struct {
		PlaceName string `json:"place_name"`
	} `json:"features"`
}
