package model

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// CellID グリッドセルの識別子（経度インデックス, 緯度インデックス）
type CellID struct {
	LngIndex int64
	LatIndex int64
}

// 経度[-180,180]・緯度[-90,90]に対応するセルインデックスの範囲
var (
	MinLngIndex = cellIndex(-180, GridSizeLng)
	MaxLngIndex = cellIndex(180, GridSizeLng)
	MinLatIndex = cellIndex(-90, GridSizeLat)
	MaxLatIndex = cellIndex(90, GridSizeLat)
)

// CellIDOf 座標を含むセルを返す
// 負の座標でも原点をまたいで連続するよう切り捨てではなく床関数で計算する
// 範囲外の座標は経度[-180,180]・緯度[-90,90]に丸めてから計算する
func CellIDOf(lng, lat float64) CellID {
	return CellID{
		LngIndex: cellIndex(clamp(lng, -180, 180), GridSizeLng),
		LatIndex: cellIndex(clamp(lat, -90, 90), GridSizeLat),
	}
}

func clamp(v, lo, hi float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}

// cellIndex v を含む半開区間 [i*size, (i+1)*size) の i を求める
func cellIndex(v, size float64) int64 {
	i := int64(math.Floor(v / size))
	// 除算の丸め誤差で境界の隣のセルを指すことがあるため、角の計算と同じ式で補正する
	for n := 0; n < 2; n++ {
		if float64(i)*size > v {
			i--
		} else if float64(i+1)*size <= v {
			i++
		} else {
			break
		}
	}
	return i
}

// IsValidCoordinate 経度・緯度が有限値かつ地理座標の範囲内か
func IsValidCoordinate(lng, lat float64) bool {
	if math.IsNaN(lng) || math.IsNaN(lat) {
		return false
	}
	return lng >= -180 && lng <= 180 && lat >= -90 && lat <= 90
}

// InRange インデックスが地理座標の範囲内のセルを指すか
func (c CellID) InRange() bool {
	return c.LngIndex >= MinLngIndex && c.LngIndex <= MaxLngIndex &&
		c.LatIndex >= MinLatIndex && c.LatIndex <= MaxLatIndex
}

// String 正規の文字列表現 "lngIndex,latIndex"
func (c CellID) String() string {
	return strconv.FormatInt(c.LngIndex, 10) + "," + strconv.FormatInt(c.LatIndex, 10)
}

// ParseCellID "lngIndex,latIndex" 形式の文字列を解析する
func ParseCellID(s string) (CellID, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return CellID{}, &ParseError{Input: s, Reason: "カンマ区切りの2要素ではありません"}
	}
	lng, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return CellID{}, &ParseError{Input: s, Reason: "経度インデックスが整数ではありません", Err: err}
	}
	lat, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return CellID{}, &ParseError{Input: s, Reason: "緯度インデックスが整数ではありません", Err: err}
	}
	c := CellID{LngIndex: lng, LatIndex: lat}
	if !c.InRange() {
		return CellID{}, &ParseError{Input: s, Reason: "インデックスが座標の範囲外です"}
	}
	return c, nil
}

// MarshalText JSONではセルIDを正規文字列として扱う
func (c CellID) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText 正規文字列からセルIDを復元
func (c *CellID) UnmarshalText(text []byte) error {
	parsed, err := ParseCellID(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Bound セルの矩形領域
func (c CellID) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{float64(c.LngIndex) * GridSizeLng, float64(c.LatIndex) * GridSizeLat},
		Max: orb.Point{float64(c.LngIndex+1) * GridSizeLng, float64(c.LatIndex+1) * GridSizeLat},
	}
}

// Corners 南西から反時計回りの4隅
func (c CellID) Corners() [4]orb.Point {
	b := c.Bound()
	return [4]orb.Point{
		{b.Min.Lon(), b.Min.Lat()}, // 南西
		{b.Max.Lon(), b.Min.Lat()}, // 南東
		{b.Max.Lon(), b.Max.Lat()}, // 北東
		{b.Min.Lon(), b.Max.Lat()}, // 北西
	}
}

// Polygon GeoJSON用に閉じたリングを持つポリゴン
func (c CellID) Polygon() orb.Polygon {
	corners := c.Corners()
	ring := orb.Ring{corners[0], corners[1], corners[2], corners[3], corners[0]}
	return orb.Polygon{ring}
}

// Center セルの中心点
func (c CellID) Center() orb.Point {
	return c.Bound().Center()
}

// Less 経度インデックス、緯度インデックスの順で比較
func (c CellID) Less(other CellID) bool {
	if c.LngIndex != other.LngIndex {
		return c.LngIndex < other.LngIndex
	}
	return c.LatIndex < other.LatIndex
}

// SortCells セルを正規順に並べ替える
func SortCells(cells []CellID) {
	sort.Slice(cells, func(i, j int) bool { return cells[i].Less(cells[j]) })
}

// CellsCenter セル中心の平均。住所の逆ジオコーディングに使う
func CellsCenter(cells []CellID) (orb.Point, bool) {
	if len(cells) == 0 {
		return orb.Point{}, false
	}
	var sumLng, sumLat float64
	for _, c := range cells {
		center := c.Center()
		sumLng += center.Lon()
		sumLat += center.Lat()
	}
	n := float64(len(cells))
	return orb.Point{sumLng / n, sumLat / n}, true
}

// CellsBound 複数セルを囲む矩形
func CellsBound(cells []CellID) (orb.Bound, bool) {
	if len(cells) == 0 {
		return orb.Bound{}, false
	}
	bound := cells[0].Bound()
	for _, c := range cells[1:] {
		bound = bound.Union(c.Bound())
	}
	return bound, true
}

// CellDimensions セルの実寸（メートル）
type CellDimensions struct {
	WidthMeters  float64 `json:"widthMeters"`
	HeightMeters float64 `json:"heightMeters"`
}

// CellDimensionsAt 指定緯度でのセルの実寸
// 緯度幅は固定値のため、赤道や高緯度では正方形から外れる
func CellDimensionsAt(lat float64) CellDimensions {
	c := CellIDOf(0, lat)
	b := c.Bound()
	return CellDimensions{
		WidthMeters:  geo.BoundWidth(b),
		HeightMeters: geo.BoundHeight(b),
	}
}

// CellSet セルIDの集合
type CellSet map[CellID]struct{}

// NewCellSet 指定セルを含む集合を作成
func NewCellSet(cells ...CellID) CellSet {
	s := make(CellSet, len(cells))
	for _, c := range cells {
		s[c] = struct{}{}
	}
	return s
}

// Add 追加する。新規追加ならtrue
func (s CellSet) Add(c CellID) bool {
	if _, ok := s[c]; ok {
		return false
	}
	s[c] = struct{}{}
	return true
}

func (s CellSet) Has(c CellID) bool {
	_, ok := s[c]
	return ok
}

func (s CellSet) Remove(c CellID) bool {
	if _, ok := s[c]; !ok {
		return false
	}
	delete(s, c)
	return true
}

func (s CellSet) Len() int {
	return len(s)
}

// Sorted 正規順のスライス
func (s CellSet) Sorted() []CellID {
	cells := make([]CellID, 0, len(s))
	for c := range s {
		cells = append(cells, c)
	}
	SortCells(cells)
	return cells
}

// Strings 正規順の文字列スライス
func (s CellSet) Strings() []string {
	return CellStrings(s.Sorted())
}

// CellStrings セルIDを文字列に変換
func CellStrings(cells []CellID) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = c.String()
	}
	return out
}

// ParseCellIDs 文字列のセルIDを一括で解析する。1つでも不正ならエラー
func ParseCellIDs(values []string) ([]CellID, error) {
	cells := make([]CellID, 0, len(values))
	for _, v := range values {
		c, err := ParseCellID(v)
		if err != nil {
			return nil, err
		}
		cells = append(cells, c)
	}
	return cells, nil
}
