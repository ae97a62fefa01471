package model

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCellIDOf(t *testing.T) {
	t.Run("マンハッタンの座標", func(t *testing.T) {
		c := CellIDOf(-74.0061, 40.7128)
		assert.Equal(t, CellID{LngIndex: -740061, LatIndex: 577486}, c)
	})

	t.Run("同じセル内の近傍点は同じIDになる", func(t *testing.T) {
		assert.Equal(t, CellIDOf(-74.0061, 40.7128), CellIDOf(-74.0060999, 40.71281))
	})

	t.Run("東の境界を越えると経度インデックスが変わる", func(t *testing.T) {
		c := CellIDOf(-74.0059999, 40.7128)
		assert.Equal(t, int64(-740060), c.LngIndex)
		assert.Equal(t, int64(577486), c.LatIndex)
	})

	t.Run("北の境界を越えると緯度インデックスが変わる", func(t *testing.T) {
		c := CellIDOf(-74.0061, 40.71284)
		assert.Equal(t, int64(-740061), c.LngIndex)
		assert.Equal(t, int64(577487), c.LatIndex)
	})

	t.Run("原点付近の負の座標は床関数で-1になる", func(t *testing.T) {
		assert.Equal(t, CellID{LngIndex: -1, LatIndex: -1}, CellIDOf(-0.00005, -0.00001))
		assert.Equal(t, CellID{LngIndex: 0, LatIndex: 0}, CellIDOf(0.00005, 0))
		assert.Equal(t, int64(-1), CellIDOf(0, -0.0000001).LatIndex)
	})

	t.Run("丸め誤差のある境界値は角の計算と一致するセルに入る", func(t *testing.T) {
		// 3*0.0001 は浮動小数点で 0.0003 よりわずかに大きい
		c := CellIDOf(0.0003, 0)
		assert.Equal(t, int64(2), c.LngIndex)
		assert.True(t, c.Bound().Contains(orb.Point{0.0003, 0}))
	})
}

func TestCellBoundContainsPoint(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 5000; i++ {
		lng := r.Float64()*360 - 180
		lat := r.Float64()*180 - 90
		c := CellIDOf(lng, lat)
		b := c.Bound()
		p := orb.Point{lng, lat}
		require.Truef(t, b.Contains(p), "point %v not in cell %s bound %v", p, c, b)
		// 半開区間なので上端とは一致しない
		require.Lessf(t, lng, b.Max.Lon(), "point %v on east edge of %s", p, c)
		require.Lessf(t, lat, b.Max.Lat(), "point %v on north edge of %s", p, c)
	}
}

func TestCellIDOfOutOfRange(t *testing.T) {
	assert.Equal(t, int64(1800000), MaxLngIndex)
	assert.Equal(t, int64(-1800000), MinLngIndex)
	assert.Equal(t, int64(1276595), MaxLatIndex)
	assert.Equal(t, int64(-1276596), MinLatIndex)

	t.Run("巨大な座標でもインデックスは範囲内に収まる", func(t *testing.T) {
		for _, p := range [][2]float64{{-1e15, 10}, {1e15, 10}, {1e300, -1e300}, {10, 1e15}} {
			c := CellIDOf(p[0], p[1])
			assert.Truef(t, c.InRange(), "cell %s for %v", c, p)
		}
		assert.Equal(t, MinLngIndex, CellIDOf(-1e15, 10).LngIndex)
		assert.Equal(t, MaxLatIndex, CellIDOf(10, 1e15).LatIndex)
	})

	t.Run("範囲の端の座標を含むセル", func(t *testing.T) {
		for _, p := range []orb.Point{{180, 90}, {-180, -90}, {180, -90}, {-180, 90}} {
			c := CellIDOf(p.Lon(), p.Lat())
			require.True(t, c.InRange())
			assert.Truef(t, c.Bound().Contains(p), "point %v not in cell %s", p, c)
		}
	})
}

func TestIsValidCoordinate(t *testing.T) {
	assert.True(t, IsValidCoordinate(-74.0061, 40.7128))
	assert.True(t, IsValidCoordinate(180, -90))
	assert.False(t, IsValidCoordinate(180.0001, 0))
	assert.False(t, IsValidCoordinate(0, -90.0001))
	assert.False(t, IsValidCoordinate(-1e15, 10))
	assert.False(t, IsValidCoordinate(math.Inf(1), 0))
	assert.False(t, IsValidCoordinate(0, math.NaN()))
}

func TestCellCorners(t *testing.T) {
	c := CellID{LngIndex: 100, LatIndex: 200}
	corners := c.Corners()

	assert.InDelta(t, 0.01, corners[0].Lon(), 1e-12)
	assert.InDelta(t, 200*GridSizeLat, corners[0].Lat(), 1e-12)
	assert.InDelta(t, 0.0101, corners[1].Lon(), 1e-12)
	assert.InDelta(t, corners[0].Lat(), corners[1].Lat(), 0)
	assert.InDelta(t, 201*GridSizeLat, corners[2].Lat(), 1e-12)
	assert.Equal(t, corners[0].Lon(), corners[3].Lon())

	ring := c.Polygon()[0]
	require.Len(t, ring, 5)
	assert.Equal(t, ring[0], ring[4], "GeoJSON用にリングは閉じている")
}

func TestCellCenter(t *testing.T) {
	center := CellIDOf(-74.0061, 40.7128).Center()
	assert.InDelta(t, -74.00605, center.Lon(), 1e-9)
	assert.InDelta(t, 40.71279825, center.Lat(), 1e-9)
}

func TestParseCellID(t *testing.T) {
	t.Run("文字列表現との往復", func(t *testing.T) {
		for _, c := range []CellID{{0, 0}, {100, 200}, {-740061, 577486}, {-1, -1}, {MaxLngIndex, MinLatIndex}, {MinLngIndex, MaxLatIndex}} {
			parsed, err := ParseCellID(c.String())
			require.NoError(t, err)
			assert.Equal(t, c, parsed)
		}
	})

	t.Run("不正な文字列", func(t *testing.T) {
		for _, in := range []string{"", "1", "1,2,3", "a,2", "1,b", "1.5,2", " 1,2", "1,"} {
			_, err := ParseCellID(in)
			var parseErr *ParseError
			assert.Truef(t, errors.As(err, &parseErr), "input %q should fail", in)
		}
	})

	t.Run("座標の範囲外を指すインデックスは拒否する", func(t *testing.T) {
		for _, in := range []string{"9223372036854775807,0", "0,-9223372036854775808", "1800001,0", "0,1276596", "-1800001,0"} {
			_, err := ParseCellID(in)
			var parseErr *ParseError
			assert.Truef(t, errors.As(err, &parseErr), "input %q should fail", in)
		}
		assert.Error(t, json.Unmarshal([]byte(`["9223372036854775807,0"]`), new([]CellID)))
	})

	t.Run("JSONでは文字列として扱う", func(t *testing.T) {
		data, err := json.Marshal([]CellID{{100, 200}, {-1, 3}})
		require.NoError(t, err)
		assert.JSONEq(t, `["100,200","-1,3"]`, string(data))

		var cells []CellID
		require.NoError(t, json.Unmarshal(data, &cells))
		assert.Equal(t, []CellID{{100, 200}, {-1, 3}}, cells)

		assert.Error(t, json.Unmarshal([]byte(`["oops"]`), &cells))
	})
}

func TestCellSet(t *testing.T) {
	s := NewCellSet(CellID{2, 1}, CellID{1, 5})
	assert.True(t, s.Add(CellID{1, 2}))
	assert.False(t, s.Add(CellID{1, 2}))
	assert.True(t, s.Has(CellID{2, 1}))
	assert.Equal(t, []CellID{{1, 2}, {1, 5}, {2, 1}}, s.Sorted())
	assert.Equal(t, []string{"1,2", "1,5", "2,1"}, s.Strings())
	assert.True(t, s.Remove(CellID{1, 5}))
	assert.False(t, s.Remove(CellID{1, 5}))
	assert.Equal(t, 2, s.Len())
}

func TestCellsCenterAndBound(t *testing.T) {
	_, ok := CellsCenter(nil)
	assert.False(t, ok)

	cells := []CellID{{0, 0}, {1, 0}}
	center, ok := CellsCenter(cells)
	require.True(t, ok)
	assert.InDelta(t, GridSizeLng, center.Lon(), 1e-12)
	assert.InDelta(t, GridSizeLat/2, center.Lat(), 1e-12)

	bound, ok := CellsBound(cells)
	require.True(t, ok)
	assert.InDelta(t, 2*GridSizeLng, bound.Max.Lon(), 1e-12)
}

func TestCellDimensionsAt(t *testing.T) {
	// 中緯度ではほぼ正方形、赤道では縦長になる
	mid := CellDimensionsAt(45)
	assert.InDelta(t, mid.WidthMeters, mid.HeightMeters, 1.0)

	equator := CellDimensionsAt(0)
	assert.Greater(t, equator.WidthMeters, equator.HeightMeters)
}
