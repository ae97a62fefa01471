package service

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"landgrid/internal/config"
	"landgrid/internal/domain/model"
)

func TestGridLines(t *testing.T) {
	// 経度3セル x 緯度2セルの範囲
	a := model.CellID{LngIndex: 100, LatIndex: 200}
	b := model.CellID{LngIndex: 102, LatIndex: 201}
	bound := orb.Bound{Min: a.Center(), Max: b.Center()}

	t.Run("表示ズームではセル境界線を返す", func(t *testing.T) {
		fc := GridLines(bound, 18, "")
		// 縦線4本 + 横線3本
		require.Len(t, fc.Features, 7)
		first := fc.Features[0].Geometry.(orb.LineString)
		assert.InDelta(t, 0.01, first[0].Lon(), 1e-12)
		assert.Equal(t, model.DefaultGridColor, fc.Features[0].Properties["color"])
	})

	t.Run("ズーム範囲外では描かない", func(t *testing.T) {
		assert.Empty(t, GridLines(bound, 16, "").Features)
		assert.Empty(t, GridLines(bound, 31, "").Features)
	})

	t.Run("広すぎる範囲では描かない", func(t *testing.T) {
		wide := orb.Bound{Min: orb.Point{-10, -10}, Max: orb.Point{10, 10}}
		assert.Empty(t, GridLines(wide, 18, "#333333").Features)
	})

	assert.Equal(t, int64(6), VisibleCellCount(bound))
}

func TestPricingService(t *testing.T) {
	svc := NewPricingService(config.PricingConfig{
		BasePrice: 1,
		Rules: []config.PriceRule{
			{Match: "Manhattan", BasePrice: 5},
			{Match: "New York", BasePrice: 3},
		},
	})

	assert.Equal(t, int64(5), svc.BasePriceFor("1 Wall St, manhattan, New York"))
	assert.Equal(t, int64(3), svc.BasePriceFor("Brooklyn, New York"))
	assert.Equal(t, int64(1), svc.BasePriceFor("Osaka"))
	assert.Equal(t, int64(1), svc.BasePriceFor(""))
	assert.Equal(t, int64(15), svc.Total("Manhattan", 3))

	assert.Equal(t, int64(model.DefaultBasePrice), NewPricingService(config.PricingConfig{}).BasePriceFor("x"))
}
