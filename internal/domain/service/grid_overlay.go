package service

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"landgrid/internal/domain/model"
)

// maxGridLines 表示範囲が広すぎる場合は線を描かない
const maxGridLines = 4000

// GridLines 表示範囲内のセル境界線
// ズームが表示範囲外、または線が多すぎる場合は空のコレクションを返す
func GridLines(bound orb.Bound, zoom float64, color string) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if zoom < model.MinGridZoom || zoom > model.MaxGridZoom || bound.IsEmpty() {
		return fc
	}
	if color == "" {
		color = model.DefaultGridColor
	}

	sw := model.CellIDOf(bound.Min.Lon(), bound.Min.Lat())
	ne := model.CellIDOf(bound.Max.Lon(), bound.Max.Lat())
	lngLines := ne.LngIndex - sw.LngIndex + 2
	latLines := ne.LatIndex - sw.LatIndex + 2
	if lngLines+latLines > maxGridLines {
		return fc
	}

	minLat := float64(sw.LatIndex) * model.GridSizeLat
	maxLat := float64(ne.LatIndex+1) * model.GridSizeLat
	minLng := float64(sw.LngIndex) * model.GridSizeLng
	maxLng := float64(ne.LngIndex+1) * model.GridSizeLng

	for i := sw.LngIndex; i <= ne.LngIndex+1; i++ {
		lng := float64(i) * model.GridSizeLng
		fc.Append(gridLine(orb.LineString{{lng, minLat}, {lng, maxLat}}, color))
	}
	for j := sw.LatIndex; j <= ne.LatIndex+1; j++ {
		lat := float64(j) * model.GridSizeLat
		fc.Append(gridLine(orb.LineString{{minLng, lat}, {maxLng, lat}}, color))
	}
	return fc
}

func gridLine(ls orb.LineString, color string) *geojson.Feature {
	f := geojson.NewFeature(ls)
	f.Properties["color"] = color
	return f
}

// VisibleCellCount 表示範囲に含まれるセル数の概算
func VisibleCellCount(bound orb.Bound) int64 {
	if bound.IsEmpty() {
		return 0
	}
	sw := model.CellIDOf(bound.Min.Lon(), bound.Min.Lat())
	ne := model.CellIDOf(bound.Max.Lon(), bound.Max.Lat())
	n := float64(ne.LngIndex-sw.LngIndex+1) * float64(ne.LatIndex-sw.LatIndex+1)
	if n > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(n)
}
