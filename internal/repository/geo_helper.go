package repository

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"

	"landgrid/internal/domain/model"
)

// BoundingBoxToBound model.BoundingBox を orb.Bound に変換
func BoundingBoxToBound(bbox *model.BoundingBox) orb.Bound {
	// 2点から正しい境界ボックスを作る（min/maxが逆でも扱える）
	return orb.Bound{
		Min: orb.Point{bbox.MinLng, bbox.MinLat},
		Max: orb.Point{bbox.MinLng, bbox.MinLat},
	}.Extend(orb.Point{bbox.MaxLng, bbox.MaxLat})
}

// PropertyIntersects セル群が境界ボックスと重なるか
func PropertyIntersects(cells []model.CellID, bbox *model.BoundingBox) bool {
	bound, ok := model.CellsBound(cells)
	if !ok {
		return false
	}
	return bound.Intersects(BoundingBoxToBound(bbox))
}

// CellsBoundsWKT セル群を囲む矩形のWKT。DBの範囲検索用カラムに保存する
func CellsBoundsWKT(cells []model.CellID) string {
	bound, ok := model.CellsBound(cells)
	if !ok {
		return ""
	}
	return wkt.MarshalString(bound.ToPolygon())
}
