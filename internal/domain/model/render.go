package model

import (
	"github.com/paulmach/orb/geojson"
)

// ColorClass セルの表示分類
type ColorClass string

const (
	ColorClassOwn       ColorClass = "own"
	ColorClassForSale   ColorClass = "for_sale"
	ColorClassOther     ColorClass = "other"
	ColorClassSelection ColorClass = "selection"
)

// Classify 所有セルの表示分類を決める
// 自分の区画が最優先で、次に販売中、それ以外は他人の区画
func Classify(isOwnProperty, forSale bool) ColorClass {
	switch {
	case isOwnProperty:
		return ColorClassOwn
	case forSale:
		return ColorClassForSale
	default:
		return ColorClassOther
	}
}

// Fill 塗りつぶし色
func (c ColorClass) Fill() string {
	switch c {
	case ColorClassOwn:
		return ColorOwnFill
	case ColorClassForSale:
		return ColorForSaleFill
	case ColorClassOther:
		return ColorOtherFill
	default:
		return DefaultSelectionColor
	}
}

// Outline 枠線色
func (c ColorClass) Outline() string {
	switch c {
	case ColorClassOwn:
		return ColorOwnOutline
	case ColorClassForSale:
		return ColorForSaleOutline
	case ColorClassOther:
		return ColorOtherOutline
	default:
		return DefaultSelectionColor
	}
}

// RenderFeature 1セル分の描画用ポリゴン
type RenderFeature struct {
	Cell          CellID     `json:"cell"`
	PropertyID    string     `json:"propertyId,omitempty"`
	Owner         string     `json:"owner,omitempty"`
	Price         int64      `json:"price"`
	ForSale       bool       `json:"forSale"`
	SalePrice     *int64     `json:"salePrice,omitempty"`
	Name          string     `json:"name,omitempty"`
	IsOwnProperty bool       `json:"isOwnProperty"`
	Class         ColorClass `json:"class"`
	// Color 選択レイヤーのようにクラス既定色を上書きする場合に使う
	Color string `json:"color,omitempty"`
}

// GeoJSONFeature orbのGeoJSON Featureに変換
func (f RenderFeature) GeoJSONFeature() *geojson.Feature {
	feature := geojson.NewFeature(f.Cell.Polygon())
	feature.ID = f.Cell.String()
	fill := f.Class.Fill()
	outline := f.Class.Outline()
	if f.Color != "" {
		fill, outline = f.Color, f.Color
	}
	feature.Properties["cellId"] = f.Cell.String()
	feature.Properties["class"] = string(f.Class)
	feature.Properties["fillColor"] = fill
	feature.Properties["outlineColor"] = outline
	if f.PropertyID == "" {
		return feature
	}
	feature.Properties["propertyId"] = f.PropertyID
	feature.Properties["owner"] = f.Owner
	feature.Properties["price"] = f.Price
	feature.Properties["forSale"] = f.ForSale
	feature.Properties["isOwnProperty"] = f.IsOwnProperty
	if f.SalePrice != nil {
		feature.Properties["salePrice"] = *f.SalePrice
	}
	if f.Name != "" {
		feature.Properties["name"] = f.Name
	}
	return feature
}

// FeatureCollection 描画用フィーチャをGeoJSONのFeatureCollectionにまとめる
func FeatureCollection(features []RenderFeature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		fc.Append(f.GeoJSONFeature())
	}
	return fc
}
