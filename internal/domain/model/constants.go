package model

// グリッドの定数
const (
	// GridSizeLng セル1つ分の経度幅（度）
	GridSizeLng = 0.0001
	// GridSizeLat セル1つ分の緯度幅（度）。中緯度でほぼ正方形になるよう固定値で補正している
	GridSizeLat = 0.0000705

	// MinGridZoom これ未満のズームではセル選択とグリッド表示を行わない
	MinGridZoom = 17.0
	// MaxGridZoom グリッド表示の上限ズーム
	MaxGridZoom = 30.0
)

// 表示色の定数
const (
	DefaultSelectionColor = "#0080ff"
	DefaultGridColor      = "#000000"

	ColorOwnFill        = "#4CAF50"
	ColorOwnOutline     = "#2E7D32"
	ColorForSaleFill    = "#FFC107"
	ColorForSaleOutline = "#FF8F00"
	ColorOtherFill      = "#F44336"
	ColorOtherOutline   = "#B71C1C"
)

// ゲーム内経済の定数
const (
	// DefaultBasePrice 価格ルールに一致しない場合のセル単価
	DefaultBasePrice = 1
	// InitialTokens 新規ユーザーに付与するトークン数
	InitialTokens = 10
)
