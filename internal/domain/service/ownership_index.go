package service

import (
	"sort"

	"landgrid/internal/domain/model"
)

// OwnershipIndex セルから所有プロパティへの索引
// 取得したプロパティ一覧から丸ごと作り直し、部分更新はしない
type OwnershipIndex struct {
	properties []model.Property
	owners     map[model.CellID]int
	contested  model.CellSet
	violations []model.DataIntegrityViolation
	cellCount  int
}

// RebuildIndex プロパティ一覧から索引を作る
// プロパティID順に畳み込むため、入力順に依存しない
// 同じセルが複数のプロパティにある場合は最初のプロパティを表示上の所有者とし、違反として記録する
func RebuildIndex(properties []model.Property) *OwnershipIndex {
	sorted := make([]model.Property, len(properties))
	copy(sorted, properties)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].ID != sorted[j].ID {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].Owner < sorted[j].Owner
	})

	idx := &OwnershipIndex{
		properties: sorted,
		owners:     make(map[model.CellID]int),
		contested:  model.NewCellSet(),
	}
	claimants := make(map[model.CellID][]string)

	for i := range sorted {
		cells := model.NewCellSet(sorted[i].Cells...).Sorted()
		sorted[i].Cells = cells
		for _, c := range cells {
			if first, ok := idx.owners[c]; ok {
				if len(claimants[c]) == 0 {
					claimants[c] = []string{sorted[first].ID}
				}
				claimants[c] = append(claimants[c], sorted[i].ID)
				idx.contested.Add(c)
				continue
			}
			idx.owners[c] = i
		}
	}
	idx.cellCount = len(idx.owners)

	for _, c := range idx.contested.Sorted() {
		idx.violations = append(idx.violations, model.DataIntegrityViolation{
			Cell:        c,
			PropertyIDs: claimants[c],
		})
	}
	return idx
}

// Owner セルを表示上所有しているプロパティ
func (idx *OwnershipIndex) Owner(c model.CellID) (*model.Property, bool) {
	if idx == nil {
		return nil, false
	}
	i, ok := idx.owners[c]
	if !ok {
		return nil, false
	}
	return &idx.properties[i], true
}

// IsOwned 所有済みか。整合性違反のセルも所有済みとして扱う
func (idx *OwnershipIndex) IsOwned(c model.CellID) bool {
	if idx == nil {
		return false
	}
	_, ok := idx.owners[c]
	return ok || idx.contested.Has(c)
}

// IsContested 整合性違反のセルか
func (idx *OwnershipIndex) IsContested(c model.CellID) bool {
	return idx != nil && idx.contested.Has(c)
}

// Properties プロパティID順の一覧
func (idx *OwnershipIndex) Properties() []model.Property {
	if idx == nil {
		return nil
	}
	return idx.properties
}

func (idx *OwnershipIndex) Violations() []model.DataIntegrityViolation {
	if idx == nil {
		return nil
	}
	return idx.violations
}

// CellCount 所有済みセル数
func (idx *OwnershipIndex) CellCount() int {
	if idx == nil {
		return 0
	}
	return idx.cellCount
}

// ToRenderFeatures プロパティとセルの組ごとに描画用フィーチャを作る
// 並びはプロパティID、セルの正規順で決定的
func ToRenderFeatures(idx *OwnershipIndex, currentUserID string) []model.RenderFeature {
	if idx == nil {
		return nil
	}
	features := make([]model.RenderFeature, 0, idx.cellCount)
	for i := range idx.properties {
		p := &idx.properties[i]
		isOwn := p.IsOwnedBy(currentUserID)
		class := model.Classify(isOwn, p.ForSale)
		name := ""
		if p.Name != nil {
			name = *p.Name
		}
		for _, c := range p.Cells {
			if idx.owners[c] != i {
				continue
			}
			features = append(features, model.RenderFeature{
				Cell:          c,
				PropertyID:    p.ID,
				Owner:         p.Owner,
				Price:         p.Price,
				ForSale:       p.ForSale,
				SalePrice:     p.SalePrice,
				Name:          name,
				IsOwnProperty: isOwn,
				Class:         class,
			})
		}
	}
	return features
}
