package service

import (
	"strings"

	"landgrid/internal/config"
	"landgrid/internal/domain/model"
)

// PricingService 住所からセル単価を決める
type PricingService struct {
	basePrice int64
	rules     []config.PriceRule
}

// NewPricingService 設定のルール順に評価する
func NewPricingService(cfg config.PricingConfig) *PricingService {
	base := cfg.BasePrice
	if base <= 0 {
		base = model.DefaultBasePrice
	}
	return &PricingService{basePrice: base, rules: cfg.Rules}
}

// BasePriceFor 住所に最初に一致したルールの単価。一致しなければ既定の単価
func (s *PricingService) BasePriceFor(address string) int64 {
	lower := strings.ToLower(address)
	for _, r := range s.rules {
		if strings.Contains(lower, strings.ToLower(r.Match)) {
			return r.BasePrice
		}
	}
	return s.basePrice
}

// Total セル数分の合計価格
func (s *PricingService) Total(address string, cellCount int) int64 {
	return s.BasePriceFor(address) * int64(cellCount)
}
