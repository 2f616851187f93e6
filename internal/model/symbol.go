package model

import "github.com/shopspring/decimal"

// SymbolInfo is instrument metadata used for order validation
type SymbolInfo struct {
	Symbol         string          `json:"symbol"`
	BaseAsset      string          `json:"baseAsset"`
	QuoteAsset     string          `json:"quoteAsset"`
	MinOrderAmount decimal.Decimal `json:"minOrderAmount"`
	MinOrderQty    decimal.Decimal `json:"minOrderQty"`
	TickSize       decimal.Decimal `json:"tickSize"`
	StepSize       decimal.Decimal `json:"stepSize"`
	MakerFee       decimal.Decimal `json:"makerFee"`
	TakerFee       decimal.Decimal `json:"takerFee"`
	Exchange       string          `json:"exchange"`
	UpdateTime     int64           `json:"updateTime"`
}
