package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
)

// priceScale 价格换算因子
// 单价按每百万 token 计，再乘 10 以整数保留亚分精度
const priceScale = 10_000_000

// 价格元数据类型标签
const (
	PriceTypeText      = "text"
	PriceTypeEmbedding = "embedding"
	PriceTypeImage     = "image"
)

var (
	ErrPriceTypeMismatch = errors.New("价格类型与计费方式不匹配")
	ErrInvalidPriceMeta  = errors.New("价格元数据无效")
)

// PriceMetadata 模型价格元数据（带类型标签的联合结构）
// type=text:      promptTokenPrice + completionTokenPrice
// type=embedding: promptTokenPrice
// type=image:     pricePerImageInCent
type PriceMetadata struct {
	Type                 string `json:"type"`
	PromptTokenPrice     int64  `json:"promptTokenPrice,omitempty"`
	CompletionTokenPrice int64  `json:"completionTokenPrice,omitempty"`
	PricePerImageInCent  int64  `json:"pricePerImageInCent,omitempty"`
}

// ParsePriceMetadata 解析并校验价格元数据 JSON
func ParsePriceMetadata(raw []byte) (*PriceMetadata, error) {
	if len(raw) == 0 {
		return nil, ErrInvalidPriceMeta
	}
	var meta PriceMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPriceMeta, err)
	}
	switch meta.Type {
	case PriceTypeText, PriceTypeEmbedding, PriceTypeImage:
		return &meta, nil
	default:
		return nil, fmt.Errorf("%w: 未知类型 %q", ErrInvalidPriceMeta, meta.Type)
	}
}

// PriceText 计算文本补全费用（分）
// 对 token 数保持线性，零输入返回 0；类型不符返回错误而非 0
func PriceText(meta *PriceMetadata, promptTokens, completionTokens int) (int64, error) {
	if meta.Type != PriceTypeText {
		return 0, fmt.Errorf("%w: 期望 text，实际 %s", ErrPriceTypeMismatch, meta.Type)
	}
	cost := (int64(promptTokens)*meta.PromptTokenPrice + int64(completionTokens)*meta.CompletionTokenPrice) / priceScale
	return cost, nil
}

// PriceEmbedding 计算向量化费用（分）
func PriceEmbedding(meta *PriceMetadata, promptTokens int) (int64, error) {
	if meta.Type != PriceTypeEmbedding {
		return 0, fmt.Errorf("%w: 期望 embedding，实际 %s", ErrPriceTypeMismatch, meta.Type)
	}
	return int64(promptTokens) * meta.PromptTokenPrice / priceScale, nil
}

// PriceImage 计算单张图片费用（分），固定单价
func PriceImage(meta *PriceMetadata) (int64, error) {
	if meta.Type != PriceTypeImage {
		return 0, fmt.Errorf("%w: 期望 image，实际 %s", ErrPriceTypeMismatch, meta.Type)
	}
	return meta.PricePerImageInCent, nil
}
