package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrModelNotFound = errors.New("模型不存在")

// UsageService 使用记录服务
// 记录按当前价格元数据定价后只追加写入，永不修改
type UsageService struct {
	db *gorm.DB
}

// NewUsageService 创建使用记录服务
func NewUsageService(db *gorm.DB) *UsageService {
	return &UsageService{db: db}
}

// RecordCompletionUsage 记录一次对话补全的使用量并定价入库
// 模型在请求完成前被删除时返回 ErrModelNotFound，由调用方记日志，不影响已返回的响应
func (s *UsageService) RecordCompletionUsage(ctx context.Context, apiKeyID, modelID string, promptTokens, completionTokens int) (*CompletionUsage, error) {
	meta, err := s.loadPriceMetadata(ctx, modelID)
	if err != nil {
		return nil, err
	}

	cost, err := PriceText(meta, promptTokens, completionTokens)
	if err != nil {
		return nil, fmt.Errorf("对话计费失败: %w", err)
	}

	record := &CompletionUsage{
		ID:               uuid.New().String(),
		ApiKeyID:         apiKeyID,
		LlmModelID:       modelID,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		CostsInCent:      cost,
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, fmt.Errorf("写入使用记录失败: %w", err)
	}
	return record, nil
}

// RecordEmbeddingUsage 记录一次向量化的使用量并定价入库
// 向量化与对话共用 completion_usages 表，completion_tokens 恒为 0
func (s *UsageService) RecordEmbeddingUsage(ctx context.Context, apiKeyID, modelID string, promptTokens int) (*CompletionUsage, error) {
	meta, err := s.loadPriceMetadata(ctx, modelID)
	if err != nil {
		return nil, err
	}

	cost, err := PriceEmbedding(meta, promptTokens)
	if err != nil {
		return nil, fmt.Errorf("向量化计费失败: %w", err)
	}

	record := &CompletionUsage{
		ID:           uuid.New().String(),
		ApiKeyID:     apiKeyID,
		LlmModelID:   modelID,
		PromptTokens: promptTokens,
		CostsInCent:  cost,
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, fmt.Errorf("写入使用记录失败: %w", err)
	}
	return record, nil
}

// RecordImageUsage 记录一次图片生成，按模型固定单价计费
func (s *UsageService) RecordImageUsage(ctx context.Context, apiKeyID, modelID string) (*ImageGenerationUsage, error) {
	meta, err := s.loadPriceMetadata(ctx, modelID)
	if err != nil {
		return nil, err
	}

	cost, err := PriceImage(meta)
	if err != nil {
		return nil, fmt.Errorf("图片计费失败: %w", err)
	}

	record := &ImageGenerationUsage{
		ID:          uuid.New().String(),
		ApiKeyID:    apiKeyID,
		LlmModelID:  modelID,
		CostsInCent: cost,
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, fmt.Errorf("写入使用记录失败: %w", err)
	}
	return record, nil
}

// loadPriceMetadata 按记录时刻重新加载模型当前价格元数据
func (s *UsageService) loadPriceMetadata(ctx context.Context, modelID string) (*PriceMetadata, error) {
	var model LlmModel
	err := s.db.WithContext(ctx).
		Where("id = ? AND is_deleted = ?", modelID, false).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrModelNotFound
		}
		return nil, fmt.Errorf("查询模型失败: %w", err)
	}
	return ParsePriceMetadata(model.PriceMetadata)
}

// SumCostsInWindow 统计一个密钥在时间窗口内两类使用记录的费用总和（分）
// 两条聚合查询内存求和，无行时按 0 处理
func (s *UsageService) SumCostsInWindow(ctx context.Context, apiKeyID string, from, to time.Time) (int64, error) {
	var completionTotal, imageTotal int64

	err := s.db.WithContext(ctx).Model(&CompletionUsage{}).
		Where("api_key_id = ? AND created_at BETWEEN ? AND ?", apiKeyID, from, to).
		Select("COALESCE(SUM(costs_in_cent), 0)").
		Scan(&completionTotal).Error
	if err != nil {
		return 0, fmt.Errorf("统计对话费用失败: %w", err)
	}

	err = s.db.WithContext(ctx).Model(&ImageGenerationUsage{}).
		Where("api_key_id = ? AND created_at BETWEEN ? AND ?", apiKeyID, from, to).
		Select("COALESCE(SUM(costs_in_cent), 0)").
		Scan(&imageTotal).Error
	if err != nil {
		return 0, fmt.Errorf("统计图片费用失败: %w", err)
	}

	return completionTotal + imageTotal, nil
}
