package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrModelNotMapped = errors.New("模型未授权给该 API 密钥")

// RegistryService 模型注册表服务
// 负责模型名到上游配置的解析，以及模型与 API 密钥的授权关系
type RegistryService struct {
	db *gorm.DB
}

// NewRegistryService 创建模型注册表服务
func NewRegistryService(db *gorm.DB) *RegistryService {
	return &RegistryService{db: db}
}

// ModelView 对调用方可见的模型视图
// 不包含 Setting 与 OrganizationID，上游凭证严禁外泄
type ModelView struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Provider      string         `json:"provider"`
	DisplayName   string         `json:"displayName"`
	Description   string         `json:"description"`
	PriceMetadata datatypes.JSON `json:"priceMetadata"`
	IsNew         bool           `json:"isNew"`
}

// toView 剥离敏感字段
func toView(m *LlmModel) ModelView {
	return ModelView{
		ID:            m.ID,
		Name:          m.Name,
		Provider:      m.Provider,
		DisplayName:   m.DisplayName,
		Description:   m.Description,
		PriceMetadata: m.PriceMetadata,
		IsNew:         m.IsNew,
	}
}

// ResolveModel 将模型名解析为上游配置
// 仅在模型授权给该密钥（join 表）时返回，授权边界独立于认证
func (s *RegistryService) ResolveModel(ctx context.Context, apiKeyID, modelName string) (*LlmModel, error) {
	var model LlmModel
	err := s.db.WithContext(ctx).
		Joins("JOIN model_api_key_mappings ON model_api_key_mappings.llm_model_id = llm_models.id").
		Where("model_api_key_mappings.api_key_id = ? AND llm_models.name = ? AND llm_models.is_deleted = ?",
			apiKeyID, modelName, false).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrModelNotMapped
		}
		return nil, fmt.Errorf("解析模型失败: %w", err)
	}
	return &model, nil
}

// ListModels 返回密钥可用的全部模型（脱敏视图）
func (s *RegistryService) ListModels(ctx context.Context, apiKeyID string) ([]ModelView, error) {
	var models []LlmModel
	err := s.db.WithContext(ctx).
		Joins("JOIN model_api_key_mappings ON model_api_key_mappings.llm_model_id = llm_models.id").
		Where("model_api_key_mappings.api_key_id = ? AND llm_models.is_deleted = ?", apiKeyID, false).
		Order("llm_models.name").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("查询模型列表失败: %w", err)
	}

	views := make([]ModelView, 0, len(models))
	for i := range models {
		views = append(views, toView(&models[i]))
	}
	return views, nil
}

// CreateModelRequest 创建模型请求
type CreateModelRequest struct {
	OrganizationID string         `json:"organizationId" binding:"required"`
	Name           string         `json:"name" binding:"required"`
	Provider       string         `json:"provider" binding:"required"`
	DisplayName    string         `json:"displayName"`
	Description    string         `json:"description"`
	PriceMetadata  datatypes.JSON `json:"priceMetadata" binding:"required"`
	Setting        datatypes.JSON `json:"setting" binding:"required"`
	IsNew          bool           `json:"isNew"`
	ApiKeyNames    []string       `json:"apiKeyNames"` // 为空时授权给组织下全部密钥
}

// CreateModel 创建模型并建立密钥授权
// 模型与授权关系在一个事务内落库：授权写入失败即整体回滚，
// 不会留下任何密钥都无法使用的悬空模型
func (s *RegistryService) CreateModel(ctx context.Context, req *CreateModelRequest) (*LlmModel, error) {
	if _, err := ParsePriceMetadata(req.PriceMetadata); err != nil {
		return nil, err
	}

	model := &LlmModel{
		ID:             uuid.New().String(),
		OrganizationID: req.OrganizationID,
		Name:           req.Name,
		Provider:       req.Provider,
		DisplayName:    req.DisplayName,
		Description:    req.Description,
		PriceMetadata:  req.PriceMetadata,
		Setting:        req.Setting,
		IsNew:          req.IsNew,
	}

	// 请求里的重名只算一次，存在性校验按去重后的集合比对
	keyNames := dedupeNames(req.ApiKeyNames)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return fmt.Errorf("创建模型失败: %w", err)
		}

		// 确定授权密钥集合
		var keys []ApiKey
		query := tx.
			Joins("JOIN projects ON projects.id = api_keys.project_id").
			Where("projects.organization_id = ?", req.OrganizationID)
		if len(keyNames) > 0 {
			query = query.Where("api_keys.name IN ?", keyNames)
		}
		if err := query.Find(&keys).Error; err != nil {
			return fmt.Errorf("查询授权密钥失败: %w", err)
		}
		if len(keyNames) > 0 && len(keys) != len(keyNames) {
			return fmt.Errorf("部分密钥名不存在: 期望 %d 个，找到 %d 个", len(keyNames), len(keys))
		}

		for i := range keys {
			mapping := &ModelApiKeyMapping{
				ID:         uuid.New().String(),
				LlmModelID: model.ID,
				ApiKeyID:   keys[i].ID,
			}
			if err := tx.Create(mapping).Error; err != nil {
				return fmt.Errorf("建立模型授权失败: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return model, nil
}

// dedupeNames 去除重复密钥名，保留首次出现的顺序
func dedupeNames(names []string) []string {
	if len(names) < 2 {
		return names
	}
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// UpdateModelRequest 更新模型请求，仅更新非空字段
type UpdateModelRequest struct {
	DisplayName   *string        `json:"displayName"`
	Description   *string        `json:"description"`
	PriceMetadata datatypes.JSON `json:"priceMetadata"`
	Setting       datatypes.JSON `json:"setting"`
	IsNew         *bool          `json:"isNew"`
}

// UpdateModel 更新模型配置
func (s *RegistryService) UpdateModel(ctx context.Context, modelID string, req *UpdateModelRequest) (*LlmModel, error) {
	var model LlmModel
	err := s.db.WithContext(ctx).Where("id = ? AND is_deleted = ?", modelID, false).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrModelNotFound
		}
		return nil, fmt.Errorf("查询模型失败: %w", err)
	}

	updates := map[string]interface{}{}
	if req.DisplayName != nil {
		updates["display_name"] = *req.DisplayName
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if len(req.PriceMetadata) > 0 {
		if _, err := ParsePriceMetadata(req.PriceMetadata); err != nil {
			return nil, err
		}
		updates["price_metadata"] = req.PriceMetadata
	}
	if len(req.Setting) > 0 {
		updates["setting"] = req.Setting
	}
	if req.IsNew != nil {
		updates["is_new"] = *req.IsNew
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&model).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("更新模型失败: %w", err)
		}
	}
	return &model, nil
}

// DeleteModel 软删除模型
// 使用记录仍引用模型行，物理删除会破坏计费追溯
func (s *RegistryService) DeleteModel(ctx context.Context, modelID string) error {
	result := s.db.WithContext(ctx).Model(&LlmModel{}).
		Where("id = ? AND is_deleted = ?", modelID, false).
		Update("is_deleted", true)
	if result.Error != nil {
		return fmt.Errorf("删除模型失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrModelNotFound
	}
	return nil
}

// ListOrganizationModels 管理端按组织列出模型（含已删除标记前的全部有效模型）
func (s *RegistryService) ListOrganizationModels(ctx context.Context, organizationID string) ([]LlmModel, error) {
	var models []LlmModel
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND is_deleted = ?", organizationID, false).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("查询组织模型失败: %w", err)
	}
	return models, nil
}
