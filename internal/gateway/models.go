package gateway

import (
	"time"

	"gorm.io/datatypes"
)

// ApiKeyState API 密钥状态
type ApiKeyState string

const (
	ApiKeyStateActive   ApiKeyState = "active"   // 启用
	ApiKeyStateInactive ApiKeyState = "inactive" // 停用
)

// Organization 组织（租户边界），拥有项目和模型
type Organization struct {
	ID        string    `json:"id" gorm:"primaryKey;type:uuid"`
	Name      string    `json:"name" gorm:"size:200;not null"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
}

func (Organization) TableName() string {
	return "organizations"
}

// Project 项目，属于一个组织，拥有 API 密钥
type Project struct {
	ID             string    `json:"id" gorm:"primaryKey;type:uuid"`
	OrganizationID string    `json:"organizationId" gorm:"type:uuid;not null;index"`
	Name           string    `json:"name" gorm:"size:200;not null"`
	CreatedAt      time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
}

func (Project) TableName() string {
	return "projects"
}

// ApiKey 调用方凭证，携带每月消费上限（分）
// 使用记录引用密钥期间不做物理删除，停用走 State 字段
type ApiKey struct {
	ID          string      `json:"id" gorm:"primaryKey;type:uuid"`
	ProjectID   string      `json:"projectId" gorm:"type:uuid;not null;index"`
	Name        string      `json:"name" gorm:"size:100;not null"`
	State       ApiKeyState `json:"state" gorm:"size:20;not null;default:active"`
	LimitInCent int64       `json:"limitInCent" gorm:"not null;default:0"`
	KeyHash     string      `json:"-" gorm:"size:64;not null;uniqueIndex"` // SHA256 哈希
	ExpiresAt   *time.Time  `json:"expiresAt"`
	CreatedAt   time.Time   `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt   time.Time   `json:"updatedAt" gorm:"not null;autoUpdateTime"`

	Project *Project `json:"-" gorm:"foreignKey:ProjectID"`
}

func (ApiKey) TableName() string {
	return "api_keys"
}

// IsActive 密钥是否可用（启用且未过期）
func (k *ApiKey) IsActive() bool {
	if k.State != ApiKeyStateActive {
		return false
	}
	if k.ExpiresAt != nil && k.ExpiresAt.Before(time.Now()) {
		return false
	}
	return true
}

// LlmModel 上游模型配置
// PriceMetadata 与 Setting 均为带类型标签的 JSON 联合结构，见 pricing.go 与 provider 包
type LlmModel struct {
	ID             string         `json:"id" gorm:"primaryKey;type:uuid"`
	OrganizationID string         `json:"organizationId" gorm:"type:uuid;not null;index"`
	Name           string         `json:"name" gorm:"size:200;not null;index"`
	Provider       string         `json:"provider" gorm:"size:50;not null"` // ionos, openai, azure, google
	DisplayName    string         `json:"displayName" gorm:"size:200"`
	Description    string         `json:"description" gorm:"size:1000"`
	PriceMetadata  datatypes.JSON `json:"priceMetadata" gorm:"type:jsonb;not null"`
	Setting        datatypes.JSON `json:"-" gorm:"type:jsonb;not null"` // 上游凭证，严禁序列化给调用方
	IsNew          bool           `json:"isNew" gorm:"default:false"`
	IsDeleted      bool           `json:"-" gorm:"default:false;index"`
	CreatedAt      time.Time      `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt      time.Time      `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

func (LlmModel) TableName() string {
	return "llm_models"
}

// ModelApiKeyMapping 模型与 API 密钥的多对多授权关系
type ModelApiKeyMapping struct {
	ID         string    `json:"id" gorm:"primaryKey;type:uuid"`
	LlmModelID string    `json:"llmModelId" gorm:"type:uuid;not null;uniqueIndex:idx_model_api_key"`
	ApiKeyID   string    `json:"apiKeyId" gorm:"type:uuid;not null;uniqueIndex:idx_model_api_key;index"`
	CreatedAt  time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
}

func (ModelApiKeyMapping) TableName() string {
	return "model_api_key_mappings"
}

// CompletionUsage 对话/向量化使用记录，只追加不修改
type CompletionUsage struct {
	ID               string    `json:"id" gorm:"primaryKey;type:uuid"`
	ApiKeyID         string    `json:"apiKeyId" gorm:"type:uuid;not null;index:idx_completion_usage_key_time"`
	LlmModelID       string    `json:"llmModelId" gorm:"type:uuid;not null;index"`
	PromptTokens     int       `json:"promptTokens" gorm:"not null"`
	CompletionTokens int       `json:"completionTokens" gorm:"not null"`
	CostsInCent      int64     `json:"costsInCent" gorm:"not null"`
	CreatedAt        time.Time `json:"createdAt" gorm:"not null;autoCreateTime;index:idx_completion_usage_key_time"`
}

func (CompletionUsage) TableName() string {
	return "completion_usages"
}

// ImageGenerationUsage 图片生成使用记录，只追加不修改
type ImageGenerationUsage struct {
	ID          string    `json:"id" gorm:"primaryKey;type:uuid"`
	ApiKeyID    string    `json:"apiKeyId" gorm:"type:uuid;not null;index:idx_image_usage_key_time"`
	LlmModelID  string    `json:"llmModelId" gorm:"type:uuid;not null;index"`
	CostsInCent int64     `json:"costsInCent" gorm:"not null"`
	CreatedAt   time.Time `json:"createdAt" gorm:"not null;autoCreateTime;index:idx_image_usage_key_time"`
}

func (ImageGenerationUsage) TableName() string {
	return "image_generation_usages"
}

// AllModels 返回网关全部 GORM 模型，供 AutoMigrate 使用
func AllModels() []interface{} {
	return []interface{}{
		&Organization{},
		&Project{},
		&ApiKey{},
		&LlmModel{},
		&ModelApiKeyMapping{},
		&CompletionUsage{},
		&ImageGenerationUsage{},
	}
}
