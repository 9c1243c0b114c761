package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrOrganizationNotFound = errors.New("组织不存在")
	ErrProjectNotFound      = errors.New("项目不存在")
)

// AdminService 管理端资源服务：组织、项目、API 密钥
type AdminService struct {
	db *gorm.DB
}

// NewAdminService 创建管理服务
func NewAdminService(db *gorm.DB) *AdminService {
	return &AdminService{db: db}
}

// CreateOrganization 创建组织
func (s *AdminService) CreateOrganization(ctx context.Context, name string) (*Organization, error) {
	org := &Organization{
		ID:   uuid.New().String(),
		Name: name,
	}
	if err := s.db.WithContext(ctx).Create(org).Error; err != nil {
		return nil, fmt.Errorf("创建组织失败: %w", err)
	}
	return org, nil
}

// ListOrganizations 列出全部组织
func (s *AdminService) ListOrganizations(ctx context.Context) ([]Organization, error) {
	var orgs []Organization
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&orgs).Error; err != nil {
		return nil, fmt.Errorf("查询组织失败: %w", err)
	}
	return orgs, nil
}

// CreateProject 在组织下创建项目
func (s *AdminService) CreateProject(ctx context.Context, organizationID, name string) (*Project, error) {
	var org Organization
	if err := s.db.WithContext(ctx).Where("id = ?", organizationID).First(&org).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("查询组织失败: %w", err)
	}

	project := &Project{
		ID:             uuid.New().String(),
		OrganizationID: organizationID,
		Name:           name,
	}
	if err := s.db.WithContext(ctx).Create(project).Error; err != nil {
		return nil, fmt.Errorf("创建项目失败: %w", err)
	}
	return project, nil
}

// ListProjects 列出组织下全部项目
func (s *AdminService) ListProjects(ctx context.Context, organizationID string) ([]Project, error) {
	var projects []Project
	err := s.db.WithContext(ctx).
		Where("organization_id = ?", organizationID).
		Order("created_at DESC").
		Find(&projects).Error
	if err != nil {
		return nil, fmt.Errorf("查询项目失败: %w", err)
	}
	return projects, nil
}

// CreateApiKeyRequest 创建 API 密钥请求
type CreateApiKeyRequest struct {
	ProjectID   string `json:"projectId" binding:"required"`
	Name        string `json:"name" binding:"required"`
	LimitInCent int64  `json:"limitInCent" binding:"gte=0"`
	ExpiresIn   int    `json:"expiresIn"` // 有效期（天），0 表示永久
}

// CreateApiKeyResponse 创建 API 密钥响应
// Key 字段仅在创建时返回一次完整密钥
type CreateApiKeyResponse struct {
	ID          string     `json:"id"`
	Key         string     `json:"key"`
	Name        string     `json:"name"`
	LimitInCent int64      `json:"limitInCent"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// CreateApiKey 生成并保存 API 密钥，库中只存哈希
func (s *AdminService) CreateApiKey(ctx context.Context, req *CreateApiKeyRequest) (*CreateApiKeyResponse, error) {
	var project Project
	if err := s.db.WithContext(ctx).Where("id = ?", req.ProjectID).First(&project).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("查询项目失败: %w", err)
	}

	rawKey, err := GenerateApiKey()
	if err != nil {
		return nil, fmt.Errorf("生成密钥失败: %w", err)
	}

	var expiresAt *time.Time
	if req.ExpiresIn > 0 {
		t := time.Now().AddDate(0, 0, req.ExpiresIn)
		expiresAt = &t
	}

	apiKey := &ApiKey{
		ID:          uuid.New().String(),
		ProjectID:   req.ProjectID,
		Name:        req.Name,
		State:       ApiKeyStateActive,
		LimitInCent: req.LimitInCent,
		KeyHash:     HashApiKey(rawKey),
		ExpiresAt:   expiresAt,
	}
	if err := s.db.WithContext(ctx).Create(apiKey).Error; err != nil {
		return nil, fmt.Errorf("保存密钥失败: %w", err)
	}

	return &CreateApiKeyResponse{
		ID:          apiKey.ID,
		Key:         rawKey, // 仅此一次返回完整密钥
		Name:        apiKey.Name,
		LimitInCent: apiKey.LimitInCent,
		ExpiresAt:   expiresAt,
	}, nil
}

// ListApiKeys 列出项目下全部密钥
func (s *AdminService) ListApiKeys(ctx context.Context, projectID string) ([]ApiKey, error) {
	var keys []ApiKey
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC").
		Find(&keys).Error
	if err != nil {
		return nil, fmt.Errorf("查询密钥失败: %w", err)
	}
	return keys, nil
}

// UpdateApiKeyRequest 更新 API 密钥请求，仅更新非空字段
type UpdateApiKeyRequest struct {
	Name        *string      `json:"name"`
	LimitInCent *int64       `json:"limitInCent"`
	State       *ApiKeyState `json:"state"`
}

// UpdateApiKey 重命名、调整上限或启停密钥
// 密钥只做软生命周期管理，使用记录引用期间不提供物理删除
func (s *AdminService) UpdateApiKey(ctx context.Context, keyID string, req *UpdateApiKeyRequest) (*ApiKey, error) {
	var apiKey ApiKey
	if err := s.db.WithContext(ctx).Where("id = ?", keyID).First(&apiKey).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrApiKeyNotFound
		}
		return nil, fmt.Errorf("查询密钥失败: %w", err)
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.LimitInCent != nil {
		updates["limit_in_cent"] = *req.LimitInCent
	}
	if req.State != nil {
		if *req.State != ApiKeyStateActive && *req.State != ApiKeyStateInactive {
			return nil, fmt.Errorf("无效的密钥状态: %s", *req.State)
		}
		updates["state"] = *req.State
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&apiKey).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("更新密钥失败: %w", err)
		}
	}
	return &apiKey, nil
}
