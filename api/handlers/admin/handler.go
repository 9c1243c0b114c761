package admin

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/FWU-DE/telli-dialog-sub004/internal/gateway"
)

// ErrorResponse 统一错误响应
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Handler 管理后台 API 处理器
// 组织、项目、密钥、模型的全生命周期管理，认证走静态管理密钥
type Handler struct {
	admin    *gateway.AdminService
	registry *gateway.RegistryService
}

// NewHandler 创建管理处理器
func NewHandler(admin *gateway.AdminService, registry *gateway.RegistryService) *Handler {
	return &Handler{admin: admin, registry: registry}
}

// writeServiceError 按服务层错误类别映射 HTTP 状态码
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, gateway.ErrOrganizationNotFound),
		errors.Is(err, gateway.ErrProjectNotFound),
		errors.Is(err, gateway.ErrApiKeyNotFound),
		errors.Is(err, gateway.ErrModelNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, gateway.ErrInvalidPriceMeta):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "内部错误", Details: err.Error()})
	}
}

// ============================================================================
// 组织管理
// ============================================================================

// CreateOrganizationRequest 创建组织请求
type CreateOrganizationRequest struct {
	Name string `json:"name" binding:"required"`
}

// CreateOrganization 创建组织
// @Summary 创建组织
// @Tags Admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body CreateOrganizationRequest true "创建请求"
// @Success 201 {object} gateway.Organization
// @Failure 400 {object} ErrorResponse
// @Router /v1/admin/organizations [post]
func (h *Handler) CreateOrganization(c *gin.Context) {
	var req CreateOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "请求参数错误: " + err.Error()})
		return
	}

	org, err := h.admin.CreateOrganization(c.Request.Context(), req.Name)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, org)
}

// ListOrganizations 列出全部组织
// @Summary 列出组织
// @Tags Admin
// @Security BearerAuth
// @Produce json
// @Success 200 {array} gateway.Organization
// @Router /v1/admin/organizations [get]
func (h *Handler) ListOrganizations(c *gin.Context) {
	orgs, err := h.admin.ListOrganizations(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, orgs)
}

// ============================================================================
// 项目管理
// ============================================================================

// CreateProjectRequest 创建项目请求
type CreateProjectRequest struct {
	Name string `json:"name" binding:"required"`
}

// CreateProject 在组织下创建项目
// @Summary 创建项目
// @Tags Admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param orgId path string true "组织 ID"
// @Param request body CreateProjectRequest true "创建请求"
// @Success 201 {object} gateway.Project
// @Failure 404 {object} ErrorResponse
// @Router /v1/admin/organizations/{orgId}/projects [post]
func (h *Handler) CreateProject(c *gin.Context) {
	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "请求参数错误: " + err.Error()})
		return
	}

	project, err := h.admin.CreateProject(c.Request.Context(), c.Param("orgId"), req.Name)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}

// ListProjects 列出组织下全部项目
// @Summary 列出项目
// @Tags Admin
// @Security BearerAuth
// @Produce json
// @Param orgId path string true "组织 ID"
// @Success 200 {array} gateway.Project
// @Router /v1/admin/organizations/{orgId}/projects [get]
func (h *Handler) ListProjects(c *gin.Context) {
	projects, err := h.admin.ListProjects(c.Request.Context(), c.Param("orgId"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, projects)
}

// ============================================================================
// API 密钥管理
// ============================================================================

// CreateApiKey 创建 API 密钥
// 完整密钥仅在响应中出现一次，库中只存哈希
// @Summary 创建 API 密钥
// @Tags Admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body gateway.CreateApiKeyRequest true "创建请求"
// @Success 201 {object} gateway.CreateApiKeyResponse
// @Failure 404 {object} ErrorResponse
// @Router /v1/admin/api-keys [post]
func (h *Handler) CreateApiKey(c *gin.Context) {
	var req gateway.CreateApiKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "请求参数错误: " + err.Error()})
		return
	}

	resp, err := h.admin.CreateApiKey(c.Request.Context(), &req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// ListApiKeys 列出项目下全部密钥
// @Summary 列出 API 密钥
// @Tags Admin
// @Security BearerAuth
// @Produce json
// @Param projectId query string true "项目 ID"
// @Success 200 {array} gateway.ApiKey
// @Router /v1/admin/api-keys [get]
func (h *Handler) ListApiKeys(c *gin.Context) {
	projectID := c.Query("projectId")
	if projectID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "缺少 projectId 参数"})
		return
	}

	keys, err := h.admin.ListApiKeys(c.Request.Context(), projectID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, keys)
}

// UpdateApiKey 重命名、调整上限或启停密钥
// @Summary 更新 API 密钥
// @Tags Admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "密钥 ID"
// @Param request body gateway.UpdateApiKeyRequest true "更新请求"
// @Success 200 {object} gateway.ApiKey
// @Failure 404 {object} ErrorResponse
// @Router /v1/admin/api-keys/{id} [patch]
func (h *Handler) UpdateApiKey(c *gin.Context) {
	var req gateway.UpdateApiKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "请求参数错误: " + err.Error()})
		return
	}

	key, err := h.admin.UpdateApiKey(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, key)
}

// ============================================================================
// 模型管理
// ============================================================================

// CreateModel 创建模型并授权给密钥
// 未指定密钥名时授权给组织下全部密钥；模型与授权在一个事务内落库
// @Summary 创建模型
// @Tags Admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body gateway.CreateModelRequest true "创建请求"
// @Success 201 {object} gateway.LlmModel
// @Failure 400 {object} ErrorResponse
// @Router /v1/admin/models [post]
func (h *Handler) CreateModel(c *gin.Context) {
	var req gateway.CreateModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "请求参数错误: " + err.Error()})
		return
	}

	model, err := h.registry.CreateModel(c.Request.Context(), &req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, model)
}

// ListModels 列出组织下全部模型
// @Summary 列出模型
// @Tags Admin
// @Security BearerAuth
// @Produce json
// @Param organizationId query string true "组织 ID"
// @Success 200 {array} gateway.LlmModel
// @Router /v1/admin/models [get]
func (h *Handler) ListModels(c *gin.Context) {
	organizationID := c.Query("organizationId")
	if organizationID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "缺少 organizationId 参数"})
		return
	}

	models, err := h.registry.ListOrganizationModels(c.Request.Context(), organizationID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, models)
}

// UpdateModel 更新模型配置
// @Summary 更新模型
// @Tags Admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "模型 ID"
// @Param request body gateway.UpdateModelRequest true "更新请求"
// @Success 200 {object} gateway.LlmModel
// @Failure 404 {object} ErrorResponse
// @Router /v1/admin/models/{id} [patch]
func (h *Handler) UpdateModel(c *gin.Context) {
	var req gateway.UpdateModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "请求参数错误: " + err.Error()})
		return
	}

	model, err := h.registry.UpdateModel(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, model)
}

// DeleteModel 软删除模型
// @Summary 删除模型
// @Tags Admin
// @Security BearerAuth
// @Param id path string true "模型 ID"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /v1/admin/models/{id} [delete]
func (h *Handler) DeleteModel(c *gin.Context) {
	if err := h.registry.DeleteModel(c.Request.Context(), c.Param("id")); err != nil {
		writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
