package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/FWU-DE/telli-dialog-sub004/internal/gateway"
	"github.com/FWU-DE/telli-dialog-sub004/internal/logger"
	"github.com/FWU-DE/telli-dialog-sub004/internal/metrics"
	"github.com/FWU-DE/telli-dialog-sub004/pkg/llm"
	"github.com/FWU-DE/telli-dialog-sub004/pkg/tokenizer"
)

// ContextKeyApiKey 认证中间件写入 gin 上下文的 API 密钥
const ContextKeyApiKey = "api_key"

// ClientFactory 按模型配置构建上游客户端
type ClientFactory interface {
	ClientFor(rawSetting []byte) (llm.Client, error)
}

// Handler 网关 API 处理器
// 按请求顺序编排：认证（中间件）→ 预算检查 → 模型解析 → 上游分发 → 用量落库
type Handler struct {
	budget   *gateway.BudgetService
	registry *gateway.RegistryService
	usage    *gateway.UsageService
	factory  ClientFactory
}

// NewHandler 创建网关处理器
func NewHandler(budget *gateway.BudgetService, registry *gateway.RegistryService, usage *gateway.UsageService, factory ClientFactory) *Handler {
	return &Handler{
		budget:   budget,
		registry: registry,
		usage:    usage,
		factory:  factory,
	}
}

// apiKeyFromContext 读取认证中间件解析出的 API 密钥
func apiKeyFromContext(c *gin.Context) *gateway.ApiKey {
	v, ok := c.Get(ContextKeyApiKey)
	if !ok {
		return nil
	}
	key, _ := v.(*gateway.ApiKey)
	return key
}

// guardBudget 预算软检查，超限时写出 429 并返回 false
// 检查与用量落库之间没有事务，见 BudgetService 的说明
func (h *Handler) guardBudget(c *gin.Context, key *gateway.ApiKey) bool {
	status, err := h.budget.CheckLimit(c.Request.Context(), key.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "预算检查失败", Details: err.Error()})
		return false
	}
	if status.HasReachedLimit {
		metrics.BudgetRejectionsTotal.Inc()
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "本月额度已用尽"})
		return false
	}
	return true
}

// resolveClient 解析模型并构建对应的上游客户端
func (h *Handler) resolveClient(c *gin.Context, key *gateway.ApiKey, modelName string) (*gateway.LlmModel, llm.Client, bool) {
	model, err := h.registry.ResolveModel(c.Request.Context(), key.ID, modelName)
	if err != nil {
		if errors.Is(err, gateway.ErrModelNotMapped) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
		} else {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "模型解析失败", Details: err.Error()})
		}
		return nil, nil, false
	}

	client, err := h.factory.ClientFor(model.Setting)
	if err != nil {
		logger.Error("构建上游客户端失败",
			zap.String("model", model.Name),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "上游配置无效", Details: err.Error()})
		return nil, nil, false
	}
	return model, client, true
}

// writeUpstreamError 按上游错误类别映射 HTTP 状态码
func writeUpstreamError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, llm.ErrUpstreamBadRequest):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, llm.ErrNotSupported):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	default:
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "上游调用失败", Details: err.Error()})
	}
}

// ChatCompletions 对话补全
// @Summary 对话补全（OpenAI 兼容）
// @Tags Gateway
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body ChatCompletionRequest true "补全请求"
// @Success 200 {object} ChatCompletionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /v1/chat/completions [post]
func (h *Handler) ChatCompletions(c *gin.Context) {
	key := apiKeyFromContext(c)

	if !h.guardBudget(c, key) {
		return
	}

	var req ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "请求参数错误: " + err.Error()})
		return
	}

	model, client, ok := h.resolveClient(c, key, req.Model)
	if !ok {
		return
	}

	unified := req.toUnified()

	if req.Stream {
		h.relayStream(c, client, model, unified, key)
		return
	}

	var resp *llm.ChatResponse
	err := metrics.RecordUpstreamCall(model.Provider, model.Name, "chat", func() error {
		var callErr error
		resp, callErr = client.ChatCompletion(c.Request.Context(), unified)
		return callErr
	})
	if err != nil {
		writeUpstreamError(c, err)
		return
	}

	promptTokens, completionTokens := h.resolveFinalTokens(&resp.Usage, unified.Messages, resp.Content, model.Name)
	h.recordCompletionAsync(key.ID, model.ID, model.Name, promptTokens, completionTokens)

	out := ChatCompletionResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model.Name,
		Choices: make([]ChatCompletionChoice, 1),
		Usage: UsageInfo{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}
	if out.ID == "" {
		out.ID = "chatcmpl-" + uuid.New().String()
	}
	out.Choices[0].Index = 0
	out.Choices[0].Message.Role = "assistant"
	out.Choices[0].Message.Content = resp.Content
	out.Choices[0].FinishReason = "stop"

	c.JSON(http.StatusOK, out)
}

// Embeddings 文本向量化
// @Summary 文本向量化（OpenAI 兼容）
// @Tags Gateway
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body EmbeddingsRequest true "向量化请求"
// @Success 200 {object} EmbeddingsResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /v1/embeddings [post]
func (h *Handler) Embeddings(c *gin.Context) {
	key := apiKeyFromContext(c)

	if !h.guardBudget(c, key) {
		return
	}

	var req EmbeddingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "请求参数错误: " + err.Error()})
		return
	}

	model, client, ok := h.resolveClient(c, key, req.Model)
	if !ok {
		return
	}

	var resp *llm.EmbeddingResponse
	err := metrics.RecordUpstreamCall(model.Provider, model.Name, "embedding", func() error {
		var callErr error
		resp, callErr = client.Embedding(c.Request.Context(), &llm.EmbeddingRequest{Input: req.Input})
		return callErr
	})
	if err != nil {
		writeUpstreamError(c, err)
		return
	}

	// 部分提供商不回报向量化用量，回退到本地估算
	promptTokens := resp.Usage.PromptTokens
	if promptTokens == 0 {
		for _, text := range req.Input {
			n, countErr := tokenizer.CountText(text, model.Name)
			if countErr != nil {
				logger.Warn("Token 估算失败", zap.String("model", model.Name), zap.Error(countErr))
				break
			}
			promptTokens += n
		}
	}

	go h.recordEmbeddingUsage(key.ID, model.ID, model.Name, promptTokens)

	out := EmbeddingsResponse{
		Object: "list",
		Data:   make([]EmbeddingData, 0, len(resp.Embeddings)),
		Model:  model.Name,
	}
	for i, emb := range resp.Embeddings {
		out.Data = append(out.Data, EmbeddingData{Object: "embedding", Index: i, Embedding: emb})
	}
	out.Usage.PromptTokens = promptTokens
	out.Usage.TotalTokens = promptTokens

	c.JSON(http.StatusOK, out)
}

// ImageGenerations 图片生成
// @Summary 图片生成（OpenAI 兼容）
// @Tags Gateway
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body ImageGenerationRequest true "图片生成请求"
// @Success 200 {object} ImageGenerationResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /v1/images/generations [post]
func (h *Handler) ImageGenerations(c *gin.Context) {
	key := apiKeyFromContext(c)

	if !h.guardBudget(c, key) {
		return
	}

	var req ImageGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "请求参数错误: " + err.Error()})
		return
	}

	model, client, ok := h.resolveClient(c, key, req.Model)
	if !ok {
		return
	}

	var resp *llm.ImageResponse
	err := metrics.RecordUpstreamCall(model.Provider, model.Name, "image", func() error {
		var callErr error
		resp, callErr = client.GenerateImage(c.Request.Context(), &llm.ImageRequest{Prompt: req.Prompt})
		return callErr
	})
	if err != nil {
		writeUpstreamError(c, err)
		return
	}

	go h.recordImageUsage(key.ID, model.ID, model.Name)

	out := ImageGenerationResponse{Created: time.Now().Unix()}
	out.Data = make([]struct {
		B64JSON string `json:"b64_json"`
	}, 1)
	out.Data[0].B64JSON = resp.B64JSON

	c.JSON(http.StatusOK, out)
}

// ListModels 列出当前密钥可用的模型
// 上游凭证和组织归属永不出现在响应中
// @Summary 列出可用模型
// @Tags Gateway
// @Security BearerAuth
// @Produce json
// @Success 200 {array} gateway.ModelView
// @Failure 401 {object} ErrorResponse
// @Router /v1/models [get]
func (h *Handler) ListModels(c *gin.Context) {
	key := apiKeyFromContext(c)

	models, err := h.registry.ListModels(c.Request.Context(), key.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "模型列表查询失败", Details: err.Error()})
		return
	}

	c.JSON(http.StatusOK, models)
}

// Usage 查询当月剩余额度
// @Summary 查询当月额度
// @Tags Gateway
// @Security BearerAuth
// @Produce json
// @Success 200 {object} UsageResponse
// @Failure 401 {object} ErrorResponse
// @Router /v1/usage [get]
func (h *Handler) Usage(c *gin.Context) {
	key := apiKeyFromContext(c)

	status, err := h.budget.CheckLimit(c.Request.Context(), key.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "额度查询失败", Details: err.Error()})
		return
	}

	remaining := status.LimitInCent - status.ActualPriceInCent
	if remaining < 0 {
		remaining = 0
	}

	c.JSON(http.StatusOK, UsageResponse{
		RemainingLimitInCent: remaining,
		LimitInCent:          status.LimitInCent,
	})
}

// recordCompletionAsync 异步落库对话用量
// 落库不阻塞响应路径；失败记日志而不影响已成功的响应
func (h *Handler) recordCompletionAsync(apiKeyID, modelID, modelName string, promptTokens, completionTokens int) {
	go func() {
		ctx, cancel := newRecordContext()
		defer cancel()

		record, err := h.usage.RecordCompletionUsage(ctx, apiKeyID, modelID, promptTokens, completionTokens)
		if err != nil {
			logger.Error("对话用量落库失败",
				zap.String("api_key_id", apiKeyID),
				zap.String("model_id", modelID),
				zap.Int("prompt_tokens", promptTokens),
				zap.Int("completion_tokens", completionTokens),
				zap.Error(err))
			return
		}
		metrics.RecordUsage(modelName, "chat", promptTokens, completionTokens, record.CostsInCent)
	}()
}

// recordEmbeddingUsage 落库向量化用量
func (h *Handler) recordEmbeddingUsage(apiKeyID, modelID, modelName string, promptTokens int) {
	ctx, cancel := newRecordContext()
	defer cancel()

	record, err := h.usage.RecordEmbeddingUsage(ctx, apiKeyID, modelID, promptTokens)
	if err != nil {
		logger.Error("向量化用量落库失败",
			zap.String("api_key_id", apiKeyID),
			zap.String("model_id", modelID),
			zap.Int("prompt_tokens", promptTokens),
			zap.Error(err))
		return
	}
	metrics.RecordUsage(modelName, "embedding", promptTokens, 0, record.CostsInCent)
}

// recordImageUsage 落库图片生成用量
func (h *Handler) recordImageUsage(apiKeyID, modelID, modelName string) {
	ctx, cancel := newRecordContext()
	defer cancel()

	record, err := h.usage.RecordImageUsage(ctx, apiKeyID, modelID)
	if err != nil {
		logger.Error("图片用量落库失败",
			zap.String("api_key_id", apiKeyID),
			zap.String("model_id", modelID),
			zap.Error(err))
		return
	}
	metrics.RecordUsage(modelName, "image", 0, 0, record.CostsInCent)
}
