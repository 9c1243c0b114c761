package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// 提供商类型标签
const (
	ProviderIonos  = "ionos"
	ProviderOpenAI = "openai"
	ProviderAzure  = "azure"
	ProviderGoogle = "google"
)

var (
	// ErrUpstreamBadRequest 上游因调用方输入返回 4xx，映射为 400
	ErrUpstreamBadRequest = errors.New("上游拒绝请求参数")
	// ErrUpstreamFailure 上游服务端故障或网络失败，映射为 5xx
	ErrUpstreamFailure = errors.New("上游调用失败")
	// ErrNotSupported 提供商不支持该操作
	ErrNotSupported = errors.New("提供商不支持该操作")
)

// 消息片段类型
const (
	ContentTypeText     = "text"
	ContentTypeImageURL = "image_url"
)

// ContentPart 多模态消息片段
type ContentPart struct {
	Type     string `json:"type"` // text, image_url
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"` // http(s) 链接或 data: 内联图片
}

// Message 统一消息结构
// Parts 非空时为多模态消息，否则取 Content 纯文本
type Message struct {
	Role    string        `json:"role"` // system, user, assistant
	Content string        `json:"content"`
	Parts   []ContentPart `json:"parts,omitempty"`
}

// ChatRequest 统一对话补全请求
type ChatRequest struct {
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"maxTokens"`
}

// Usage Token 使用情况
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse 统一对话补全响应（非流式）
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// StreamChunk 统一流式响应块
// 部分提供商只在末尾块携带 Usage
type StreamChunk struct {
	ID           string `json:"id"`
	Model        string `json:"model"`
	Content      string `json:"content"`
	FinishReason string `json:"finishReason,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`
	Done         bool   `json:"done"`
}

// EmbeddingRequest 统一向量化请求
type EmbeddingRequest struct {
	Input []string `json:"input"`
}

// EmbeddingResponse 统一向量化响应
type EmbeddingResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Usage      Usage       `json:"usage"`
}

// ImageRequest 统一图片生成请求
type ImageRequest struct {
	Prompt string `json:"prompt"`
}

// ImageResponse 统一图片生成响应（base64 编码）
type ImageResponse struct {
	B64JSON string `json:"b64_json"`
}

// Client 上游模型客户端统一接口
type Client interface {
	// ChatCompletion 对话补全（非流式）
	ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// ChatCompletionStream 对话补全（流式）
	// chunk channel 持续发送响应块直到 Done 或出错；上下文取消必须传导到上游连接
	ChatCompletionStream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, <-chan error)

	// Embedding 文本向量化
	Embedding(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error)

	// GenerateImage 图片生成
	GenerateImage(ctx context.Context, req *ImageRequest) (*ImageResponse, error)

	// Name 返回提供商名称
	Name() string
}

// Setting 模型的上游凭证配置（带类型标签的联合结构，存于 llm_models.setting）
type Setting struct {
	Type       string `json:"type"` // ionos, openai, azure, google
	APIKey     string `json:"apiKey"`
	BaseURL    string `json:"baseUrl,omitempty"`
	Model      string `json:"model,omitempty"`
	Endpoint   string `json:"endpoint,omitempty"`   // azure 专用
	Deployment string `json:"deployment,omitempty"` // azure 专用
	APIVersion string `json:"apiVersion,omitempty"` // azure 专用
}

// ParseSetting 解析并校验上游配置 JSON
func ParseSetting(raw []byte) (*Setting, error) {
	if len(raw) == 0 {
		return nil, errors.New("上游配置为空")
	}
	var setting Setting
	if err := json.Unmarshal(raw, &setting); err != nil {
		return nil, fmt.Errorf("解析上游配置失败: %w", err)
	}
	switch setting.Type {
	case ProviderIonos, ProviderOpenAI, ProviderAzure, ProviderGoogle:
		return &setting, nil
	default:
		return nil, fmt.Errorf("未知的提供商类型: %q", setting.Type)
	}
}
