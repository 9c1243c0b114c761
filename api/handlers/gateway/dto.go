package gateway

import (
	"encoding/json"
	"errors"

	"github.com/FWU-DE/telli-dialog-sub004/pkg/llm"
)

// ErrorResponse 统一错误响应
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ChatMessagePart 多模态消息片段（OpenAI 兼容格式）
type ChatMessagePart struct {
	Type     string `json:"type"` // text, image_url
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

// MessageContent 消息内容，兼容纯文本字符串和多模态片段数组两种格式
type MessageContent struct {
	Text  string
	Parts []ChatMessagePart
}

// UnmarshalJSON 先按字符串解析，失败则按片段数组解析
func (m *MessageContent) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		m.Text = text
		m.Parts = nil
		return nil
	}

	var parts []ChatMessagePart
	if err := json.Unmarshal(data, &parts); err == nil {
		m.Parts = parts
		return nil
	}

	return errors.New("content 必须是字符串或内容片段数组")
}

// MarshalJSON 保持与解析对称
func (m MessageContent) MarshalJSON() ([]byte, error) {
	if len(m.Parts) > 0 {
		return json.Marshal(m.Parts)
	}
	return json.Marshal(m.Text)
}

// ChatMessage 对话消息
type ChatMessage struct {
	Role    string         `json:"role" binding:"required"`
	Content MessageContent `json:"content"`
}

// ChatCompletionRequest 对话补全请求（OpenAI 兼容格式）
type ChatCompletionRequest struct {
	Model       string        `json:"model" binding:"required"`
	Messages    []ChatMessage `json:"messages" binding:"required,min=1"`
	MaxTokens   int           `json:"max_tokens" binding:"omitempty,min=1"`
	Temperature float64       `json:"temperature" binding:"omitempty,min=0,max=2"`
	Stream      bool          `json:"stream"`
}

// toUnified 转换为统一内部请求
func (r *ChatCompletionRequest) toUnified() *llm.ChatRequest {
	messages := make([]llm.Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		msg := llm.Message{Role: m.Role, Content: m.Content.Text}
		for _, p := range m.Content.Parts {
			part := llm.ContentPart{Type: p.Type, Text: p.Text}
			if p.ImageURL != nil {
				part.ImageURL = p.ImageURL.URL
			}
			msg.Parts = append(msg.Parts, part)
		}
		messages = append(messages, msg)
	}
	return &llm.ChatRequest{
		Messages:    messages,
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
	}
}

// ChatCompletionChoice 非流式响应的选项
type ChatCompletionChoice struct {
	Index        int `json:"index"`
	Message      struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

// UsageInfo Token 用量（OpenAI 兼容格式）
type UsageInfo struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionResponse 对话补全响应（非流式）
type ChatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"` // chat.completion
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   UsageInfo              `json:"usage"`
}

// ChunkDelta 流式响应的增量内容
type ChunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ChunkChoice 流式响应的选项
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

// ChatCompletionChunk 流式响应块（OpenAI 兼容格式）
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"` // chat.completion.chunk
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
}

// EmbeddingsRequest 向量化请求
type EmbeddingsRequest struct {
	Model string   `json:"model" binding:"required"`
	Input []string `json:"input" binding:"required,min=1"`
}

// EmbeddingData 单条向量结果
type EmbeddingData struct {
	Object    string    `json:"object"` // embedding
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

// EmbeddingsResponse 向量化响应
type EmbeddingsResponse struct {
	Object string          `json:"object"` // list
	Data   []EmbeddingData `json:"data"`
	Model  string          `json:"model"`
	Usage  struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// ImageGenerationRequest 图片生成请求
type ImageGenerationRequest struct {
	Model  string `json:"model" binding:"required"`
	Prompt string `json:"prompt" binding:"required"`
}

// ImageGenerationResponse 图片生成响应
type ImageGenerationResponse struct {
	Created int64 `json:"created"`
	Data    []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

// UsageResponse 当月额度查询响应
type UsageResponse struct {
	RemainingLimitInCent int64 `json:"remainingLimitInCent"`
	LimitInCent          int64 `json:"limitInCent"`
}
