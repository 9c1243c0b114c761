package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/FWU-DE/telli-dialog-sub004/pkg/llm"

	openai "github.com/sashabaranov/go-openai"
)

// Client OpenAI 兼容客户端适配器
// IONOS 走 OpenAI 兼容协议，仅 BaseURL 不同，共用本适配器
type Client struct {
	client   *openai.Client
	model    string
	provider string
}

// NewClient 创建 OpenAI 兼容客户端
// httpClient 由工厂注入，统一超时上限，上游挂起时不会无限占用连接
func NewClient(setting *llm.Setting, httpClient *http.Client) (*Client, error) {
	if setting.APIKey == "" {
		return nil, fmt.Errorf("%s API Key 不能为空", setting.Type)
	}

	clientConfig := openai.DefaultConfig(setting.APIKey)
	if setting.BaseURL != "" {
		clientConfig.BaseURL = setting.BaseURL
	}
	if httpClient != nil {
		clientConfig.HTTPClient = httpClient
	}

	return &Client{
		client:   openai.NewClientWithConfig(clientConfig),
		model:    setting.Model,
		provider: setting.Type,
	}, nil
}

// ChatCompletion 对话补全（非流式）
// 补全调用不做重试：上游可能已经产生计费
func (c *Client) ChatCompletion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    convertMessages(req.Messages),
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, wrapError(c.provider, err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: %s 返回空响应", llm.ErrUpstreamFailure, c.provider)
	}

	return &llm.ChatResponse{
		ID:      resp.ID,
		Model:   resp.Model,
		Content: resp.Choices[0].Message.Content,
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// ChatCompletionStream 对话补全（流式）
// 请求带 IncludeUsage，上游会在末尾块报告 token 用量
func (c *Client) ChatCompletionStream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, <-chan error) {
	chunkChan := make(chan llm.StreamChunk, 10)
	errChan := make(chan error, 1)

	go func() {
		defer close(chunkChan)
		defer close(errChan)

		stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:       c.model,
			Messages:    convertMessages(req.Messages),
			Temperature: float32(req.Temperature),
			MaxTokens:   req.MaxTokens,
			Stream:      true,
			StreamOptions: &openai.StreamOptions{
				IncludeUsage: true,
			},
		})
		if err != nil {
			errChan <- wrapError(c.provider, err)
			return
		}
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					chunkChan <- llm.StreamChunk{Done: true}
					return
				}
				errChan <- wrapError(c.provider, err)
				return
			}

			chunk := llm.StreamChunk{
				ID:    response.ID,
				Model: response.Model,
			}
			if len(response.Choices) > 0 {
				chunk.Content = response.Choices[0].Delta.Content
				chunk.FinishReason = string(response.Choices[0].FinishReason)
			}
			// 末尾用量块：choices 为空，仅带 usage
			if response.Usage != nil {
				chunk.Usage = &llm.Usage{
					PromptTokens:     response.Usage.PromptTokens,
					CompletionTokens: response.Usage.CompletionTokens,
					TotalTokens:      response.Usage.TotalTokens,
				}
			}
			chunkChan <- chunk
		}
	}()

	return chunkChan, errChan
}

// Embedding 文本向量化
func (c *Client) Embedding(ctx context.Context, req *llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.model),
		Input: req.Input,
	})
	if err != nil {
		return nil, wrapError(c.provider, err)
	}

	embeddings := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		embeddings[i] = data.Embedding
	}

	return &llm.EmbeddingResponse{
		Embeddings: embeddings,
		Usage: llm.Usage{
			PromptTokens: resp.Usage.PromptTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}, nil
}

// GenerateImage 图片生成（base64 返回）
func (c *Client) GenerateImage(ctx context.Context, req *llm.ImageRequest) (*llm.ImageResponse, error) {
	resp, err := c.client.CreateImage(ctx, openai.ImageRequest{
		Model:          c.model,
		Prompt:         req.Prompt,
		N:              1,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, wrapError(c.provider, err)
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: %s 未返回图片", llm.ErrUpstreamFailure, c.provider)
	}

	return &llm.ImageResponse{B64JSON: resp.Data[0].B64JSON}, nil
}

// Name 返回提供商名称
func (c *Client) Name() string {
	return c.provider
}

// convertMessages 将统一消息转换为 OpenAI 格式，多模态内容映射为 MultiContent
func convertMessages(messages []llm.Message) []openai.ChatCompletionMessage {
	converted := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		out := openai.ChatCompletionMessage{Role: msg.Role}
		if len(msg.Parts) > 0 {
			parts := make([]openai.ChatMessagePart, 0, len(msg.Parts))
			for _, part := range msg.Parts {
				switch part.Type {
				case llm.ContentTypeImageURL:
					parts = append(parts, openai.ChatMessagePart{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: part.ImageURL},
					})
				default:
					parts = append(parts, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeText,
						Text: part.Text,
					})
				}
			}
			out.MultiContent = parts
		} else {
			out.Content = msg.Content
		}
		converted = append(converted, out)
	}
	return converted
}

// wrapError 按上游状态码归类错误：4xx 视为调用方输入问题，其余为上游故障
func wrapError(providerName string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 {
			return fmt.Errorf("%w: %s HTTP %d: %s", llm.ErrUpstreamBadRequest, providerName, apiErr.HTTPStatusCode, apiErr.Message)
		}
		return fmt.Errorf("%w: %s HTTP %d: %s", llm.ErrUpstreamFailure, providerName, apiErr.HTTPStatusCode, apiErr.Message)
	}
	return fmt.Errorf("%w: %s: %v", llm.ErrUpstreamFailure, providerName, err)
}
