package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/FWU-DE/telli-dialog-sub004/pkg/llm"

	openai "github.com/sashabaranov/go-openai"
)

// Client Azure OpenAI 客户端
// Azure 与 OpenAI 共用 SDK，调用按部署名（deployment）定位端点
type Client struct {
	client     *openai.Client
	deployment string
}

// NewClient 创建 Azure OpenAI 客户端
// httpClient 由工厂注入，统一超时上限
func NewClient(setting *llm.Setting, httpClient *http.Client) (*Client, error) {
	if setting.APIKey == "" {
		return nil, errors.New("Azure OpenAI API Key 不能为空")
	}
	if setting.Endpoint == "" {
		return nil, errors.New("Azure OpenAI 端点不能为空")
	}
	if setting.Deployment == "" {
		return nil, errors.New("Azure OpenAI 部署名不能为空")
	}

	azureConfig := openai.DefaultAzureConfig(setting.APIKey, setting.Endpoint)
	if setting.APIVersion != "" {
		azureConfig.APIVersion = setting.APIVersion
	}
	if httpClient != nil {
		azureConfig.HTTPClient = httpClient
	}

	return &Client{
		client:     openai.NewClientWithConfig(azureConfig),
		deployment: setting.Deployment,
	}, nil
}

// ChatCompletion 对话补全（非流式）
func (c *Client) ChatCompletion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.deployment, // Azure 使用 deployment 名称
		Messages:    convertMessages(req.Messages),
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, wrapError(err)
	}

	content := ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	return &llm.ChatResponse{
		ID:      resp.ID,
		Model:   resp.Model,
		Content: content,
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// ChatCompletionStream 对话补全（流式）
func (c *Client) ChatCompletionStream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, <-chan error) {
	chunkChan := make(chan llm.StreamChunk, 10)
	errChan := make(chan error, 1)

	go func() {
		defer close(chunkChan)
		defer close(errChan)

		stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:       c.deployment,
			Messages:    convertMessages(req.Messages),
			Temperature: float32(req.Temperature),
			MaxTokens:   req.MaxTokens,
			Stream:      true,
			StreamOptions: &openai.StreamOptions{
				IncludeUsage: true,
			},
		})
		if err != nil {
			errChan <- wrapError(err)
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
				errChan <- wrapError(err)
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
		Model: openai.EmbeddingModel(c.deployment),
		Input: req.Input,
	})
	if err != nil {
		return nil, wrapError(err)
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
		Model:          c.deployment,
		Prompt:         req.Prompt,
		N:              1,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, wrapError(err)
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: azure 未返回图片", llm.ErrUpstreamFailure)
	}

	return &llm.ImageResponse{B64JSON: resp.Data[0].B64JSON}, nil
}

// Name 返回提供商名称
func (c *Client) Name() string {
	return llm.ProviderAzure
}

// convertMessages 将统一消息转换为 OpenAI 格式
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

// wrapError 按上游状态码归类错误
func wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 {
			return fmt.Errorf("%w: azure HTTP %d: %s", llm.ErrUpstreamBadRequest, apiErr.HTTPStatusCode, apiErr.Message)
		}
		return fmt.Errorf("%w: azure HTTP %d: %s", llm.ErrUpstreamFailure, apiErr.HTTPStatusCode, apiErr.Message)
	}
	return fmt.Errorf("%w: azure: %v", llm.ErrUpstreamFailure, err)
}
