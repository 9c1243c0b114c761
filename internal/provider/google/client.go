package google

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/FWU-DE/telli-dialog-sub004/pkg/llm"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Client Google Gemini 客户端
// Gemini 无 OpenAI 兼容层，直接走 REST，流式使用 alt=sse
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient 创建 Gemini 客户端
// httpClient 由工厂注入，进程内共享连接池并统一超时
func NewClient(setting *llm.Setting, httpClient *http.Client) (*Client, error) {
	if setting.APIKey == "" {
		return nil, fmt.Errorf("Gemini API Key 不能为空")
	}

	baseURL := setting.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Client{
		apiKey:     setting.APIKey,
		baseURL:    baseURL,
		model:      setting.Model,
		httpClient: httpClient,
	}, nil
}

// ============================================================================
// Gemini 线上格式
// ============================================================================

type geminiPart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *geminiBlob     `json:"inlineData,omitempty"`
	FileData   *geminiFileData `json:"fileData,omitempty"`
}

type geminiBlob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFileData struct {
	FileURI string `json:"fileUri"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata"`
}

// ChatCompletion 对话补全（非流式）
func (c *Client) ChatCompletion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	geminiReq := convertRequest(req)

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	respBody, err := c.post(ctx, url, geminiReq)
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	var resp geminiResponse
	if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
		return nil, fmt.Errorf("%w: 解析 Gemini 响应失败: %v", llm.ErrUpstreamFailure, err)
	}

	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: Gemini 返回空响应", llm.ErrUpstreamFailure)
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}

	out := &llm.ChatResponse{
		Model:   c.model,
		Content: sb.String(),
	}
	if resp.UsageMetadata != nil {
		out.Usage = llm.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}
	return out, nil
}

// ChatCompletionStream 对话补全（流式）
// 走 streamGenerateContent?alt=sse，逐行解析 data: 块；
// usageMetadata 只在靠后的块出现，随块透传给上层
func (c *Client) ChatCompletionStream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, <-chan error) {
	chunkChan := make(chan llm.StreamChunk, 10)
	errChan := make(chan error, 1)

	go func() {
		defer close(chunkChan)
		defer close(errChan)

		geminiReq := convertRequest(req)
		url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", c.baseURL, c.model, c.apiKey)

		respBody, err := c.post(ctx, url, geminiReq)
		if err != nil {
			errChan <- err
			return
		}
		defer respBody.Close()

		scanner := bufio.NewScanner(respBody)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}

			var resp geminiResponse
			if err := json.Unmarshal([]byte(payload), &resp); err != nil {
				errChan <- fmt.Errorf("%w: 解析 Gemini 流块失败: %v", llm.ErrUpstreamFailure, err)
				return
			}

			chunk := llm.StreamChunk{Model: c.model}
			if len(resp.Candidates) > 0 {
				var sb strings.Builder
				for _, part := range resp.Candidates[0].Content.Parts {
					sb.WriteString(part.Text)
				}
				chunk.Content = sb.String()
				if resp.Candidates[0].FinishReason != "" {
					chunk.FinishReason = "stop"
				}
			}
			if resp.UsageMetadata != nil {
				chunk.Usage = &llm.Usage{
					PromptTokens:     resp.UsageMetadata.PromptTokenCount,
					CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
					TotalTokens:      resp.UsageMetadata.TotalTokenCount,
				}
			}
			chunkChan <- chunk
		}
		if err := scanner.Err(); err != nil {
			errChan <- fmt.Errorf("%w: 读取 Gemini 流失败: %v", llm.ErrUpstreamFailure, err)
			return
		}

		chunkChan <- llm.StreamChunk{Done: true}
	}()

	return chunkChan, errChan
}

// Embedding 文本向量化
// Gemini 的向量化接口不返回 token 用量，由上层估算
func (c *Client) Embedding(ctx context.Context, req *llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
	type embedContentRequest struct {
		Model   string        `json:"model"`
		Content geminiContent `json:"content"`
	}
	type batchRequest struct {
		Requests []embedContentRequest `json:"requests"`
	}
	type embedding struct {
		Values []float32 `json:"values"`
	}
	type batchResponse struct {
		Embeddings []embedding `json:"embeddings"`
	}

	batch := batchRequest{Requests: make([]embedContentRequest, 0, len(req.Input))}
	for _, text := range req.Input {
		batch.Requests = append(batch.Requests, embedContentRequest{
			Model:   "models/" + c.model,
			Content: geminiContent{Parts: []geminiPart{{Text: text}}},
		})
	}

	url := fmt.Sprintf("%s/models/%s:batchEmbedContents?key=%s", c.baseURL, c.model, c.apiKey)
	respBody, err := c.post(ctx, url, batch)
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	var resp batchResponse
	if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
		return nil, fmt.Errorf("%w: 解析 Gemini 向量化响应失败: %v", llm.ErrUpstreamFailure, err)
	}

	embeddings := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		embeddings = append(embeddings, e.Values)
	}
	return &llm.EmbeddingResponse{Embeddings: embeddings}, nil
}

// GenerateImage 图片生成
func (c *Client) GenerateImage(ctx context.Context, req *llm.ImageRequest) (*llm.ImageResponse, error) {
	return nil, fmt.Errorf("%w: google 暂不支持图片生成", llm.ErrNotSupported)
}

// Name 返回提供商名称
func (c *Client) Name() string {
	return llm.ProviderGoogle
}

// post 发送 JSON 请求并校验状态码，调用方负责关闭返回的 Body
func (c *Client) post(ctx context.Context, url string, payload interface{}) (io.ReadCloser, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("创建 HTTP 请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: google: %v", llm.ErrUpstreamFailure, err)
	}

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, fmt.Errorf("%w: google HTTP %d: %s", llm.ErrUpstreamBadRequest, resp.StatusCode, string(errBody))
		}
		return nil, fmt.Errorf("%w: google HTTP %d: %s", llm.ErrUpstreamFailure, resp.StatusCode, string(errBody))
	}

	return resp.Body, nil
}

// convertRequest 将统一请求转换为 Gemini 格式
// system 消息进 systemInstruction，assistant 角色映射为 model；
// data: 内联图片转 inlineData，外链图片转 fileData
func convertRequest(req *llm.ChatRequest) *geminiRequest {
	out := &geminiRequest{
		GenerationConfig: &geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}

	for _, msg := range req.Messages {
		parts := convertParts(&msg)

		if msg.Role == "system" {
			out.SystemInstruction = &geminiContent{Parts: parts}
			continue
		}

		role := "user"
		if msg.Role == "assistant" {
			role = "model"
		}
		out.Contents = append(out.Contents, geminiContent{Role: role, Parts: parts})
	}

	return out
}

func convertParts(msg *llm.Message) []geminiPart {
	if len(msg.Parts) == 0 {
		return []geminiPart{{Text: msg.Content}}
	}

	parts := make([]geminiPart, 0, len(msg.Parts))
	for _, part := range msg.Parts {
		switch part.Type {
		case llm.ContentTypeImageURL:
			if mimeType, data, ok := parseDataURL(part.ImageURL); ok {
				parts = append(parts, geminiPart{InlineData: &geminiBlob{MimeType: mimeType, Data: data}})
			} else {
				parts = append(parts, geminiPart{FileData: &geminiFileData{FileURI: part.ImageURL}})
			}
		default:
			parts = append(parts, geminiPart{Text: part.Text})
		}
	}
	return parts
}

// parseDataURL 解析 data:<mime>;base64,<data> 形式的内联图片
func parseDataURL(url string) (mimeType, data string, ok bool) {
	if !strings.HasPrefix(url, "data:") {
		return "", "", false
	}
	rest := strings.TrimPrefix(url, "data:")
	idx := strings.Index(rest, ";base64,")
	if idx < 0 {
		return "", "", false
	}
	mimeType = rest[:idx]
	data = rest[idx+len(";base64,"):]
	if _, err := base64.StdEncoding.DecodeString(data); err != nil {
		return "", "", false
	}
	return mimeType, data, true
}
