package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
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

// recordTimeout 用量落库的独立超时，与请求生命周期解耦
const recordTimeout = 10 * time.Second

// newRecordContext 用量落库专用上下文
// 不继承请求上下文：客户端断开后仍要完成计费
func newRecordContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), recordTimeout)
}

// doneLine SSE 流结束哨兵
const doneLine = "data: [DONE]\n\n"

// relayStream 把上游流式输出逐块转发为 SSE
// 每个上游块对应一行 data: <json>，顺序与上游一致，最后恰好一行 [DONE]
// 客户端断开时请求上下文取消并传导到上游连接，已观测到的用量照常计费
func (h *Handler) relayStream(c *gin.Context, client llm.Client, model *gateway.LlmModel, req *llm.ChatRequest, key *gateway.ApiKey) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	start := time.Now()
	chunkChan, errChan := client.ChatCompletionStream(c.Request.Context(), req)

	streamID := "chatcmpl-" + uuid.New().String()
	created := time.Now().Unix()

	var (
		usage     *llm.Usage
		content   strings.Builder
		doneSent  bool
		streamErr error
	)

	c.Stream(func(w io.Writer) bool {
		select {
		case chunk, ok := <-chunkChan:
			if !ok {
				// 上游通道关闭但没发 Done 块，照常收尾
				fmt.Fprint(w, doneLine)
				doneSent = true
				return false
			}

			if chunk.Usage != nil {
				usage = chunk.Usage
			}

			if chunk.Done {
				fmt.Fprint(w, doneLine)
				doneSent = true
				return false
			}

			content.WriteString(chunk.Content)
			payload, err := json.Marshal(buildChunk(streamID, created, model.Name, &chunk))
			if err != nil {
				logger.Error("流式块序列化失败", zap.Error(err))
				return true
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			return true

		case err, ok := <-errChan:
			if ok && err != nil {
				// 响应头已发出，无法再改状态码，只能记日志并正常收尾
				streamErr = err
				logger.Error("流式响应上游失败",
					zap.String("model", model.Name),
					zap.String("api_key_id", key.ID),
					zap.Error(err))
			}
			if !doneSent {
				fmt.Fprint(w, doneLine)
				doneSent = true
			}
			return false
		}
	})

	// 上游先报错再关 chunk 通道时，select 可能先走到关闭分支；
	// 收尾前补读一次 errChan，故障不能被记成 success
	if streamErr == nil {
		select {
		case err, ok := <-errChan:
			if ok && err != nil {
				streamErr = err
				logger.Error("流式响应上游失败",
					zap.String("model", model.Name),
					zap.String("api_key_id", key.ID),
					zap.Error(err))
			}
		default:
		}
	}

	duration := time.Since(start).Seconds()
	metrics.UpstreamCallDuration.WithLabelValues(model.Provider, model.Name, "chat_stream").Observe(duration)
	status := "success"
	if streamErr != nil {
		status = "failed"
	}
	metrics.UpstreamCallsTotal.WithLabelValues(model.Provider, model.Name, "chat_stream", status).Inc()

	// 客户端中途断开也按已观测到的 Token 计费，上游侧费用已经发生
	promptTokens, completionTokens := h.resolveFinalTokens(usage, req.Messages, content.String(), model.Name)
	if promptTokens > 0 || completionTokens > 0 {
		h.recordCompletionAsync(key.ID, model.ID, model.Name, promptTokens, completionTokens)
	}
}

// buildChunk 把内部流式块转换为 OpenAI 兼容的 chunk 对象
func buildChunk(streamID string, created int64, modelName string, chunk *llm.StreamChunk) *ChatCompletionChunk {
	out := &ChatCompletionChunk{
		ID:      streamID,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   modelName,
		Choices: []ChunkChoice{{Index: 0}},
	}
	if chunk.ID != "" {
		out.ID = chunk.ID
	}
	out.Choices[0].Delta.Content = chunk.Content
	if chunk.FinishReason != "" {
		reason := chunk.FinishReason
		out.Choices[0].FinishReason = &reason
	}
	return out
}

// resolveFinalTokens 请求完成后的最终用量
// 优先使用上游回报的用量；缺失或流被中断时退回到本地估算
func (h *Handler) resolveFinalTokens(usage *llm.Usage, messages []llm.Message, completion, modelName string) (int, int) {
	if usage != nil && usage.TotalTokens > 0 {
		return usage.PromptTokens, usage.CompletionTokens
	}

	promptTokens, err := tokenizer.CountMessages(messages, modelName)
	if err != nil {
		logger.Warn("Token 估算失败", zap.String("model", modelName), zap.Error(err))
		promptTokens = 0
	}
	completionTokens := 0
	if completion != "" {
		completionTokens, err = tokenizer.CountText(completion, modelName)
		if err != nil {
			logger.Warn("Token 估算失败", zap.String("model", modelName), zap.Error(err))
			completionTokens = 0
		}
	}
	return promptTokens, completionTokens
}
