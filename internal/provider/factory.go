package provider

import (
	"fmt"
	"net/http"
	"time"

	"github.com/FWU-DE/telli-dialog-sub004/internal/provider/azure"
	"github.com/FWU-DE/telli-dialog-sub004/internal/provider/google"
	"github.com/FWU-DE/telli-dialog-sub004/internal/provider/openai"
	"github.com/FWU-DE/telli-dialog-sub004/pkg/llm"
)

// 重新导出 pkg/llm 的类型,上层只依赖本包,同时避免子包对父包的依赖
type (
	Message           = llm.Message
	ContentPart       = llm.ContentPart
	ChatRequest       = llm.ChatRequest
	ChatResponse      = llm.ChatResponse
	Usage             = llm.Usage
	StreamChunk       = llm.StreamChunk
	EmbeddingRequest  = llm.EmbeddingRequest
	EmbeddingResponse = llm.EmbeddingResponse
	ImageRequest      = llm.ImageRequest
	ImageResponse     = llm.ImageResponse
	Client            = llm.Client
	Setting           = llm.Setting
)

// 重新导出错误与常量
var (
	ErrUpstreamBadRequest = llm.ErrUpstreamBadRequest
	ErrUpstreamFailure    = llm.ErrUpstreamFailure
	ErrNotSupported       = llm.ErrNotSupported
)

const (
	ProviderIonos  = llm.ProviderIonos
	ProviderOpenAI = llm.ProviderOpenAI
	ProviderAzure  = llm.ProviderAzure
	ProviderGoogle = llm.ProviderGoogle
)

// ParseSetting 解析上游配置
func ParseSetting(raw []byte) (*Setting, error) {
	return llm.ParseSetting(raw)
}

// Factory 按模型配置构建上游客户端
// 进程内共享一个带超时的 HTTP 客户端（连接池），生命周期随进程
type Factory struct {
	httpClient *http.Client
}

// NewFactory 创建客户端工厂
// timeout 约束单次上游调用（含流式首包前的建连）
func NewFactory(timeout time.Duration) *Factory {
	return &Factory{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ClientFor 按上游配置创建客户端
// 对配置标签做穷尽匹配，未知提供商直接报错而不是退化；
// 所有适配器共用工厂的 HTTP 客户端，超时上限对四类提供商一致生效
func (f *Factory) ClientFor(rawSetting []byte) (Client, error) {
	setting, err := ParseSetting(rawSetting)
	if err != nil {
		return nil, err
	}

	switch setting.Type {
	case ProviderIonos, ProviderOpenAI:
		return openai.NewClient(setting, f.httpClient)
	case ProviderAzure:
		return azure.NewClient(setting, f.httpClient)
	case ProviderGoogle:
		return google.NewClient(setting, f.httpClient)
	default:
		return nil, fmt.Errorf("未知的提供商类型: %q", setting.Type)
	}
}
