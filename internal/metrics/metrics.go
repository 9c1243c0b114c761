package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telli_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telli_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// 上游调用指标
var (
	// UpstreamCallsTotal 上游模型调用总数
	UpstreamCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telli_upstream_calls_total",
			Help: "上游模型调用总数",
		},
		[]string{"provider", "model", "operation", "status"},
	)

	// UpstreamCallDuration 上游模型调用耗时（秒）
	// 流式调用计到流结束为止
	UpstreamCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telli_upstream_call_duration_seconds",
			Help:    "上游模型调用耗时分布",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "model", "operation"},
	)
)

// 计量计费指标
var (
	// UsageTokensTotal 已计费 Token 总数
	UsageTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telli_usage_tokens_total",
			Help: "已计费 Token 总数",
		},
		[]string{"model", "kind"}, // kind: prompt, completion
	)

	// UsageCostCentsTotal 已计费金额总数（分）
	UsageCostCentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telli_usage_cost_cents_total",
			Help: "已计费金额总数（欧分）",
		},
		[]string{"model", "operation"},
	)

	// BudgetRejectionsTotal 因预算超限被拒绝的请求总数
	BudgetRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telli_budget_rejections_total",
			Help: "因预算超限被拒绝的请求总数",
		},
	)

	// AuthFailuresTotal 认证失败总数
	AuthFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telli_auth_failures_total",
			Help: "认证失败总数",
		},
		[]string{"reason"}, // reason: missing_token, invalid_key
	)
)

// RecordUpstreamCall 记录一次上游模型调用
// 在调用前后包裹执行，自动记录耗时与结果
func RecordUpstreamCall(provider, model, operation string, fn func() error) error {
	start := time.Now()

	err := fn()

	duration := time.Since(start).Seconds()
	UpstreamCallDuration.WithLabelValues(provider, model, operation).Observe(duration)

	status := "success"
	if err != nil {
		status = "failed"
	}
	UpstreamCallsTotal.WithLabelValues(provider, model, operation, status).Inc()

	return err
}

// RecordUsage 记录一次计费结果
func RecordUsage(model, operation string, promptTokens, completionTokens int, costsInCent int64) {
	if promptTokens > 0 {
		UsageTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		UsageTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	if costsInCent > 0 {
		UsageCostCentsTotal.WithLabelValues(model, operation).Add(float64(costsInCent))
	}
}
