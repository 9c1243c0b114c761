package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var ErrApiKeyNotFound = errors.New("API 密钥不存在")

// BudgetService 月度预算检查服务
//
// 这是请求前的软性检查：检查与最终使用记录写入之间没有任何事务或锁。
// 同一密钥上并发进行中的请求可能都在任一笔费用落库前通过检查，
// 因此上限最多可被突破（单密钥最大并发数 × 平均单次费用）。
// 这是为了水平扩展（无分布式锁）的刻意取舍，不要在此处"修复"。
type BudgetService struct {
	db    *gorm.DB
	usage *UsageService
}

// NewBudgetService 创建预算检查服务
func NewBudgetService(db *gorm.DB, usage *UsageService) *BudgetService {
	return &BudgetService{db: db, usage: usage}
}

// LimitStatus 预算检查结果
type LimitStatus struct {
	HasReachedLimit   bool  `json:"hasReachedLimit"`
	ActualPriceInCent int64 `json:"actualPriceInCent"`
	LimitInCent       int64 `json:"limitInCent"`
}

// CheckLimit 判断密钥本自然月累计费用是否已达上限
// 累计为负（数据异常）时按已达上限处理
func (s *BudgetService) CheckLimit(ctx context.Context, apiKeyID string) (*LimitStatus, error) {
	var apiKey ApiKey
	err := s.db.WithContext(ctx).Where("id = ?", apiKeyID).First(&apiKey).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrApiKeyNotFound
		}
		return nil, fmt.Errorf("查询 API 密钥失败: %w", err)
	}

	from, to := CurrentMonthWindow(time.Now())
	actual, err := s.usage.SumCostsInWindow(ctx, apiKeyID, from, to)
	if err != nil {
		return nil, err
	}

	return &LimitStatus{
		HasReachedLimit:   actual >= apiKey.LimitInCent || actual < 0,
		ActualPriceInCent: actual,
		LimitInCent:       apiKey.LimitInCent,
	}, nil
}

// CurrentMonthWindow 返回 now 所在自然月的起止时刻
// [当月 1 日 00:00:00.000, 当月最后一日 23:59:59.999]，使用服务器本地时区
func CurrentMonthWindow(now time.Time) (time.Time, time.Time) {
	year, month, _ := now.Date()
	loc := now.Location()
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	last := first.AddDate(0, 1, 0).Add(-time.Millisecond)
	return first, last
}
