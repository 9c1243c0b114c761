package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrentMonthWindow(t *testing.T) {
	t.Run("普通月份", func(t *testing.T) {
		now := time.Date(2026, time.March, 15, 12, 30, 0, 0, time.Local)
		from, to := CurrentMonthWindow(now)
		assert.Equal(t, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.Local), from)
		assert.Equal(t, time.Date(2026, time.March, 31, 23, 59, 59, 999_000_000, time.Local), to)
	})

	t.Run("闰年二月", func(t *testing.T) {
		now := time.Date(2028, time.February, 10, 0, 0, 0, 0, time.Local)
		_, to := CurrentMonthWindow(now)
		assert.Equal(t, 29, to.Day())
	})

	t.Run("十二月跨年", func(t *testing.T) {
		now := time.Date(2026, time.December, 31, 23, 0, 0, 0, time.Local)
		from, to := CurrentMonthWindow(now)
		assert.Equal(t, time.December, from.Month())
		assert.Equal(t, 2026, to.Year())
		assert.Equal(t, 31, to.Day())
	})
}

func TestBudgetService_CheckLimit(t *testing.T) {
	db := setupGatewayTestDB(t)
	org, _, key, _ := seedOrgProjectKey(t, db, 1000)
	model := seedTextModel(t, db, org.ID, key.ID)

	usage := NewUsageService(db)
	budget := NewBudgetService(db, usage)
	ctx := context.Background()

	addCompletionCost := func(cost int64) {
		record := &CompletionUsage{
			ID:          uuid.New().String(),
			ApiKeyID:    key.ID,
			LlmModelID:  model.ID,
			CostsInCent: cost,
		}
		require.NoError(t, db.Create(record).Error)
	}

	t.Run("无使用记录时未达上限", func(t *testing.T) {
		status, err := budget.CheckLimit(ctx, key.ID)
		require.NoError(t, err)
		assert.False(t, status.HasReachedLimit)
		assert.Equal(t, int64(0), status.ActualPriceInCent)
		assert.Equal(t, int64(1000), status.LimitInCent)
	})

	t.Run("999 分时预检查放行，落库 2 分后达到上限", func(t *testing.T) {
		addCompletionCost(999)

		status, err := budget.CheckLimit(ctx, key.ID)
		require.NoError(t, err)
		assert.False(t, status.HasReachedLimit, "999 < 1000，预检查放行")

		// 软性检查允许请求继续并落库，之后的检查才反映出超限
		addCompletionCost(2)

		status, err = budget.CheckLimit(ctx, key.ID)
		require.NoError(t, err)
		assert.True(t, status.HasReachedLimit, "1001 >= 1000")
		assert.Equal(t, int64(1001), status.ActualPriceInCent)
	})

	t.Run("图片费用一并计入", func(t *testing.T) {
		imageRecord := &ImageGenerationUsage{
			ID:          uuid.New().String(),
			ApiKeyID:    key.ID,
			LlmModelID:  model.ID,
			CostsInCent: 4,
		}
		require.NoError(t, db.Create(imageRecord).Error)

		status, err := budget.CheckLimit(ctx, key.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1005), status.ActualPriceInCent)
	})

	t.Run("累计为负按已达上限处理", func(t *testing.T) {
		addCompletionCost(-100_000)

		status, err := budget.CheckLimit(ctx, key.ID)
		require.NoError(t, err)
		assert.True(t, status.HasReachedLimit)
		assert.Less(t, status.ActualPriceInCent, int64(0))
	})

	t.Run("密钥不存在", func(t *testing.T) {
		_, err := budget.CheckLimit(ctx, uuid.New().String())
		assert.ErrorIs(t, err, ErrApiKeyNotFound)
	})
}

func TestSumCostsInWindow_MatchesRecordIteration(t *testing.T) {
	db := setupGatewayTestDB(t)
	org, _, key, _ := seedOrgProjectKey(t, db, 100_000)
	model := seedTextModel(t, db, org.ID, key.ID)

	usage := NewUsageService(db)
	ctx := context.Background()

	costs := []int64{1, 7, 42, 300, 0}
	for _, cost := range costs {
		record := &CompletionUsage{
			ID:          uuid.New().String(),
			ApiKeyID:    key.ID,
			LlmModelID:  model.ID,
			CostsInCent: cost,
		}
		require.NoError(t, db.Create(record).Error)
	}
	imageRecord := &ImageGenerationUsage{
		ID:          uuid.New().String(),
		ApiKeyID:    key.ID,
		LlmModelID:  model.ID,
		CostsInCent: 8,
	}
	require.NoError(t, db.Create(imageRecord).Error)

	from, to := CurrentMonthWindow(time.Now())
	total, err := usage.SumCostsInWindow(ctx, key.ID, from, to)
	require.NoError(t, err)

	// 独立遍历记录求和，应与聚合查询一致
	var expected int64
	var completions []CompletionUsage
	require.NoError(t, db.Where("api_key_id = ?", key.ID).Find(&completions).Error)
	for _, r := range completions {
		if !r.CreatedAt.Before(from) && !r.CreatedAt.After(to) {
			expected += r.CostsInCent
		}
	}
	var images []ImageGenerationUsage
	require.NoError(t, db.Where("api_key_id = ?", key.ID).Find(&images).Error)
	for _, r := range images {
		if !r.CreatedAt.Before(from) && !r.CreatedAt.After(to) {
			expected += r.CostsInCent
		}
	}

	assert.Equal(t, expected, total)
}
