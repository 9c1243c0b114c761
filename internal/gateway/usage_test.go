package gateway

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestUsageService_RecordCompletionUsage(t *testing.T) {
	db := setupGatewayTestDB(t)
	org, _, key, _ := seedOrgProjectKey(t, db, 100_000)
	model := seedTextModel(t, db, org.ID, key.ID)

	svc := NewUsageService(db)
	ctx := context.Background()

	t.Run("按当前价格元数据定价入库", func(t *testing.T) {
		record, err := svc.RecordCompletionUsage(ctx, key.ID, model.ID, 1_000_000, 500_000)
		require.NoError(t, err)

		// (1_000_000*1500 + 500_000*6000) / 10_000_000 = 450
		assert.Equal(t, int64(450), record.CostsInCent)
		assert.Equal(t, 1_000_000, record.PromptTokens)
		assert.Equal(t, 500_000, record.CompletionTokens)

		var stored CompletionUsage
		require.NoError(t, db.Where("id = ?", record.ID).First(&stored).Error)
		assert.Equal(t, record.CostsInCent, stored.CostsInCent)
	})

	t.Run("模型已删除时报错", func(t *testing.T) {
		require.NoError(t, db.Model(&LlmModel{}).Where("id = ?", model.ID).
			Update("is_deleted", true).Error)
		defer func() {
			require.NoError(t, db.Model(&LlmModel{}).Where("id = ?", model.ID).
				Update("is_deleted", false).Error)
		}()

		_, err := svc.RecordCompletionUsage(ctx, key.ID, model.ID, 10, 10)
		assert.ErrorIs(t, err, ErrModelNotFound)
	})

	t.Run("价格类型不符报错而非计零", func(t *testing.T) {
		imageModel := &LlmModel{
			ID:             uuid.New().String(),
			OrganizationID: org.ID,
			Name:           "dall-e-3",
			Provider:       "openai",
			PriceMetadata:  datatypes.JSON(`{"type":"image","pricePerImageInCent":4}`),
			Setting:        datatypes.JSON(`{"type":"openai","apiKey":"sk-test"}`),
		}
		require.NoError(t, db.Create(imageModel).Error)

		_, err := svc.RecordCompletionUsage(ctx, key.ID, imageModel.ID, 10, 10)
		assert.ErrorIs(t, err, ErrPriceTypeMismatch)
	})
}

func TestUsageService_RecordEmbeddingUsage(t *testing.T) {
	db := setupGatewayTestDB(t)
	org, _, key, _ := seedOrgProjectKey(t, db, 100_000)

	embeddingModel := &LlmModel{
		ID:             uuid.New().String(),
		OrganizationID: org.ID,
		Name:           "text-embedding-3-small",
		Provider:       "openai",
		PriceMetadata:  datatypes.JSON(`{"type":"embedding","promptTokenPrice":200}`),
		Setting:        datatypes.JSON(`{"type":"openai","apiKey":"sk-test"}`),
	}
	require.NoError(t, db.Create(embeddingModel).Error)

	svc := NewUsageService(db)

	record, err := svc.RecordEmbeddingUsage(context.Background(), key.ID, embeddingModel.ID, 50_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), record.CostsInCent)
	assert.Equal(t, 0, record.CompletionTokens, "向量化没有补全 token")
}

func TestUsageService_RecordImageUsage(t *testing.T) {
	db := setupGatewayTestDB(t)
	org, _, key, _ := seedOrgProjectKey(t, db, 100_000)

	imageModel := &LlmModel{
		ID:             uuid.New().String(),
		OrganizationID: org.ID,
		Name:           "dall-e-3",
		Provider:       "openai",
		PriceMetadata:  datatypes.JSON(`{"type":"image","pricePerImageInCent":4}`),
		Setting:        datatypes.JSON(`{"type":"openai","apiKey":"sk-test"}`),
	}
	require.NoError(t, db.Create(imageModel).Error)

	svc := NewUsageService(db)

	record, err := svc.RecordImageUsage(context.Background(), key.ID, imageModel.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), record.CostsInCent, "图片按固定单价计费")
}
