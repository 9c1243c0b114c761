package gateway

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestRegistryService_ResolveModel(t *testing.T) {
	db := setupGatewayTestDB(t)
	org, _, key, _ := seedOrgProjectKey(t, db, 1000)
	model := seedTextModel(t, db, org.ID, key.ID)

	svc := NewRegistryService(db)
	ctx := context.Background()

	t.Run("授权密钥可解析", func(t *testing.T) {
		got, err := svc.ResolveModel(ctx, key.ID, model.Name)
		require.NoError(t, err)
		assert.Equal(t, model.ID, got.ID)
		assert.NotEmpty(t, got.Setting, "解析结果要携带上游配置供分发使用")
	})

	t.Run("未授权密钥被拒", func(t *testing.T) {
		_, _, otherKey, _ := seedOrgProjectKey(t, db, 1000)

		_, err := svc.ResolveModel(ctx, otherKey.ID, model.Name)
		assert.ErrorIs(t, err, ErrModelNotMapped)
	})

	t.Run("不存在的模型名", func(t *testing.T) {
		_, err := svc.ResolveModel(ctx, key.ID, "no-such-model")
		assert.ErrorIs(t, err, ErrModelNotMapped)
	})

	t.Run("软删除后不可解析", func(t *testing.T) {
		require.NoError(t, svc.DeleteModel(ctx, model.ID))

		_, err := svc.ResolveModel(ctx, key.ID, model.Name)
		assert.ErrorIs(t, err, ErrModelNotMapped)
	})
}

func TestRegistryService_ListModels(t *testing.T) {
	db := setupGatewayTestDB(t)
	org, _, k1, _ := seedOrgProjectKey(t, db, 1000)
	_, _, k3, _ := seedOrgProjectKey(t, db, 1000)

	k2 := &ApiKey{
		ID:          uuid.New().String(),
		ProjectID:   k1.ProjectID,
		Name:        "second",
		State:       ApiKeyStateActive,
		LimitInCent: 1000,
		KeyHash:     HashApiKey("sk-telli-k2"),
	}
	require.NoError(t, db.Create(k2).Error)

	model := seedTextModel(t, db, org.ID, k1.ID, k2.ID)

	svc := NewRegistryService(db)
	ctx := context.Background()

	t.Run("授权密钥都能看到", func(t *testing.T) {
		for _, keyID := range []string{k1.ID, k2.ID} {
			views, err := svc.ListModels(ctx, keyID)
			require.NoError(t, err)
			require.Len(t, views, 1)
			assert.Equal(t, model.Name, views[0].Name)
		}
	})

	t.Run("无关密钥看不到", func(t *testing.T) {
		views, err := svc.ListModels(ctx, k3.ID)
		require.NoError(t, err)
		assert.Empty(t, views)
	})

	t.Run("视图不含 setting 和 organizationId", func(t *testing.T) {
		views, err := svc.ListModels(ctx, k1.ID)
		require.NoError(t, err)
		require.Len(t, views, 1)

		raw, err := json.Marshal(views[0])
		require.NoError(t, err)

		var fields map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(raw, &fields))
		assert.NotContains(t, fields, "setting")
		assert.NotContains(t, fields, "organizationId")
		assert.Contains(t, fields, "priceMetadata")
	})
}

func TestRegistryService_CreateModel(t *testing.T) {
	db := setupGatewayTestDB(t)
	org, project, k1, _ := seedOrgProjectKey(t, db, 1000)

	k2 := &ApiKey{
		ID:          uuid.New().String(),
		ProjectID:   project.ID,
		Name:        "writer",
		State:       ApiKeyStateActive,
		LimitInCent: 1000,
		KeyHash:     HashApiKey("sk-telli-writer"),
	}
	require.NoError(t, db.Create(k2).Error)

	svc := NewRegistryService(db)
	ctx := context.Background()

	t.Run("未指定密钥名时授权全部密钥", func(t *testing.T) {
		model, err := svc.CreateModel(ctx, &CreateModelRequest{
			OrganizationID: org.ID,
			Name:           "mistral-large",
			Provider:       "ionos",
			PriceMetadata:  datatypes.JSON(`{"type":"text","promptTokenPrice":1000,"completionTokenPrice":2000}`),
			Setting:        datatypes.JSON(`{"type":"ionos","apiKey":"ionos-key","baseUrl":"https://openai.inference.de-txl.ionos.com/v1","model":"mistral-large"}`),
		})
		require.NoError(t, err)

		var count int64
		require.NoError(t, db.Model(&ModelApiKeyMapping{}).
			Where("llm_model_id = ?", model.ID).Count(&count).Error)
		assert.Equal(t, int64(2), count)
	})

	t.Run("指定密钥名时仅授权子集", func(t *testing.T) {
		model, err := svc.CreateModel(ctx, &CreateModelRequest{
			OrganizationID: org.ID,
			Name:           "llama-3",
			Provider:       "ionos",
			PriceMetadata:  datatypes.JSON(`{"type":"text","promptTokenPrice":500,"completionTokenPrice":800}`),
			Setting:        datatypes.JSON(`{"type":"ionos","apiKey":"ionos-key","model":"llama-3"}`),
			ApiKeyNames:    []string{"writer"},
		})
		require.NoError(t, err)

		var mappings []ModelApiKeyMapping
		require.NoError(t, db.Where("llm_model_id = ?", model.ID).Find(&mappings).Error)
		require.Len(t, mappings, 1)
		assert.Equal(t, k2.ID, mappings[0].ApiKeyID)
		assert.NotEqual(t, k1.ID, mappings[0].ApiKeyID)
	})

	t.Run("重复密钥名只授权一次", func(t *testing.T) {
		model, err := svc.CreateModel(ctx, &CreateModelRequest{
			OrganizationID: org.ID,
			Name:           "llama-3-dup",
			Provider:       "ionos",
			PriceMetadata:  datatypes.JSON(`{"type":"text","promptTokenPrice":500,"completionTokenPrice":800}`),
			Setting:        datatypes.JSON(`{"type":"ionos","apiKey":"ionos-key","model":"llama-3"}`),
			ApiKeyNames:    []string{"writer", "writer"},
		})
		require.NoError(t, err)

		var mappings []ModelApiKeyMapping
		require.NoError(t, db.Where("llm_model_id = ?", model.ID).Find(&mappings).Error)
		require.Len(t, mappings, 1)
		assert.Equal(t, k2.ID, mappings[0].ApiKeyID)
	})

	t.Run("密钥名不存在时整体回滚", func(t *testing.T) {
		_, err := svc.CreateModel(ctx, &CreateModelRequest{
			OrganizationID: org.ID,
			Name:           "ghost-model",
			Provider:       "openai",
			PriceMetadata:  datatypes.JSON(`{"type":"text","promptTokenPrice":1,"completionTokenPrice":1}`),
			Setting:        datatypes.JSON(`{"type":"openai","apiKey":"sk"}`),
			ApiKeyNames:    []string{"no-such-key"},
		})
		require.Error(t, err)

		// 不留悬空模型
		var count int64
		require.NoError(t, db.Model(&LlmModel{}).
			Where("name = ?", "ghost-model").Count(&count).Error)
		assert.Equal(t, int64(0), count)
	})

	t.Run("非法价格元数据被拒", func(t *testing.T) {
		_, err := svc.CreateModel(ctx, &CreateModelRequest{
			OrganizationID: org.ID,
			Name:           "bad-price",
			Provider:       "openai",
			PriceMetadata:  datatypes.JSON(`{"type":"video"}`),
			Setting:        datatypes.JSON(`{"type":"openai","apiKey":"sk"}`),
		})
		assert.ErrorIs(t, err, ErrInvalidPriceMeta)
	})
}

func TestRegistryService_UpdateModel(t *testing.T) {
	db := setupGatewayTestDB(t)
	org, _, key, _ := seedOrgProjectKey(t, db, 1000)
	model := seedTextModel(t, db, org.ID, key.ID)

	svc := NewRegistryService(db)
	ctx := context.Background()

	t.Run("部分字段更新", func(t *testing.T) {
		displayName := "GPT-4o mini (EU)"
		updated, err := svc.UpdateModel(ctx, model.ID, &UpdateModelRequest{
			DisplayName: &displayName,
		})
		require.NoError(t, err)
		assert.Equal(t, displayName, updated.DisplayName)
	})

	t.Run("非法价格元数据被拒", func(t *testing.T) {
		_, err := svc.UpdateModel(ctx, model.ID, &UpdateModelRequest{
			PriceMetadata: datatypes.JSON(`{"type":"nope"}`),
		})
		assert.ErrorIs(t, err, ErrInvalidPriceMeta)
	})

	t.Run("模型不存在", func(t *testing.T) {
		_, err := svc.UpdateModel(ctx, uuid.New().String(), &UpdateModelRequest{})
		assert.ErrorIs(t, err, ErrModelNotFound)
	})
}
