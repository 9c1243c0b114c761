package gateway

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func setupGatewayTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:gateway_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(AllModels()...))
	return db
}

// seedOrgProjectKey 建立一条 组织→项目→密钥 链路
func seedOrgProjectKey(t *testing.T, db *gorm.DB, limitInCent int64) (*Organization, *Project, *ApiKey, string) {
	t.Helper()

	org := &Organization{ID: uuid.New().String(), Name: "Testschule"}
	require.NoError(t, db.Create(org).Error)

	project := &Project{ID: uuid.New().String(), OrganizationID: org.ID, Name: "Chatbot"}
	require.NoError(t, db.Create(project).Error)

	rawKey, err := GenerateApiKey()
	require.NoError(t, err)

	key := &ApiKey{
		ID:          uuid.New().String(),
		ProjectID:   project.ID,
		Name:        "default",
		State:       ApiKeyStateActive,
		LimitInCent: limitInCent,
		KeyHash:     HashApiKey(rawKey),
	}
	require.NoError(t, db.Create(key).Error)

	return org, project, key, rawKey
}

// seedTextModel 建立一个文本模型并授权给给定密钥
func seedTextModel(t *testing.T, db *gorm.DB, orgID string, keyIDs ...string) *LlmModel {
	t.Helper()

	model := &LlmModel{
		ID:             uuid.New().String(),
		OrganizationID: orgID,
		Name:           "gpt-4o-mini",
		Provider:       "openai",
		DisplayName:    "GPT-4o mini",
		PriceMetadata:  datatypes.JSON(`{"type":"text","promptTokenPrice":1500,"completionTokenPrice":6000}`),
		Setting:        datatypes.JSON(`{"type":"openai","apiKey":"sk-test"}`),
	}
	require.NoError(t, db.Create(model).Error)

	for _, keyID := range keyIDs {
		mapping := &ModelApiKeyMapping{
			ID:         uuid.New().String(),
			LlmModelID: model.ID,
			ApiKeyID:   keyID,
		}
		require.NoError(t, db.Create(mapping).Error)
	}
	return model
}
