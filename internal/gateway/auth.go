package gateway

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	ErrNoBearerToken = errors.New("No Bearer token found.")
	ErrInvalidApiKey = errors.New("Api key is not valid")
)

// AuthService API 密钥认证服务
type AuthService struct {
	db *gorm.DB
}

// NewAuthService 创建认证服务
func NewAuthService(db *gorm.DB) *AuthService {
	return &AuthService{db: db}
}

// Authenticate 校验 Authorization 头中的 Bearer Token
// 成功返回密钥及其项目/组织链路，无任何副作用
func (s *AuthService) Authenticate(ctx context.Context, authorizationHeader string) (*ApiKey, error) {
	token, ok := extractBearerToken(authorizationHeader)
	if !ok {
		return nil, ErrNoBearerToken
	}

	// 先哈希再比较，查询走哈希索引，比较用常量时间避免时序侧信道
	presented := HashApiKey(token)

	var apiKey ApiKey
	err := s.db.WithContext(ctx).
		Preload("Project").
		Where("key_hash = ?", presented).
		First(&apiKey).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidApiKey
		}
		return nil, err
	}

	if subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey.KeyHash)) != 1 {
		return nil, ErrInvalidApiKey
	}

	if !apiKey.IsActive() {
		return nil, ErrInvalidApiKey
	}

	return &apiKey, nil
}

// extractBearerToken 从 Authorization 头提取 Bearer Token
func extractBearerToken(header string) (string, bool) {
	if header == "" {
		return "", false
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

// HashApiKey 计算密钥的 SHA256 十六进制哈希
func HashApiKey(rawKey string) string {
	hash := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(hash[:])
}

// GenerateApiKey 生成原始密钥，格式：sk-telli-<48 hex>
// 原始密钥仅在创建时返回一次，库中只存哈希
func GenerateApiKey() (string, error) {
	keyBytes := make([]byte, 24)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", err
	}
	return "sk-telli-" + hex.EncodeToString(keyBytes), nil
}

// VerifyAdminKey 常量时间比较管理密钥
func VerifyAdminKey(presented, configured string) bool {
	if presented == "" || configured == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) == 1
}
