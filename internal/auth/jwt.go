// Package auth 为手动触发接口签发和校验运维令牌。
package auth

import (
	"errors"

	"mailingest/backend/internal/auth/jwt"
	"mailingest/backend/internal/config"
)

// 令牌权限
const (
	ScopeIngest = "ingest"     // 手动触发增量运行或单封邮件
	ScopeRaw    = "ingest:raw" // 上传原始邮件
)

// ErrDisabled 未配置签名密钥，手动接口关闭
var ErrDisabled = errors.New("operator api disabled: auth secret not configured")

// JWTManager JWT管理器包装
type JWTManager struct {
	manager *jwt.Manager
	expiry  int64
}

// NewJWTManager 创建JWT管理器，未配置密钥时返回 ErrDisabled
func NewJWTManager(cfg *config.AuthConfig) (*JWTManager, error) {
	if cfg.Secret == "" {
		return nil, ErrDisabled
	}
	manager := jwt.NewManager(cfg.Secret, cfg.Issuer, cfg.TokenExpiry)
	return &JWTManager{manager: manager, expiry: int64(cfg.TokenExpiry.Seconds())}, nil
}

// TokenResponse 令牌响应
type TokenResponse struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ExpiresIn   int64  `json:"expiresIn"`
	ExpiresAt   string `json:"expiresAt"`
}

// Claims 校验通过后的令牌信息
type Claims struct {
	Operator string   `json:"operator"`
	Scopes   []string `json:"scopes"`
}

// IssueToken 签发运维令牌，未指定权限时授予全部权限
func (j *JWTManager) IssueToken(operator string, scopes ...string) (*TokenResponse, error) {
	if operator == "" {
		return nil, errors.New("operator name is required")
	}
	if len(scopes) == 0 {
		scopes = []string{ScopeIngest, ScopeRaw}
	}

	token, expiresAt, err := j.manager.Generate(operator, scopes)
	if err != nil {
		return nil, err
	}

	return &TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   j.expiry,
		ExpiresAt:   expiresAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}, nil
}

// ValidateToken 验证令牌，可选地要求某项权限
func (j *JWTManager) ValidateToken(tokenString string, required string) (*Claims, error) {
	claims, err := j.manager.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if required != "" && !claims.HasScope(required) {
		return nil, ErrMissingScope
	}

	return &Claims{
		Operator: claims.Operator,
		Scopes:   claims.Scopes,
	}, nil
}

// ErrMissingScope 令牌缺少所需权限
var ErrMissingScope = errors.New("token lacks required scope")
