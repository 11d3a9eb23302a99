package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/99designs/keyring"
	"golang.org/x/oauth2"
)

const serviceName = "mailingest"

// KeyringConfig 本地密钥环配置
type KeyringConfig struct {
	Key          string // 条目名称
	FileDir      string // 文件后端目录
	FilePassword string // 文件后端口令
	FileOnly     bool   // 只使用文件后端（容器和测试环境）
}

// KeyringStore 把令牌保存在系统密钥环中，用于本地开发
type KeyringStore struct {
	ring keyring.Keyring
	key  string
}

// NewKeyringStore 打开密钥环
func NewKeyringStore(cfg KeyringConfig) (*KeyringStore, error) {
	if cfg.Key == "" {
		cfg.Key = "gmail-token"
	}
	backends := []keyring.BackendType{
		keyring.KeychainBackend,
		keyring.SecretServiceBackend,
		keyring.WinCredBackend,
		keyring.PassBackend,
		keyring.FileBackend,
	}
	if cfg.FileOnly {
		backends = []keyring.BackendType{keyring.FileBackend}
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:              serviceName,
		AllowedBackends:          backends,
		FileDir:                  cfg.FileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(cfg.FilePassword),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &KeyringStore{ring: ring, key: cfg.Key}, nil
}

// Load 读取令牌
func (s *KeyringStore) Load(ctx context.Context) (*oauth2.Token, error) {
	item, err := s.ring.Get(s.key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("getting credential %q: %w", s.key, err)
	}
	return decodeToken(item.Data)
}

// Save 保存令牌
func (s *KeyringStore) Save(ctx context.Context, token *oauth2.Token) error {
	data, err := encodeToken(token)
	if err != nil {
		return err
	}
	if err := s.ring.Set(keyring.Item{
		Key:         s.key,
		Data:        data,
		Label:       "mailingest gmail token",
		Description: "OAuth token used by the mail ingestion pipeline",
	}); err != nil {
		return fmt.Errorf("setting credential %q: %w", s.key, err)
	}
	return nil
}
