// Package credential 管理邮箱 API 的 OAuth 令牌：读取、刷新并写回凭据存储。
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
)

// ErrTokenNotFound 凭据存储中没有令牌
var ErrTokenNotFound = errors.New("token not found in credential store")

// TokenStore 是令牌的持久化位置
type TokenStore interface {
	Load(ctx context.Context) (*oauth2.Token, error)
	Save(ctx context.Context, token *oauth2.Token) error
}

func encodeToken(token *oauth2.Token) ([]byte, error) {
	data, err := json.Marshal(token)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token: %w", err)
	}
	return data, nil
}

func decodeToken(data []byte) (*oauth2.Token, error) {
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	if token.AccessToken == "" && token.RefreshToken == "" {
		return nil, fmt.Errorf("stored token has neither access nor refresh token")
	}
	return &token, nil
}

// MemoryStore 内存令牌存储，用于测试
type MemoryStore struct {
	mu    sync.Mutex
	data  []byte
	saves int
}

// NewMemoryStore 创建内存令牌存储，token 可为 nil
func NewMemoryStore(token *oauth2.Token) *MemoryStore {
	s := &MemoryStore{}
	if token != nil {
		s.data, _ = encodeToken(token)
	}
	return s
}

// Load 读取令牌
func (s *MemoryStore) Load(ctx context.Context) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, ErrTokenNotFound
	}
	return decodeToken(s.data)
}

// Save 保存令牌
func (s *MemoryStore) Save(ctx context.Context, token *oauth2.Token) error {
	data, err := encodeToken(token)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data = data
	s.saves++
	s.mu.Unlock()
	return nil
}

// Saves 返回保存次数
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
