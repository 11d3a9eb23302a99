package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"mailingest/backend/internal/domain"
	"mailingest/backend/internal/googleerr"
)

// LoadOAuthConfig 从 OAuth 客户端凭据文件（credentials.json）加载配置
func LoadOAuthConfig(path string, scopes ...string) (*oauth2.Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}
	cfg, err := google.ConfigFromJSON(b, scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file: %w", err)
	}
	return cfg, nil
}

// Manager 持有当前令牌，实现 oauth2.TokenSource。
//
// 访问令牌过期时自动用刷新令牌换新，并把新令牌写回存储；
// Refresh 用于在 API 返回 401 后强制换新。
type Manager struct {
	oauth  *oauth2.Config
	store  TokenStore
	logger *zap.Logger

	mu      sync.Mutex
	current *oauth2.Token
}

// NewManager 创建令牌管理器
func NewManager(oauth *oauth2.Config, store TokenStore, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{oauth: oauth, store: store, logger: logger}
}

// Token 实现 oauth2.TokenSource
func (m *Manager) Token() (*oauth2.Token, error) {
	return m.GetToken(context.Background())
}

// GetToken 返回有效的访问令牌，必要时从存储加载或刷新
func (m *Manager) GetToken(ctx context.Context) (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		tok, err := m.store.Load(ctx)
		if err != nil {
			if errors.Is(err, ErrTokenNotFound) {
				return nil, domain.NewError(domain.KindAuthExpired, "load token", err)
			}
			return nil, err
		}
		m.current = tok
	}
	if m.current.Valid() {
		return m.current, nil
	}
	return m.refreshLocked(ctx)
}

// Refresh 强制用刷新令牌换取新的访问令牌并写回存储。
// 刷新被拒绝时返回 KindAuthExpired 错误。
func (m *Manager) Refresh(ctx context.Context) (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		tok, err := m.store.Load(ctx)
		if err != nil {
			return nil, domain.NewError(domain.KindAuthExpired, "load token", err)
		}
		m.current = tok
	}
	return m.refreshLocked(ctx)
}

func (m *Manager) refreshLocked(ctx context.Context) (*oauth2.Token, error) {
	if m.current.RefreshToken == "" {
		return nil, domain.NewError(domain.KindAuthExpired, "refresh token", errors.New("no refresh token available"))
	}

	// 把过期时间置为过去，迫使 TokenSource 走刷新流程
	expired := *m.current
	expired.Expiry = time.Now().Add(-time.Minute)
	expired.AccessToken = ""

	fresh, err := m.oauth.TokenSource(ctx, &expired).Token()
	if err != nil {
		err = googleerr.Classify("refresh token", err)
		if domain.KindOf(err) != domain.KindTransientIO {
			err = domain.NewError(domain.KindAuthExpired, "refresh token", err)
		}
		return nil, err
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = m.current.RefreshToken
	}
	m.current = fresh

	if err := m.store.Save(ctx, fresh); err != nil {
		// 新令牌仍可用，只是下次启动需要再刷新一次
		m.logger.Warn("刷新后的令牌写回失败", zap.Error(err))
	} else {
		m.logger.Info("访问令牌已刷新", zap.Time("expiry", fresh.Expiry))
	}
	return fresh, nil
}
