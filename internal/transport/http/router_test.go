package httptransport

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/idtoken"

	"mailingest/backend/internal/auth"
	"mailingest/backend/internal/config"
	"mailingest/backend/internal/domain"
	"mailingest/backend/internal/health"
	"mailingest/backend/internal/ingest"
	"mailingest/backend/internal/monitoring"
)

type fakeIngestor struct {
	mu      sync.Mutex
	events  []domain.Event
	runs    []uint64
	singles []string
	raws    [][]byte
	summary *domain.RunSummary
	err     error
}

func (f *fakeIngestor) result() (*domain.RunSummary, error) {
	if f.summary != nil {
		return f.summary, f.err
	}
	return &domain.RunSummary{RunID: "run-1", Stored: 1}, f.err
}

func (f *fakeIngestor) HandleEvent(_ context.Context, ev domain.Event) (*domain.RunSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.result()
}

func (f *fakeIngestor) Run(_ context.Context, hint uint64) (*domain.RunSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, hint)
	return f.result()
}

func (f *fakeIngestor) ProcessMessage(_ context.Context, id string) (*domain.RunSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.singles = append(f.singles, id)
	return f.result()
}

func (f *fakeIngestor) ProcessRaw(_ context.Context, raw []byte) (*domain.RunSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raws = append(f.raws, raw)
	return f.result()
}

type fakeValidator struct {
	email string
}

func (v fakeValidator) Validate(_ context.Context, token, audience string) (*idtoken.Payload, error) {
	if token != "good" {
		return nil, errors.New("bad signature")
	}
	return &idtoken.Payload{Audience: audience, Claims: map[string]interface{}{"email": v.email}}, nil
}

const secret = "0123456789abcdef0123456789abcdef"

func newTestRouter(t *testing.T, ing *fakeIngestor, cfg *config.Config) (*gin.Engine, *auth.JWTManager) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if cfg == nil {
		cfg = &config.Config{}
	}
	cfg.Log.Development = true
	cfg.Auth = config.AuthConfig{Secret: secret, Issuer: "mailingest", TokenExpiry: time.Hour}
	jwtManager, err := auth.NewJWTManager(&cfg.Auth)
	require.NoError(t, err)

	hc := health.NewHealthChecker(time.Second, nil)
	router := NewRouter(RouterDependencies{
		Config:        cfg,
		Ingestor:      ing,
		JWTManager:    jwtManager,
		PushValidator: fakeValidator{email: "push@p.iam.gserviceaccount.com"},
		Health:        hc,
		Metrics:       monitoring.NewMetrics(),
	})
	return router, jwtManager
}

func pushBody(payload string) []byte {
	data := base64.StdEncoding.EncodeToString([]byte(payload))
	return []byte(`{"message":{"data":"` + data + `","messageId":"pm-1"},"subscription":"projects/p/subscriptions/s"}`)
}

func do(router http.Handler, method, path string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestPushHandler(t *testing.T) {
	t.Run("处理通知并确认", func(t *testing.T) {
		ing := &fakeIngestor{}
		router, _ := newTestRouter(t, ing, nil)

		w := do(router, http.MethodPost, "/pubsub/push", pushBody(`{"emailAddress":"me@example.com","historyId":"55"}`), nil)
		assert.Equal(t, http.StatusNoContent, w.Code)
		require.Len(t, ing.events, 1)
		assert.Equal(t, uint64(55), ing.events[0].CursorHint)
	})

	t.Run("无效载荷也确认", func(t *testing.T) {
		ing := &fakeIngestor{}
		router, _ := newTestRouter(t, ing, nil)

		w := do(router, http.MethodPost, "/pubsub/push", []byte(`{not json`), nil)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, ing.events)
	})

	t.Run("另一实例运行中返回 503", func(t *testing.T) {
		ing := &fakeIngestor{summary: &domain.RunSummary{Busy: true}}
		router, _ := newTestRouter(t, ing, nil)

		w := do(router, http.MethodPost, "/pubsub/push", pushBody(`{"historyId":"55"}`), nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("运行失败返回 5xx", func(t *testing.T) {
		ing := &fakeIngestor{err: errors.New("commit failed")}
		router, _ := newTestRouter(t, ing, nil)

		w := do(router, http.MethodPost, "/pubsub/push", pushBody(`{"historyId":"55"}`), nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("邮箱整体不可用返回 503", func(t *testing.T) {
		ing := &fakeIngestor{err: domain.Transient("ingest", ingest.ErrMailboxUnavailable)}
		router, _ := newTestRouter(t, ing, nil)

		w := do(router, http.MethodPost, "/pubsub/push", pushBody(`{"historyId":"55"}`), nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("其它邮箱的通知被忽略", func(t *testing.T) {
		ing := &fakeIngestor{}
		cfg := &config.Config{}
		cfg.Gmail.User = "me@example.com"
		router, _ := newTestRouter(t, ing, cfg)

		w := do(router, http.MethodPost, "/pubsub/push", pushBody(`{"emailAddress":"x@example.com","historyId":"55"}`), nil)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, ing.events)
	})
}

func TestPushAuth(t *testing.T) {
	cfg := &config.Config{}
	cfg.PubSub.PushAudience = "https://ingest.example.com/pubsub/push"
	cfg.PubSub.PushAccount = "push@p.iam.gserviceaccount.com"
	body := pushBody(`{"historyId":"9"}`)

	tests := []struct {
		name   string
		header map[string]string
		code   int
	}{
		{"缺少令牌", nil, http.StatusUnauthorized},
		{"令牌无效", map[string]string{"Authorization": "Bearer bad"}, http.StatusUnauthorized},
		{"令牌有效", map[string]string{"Authorization": "Bearer good"}, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newTestRouter(t, &fakeIngestor{}, cfg)
			w := do(router, http.MethodPost, "/pubsub/push", body, tt.header)
			assert.Equal(t, tt.code, w.Code)
		})
	}

	t.Run("服务账号不符", func(t *testing.T) {
		other := *cfg
		other.PubSub.PushAccount = "someone@p.iam.gserviceaccount.com"
		router, _ := newTestRouter(t, &fakeIngestor{}, &other)
		w := do(router, http.MethodPost, "/pubsub/push", body, map[string]string{"Authorization": "Bearer good"})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func bearer(t *testing.T, m *auth.JWTManager, scopes ...string) map[string]string {
	t.Helper()
	tok, err := m.IssueToken("ops", scopes...)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + tok.AccessToken, "Content-Type": "application/json"}
}

func TestIngestTrigger(t *testing.T) {
	t.Run("需要令牌", func(t *testing.T) {
		router, _ := newTestRouter(t, &fakeIngestor{}, nil)
		w := do(router, http.MethodPost, "/api/v1/ingest", []byte(`{}`), nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("单封邮件", func(t *testing.T) {
		ing := &fakeIngestor{}
		router, m := newTestRouter(t, ing, nil)
		w := do(router, http.MethodPost, "/api/v1/ingest",
			[]byte(`{"mailboxAddress":"me@example.com","messageIdentifier":"abc"}`), bearer(t, m))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{"abc"}, ing.singles)

		var resp struct {
			Code int               `json:"code"`
			Data domain.RunSummary `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "run-1", resp.Data.RunID)
		assert.Equal(t, 1, resp.Data.Stored)
	})

	t.Run("增量运行", func(t *testing.T) {
		ing := &fakeIngestor{}
		router, m := newTestRouter(t, ing, nil)
		w := do(router, http.MethodPost, "/api/v1/ingest", []byte(`{"historyId":77}`), bearer(t, m))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []uint64{77}, ing.runs)
	})

	t.Run("邮箱地址无效", func(t *testing.T) {
		ing := &fakeIngestor{}
		router, m := newTestRouter(t, ing, nil)
		w := do(router, http.MethodPost, "/api/v1/ingest",
			[]byte(`{"mailboxAddress":"not-an-address"}`), bearer(t, m))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, ing.runs)
	})

	t.Run("缺少权限", func(t *testing.T) {
		router, m := newTestRouter(t, &fakeIngestor{}, nil)
		w := do(router, http.MethodPost, "/api/v1/ingest", []byte(`{}`), bearer(t, m, auth.ScopeRaw))
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("凭证失效", func(t *testing.T) {
		ing := &fakeIngestor{err: domain.NewError(domain.KindAuthExpired, "refresh", errors.New("invalid_grant"))}
		router, m := newTestRouter(t, ing, nil)
		w := do(router, http.MethodPost, "/api/v1/ingest", []byte(`{}`), bearer(t, m))
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})

	t.Run("运行中返回 202", func(t *testing.T) {
		ing := &fakeIngestor{summary: &domain.RunSummary{Busy: true}}
		router, m := newTestRouter(t, ing, nil)
		w := do(router, http.MethodPost, "/api/v1/ingest", []byte(`{}`), bearer(t, m))
		assert.Equal(t, http.StatusAccepted, w.Code)
	})
}

func TestIngestRaw(t *testing.T) {
	raw := []byte("Message-ID: <x@example.com>\r\nSubject: hi\r\n\r\nbody\r\n")

	t.Run("JSON base64", func(t *testing.T) {
		ing := &fakeIngestor{}
		router, m := newTestRouter(t, ing, nil)
		body, _ := json.Marshal(RawRequest{RawEmail: base64.URLEncoding.EncodeToString(raw)})
		w := do(router, http.MethodPost, "/api/v1/ingest/raw", body, bearer(t, m))
		require.Equal(t, http.StatusOK, w.Code)
		require.Len(t, ing.raws, 1)
		assert.Equal(t, raw, ing.raws[0])
	})

	t.Run("message/rfc822 请求体", func(t *testing.T) {
		ing := &fakeIngestor{}
		router, m := newTestRouter(t, ing, nil)
		h := bearer(t, m)
		h["Content-Type"] = "message/rfc822"
		w := do(router, http.MethodPost, "/api/v1/ingest/raw", raw, h)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, raw, ing.raws[0])
	})

	t.Run("无效 base64", func(t *testing.T) {
		ing := &fakeIngestor{}
		router, m := newTestRouter(t, ing, nil)
		w := do(router, http.MethodPost, "/api/v1/ingest/raw", []byte(`{"raw_email":"*"}`), bearer(t, m))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, ing.raws)
	})

	t.Run("结构无效", func(t *testing.T) {
		ing := &fakeIngestor{err: domain.Permanent("parse raw", errors.New("no Message-ID"))}
		router, m := newTestRouter(t, ing, nil)
		h := bearer(t, m)
		h["Content-Type"] = "message/rfc822"
		w := do(router, http.MethodPost, "/api/v1/ingest/raw", raw, h)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

func TestProbes(t *testing.T) {
	router, _ := newTestRouter(t, &fakeIngestor{}, nil)

	for _, path := range []string{"/health", "/live", "/ready", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			w := do(router, http.MethodGet, path, nil, nil)
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}

	w := do(router, http.MethodGet, "/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
