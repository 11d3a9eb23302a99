package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

// Status 健康状态
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Check 是一个依赖检查，ctx 带有超时
type Check func(ctx context.Context) error

// CheckResult 单个依赖的检查结果
type CheckResult struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report 健康报告
type Report struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    time.Duration          `json:"uptime"`
	Checks    []CheckResult          `json:"checks"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// HealthChecker 健康检查器
//
// /live 只反映进程本身，/ready 检查存储、写入端和游标等依赖
type HealthChecker struct {
	handler   healthcheck.Handler
	mu        sync.RWMutex
	checks    map[string]Check
	details   map[string]func() (interface{}, error)
	timeout   time.Duration
	startTime time.Time
	logger    *zap.Logger
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(timeout time.Duration, logger *zap.Logger) *HealthChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		handler:   healthcheck.NewHandler(),
		checks:    make(map[string]Check),
		details:   make(map[string]func() (interface{}, error)),
		timeout:   timeout,
		startTime: time.Now(),
		logger:    logger,
	}
	hc.handler.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10000))
	return hc
}

// AddReadinessCheck 添加依赖检查
func (hc *HealthChecker) AddReadinessCheck(name string, check Check) {
	hc.mu.Lock()
	hc.checks[name] = check
	hc.mu.Unlock()

	hc.handler.AddReadinessCheck(name, healthcheck.Timeout(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), hc.timeout)
		defer cancel()
		return check(ctx)
	}, hc.timeout))
}

// AddDetail 添加只出现在报告中的附加信息，例如存储统计
func (hc *HealthChecker) AddDetail(name string, fn func() (interface{}, error)) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.details[name] = fn
}

// Handler 返回健康检查处理器（提供 /live 与 /ready）
func (hc *HealthChecker) Handler() http.Handler {
	return hc.handler
}

// LiveHandler 返回存活检查处理器
func (hc *HealthChecker) LiveHandler() http.HandlerFunc {
	return hc.handler.LiveEndpoint
}

// ReadyHandler 返回就绪检查处理器
func (hc *HealthChecker) ReadyHandler() http.HandlerFunc {
	return hc.handler.ReadyEndpoint
}

// CheckHealth 执行所有检查并生成报告
func (hc *HealthChecker) CheckHealth(ctx context.Context) *Report {
	hc.mu.RLock()
	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	checks := make(map[string]Check, len(hc.checks))
	for k, v := range hc.checks {
		checks[k] = v
	}
	details := make(map[string]func() (interface{}, error), len(hc.details))
	for k, v := range hc.details {
		details[k] = v
	}
	hc.mu.RUnlock()
	sort.Strings(names)

	report := &Report{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Uptime:    time.Since(hc.startTime),
		Checks:    make([]CheckResult, 0, len(names)),
	}

	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, hc.timeout)
		start := time.Now()
		err := checks[name](checkCtx)
		cancel()

		result := CheckResult{Name: name, Status: StatusHealthy, Duration: time.Since(start)}
		if err != nil {
			result.Status = StatusUnhealthy
			result.Message = err.Error()
			report.Status = StatusUnhealthy
			hc.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
		}
		report.Checks = append(report.Checks, result)
	}

	if len(details) > 0 {
		report.Details = make(map[string]interface{}, len(details))
		for name, fn := range details {
			v, err := fn()
			if err != nil {
				report.Details[name] = map[string]string{"error": err.Error()}
				continue
			}
			report.Details[name] = v
		}
	}
	return report
}
