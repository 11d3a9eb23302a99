// Package retry 提供统一的指数退避重试策略。
package retry

import (
	"context"
	"fmt"
	"time"

	"mailingest/backend/internal/domain"
)

// Policy 重试策略
type Policy struct {
	MaxAttempts int           `mapstructure:"max_attempts"` // 最大尝试次数（含第一次）
	BaseDelay   time.Duration `mapstructure:"base_delay"`   // 首次重试前的等待时间
	Multiplier  float64       `mapstructure:"multiplier"`   // 每次重试等待时间的倍数
	MaxDelay    time.Duration `mapstructure:"max_delay"`    // 单次等待上限，0 表示不限制
	CallTimeout time.Duration `mapstructure:"call_timeout"` // 单次调用超时，0 表示沿用上层 context
}

// DefaultPolicy 返回默认策略：4 次尝试，500ms 起步，每次翻倍，单次调用 30s 超时
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    30 * time.Second,
		CallTimeout: 30 * time.Second,
	}
}

// Validate 校验策略参数
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("retry base delay must be >= 0, got %s", p.BaseDelay)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("retry multiplier must be >= 1, got %g", p.Multiplier)
	}
	return nil
}

// Delay 返回第 attempt 次失败之后的等待时间（attempt 从 1 开始）
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Hook 在每次失败后调用，用于记录日志和指标。
type Hook func(attempt int, err error)

// Do 按策略执行 fn。
//
// 只有 domain.IsRetryable 判定为可重试的错误才会重试；
// 其余错误立即返回。次数用尽后返回最后一次的错误。
//
// 参数:
//   - ctx: 上层 context，取消后立即停止等待
//   - p: 重试策略
//   - fn: 被执行的操作，每次调用都会得到带 CallTimeout 的 context
//   - hooks: 可选的失败回调
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error, hooks ...Hook) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = call(ctx, p.CallTimeout, fn)
		if err == nil {
			return nil
		}
		for _, h := range hooks {
			h(attempt, err)
		}
		if !domain.IsRetryable(err) || attempt == attempts {
			return err
		}
		if Sleep(ctx, p.Delay(attempt)) != nil {
			return err
		}
	}
	return err
}

// Sleep 等待 d，ctx 结束时提前返回 ctx.Err()
func Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Value 与 Do 相同，但返回 fn 的结果
func Value[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error), hooks ...Hook) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, hooks...)
	return out, err
}

func call(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(callCtx)
	// 单次调用超时属于可重试的 IO 错误
	if err != nil && callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil && domain.KindOf(err) == domain.KindUnknown {
		return domain.Transient("call timeout", err)
	}
	return err
}
