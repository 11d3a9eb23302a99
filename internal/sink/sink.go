// Package sink 把结构化邮件记录写入外部存储。
//
// 存储端不提供 message_id 唯一约束：同一封邮件在崩溃重放时可能产生多行，
// 下游按 message_id 取 processed_at 最新的一行去重。
package sink

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"mailingest/backend/internal/domain"
	"mailingest/backend/internal/retry"
)

// Result 是一次批量写入的结果
type Result struct {
	Inserted int           // 成功写入的记录数
	Failed   map[int]error // 失败记录在批次中的下标及原因
}

// Writer 是结构化存储的写入接口
type Writer interface {
	// Write 写入一批记录（至少一条），返回逐条的失败信息
	Write(ctx context.Context, records []domain.MessageRecord) Result
	// Ping 检查存储是否可用
	Ping(ctx context.Context) error
	// Close 释放连接
	Close() error
}

// failAll 把整批标记为同一个错误
func failAll(n int, err error) Result {
	failed := make(map[int]error, n)
	for i := 0; i < n; i++ {
		failed[i] = err
	}
	return Result{Failed: failed}
}

// Outcome 是带重试写入的最终结果，按 message_id 给出失败原因
type Outcome struct {
	Inserted int
	Attempts int
	Failed   map[string]error
}

// WriteAll 分批写入记录，并只对失败的子集按策略退避重试。
//
// 已经写入成功的记录不会被再次提交。不可重试的失败立即成为终态；
// 重试次数耗尽后仍失败的记录也作为终态返回。
//
// 参数:
//   - w: 写入器
//   - records: 待写入的记录
//   - batchSize: 单次提交的最大记录数
//   - policy: 重试策略，MaxAttempts 为每条记录的最大提交次数
func WriteAll(ctx context.Context, w Writer, records []domain.MessageRecord, batchSize int, policy retry.Policy, log *zap.Logger) Outcome {
	if log == nil {
		log = zap.NewNop()
	}
	if batchSize < 1 {
		batchSize = len(records)
	}
	out := Outcome{Failed: make(map[string]error)}
	pending := records

	for attempt := 1; len(pending) > 0; attempt++ {
		out.Attempts = attempt
		var retryable []domain.MessageRecord

		for start := 0; start < len(pending); start += batchSize {
			end := start + batchSize
			if end > len(pending) {
				end = len(pending)
			}
			batch := pending[start:end]
			res := w.Write(ctx, batch)
			out.Inserted += res.Inserted

			for _, i := range sortedKeys(res.Failed) {
				err := res.Failed[i]
				rec := batch[i]
				if domain.IsRetryable(err) && attempt < policy.MaxAttempts {
					retryable = append(retryable, rec)
					continue
				}
				out.Failed[rec.MessageID] = err
			}
		}

		if len(retryable) == 0 {
			break
		}
		log.Warn("sink rejected records, retrying failed subset",
			zap.Int("attempt", attempt),
			zap.Int("retrying", len(retryable)),
		)
		if err := retry.Sleep(ctx, policy.Delay(attempt)); err != nil {
			for _, rec := range retryable {
				out.Failed[rec.MessageID] = domain.Transient("sink.write", err)
			}
			break
		}
		pending = retryable
	}
	return out
}

func sortedKeys(m map[int]error) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

