package sink

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/bigquery"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"mailingest/backend/internal/domain"
	"mailingest/backend/internal/googleerr"
)

// BigQueryWriter 通过流式插入写入 BigQuery 表
type BigQueryWriter struct {
	client   *bigquery.Client
	table    *bigquery.Table
	inserter *bigquery.Inserter
	schema   bigquery.Schema
	log      *zap.Logger
}

// NewBigQueryWriter 创建 BigQuery 写入器，表不存在时按 processed_at 按天分区创建
func NewBigQueryWriter(ctx context.Context, project, dataset, table string, log *zap.Logger, opts ...option.ClientOption) (*BigQueryWriter, error) {
	if log == nil {
		log = zap.NewNop()
	}
	client, err := bigquery.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bigquery client: %w", err)
	}

	schema, err := bigquery.InferSchema(Row{})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("infer schema: %w", err)
	}

	t := client.Dataset(dataset).Table(table)
	err = t.Create(ctx, &bigquery.TableMetadata{
		Schema:           schema,
		TimePartitioning: &bigquery.TimePartitioning{Field: "processed_at"},
	})
	if err != nil && !googleerr.IsConflict(err) {
		client.Close()
		return nil, fmt.Errorf("create table %s.%s: %w", dataset, table, err)
	}

	// 跳过无效行，其余行照常写入，被拒绝的行通过 PutMultiError 返回
	inserter := t.Inserter()
	inserter.SkipInvalidRows = true

	return &BigQueryWriter{
		client:   client,
		table:    t,
		inserter: inserter,
		schema:   schema,
		log:      log,
	}, nil
}

// Write 流式插入一批记录。
// 无效行被跳过并单独报告，其余行已经写入。
func (w *BigQueryWriter) Write(ctx context.Context, records []domain.MessageRecord) Result {
	res := Result{Failed: make(map[int]error)}
	savers := make([]*bigquery.StructSaver, 0, len(records))
	index := make([]int, 0, len(records))
	for i, rec := range records {
		row, err := NewRow(rec)
		if err != nil {
			res.Failed[i] = domain.Permanent("sink.encode", err)
			continue
		}
		savers = append(savers, &bigquery.StructSaver{
			Schema:   w.schema,
			InsertID: InsertID(rec),
			Struct:   row,
		})
		index = append(index, i)
	}
	if len(savers) == 0 {
		return res
	}

	err := w.inserter.Put(ctx, savers)
	if err == nil {
		res.Inserted = len(savers)
		return res
	}

	var multi bigquery.PutMultiError
	if !errors.As(err, &multi) {
		classified := googleerr.Classify("bigquery.insert", err)
		for _, i := range index {
			res.Failed[i] = classified
		}
		return res
	}

	rejected := 0
	for _, rowErr := range multi {
		if rowErr.RowIndex < 0 || rowErr.RowIndex >= len(index) {
			continue
		}
		// 行级错误是数据问题，重试不会改变结果
		res.Failed[index[rowErr.RowIndex]] = domain.Permanent("bigquery.insert", rowErr.Errors)
		rejected++
	}
	res.Inserted = len(savers) - rejected
	w.log.Warn("bigquery rejected rows", zap.Int("rejected", rejected), zap.Int("inserted", res.Inserted))
	return res
}

// Ping 读取表元数据确认可访问
func (w *BigQueryWriter) Ping(ctx context.Context) error {
	_, err := w.table.Metadata(ctx)
	return err
}

// Close 关闭客户端
func (w *BigQueryWriter) Close() error {
	return w.client.Close()
}
