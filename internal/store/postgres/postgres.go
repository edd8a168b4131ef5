// Package postgres 基于 pgx 连接池的报价存储，契约与 sqlite 实现一致。
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ratebook/internal/model"
	"ratebook/internal/store"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

// Store Postgres 存储层
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Repository = (*Store)(nil)

// New 连接数据库并初始化表结构
func New(ctx context.Context, databaseURL string) (*Store, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database url not set")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to execute schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Driver 驱动名
func (s *Store) Driver() string { return "postgres" }

// Close 关闭连接池
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const batchColumns = `
	id, batch_id, provider_code, contract_type, file_name, file_hash, format, status,
	total_rows, success_rows, error_rows, is_latest, error_message, created_at, completed_at`

func scanBatch(row pgx.Row) (*model.ImportBatch, error) {
	var (
		b      model.ImportBatch
		ct     string
		format string
		status string
	)
	if err := row.Scan(
		&b.ID, &b.BatchID, &b.ProviderCode, &ct, &b.FileName, &b.FileHash, &format, &status,
		&b.TotalRows, &b.SuccessRows, &b.ErrorRows, &b.IsLatest, &b.ErrorMessage, &b.CreatedAt, &b.CompletedAt,
	); err != nil {
		return nil, err
	}
	b.ContractType = model.ContractType(ct)
	b.Format = model.SheetFormat(format)
	b.Status = model.BatchStatus(status)
	return &b, nil
}

// FindBatchByHash 按文件指纹查找批次；优先返回未失败的批次
func (s *Store) FindBatchByHash(ctx context.Context, fileHash string) (*model.ImportBatch, error) {
	b, err := scanBatch(s.pool.QueryRow(ctx, `
		SELECT `+batchColumns+`
		FROM import_batches
		WHERE file_hash = $1
		ORDER BY (status = 'failed'), id DESC
		LIMIT 1
	`, fileHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find batch by hash: %w", err)
	}
	return b, nil
}

// ClaimBatch 以 processing 状态登记批次
func (s *Store) ClaimBatch(ctx context.Context, batch *model.ImportBatch) error {
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	batch.Status = model.BatchProcessing
	err := s.pool.QueryRow(ctx, `
		INSERT INTO import_batches (
			batch_id, provider_code, contract_type, file_name, file_hash, format, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, batch.BatchID, batch.ProviderCode, string(batch.ContractType), batch.FileName, batch.FileHash,
		string(batch.Format), string(batch.Status), batch.CreatedAt).Scan(&batch.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return store.ErrDuplicateHash
		}
		return fmt.Errorf("failed to claim batch: %w", err)
	}
	return nil
}

var rateColumns = []string{
	"batch_id", "provider_code",
	"cap_code", "cap_id", "manufacturer", "model", "variant",
	"term", "annual_mileage", "initial_months", "payment_profile", "contract_type",
	"monthly_rental", "is_maintained",
	"otr", "p11d", "co2", "fuel_type", "transmission", "excess_mileage_pence", "quote_number",
	"source_sheet", "source_row", "source_col",
}

// CompleteBatch 单个事务内 COPY 报价、写 sheet 元信息、删除被替换的批次、标记完成并切换 is_latest
func (s *Store) CompleteBatch(ctx context.Context, batch *model.ImportBatch, rates []model.ParsedRate, sheets []model.SheetMeta) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if batch.Replaces != "" && batch.Replaces != batch.BatchID {
		if err := deleteBatchTx(ctx, tx, batch.Replaces); err != nil {
			return err
		}
	}

	if len(rates) > 0 {
		rows := make([][]any, 0, len(rates))
		for _, r := range rates {
			rows = append(rows, []any{
				batch.BatchID, batch.ProviderCode,
				r.CapCode, r.CapID, r.Manufacturer, r.Model, r.Variant,
				r.Term, r.AnnualMileage, r.InitialMonths, r.PaymentProfileLabel, string(r.ContractType),
				r.MonthlyRental, r.IsMaintained,
				r.OTR, r.P11D, r.CO2, r.FuelType, r.Transmission, r.ExcessMileagePence, r.QuoteNumber,
				r.SourceSheet, r.SourceRow, r.SourceCol,
			})
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"rates"}, rateColumns, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("failed to copy rates: %w", err)
		}
	}

	if len(sheets) > 0 {
		b := &pgx.Batch{}
		for _, m := range sheets {
			b.Queue(`
				INSERT INTO sheets_meta (
					batch_id, sheet_name, format, confidence,
					total_rows, total_columns, imported_rows,
					layout_json, status, message
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			`, batch.BatchID, m.SheetName, string(m.Format), m.Confidence,
				m.TotalRows, m.TotalColumns, m.ImportedRows, m.LayoutJSON, m.Status, m.Message)
		}
		if err := tx.SendBatch(ctx, b).Close(); err != nil {
			return fmt.Errorf("failed to insert sheets_meta: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE import_batches SET is_latest = FALSE
		WHERE provider_code = $1 AND contract_type = $2 AND is_latest
	`, batch.ProviderCode, string(batch.ContractType)); err != nil {
		return fmt.Errorf("failed to reset latest batch: %w", err)
	}

	completed := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
		UPDATE import_batches SET
			contract_type = $1, format = $2, status = $3,
			total_rows = $4, success_rows = $5, error_rows = $6,
			is_latest = TRUE, error_message = '', completed_at = $7
		WHERE batch_id = $8
	`, string(batch.ContractType), string(batch.Format), string(model.BatchCompleted),
		batch.TotalRows, batch.SuccessRows, batch.ErrorRows, completed, batch.BatchID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return store.ErrDuplicateHash
		}
		return fmt.Errorf("failed to complete batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	batch.Status = model.BatchCompleted
	batch.IsLatest = true
	batch.CompletedAt = &completed
	return nil
}

// FailBatch 标记失败
func (s *Store) FailBatch(ctx context.Context, batchID, message string) error {
	if _, err := s.pool.Exec(ctx, `
		UPDATE import_batches SET status = $1, error_message = $2, is_latest = FALSE, completed_at = NOW()
		WHERE batch_id = $3
	`, string(model.BatchFailed), message, batchID); err != nil {
		return fmt.Errorf("failed to mark batch failed: %w", err)
	}
	return nil
}

// DeleteBatch 删除批次及其报价、sheet 元信息
func (s *Store) DeleteBatch(ctx context.Context, batchID string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return deleteBatchTx(ctx, tx, batchID)
	})
}

func deleteBatchTx(ctx context.Context, tx pgx.Tx, batchID string) error {
	for _, q := range []string{
		`DELETE FROM rates WHERE batch_id = $1`,
		`DELETE FROM sheets_meta WHERE batch_id = $1`,
		`DELETE FROM import_batches WHERE batch_id = $1`,
	} {
		if _, err := tx.Exec(ctx, q, batchID); err != nil {
			return fmt.Errorf("failed to delete batch %s: %w", batchID, err)
		}
	}
	return nil
}

// GetBatch 按批次号查询
func (s *Store) GetBatch(ctx context.Context, batchID string) (*model.ImportBatch, error) {
	b, err := scanBatch(s.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM import_batches WHERE batch_id = $1`, batchID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return b, nil
}

// ListBatches 列出批次（新的在前）
func (s *Store) ListBatches(ctx context.Context, providerCode string, limit int) ([]model.ImportBatch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+batchColumns+`
		FROM import_batches
		WHERE ($1 = '' OR provider_code = $1)
		ORDER BY id DESC
		LIMIT $2
	`, providerCode, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var out []model.ImportBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// ListRates 分页查询某批次的报价
func (s *Store) ListRates(ctx context.Context, batchID string, limit, offset int) ([]model.ParsedRate, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx, `
		SELECT
			cap_code, cap_id, manufacturer, model, variant,
			term, annual_mileage, initial_months, payment_profile, contract_type,
			monthly_rental, is_maintained,
			otr, p11d, co2, fuel_type, transmission, excess_mileage_pence, quote_number,
			source_sheet, source_row, source_col
		FROM rates
		WHERE batch_id = $1
		ORDER BY id
		LIMIT $2 OFFSET $3
	`, batchID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list rates: %w", err)
	}
	defer rows.Close()

	var out []model.ParsedRate
	for rows.Next() {
		var (
			r  model.ParsedRate
			ct string
		)
		if err := rows.Scan(
			&r.CapCode, &r.CapID, &r.Manufacturer, &r.Model, &r.Variant,
			&r.Term, &r.AnnualMileage, &r.InitialMonths, &r.PaymentProfileLabel, &ct,
			&r.MonthlyRental, &r.IsMaintained,
			&r.OTR, &r.P11D, &r.CO2, &r.FuelType, &r.Transmission, &r.ExcessMileagePence, &r.QuoteNumber,
			&r.SourceSheet, &r.SourceRow, &r.SourceCol,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rate: %w", err)
		}
		r.ContractType = model.ContractType(ct)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListSheetMeta 查询批次的 sheet 元信息
func (s *Store) ListSheetMeta(ctx context.Context, batchID string) ([]model.SheetMeta, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT sheet_name, format, confidence, total_rows, total_columns, imported_rows, layout_json, status, message
		FROM sheets_meta
		WHERE batch_id = $1
		ORDER BY id
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sheets_meta: %w", err)
	}
	defer rows.Close()

	var out []model.SheetMeta
	for rows.Next() {
		var (
			m      model.SheetMeta
			format string
		)
		if err := rows.Scan(&m.SheetName, &format, &m.Confidence, &m.TotalRows, &m.TotalColumns,
			&m.ImportedRows, &m.LayoutJSON, &m.Status, &m.Message); err != nil {
			return nil, fmt.Errorf("failed to scan sheets_meta: %w", err)
		}
		m.Format = model.SheetFormat(format)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListProviderStats 按供应商统计已完成批次
func (s *Store) ListProviderStats(ctx context.Context) ([]store.ProviderStat, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT provider_code, COUNT(1), COALESCE(SUM(success_rows), 0), MAX(completed_at)
		FROM import_batches
		WHERE status = 'completed'
		GROUP BY provider_code
		ORDER BY provider_code
	`)
	if err != nil {
		return nil, fmt.Errorf("query provider stats failed: %w", err)
	}
	defer rows.Close()

	var out []store.ProviderStat
	for rows.Next() {
		var it store.ProviderStat
		if err := rows.Scan(&it.ProviderCode, &it.Batches, &it.Rates, &it.LastImportAt); err != nil {
			return nil, fmt.Errorf("scan provider stats failed: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
