package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ratebook/internal/model"
)

const batchColumns = `
	id, batch_id, provider_code, contract_type, file_name, file_hash, format, status,
	total_rows, success_rows, error_rows, is_latest, error_message, created_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*model.ImportBatch, error) {
	var (
		b         model.ImportBatch
		ct        string
		format    string
		status    string
		isLatest  int
		completed sql.NullTime
	)
	if err := row.Scan(
		&b.ID, &b.BatchID, &b.ProviderCode, &ct, &b.FileName, &b.FileHash, &format, &status,
		&b.TotalRows, &b.SuccessRows, &b.ErrorRows, &isLatest, &b.ErrorMessage, &b.CreatedAt, &completed,
	); err != nil {
		return nil, err
	}
	b.ContractType = model.ContractType(ct)
	b.Format = model.SheetFormat(format)
	b.Status = model.BatchStatus(status)
	b.IsLatest = isLatest == 1
	if completed.Valid {
		t := completed.Time
		b.CompletedAt = &t
	}
	return &b, nil
}

// FindBatchByHash 按文件指纹查找批次；优先返回未失败的批次
func (s *Store) FindBatchByHash(ctx context.Context, fileHash string) (*model.ImportBatch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+batchColumns+`
		FROM import_batches
		WHERE file_hash = ?
		ORDER BY CASE WHEN status = 'failed' THEN 1 ELSE 0 END, id DESC
		LIMIT 1
	`, fileHash)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find batch by hash: %w", err)
	}
	return b, nil
}

// ClaimBatch 以 processing 状态登记批次；同一指纹已有进行中的批次时返回 ErrDuplicateHash
func (s *Store) ClaimBatch(ctx context.Context, batch *model.ImportBatch) error {
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	batch.Status = model.BatchProcessing
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO import_batches (
			batch_id, provider_code, contract_type, file_name, file_hash, format, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, batch.BatchID, batch.ProviderCode, string(batch.ContractType), batch.FileName, batch.FileHash,
		string(batch.Format), string(batch.Status), batch.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateHash
		}
		return fmt.Errorf("failed to claim batch: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get batch id: %w", err)
	}
	batch.ID = id
	return nil
}

// CompleteBatch 单个事务内写入报价与 sheet 元信息，删除被替换的批次，标记完成并切换 is_latest。
// 同一指纹已有其他已完成批次时返回 ErrDuplicateHash，事务回滚。
func (s *Store) CompleteBatch(ctx context.Context, batch *model.ImportBatch, rates []model.ParsedRate, sheets []model.SheetMeta) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if batch.Replaces != "" && batch.Replaces != batch.BatchID {
		if err := deleteBatchTx(ctx, tx, batch.Replaces); err != nil {
			return err
		}
	}

	if err := insertRates(ctx, tx, batch.BatchID, batch.ProviderCode, rates); err != nil {
		return err
	}
	if err := insertSheetMeta(ctx, tx, batch.BatchID, sheets); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE import_batches SET is_latest = 0
		WHERE provider_code = ? AND contract_type = ? AND is_latest = 1
	`, batch.ProviderCode, string(batch.ContractType)); err != nil {
		return fmt.Errorf("failed to reset latest batch: %w", err)
	}

	completed := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE import_batches SET
			contract_type = ?,
			format = ?,
			status = ?,
			total_rows = ?,
			success_rows = ?,
			error_rows = ?,
			is_latest = 1,
			error_message = '',
			completed_at = ?
		WHERE batch_id = ?
	`, string(batch.ContractType), string(batch.Format), string(model.BatchCompleted),
		batch.TotalRows, batch.SuccessRows, batch.ErrorRows, completed, batch.BatchID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateHash
		}
		return fmt.Errorf("failed to complete batch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	batch.Status = model.BatchCompleted
	batch.IsLatest = true
	batch.CompletedAt = &completed
	return nil
}

// FailBatch 标记失败（失败批次可以重试）
func (s *Store) FailBatch(ctx context.Context, batchID, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE import_batches SET status = ?, error_message = ?, is_latest = 0, completed_at = ?
		WHERE batch_id = ?
	`, string(model.BatchFailed), message, time.Now().UTC(), batchID)
	if err != nil {
		return fmt.Errorf("failed to mark batch failed: %w", err)
	}
	return nil
}

// DeleteBatch 删除批次及其报价、sheet 元信息
func (s *Store) DeleteBatch(ctx context.Context, batchID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deleteBatchTx(ctx, tx, batchID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

func deleteBatchTx(ctx context.Context, tx *sql.Tx, batchID string) error {
	for _, q := range []string{
		`DELETE FROM rates WHERE batch_id = ?`,
		`DELETE FROM sheets_meta WHERE batch_id = ?`,
		`DELETE FROM import_batches WHERE batch_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, batchID); err != nil {
			return fmt.Errorf("failed to delete batch %s: %w", batchID, err)
		}
	}
	return nil
}

// GetBatch 按批次号查询
func (s *Store) GetBatch(ctx context.Context, batchID string) (*model.ImportBatch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM import_batches WHERE batch_id = ?`, batchID)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return b, nil
}

// ListBatches 列出批次（新的在前）；providerCode 为空时不过滤
func (s *Store) ListBatches(ctx context.Context, providerCode string, limit int) ([]model.ImportBatch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+batchColumns+`
		FROM import_batches
		WHERE (? = '' OR provider_code = ?)
		ORDER BY id DESC
		LIMIT ?
	`, providerCode, providerCode, limit)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate batches: %w", err)
	}
	return out, nil
}

// ListProviderStats 按供应商统计已完成批次
func (s *Store) ListProviderStats(ctx context.Context) ([]ProviderStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			b.provider_code,
			COUNT(1),
			COALESCE(SUM(b.success_rows), 0),
			MAX(b.id)
		FROM import_batches b
		WHERE b.status = 'completed'
		GROUP BY b.provider_code
		ORDER BY b.provider_code
	`)
	if err != nil {
		return nil, fmt.Errorf("query provider stats failed: %w", err)
	}
	defer rows.Close()

	type statRow struct {
		stat   ProviderStat
		lastID int64
	}
	var tmp []statRow
	for rows.Next() {
		var it statRow
		if err := rows.Scan(&it.stat.ProviderCode, &it.stat.Batches, &it.stat.Rates, &it.lastID); err != nil {
			return nil, fmt.Errorf("scan provider stats failed: %w", err)
		}
		tmp = append(tmp, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate provider stats failed: %w", err)
	}
	rows.Close()

	out := make([]ProviderStat, 0, len(tmp))
	for _, it := range tmp {
		var last sql.NullTime
		if err := s.db.QueryRowContext(ctx, `SELECT completed_at FROM import_batches WHERE id = ?`, it.lastID).Scan(&last); err != nil {
			return nil, fmt.Errorf("query last import failed: %w", err)
		}
		if last.Valid {
			t := last.Time
			it.stat.LastImportAt = &t
		}
		out = append(out, it.stat)
	}
	return out, nil
}
