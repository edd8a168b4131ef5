package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"ratebook/internal/model"
)

//go:embed schema.sql
var schemaFS embed.FS

var (
	// ErrDuplicateHash 同一文件已存在未失败的批次
	ErrDuplicateHash = errors.New("an active batch with the same file hash already exists")
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")
)

// ProviderStat 供应商导入统计
type ProviderStat struct {
	ProviderCode string     `json:"providerCode"`
	Batches      int        `json:"batches"`
	Rates        int        `json:"rates"`
	LastImportAt *time.Time `json:"lastImportAt,omitempty"`
}

// Repository 报价存储（sqlite / postgres 实现相同契约）
type Repository interface {
	Driver() string
	FindBatchByHash(ctx context.Context, fileHash string) (*model.ImportBatch, error)
	ClaimBatch(ctx context.Context, batch *model.ImportBatch) error
	CompleteBatch(ctx context.Context, batch *model.ImportBatch, rates []model.ParsedRate, sheets []model.SheetMeta) error
	FailBatch(ctx context.Context, batchID, message string) error
	DeleteBatch(ctx context.Context, batchID string) error
	GetBatch(ctx context.Context, batchID string) (*model.ImportBatch, error)
	ListBatches(ctx context.Context, providerCode string, limit int) ([]model.ImportBatch, error)
	ListRates(ctx context.Context, batchID string, limit, offset int) ([]model.ParsedRate, error)
	ListSheetMeta(ctx context.Context, batchID string) ([]model.SheetMeta, error)
	ListProviderStats(ctx context.Context) ([]ProviderStat, error)
	Close() error
}

// Store SQLite 数据库存储层
type Store struct {
	db *sql.DB
}

var _ Repository = (*Store)(nil)

// New 创建新的 Store 实例
func New(dbPath string) (*Store, error) {
	// 确保 data 目录存在
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite 建议单连接
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// initSchema 初始化数据库结构
func (s *Store) initSchema() error {
	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema.sql: %w", err)
	}
	if _, err := s.db.Exec(string(schemaSQL)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Driver 驱动名
func (s *Store) Driver() string { return "sqlite" }

// Close 关闭数据库连接
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
