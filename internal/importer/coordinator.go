package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"ratebook/internal/model"
	"ratebook/internal/parser"
	"ratebook/internal/store"
	"ratebook/internal/vocab"
)

var (
	ErrEmptyFile           = errors.New("file is empty")
	ErrUnreadableWorkbook  = errors.New("workbook could not be read")
	ErrNoSheets            = errors.New("workbook has no sheets")
	ErrUnknownFormat       = errors.New("ratebook format could not be determined")
	ErrDuplicateImport     = errors.New("file has already been imported")
	ErrNoRates             = errors.New("no rates could be extracted")
	ErrMissingProvider     = errors.New("provider code is required")
	ErrInvalidContractType = errors.New("unknown contract type")
)

// BatchStore 协调器依赖的持久化能力
type BatchStore interface {
	FindBatchByHash(ctx context.Context, fileHash string) (*model.ImportBatch, error)
	ClaimBatch(ctx context.Context, batch *model.ImportBatch) error
	CompleteBatch(ctx context.Context, batch *model.ImportBatch, rates []model.ParsedRate, sheets []model.SheetMeta) error
	FailBatch(ctx context.Context, batchID, message string) error
	DeleteBatch(ctx context.Context, batchID string) error
}

// Settings 导入参数
type Settings struct {
	PreviewLimit        int                // 预览最多返回的报价条数
	StaleAfter          time.Duration      // processing 超过该时长视为卡死
	DefaultContractType model.ContractType // 无任何合同类型线索时的兜底
}

func (s Settings) withDefaults() Settings {
	if s.PreviewLimit <= 0 {
		s.PreviewLimit = 20
	}
	if s.StaleAfter <= 0 {
		s.StaleAfter = 30 * time.Minute
	}
	if s.DefaultContractType == "" {
		s.DefaultContractType = model.ContractHire
	}
	return s
}

// Coordinator 导入协调器
type Coordinator struct {
	store      BatchStore
	classifier *parser.Classifier
	extractor  *parser.Extractor
	settings   Settings
	now        func() time.Time
}

// NewCoordinator 创建导入协调器；store 为 nil 时只能做预览
func NewCoordinator(st BatchStore, v *vocab.Vocabulary, cfg parser.Config, settings Settings) *Coordinator {
	if v == nil {
		v = vocab.Default()
	}
	return &Coordinator{
		store:      st,
		classifier: parser.NewClassifier(v, cfg),
		extractor:  parser.NewExtractor(v),
		settings:   settings.withDefaults(),
		now:        time.Now,
	}
}

// ImportOptions 导入选项
type ImportOptions struct {
	FileName     string
	Data         []byte
	ProviderCode string
	ContractType model.ContractType // 可空；声明后作为无分区标记时的合同类型
	Force        bool               // 已成功导入过的同一文件也重新导入
}

// ProgressEvent 进度事件
type ProgressEvent struct {
	Type      string      `json:"type"`      // start/info/warning/sheet_done/done/error
	Message   string      `json:"message"`   // 事件消息
	Data      interface{} `json:"data"`      // 附加数据
	Timestamp time.Time   `json:"timestamp"` // 时间戳
}

// Fingerprint 文件内容指纹（SHA-256 十六进制）
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Import 执行导入，返回进度通道；最后一个事件为 done（Data 为 *model.SmartImportResult）或 error
func (c *Coordinator) Import(ctx context.Context, opts ImportOptions) <-chan ProgressEvent {
	progressChan := make(chan ProgressEvent, 100)

	go func() {
		defer close(progressChan)

		result, err := c.run(ctx, opts, func(ev ProgressEvent) {
			c.sendProgress(progressChan, ev)
		})
		final := ProgressEvent{
			Type:      "done",
			Message:   "导入完成",
			Data:      result,
			Timestamp: time.Now(),
		}
		if err != nil {
			final.Type = "error"
			final.Message = err.Error()
		}
		select {
		case progressChan <- final:
		case <-ctx.Done():
		}
	}()

	return progressChan
}

// Run 同步执行导入
//
// 结构性错误与重复导入同时体现在返回的 error 和 Success=false 的结果里。
func (c *Coordinator) Run(ctx context.Context, opts ImportOptions) (*model.SmartImportResult, error) {
	return c.run(ctx, opts, nil)
}

func (c *Coordinator) run(ctx context.Context, opts ImportOptions, emit func(ProgressEvent)) (*model.SmartImportResult, error) {
	startTime := time.Now()
	send := func(typ, msg string, data any) {
		if emit != nil {
			emit(ProgressEvent{Type: typ, Message: msg, Data: data, Timestamp: time.Now()})
		}
	}

	result := &model.SmartImportResult{
		Format:   model.FormatUnknown,
		Rates:    []model.ParsedRate{},
		Errors:   []string{},
		Warnings: []string{},
	}
	warn := func(msg string) {
		result.Warnings = append(result.Warnings, msg)
		send("warning", msg, nil)
	}
	fail := func(err error) (*model.SmartImportResult, error) {
		result.Success = false
		result.Errors = append(result.Errors, err.Error())
		log.Warn().Err(err).
			Str("provider", opts.ProviderCode).
			Str("file", opts.FileName).
			Str("file_hash", result.FileHash).
			Msg("ratebook import rejected")
		return result, err
	}

	send("start", "开始导入报价文件", map[string]string{"filename": opts.FileName})

	if c.store == nil {
		return fail(errors.New("no store configured"))
	}
	if opts.ProviderCode == "" {
		return fail(ErrMissingProvider)
	}
	contractType, err := normalizeContractType(opts.ContractType)
	if err != nil {
		return fail(err)
	}
	opts.ContractType = contractType
	if len(opts.Data) == 0 {
		return fail(ErrEmptyFile)
	}
	result.FileHash = Fingerprint(opts.Data)

	replaces, err := c.clearPrior(ctx, result.FileHash, opts.Force, warn)
	if err != nil {
		return fail(err)
	}

	grids, detection, err := c.detect(opts.Data)
	if err != nil {
		return fail(err)
	}
	result.TotalSheets = len(grids)
	result.Detection = &detection
	result.Format = detection.Format

	send("info", fmt.Sprintf("发现 %d 个 Sheet，整簿识别为 %s（置信度: %d）", len(grids), detection.Format, detection.Confidence),
		map[string]interface{}{
			"total_sheets": len(grids),
			"format":       detection.Format,
			"confidence":   detection.Confidence,
			"reason":       detection.Reason,
		})

	if detection.Format == model.FormatUnknown {
		return fail(fmt.Errorf("%w: %s", ErrUnknownFormat, detection.Reason))
	}

	batch := &model.ImportBatch{
		BatchID:      uuid.NewString(),
		ProviderCode: opts.ProviderCode,
		ContractType: opts.ContractType,
		FileName:     opts.FileName,
		FileHash:     result.FileHash,
		Format:       detection.Format,
		Replaces:     replaces,
	}
	if err := c.store.ClaimBatch(ctx, batch); err != nil {
		if errors.Is(err, store.ErrDuplicateHash) {
			return fail(fmt.Errorf("%w: another import of this file is in progress", ErrDuplicateImport))
		}
		return fail(fmt.Errorf("failed to claim batch: %w", err))
	}
	result.BatchID = batch.BatchID

	out := c.extract(grids, detection, c.extractOptions(opts), send)
	result.Warnings = append(result.Warnings, out.warnings...)
	result.ProcessedSheets = out.processed
	result.SuccessRates = len(out.rates)
	result.ErrorRates = out.stats.Errors()
	result.TotalRates = result.SuccessRates + result.ErrorRates

	if len(out.rates) == 0 {
		c.failBatch(ctx, batch.BatchID, ErrNoRates)
		return fail(ErrNoRates)
	}
	if err := ctx.Err(); err != nil {
		c.failBatch(ctx, batch.BatchID, err)
		return fail(err)
	}

	batch.ContractType = batchContractType(opts.ContractType, out.rates)
	batch.TotalRows = result.TotalRates
	batch.SuccessRows = result.SuccessRates
	batch.ErrorRows = result.ErrorRates
	if err := c.store.CompleteBatch(ctx, batch, out.rates, out.metas); err != nil {
		if errors.Is(err, store.ErrDuplicateHash) {
			err = fmt.Errorf("%w: another import of this file completed first", ErrDuplicateImport)
		} else {
			err = fmt.Errorf("failed to persist rates: %w", err)
		}
		c.failBatch(ctx, batch.BatchID, err)
		return fail(err)
	}
	if replaces != "" {
		warn(fmt.Sprintf("replaced batch %s", replaces))
	}

	result.Success = true
	result.Rates = out.rates

	log.Info().
		Str("provider", opts.ProviderCode).
		Str("batch_id", batch.BatchID).
		Str("file_hash", result.FileHash).
		Str("format", string(detection.Format)).
		Int("rates", result.SuccessRates).
		Int("error_rates", result.ErrorRates).
		Int("warnings", len(result.Warnings)).
		Dur("duration", time.Since(startTime)).
		Msg("ratebook imported")

	return result, nil
}

// Analyze 预览：识别 + 抽取，不写库
func (c *Coordinator) Analyze(ctx context.Context, opts ImportOptions) (*model.AnalysisResult, error) {
	if len(opts.Data) == 0 {
		return nil, ErrEmptyFile
	}
	contractType, err := normalizeContractType(opts.ContractType)
	if err != nil {
		return nil, err
	}
	opts.ContractType = contractType

	res := &model.AnalysisResult{
		FileName: opts.FileName,
		FileHash: Fingerprint(opts.Data),
		Rates:    []model.ParsedRate{},
		Errors:   []string{},
		Warnings: []string{},
	}

	if c.store != nil {
		prior, err := c.store.FindBatchByHash(ctx, res.FileHash)
		switch {
		case err == nil && prior.Status != model.BatchFailed:
			res.DuplicateOf = prior.BatchID
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("failed to check file fingerprint: %w", err)
		}
	}

	grids, detection, err := c.detect(opts.Data)
	if err != nil {
		return nil, err
	}
	res.Detection = detection
	if detection.Format == model.FormatUnknown {
		res.Errors = append(res.Errors, fmt.Errorf("%w: %s", ErrUnknownFormat, detection.Reason).Error())
		return res, nil
	}

	out := c.extract(grids, detection, c.extractOptions(opts), nil)
	res.Warnings = append(res.Warnings, out.warnings...)
	res.TotalRates = len(out.rates)
	res.ErrorRates = out.stats.Errors()
	if len(out.rates) == 0 {
		res.Errors = append(res.Errors, ErrNoRates.Error())
	}
	res.Rates = out.rates[:min(len(out.rates), c.settings.PreviewLimit)]
	return res, nil
}

// clearPrior 处理同指纹的历史批次：失败/卡死的直接清理；已完成的只有 force 时才替换，
// 返回待替换的批次号，由 CompleteBatch 在提交事务内删除
func (c *Coordinator) clearPrior(ctx context.Context, fileHash string, force bool, warn func(string)) (string, error) {
	for {
		prior, err := c.store.FindBatchByHash(ctx, fileHash)
		if errors.Is(err, store.ErrNotFound) {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to check file fingerprint: %w", err)
		}

		var reason string
		switch prior.Status {
		case model.BatchFailed:
			reason = "previous failed import"
		case model.BatchPending, model.BatchProcessing:
			if c.now().Sub(prior.CreatedAt) <= c.settings.StaleAfter {
				return "", fmt.Errorf("%w: batch %s is still %s", ErrDuplicateImport, prior.BatchID, prior.Status)
			}
			reason = "stale import stuck in " + string(prior.Status)
		default:
			if !force {
				return "", fmt.Errorf("%w: batch %s", ErrDuplicateImport, prior.BatchID)
			}
			return prior.BatchID, nil
		}

		// 每轮删除一行，循环必然结束
		if err := c.store.DeleteBatch(ctx, prior.BatchID); err != nil {
			return "", fmt.Errorf("failed to remove batch %s: %w", prior.BatchID, err)
		}
		warn(fmt.Sprintf("removed %s %s", reason, prior.BatchID))
	}
}

// failBatch 标记批次失败；不受调用方 ctx 取消影响
func (c *Coordinator) failBatch(ctx context.Context, batchID string, cause error) {
	if err := c.store.FailBatch(context.WithoutCancel(ctx), batchID, cause.Error()); err != nil {
		log.Error().Err(err).Str("batch_id", batchID).Msg("failed to mark batch failed")
	}
}

// detect 读取工作簿并识别
func (c *Coordinator) detect(data []byte) ([]model.RawSheetGrid, model.DetectionResult, error) {
	grids, err := parser.LoadWorkbook(data)
	if err != nil {
		return nil, model.DetectionResult{}, fmt.Errorf("%w: %v", ErrUnreadableWorkbook, err)
	}
	if len(grids) == 0 {
		return nil, model.DetectionResult{}, ErrNoSheets
	}
	return grids, c.classifier.ClassifyWorkbook(grids), nil
}

func (c *Coordinator) extractOptions(opts ImportOptions) parser.ExtractOptions {
	return parser.ExtractOptions{
		ContractType:        opts.ContractType,
		DefaultContractType: c.settings.DefaultContractType,
	}
}

// extraction 抽取阶段汇总
type extraction struct {
	rates     []model.ParsedRate
	stats     parser.ExtractStats
	metas     []model.SheetMeta
	warnings  []string
	processed int
}

// extract 只抽取与整簿结论一致的 sheet，其余跳过并告警
func (c *Coordinator) extract(grids []model.RawSheetGrid, detection model.DetectionResult, opts parser.ExtractOptions, send func(string, string, any)) extraction {
	out := extraction{rates: []model.ParsedRate{}}
	notify := func(typ, msg string, data any) {
		if send != nil {
			send(typ, msg, data)
		}
	}
	skip := func(meta model.SheetMeta, msg string) {
		meta.Status = "skipped"
		meta.Message = msg
		out.metas = append(out.metas, meta)
		out.warnings = append(out.warnings, msg)
		notify("warning", msg, map[string]string{"sheet_name": meta.SheetName})
	}

	for i, grid := range grids {
		analysis := detection.Sheets[i]
		meta := model.SheetMeta{
			SheetName:    grid.Name,
			Format:       analysis.Format(),
			Confidence:   analysis.Confidence,
			TotalRows:    grid.RowCount(),
			TotalColumns: gridWidth(grid),
			LayoutJSON:   store.BuildLayoutJSON(analysis),
		}

		log.Debug().
			Str("sheet", grid.Name).
			Str("format", string(analysis.Format())).
			Int("confidence", analysis.Confidence).
			Str("reason", analysis.Reason).
			Msg("sheet classified")

		switch analysis.Format() {
		case detection.Format:
		case model.FormatUnknown:
			skip(meta, fmt.Sprintf("sheet %q skipped: layout not recognised (%s)", grid.Name, analysis.Reason))
			continue
		default:
			skip(meta, fmt.Sprintf("sheet %q skipped: classified as %s but workbook is %s", grid.Name, analysis.Format(), detection.Format))
			continue
		}

		rates, stats, err := c.extractor.Extract(grid, analysis, opts)
		if err != nil {
			skip(meta, fmt.Sprintf("sheet %q skipped: %v", grid.Name, err))
			continue
		}
		out.processed++
		out.stats = out.stats.Add(stats)
		meta.ImportedRows = len(rates)
		if len(rates) == 0 {
			msg := fmt.Sprintf("sheet %q yielded no rates", grid.Name)
			meta.Status = "empty"
			meta.Message = msg
			out.warnings = append(out.warnings, msg)
			notify("warning", msg, map[string]string{"sheet_name": grid.Name})
		} else {
			meta.Status = "imported"
		}
		out.metas = append(out.metas, meta)
		out.rates = append(out.rates, rates...)

		notify("sheet_done", fmt.Sprintf("Sheet \"%s\" 解析完成: %d 条报价", grid.Name, len(rates)),
			map[string]interface{}{
				"sheet_name":    grid.Name,
				"format":        analysis.Format(),
				"imported_rows": len(rates),
				"error_rows":    stats.Errors(),
			})
	}
	return out
}

// sendProgress 发送进度事件
func (c *Coordinator) sendProgress(ch chan ProgressEvent, event ProgressEvent) {
	select {
	case ch <- event:
	default:
		// 通道已满，丢弃事件
	}
}

func normalizeContractType(ct model.ContractType) (model.ContractType, error) {
	if ct == "" {
		return "", nil
	}
	parsed, ok := model.ParseContractType(string(ct))
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrInvalidContractType, ct)
	}
	return parsed, nil
}

// batchContractType 批次合同类型：调用方声明优先，否则取报价中出现最多的（同数取先出现的）
func batchContractType(override model.ContractType, rates []model.ParsedRate) model.ContractType {
	if override != "" {
		return override
	}
	counts := map[model.ContractType]int{}
	var order []model.ContractType
	for _, r := range rates {
		if counts[r.ContractType] == 0 {
			order = append(order, r.ContractType)
		}
		counts[r.ContractType]++
	}
	var best model.ContractType
	for _, ct := range order {
		if counts[ct] > counts[best] {
			best = ct
		}
	}
	return best
}

func gridWidth(grid model.RawSheetGrid) int {
	width := 0
	for row := 0; row < grid.RowCount(); row++ {
		width = max(width, grid.RowWidth(row))
	}
	return width
}
