package parser

import (
	"fmt"
	"sort"
	"strings"

	"ratebook/internal/model"
	"ratebook/internal/vocab"
)

// Classifier Sheet 版式识别器（无状态，可并发使用）
type Classifier struct {
	vocab    *vocab.Vocabulary
	cfg      Config
	resolver *VehicleResolver
}

// NewClassifier 创建识别器
func NewClassifier(v *vocab.Vocabulary, cfg Config) *Classifier {
	cfg = cfg.withDefaults()
	return &Classifier{
		vocab:    v,
		cfg:      cfg,
		resolver: NewVehicleResolver(v, cfg),
	}
}

// Classify 识别单个 sheet
//
// 先做表格识别（多字段表头更可靠），失败再做矩阵识别；
// 表头没有月租列时，如果矩阵识别成功则判为矩阵。
func (c *Classifier) Classify(grid model.RawSheetGrid) model.SheetAnalysis {
	analysis := model.SheetAnalysis{
		Name:       grid.Name,
		SampleRows: c.sampleRows(grid),
	}

	if grid.RowCount() < 3 {
		analysis.Reason = fmt.Sprintf("only %d rows, not enough to infer structure", grid.RowCount())
		analysis.VehicleInfo = c.resolver.Resolve(grid, -1)
		return analysis
	}

	tab, tabConf, tabOK := c.detectTabular(grid)
	if tabOK && hasField(tab.Columns, model.FieldMonthlyRental) {
		analysis.Layout = tab
		analysis.Confidence = tabConf
		analysis.Reason = fmt.Sprintf("header row %d matched %d fields", tab.HeaderRow+1, distinctFields(tab.Columns))
		analysis.VehicleInfo = c.resolver.Resolve(grid, tab.HeaderRow)
		return analysis
	}

	if info, conf, reason, ok := c.detectMatrix(grid); ok {
		analysis.Layout = model.MatrixLayout{Info: info}
		analysis.Confidence = conf
		analysis.Reason = reason
		analysis.VehicleInfo = c.resolver.Resolve(grid, info.HeaderRow)
		return analysis
	}

	if tabOK {
		analysis.Layout = tab
		analysis.Confidence = tabConf - 20
		analysis.Reason = fmt.Sprintf("header row %d matched %d fields but has no monthly rental column", tab.HeaderRow+1, distinctFields(tab.Columns))
		analysis.VehicleInfo = c.resolver.Resolve(grid, tab.HeaderRow)
		return analysis
	}

	analysis.Reason = "no header row or payment profile axis found"
	analysis.VehicleInfo = c.resolver.Resolve(grid, -1)
	return analysis
}

// ClassifyWorkbook 逐 sheet 识别并汇总
func (c *Classifier) ClassifyWorkbook(grids []model.RawSheetGrid) model.DetectionResult {
	analyses := make([]model.SheetAnalysis, 0, len(grids))
	for _, g := range grids {
		analyses = append(analyses, c.Classify(g))
	}
	return Summarize(analyses)
}

// detectTabular 在前几行中找命中字段最多的表头行（同分取靠上的行）
func (c *Classifier) detectTabular(grid model.RawSheetGrid) (model.TabularLayout, int, bool) {
	limit := min(c.cfg.HeaderScanRows, grid.RowCount())
	bestRow, bestCount := -1, 0
	var bestCols []model.ColumnMapping
	for row := 0; row < limit; row++ {
		cols := MapHeaderRow(c.vocab, grid, row)
		n := distinctFields(cols)
		if n >= c.cfg.MinHeaderFields && n > bestCount {
			bestRow, bestCount, bestCols = row, n, cols
		}
	}
	if bestRow < 0 {
		return model.TabularLayout{}, 0, false
	}
	conf := min(95, 40+bestCount*10)
	return model.TabularLayout{HeaderRow: bestRow, Columns: bestCols}, conf, true
}

// axisCandidate 某一列上的轴标记
type axisCandidate struct {
	col  int
	rows []int
}

// detectMatrix 识别矩阵：优先 付款方式(行) × 里程(列)，其次镜像方向
func (c *Classifier) detectMatrix(grid model.RawSheetGrid) (model.MatrixInfo, int, string, bool) {
	if info, ok := c.tryOrientation(grid, model.AxisPaymentProfile); ok {
		return c.finishMatrix(grid, info)
	}
	if info, ok := c.tryOrientation(grid, model.AxisMileage); ok {
		return c.finishMatrix(grid, info)
	}
	return model.MatrixInfo{}, 0, "", false
}

func (c *Classifier) isAxisToken(kind model.AxisKind, text string) bool {
	switch kind {
	case model.AxisPaymentProfile:
		_, _, ok := c.vocab.ParsePaymentProfile(text)
		return ok
	case model.AxisMileage:
		_, ok := c.vocab.ParseMileage(text)
		return ok
	}
	return false
}

func otherAxis(kind model.AxisKind) model.AxisKind {
	if kind == model.AxisPaymentProfile {
		return model.AxisMileage
	}
	return model.AxisPaymentProfile
}

// findLabelColumn 前几列中最靠左、且前若干行含足够轴标记的列
func (c *Classifier) findLabelColumn(grid model.RawSheetGrid, kind model.AxisKind) (axisCandidate, bool) {
	scan := min(c.cfg.MatrixScanRows, grid.RowCount())
	for col := 0; col < c.cfg.LabelScanCols; col++ {
		var rows []int
		for row := 0; row < scan; row++ {
			if c.isAxisToken(kind, grid.Cell(row, col)) {
				rows = append(rows, row)
			}
		}
		if len(rows) >= c.cfg.MinAxisTokens {
			return axisCandidate{col: col, rows: rows}, true
		}
	}
	return axisCandidate{}, false
}

func (c *Classifier) tryOrientation(grid model.RawSheetGrid, rowAxis model.AxisKind) (model.MatrixInfo, bool) {
	cand, ok := c.findLabelColumn(grid, rowAxis)
	if !ok {
		return model.MatrixInfo{}, false
	}
	colAxis := otherAxis(rowAxis)
	need := c.cfg.MinAxisTokens
	if colAxis == model.AxisMileage {
		need = c.cfg.MinHeaderMileageTokens
	}

	first := cand.rows[0]
	for offset := 1; offset <= 2; offset++ {
		headerRow := first - offset
		if headerRow < 0 {
			break
		}
		var columns []model.MatrixColumn
		for col := cand.col + 1; col < grid.RowWidth(headerRow); col++ {
			text := grid.Cell(headerRow, col)
			if c.isAxisToken(colAxis, text) {
				columns = append(columns, model.MatrixColumn{Index: col, Label: text})
			}
		}
		if len(columns) < need {
			continue
		}
		info := model.MatrixInfo{
			HeaderRow:    headerRow,
			LabelCol:     cand.col,
			DataStartRow: first,
			DataStartCol: cand.col + 1,
			RowAxis:      rowAxis,
			ColAxis:      colAxis,
			Columns:      columns,
		}
		for _, col := range columns {
			info.ColLabels = append(info.ColLabels, col.Label)
		}
		return info, true
	}
	return model.MatrixInfo{}, false
}

// finishMatrix 补全数据行、保养子列和合同类型分段
func (c *Classifier) finishMatrix(grid model.RawSheetGrid, info model.MatrixInfo) (model.MatrixInfo, int, string, bool) {
	for row := info.DataStartRow; row < grid.RowCount(); row++ {
		text := grid.Cell(row, info.LabelCol)
		if c.isAxisToken(info.RowAxis, text) {
			info.RowIndexes = append(info.RowIndexes, row)
			info.RowLabels = append(info.RowLabels, text)
		}
	}

	if sub := info.DataStartRow - 1; sub > info.HeaderRow {
		c.detectMaintenanceSplit(grid, sub, &info)
	}

	info.Sections = c.detectSections(grid, info)
	if ct, ok := c.vocab.MatchContractType(grid.Name); ok {
		info.SheetContractType = ct
	}

	conf := 70 + min(15, (len(info.RowIndexes)-c.cfg.MinAxisTokens)*5)
	if len(info.Columns) >= 3 {
		conf += 5
	}
	if info.HasMaintenanceSplit {
		conf += 5
	}
	reason := fmt.Sprintf("%d %s rows x %d %s columns", len(info.RowIndexes), info.RowAxis, len(info.Columns), info.ColAxis)
	if info.HasMaintenanceSplit {
		reason += " with maintenance split"
	}
	return info, min(conf, 95), reason, true
}

// detectMaintenanceSplit 数据起始行上方的子表头：每个子列归属左侧最近的轴列（合并单元格）
func (c *Classifier) detectMaintenanceSplit(grid model.RawSheetGrid, subRow int, info *model.MatrixInfo) {
	if len(info.Columns) == 0 {
		return
	}
	seen := make(map[string]bool)
	for col := info.DataStartCol; col < grid.RowWidth(subRow); col++ {
		text := grid.Cell(subRow, col)
		maintained, ok := c.vocab.ClassifyMaintenance(text)
		if !ok {
			continue
		}
		owner := -1
		for i, mc := range info.Columns {
			if mc.Index <= col {
				owner = i
			}
		}
		if owner < 0 {
			continue
		}
		idx := col
		target := &info.Columns[owner]
		if maintained && target.MaintainedCol == nil {
			target.MaintainedCol = &idx
		} else if !maintained && target.NonMaintainedCol == nil {
			target.NonMaintainedCol = &idx
		} else {
			continue
		}
		info.HasMaintenanceSplit = true
		if !seen[text] {
			seen[text] = true
			info.MaintenanceSubLabels = append(info.MaintenanceSubLabels, text)
		}
	}
}

// detectSections 全表扫描合同类型标记；每段持续到下一个标记或表尾
func (c *Classifier) detectSections(grid model.RawSheetGrid, info model.MatrixInfo) []model.MatrixSection {
	dataRows := make(map[int]bool, len(info.RowIndexes))
	for _, r := range info.RowIndexes {
		dataRows[r] = true
	}

	var sections []model.MatrixSection
	for row := 0; row < grid.RowCount(); row++ {
		if dataRows[row] {
			continue
		}
		for col := 0; col < grid.RowWidth(row); col++ {
			text := grid.Cell(row, col)
			if text == "" {
				continue
			}
			if _, ok := ParseDecimal(text); ok {
				continue
			}
			ct, ok := c.vocab.MatchContractType(text)
			if !ok {
				continue
			}
			if n := len(sections); n > 0 {
				sections[n-1].EndRow = row - 1
			}
			sections = append(sections, model.MatrixSection{ContractType: ct, Label: text, StartRow: row})
			break
		}
	}
	if n := len(sections); n > 0 {
		sections[n-1].EndRow = grid.RowCount() - 1
	}
	return sections
}

func (c *Classifier) sampleRows(grid model.RawSheetGrid) [][]string {
	n := min(c.cfg.SampleRows, grid.RowCount())
	out := make([][]string, 0, n)
	for row := 0; row < n; row++ {
		out = append(out, append([]string(nil), grid.Rows[row]...))
	}
	return out
}

// verdictTally 汇总计数
type verdictTally struct {
	tabular int
	matrix  int
	unknown []string
}

func (t verdictTally) add(a model.SheetAnalysis) verdictTally {
	switch a.Format() {
	case model.FormatTabular:
		t.tabular++
	case model.FormatMatrix:
		t.matrix++
	default:
		t.unknown = append(append([]string(nil), t.unknown...), a.Name)
	}
	return t
}

// Summarize 整簿结论：未识别的 sheet 不参与投票
//
// 全部一致 90；严格多数 70；平票 unknown 30；无任何可识别 sheet 为 unknown 0。
func Summarize(analyses []model.SheetAnalysis) model.DetectionResult {
	tally := verdictTally{}
	for _, a := range analyses {
		tally = tally.add(a)
	}

	result := model.DetectionResult{Sheets: analyses}
	classified := tally.tabular + tally.matrix
	switch {
	case classified == 0:
		result.Format = model.FormatUnknown
		result.Confidence = 0
	case tally.tabular == classified:
		result.Format, result.Confidence = model.FormatTabular, 90
	case tally.matrix == classified:
		result.Format, result.Confidence = model.FormatMatrix, 90
	case tally.tabular > tally.matrix:
		result.Format, result.Confidence = model.FormatTabular, 70
	case tally.matrix > tally.tabular:
		result.Format, result.Confidence = model.FormatMatrix, 70
	default:
		result.Format, result.Confidence = model.FormatUnknown, 30
	}

	reason := fmt.Sprintf("tabular=%d matrix=%d unknown=%d", tally.tabular, tally.matrix, len(tally.unknown))
	if len(tally.unknown) > 0 {
		names := append([]string(nil), tally.unknown...)
		sort.Strings(names)
		reason += " (" + strings.Join(names, ", ") + ")"
	}
	result.Reason = reason
	return result
}
