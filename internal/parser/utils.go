package parser

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// 指数窗口：Excel 原始值最多带 17 位有效数字的浮点尾数
const (
	minExponent = -30
	maxExponent = 12
)

var (
	hundred       = decimal.NewFromInt(100)
	maxMoney      = decimal.NewFromInt(math.MaxInt64 / 100)
	maxInt        = decimal.NewFromInt(math.MaxInt32)
	numberCleaner = strings.NewReplacer("£", "", "$", "", "€", "", ",", "", " ", "", "\u00a0", "")
)

// ParseDecimal 解析数值单元格（允许货币符号与千分位）
func ParseDecimal(text string) (decimal.Decimal, bool) {
	s := numberCleaner.Replace(strings.TrimSpace(text))
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	// 超出窗口的科学计数法在换算时会溢出或构造巨大的 10 的幂
	if exp := d.Exponent(); exp < minExponent || exp > maxExponent {
		return decimal.Zero, false
	}
	return d, true
}

// ParseMoney 金额转最小货币单位：×100 后四舍五入
func ParseMoney(text string) (int64, bool) {
	d, ok := ParseDecimal(text)
	if !ok || d.Abs().GreaterThan(maxMoney) {
		return 0, false
	}
	return d.Mul(hundred).Round(0).IntPart(), true
}

// ParseOptionalMoney 可空金额
func ParseOptionalMoney(text string) *int64 {
	v, ok := ParseMoney(text)
	if !ok || v <= 0 {
		return nil
	}
	return &v
}

// ParseInt 整数字段：四舍五入到整数
func ParseInt(text string) (int, bool) {
	d, ok := ParseDecimal(text)
	if !ok || d.Abs().GreaterThan(maxInt) {
		return 0, false
	}
	return int(d.Round(0).IntPart()), true
}

// ParseOptionalInt 可空整数
func ParseOptionalInt(text string) *int {
	v, ok := ParseInt(text)
	if !ok {
		return nil
	}
	return &v
}

// ParseExcessPence 超里程费率（便士/英里）；小于 1 的小数视为以英镑填写
func ParseExcessPence(text string) *int {
	d, ok := ParseDecimal(text)
	if !ok || !d.IsPositive() || d.GreaterThan(maxInt) {
		return nil
	}
	if d.LessThan(decimal.NewFromInt(1)) && !d.Equal(d.Truncate(0)) {
		d = d.Mul(hundred)
	}
	v := int(d.Round(0).IntPart())
	return &v
}

// ParseBool 解析是/否类单元格
func ParseBool(text string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "y", "yes", "true", "1", "maintained", "included", "inc", "incl", "with":
		return true, true
	case "n", "no", "false", "0", "non maintained", "non-maintained", "excluded", "excl", "without", "none":
		return false, true
	}
	return false, false
}

// firstNonEmpty 返回第一个非空字符串
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
