package vocab

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"

	"ratebook/internal/model"
)

//go:embed default.yaml
var defaultYAML []byte

// Vocabulary 识别词表（加载后只读，可并发使用）
type Vocabulary struct {
	fields        []fieldSynonyms
	manufacturers []prefixEntry
	contractTypes []contractToken
	maintained    map[model.ContractType]bool
	nonMaintTok   []string
	maintTok      []string

	profileRe      *regexp.Regexp
	mileageKRe     *regexp.Regexp
	mileagePlainRe *regexp.Regexp
	capCodeRe      *regexp.Regexp
	capIDRe        *regexp.Regexp
}

type fieldSynonyms struct {
	field    model.TargetField
	synonyms []string
}

type prefixEntry struct {
	name   string
	prefix string
}

type contractToken struct {
	code  model.ContractType
	token string
	exact bool
}

type fileFormat struct {
	HeaderFields []struct {
		Field    string   `yaml:"field"`
		Synonyms []string `yaml:"synonyms"`
	} `yaml:"header_fields"`
	Manufacturers []struct {
		Name     string   `yaml:"name"`
		Prefixes []string `yaml:"prefixes"`
	} `yaml:"manufacturers"`
	ContractTypes []struct {
		Code        string   `yaml:"code"`
		Maintained  bool     `yaml:"maintained"`
		Tokens      []string `yaml:"tokens"`
		ExactTokens []string `yaml:"exact_tokens"`
	} `yaml:"contract_types"`
	Maintenance struct {
		NonMaintained []string `yaml:"non_maintained"`
		Maintained    []string `yaml:"maintained"`
	} `yaml:"maintenance"`
	Patterns struct {
		PaymentProfile string `yaml:"payment_profile"`
		MileageK       string `yaml:"mileage_k"`
		MileagePlain   string `yaml:"mileage_plain"`
		CapCode        string `yaml:"cap_code"`
		CapID          string `yaml:"cap_id"`
	} `yaml:"patterns"`
}

var knownFields = map[model.TargetField]bool{
	model.FieldCapCode: true, model.FieldCapID: true, model.FieldManufacturer: true,
	model.FieldModel: true, model.FieldVariant: true, model.FieldTerm: true,
	model.FieldAnnualMileage: true, model.FieldExcessMileage: true, model.FieldInitialMonths: true,
	model.FieldPaymentProfile: true, model.FieldMonthlyRental: true, model.FieldIsMaintained: true,
	model.FieldContractType: true, model.FieldOTR: true, model.FieldP11D: true,
	model.FieldCO2: true, model.FieldFuelType: true, model.FieldTransmission: true,
	model.FieldQuoteNumber: true,
}

var knownContractTypes = map[model.ContractType]bool{
	model.ContractHire: true, model.ContractHireNoMaint: true,
	model.PersonalContractHire: true, model.PersonalContractHireNoMaint: true,
	model.SalarySacrifice: true,
}

var (
	defaultOnce sync.Once
	defaultVoc  *Vocabulary
)

// Default 内置词表
func Default() *Vocabulary {
	defaultOnce.Do(func() {
		v, err := Parse(defaultYAML)
		if err != nil {
			panic(fmt.Sprintf("invalid embedded vocabulary: %v", err))
		}
		defaultVoc = v
	})
	return defaultVoc
}

// Load 从文件加载词表；path 为空时返回内置词表
func Load(path string) (*Vocabulary, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vocabulary: %w", err)
	}
	return Parse(data)
}

// Parse 解析 YAML 词表
func Parse(data []byte) (*Vocabulary, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse vocabulary: %w", err)
	}
	if len(f.HeaderFields) == 0 {
		return nil, fmt.Errorf("vocabulary has no header_fields")
	}

	v := &Vocabulary{maintained: make(map[model.ContractType]bool)}

	for _, hf := range f.HeaderFields {
		field := model.TargetField(hf.Field)
		if !knownFields[field] {
			return nil, fmt.Errorf("unknown field %q in vocabulary", hf.Field)
		}
		syns := make([]string, 0, len(hf.Synonyms))
		for _, s := range hf.Synonyms {
			if n := NormalizeHeader(s); n != "" {
				syns = append(syns, n)
			}
		}
		v.fields = append(v.fields, fieldSynonyms{field: field, synonyms: syns})
	}

	for _, m := range f.Manufacturers {
		for _, p := range m.Prefixes {
			if n := Normalize(p); n != "" {
				v.manufacturers = append(v.manufacturers, prefixEntry{name: m.Name, prefix: n})
			}
		}
	}
	// 最长前缀优先
	sort.SliceStable(v.manufacturers, func(i, j int) bool {
		return len(v.manufacturers[i].prefix) > len(v.manufacturers[j].prefix)
	})

	for _, ct := range f.ContractTypes {
		code := model.ContractType(strings.ToUpper(strings.TrimSpace(ct.Code)))
		if !knownContractTypes[code] {
			return nil, fmt.Errorf("unknown contract type %q in vocabulary", ct.Code)
		}
		v.maintained[code] = ct.Maintained
		for _, t := range ct.Tokens {
			if n := Normalize(t); n != "" {
				v.contractTypes = append(v.contractTypes, contractToken{code: code, token: n})
			}
		}
		for _, t := range ct.ExactTokens {
			if n := Normalize(t); n != "" {
				v.contractTypes = append(v.contractTypes, contractToken{code: code, token: n, exact: true})
			}
		}
	}
	sort.SliceStable(v.contractTypes, func(i, j int) bool {
		return len(v.contractTypes[i].token) > len(v.contractTypes[j].token)
	})

	for _, t := range f.Maintenance.NonMaintained {
		v.nonMaintTok = append(v.nonMaintTok, Normalize(t))
	}
	for _, t := range f.Maintenance.Maintained {
		v.maintTok = append(v.maintTok, Normalize(t))
	}

	var err error
	compile := func(name, expr string) *regexp.Regexp {
		if err != nil {
			return nil
		}
		if expr == "" {
			err = fmt.Errorf("vocabulary pattern %s is empty", name)
			return nil
		}
		re, cerr := regexp.Compile(expr)
		if cerr != nil {
			err = fmt.Errorf("failed to compile pattern %s: %w", name, cerr)
		}
		return re
	}
	v.profileRe = compile("payment_profile", f.Patterns.PaymentProfile)
	v.mileageKRe = compile("mileage_k", f.Patterns.MileageK)
	v.mileagePlainRe = compile("mileage_plain", f.Patterns.MileagePlain)
	v.capCodeRe = compile("cap_code", f.Patterns.CapCode)
	v.capIDRe = compile("cap_id", f.Patterns.CapID)
	if err != nil {
		return nil, err
	}
	return v, nil
}

var spaceRe = regexp.MustCompile(`\s+`)

// Normalize 归一化文本：小写、下划线/斜杠视为空格、合并空白
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("_", " ", "/", " ", "\n", " ", "\t", " ").Replace(s)
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

var headerPunct = strings.NewReplacer("-", " ", "(", " ", ")", " ", ":", " ", "£", " ", "*", " ", ".", " ", ",", " ", "#", " ")

// NormalizeHeader 表头归一化：在 Normalize 基础上去掉标点
func NormalizeHeader(s string) string {
	return Normalize(headerPunct.Replace(s))
}

// MatchHeader 将表头文本匹配到字段
//
// 规则：完全相等 100；表头包含同义词 70~95（同义词占比越高分越高）；
// 同义词包含表头 40~69（表头至少 3 个字符）。取最高分，同分按字段顺序。
func (v *Vocabulary) MatchHeader(header string) (model.TargetField, int, bool) {
	h := NormalizeHeader(header)
	if h == "" {
		return "", 0, false
	}
	var (
		best      model.TargetField
		bestScore int
	)
	for _, fs := range v.fields {
		for _, syn := range fs.synonyms {
			score := headerScore(h, syn)
			if score > bestScore {
				best, bestScore = fs.field, score
			}
		}
	}
	if bestScore == 0 {
		return "", 0, false
	}
	return best, bestScore, true
}

func headerScore(header, syn string) int {
	switch {
	case header == syn:
		return 100
	case containsWord(header, syn):
		return 70 + 25*len(syn)/len(header)
	case len(header) >= 3 && strings.Contains(syn, header):
		return 40 + 29*len(header)/len(syn)
	}
	return 0
}

// containsWord 按词边界判断包含关系
func containsWord(text, token string) bool {
	return strings.Contains(" "+text+" ", " "+token+" ")
}

// MatchManufacturerPrefix 匹配 sheet 名开头的厂商前缀，返回规范厂商名与剩余文本
func (v *Vocabulary) MatchManufacturerPrefix(text string) (string, string, bool) {
	trimmed := strings.TrimSpace(text)
	norm := strings.ToLower(trimmed)
	for _, m := range v.manufacturers {
		if !strings.HasPrefix(norm, m.prefix) {
			continue
		}
		rest := trimmed[len(m.prefix):]
		if rest != "" && !isBoundary(rest[0]) {
			continue
		}
		return m.name, strings.Trim(rest, " -_"), true
	}
	return "", "", false
}

// CanonicalManufacturer 规范化厂商名；未知厂商原样返回
func (v *Vocabulary) CanonicalManufacturer(name string) string {
	n := Normalize(name)
	for _, m := range v.manufacturers {
		if n == m.prefix {
			return m.name
		}
	}
	return strings.TrimSpace(name)
}

func isBoundary(b byte) bool {
	return b == ' ' || b == '-' || b == '_' || b == '(' || b == '/'
}

// MatchContractType 在文本中查找合同类型标记（按词边界，最长标记优先）。
// 两个字符以内的标记和 exact_tokens 须与整段文本完全相等，
// 避免 "Titanium Business Edition" 这类车型名被当成分区标记。
func (v *Vocabulary) MatchContractType(text string) (model.ContractType, bool) {
	n := Normalize(strings.ReplaceAll(text, "-", " "))
	if n == "" {
		return "", false
	}
	for _, ct := range v.contractTypes {
		if ct.exact || len(ct.token) <= 2 {
			if n == ct.token {
				return ct.code, true
			}
			continue
		}
		if containsWord(n, ct.token) {
			return ct.code, true
		}
	}
	return "", false
}

// IsMaintainedByDefault 合同类型默认是否含保养
func (v *Vocabulary) IsMaintainedByDefault(ct model.ContractType) bool {
	return v.maintained[ct]
}

// ClassifyMaintenance 判断保养子表头：maintained=true 表示含保养列
func (v *Vocabulary) ClassifyMaintenance(text string) (maintained bool, ok bool) {
	n := Normalize(strings.ReplaceAll(text, "-", " "))
	if n == "" {
		return false, false
	}
	if matchAnyToken(n, v.nonMaintTok) {
		return false, true
	}
	if matchAnyToken(n, v.maintTok) {
		return true, true
	}
	return false, false
}

func matchAnyToken(text string, tokens []string) bool {
	for _, t := range tokens {
		if t == "" {
			continue
		}
		if len(t) <= 2 {
			if containsWord(text, t) {
				return true
			}
			continue
		}
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}

// ParsePaymentProfile 解析付款方式（如 "3+35"），返回首付月数与后续期数
func (v *Vocabulary) ParsePaymentProfile(text string) (initial, payments int, ok bool) {
	m := v.profileRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return 0, 0, false
	}
	initial, _ = strconv.Atoi(m[1])
	payments, _ = strconv.Atoi(m[2])
	if initial <= 0 || payments <= 0 {
		return 0, 0, false
	}
	return initial, payments, true
}

// ParseMileage 解析年里程标记（如 "10k"、"10,000"、"8000 miles"）
func (v *Vocabulary) ParseMileage(text string) (int, bool) {
	n := Normalize(text)
	if n == "" {
		return 0, false
	}
	if m := v.mileageKRe.FindStringSubmatch(n); m != nil {
		f, err := strconv.ParseFloat(m[1], 64)
		if err != nil || f <= 0 {
			return 0, false
		}
		return int(f*1000 + 0.5), true
	}
	if m := v.mileagePlainRe.FindStringSubmatch(n); m != nil {
		val, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
		if err != nil || val <= 0 {
			return 0, false
		}
		return val, true
	}
	return 0, false
}

// IsCapCode 是否符合 CAP code 形态（大写字母数字，且同时含字母与数字）
func (v *Vocabulary) IsCapCode(text string) bool {
	s := strings.TrimSpace(text)
	if !v.capCodeRe.MatchString(s) {
		return false
	}
	return strings.ContainsAny(s, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") && strings.ContainsAny(s, "0123456789")
}

// IsCapID 是否符合 CAP id 形态（5~6 位数字）
func (v *Vocabulary) IsCapID(text string) bool {
	return v.capIDRe.MatchString(strings.TrimSpace(text))
}
