package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/shopspring/decimal"

	"ratebook/internal/importer"
	"ratebook/internal/model"
	"ratebook/internal/parser"
)

// AppConfig 应用配置
type AppConfig struct {
	Server ServerConfig `toml:"server"`
	Data   DataConfig   `toml:"data"`
	Import ImportConfig `toml:"import"`
	Parser ParserConfig `toml:"parser"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port        int  `toml:"port"`
	DevMode     bool `toml:"dev_mode"`
	MaxUploadMB int  `toml:"max_upload_mb"`
}

// DataConfig 数据配置
type DataConfig struct {
	Driver      string `toml:"driver"` // sqlite | postgres
	DataDir     string `toml:"data_dir"`
	SQLiteFile  string `toml:"sqlite_file"`
	DatabaseURL string `toml:"database_url"`
}

// ImportConfig 导入配置
type ImportConfig struct {
	PreviewLimit        int      `toml:"preview_limit"`
	StaleAfter          Duration `toml:"stale_after"`
	DefaultContractType string   `toml:"default_contract_type"`
	MinOTR              float64  `toml:"min_otr"` // 以元计
}

// ParserConfig 识别参数
type ParserConfig struct {
	HeaderScanRows         int    `toml:"header_scan_rows"`
	MinHeaderFields        int    `toml:"min_header_fields"`
	MatrixScanRows         int    `toml:"matrix_scan_rows"`
	MinAxisTokens          int    `toml:"min_axis_tokens"`
	MinHeaderMileageTokens int    `toml:"min_header_mileage_tokens"`
	VocabularyPath         string `toml:"vocabulary_path"`
}

// Duration 支持 "30m" 形式的时长
type Duration struct {
	time.Duration
}

// UnmarshalText 解析时长文本
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	d.Duration = v
	return nil
}

// MarshalText 输出时长文本
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// LoadConfigInfo 配置加载元信息
type LoadConfigInfo struct {
	Path          string
	PortSpecified bool
}

// DefaultConfig 默认配置
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:        20262,
			DevMode:     false,
			MaxUploadMB: 32,
		},
		Data: DataConfig{
			Driver:     "sqlite",
			DataDir:    "data",
			SQLiteFile: "ratebook.db",
		},
		Import: ImportConfig{
			PreviewLimit:        20,
			StaleAfter:          Duration{30 * time.Minute},
			DefaultContractType: string(model.ContractHire),
			MinOTR:              1000.00,
		},
		Parser: ParserConfig{
			HeaderScanRows:         5,
			MinHeaderFields:        3,
			MatrixScanRows:         20,
			MinAxisTokens:          3,
			MinHeaderMileageTokens: 2,
		},
	}
}

func isPortSpecifiedInToml(data []byte) bool {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return false
	}

	serverAny, ok := raw["server"]
	if !ok {
		return false
	}

	serverMap, ok := serverAny.(map[string]any)
	if !ok {
		return false
	}

	_, ok = serverMap["port"]
	return ok
}

// GetExeDir 获取可执行文件所在目录
func GetExeDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}

// LoadConfigWithInfo 从可执行文件同目录的 config.toml 加载配置并返回元信息
func LoadConfigWithInfo() (*AppConfig, LoadConfigInfo, error) {
	exeDir, err := GetExeDir()
	if err != nil {
		// 无法获取可执行文件目录，使用当前目录
		exeDir = "."
	}
	return LoadFrom(filepath.Join(exeDir, "config.toml"))
}

// LoadFrom 从指定路径加载配置；文件不存在时使用默认配置。
// 同目录的 .env 与环境变量在文件之后生效。
func LoadFrom(configPath string) (*AppConfig, LoadConfigInfo, error) {
	info := LoadConfigInfo{Path: configPath}
	config := DefaultConfig()

	// .env 不覆盖已存在的环境变量
	_ = godotenv.Load(filepath.Join(filepath.Dir(configPath), ".env"))

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		info.PortSpecified = isPortSpecifiedInToml(data)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, info, fmt.Errorf("failed to parse %s: %w", configPath, err)
		}
	case os.IsNotExist(err):
		// 配置文件不存在，使用默认配置
	default:
		return nil, info, err
	}

	if err := applyEnv(config, &info); err != nil {
		return nil, info, err
	}
	return config, info, nil
}

// applyEnv 环境变量覆盖
func applyEnv(config *AppConfig, info *LoadConfigInfo) error {
	if v := os.Getenv("RATEBOOK_DATA_DRIVER"); v != "" {
		config.Data.Driver = v
	}
	if v := os.Getenv("RATEBOOK_DATABASE_URL"); v != "" {
		config.Data.DatabaseURL = v
	}
	if v := os.Getenv("RATEBOOK_VOCABULARY_PATH"); v != "" {
		config.Parser.VocabularyPath = v
	}
	if v := os.Getenv("RATEBOOK_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RATEBOOK_PORT %q: %w", v, err)
		}
		config.Server.Port = port
		info.PortSpecified = true
	}
	return nil
}

// LoadConfig 从 config.toml 加载配置
// 配置文件位于可执行文件同目录下
func LoadConfig() (*AppConfig, error) {
	config, _, err := LoadConfigWithInfo()
	return config, err
}

// SaveConfig 保存配置到指定路径
func SaveConfig(config *AppConfig, configPath string) error {
	data, err := toml.Marshal(config)
	if err != nil {
		return err
	}
	return os.WriteFile(configPath, data, 0644)
}

// Validate 校验配置
func (c *AppConfig) Validate() error {
	switch c.Data.Driver {
	case "sqlite":
	case "postgres":
		if c.Data.DatabaseURL == "" {
			return fmt.Errorf("data.database_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported data.driver %q", c.Data.Driver)
	}
	if _, ok := model.ParseContractType(c.Import.DefaultContractType); !ok {
		return fmt.Errorf("unknown import.default_contract_type %q", c.Import.DefaultContractType)
	}
	return nil
}

// ParserSettings 转换为识别参数
func (c *AppConfig) ParserSettings() parser.Config {
	cfg := parser.DefaultConfig()
	cfg.HeaderScanRows = c.Parser.HeaderScanRows
	cfg.MinHeaderFields = c.Parser.MinHeaderFields
	cfg.MatrixScanRows = c.Parser.MatrixScanRows
	cfg.MinAxisTokens = c.Parser.MinAxisTokens
	cfg.MinHeaderMileageTokens = c.Parser.MinHeaderMileageTokens
	if c.Import.MinOTR > 0 {
		cfg.MinOTR = decimal.NewFromFloat(c.Import.MinOTR).Shift(2).Round(0).IntPart()
	}
	return cfg
}

// ImportSettings 转换为导入参数
func (c *AppConfig) ImportSettings() importer.Settings {
	ct, _ := model.ParseContractType(c.Import.DefaultContractType)
	return importer.Settings{
		PreviewLimit:        c.Import.PreviewLimit,
		StaleAfter:          c.Import.StaleAfter.Duration,
		DefaultContractType: ct,
	}
}

// EnsureDataDir 确保数据目录存在
// 相对路径以可执行文件所在目录为基准
func EnsureDataDir(config *AppConfig) (string, error) {
	dataDir := config.Data.DataDir
	if !filepath.IsAbs(dataDir) {
		exeDir, err := GetExeDir()
		if err != nil {
			exeDir = "."
		}
		dataDir = filepath.Join(exeDir, dataDir)
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", err
	}
	return dataDir, nil
}

// SQLitePath sqlite 数据库文件路径
func SQLitePath(config *AppConfig, dataDir string) string {
	if filepath.IsAbs(config.Data.SQLiteFile) {
		return config.Data.SQLiteFile
	}
	return filepath.Join(dataDir, config.Data.SQLiteFile)
}
