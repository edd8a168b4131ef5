package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"ratebook/internal/model"
)

func TestLoadFrom_MissingFileUsesDefaults(t *testing.T) {
	cfg, info, err := LoadFrom(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if info.PortSpecified {
		t.Fatalf("port should not be marked as specified")
	}
	if cfg.Data.Driver != "sqlite" || cfg.Import.PreviewLimit != 20 || cfg.Import.StaleAfter.Duration != 30*time.Minute {
		t.Fatalf("defaults got=%+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadFrom_TomlAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[server]
port = 9000

[data]
driver = "postgres"

[import]
preview_limit = 5
stale_after = "45m"
default_contract_type = "pch"
min_otr = 2500.5

[parser]
min_header_fields = 4
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("RATEBOOK_DATABASE_URL=postgres://dotenv/ratebook\n"), 0644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("RATEBOOK_DATABASE_URL", "")
	os.Unsetenv("RATEBOOK_DATABASE_URL")
	t.Setenv("RATEBOOK_VOCABULARY_PATH", "/etc/ratebook/vocab.yaml")

	cfg, info, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if !info.PortSpecified || cfg.Server.Port != 9000 {
		t.Fatalf("port got=%d specified=%v", cfg.Server.Port, info.PortSpecified)
	}
	if cfg.Data.DatabaseURL != "postgres://dotenv/ratebook" {
		t.Fatalf("database url got=%q", cfg.Data.DatabaseURL)
	}
	if cfg.Parser.VocabularyPath != "/etc/ratebook/vocab.yaml" {
		t.Fatalf("vocabulary path got=%q", cfg.Parser.VocabularyPath)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	ps := cfg.ParserSettings()
	if ps.MinHeaderFields != 4 || ps.MinOTR != 250050 || ps.HeaderScanRows != 5 {
		t.Fatalf("parser settings got=%+v", ps)
	}
	is := cfg.ImportSettings()
	if is.PreviewLimit != 5 || is.StaleAfter != 45*time.Minute || is.DefaultContractType != model.PersonalContractHire {
		t.Fatalf("import settings got=%+v", is)
	}
}

func TestLoadFrom_InvalidDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[import]\nstale_after = \"soon\"\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, err := LoadFrom(path); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Data.Driver = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("postgres without url should fail")
	}
	cfg = DefaultConfig()
	cfg.Data.Driver = "mysql"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("unknown driver should fail")
	}
	cfg = DefaultConfig()
	cfg.Import.DefaultContractType = "HP"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("unknown contract type should fail")
	}
}
