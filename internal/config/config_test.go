package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := testConfigPath(t, "valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 15*time.Second {
		t.Fatalf("UpstreamTimeout 解析错误: %s", cfg.Global.UpstreamTimeout.DurationValue())
	}
	if !filepath.IsAbs(cfg.Global.StoragePath) {
		t.Fatalf("StoragePath 应转换为绝对路径: %s", cfg.Global.StoragePath)
	}
	if cfg.Global.PrefetchConcurrency != 8 {
		t.Fatalf("PrefetchConcurrency 应当被解析")
	}
	if cfg.App.OriginURL() != "https://app.example.com" {
		t.Fatalf("OriginURL 应去掉末尾斜杠，得到 %s", cfg.App.OriginURL())
	}
	if cfg.App.ManifestPath != filepath.Join("testdata", "manifest.json") {
		t.Fatalf("ManifestPath 应相对配置目录解析，得到 %s", cfg.App.ManifestPath)
	}
}

func TestValidateRejectsMissingOrigin(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺少 Origin 的配置应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestStorageBackendValidation(t *testing.T) {
	testCases := []struct {
		name      string
		backend   string
		path      string
		shouldErr bool
	}{
		{"fs ok", BackendFS, "./data", false},
		{"sqlite ok", BackendSQLite, "./data", false},
		{"memory without path", BackendMemory, "", false},
		{"fs without path", BackendFS, "", true},
		{"unsupported backend", "redis", "./data", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Global.StorageBackend = tc.backend
			cfg.Global.StoragePath = tc.path
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for backend %q", tc.backend)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for backend %q: %v", tc.backend, err)
			}
		})
	}
}

func TestValidateRejectsOriginWithFragment(t *testing.T) {
	cfg := validConfig()
	cfg.App.Origin = "https://app.example.com/#/home"
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("Origin 含片段时应报错")
	}
}

func TestValidateReportsFieldPath(t *testing.T) {
	cfg := validConfig()
	cfg.Global.PrefetchConcurrency = 0
	err := cfg.Validate()
	fieldErr, ok := err.(FieldError)
	if !ok {
		t.Fatalf("应返回 FieldError，得到 %T", err)
	}
	if fieldErr.Field != "Global.PrefetchConcurrency" {
		t.Fatalf("字段路径错误: %s", fieldErr.Field)
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:          5000,
			StoragePath:         "./data",
			StorageBackend:      BackendFS,
			UpstreamTimeout:     Duration(time.Second),
			PrefetchConcurrency: 2,
		},
		App: AppConfig{
			Origin:       "https://app.example.com",
			ManifestPath: "manifest.json",
		},
	}
}
