package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cut-dicl/smacc-sub001/pkg/types"
)

// Test Constants
const (
	TestDebugLevel     = "DEBUG"
	TestMemoryCapacity = "100"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	// Test global defaults
	if cfg.Global.LogLevel != "INFO" {
		t.Errorf("Expected LogLevel to be INFO, got %s", cfg.Global.LogLevel)
	}
	if cfg.Topology != "memory_disk" {
		t.Errorf("Expected Topology to be memory_disk, got %s", cfg.Topology)
	}

	// Test policy defaults
	if cfg.Policy.Admission != "always" {
		t.Errorf("Expected Admission to be always, got %s", cfg.Policy.Admission)
	}
	if cfg.Policy.EvictionItem != "lru" {
		t.Errorf("Expected EvictionItem to be lru, got %s", cfg.Policy.EvictionItem)
	}
	if cfg.Policy.EXDAlpha != 0.5 {
		t.Errorf("Expected EXDAlpha to be 0.5, got %v", cfg.Policy.EXDAlpha)
	}
	if cfg.Policy.TriggerThreshold != 90 {
		t.Errorf("Expected TriggerThreshold to be 90, got %v", cfg.Policy.TriggerThreshold)
	}

	// Test write-back defaults
	if cfg.WriteBack.PollInterval != 100*time.Millisecond {
		t.Errorf("Expected PollInterval to be 100ms, got %v", cfg.WriteBack.PollInterval)
	}
	if n, err := cfg.ChunkSize(); err != nil || n != 1<<20 {
		t.Errorf("Expected ChunkSize to be 1MiB, got %d (%v)", n, err)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default configuration should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  func() *Configuration
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid config",
			config: func() *Configuration {
				return NewDefault()
			},
			wantErr: false,
		},
		{
			name: "invalid log level",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Global.LogLevel = "INVALID"
				return cfg
			},
			wantErr: true,
			errMsg:  "invalid log_level",
		},
		{
			name: "invalid topology",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Topology = "tape_only"
				return cfg
			},
			wantErr: true,
			errMsg:  "invalid topology",
		},
		{
			name: "disk topology without volumes",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Disk.Volumes = nil
				return cfg
			},
			wantErr: true,
			errMsg:  "requires at least one disk volume",
		},
		{
			name: "memory only without volumes",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Topology = "memory_only"
				cfg.Disk.Volumes = nil
				return cfg
			},
			wantErr: false,
		},
		{
			name: "shared main and state directory",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Disk.Volumes[0].StateDirectory = cfg.Disk.Volumes[0].MainDirectory
				return cfg
			},
			wantErr: true,
			errMsg:  "cannot be the same",
		},
		{
			name: "invalid memory capacity",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Memory.Capacity = "lots"
				return cfg
			},
			wantErr: true,
			errMsg:  "invalid memory capacity",
		},
		{
			name: "threshold out of range",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Policy.TriggerThreshold = 120
				return cfg
			},
			wantErr: true,
			errMsg:  "trigger_threshold",
		},
		{
			name: "zero workers",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.WriteBack.Workers = 0
				return cfg
			},
			wantErr: true,
			errMsg:  "workers must be greater than 0",
		},
		{
			name: "unknown cold backend",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.ColdStorage.Backend = "ftp"
				return cfg
			},
			wantErr: true,
			errMsg:  "invalid cold_storage backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.config()
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err != nil && tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %v, want error containing %v", err, tt.errMsg)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
global:
  log_level: DEBUG
topology: disk_only
memory:
  capacity: "100"
disk:
  volumes:
    - main_directory: /data/d0/main
      state_directory: /data/d0/state
      capacity: 4GB
    - main_directory: /data/d1/main
      state_directory: /data/d1/state
      capacity: 2GB
policy:
  admission: exd
  eviction_item: life
  disk_selection: lowest_usage
  exd_alpha: 0.25
  life_window: 30m
write_back:
  workers: 8
`

	if err := os.WriteFile(configFile, []byte(configContent), 0600); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Global.LogLevel != TestDebugLevel {
		t.Errorf("Expected LogLevel to be DEBUG, got %s", cfg.Global.LogLevel)
	}
	if cfg.TopologyLocation() != types.LocationDiskOnly {
		t.Errorf("Expected disk_only topology, got %s", cfg.TopologyLocation())
	}
	if len(cfg.Disk.Volumes) != 2 {
		t.Fatalf("Expected 2 volumes, got %d", len(cfg.Disk.Volumes))
	}
	if n, _ := cfg.DiskCapacity(); n != 6<<30 {
		t.Errorf("Expected disk capacity 6GiB, got %d", n)
	}
	if cfg.Policy.LifeWindow != 30*time.Minute {
		t.Errorf("Expected LifeWindow to be 30m, got %v", cfg.Policy.LifeWindow)
	}
	if cfg.Policy.EvictionItem != "life" {
		t.Errorf("Expected EvictionItem life, got %s", cfg.Policy.EvictionItem)
	}
	// untouched keys keep their defaults
	if cfg.Policy.Trigger != "threshold" {
		t.Errorf("Expected Trigger to keep default, got %s", cfg.Policy.Trigger)
	}
	if cfg.WriteBack.Workers != 8 {
		t.Errorf("Expected Workers to be 8, got %d", cfg.WriteBack.Workers)
	}
}

func TestLoadFromFileNonExistent(t *testing.T) {
	cfg := NewDefault()
	if err := cfg.LoadFromFile("/nonexistent/config.yaml"); err == nil {
		t.Error("Expected error when loading non-existent config file")
	}
}

func TestLoadFromEnv(t *testing.T) {
	testEnvVars := map[string]string{
		"SMACC_LOG_LEVEL":         "ERROR",
		"SMACC_METRICS_PORT":      "9090",
		"SMACC_MEMORY_CAPACITY":   TestMemoryCapacity,
		"SMACC_ADMISSION_POLICY":  "exd",
		"SMACC_EXD_ALPHA":         "1.5",
		"SMACC_WRITEBACK_WORKERS": "16",
		"SMACC_COLD_PATH_STYLE":   "true",
		"SMACC_TOPOLOGY":          "memory_only",
	}

	for key, value := range testEnvVars {
		t.Setenv(key, value)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Global.LogLevel != "ERROR" {
		t.Errorf("Expected LogLevel to be ERROR, got %s", cfg.Global.LogLevel)
	}
	if cfg.Global.MetricsPort != 9090 {
		t.Errorf("Expected MetricsPort to be 9090, got %d", cfg.Global.MetricsPort)
	}
	if n, _ := cfg.MemoryCapacity(); n != 100 {
		t.Errorf("Expected memory capacity 100, got %d", n)
	}
	if cfg.Policy.Admission != "exd" {
		t.Errorf("Expected Admission exd, got %s", cfg.Policy.Admission)
	}
	if cfg.Policy.EXDAlpha != 1.5 {
		t.Errorf("Expected EXDAlpha 1.5, got %v", cfg.Policy.EXDAlpha)
	}
	if cfg.WriteBack.Workers != 16 {
		t.Errorf("Expected Workers 16, got %d", cfg.WriteBack.Workers)
	}
	if !cfg.ColdStorage.PathStyle {
		t.Error("Expected PathStyle to be true")
	}
	if cfg.TopologyLocation() != types.LocationMemoryOnly {
		t.Errorf("Expected memory_only topology, got %s", cfg.TopologyLocation())
	}
}

func TestSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "subdir", "saved_config.yaml")

	cfg := NewDefault()
	cfg.Global.LogLevel = TestDebugLevel
	cfg.Memory.Capacity = TestMemoryCapacity
	cfg.Policy.LifeWindow = 45 * time.Minute

	if err := cfg.SaveToFile(configFile); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	newCfg := NewDefault()
	if err := newCfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}

	if newCfg.Global.LogLevel != TestDebugLevel {
		t.Errorf("Expected LogLevel to be DEBUG, got %s", newCfg.Global.LogLevel)
	}
	if newCfg.Memory.Capacity != TestMemoryCapacity {
		t.Errorf("Expected memory capacity %s, got %s", TestMemoryCapacity, newCfg.Memory.Capacity)
	}
	if newCfg.Policy.LifeWindow != 45*time.Minute {
		t.Errorf("Expected LifeWindow 45m, got %v", newCfg.Policy.LifeWindow)
	}
}

func TestProvider(t *testing.T) {
	cfg := NewDefault()
	cfg.Memory.Capacity = TestMemoryCapacity
	cfg.Policy.EXDAlpha = 2

	p := cfg.Provider()

	if got := p.GetInt64("memory.capacity", 0); got != 100 {
		t.Errorf("memory.capacity = %d, want 100", got)
	}
	if got := p.GetFloat64("policy.exd.alpha", 0); got != 2 {
		t.Errorf("policy.exd.alpha = %v, want 2", got)
	}
	if got := p.GetDuration("policy.life.window", 0); got != time.Hour {
		t.Errorf("policy.life.window = %v, want 1h", got)
	}
	if got := p.GetString("policy.placement.disk", ""); got != "downgrade" {
		t.Errorf("policy.placement.disk = %q, want downgrade", got)
	}
	if got := p.GetString("missing.key", "fallback"); got != "fallback" {
		t.Errorf("missing.key = %q, want fallback", got)
	}
}

func TestMapProviderConversions(t *testing.T) {
	p := MapProvider{
		"int":      7,
		"float":    "0.75",
		"bool":     "true",
		"duration": "90s",
		"bad":      "not-a-number",
	}

	if got := p.GetInt64("int", 0); got != 7 {
		t.Errorf("GetInt64 = %d, want 7", got)
	}
	if got := p.GetFloat64("float", 0); got != 0.75 {
		t.Errorf("GetFloat64 = %v, want 0.75", got)
	}
	if got := p.GetBool("bool", false); !got {
		t.Error("GetBool = false, want true")
	}
	if got := p.GetDuration("duration", 0); got != 90*time.Second {
		t.Errorf("GetDuration = %v, want 90s", got)
	}
	if got := p.GetInt64("bad", 3); got != 3 {
		t.Errorf("GetInt64 on bad value = %d, want default 3", got)
	}
	if got := p.GetString("int", ""); got != "7" {
		t.Errorf("GetString on int = %q, want 7", got)
	}
}
