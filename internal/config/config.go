package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/cut-dicl/smacc-sub001/pkg/types"
	"github.com/cut-dicl/smacc-sub001/pkg/utils"
)

// Configuration represents the complete engine configuration
type Configuration struct {
	Global      GlobalConfig      `yaml:"global"`
	Topology    string            `yaml:"topology"`
	Memory      MemoryConfig      `yaml:"memory"`
	Disk        DiskConfig        `yaml:"disk"`
	Policy      PolicyConfig      `yaml:"policy"`
	WriteBack   WriteBackConfig   `yaml:"write_back"`
	ColdStorage ColdStorageConfig `yaml:"cold_storage"`
}

// GlobalConfig represents global process settings
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	LogFile     string `yaml:"log_file"`
	MetricsPort int    `yaml:"metrics_port"`
}

// MemoryConfig represents the memory tier
type MemoryConfig struct {
	Capacity       string `yaml:"capacity"`
	StateDirectory string `yaml:"state_directory"`
}

// DiskConfig represents the disk tier and its volumes
type DiskConfig struct {
	Volumes []VolumeConfig `yaml:"volumes"`
}

// VolumeConfig represents one physical disk volume
type VolumeConfig struct {
	MainDirectory  string `yaml:"main_directory"`
	StateDirectory string `yaml:"state_directory"`
	Capacity       string `yaml:"capacity"`
}

// PolicyConfig selects policies by registry name and carries their parameters
type PolicyConfig struct {
	Admission        string        `yaml:"admission"`
	EvictionItem     string        `yaml:"eviction_item"`
	Placement        string        `yaml:"placement"`
	Trigger          string        `yaml:"trigger"`
	DiskSelection    string        `yaml:"disk_selection"`
	EXDAlpha         float64       `yaml:"exd_alpha"`
	LifeWindow       time.Duration `yaml:"life_window"`
	TriggerThreshold float64       `yaml:"trigger_threshold"`
	PlacementMemory  string        `yaml:"placement_memory"`
	PlacementDisk    string        `yaml:"placement_disk"`
}

// WriteBackConfig represents the async write-back queue
type WriteBackConfig struct {
	QueueSize       int           `yaml:"queue_size"`
	Workers         int           `yaml:"workers"`
	ChunkSize       string        `yaml:"chunk_size"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ColdStorageConfig represents the cold storage adapter
type ColdStorageConfig struct {
	Backend       string `yaml:"backend"`
	Region        string `yaml:"region"`
	Endpoint      string `yaml:"endpoint"`
	PathStyle     bool   `yaml:"path_style"`
	PartSize      string `yaml:"part_size"`
	Concurrency   int    `yaml:"concurrency"`
	StorageClass  string `yaml:"storage_class"`
	StatCacheSize int64  `yaml:"stat_cache_size"`
	UseCargoShip  bool   `yaml:"use_cargoship"`

	// BreakerFailures consecutive failures make cold storage calls fail
	// fast for BreakerTimeout. Zero disables the breaker.
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:    "INFO",
			LogFormat:   "text",
			LogFile:     "",
			MetricsPort: 0,
		},
		Topology: types.LocationMemoryDisk.String(),
		Memory: MemoryConfig{
			Capacity:       "1GB",
			StateDirectory: "/var/lib/smacc/memory-state",
		},
		Disk: DiskConfig{
			Volumes: []VolumeConfig{
				{
					MainDirectory:  "/var/lib/smacc/disk0/main",
					StateDirectory: "/var/lib/smacc/disk0/state",
					Capacity:       "10GB",
				},
			},
		},
		Policy: PolicyConfig{
			Admission:        "always",
			EvictionItem:     "lru",
			Placement:        "configured",
			Trigger:          "threshold",
			DiskSelection:    "round_robin",
			EXDAlpha:         0.5,
			LifeWindow:       time.Hour,
			TriggerThreshold: 90,
			PlacementMemory:  "downgrade",
			PlacementDisk:    "downgrade",
		},
		WriteBack: WriteBackConfig{
			QueueSize:       1024,
			Workers:         4,
			ChunkSize:       "1MB",
			PollInterval:    100 * time.Millisecond,
			ShutdownTimeout: 30 * time.Second,
		},
		ColdStorage: ColdStorageConfig{
			Backend:       "memory",
			Region:        "us-east-1",
			PartSize:      "8MB",
			Concurrency:   4,
			StorageClass:  "STANDARD",
			StatCacheSize: 100000,

			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	// Global settings
	if val := os.Getenv("SMACC_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("SMACC_LOG_FORMAT"); val != "" {
		c.Global.LogFormat = val
	}
	if val := os.Getenv("SMACC_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("SMACC_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Global.MetricsPort = port
		}
	}
	if val := os.Getenv("SMACC_TOPOLOGY"); val != "" {
		c.Topology = val
	}

	// Tier settings
	if val := os.Getenv("SMACC_MEMORY_CAPACITY"); val != "" {
		c.Memory.Capacity = val
	}

	// Policy settings
	if val := os.Getenv("SMACC_ADMISSION_POLICY"); val != "" {
		c.Policy.Admission = val
	}
	if val := os.Getenv("SMACC_EVICTION_POLICY"); val != "" {
		c.Policy.EvictionItem = val
	}
	if val := os.Getenv("SMACC_DISK_SELECTION_POLICY"); val != "" {
		c.Policy.DiskSelection = val
	}
	if val := os.Getenv("SMACC_EXD_ALPHA"); val != "" {
		if alpha, err := strconv.ParseFloat(val, 64); err == nil {
			c.Policy.EXDAlpha = alpha
		}
	}
	if val := os.Getenv("SMACC_TRIGGER_THRESHOLD"); val != "" {
		if threshold, err := strconv.ParseFloat(val, 64); err == nil {
			c.Policy.TriggerThreshold = threshold
		}
	}

	// Write-back settings
	if val := os.Getenv("SMACC_WRITEBACK_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil {
			c.WriteBack.Workers = workers
		}
	}

	// Cold storage settings
	if val := os.Getenv("SMACC_COLD_BACKEND"); val != "" {
		c.ColdStorage.Backend = val
	}
	if val := os.Getenv("SMACC_COLD_ENDPOINT"); val != "" {
		c.ColdStorage.Endpoint = val
	}
	if val := os.Getenv("SMACC_COLD_REGION"); val != "" {
		c.ColdStorage.Region = val
	}
	if val := os.Getenv("SMACC_COLD_PATH_STYLE"); val != "" {
		c.ColdStorage.PathStyle = strings.ToLower(val) == "true"
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if c.Global.LogLevel == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	topology, err := types.ParseLocation(c.Topology)
	if err != nil {
		return fmt.Errorf("invalid topology: %w", err)
	}

	if topology.HasMemory() {
		if _, err := c.MemoryCapacity(); err != nil {
			return err
		}
	}

	if topology.HasDisk() {
		if len(c.Disk.Volumes) == 0 {
			return fmt.Errorf("topology %s requires at least one disk volume", topology)
		}
		for i, vol := range c.Disk.Volumes {
			if vol.MainDirectory == "" || vol.StateDirectory == "" {
				return fmt.Errorf("disk volume %d: main_directory and state_directory are required", i)
			}
			if vol.MainDirectory == vol.StateDirectory {
				return fmt.Errorf("disk volume %d: main_directory and state_directory cannot be the same", i)
			}
			if _, err := utils.ParseBytes(vol.Capacity); err != nil {
				return fmt.Errorf("disk volume %d: invalid capacity: %w", i, err)
			}
		}
	}

	if c.Policy.EXDAlpha < 0 {
		return fmt.Errorf("exd_alpha must not be negative")
	}
	if c.Policy.TriggerThreshold <= 0 || c.Policy.TriggerThreshold > 100 {
		return fmt.Errorf("trigger_threshold must be in (0, 100]")
	}

	if c.WriteBack.QueueSize <= 0 {
		return fmt.Errorf("write_back queue_size must be greater than 0")
	}
	if c.WriteBack.Workers <= 0 {
		return fmt.Errorf("write_back workers must be greater than 0")
	}
	if _, err := c.ChunkSize(); err != nil {
		return err
	}

	switch c.ColdStorage.Backend {
	case "memory", "s3":
	default:
		return fmt.Errorf("invalid cold_storage backend: %s (must be one of: memory, s3)", c.ColdStorage.Backend)
	}

	return nil
}

// MemoryCapacity returns the memory tier capacity in bytes
func (c *Configuration) MemoryCapacity() (int64, error) {
	n, err := utils.ParseBytes(c.Memory.Capacity)
	if err != nil {
		return 0, fmt.Errorf("invalid memory capacity: %w", err)
	}
	return n, nil
}

// DiskCapacity returns the summed capacity of all disk volumes in bytes
func (c *Configuration) DiskCapacity() (int64, error) {
	var total int64
	for i, vol := range c.Disk.Volumes {
		n, err := utils.ParseBytes(vol.Capacity)
		if err != nil {
			return 0, fmt.Errorf("disk volume %d: invalid capacity: %w", i, err)
		}
		total += n
	}
	return total, nil
}

// ChunkSize returns the write-back copy chunk size in bytes
func (c *Configuration) ChunkSize() (int64, error) {
	n, err := utils.ParseBytes(c.WriteBack.ChunkSize)
	if err != nil {
		return 0, fmt.Errorf("invalid write_back chunk_size: %w", err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("write_back chunk_size must be greater than 0")
	}
	return n, nil
}

// TopologyLocation returns the parsed tier topology
func (c *Configuration) TopologyLocation() types.Location {
	loc, err := types.ParseLocation(c.Topology)
	if err != nil {
		return types.LocationMemoryDisk
	}
	return loc
}

// Provider flattens the configuration into the dotted keys consumed by
// policies at initialization time.
func (c *Configuration) Provider() Provider {
	m := MapProvider{
		"topology":                 c.Topology,
		"policy.admission":         c.Policy.Admission,
		"policy.eviction_item":     c.Policy.EvictionItem,
		"policy.placement":         c.Policy.Placement,
		"policy.trigger":           c.Policy.Trigger,
		"policy.disk_selection":    c.Policy.DiskSelection,
		"policy.exd.alpha":         c.Policy.EXDAlpha,
		"policy.life.window":       c.Policy.LifeWindow,
		"policy.trigger.threshold": c.Policy.TriggerThreshold,
		"policy.placement.memory":  c.Policy.PlacementMemory,
		"policy.placement.disk":    c.Policy.PlacementDisk,
		"write_back.queue_size":    int64(c.WriteBack.QueueSize),
		"write_back.workers":       int64(c.WriteBack.Workers),
		"disk.volumes":             int64(len(c.Disk.Volumes)),
	}
	if n, err := c.MemoryCapacity(); err == nil {
		m["memory.capacity"] = n
	}
	if n, err := c.DiskCapacity(); err == nil {
		m["disk.capacity"] = n
	}
	if n, err := c.ChunkSize(); err == nil {
		m["write_back.chunk_size"] = n
	}
	return m
}
