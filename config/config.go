package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/isdmx/gradebox/quota"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// MetricsConfig controls the Prometheus scrape endpoint
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// SandboxConfig holds configuration of the isolation tool and the box pool
type SandboxConfig struct {
	IsolateCommand string   `mapstructure:"isolate_command"`
	ExecPath       string   `mapstructure:"exec_path"`
	BoxIDPrefix    int      `mapstructure:"box_id_prefix"`
	MaxConcurrent  int      `mapstructure:"max_concurrent"`
	InitTimeoutSec int      `mapstructure:"init_timeout_sec"`
	DirBinds       []string `mapstructure:"dir_binds"`
	Env            []string `mapstructure:"env"`
}

// QuotaConfig holds the system default quotas applied to every sandboxed run
type QuotaConfig struct {
	Memory   string `mapstructure:"memory"`
	WallTime string `mapstructure:"wall_time"`
	FileSize string `mapstructure:"file_size"`
	Blocks   int    `mapstructure:"blocks"`
	Inodes   int    `mapstructure:"inodes"`
}

// ExecutionConfig holds pipeline settings
type ExecutionConfig struct {
	ModuleLibPath string `mapstructure:"module_lib_path"`
	OutputMaxLen  int    `mapstructure:"output_max_len"`
	ReportMaxSize int    `mapstructure:"report_max_size"`
}

// ArchiveConfig holds settings of the permanent execution store
type ArchiveConfig struct {
	StorePath string      `mapstructure:"store_path"`
	Ignore    []string    `mapstructure:"ignore"`
	Snapshot  bool        `mapstructure:"snapshot"`
	MinIO     MinIOConfig `mapstructure:"minio"`
}

// MinIOConfig holds object storage settings for archive snapshots
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
}

// CatalogConfig points at the module definitions served by the MCP surface
type CatalogConfig struct {
	ModulesDir string `mapstructure:"modules_dir"`
}

// New loads and validates the application configuration
func New() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	return load(v)
}

// Load reads the configuration from an explicit file path
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("GRADEBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", "stdio")
	v.SetDefault("server.http_port", 8080)

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9090")

	v.SetDefault("sandbox.isolate_command", "isolate")
	v.SetDefault("sandbox.exec_path", "/tmp/box")
	v.SetDefault("sandbox.box_id_prefix", 2)
	v.SetDefault("sandbox.max_concurrent", 3)
	v.SetDefault("sandbox.init_timeout_sec", 60)
	v.SetDefault("sandbox.dir_binds", []string{"/etc/alternatives=/opt/etc/alternatives"})
	v.SetDefault("sandbox.env", []string{"PATH", "LANG=en_US.UTF-8"})

	v.SetDefault("quota.memory", "50M")
	v.SetDefault("quota.wall_time", "5s")
	v.SetDefault("quota.file_size", "50M")
	v.SetDefault("quota.blocks", 100)
	v.SetDefault("quota.inodes", 100)

	v.SetDefault("execution.module_lib_path", "data/module_lib")
	v.SetDefault("execution.output_max_len", 5000)
	v.SetDefault("execution.report_max_size", 1<<30)

	v.SetDefault("archive.store_path", "data/exec")
	v.SetDefault("archive.ignore", []string{"tmp", "root", "etc", "__pycache__", "*.pyc"})
	v.SetDefault("archive.snapshot", false)
	v.SetDefault("archive.minio.use_ssl", true)

	v.SetDefault("catalog.modules_dir", "data/modules")
}

// validate ensures the configuration is valid
//
//nolint:gocyclo // flat list of independent checks
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	if _, err := shlex.Split(c.Sandbox.IsolateCommand); err != nil {
		return fmt.Errorf("invalid sandbox.isolate_command: %w", err)
	}
	if strings.TrimSpace(c.Sandbox.IsolateCommand) == "" {
		return fmt.Errorf("sandbox.isolate_command must not be empty")
	}

	if c.Sandbox.ExecPath == "" {
		return fmt.Errorf("sandbox.exec_path must not be empty")
	}

	if c.Sandbox.BoxIDPrefix <= 0 {
		return fmt.Errorf("sandbox.box_id_prefix must be positive, got: %d", c.Sandbox.BoxIDPrefix)
	}

	// box ids are the prefix followed by three digits, so at most 1000 names exist
	if c.Sandbox.MaxConcurrent <= 0 || c.Sandbox.MaxConcurrent >= 1000 {
		return fmt.Errorf("sandbox.max_concurrent must be between 1 and 999, got: %d", c.Sandbox.MaxConcurrent)
	}

	if c.Sandbox.InitTimeoutSec <= 0 {
		return fmt.Errorf("sandbox.init_timeout_sec must be positive, got: %d", c.Sandbox.InitTimeoutSec)
	}

	if _, err := c.QuotaDefaults(); err != nil {
		return err
	}

	if c.Execution.OutputMaxLen <= 0 {
		return fmt.Errorf("execution.output_max_len must be positive, got: %d", c.Execution.OutputMaxLen)
	}
	if c.Execution.ReportMaxSize <= 0 {
		return fmt.Errorf("execution.report_max_size must be positive, got: %d", c.Execution.ReportMaxSize)
	}

	if c.Archive.StorePath == "" {
		return fmt.Errorf("archive.store_path must not be empty")
	}
	if c.Archive.MinIO.Endpoint != "" && c.Archive.MinIO.Bucket == "" {
		return fmt.Errorf("archive.minio.bucket is required when archive.minio.endpoint is set")
	}

	return nil
}

// GetInitTimeout returns the isolation tool init timeout as a duration
func (c *Config) GetInitTimeout() time.Duration {
	return time.Duration(c.Sandbox.InitTimeoutSec) * time.Second
}

// QuotaDefaults parses the quota section into the system default limits
func (c *Config) QuotaDefaults() (quota.Limits, error) {
	mem, err := quota.ParseSize(c.Quota.Memory)
	if err != nil {
		return quota.Limits{}, fmt.Errorf("invalid quota.memory: %w", err)
	}
	fsize, err := quota.ParseSize(c.Quota.FileSize)
	if err != nil {
		return quota.Limits{}, fmt.Errorf("invalid quota.file_size: %w", err)
	}
	wall, err := quota.ParseTimespan(c.Quota.WallTime)
	if err != nil {
		return quota.Limits{}, fmt.Errorf("invalid quota.wall_time: %w", err)
	}
	if mem == 0 || fsize == 0 || wall <= 0 {
		return quota.Limits{}, fmt.Errorf("quota.memory, quota.file_size and quota.wall_time must be positive")
	}
	if c.Quota.Blocks <= 0 {
		return quota.Limits{}, fmt.Errorf("quota.blocks must be positive, got: %d", c.Quota.Blocks)
	}
	if c.Quota.Inodes <= 0 {
		return quota.Limits{}, fmt.Errorf("quota.inodes must be positive, got: %d", c.Quota.Inodes)
	}

	return quota.Limits{
		Memory:   mem,
		WallTime: wall,
		FileSize: fsize,
		Blocks:   c.Quota.Blocks,
		Inodes:   c.Quota.Inodes,
	}, nil
}

// IsolateArgs returns the isolation tool command split into argv
func (c *Config) IsolateArgs() []string {
	args, err := shlex.Split(c.Sandbox.IsolateCommand)
	if err != nil {
		return nil
	}
	return args
}
