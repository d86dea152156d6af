// Package config loads the service configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Satyampatil513/resume-editor/autofix"
	"github.com/Satyampatil513/resume-editor/gateway"
	"github.com/Satyampatil513/resume-editor/pipeline"
	"github.com/Satyampatil513/resume-editor/queue"
	"github.com/Satyampatil513/resume-editor/worker"
)

// DefaultPath is read when no --config flag is given, if it exists
const DefaultPath = "resume-editor.yaml"

// Queue backends
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Queue    QueueConfig    `yaml:"queue"`
	Worker   WorkerConfig   `yaml:"worker"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	AutoFix  AutoFixConfig  `yaml:"autofix"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	// AllowedOrigin is sent as Access-Control-Allow-Origin
	AllowedOrigin string `yaml:"allowed_origin"`
	// EmbeddedWorker runs a worker inside the serve process
	EmbeddedWorker bool `yaml:"embedded_worker"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type QueueConfig struct {
	Backend      string        `yaml:"backend"`
	RedisURL     string        `yaml:"redis_url"`
	DatabaseURL  string        `yaml:"database_url"`
	Key          string        `yaml:"key"`
	ResultPrefix string        `yaml:"result_prefix"`
	ResultTTL    time.Duration `yaml:"result_ttl"`
}

type WorkerConfig struct {
	ID              string        `yaml:"id"`
	IdleInterval    time.Duration `yaml:"idle_interval"`
	BackoffInterval time.Duration `yaml:"backoff_interval"`
}

type GatewayConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	CompileAttempts int           `yaml:"compile_attempts"`
	SyntaxAttempts  int           `yaml:"syntax_attempts"`
	ProjectAttempts int           `yaml:"project_attempts"`
}

type PipelineConfig struct {
	WorkDir           string        `yaml:"work_dir"`
	OutputDir         string        `yaml:"output_dir"`
	Latexmk           string        `yaml:"latexmk"`
	Pdflatex          string        `yaml:"pdflatex"`
	Chktex            string        `yaml:"chktex"`
	ToolTimeout       time.Duration `yaml:"tool_timeout"`
	DownloadTimeout   time.Duration `yaml:"download_timeout"`
	MaxArchiveBytes   int64         `yaml:"max_archive_bytes"`
	MaxExtractedBytes int64         `yaml:"max_extracted_bytes"`
}

type AutoFixConfig struct {
	// MaxAttempts is the number of fix rounds; 0 disables auto-fix
	MaxAttempts int    `yaml:"max_attempts"`
	Model       string `yaml:"model"`
	APIKey      string `yaml:"api_key"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	p := pipeline.DefaultOptions()
	w := worker.DefaultOptions()
	g := gateway.DefaultOptions()
	return &Config{
		Server: ServerConfig{Addr: ":8080", AllowedOrigin: "*"},
		Log:    LogConfig{Level: "info"},
		Queue: QueueConfig{
			Backend:      BackendMemory,
			Key:          queue.DefaultQueueKey,
			ResultPrefix: queue.DefaultResultPrefix,
			ResultTTL:    queue.DefaultResultTTL,
		},
		Worker: WorkerConfig{
			ID:              "worker-1",
			IdleInterval:    w.IdleInterval,
			BackoffInterval: w.BackoffInterval,
		},
		Gateway: GatewayConfig{
			PollInterval:    g.PollInterval,
			CompileAttempts: g.CompileAttempts,
			SyntaxAttempts:  g.SyntaxAttempts,
			ProjectAttempts: g.ProjectAttempts,
		},
		Pipeline: PipelineConfig{
			WorkDir:           p.WorkDir,
			OutputDir:         p.OutputDir,
			Latexmk:           p.Latexmk,
			Pdflatex:          p.Pdflatex,
			Chktex:            p.Chktex,
			ToolTimeout:       p.ToolTimeout,
			DownloadTimeout:   p.DownloadTimeout,
			MaxArchiveBytes:   p.MaxArchiveBytes,
			MaxExtractedBytes: p.MaxExtractedBytes,
		},
		AutoFix: AutoFixConfig{
			MaxAttempts: autofix.DefaultMaxAttempts,
			Model:       autofix.DefaultModel,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path reads DefaultPath when it exists.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	if err := loadFromFile(cfg, path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func loadFromEnv(cfg *Config) {
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Queue.RedisURL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Queue.DatabaseURL = v
	}
	if v := os.Getenv("RESUME_QUEUE_BACKEND"); v != "" {
		cfg.Queue.Backend = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.AutoFix.APIKey = v
	}
	if v := os.Getenv("RESUME_HTTP_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("RESUME_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("RESUME_WORK_DIR"); v != "" {
		cfg.Pipeline.WorkDir = v
	}
}

// Validate checks the configuration is usable
func (c *Config) Validate() error {
	var errs []error

	switch c.Queue.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Queue.RedisURL == "" {
			errs = append(errs, errors.New("queue.redis_url (or REDIS_URL) is required for the redis backend"))
		}
	case BackendPostgres:
		if c.Queue.DatabaseURL == "" {
			errs = append(errs, errors.New("queue.database_url (or DATABASE_URL) is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown queue backend %q", c.Queue.Backend))
	}

	if c.Queue.ResultTTL <= 0 {
		errs = append(errs, errors.New("queue.result_ttl must be positive"))
	}
	if c.Gateway.PollInterval <= 0 {
		errs = append(errs, errors.New("gateway.poll_interval must be positive"))
	}
	if c.Gateway.CompileAttempts < 1 || c.Gateway.SyntaxAttempts < 1 || c.Gateway.ProjectAttempts < 1 {
		errs = append(errs, errors.New("gateway attempt budgets must be at least 1"))
	}
	if c.Worker.IdleInterval <= 0 || c.Worker.BackoffInterval <= 0 {
		errs = append(errs, errors.New("worker intervals must be positive"))
	}
	if c.Pipeline.WorkDir == "" || c.Pipeline.OutputDir == "" {
		errs = append(errs, errors.New("pipeline.work_dir and pipeline.output_dir are required"))
	}
	if c.AutoFix.MaxAttempts < 0 || c.AutoFix.MaxAttempts > autofix.MaxAttemptsLimit {
		errs = append(errs, fmt.Errorf("autofix.max_attempts must be between 0 and %d", autofix.MaxAttemptsLimit))
	}

	return errors.Join(errs...)
}

// QueueKeys returns the key layout for key/value backends
func (c *Config) QueueKeys() queue.Keys {
	return queue.Keys{Queue: c.Queue.Key, ResultPrefix: c.Queue.ResultPrefix}
}

func (c *Config) PipelineOptions() pipeline.Options {
	p := c.Pipeline
	return pipeline.Options{
		WorkDir:           p.WorkDir,
		OutputDir:         p.OutputDir,
		Latexmk:           p.Latexmk,
		Pdflatex:          p.Pdflatex,
		Chktex:            p.Chktex,
		ToolTimeout:       p.ToolTimeout,
		DownloadTimeout:   p.DownloadTimeout,
		MaxArchiveBytes:   p.MaxArchiveBytes,
		MaxExtractedBytes: p.MaxExtractedBytes,
	}
}

func (c *Config) WorkerOptions() worker.Options {
	return worker.Options{
		IdleInterval:    c.Worker.IdleInterval,
		BackoffInterval: c.Worker.BackoffInterval,
		ResultTTL:       c.Queue.ResultTTL,
	}
}

func (c *Config) GatewayOptions() gateway.Options {
	g := c.Gateway
	return gateway.Options{
		PollInterval:    g.PollInterval,
		CompileAttempts: g.CompileAttempts,
		SyntaxAttempts:  g.SyntaxAttempts,
		ProjectAttempts: g.ProjectAttempts,
	}
}
