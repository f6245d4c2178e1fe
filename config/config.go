package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Port      string `yaml:"port"`
	BodyLimit string `yaml:"body_limit"`
}

type StorageConfig struct {
	ConnectionString string `yaml:"connection_string"`
	ProjectsTable    string `yaml:"projects_table"`
	CommandQueue     string `yaml:"command_queue"`
	GenerationQueue  string `yaml:"generation_queue"`
}

type RedisConfig struct {
	ConnectionString string        `yaml:"connection_string"`
	CacheTTL         time.Duration `yaml:"cache_ttl"`
	DraftTTL         time.Duration `yaml:"draft_ttl"`
	DedupeTTL        time.Duration `yaml:"dedupe_ttl"`
	UpdatesChannel   string        `yaml:"updates_channel"`
}

type AuthConfig struct {
	Audience   string `yaml:"audience"`
	Domain     string `yaml:"domain"`
	OrgClaim   string `yaml:"org_claim"`
	TestMode   bool   `yaml:"test_mode"`
	TestSecret string `yaml:"test_secret"`
}

type WorkloadConfig struct {
	WeeklyCapacity int `yaml:"weekly_capacity"`
}

type CommandsConfig struct {
	Workers        int           `yaml:"workers"`
	Buffer         int           `yaml:"buffer"`
	EnqueueTimeout time.Duration `yaml:"enqueue_timeout"`
}

type WorkerConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	MaxDequeueCount   int           `yaml:"max_dequeue_count"`
}

type EmailProxyConfig struct {
	Port        string        `yaml:"port"`
	UpstreamURL string        `yaml:"upstream_url"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Config holds the settings of every binary in the repository. Each binary
// checks only the sections it uses.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Redis      RedisConfig      `yaml:"redis"`
	Auth       AuthConfig       `yaml:"auth"`
	Workload   WorkloadConfig   `yaml:"workload"`
	Commands   CommandsConfig   `yaml:"commands"`
	Worker     WorkerConfig     `yaml:"worker"`
	EmailProxy EmailProxyConfig `yaml:"email_proxy"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{Port: "8080", BodyLimit: "256K"},
		Redis: RedisConfig{
			CacheTTL:       5 * time.Minute,
			DraftTTL:       7 * 24 * time.Hour,
			DedupeTTL:      24 * time.Hour,
			UpdatesChannel: "workflow-updates",
		},
		Auth:     AuthConfig{OrgClaim: "org_id"},
		Workload: WorkloadConfig{WeeklyCapacity: 40},
		Commands: CommandsConfig{Workers: 4, Buffer: 64, EnqueueTimeout: 5 * time.Second},
		Worker: WorkerConfig{
			PollInterval:      time.Second,
			VisibilityTimeout: 30 * time.Second,
			MaxDequeueCount:   5,
		},
		EmailProxy: EmailProxyConfig{
			Port:        "3001",
			UpstreamURL: "https://api.sendgrid.com/v3/mail/send",
			Timeout:     15 * time.Second,
		},
	}
}

// FromEnv loads the file named by CONFIG_FILE, if any, and applies the
// environment on top of it.
func FromEnv() (Config, error) {
	return Load(os.Getenv("CONFIG_FILE"))
}

// Load reads defaults, then the optional YAML file at path, then environment
// overrides. Malformed values are reported as errors.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := overrideFromEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overrideFromEnv(cfg *Config) error {
	var errs []error
	setBool := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", name, err))
				return
			}
			*dst = b
		}
	}
	setInt := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	setDuration := func(name string, dst *time.Duration) {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", name, err))
				return
			}
			*dst = d
		}
	}
	setString := func(name string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
		}
	}

	setBool("DEBUG", &cfg.Debug)
	setString("FUNCTIONS_CUSTOMHANDLER_PORT", &cfg.Server.Port)
	setString("BODY_LIMIT", &cfg.Server.BodyLimit)

	setString("STORAGE_CONNECTION_STRING", &cfg.Storage.ConnectionString)
	setString("PROJECTS_TABLE", &cfg.Storage.ProjectsTable)
	setString("COMMAND_QUEUE", &cfg.Storage.CommandQueue)
	setString("WORKFLOW_GENERATION_QUEUE", &cfg.Storage.GenerationQueue)

	setString("REDIS_CONNECTION_STRING", &cfg.Redis.ConnectionString)
	setDuration("CACHE_TTL", &cfg.Redis.CacheTTL)
	setDuration("DRAFT_TTL", &cfg.Redis.DraftTTL)
	setDuration("DEDUPER_TTL", &cfg.Redis.DedupeTTL)
	setString("WORKFLOW_UPDATES_CHANNEL", &cfg.Redis.UpdatesChannel)

	setString("AUTH0_AUDIENCE", &cfg.Auth.Audience)
	setString("AUTH0_DOMAIN", &cfg.Auth.Domain)
	setString("AUTH0_ORG_CLAIM", &cfg.Auth.OrgClaim)
	if v := os.Getenv("AUTH0_TEST_MODE"); v != "" {
		cfg.Auth.TestMode = v == "1" || strings.EqualFold(v, "true")
	}
	setString("TEST_JWT_SECRET", &cfg.Auth.TestSecret)

	setInt("WORKLOAD_WEEKLY_CAPACITY", &cfg.Workload.WeeklyCapacity)

	setInt("COMMAND_WORKERS", &cfg.Commands.Workers)
	setInt("COMMAND_BUFFER", &cfg.Commands.Buffer)
	setDuration("ENQUEUE_TIMEOUT", &cfg.Commands.EnqueueTimeout)

	setDuration("WORKER_POLL_INTERVAL", &cfg.Worker.PollInterval)
	setDuration("WORKER_VISIBILITY_TIMEOUT", &cfg.Worker.VisibilityTimeout)
	setInt("WORKER_MAX_DEQUEUE_COUNT", &cfg.Worker.MaxDequeueCount)

	setString("EMAIL_PROXY_PORT", &cfg.EmailProxy.Port)
	setString("SENDGRID_API_URL", &cfg.EmailProxy.UpstreamURL)
	setDuration("EMAIL_PROXY_TIMEOUT", &cfg.EmailProxy.Timeout)

	return errors.Join(errs...)
}

func (c Config) validate() error {
	var errs []error
	if c.Workload.WeeklyCapacity <= 0 {
		errs = append(errs, fmt.Errorf("workload.weekly_capacity must be positive, got %d", c.Workload.WeeklyCapacity))
	}
	if c.Commands.Workers <= 0 || c.Commands.Buffer <= 0 {
		errs = append(errs, errors.New("commands.workers and commands.buffer must be positive"))
	}
	if c.Worker.MaxDequeueCount <= 0 {
		errs = append(errs, errors.New("worker.max_dequeue_count must be positive"))
	}
	for name, d := range map[string]time.Duration{
		"redis.cache_ttl":           c.Redis.CacheTTL,
		"redis.draft_ttl":           c.Redis.DraftTTL,
		"redis.dedupe_ttl":          c.Redis.DedupeTTL,
		"commands.enqueue_timeout":  c.Commands.EnqueueTimeout,
		"worker.poll_interval":      c.Worker.PollInterval,
		"worker.visibility_timeout": c.Worker.VisibilityTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	return errors.Join(errs...)
}

// CheckStorage reports the storage settings that are missing.
func (c Config) CheckStorage() error {
	return missing(map[string]string{
		"STORAGE_CONNECTION_STRING": c.Storage.ConnectionString,
		"PROJECTS_TABLE":            c.Storage.ProjectsTable,
		"COMMAND_QUEUE":             c.Storage.CommandQueue,
		"WORKFLOW_GENERATION_QUEUE": c.Storage.GenerationQueue,
	})
}

func (c Config) CheckRedis() error {
	return missing(map[string]string{
		"REDIS_CONNECTION_STRING":  c.Redis.ConnectionString,
		"WORKFLOW_UPDATES_CHANNEL": c.Redis.UpdatesChannel,
	})
}

func (c Config) CheckAuth() error {
	if c.Auth.TestMode {
		return missing(map[string]string{"TEST_JWT_SECRET": c.Auth.TestSecret})
	}
	return missing(map[string]string{
		"AUTH0_AUDIENCE": c.Auth.Audience,
		"AUTH0_DOMAIN":   c.Auth.Domain,
	})
}

func missing(values map[string]string) error {
	var names []string
	for name, v := range values {
		if v == "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	slices.Sort(names)
	return fmt.Errorf("missing config: %s", strings.Join(names, ", "))
}
