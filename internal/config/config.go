// Package config loads nexrun settings from an INI file with environment
// overrides, and campaign lists from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nadmax/nexrun/internal/executor"
	"github.com/nadmax/nexrun/internal/notify"
	"github.com/nadmax/nexrun/internal/resource"
	"github.com/nadmax/nexrun/internal/retry"
	"gopkg.in/ini.v1"
)

const DefaultFeedTimeout = 10 * time.Second

type LogConf struct {
	Level string `ini:"level"`
}

type PoolConf struct {
	Feeds            []string      `ini:"feeds" delim:","`
	Files            []string      `ini:"files" delim:","`
	Backup           []string      `ini:"backup" delim:","`
	ProbeTargets     []string      `ini:"probe_targets" delim:","`
	DefaultScheme    string        `ini:"default_scheme"`
	RandomScheme     bool          `ini:"random_scheme"`
	Strategy         string        `ini:"strategy"`
	MaxFails         int           `ini:"max_fails"`
	RefreshInterval  time.Duration `ini:"refresh_interval"`
	ProbeConcurrency int           `ini:"probe_concurrency"`
	FeedTimeout      time.Duration `ini:"feed_timeout"`
	ProbeTimeout     time.Duration `ini:"probe_timeout"`
}

type RetryConf struct {
	Limit         int           `ini:"limit"`
	Floor         time.Duration `ini:"floor"`
	Step          time.Duration `ini:"step"`
	Ceiling       time.Duration `ini:"ceiling"`
	BackoffFactor float64       `ini:"backoff_factor"`
}

type CampaignConf struct {
	MetricsDir   string        `ini:"metrics_dir"`
	MaxBatches   int           `ini:"max_batches"`
	PollInterval time.Duration `ini:"poll_interval"`
}

type ExecutorConf struct {
	Endpoint string        `ini:"endpoint"`
	Timeout  time.Duration `ini:"timeout"`
	// Headers are "Name: value" pairs.
	Headers []string `ini:"headers" delim:","`
}

type ServerConf struct {
	Port string `ini:"port"`
}

type RedisConf struct {
	Addr string `ini:"addr"`
}

type PostgresConf struct {
	DSN string `ini:"dsn"`
}

type EmailConf struct {
	APIKey      string `ini:"api_key"`
	FromName    string `ini:"from_name"`
	FromAddress string `ini:"from_address"`
	To          string `ini:"to"`
}

type Config struct {
	Log      LogConf      `ini:"log"`
	Pool     PoolConf     `ini:"pool"`
	Retry    RetryConf    `ini:"retry"`
	Campaign CampaignConf `ini:"campaign"`
	Executor ExecutorConf `ini:"executor"`
	Server   ServerConf   `ini:"server"`
	Redis    RedisConf    `ini:"redis"`
	Postgres PostgresConf `ini:"postgres"`
	Email    EmailConf    `ini:"email"`
}

func Default() Config {
	return Config{
		Log: LogConf{Level: "info"},
		Pool: PoolConf{
			ProbeTargets:     []string{"https://api.ipify.org", "https://ifconfig.me/ip", "https://icanhazip.com"},
			DefaultScheme:    resource.SchemeSOCKS5,
			Strategy:         string(resource.StrategyRandom),
			MaxFails:         resource.DefaultMaxFails,
			RefreshInterval:  resource.DefaultRefreshInterval,
			ProbeConcurrency: resource.DefaultProbeConcurrency,
			FeedTimeout:      DefaultFeedTimeout,
			ProbeTimeout:     5 * time.Second,
		},
		Retry: RetryConf{
			Limit:         retry.DefaultLimit,
			Floor:         retry.DefaultFloor,
			Step:          retry.DefaultStep,
			Ceiling:       retry.DefaultCeiling,
			BackoffFactor: 1.2,
		},
		Campaign: CampaignConf{
			MetricsDir:   "metrics",
			PollInterval: 2 * time.Second,
		},
		Executor: ExecutorConf{Timeout: executor.DefaultTimeout},
		Server:   ServerConf{Port: "8080"},
		Redis:    RedisConf{Addr: "localhost:6379"},
	}
}

// Load starts from Default, maps the INI file over it when path is not
// empty, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		file, err := ini.Load(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to load config file: %w", err)
		}
		if err := file.MapTo(&cfg); err != nil {
			return cfg, fmt.Errorf("failed to map config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	overrideFromEnv(&cfg.Log.Level, "LOG_LEVEL")
	overrideFromEnv(&cfg.Server.Port, "PORT")
	overrideFromEnv(&cfg.Redis.Addr, "REDIS_ADDR")
	overrideFromEnv(&cfg.Postgres.DSN, "POSTGRES_DSN")
	overrideFromEnv(&cfg.Email.APIKey, "EMAIL_API_KEY")
	overrideFromEnv(&cfg.Email.FromAddress, "FROM_ADDRESS")
	overrideFromEnv(&cfg.Email.FromName, "FROM_NAME")
	overrideFromEnv(&cfg.Email.To, "EMAIL_TO")
	overrideFromEnv(&cfg.Executor.Endpoint, "EXECUTOR_ENDPOINT")
	overrideFromEnv(&cfg.Campaign.MetricsDir, "METRICS_DIR")
	overrideFromEnvInt(&cfg.Retry.Limit, "RETRY_LIMIT")
}

func overrideFromEnv(target *string, envName string) {
	if v := os.Getenv(envName); v != "" {
		*target = v
	}
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}

func (c Config) Validate() error {
	var errs []error

	switch resource.Strategy(c.Pool.Strategy) {
	case resource.StrategyRandom, resource.StrategyRoundRobin:
	default:
		errs = append(errs, fmt.Errorf("pool.strategy: unknown strategy %q", c.Pool.Strategy))
	}
	if c.Pool.DefaultScheme != "" && !isSupportedScheme(c.Pool.DefaultScheme) {
		errs = append(errs, fmt.Errorf("pool.default_scheme: unsupported scheme %q", c.Pool.DefaultScheme))
	}
	if c.Retry.Limit < 0 {
		errs = append(errs, errors.New("retry.limit must not be negative"))
	}
	if c.Retry.BackoffFactor < 1 {
		errs = append(errs, errors.New("retry.backoff_factor must be at least 1"))
	}
	if c.Retry.Ceiling > 0 && c.Retry.Ceiling < c.Retry.Floor {
		errs = append(errs, errors.New("retry.ceiling must not be below retry.floor"))
	}
	if c.Campaign.MaxBatches < 0 {
		errs = append(errs, errors.New("campaign.max_batches must not be negative"))
	}
	if _, err := parseHeaders(c.Executor.Headers); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func isSupportedScheme(scheme string) bool {
	for _, s := range resource.SupportedSchemes {
		if s == scheme {
			return true
		}
	}
	return false
}

// PoolOptions turns the [pool] section into resource pool options.
func (c Config) PoolOptions() resource.Options {
	feeds := make([]resource.Feed, 0, len(c.Pool.Feeds)+len(c.Pool.Files))
	for _, url := range c.Pool.Feeds {
		feeds = append(feeds, resource.NewHTTPFeed(url, c.Pool.FeedTimeout))
	}
	for _, path := range c.Pool.Files {
		feeds = append(feeds, resource.NewFileFeed(path))
	}

	return resource.Options{
		Feeds:            feeds,
		Prober:           resource.NewHTTPProber(c.Pool.ProbeTargets, c.Pool.ProbeTimeout),
		Backup:           c.Pool.Backup,
		DefaultScheme:    c.Pool.DefaultScheme,
		RandomScheme:     c.Pool.RandomScheme,
		MaxFails:         c.Pool.MaxFails,
		RefreshInterval:  c.Pool.RefreshInterval,
		ProbeConcurrency: c.Pool.ProbeConcurrency,
		Strategy:         resource.Strategy(c.Pool.Strategy),
	}
}

// RetryLimit maps retry.limit onto retry.Options: 0 in the file means no
// retries at all.
func (c Config) RetryLimit() int {
	if c.Retry.Limit == 0 {
		return retry.NoRetries
	}
	return c.Retry.Limit
}

func (c Config) ExecutorHeaders() map[string]string {
	headers, _ := parseHeaders(c.Executor.Headers)
	return headers
}

func (c Config) NotifyConfig() notify.Config {
	return notify.Config{
		APIKey:      c.Email.APIKey,
		FromName:    c.Email.FromName,
		FromAddress: c.Email.FromAddress,
		To:          c.Email.To,
	}
}

func parseHeaders(raw []string) (map[string]string, error) {
	headers := make(map[string]string, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("executor.headers: malformed header %q", h)
		}
		headers[name] = strings.TrimSpace(value)
	}
	return headers, nil
}
