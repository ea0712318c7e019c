package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config — конфигурация процессов ensemble, ensemble-server и ensemble-worker.
//
// Источники (по убыванию приоритета): переменные окружения
// (LOG_LEVEL, HTTP_ADDR, DB_URL, ...), файл конфигурации, значения по умолчанию.
type Config struct {
	// Logging
	LogLevel  string `mapstructure:"log_level" default:"info" validate:"oneof=debug info warn warning error"`
	LogFormat string `mapstructure:"log_format" default:"json" validate:"oneof=json text"`

	// HTTP
	HTTPAddr           string `mapstructure:"http_addr" default:":8080" validate:"required"`
	ShutdownTimeoutSec int    `mapstructure:"shutdown_timeout_sec" default:"30" validate:"gte=1"`

	// APIURL — адрес сервера для CLI.
	APIURL string `mapstructure:"api_url" default:"http://localhost:8080" validate:"required,url"`

	// EnsembleDir — каталог с описаниями ensemble (*.yaml, *.json).
	EnsembleDir string `mapstructure:"ensemble_dir" default:"./ensembles"`

	// Storage (опционально)
	DBURL      string `mapstructure:"db_url"`
	DBMaxConns int32  `mapstructure:"db_max_conns" default:"10" validate:"gte=1"`

	// Broker (опционально)
	RabbitMQURL string `mapstructure:"rabbitmq_url"`

	// Cache: Redis, если задан адрес, иначе LRU в памяти.
	RedisAddr   string `mapstructure:"redis_addr"`
	CacheSize   int    `mapstructure:"cache_size" default:"1024" validate:"gte=0"`
	CacheTTLSec int    `mapstructure:"cache_ttl_sec" default:"300" validate:"gte=0"`

	// Execution
	MaxParallel     int `mapstructure:"max_parallel" validate:"gte=0"`
	Workers         int `mapstructure:"workers" default:"1" validate:"gte=1"`
	PollIntervalSec int `mapstructure:"poll_interval_sec" default:"10" validate:"gte=1"`

	// Namespace env: переменные процесса с префиксом EnvPrefix (префикс отрезается)
	// плюс файл EnvFile в формате .env.
	EnvPrefix string `mapstructure:"env_prefix" default:"ENSEMBLE_ENV_"`
	EnvFile   string `mapstructure:"env_file"`
}

// keys — ключи, связываемые с одноимёнными переменными окружения в верхнем регистре.
var keys = []string{
	"log_level", "log_format",
	"http_addr", "shutdown_timeout_sec", "api_url",
	"ensemble_dir",
	"db_url", "db_max_conns",
	"rabbitmq_url",
	"redis_addr", "cache_size", "cache_ttl_sec",
	"max_parallel", "workers", "poll_interval_sec",
	"env_prefix", "env_file",
}

var validate = validator.New()

// Load читает конфигурацию. file может быть пустым.
func Load(file string) (*Config, error) {
	v := viper.New()
	for _, key := range keys {
		if err := v.BindEnv(key, strings.ToUpper(key)); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// CacheTTL возвращает TTL кэша.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSec) * time.Second
}

// PollInterval возвращает интервал polling pending runs.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

// ShutdownTimeout возвращает время на graceful shutdown.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSec) * time.Second
}

// EnvNamespace строит значения namespace env для runs.
// Переменные процесса переопределяют значения из файла.
func (c *Config) EnvNamespace() (map[string]any, error) {
	env := make(map[string]any)

	if c.EnvFile != "" {
		values, err := godotenv.Read(c.EnvFile)
		if err != nil {
			return nil, fmt.Errorf("read env file %s: %w", c.EnvFile, err)
		}
		for k, v := range values {
			env[k] = v
		}
	}

	if c.EnvPrefix != "" {
		for _, kv := range os.Environ() {
			name, value, ok := strings.Cut(kv, "=")
			if !ok || !strings.HasPrefix(name, c.EnvPrefix) {
				continue
			}
			if key := strings.TrimPrefix(name, c.EnvPrefix); key != "" {
				env[key] = value
			}
		}
	}
	return env, nil
}

// LoadDotEnv загружает .env в окружение процесса (если файл есть).
// Уже заданные переменные не перезаписываются.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
