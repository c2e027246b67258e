package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all process configuration for the api, worker and tooling binaries.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Rabbit    RabbitConfig    `mapstructure:"rabbit"`
	Vendor    VendorConfig    `mapstructure:"vendor" validate:"required"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" validate:"required"`
	Delivery  DeliveryConfig  `mapstructure:"delivery" validate:"required"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Admin     AdminConfig     `mapstructure:"admin"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	AppEnv   string `mapstructure:"app_env" validate:"required,oneof=development production test"`
}

// DatabaseConfig.DSN selects the driver: "sqlite:<path>" uses sqlite, anything
// else is handed to the mysql driver (an optional "mysql://" prefix is stripped).
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn" validate:"required"`
}

// RedisConfig is optional; an empty Addr disables the session token cache.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db" validate:"gte=0"`
	TokenTTL time.Duration `mapstructure:"token_ttl" validate:"gte=0"`
}

// RabbitConfig is optional; an empty URL disables task-created notifications.
type RabbitConfig struct {
	URL   string `mapstructure:"url"`
	Queue string `mapstructure:"queue" validate:"required"`
}

type VendorConfig struct {
	APIBaseURL      string        `mapstructure:"api_base_url" validate:"required,url"`
	AuthBaseURL     string        `mapstructure:"auth_base_url" validate:"required,url"`
	AppOrigin       string        `mapstructure:"app_origin" validate:"required,url"`
	CookieDomain    string        `mapstructure:"cookie_domain" validate:"required"`
	ClerkAPIVersion string        `mapstructure:"clerk_api_version" validate:"required"`
	ClerkJSVersion  string        `mapstructure:"clerk_js_version" validate:"required"`
	UserAgent       string        `mapstructure:"user_agent"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	AuthTimeout     time.Duration `mapstructure:"auth_timeout" validate:"gt=0"`
}

type SchedulerConfig struct {
	DispatchInterval    time.Duration `mapstructure:"dispatch_interval" validate:"gt=0"`
	PollInterval        time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	PollRequestDelay    time.Duration `mapstructure:"poll_request_delay" validate:"gte=0"`
	PollMaxInstances    int           `mapstructure:"poll_max_instances" validate:"gte=1"`
	DeliveryInterval    time.Duration `mapstructure:"delivery_interval" validate:"gt=0"`
	BalanceInterval     time.Duration `mapstructure:"balance_interval" validate:"gt=0"`
	DispatchConcurrency int           `mapstructure:"dispatch_concurrency" validate:"gte=1"`
	DeliveryConcurrency int           `mapstructure:"delivery_concurrency" validate:"gte=1"`
	// MaxProcessingAge fails tasks stuck in processing for longer; zero disables it.
	MaxProcessingAge time.Duration `mapstructure:"max_processing_age" validate:"gte=0"`
}

type DeliveryConfig struct {
	MaxRetries int           `mapstructure:"max_retries" validate:"gte=1"`
	BaseDelay  time.Duration `mapstructure:"base_delay" validate:"gte=0"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type StorageConfig struct {
	ImageDir string `mapstructure:"image_dir" validate:"required"`
}

type CatalogConfig struct {
	StylesFile string `mapstructure:"styles_file"`
}

// AdminConfig bootstraps an admin client on api start when both fields are set.
type AdminConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.app_env", "production")

	v.SetDefault("database.dsn", "sqlite:relay.db")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.token_ttl", 45*time.Second)

	v.SetDefault("rabbit.url", "")
	v.SetDefault("rabbit.queue", "relay_tasks")

	v.SetDefault("vendor.api_base_url", "https://fnf.higgsfield.ai")
	v.SetDefault("vendor.auth_base_url", "https://clerk.higgsfield.ai")
	v.SetDefault("vendor.app_origin", "https://higgsfield.ai")
	v.SetDefault("vendor.cookie_domain", "higgsfield.ai")
	v.SetDefault("vendor.clerk_api_version", "2025-04-10")
	v.SetDefault("vendor.clerk_js_version", "5.86.0")
	v.SetDefault("vendor.user_agent", "Mozilla/5.0 (X11; Linux x86_64) Gecko/20100101 Firefox/141.0")
	v.SetDefault("vendor.request_timeout", 120*time.Second)
	v.SetDefault("vendor.auth_timeout", 20*time.Second)

	v.SetDefault("scheduler.dispatch_interval", 3*time.Second)
	v.SetDefault("scheduler.poll_interval", 3*time.Second)
	v.SetDefault("scheduler.poll_request_delay", 250*time.Millisecond)
	v.SetDefault("scheduler.poll_max_instances", 1)
	v.SetDefault("scheduler.delivery_interval", 2*time.Second)
	v.SetDefault("scheduler.balance_interval", 10*time.Minute)
	v.SetDefault("scheduler.dispatch_concurrency", 8)
	v.SetDefault("scheduler.delivery_concurrency", 16)
	v.SetDefault("scheduler.max_processing_age", time.Duration(0))

	v.SetDefault("delivery.max_retries", 10)
	v.SetDefault("delivery.base_delay", 60*time.Second)
	v.SetDefault("delivery.timeout", 30*time.Second)

	v.SetDefault("storage.image_dir", "data/images")
	v.SetDefault("catalog.styles_file", "data/soul_styles.json")

	v.SetDefault("admin.username", "")
	v.SetDefault("admin.password", "")
}

// Load reads configuration from defaults, an optional file named by
// RELAY_CONFIG_FILE, an optional .env file and RELAY_* environment variables,
// in increasing order of precedence.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("RELAY_CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
