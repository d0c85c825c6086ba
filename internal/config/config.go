package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the bridge.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	Telegram TelegramConfig
	Discord  DiscordConfig
	Bridge   BridgeConfig
	Watchdog WatchdogConfig
	Archive  ArchiveConfig
}

// AppConfig controls process level behavior and the admin listener.
type AppConfig struct {
	Name           string        `env:"APP_NAME" envDefault:"ticket-bridge"`
	Env            string        `env:"APP_ENV" envDefault:"development"`
	Version        string        `env:"APP_VERSION" envDefault:"dev"`
	Host           string        `env:"ADMIN_HOST" envDefault:"127.0.0.1"`
	Port           string        `env:"ADMIN_PORT" envDefault:"8080"`
	RequestTimeout time.Duration `env:"HTTP_REQUEST_TIMEOUT" envDefault:"30s"`
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN             string `env:"POSTGRES_DSN"`
	MaxConns        int32  `env:"POSTGRES_MAX_CONNS" envDefault:"10"`
	MinConns        int32  `env:"POSTGRES_MIN_CONNS" envDefault:"2"`
	RunMigrations   bool   `env:"POSTGRES_RUN_MIGRATIONS" envDefault:"true"`
	MigrationsDir   string `env:"POSTGRES_MIGRATIONS_DIR" envDefault:"migrations"`
	ConnectAttempts int    `env:"POSTGRES_CONNECT_ATTEMPTS" envDefault:"5"`
	ConnMaxIdleSec  int32  `env:"POSTGRES_CONN_MAX_IDLE_SECONDS" envDefault:"30"`
	ConnMaxLifeSec  int32  `env:"POSTGRES_CONN_MAX_LIFE_SECONDS" envDefault:"300"`
}

// RedisConfig holds Redis connection values. Addr may list several
// comma-separated nodes.
type RedisConfig struct {
	Addr        string `env:"REDIS_ADDR"`
	MasterName  string `env:"REDIS_MASTER_NAME"`
	Password    string `env:"REDIS_PASSWORD"`
	DB          int    `env:"REDIS_DB" envDefault:"0"`
	QueuePrefix string `env:"REDIS_QUEUE_PREFIX" envDefault:"ticketbridge:queue"`
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string `env:"LOG_LEVEL" envDefault:"info"`
}

// AuthConfig defines admin API authentication parameters.
type AuthConfig struct {
	JWTSecret         string        `env:"AUTH_JWT_SECRET" envDefault:"dev-secret"`
	TokenTTL          time.Duration `env:"AUTH_TOKEN_TTL" envDefault:"1h"`
	AdminUsername     string        `env:"ADMIN_USERNAME" envDefault:"admin"`
	AdminPasswordHash string        `env:"ADMIN_PASSWORD_HASH"`
}

// TelegramConfig configures the DM-side adapter.
type TelegramConfig struct {
	Token     string   `env:"TELEGRAM_TOKEN"`
	AllowFrom []string `env:"TELEGRAM_ALLOW_FROM" envSeparator:","`
}

// DiscordConfig configures the channel-side adapter.
type DiscordConfig struct {
	Token   string `env:"DISCORD_TOKEN"`
	GuildID string `env:"DISCORD_GUILD_ID"`
}

// BridgeConfig tunes relay, queueing and reconnect behavior.
type BridgeConfig struct {
	SendTimeout         time.Duration `env:"BRIDGE_SEND_TIMEOUT" envDefault:"10s"`
	ReconnectDelay      time.Duration `env:"BRIDGE_RECONNECT_DELAY" envDefault:"10s"`
	ReconnectMaxDelay   time.Duration `env:"BRIDGE_RECONNECT_MAX_DELAY" envDefault:"5m"`
	TransientBudget     int           `env:"BRIDGE_TRANSIENT_BUDGET" envDefault:"5"`
	TransientWindow     time.Duration `env:"BRIDGE_TRANSIENT_WINDOW" envDefault:"1h"`
	DefaultCategory     string        `env:"BRIDGE_DEFAULT_CATEGORY" envDefault:"general"`
	CategoriesFile      string        `env:"BRIDGE_CATEGORIES_FILE" envDefault:"categories.yaml"`
	RedeliveryAttempts  int           `env:"BRIDGE_REDELIVERY_ATTEMPTS" envDefault:"3"`
	RedeliveryDelay     time.Duration `env:"BRIDGE_REDELIVERY_DELAY" envDefault:"2s"`
	HealthCheckInterval time.Duration `env:"BRIDGE_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// WatchdogConfig controls the supervising process.
type WatchdogConfig struct {
	InitialDelay  time.Duration `env:"WATCHDOG_INITIAL_DELAY" envDefault:"5s"`
	MaxDelay      time.Duration `env:"WATCHDOG_MAX_DELAY" envDefault:"5m"`
	RestartBudget int           `env:"WATCHDOG_RESTART_BUDGET" envDefault:"3"`
	Window        time.Duration `env:"WATCHDOG_WINDOW" envDefault:"10m"`
	HistoryFile   string        `env:"WATCHDOG_HISTORY_FILE" envDefault:"watchdog-history.cbor"`
	GracePeriod   time.Duration `env:"WATCHDOG_GRACE_PERIOD" envDefault:"15s"`
}

// ArchiveConfig controls the scheduled transcript archival sweep.
type ArchiveConfig struct {
	Enabled  bool          `env:"ARCHIVE_ENABLED" envDefault:"true"`
	Schedule string        `env:"ARCHIVE_SCHEDULE" envDefault:"0 * * * *"`
	After    time.Duration `env:"ARCHIVE_AFTER" envDefault:"24h"`
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the bridge cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Bridge.SendTimeout <= 0 {
		errs = append(errs, errors.New("BRIDGE_SEND_TIMEOUT must be positive"))
	}
	if c.Bridge.ReconnectDelay <= 0 || c.Bridge.ReconnectMaxDelay < c.Bridge.ReconnectDelay {
		errs = append(errs, errors.New("BRIDGE_RECONNECT_MAX_DELAY must be >= BRIDGE_RECONNECT_DELAY > 0"))
	}
	if c.Bridge.TransientBudget <= 0 {
		errs = append(errs, errors.New("BRIDGE_TRANSIENT_BUDGET must be positive"))
	}
	if c.Bridge.TransientWindow <= 0 {
		errs = append(errs, errors.New("BRIDGE_TRANSIENT_WINDOW must be positive"))
	}
	if c.Watchdog.InitialDelay <= 0 || c.Watchdog.MaxDelay < c.Watchdog.InitialDelay {
		errs = append(errs, errors.New("WATCHDOG_MAX_DELAY must be >= WATCHDOG_INITIAL_DELAY > 0"))
	}
	if c.Watchdog.RestartBudget <= 0 {
		errs = append(errs, errors.New("WATCHDOG_RESTART_BUDGET must be positive"))
	}
	if c.Watchdog.Window <= 0 {
		errs = append(errs, errors.New("WATCHDOG_WINDOW must be positive"))
	}
	return errors.Join(errs...)
}

// Addr returns the admin HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}
