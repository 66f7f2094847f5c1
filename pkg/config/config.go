package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvPrefix namespaces every environment variable the service reads.
	EnvPrefix = "GUILDPASS"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv = "GUILDPASS_APP_ENV"
	EnvDBDSN  = "GUILDPASS_DB_DSN"
	EnvDBHost = "GUILDPASS_DB_HOST"
	EnvDBUser = "GUILDPASS_DB_USER"
	EnvDBName = "GUILDPASS_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App       AppConfig
	Service   ServiceConfig
	DB        DBConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Password  PasswordConfig
	Operators OperatorsConfig
	Discord   DiscordConfig
	Roles     RolesConfig
	Lifecycle LifecycleConfig
	Flags     FeatureFlagsConfig
	GCP       GCPConfig
	PubSub    PubSubConfig
	Outbox    OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"GUILDPASS_APP_ENV" required:"true"`
	Port         string `envconfig:"GUILDPASS_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"GUILDPASS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"GUILDPASS_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"GUILDPASS_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"GUILDPASS_DB_DSN"`
	Driver string `envconfig:"GUILDPASS_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"GUILDPASS_DB_HOST"`
	LegacyPort     int    `envconfig:"GUILDPASS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"GUILDPASS_DB_USER"`
	LegacyPassword string `envconfig:"GUILDPASS_DB_PASSWORD"`
	LegacyName     string `envconfig:"GUILDPASS_DB_NAME"`
	LegacySSLMode  string `envconfig:"GUILDPASS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"GUILDPASS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"GUILDPASS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"GUILDPASS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"GUILDPASS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"GUILDPASS_REDIS_URL" required:"true"`
	Address      string        `envconfig:"GUILDPASS_REDIS_ADDR"`
	Password     string        `envconfig:"GUILDPASS_REDIS_PASSWORD"`
	DB           int           `envconfig:"GUILDPASS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"GUILDPASS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"GUILDPASS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"GUILDPASS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"GUILDPASS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"GUILDPASS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"GUILDPASS_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"GUILDPASS_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"GUILDPASS_JWT_EXPIRATION_MINUTES" default:"720"`
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"GUILDPASS_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"GUILDPASS_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"GUILDPASS_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"GUILDPASS_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"GUILDPASS_ARGON_KEY_LEN" default:"32"`
}

// OperatorsConfig lists the dashboard operators allowed to mint API tokens.
// Entries are "name:argon2id-hash" pairs.
type OperatorsConfig struct {
	Accounts []string `envconfig:"GUILDPASS_OPERATOR_ACCOUNTS"`
}

// Account returns the password hash configured for the named operator.
func (o OperatorsConfig) Account(name string) (string, bool) {
	for _, entry := range o.Accounts {
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(parts[0]), strings.TrimSpace(name)) {
			return parts[1], true
		}
	}
	return "", false
}

// DiscordConfig covers the gateway-facing REST surface: membership lookups,
// role grants, best-effort DMs and the notification webhook.
type DiscordConfig struct {
	BotToken       string        `envconfig:"GUILDPASS_DISCORD_BOT_TOKEN" required:"true"`
	BaseURL        string        `envconfig:"GUILDPASS_DISCORD_BASE_URL" default:"https://discord.com/api/v10"`
	WebhookURL     string        `envconfig:"GUILDPASS_DISCORD_WEBHOOK_URL"`
	RequestTimeout time.Duration `envconfig:"GUILDPASS_DISCORD_REQUEST_TIMEOUT" default:"10s"`
	HomeGuildID    string        `envconfig:"GUILDPASS_DISCORD_HOME_GUILD_ID" required:"true"`
}

// RolesConfig maps paid tiers to the role ids granted in the home guild.
// Injected into the role synchronizer so the mapping stays testable with fakes.
type RolesConfig struct {
	ProRoleID     string `envconfig:"GUILDPASS_ROLE_PRO" required:"true"`
	ProPlusRoleID string `envconfig:"GUILDPASS_ROLE_PRO_PLUS" required:"true"`
}

type LifecycleConfig struct {
	SweepInterval     time.Duration `envconfig:"GUILDPASS_LIFECYCLE_SWEEP_INTERVAL" default:"10m"`
	RoleSyncInterval  time.Duration `envconfig:"GUILDPASS_ROLE_SYNC_INTERVAL" default:"1h"`
	WarningLeadDays   int           `envconfig:"GUILDPASS_EXPIRY_WARNING_LEAD_DAYS" default:"7"`
	MigrationCooldown time.Duration `envconfig:"GUILDPASS_MIGRATION_COOLDOWN" default:"720h"`
	BatchLimit        int           `envconfig:"GUILDPASS_LIFECYCLE_BATCH_LIMIT" default:"250"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"GUILDPASS_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"GUILDPASS_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"GUILDPASS_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"GUILDPASS_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"GUILDPASS_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	NotificationTopic        string `envconfig:"GUILDPASS_PUBSUB_NOTIFICATION_TOPIC" default:"gp-notification-events"`
	NotificationSubscription string `envconfig:"GUILDPASS_PUBSUB_NOTIFICATION_SUBSCRIPTION" required:"true"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"GUILDPASS_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"GUILDPASS_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"GUILDPASS_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"GUILDPASS_OUTBOX_RETENTION_DAYS" default:"30"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
