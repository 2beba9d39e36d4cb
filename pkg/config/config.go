package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces every environment variable the platform reads.
const EnvPrefix = "DUKALINK"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "DUKALINK_DB_DSN"
	EnvDBHost = "DUKALINK_DB_HOST"
	EnvDBUser = "DUKALINK_DB_USER"
	EnvDBName = "DUKALINK_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App           AppConfig
	DB            DBConfig
	Redis         RedisConfig
	FeatureFlags  FeatureFlagsConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	Pesapal       PesapalConfig
	Refresh       RefreshConfig
	Notifications NotificationsConfig
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
	Env          string   `envconfig:"DUKALINK_APP_ENV" required:"true"`
	Port         string   `envconfig:"DUKALINK_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"DUKALINK_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"DUKALINK_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"DUKALINK_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"DUKALINK_DB_DSN"`
	Driver string `envconfig:"DUKALINK_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"DUKALINK_DB_HOST"`
	LegacyPort     int    `envconfig:"DUKALINK_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"DUKALINK_DB_USER"`
	LegacyPassword string `envconfig:"DUKALINK_DB_PASSWORD"`
	LegacyName     string `envconfig:"DUKALINK_DB_NAME"`
	LegacySSLMode  string `envconfig:"DUKALINK_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"DUKALINK_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"DUKALINK_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"DUKALINK_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"DUKALINK_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"DUKALINK_REDIS_URL" required:"true"`
	Address      string        `envconfig:"DUKALINK_REDIS_ADDR"`
	Password     string        `envconfig:"DUKALINK_REDIS_PASSWORD"`
	DB           int           `envconfig:"DUKALINK_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"DUKALINK_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"DUKALINK_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"DUKALINK_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"DUKALINK_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"DUKALINK_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"DUKALINK_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"DUKALINK_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"DUKALINK_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"DUKALINK_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"DUKALINK_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	NotificationTopic        string `envconfig:"DUKALINK_PUBSUB_NOTIFICATION_TOPIC" default:"dl-notification-events"`
	NotificationSubscription string `envconfig:"DUKALINK_PUBSUB_NOTIFICATION_SUBSCRIPTION"`
}

// PesapalConfig carries the credentials and tuning knobs for the hosted
// payment gateway.
type PesapalConfig struct {
	BaseURL           string        `envconfig:"DUKALINK_PESAPAL_BASE_URL"`
	ConsumerKey       string        `envconfig:"DUKALINK_PESAPAL_CONSUMER_KEY" required:"true"`
	ConsumerSecret    string        `envconfig:"DUKALINK_PESAPAL_CONSUMER_SECRET" required:"true"`
	Env               string        `envconfig:"DUKALINK_PESAPAL_ENV" default:"sandbox"`
	CallbackURL       string        `envconfig:"DUKALINK_PESAPAL_CALLBACK_URL" required:"true"`
	IPNURL            string        `envconfig:"DUKALINK_PESAPAL_IPN_URL"`
	IPNID             string        `envconfig:"DUKALINK_PESAPAL_IPN_ID"`
	Currency          string        `envconfig:"DUKALINK_PESAPAL_CURRENCY" default:"KES"`
	RequestTimeout    time.Duration `envconfig:"DUKALINK_PESAPAL_REQUEST_TIMEOUT" default:"12s"`
	TokenMaxAttempts  int           `envconfig:"DUKALINK_PESAPAL_TOKEN_MAX_ATTEMPTS" default:"3"`
	TokenRetryBackoff time.Duration `envconfig:"DUKALINK_PESAPAL_TOKEN_RETRY_BACKOFF" default:"500ms"`
}

// Environment returns the normalized gateway environment (sandbox/production).
func (p PesapalConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(p.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type RefreshConfig struct {
	MaxBulkOrders   int           `envconfig:"DUKALINK_REFRESH_MAX_BULK_ORDERS" default:"50"`
	IPNDedupeWindow time.Duration `envconfig:"DUKALINK_REFRESH_IPN_DEDUPE_WINDOW" default:"2m"`
}

type NotificationsConfig struct {
	Enabled bool `envconfig:"DUKALINK_NOTIFICATIONS_ENABLED" default:"true"`
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
