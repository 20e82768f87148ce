package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig                `mapstructure:"app"`
	Server        ServerConfig             `mapstructure:"server"`
	Database      DatabaseConfig           `mapstructure:"database"`
	Scheduler     SchedulerConfig          `mapstructure:"scheduler"`
	Channels      map[string]ChannelConfig `mapstructure:"channels"`
	Notifications NotificationConfig       `mapstructure:"notifications"`
	Directory     DirectoryConfig          `mapstructure:"directory"`
	Auth          AuthConfig               `mapstructure:"auth"`
	Integrations  IntegrationConfig        `mapstructure:"integrations"`
	Audit         AuditConfig              `mapstructure:"audit"`
	Tracing       TracingConfig            `mapstructure:"tracing"`
	Logging       LoggingConfig            `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig holds the listen ports of the reminder API and the ops server
// (health, readiness and metrics).
type ServerConfig struct {
	Port            int `mapstructure:"port"`
	OpsPort         int `mapstructure:"ops_port"`
	ReadTimeout     int `mapstructure:"read_timeout"`     // milliseconds
	WriteTimeout    int `mapstructure:"write_timeout"`    // milliseconds
	ShutdownTimeout int `mapstructure:"shutdown_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	URL       string   `mapstructure:"url"` // single address shorthand
}

// GetAddresses returns the configured addresses, falling back to URL.
func (e ElasticsearchConfig) GetAddresses() []string {
	if len(e.Addresses) > 0 {
		return e.Addresses
	}
	if e.URL != "" {
		return []string{e.URL}
	}
	return nil
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// --- Reminder Engine ---

// MaxMessageLength is the width of the reminders.message column.
const MaxMessageLength = 500

// SchedulerConfig tunes the scheduling engine.
type SchedulerConfig struct {
	RecoveryLookback time.Duration `mapstructure:"recovery_lookback"`
	DeliveryTimeout  time.Duration `mapstructure:"delivery_timeout"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	MessageMaxLength int           `mapstructure:"message_max_length"`
}

// Provider names accepted in ChannelConfig.Provider.
const (
	ProviderSMTP    = "smtp"
	ProviderSES     = "ses"
	ProviderSNS     = "sns"
	ProviderWebhook = "webhook"
)

// ChannelConfig describes one outbound delivery identity, selected by a
// reminder's channelKey.
type ChannelConfig struct {
	Provider        string `mapstructure:"provider"`
	From            string `mapstructure:"from"`
	OperatorAddress string `mapstructure:"operator_address"`

	// ses / sns
	Region   string `mapstructure:"region"`
	SenderID string `mapstructure:"sender_id"`

	// smtp
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	// webhook
	URL     string `mapstructure:"url"`
	Timeout int    `mapstructure:"timeout"` // milliseconds
}

// NotificationConfig holds defaults applied to reminders and channels.
type NotificationConfig struct {
	OperatorAddress string `mapstructure:"operator_address"`
	DefaultChannel  string `mapstructure:"default_channel"`
	DefaultSubject  string `mapstructure:"default_subject"`
}

// DirectoryConfig selects the customer source and its cache.
type DirectoryConfig struct {
	Source        string        `mapstructure:"source"` // postgres | zoho
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	LocalCacheTTL time.Duration `mapstructure:"local_cache_ttl"`
}

// Auth modes accepted in AuthConfig.Mode.
const (
	AuthModeNone     = "none"
	AuthModeJWT      = "jwt"
	AuthModeKeycloak = "keycloak"
)

// AuthConfig holds settings for the API authentication middleware.
type AuthConfig struct {
	Mode string `mapstructure:"mode"`

	JWT struct {
		Secret string `mapstructure:"secret"`
	} `mapstructure:"jwt"`

	Keycloak struct {
		URL          string `mapstructure:"url"`
		Realm        string `mapstructure:"realm"`
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
	} `mapstructure:"keycloak"`
}

// IntegrationConfig holds settings for external CRM services.
type IntegrationConfig struct {
	Zoho struct {
		BaseURL   string `mapstructure:"base_url"`
		APIKey    string `mapstructure:"api_key"`
		AuthToken string `mapstructure:"oauth_token"`
	} `mapstructure:"zoho"`
}

// AuditConfig controls the Elasticsearch delivery audit trail.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Index   string `mapstructure:"index"`
}

// TracingConfig controls the Jaeger span exporter.
type TracingConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	ServiceName    string `mapstructure:"service_name"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
