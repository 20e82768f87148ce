package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configs/config.yaml, merges config.<APP_ENVIRONMENT>.yaml on top
// and lets environment variables override any key (database.postgres.host is
// DATABASE_POSTGRES_HOST).
func Load() (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // optional overlay

	return decode(v)
}

// LoadFromFile loads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)
	return v
}

// bindEnvKeys registers keys that may only come from the environment.
// AutomaticEnv alone does not surface keys absent from every config file.
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"database.postgres.host",
		"database.postgres.port",
		"database.postgres.database",
		"database.postgres.user",
		"database.postgres.password",
		"database.redis.address",
		"database.redis.password",
		"auth.mode",
		"auth.jwt.secret",
		"notifications.operator_address",
		"integrations.zoho.api_key",
		"integrations.zoho.oauth_token",
	} {
		_ = v.BindEnv(key)
	}
}

func decode(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile loads the first .env found near the working directory or the
// module root.
func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// findProjectRoot walks up from the working directory looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// expandEnvVars replaces ${VAR} placeholders in string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			expanded := os.ExpandEnv(strVal)
			if expanded != strVal && expanded != "" {
				v.Set(key, expanded)
			}
		}
	}
}

// overrideEmptyConfig fills secrets from the variable names the CRM backend
// has always used.
func overrideEmptyConfig(cfg *Config) {
	if cfg.Auth.JWT.Secret == "" {
		if val := os.Getenv("JWT_SECRET"); val != "" {
			cfg.Auth.JWT.Secret = val
		}
	}
	if cfg.Notifications.OperatorAddress == "" {
		if val := os.Getenv("SENT_USER"); val != "" {
			cfg.Notifications.OperatorAddress = val
		}
	}

	if cfg.Database.Postgres.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Database.Postgres.User = val
		}
	}
	if cfg.Database.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Database.Postgres.Password = val
		}
	}

	if cfg.Integrations.Zoho.APIKey == "" {
		if val := os.Getenv("ZOHO_CRM_API_KEY"); val != "" {
			cfg.Integrations.Zoho.APIKey = val
		}
	}
	if cfg.Integrations.Zoho.AuthToken == "" {
		if val := os.Getenv("ZOHO_CRM_OAUTH_TOKEN"); val != "" {
			cfg.Integrations.Zoho.AuthToken = val
		}
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "crm-reminders"
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.OpsPort == 0 {
		cfg.Server.OpsPort = 9090
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15000
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30000
	}

	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}

	if cfg.Scheduler.RecoveryLookback == 0 {
		cfg.Scheduler.RecoveryLookback = 7 * 24 * time.Hour
	}
	if cfg.Scheduler.DeliveryTimeout == 0 {
		cfg.Scheduler.DeliveryTimeout = 30 * time.Second
	}
	if cfg.Scheduler.ShutdownTimeout == 0 {
		cfg.Scheduler.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Scheduler.MessageMaxLength == 0 {
		cfg.Scheduler.MessageMaxLength = MaxMessageLength
	}

	if cfg.Notifications.DefaultChannel == "" {
		cfg.Notifications.DefaultChannel = "default"
	}
	if cfg.Notifications.DefaultSubject == "" {
		cfg.Notifications.DefaultSubject = "Scheduled Reminder"
	}

	for key, ch := range cfg.Channels {
		if ch.Provider == "" {
			ch.Provider = ProviderSMTP
		}
		if ch.Provider == ProviderSMTP && ch.Port == 0 {
			ch.Port = 587
		}
		if ch.Provider == ProviderWebhook && ch.Timeout == 0 {
			ch.Timeout = 10000
		}
		cfg.Channels[key] = ch
	}

	if cfg.Directory.Source == "" {
		cfg.Directory.Source = "postgres"
	}
	if cfg.Directory.CacheTTL == 0 {
		cfg.Directory.CacheTTL = 5 * time.Minute
	}
	if cfg.Directory.LocalCacheTTL == 0 {
		cfg.Directory.LocalCacheTTL = 30 * time.Second
	}

	if cfg.Integrations.Zoho.BaseURL == "" {
		cfg.Integrations.Zoho.BaseURL = "https://www.zohoapis.com/crm/v3"
	}

	if cfg.Auth.Mode == "" {
		cfg.Auth.Mode = AuthModeJWT
	}

	if cfg.Audit.Index == "" {
		cfg.Audit.Index = "reminder-deliveries"
	}

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = cfg.App.Name
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Database.Postgres.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}

	if cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}

	if cfg.Audit.Enabled && len(cfg.Database.Elasticsearch.GetAddresses()) == 0 {
		return fmt.Errorf("database.elasticsearch.addresses or url is required when audit is enabled")
	}

	if cfg.Scheduler.MessageMaxLength > MaxMessageLength {
		return fmt.Errorf("scheduler.message_max_length must not exceed %d", MaxMessageLength)
	}

	if cfg.Scheduler.RecoveryLookback < 0 {
		return fmt.Errorf("scheduler.recovery_lookback must not be negative")
	}

	if len(cfg.Channels) == 0 {
		return fmt.Errorf("at least one entry under channels is required")
	}
	if _, ok := cfg.Channels[cfg.Notifications.DefaultChannel]; !ok {
		return fmt.Errorf("notifications.default_channel %q is not a configured channel", cfg.Notifications.DefaultChannel)
	}
	for key, ch := range cfg.Channels {
		if err := validateChannel(key, ch); err != nil {
			return err
		}
	}

	switch cfg.Auth.Mode {
	case AuthModeNone:
	case AuthModeJWT:
		if cfg.Auth.JWT.Secret == "" {
			return fmt.Errorf("auth.jwt.secret is required when auth.mode is jwt")
		}
	case AuthModeKeycloak:
		if cfg.Auth.Keycloak.URL == "" || cfg.Auth.Keycloak.Realm == "" {
			return fmt.Errorf("auth.keycloak.url and auth.keycloak.realm are required when auth.mode is keycloak")
		}
	default:
		return fmt.Errorf("auth.mode %q is not one of none, jwt, keycloak", cfg.Auth.Mode)
	}

	switch cfg.Directory.Source {
	case "postgres":
	case "zoho":
		if cfg.Integrations.Zoho.AuthToken == "" {
			return fmt.Errorf("integrations.zoho.oauth_token is required when directory.source is zoho")
		}
	default:
		return fmt.Errorf("directory.source %q is not one of postgres, zoho", cfg.Directory.Source)
	}

	return nil
}

func validateChannel(key string, ch ChannelConfig) error {
	switch ch.Provider {
	case ProviderSMTP:
		if ch.Host == "" || ch.From == "" {
			return fmt.Errorf("channels.%s: host and from are required for smtp", key)
		}
	case ProviderSES:
		if ch.Region == "" || ch.From == "" {
			return fmt.Errorf("channels.%s: region and from are required for ses", key)
		}
	case ProviderSNS:
		if ch.Region == "" {
			return fmt.Errorf("channels.%s: region is required for sns", key)
		}
	case ProviderWebhook:
		if ch.URL == "" {
			return fmt.Errorf("channels.%s: url is required for webhook", key)
		}
	default:
		return fmt.Errorf("channels.%s: unknown provider %q", key, ch.Provider)
	}
	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// OperatorAddress returns the operator mailbox for channelKey, falling back to
// the global notifications.operator_address.
func (c *Config) OperatorAddress(channelKey string) string {
	if ch, ok := c.Channels[channelKey]; ok && ch.OperatorAddress != "" {
		return ch.OperatorAddress
	}
	return c.Notifications.OperatorAddress
}
