package config

import (
	"strings"
	"time"

	"github.com/oncokb/backend/pkg/logger"
	"github.com/spf13/viper"
)

type Config struct {
	DB            DBConfig
	Redis         RedisConfig
	Storage       StorageConfig
	JWT           JWTConfig
	Server        ServerConfig
	Token         TokenConfig
	Mail          MailConfig
	Slack         SlackConfig
	Application   ApplicationConfig
	Audit         AuditConfig
	Notifications NotificationConfig
	Logging       LoggingConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// RedisConfig configures the token lookup cache. An empty Addr disables it.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	TokenCacheTTL time.Duration
}

type StorageConfig struct {
	Endpoint    string
	AccessKey   string
	SecretKey   string
	Region      string
	Bucket      string
	UsageBucket string
	UseSSL      bool
}

type JWTConfig struct {
	Secret          string
	ExpirationHours int
}

type ServerConfig struct {
	Port           string
	FrontendURL    string
	AllowedOrigins string
}

type TokenConfig struct {
	ValidityDays      int
	TrialValidityDays int
	WindDownDays      int
}

func (t TokenConfig) Validity() time.Duration {
	return days(t.ValidityDays)
}

func (t TokenConfig) TrialValidity() time.Duration {
	return days(t.TrialValidityDays)
}

func (t TokenConfig) WindDown() time.Duration {
	return days(t.WindDownDays)
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

func (m MailConfig) Enabled() bool {
	return m.Host != ""
}

type SlackConfig struct {
	WebhookURL    string
	SigningSecret string
}

type ApplicationConfig struct {
	LicensedDomains        []string
	AcademicClarifyDomains []string
	RegistrationEmail      string
	LicenseEmail           string
	ContactEmail           string
	TechDevEmail           string
}

type AuditConfig struct {
	ExportInterval time.Duration
}

type NotificationConfig struct {
	QueueSize int
}

type LoggingConfig struct {
	Level  string
	Format string
}

var defaults = map[string]interface{}{
	"DB_HOST":     "localhost",
	"DB_PORT":     "5432",
	"DB_USER":     "oncokb",
	"DB_PASSWORD": "oncokb_secret",
	"DB_NAME":     "oncokb",
	"DB_SSLMODE":  "disable",

	"REDIS_ADDR":            "",
	"REDIS_PASSWORD":        "",
	"REDIS_DB":              0,
	"REDIS_TOKEN_CACHE_TTL": "5m",

	"MINIO_ENDPOINT":     "localhost:9000",
	"MINIO_ACCESS_KEY":   "",
	"MINIO_SECRET_KEY":   "",
	"MINIO_REGION":       "",
	"MINIO_BUCKET":       "oncokb",
	"MINIO_USAGE_BUCKET": "oncokb-usage",
	"MINIO_USE_SSL":      false,

	"JWT_SECRET":           "change-me-in-production",
	"JWT_EXPIRATION_HOURS": 24,

	"SERVER_PORT":     "8080",
	"FRONTEND_URL":    "http://localhost:9000",
	"ALLOWED_ORIGINS": "http://localhost:9000,http://127.0.0.1:9000",

	"TOKEN_VALIDITY_DAYS":       180,
	"TOKEN_TRIAL_VALIDITY_DAYS": 90,
	"TOKEN_WIND_DOWN_DAYS":      7,

	"SMTP_HOST":      "",
	"SMTP_PORT":      587,
	"SMTP_USERNAME":  "",
	"SMTP_PASSWORD":  "",
	"MAIL_FROM":      "noreply@oncokb.org",
	"MAIL_FROM_NAME": "OncoKB",

	"SLACK_WEBHOOK_URL":    "",
	"SLACK_SIGNING_SECRET": "",

	"APP_LICENSED_DOMAINS":         "",
	"APP_ACADEMIC_CLARIFY_DOMAINS": "gmail.com,hotmail.com,outlook.com,yahoo.com,qq.com,163.com",
	"APP_REGISTRATION_EMAIL":       "registration@oncokb.org",
	"APP_LICENSE_EMAIL":            "licensing@oncokb.org",
	"APP_CONTACT_EMAIL":            "contact@oncokb.org",
	"APP_TECH_DEV_EMAIL":           "dev@oncokb.org",

	"AUDIT_EXPORT_INTERVAL":   "1h",
	"NOTIFICATION_QUEUE_SIZE": 500,

	"LOG_LEVEL":  "info",
	"LOG_FORMAT": "json",
}

// Load reads defaults, an optional file named by CONFIG_FILE, and finally the
// environment. Environment variables win over the file.
func Load() *Config {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path := strings.TrimSpace(v.GetString("CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			logger.Warn("config_file_unreadable", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
		}
	}

	return &Config{
		DB: DBConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			Name:     v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		Redis: RedisConfig{
			Addr:          v.GetString("REDIS_ADDR"),
			Password:      v.GetString("REDIS_PASSWORD"),
			DB:            v.GetInt("REDIS_DB"),
			TokenCacheTTL: v.GetDuration("REDIS_TOKEN_CACHE_TTL"),
		},
		Storage: StorageConfig{
			Endpoint:    v.GetString("MINIO_ENDPOINT"),
			AccessKey:   v.GetString("MINIO_ACCESS_KEY"),
			SecretKey:   v.GetString("MINIO_SECRET_KEY"),
			Region:      v.GetString("MINIO_REGION"),
			Bucket:      v.GetString("MINIO_BUCKET"),
			UsageBucket: v.GetString("MINIO_USAGE_BUCKET"),
			UseSSL:      v.GetBool("MINIO_USE_SSL"),
		},
		JWT: JWTConfig{
			Secret:          v.GetString("JWT_SECRET"),
			ExpirationHours: v.GetInt("JWT_EXPIRATION_HOURS"),
		},
		Server: ServerConfig{
			Port:           v.GetString("SERVER_PORT"),
			FrontendURL:    strings.TrimRight(v.GetString("FRONTEND_URL"), "/"),
			AllowedOrigins: v.GetString("ALLOWED_ORIGINS"),
		},
		Token: TokenConfig{
			ValidityDays:      v.GetInt("TOKEN_VALIDITY_DAYS"),
			TrialValidityDays: v.GetInt("TOKEN_TRIAL_VALIDITY_DAYS"),
			WindDownDays:      v.GetInt("TOKEN_WIND_DOWN_DAYS"),
		},
		Mail: MailConfig{
			Host:     v.GetString("SMTP_HOST"),
			Port:     v.GetInt("SMTP_PORT"),
			Username: v.GetString("SMTP_USERNAME"),
			Password: v.GetString("SMTP_PASSWORD"),
			From:     v.GetString("MAIL_FROM"),
			FromName: v.GetString("MAIL_FROM_NAME"),
		},
		Slack: SlackConfig{
			WebhookURL:    v.GetString("SLACK_WEBHOOK_URL"),
			SigningSecret: v.GetString("SLACK_SIGNING_SECRET"),
		},
		Application: ApplicationConfig{
			LicensedDomains:        getList(v, "APP_LICENSED_DOMAINS"),
			AcademicClarifyDomains: getList(v, "APP_ACADEMIC_CLARIFY_DOMAINS"),
			RegistrationEmail:      v.GetString("APP_REGISTRATION_EMAIL"),
			LicenseEmail:           v.GetString("APP_LICENSE_EMAIL"),
			ContactEmail:           v.GetString("APP_CONTACT_EMAIL"),
			TechDevEmail:           v.GetString("APP_TECH_DEV_EMAIL"),
		},
		Audit: AuditConfig{
			ExportInterval: v.GetDuration("AUDIT_EXPORT_INTERVAL"),
		},
		Notifications: NotificationConfig{
			QueueSize: v.GetInt("NOTIFICATION_QUEUE_SIZE"),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
	}
}

// getList accepts either a YAML sequence or a comma separated string.
func getList(v *viper.Viper, key string) []string {
	var raw []string
	switch value := v.Get(key).(type) {
	case []interface{}:
		for _, item := range value {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case []string:
		raw = value
	default:
		raw = strings.Split(v.GetString(key), ",")
	}

	result := make([]string, 0, len(raw))
	for _, item := range raw {
		item = strings.ToLower(strings.TrimSpace(item))
		if item != "" {
			result = append(result, item)
		}
	}
	return result
}
