package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Enrollment    EnrollmentConfig
	Students      StudentConfig
	Billing       BillingConfig
	Notifications NotificationConfig
	Stats         StatsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// EnrollmentConfig holds the defaults applied to course enrollment transitions.
type EnrollmentConfig struct {
	MinAttendancePercentage float64
	GenerateInvoice         bool
	AutoGrade               bool
}

// StudentConfig holds student lifecycle defaults.
type StudentConfig struct {
	MinAge                  int
	GraduationMinAttendance float64
	CodePrefix              string
}

// BillingConfig configures the ledger adapter.
type BillingConfig struct {
	DefaultRevenueAccount string
}

// NotificationConfig sizes the follow-up delivery queue.
type NotificationConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
}

// StatsConfig governs caching of derived student statistics.
type StatsConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{Secret: v.GetString("JWT_SECRET")}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Enrollment = EnrollmentConfig{
		MinAttendancePercentage: v.GetFloat64("ENROLLMENT_MIN_ATTENDANCE"),
		GenerateInvoice:         v.GetBool("ENROLLMENT_GENERATE_INVOICE"),
		AutoGrade:               v.GetBool("ENROLLMENT_AUTO_GRADE"),
	}

	cfg.Students = StudentConfig{
		MinAge:                  v.GetInt("STUDENT_MIN_AGE"),
		GraduationMinAttendance: v.GetFloat64("GRADUATION_MIN_ATTENDANCE"),
		CodePrefix:              v.GetString("STUDENT_CODE_PREFIX"),
	}

	cfg.Billing = BillingConfig{
		DefaultRevenueAccount: v.GetString("BILLING_DEFAULT_REVENUE_ACCOUNT"),
	}

	cfg.Notifications = NotificationConfig{
		Workers:    v.GetInt("NOTIFY_WORKERS"),
		BufferSize: v.GetInt("NOTIFY_BUFFER_SIZE"),
		MaxRetries: v.GetInt("NOTIFY_MAX_RETRIES"),
	}

	cfg.Stats = StatsConfig{
		CacheEnabled: v.GetBool("ENABLE_STATS_CACHE"),
		CacheTTL:     parseDuration(v.GetString("STATS_CACHE_TTL"), 5*time.Minute),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "school_enrollment")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("AUTO_MIGRATE", false)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ENROLLMENT_MIN_ATTENDANCE", 75)
	v.SetDefault("ENROLLMENT_GENERATE_INVOICE", true)
	v.SetDefault("ENROLLMENT_AUTO_GRADE", true)

	v.SetDefault("STUDENT_MIN_AGE", 5)
	v.SetDefault("GRADUATION_MIN_ATTENDANCE", 75)
	v.SetDefault("STUDENT_CODE_PREFIX", "STU")

	v.SetDefault("BILLING_DEFAULT_REVENUE_ACCOUNT", "income:tuition")

	v.SetDefault("NOTIFY_WORKERS", 2)
	v.SetDefault("NOTIFY_BUFFER_SIZE", 64)
	v.SetDefault("NOTIFY_MAX_RETRIES", 3)

	v.SetDefault("ENABLE_STATS_CACHE", false)
	v.SetDefault("STATS_CACHE_TTL", "5m")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
