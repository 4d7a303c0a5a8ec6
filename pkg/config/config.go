package config

import (
	"errors"
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

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Editing  EditingConfig
	Courses  CoursesConfig
	Exports  ExportsConfig
	Jobs     JobsConfig
}

type DatabaseConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	SSLMode        string
	MaxOpenConns   int
	MaxIdleConns   int
	AutoMigrate    bool
	MigrationsPath string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Issuer     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// EditingConfig tunes the per-center edit lock and its countdown.
type EditingConfig struct {
	LockDuration       time.Duration
	CountdownInterval  time.Duration
	MinInterval        time.Duration
	InstallationHour   int
	StaleSweepInterval time.Duration
	StreamTicketSecret string
	StreamTicketTTL    time.Duration
}

// CoursesConfig governs the external course source and reconciliation horizon.
type CoursesConfig struct {
	FetchURL      string
	UserAgent     string
	FetchTimeout  time.Duration
	FetchRetries  int
	HorizonMonths int
	HorizonDays   int
	TypeMapPath   string
	CacheEnabled  bool
	CacheTTL      time.Duration
}

// ExportsConfig controls where rendered plans are stored and how long links live.
type ExportsConfig struct {
	StorageDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
	CleanupInterval time.Duration
}

// JobsConfig sizes the background release queue.
type JobsConfig struct {
	ReleaseWorkers int
	ReleaseRetries int
	RetryDelay     time.Duration
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
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:           v.GetString("DB_HOST"),
		Port:           v.GetInt("DB_PORT"),
		User:           v.GetString("DB_USER"),
		Password:       v.GetString("DB_PASSWORD"),
		Name:           v.GetString("DB_NAME"),
		SSLMode:        v.GetString("DB_SSL_MODE"),
		MaxOpenConns:   v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns:   v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:    v.GetBool("DB_AUTO_MIGRATE"),
		MigrationsPath: v.GetString("DB_MIGRATIONS_PATH"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Issuer:     v.GetString("JWT_ISSUER"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	installationHour := v.GetInt("INSTALLATION_HOUR")
	if installationHour < 0 || installationHour > 23 {
		installationHour = 3
	}
	cfg.Editing = EditingConfig{
		LockDuration:       parseDuration(v.GetString("LOCK_DURATION"), time.Hour),
		CountdownInterval:  parseDuration(v.GetString("COUNTDOWN_INTERVAL"), 20*time.Second),
		MinInterval:        parseDuration(v.GetString("COUNTDOWN_MIN_INTERVAL"), 5*time.Second),
		InstallationHour:   installationHour,
		StaleSweepInterval: parseDuration(v.GetString("STALE_LOCK_SWEEP_INTERVAL"), 5*time.Minute),
		StreamTicketSecret: v.GetString("STREAM_TICKET_SECRET"),
		StreamTicketTTL:    parseDuration(v.GetString("STREAM_TICKET_TTL"), time.Hour),
	}

	cfg.Courses = CoursesConfig{
		FetchURL:      v.GetString("COURSES_FETCH_URL"),
		UserAgent:     v.GetString("COURSES_USER_AGENT"),
		FetchTimeout:  parseDuration(v.GetString("COURSES_FETCH_TIMEOUT"), 15*time.Second),
		FetchRetries:  v.GetInt("COURSES_FETCH_RETRIES"),
		HorizonMonths: v.GetInt("COURSES_HORIZON_MONTHS"),
		HorizonDays:   v.GetInt("COURSES_HORIZON_DAYS"),
		TypeMapPath:   v.GetString("COURSE_TYPE_MAP_PATH"),
		CacheEnabled:  v.GetBool("ENABLE_COURSES_CACHE"),
		CacheTTL:      parseDuration(v.GetString("COURSES_CACHE_TTL"), 30*time.Minute),
	}

	cfg.Exports = ExportsConfig{
		StorageDir:      v.GetString("EXPORTS_STORAGE_DIR"),
		SignedURLSecret: v.GetString("EXPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("EXPORTS_SIGNED_URL_TTL"), 24*time.Hour),
		CleanupInterval: parseDuration(v.GetString("EXPORTS_CLEANUP_INTERVAL"), time.Hour),
	}

	cfg.Jobs = JobsConfig{
		ReleaseWorkers: v.GetInt("RELEASE_WORKERS"),
		ReleaseRetries: v.GetInt("RELEASE_RETRIES"),
		RetryDelay:     parseDuration(v.GetString("RELEASE_RETRY_DELAY"), 2*time.Second),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "gong")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", false)
	v.SetDefault("DB_MIGRATIONS_PATH", "./migrations")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "gong-api")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("LOCK_DURATION", "1h")
	v.SetDefault("COUNTDOWN_INTERVAL", "20s")
	v.SetDefault("COUNTDOWN_MIN_INTERVAL", "5s")
	v.SetDefault("INSTALLATION_HOUR", 3)
	v.SetDefault("STALE_LOCK_SWEEP_INTERVAL", "5m")
	v.SetDefault("STREAM_TICKET_SECRET", "dev_stream_secret")
	v.SetDefault("STREAM_TICKET_TTL", "1h")

	v.SetDefault("COURSES_FETCH_URL", "https://www.dhamma.org/en-US/courses/do_search")
	v.SetDefault("COURSES_USER_AGENT", "gong-planner/1.0")
	v.SetDefault("COURSES_FETCH_TIMEOUT", "15s")
	v.SetDefault("COURSES_FETCH_RETRIES", 3)
	v.SetDefault("COURSES_HORIZON_MONTHS", 12)
	v.SetDefault("COURSES_HORIZON_DAYS", 0)
	v.SetDefault("COURSE_TYPE_MAP_PATH", "./config/course_type_map.yaml")
	v.SetDefault("ENABLE_COURSES_CACHE", true)
	v.SetDefault("COURSES_CACHE_TTL", "30m")

	v.SetDefault("EXPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("EXPORTS_SIGNED_URL_SECRET", "dev_exports_secret")
	v.SetDefault("EXPORTS_SIGNED_URL_TTL", "24h")
	v.SetDefault("EXPORTS_CLEANUP_INTERVAL", "1h")

	v.SetDefault("RELEASE_WORKERS", 2)
	v.SetDefault("RELEASE_RETRIES", 5)
	v.SetDefault("RELEASE_RETRY_DELAY", "2s")
}

func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
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
