package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	Catalog CatalogConfig
	Overlay OverlayConfig
	Cache   CacheConfig
	App     AppConfig
}

type ServerConfig struct {
	Port string
}

type CatalogConfig struct {
	URL             string
	DetailURL       string // printf template with a single %s for the course id
	FetchTimeout    time.Duration
	DetailEnabled   bool
	DetailRateLimit float64 // detail requests per second
	DetailBurst     int
	MonthLocale     string
	RefreshCron     string // empty disables the scheduler
}

type OverlayConfig struct {
	Backend  string // "file" or "postgres"
	Path     string // backing file for the file backend
	Database DatabaseConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

type CacheConfig struct {
	RedisAddr     string // empty disables the catalog cache
	RedisPassword string
	TTL           time.Duration
}

type AppConfig struct {
	Environment string
	Version     string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
		},
		Catalog: CatalogConfig{
			URL:             getEnv("CATALOG_URL", "https://www.cfp.upv.es/cfp-gow/titulaciones/web"),
			DetailURL:       getEnv("CATALOG_DETAIL_URL", ""),
			FetchTimeout:    getEnvAsDuration("FETCH_TIMEOUT", 30*time.Second),
			DetailEnabled:   getEnvAsBool("DETAIL_FETCH_ENABLED", false),
			DetailRateLimit: getEnvAsFloat("DETAIL_RATE_LIMIT", 5),
			DetailBurst:     getEnvAsInt("DETAIL_BURST", 10),
			MonthLocale:     getEnv("MONTH_LOCALE", "es"),
			RefreshCron:     getEnv("REFRESH_CRON", ""),
		},
		Overlay: OverlayConfig{
			Backend: getEnv("OVERLAY_BACKEND", "file"),
			Path:    getEnv("OVERLAY_PATH", "data/estado_titulos.json"),
			Database: DatabaseConfig{
				Host:     getEnv("DB_HOST", "localhost"),
				Port:     getEnvAsInt("DB_PORT", 5432),
				User:     getEnv("DB_USER", "postgres"),
				Password: getEnv("DB_PASSWORD", ""),
				Name:     getEnv("DB_NAME", "titulos"),
				SSLMode:  getEnv("DB_SSLMODE", "disable"),
			},
		},
		Cache: CacheConfig{
			RedisAddr:     getEnv("REDIS_ADDR", ""),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			TTL:           getEnvAsDuration("CACHE_TTL", 15*time.Minute),
		},
		App: AppConfig{
			Environment: getEnv("APP_ENV", "development"),
			Version:     getEnv("APP_VERSION", "1.0.0"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if c.Catalog.URL == "" {
		return fmt.Errorf("CATALOG_URL is required")
	}

	if c.Catalog.DetailEnabled && c.Catalog.DetailURL == "" {
		return fmt.Errorf("CATALOG_DETAIL_URL is required when DETAIL_FETCH_ENABLED is set")
	}

	switch c.Overlay.Backend {
	case "file":
		if c.Overlay.Path == "" {
			return fmt.Errorf("OVERLAY_PATH is required for the file backend")
		}
	case "postgres":
		if c.Overlay.Database.Host == "" {
			return fmt.Errorf("DB_HOST is required for the postgres backend")
		}
	default:
		return fmt.Errorf("OVERLAY_BACKEND must be \"file\" or \"postgres\", got %q", c.Overlay.Backend)
	}

	return nil
}

// DSN builds a lib/pq connection string for the overlay database.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid integer for %s, using default: %d", key, defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("Warning: Invalid float for %s, using default: %g", key, defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid boolean for %s, using default: %t", key, defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid duration for %s, using default: %s", key, defaultValue)
		return defaultValue
	}

	return value
}
