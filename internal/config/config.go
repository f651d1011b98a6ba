package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Режимы хранилища
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// ErrMissingJWTSecret возвращается, если не задан секрет для подписи токенов
var ErrMissingJWTSecret = errors.New("JWT_SECRET is required")

// Config структура конфигурации
type Config struct {
	AppEnv     string
	HTTPAddr   string
	WSAddr     string
	InstanceID string
	LogLevel   string

	Storage        string
	DatabaseURL    string
	DatabaseConfig DatabaseConfig
	MigrateOnStart bool

	JWTSecret        string
	JWTTTL           time.Duration
	TelegramBotToken string

	CloudinaryConfig CloudinaryConfig

	RequestTimeout time.Duration
	ImageMaxBytes  int
}

// DatabaseConfig содержит конфигурацию базы данных
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// CloudinaryConfig содержит конфигурацию для Cloudinary
type CloudinaryConfig struct {
	CloudName    string
	APIKey       string
	APISecret    string
	UploadPreset string
	UploadFolder string
}

// DSN формирует строку подключения к базе данных
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// LoadConfig загружает переменные из .env и окружения
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println(".env файл не найден, используем переменные окружения")
	}
	return FromEnv()
}

// FromEnv собирает конфигурацию только из переменных окружения
func FromEnv() (*Config, error) {
	dbConfig := DatabaseConfig{
		Host:     getEnv("PGHOST", "localhost"),
		Port:     getEnv("PGPORT", "5432"),
		User:     getEnv("PGUSER", "barter_user"),
		Password: getEnv("PGPASSWORD", "barter_pass"),
		Name:     getEnv("PGDATABASE", "barterkita"),
		SSLMode:  getEnv("PGSSLMODE", "disable"),
		MaxConns: int32(getEnvAsInt("DB_MAX_CONNS", 10)),
		MinConns: int32(getEnvAsInt("DB_MIN_CONNS", 2)),
	}

	cfg := &Config{
		AppEnv:     getEnv("APP_ENV", "production"),
		HTTPAddr:   getEnv("HTTP_ADDR", ":8080"),
		WSAddr:     getEnv("WS_ADDR", ":8081"),
		InstanceID: getEnv("INSTANCE_ID", "barterkita-"+uuid.NewString()[:8]),
		LogLevel:   getEnv("LOG_LEVEL", "info"),

		Storage:        getEnv("STORAGE", StoragePostgres),
		DatabaseURL:    getEnv("DATABASE_URL", dbConfig.DSN()),
		DatabaseConfig: dbConfig,
		MigrateOnStart: getEnvAsBool("MIGRATE_ON_START", true),

		JWTSecret:        getEnv("JWT_SECRET", ""),
		JWTTTL:           getEnvAsDuration("JWT_TTL", 24*time.Hour),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),

		CloudinaryConfig: CloudinaryConfig{
			CloudName:    getEnv("CLOUDINARY_CLOUD_NAME", ""),
			APIKey:       getEnv("CLOUDINARY_API_KEY", ""),
			APISecret:    getEnv("CLOUDINARY_API_SECRET", ""),
			UploadPreset: getEnv("CLOUDINARY_UPLOAD_PRESET", "barterkita"),
			UploadFolder: getEnv("CLOUDINARY_UPLOAD_FOLDER", "avatars"),
		},

		RequestTimeout: getEnvAsDuration("REQUEST_TIMEOUT", 5*time.Second),
		ImageMaxBytes:  getEnvAsInt("IMAGE_MAX_BYTES", 1024*1024),
	}

	if cfg.JWTSecret == "" {
		return nil, ErrMissingJWTSecret
	}
	if cfg.Storage != StoragePostgres && cfg.Storage != StorageMemory {
		return nil, fmt.Errorf("unknown STORAGE %q", cfg.Storage)
	}

	return cfg, nil
}

// getEnv получает переменную окружения или использует дефолтное значение
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}
