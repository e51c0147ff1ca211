// Package config loads application configuration from environment
// variables.  An optional .env file in the working directory is read first;
// variables already set in the environment win.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

// Relational drivers accepted in RELATIONAL_DRIVER.
const (
	DriverSQLite = "sqlite3"
	DriverMySQL  = "mysql"
	DriverNone   = "none"
)

// devSecret signs tokens when APP_ENV is dev or test and JWT_SECRET is
// unset.
const devSecret = "dev-secret-do-not-use-in-production"

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
	Env  string // APP_ENV: dev, test or prod
	Port string // APP_PORT

	JWTSecret  string        // JWT_SECRET
	TokenTTL   time.Duration // TOKEN_TTL, default 168h
	BcryptCost int           // BCRYPT_COST

	DataDir          string // DATA_DIR, holds the JSON documents and the SQLite file
	FileMirror       bool   // STORE_FILE_MIRROR
	RelationalDriver string // RELATIONAL_DRIVER: sqlite3, mysql or none
	SQLitePath       string // SQLITE_PATH, default DATA_DIR/forms.db
	MirrorAsync      bool   // MIRROR_ASYNC

	DBUser string // DB_USER (mysql)
	DBPass string // DB_PASS (mysql, empty allowed)
	DBHost string // DB_HOST (mysql)
	DBPort string // DB_PORT (mysql)
	DBName string // DB_NAME (mysql)

	DuplicateWindow time.Duration // DUPLICATE_FORM_WINDOW, default 5s

	Redis RedisConfig

	AMQPURL      string // RABBITMQ_URL or AMQP_URL; empty disables audit publishing
	AuditQueue   string // AUDIT_QUEUE
	AuditLogPath string // AUDIT_LOG_PATH

	LogLevel string // LOG_LEVEL
	LogFile  string // LOG_FILE, empty logs to stdout only
}

// IsDev reports whether the environment relaxes production checks.
func (c Config) IsDev() bool { return c.Env == "dev" || c.Env == "test" }

// Load reads configuration values from the environment and validates them.
// All problems are reported together.
func Load() (Config, error) {
	_ = godotenv.Load() // .env is optional

	dataDir := getenv("DATA_DIR", "data")
	c := Config{
		Env:              getenv("APP_ENV", "prod"),
		Port:             getenv("APP_PORT", "8080"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		TokenTTL:         envDur("TOKEN_TTL", 7*24*time.Hour),
		BcryptCost:       envInt("BCRYPT_COST", 10),
		DataDir:          dataDir,
		FileMirror:       envBool("STORE_FILE_MIRROR", true),
		RelationalDriver: getenv("RELATIONAL_DRIVER", DriverSQLite),
		SQLitePath:       getenv("SQLITE_PATH", filepath.Join(dataDir, "forms.db")),
		MirrorAsync:      envBool("MIRROR_ASYNC", false),
		DBUser:           os.Getenv("DB_USER"),
		DBPass:           os.Getenv("DB_PASS"),
		DBHost:           getenv("DB_HOST", "127.0.0.1"),
		DBPort:           getenv("DB_PORT", "3306"),
		DBName:           os.Getenv("DB_NAME"),
		DuplicateWindow:  envDur("DUPLICATE_FORM_WINDOW", 5*time.Second),
		Redis:            loadRedisConfig(),
		AMQPURL:          getenv("RABBITMQ_URL", os.Getenv("AMQP_URL")),
		AuditQueue:       getenv("AUDIT_QUEUE", "forms.audit"),
		AuditLogPath:     getenv("AUDIT_LOG_PATH", filepath.Join("logs", "audit.log")),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		LogFile:          os.Getenv("LOG_FILE"),
	}

	var errs []error
	switch c.Env {
	case "dev", "test", "prod":
	default:
		errs = append(errs, fmt.Errorf("APP_ENV must be dev, test or prod, got %q", c.Env))
	}
	if c.JWTSecret == "" {
		if c.IsDev() {
			c.JWTSecret = devSecret
		} else {
			errs = append(errs, errors.New("missing required env var: JWT_SECRET"))
		}
	}
	switch c.RelationalDriver {
	case DriverSQLite, DriverNone:
	case DriverMySQL:
		if c.DBUser == "" || c.DBName == "" {
			errs = append(errs, errors.New("RELATIONAL_DRIVER=mysql requires DB_USER and DB_NAME"))
		}
	default:
		errs = append(errs, fmt.Errorf("RELATIONAL_DRIVER must be sqlite3, mysql or none, got %q", c.RelationalDriver))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_TTL must be positive"))
	}
	if c.DuplicateWindow <= 0 {
		errs = append(errs, errors.New("DUPLICATE_FORM_WINDOW must be positive"))
	}
	return c, errors.Join(errs...)
}
