package app

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

type Config struct {
	AppPort           string
	DBDriver          string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBPath            string
	QueryTimeout      time.Duration
	BcryptCost        int
	HashConcurrency   int
	LogLevel          string
	AdminInitUsername string
	AdminInitPass     string
	AdminInitEnabled  bool
}

// LoadConfig reads a .env file from the working directory when present,
// then the process environment. Variables already set win over .env.
func LoadConfig() Config {
	_ = godotenv.Load()

	return Config{
		AppPort:           getEnv("APP_PORT", "5000"),
		DBDriver:          getEnv("DB_DRIVER", DriverMySQL),
		DBHost:            getEnv("DB_HOST", "127.0.0.1"),
		DBPort:            getEnv("DB_PORT", "3306"),
		DBName:            getEnv("DB_DATABASE", "student_portal"),
		DBUser:            getEnv("DB_USER", "portal_user"),
		DBPassword:        getEnv("DB_PASSWORD", "portal_password"),
		DBPath:            getEnv("DB_PATH", "student_portal.db"),
		QueryTimeout:      time.Duration(getEnvInt("DB_QUERY_TIMEOUT_MS", 5000)) * time.Millisecond,
		BcryptCost:        getEnvInt("BCRYPT_COST", DefaultBcryptCost),
		HashConcurrency:   getEnvInt("HASH_CONCURRENCY", 0),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		AdminInitUsername: os.Getenv("ADMIN_INIT_USERNAME"),
		AdminInitPass:     os.Getenv("ADMIN_INIT_PASSWORD"),
		AdminInitEnabled:  getEnvBool("ADMIN_INIT_ENABLED", false),
	}
}

func (c Config) Validate() error {
	if c.DBDriver != DriverMySQL && c.DBDriver != DriverSQLite {
		return fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverMySQL, DriverSQLite, c.DBDriver)
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.AppPort == "" {
		return fmt.Errorf("APP_PORT is required")
	}
	return nil
}

func (c Config) DSN() string {
	if c.DBDriver == DriverSQLite {
		return c.DBPath
	}

	mc := mysql.NewConfig()
	mc.User = c.DBUser
	mc.Passwd = c.DBPassword
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(c.DBHost, c.DBPort)
	mc.DBName = c.DBName
	mc.ParseTime = true
	mc.ClientFoundRows = true
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
