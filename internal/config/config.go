package config

import (
	"os"
	"runtime"
	"strconv"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Config is the process configuration, read from the environment. A .env
// file is loaded automatically when present.
type Config struct {
	Env             string
	DBDriver        string // sqlite or postgres
	DBDSN           string
	RedisAddr       string // empty disables the shared status cache
	GeometryWorkers int
	BatchSize       int
	Compression     string
	RuleSetPath     string
}

func LoadConfig() *Config {
	cnf := &Config{
		Env:             getenv("ENV", "dev"),
		DBDriver:        getenv("DB_DRIVER", "sqlite"),
		DBDSN:           getenv("DB_DSN", ".tmp/modelstore.db"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		GeometryWorkers: getenvInt("GEOMETRY_WORKERS", 2*runtime.NumCPU()),
		BatchSize:       getenvInt("INGEST_BATCH_SIZE", 500),
		Compression:     getenv("GEOMETRY_COMPRESSION", "lz4"),
		RuleSetPath:     os.Getenv("RULESET_PATH"),
	}

	return cnf
}

// GetDb opens the configured database connection.
func GetDb(cnf *Config) *gorm.DB {
	var (
		db  *gorm.DB
		err error
	)

	switch cnf.DBDriver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(cnf.DBDSN), &gorm.Config{})
	default:
		db, err = gorm.Open(sqlite.Open(cnf.DBDSN), &gorm.Config{})
	}

	if err != nil {
		logrus.Fatalf("error connecting to database: %v", err)
	}

	return db
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logrus.Warnf("invalid value for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
