// Package config resolves warehouse connection settings from environment
// variables, optionally seeded from a .env file. Credentials are selected
// by deployment environment through the DEV_/HOMO_/PROD_ variable prefixes
// (URL, USER, PASSWORD), the convention the loading jobs have always used.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/andesdata/warehouse/pkg/warehouse"
)

const (
	EnvDev  = "dev"
	EnvHomo = "homo"
	EnvProd = "prod"
)

type Config struct {
	Environment string
	Engine      string // warehouse.KindMySQL or warehouse.KindPostgreSQL
	Host        string
	Port        int
	User        string
	Password    string
	Database    string

	// Schema is the PostgreSQL search-path schema. For MySQL the database
	// doubles as the namespace.
	Schema string
}

// Load reads the configuration for the given deployment environment. A
// .env file in the working directory is honored when present; real
// environment variables win over it.
func Load(environment, engine, database, schema string) (*Config, error) {
	// Missing .env is fine; variables may already be in the environment.
	_ = godotenv.Load()

	prefix, err := envPrefix(environment)
	if err != nil {
		return nil, err
	}
	if _, err := warehouse.NewDialect(engine); err != nil {
		return nil, err
	}
	if database == "" {
		return nil, errors.New("database is required")
	}

	cfg := &Config{
		Environment: environment,
		Engine:      strings.ToLower(engine),
		Host:        os.Getenv(prefix + "_URL"),
		User:        os.Getenv(prefix + "_USER"),
		Password:    os.Getenv(prefix + "_PASSWORD"),
		Database:    database,
		Schema:      schema,
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("%s_URL is not set", prefix)
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("%s_USER is not set", prefix)
	}

	cfg.Port = defaultPort(cfg.Engine)
	if portVar := os.Getenv(prefix + "_PORT"); portVar != "" {
		port, err := strconv.Atoi(portVar)
		if err != nil {
			return nil, fmt.Errorf("invalid %s_PORT %q: %w", prefix, portVar, err)
		}
		cfg.Port = port
	}

	if cfg.Schema == "" {
		cfg.Schema = defaultNamespace(cfg)
	}
	return cfg, nil
}

// Namespace returns the value the schema catalog binds against: the
// search-path schema for PostgreSQL, the database itself for MySQL.
func (c *Config) Namespace() string {
	return defaultNamespace(c)
}

// DSN builds the driver connection string. MySQL connections parse DATE
// and DATETIME columns into time.Time, which the loaders' date arithmetic
// relies on.
func (c *Config) DSN() string {
	switch c.Engine {
	case warehouse.KindMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", c.User, c.Password, c.Host, c.Port, c.Database)
	default:
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(c.User, c.Password),
			Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
			Path:   "/" + c.Database,
		}
		return u.String()
	}
}

func envPrefix(environment string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(environment)) {
	case EnvDev:
		return "DEV", nil
	case EnvHomo:
		return "HOMO", nil
	case EnvProd:
		return "PROD", nil
	default:
		return "", fmt.Errorf("unknown environment %q (want %s, %s or %s)", environment, EnvDev, EnvHomo, EnvProd)
	}
}

func defaultPort(engine string) int {
	if engine == warehouse.KindMySQL {
		return 3306
	}
	return 5432
}

func defaultNamespace(c *Config) string {
	if c.Engine == warehouse.KindMySQL {
		return c.Database
	}
	if c.Schema != "" {
		return c.Schema
	}
	return "public"
}
