package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/devhub/internal/logger"
	"github.com/nkiryanov/devhub/internal/service/auth"
	"github.com/nkiryanov/devhub/internal/service/identity"
)

const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

const (
	defaultListenAddr     = "localhost:8000"
	defaultLoggingLevel   = logger.LevelInfo
	defaultEnvironment    = logger.EnvProduction
	defaultBackend        = BackendPostgres
	defaultAccessTTL      = 15 * time.Minute
	defaultRefreshTTL     = 24 * time.Hour
	defaultStoreTimeout   = 5 * time.Second
	defaultSweepInterval  = 10 * time.Minute
	defaultHasher         = auth.HasherBcrypt
	defaultGoogleTokenURL = identity.DefaultGoogleBaseURL
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the devhub service will be run
	ListenAddr string

	// Credential store: postgres or redis
	Backend string

	// Database to connect to, used by postgres backend
	DatabaseDSN string

	// Redis to connect to, used by redis backend
	RedisURL string

	// Secret key
	// Signs JWT tokens with symmetric HMAC algorithm
	SecretKey string

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Password hasher: bcrypt or argon2
	Hasher string

	// Every store call is limited by this timeout
	StoreTimeout time.Duration

	// Interval between global expired refresh token purges
	SweepInterval time.Duration

	// Google OAuth client id; login with Google enabled only when set
	GoogleClientID string
	GoogleTokenURL string

	// Environment
	Environment string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:       defaultLoggingLevel,
		ListenAddr:     defaultListenAddr,
		Backend:        defaultBackend,
		AccessTTL:      defaultAccessTTL,
		RefreshTTL:     defaultRefreshTTL,
		Hasher:         defaultHasher,
		StoreTimeout:   defaultStoreTimeout,
		SweepInterval:  defaultSweepInterval,
		GoogleTokenURL: defaultGoogleTokenURL,
		Environment:    defaultEnvironment,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":          setString(&c.ListenAddr),
		"STORAGE_BACKEND":      setString(&c.Backend),
		"DATABASE_URI":         setString(&c.DatabaseDSN),
		"REDIS_URL":            setString(&c.RedisURL),
		"SECRET_KEY":           setString(&c.SecretKey),
		"ACCESS_TOKEN_TTL":     setDuration(&c.AccessTTL),
		"REFRESH_TOKEN_TTL":    setDuration(&c.RefreshTTL),
		"PASSWORD_HASHER":      setString(&c.Hasher),
		"STORE_TIMEOUT":        setDuration(&c.StoreTimeout),
		"SWEEP_INTERVAL":       setDuration(&c.SweepInterval),
		"GOOGLE_CLIENT_ID":     setString(&c.GoogleClientID),
		"GOOGLE_TOKENINFO_URL": setString(&c.GoogleTokenURL),
		"LOG_LEVEL":            setString(&c.LogLevel),
		"ENVIRONMENT":          setString(&c.Environment),
	}

	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			return fmt.Errorf("invalid %s. Err: %w", key, err)
		}
	}

	return nil
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("devhub", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.Backend, "storage", "b", c.Backend, "Credential store (postgres, redis)")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVar(&c.RedisURL, "redis", c.RedisURL, "Redis connection url")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key")
	fs.DurationVar(&c.AccessTTL, "access-ttl", c.AccessTTL, "Access token lifetime")
	fs.DurationVar(&c.RefreshTTL, "refresh-ttl", c.RefreshTTL, "Refresh token lifetime")
	fs.StringVar(&c.Hasher, "hasher", c.Hasher, "Password hasher (bcrypt, argon2)")
	fs.DurationVar(&c.StoreTimeout, "store-timeout", c.StoreTimeout, "Timeout of every store call")
	fs.DurationVar(&c.SweepInterval, "sweep-interval", c.SweepInterval, "Interval between expired token purges")
	fs.StringVar(&c.GoogleClientID, "google-client-id", c.GoogleClientID, "Google OAuth client id")
	fs.StringVar(&c.GoogleTokenURL, "google-tokeninfo", c.GoogleTokenURL, "Google tokeninfo base url")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")

	return fs.Parse(args)
}

// Check options that can't be checked by the components themselves
func (c *Config) Validate() error {
	if c.SecretKey == "" {
		return errors.New("secret key is required")
	}

	switch c.Backend {
	case BackendPostgres:
		if c.DatabaseDSN == "" {
			return errors.New("database dsn is required for postgres storage")
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("redis url is required for redis storage")
		}
	default:
		return fmt.Errorf("unknown storage %q, use one of: %s, %s", c.Backend, BackendPostgres, BackendRedis)
	}

	if c.AccessTTL >= c.RefreshTTL {
		return fmt.Errorf("access ttl (%s) must be shorter than refresh ttl (%s)", c.AccessTTL, c.RefreshTTL)
	}

	return nil
}
