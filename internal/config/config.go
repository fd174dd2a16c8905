package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BatmanBruc/wgshop-bot/types"
	"github.com/joho/godotenv"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type Config struct {
	BotToken   string
	OperatorID int64

	PostgresDSN string
	// Redis is nil when REDIS_HOST is not set; approvals then lock in-process.
	Redis *RedisConfig

	WGPassword string
	WGTimeout  time.Duration
	Servers    []types.Server
	QRDir      string

	PaymentURL   string
	PaymentPrice string
	SupportEmail string

	ExpirySchedule string
	MetricsAddr    string

	LogLevel  string
	LogFormat string
}

// Load reads envFile (a missing file is fine) and then the process environment.
// Variables already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile = strings.TrimSpace(envFile); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := &Config{
		BotToken:       strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")),
		PostgresDSN:    postgresDSN(),
		WGPassword:     os.Getenv("WG_PASSWORD"),
		WGTimeout:      getEnvDuration("WG_TIMEOUT", 15*time.Second),
		QRDir:          getEnv("WG_QR_SAVE_PATH", "qrcodes"),
		PaymentURL:     getEnv("PAYMENT_URL", "https://boosty.to/lerk/donate"),
		PaymentPrice:   getEnv("PAYMENT_PRICE", "200р"),
		SupportEmail:   getEnv("SUPPORT_EMAIL", "lerk@joulerk.ru"),
		ExpirySchedule: getEnv("EXPIRY_SCHEDULE", "0 10 * * *"),
		MetricsAddr:    strings.TrimSpace(os.Getenv("METRICS_ADDR")),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "auto"),
	}
	if _, set := os.LookupEnv("EXPIRY_SCHEDULE"); set {
		cfg.ExpirySchedule = strings.TrimSpace(os.Getenv("EXPIRY_SCHEDULE"))
	}

	if raw := strings.TrimSpace(os.Getenv("TELEGRAM_ID")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("TELEGRAM_ID: %w", err)
		}
		cfg.OperatorID = id
	}

	if host := strings.TrimSpace(os.Getenv("REDIS_HOST")); host != "" {
		db := 0
		if raw := strings.TrimSpace(os.Getenv("REDIS_DB")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("REDIS_DB: %w", err)
			}
			db = n
		}
		cfg.Redis = &RedisConfig{
			Addr:     net.JoinHostPort(host, getEnv("REDIS_PORT", "6379")),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       db,
		}
	}

	servers, err := parseServers()
	if err != nil {
		return nil, err
	}
	cfg.Servers = servers

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.BotToken == "" {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN is required"))
	}
	if c.OperatorID == 0 {
		errs = append(errs, errors.New("TELEGRAM_ID is required"))
	}
	if len(c.Servers) == 0 {
		errs = append(errs, errors.New("no wg-easy servers configured (WG_SERVERS or WG1_SERVER_IP)"))
	}
	if c.WGTimeout <= 0 {
		errs = append(errs, errors.New("WG_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

// Server looks a configured server up by id.
func (c *Config) Server(id string) (types.Server, bool) {
	for _, s := range c.Servers {
		if s.ID == id {
			return s, true
		}
	}
	return types.Server{}, false
}

func getEnv(name, def string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	return v
}

func getEnvDuration(name string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// postgresDSN prefers POSTGRES_DSN and otherwise assembles one from
// POSTGRES_* (or the older DB_*) parts.
func postgresDSN() string {
	if dsn := strings.TrimSpace(os.Getenv("POSTGRES_DSN")); dsn != "" {
		return dsn
	}
	part := func(name, alias, def string) string {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
		return getEnv(alias, def)
	}
	host := part("POSTGRES_HOST", "DB_HOST", "localhost")
	port := part("POSTGRES_PORT", "DB_PORT", "5432")
	name := part("POSTGRES_DB", "DB_NAME", "wgshop")
	user := part("POSTGRES_USER", "DB_USER", "wgshop")
	pass := os.Getenv("POSTGRES_PASSWORD")
	if pass == "" {
		pass = os.Getenv("DB_PASSWORD")
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, pass),
		Host:     net.JoinHostPort(host, port),
		Path:     "/" + name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}
