package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// Config holds the server configuration, read from the environment.
type Config struct {
	HTTPAddr     string `env:"HTTP_ADDR,default=:8008"`
	DatabasePath string `env:"DATABASE_PATH,default=familyhub.db"`
	LogLevel     string `env:"LOG_LEVEL,default=info"`
	LogJSON      bool   `env:"LOG_JSON,default=false"`

	JWTSecret   string        `env:"JWT_SECRET,required=true"`
	JWTIssuer   string        `env:"JWT_ISSUER,default=familyhub"`
	JWTAudience string        `env:"JWT_AUDIENCE,default=familyhub-clients"`
	JWTTTL      time.Duration `env:"JWT_TTL,default=24h"`

	Gateway Gateway

	MembershipCacheSize int           `env:"MEMBERSHIP_CACHE_SIZE,default=1024"`
	MembershipCacheTTL  time.Duration `env:"MEMBERSHIP_CACHE_TTL,default=15s"`
}

// Gateway describes the Pusher-protocol broadcast gateway.
// AppSecret is server-only and must never be sent to clients.
type Gateway struct {
	Host      string `env:"GATEWAY_HOST,default=127.0.0.1"`
	Port      int    `env:"GATEWAY_PORT,default=6001"`
	Scheme    string `env:"GATEWAY_SCHEME,default=ws"`
	AppID     string `env:"GATEWAY_APP_ID,required=true"`
	AppKey    string `env:"GATEWAY_APP_KEY,required=true"`
	AppSecret string `env:"GATEWAY_APP_SECRET,required=true"`
}

// Public is the part of the gateway configuration clients may see.
type Public struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Scheme string `json:"scheme"`
	Key    string `json:"key"`
}

// Public strips the secret and the app id.
func (g Gateway) Public() Public {
	return Public{Host: g.Host, Port: g.Port, Scheme: g.Scheme, Key: g.AppKey}
}

// HTTPBaseURL is the base of the gateway's REST trigger API. The REST API uses
// http/https on the same host and port as the socket endpoint.
func (g Gateway) HTTPBaseURL() string {
	scheme := "http"
	if g.Scheme == "wss" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%s", scheme, g.Host, strconv.Itoa(g.Port))
}

// Load reads an optional .env file followed by the process environment.
// Variables already set in the environment win over the file.
func Load(dotenvPath string) (*Config, error) {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", dotenvPath, err)
		}
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromEnvSet builds a Config from an explicit variable set.
func FromEnvSet(es env.EnvSet) (*Config, error) {
	var cfg Config
	if err := env.Unmarshal(es, &cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants the struct tags cannot express.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("config error: JWT_SECRET must not be empty")
	}
	if c.Gateway.AppSecret == "" || c.Gateway.AppKey == "" {
		return errors.New("config error: gateway key and secret must not be empty")
	}
	if c.Gateway.Scheme != "ws" && c.Gateway.Scheme != "wss" {
		return fmt.Errorf("config error: GATEWAY_SCHEME must be ws or wss, got %q", c.Gateway.Scheme)
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("config error: GATEWAY_PORT out of range: %d", c.Gateway.Port)
	}
	if c.JWTTTL <= 0 {
		return errors.New("config error: JWT_TTL must be positive")
	}
	return nil
}
