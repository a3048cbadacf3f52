package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"

	"github.com/PaulBabatuyi/chatsync/internal/auth"
)

// Config is read from the environment, optionally seeded from a .env file.
type Config struct {
	MongoURI      string `env:"MONGODB_URI,required=true"`
	MongoDatabase string `env:"MONGODB_DATABASE,default=chat_db"`
	DirectoryDSN  string `env:"DIRECTORY_DSN,default=directory.db"`

	// JWT_KEYS format: kid:secret,kid2:secret2
	JWTSecret    string        `env:"JWT_SECRET"`
	JWTKeys      string        `env:"JWT_KEYS"`
	JWTActiveKid string        `env:"JWT_ACTIVE_KID"`
	JWTDuration  time.Duration `env:"JWT_DURATION,default=24h"`

	Port       int `env:"PORT,default=8080"`
	HealthPort int `env:"HEALTH_PORT,default=50051"`

	RateLimitRPM   int `env:"RATE_LIMIT_RPM,default=120"`
	RateLimitBurst int `env:"RATE_LIMIT_BURST,default=20"`

	OnlineWindow   time.Duration `env:"ONLINE_WINDOW,default=5m"`
	SendBuffer     int           `env:"SEND_BUFFER,default=64"`
	HealthInterval time.Duration `env:"HEALTH_INTERVAL,default=15s"`

	TLSCert    string `env:"TLS_CERT"`
	TLSKey     string `env:"TLS_KEY"`
	RequireTLS bool   `env:"REQUIRE_TLS"`

	LogDevelopment bool `env:"LOG_DEVELOPMENT"`
}

// loadConfig reads .env if present, then the process environment.
func loadConfig() (Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.JWTSecret == "" && c.JWTKeys == "" {
		return errors.New("either JWT_SECRET or JWT_KEYS must be set")
	}
	if c.RequireTLS && !c.tlsEnabled() {
		return errors.New("REQUIRE_TLS is true but TLS_CERT/TLS_KEY are not configured")
	}
	if c.SendBuffer <= 0 {
		return errors.New("SEND_BUFFER must be positive")
	}
	return nil
}

func (c Config) tlsEnabled() bool { return c.TLSCert != "" && c.TLSKey != "" }

// jwtManager builds the token verifier. JWT_KEYS enables key rotation;
// otherwise the single JWT_SECRET is used.
func (c Config) jwtManager() (*auth.JWTManager, error) {
	if c.JWTKeys == "" {
		return auth.NewJWTManager(c.JWTSecret, c.JWTDuration), nil
	}

	keyMap := map[string]string{}
	for _, p := range strings.Split(c.JWTKeys, ",") {
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid JWT_KEYS entry: %s", p)
		}
		keyMap[parts[0]] = parts[1]
	}
	if _, ok := keyMap[c.JWTActiveKid]; !ok {
		return nil, fmt.Errorf("JWT_ACTIVE_KID %q is not among JWT_KEYS", c.JWTActiveKid)
	}
	return auth.NewJWTManagerFromKeys(keyMap, c.JWTActiveKid, c.JWTDuration), nil
}
