package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"gitea.kood.tech/petrkubec/match-round/backend/matching"
)

const app = "match-round"

// Config is the whole runtime configuration. Every key can be set in
// match-round.yaml, by flag, or by MATCH_* environment variables
// (MATCH_DATABASE_URL, MATCH_SMTP_HOST, MATCH_MATCHING_TIE_BREAK, ...).
type Config struct {
	DatabaseURL string         `mapstructure:"database-url"`
	JWTSecret   string         `mapstructure:"jwt-secret"`
	ListenAddr  string         `mapstructure:"listen-addr"`
	SiteURL     string         `mapstructure:"site-url"`
	Log         LogConfig      `mapstructure:"log"`
	CORS        CORSConfig     `mapstructure:"cors"`
	SMTP        SMTPConfig     `mapstructure:"smtp"`
	Matching    MatchingConfig `mapstructure:"matching"`
	Notify      NotifyConfig   `mapstructure:"notify"`
}

type LogConfig struct {
	JSON  bool `mapstructure:"json"`
	Debug bool `mapstructure:"debug"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed-origins"`
}

// SMTPConfig configures pairing emails. An empty Host disables email.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type MatchingConfig struct {
	EnforcePreference bool   `mapstructure:"enforce-preference"`
	TieBreak          string `mapstructure:"tie-break"`
	Seed              int64  `mapstructure:"seed"`
}

type NotifyConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	Breaker     BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	Failures uint32        `mapstructure:"failures"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("MATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault("database-url", "user=admin password=password dbname=matchround sslmode=disable")
	v.SetDefault("jwt-secret", "")
	v.SetDefault("listen-addr", ":8080")
	v.SetDefault("site-url", "http://localhost:3001")
	v.SetDefault("log.json", false)
	v.SetDefault("log.debug", false)
	v.SetDefault("cors.allowed-origins", []string{"http://localhost:5173", "http://127.0.0.1:5173", "http://localhost:3001", "http://127.0.0.1:3001"})
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.user", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "match-round <notifications@localhost>")
	v.SetDefault("matching.enforce-preference", true)
	v.SetDefault("matching.tie-break", string(matching.TieBreakStable))
	v.SetDefault("matching.seed", 0)
	v.SetDefault("notify.concurrency", 4)
	v.SetDefault("notify.breaker.failures", 5)
	v.SetDefault("notify.breaker.timeout", 30*time.Second)
	return v
}

// loadConfig reads cfgFile (or ./match-round.yaml when present) on top of
// defaults and environment.
func loadConfig(v *viper.Viper, cfgFile string) (*Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(app)
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch matching.TieBreak(c.Matching.TieBreak) {
	case matching.TieBreakStable, matching.TieBreakShuffle:
	default:
		return fmt.Errorf("matching.tie-break must be %q or %q, got %q", matching.TieBreakStable, matching.TieBreakShuffle, c.Matching.TieBreak)
	}
	if c.Notify.Concurrency < 1 {
		return errors.New("notify.concurrency must be at least 1")
	}
	return nil
}

func (c *Config) matcherConfig() matching.Config {
	return matching.Config{
		EnforcePreference: c.Matching.EnforcePreference,
		TieBreak:          matching.TieBreak(c.Matching.TieBreak),
		Seed:              c.Matching.Seed,
		NotifyConcurrency: c.Notify.Concurrency,
	}
}
