package rest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Version is the library version advertised in the default User-Agent.
const Version = "0.1.0"

const defaultUserAgent = "DiscordBot (https://github.com/bobbibones0/Quackscordia, " + Version + ")"

// precisionCutover is the API version from which Discord always reports
// rate-limit timings in milliseconds; older versions need an explicit
// X-RateLimit-Precision hint.
const precisionCutover = 8

// Config holds the dispatcher settings. All fields can be populated from the
// environment via LoadConfig.
type Config struct {
	// Token is attached verbatim as the Authorization header. Bot tokens
	// must already carry their "Bot " prefix.
	Token string `env:"DISCORD_TOKEN,required"`

	// BaseURL is the API root without the version segment.
	BaseURL string `env:"DISCORD_API_URL" envDefault:"https://discord.com/api"`

	// APIVersion selects the versioned API path, e.g. 7 -> /api/v7.
	APIVersion int `env:"DISCORD_API_VERSION" envDefault:"7"`

	// MaxRetries bounds how many times a failed attempt is retried. The
	// transport is invoked at most MaxRetries+1 times per request.
	MaxRetries int `env:"DISCORD_MAX_RETRIES" envDefault:"5"`

	// RouteDelay is the base retry delay and the upper bound of the random
	// jitter added to computed backoffs.
	RouteDelay time.Duration `env:"DISCORD_ROUTE_DELAY" envDefault:"250ms"`

	// RequestTimeout applies to the default HTTP client only; a custom Doer
	// manages its own timeouts.
	RequestTimeout time.Duration `env:"DISCORD_REQUEST_TIMEOUT" envDefault:"30s"`

	// UserAgent overrides the default DiscordBot user agent.
	UserAgent string `env:"DISCORD_USER_AGENT"`
}

var loadEnvOnce sync.Once

// LoadConfig populates a Config from the environment, loading a .env file
// first when one exists.
func LoadConfig() (Config, error) {
	loadEnvOnce.Do(func() {
		// The .env file is optional.
		_ = godotenv.Load()
	})

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Join(ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration invariants.
func (c Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidConfig)
	}
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL is required", ErrInvalidConfig)
	}
	if c.APIVersion <= 0 {
		return fmt.Errorf("%w: API version must be positive, got %d", ErrInvalidConfig, c.APIVersion)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must be non-negative, got %d", ErrInvalidConfig, c.MaxRetries)
	}
	if c.RouteDelay < 0 {
		return fmt.Errorf("%w: route delay must be non-negative, got %v", ErrInvalidConfig, c.RouteDelay)
	}
	return nil
}
