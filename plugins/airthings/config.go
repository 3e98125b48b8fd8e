package airthings

import (
	"fmt"
	"strings"

	"github.com/joshp123/airbridge/internal/oauth"
	"github.com/joshp123/airbridge/internal/rate"
)

const (
	Provider       = "airthings"
	Scope          = "read:device:current_values"
	DefaultAuthURL = "https://accounts-api.airthings.com/v1/token"
	DefaultBaseURL = "https://ext-api.airthings.com/v1"

	// Consumer API clients get 120 requests per hour.
	requestsPerHour = 120
)

// Config defines runtime configuration for the Airthings client.
type Config struct {
	BaseURL      string
	AuthURL      string
	ClientID     string
	ClientSecret string
}

func (c Config) withDefaults() Config {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.AuthURL = strings.TrimSpace(c.AuthURL)
	if c.AuthURL == "" {
		c.AuthURL = DefaultAuthURL
	}
	return c
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ClientID) == "" {
		return fmt.Errorf("airthings clientId is required")
	}
	if strings.TrimSpace(c.ClientSecret) == "" {
		return fmt.Errorf("airthings clientSecret is required")
	}
	return nil
}

// OAuthDeclaration describes the client-credentials exchange.
func OAuthDeclaration(cfg Config) oauth.Declaration {
	cfg = cfg.withDefaults()
	return oauth.Declaration{
		Provider: Provider,
		TokenURL: cfg.AuthURL,
		Scope:    Scope,
	}
}

// RateLimits declares the upstream request budget.
func RateLimits() rate.Declaration {
	return rate.Provider(Provider).
		MaxRequestsPer(rate.Hour, requestsPerHour).
		ReadHeaders(rate.StandardHeaders())
}
