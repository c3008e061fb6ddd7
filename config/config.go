// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

// Package config loads the settings of a relying party from the environment
// and, optionally, a dotenv file. A Config is read once at start-up and not
// changed afterwards.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/hashicorp/cap-token/session"
	"github.com/hashicorp/cap-token/token"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
)

// ErrInvalidConfig is returned when the loaded settings are unusable.
var ErrInvalidConfig = errors.New("invalid configuration")

// Environment variable names.
const (
	EnvKeycloakID        = "KEYCLOAK_ID"
	EnvKeycloakSecret    = "KEYCLOAK_SECRET"
	EnvKeycloakIssuer    = "KEYCLOAK_ISSUER"
	EnvKeycloakTokenURL  = "KEYCLOAK_TOKEN_URL"
	EnvKeycloakDiscovery = "KEYCLOAK_DISCOVERY"
	EnvKeycloakCAPEM     = "KEYCLOAK_CA_PEM"
	EnvSessionSecret     = "SESSION_SECRET"
	EnvSessionCookieName = "SESSION_COOKIE_NAME"
	EnvSessionSecure     = "SESSION_SECURE_COOKIE"
	EnvSessionMaxAge     = "SESSION_MAX_AGE"
	EnvSignInPath        = "SIGN_IN_PATH"
	EnvRefreshBuffer     = "REFRESH_BUFFER"
	EnvRefreshTimeout    = "REFRESH_TIMEOUT"
	EnvLogLevel          = "LOG_LEVEL"
	EnvAddr              = "ADDR"
	EnvMetricsEnabled    = "METRICS_ENABLED"
)

// SessionSecret is the secret session cookies are encrypted with. It redacts
// itself.
type SessionSecret string

// RedactedSessionSecret is the redacted string or json for a session secret.
const RedactedSessionSecret = "[REDACTED: session secret]"

// String will redact the secret.
func (s SessionSecret) String() string {
	return RedactedSessionSecret
}

// MarshalJSON will redact the secret.
func (s SessionSecret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + RedactedSessionSecret + `"`), nil
}

// Keycloak holds the identity provider client settings.
type Keycloak struct {
	ClientID     string
	ClientSecret token.ClientSecret
	Issuer       string

	// TokenURL overrides the token endpoint derived from Issuer.
	TokenURL string

	// Discovery resolves the token endpoint from the issuer's discovery
	// document instead of deriving it.
	Discovery bool

	// CAPEM is an optional PEM encoded CA for the provider's TLS certificate.
	CAPEM string
}

// Session holds the session cookie settings.
type Session struct {
	Secret       SessionSecret
	CookieName   string
	SecureCookie bool
	MaxAge       time.Duration
	SignInPath   string
}

// Refresh holds the token renewal settings.
type Refresh struct {
	Buffer  time.Duration
	Timeout time.Duration
}

// Config is the complete configuration.
type Config struct {
	Addr           string
	LogLevel       hclog.Level
	MetricsEnabled bool
	Keycloak       Keycloak
	Session        Session
	Refresh        Refresh
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(EnvAddr, ":8080")
	v.SetDefault(EnvLogLevel, "info")
	v.SetDefault(EnvMetricsEnabled, true)
	v.SetDefault(EnvKeycloakDiscovery, false)
	v.SetDefault(EnvSessionCookieName, session.DefaultCookieName)
	v.SetDefault(EnvSessionSecure, true)
	v.SetDefault(EnvSessionMaxAge, session.DefaultMaxAge.String())
	v.SetDefault(EnvSignInPath, session.DefaultSignInPath)
	v.SetDefault(EnvRefreshBuffer, token.DefaultRefreshBuffer.String())
	v.SetDefault(EnvRefreshTimeout, token.DefaultExchangeTimeout.String())
}

// Load reads the configuration from the environment. When envFile is not
// empty it names a dotenv file whose values are used for variables missing
// from the environment; a missing file is not an error.
func Load(envFile string) (*Config, error) {
	const op = "config.Load"
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%s: unable to read %s: %w", op, envFile, err)
			}
		}
	}

	var errs *multierror.Error
	duration := func(key string) time.Duration {
		d, err := time.ParseDuration(strings.TrimSpace(v.GetString(key)))
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return d
	}

	lvl := hclog.LevelFromString(v.GetString(EnvLogLevel))
	if lvl == hclog.NoLevel {
		errs = multierror.Append(errs, fmt.Errorf("%s: unknown level %q", EnvLogLevel, v.GetString(EnvLogLevel)))
	}

	c := &Config{
		Addr:           v.GetString(EnvAddr),
		LogLevel:       lvl,
		MetricsEnabled: v.GetBool(EnvMetricsEnabled),
		Keycloak: Keycloak{
			ClientID:     v.GetString(EnvKeycloakID),
			ClientSecret: token.ClientSecret(v.GetString(EnvKeycloakSecret)),
			Issuer:       v.GetString(EnvKeycloakIssuer),
			TokenURL:     v.GetString(EnvKeycloakTokenURL),
			Discovery:    v.GetBool(EnvKeycloakDiscovery),
			CAPEM:        v.GetString(EnvKeycloakCAPEM),
		},
		Session: Session{
			Secret:       SessionSecret(v.GetString(EnvSessionSecret)),
			CookieName:   v.GetString(EnvSessionCookieName),
			SecureCookie: v.GetBool(EnvSessionSecure),
			MaxAge:       duration(EnvSessionMaxAge),
			SignInPath:   v.GetString(EnvSignInPath),
		},
		Refresh: Refresh{
			Buffer:  duration(EnvRefreshBuffer),
			Timeout: duration(EnvRefreshTimeout),
		},
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, err, ErrInvalidConfig)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

// Validate reports every problem with c at once.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	var errs *multierror.Error
	if _, err := c.TokenConfig(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if len(c.Session.Secret) < session.MinSecretLength {
		errs = multierror.Append(errs, fmt.Errorf("%s must be at least %d bytes", EnvSessionSecret, session.MinSecretLength))
	}
	if c.Session.MaxAge <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("%s must be positive", EnvSessionMaxAge))
	}
	if !strings.HasPrefix(c.Session.SignInPath, "/") {
		errs = multierror.Append(errs, fmt.Errorf("%s %q is not an absolute path", EnvSignInPath, c.Session.SignInPath))
	}
	if c.Refresh.Buffer < 0 {
		errs = multierror.Append(errs, fmt.Errorf("%s must not be negative", EnvRefreshBuffer))
	}
	if c.Refresh.Timeout <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("%s must be positive", EnvRefreshTimeout))
	}
	if c.Addr == "" {
		errs = multierror.Append(errs, fmt.Errorf("%s is empty", EnvAddr))
	}
	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %s: %w", op, err, ErrInvalidConfig)
	}
	return nil
}

// TokenConfig returns the token endpoint configuration.
func (c *Config) TokenConfig() (*token.Config, error) {
	return token.NewConfig(
		c.Keycloak.Issuer,
		c.Keycloak.ClientID,
		c.Keycloak.ClientSecret,
		token.WithTokenURL(c.Keycloak.TokenURL),
		token.WithProviderCA(c.Keycloak.CAPEM),
	)
}

// SessionOptions returns the session options matching c.
func (c *Config) SessionOptions() []session.Option {
	return []session.Option{
		session.WithCookieName(c.Session.CookieName),
		session.WithSecureCookie(c.Session.SecureCookie),
		session.WithMaxAge(c.Session.MaxAge),
		session.WithSignInPath(c.Session.SignInPath),
	}
}
