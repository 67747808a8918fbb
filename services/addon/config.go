package addon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"addonbuilder/pkg/registry"
)

const (
	defaultEnv             = "development"
	defaultKeyword         = "ember-addon"
	defaultHTTPAddr        = ":8080"
	defaultRegistryTimeout = 10 * time.Second
)

// Config holds everything an invocation needs besides its clients.
type Config struct {
	Env             string
	Bucket          string
	BuildFunction   string
	BuildSubject    string
	NATSURL         string
	RegistryURL     string
	RegistryTimeout time.Duration
	Keyword         string
	Compat          CompatTable
	HTTPAddr        string

	// Now is used for placeholder timestamps; nil means time.Now.
	Now func() time.Time
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	cfg := Config{
		Env:           getEnv("ADDON_ENV", defaultEnv),
		Bucket:        strings.TrimSpace(os.Getenv("ADDON_BUCKET")),
		BuildFunction: strings.TrimSpace(os.Getenv("ADDON_BUILD_FUNCTION")),
		BuildSubject:  strings.TrimSpace(os.Getenv("ADDON_BUILD_SUBJECT")),
		NATSURL:       strings.TrimSpace(os.Getenv("NATS_URL")),
		RegistryURL:   getEnv("ADDON_REGISTRY_URL", registry.DefaultURL),
		Keyword:       getEnv("ADDON_KEYWORD", defaultKeyword),
		HTTPAddr:      getEnv("ADDON_HTTP_ADDR", defaultHTTPAddr),
	}

	if raw := os.Getenv("ADDON_REGISTRY_TIMEOUT_SECONDS"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			return Config{}, fmt.Errorf("invalid ADDON_REGISTRY_TIMEOUT_SECONDS: %q", raw)
		}
		cfg.RegistryTimeout = time.Duration(secs) * time.Second
	} else {
		cfg.RegistryTimeout = defaultRegistryTimeout
	}

	compat, err := LoadCompatTable(os.Getenv("ADDON_COMPAT_FILE"))
	if err != nil {
		return Config{}, err
	}
	cfg.Compat = compat

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required settings and fills defaults.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("ADDON_BUCKET is required")
	}
	if c.BuildSubject != "" && c.NATSURL == "" {
		return errors.New("NATS_URL is required when ADDON_BUILD_SUBJECT is set")
	}
	if c.BuildSubject == "" && c.BuildFunction == "" {
		return errors.New("ADDON_BUILD_FUNCTION is required")
	}
	if c.Compat.Len() == 0 {
		return errors.New("compatibility table is empty")
	}
	if c.Env == "" {
		c.Env = defaultEnv
	}
	if c.Keyword == "" {
		c.Keyword = defaultKeyword
	}
	if c.RegistryTimeout <= 0 {
		c.RegistryTimeout = defaultRegistryTimeout
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = defaultHTTPAddr
	}
	return nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
