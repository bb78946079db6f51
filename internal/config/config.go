// Package config provides server configuration loaded from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/morezero/service-dispatcher/pkg/db"
	"github.com/morezero/service-dispatcher/pkg/release"
)

const logPrefix = "config:LoadConfig"

// Config holds service-dispatcher configuration.
type Config struct {
	// COMMS: connect to standalone NATS at COMMSURL.
	COMMSURL  string `envconfig:"COMMS_URL" default:"nats://127.0.0.1:4222"`
	COMMSName string `envconfig:"SERVICE_NAME" default:"service-dispatcher"`

	// Subject overrides (empty = derive from the release)
	DispatchSubject       string `envconfig:"DISPATCH_SUBJECT"`
	TaskSubject           string `envconfig:"TASK_SUBJECT"`
	ExecutionEventSubject string `envconfig:"EXECUTION_EVENT_SUBJECT"`

	// Timeouts
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"25s"`

	// Service
	ServiceRelease    string `envconfig:"SERVICE_RELEASE"`
	ServiceConfigFile string `envconfig:"SERVICE_CONFIG_FILE" default:"config/service.yaml"`
	DiscoveryFile     string `envconfig:"DISCOVERY_FILE"`
	DefaultSpace      string `envconfig:"DEFAULT_SPACE"`

	// Database (optional; empty keeps tasks in memory)
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"false"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"migrations"`
	DBMaxConns    int32  `envconfig:"DB_MAX_CONNS" default:"20"`
	DBMinConns    int32  `envconfig:"DB_MIN_CONNS" default:"2"`

	// HTTP surface
	HTTPPort           int           `envconfig:"HTTP_PORT" default:"8080"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`

	// FHIR (optional; empty disables the /fhir/ proxy)
	FHIRServerURLs []string      `envconfig:"FHIR_SERVER_URLS"`
	FHIRVersion    string        `envconfig:"FHIR_VERSION" default:"R4"`
	FHIRTimeout    time.Duration `envconfig:"FHIR_TIMEOUT" default:"30s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Release parses SERVICE_RELEASE.
func (c *Config) Release() (release.ID, error) {
	id, err := release.Parse(c.ServiceRelease)
	if err != nil {
		return release.ID{}, fmt.Errorf("%s - SERVICE_RELEASE: %w", logPrefix, err)
	}
	return id, nil
}

// ValidateForServe checks required config when running the dispatcher server.
func (c *Config) ValidateForServe() error {
	if c.ServiceRelease == "" {
		return fmt.Errorf("%s - SERVICE_RELEASE is required for serve", logPrefix)
	}
	if _, err := c.Release(); err != nil {
		return err
	}
	if c.ServiceConfigFile == "" {
		return fmt.Errorf("%s - SERVICE_CONFIG_FILE is required for serve", logPrefix)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%s - REQUEST_TIMEOUT must be positive", logPrefix)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("%s - HEALTH_CHECK_TIMEOUT must be positive", logPrefix)
	}
	if c.RunMigrations && c.DatabaseURL == "" {
		return fmt.Errorf("%s - RUN_MIGRATIONS requires DATABASE_URL", logPrefix)
	}
	if len(c.FHIRServerURLs) > 0 && c.FHIRTimeout <= 0 {
		return fmt.Errorf("%s - FHIR_TIMEOUT must be positive", logPrefix)
	}
	return nil
}

// ValidateForDB checks required config when running DB-dependent commands (migrate, clear, ensure-db).
func (c *Config) ValidateForDB() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}

// PoolParams returns the connection pool settings.
func (c *Config) PoolParams() db.PoolParams {
	return db.PoolParams{URL: c.DatabaseURL, MaxConns: c.DBMaxConns, MinConns: c.DBMinConns}
}
