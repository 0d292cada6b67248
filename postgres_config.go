package dbpool

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// PrivilegedPostgresConfig carries the admin credentials and server address
// for a PostgreSQL backend. The privileged user needs CREATE DATABASE and
// role management; the restricted role borrowers connect as is derived from
// this config by the backend.
type PrivilegedPostgresConfig struct {
	Username string `envconfig:"POSTGRES_USERNAME" required:"true"`
	Password string `envconfig:"POSTGRES_PASSWORD"`
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     uint16 `envconfig:"POSTGRES_PORT" default:"5432"`
}

// NewPrivilegedPostgresConfig returns a config for username with the
// defaults: no password, localhost, port 5432.
func NewPrivilegedPostgresConfig(username string) PrivilegedPostgresConfig {
	return PrivilegedPostgresConfig{
		Username: username,
		Host:     "localhost",
		Port:     5432,
	}
}

// PostgresConfigFromEnv loads the config from the POSTGRES_USERNAME,
// POSTGRES_PASSWORD, POSTGRES_HOST, and POSTGRES_PORT environment
// variables, with the same defaults as NewPrivilegedPostgresConfig. A .env
// file in the working directory is honored when present.
func PostgresConfigFromEnv() (PrivilegedPostgresConfig, error) {
	_ = godotenv.Load()

	var config PrivilegedPostgresConfig
	if err := envconfig.Process("", &config); err != nil {
		return PrivilegedPostgresConfig{}, fmt.Errorf("dbpool: load postgres config: %w", err)
	}
	return config, nil
}

// Validate checks that the config can produce connection URLs.
func (c PrivilegedPostgresConfig) Validate() error {
	if c.Username == "" {
		return errors.New("username is required")
	}
	if c.Host == "" {
		return errors.New("host is required")
	}
	if c.Port == 0 {
		return errors.New("port is required")
	}
	return nil
}

// DefaultConnectionURL returns the URL of the admin database as the
// privileged user.
func (c PrivilegedPostgresConfig) DefaultConnectionURL() string {
	return c.PrivilegedDatabaseURL("postgres")
}

// PrivilegedDatabaseURL returns the URL of dbName as the privileged user.
func (c PrivilegedPostgresConfig) PrivilegedDatabaseURL(dbName string) string {
	return postgresURL(c.Username, c.Password, c.Host, c.Port, dbName)
}

// RestrictedDatabaseURL returns the URL of dbName as the given restricted
// user.
func (c PrivilegedPostgresConfig) RestrictedDatabaseURL(username, password, dbName string) string {
	return postgresURL(username, password, c.Host, c.Port, dbName)
}

func postgresURL(username, password, host string, port uint16, dbName string) string {
	if password != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
			url.QueryEscape(username), url.QueryEscape(password), host, port, dbName)
	}
	return fmt.Sprintf("postgres://%s@%s:%d/%s",
		url.QueryEscape(username), host, port, dbName)
}
