package dbpool

import (
	"errors"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// PrivilegedMySQLConfig carries the admin credentials and server address for
// a MySQL or MariaDB backend. The privileged user needs CREATE DATABASE and
// user management.
type PrivilegedMySQLConfig struct {
	Username string `envconfig:"MYSQL_USERNAME" required:"true"`
	Password string `envconfig:"MYSQL_PASSWORD"`
	Host     string `envconfig:"MYSQL_HOST" default:"localhost"`
	Port     uint16 `envconfig:"MYSQL_PORT" default:"3306"`
}

// NewPrivilegedMySQLConfig returns a config for username with the defaults:
// no password, localhost, port 3306.
func NewPrivilegedMySQLConfig(username string) PrivilegedMySQLConfig {
	return PrivilegedMySQLConfig{
		Username: username,
		Host:     "localhost",
		Port:     3306,
	}
}

// MySQLConfigFromEnv loads the config from the MYSQL_USERNAME,
// MYSQL_PASSWORD, MYSQL_HOST, and MYSQL_PORT environment variables, with the
// same defaults as NewPrivilegedMySQLConfig. A .env file in the working
// directory is honored when present.
func MySQLConfigFromEnv() (PrivilegedMySQLConfig, error) {
	_ = godotenv.Load()

	var config PrivilegedMySQLConfig
	if err := envconfig.Process("", &config); err != nil {
		return PrivilegedMySQLConfig{}, fmt.Errorf("dbpool: load mysql config: %w", err)
	}
	return config, nil
}

// Validate checks that the config can produce DSNs.
func (c PrivilegedMySQLConfig) Validate() error {
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

// DefaultDSN returns the go-sql-driver DSN of the server as the privileged
// user with no database selected.
func (c PrivilegedMySQLConfig) DefaultDSN() string {
	return mysqlDSN(c.Username, c.Password, c.Host, c.Port, "")
}

// PrivilegedDSN returns the DSN of dbName as the privileged user.
func (c PrivilegedMySQLConfig) PrivilegedDSN(dbName string) string {
	return mysqlDSN(c.Username, c.Password, c.Host, c.Port, dbName)
}

// RestrictedDSN returns the DSN of dbName as the given restricted user.
func (c PrivilegedMySQLConfig) RestrictedDSN(username, password, dbName string) string {
	return mysqlDSN(username, password, c.Host, c.Port, dbName)
}

func mysqlDSN(username, password, host string, port uint16, dbName string) string {
	if password != "" {
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", username, password, host, port, dbName)
	}
	return fmt.Sprintf("%s@tcp(%s:%d)/%s", username, host, port, dbName)
}
