// env.go environment variable overrides for xrhms
package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. XRHMS_LOCK_TIMEOUT.
const EnvPrefix = "XRHMS"

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings lists the overrides that are bound explicitly. Keys not listed
// here still resolve through AutomaticEnv.
func getEnvBindings() []envBinding {
	return []envBinding{
		{"output.mysql.username", "XRHMS_MYSQL_USERNAME", nil},
		{"output.mysql.password", "XRHMS_MYSQL_PASSWORD", nil},
		{"output.mysql.host", "XRHMS_MYSQL_HOST", nil},
		{"output.mysql.port", "XRHMS_MYSQL_PORT", validateEnvPort},
		{"output.mysql.database", "XRHMS_MYSQL_DATABASE", nil},
		{"output.postgres.dsn", "XRHMS_POSTGRES_DSN", nil},

		{"lock.timeout", "XRHMS_LOCK_TIMEOUT", validateEnvDuration},

		{"sentry.dsn", "XRHMS_SENTRY_DSN", nil},
		{"mqtt.password", "XRHMS_MQTT_PASSWORD", nil},

		{"debug", "XRHMS_DEBUG", validateEnvBool},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("must be a port number between 1 and 65535")
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("must be a duration such as 300s: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}
