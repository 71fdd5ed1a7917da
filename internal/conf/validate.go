// conf/validate.go

package conf

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is shared; validator caches struct metadata.
var validate = validator.New()

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct. Struct tags are checked
// first, then rules spanning several fields.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validate.Struct(settings); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				ve.Errors = append(ve.Errors, fmt.Sprintf("%s: failed on '%s' tag (value: %v)",
					fe.Namespace(), fe.Tag(), fe.Value()))
			}
		} else {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if err := validateOutputSettings(&settings.Output); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateStorageSettings(&settings.Storage); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateLockSettings(settings); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

// validateOutputSettings requires exactly one database backend.
func validateOutputSettings(output *DatabaseSettings) error {
	enabled := 0
	if output.SQLite.Enabled {
		enabled++
		if output.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required when sqlite is enabled")
		}
	}
	if output.MySQL.Enabled {
		enabled++
		if output.MySQL.Host == "" || output.MySQL.Database == "" {
			return fmt.Errorf("mysql host and database are required when mysql is enabled")
		}
	}
	if output.Postgres.Enabled {
		enabled++
		if output.Postgres.DSN == "" {
			return fmt.Errorf("postgres dsn is required when postgres is enabled")
		}
	}

	switch enabled {
	case 0:
		return fmt.Errorf("no database backend enabled")
	case 1:
		return nil
	default:
		return fmt.Errorf("only one database backend may be enabled, found %d", enabled)
	}
}

func validateStorageSettings(storage *StorageSettings) error {
	if storage.UsageThreshold != "" {
		value, err := ParsePercentage(storage.UsageThreshold)
		if err != nil {
			return fmt.Errorf("storage usage threshold: %w", err)
		}
		if value < 0 || value > 100 {
			return fmt.Errorf("storage usage threshold must be between 0%% and 100%%, got %s", storage.UsageThreshold)
		}
	}
	if strings.ContainsRune(storage.RawDataRoot, '/') {
		return fmt.Errorf("storage raw data root must be a folder name, not a path: %s", storage.RawDataRoot)
	}
	return nil
}

// validateLockSettings rejects the mysql lock backend without a mysql database.
func validateLockSettings(settings *Settings) error {
	if settings.Lock.Backend == "mysql" && !settings.Output.MySQL.Enabled {
		return fmt.Errorf("lock backend mysql requires the mysql database output")
	}
	return nil
}
