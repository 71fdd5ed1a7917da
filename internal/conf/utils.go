// conf/utils.go various util functions for configuration package
package conf

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/muvis-xrh/xrhms-core/internal/errors"
)

// GetDefaultConfigPaths returns the directories searched for config.yaml. When
// one of them already holds a config file only that directory is returned.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "get-home-directory").
			Build()
	}

	configPaths := []string{
		filepath.Join(homeDir, ".config", "xrhms"),
		"/etc/xrhms",
		".",
	}

	for _, path := range configPaths {
		configFile := filepath.Join(path, "config.yaml")
		if _, err := os.Stat(configFile); err == nil {
			return []string{path}, nil
		}
	}

	return configPaths, nil
}

// FindConfigFile locates the configuration file in use.
func FindConfigFile() (string, error) {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return "", errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "find-config-paths").
			Build()
	}

	for _, path := range configPaths {
		configFilePath := filepath.Join(path, "config.yaml")
		if _, err := os.Stat(configFilePath); err == nil {
			return configFilePath, nil
		}
	}

	return "", errors.Newf("config file not found").
		Category(errors.CategoryFileIO).
		Context("operation", "find-config-file").
		Build()
}

// ParsePercentage converts a percentage string (e.g., "80%") to a float64
func ParsePercentage(percentage string) (float64, error) {
	if before, ok := strings.CutSuffix(strings.TrimSpace(percentage), "%"); ok {
		value, err := strconv.ParseFloat(before, 64)
		if err != nil {
			return 0, errors.New(err).
				Component("configuration").
				Category(errors.CategoryValidation).
				Context("input", percentage).
				Build()
		}
		return value, nil
	}
	return 0, errors.Newf("invalid percentage format").
		Component("configuration").
		Category(errors.CategoryValidation).
		Context("input", percentage).
		Build()
}
