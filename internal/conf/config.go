// conf/config.go settings structure and loading for xrhms
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/muvis-xrh/xrhms-core/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// DatabaseSettings selects and configures the relational store.
type DatabaseSettings struct {
	SQLite struct {
		Enabled bool   // true to use a local sqlite database
		Path    string // path to sqlite database
	}

	MySQL struct {
		Enabled  bool   // true to use mysql
		Username string // username for mysql database
		Password string // password for mysql database
		Database string // database name for mysql database
		Host     string // host for mysql database
		Port     string // port for mysql database
	}

	Postgres struct {
		Enabled bool   // true to use postgres
		DSN     string // libpq style connection string
	}
}

// LockSettings configures the cross-process lock guarding filesystem and table mutation.
type LockSettings struct {
	Name         string        `validate:"required"`                       // well-known lock name shared by every job
	Timeout      time.Duration `validate:"gt=0"`                           // how long to wait for the lock
	Lease        time.Duration `validate:"gte=0"`                          // extra lease on top of Timeout for the row lock backend
	PollInterval time.Duration `validate:"gt=0"`                           // how often the row lock backend retries
	Backend      string        `validate:"omitempty,oneof=auto row mysql"` // auto picks GET_LOCK on mysql
}

// StorageSettings describes the share layout and the user scratch area.
type StorageSettings struct {
	MountRoot         string   `validate:"required"` // directory all shares are mounted under
	RawDataRoot       string   `validate:"required"` // name of the top level raw data folder, never moved itself
	AttachmentDir     string   `validate:"required"` // where copied attachments and thumbnails are stored
	UserDataFolder    string   // root of per user scratch folders
	ReadmePath        string   // README copied into every user copy
	FolderScript      string   // privileged helper creating a user folder
	SampleInfoFile    string   `validate:"required"` // name of the sample info text file written next to datasets
	ExtraFolder       string   `validate:"required"` // name of the curated export folder
	DeletionAfterDays int      `validate:"gte=0"`    // default retention for user copies
	UsageThreshold    string   // e.g. "20%", user copy deletions only run when free space is below it
	MetadataDirs      []string // platform metadata directories stripped before a move
}

// ArchiveSettings configures the removable archive drive.
type ArchiveSettings struct {
	Path    string `validate:"required"` // mount point of the archive drive
	Device  string `validate:"required"` // smartctl device type
	Command string `validate:"required"` // smartctl binary
	Sudo    bool   // run smartctl through sudo
}

// ParserSettings enables dataset formats.
type ParserSettings struct {
	Nikon        bool   // .xtekct and .xtekhelixct
	VSI          bool   // Olympus .vsi
	VSIExtractor string // command producing the OME-XML next to a .vsi
	Thumbnails   bool   // render projection thumbnails to PNG
}

// SentrySettings contains settings for error telemetry.
type SentrySettings struct {
	Enabled     bool
	DSN         string `validate:"required_if=Enabled true"`
	Environment string
}

// MetricsSettings contains settings for pushing job metrics.
type MetricsSettings struct {
	Enabled     bool
	PushGateway string `validate:"required_if=Enabled true,omitempty,url"` // Prometheus Pushgateway URL
	Job         string // job label, defaults to the command name
}

// MQTTSettings contains settings for publishing job summaries.
type MQTTSettings struct {
	Enabled  bool   // true to enable MQTT
	Broker   string `validate:"required_if=Enabled true"` // MQTT (tcp://host:port)
	Topic    string // MQTT topic prefix
	ClientID string // client identifier, generated when empty
	Username string // MQTT username
	Password string // MQTT password
}

// Settings holds the whole configuration.
type Settings struct {
	Debug bool // true to enable debug mode

	// Runtime values, not stored in config file
	Version   string `yaml:"-"`
	BuildDate string `yaml:"-"`

	Main struct {
		Name string // node name, included in job summaries
	}

	Output DatabaseSettings

	Lock    LockSettings
	Storage StorageSettings
	Archive ArchiveSettings
	Parsers ParserSettings

	Logging logger.LoggingConfig

	Sentry  SentrySettings
	Metrics MetricsSettings
	MQTT    MQTTSettings
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file, .env and environment variables.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// decodeHook turns "300s" into durations and "a,b" into slices.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	// .env is optional; it usually carries database credentials
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error loading .env file: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	if err := bindEnvVars(); err != nil {
		log.Printf("Warning: %v", err)
	}

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded default config into dir and reads it back.
func createDefaultConfig(dir string) error {
	configPath := filepath.Join(dir, "config.yaml")

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(getDefaultConfig()), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}
	return string(data)
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting returns the current settings instance, initializing it if necessary
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			_, err := Load()
			if err != nil {
				log.Fatalf("Error loading settings: %v", err)
			}
		}
	})
	return GetSettings()
}

// DefaultSettings returns the embedded defaults decoded without touching the
// filesystem or the environment. Tests and "config show --defaults" use it.
func DefaultSettings() (*Settings, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(getDefaultConfig())); err != nil {
		return nil, fmt.Errorf("error reading embedded config: %w", err)
	}
	settings := &Settings{}
	if err := v.Unmarshal(settings, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("error unmarshaling embedded config: %w", err)
	}
	return settings, nil
}

// SaveYAMLConfig writes settings to configPath through a temporary file.
// Comments and ordering of the existing file are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}

// LockTimeoutSeconds returns the lock wait in whole seconds, as GET_LOCK expects.
func (s *Settings) LockTimeoutSeconds() int {
	return int(s.Lock.Timeout / time.Second)
}
