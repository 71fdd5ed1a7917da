// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"

	"github.com/muvis-xrh/xrhms-core/internal/logger"
)

// Well known values shared with the rest of the system.
const (
	DefaultLockName    = "xtek_lock"
	DefaultLockTimeout = 300 * time.Second
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)
	viper.SetDefault("main.name", "xrhms")

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "xrhms.db")
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")
	viper.SetDefault("output.mysql.database", "xrhms")
	viper.SetDefault("output.postgres.enabled", false)

	viper.SetDefault("lock.name", DefaultLockName)
	viper.SetDefault("lock.timeout", DefaultLockTimeout)
	viper.SetDefault("lock.lease", 30*time.Minute)
	viper.SetDefault("lock.pollinterval", time.Second)
	viper.SetDefault("lock.backend", "auto")

	viper.SetDefault("storage.mountroot", "/mnt")
	viper.SetDefault("storage.rawdataroot", "CTData")
	viper.SetDefault("storage.attachmentdir", "/var/lib/xrhms/attachments")
	viper.SetDefault("storage.userdatafolder", "/mnt/users")
	viper.SetDefault("storage.readmepath", "/etc/xrhms/README.txt")
	viper.SetDefault("storage.folderscript", "/opt/xrh-scripts/create_user_folder.sh")
	viper.SetDefault("storage.sampleinfofile", "SAMPLE_INFO.txt")
	viper.SetDefault("storage.extrafolder", "extra")
	viper.SetDefault("storage.deletionafterdays", 30)
	viper.SetDefault("storage.usagethreshold", "20%")
	viper.SetDefault("storage.metadatadirs", []string{"@eaDir"})

	viper.SetDefault("archive.path", "/mnt/archive")
	viper.SetDefault("archive.device", "sat")
	viper.SetDefault("archive.command", "smartctl")
	viper.SetDefault("archive.sudo", true)

	viper.SetDefault("parsers.nikon", true)
	viper.SetDefault("parsers.vsi", true)
	viper.SetDefault("parsers.vsiextractor", "/opt/xrh-scripts/vsi_extractor.py")
	viper.SetDefault("parsers.thumbnails", true)

	viper.SetDefault("logging.default_level", logger.DefaultLogLevel)
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", logger.DefaultLogLevel)
	viper.SetDefault("logging.file_output.enabled", false)
	viper.SetDefault("logging.file_output.path", logger.DefaultLogPath)
	viper.SetDefault("logging.file_output.max_size", logger.DefaultMaxSize)
	viper.SetDefault("logging.file_output.max_age", logger.DefaultMaxAge)
	viper.SetDefault("logging.file_output.max_rotated_files", logger.DefaultMaxRotatedFiles)
	viper.SetDefault("logging.file_output.compress", true)

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.environment", "production")

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.job", "xrhms")

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.topic", "xrhms/jobs")
}
