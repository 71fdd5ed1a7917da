// Package runtime wires the components one CLI job needs and tears them down
// again when the job ends.
package runtime

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/muvis-xrh/xrhms-core/internal/archive"
	"github.com/muvis-xrh/xrhms-core/internal/buildinfo"
	"github.com/muvis-xrh/xrhms-core/internal/command"
	"github.com/muvis-xrh/xrhms-core/internal/conf"
	"github.com/muvis-xrh/xrhms-core/internal/datastore"
	"github.com/muvis-xrh/xrhms-core/internal/lock"
	"github.com/muvis-xrh/xrhms-core/internal/logger"
	"github.com/muvis-xrh/xrhms-core/internal/metrics"
	"github.com/muvis-xrh/xrhms-core/internal/naming"
	"github.com/muvis-xrh/xrhms-core/internal/notify"
	"github.com/muvis-xrh/xrhms-core/internal/parser"
	"github.com/muvis-xrh/xrhms-core/internal/processor"
	"github.com/muvis-xrh/xrhms-core/internal/telemetry"
	"github.com/muvis-xrh/xrhms-core/internal/usercopy"
)

const finishTimeout = 15 * time.Second

// Context holds the state of one job. Fields are nil until Init succeeds.
type Context struct {
	Settings *conf.Settings
	Build    *buildinfo.Context
	Job      string
	JobID    string
	Log      logger.Logger

	Store      datastore.Interface
	Locker     lock.Locker
	Registry   *parser.Registry
	Processor  *processor.Processor
	Archive    *archive.Processor
	UserCopies *usercopy.Manager
	Validator  *naming.Validator
	Metrics    *metrics.JobMetrics
	Notifier   *notify.Notifier

	// Counts is published with the job summary.
	Counts map[string]int

	// Runner executes external commands, exec when nil.
	Runner command.Runner
	// HTTPClient is used for the Pushgateway, http.DefaultClient when nil.
	HTTPClient *http.Client

	central *logger.CentralLogger
	started time.Time
}

// NewContext creates an empty job context for settings.
func NewContext(settings *conf.Settings, build *buildinfo.Context) *Context {
	return &Context{Settings: settings, Build: build, Counts: map[string]int{}}
}

// Init sets up logging, telemetry and the datastore, then builds the
// engines on top of them. ctx gains the job ID for log correlation.
func (c *Context) Init(ctx context.Context, job string) (context.Context, error) {
	c.Job = job
	c.JobID = uuid.NewString()
	c.started = time.Now()
	c.Settings.Version = c.Build.GetVersion()
	c.Settings.BuildDate = c.Build.GetBuildDate()
	if c.Settings.Main.Name == "" {
		c.Settings.Main.Name = c.Build.GetNode()
	}

	if c.Settings.Debug {
		c.Settings.Logging.DefaultLevel = "debug"
		if c.Settings.Logging.Console != nil {
			c.Settings.Logging.Console.Level = "debug"
		}
	}
	central, err := logger.NewCentralLogger(&c.Settings.Logging)
	if err != nil {
		return ctx, err
	}
	logger.SetGlobal(central)
	c.central = central
	ctx = logger.WithJobID(ctx, c.JobID)
	c.Log = central.Module("main").WithContext(ctx).With(logger.String("job", job))

	if err := telemetry.InitSentry(c.Settings, central.Module("telemetry")); err != nil {
		c.Log.Warn("sentry unavailable", logger.Error(err))
	}

	if c.Metrics, err = metrics.NewJobMetrics(c.metricsJob()); err != nil {
		return ctx, err
	}
	c.Notifier = c.newNotifier()

	if c.Store, err = datastore.New(c.Settings, central.Module("datastore")); err != nil {
		return ctx, err
	}
	if err := c.Store.Open(); err != nil {
		c.Store = nil
		return ctx, err
	}
	if c.Locker, err = lock.New(c.Settings, c.Store.Gorm(), central.Module("lock")); err != nil {
		return ctx, err
	}
	if c.Registry, err = parser.FromSettings(c.Store, c.Settings, central.Module("parser")); err != nil {
		return ctx, err
	}
	if c.Runner == nil {
		c.Runner = command.Exec{}
	}

	c.Processor = processor.New(c.Store, c.Registry, c.Locker, c.Settings,
		central.Module("processor").WithContext(ctx), processor.WithMetrics(c.Metrics))
	c.Archive = archive.New(c.Store, c.Processor, c.Runner, c.Settings, central.Module("archive"))
	c.Processor.SetArchive(c.Archive)
	c.UserCopies = usercopy.New(c.Store, c.Registry, c.Locker, c.Runner, c.Settings,
		central.Module("usercopy").WithContext(ctx), usercopy.WithMetrics(c.Metrics))
	c.Validator = naming.NewValidator(c.Store, central.Module("naming"))

	c.Log.Debug("job initialised",
		logger.String("job_id", c.JobID),
		logger.String("version", c.Settings.Version),
		logger.String("database", c.Store.Gorm().Dialector.Name()))
	return ctx, nil
}

func (c *Context) metricsJob() string {
	if c.Settings.Metrics.Job != "" {
		return c.Settings.Metrics.Job
	}
	return "xrhms_" + c.Job
}

// newNotifier connects to MQTT when enabled. A broker that cannot be reached
// only costs the summary.
func (c *Context) newNotifier() *notify.Notifier {
	log := c.central.Module("notify")
	if !c.Settings.MQTT.Enabled {
		return notify.New(nil, c.Settings.MQTT.Topic, log)
	}
	publisher, err := notify.NewMQTTPublisher(&c.Settings.MQTT, "xrhms-"+c.JobID)
	if err != nil {
		log.Warn("mqtt unavailable, job summary will not be published",
			logger.String("broker", c.Settings.MQTT.Broker),
			logger.Error(err))
		return notify.New(nil, c.Settings.MQTT.Topic, log)
	}
	return notify.New(publisher, c.Settings.MQTT.Topic, log)
}

// Finish records the outcome of the job from the error its command returned:
// metrics are pushed and the summary published. Failures here are logged and
// never change the exit code.
func (c *Context) Finish(ctx context.Context, jobErr error) {
	if c.Log == nil {
		return
	}
	exitCode := ExitCode(jobErr)
	runErr := Cause(jobErr)
	success := exitCode == 0
	c.Metrics.Finish(success)

	ctx, cancel := context.WithTimeout(ctx, finishTimeout)
	defer cancel()

	if c.Settings.Metrics.Enabled {
		client := c.HTTPClient
		if client == nil {
			client = http.DefaultClient
		}
		if err := c.Metrics.Push(ctx, c.Settings.Metrics.PushGateway, c.Settings.Main.Name, client); err != nil {
			c.Log.Warn("metrics push failed", logger.Error(err))
		}
	}

	summary := &notify.Summary{
		Job:      c.Job,
		JobID:    c.JobID,
		Node:     c.Settings.Main.Name,
		Started:  c.started,
		Finished: time.Now(),
		Success:  success,
		ExitCode: exitCode,
		Counts:   c.Counts,
	}
	if runErr != nil {
		summary.Error = runErr.Error()
	}
	if err := c.Notifier.PublishSummary(ctx, summary); err != nil {
		c.Log.Warn("job summary not published", logger.Error(err))
	}

	if runErr != nil {
		c.Log.Error("job failed", logger.Int("exit_code", exitCode), logger.Error(runErr))
	}
	c.Log.Info("job finished",
		logger.Int("exit_code", exitCode),
		logger.Bool("success", success),
		logger.Duration("elapsed", time.Since(c.started)))
}

// Close releases everything Init opened. It is safe after a failed Init.
func (c *Context) Close() error {
	c.Notifier.Close()
	telemetry.Flush()

	var err error
	if c.Store != nil {
		err = c.Store.Close()
	}
	if c.central != nil {
		if cerr := c.central.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
