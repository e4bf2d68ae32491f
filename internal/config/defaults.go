package config

const (
	defaultJobsDir             = "~/.local/share/kvweb/jobs"
	defaultLogDir              = "~/.local/share/kvweb/logs"
	defaultRequestTimeout      = 30
	defaultInitialDelay        = 3
	defaultPollInterval        = 5
	defaultBackoffInitial      = 2
	defaultBackoffMax          = 60
	defaultMaxTransientRetries = 8
	defaultEventBuffer         = 64
	defaultNotifyTimeout       = 10
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults. The service
// base URL has no default; deployments must point the client at a service
// explicitly.
func Default() Config {
	return Config{
		Service: Service{
			RequestTimeout: defaultRequestTimeout,
		},
		Paths: Paths{
			JobsDir: defaultJobsDir,
			LogDir:  defaultLogDir,
		},
		Polling: Polling{
			InitialDelay:        defaultInitialDelay,
			PollInterval:        defaultPollInterval,
			BackoffInitial:      defaultBackoffInitial,
			BackoffMax:          defaultBackoffMax,
			MaxTransientRetries: defaultMaxTransientRetries,
			EventBuffer:         defaultEventBuffer,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
