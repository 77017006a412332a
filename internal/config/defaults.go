package config

const (
	defaultDataDir              = "~/.local/share/mdapi"
	defaultLogDir               = "~/.local/share/mdapi/logs"
	defaultAPIBind              = "127.0.0.1:7463"
	defaultAPIVersion           = "61.0"
	defaultRequestTimeout       = 30
	defaultLogFormat            = "text"
	defaultLogLevel             = "info"
	defaultScopeSize            = 1
	defaultPassInterval         = 5
	defaultMaxPollsPerItem      = 0
	defaultNotifyRequestTimeout = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Salesforce: Salesforce{
			APIVersion:     defaultAPIVersion,
			RequestTimeout: defaultRequestTimeout,
		},
		Batch: Batch{
			ScopeSize:       defaultScopeSize,
			PassInterval:    defaultPassInterval,
			MaxPollsPerItem: defaultMaxPollsPerItem,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			BatchStarted:   true,
			BatchCompleted: true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
