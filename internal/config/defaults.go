package config

const (
	defaultDataDir            = "~/.local/share/conveyor"
	defaultAPIBind            = "127.0.0.1:7519"
	defaultWorkerBinary       = "extract-worker"
	defaultInvocationTimeout  = 3600
	defaultStopGracePeriod    = 10
	defaultPoolSize           = 1
	defaultBatchSize          = 10
	defaultMaxRetries         = 3
	defaultBatchPause         = 2
	defaultRetryPause         = 5
	defaultPollInterval       = 5
	defaultErrorRetryInterval = 10
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

// RetryBatchSize is fixed at one item per retry invocation and is not
// user-configurable: the retry phase exists to isolate faults.
const RetryBatchSize = 1

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			APIBind: defaultAPIBind,
		},
		Worker: Worker{
			Binary:            defaultWorkerBinary,
			InvocationTimeout: defaultInvocationTimeout,
			StopGracePeriod:   defaultStopGracePeriod,
			PoolSize:          defaultPoolSize,
		},
		Orchestrator: Orchestrator{
			BatchSize:  defaultBatchSize,
			MaxRetries: defaultMaxRetries,
			BatchPause: defaultBatchPause,
			RetryPause: defaultRetryPause,
		},
		Daemon: Daemon{
			PollInterval:       defaultPollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
