package config

// Default values for configuration options. These are "layer 0" of the
// override chain and work against the production provider once client
// credentials are supplied.
const (
	defaultProviderName     = "quickbooks"
	defaultBaseURL          = "https://quickbooks.api.intuit.com/v3"
	defaultTokenURL         = "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"
	defaultMinorVersion     = 73
	defaultRetryMaxAttempts = 3
	defaultRetryBaseDelay   = "1s"
	defaultSweepInterval    = "5m"
	defaultSweepCeiling     = 5
	defaultSweepBaseDelay   = "60s"
	defaultSweepBatchSize   = 100
	defaultSweepConcurrency = 4
	defaultLeaseTimeout     = "15m"
	defaultRefreshWindow    = "2m"
	defaultBusyTimeout      = "5s"
	defaultListen           = "127.0.0.1:8780"
	defaultMaxBatch         = 100
	defaultShutdownTimeout  = "10s"
	defaultLogLevel         = "info"
	defaultLogFormat        = "auto"
	defaultLogRetentionDays = 30
	defaultLogMaxSizeMB     = 50
	defaultConnectTimeout   = "10s"
	defaultDataTimeout      = "60s"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name:         defaultProviderName,
			BaseURL:      defaultBaseURL,
			TokenURL:     defaultTokenURL,
			MinorVersion: defaultMinorVersion,
		},
		Retry: RetryConfig{
			MaxAttempts: defaultRetryMaxAttempts,
			BaseDelay:   defaultRetryBaseDelay,
		},
		Sweeper: SweeperConfig{
			Interval:     defaultSweepInterval,
			Ceiling:      defaultSweepCeiling,
			BaseDelay:    defaultSweepBaseDelay,
			BatchSize:    defaultSweepBatchSize,
			Concurrency:  defaultSweepConcurrency,
			LeaseTimeout: defaultLeaseTimeout,
			Entity:       make(map[string]EntityRetryConfig),
		},
		Token: TokenConfig{
			RefreshWindow: defaultRefreshWindow,
		},
		Store: StoreConfig{
			BusyTimeout: defaultBusyTimeout,
		},
		Server: ServerConfig{
			Listen:          defaultListen,
			MaxBatch:        defaultMaxBatch,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Logging: LoggingConfig{
			LogLevel:         defaultLogLevel,
			LogFormat:        defaultLogFormat,
			LogRetentionDays: defaultLogRetentionDays,
			LogMaxSizeMB:     defaultLogMaxSizeMB,
		},
		Network: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			DataTimeout:    defaultDataTimeout,
		},
	}
}
