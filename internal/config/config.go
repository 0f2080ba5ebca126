package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	DatabaseURL      string
	RESTPort         string
	RESTAuthToken    string
	GRPCListenAddr   string
	ScanSourceURL    string
	VirusTotalAPIKey string
	AbuseIPDBAPIKey  string
	ReportOutputDir  string
	CollectorWorkers int
	Slack            SlackConfig
	Logger           LoggerConfig
	Upstream         UpstreamConfig
}

type SlackConfig struct {
	BotToken    string
	Channel     string
	MentionTeam string
}

// LoggerConfig controls the zap logger built by the observability package.
type LoggerConfig struct {
	Level       string
	Format      string // "console" or "json"
	ServiceName string
	LogFile     string // optional rotated file sink
	MaxSize     int    // megabytes
	MaxBackups  int
	MaxAge      int // days
	Compress    bool
}

// UpstreamConfig holds circuit breaker and retry settings for calls to the
// scan source and the threat-intel APIs.
type UpstreamConfig struct {
	Timeout              time.Duration
	EnableCircuitBreaker bool
	MaxFailures          uint32
	CircuitTimeout       time.Duration
	MaxRetries           int
	InitialInterval      time.Duration
	MaxInterval          time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("rest_api_port", "8080")
	v.SetDefault("grpc_listen_addr", "localhost:50051") // localhost only unless overridden
	v.SetDefault("report_output_dir", "reports")
	v.SetDefault("collector_concurrency", 4)
	v.SetDefault("slack_channel_security", "#security-alerts")
	v.SetDefault("slack_mention_team", "@security-team")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("log_service_name", "sitescan")
	v.SetDefault("log_max_size", 50)
	v.SetDefault("log_max_backups", 3)
	v.SetDefault("log_max_age", 28)
	v.SetDefault("log_compress", true)

	v.SetDefault("upstream_timeout_seconds", 30)
	v.SetDefault("upstream_circuit_breaker_enabled", true)
	v.SetDefault("upstream_circuit_breaker_max_failures", 5)
	v.SetDefault("upstream_circuit_breaker_timeout_seconds", 30)
	v.SetDefault("upstream_retry_max_attempts", 3)
	v.SetDefault("upstream_retry_initial_interval_ms", 500)
	v.SetDefault("upstream_retry_max_interval_ms", 5000)
}

// Load reads an optional .env file and then the environment. Missing keys
// fall back to development defaults; nothing here is fatal. DATABASE_URL and
// SCAN_SOURCE_URL have no default: leaving them unset or empty disables the
// scan archive and the scan source.
func Load() Config {
	// A missing .env is fine, every key has a default or is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return fromViper(v)
}

func fromViper(v *viper.Viper) Config {
	return Config{
		DatabaseURL:      v.GetString("database_url"),
		RESTPort:         v.GetString("rest_api_port"),
		RESTAuthToken:    v.GetString("rest_api_auth_token"),
		GRPCListenAddr:   v.GetString("grpc_listen_addr"),
		ScanSourceURL:    strings.TrimSuffix(v.GetString("scan_source_url"), "/"),
		VirusTotalAPIKey: v.GetString("virustotal_api_key"),
		AbuseIPDBAPIKey:  v.GetString("abuseipdb_api_key"),
		ReportOutputDir:  v.GetString("report_output_dir"),
		CollectorWorkers: max(1, v.GetInt("collector_concurrency")),
		Slack: SlackConfig{
			BotToken:    v.GetString("slack_bot_token"),
			Channel:     v.GetString("slack_channel_security"),
			MentionTeam: v.GetString("slack_mention_team"),
		},
		Logger: LoggerConfig{
			Level:       v.GetString("log_level"),
			Format:      v.GetString("log_format"),
			ServiceName: v.GetString("log_service_name"),
			LogFile:     v.GetString("log_file"),
			MaxSize:     v.GetInt("log_max_size"),
			MaxBackups:  v.GetInt("log_max_backups"),
			MaxAge:      v.GetInt("log_max_age"),
			Compress:    v.GetBool("log_compress"),
		},
		Upstream: UpstreamConfig{
			Timeout:              time.Duration(v.GetInt("upstream_timeout_seconds")) * time.Second,
			EnableCircuitBreaker: v.GetBool("upstream_circuit_breaker_enabled"),
			MaxFailures:          uint32(v.GetInt("upstream_circuit_breaker_max_failures")),
			CircuitTimeout:       time.Duration(v.GetInt("upstream_circuit_breaker_timeout_seconds")) * time.Second,
			MaxRetries:           v.GetInt("upstream_retry_max_attempts"),
			InitialInterval:      time.Duration(v.GetInt("upstream_retry_initial_interval_ms")) * time.Millisecond,
			MaxInterval:          time.Duration(v.GetInt("upstream_retry_max_interval_ms")) * time.Millisecond,
		},
	}
}
