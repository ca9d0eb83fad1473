package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration, loaded from environment
// variables. Credentials and endpoints are read once here and then
// constructor-injected into collaborators — the core itself never reads
// the environment, per the injected-configuration design note.
type Config struct {
	// Mode selects the runtime mode: "server" (HTTP API + background
	// reconciler), "reconciler" (reconciler loop only, no HTTP), or
	// "migrate" (apply database migrations and exit).
	Mode string `env:"PROVISIONER_MODE" envDefault:"server"`

	// Server
	Host string `env:"PROVISIONER_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"PROVISIONER_PORT" envDefault:"8080"`

	// Database. Empty means "use the in-memory store" — the default/dev
	// mode with no external dependency, matching the teacher's seed/dev
	// ergonomics convention.
	DatabaseURL string `env:"DATABASE_URL"`

	// Redis (notifier pub/sub transport)
	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Telemetry
	MetricsPath string `env:"METRICS_PATH" envDefault:"/metrics"`

	// Migrations
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Reconciler
	QueryInterval string `env:"QUERY_INTERVAL" envDefault:"10s"`

	// Controller authentication: bearer tokens accepted on /api/v1, each
	// compared by SHA-256 digest (see internal/httpserver/pat.go) rather
	// than stored in the clear.
	ControllerTokenHashes []string `env:"CONTROLLER_TOKEN_HASHES" envSeparator:","`

	// DTRS client
	DTRSBaseURL string `env:"DTRS_BASE_URL" envDefault:"http://localhost:9001"`

	// Context broker client
	ContextBrokerBaseURL string `env:"CONTEXT_BROKER_BASE_URL" envDefault:"http://localhost:9002"`

	// EC2 site (optional — if Region is unset, the ec2 driver is not registered)
	EC2Site            string `env:"EC2_SITE" envDefault:"ec2-east"`
	EC2Region          string `env:"EC2_REGION"`
	EC2AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	EC2SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	EC2TagKey          string `env:"EC2_TAG_KEY" envDefault:"provisioner-managed"`
	EC2TagValue        string `env:"EC2_TAG_VALUE" envDefault:"true"`

	// Nimbus site (optional — if BaseURL is unset, the nimbus driver is not registered)
	NimbusSite    string `env:"NIMBUS_SITE" envDefault:"nimbus-test"`
	NimbusBaseURL string `env:"NIMBUS_BASE_URL"`
	NimbusKey     string `env:"NIMBUS_KEY"`
	NimbusSecret  string `env:"NIMBUS_SECRET"`

	// Slack (optional — if not set, Slack delivery is disabled)
	SlackBotToken       string `env:"SLACK_BOT_TOKEN"`
	SlackDefaultChannel string `env:"SLACK_DEFAULT_CHANNEL"`

	// Mattermost (optional — if not set, Mattermost delivery is disabled)
	MattermostURL            string `env:"MATTERMOST_URL"`
	MattermostBotToken       string `env:"MATTERMOST_BOT_TOKEN"`
	MattermostDefaultChannel string `env:"MATTERMOST_DEFAULT_CHANNEL"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	return cfg, nil
}

// ListenAddr returns the address the HTTP server should listen on.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
