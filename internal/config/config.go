// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN for the history/audit store; empty disables persistence
	// and the in-memory history provider is used instead.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// CorporateCIDRs is a comma-separated list of corporate CIDR ranges (e.g. "10.1.0.0/16,203.0.113.0/24").
	CorporateCIDRs string `mapstructure:"CORPORATE_CIDRS"`
	// VPNEgressIPs is a comma-separated list of known VPN egress addresses.
	VPNEgressIPs string `mapstructure:"VPN_EGRESS_IPS"`
	// GeoIPURL is the base URL of the GeoIP lookup collaborator; empty disables geolocation.
	GeoIPURL string `mapstructure:"GEOIP_URL"`
	// MaxTravelKmPerMin is the impossible-travel speed threshold (default 15, roughly a commercial flight).
	MaxTravelKmPerMin float64 `mapstructure:"MAX_TRAVEL_KM_PER_MIN"`

	// SessionTimeout is the default session lifetime (e.g. "60m").
	SessionTimeout string `mapstructure:"SESSION_TIMEOUT"`
	// SweepInterval is how often expiry sweeps run over sessions and challenges (e.g. "30s").
	SweepInterval string `mapstructure:"SWEEP_INTERVAL"`
	// AutoCreateTunnel enables tunnel creation on every granted access.
	AutoCreateTunnel bool `mapstructure:"AUTO_CREATE_TUNNEL"`
	// RecordSessions forces activity recording on every granted access, regardless of trust band.
	RecordSessions bool `mapstructure:"RECORD_SESSIONS"`

	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; signs session tokens.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim on session tokens.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim on session tokens.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`

	// ApprovalURL is the base URL of the manager-approval collaborator; empty leaves
	// manager-approval step-ups failing closed.
	ApprovalURL string `mapstructure:"APPROVAL_URL"`
	// BcryptCost is the bcrypt cost for stored re-auth credentials.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// SMSLocalAPIKey is the API key for the SMS dispatch channel. Empty disables SMS factors.
	SMSLocalAPIKey string `mapstructure:"SMS_LOCAL_API_KEY"`
	// SMSLocalSender is the optional sender ID for SMS Local.
	SMSLocalSender string `mapstructure:"SMS_LOCAL_SENDER"`
	// SMSLocalBaseURL is the SMS Local API base URL.
	SMSLocalBaseURL string `mapstructure:"SMS_LOCAL_BASE_URL"`

	// AuditKafkaBrokers is a comma-separated list of Kafka broker addresses; empty disables the audit stream.
	AuditKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// AuditKafkaTopic is the Kafka topic for audit events.
	AuditKafkaTopic string `mapstructure:"AUDIT_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group ID for the audit worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// LokiURL is the Loki base URL the audit worker pushes to (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`

	// OTLPEndpoint is the OTLP gRPC endpoint for traces/metrics/logs; empty disables export.
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTLP_INSECURE"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("CORPORATE_CIDRS", "")
	v.SetDefault("VPN_EGRESS_IPS", "")
	v.SetDefault("GEOIP_URL", "")
	v.SetDefault("MAX_TRAVEL_KM_PER_MIN", 15.0)
	v.SetDefault("SESSION_TIMEOUT", "60m")
	v.SetDefault("SWEEP_INTERVAL", "30s")
	v.SetDefault("AUTO_CREATE_TUNNEL", true)
	v.SetDefault("RECORD_SESSIONS", false)
	v.SetDefault("JWT_ISSUER", "sase-access")
	v.SetDefault("JWT_AUDIENCE", "sase-gateway")
	v.SetDefault("APPROVAL_URL", "")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("SMS_LOCAL_BASE_URL", "https://app.smslocal.in/api/smsapi")
	v.SetDefault("AUDIT_KAFKA_TOPIC", "sase-audit")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_GROUP_ID", "sase-audit-worker")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("OTLP_INSECURE", false)
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.MaxTravelKmPerMin <= 0 {
		return nil, errors.New("config: MAX_TRAVEL_KM_PER_MIN must be positive")
	}
	for _, c := range cfg.CorporateCIDRList() {
		if _, _, err := net.ParseCIDR(c); err != nil {
			return nil, errors.New("config: CORPORATE_CIDRS contains invalid CIDR " + c)
		}
	}
	for _, ip := range cfg.VPNEgressIPList() {
		if net.ParseIP(ip) == nil {
			return nil, errors.New("config: VPN_EGRESS_IPS contains invalid address " + ip)
		}
	}

	return &cfg, nil
}

// SessionTTL parses SessionTimeout as a time.Duration. Returns 60m if unset or invalid.
func (c *Config) SessionTTL() time.Duration {
	d, err := time.ParseDuration(c.SessionTimeout)
	if err != nil || d <= 0 {
		return 60 * time.Minute
	}
	return d
}

// SweepEvery parses SweepInterval as a time.Duration. Returns 30s if unset or invalid.
func (c *Config) SweepEvery() time.Duration {
	d, err := time.ParseDuration(c.SweepInterval)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// CorporateCIDRList returns the configured corporate CIDR ranges.
func (c *Config) CorporateCIDRList() []string {
	return splitList(c.CorporateCIDRs)
}

// VPNEgressIPList returns the configured VPN egress addresses.
func (c *Config) VPNEgressIPList() []string {
	return splitList(c.VPNEgressIPs)
}

// AuditKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if the audit stream is enabled (non-empty list) and to create the producer.
func (c *Config) AuditKafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.AuditKafkaBrokers)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
