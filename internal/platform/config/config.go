// Package config loads server settings from flags, TTKN_* environment
// variables and an optional config file, in that order of precedence.
package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"ttkn/pkg/domain"
	platformstrings "ttkn/pkg/platform/strings"
)

const EnvPrefix = "TTKN"

// Flag and key names. Nested keys map to env vars with "." and "-" replaced
// by "_", e.g. redis.pool-size -> TTKN_REDIS_POOL_SIZE.
const (
	FlagConfig          = "config"
	FlagAddr            = "addr"
	FlagOwner           = "owner"
	FlagStore           = "store"
	FlagRequestTimeout  = "request-timeout"
	FlagShutdownTimeout = "shutdown-timeout"
	FlagAdminToken      = "admin-token"

	FlagLogLevel  = "log.level"
	FlagLogFormat = "log.format"

	FlagDatabaseURL          = "database.url"
	FlagDatabaseMaxOpenConns = "database.max-open-conns"
	FlagDatabaseMaxIdleConns = "database.max-idle-conns"
	FlagDatabaseMigrate      = "database.migrate"

	FlagRedisURL          = "redis.url"
	FlagRedisPoolSize     = "redis.pool-size"
	FlagRedisMinIdleConns = "redis.min-idle-conns"
	FlagRedisDialTimeout  = "redis.dial-timeout"
	FlagRedisReadTimeout  = "redis.read-timeout"
	FlagRedisWriteTimeout = "redis.write-timeout"
	FlagRedisKeyPrefix    = "redis.key-prefix"

	FlagKafkaBrokers = "kafka.brokers"
	FlagKafkaTopic   = "kafka.topic"
	FlagKafkaGroup   = "kafka.group"

	FlagAuditSink   = "audit.sink"
	FlagAuditBuffer = "audit.buffer"

	FlagRateLimitMint   = "ratelimit.mint"
	FlagRateLimitWindow = "ratelimit.window"
	FlagTrustedProxies  = "ratelimit.trusted-proxies"

	FlagJWTSigningKey = "jwt.signing-key"
	FlagJWTIssuer     = "jwt.issuer"
	FlagJWTAudience   = "jwt.audience"
	FlagJWTTTL        = "jwt.ttl"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Audit sinks.
const (
	AuditSinkNone     = "none"
	AuditSinkMemory   = "memory"
	AuditSinkPostgres = "postgres"
	AuditSinkKafka    = "kafka"
)

// DefaultJWTSigningKey is only acceptable with the memory store.
const DefaultJWTSigningKey = "dev-secret-key-change-in-production"

// Server captures every setting the ttkn server reads.
type Server struct {
	Addr            string
	Owner           domain.Account
	Store           string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	AdminToken      string

	Log      LogConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Audit     AuditConfig
	RateLimit RateLimitConfig
	JWT       JWTConfig
}

type LogConfig struct {
	Level  string
	Format string
}

type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	Migrate      bool
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	KeyPrefix    string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	Group   string
}

type AuditConfig struct {
	Sink   string
	Buffer int
}

// RateLimitConfig bounds public mint requests per client IP. A zero Mint
// disables the limiter. Forwarding headers are believed only from peers in
// TrustedProxies.
type RateLimitConfig struct {
	Mint           int
	Window         time.Duration
	TrustedProxies []netip.Prefix
}

type JWTConfig struct {
	SigningKey string
	Issuer     string
	Audience   string
	TTL        time.Duration
}

// RegisterFlags declares every server flag with its default.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String(FlagConfig, "", "Path to a config file (yaml, json or toml)")
	fs.String(FlagAddr, ":8080", "HTTP listen address")
	fs.String(FlagOwner, "", "Ledger owner account (0x-prefixed, 20 bytes)")
	fs.String(FlagStore, StoreMemory, "Ledger store backend: memory, postgres or redis")
	fs.Duration(FlagRequestTimeout, 10*time.Second, "Per-request deadline")
	fs.Duration(FlagShutdownTimeout, 15*time.Second, "Graceful shutdown budget")
	fs.String(FlagAdminToken, "", "Token for operator endpoints; empty disables them")

	RegisterLogFlags(fs)
	RegisterDatabaseFlags(fs)

	fs.String(FlagRedisURL, "redis://localhost:6379/0", "Redis URL")
	fs.Int(FlagRedisPoolSize, 20, "Redis connection pool size")
	fs.Int(FlagRedisMinIdleConns, 2, "Redis minimum idle connections")
	fs.Duration(FlagRedisDialTimeout, 5*time.Second, "Redis dial timeout")
	fs.Duration(FlagRedisReadTimeout, 3*time.Second, "Redis read timeout")
	fs.Duration(FlagRedisWriteTimeout, 3*time.Second, "Redis write timeout")
	fs.String(FlagRedisKeyPrefix, "ttkn", "Prefix for ledger keys in Redis")

	RegisterKafkaFlags(fs)

	fs.String(FlagAuditSink, AuditSinkMemory, "Audit sink: none, memory, postgres or kafka")
	fs.Int(FlagAuditBuffer, 1024, "Async audit buffer size; 0 publishes synchronously")

	fs.Int(FlagRateLimitMint, 30, "Public mint requests allowed per client IP per window; 0 disables")
	fs.Duration(FlagRateLimitWindow, time.Minute, "Public mint rate limit window")
	fs.StringSlice(FlagTrustedProxies, nil, "Proxy CIDRs or IPs whose X-Forwarded-For and X-Real-IP headers are honored")

	RegisterJWTFlags(fs)
}

func RegisterLogFlags(fs *pflag.FlagSet) {
	fs.String(FlagLogLevel, "info", "Log level: debug, info, warn or error")
	fs.String(FlagLogFormat, "json", "Log format: json or text")
}

// RegisterKafkaFlags declares the broker flags, shared with the audit consumer.
func RegisterKafkaFlags(fs *pflag.FlagSet) {
	fs.StringSlice(FlagKafkaBrokers, nil, "Kafka seed brokers")
	fs.String(FlagKafkaTopic, "ttkn.ledger.events", "Kafka topic for ledger audit events")
	fs.String(FlagKafkaGroup, "ttkn-audit", "Kafka consumer group for the audit consumer")
}

// RegisterDatabaseFlags declares the Postgres flags, shared with the migrate command.
func RegisterDatabaseFlags(fs *pflag.FlagSet) {
	fs.String(FlagDatabaseURL, "", "Postgres URL")
	fs.Int(FlagDatabaseMaxOpenConns, 25, "Postgres max open connections")
	fs.Int(FlagDatabaseMaxIdleConns, 5, "Postgres max idle connections")
	fs.Bool(FlagDatabaseMigrate, true, "Apply the schema on startup when using Postgres")
}

// RegisterJWTFlags declares the bearer token flags, shared with the token command.
func RegisterJWTFlags(fs *pflag.FlagSet) {
	fs.String(FlagJWTSigningKey, DefaultJWTSigningKey, "HMAC key for bearer tokens")
	fs.String(FlagJWTIssuer, "ttkn", "Bearer token issuer")
	fs.String(FlagJWTAudience, "ttkn-api", "Bearer token audience")
	fs.Duration(FlagJWTTTL, time.Hour, "Bearer token lifetime")
}

// NewViper returns a viper bound to fs and to TTKN_* environment variables,
// with the config file named by --config merged in when set.
func NewViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	if path := v.GetString(FlagConfig); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return v, nil
}

// Load builds and validates the server config.
func Load(v *viper.Viper) (Server, error) {
	cfg := Server{
		Addr:            v.GetString(FlagAddr),
		Store:           strings.ToLower(v.GetString(FlagStore)),
		RequestTimeout:  v.GetDuration(FlagRequestTimeout),
		ShutdownTimeout: v.GetDuration(FlagShutdownTimeout),
		AdminToken:      v.GetString(FlagAdminToken),
		Log:             LoadLog(v),
		Database:        LoadDatabase(v),
		Redis: RedisConfig{
			URL:          v.GetString(FlagRedisURL),
			PoolSize:     v.GetInt(FlagRedisPoolSize),
			MinIdleConns: v.GetInt(FlagRedisMinIdleConns),
			DialTimeout:  v.GetDuration(FlagRedisDialTimeout),
			ReadTimeout:  v.GetDuration(FlagRedisReadTimeout),
			WriteTimeout: v.GetDuration(FlagRedisWriteTimeout),
			KeyPrefix:    v.GetString(FlagRedisKeyPrefix),
		},
		Kafka: LoadKafka(v),
		Audit: AuditConfig{
			Sink:   strings.ToLower(v.GetString(FlagAuditSink)),
			Buffer: v.GetInt(FlagAuditBuffer),
		},
		RateLimit: RateLimitConfig{
			Mint:   v.GetInt(FlagRateLimitMint),
			Window: v.GetDuration(FlagRateLimitWindow),
		},
		JWT: LoadJWT(v),
	}

	proxies, err := ParseTrustedProxies(v.GetStringSlice(FlagTrustedProxies))
	if err != nil {
		return Server{}, err
	}
	cfg.RateLimit.TrustedProxies = proxies

	owner := v.GetString(FlagOwner)
	if owner == "" {
		return Server{}, fmt.Errorf("owner account is required (--%s or %s_OWNER)", FlagOwner, EnvPrefix)
	}
	account, err := domain.ParseAccount(owner)
	if err != nil {
		return Server{}, fmt.Errorf("invalid owner account: %w", err)
	}
	cfg.Owner = account

	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

func LoadLog(v *viper.Viper) LogConfig {
	return LogConfig{
		Level:  v.GetString(FlagLogLevel),
		Format: v.GetString(FlagLogFormat),
	}
}

func LoadDatabase(v *viper.Viper) DatabaseConfig {
	return DatabaseConfig{
		URL:          v.GetString(FlagDatabaseURL),
		MaxOpenConns: v.GetInt(FlagDatabaseMaxOpenConns),
		MaxIdleConns: v.GetInt(FlagDatabaseMaxIdleConns),
		Migrate:      v.GetBool(FlagDatabaseMigrate),
	}
}

// LoadKafka reads brokers from a flag list or a comma-separated env var.
func LoadKafka(v *viper.Viper) KafkaConfig {
	var brokers []string
	for _, b := range v.GetStringSlice(FlagKafkaBrokers) {
		brokers = append(brokers, strings.Split(b, ",")...)
	}
	return KafkaConfig{
		Brokers: platformstrings.DedupeAndTrim(brokers),
		Topic:   v.GetString(FlagKafkaTopic),
		Group:   v.GetString(FlagKafkaGroup),
	}
}

// ParseTrustedProxies accepts CIDRs or bare addresses, comma-separated or
// repeated. A bare address trusts that single host.
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	var raw []string
	for _, v := range values {
		raw = append(raw, strings.Split(v, ",")...)
	}
	var prefixes []netip.Prefix
	for _, entry := range platformstrings.DedupeAndTrim(raw) {
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid --%s entry %q: %w", FlagTrustedProxies, entry, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid --%s entry %q: %w", FlagTrustedProxies, entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func LoadJWT(v *viper.Viper) JWTConfig {
	return JWTConfig{
		SigningKey: v.GetString(FlagJWTSigningKey),
		Issuer:     v.GetString(FlagJWTIssuer),
		Audience:   v.GetString(FlagJWTAudience),
		TTL:        v.GetDuration(FlagJWTTTL),
	}
}

// UsesDefaultSigningKey reports whether bearer tokens are signed with the
// published development key.
func (s Server) UsesDefaultSigningKey() bool {
	return s.JWT.SigningKey == DefaultJWTSigningKey
}

// Validate checks cross-field constraints.
func (s Server) Validate() error {
	if s.Owner.IsZero() {
		return fmt.Errorf("owner account must not be the zero address")
	}
	switch s.Store {
	case StoreMemory:
	case StorePostgres:
		if s.Database.URL == "" {
			return fmt.Errorf("--%s is required for the postgres store", FlagDatabaseURL)
		}
	case StoreRedis:
		if s.Redis.URL == "" {
			return fmt.Errorf("--%s is required for the redis store", FlagRedisURL)
		}
	default:
		return fmt.Errorf("unknown store %q (want memory, postgres or redis)", s.Store)
	}

	switch s.Audit.Sink {
	case AuditSinkNone, AuditSinkMemory:
	case AuditSinkPostgres:
		if s.Database.URL == "" {
			return fmt.Errorf("--%s is required for the postgres audit sink", FlagDatabaseURL)
		}
	case AuditSinkKafka:
		if len(s.Kafka.Brokers) == 0 || s.Kafka.Topic == "" {
			return fmt.Errorf("--%s and --%s are required for the kafka audit sink", FlagKafkaBrokers, FlagKafkaTopic)
		}
	default:
		return fmt.Errorf("unknown audit sink %q (want none, memory, postgres or kafka)", s.Audit.Sink)
	}
	if s.Audit.Buffer < 0 {
		return fmt.Errorf("--%s must not be negative", FlagAuditBuffer)
	}

	if s.RateLimit.Mint < 0 {
		return fmt.Errorf("--%s must not be negative", FlagRateLimitMint)
	}
	if s.RateLimit.Mint > 0 && s.RateLimit.Window <= 0 {
		return fmt.Errorf("--%s must be positive when rate limiting is on", FlagRateLimitWindow)
	}

	if s.JWT.SigningKey == "" {
		return fmt.Errorf("--%s is required", FlagJWTSigningKey)
	}
	if s.UsesDefaultSigningKey() && s.Store != StoreMemory {
		return fmt.Errorf("--%s must be changed from the development default for persistent stores", FlagJWTSigningKey)
	}
	return nil
}
