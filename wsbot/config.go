//nolint:lll // struct tags can't be split
package wsbot

import (
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
)

const (
	EnvvarSetEnvPrefix     = "WSBOT_ENV_PREFIX"
	DefaultEnvPrefix       = "WS"
	DefaultDatabaseType    = dbTypePostgres
	DefaultDatabase        = ""
	DefaultLogLevel        = slog.LevelInfo
	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second

	DefaultDiscordWebhookServerListen        = "127.0.0.1:5001"
	DefaultDiscordWebhookServerTLSminVersion = tls.VersionTLS12
	DefaultDiscordGatewayIntent              = discordgo.IntentsGuilds
	DefaultDiscordWebhookLogLevel            = slog.LevelInfo
	DefaultDiscordLogLevel                   = slog.LevelInfo
	DefaultDiscordgoLogLevel                 = slog.LevelWarn
	DefaultDiscordCustomStatus               = "/quran"

	DefaultAPIListen        = "0.0.0.0:8080"
	DefaultAPITLSMinVersion = tls.VersionTLS12
	DefaultAPILogLevel      = slog.LevelInfo

	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultDatabaseLogLevel      = slog.LevelWarn

	DefaultCacheBackend       = cacheBackendDatabase
	DefaultCacheLocalTTL      = time.Hour
	DefaultCacheLocalSize     = 10000
	DefaultCacheRedisPrefix   = "ws_discord_cache:"
	DefaultCacheRedisTTL      = 7 * 24 * time.Hour
	DefaultCacheRemoteTimeout = 3 * time.Second
	DefaultCacheBreakerTrip   = 5
	DefaultCacheBreakerReset  = 30 * time.Second
	DefaultCacheLogLevel      = slog.LevelInfo

	DefaultContentAPIURL                  = "https://api.wikisubmission.org"
	DefaultPrayerTimesURL                 = "https://practices.wikisubmission.org"
	DefaultContentAPITimeout              = 15 * time.Second
	DefaultContentAPIMaxRequestsPerSecond = 10.0
	DefaultContentAPILogLevel             = slog.LevelInfo

	defaultListenNetwork           = "tcp"
	DefaultAPICORSAllowCredentials = false
)

type DiscordInteractionReceiveMethod string

var (
	discordInteractionReceiveMethodGateway DiscordInteractionReceiveMethod = "gateway"
	discordInteractionReceiveMethodWebhook DiscordInteractionReceiveMethod = "webhook"
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Cache-Control",
		xRequestIDHeader,
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		xRequestIDHeader,
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

type Config struct {
	// Database connection string. When empty, pagination state is only
	// kept in process memory unless a redis cache backend is configured.
	Database string `yaml:"database" mapstructure:"database" json:"database" log:"[redacted]"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// Development enables gin debug mode and permissive CORS
	Development bool `yaml:"development" mapstructure:"development" json:"development"`

	// API configures the health check server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api" binding:"required"`

	// Discord configures aspects of the Discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord" binding:"required"`

	// Cache configures where pagination state is stored
	Cache *CacheConfig `yaml:"cache" mapstructure:"cache" json:"cache" binding:"required"`

	// ContentAPI configures the upstream Quran/media/newsletter API
	ContentAPI *ContentAPIConfig `yaml:"content_api" mapstructure:"content_api" json:"content_api" binding:"required"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// connect to its backing stores. If this is passed, startup is aborted.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow in-flight interactions to finish
	// before connections are closed.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// Required when receiving webhook events rather than websockets
	WebhookServer DiscordWebhookServerConfig `yaml:"webhook_server" mapstructure:"webhook_server" json:"webhook_server"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// RegisterCommands overwrites the bot's slash commands on startup
	RegisterCommands bool `yaml:"register_commands" mapstructure:"register_commands" json:"register_commands"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// CustomStatus is set as the bot's status once connected
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// ElevatedRoleIDs lists guild role IDs whose members may page through
	// results requested by someone else
	ElevatedRoleIDs []string `yaml:"elevated_role_ids" mapstructure:"elevated_role_ids" json:"elevated_role_ids"`

	// ElevatedPermissions is a permission bitset. Members holding any of
	// these permissions in the channel may page through anyone's results.
	// 0 disables the permission check.
	ElevatedPermissions int64 `yaml:"elevated_permissions" mapstructure:"elevated_permissions" json:"elevated_permissions"`

	httpClient *http.Client
}

// DiscordWebhookServerConfig represents the configuration for the Discord webhook server.
//
// This struct defines the settings required to run a server that handles Discord
// webhook interactions. It includes options for enabling the server, specifying
// network details, SSL configuration, logging, and various timeouts.
type DiscordWebhookServerConfig struct {
	// Determines if the webhook server should be active.
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5001").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true"`

	// Configuration for SSL/TLS.
	SSL *SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	// The public key used for verifying Discord interaction POST requests.
	// In the Discord dev portal for your bot, this is under 'General Information'
	PublicKey string `yaml:"public_key" mapstructure:"public_key" json:"public_key" binding:"required_if=Enabled true"`

	// The logging level for the webhook server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	ReadTimeout       time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"required_if=Enabled true"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" binding:"required_if=Enabled true"`
	WriteTimeout      time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" binding:"required_if=Enabled true"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" binding:"required_if=Enabled true"`
}

// CacheConfig configures the two pagination state tiers.
type CacheConfig struct {
	// Backend selects the durable tier: 'database', 'redis' or 'none'
	Backend string `yaml:"backend" mapstructure:"backend" json:"backend" binding:"oneof=database redis none"`

	// LocalTTL is how long an entry stays in the in-process tier
	LocalTTL time.Duration `yaml:"local_ttl" mapstructure:"local_ttl" json:"local_ttl" binding:"min=1s"`

	// LocalSize caps the number of entries in the in-process tier
	LocalSize int `yaml:"local_size" mapstructure:"local_size" json:"local_size" binding:"min=1"`

	RedisURL    string        `yaml:"redis_url" mapstructure:"redis_url" json:"redis_url" log:"[redacted]"`
	RedisPrefix string        `yaml:"redis_prefix" mapstructure:"redis_prefix" json:"redis_prefix"`
	RedisTTL    time.Duration `yaml:"redis_ttl" mapstructure:"redis_ttl" json:"redis_ttl"`

	// RemoteTimeout bounds each durable tier read/write
	RemoteTimeout time.Duration `yaml:"remote_timeout" mapstructure:"remote_timeout" json:"remote_timeout" binding:"min=100ms"`

	// BreakerTrip is the number of consecutive durable tier failures that
	// opens the circuit breaker
	BreakerTrip uint32 `yaml:"breaker_trip" mapstructure:"breaker_trip" json:"breaker_trip" binding:"min=1"`

	// BreakerReset is how long the breaker stays open before probing again
	BreakerReset time.Duration `yaml:"breaker_reset" mapstructure:"breaker_reset" json:"breaker_reset"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// ContentAPIConfig configures the upstream content API client
type ContentAPIConfig struct {
	URL            string `yaml:"url" mapstructure:"url" json:"url" binding:"required,url"`
	PrayerTimesURL string `yaml:"prayer_times_url" mapstructure:"prayer_times_url" json:"prayer_times_url" binding:"required,url"`

	// Timeout applies to each request
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" json:"timeout" binding:"min=1s"`

	// MaxRequestsPerSecond limits outbound requests across all interactions
	MaxRequestsPerSecond float64 `yaml:"max_requests_per_second" mapstructure:"max_requests_per_second" json:"max_requests_per_second" binding:"gt=0"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// APIConfig configures the health check server
type APIConfig struct {
	// Enabled toggles the health check server
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "0.0.0.0:8080").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"oneof=tcp tcp4 tcp6 unix"`

	// Configuration for SSL/TLS.
	SSL *SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	ReadTimeout       time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`
}

// SSLConfig specifies cert paths and the TLS version to use
type SSLConfig struct {
	// Path to an SSL certificate
	CertFile string `yaml:"cert_file" mapstructure:"cert_file" json:"cert_file"`

	// Path to an SSL cert key
	KeyFile string `yaml:"key_file" mapstructure:"key_file" json:"key_file"`

	// Minimum TLS version
	TLSMinVersion uint16 `yaml:"tls_min_version" mapstructure:"tls_min_version" json:"tls_min_version"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	return cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
}

func DefaultCORSConfig() CORSConfig {
	defaultMethods := make([]string, len(DefaultCORSAllowMethods))
	copy(defaultMethods, DefaultCORSAllowMethods)

	defaultHeaders := make([]string, len(DefaultCORSAllowHeaders))
	copy(defaultHeaders, DefaultCORSAllowHeaders)

	defaultExpose := make([]string, len(DefaultCORSExposeHeaders))
	copy(defaultExpose, DefaultCORSExposeHeaders)

	return CORSConfig{
		AllowOrigins:     []string{},
		AllowMethods:     defaultMethods,
		AllowHeaders:     defaultHeaders,
		ExposeHeaders:    defaultExpose,
		MaxAge:           DefaultCORSMaxAge,
		AllowCredentials: DefaultAPICORSAllowCredentials,
	}
}

func newLevelVar(lvl slog.Level) *slog.LevelVar {
	v := &slog.LevelVar{}
	v.Set(lvl)
	return v
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      newLevelVar(DefaultDatabaseLogLevel),
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              newLevelVar(DefaultLogLevel),
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			WebhookServer: DiscordWebhookServerConfig{
				Enabled:           false,
				Listen:            DefaultDiscordWebhookServerListen,
				LogLevel:          newLevelVar(DefaultDiscordWebhookLogLevel),
				ReadHeaderTimeout: DefaultReadHeaderTimeout,
				ReadTimeout:       DefaultReadTimeout,
				WriteTimeout:      DefaultWriteTimeout,
				IdleTimeout:       DefaultIdleTimeout,
			},
			RegisterCommands:  true,
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          newLevelVar(DefaultDiscordLogLevel),
			DiscordGoLogLevel: newLevelVar(DefaultDiscordgoLogLevel),
			CustomStatus:      DefaultDiscordCustomStatus,
			ElevatedRoleIDs:   []string{},
		},
		Cache: &CacheConfig{
			Backend:       DefaultCacheBackend,
			LocalTTL:      DefaultCacheLocalTTL,
			LocalSize:     DefaultCacheLocalSize,
			RedisPrefix:   DefaultCacheRedisPrefix,
			RedisTTL:      DefaultCacheRedisTTL,
			RemoteTimeout: DefaultCacheRemoteTimeout,
			BreakerTrip:   DefaultCacheBreakerTrip,
			BreakerReset:  DefaultCacheBreakerReset,
			LogLevel:      newLevelVar(DefaultCacheLogLevel),
		},
		ContentAPI: &ContentAPIConfig{
			URL:                  DefaultContentAPIURL,
			PrayerTimesURL:       DefaultPrayerTimesURL,
			Timeout:              DefaultContentAPITimeout,
			MaxRequestsPerSecond: DefaultContentAPIMaxRequestsPerSecond,
			LogLevel:             newLevelVar(DefaultContentAPILogLevel),
		},
		API: &APIConfig{
			Enabled:           true,
			Listen:            DefaultAPIListen,
			ListenNetwork:     defaultListenNetwork,
			LogLevel:          newLevelVar(DefaultAPILogLevel),
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			CORS:              DefaultCORSConfig(),
		},
	}
}
