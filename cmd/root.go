package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/WikiSubmission/wikisubmission-discord-public/wsbot"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// envPort is set by most container platforms. When present it provides
// the default health API listen address.
const envPort = "PORT"

var (
	cfg        = wsbot.DefaultConfig()
	configFile string
)

// Keys holding a log level. Values are validated in initConfig and
// decoded into *slog.LevelVar by levelDecodeHook.
var levelKeys = []string{
	"log_level",
	"database_log_level",
	"discord.log_level",
	"discord.discordgo_log_level",
	"discord.webhook_server.log_level",
	"api.log_level",
	"cache.log_level",
	"content_api.log_level",
}

// Keys holding a list, which arrive from the environment as
// whitespace-separated strings.
var sliceKeys = []string{
	"api.cors.allow_origins",
	"api.cors.allow_methods",
	"api.cors.allow_headers",
	"api.cors.expose_headers",
	"discord.elevated_role_ids",
}

// Environment variable names the bot has historically been deployed
// with, checked after the prefixed name.
var envAliases = map[string][]string{
	"discord.token":          {"BOT_TOKEN", "DISCORD_TOKEN_WIKISUBMISSION"},
	"discord.application_id": {"BOT_CLIENT_ID", "DISCORD_CLIENTID_WIKISUBMISSION"},
}

var rootCmd = &cobra.Command{
	Use:           "wsbot [flags]",
	Short:         "WikiSubmission Discord bot",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Every key has a default, so decode into a zero value rather than
		// over DefaultConfig, which would leave stale trailing slice elements
		// when a list is overridden with a shorter one
		c := &wsbot.Config{}
		if err := unmarshalConfig(c); err != nil {
			return err
		}
		*cfg = *c
		return nil
	},
}

func unmarshalConfig(c *wsbot.Config) error {
	return viper.Unmarshal(
		c,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				levelDecodeHook(),
			),
		),
	)
}

func parseLogLevel(level string) (*slog.LevelVar, error) {
	lvl := &slog.LevelVar{}
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level: %q", level)
	}
	return lvl, nil
}

// levelDecodeHook decodes level names ("DEBUG", "info", "WARN+2") into
// *slog.LevelVar
func levelDecodeHook() mapstructure.DecodeHookFuncType {
	levelVarType := reflect.TypeOf(slog.LevelVar{})
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr || t.Elem() != levelVarType {
			return data, nil
		}
		return parseLogLevel(data.(string))
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func setDefaults() {
	viper.SetDefault("database", wsbot.DefaultDatabase)
	viper.SetDefault("database_type", wsbot.DefaultDatabaseType)
	viper.SetDefault("database_slow_threshold", wsbot.DefaultDatabaseSlowThreshold)
	viper.SetDefault("database_log_level", wsbot.DefaultDatabaseLogLevel.String())
	viper.SetDefault("development", false)

	viper.SetDefault("log_level", wsbot.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", wsbot.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", wsbot.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.register_commands", true)
	viper.SetDefault("discord.log_level", wsbot.DefaultDiscordLogLevel.String())
	viper.SetDefault(
		"discord.discordgo_log_level",
		wsbot.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault("discord.gateway_intents", wsbot.DefaultDiscordGatewayIntent)
	viper.SetDefault("discord.custom_status", wsbot.DefaultDiscordCustomStatus)
	viper.SetDefault("discord.elevated_role_ids", []string{})
	viper.SetDefault("discord.elevated_permissions", 0)

	// Discord: Webhook server
	viper.SetDefault("discord.webhook_server.enabled", false)
	viper.SetDefault(
		"discord.webhook_server.listen",
		wsbot.DefaultDiscordWebhookServerListen,
	)
	viper.SetDefault("discord.webhook_server.public_key", "")
	viper.SetDefault("discord.webhook_server.read_timeout", wsbot.DefaultReadTimeout)
	viper.SetDefault(
		"discord.webhook_server.read_header_timeout",
		wsbot.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("discord.webhook_server.write_timeout", wsbot.DefaultWriteTimeout)
	viper.SetDefault("discord.webhook_server.idle_timeout", wsbot.DefaultIdleTimeout)
	viper.SetDefault(
		"discord.webhook_server.log_level",
		wsbot.DefaultDiscordWebhookLogLevel.String(),
	)

	// Pagination cache
	viper.SetDefault("cache.backend", wsbot.DefaultCacheBackend)
	viper.SetDefault("cache.local_ttl", wsbot.DefaultCacheLocalTTL)
	viper.SetDefault("cache.local_size", wsbot.DefaultCacheLocalSize)
	viper.SetDefault("cache.redis_url", "")
	viper.SetDefault("cache.redis_prefix", wsbot.DefaultCacheRedisPrefix)
	viper.SetDefault("cache.redis_ttl", wsbot.DefaultCacheRedisTTL)
	viper.SetDefault("cache.remote_timeout", wsbot.DefaultCacheRemoteTimeout)
	viper.SetDefault("cache.breaker_trip", wsbot.DefaultCacheBreakerTrip)
	viper.SetDefault("cache.breaker_reset", wsbot.DefaultCacheBreakerReset)
	viper.SetDefault("cache.log_level", wsbot.DefaultCacheLogLevel.String())

	// Content API
	viper.SetDefault("content_api.url", wsbot.DefaultContentAPIURL)
	viper.SetDefault("content_api.prayer_times_url", wsbot.DefaultPrayerTimesURL)
	viper.SetDefault("content_api.timeout", wsbot.DefaultContentAPITimeout)
	viper.SetDefault(
		"content_api.max_requests_per_second",
		wsbot.DefaultContentAPIMaxRequestsPerSecond,
	)
	viper.SetDefault("content_api.log_level", wsbot.DefaultContentAPILogLevel.String())

	// Health API
	apiListen := wsbot.DefaultAPIListen
	if port := os.Getenv(envPort); port != "" {
		apiListen = "0.0.0.0:" + port
	}
	viper.SetDefault("api.enabled", true)
	viper.SetDefault("api.listen", apiListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.log_level", wsbot.DefaultAPILogLevel.String())
	viper.SetDefault("api.read_timeout", wsbot.DefaultReadTimeout)
	viper.SetDefault("api.read_header_timeout", wsbot.DefaultReadHeaderTimeout)
	viper.SetDefault("api.write_timeout", wsbot.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", wsbot.DefaultIdleTimeout)

	// API: CORS config
	viper.SetDefault("api.cors.allow_headers", wsbot.DefaultCORSAllowHeaders)
	viper.SetDefault("api.cors.allow_methods", wsbot.DefaultCORSAllowMethods)
	viper.SetDefault("api.cors.expose_headers", wsbot.DefaultCORSExposeHeaders)
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.max_age", wsbot.DefaultCORSMaxAge)
	viper.SetDefault("api.cors.allow_credentials", wsbot.DefaultAPICORSAllowCredentials)
}

func bindEnv() error {
	envPrefix := os.Getenv(wsbot.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = wsbot.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// SSL settings have no defaults, so AutomaticEnv won't see them
	// during Unmarshal unless they're bound
	for _, key := range []string{
		"discord.webhook_server.ssl.cert_file",
		"discord.webhook_server.ssl.key_file",
		"discord.webhook_server.ssl.tls_min_version",
		"api.ssl.cert_file",
		"api.ssl.key_file",
		"api.ssl.tls_min_version",
	} {
		if err := viper.BindEnv(key); err != nil {
			return err
		}
	}

	for key, aliases := range envAliases {
		names := append(
			[]string{envPrefix + "_" + strings.ToUpper(replacer.Replace(key))},
			aliases...,
		)
		if err := viper.BindEnv(append([]string{key}, names...)...); err != nil {
			return err
		}
	}
	return nil
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		if err := godotenv.Load(configFile); err != nil {
			log.Printf("unable to load %s: %v", configFile, err)
		}
	}

	setDefaults()
	if err := bindEnv(); err != nil {
		log.Fatalf("error binding env: %v", err)
	}

	// Convert values to correct types
	for _, key := range sliceKeys {
		viper.Set(key, viper.GetStringSlice(key))
	}

	for _, key := range levelKeys {
		if _, err := parseLogLevel(viper.GetString(key)); err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
	}
}

//nolint:gochecknoinits
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Env file to load (default: .env)",
	)
}
