package wsbot

import (
	"context"
	"crypto/tls"
	"log/slog"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
)

const loggerContextKey contextKey = "logger"

type contextKey string

// discordInteractionOptions extracts the interaction options from a
// Discord interaction, keyed by option name.
func discordInteractionOptions(
	i *discordgo.InteractionCreate,
) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	options := i.ApplicationCommandData().Options
	optionMap := make(
		map[string]*discordgo.ApplicationCommandInteractionDataOption,
		len(options),
	)
	for _, option := range options {
		optionMap[option.Name] = option
	}
	return optionMap
}

var discordGoLogLevels = map[int]slog.Level{
	discordgo.LogDebug:         slog.LevelDebug,
	discordgo.LogError:         slog.LevelError,
	discordgo.LogWarning:       slog.LevelWarn,
	discordgo.LogInformational: slog.LevelInfo,
}

// tlsConfig loads the configured certificate pair. A nil config is
// returned when ssl is nil or has no certificate set.
func tlsConfig(ssl *SSLConfig) (*tls.Config, error) {
	if ssl == nil || ssl.CertFile == "" {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(ssl.CertFile, ssl.KeyFile)
	if err != nil {
		return nil, err
	}
	minVersion := ssl.TLSMinVersion
	if minVersion == 0 {
		minVersion = tls.VersionTLS12
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVersion,
		ClientAuth:   tls.NoClientCert,
	}, nil
}

// structToSlogValue converts a struct to a slog.Value, using the struct's
// JSON tag as the key for each field, if set.
// If the `log` tag is set, the value specified will override the
// field's actual value. Ex: `log:"REDACTED"` will cause "REDACTED" to
// be shown as the field's value.
func structToSlogValue(v any) slog.Value {
	typ := reflect.TypeOf(v)
	if typ == nil {
		return slog.AnyValue(nil)
	}
	val := reflect.ValueOf(v)

	if typ.Kind() == reflect.Ptr {
		if val.IsNil() {
			return slog.AnyValue(nil)
		}
		val = val.Elem()
		typ = typ.Elem()
	}

	if typ.Kind() != reflect.Struct {
		return slog.AnyValue(v)
	}
	var groupAttrs []slog.Attr

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		jsonTag, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if jsonTag == "" {
			jsonTag = field.Name
		}

		fv := val.Field(i)
		if !fv.CanInterface() {
			continue
		}

		if logTag := field.Tag.Get("log"); logTag != "" {
			groupAttrs = append(
				groupAttrs,
				slog.Attr{Key: jsonTag, Value: slog.StringValue(logTag)},
			)
			continue
		}

		switch fv.Kind() {
		case reflect.Ptr:
			if fv.IsNil() {
				continue
			}
		case reflect.Map, reflect.Slice:
			if fv.IsNil() || fv.Len() == 0 {
				continue
			}
		case reflect.String:
			if fv.Len() == 0 {
				continue
			}
		}

		groupAttrs = append(
			groupAttrs,
			slog.Attr{Key: jsonTag, Value: structToSlogValue(fv.Interface())},
		)
	}
	return slog.GroupValue(groupAttrs...)
}

// WithLogger returns a new context with the given logger added.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if logger == nil {
		logger = slog.Default()
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// ContextLogger returns a logger from the given context if one
// is present, and a boolean indicating whether a logger was found.
func ContextLogger(ctx context.Context) (*slog.Logger, bool) {
	logger, ok := ctx.Value(loggerContextKey).(*slog.Logger)
	return logger, ok
}

// contextLoggerOr returns the context logger, or fallback when the
// context doesn't carry one.
func contextLoggerOr(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if logger, ok := ContextLogger(ctx); ok {
		return logger
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}

func interactionLogAttrs(i discordgo.InteractionCreate) []any {
	logAttrs := []any{
		"id", i.ID,
		"type", i.Type.String(),
		"command_context", i.Context.String(),
	}
	if i.ChannelID != "" {
		logAttrs = append(logAttrs, "channel_id", i.ChannelID)
	}
	if i.GuildID != "" {
		logAttrs = append(logAttrs, "guild_id", i.GuildID)
	}
	if i.AppID != "" {
		logAttrs = append(logAttrs, "app_id", i.AppID)
	}
	return logAttrs
}

// truncate shortens the input string to a specified number of characters.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// capitalize upper-cases the first character of s
func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
