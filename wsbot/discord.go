package wsbot

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// Discord holds the bot's gateway session and the state tracked from
// gateway events.
type Discord struct {
	session                     DiscordSessionHandler
	config                      *DiscordConfig
	logger                      *slog.Logger
	publicKey                   ed25519.PublicKey
	metricConnects              atomic.Int64
	metricDisconnects           atomic.Int64
	connected                   atomic.Bool
	discordgoRemoveHandlerFuncs []func()
}

// newDiscord initializes a new Discord instance with the provided configuration
func newDiscord(config *DiscordConfig, logger *slog.Logger) (*Discord, error) {
	d := &Discord{
		config:                      config,
		logger:                      logger,
		discordgoRemoveHandlerFuncs: []func(){},
	}

	if config.WebhookServer.PublicKey != "" {
		publicKey, err := hex.DecodeString(config.WebhookServer.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("error decoding public key: %w", err)
		}
		d.publicKey = ed25519.PublicKey(publicKey)
	}

	return d, nil
}

// newSession initializes a new Discord session with the configured
// token, HTTP client and log level.
func (d *Discord) newSession() (DiscordSessionHandler, error) {
	session := DiscordSession{logger: d.logger.With(loggerNameKey, "discord_session_handler")}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.SyncEvents = true
	disc.StateEnabled = false
	disc.Identify.Intents = d.config.GatewayIntents
	session.Session = disc
	if d.config.httpClient != nil {
		session.SetHTTPClient(d.config.httpClient)
	}

	if d.config.DiscordGoLogLevel != nil {
		if err = session.SetLogLevel(d.config.DiscordGoLogLevel.Level()); err != nil {
			return session, err
		}
	}
	return session, nil
}

func (d *Discord) handlerReady() func(
	s *discordgo.Session,
	r *discordgo.Ready,
) {
	return func(s *discordgo.Session, r *discordgo.Ready) {
		var userID, username string
		if r.User != nil {
			userID = r.User.ID
			username = r.User.Username
		}
		d.logger.Info(
			"Ready",
			"session_id", r.SessionID,
			"guilds", len(r.Guilds),
			slog.Group("user", "id", userID, "username", username),
		)
	}
}

func (d *Discord) handlerConnect() func(
	s *discordgo.Session,
	r *discordgo.Connect,
) {
	return func(s *discordgo.Session, r *discordgo.Connect) {
		d.metricConnects.Add(1)
		d.connected.Store(true)
		d.logger.Info("Connected", "connects", d.metricConnects.Load())

		if d.config.CustomStatus != "" {
			if err := d.session.UpdateCustomStatus(d.config.CustomStatus); err != nil {
				d.logger.Warn("unable to set custom status", tint.Err(err))
			}
		}
	}
}

func (d *Discord) handlerDisconnect() func(
	s *discordgo.Session,
	r *discordgo.Disconnect,
) {
	return func(s *discordgo.Session, r *discordgo.Disconnect) {
		d.connected.Store(false)
		d.metricDisconnects.Add(1)
		d.logger.Info("disconnected", "disconnects", d.metricDisconnects.Load())
	}
}

// registerCommands sends the bot's commands to the discord bulk overwrite
// endpoint
func (d *Discord) registerCommands(
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	created, err := d.session.ApplicationCommandBulkOverwrite(
		d.config.ApplicationID,
		d.config.GuildID,
		appCommands(),
		options...,
	)
	if err != nil {
		return created, fmt.Errorf("error overwriting discord commands: %w", err)
	}
	if len(created) == 0 {
		d.logger.Warn("no commands created")
	}
	for _, c := range created {
		d.logger.Info("registered command", "command", c.Name, "id", c.ID)
	}
	return created, nil
}

// DiscordSessionHandler defines the methods from `discordgo.Session` used
// in this application, to enable testing/mocking.
type DiscordSessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// ApplicationCommandBulkOverwrite overwrites Discord application commands in bulk.
	ApplicationCommandBulkOverwrite(
		appID string,
		guildID string,
		commands []*discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)

	// UpdateCustomStatus sets the bot's user status to the given string.
	UpdateCustomStatus(status string) error

	// AddHandler adds a discord gateway event handler
	AddHandler(handler any) func()

	// InteractionRespond sends an interaction response to Discord
	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error

	// InteractionResponse gets the response to an interaction
	InteractionResponse(
		interaction *discordgo.Interaction,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// InteractionResponseEdit modifies the given interaction
	InteractionResponseEdit(
		interaction *discordgo.Interaction,
		newresp *discordgo.WebhookEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// InteractionResponseDelete deletes the given interaction
	InteractionResponseDelete(
		interaction *discordgo.Interaction,
		options ...discordgo.RequestOption,
	) error

	// FollowupMessageCreate sends a follow-up message for the interaction
	FollowupMessageCreate(
		interaction *discordgo.Interaction,
		wait bool,
		data *discordgo.WebhookParams,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// SetHTTPClient sets the HTTP client for the session
	SetHTTPClient(client *http.Client)

	// SetLogLevel modifies the session's log level
	SetLogLevel(lvl slog.Level) error
}

// DiscordSession implements DiscordSessionHandler. Most methods come
// from the embedded [discordgo.Session].
type DiscordSession struct {
	*discordgo.Session
	logger *slog.Logger
}

// SetLogLevel maps lvl onto the equivalent discordgo log level
func (d DiscordSession) SetLogLevel(lvl slog.Level) error {
	for dgLevel, slogLevel := range discordGoLogLevels {
		if slogLevel == lvl {
			d.Session.LogLevel = dgLevel
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s", lvl)
}

func (d DiscordSession) SetHTTPClient(client *http.Client) {
	d.Session.Client = client
}

// getDiscordUser returns the [discordgo.User] associated with the interaction.
// Users don't always appear in the same place in the interaction object, so
// this checks known areas.
func getDiscordUser(i *discordgo.InteractionCreate) *discordgo.User {
	u := i.User
	if u == nil && i.Member != nil {
		u = i.Member.User
	}
	return u
}
