package wsbot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/WikiSubmission/wikisubmission-discord-public/wsbot.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var defaultLogWriter io.Writer = os.Stdout

// Bot is the WikiSubmission discord bot. It owns the discord session,
// the content API client, the pagination cache and the HTTP servers.
type Bot struct {
	config *Config
	logger *slog.Logger

	discord *Discord
	content ContentAPI

	// db is nil when no database is configured
	db      *gorm.DB
	writeDB *database

	redisStore *redisPageStore
	authorizer MemberAuthorizer

	api           *API
	webhookServer *DiscordWebhookServer

	// cache and commands are replaced once the durable cache tier is
	// connected in Run
	mu       sync.RWMutex
	cache    *PageCache
	commands *commandHandler

	// interactionCtx outlives the run context, so in-flight interactions
	// can finish during shutdown
	interactionCtx context.Context
	interactionWG  sync.WaitGroup

	// draining is set once shutdown starts waiting on interactionWG.
	// Guarded by mu.
	draining bool

	runMu       sync.Mutex
	startedAt   time.Time
	signalReady chan struct{}

	gatewayOpen bool

	// getInteractionHandlerFunc overrides how an InteractionHandler is
	// created for gateway interactions
	getInteractionHandlerFunc func(i *discordgo.InteractionCreate) InteractionHandler
}

// New creates a Bot from config. Nothing is connected until Run.
func New(config *Config) (*Bot, error) {
	var errs []error

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	b := &Bot{
		config:         config,
		signalReady:    make(chan struct{}, 1),
		interactionCtx: context.Background(),
	}

	b.logger = slog.New(newLogHandler(defaultLogWriter, config.LogLevel))
	slog.SetDefault(b.logger)

	if config.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		newLogHandler(defaultLogWriter, config.Discord.DiscordGoLogLevel).WithAttrs(
			[]slog.Attr{slog.String(loggerNameKey, "discordgo")},
		),
	)

	config.Discord.httpClient = config.HTTPClient
	disc, err := newDiscord(
		config.Discord,
		componentLogger("discord", config.Discord.LogLevel),
	)
	if err != nil {
		return nil, err
	}
	b.discord = disc

	b.content = newContentClient(
		config.ContentAPI,
		componentLogger("content_api", config.ContentAPI.LogLevel),
	)
	b.authorizer = newRoleAuthorizer(
		config.Discord.ElevatedRoleIDs,
		config.Discord.ElevatedPermissions,
	)

	// local tier only, until Run connects the configured backend
	b.setPageCache(
		NewPageCache(nil, *config.Cache, componentLogger("cache", config.Cache.LogLevel)),
	)

	if config.API.Enabled {
		api, e := newAPI(b, config.API, config.Development)
		errs = append(errs, e)
		b.api = api
	}

	if config.Discord.WebhookServer.Enabled {
		webhookServer, e := newWebhookServer(b, config.Discord.WebhookServer, disc.publicKey)
		errs = append(errs, e)
		b.webhookServer = webhookServer
	}

	return b, errors.Join(errs...)
}

func (b *Bot) ValidateConfig() error {
	return structValidator.Struct(b.config)
}

// RegisterSlashCommands overwrites the bot's slash commands
func (b *Bot) RegisterSlashCommands(options ...discordgo.RequestOption) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	if b.discord.session == nil {
		session, err := b.discord.newSession()
		if err != nil {
			return nil, err
		}
		b.discord.session = session
	}
	return b.discord.registerCommands(options...)
}

// Run connects the bot's backing stores and discord session, serves
// the HTTP endpoints, and blocks until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	logger := b.logger
	if err := b.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	b.startedAt = time.Now()
	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(
		ctx,
		slog.LevelInfo,
		"starting",
		slog.String("version", Version),
		slog.String("commit", CommitSHA),
		slog.Any("config", b.config),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.mu.Lock()
	b.interactionCtx = context.WithoutCancel(ctx)
	b.mu.Unlock()

	startCtx, startCancel := context.WithTimeout(ctx, b.config.StartupTimeout)
	err := b.initRun(startCtx)
	startCancel()
	if err != nil {
		logger.ErrorContext(ctx, "init error", tint.Err(err))
		return errors.Join(err, b.closeStores())
	}

	if discErr := b.initDiscordSession(ctx); discErr != nil {
		logger.ErrorContext(ctx, "error creating discord session", tint.Err(discErr))
		return errors.Join(discErr, b.closeStores())
	}

	g, gctx := errgroup.WithContext(ctx)
	if b.api != nil {
		g.Go(func() error { return b.api.Serve(gctx) })
	}
	if b.webhookServer != nil {
		g.Go(func() error { return b.webhookServer.Serve(gctx) })
	}

	if b.config.Discord.RegisterCommands {
		if created, regErr := b.RegisterSlashCommands(); regErr != nil {
			logger.ErrorContext(ctx, "error registering commands", tint.Err(regErr))
		} else {
			logger.InfoContext(ctx, "registered commands", "count", len(created))
		}
	}

	select {
	case b.signalReady <- struct{}{}:
	default:
	}
	logger.InfoContext(ctx, "ready")

	<-gctx.Done()
	serveErr := g.Wait()
	if serveErr != nil {
		logger.ErrorContext(ctx, "error serving http", tint.Err(serveErr))
	}
	return errors.Join(serveErr, b.shutdown(ctx))
}

// initRun opens the database, when configured, and connects the
// configured cache backend
func (b *Bot) initRun(ctx context.Context) error {
	if b.config.Database != "" {
		b.logger.DebugContext(ctx, "initializing database")
		db, err := openDB(
			ctx,
			b.config,
			componentLogger("database", b.config.DatabaseLogLevel),
		)
		if err != nil {
			return fmt.Errorf("error initializing database: %w", err)
		}
		b.db = db
		b.writeDB = newDatabase(db, b.config.DatabaseType != dbTypeSQLite)
	}

	store, err := b.pageStore(ctx)
	if err != nil {
		return err
	}
	b.setPageCache(
		NewPageCache(store, *b.config.Cache, componentLogger("cache", b.config.Cache.LogLevel)),
	)
	return nil
}

// pageStore returns the durable cache tier for the configured backend,
// or nil when pages are only kept in process memory
func (b *Bot) pageStore(ctx context.Context) (PageStore, error) {
	switch b.config.Cache.Backend {
	case cacheBackendDatabase:
		if b.writeDB == nil {
			b.logger.WarnContext(
				ctx,
				"no database configured, pagination will use local cache only",
			)
			return nil, nil
		}
		return newGormPageStore(b.writeDB), nil
	case cacheBackendRedis:
		if b.config.Cache.RedisURL == "" {
			b.logger.WarnContext(
				ctx,
				"no redis url configured, pagination will use local cache only",
			)
			return nil, nil
		}
		store, err := newRedisPageStoreFromURL(
			b.config.Cache.RedisURL,
			b.config.Cache.RedisPrefix,
			b.config.Cache.RedisTTL,
		)
		if err != nil {
			return nil, fmt.Errorf("error configuring redis cache: %w", err)
		}
		if pingErr := store.Ping(ctx); pingErr != nil {
			b.logger.WarnContext(ctx, "redis unreachable at startup", tint.Err(pingErr))
		}
		b.redisStore = store
		return store, nil
	default:
		b.logger.WarnContext(ctx, "cache backend disabled, pagination will use local cache only")
		return nil, nil
	}
}

func (b *Bot) setPageCache(cache *PageCache) {
	builder := NewResultBuilder(b.content, cache, b.logger.With(loggerNameKey, "builder"))
	resolver := newPageResolver(cache, b.authorizer, b.logger.With(loggerNameKey, "pagination"))
	commands := newCommandHandler(
		builder,
		b.content,
		resolver,
		b.config.Discord.ApplicationID,
		b.logger.With(loggerNameKey, "commands"),
	)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.cache = cache
	b.commands = commands
}

func (b *Bot) pageCache() *PageCache {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cache
}

func (b *Bot) commandHandler() *commandHandler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.commands
}

// runContext is the context interactions are handled with
func (b *Bot) runContext() context.Context {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.interactionCtx
}

// initDiscordSession creates the discord session and adds the gateway
// handlers. The gateway is only opened when the webhook server is
// disabled.
func (b *Bot) initDiscordSession(ctx context.Context) error {
	if b.discord.session == nil {
		session, err := b.discord.newSession()
		if err != nil {
			return fmt.Errorf("error creating discord session: %w", err)
		}
		b.discord.session = session
	}

	for _, h := range b.discord.discordgoRemoveHandlerFuncs {
		h()
	}

	b.discord.discordgoRemoveHandlerFuncs = []func(){
		b.discord.session.AddHandler(b.discord.handlerConnect()),
		b.discord.session.AddHandler(b.discord.handlerDisconnect()),
		b.discord.session.AddHandler(b.discord.handlerReady()),
		b.discord.session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				handler := b.getInteractionHandler(i)
				if !b.acquireInteraction() {
					b.logger.Warn("shutting down, dropping interaction", "interaction_id", i.ID)
					return
				}
				go func() {
					defer b.interactionWG.Done()
					b.serveInteraction(b.runContext(), handler)
				}()
			},
		),
	}

	if b.config.Discord.WebhookServer.Enabled {
		b.logger.InfoContext(ctx, "webhook server enabled, not opening discord gateway")
		return nil
	}

	b.logger.InfoContext(ctx, "connecting to discord")
	if err := b.discord.session.Open(); err != nil {
		return fmt.Errorf("error connecting to discord: %w", err)
	}
	b.gatewayOpen = true
	return nil
}

func (b *Bot) getInteractionHandler(i *discordgo.InteractionCreate) InteractionHandler {
	if b.getInteractionHandlerFunc != nil {
		return b.getInteractionHandlerFunc(i)
	}
	return GatewayHandler{
		session:     b.discord.session,
		interaction: i,
		logger: b.logger.With(
			slog.Group("interaction", interactionLogAttrs(*i)...),
		),
	}
}

// acquireInteraction counts a new in-flight interaction. It returns
// false once shutdown has started, in which case the interaction must
// not be handled.
func (b *Bot) acquireInteraction() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.draining {
		return false
	}
	b.interactionWG.Add(1)
	return true
}

// trackInteraction handles an interaction synchronously, counting it
// as in-flight for shutdown. It returns false without handling the
// interaction if the bot is shutting down.
func (b *Bot) trackInteraction(ctx context.Context, handler InteractionHandler) bool {
	if !b.acquireInteraction() {
		return false
	}
	defer b.interactionWG.Done()
	b.serveInteraction(ctx, handler)
	return true
}

func (b *Bot) serveInteraction(ctx context.Context, handler InteractionHandler) {
	defer func() {
		if rc := recover(); rc != nil {
			handleRecover(ctx, rc)
		}
	}()
	b.handleInteraction(ctx, handler)
}

// handleInteraction routes an interaction to its command or to page
// navigation, and records it when a database is configured
func (b *Bot) handleInteraction(ctx context.Context, handler InteractionHandler) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	if logger == nil {
		logger = b.logger
	}

	if i.Type == discordgo.InteractionPing {
		_ = handler.Respond(
			ctx,
			&discordgo.InteractionResponse{Type: discordgo.InteractionResponsePong},
		)
		return
	}

	discordUser := getDiscordUser(i)
	if discordUser == nil {
		logger.ErrorContext(ctx, "no user found in interaction")
		return
	}

	ctx = WithLogger(ctx, logger)
	logger.InfoContext(
		ctx,
		"received new interaction",
		slog.Group("user", "id", discordUser.ID, "username", discordUser.Username),
	)

	wg := &sync.WaitGroup{}
	defer wg.Wait()

	if b.writeDB != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.logInteraction(ctx, handler, discordUser)
		}()
	}

	if discordUser.Bot {
		logger.WarnContext(ctx, "user is bot, ignoring")
		return
	}

	commands := b.commandHandler()
	switch i.Type {
	case discordgo.InteractionMessageComponent:
		commands.handleComponent(ctx, handler)
	case discordgo.InteractionApplicationCommand:
		commands.handleCommand(ctx, handler)
	default:
		logger.DebugContext(ctx, "ignoring interaction type")
	}
}

func (b *Bot) logInteraction(
	ctx context.Context,
	handler InteractionHandler,
	u *discordgo.User,
) {
	logger := contextLoggerOr(ctx, b.logger)
	interactionLog, err := newInteractionLog(
		handler.GetInteraction(),
		u,
		handler.InteractionReceiveMethod(),
	)
	if err != nil {
		logger.ErrorContext(ctx, "error marshaling interaction", tint.Err(err))
		return
	}
	if _, err = b.writeDB.Create(ctx, interactionLog); err != nil {
		logger.ErrorContext(ctx, "error logging interaction", tint.Err(err))
	}
}

// shutdown waits up to ShutdownTimeout for in-flight interactions, then
// closes the gateway and backing stores
func (b *Bot) shutdown(ctx context.Context) error {
	logger := b.logger
	logger.WarnContext(ctx, "shutting down")
	shutdownStart := time.Now()

	for _, h := range b.discord.discordgoRemoveHandlerFuncs {
		h()
	}
	b.discord.discordgoRemoveHandlerFuncs = nil

	var errs []error

	b.mu.Lock()
	b.draining = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.interactionWG.Wait()
		close(done)
	}()

	timer := time.NewTimer(b.config.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
		logger.InfoContext(ctx, "in-flight interactions finished")
	case <-timer.C:
		logger.WarnContext(ctx, "interactions did not finish in time, closing anyway")
		errs = append(errs, errors.New("interactions did not finish before shutdown timeout"))
	}

	if b.gatewayOpen {
		if err := b.discord.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing discord session: %w", err))
		}
		b.gatewayOpen = false
	}

	errs = append(errs, b.closeStores())

	logger.InfoContext(
		ctx,
		"shutdown complete",
		"shutdown_duration", time.Since(shutdownStart),
	)
	return errors.Join(errs...)
}

func (b *Bot) closeStores() error {
	var errs []error
	if b.redisStore != nil {
		if err := b.redisStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing redis: %w", err))
		}
	}
	if b.db != nil {
		sqlDB, err := b.db.DB()
		if err == nil {
			err = sqlDB.Close()
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("error closing database: %w", err))
		}
	}
	return errors.Join(errs...)
}

func handleRecover(ctx context.Context, rc any) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = slog.Default()
	}
	stackTrace := string(debug.Stack())
	switch v := rc.(type) {
	case error:
		logger.ErrorContext(ctx, "recovered from panic", tint.Err(v), "stack_trace", stackTrace)
	case string:
		logger.ErrorContext(
			ctx,
			"recovered from panic",
			tint.Err(errors.New(v)),
			"stack_trace", stackTrace,
		)
	default:
		logger.ErrorContext(ctx, "recovered from panic", "panic_arg", rc, "stack_trace", stackTrace)
	}
}
