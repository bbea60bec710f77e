package wsbot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestConfig returns a valid config backed by a temporary sqlite
// database, with the HTTP servers disabled
func newTestConfig(t testing.TB) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Discord.Token = "test-token"
	cfg.Discord.ApplicationID = "test-app"
	cfg.Discord.RegisterCommands = false
	cfg.DatabaseType = dbTypeSQLite
	cfg.Database = filepath.Join(t.TempDir(), "wsbot.sqlite3")
	cfg.API.Enabled = false
	cfg.ShutdownTimeout = 5 * time.Second

	quiet := newLevelVar(slog.LevelError)
	cfg.LogLevel = quiet
	cfg.DatabaseLogLevel = quiet
	cfg.Discord.LogLevel = quiet
	cfg.Discord.DiscordGoLogLevel = quiet
	cfg.Cache.LogLevel = quiet
	cfg.ContentAPI.LogLevel = quiet
	return cfg
}

// newTestBot creates a Bot with a mock discord session and a fake
// content API. The database is opened and migrated.
func newTestBot(t testing.TB, cfg *Config, api ContentAPI) (*Bot, *mockDiscordSession) {
	t.Helper()
	b, err := New(cfg)
	require.NoError(t, err)
	b.logger = slog.New(newLogHandler(io.Discard, cfg.LogLevel))

	session := newMockDiscordSession()
	b.discord.session = session
	b.content = api

	require.NoError(t, b.initRun(context.Background()))
	t.Cleanup(
		func() {
			_ = b.closeStores()
		},
	)
	return b, session
}

func TestNew(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.API.Enabled = true

	b, err := New(cfg)
	require.NoError(t, err)
	assert.NotNil(t, b.api)
	assert.Nil(t, b.webhookServer)
	assert.NotNil(t, b.commandHandler())
	assert.Equal(t, cacheBackendNone, b.pageCache().Stats().Backend)
	assert.NoError(t, b.ValidateConfig())
}

func TestNew_WebhookServer(t *testing.T) {
	cfg := newTestConfig(t)
	pubkey, _ := generateDiscordKey(t)
	cfg.Discord.WebhookServer.Enabled = true
	cfg.Discord.WebhookServer.PublicKey = pubkey

	b, err := New(cfg)
	require.NoError(t, err)
	assert.NotNil(t, b.webhookServer)
	assert.Len(t, b.discord.publicKey, 32)
}

func TestBot_ValidateConfig(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Discord.Token = ""
	cfg.Cache.Backend = "memcached"

	b, err := New(cfg)
	require.NoError(t, err)
	err = b.ValidateConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Token")
	assert.Contains(t, err.Error(), "Backend")
}

func TestBot_InitRunDatabaseBackend(t *testing.T) {
	b, _ := newTestBot(t, newTestConfig(t), &fakeContentAPI{})
	require.NotNil(t, b.writeDB)

	stats := b.pageCache().Stats()
	assert.Equal(t, cacheBackendDatabase, stats.Backend)
	assert.Equal(t, "closed", stats.BreakerState)
}

func TestBot_PageStore(t *testing.T) {
	ctx := context.Background()

	t.Run(
		"none", func(t *testing.T) {
			cfg := newTestConfig(t)
			cfg.Cache.Backend = cacheBackendNone
			b, _ := newTestBot(t, cfg, &fakeContentAPI{})
			assert.Equal(t, cacheBackendNone, b.pageCache().Stats().Backend)
		},
	)

	t.Run(
		"database without a database", func(t *testing.T) {
			cfg := newTestConfig(t)
			cfg.Database = ""
			b, _ := newTestBot(t, cfg, &fakeContentAPI{})
			assert.Nil(t, b.writeDB)
			assert.Equal(t, cacheBackendNone, b.pageCache().Stats().Backend)
		},
	)

	t.Run(
		"redis", func(t *testing.T) {
			cfg := newTestConfig(t)
			cfg.Cache.Backend = cacheBackendRedis
			cfg.Cache.RedisURL = "redis://127.0.0.1:1/0"
			b, _ := newTestBot(t, cfg, &fakeContentAPI{})
			assert.NotNil(t, b.redisStore)
			assert.Equal(t, cacheBackendRedis, b.pageCache().Stats().Backend)
		},
	)

	t.Run(
		"redis without a url", func(t *testing.T) {
			cfg := newTestConfig(t)
			cfg.Cache.Backend = cacheBackendRedis
			cfg.Cache.RedisURL = ""
			b, _ := newTestBot(t, cfg, &fakeContentAPI{})
			assert.Nil(t, b.redisStore)
			assert.Equal(t, cacheBackendNone, b.pageCache().Stats().Backend)

			store, err := b.pageStore(ctx)
			require.NoError(t, err)
			assert.Nil(t, store)
		},
	)

	t.Run(
		"redis invalid url", func(t *testing.T) {
			cfg := newTestConfig(t)
			cfg.Database = ""
			cfg.Cache.Backend = cacheBackendRedis
			cfg.Cache.RedisURL = "http://nope"
			b, err := New(cfg)
			require.NoError(t, err)
			_, err = b.pageStore(ctx)
			assert.Error(t, err)
		},
	)
}

func TestBot_HandleInteraction(t *testing.T) {
	api := &fakeContentAPI{quran: verseResponse(t, testVerse("1:1", "In the name of GOD"))}
	b, _ := newTestBot(t, newTestConfig(t), api)
	b.setPageCache(NewPageCache(nil, testCacheConfig(), nil))

	i := newCommandInteraction(t, newDiscordUser(t), commandQuran, stringOption(optionVerse, "1:1"))
	handler := newStubInteractionHandler(t, i)
	b.handleInteraction(context.Background(), handler)

	resp := receive(t, handler.callRespond)
	assert.Equal(t, discordgo.InteractionResponseDeferredChannelMessageWithSource, resp.Type)
	edit := receive(t, handler.callEdit)
	assert.Equal(t, "**[1:1]** In the name of GOD", (*edit.Embeds)[0].Description)

	var logs []InteractionLog
	require.NoError(t, b.db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, i.ID, logs[0].InteractionID)
	assert.Equal(t, commandQuran, logs[0].Command)
	assert.Equal(t, i.User.ID, logs[0].UserID)
	assert.Equal(t, DiscordInteractionReceiveMethod("testcase"), logs[0].Method)
	assert.NotEmpty(t, logs[0].Payload)
}

func TestBot_HandleInteractionPing(t *testing.T) {
	b, _ := newTestBot(t, newTestConfig(t), &fakeContentAPI{})

	handler := newStubInteractionHandler(
		t,
		&discordgo.InteractionCreate{
			Interaction: &discordgo.Interaction{Type: discordgo.InteractionPing, ID: "ping"},
		},
	)
	b.handleInteraction(context.Background(), handler)
	resp := receive(t, handler.callRespond)
	assert.Equal(t, discordgo.InteractionResponsePong, resp.Type)

	var count int64
	require.NoError(t, b.db.Model(&InteractionLog{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestBot_HandleInteractionIgnoresBots(t *testing.T) {
	api := &fakeContentAPI{}
	b, _ := newTestBot(t, newTestConfig(t), api)

	u := newDiscordUser(t)
	u.Bot = true
	handler := newStubInteractionHandler(
		t,
		newCommandInteraction(t, u, commandQuran, stringOption(optionVerse, "1:1")),
	)
	b.handleInteraction(context.Background(), handler)
	assertNoCall(t, handler.callRespond)
	assert.Empty(t, api.quranQueries)

	var count int64
	require.NoError(t, b.db.Model(&InteractionLog{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

// panicHandler panics when asked to respond
type panicHandler struct {
	stubInteractionHandler
	value any
}

func (p panicHandler) Respond(context.Context, *discordgo.InteractionResponse) error {
	panic(p.value)
}

func TestBot_TrackInteractionRecovers(t *testing.T) {
	b, _ := newTestBot(t, newTestConfig(t), &fakeContentAPI{})
	ping := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{Type: discordgo.InteractionPing, ID: "ping"},
	}

	for _, v := range []any{errors.New("boom"), "boom", 42} {
		handler := panicHandler{
			stubInteractionHandler: newStubInteractionHandler(t, ping),
			value:                  v,
		}
		assert.NotPanics(
			t, func() {
				b.trackInteraction(WithLogger(context.Background(), b.logger), handler)
			},
		)
	}
}

func TestBot_GatewaySession(t *testing.T) {
	api := &fakeContentAPI{}
	b, session := newTestBot(t, newTestConfig(t), api)

	handled := make(chan *discordgo.InteractionCreate, 1)
	b.getInteractionHandlerFunc = func(i *discordgo.InteractionCreate) InteractionHandler {
		handled <- i
		return newStubInteractionHandler(t, i)
	}

	require.NoError(t, b.initDiscordSession(context.Background()))
	assert.Equal(t, 1, session.opened)
	assert.Equal(t, 4, session.handlers)
	assert.True(t, b.gatewayOpen)

	i := newCommandInteraction(t, newDiscordUser(t), commandAddBot)
	assert.Same(t, b.getInteractionHandler(i).GetInteraction(), i)
	assert.Same(t, i, receive(t, handled))

	require.NoError(t, b.shutdown(context.Background()))
	assert.Equal(t, 1, session.closed)
	assert.Equal(t, 4, session.removedHandlers)
	assert.False(t, b.gatewayOpen)
}

func TestBot_WebhookModeSkipsGateway(t *testing.T) {
	cfg := newTestConfig(t)
	pubkey, _ := generateDiscordKey(t)
	cfg.Discord.WebhookServer.Enabled = true
	cfg.Discord.WebhookServer.PublicKey = pubkey

	b, session := newTestBot(t, cfg, &fakeContentAPI{})
	require.NoError(t, b.initDiscordSession(context.Background()))
	assert.Zero(t, session.opened)
	assert.False(t, b.gatewayOpen)

	require.NoError(t, b.shutdown(context.Background()))
	assert.Zero(t, session.closed)
}

func TestBot_ShutdownTimeout(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.ShutdownTimeout = 50 * time.Millisecond
	b, _ := newTestBot(t, cfg, &fakeContentAPI{})

	b.interactionWG.Add(1)
	defer b.interactionWG.Done()

	err := b.shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shutdown timeout")
}

func TestBot_ShutdownRejectsNewInteractions(t *testing.T) {
	b, session := newTestBot(t, newTestConfig(t), &fakeContentAPI{})
	require.NoError(t, b.initDiscordSession(context.Background()))

	require.True(t, b.acquireInteraction())
	b.interactionWG.Done()

	require.NoError(t, b.shutdown(context.Background()))
	assert.Equal(t, 1, session.closed)

	assert.False(t, b.acquireInteraction())

	ping := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{Type: discordgo.InteractionPing, ID: "late"},
	}
	handler := newStubInteractionHandler(t, ping)
	assert.False(t, b.trackInteraction(context.Background(), handler))
	assertNoCall(t, handler.callRespond)

	// nothing was added, so Wait returns immediately
	waited := make(chan struct{})
	go func() {
		b.interactionWG.Wait()
		close(waited)
	}()
	receive(t, waited)
}

func TestBot_RunAndStop(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.API.Enabled = true
	cfg.API.Listen = "127.0.0.1:0"
	b, err := New(cfg)
	require.NoError(t, err)
	session := newMockDiscordSession()
	b.discord.session = session
	b.content = &fakeContentAPI{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- b.Run(ctx)
	}()

	select {
	case <-b.signalReady:
	case err = <-done:
		t.Fatalf("run exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for ready")
	}
	assert.Equal(t, cacheBackendDatabase, b.pageCache().Stats().Backend)

	cancel()
	select {
	case err = <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for shutdown")
	}
	assert.Equal(t, 1, session.opened)
	assert.Equal(t, 1, session.closed)
}
