package wsbot

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

// DiscordWebhookServer receives interactions over HTTP, for running
// without a gateway connection.
type DiscordWebhookServer struct {
	config     DiscordWebhookServerConfig
	httpServer *http.Server
	listener   net.Listener
	engine     *gin.Engine
	logger     *slog.Logger
}

// Serve listens on the configured address until ctx is done
func (d *DiscordWebhookServer) Serve(ctx context.Context) error {
	if d.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, "tcp", d.config.Listen)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", d.config.Listen, err)
		}
		d.listener = ln
	}
	if d.httpServer.TLSConfig == nil {
		d.logger.Warn("starting server without TLS")
	} else {
		d.listener = tls.NewListener(d.listener, d.httpServer.TLSConfig)
	}
	d.logger.InfoContext(ctx, "webhook server listening", "addr", d.listener.Addr().String())
	return serveUntilDone(ctx, d.httpServer, d.listener, d.logger)
}

// newWebhookServer creates a [DiscordWebhookServer] whose interactions
// are handled by b
func newWebhookServer(
	b *Bot,
	config DiscordWebhookServerConfig,
	publicKey ed25519.PublicKey,
) (*DiscordWebhookServer, error) {
	r := gin.New()
	server := &DiscordWebhookServer{
		config: config,
		engine: r,
		logger: componentLogger("discord_webhook", config.LogLevel),
	}

	httpServer := &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
	}
	tlsCfg, err := tlsConfig(config.SSL)
	if err != nil {
		return nil, fmt.Errorf("error loading webhook SSL certs: %w", err)
	}
	httpServer.TLSConfig = tlsCfg
	server.httpServer = httpServer

	if !b.config.Development {
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(server.logger),
		discordRequestAuthenticationMiddleware(publicKey),
	)

	r.POST(apiDiscordInteractions, webhookReceiveHandler(b))
	return server, nil
}

// WebhookHandler is a handler for Discord interactions received via webhook.
// The initial response is written to the HTTP reply; everything after
// that goes through the REST API.
// See: https://discord.com/developers/docs/interactions/overview#setting-up-an-endpoint-validating-security-request-headers
//
//nolint:lll  // can't split link
type WebhookHandler struct {
	ginContext *gin.Context
	InteractionHandler
}

func (WebhookHandler) InteractionReceiveMethod() DiscordInteractionReceiveMethod {
	return discordInteractionReceiveMethodWebhook
}

// Respond writes the response as the HTTP reply and flushes it, so
// discord sees the acknowledgement before any follow-up edits
func (w WebhookHandler) Respond(
	_ context.Context,
	response *discordgo.InteractionResponse,
) error {
	w.ginContext.JSON(http.StatusOK, response)
	w.ginContext.Writer.Flush()
	return nil
}

// webhookReceiveHandler returns a [gin.HandlerFunc] for handling Discord
// webhook interactions
func webhookReceiveHandler(b *Bot) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID, _ := c.Get(xRequestIDHeader)
		logger := ginContextLogger(c, b.logger).With(
			slog.Group(
				"webhook_request",
				"remote_ip", c.RemoteIP(),
				xRequestIDHeader, requestID,
			),
		)
		ctx := WithLogger(b.runContext(), logger)

		defer func() {
			_ = c.Request.Body.Close()
		}()
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			logger.ErrorContext(ctx, "error reading request body", tint.Err(err))
			c.JSON(http.StatusInternalServerError, httpError{Error: "error reading request body"})
			return
		}

		var interaction discordgo.InteractionCreate
		if e := json.Unmarshal(body, &interaction); e != nil {
			logger.ErrorContext(ctx, "error unmarshalling body", tint.Err(e))
			c.JSON(http.StatusBadRequest, httpError{Error: "error unmarshalling body"})
			return
		}

		handler := WebhookHandler{
			ginContext:         c,
			InteractionHandler: b.getInteractionHandler(&interaction),
		}
		if !b.trackInteraction(ctx, handler) {
			logger.WarnContext(ctx, "shutting down, rejecting interaction", "interaction_id", interaction.ID)
			c.JSON(http.StatusServiceUnavailable, httpError{Error: "shutting down"})
		}
	}
}

// discordRequestAuthenticationMiddleware rejects requests without a
// valid discord signature.
// See: https://discord.com/developers/docs/interactions/overview#setting-up-an-endpoint-validating-security-request-headers
//
//nolint:lll // can't split link
func discordRequestAuthenticationMiddleware(publicKey ed25519.PublicKey) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := ginContextLogger(c, nil)
		if !verifyRequest(c.Request, publicKey) {
			logger.WarnContext(c, "invalid signature")
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "invalid signature"})
			return
		}
		c.Next()
	}
}

// verifyRequest checks the request's ed25519 signature over the
// timestamp header and body. The body is restored for later reads.
func verifyRequest(r *http.Request, key ed25519.PublicKey) bool {
	if len(key) != ed25519.PublicKeySize {
		return false
	}

	signature := r.Header.Get("X-Signature-Ed25519")
	if signature == "" {
		return false
	}

	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	if len(sig) != ed25519.SignatureSize || sig[63]&224 != 0 {
		return false
	}

	timestamp := r.Header.Get("X-Signature-Timestamp")
	if timestamp == "" {
		return false
	}

	var msg bytes.Buffer
	msg.WriteString(timestamp)

	var body bytes.Buffer
	defer func() {
		_ = r.Body.Close()
		r.Body = io.NopCloser(&body)
	}()

	if _, err = io.Copy(&msg, io.TeeReader(r.Body, &body)); err != nil {
		return false
	}

	return ed25519.Verify(key, msg.Bytes(), sig)
}
