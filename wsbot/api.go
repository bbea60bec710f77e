package wsbot

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
)

const (
	apiPathRoot            = "/"
	apiPathHealth          = "/health"
	apiHealthCheck         = "/healthz"
	apiDiscordInteractions = "/discord/interactions"

	xRequestIDHeader = "X-Request-ID"

	healthStatusOK = "ok"
)

var structValidator = validator.New()

// API serves the health check endpoints
type API struct {
	bot        *Bot
	config     *APIConfig
	httpServer *http.Server
	listener   net.Listener
	engine     *gin.Engine
	logger     *slog.Logger
}

type httpError struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status string `json:"status"`
}

type healthDetailResponse struct {
	Status                  string      `json:"status"`
	Version                 string      `json:"version"`
	Uptime                  string      `json:"uptime,omitempty"`
	DiscordGatewayConnected bool        `json:"discord_gateway_connected"`
	Cache                   *CacheStats `json:"cache,omitempty"`
}

// newAPI sets up the gin engine and HTTP server for the health
// check endpoints. Serve must be called to start listening.
func newAPI(b *Bot, config *APIConfig, development bool) (*API, error) {
	r := gin.New()
	api := &API{
		bot:    b,
		config: config,
		engine: r,
		logger: componentLogger("api", config.LogLevel),
	}

	tlsCfg, err := tlsConfig(config.SSL)
	if err != nil {
		return nil, fmt.Errorf("error loading SSL certs: %w", err)
	}

	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		TLSConfig:         tlsCfg,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	}

	if !development {
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(api.logger),
		cors.New(corsConfig),
	)

	r.GET(apiPathRoot, api.health)
	r.GET(apiPathHealth, api.health)
	r.GET(apiHealthCheck, api.healthDetail)
	r.NoRoute(
		func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusNotFound, httpError{Error: "not found"})
		},
	)

	return api, nil
}

// Serve listens on the configured address until ctx is done, then
// shuts the server down
func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
		}
		if a.httpServer.TLSConfig != nil {
			ln = tls.NewListener(ln, a.httpServer.TLSConfig)
		}
		a.listener = ln
	}
	a.logger.InfoContext(ctx, "api listening", "addr", a.listener.Addr().String())
	return serveUntilDone(ctx, a.httpServer, a.listener, a.logger)
}

// serveUntilDone serves on ln, and gracefully shuts srv down when ctx
// ends. http.ErrServerClosed is not returned.
func serveUntilDone(
	ctx context.Context,
	srv *http.Server,
	ln net.Listener,
	logger *slog.Logger,
) error {
	stopped := make(chan struct{})
	defer close(stopped)

	go func() {
		select {
		case <-stopped:
			return
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down http server", tint.Err(err))
		}
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *API) health(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{Status: healthStatusOK})
}

func (a *API) healthDetail(c *gin.Context) {
	rv := healthDetailResponse{
		Status:  healthStatusOK,
		Version: Version,
	}
	if a.bot != nil {
		if !a.bot.startedAt.IsZero() {
			rv.Uptime = time.Since(a.bot.startedAt).Round(time.Second).String()
		}
		if a.bot.discord != nil {
			rv.DiscordGatewayConnected = a.bot.discord.connected.Load()
		}
		if pc := a.bot.pageCache(); pc != nil {
			stats := pc.Stats()
			rv.Cache = &stats
		}
	}
	c.JSON(http.StatusOK, rv)
}

// requestIDMiddleware sets a request ID on each request, keeping the
// caller's X-Request-ID when one is given
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(xRequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the slog.Logger from the given gin context,
// or, if it doesn't exist, creates one from base with request details
// included and stores it in the context.
func ginContextLogger(c *gin.Context, base *slog.Logger) *slog.Logger {
	if v, ok := c.Get(string(loggerContextKey)); ok {
		if requestLogger, ok := v.(*slog.Logger); ok {
			return requestLogger
		}
	}
	if base == nil {
		base = slog.Default()
	}
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		path = path + "?" + raw
	}

	requestLogger := base.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_addr", c.Request.RemoteAddr,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs each request with its duration and
// response status
func ginLoggingMiddleware(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestLogger := ginContextLogger(c, base)
		c.Next()
		latency := time.Since(start)

		var errs []error
		for _, e := range c.Errors.ByType(gin.ErrorTypePrivate) {
			errs = append(errs, e.Err)
		}
		response := slog.Group(
			"response",
			"status_code", c.Writer.Status(),
			"body_size", c.Writer.Size(),
		)
		if len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf("%s %s finished with errors", c.Request.Method, c.Request.URL),
				"duration", latency,
				tint.Err(errors.Join(errs...)),
				response,
			)
			return
		}
		requestLogger.Debug(
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
			"duration", latency,
			response,
		)
	}
}

//nolint:gochecknoinits // validator tag name
func init() {
	structValidator.SetTagName("binding")
}
