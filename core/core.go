/*
Package core is the realtime broker: it authenticates connections,
upgrades them to WebSockets, tracks which topics each session is
subscribed to, and fans published events out to subscribers.

It carries no chat semantics of its own. Payloads are opaque envelopes;
what a topic means is the publisher's business. The only policy hook is
the Authorizer, consulted per subscribe.
*/
package core

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"

	"github.com/InsulaLabs/relay/auth"
	"github.com/InsulaLabs/relay/config"
	"github.com/InsulaLabs/relay/hub"
)

// Authorizer decides whether a user may subscribe to a topic.
type Authorizer interface {
	CanSubscribe(userID, topic string) bool
}

// AllowAll permits every subscription. Useful for tests and for
// deployments that trust their token issuer entirely.
type AllowAll struct{}

func (AllowAll) CanSubscribe(string, string) bool { return true }

type Core struct {
	appCtx context.Context
	cfg    *config.Relay
	logger *slog.Logger
	tokens *auth.TokenService
	hub    *hub.Hub
	authz  Authorizer
	mux    *http.ServeMux

	routesOnce sync.Once
	startedAt  time.Time

	rateLimiters map[string]*ttlcache.Cache[string, *rate.Limiter]

	wsUpgrader          websocket.Upgrader
	activeWsConnections int32
	wsConnectionLock    sync.Mutex
}

func New(
	ctx context.Context,
	logger *slog.Logger,
	cfg *config.Relay,
	tokens *auth.TokenService,
	h *hub.Hub,
	authz Authorizer,
) (*Core, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token service is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if h == nil {
		h = hub.New(cfg.Sessions.EventChannelSize)
	}
	if authz == nil {
		authz = AllowAll{}
	}

	c := &Core{
		appCtx: ctx,
		cfg:    cfg,
		logger: logger.WithGroup("core"),
		tokens: tokens,
		hub:    h,
		authz:  authz,
		mux:    http.NewServeMux(),
		rateLimiters: map[string]*ttlcache.Cache[string, *rate.Limiter]{
			"token":   ttlcache.New[string, *rate.Limiter](),
			"publish": ttlcache.New[string, *rate.Limiter](),
			"typing":  ttlcache.New[string, *rate.Limiter](),
			"default": ttlcache.New[string, *rate.Limiter](),
		},
		wsUpgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.Sessions.WebSocketReadBufferSize,
			WriteBufferSize: cfg.Sessions.WebSocketWriteBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	for _, cache := range c.rateLimiters {
		go cache.Start()
	}
	return c, nil
}

// Hub exposes the fan-out registry so an embedded publisher can write
// into it directly.
func (c *Core) Hub() *hub.Hub {
	return c.hub
}

// AddHandler mounts an application handler on the broker's mux, rate
// limited under the given category. Must be called before Run.
func (c *Core) AddHandler(path string, handler http.Handler, category string) error {
	if !c.startedAt.IsZero() {
		return fmt.Errorf("service already started, cannot add handler after startup")
	}
	c.mux.Handle(path, c.rateLimitMiddleware(handler, category))
	return nil
}

func (c *Core) getRemoteAddress(r *http.Request) string {
	remoteIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		remoteIP = r.RemoteAddr
	}

	trusted := make(map[string]struct{})
	for _, proxy := range c.cfg.TrustedProxies {
		trusted[proxy] = struct{}{}
	}

	if _, ok := trusted[remoteIP]; ok {
		if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
			ips := strings.Split(forwardedFor, ",")
			return strings.TrimSpace(ips[0])
		}
	}
	return remoteIP
}

func (c *Core) getRateLimiter(category string, r *http.Request) *rate.Limiter {
	limiterCategory, ok := c.rateLimiters[category]
	if !ok {
		limiterCategory = c.rateLimiters["default"]
	}
	ip := c.getRemoteAddress(r)
	limiterItem := limiterCategory.Get(ip)
	if limiterItem == nil {
		var rlConfig config.RateLimiterConfig
		switch category {
		case "token":
			rlConfig = c.cfg.RateLimiters.Token
		case "publish":
			rlConfig = c.cfg.RateLimiters.Publish
		case "typing":
			rlConfig = c.cfg.RateLimiters.Typing
		default:
			rlConfig = c.cfg.RateLimiters.Default
		}
		limit := rate.Limit(rlConfig.Limit)
		if rlConfig.Limit == 0 {
			limit = rate.Inf
		}
		limiter := rate.NewLimiter(limit, rlConfig.Burst)
		limiterItem = limiterCategory.Set(ip, limiter, time.Minute*1)
	}
	return limiterItem.Value()
}

func (c *Core) rateLimitMiddleware(next http.Handler, category string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter := c.getRateLimiter(category, r)
		res := limiter.Reserve()
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			c.logger.Warn("Rate limit exceeded", "category", category, "path", r.URL.Path, "remote_addr", r.RemoteAddr)

			retryAfterSeconds := math.Ceil(delay.Seconds())
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfterSeconds))
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%v", limiter.Limit()))
			w.Header().Set("X-RateLimit-Burst", fmt.Sprintf("%d", limiter.Burst()))
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Handler returns the broker's full HTTP handler, realtime routes
// mounted. Useful for embedding the broker in another server or an
// httptest instance.
func (c *Core) Handler() http.Handler {
	c.mountRoutes()
	return c.mux
}

func (c *Core) mountRoutes() {
	c.routesOnce.Do(func() {
		c.mux.Handle("/v1/realtime/token", c.rateLimitMiddleware(http.HandlerFunc(c.tokenHandler), "token"))
		c.mux.Handle("/v1/realtime/publish", c.rateLimitMiddleware(http.HandlerFunc(c.publishHandler), "publish"))
		c.mux.Handle("/v1/realtime/subscribe", c.rateLimitMiddleware(http.HandlerFunc(c.subscribeHandler), "default"))
		c.mux.Handle("/v1/realtime/stats", c.rateLimitMiddleware(http.HandlerFunc(c.statsHandler), "default"))
	})
}

// Run serves until the context given to New is cancelled.
func (c *Core) Run() {
	c.mountRoutes()

	httpListenAddr := c.cfg.HttpBinding
	c.logger.Info("Attempting to start server", "listen_addr", httpListenAddr, "tls_enabled", (c.cfg.TLS.Cert != "" && c.cfg.TLS.Key != ""))

	srv := &http.Server{
		Addr:    httpListenAddr,
		Handler: c.mux,
	}

	go func() {
		<-c.appCtx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			c.logger.Error("Server shutdown error", "error", err)
		}
	}()

	c.startedAt = time.Now()

	if c.cfg.TLS.Cert != "" && c.cfg.TLS.Key != "" {
		c.logger.Info("Starting HTTPS server", "cert", c.cfg.TLS.Cert, "key", c.cfg.TLS.Key)
		srv.TLSConfig = &tls.Config{}
		if err := srv.ListenAndServeTLS(c.cfg.TLS.Cert, c.cfg.TLS.Key); err != http.ErrServerClosed {
			c.logger.Error("HTTPS server error", "error", err)
		}
	} else {
		c.logger.Info("TLS cert or key not specified in config. Starting HTTP server (insecure).")
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			c.logger.Error("HTTP server error", "error", err)
		}
	}

	for _, limiter := range c.rateLimiters {
		limiter.Stop()
	}

	c.logger.Info("Server stopped")
}
