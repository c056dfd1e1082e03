// Package server assembles the HTTP API from its parts and runs it.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"familyhub/internal/auth"
	"familyhub/internal/authorizer"
	"familyhub/internal/config"
	"familyhub/internal/gateway"
	"familyhub/internal/handlers"
	"familyhub/internal/membership"
	"familyhub/internal/routes"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Deps are the collaborators of the HTTP API.
type Deps struct {
	DB        *gorm.DB
	Tokens    *auth.Tokens
	Publisher gateway.Publisher
	Gateway   config.Gateway

	MembershipCacheSize int
	MembershipCacheTTL  time.Duration

	Log zerolog.Logger
}

// NewRouter wires the membership store, the channel authorizer and the
// handlers into a gin engine.
func NewRouter(d Deps) *gin.Engine {
	verifier := membership.NewCached(membership.NewStore(d.DB), d.MembershipCacheSize, d.MembershipCacheTTL)
	az := authorizer.New(d.Gateway.AppKey, []byte(d.Gateway.AppSecret), verifier, d.Log)
	h := handlers.New(d.DB, d.Tokens, az, d.Publisher, d.Gateway.Public(), d.Log)
	return routes.SetupRoutes(h, d.Tokens, d.Log)
}

// FromConfig builds Deps for a running server.
func FromConfig(cfg *config.Config, db *gorm.DB, log zerolog.Logger) Deps {
	return Deps{
		DB:     db,
		Tokens: auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTTTL),
		Publisher: gateway.NewClient(
			cfg.Gateway.HTTPBaseURL(),
			cfg.Gateway.AppID,
			cfg.Gateway.AppKey,
			[]byte(cfg.Gateway.AppSecret),
		),
		Gateway:             cfg.Gateway,
		MembershipCacheSize: cfg.MembershipCacheSize,
		MembershipCacheTTL:  cfg.MembershipCacheTTL,
		Log:                 log,
	}
}

// Serve runs handler on ln until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler, log zerolog.Logger) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info().Msg("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
