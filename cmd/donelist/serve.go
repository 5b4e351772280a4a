package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/donelist/internal/proxy"
)

func serveCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the completion proxy",
		Long: `Run the HTTP proxy that turns task text into sub-task suggestions.

Examples:
  donelist serve
  OPENAI_API_KEY=sk-... PORT=8080 donelist serve
  donelist serve --addr 127.0.0.1:3001`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				return a.runServe(cmd.Context(), addr)
			}
			return a.runServe(cmd.Context(), a.cfg.Server.Addr())
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.host and server.port)")
	return cmd
}

func (a *app) runServe(ctx context.Context, addr string) error {
	sc, ac, rc := a.cfg.Server, a.cfg.AI, a.cfg.RateLimit

	if sc.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	completer, err := a.completer(ctx)
	if err != nil {
		return err
	}

	limiter := proxy.NewRateLimiter(proxy.RateLimitOptions{
		Enabled:    rc.Enabled,
		Window:     rc.Window(),
		Max:        rc.Max,
		Production: sc.IsProduction(),
	})

	server := proxy.NewServer(completer, limiter, proxy.Options{
		Streaming:   ac.Streaming,
		Timeout:     ac.Timeout(),
		MaxTokens:   ac.MaxTokens,
		Temperature: ac.Temperature,
		BodyLimit:   sc.BodyLimit(),
	}, a.logger.Named("proxy"))

	srv := &http.Server{
		Addr:    addr,
		Handler: server.Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("proxy listening",
			zap.String("addr", addr),
			zap.String("provider", ac.Provider),
			zap.Bool("streaming", ac.Streaming),
			zap.Bool("rate_limit", rc.Enabled))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("proxy server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), sc.ShutdownTimeout())
		defer cancel()
		a.logger.Info("shutting down proxy")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
