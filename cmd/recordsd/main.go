// recordsd serves user records over HTTP behind a cache-aside layer.
//
// One store client is constructed at startup and shared read-only across all
// requests; the cache TTL, namespace and backend are configured by flags.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"
	slogecho "github.com/samber/slog-echo"
	"github.com/urfave/cli/v2"

	"github.com/unkn0wn-root/respcache"
	"github.com/unkn0wn-root/respcache/codec"
	asynchook "github.com/unkn0wn-root/respcache/hooks/async"
	slogadapter "github.com/unkn0wn-root/respcache/log/slog"
	"github.com/unkn0wn-root/respcache/provider"
	"github.com/unkn0wn-root/respcache/provider/bigcache"
	"github.com/unkn0wn-root/respcache/provider/local"
	redisprovider "github.com/unkn0wn-root/respcache/provider/redis"
	"github.com/unkn0wn-root/respcache/provider/ristretto"
	"github.com/unkn0wn-root/respcache/sloghooks"
	"github.com/unkn0wn-root/respcache/userapi"
)

func main() {
	app := cli.App{
		Name:  "recordsd",
		Usage: "user record service with a cache-aside layer",
	}

	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "enable debug logging",
		},
		&cli.IntFlag{
			Name:    "port",
			Usage:   "listen port for http server",
			Value:   8080,
			EnvVars: []string{"RECORDSD_PORT"},
		},
		&cli.StringFlag{
			Name:    "cache-backend",
			Usage:   "cache backend: redis, memory, bigcache or ristretto",
			Value:   "redis",
			EnvVars: []string{"RECORDSD_CACHE_BACKEND"},
		},
		&cli.StringFlag{
			Name:    "redis-endpoint",
			Usage:   "redis host",
			Value:   "localhost",
			EnvVars: []string{"RECORDSD_REDIS_ENDPOINT"},
		},
		&cli.IntFlag{
			Name:    "redis-port",
			Usage:   "redis port",
			Value:   6379,
			EnvVars: []string{"RECORDSD_REDIS_PORT"},
		},
		&cli.DurationFlag{
			Name:    "cache-ttl",
			Usage:   "time to live for cached records",
			Value:   60 * time.Second,
			EnvVars: []string{"RECORDSD_CACHE_TTL"},
		},
		&cli.StringFlag{
			Name:    "cache-namespace",
			Usage:   "namespace prefix for cache keys",
			Value:   "main",
			EnvVars: []string{"RECORDSD_CACHE_NAMESPACE"},
		},
	}

	app.Action = Recordsd

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func Recordsd(cctx *cli.Context) error {
	logLevel := slog.LevelInfo
	if cctx.Bool("debug") {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	prov, err := buildProvider(cctx)
	if err != nil {
		return err
	}

	hooks := asynchook.New(sloghooks.New(logger, sloghooks.Options{
		HitEvery:  100,
		MissEvery: 100,
	}), 1, 1024)
	defer hooks.Close()

	cache, err := respcache.New[userapi.User](respcache.Options[userapi.User]{
		Namespace:  cctx.String("cache-namespace"),
		Entity:     "user",
		Provider:   prov,
		Codec:      codec.JSON[userapi.User]{},
		Logger:     slogadapter.Logger{L: logger},
		Hooks:      hooks,
		DefaultTTL: cctx.Duration("cache-ttl"),
	})
	if err != nil {
		return fmt.Errorf("failed to build cache: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())

	userapi.NewHandlers(userapi.NewSeededStore(), cache).Register(e)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Start(fmt.Sprintf(":%d", cctx.Int("port")))
	}()
	slog.Info("recordsd listening", "port", cctx.Int("port"),
		"backend", cctx.String("cache-backend"),
		"ttl", cctx.Duration("cache-ttl"),
		"namespace", cctx.String("cache-namespace"))

	select {
	case err := <-errCh:
		_ = cache.Close(context.Background())
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", "err", err)
	}
	return cache.Close(shutdownCtx)
}

// buildProvider constructs the configured cache backend. The redis client is
// created once here and owned by the provider for the process lifetime.
func buildProvider(cctx *cli.Context) (provider.Provider, error) {
	switch backend := cctx.String("cache-backend"); backend {
	case "redis":
		rdb := goredis.NewClient(&goredis.Options{
			Addr: fmt.Sprintf("%s:%d", cctx.String("redis-endpoint"), cctx.Int("redis-port")),
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			slog.Warn("redis not reachable at startup", "err", err)
		}
		return redisprovider.New(redisprovider.Config{Client: rdb, CloseClient: true})
	case "memory":
		return local.New(time.Minute), nil
	case "bigcache":
		return bigcache.New(bigcache.Config{
			LifeWindow: cctx.Duration("cache-ttl"),
		})
	case "ristretto":
		return ristretto.New(ristretto.Config{
			NumCounters: 1e6,
			MaxCost:     1 << 28, // ~256MB
			BufferItems: 64,
		})
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}
