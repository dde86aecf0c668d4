// Command framedsocket-pingpong runs a framed connection server or client that
// exchanges PING and PONG messages, for trying out both transport modes.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyberinferno/framedsocket/connection"
	"github.com/cyberinferno/framedsocket/endpointcache"
	"github.com/cyberinferno/framedsocket/logger"
	"github.com/cyberinferno/framedsocket/metrics"
	"github.com/cyberinferno/framedsocket/server"
	"github.com/cyberinferno/framedsocket/transport"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const serviceName = "framedsocket-pingpong"

func main() {
	fs := pflag.NewFlagSet(serviceName, pflag.ExitOnError)
	RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])

	path, _ := fs.GetString("config")
	cfg, err := Load(path, fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *Config) error {
	log, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Close()

	mode, err := transport.ParseMode(cfg.Mode)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	connCfg := connection.DefaultConfig()
	connCfg.MaxMessageSize = cfg.MaxMessageSize
	connCfg.Transport.Path = cfg.Path
	connCfg.Logger = log

	if cfg.Metrics.Enable {
		reg := prometheus.NewRegistry()
		collector, err := metrics.NewPrometheus("framedsocket", reg)
		if err != nil {
			return err
		}

		connCfg.Metrics = collector
		g.Go(func() error {
			return serveMetrics(ctx, cfg.Metrics.BindAddress, reg, log)
		})
	}

	var resolver *endpointcache.Resolver
	if cfg.Resolver.Enable {
		resolver = newResolver(cfg.Resolver)
	}

	if cfg.Role == "server" {
		g.Go(func() error {
			return runServer(ctx, cfg, mode, connCfg, resolver, log)
		})
	} else {
		g.Go(func() error {
			return runClient(ctx, cfg, mode, connCfg, log)
		})
	}

	return g.Wait()
}

func newLogger(cfg LogConfig) (logger.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	if cfg.Dir == "" {
		return logger.NewZerologLogger(zerolog.New(os.Stdout), serviceName, level), nil
	}

	return logger.NewZerologFileLogger(serviceName, logger.FileConfig{
		Dir:        cfg.Dir,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}, level)
}

func newResolver(cfg ResolverConfig) *endpointcache.Resolver {
	if cfg.TTL <= 0 {
		cfg.TTL = Default().Resolver.TTL
	}

	var names endpointcache.Cacher[string]
	if cfg.RedisAddress != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
		names = endpointcache.NewRedisCacher[string](client, "framedsocket:peername:")
	} else {
		names = endpointcache.NewMemoryCacher[string](cache.NoExpiration, 2*cfg.TTL)
	}

	return endpointcache.NewResolver(names, cfg.TTL, cfg.Timeout)
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, log logger.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("serving metrics", logger.Field{Key: "addr", Value: addr})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics endpoint: %w", err)
	}

	return nil
}

// announcePeer logs a new peer's address and, with a resolver, its host name
// once the lookup finishes on a separate goroutine.
func announcePeer(log logger.Logger, remote string, resolver *endpointcache.Resolver) {
	log.Info("client connected", logger.Field{Key: "remote", Value: remote})
	if resolver == nil {
		return
	}

	go func() {
		log.Info("client resolved",
			logger.Field{Key: "remote", Value: remote},
			logger.Field{Key: "name", Value: resolver.Resolve(remote)},
		)
	}()
}

func runServer(ctx context.Context, cfg *Config, mode transport.Mode, connCfg connection.Config, resolver *endpointcache.Resolver, log logger.Logger) error {
	srvCfg := server.DefaultConfig()
	srvCfg.Name = serviceName
	srvCfg.Mode = mode
	srvCfg.Host = cfg.Host
	srvCfg.Path = cfg.Path
	srvCfg.Connection = connCfg
	srvCfg.Logger = log

	srv := server.New(srvCfg)
	err := srv.Start(cfg.Port, func(conn *connection.Connection) {
		connLog := log.With(logger.Field{Key: "conn_id", Value: conn.ID()})

		conn.OnConnected(func() {
			announcePeer(connLog, conn.RemoteEndpoint(), resolver)
		})
		conn.OnReceive(func(msg []byte) {
			if string(msg) != "PING" {
				connLog.Warn("unexpected message", logger.Field{Key: "size", Value: len(msg)})
				return
			}

			if err := conn.Send([]byte("PONG")); err != nil {
				connLog.Warn("reply failed", logger.Err(err))
			}
		})
		conn.OnError(func(err error) {
			if errors.Is(err, connection.ErrPeerClosed) {
				connLog.Info("client disconnected")
				return
			}

			connLog.Warn("client failed", logger.Err(err))
		})
	})
	if err != nil {
		return err
	}
	defer srv.Shutdown()

	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			srv.ServiceOnce()
		}
	}
}

func runClient(ctx context.Context, cfg *Config, mode transport.Mode, connCfg connection.Config, log logger.Logger) error {
	conn, err := connection.Dial(ctx, mode, cfg.Address, connCfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	var failure error
	sent := 0
	received := 0

	conn.OnConnected(func() {
		log.Info("connected", logger.Field{Key: "local", Value: conn.LocalEndpoint()})
	})
	conn.OnReceive(func(msg []byte) {
		received++
		log.Info("received", logger.Field{Key: "msg", Value: string(msg)}, logger.Field{Key: "count", Value: received})
	})
	conn.OnError(func(err error) {
		if !errors.Is(err, connection.ErrPeerClosed) {
			failure = err
		}
	})

	tick := time.NewTicker(cfg.TickInterval)
	defer tick.Stop()
	ping := time.NewTicker(cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("client stopping", logger.Field{Key: "sent", Value: sent}, logger.Field{Key: "received", Value: received})
			return nil
		case <-ping.C:
			if conn.State() != connection.Established {
				continue
			}

			if err := conn.Send([]byte("PING")); err != nil {
				log.Warn("send failed", logger.Err(err))
				continue
			}
			sent++
		case <-tick.C:
			conn.ServiceOnce()
			if conn.State().Terminal() {
				if failure != nil {
					return fmt.Errorf("connection to %s failed: %w", cfg.Address, failure)
				}

				log.Info("server closed the connection")
				return nil
			}
		}
	}
}
