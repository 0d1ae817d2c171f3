// Package daemon assembles the alarm service: camera manager, sinks, status
// API, live feed and config reload.
package daemon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"github.com/technosupport/ts-alarms/internal/alarms"
	"github.com/technosupport/ts-alarms/internal/api"
	"github.com/technosupport/ts-alarms/internal/config"
	"github.com/technosupport/ts-alarms/internal/feed"
	"github.com/technosupport/ts-alarms/internal/journal"
	"github.com/technosupport/ts-alarms/internal/logger"
	"github.com/technosupport/ts-alarms/internal/metrics"
	"github.com/technosupport/ts-alarms/internal/middleware"
	"github.com/technosupport/ts-alarms/internal/platform/paths"
	"github.com/technosupport/ts-alarms/internal/tokens"

	// Source types
	_ "github.com/technosupport/ts-alarms/internal/alarms/adapters/hikvision"
	_ "github.com/technosupport/ts-alarms/internal/alarms/adapters/onvif"
)

const (
	shutdownTimeout = 10 * time.Second
	collectInterval = 5 * time.Second
)

// Options are inputs accepted by Run.
type Options struct {
	ConfigPath string
	// LogLevel overrides the configured level when set.
	LogLevel string
}

// sinks owns the outbound connections behind the publishers.
type sinks struct {
	publishers []alarms.Publisher
	hub        *feed.Hub
	journal    *journal.Service
	states     *alarms.RedisPublisher

	nc  *nats.Conn
	rdb *redis.Client
	db  *sql.DB
}

func (s *sinks) close() {
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			s.nc.Close()
		}
	}
	if s.rdb != nil {
		s.rdb.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
}

// newSinks connects every configured sink. The log publisher and the feed
// hub are always present.
func newSinks(ctx context.Context, cfg *config.Config) (*sinks, error) {
	hub, err := feed.NewHub(cfg.Feed.ReplaySize, cfg.Feed.Buffer)
	if err != nil {
		return nil, fmt.Errorf("feed hub: %w", err)
	}
	s := &sinks{hub: hub, publishers: []alarms.Publisher{alarms.LogPublisher{}, hub}}

	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name("ts-alarms"),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				logger.WarnKV(ctx, "nats disconnected", "err", err)
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				logger.InfoKV(ctx, "nats reconnected", "url", c.ConnectedUrl())
			}),
		)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("nats connect: %w", err)
		}
		s.nc = nc
		s.publishers = append(s.publishers, alarms.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix, cfg.NATS.MaxRetries))
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			s.close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		s.rdb = rdb
		s.states = alarms.NewRedisPublisher(rdb, cfg.Redis.Channel, cfg.Redis.StateTTL)
		s.publishers = append(s.publishers, s.states)
	}

	if cfg.Journal.DatabaseURL != "" {
		db, err := journal.Open(cfg.Journal.DatabaseURL)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("journal: %w", err)
		}
		s.db = db
		if cfg.Journal.AutoMigrate {
			version, dirty, err := journal.Migrate(db, 0, false)
			if err != nil {
				s.close()
				return nil, fmt.Errorf("journal migrate: %w", err)
			}
			logger.InfoKV(ctx, "journal schema ready", "version", version, "dirty", dirty)
		}
		spool, err := journal.NewSpool(cfg.Journal.SpoolDir, cfg.Journal.SpoolMaxBytes)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("journal spool: %w", err)
		}
		s.journal = journal.NewService(db, spool)
		s.publishers = append(s.publishers, s.journal)
	}

	return s, nil
}

// cameraSamples adapts the manager for the metrics collector.
func cameraSamples(m *alarms.Manager) metrics.SampleFunc {
	return func() []metrics.CameraSample {
		cams := m.Cameras()
		out := make([]metrics.CameraSample, 0, len(cams))
		for _, c := range cams {
			st := c.Status()
			s := metrics.CameraSample{ID: st.ID, Queued: st.Queued}
			if !st.StartedAt.IsZero() {
				s.Uptime = time.Since(st.StartedAt)
			}
			for _, up := range st.Links {
				if up {
					s.LinksUp++
				} else {
					s.LinksDown++
				}
			}
			out = append(out, s)
		}
		return out
	}
}

func applyLogLevel(ctx context.Context, level string) {
	if lvl, ok := logger.ParseLogLevel(level); ok {
		logger.SetLevel(lvl)
		return
	}
	logger.WarnKV(ctx, "ignoring unknown log level", "level", level)
}

// Run starts the service and blocks until ctx is cancelled.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "alarmd")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	applyLogLevel(ctx, cfg.LogLevel)

	if err := paths.EnsureDirs(); err != nil {
		logger.WarnKV(ctx, "data root not writable", "root", paths.ResolveDataRoot(), "err", err)
	}

	s, err := newSinks(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.close()

	if s.journal != nil {
		s.journal.StartReplayer(ctx, cfg.Journal.ReplayInterval)
		s.journal.StartRetention(ctx, cfg.Journal.Retention, journal.DefaultPurgeInterval)
	}

	manager := alarms.NewManager(s.publishers)
	defer manager.Stop()
	if err := manager.Apply(ctx, cfg.CameraConfigs()); err != nil {
		logger.ErrorKV(ctx, "some cameras failed to start", "err", err)
	}

	collector := metrics.NewCollector(cameraSamples(manager))
	go collector.Start(ctx, collectInterval)

	deps := api.Deps{Cameras: manager, Hub: s.hub, Metrics: collector.Handler()}
	if s.journal != nil {
		deps.History = s.journal
	}
	if s.states != nil {
		deps.States = s.states
	}

	var grpcOpts []grpc.ServerOption
	if cfg.Feed.SigningKey != "" {
		tm := tokens.NewManager(cfg.Feed.SigningKey)
		deps.Auth = middleware.NewJWTAuth(tm)
		grpcOpts = append(grpcOpts, grpc.StreamInterceptor(feed.StreamAuthInterceptor(tm)))
	} else {
		logger.WarnKV(ctx, "feed signing key not set, status API and feed are unauthenticated")
	}

	// Bind both listeners before serving either.
	httpLis, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	var grpcLis net.Listener
	if cfg.GRPC.Addr != "" {
		grpcLis, err = net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			httpLis.Close()
			return fmt.Errorf("grpc listen: %w", err)
		}
	}

	srv := &http.Server{
		Handler:           api.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 2)
	go func() {
		logger.InfoKV(ctx, "status API listening", "addr", httpLis.Addr().String())
		if err := srv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var gs *grpc.Server
	if grpcLis != nil {
		gs = grpc.NewServer(grpcOpts...)
		feed.RegisterAlarmFeedServer(gs, feed.NewGRPCServer(s.hub))
		go func() {
			logger.InfoKV(ctx, "gRPC feed listening", "addr", grpcLis.Addr().String())
			if err := gs.Serve(grpcLis); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	watcher := config.NewWatcher(paths.ResolveConfigPath(opts.ConfigPath), func(ctx context.Context, next *config.Config) {
		if opts.LogLevel == "" {
			applyLogLevel(ctx, next.LogLevel)
		}
		if err := manager.Apply(ctx, next.CameraConfigs()); err != nil {
			logger.ErrorKV(ctx, "config reload partially applied", "err", err)
		}
	})
	go watcher.Start(ctx)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info(ctx, "shutting down")
	case runErr = <-errCh:
		logger.ErrorKV(ctx, "server failed", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WarnKV(ctx, "http shutdown", "err", err)
	}
	if gs != nil {
		// Feed streams only end when their clients leave.
		stopped := make(chan struct{})
		go func() {
			gs.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			gs.Stop()
		}
	}
	return runErr
}
