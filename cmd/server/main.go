package main

import (
	"context"
	"errors"
	"flag"
	"net"

	"github.com/mikekulinski/zkasync/pkg/persistence"
	"github.com/mikekulinski/zkasync/pkg/server"
	"github.com/mikekulinski/zkasync/pkg/wire"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

var (
	configPath = flag.String("config", "", "path to a YAML config file")
	addr       = flag.String("addr", "", "address to listen on, overrides the config file")
	journalDir = flag.String("journal", "", "directory for the change journal, overrides the config file")
)

func main() {
	flag.Parse()

	fx.New(
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger}
		}),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideJournal,
			provideEnsemble,
			provideGRPCServer,
		),
		fx.Invoke(func(*grpc.Server) {}),
	).Run()
}

func provideConfig() (config, error) {
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return config{}, err
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *journalDir != "" {
		cfg.Journal = *journalDir
	}
	return cfg, nil
}

func provideLogger(lc fx.Lifecycle, cfg config) (*zap.Logger, error) {
	build := zap.NewProduction
	if cfg.Development {
		build = zap.NewDevelopment
	}
	logger, err := build()
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = logger.Sync()
			return nil
		},
	})
	return logger, nil
}

// provideJournal returns nil when no journal directory is configured.
func provideJournal(cfg config) (*persistence.Journal, error) {
	if cfg.Journal == "" {
		return nil, nil
	}
	return persistence.Open(cfg.Journal)
}

// provideEnsemble builds the ensemble and expires idle sessions for as long as
// the app runs.
func provideEnsemble(lc fx.Lifecycle, cfg config, logger *zap.Logger, journal *persistence.Journal) (*server.Server, error) {
	opts := []server.Option{
		server.WithLogger(logger),
		server.WithReadOnly(cfg.ReadOnly),
		server.WithSessionTimeout(cfg.SessionTimeout),
	}
	if journal != nil {
		opts = append(opts, server.WithJournal(journal))
	}
	zk, err := server.NewServer(opts...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go zk.Run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
	return zk, nil
}

func provideGRPCServer(lc fx.Lifecycle, cfg config, logger *zap.Logger, zk *server.Server) *grpc.Server {
	s := grpc.NewServer(grpc.ForceServerCodec(wire.Codec{}))
	wire.RegisterEnsembleServer(s, zk)
	logger = logger.With(zap.String("component", "grpc_server"))

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			lis, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return err
			}
			logger.Info("listening", zap.String("addr", lis.Addr().String()))
			go func() {
				if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
					logger.Error("error serving", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down")
			stopped := make(chan struct{})
			go func() {
				s.GracefulStop()
				close(stopped)
			}()
			// Session streams stay open until their clients leave.
			select {
			case <-stopped:
			case <-ctx.Done():
				s.Stop()
			}
			return nil
		},
	})
	return s
}
