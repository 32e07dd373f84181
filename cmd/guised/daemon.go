package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/codefionn/guise/internal/actor"
	"github.com/codefionn/guise/internal/config"
	"github.com/codefionn/guise/internal/dispatch"
	"github.com/codefionn/guise/internal/engine"
	"github.com/codefionn/guise/internal/host"
	"github.com/codefionn/guise/internal/host/nvim"
	"github.com/codefionn/guise/internal/logger"
	"github.com/codefionn/guise/internal/msgrpc"
	"github.com/codefionn/guise/internal/proxyproto"
	"github.com/codefionn/guise/internal/socketserver"
	"github.com/codefionn/guise/internal/waitreg"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// errHostGone ends the run group once Neovim disconnects.
var errHostGone = errors.New("neovim connection closed")

func runDaemon(cmd *cobra.Command, args []string) (err error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	getenv := flagEnv(cmd)
	cfg, err := loadConfig(configFile, getenv)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		if err != nil {
			logger.Error("Fatal error: %v", err)
		}
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()

	conn, err := nvim.Dial(ctx, nvimAddress)
	if err != nil {
		return err
	}
	logger.Info("Attached to Neovim at %s", nvimAddress)

	return serve(ctx, conn, configFile, cfg, getenv)
}

// flagEnv layers explicitly set flags over the process environment so they
// take precedence over the config file on every reload.
func flagEnv(cmd *cobra.Command) func(string) string {
	overrides := map[string]string{}
	if cmd.Flags().Changed("log-level") {
		overrides[config.EnvLogLevel] = logLevel
	}
	if cmd.Flags().Changed("log-path") {
		overrides[config.EnvLogPath] = logPath
	}
	return func(key string) string {
		if v, ok := overrides[key]; ok {
			return v
		}
		return os.Getenv(key)
	}
}

func loadConfig(path string, getenv func(string) string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyEnv(getenv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// serve runs the daemon over an established Neovim connection until ctx is
// done or Neovim goes away.
func serve(ctx context.Context, conn io.ReadWriteCloser, cfgPath string, cfg *config.Config, getenv func(string) string) error {
	log := logger.Global()

	var eng *engine.Engine
	registry := waitreg.New(waitreg.WithTeardown(func(group string) {
		eng.RemoveHooks(group)
	}))

	rpc := msgrpc.NewEndpoint(conn,
		msgrpc.WithLogger(logger.Slog(log.WithPrefix("nvim"))),
		msgrpc.WithFallback(nvim.TokenSink(registry)),
	)

	ref := actor.NewActorRef("host", actor.NewHostActor("host", nvim.New(rpc)), 64)
	if err := ref.Start(ctx); err != nil {
		return fmt.Errorf("failed to start host actor: %w", err)
	}
	defer func() {
		if err := ref.Stop(context.Background()); err != nil {
			log.Warn("Failed to stop host actor: %v", err)
		}
	}()
	hostClient := actor.NewHostClient(ref)

	strategy := func() string { return cfg.OpenStrategy }
	watcher, err := config.NewWatcher(cfgPath, cfg, getenv, func(c *config.Config) {
		log.SetLevel(logger.ParseLevel(c.LogLevel))
	})
	if err != nil {
		log.Warn("Config reload disabled: %v", err)
	} else {
		defer watcher.Close()
		strategy = func() string { return watcher.Current().OpenStrategy }
	}

	eng = engine.New(ctx, hostClient, registry,
		engine.WithDefaultStrategy(strategy),
		engine.WithLogger(log.WithPrefix("engine")),
	)
	srv := socketserver.NewServer(cfg.Host, dispatch.New(eng, registry), eng,
		socketserver.WithPublisher(socketserver.MultiPublisher{
			socketserver.EnvPublisher(),
			hostPublisher(hostClient),
		}),
		socketserver.WithLogger(log.WithPrefix("server")),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := rpc.Serve(gctx)
		if gctx.Err() != nil {
			// Shutdown: pending waits are cancelled by the engine.
			if n := eng.Pending(); n > 0 {
				log.Info("Cancelling %d pending waits", n)
			}
			return err
		}
		if n := eng.Shutdown(); n > 0 {
			log.Info("Resolved %d pending waits after losing Neovim", n)
		}
		if err != nil {
			return err
		}
		return errHostGone
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if watcher != nil {
		g.Go(func() error {
			watcher.Run(gctx)
			return nil
		})
	}

	err = g.Wait()
	if errors.Is(err, errHostGone) {
		log.Info("Neovim went away, shutting down")
		return nil
	}
	return err
}

// hostPublisher exports listener addresses into Neovim's environment.
func hostPublisher(c *actor.HostClient) socketserver.Publisher {
	return socketserver.PublisherFunc(func(ctx context.Context, name string, addr proxyproto.Address) error {
		return c.Do(ctx, "setenv", func(ctx context.Context, editor host.Editor) error {
			return editor.Setenv(ctx, name, addr.JSON())
		})
	})
}
