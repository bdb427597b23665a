package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/mcp-session-go/pkg/config"
	"github.com/ajitpratap0/mcp-session-go/pkg/fsresource"
	"github.com/ajitpratap0/mcp-session-go/pkg/logging"
	"github.com/ajitpratap0/mcp-session-go/pkg/observability"
	"github.com/ajitpratap0/mcp-session-go/pkg/server"
	"github.com/ajitpratap0/mcp-session-go/pkg/subscription"
	"github.com/ajitpratap0/mcp-session-go/pkg/transport"
)

type serveFlags struct {
	configPath string
	transport  string
	addr       string
	dir        string
	watch      bool
}

func parseServeFlags(args []string, stderr io.Writer) (*serveFlags, error) {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)

	f := &serveFlags{}
	fs.StringVar(&f.configPath, "config", "", "TOML configuration file")
	fs.StringVar(&f.transport, "transport", "", "stdio, socket or websocket")
	fs.StringVar(&f.addr, "addr", "", "listen address for socket and websocket")
	fs.StringVar(&f.dir, "dir", "", "directory served as file:// resources")
	fs.BoolVar(&f.watch, "watch", false, "follow changes under -dir")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return f, nil
}

// apply overlays the flags that were given on cfg
func (f *serveFlags) apply(cfg *config.Config) error {
	if f.transport != "" {
		cfg.Server.Transport = f.transport
	}
	if f.addr != "" {
		cfg.Server.Address = f.addr
	}
	if f.dir != "" {
		cfg.Resources.Dir = f.dir
	}
	if f.watch {
		cfg.Resources.Watch = true
	}
	return cfg.Validate()
}

func runServe(args []string, stderr io.Writer) int {
	flags, err := parseServeFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	if err := flags.apply(cfg); err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := cfg.Logger()
	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", logging.ErrorField(err))
		return exitError
	}
	return exitOK
}

// serve runs the configured server until ctx is done or, for stdio, until
// the client goes away
func serve(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var opts []server.Option
	subOpts := subscription.Options{
		MailboxSize: cfg.Session.NotificationBuffer,
		Logger:      logger,
	}

	if cfg.Tracing.Enabled {
		tp, err := observability.NewTracingProvider(ctx, cfg.Tracing, cfg.Server.Version)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
		opts = append(opts, server.WithTracer(tp.Tracer()))
	}

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		m, err := observability.NewMetrics(observability.MetricsConfig{})
		if err != nil {
			return err
		}
		metrics = m
		opts = append(opts,
			server.WithObserver(m),
			server.WithMiddleware(transport.WithObserver(m)),
		)
		subOpts.OnDrop = m.SubscriptionDropped
	}

	if cfg.Redis.Addr != "" {
		bus, err := subscription.DialRedisBus(ctx, cfg.Redis, logger)
		if err != nil {
			return err
		}
		defer bus.Close()
		subOpts.Bus = bus
	}
	subs := subscription.NewManager(subOpts)
	defer subs.Close()

	resources, tools, prompts, err := demoCatalogs()
	if err != nil {
		return err
	}
	opts = append(server.FromConfig(cfg), append(opts,
		server.WithInstructions("Demo server: echo and countdown tools, greeting://{name} resources and a summarize prompt."),
		server.WithResources(resources),
		server.WithTools(tools),
		server.WithPrompts(prompts),
		server.WithSubscriptions(subs),
	)...)
	srv := server.New(opts...)
	defer srv.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return subs.Run(gctx) })

	if cfg.Resources.Dir != "" {
		src, err := fsresource.New(cfg.Resources.Dir, resources,
			fsresource.WithLogger(logger),
			fsresource.WithNotifier(srv.NotifyResourceUpdated))
		if err != nil {
			return err
		}
		defer src.Close()
		if err := src.Load(); err != nil {
			return err
		}
		if cfg.Resources.Watch {
			if err := src.Watch(gctx); err != nil {
				return err
			}
		}
	}

	logger.Info("serving",
		logging.String("transport", cfg.Server.Transport),
		logging.String("address", cfg.Server.Address))

	switch cfg.Server.Transport {
	case "stdio":
		if metrics != nil {
			g.Go(func() error { return metrics.ListenAndServe(gctx, cfg.Metrics.Address) })
		}
		g.Go(func() error {
			// the client hanging up ends the process
			defer cancel()
			return srv.ServeTransport(gctx, transport.Stdio())
		})

	case "socket":
		l, err := net.Listen("tcp", cfg.Server.Address)
		if err != nil {
			return err
		}
		if metrics != nil {
			g.Go(func() error { return metrics.ListenAndServe(gctx, cfg.Metrics.Address) })
		}
		g.Go(func() error { return srv.ServeListener(gctx, l) })

	case "websocket":
		httpSrv := &http.Server{
			Addr:              cfg.Server.Address,
			Handler:           newRouter(gctx, srv, cfg.Server.Path, metrics),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
		g.Go(func() error {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	return g.Wait()
}

// newRouter mounts the websocket endpoint, health check and, when metrics
// are on, the Prometheus endpoint
func newRouter(ctx context.Context, srv *server.Server, path string, metrics *observability.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "ok %d sessions\n", len(srv.Peers()))
	})
	if metrics != nil {
		r.Handle("/metrics", metrics.Handler())
	}
	r.Handle(path, srv.WebSocketHandler(ctx))
	return r
}
