package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/n-r-w/swrcache"
	"github.com/n-r-w/swrcache/internal/config"
	"github.com/n-r-w/swrcache/internal/origin"
	"github.com/n-r-w/swrcache/internal/telemetry"
)

var version = "dev"

// Globals are flags shared by every command.
type Globals struct {
	Config string `help:"Path to the YAML config file." short:"c" type:"path" default:"swrcache.yaml"`
}

// CLI is the top-level command structure.
type CLI struct {
	Globals

	Version  kong.VersionFlag `help:"Show version." short:"V"`
	Simulate SimulateCmd      `cmd:"" help:"Run a simulated workload against an in-process origin."`
}

// SimulateCmd runs concurrent readers and a mutator against cached list and detail resources.
type SimulateCmd struct {
	Duration time.Duration `help:"Override simulation.duration."`
	Readers  int           `help:"Override simulation.readers."`
}

// Run executes the simulate command.
func (c *SimulateCmd) Run(globals *Globals) error {
	cfg, err := config.Load(globals.Config)
	if err != nil {
		return fmt.Errorf("simulate: %w", err)
	}

	if c.Duration > 0 {
		cfg.Simulation.Duration = c.Duration
	}
	if c.Readers > 0 {
		cfg.Simulation.Readers = c.Readers
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("simulate: %w", err)
	}

	log, err := newLogger(cfg.Log, os.Stdout)
	if err != nil {
		return fmt.Errorf("simulate: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	tracer, shutdown, err := telemetry.Setup(ctx, "swrcache-demo", cfg.Telemetry.Endpoint)
	if err != nil {
		return fmt.Errorf("simulate: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Error().Err(err).Msg("Could not flush traces")
		}
	}()

	return simulate(ctx, cfg, log, tracer)
}

func newLogger(cfg config.Log, out io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level: %w", err)
	}

	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Str("version", version).Logger(), nil
}

func main() {
	var cli CLI

	ctx := kong.Parse(&cli,
		kong.Name("swrcache-demo"),
		kong.Description("Stale-while-revalidate cache demo."),
		kong.Vars{"version": version},
	)

	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}

// startOrigin serves the catalogue on a loopback port until ctx is done.
func startOrigin(ctx context.Context, srv *origin.Server, log zerolog.Logger) (string, func(), error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, fmt.Errorf("listen: %w", err)
	}

	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Origin stopped")
		}
	}()

	stop := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = httpServer.Shutdown(shutdownCtx)
	}

	return "http://" + ln.Addr().String(), stop, nil
}

func simulate(ctx context.Context, cfg *config.Config, log zerolog.Logger, tracer trace.Tracer) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.Simulation.Duration)
	defer cancel()

	srv := origin.NewServer(origin.Options{
		Items:       cfg.Origin.Items,
		Latency:     cfg.Origin.Latency,
		FailureRate: cfg.Origin.FailureRate,
	})

	baseURL, stopOrigin, err := startOrigin(ctx, srv, log)
	if err != nil {
		return err
	}
	defer stopOrigin()

	client := origin.NewClient(baseURL, &http.Client{Timeout: 5 * time.Second})
	cacheLog := swrcache.NewZerologLogger(log)

	list, err := swrcache.NewList(client.ListItems, cfg.CacheConfig(),
		swrcache.WithLogger("items", cacheLog),
		swrcache.WithListKey(swrcache.Key{"items", "list"}),
		swrcache.WithMaxEntries(cfg.Cache.MaxEntries),
		swrcache.WithTracer(tracer),
	)
	if err != nil {
		return err
	}

	details, err := swrcache.NewDetails(client.GetItem,
		swrcache.WithLogger("item-details", cacheLog),
		swrcache.WithBatchSize(cfg.Cache.BatchSize),
		swrcache.WithTracer(tracer),
	)
	if err != nil {
		return err
	}

	mutations := swrcache.NewSignal()
	revalidator := swrcache.NewRevalidator(ctx, list, details, mutations)
	defer revalidator.Close()

	log.Info().
		Str("origin", baseURL).
		Int("readers", cfg.Simulation.Readers).
		Dur("duration", cfg.Simulation.Duration).
		Msg("Simulation started")

	g, gctx := errgroup.WithContext(ctx)

	for i := range cfg.Simulation.Readers {
		g.Go(func() error {
			runReader(gctx, i, cfg.Simulation, list, details, log)
			return nil
		})
	}

	g.Go(func() error {
		runMutator(gctx, cfg.Simulation.MutationInterval, client, srv.IDs(), mutations, log)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	revalidator.Close()
	report(srv, list, details, log)

	return nil
}
