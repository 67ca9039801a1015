// tablesim stands in for the table firmware. It answers SET, GET and STOP
// datagrams the way the table does, moving each simulated device linearly
// towards its target, so the controller, consoles and scripts can be
// exercised without the hydraulics.
//
// Usage:
//
//	tablesim [--config configs/config.yaml] [--port 4000] [--codec text]
//	         [--history sim.db] [--log-level debug]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	_ "github.com/nerrad567/geomodel-core/migrations"

	"github.com/nerrad567/geomodel-core/internal/history"
	"github.com/nerrad567/geomodel-core/internal/infrastructure/config"
	"github.com/nerrad567/geomodel-core/internal/infrastructure/database"
	"github.com/nerrad567/geomodel-core/internal/infrastructure/logging"
	"github.com/nerrad567/geomodel-core/internal/table"
	"github.com/nerrad567/geomodel-core/internal/transport/udp"
	"github.com/nerrad567/geomodel-core/internal/wire"
)

var version = "dev"

// recordTimeout bounds each history write made from the serving goroutine.
const recordTimeout = 2 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// options is the resolved simulator configuration.
type options struct {
	port        int
	bind        string
	codec       string
	idleTimeout time.Duration
	historyPath string
	logging     config.LoggingConfig
}

// parseFlags resolves options from defaults, an optional config file and
// the command line, in that order.
func parseFlags(args []string, stderr io.Writer) (options, error) {
	var (
		configPath string
		opts       options
		logLevel   string
	)

	flagSet := pflag.NewFlagSet("tablesim", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&configPath, "config", "", "config file; its simulator and table.codec sections are used")
	flagSet.IntVarP(&opts.port, "port", "p", table.DefaultPort, "UDP port to listen on (0 for ephemeral)")
	flagSet.StringVar(&opts.bind, "bind", "", "local address to bind (default all interfaces)")
	flagSet.StringVar(&opts.codec, "codec", config.CodecText, "wire codec: text, proto or cbor")
	flagSet.DurationVar(&opts.idleTimeout, "idle-timeout", udp.DefaultIdleTimeout, "receive timeout between shutdown checks")
	flagSet.StringVar(&opts.historyPath, "history", "", "SQLite file that records every simulated response")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")

	if err := flagSet.Parse(args); err != nil {
		return options{}, err
	}
	if flagSet.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}

	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return options{}, fmt.Errorf("loading config: %w", err)
		}
		if !flagSet.Changed("port") {
			opts.port = cfg.Simulator.Port
		}
		if !flagSet.Changed("idle-timeout") && cfg.Simulator.IdleTimeout > 0 {
			opts.idleTimeout = cfg.Simulator.IdleTimeout
		}
		if !flagSet.Changed("codec") {
			opts.codec = cfg.Table.Codec
		}
		opts.logging = cfg.Logging
	} else {
		opts.logging = config.Defaults().Logging
	}
	if flagSet.Changed("log-level") || configPath == "" {
		opts.logging.Level = logLevel
	}

	if _, err := table.NewCodec(opts.codec); err != nil {
		return options{}, err
	}
	return opts, nil
}

// run parses flags, serves until ctx is cancelled, then stops the server.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}

	log := logging.New(opts.logging, version)

	var recorder history.Repository
	if opts.historyPath != "" {
		db, err := openHistory(ctx, opts.historyPath)
		if err != nil {
			return err
		}
		defer db.Close() //nolint:errcheck // shutdown
		recorder = history.NewSQLiteRepository(db.DB)
	}

	server, err := startSimulator(ctx, opts, recorder, log)
	if err != nil {
		return err
	}
	defer server.Stop()

	fmt.Fprintf(stdout, "tablesim listening on %s (codec %s)\n", server.Addr(), opts.codec)

	<-ctx.Done()

	stats := server.Stats()
	log.Info("tablesim stopped",
		"requests", stats.Requests,
		"replies", stats.Replies,
	)
	return nil
}

// openHistory opens and migrates the SQLite file used to record responses.
func openHistory(ctx context.Context, path string) (*database.DB, error) {
	db, err := database.Open(ctx, config.DatabaseConfig{
		Path:        path,
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("migrating history: %w", err)
	}
	return db, nil
}

// startSimulator binds the UDP server with a simulator behind it.
//
// Parameters:
//   - ctx: Context for history writes
//   - opts: Resolved options
//   - recorder: Optional history sink, nil to skip recording
//   - log: Logger for the simulator and the server
//
// Returns:
//   - *udp.Server: Running server; stop it with Stop
//   - error: If the codec is unknown or the port cannot be bound
func startSimulator(ctx context.Context, opts options, recorder history.Repository, log *logging.Logger) (*udp.Server, error) {
	codec, err := table.NewCodec(opts.codec)
	if err != nil {
		return nil, err
	}

	sim := table.NewSimulator(table.SimulatorOptions{
		Codec:  codec,
		Logger: log.Component("simulator"),
	})

	server := udp.NewServer(
		udp.WithServerIdleTimeout(opts.idleTimeout),
		udp.WithServerLogger(log.Component("udp-server")),
		udp.WithBindHost(opts.bind),
	)
	if err := server.Start(opts.port, newHandler(ctx, sim, codec, recorder, log)); err != nil {
		return nil, fmt.Errorf("starting simulator: %w", err)
	}
	return server, nil
}

// newHandler answers each request from sim and, when recorder is set,
// stores the reply as a simulator history entry.
func newHandler(ctx context.Context, sim *table.Simulator, codec table.Codec, recorder history.Repository, log *logging.Logger) udp.Handler {
	if recorder == nil {
		return sim
	}

	return udp.HandlerFunc(func(req wire.Message) wire.Message {
		reply := sim.HandleRequest(req)

		_, resp, err := codec.DecodeResponse(reply)
		if err != nil || !resp.Device.Valid() {
			return reply
		}

		recCtx, cancel := context.WithTimeout(ctx, recordTimeout)
		defer cancel()
		if err := recorder.Record(recCtx, history.NewEntry(resp, history.SourceSimulator)); err != nil {
			log.Warn("failed to record simulated response", "device", resp.Device.Slug(), "error", err)
		}
		return reply
	})
}
