package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	configFilenameFlag string
	portFlag           int
	dbFilenameFlag     string
	cacheRootFlag      string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "static-cache.yaml", "Path to config file")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (overrides config, default 8080)")
	flag.StringVar(&dbFilenameFlag, "db", "", "Element index DB file name (overrides config, use 'memory' for in-memory index)")
	flag.StringVar(&cacheRootFlag, "cache-root", "", "Directory for static pages (overrides config)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [serve|test|deploy|clear|invalidate <element id>...]\n", os.Args[0])
		flag.PrintDefaults()
	}

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	config, err := getConfig(configFilenameFlag)
	if err != nil {
		log.Fatal().Err(err).Str("config", configFilenameFlag).Msg("Invalid configuration")
	}
	applyFlags(&config)

	a, err := newApp(config, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not initialize")
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command := flag.Arg(0)
	if command == "" {
		command = "serve"
	}
	switch command {
	case "serve":
		err = serve(ctx, a)
	case "test":
		if !a.test(ctx) {
			a.Close()
			os.Exit(1)
		}
	case "deploy":
		err = a.deploy(ctx)
	case "clear":
		err = a.service.ClearAll(ctx)
	case "invalidate":
		err = a.invalidate(ctx, flag.Args()[1:])
	default:
		flag.Usage()
		a.Close()
		os.Exit(2)
	}
	if err != nil {
		a.Close()
		log.Fatal().Err(err).Str("command", command).Msg("Command failed")
	}
}

// applyFlags lets command line flags override the config file.
func applyFlags(config *Config) {
	if portFlag > 0 {
		config.Port = portFlag
	}
	if config.Port <= 0 {
		config.Port = 8080
	}
	if dbFilenameFlag != "" {
		config.DB = dbFilenameFlag
	}
	if config.DB == "" {
		config.DB = "cache.db"
	}
	if cacheRootFlag != "" {
		config.CacheRoot = cacheRootFlag
	}
}

func serve(ctx context.Context, a *app) error {
	handler, err := a.handler()
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.config.Port),
		Handler: handler,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Info().Msgf("Serving %d sites on port %v, change hooks at %s", len(a.config.Sites), a.config.Port, hooksPrefix)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
