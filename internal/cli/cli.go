// Package cli provides the command-line interface for the file server.
// It merges flags over an optional YAML or TOML configuration file.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/clean-dependency-project/ultiserve/internal/config"
	"github.com/clean-dependency-project/ultiserve/internal/highlight"
	"github.com/clean-dependency-project/ultiserve/internal/logger"
	"github.com/clean-dependency-project/ultiserve/internal/render"
	"github.com/clean-dependency-project/ultiserve/internal/resolver"
	"github.com/clean-dependency-project/ultiserve/internal/server"
	"github.com/clean-dependency-project/ultiserve/internal/storage"
)

// Version is the application version.
const Version = "0.3.0"

const shutdownTimeout = 5 * time.Second

// NewApp creates and configures the main CLI application.
func NewApp() *cli.App {
	return &cli.App{
		Name:      "ultiserve",
		Usage:     "Serve your files over http!",
		UsageText: "ultiserve [options] [dir]",
		ArgsUsage: "[dir]",
		Version:   Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Aliases: []string{"a"},
				Value:   config.DefaultAddr,
				Usage:   "the address to bind the server to",
				EnvVars: []string{"ULTISERVE_ADDR"},
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML or TOML configuration file",
				EnvVars: []string{"ULTISERVE_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "log level (debug, info, warn, error)",
				EnvVars: []string{"ULTISERVE_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "json",
				Usage:   "log format (json, text)",
				EnvVars: []string{"ULTISERVE_LOG_FORMAT"},
			},
			&cli.StringFlag{
				Name:  "raw-param",
				Value: config.DefaultRawParam,
				Usage: "query parameter that forces raw delivery of a file",
			},
			&cli.StringFlag{
				Name:  "theme",
				Value: config.DefaultTheme,
				Usage: "syntax highlighting theme",
			},
			&cli.BoolFlag{
				Name:  "serve-html",
				Usage: "serve .html files as pages instead of highlighted source",
			},
			&cli.StringFlag{
				Name:    "access-db",
				Usage:   "record requests in this SQLite database",
				EnvVars: []string{"ULTISERVE_ACCESS_DB"},
			},
		},
		Action: serveCommand,
		Commands: []*cli.Command{
			{
				Name:  "access",
				Usage: "Show recent requests from the access log database",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "db",
						Usage:    "path to the access log database",
						Required: true,
						EnvVars:  []string{"ULTISERVE_ACCESS_DB"},
					},
					&cli.IntFlag{
						Name:  "limit",
						Value: 20,
						Usage: "number of requests to show",
					},
				},
				Action: accessCommand,
			},
		},
	}
}

// buildConfig layers the config file and explicitly set flags over the defaults.
func buildConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.DecodeConfig(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	if c.IsSet("addr") {
		cfg.Server.Addr = c.String("addr")
	}
	if c.IsSet("raw-param") {
		cfg.Server.RawParam = c.String("raw-param")
	}
	if c.IsSet("serve-html") {
		cfg.Server.ServeHTML = c.Bool("serve-html")
	}
	if c.IsSet("theme") {
		cfg.Highlight.Theme = c.String("theme")
	}
	if c.IsSet("log-level") {
		cfg.Logging.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.Logging.Format = c.String("log-format")
	}
	if c.IsSet("access-db") {
		cfg.AccessLog.DatabasePath = c.String("access-db")
	}
	if c.Args().Present() {
		cfg.Server.Root = c.Args().First()
	}
	if c.NArg() > 1 {
		return nil, fmt.Errorf("expected at most one directory, got %d arguments", c.NArg())
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// serveCommand validates the configuration once and runs the server until
// interrupted.
func serveCommand(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format, c.App.ErrWriter)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	root, err := resolver.NewRoot(cfg.Server.Root)
	if err != nil {
		return err
	}

	renderer := render.New(highlight.NewChroma(cfg.Highlight.Theme), render.Options{
		Languages: highlight.Languages(cfg.Highlight.Extensions),
		ServeHTML: cfg.Server.ServeHTML,
		Logger:    log,
	})

	opts := server.Options{RawParam: cfg.Server.RawParam, Logger: log}
	if path := cfg.AccessLog.DatabasePath; path != "" {
		store, err := openAccessStore(path)
		if err != nil {
			return fmt.Errorf("failed to open access log: %w", err)
		}
		defer func() {
			logAccessSummary(context.Background(), store, log)
			if closeErr := store.Close(); closeErr != nil {
				log.Error("failed to close access log", "error", closeErr)
			}
		}()
		opts.Access = store
	}

	srv, err := server.New(root, renderer, opts)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Addr, err)
	}

	printBanner(c.App.Writer, root.Path(), ln.Addr())
	log.Info("server started",
		"addr", ln.Addr().String(),
		"root", root.Path(),
		"raw_param", cfg.Server.RawParam,
		"theme", cfg.Highlight.Theme,
	)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, ln, srv.Handler(), log)
}

// serve runs the HTTP server on ln until ctx is done, then shuts it down.
func serve(ctx context.Context, ln net.Listener, handler http.Handler, log *slog.Logger) error {
	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(log.Handler(), slog.LevelWarn),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// logAccessSummary logs request counts per status from the access log.
func logAccessSummary(ctx context.Context, store storage.Store, log *slog.Logger) {
	counts, err := store.CountByStatus(ctx)
	if err != nil {
		log.Warn("failed to summarize access log", "error", err)
		return
	}
	attrs := make([]any, 0, 2*len(counts))
	for _, status := range sortedStatuses(counts) {
		attrs = append(attrs, strconv.Itoa(status), counts[status])
	}
	log.Info("access log summary", attrs...)
}

// accessCommand prints the most recent requests as a table.
func accessCommand(c *cli.Context) error {
	store, err := openAccessStore(c.String("db"))
	if err != nil {
		return fmt.Errorf("failed to open access log: %w", err)
	}
	defer store.Close()

	accesses, err := store.ListRecent(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tMETHOD\tSTATUS\tBYTES\tDURATION\tPATH")
	for _, a := range accesses {
		target := a.Path
		if a.Query != "" {
			target += "?" + a.Query
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%dms\t%s\n",
			a.CreatedAt.Format(time.RFC3339), a.Method, a.Status, a.Bytes, a.DurationMs, target)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	counts, err := store.CountByStatus(c.Context)
	if err != nil {
		return err
	}
	for _, status := range sortedStatuses(counts) {
		fmt.Fprintf(c.App.Writer, "%d: %d\n", status, counts[status])
	}
	return nil
}

// sortedStatuses returns the status codes in counts in ascending order.
func sortedStatuses(counts map[int]int64) []int {
	statuses := make([]int, 0, len(counts))
	for status := range counts {
		statuses = append(statuses, status)
	}
	sort.Ints(statuses)
	return statuses
}
