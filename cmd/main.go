package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/akamensky/argparse"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/term"

	"github.com/andesco/cloak/handlers"
	"github.com/andesco/cloak/internal/config"
	"github.com/andesco/cloak/internal/metrics"
	"github.com/andesco/cloak/internal/middleware"
	"github.com/andesco/cloak/pkg/cloak"
	"github.com/andesco/cloak/pkg/ruleset"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	parser := argparse.NewParser("cloak", "Cloaking forward/reverse HTTP proxy")

	port := parser.String("p", "port", &argparse.Options{
		Required: false,
		Default:  strconv.Itoa(cfg.Port),
		Help:     "Port the webserver will listen on",
	})
	host := parser.String("b", "host", &argparse.Options{
		Required: false,
		Default:  cfg.Host,
		Help:     "Host the webserver will bind to (all interfaces when empty)",
	})
	rulesetPath := parser.String("r", "ruleset", &argparse.Options{
		Required: false,
		Default:  cfg.Ruleset,
		Help:     "Ruleset files or directories, separated by ';'",
	})
	watch := parser.Flag("w", "watch", &argparse.Options{
		Required: false,
		Default:  cfg.WatchRuleset,
		Help:     "Reload the ruleset when its files change",
	})
	publicDir := parser.String("d", "public", &argparse.Options{
		Required: false,
		Default:  cfg.PublicDir,
		Help:     "Directory holding the front-end served at /",
	})

	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	if cfg.Port, err = strconv.Atoi(*port); err != nil {
		fmt.Fprintf(os.Stderr, "invalid port %q\n", *port)
		os.Exit(1)
	}
	cfg.Host = *host
	cfg.Ruleset = *rulesetPath
	cfg.WatchRuleset = *watch
	cfg.PublicDir = *publicDir
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	rules, err := ruleset.NewRuleset(cfg.Ruleset)
	if err != nil {
		return err
	}
	if cfg.Ruleset == "" {
		logger.Warn("no ruleset specified; set RULESET or pass --ruleset to load one")
	} else {
		logger.Info("loaded ruleset", "rules", rules.Count(), "domains", rules.DomainCount())
	}

	var (
		m        *metrics.Metrics
		observer cloak.Observer
	)
	if cfg.Metrics {
		m = metrics.New()
		observer = m
	}

	cl := cloak.NewCloak(cloak.Options{
		Timeout:             cfg.Timeout,
		MaxRedirects:        cfg.MaxRedirects,
		MaxResponseBytes:    cfg.MaxResponseBytes,
		UserAgent:           cfg.UserAgent,
		AllowedDomains:      cfg.AllowedDomains,
		AllowRulesetDomains: cfg.AllowRulesetDomains,
		Rules:               rules,
		LogURLs:             cfg.LogURLs,
		Logger:              logger,
		Observer:            observer,
	})

	app := fiber.New(fiber.Config{
		AppName:               "cloak",
		BodyLimit:             cfg.BodyLimit,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	if !cfg.NoLogs {
		app.Use(middleware.RequestLogger(logger.With("component", "http")))
	}
	if m != nil {
		app.Use(middleware.Metrics(m))
	}
	if cfg.RateLimitRPS > 0 {
		app.Use(middleware.RateLimiter(middleware.NewRateLimiterStore(cfg.RateLimitRPS, cfg.RateLimitBurst)))
	}
	app.Use(compress.New())

	handlers.RegisterRoutes(app, cl, logger, handlers.RouteOptions{ExposeRuleset: cfg.ExposeRuleset})
	if m != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
	app.Static("/", cfg.PublicDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.WatchRuleset && cfg.Ruleset != "" {
		w := ruleset.NewWatcher(cfg.Ruleset, logger, cl.SetRules)
		go func() {
			if err := w.Run(ctx); err != nil {
				logger.Error("ruleset watcher stopped", "error", err)
			}
		}()
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr(), "public_dir", cfg.PublicDir, "version", handlers.Version)
		errc <- app.Listen(cfg.Addr())
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return app.ShutdownWithContext(shutdownCtx)
}

// newLogger writes text to an interactive terminal and JSON otherwise.
func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
