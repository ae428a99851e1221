package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"agendad/internal/aggregate"
	"agendad/internal/cache"
	"agendad/internal/config"
	applog "agendad/internal/log"
	"agendad/internal/metrics"
	"agendad/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
}

func main() {
	// .env is optional; container deployments use it for the config path.
	_ = godotenv.Load()

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		applog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	applog.SetLevel(applog.ParseLevel(conf.LogLevel))

	applog.Info("agendad starting",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"window_days", conf.WindowDays,
		"refresh", conf.RefreshCron,
		"source_count", len(conf.Sources),
		"once", flags.once,
	)

	m := metrics.New()
	agg, err := aggregate.New(conf, cache.New(), m)
	if err != nil {
		applog.Error("failed to build aggregator", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		applog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if flags.once {
		result := agg.Fetch(ctx, time.Now(), conf.WindowDays)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			applog.Error("failed to encode result", err)
			os.Exit(1)
		}
		return
	}

	// Background refresh keeps the sub-cache warm so interactive requests
	// mostly hit fresh entries.
	if conf.RefreshCron != "" {
		c := cron.New()
		_, err := c.AddFunc(conf.RefreshCron, func() {
			agg.Fetch(ctx, time.Now(), conf.WindowDays)
		})
		if err != nil {
			applog.Error("invalid refresh schedule", err, "refresh", conf.RefreshCron)
			os.Exit(1)
		}
		c.Start()
		defer c.Stop()
	}

	if err := web.StartServer(ctx, conf, agg, m); err != nil {
		applog.Error("HTTP server stopped", err)
		os.Exit(1)
	}
	applog.Info("agendad exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", defaultConfigPath(), "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one aggregation pass, print JSON to stdout and exit")

	flag.Parse()
	return cfg
}

func defaultConfigPath() string {
	if p := os.Getenv("AGENDAD_CONFIG"); p != "" {
		return p
	}
	return "/etc/agendad/config.yaml"
}
