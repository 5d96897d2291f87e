package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"

	"famcal/internal/app"
	"famcal/internal/config"
	appLog "famcal/internal/log"
	"famcal/internal/metrics"
	"famcal/internal/schedule"
	"famcal/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	envFile    string
	listen     string
	once       bool
	debug      bool
}

func main() {
	appLog.Info("famcal starting", "version", "0.1.0")

	flags := parseFlags()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}

	conf, err := loadConfig(flags)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	if !flags.debug {
		appLog.SetLevel(appLog.ParseLevel(conf.Log.Level))
	}
	appLog.SetFile(appLog.FileOptions{
		Path:       conf.Log.File,
		MaxSizeMB:  conf.Log.MaxSizeMB,
		MaxBackups: conf.Log.MaxBackups,
	})

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"persons", len(conf.Persons),
		"proxy_configured", conf.ProxyURL != "",
		"once", flags.once,
	)

	m := metrics.New()
	svc, err := app.New(conf, app.Deps{Metrics: m})
	if err != nil {
		appLog.Error("failed to build refresh service", err)
		os.Exit(1)
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if flags.once {
		os.Exit(runOnce(ctx, svc))
	}

	// SIGHUP re-reads the feed list; fetches for changed feeds already in
	// flight are discarded.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go svc.ReloadOn(ctx, hup, func() (*config.Config, error) { return loadConfig(flags) })

	runRefresh(ctx, svc)

	c := cron.New()
	if _, err := c.AddFunc(conf.RefreshCron, func() { runRefresh(ctx, svc) }); err != nil {
		appLog.Error("invalid refresh schedule", err, "refresh", conf.RefreshCron)
		os.Exit(1)
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	srv := web.NewServer(conf, svc, m.Handler())
	if err := srv.ListenAndServe(ctx); err != nil {
		appLog.Error("http server stopped", err)
		os.Exit(1)
	}
	appLog.Info("famcal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/famcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.envFile, "env", ".env", "Optional .env file with feed URLs")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one refresh, print the schedule as JSON and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}

func loadConfig(flags flagConfig) (*config.Config, error) {
	conf, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if err := conf.ApplyEnv(flags.envFile); err != nil {
		return nil, err
	}
	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func runRefresh(ctx context.Context, svc *app.Service) {
	res, err := svc.Refresh(ctx)
	if err != nil {
		appLog.Error("refresh failed", err)
		return
	}
	if adv := res.Advisory(); adv != "" {
		appLog.Info("refresh produced no events", "advisory", adv, "failed", len(res.Errors))
	}
}

func runOnce(ctx context.Context, svc *app.Service) int {
	res, err := svc.Refresh(ctx)
	if err != nil && !errors.Is(err, schedule.ErrNoFeeds) {
		appLog.Error("refresh failed", err)
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res.Days); err != nil {
		appLog.Error("failed to encode schedule", err)
		return 1
	}
	if err != nil || res.Advisory() != "" {
		return 2
	}
	return 0
}
