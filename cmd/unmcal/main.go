package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"unmcal/internal/config"
	"unmcal/internal/convert"
	appLog "unmcal/internal/log"
	"unmcal/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	url        string
	start      string
	out        string
	rendered   bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	// CLI --listen overrides the config file if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Info("unmcal starting",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"timetable_host", conf.TimetableHost,
		"cache_dir", conf.CacheDir,
		"one_shot", flags.url != "",
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	converter := convert.NewConverter(conf)

	// One-shot mode: convert a single URL and exit.
	if flags.url != "" {
		if err := runOnce(ctx, converter, flags); err != nil {
			appLog.Error("conversion failed", err, "url", flags.url)
			os.Exit(1)
		}
		return
	}

	// Server mode.
	server := web.NewServer(conf, converter)
	if err := server.Run(ctx); err != nil {
		appLog.Error("server exited", err)
		os.Exit(1)
	}
	appLog.Info("unmcal exiting")
}

func runOnce(ctx context.Context, converter *convert.Converter, flags flagConfig) error {
	data, err := converter.Calendar(ctx, convert.Request{
		URL:      flags.url,
		Anchor:   flags.start,
		Rendered: flags.rendered,
	})
	if err != nil {
		return err
	}

	if err := os.WriteFile(flags.out, data, 0o644); err != nil {
		return err
	}
	appLog.Info("calendar written", "path", flags.out, "bytes", len(data))
	return nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/unmcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.url, "url", "", "Timetable list-view URL; converts once and exits")
	flag.StringVar(&cfg.start, "start", "", "Monday of term week 1, YYYY-MM-DD (one-shot mode)")
	flag.StringVar(&cfg.out, "out", "timetable.ics", "Output path for the .ics file (one-shot mode)")
	flag.BoolVar(&cfg.rendered, "rendered", false, "Fetch the page via headless Chromium instead of plain HTTP")

	flag.Parse()

	return cfg
}
