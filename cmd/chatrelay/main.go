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
	"strings"
	"syscall"
	"time"

	"github.com/gaspardpetit/chatrelay/internal/api"
	"github.com/gaspardpetit/chatrelay/internal/config"
	"github.com/gaspardpetit/chatrelay/internal/drain"
	"github.com/gaspardpetit/chatrelay/internal/gemini"
	"github.com/gaspardpetit/chatrelay/internal/inflight"
	"github.com/gaspardpetit/chatrelay/internal/logx"
	"github.com/gaspardpetit/chatrelay/internal/metrics"
	"github.com/gaspardpetit/chatrelay/internal/relay"
	"github.com/gaspardpetit/chatrelay/internal/secret"
	"github.com/gaspardpetit/chatrelay/internal/server"
	"github.com/gaspardpetit/chatrelay/internal/serverstate"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

// argValue returns the value of --name or -name from args, if present.
func argValue(args []string, name string) (string, bool) {
	for i := 0; i < len(args); i++ {
		a := strings.TrimPrefix(strings.TrimPrefix(args[i], "-"), "-")
		if a == name && i+1 < len(args) {
			return args[i+1], true
		}
		if strings.HasPrefix(a, name+"=") {
			return strings.TrimPrefix(a, name+"="), true
		}
	}
	return "", false
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	var cfg config.ServerConfig
	// Resolve config with precedence: defaults < file < dotenv < env < args
	cfg.SetDefaults()
	cfg.ApplyEnv()
	if v, ok := argValue(os.Args[1:], "config"); ok {
		cfg.ConfigFile = v
	}
	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			logx.Log.Fatal().Err(err).Str("path", cfg.ConfigFile).Msg("load config")
		}
	}
	if v, ok := argValue(os.Args[1:], "env-file"); ok {
		cfg.EnvFile = v
	}
	if err := config.LoadDotEnv(cfg.EnvFile); err != nil {
		logx.Log.Fatal().Err(err).Str("path", cfg.EnvFile).Msg("load env file")
	}
	cfg.ApplyEnv()
	cfg.BindFlagsFromCurrent()
	flag.Usage = func() {
		_, _ = fmt.Fprintf(flag.CommandLine.Output(), "chatrelay version=%s sha=%s date=%s\n\n", version, buildSHA, buildDate)
		flag.PrintDefaults()
	}
	flag.Parse()
	if *showVersion {
		fmt.Printf("chatrelay version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}

	logx.Configure(cfg.LogLevel)
	metrics.SetServerBuildInfo(version, buildSHA, buildDate)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.RedisAddr != "" {
		rs, err := serverstate.NewRedisStore(ctx, cfg.RedisAddr)
		if err != nil {
			logx.Log.Fatal().Err(err).Msg("connect redis")
		}
		defer func() { _ = rs.Close() }()
		serverstate.UseStore(rs)
		logx.Log.Info().Str("addr", cfg.RedisAddr).Msg("using redis state store")
	}

	gcfg, err := cfg.Gemini.Client()
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("gemini config")
	}
	gen, err := gemini.New(ctx, gcfg)
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("create generator")
	}
	if c, ok := gen.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}
	if gcfg.APIKey == "" {
		logx.Log.Warn().Msg("no Gemini API key configured; every chat will end with an error marker")
	} else {
		logx.Log.Info().
			Str("backend", gcfg.Backend).
			Str("model", gcfg.Model).
			Str("api_key", secret.Mask(gcfg.APIKey)).
			Msg("gemini configured")
	}

	streams := inflight.Streams()
	chat := &api.ChatHandler{
		Relayer: &relay.Relayer{Generator: gen, Timeout: cfg.RequestTimeout},
		Streams: streams,
	}
	state := &api.StateHandler{
		Version:   version,
		BuildSHA:  buildSHA,
		BuildDate: buildDate,
		Started:   time.Now(),
		Streams:   streams,
	}
	handler := server.New(cfg, chat, state)
	srv := &http.Server{Addr: cfg.ListenAddr(), Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	var metricsSrv *http.Server
	if cfg.SeparateMetrics() {
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: server.MetricsHandler(), ReadHeaderTimeout: 10 * time.Second}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	dc := &drain.Controller{Timeout: cfg.DrainTimeout, Streams: streams, Terminate: cancel}
	go dc.Watch(ctx, sigCh)
	go func() {
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logx.Log.Error().Err(err).Msg("server shutdown")
		}
		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				logx.Log.Error().Err(err).Msg("metrics server shutdown")
			}
		}
	}()

	if metricsSrv != nil {
		go func() {
			logx.Log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server starting")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logx.Log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}
	serverstate.SetState("ready")
	logx.Log.Info().Int("port", cfg.Port).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logx.Log.Fatal().Err(err).Msg("server error")
	}
}
