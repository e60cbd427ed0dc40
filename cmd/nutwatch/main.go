// Package main is the entry point for the nutwatch UPS agent.
// It loads configuration, builds the configured sinks, starts the poller,
// and runs as either a Windows service or a standalone foreground process.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Guliveer/nutwatch/internal/autostart"
	"github.com/Guliveer/nutwatch/internal/config"
	"github.com/Guliveer/nutwatch/internal/plugin"
	"github.com/Guliveer/nutwatch/internal/sender"
	"github.com/Guliveer/nutwatch/internal/service"
	"github.com/Guliveer/nutwatch/internal/sinks/influx"
	"github.com/Guliveer/nutwatch/internal/sinks/kafka"
	"github.com/Guliveer/nutwatch/internal/sinks/logsink"
	"github.com/Guliveer/nutwatch/internal/sinks/mqtt"
	"github.com/Guliveer/nutwatch/internal/sinks/timescale"
)

var (
	// version is set at build time via -ldflags.
	version = "dev"

	configPath  = flag.String("config", "", "Path to nutwatch.yaml (default: search standard locations)")
	envFile     = flag.String("env-file", ".env", "File of KEY=VALUE pairs loaded into the environment")
	once        = flag.Bool("once", false, "Poll once, print the reading as JSON and exit")
	install     = flag.Bool("install", false, "Install as a boot-time service and exit")
	uninstall   = flag.Bool("uninstall", false, "Remove the boot-time service and exit")
	showVersion = flag.Bool("version", false, "Show version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("nutwatch %s\n", version)
		os.Exit(0)
	}

	// Existing environment variables win over the file.
	envErr := godotenv.Load(*envFile)

	path := *configPath
	if path == "" {
		path = config.Locate()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)
	defer logger.Sync()

	if envErr != nil {
		logger.Warn("No env file loaded, using process environment only",
			zap.String("file", *envFile),
			zap.Error(envErr))
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	if *install || *uninstall {
		manageService(path, logger)
		return
	}

	a, err := newAgent(cfg, defaultWiring(), logger)
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	logger.Info("Starting nutwatch",
		zap.String("version", version),
		zap.String("ups", a.nut.Target()),
		zap.Strings("sinks", cfg.Sinks))

	if *once {
		code := a.runOnce(context.Background(), os.Stdout)
		logger.Sync()
		os.Exit(code)
	}

	if service.IsWindowsService() {
		logger.Info("Running as Windows service")
		svc := service.New(logger, a.run)
		if err := svc.Run(); err != nil {
			logger.Fatal("Service failed", zap.Error(err))
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("Received signal, shutting down")
	}()

	a.run(ctx)
	logger.Info("Agent stopped")
}

// manageService installs or removes the boot-time service. The installed
// service is started with the config file resolved now.
func manageService(configFile string, logger *zap.Logger) {
	m := autostart.New()

	if *uninstall {
		if err := m.Uninstall(); err != nil {
			logger.Fatal("Service removal failed", zap.Error(err))
		}
		logger.Info("Service removed", zap.String("service", m.ServiceName()))
		return
	}

	if installed, err := m.IsInstalled(); err == nil && installed {
		logger.Info("Service already installed", zap.String("service", m.ServiceName()))
		return
	}
	exe, err := os.Executable()
	if err != nil {
		logger.Fatal("Cannot resolve executable path", zap.Error(err))
	}
	var args []string
	if configFile != "" {
		if abs, err := filepath.Abs(configFile); err == nil {
			configFile = abs
		}
		args = []string{"-config", configFile}
	}
	if err := m.Install(exe, args...); err != nil {
		logger.Fatal("Service installation failed", zap.Error(err))
	}
	logger.Info("Service installed", zap.String("service", m.ServiceName()))
}

// defaultCatalog lists every sink this build can run.
func defaultCatalog() *plugin.Catalog {
	c := plugin.NewCatalog()
	for _, f := range []plugin.Factory{
		logsink.Factory(),
		influx.Factory(),
		mqtt.Factory(),
		kafka.Factory(),
		timescale.Factory(),
		sender.Factory(),
	} {
		if err := c.Add(f); err != nil {
			panic(err)
		}
	}
	return c
}

// printReading writes the reading tree as indented JSON.
func printReading(w io.Writer, ups string, tree map[string]any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{ups: tree})
}

// initLogger creates a zap logger based on the configuration.
// It outputs to both console (human-readable) and optionally a JSON log file.
func initLogger(cfg *config.Config) *zap.Logger {
	var level zapcore.Level
	switch cfg.Logging.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		level,
	)

	cores := []zapcore.Core{consoleCore}

	if cfg.Logging.File != "" {
		file, err := os.OpenFile(cfg.Logging.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
		if err == nil {
			fileCore := zapcore.NewCore(
				zapcore.NewJSONEncoder(encoderConfig),
				zapcore.AddSync(file),
				level,
			)
			cores = append(cores, fileCore)
		}
	}

	return zap.New(zapcore.NewTee(cores...))
}
