// -----------------------------------------------------------------------
// Last Modified: Tuesday, 29th September 2026 4:12:07 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

// Command agentstream runs the browser agent server: the HTTP control API,
// the WebSocket and SSE observer feeds and the Prometheus endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/agentstream/internal/app"
	"github.com/ternarybob/agentstream/internal/common"
	"github.com/ternarybob/agentstream/internal/server"
)

// shutdownGrace bounds how long in-flight HTTP requests may take to finish.
const shutdownGrace = 10 * time.Second

// defaultConfigFiles are tried in order when no -config flag is given.
var defaultConfigFiles = []string{"agentstream.toml", "deployments/local/agentstream.toml"}

// stringList collects a repeatable string flag
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(value string) error {
	*l = append(*l, value)
	return nil
}

type options struct {
	configFiles stringList
	port        int
	host        string
	version     bool
}

func parseFlags() options {
	var o options
	flag.Var(&o.configFiles, "config", "TOML config file; repeat to layer files, later ones win")
	flag.Var(&o.configFiles, "c", "shorthand for -config")
	flag.IntVar(&o.port, "port", 0, "listen port, overrides server.port")
	flag.IntVar(&o.port, "p", 0, "shorthand for -port")
	flag.StringVar(&o.host, "host", "", "listen host, overrides server.host")
	flag.BoolVar(&o.version, "version", false, "print build information and exit")
	flag.BoolVar(&o.version, "v", false, "shorthand for -version")
	flag.Parse()

	if len(o.configFiles) == 0 {
		for _, candidate := range defaultConfigFiles {
			if _, err := os.Stat(candidate); err == nil {
				o.configFiles = append(o.configFiles, candidate)
				break
			}
		}
	}
	return o
}

func main() {
	os.Exit(run(parseFlags()))
}

func run(o options) (exitCode int) {
	if o.version {
		fmt.Println("agentstream", common.CurrentBuild())
		return 0
	}

	config, err := common.LoadFromFiles(o.configFiles...)
	if err != nil {
		arbor.NewLogger().Error().Strs("paths", o.configFiles).Err(err).Msg("Cannot load configuration")
		return 1
	}
	common.ApplyFlagOverrides(config, o.port, o.host)

	logger := common.InitLogger(config)
	if logsDir, err := common.LogsDir(); err == nil {
		common.InstallCrashHandler(logsDir)
	}
	defer common.RecoverWithCrashFile()

	common.PrintBanner(config, logger)
	logger.Debug().
		Strs("config_files", o.configFiles).
		Str("storage_path", config.Storage.Badger.Path).
		Str("artifacts_dir", config.Agent.ArtifactsDir).
		Str("llm_provider", string(config.LLM.DefaultProvider)).
		Str("log_level", config.Logging.Level).
		Msg("Configuration resolved")

	application, err := app.New(config, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Cannot start application")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(application)
	serveErr := make(chan error, 1)
	common.SafeGo(logger, "http-server", func() {
		serveErr <- srv.Start()
	})

	select {
	case <-ctx.Done():
		logger.Info().Msg("Signal received, shutting down")
	case err := <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("HTTP server exited")
			exitCode = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}

	// Listener first, then agents: observers still receive the terminal events
	if err := application.Close(); err != nil {
		logger.Error().Err(err).Msg("Application close failed")
		exitCode = 1
	}

	logger.Info().Int("exit_code", exitCode).Msg("agentstream stopped")
	return exitCode
}
