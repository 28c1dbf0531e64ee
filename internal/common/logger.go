package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
)

const (
	logFileName    = "agentstream.log"
	logFileMaxSize = 100 << 20
	logFileBackups = 3
)

// logSinks reports which writers logging.output asks for. Console is the
// fallback when nothing usable is configured.
func logSinks(outputs []string) (console, file bool) {
	for _, output := range outputs {
		switch strings.ToLower(strings.TrimSpace(output)) {
		case "stdout", "console":
			console = true
		case "file":
			file = true
		}
	}
	return console || !file, file
}

// InitLogger builds the root logger. File output rotates under LogsDir.
// Session-correlated entries are routed to the event bus separately via
// SetChannel once the bus exists.
func InitLogger(config *Config) arbor.ILogger {
	timeFormat := config.Logging.TimeFormat
	if timeFormat == "" {
		timeFormat = "15:04:05"
	}

	logger := arbor.NewLogger()
	console, file := logSinks(config.Logging.Output)

	if file {
		dir, err := LogsDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "file logging disabled: %v\n", err)
			console = true
		} else {
			logger = logger.WithFileWriter(models.WriterConfiguration{
				Type:       models.LogWriterTypeFile,
				FileName:   filepath.Join(dir, logFileName),
				TimeFormat: timeFormat,
				MaxSize:    logFileMaxSize,
				MaxBackups: logFileBackups,
				OutputType: models.OutputFormatLogfmt,
			})
		}
	}
	if console {
		logger = logger.WithConsoleWriter(models.WriterConfiguration{
			Type:       models.LogWriterTypeConsole,
			TimeFormat: timeFormat,
		})
	}

	return logger.WithLevelFromString(config.Logging.Level)
}

// LogsDir returns the logs directory beside the executable, creating it.
func LogsDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}
	dir := filepath.Join(filepath.Dir(exe), "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create logs dir: %w", err)
	}
	return dir, nil
}
