package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/markdave123-py/diagnovet/internal/config"
)

const rootName = "diagnovet"

// New builds the process logger. LOG_FORMAT is "json" or "console"; LOG_OUTPUT
// is stdout, stderr or a file path whose directory is created on demand.
// Every entry carries the service and env fields under the "diagnovet" root.
func New(cfg config.LogConfig, env string) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zapCfg zap.Config
	switch cfg.Format {
	case "json", "":
		zapCfg = zap.NewProductionConfig()
		zapCfg.EncoderConfig.TimeKey = "ts"
		zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		// per-report pipeline events must not be sampled away
		zapCfg.Sampling = nil
	case "console":
		zapCfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("invalid LOG_FORMAT %q: want json or console", cfg.Format)
	}

	out, err := outputPath(cfg.OutputPath)
	if err != nil {
		return nil, err
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.OutputPaths = []string{out}
	zapCfg.ErrorOutputPaths = []string{"stderr"}

	log, err := zapCfg.Build(
		zap.WithCaller(true),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return log.Named(rootName).With(zap.String("service", rootName), zap.String("env", env)), nil
}

func outputPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	switch p {
	case "", "stdout":
		return "stdout", nil
	case "stderr":
		return "stderr", nil
	}
	if strings.Contains(p, "://") {
		return "", fmt.Errorf("invalid LOG_OUTPUT %q: want stdout, stderr or a file path", p)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("LOG_OUTPUT directory: %w", err)
	}
	return p, nil
}
