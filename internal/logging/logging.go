// Package logging builds the process logger: a logr.Logger backed by zap.
//
// Human-readable console output is the default; CI systems that ingest
// structured logs set K3SSM_LOG_FORMAT=json. Verbosity follows
// K3SSM_LOG_LEVEL. Debug output is logged with V(1).
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Environment variables read by OptionsFromEnv.
const (
	EnvFormat = "K3SSM_LOG_FORMAT"
	EnvLevel  = "K3SSM_LOG_LEVEL"
)

// Output formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options configures the logger.
type Options struct {
	Format string
	Level  string
	// Output defaults to stderr so stdout stays clean for command output.
	Output io.Writer
}

// OptionsFromEnv reads format and level from the environment.
func OptionsFromEnv(getenv func(string) string) Options {
	return Options{
		Format: getenv(EnvFormat),
		Level:  getenv(EnvLevel),
	}
}

// New builds a logger from opts. The returned function flushes buffered
// entries and should be deferred by main.
func New(opts Options) (logr.Logger, func(), error) {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return logr.Discard(), func() {}, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch strings.ToLower(opts.Format) {
	case "", FormatConsole:
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	case FormatJSON:
		encoder = zapcore.NewJSONEncoder(encCfg)
	default:
		return logr.Discard(), func() {}, fmt.Errorf("unknown log format %q (want %s or %s)", opts.Format, FormatConsole, FormatJSON)
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(out), level)
	zl := zap.New(core)

	return zapr.NewLogger(zl), func() { _ = zl.Sync() }, nil
}

func parseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}
