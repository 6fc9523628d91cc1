// Package observability contains logging setup for troika.
package observability

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"troika/pkg/config"
)

// Options selects the log destinations and verbosity for one invocation.
type Options struct {
	// Verbosity shifts the console level: 0 is warn, +1 info, +2 debug,
	// -1 error, -2 and below fatal only.
	Verbosity int
	// Logfile receives a full debug copy of the log; empty disables it.
	Logfile string
	// Append opens the log file in append mode instead of truncating.
	Append bool
	// Rotation applies lumberjack rotation to the log file when enabled.
	Rotation config.RotationConfig
}

func consoleLevel(verbosity int) zapcore.Level {
	switch {
	case verbosity >= 2:
		return zap.DebugLevel
	case verbosity == 1:
		return zap.InfoLevel
	case verbosity == 0:
		return zap.WarnLevel
	case verbosity == -1:
		return zap.ErrorLevel
	default:
		return zap.FatalLevel
	}
}

// Setup builds a zap.Logger writing human-readable messages to stderr at
// the level implied by the verbosity flags, plus an optional debug-level
// file sink, sets it as the global logger, and redirects the stdlib log
// package. The caller should defer logger.Sync().
func Setup(opts Options) (*zap.Logger, error) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleEnc := zapcore.NewConsoleEncoder(encCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEnc, zapcore.AddSync(os.Stderr), consoleLevel(opts.Verbosity)),
	}

	if opts.Logfile != "" {
		var ws zapcore.WriteSyncer
		if opts.Rotation.Enable {
			ws = zapcore.AddSync(&lumberjack.Logger{
				Filename:   opts.Logfile,
				MaxSize:    max(opts.Rotation.MaxSizeMB, 10),
				MaxBackups: max(opts.Rotation.MaxBackups, 1),
				MaxAge:     max(opts.Rotation.MaxAgeDays, 7),
				Compress:   opts.Rotation.Compress,
			})
		} else {
			mode := os.O_CREATE | os.O_WRONLY
			if opts.Append {
				mode |= os.O_APPEND
			} else {
				mode |= os.O_TRUNC
			}
			f, err := os.OpenFile(opts.Logfile, mode, 0o644)
			if err != nil {
				// fall back to console-only logging
				zap.S().Errorf("cannot open log file: %v", err)
			} else {
				ws = zapcore.AddSync(f)
			}
		}
		if ws != nil {
			cores = append(cores, zapcore.NewCore(consoleEnc, ws, zap.DebugLevel))
		}
	}

	logger := zap.New(zapcore.NewTee(cores...))
	zap.ReplaceGlobals(logger)
	_, _ = zap.RedirectStdLogAt(logger, zap.InfoLevel)
	return logger, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// LogfilePath constructs the default per-action log file path,
// "<script>.<action>log". With no script the base name is "troika".
func LogfilePath(action, scriptPath string) string {
	base := scriptPath
	if base == "" {
		base = "troika"
	}
	return base + "." + action + "log"
}
