package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	slogzap "github.com/samber/slog-zap/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	cfgFile string
	env     string
	rootCmd = &cobra.Command{
		Use:          "evwire",
		Short:        "Event store broker speaking the framed BSON wire protocol",
		SilenceUsage: true,
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&env, "env", os.Getenv("EVWIRE_ENV"), "environment overlay, merges config.<env>.yaml")
}

// parseLevel maps a config level name to a slog level, defaulting to info.
func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// NewAsyncLogger logs JSON to a rotated file and errors to the console, both
// through buffered writers. The returned func flushes them.
func NewAsyncLogger(file string, level slog.Level) (*slog.Logger, func()) {
	// Lumberjack for file rotation
	fileWriter := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    100, // MB
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}

	consoleWriter := zapcore.AddSync(os.Stdout)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	fileEncoder := zapcore.NewJSONEncoder(encoderConfig)
	consoleConfig := encoderConfig
	consoleConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(consoleConfig)

	bufferedFileWriter := &zapcore.BufferedWriteSyncer{
		WS:            zapcore.AddSync(fileWriter),
		Size:          256 * 1024, // 256KB buffer
		FlushInterval: 5 * time.Second,
	}

	bufferedConsoleWriter := &zapcore.BufferedWriteSyncer{
		WS:            consoleWriter,
		Size:          64 * 1024, // 64KB buffer
		FlushInterval: 1 * time.Second,
	}

	core := zapcore.NewTee(
		zapcore.NewCore(fileEncoder, bufferedFileWriter, zapLevel(level)),
		zapcore.NewCore(consoleEncoder, bufferedConsoleWriter, zapcore.ErrorLevel),
	)

	zapLogger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	handler := slogzap.Option{
		Level:  level,
		Logger: zapLogger,
	}.NewZapHandler()

	return slog.New(handler), func() { zapLogger.Sync() }
}

func zapLevel(level slog.Level) zapcore.Level {
	switch {
	case level < slog.LevelInfo:
		return zapcore.DebugLevel
	case level < slog.LevelWarn:
		return zapcore.InfoLevel
	case level < slog.LevelError:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}
