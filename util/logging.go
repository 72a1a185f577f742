package util

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	Logger zerolog.Logger

	logFile *lumberjack.Logger
)

func LogInit(inlevel string) {
	var level zerolog.Level
	switch strings.ToLower(inlevel) {
	case "debug":
		level = zerolog.DebugLevel
	case "trace":
		level = zerolog.TraceLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	if logFile != nil {
		if err := logFile.Close(); err != nil {
			Logger.Warn().Err(err).Msg("error closing log file")
		}
		logFile = nil
	}
	if path := Config.GetString("log_file"); path != "" {
		// console keeps the pretty output, the file gets json lines
		logFile = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    Config.GetInt("log_max_size_mb"),
			MaxBackups: Config.GetInt("log_max_backups"),
			MaxAge:     Config.GetInt("log_max_age_days"),
		}
		out = zerolog.MultiLevelWriter(out, logFile)
	}

	Logger = zerolog.New(out).Level(level).With().Timestamp().Caller().Logger()

	Logger.Info().Msgf("logging initialized at level %v", level)
}
