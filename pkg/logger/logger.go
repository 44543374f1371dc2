package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel is used to determine which log severities should actually log
type LogLevel int

// LogFormat is used to set the how the log messages should be displayed
type LogFormat int

const (
	// NOTSET will log everything
	NOTSET LogLevel = 0
	// DEBUG will enable these logs and higer
	DEBUG LogLevel = 10
	// INFO will enable these logs and higer
	INFO LogLevel = 20
	// WARNING will enable these logs and higer
	WARNING LogLevel = 30
	// ERROR will enable these logs and higer
	ERROR LogLevel = 40
	// CRITICAL will enable these logs and higer
	CRITICAL LogLevel = 50
)

const (
	// JSON displays the logs as JSON dicts
	JSON LogFormat = 0
	// HUMAN displays the logs in a way that's nice for humans to read
	HUMAN LogFormat = 1
)

// String renders a LogLevel as its string value
func (l LogLevel) String() string {
	switch l {
	case NOTSET:
		return "NOTSET"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARNING:
		return "WARNING"
	case ERROR:
		return "ERROR"
	case CRITICAL:
		return "CRITICAL"
	default:
		return "INVALID"
	}
}

// zerologLevel maps our levels onto the zerolog ones
func (l LogLevel) zerologLevel() zerolog.Level {
	switch l {
	case NOTSET:
		return zerolog.TraceLevel
	case DEBUG:
		return zerolog.DebugLevel
	case INFO:
		return zerolog.InfoLevel
	case WARNING:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.FatalLevel
	}
}

var currentLogLevel = INFO
var currentLogFormat = HUMAN
var output io.Writer = os.Stderr
var log = newLogger()

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.LevelFieldName = "severity"
	zerolog.LevelFieldMarshalFunc = func(l zerolog.Level) string {
		switch l {
		case zerolog.WarnLevel:
			return "WARNING"
		case zerolog.FatalLevel, zerolog.PanicLevel:
			return "CRITICAL"
		default:
			return strings.ToUpper(l.String())
		}
	}
}

func newLogger() zerolog.Logger {
	var w io.Writer = output

	if currentLogFormat == HUMAN {
		w = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
			NoColor:    true,
		}
	}

	return zerolog.New(w).
		Level(currentLogLevel.zerologLevel()).
		With().
		Timestamp().
		Logger()
}

// Logger exposes the underlying zerolog instance for packages that log
// through zerolog directly (e.g. the http client)
func Logger() *zerolog.Logger {
	return &log
}

// SetOutput changes where the logs are written
func SetOutput(w io.Writer) {
	output = w
	log = newLogger()
}

// SetLoggerFormat adjusts the format of the emitted entries
func SetLoggerFormat(logFormat LogFormat) error {
	switch logFormat {
	case JSON:
		currentLogFormat = JSON
	case HUMAN:
		currentLogFormat = HUMAN
	default:
		return fmt.Errorf("invalid log format: log_format=%v", logFormat)
	}

	log = newLogger()
	return nil
}

// ParseLogFormat takes the config version of a format name
func ParseLogFormat(name string) (LogFormat, error) {
	switch name {
	case "JSON", "json":
		return JSON, nil
	case "HUMAN", "human", "":
		return HUMAN, nil
	default:
		return HUMAN, fmt.Errorf("invalid log format: log_format=%q", name)
	}
}

// SetLoggerLevel takes the string version of the name and sets the current level
func SetLoggerLevel(levelName string) error {
	switch levelName {
	case "DEBUG":
		currentLogLevel = DEBUG
	case "INFO":
		currentLogLevel = INFO
	case "WARNING":
		currentLogLevel = WARNING
	case "ERROR":
		currentLogLevel = ERROR
	case "CRITICAL":
		currentLogLevel = CRITICAL
	default:
		return fmt.Errorf("invalid log level: level=%q", levelName)
	}

	log = log.Level(currentLogLevel.zerologLevel())
	return nil
}

// GetLoggerLevel returns the current logger level
func GetLoggerLevel() LogLevel {
	return currentLogLevel
}

// Debug emits an DEBUG level log
func Debug(msg string, a ...any) {
	log.Debug().Msgf(msg, a...)
}

// Info emits an INFO level log
func Info(msg string, a ...any) {
	log.Info().Msgf(msg, a...)
}

// Warning emits an WARNING level log
func Warning(msg string, a ...any) {
	log.Warn().Msgf(msg, a...)
}

// Error emits an ERROR level log
func Error(msg string, a ...any) {
	log.Error().Msg(fmt.Errorf(msg, a...).Error())
}

// Fatal emits an CRITICAL level log and stops the program
func Fatal(msg string, a ...any) {
	log.Fatal().Msg(fmt.Errorf(msg, a...).Error())
}
