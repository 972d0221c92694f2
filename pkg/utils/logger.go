package utils

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the process-wide operational logger. Diagnostics only; the
// store's own data path never writes through it.
var Logger *logrus.Logger

const logTimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// InitLogger initializes the global logger
func InitLogger(level, format, output, file string) error {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logger.SetLevel(logLevel)
	logger.SetFormatter(newFormatter(format))

	out, err := openLogOutput(output, file)
	if err != nil {
		return err
	}
	logger.SetOutput(out)

	Logger = logger
	return nil
}

func newFormatter(format string) logrus.Formatter {
	if format == "json" {
		return &logrus.JSONFormatter{TimestampFormat: logTimestampFormat}
	}
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: logTimestampFormat,
	}
}

func openLogOutput(output, file string) (io.Writer, error) {
	if output == "file" && file != "" {
		return os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	}
	return os.Stdout, nil
}

// GetLogger returns the global logger, initializing it with defaults on
// first use.
func GetLogger() *logrus.Logger {
	if Logger == nil {
		InitLogger("info", "json", "stdout", "")
	}
	return Logger
}

// ComponentLogger returns an entry tagged with the originating component,
// so one process's store, rotation and replication lines can be told
// apart in aggregated output.
func ComponentLogger(component string) *logrus.Entry {
	return GetLogger().WithField("component", component)
}
