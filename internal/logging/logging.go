// Package logging configures the logrus standard logger shared by the
// profsnap binaries.
package logging

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// Fixed-width timestamps, unlike time.RFC3339Nano.
const timeStampFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Setup configures the standard logger. format is "text" or "json". The MCP
// server must log to stderr since stdout carries the protocol.
func Setup(out io.Writer, level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	l := logrus.StandardLogger()
	switch format {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{
			DisableColors:          true,
			FullTimestamp:          true,
			TimestampFormat:        timeStampFormat,
			DisableLevelTruncation: true,
			QuoteEmptyFields:       true,
		})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: timeStampFormat})
	default:
		return fmt.Errorf("invalid log format %q (expected text or json)", format)
	}
	l.SetOutput(out)
	l.SetLevel(lvl)
	l.SetReportCaller(false)
	return nil
}
