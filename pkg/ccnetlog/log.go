// Package ccnetlog wires the ambient logging stack: a logrus.Logger with a
// compact timestamped formatter, wrapped by dlib so every package logs
// through the context (dlog.Infof(ctx, ...)) instead of a package-global
// logger. Grounded on .grounding_refs/traffic_logger.go and
// .grounding_refs/client_log.go.
package ccnetlog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/datawire/dlib/dlog"
	"github.com/sirupsen/logrus"
)

// Formatter renders "<timestamp> <message> k=v k=v\n", the same shape
// .grounding_refs/client_log.go's LogFormatter uses.
type Formatter struct {
	timestampFormat string
}

func NewFormatter(timestampFormat string) *Formatter {
	return &Formatter{timestampFormat: timestampFormat}
}

func (f *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}
	b.WriteString(entry.Time.Format(f.timestampFormat))
	b.WriteByte(' ')
	b.WriteString(entry.Message)
	if len(entry.Data) > 0 {
		keys := make([]string, 0, len(entry.Data))
		for k := range entry.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(b, " %s=%+v", k, entry.Data[k])
		}
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// SetLevel parses a logging.level config value ("debug", "info", "warn",
// "error"; default "info" per spec §6) and applies it to logger.
func SetLevel(logger *logrus.Logger, level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
}

// MakeBaseLogger builds the process logger and installs it on ctx, mirroring
// .grounding_refs/traffic_logger.go's makeBaseLogger. logFile, if non-empty,
// additionally appends formatted entries to that path (spec §6
// logging.file); failures to open it are logged and otherwise ignored,
// since file logging is a convenience, not a correctness requirement.
func MakeBaseLogger(ctx context.Context, level, logFile string) context.Context {
	logger := logrus.New()
	logger.SetFormatter(NewFormatter("2006-01-02 15:04:05.000"))
	SetLevel(logger, level)

	if logFile != "" {
		if f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
			logger.SetOutput(io.MultiWriter(os.Stderr, f))
		} else {
			logger.Warnf("could not open log file %s: %v", logFile, err)
		}
	}

	wrapped := dlog.WrapLogrus(logger)
	dlog.SetFallbackLogger(wrapped)
	return dlog.WithLogger(ctx, wrapped)
}
