// Package logger builds the logrus logger shared by every command.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/shiena/ansicolor"
	"github.com/sirupsen/logrus"
)

// TimestampFormat is the timestamp layout of every log line.
const TimestampFormat = "2006-01-02 15:04:05.000"

// Options selects the log sinks.
type Options struct {
	// Level is a logrus level name. Unknown names fall back to info.
	Level string
	// Dir receives one file per day when set.
	Dir string
	// Terminal also writes to stdout.
	Terminal bool
	// Now names the daily file. Defaults to time.Now.
	Now func() time.Time
}

// New returns a logger writing to the dated file in Dir and/or stdout. The
// returned closer releases the file.
func New(opts Options) (*logrus.Logger, io.Closer, error) {
	log := logrus.New()
	log.SetFormatter(&nested.Formatter{
		HideKeys:        true,
		ShowFullLevel:   true,
		TimestampFormat: TimestampFormat,
	})

	var sinks []io.Writer
	closer := io.Closer(nopCloser{})
	if opts.Dir != "" {
		now := time.Now
		if opts.Now != nil {
			now = opts.Now
		}
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		name := filepath.Join(opts.Dir, FileName(now()))
		file, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		sinks = append(sinks, file)
		closer = file
	}
	if opts.Terminal {
		sinks = append(sinks, os.Stdout)
	}

	if len(sinks) == 0 {
		log.SetOutput(io.Discard)
	} else {
		log.SetOutput(ansicolor.NewAnsiColorWriter(io.MultiWriter(sinks...)))
	}

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log, closer, nil
}

// FileName is the daily log file name for t.
func FileName(t time.Time) string {
	return t.Format("2006-01-02") + ".log"
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
