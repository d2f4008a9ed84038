// Copyright 2024 Alexandre Mahdhaoui
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging configures the process loggers of the E2E runner: the
// log/slog default logger and the logr logger handed to every component.
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/go-logr/logr"
	"go.uber.org/zap/zapcore"
	crlog "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// Options configures the logger behavior.
type Options struct {
	// Development enables human-readable output.
	Development bool

	// Level sets the minimum log level. Debug also enables logr V(1).
	Level slog.Level

	// Output receives every log line. Defaults to os.Stderr so that
	// reports printed on stdout stay clean.
	Output io.Writer
}

// DefaultOptions returns the default logging options.
func DefaultOptions() Options {
	return Options{
		Level:  slog.LevelInfo,
		Output: os.Stderr,
	}
}

// ParseLevel parses "debug", "info", "warn" or "error".
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(s))
	return level, err
}

// Setup installs the slog default handler (text in development, JSON
// otherwise) and returns a zap-backed logr.Logger, also registered as the
// controller-runtime logger.
func Setup(opts Options) logr.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: opts.Level}
	var handler slog.Handler
	if opts.Development {
		handler = slog.NewTextHandler(out, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(out, handlerOpts)
	}
	slog.SetDefault(slog.New(handler))

	zapOpts := zap.Options{
		Development: opts.Development,
		DestWriter:  out,
		Level:       zapLevel(opts.Level),
	}
	logger := zap.New(zap.UseFlagOptions(&zapOpts))
	crlog.SetLogger(logger)

	return logger
}

// zapLevel maps a slog level onto zap. logr V(1) is zap level -1, which
// slog's debug level enables.
func zapLevel(l slog.Level) zapcore.Level {
	switch {
	case l <= slog.LevelDebug:
		return zapcore.DebugLevel
	case l >= slog.LevelError:
		return zapcore.ErrorLevel
	case l >= slog.LevelWarn:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}
