// Copyright (c) 2026 The Drip developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package log provides the process-wide structured logger.
// The root logger discards everything until the host program installs a
// handler, so library code can log unconditionally.
package log

import (
	"log/slog"
	"sync/atomic"
)

// Logger is the leveled structured logger handed out to packages.
type Logger = *slog.Logger

var root atomic.Pointer[slog.Logger]

func init() {
	root.Store(slog.New(DiscardHandler()))
}

// SetDefault installs the handler backing the root logger.
func SetDefault(handler slog.Handler) {
	root.Store(slog.New(handler))
}

// Root returns the root logger.
func Root() Logger {
	return root.Load()
}

// WithContext returns a logger carrying the given attributes.
func WithContext(args ...any) Logger {
	return Root().With(args...)
}

// Debug logs at debug level on the root logger.
func Debug(msg string, args ...any) {
	Root().Debug(msg, args...)
}

// Info logs at info level on the root logger.
func Info(msg string, args ...any) {
	Root().Info(msg, args...)
}

// Warn logs at warn level on the root logger.
func Warn(msg string, args ...any) {
	Root().Warn(msg, args...)
}

// Error logs at error level on the root logger.
func Error(msg string, args ...any) {
	Root().Error(msg, args...)
}
