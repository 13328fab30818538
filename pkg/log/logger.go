// Copyright 2023 the nxcontent Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package log provides the structured trace sink every nxcontent component
// emits decision-point events to. The core never configures or requires a
// sink: callers inject one, or get the package default.
package log

import (
	"log"
	"os"
)

// Logger describes a logger to be used in nxcontent.
type Logger interface {
	// Tracef logs a decision-point trace event: magic validation, key
	// derivation, section construction, hash comparisons.
	Tracef(format string, args ...interface{})

	// Warnf logs a warning, e.g. a non-fatal integrity mismatch.
	Warnf(format string, args ...interface{})

	// Errorf logs an error message.
	Errorf(format string, args ...interface{})
}

// DefaultLogger writes to stderr. pkg/keyset uses it when it isn't given a
// logger; pkg/nca, pkg/pfs0 and pkg/romfs fall back to Nop instead.
var DefaultLogger Logger

func init() {
	DefaultLogger = logWrapper{Logger: log.New(os.Stderr, "", log.LstdFlags)}
}

type logWrapper struct {
	Logger *log.Logger
}

// Tracef implements Logger.
func (l logWrapper) Tracef(format string, args ...interface{}) {
	l.Logger.Printf("[nxcontent][TRACE] "+format, args...)
}

// Warnf implements Logger.
func (l logWrapper) Warnf(format string, args ...interface{}) {
	l.Logger.Printf("[nxcontent][WARN] "+format, args...)
}

// Errorf implements Logger.
func (l logWrapper) Errorf(format string, args ...interface{}) {
	l.Logger.Printf("[nxcontent][ERROR] "+format, args...)
}

// Nop is a Logger that discards everything. It is what pkg/nca, pkg/pfs0
// and pkg/romfs use when given no logger, and an explicit "no logging"
// choice for pkg/keyset, which otherwise uses DefaultLogger.
var Nop Logger = nopLogger{}

type nopLogger struct{}

func (nopLogger) Tracef(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})   {}
func (nopLogger) Errorf(string, ...interface{})  {}
