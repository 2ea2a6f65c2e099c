// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

// Package clog provides global conditional logging for RACE runtime
// components, backed by structured logrus records.
package clog

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

var base = logrus.New()

func init() {
	base.SetLevel(logrus.InfoLevel)
}

// Enable turns on conditional (debug-level) log output.
func Enable() {
	base.SetLevel(logrus.DebugLevel)
}

// SetLevel sets the base logging level by name (debug|info|warn|error). An
// unrecognized level is silently treated as info.
func SetLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	base.SetLevel(lvl)
}

// A CLogger represents a logger object that logs output in the manner of the
// standard logger but can be conditionally enabled. By default, conditional
// logging is disabled (base level Info, so Printf, which logs at Debug, is
// suppressed until Enable or SetLevel("debug") is called).
type CLogger struct {
	entry *logrus.Entry // structured logrus entry carrying this logger's fields
}

// New creates a new conditional logger with the given prefix, used as the
// "component" field on every record it emits.
func New(prefixFormat string, prefixArgs ...any) *CLogger {
	prefix := fmt.Sprintf(prefixFormat, prefixArgs...)
	return &CLogger{entry: base.WithField("component", prefix)}
}

// WithField returns a derived logger carrying an additional structured field,
// e.g. actor name, channel, or error kind (spec §7).
func (c *CLogger) WithField(key string, value any) *CLogger {
	return &CLogger{entry: c.entry.WithField(key, value)}
}

// Printf logs output conditionally (at debug level) in the manner of
// log.Printf.
func (c *CLogger) Printf(format string, a ...any) {
	c.entry.Debugf(format, a...)
}

// Errorf logs output unconditionally, i.e. always, at error level.
func (c *CLogger) Errorf(format string, a ...any) {
	c.entry.Errorf(format, a...)
}

// Warnf logs output unconditionally at warn level.
func (c *CLogger) Warnf(format string, a ...any) {
	c.entry.Warnf(format, a...)
}
