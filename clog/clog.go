// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

// Package clog provides global conditional structured logging for pipeline
// components.
package clog

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

var enabled atomic.Bool

// Enable turns on conditional log output (Printf/Infof level). Error-level
// output is never gated and always logs.
func Enable() {
	enabled.Store(true)
}

// Disable turns conditional log output back off.
func Disable() {
	enabled.Store(false)
}

// A CLogger wraps a logrus.Entry carrying a fixed component/id prefix as
// structured fields, with Printf-level output conditionally enabled. By
// default, conditional logging is disabled.
type CLogger struct {
	entry *logrus.Entry
}

// New creates a new conditional logger tagged with the given component and
// id, e.g. clog.New("analyzer", workerID).
func New(component, id string) *CLogger {
	return &CLogger{
		entry: logrus.WithFields(logrus.Fields{
			"component": component,
			"id":        ShortID(id),
		}),
	}
}

// With returns a derived logger carrying additional structured fields, e.g.
// for an itemId or messageId in scope for a single message handler.
func (c *CLogger) With(fields logrus.Fields) *CLogger {
	return &CLogger{entry: c.entry.WithFields(fields)}
}

// Printf logs output conditionally (if enabled via Enable) in the manner of
// log.Printf.
func (c *CLogger) Printf(format string, a ...any) {
	if !enabled.Load() {
		return
	}
	c.entry.Infof(format, a...)
}

// Errorf logs output unconditionally, i.e. always, in the manner of
// log.Printf, at error level.
func (c *CLogger) Errorf(format string, a ...any) {
	c.entry.Errorf(format, a...)
}

// Warnf logs output unconditionally at warn level.
func (c *CLogger) Warnf(format string, a ...any) {
	c.entry.Warnf(format, a...)
}

// ShortID returns the part of id before its first hyphen (for a UUID, its
// first segment); an id without a hyphen is returned complete.
func ShortID(id string) string {
	for i := 0; i < len(id); i++ {
		if id[i] == '-' {
			return id[:i]
		}
	}
	return id
}
