// Copyright 2025 The LevelDB-Go and Talus Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package db

import (
	"log"
	"os"

	"github.com/cockroachdb/redact"
)

// Logger defines an interface for writing log messages.
type Logger interface {
	Infof(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// DefaultLogger logs to the standard log package. Messages are formatted
// with redact so that user keys remain redactable by wrapping loggers, but
// the default output is printed unredacted.
var DefaultLogger defaultLogger

type defaultLogger struct{}

func (defaultLogger) Infof(format string, args ...interface{}) {
	_ = log.Output(2, redact.Sprintf(format, args...).StripMarkers())
}

func (defaultLogger) Fatalf(format string, args ...interface{}) {
	_ = log.Output(2, redact.Sprintf(format, args...).StripMarkers())
	os.Exit(1)
}
