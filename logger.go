// Copyright 2015 Google Inc. All Rights Reserved.
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

package llfio

import "log"

// Logger is the pluggable diagnostic hook threaded through handles, the
// lock engine, and directory enumeration. It generalizes the debug-logging
// function installed on a fuse.Connection in the teacher's debug.go:
// present by default, cheap when unused, never required for correctness.
type Logger interface {
	Debugf(format string, v ...interface{})
	Warnf(format string, v ...interface{})
}

// nopLogger discards everything. It is the default so that library users
// who never call SetLogger pay no cost.
type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Warnf(string, ...interface{})  {}

// StdLogger adapts the standard library's log package to Logger, for
// callers who just want messages on stderr.
type StdLogger struct{}

func (StdLogger) Debugf(format string, v ...interface{}) { log.Printf("DEBUG: "+format, v...) }
func (StdLogger) Warnf(format string, v ...interface{})  { log.Printf("WARN: "+format, v...) }

var defaultLogger Logger = nopLogger{}

// SetLogger installs the process-wide default Logger used by handles that
// were not given one explicitly via WithLogger.
func SetLogger(l Logger) {
	if l == nil {
		l = nopLogger{}
	}
	defaultLogger = l
}
