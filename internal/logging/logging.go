// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

// Package logging provides the small RFC3339-timestamped, leveled logger
// used by every background task in the gateway (export flushers, DLQ
// replay, audit pruner, metrics ticker, UDP reader). It deliberately mirrors
// the plain fmt.Printf narration style used throughout this codebase's
// worker and persistence packages rather than introducing a
// structured-logging dependency.
package logging

import (
	"fmt"
	"os"
	"time"
)

// Logger prefixes every line with an RFC3339 timestamp and a component tag.
type Logger struct {
	component string
}

// New returns a Logger tagged with component, e.g. "export/splunk" or
// "audit/pruner".
func New(component string) *Logger {
	return &Logger{component: component}
}

func (l *Logger) line(level, format string, args ...interface{}) string {
	ts := time.Now().Format(time.RFC3339)
	msg := fmt.Sprintf(format, args...)
	return fmt.Sprintf("[%s] %-5s %-20s %s\n", ts, level, l.component, msg)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	line := l.line("INFO", format, args...)
	fmt.Fprint(os.Stdout, line)
	publish(line)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	line := l.line("WARN", format, args...)
	fmt.Fprint(os.Stdout, line)
	publish(line)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	line := l.line("ERROR", format, args...)
	fmt.Fprint(os.Stderr, line)
	publish(line)
}
